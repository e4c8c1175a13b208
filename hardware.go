package main

import (
	"fmt"
	"log/slog"
	"sort"
	"time"
)

const (
	DefaultHardwareID     = "esp32-001"
	defaultAvgBrewSeconds = 45
)

func DefaultDevice(hardwareID string) HardwareDevice {
	return HardwareDevice{
		HardwareID: hardwareID,
		Status:     HardwareIdle,
		Capabilities: HardwareCapabilities{
			MaxConcurrentOrders: 1,
			SupportedDrinks:     drinkNames(),
			AvgBrewingTime:      defaultAvgBrewSeconds,
		},
	}
}

// RegisterHardware adds or replaces a device. The heartbeat starts now.
func (qs *QueueService) RegisterHardware(dev HardwareDevice) error {
	if dev.HardwareID == "" {
		return validationError("hardwareId is required")
	}
	if dev.Status == "" {
		dev.Status = HardwareIdle
	}
	if !dev.Status.Valid() {
		return validationError("unknown hardware status %q", dev.Status)
	}
	if dev.Status != HardwareBusy {
		dev.CurrentOrderID = ""
	}
	dev.LastHeartbeat = qs.clock.Now()
	dev.Capabilities.SupportedDrinks = append([]string{}, dev.Capabilities.SupportedDrinks...)

	qs.mu.Lock()
	qs.hardware[dev.HardwareID] = &dev
	qs.mu.Unlock()
	return nil
}

func (qs *QueueService) GetHardware(hardwareID string) (HardwareDevice, error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	hw, ok := qs.hardware[hardwareID]
	if !ok {
		return HardwareDevice{}, fmt.Errorf("get %s: %w", hardwareID, ErrHardwareNotFound)
	}
	return hw.clone(), nil
}

func (qs *QueueService) ListHardware() []HardwareDevice {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	out := make([]HardwareDevice, 0, len(qs.hardware))
	for _, hw := range qs.hardware {
		out = append(out, hw.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HardwareID < out[j].HardwareID })
	return out
}

// UpdateHardwareStatus always refreshes the heartbeat. currentOrderID is kept only
// while the device is busy.
func (qs *QueueService) UpdateHardwareStatus(hardwareID string, status HardwareStatus, currentOrderID string) error {
	if !status.Valid() {
		return validationError("unknown hardware status %q", status)
	}
	if status == HardwareBusy && currentOrderID == "" {
		return validationError("busy hardware needs a current order")
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	hw, ok := qs.hardware[hardwareID]
	if !ok {
		return fmt.Errorf("update %s: %w", hardwareID, ErrHardwareNotFound)
	}
	hw.LastHeartbeat = qs.clock.Now()
	hw.Status = status
	if status == HardwareBusy {
		hw.CurrentOrderID = currentOrderID
	} else {
		hw.CurrentOrderID = ""
	}
	return nil
}

// Heartbeat marks the device alive. An offline device comes back as idle.
func (qs *QueueService) Heartbeat(hardwareID string) (HardwareDevice, error) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	hw, ok := qs.hardware[hardwareID]
	if !ok {
		return HardwareDevice{}, fmt.Errorf("heartbeat %s: %w", hardwareID, ErrHardwareNotFound)
	}
	hw.LastHeartbeat = qs.clock.Now()
	if hw.Status == HardwareOffline {
		hw.Status = HardwareIdle
		slog.Info("Hardware back online", "hardwareID", hardwareID)
	}
	return hw.clone(), nil
}

// MarkStaleHardware takes devices offline when their last heartbeat is older than
// threshold and returns their ids.
func (qs *QueueService) MarkStaleHardware(threshold time.Duration) []string {
	cutoff := qs.clock.Now().Add(-threshold)

	qs.mu.Lock()
	defer qs.mu.Unlock()

	var stale []string
	for id, hw := range qs.hardware {
		if hw.Status == HardwareOffline || !hw.LastHeartbeat.Before(cutoff) {
			continue
		}
		hw.Status = HardwareOffline
		hw.CurrentOrderID = ""
		stale = append(stale, id)
	}
	sort.Strings(stale)
	return stale
}

func (hw *HardwareDevice) clone() HardwareDevice {
	out := *hw
	out.Capabilities.SupportedDrinks = append([]string{}, hw.Capabilities.SupportedDrinks...)
	return out
}
