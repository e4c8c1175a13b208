package main

import (
	"errors"
	"fmt"
	"log/slog"
)

// Dispatcher is the hardware-facing side of the kiosk: devices poll it for work and
// report progress back through it. It keeps QueueService, KioskLock and the order
// store in step.
type Dispatcher struct {
	queue  *QueueService
	lock   *KioskLock
	orders *OrderService
}

func NewDispatcher(queue *QueueService, lock *KioskLock, orders *OrderService) *Dispatcher {
	return &Dispatcher{queue: queue, lock: lock, orders: orders}
}

const (
	testBrewSession = "test-session"
	testBrewAmount  = 50
)

type HardwareQueueInfo struct {
	HardwareID        string `json:"hardwareId"`
	QueueLength       int    `json:"queueLength"`
	EstimatedWaitTime int    `json:"estimatedWaitTime"` // minutes
}

// Poll claims the next order for hardwareID. A nil entry with a nil error means
// there is nothing for this device right now.
func (d *Dispatcher) Poll(hardwareID string) (*QueueEntry, error) {
	if _, err := d.queue.Heartbeat(hardwareID); err != nil {
		HardwarePollsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	entry, claimed, err := d.queue.ClaimNextOrder(hardwareID, d.holdKiosk)
	switch {
	case errors.Is(err, ErrNoPendingOrder):
		HardwarePollsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	case errors.Is(err, ErrConflict):
		slog.Info("Hardware poll deferred", "hardwareID", hardwareID, "reason", err)
		HardwarePollsTotal.WithLabelValues("deferred").Inc()
		return nil, nil
	case err != nil:
		HardwarePollsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if claimed {
		d.mirrorOrder(entry.OrderID, OrderDispensing)
		HardwarePollsTotal.WithLabelValues("claimed").Inc()
	} else {
		HardwarePollsTotal.WithLabelValues("redelivered").Inc()
	}
	return &entry, nil
}

func (d *Dispatcher) holdKiosk(entry QueueEntry) error {
	res := d.lock.Hold(entry.OrderID)
	if !res.Success {
		LockConflictsTotal.Inc()
		return fmt.Errorf("%w: %s", ErrKioskLocked, res.Message)
	}
	return nil
}

// Report applies a hardware status report. Reports are delivered at least once, so
// a repeated report must leave state as the first one did.
func (d *Dispatcher) Report(r StatusReport) error {
	switch r.Status {
	case QueuePreparing, QueueBrewing, QueueCompleted:
	default:
		return validationError("status must be preparing, brewing or completed")
	}
	if r.OrderID == "" || r.HardwareID == "" {
		return validationError("orderId and hardwareId are required")
	}

	if err := d.queue.UpdateOrderStatus(r.OrderID, r.Status, r.HardwareID); err != nil {
		return err
	}

	if r.Step != "" {
		stepStatus := StepDone
		if r.Error {
			stepStatus = StepError
		}
		err := d.queue.AddBrewingStep(BrewingStep{
			OrderID:    r.OrderID,
			Step:       r.Step,
			Status:     stepStatus,
			Message:    r.Message,
			HardwareID: r.HardwareID,
		})
		if err != nil {
			return err
		}
	}

	if r.Status == QueueCompleted {
		if err := d.queue.UpdateHardwareStatus(r.HardwareID, HardwareIdle, ""); err != nil {
			return err
		}
		outcome := OrderDone
		if r.Error {
			outcome = OrderError
		}
		d.mirrorOrder(r.OrderID, outcome)
		if d.lock.UnlockOrder(r.OrderID) {
			slog.Info("Kiosk unlocked after completion", "orderID", r.OrderID)
		}
	} else if err := d.queue.UpdateHardwareStatus(r.HardwareID, HardwareBusy, r.OrderID); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("Hardware %s updated order %s to %s", r.HardwareID, r.OrderID, r.Status))
	return nil
}

// ReleaseTimedOut runs when the kiosk hold for orderID expires. A device that never
// reported completion has its entry cancelled, goes back to idle and the order is
// marked ERROR, so the next pending entry can be claimed.
func (d *Dispatcher) ReleaseTimedOut(orderID string) {
	entry, abandoned, err := d.queue.AbandonInFlight(orderID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error(fmt.Sprintf("queue.AbandonInFlight(%v)", orderID), "error", err)
		return
	}
	if !abandoned {
		return
	}

	d.mirrorOrder(orderID, OrderError)
	// A poll between expiry and here may have taken the hold again.
	d.lock.UnlockOrder(orderID)
	slog.Warn("Order abandoned after kiosk lock timeout", "orderID", orderID, "hardwareID", entry.HardwareID)
}

type TestBrewRequest struct {
	OrderID    string   `json:"orderId"`
	DrinkName  string   `json:"drinkName"`
	Toppings   []string `json:"toppings"`
	HardwareID string   `json:"hardwareId"`
}

// StartTestBrew admits an order with no checkout record and hands it straight to
// the device, holding the kiosk like a normal claim.
func (d *Dispatcher) StartTestBrew(req TestBrewRequest) (QueueEntry, error) {
	if req.OrderID == "" || req.DrinkName == "" {
		return QueueEntry{}, validationError("orderId and drinkName are required")
	}
	hardwareID := orDefault(req.HardwareID, DefaultHardwareID)
	if _, err := d.queue.Heartbeat(hardwareID); err != nil {
		return QueueEntry{}, err
	}
	if existing, err := d.queue.GetEntry(req.OrderID); err == nil && !existing.Status.Terminal() {
		return QueueEntry{}, fmt.Errorf("%w: %s is already queued", ErrConflict, req.OrderID)
	}

	entry, err := d.queue.AddToQueue(AddToQueueRequest{
		OrderID:   req.OrderID,
		SessionID: testBrewSession,
		DrinkName: req.DrinkName,
		Toppings:  req.Toppings,
		Total:     testBrewAmount,
	})
	if err != nil {
		return QueueEntry{}, err
	}
	if err := d.holdKiosk(entry); err != nil {
		d.discardTestBrew(entry.OrderID)
		return QueueEntry{}, err
	}
	if err := d.queue.UpdateOrderStatus(entry.OrderID, QueuePreparing, hardwareID); err != nil {
		d.discardTestBrew(entry.OrderID)
		d.lock.UnlockOrder(entry.OrderID)
		return QueueEntry{}, err
	}
	if err := d.queue.UpdateHardwareStatus(hardwareID, HardwareBusy, entry.OrderID); err != nil {
		return QueueEntry{}, err
	}

	slog.Info("Test brew started", "orderID", entry.OrderID, "hardwareID", hardwareID)
	return d.queue.GetEntry(entry.OrderID)
}

func (d *Dispatcher) discardTestBrew(orderID string) {
	if err := d.queue.CancelOrder(orderID); err != nil {
		slog.Error(fmt.Sprintf("queue.CancelOrder(%v)", orderID), "error", err)
	}
}

// HardwareStatus is a heartbeat that also tells the device how busy the queue is.
func (d *Dispatcher) HardwareStatus(hardwareID string) (HardwareQueueInfo, error) {
	if _, err := d.queue.Heartbeat(hardwareID); err != nil {
		return HardwareQueueInfo{}, err
	}
	n := d.queue.ActiveCount()
	return HardwareQueueInfo{
		HardwareID:        hardwareID,
		QueueLength:       n,
		EstimatedWaitTime: n * AvgBrewMinutes,
	}, nil
}

// mirrorOrder copies the queue outcome onto the order record. Orders admitted
// without checkout (test brews) have no record and are skipped.
func (d *Dispatcher) mirrorOrder(orderID string, status OrderStatus) {
	if _, err := d.orders.UpdateStatus(orderID, status); err != nil {
		slog.Debug("order record not updated", "orderID", orderID, "status", status, "error", err)
	}
}
