package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	defaultLEDPin          = 2
	defaultCommandDuration = 3000 // ms
)

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandSent      CommandStatus = "sent"
	CommandCompleted CommandStatus = "completed"
)

type CommandParams struct {
	LEDPin   int `json:"ledPin"`
	Duration int `json:"duration"` // ms
}

// HardwareCommand is a one-off instruction for a device, outside the order flow
// (LED tests, manual triggers).
type HardwareCommand struct {
	ID         string        `json:"id"`
	HardwareID string        `json:"hardwareId"`
	Action     string        `json:"action"`
	OrderID    string        `json:"orderId,omitempty"`
	Params     CommandParams `json:"params"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     CommandStatus `json:"status"`
}

type TriggerRequest struct {
	HardwareID string `json:"hardwareId" validate:"required"`
	Action     string `json:"action" validate:"required"`
	OrderID    string `json:"orderId"`
	LEDPin     int    `json:"ledPin" validate:"min=0"`
	Duration   int    `json:"duration" validate:"min=0"`
}

// CommandService keeps a FIFO of commands per device. Devices poll it; each
// command is handed out once.
type CommandService struct {
	mu     sync.Mutex
	clock  clock.Clock
	queues map[string][]*HardwareCommand
}

func NewCommandService(clk clock.Clock) *CommandService {
	return &CommandService{clock: clk, queues: make(map[string][]*HardwareCommand)}
}

func (s *CommandService) Enqueue(req TriggerRequest) (HardwareCommand, error) {
	if req.HardwareID == "" || req.Action == "" {
		return HardwareCommand{}, validationError("Missing required fields")
	}
	cmd := &HardwareCommand{
		ID:         "cmd_" + uuid.New().String(),
		HardwareID: req.HardwareID,
		Action:     req.Action,
		OrderID:    req.OrderID,
		Params: CommandParams{
			LEDPin:   defaultLEDPin,
			Duration: defaultCommandDuration,
		},
		Timestamp: s.clock.Now(),
		Status:    CommandPending,
	}
	if req.LEDPin > 0 {
		cmd.Params.LEDPin = req.LEDPin
	}
	if req.Duration > 0 {
		cmd.Params.Duration = req.Duration
	}

	s.mu.Lock()
	s.queues[cmd.HardwareID] = append(s.queues[cmd.HardwareID], cmd)
	s.mu.Unlock()

	slog.Info("Hardware command queued", "hardwareID", cmd.HardwareID, "action", cmd.Action, "commandID", cmd.ID)
	return *cmd, nil
}

// NextPending marks the oldest pending command for hardwareID as sent and returns
// it. A nil command means the device has nothing to do.
func (s *CommandService) NextPending(hardwareID string) (*HardwareCommand, error) {
	if hardwareID == "" {
		return nil, validationError("Hardware ID required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cmd := range s.queues[hardwareID] {
		if cmd.Status == CommandPending {
			cmd.Status = CommandSent
			out := *cmd
			return &out, nil
		}
	}
	return nil, nil
}

// Complete acknowledges a sent command and drops it from the device queue.
func (s *CommandService) Complete(hardwareID, commandID string) (HardwareCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[hardwareID]
	for i, cmd := range queue {
		if cmd.ID != commandID {
			continue
		}
		if cmd.Status == CommandPending {
			return HardwareCommand{}, fmt.Errorf("%w: command %s was never sent", ErrConflict, commandID)
		}
		cmd.Status = CommandCompleted
		s.queues[hardwareID] = append(queue[:i], queue[i+1:]...)
		return *cmd, nil
	}
	return HardwareCommand{}, fmt.Errorf("complete %s on %s: %w", commandID, hardwareID, ErrCommandNotFound)
}

// Prune drops sent commands older than retention that were never acknowledged.
func (s *CommandService) Prune(retention time.Duration) int {
	cutoff := s.clock.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, queue := range s.queues {
		kept := queue[:0]
		for _, cmd := range queue {
			if cmd.Status != CommandPending && cmd.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, cmd)
		}
		if len(kept) == 0 {
			delete(s.queues, id)
			continue
		}
		s.queues[id] = kept
	}
	return removed
}

// Pending counts commands not yet handed to hardwareID.
func (s *CommandService) Pending(hardwareID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, cmd := range s.queues[hardwareID] {
		if cmd.Status == CommandPending {
			n++
		}
	}
	return n
}
