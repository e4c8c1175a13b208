package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// HandleOrderCleanup removes finished orders and stale hardware commands past the
// retention window.
func (h *Handlers) HandleOrderCleanup(ctx context.Context, t *asynq.Task) error {
	var payload OrderCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	retention := time.Duration(payload.RetentionSeconds) * time.Second
	if retention <= 0 {
		retention = h.cfg.OrderRetention
	}

	removed := h.orderService.Cleanup(retention)
	if removed > 0 {
		slog.Info("Finished orders cleaned", "removed", removed, "retention", retention)
	}
	if n := h.commands.Prune(retention); n > 0 {
		slog.Info("Unacknowledged hardware commands dropped", "removed", n)
	}
	return nil
}

// HandleHardwareSweep takes devices offline when their heartbeat goes stale.
func (h *Handlers) HandleHardwareSweep(ctx context.Context, t *asynq.Task) error {
	for _, id := range h.queueService.MarkStaleHardware(h.cfg.HardwareStaleTime) {
		slog.Warn("Hardware marked offline, no heartbeat", "hardwareID", id, "staleAfter", h.cfg.HardwareStaleTime)
	}
	return nil
}
