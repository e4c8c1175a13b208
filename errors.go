package main

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors wrap one of these so the HTTP layer can map them.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation error")
)

var (
	ErrOrderNotFound      = fmt.Errorf("order %w", ErrNotFound)
	ErrDrinkNotFound      = fmt.Errorf("drink %w", ErrNotFound)
	ErrQueueEntryNotFound = fmt.Errorf("queue entry %w", ErrNotFound)
	ErrHardwareNotFound   = fmt.Errorf("hardware %w", ErrNotFound)
	ErrCommandNotFound    = fmt.Errorf("command %w", ErrNotFound)

	ErrNoPendingOrder    = fmt.Errorf("%w: no pending orders", ErrConflict)
	ErrHardwareBusy      = fmt.Errorf("%w: hardware is busy with another order", ErrConflict)
	ErrHardwareMismatch  = fmt.Errorf("%w: order is bound to another device", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
	ErrKioskLocked       = fmt.Errorf("%w: kiosk is locked", ErrConflict)
	ErrPaymentNotPending = fmt.Errorf("%w: payment is not pending", ErrConflict)

	ErrNotificationsDisabled = errors.New("notifications are not configured")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
