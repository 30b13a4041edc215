package booking

import (
	"errors"
	"fmt"

	"eventhub/models"
)

var (
	ErrNotFound          = models.ErrNotFound
	ErrNotAuthorized     = errors.New("not authorized for this ticket")
	ErrAlreadyCheckedIn  = errors.New("ticket already checked in")
	ErrCommitPending     = errors.New("payment received, booking is still being finalized")
	ErrBookingInProgress = errors.New("a booking with this idempotency key is in progress")
	ErrConflict          = errors.New("ticket was modified concurrently")
)

// ValidationError is a rejected request; nothing was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// PersistenceError is a store failure before any money moved.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func pending(err error) error {
	return fmt.Errorf("%w: %v", ErrCommitPending, err)
}
