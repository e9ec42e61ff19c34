package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrClash      = errors.New("overlaps an existing timeslot")
	ErrSlotBooked = errors.New("timeslot is booked")
	ErrNotHolder  = errors.New("timeslot is not held by this claim")
)

// PersistenceError wraps a storage failure that is not a domain outcome.
// Callers may retry the operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a *PersistenceError unless it already carries a
// store sentinel or is itself a persistence error.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrConflict, ErrNotFound, ErrClash, ErrSlotBooked, ErrNotHolder} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsRetryable reports whether err is a persistence failure or a timeout.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) || errors.Is(err, context.DeadlineExceeded)
}
