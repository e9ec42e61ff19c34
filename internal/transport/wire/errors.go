package wire

import (
	"context"
	"errors"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

type Kind int

const (
	KindInternal Kind = iota
	KindClash
	KindConflict
	KindSlotBooked
	KindNotFound
	KindInvalid
	KindInvalidState
	KindUnauthenticated
	KindForbidden
	KindUnavailable
)

const (
	MsgClash       = "That time overlaps an existing slot. Pick a different time."
	MsgConflict    = "That timeslot is no longer available. Pick another time."
	MsgSlotBooked  = "That timeslot is booked and cannot be deleted."
	MsgUnavailable = "Something went wrong saving your changes. Please try again."
)

// Classify maps a service error to its transport kind and the message shown
// to the caller.
func Classify(err error) (Kind, string) {
	var clash *calendar.ClashError
	var pe *store.PersistenceError
	switch {
	case errors.As(err, &clash):
		return KindClash, MsgClash
	case errors.Is(err, booking.ErrTimeslotConflict):
		return KindConflict, MsgConflict
	case errors.Is(err, store.ErrClash):
		return KindClash, MsgClash
	case errors.Is(err, store.ErrSlotBooked):
		return KindSlotBooked, MsgSlotBooked
	case service.IsValidation(err):
		return KindInvalid, err.Error()
	case errors.Is(err, booking.ErrTimeslotNotFound), errors.Is(err, store.ErrNotFound):
		return KindNotFound, "timeslot not found"
	case errors.Is(err, booking.ErrRequestNotFound):
		return KindNotFound, "request not found"
	case errors.Is(err, booking.ErrJobNotFound):
		return KindNotFound, "job not found"
	case errors.Is(err, auth.ErrUnauthenticated):
		return KindUnauthenticated, "authentication required"
	case errors.Is(err, service.ErrForbidden):
		return KindForbidden, "not allowed"
	case errors.Is(err, service.ErrInvalidState):
		return KindInvalidState, err.Error()
	case errors.Is(err, store.ErrConflict):
		return KindConflict, MsgConflict
	case errors.As(err, &pe), errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable, MsgUnavailable
	default:
		return KindInternal, "internal error"
	}
}
