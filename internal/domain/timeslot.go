package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Timeslot is a provider-owned interval of availability. A booked slot is held
// by exactly one claim: a pending service request or a scheduled job.
type Timeslot struct {
	bun.BaseModel `bun:"table:timeslots,alias:t"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	ProviderID   string     `bun:"created_by_id,notnull"`
	Title        string     `bun:"title,notnull"`
	Start        time.Time  `bun:"start_time,notnull"`
	End          time.Time  `bun:"end_time,notnull"`
	TransitStart *time.Time `bun:"transit_start"`
	TransitEnd   *time.Time `bun:"transit_end"`
	IsFixed      bool       `bun:"is_fixed,notnull"`
	IsBooked     bool       `bun:"is_booked,notnull"`
	RequestID    *uuid.UUID `bun:"request_id,type:uuid"`
	JobID        *uuid.UUID `bun:"job_id,type:uuid"`
	SeriesID     *uuid.UUID `bun:"series_id,type:uuid"`
	FixedUntil   *time.Time `bun:"fixed_until"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

func (t *Timeslot) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// Envelope is the interval the slot occupies on the provider's calendar: the
// transit envelope when both transit bounds are set, otherwise [Start, End).
func (t Timeslot) Envelope() Interval {
	if t.TransitStart != nil && t.TransitEnd != nil {
		return Interval{Start: *t.TransitStart, End: *t.TransitEnd}
	}
	return Interval{Start: t.Start, End: t.End}
}

// Holder reports the claim currently holding the slot.
func (t Timeslot) Holder() (Claim, bool) {
	switch {
	case t.RequestID != nil:
		return RequestClaim(*t.RequestID), true
	case t.JobID != nil:
		return JobClaim(*t.JobID), true
	default:
		return Claim{}, false
	}
}

// HeldBy reports whether the slot is booked by c.
func (t Timeslot) HeldBy(c Claim) bool {
	h, ok := t.Holder()
	return ok && t.IsBooked && h == c
}

func (t Timeslot) DisplayState() DisplayState {
	switch {
	case t.IsBooked && t.JobID != nil:
		return DisplayBooked
	case t.IsBooked:
		return DisplayRequested
	case t.IsFixed:
		return DisplayRecurring
	default:
		return DisplayAvailable
	}
}

// Validate checks the structural invariants every persisted slot must hold.
func (t Timeslot) Validate() error {
	if t.ProviderID == "" {
		return errors.New("provider is required")
	}
	if !t.End.After(t.Start) {
		return errors.New("end must be after start")
	}
	if (t.TransitStart == nil) != (t.TransitEnd == nil) {
		return errors.New("transit bounds must be set together")
	}
	if t.TransitStart != nil && !t.Envelope().Contains(Interval{Start: t.Start, End: t.End}) {
		return errors.New("transit envelope must contain the slot")
	}
	if t.RequestID != nil && t.JobID != nil {
		return errors.New("slot cannot be held by a request and a job")
	}
	if _, held := t.Holder(); held != t.IsBooked {
		return errors.New("booked slots must have exactly one holder")
	}
	return nil
}

type DisplayState string

const (
	DisplayAvailable DisplayState = "available"
	DisplayRecurring DisplayState = "recurring"
	DisplayRequested DisplayState = "requested"
	DisplayBooked    DisplayState = "booked"
)

type ClaimKind string

const (
	ClaimRequest ClaimKind = "request"
	ClaimJob     ClaimKind = "job"
)

// Claim identifies what holds a booked slot.
type Claim struct {
	Kind ClaimKind
	ID   uuid.UUID
}

func RequestClaim(id uuid.UUID) Claim { return Claim{Kind: ClaimRequest, ID: id} }

func JobClaim(id uuid.UUID) Claim { return Claim{Kind: ClaimJob, ID: id} }

func (c Claim) Valid() bool {
	return (c.Kind == ClaimRequest || c.Kind == ClaimJob) && c.ID != uuid.Nil
}

// Hold marks t as booked by c and clears any other holder.
func (t *Timeslot) Hold(c Claim) {
	id := c.ID
	t.IsBooked = true
	t.RequestID, t.JobID = nil, nil
	if c.Kind == ClaimJob {
		t.JobID = &id
	} else {
		t.RequestID = &id
	}
}

// Free clears the booking and its transit envelope.
func (t *Timeslot) Free() {
	t.IsBooked = false
	t.RequestID, t.JobID = nil, nil
	t.TransitStart, t.TransitEnd = nil, nil
}

// TimeslotPatch carries the mutable, non-booking fields of a slot.
// Setting IsFixed to true starts a series keyed by the slot's own id unless
// the slot already belongs to one; setting it to false detaches the slot.
type TimeslotPatch struct {
	Title   *string
	IsFixed *bool
}

func (p TimeslotPatch) Apply(t *Timeslot) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.IsFixed == nil {
		return
	}
	t.IsFixed = *p.IsFixed
	if t.IsFixed {
		if t.SeriesID == nil {
			id := t.ID
			t.SeriesID = &id
		}
		return
	}
	t.SeriesID = nil
	t.FixedUntil = nil
}

func stampModel(query bun.Query, id *uuid.UUID, createdAt, updatedAt *time.Time) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if *id == uuid.Nil {
			v, err := uuid.NewV7()
			if err != nil {
				return err
			}
			*id = v
		}
		if createdAt.IsZero() {
			*createdAt = now
		}
		if updatedAt.IsZero() {
			*updatedAt = now
		}
	case *bun.UpdateQuery:
		*updatedAt = now
	}
	return nil
}
