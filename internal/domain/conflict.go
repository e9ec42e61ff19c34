package domain

import (
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals share any instant.
// Touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// NormalizeEnd extends end so the interval lasts at least minDuration.
func NormalizeEnd(start, end time.Time, minDuration time.Duration) time.Time {
	if minDuration > 0 && end.Sub(start) < minDuration {
		return start.Add(minDuration)
	}
	return end
}

// ProposedEnvelope is the interval a new slot would occupy once the minimum
// duration is applied.
func ProposedEnvelope(start, end time.Time, minDuration time.Duration) Interval {
	return Interval{Start: start, End: NormalizeEnd(start, end, minDuration)}
}

// IsClashing reports whether the proposed interval overlaps the envelope of
// any existing slot.
func IsClashing(start, end time.Time, existing []Timeslot, minDuration time.Duration) bool {
	_, ok := FirstClash(start, end, existing, minDuration)
	return ok
}

// FirstClash returns the first existing slot whose envelope overlaps the
// proposed interval.
func FirstClash(start, end time.Time, existing []Timeslot, minDuration time.Duration) (Timeslot, bool) {
	return FirstOverlap(ProposedEnvelope(start, end, minDuration), existing, uuid.Nil)
}

// FirstOverlap returns the first slot other than ignore whose envelope
// overlaps env.
func FirstOverlap(env Interval, existing []Timeslot, ignore uuid.UUID) (Timeslot, bool) {
	for _, slot := range existing {
		if ignore != uuid.Nil && slot.ID == ignore {
			continue
		}
		if env.Overlaps(slot.Envelope()) {
			return slot, true
		}
	}
	return Timeslot{}, false
}
