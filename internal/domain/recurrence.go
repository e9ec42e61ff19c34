package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Series is a weekly recurrence anchored at its template slot: the earliest
// fixed slot sharing a series id.
type Series struct {
	ID         uuid.UUID
	ProviderID string
	Title      string
	Start      time.Time
	End        time.Time
	Until      *time.Time
}

func SeriesFromTemplate(t Timeslot) Series {
	id := t.ID
	if t.SeriesID != nil {
		id = *t.SeriesID
	}
	return Series{
		ID:         id,
		ProviderID: t.ProviderID,
		Title:      t.Title,
		Start:      t.Start,
		End:        t.End,
		Until:      t.FixedUntil,
	}
}

// SeriesException records a single deleted occurrence so that later
// materializations do not recreate it.
type SeriesException struct {
	bun.BaseModel `bun:"table:timeslot_exceptions,alias:te"`

	ID              uuid.UUID `bun:"id,pk,type:uuid"`
	SeriesID        uuid.UUID `bun:"series_id,notnull,type:uuid"`
	OccurrenceStart time.Time `bun:"occurrence_start,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func (e *SeriesException) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// WeeklyOccurrences expands s into fixed slots that lie entirely inside
// [rangeStart, rangeEnd] and start no earlier than notBefore. Steps keep the
// template's wall-clock time in loc, so occurrences follow DST changes.
func WeeklyOccurrences(s Series, rangeStart, rangeEnd, notBefore time.Time, loc *time.Location) ([]Timeslot, error) {
	if !s.End.After(s.Start) {
		return nil, errors.New("invalid duration")
	}
	if rangeEnd.Before(rangeStart) {
		return nil, errors.New("invalid window")
	}
	if loc == nil {
		loc = time.UTC
	}

	lower := rangeStart
	if notBefore.After(lower) {
		lower = notBefore
	}

	anchor := s.Start.In(loc)
	duration := s.End.Sub(s.Start)
	seriesID := s.ID

	startWeekIndex := 0
	if lower.After(anchor) {
		daysDiff := int(lower.Sub(anchor) / (24 * time.Hour))
		startWeekIndex = daysDiff/7 - 1
		if startWeekIndex < 0 {
			startWeekIndex = 0
		}
	}

	out := make([]Timeslot, 0, 8)
	for weekIndex := startWeekIndex; ; weekIndex++ {
		startLocal := time.Date(
			anchor.Year(),
			anchor.Month(),
			anchor.Day()+7*weekIndex,
			anchor.Hour(),
			anchor.Minute(),
			anchor.Second(),
			anchor.Nanosecond(),
			loc,
		)
		start := startLocal.UTC()
		end := start.Add(duration)
		if end.After(rangeEnd) {
			break
		}
		if s.Until != nil && !start.Before(*s.Until) {
			break
		}
		if start.Before(lower) {
			continue
		}
		var until *time.Time
		if s.Until != nil {
			u := s.Until.UTC()
			until = &u
		}
		out = append(out, Timeslot{
			ProviderID: s.ProviderID,
			Title:      s.Title,
			Start:      start,
			End:        end,
			IsFixed:    true,
			SeriesID:   &seriesID,
			FixedUntil: until,
		})
	}
	return out, nil
}

// OccurrencePlan is the outcome of reconciling generated occurrences with
// what the provider's calendar already holds.
type OccurrencePlan struct {
	Insert     []Timeslot
	Duplicates []Timeslot
	Skipped    []Timeslot
	Clashing   []Timeslot
}

// PlanOccurrences drops candidates that already exist with the same
// provider, start and end, candidates deleted through an exception, and
// candidates that would overlap another slot. Accepted candidates take part
// in the checks for the ones that follow.
func PlanOccurrences(candidates, existing []Timeslot, exceptions []SeriesException) OccurrencePlan {
	type slotKey struct {
		provider string
		start    int64
		end      int64
	}
	type skipKey struct {
		series uuid.UUID
		start  int64
	}

	seen := make(map[slotKey]struct{}, len(existing)+len(candidates))
	for _, slot := range existing {
		seen[slotKey{slot.ProviderID, slot.Start.UnixNano(), slot.End.UnixNano()}] = struct{}{}
	}
	skips := make(map[skipKey]struct{}, len(exceptions))
	for _, e := range exceptions {
		skips[skipKey{e.SeriesID, e.OccurrenceStart.UnixNano()}] = struct{}{}
	}

	occupied := append([]Timeslot(nil), existing...)
	var plan OccurrencePlan
	for _, c := range candidates {
		k := slotKey{c.ProviderID, c.Start.UnixNano(), c.End.UnixNano()}
		if _, dup := seen[k]; dup {
			plan.Duplicates = append(plan.Duplicates, c)
			continue
		}
		if c.SeriesID != nil {
			if _, skip := skips[skipKey{*c.SeriesID, c.Start.UnixNano()}]; skip {
				plan.Skipped = append(plan.Skipped, c)
				continue
			}
		}
		if _, clash := FirstOverlap(c.Envelope(), occupied, uuid.Nil); clash {
			plan.Clashing = append(plan.Clashing, c)
			continue
		}
		seen[k] = struct{}{}
		occupied = append(occupied, c)
		plan.Insert = append(plan.Insert, c)
	}
	return plan
}

// SeriesTemplates returns one series per distinct series id among the fixed
// slots, anchored at the earliest member.
func SeriesTemplates(slots []Timeslot) []Series {
	earliest := make(map[uuid.UUID]Timeslot)
	order := make([]uuid.UUID, 0)
	for _, slot := range slots {
		if !slot.IsFixed {
			continue
		}
		key := slot.ID
		if slot.SeriesID != nil {
			key = *slot.SeriesID
		}
		cur, ok := earliest[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || slot.Start.Before(cur.Start) {
			earliest[key] = slot
		}
	}
	out := make([]Series, 0, len(order))
	for _, key := range order {
		out = append(out, SeriesFromTemplate(earliest[key]))
	}
	return out
}
