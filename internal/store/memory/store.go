// Package memory is an in-process implementation of the store contracts.
// It keeps the same locking and conditional-update semantics as the
// postgres store and backs local development and service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

type Store struct {
	mu         sync.Mutex
	timeslots  map[uuid.UUID]domain.Timeslot
	exceptions []domain.SeriesException
	requests   map[uuid.UUID]domain.ServiceRequest
	jobs       map[uuid.UUID]domain.Job
}

var (
	_ store.TimeslotRepository = (*Store)(nil)
	_ store.RequestRepository  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		timeslots: make(map[uuid.UUID]domain.Timeslot),
		requests:  make(map[uuid.UUID]domain.ServiceRequest),
		jobs:      make(map[uuid.UUID]domain.Job),
	}
}

// InProviderTransaction runs fn with the whole store locked. Writes made by
// fn are visible immediately; fn must check before it writes.
func (s *Store) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, calendarTx{s: s})
}

func newID() (uuid.UUID, error) {
	return uuid.NewV7()
}

type calendarTx struct {
	s *Store
}

func (t calendarTx) GetTimeslot(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) {
	slot, ok := t.s.timeslots[id]
	if !ok {
		return domain.Timeslot{}, store.ErrNotFound
	}
	return slot, nil
}

func (t calendarTx) ListTimeslots(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	out := make([]domain.Timeslot, 0)
	for _, slot := range t.s.timeslots {
		if slot.ProviderID == providerID && slot.Envelope().Overlaps(window) {
			out = append(out, slot)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t calendarTx) InsertTimeslot(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	if slot.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.Timeslot{}, err
		}
		slot.ID = id
	}
	env := slot.Envelope()
	for _, other := range t.s.timeslots {
		if other.ProviderID != slot.ProviderID {
			continue
		}
		if other.Start.Equal(slot.Start) && other.End.Equal(slot.End) {
			return domain.Timeslot{}, store.ErrConflict
		}
		if other.Envelope().Overlaps(env) {
			return domain.Timeslot{}, store.ErrClash
		}
	}
	now := time.Now().UTC()
	slot.CreatedAt, slot.UpdatedAt = now, now
	slot.Start, slot.End = slot.Start.UTC(), slot.End.UTC()
	t.s.timeslots[slot.ID] = slot
	return slot, nil
}

func (t calendarTx) SaveTimeslot(ctx context.Context, slot domain.Timeslot) error {
	if _, ok := t.s.timeslots[slot.ID]; !ok {
		return store.ErrNotFound
	}
	slot.UpdatedAt = time.Now().UTC()
	t.s.timeslots[slot.ID] = slot
	return nil
}

func (t calendarTx) DeleteTimeslots(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		delete(t.s.timeslots, id)
	}
	return nil
}

func (t calendarTx) ListSeriesMembers(ctx context.Context, seriesID uuid.UUID) ([]domain.Timeslot, error) {
	out := make([]domain.Timeslot, 0)
	for _, slot := range t.s.timeslots {
		if slot.IsFixed && slot.SeriesID != nil && *slot.SeriesID == seriesID {
			out = append(out, slot)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t calendarTx) ListExceptions(ctx context.Context, seriesIDs []uuid.UUID, windowStart, windowEnd time.Time) ([]domain.SeriesException, error) {
	wanted := make(map[uuid.UUID]struct{}, len(seriesIDs))
	for _, id := range seriesIDs {
		wanted[id] = struct{}{}
	}
	out := make([]domain.SeriesException, 0)
	for _, ex := range t.s.exceptions {
		if _, ok := wanted[ex.SeriesID]; !ok {
			continue
		}
		if ex.OccurrenceStart.Before(windowStart) || !ex.OccurrenceStart.Before(windowEnd) {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

func (t calendarTx) InsertException(ctx context.Context, ex domain.SeriesException) error {
	for _, existing := range t.s.exceptions {
		if existing.SeriesID == ex.SeriesID && existing.OccurrenceStart.Equal(ex.OccurrenceStart) {
			return nil
		}
	}
	id, err := newID()
	if err != nil {
		return err
	}
	ex.ID = id
	ex.CreatedAt = time.Now().UTC()
	ex.UpdatedAt = ex.CreatedAt
	t.s.exceptions = append(t.s.exceptions, ex)
	return nil
}

func sortByStart(slots []domain.Timeslot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
}
