package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

func (s *Store) Create(ctx context.Context, slot domain.Timeslot, minDuration time.Duration) (domain.Timeslot, error) {
	var out domain.Timeslot
	err := s.InProviderTransaction(ctx, slot.ProviderID, func(ctx context.Context, tx store.CalendarTx) error {
		created, err := store.CreateTimeslot(ctx, tx, slot, minDuration)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Timeslot{}, err
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return calendarTx{s: s}.GetTimeslot(ctx, id)
}

func (s *Store) List(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return calendarTx{s: s}.ListTimeslots(ctx, providerID, windowStart, windowEnd)
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, patch domain.TimeslotPatch) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.timeslots[id]
	if !ok {
		return domain.Timeslot{}, store.ErrNotFound
	}
	patch.Apply(&slot)
	slot.UpdatedAt = time.Now().UTC()
	s.timeslots[id] = slot
	return slot, nil
}

func (s *Store) Delete(ctx context.Context, providerID string, id uuid.UUID, opts store.DeleteOptions) (store.DeleteResult, error) {
	var out store.DeleteResult
	err := s.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.CalendarTx) error {
		res, err := store.DeleteTimeslot(ctx, tx, providerID, id, opts)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (s *Store) Book(ctx context.Context, id uuid.UUID, claim domain.Claim, transit *domain.Interval) (domain.Timeslot, error) {
	var out domain.Timeslot
	err := s.InProviderTransaction(ctx, "", func(ctx context.Context, tx store.CalendarTx) error {
		slot, err := tx.GetTimeslot(ctx, id)
		if err != nil {
			return err
		}
		if slot.IsBooked {
			return store.ErrConflict
		}
		if transit != nil {
			if err := store.CheckTransit(ctx, tx, slot, *transit); err != nil {
				return err
			}
			ts, te := transit.Start.UTC(), transit.End.UTC()
			slot.TransitStart, slot.TransitEnd = &ts, &te
		}
		slot.Hold(claim)
		if err := tx.SaveTimeslot(ctx, slot); err != nil {
			return err
		}
		out = s.timeslots[id]
		return nil
	})
	if err != nil {
		return domain.Timeslot{}, err
	}
	return out, nil
}

func (s *Store) Release(ctx context.Context, id uuid.UUID, claim domain.Claim) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.timeslots[id]
	if !ok {
		return domain.Timeslot{}, store.ErrNotFound
	}
	if !slot.HeldBy(claim) {
		return domain.Timeslot{}, store.ErrNotHolder
	}
	slot.Free()
	slot.UpdatedAt = time.Now().UTC()
	s.timeslots[id] = slot
	return slot, nil
}

func (s *Store) Transfer(ctx context.Context, id uuid.UUID, from, to domain.Claim) (domain.Timeslot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.timeslots[id]
	if !ok {
		return domain.Timeslot{}, store.ErrNotFound
	}
	if !slot.HeldBy(from) {
		return domain.Timeslot{}, store.ErrNotHolder
	}
	slot.Hold(to)
	slot.UpdatedAt = time.Now().UTC()
	s.timeslots[id] = slot
	return slot, nil
}

func (s *Store) ListSeries(ctx context.Context, providerID string) ([]domain.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fixed := make([]domain.Timeslot, 0)
	for _, slot := range s.timeslots {
		if slot.ProviderID == providerID && slot.IsFixed {
			fixed = append(fixed, slot)
		}
	}
	sortByStart(fixed)
	return domain.SeriesTemplates(fixed), nil
}

func (s *Store) InsertOccurrences(ctx context.Context, providerID string, candidates []domain.Timeslot) (store.MaterializeResult, error) {
	var out store.MaterializeResult
	err := s.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.CalendarTx) error {
		res, err := store.InsertOccurrences(ctx, tx, providerID, candidates)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return store.MaterializeResult{}, err
	}
	return out, nil
}
