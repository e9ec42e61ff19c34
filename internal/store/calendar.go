package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

// CalendarTx is the set of reads and writes available while a provider's
// calendar is locked. Implementations run every call in one transaction.
type CalendarTx interface {
	GetTimeslot(ctx context.Context, id uuid.UUID) (domain.Timeslot, error)
	// ListTimeslots returns the provider's slots whose envelope overlaps
	// [windowStart, windowEnd), ordered by start.
	ListTimeslots(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error)
	InsertTimeslot(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error)
	SaveTimeslot(ctx context.Context, slot domain.Timeslot) error
	DeleteTimeslots(ctx context.Context, ids []uuid.UUID) error
	ListSeriesMembers(ctx context.Context, seriesID uuid.UUID) ([]domain.Timeslot, error)

	ListExceptions(ctx context.Context, seriesIDs []uuid.UUID, windowStart, windowEnd time.Time) ([]domain.SeriesException, error)
	InsertException(ctx context.Context, ex domain.SeriesException) error
}

// CreateTimeslot inserts slot after checking it against the provider's
// calendar. The end is extended to minDuration first.
func CreateTimeslot(ctx context.Context, tx CalendarTx, slot domain.Timeslot, minDuration time.Duration) (domain.Timeslot, error) {
	slot.End = domain.NormalizeEnd(slot.Start, slot.End, minDuration)
	if err := slot.Validate(); err != nil {
		return domain.Timeslot{}, fmt.Errorf("invalid timeslot: %w", err)
	}
	env := slot.Envelope()
	existing, err := tx.ListTimeslots(ctx, slot.ProviderID, env.Start, env.End)
	if err != nil {
		return domain.Timeslot{}, err
	}
	if _, clash := domain.FirstOverlap(env, existing, uuid.Nil); clash {
		return domain.Timeslot{}, ErrClash
	}
	return tx.InsertTimeslot(ctx, slot)
}

// CheckTransit reports ErrClash when env would overlap any of the provider's
// other slots.
func CheckTransit(ctx context.Context, tx CalendarTx, slot domain.Timeslot, env domain.Interval) error {
	if !env.Contains(domain.Interval{Start: slot.Start, End: slot.End}) {
		return fmt.Errorf("transit envelope must contain the slot")
	}
	existing, err := tx.ListTimeslots(ctx, slot.ProviderID, env.Start, env.End)
	if err != nil {
		return err
	}
	if _, clash := domain.FirstOverlap(env, existing, slot.ID); clash {
		return ErrClash
	}
	return nil
}

// InsertOccurrences writes the candidates that are neither duplicates,
// deleted occurrences, nor clashes. Any write failure aborts the whole batch.
func InsertOccurrences(ctx context.Context, tx CalendarTx, providerID string, candidates []domain.Timeslot) (MaterializeResult, error) {
	if len(candidates) == 0 {
		return MaterializeResult{}, nil
	}

	window := candidates[0].Envelope()
	seriesIDs := make([]uuid.UUID, 0, 1)
	seenSeries := make(map[uuid.UUID]struct{})
	for i := range candidates {
		candidates[i].ProviderID = providerID
		env := candidates[i].Envelope()
		if env.Start.Before(window.Start) {
			window.Start = env.Start
		}
		if env.End.After(window.End) {
			window.End = env.End
		}
		if id := candidates[i].SeriesID; id != nil {
			if _, ok := seenSeries[*id]; !ok {
				seenSeries[*id] = struct{}{}
				seriesIDs = append(seriesIDs, *id)
			}
		}
	}

	candidates, retired, err := trimToLiveSeries(ctx, tx, seriesIDs, candidates)
	if err != nil {
		return MaterializeResult{}, err
	}
	if len(candidates) == 0 {
		return MaterializeResult{Created: []domain.Timeslot{}, Skipped: retired}, nil
	}

	existing, err := tx.ListTimeslots(ctx, providerID, window.Start, window.End)
	if err != nil {
		return MaterializeResult{}, err
	}
	var exceptions []domain.SeriesException
	if len(seriesIDs) > 0 {
		exceptions, err = tx.ListExceptions(ctx, seriesIDs, window.Start, window.End)
		if err != nil {
			return MaterializeResult{}, err
		}
	}

	plan := domain.PlanOccurrences(candidates, existing, exceptions)
	res := MaterializeResult{
		Created:    make([]domain.Timeslot, 0, len(plan.Insert)),
		Duplicates: len(plan.Duplicates),
		Skipped:    len(plan.Skipped) + retired,
		Clashing:   plan.Clashing,
	}
	for _, occ := range plan.Insert {
		created, err := tx.InsertTimeslot(ctx, occ)
		if err != nil {
			return MaterializeResult{}, err
		}
		res.Created = append(res.Created, created)
	}
	return res, nil
}

// trimToLiveSeries re-reads every series under the provider lock and drops
// candidates the series no longer generates: the series was unfixed, or it
// now ends at or before the candidate's start.
func trimToLiveSeries(ctx context.Context, tx CalendarTx, seriesIDs []uuid.UUID, candidates []domain.Timeslot) ([]domain.Timeslot, int, error) {
	if len(seriesIDs) == 0 {
		return candidates, 0, nil
	}
	live := make(map[uuid.UUID]domain.Series, len(seriesIDs))
	for _, id := range seriesIDs {
		members, err := tx.ListSeriesMembers(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		for _, ser := range domain.SeriesTemplates(members) {
			if ser.ID == id {
				live[id] = ser
			}
		}
	}

	kept := make([]domain.Timeslot, 0, len(candidates))
	retired := 0
	for _, c := range candidates {
		if c.SeriesID != nil {
			ser, ok := live[*c.SeriesID]
			if !ok || (ser.Until != nil && !c.Start.Before(*ser.Until)) {
				retired++
				continue
			}
			c.FixedUntil = ser.Until
		}
		kept = append(kept, c)
	}
	return kept, retired, nil
}

// DeleteTimeslot removes one slot, or with DeleteAllFuture the slot and
// every later member of its series. Earlier members stop generating at the
// deleted occurrence. Booked later members are detached instead of deleted.
func DeleteTimeslot(ctx context.Context, tx CalendarTx, providerID string, id uuid.UUID, opts DeleteOptions) (DeleteResult, error) {
	slot, err := tx.GetTimeslot(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if slot.ProviderID != providerID {
		return DeleteResult{}, ErrNotFound
	}
	if slot.IsBooked {
		return DeleteResult{}, ErrSlotBooked
	}

	if !opts.DeleteAllFuture || !slot.IsFixed || slot.SeriesID == nil {
		if slot.IsFixed && slot.SeriesID != nil {
			ex := domain.SeriesException{SeriesID: *slot.SeriesID, OccurrenceStart: slot.Start}
			if err := tx.InsertException(ctx, ex); err != nil {
				return DeleteResult{}, err
			}
		}
		if err := tx.DeleteTimeslots(ctx, []uuid.UUID{slot.ID}); err != nil {
			return DeleteResult{}, err
		}
		return DeleteResult{Deleted: []uuid.UUID{slot.ID}}, nil
	}

	members, err := tx.ListSeriesMembers(ctx, *slot.SeriesID)
	if err != nil {
		return DeleteResult{}, err
	}
	cutoff := slot.Start
	var res DeleteResult
	for _, m := range members {
		switch {
		case m.Start.Before(cutoff):
			m.FixedUntil = &cutoff
			if err := tx.SaveTimeslot(ctx, m); err != nil {
				return DeleteResult{}, err
			}
		case m.IsBooked:
			m.IsFixed = false
			m.SeriesID = nil
			m.FixedUntil = nil
			if err := tx.SaveTimeslot(ctx, m); err != nil {
				return DeleteResult{}, err
			}
			res.Detached = append(res.Detached, m.ID)
		default:
			res.Deleted = append(res.Deleted, m.ID)
		}
	}
	if len(res.Deleted) > 0 {
		if err := tx.DeleteTimeslots(ctx, res.Deleted); err != nil {
			return DeleteResult{}, err
		}
	}
	return res, nil
}
