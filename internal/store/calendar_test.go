package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

type fakeCalendarTx struct {
	getTimeslotFn       func(ctx context.Context, id uuid.UUID) (domain.Timeslot, error)
	listTimeslotsFn     func(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error)
	insertTimeslotFn    func(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error)
	listSeriesMembersFn func(ctx context.Context, seriesID uuid.UUID) ([]domain.Timeslot, error)
	listExceptionsFn    func(ctx context.Context, seriesIDs []uuid.UUID, windowStart, windowEnd time.Time) ([]domain.SeriesException, error)

	saved      []domain.Timeslot
	deleted    []uuid.UUID
	exceptions []domain.SeriesException
}

func (f *fakeCalendarTx) GetTimeslot(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) {
	if f.getTimeslotFn == nil {
		panic("GetTimeslot not configured")
	}
	return f.getTimeslotFn(ctx, id)
}

func (f *fakeCalendarTx) ListTimeslots(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
	if f.listTimeslotsFn == nil {
		return nil, nil
	}
	return f.listTimeslotsFn(ctx, providerID, windowStart, windowEnd)
}

func (f *fakeCalendarTx) InsertTimeslot(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	if f.insertTimeslotFn != nil {
		return f.insertTimeslotFn(ctx, slot)
	}
	slot.ID = uuid.New()
	return slot, nil
}

func (f *fakeCalendarTx) SaveTimeslot(ctx context.Context, slot domain.Timeslot) error {
	f.saved = append(f.saved, slot)
	return nil
}

func (f *fakeCalendarTx) DeleteTimeslots(ctx context.Context, ids []uuid.UUID) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeCalendarTx) ListSeriesMembers(ctx context.Context, seriesID uuid.UUID) ([]domain.Timeslot, error) {
	if f.listSeriesMembersFn == nil {
		panic("ListSeriesMembers not configured")
	}
	return f.listSeriesMembersFn(ctx, seriesID)
}

func (f *fakeCalendarTx) ListExceptions(ctx context.Context, seriesIDs []uuid.UUID, windowStart, windowEnd time.Time) ([]domain.SeriesException, error) {
	if f.listExceptionsFn == nil {
		return nil, nil
	}
	return f.listExceptionsFn(ctx, seriesIDs, windowStart, windowEnd)
}

func (f *fakeCalendarTx) InsertException(ctx context.Context, ex domain.SeriesException) error {
	f.exceptions = append(f.exceptions, ex)
	return nil
}

var monday = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func TestCreateTimeslot_NormalizesAndRejectsClash(t *testing.T) {
	existing := domain.Timeslot{ID: uuid.New(), ProviderID: "p1", Start: monday.Add(time.Hour), End: monday.Add(90 * time.Minute)}
	tx := &fakeCalendarTx{
		listTimeslotsFn: func(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
			if existing.Envelope().Overlaps(domain.Interval{Start: windowStart, End: windowEnd}) {
				return []domain.Timeslot{existing}, nil
			}
			return nil, nil
		},
	}

	got, err := CreateTimeslot(context.Background(), tx, domain.Timeslot{
		ProviderID: "p1",
		Start:      monday,
		End:        monday.Add(10 * time.Minute),
	}, 30*time.Minute)
	if err != nil {
		t.Fatalf("CreateTimeslot() error = %v", err)
	}
	if got.End.Sub(got.Start) != 30*time.Minute {
		t.Fatalf("duration = %s, want 30m", got.End.Sub(got.Start))
	}

	_, err = CreateTimeslot(context.Background(), tx, domain.Timeslot{
		ProviderID: "p1",
		Start:      monday.Add(45 * time.Minute),
		End:        monday.Add(75 * time.Minute),
	}, 30*time.Minute)
	if !errors.Is(err, ErrClash) {
		t.Fatalf("CreateTimeslot() error = %v, want ErrClash", err)
	}
}

func TestCheckTransit_IgnoresOwnSlot(t *testing.T) {
	slot := domain.Timeslot{ID: uuid.New(), ProviderID: "p1", Start: monday, End: monday.Add(30 * time.Minute)}
	next := domain.Timeslot{ID: uuid.New(), ProviderID: "p1", Start: monday.Add(time.Hour), End: monday.Add(90 * time.Minute)}
	tx := &fakeCalendarTx{
		listTimeslotsFn: func(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
			return []domain.Timeslot{slot, next}, nil
		},
	}

	ok := domain.Interval{Start: monday.Add(-15 * time.Minute), End: monday.Add(time.Hour)}
	if err := CheckTransit(context.Background(), tx, slot, ok); err != nil {
		t.Fatalf("CheckTransit() error = %v", err)
	}
	clashing := domain.Interval{Start: monday, End: monday.Add(65 * time.Minute)}
	if err := CheckTransit(context.Background(), tx, slot, clashing); !errors.Is(err, ErrClash) {
		t.Fatalf("CheckTransit() error = %v, want ErrClash", err)
	}
}

func TestInsertOccurrences_SkipsDuplicatesAndExceptions(t *testing.T) {
	seriesID := uuid.New()
	series := domain.Series{ID: seriesID, ProviderID: "p1", Title: "t", Start: monday, End: monday.Add(30 * time.Minute)}
	candidates, err := domain.WeeklyOccurrences(series, monday, monday.AddDate(0, 0, 21).Add(time.Hour), time.Time{}, time.UTC)
	if err != nil {
		t.Fatalf("WeeklyOccurrences() error = %v", err)
	}

	template := candidates[0]
	template.ID = seriesID
	inserted := 0
	tx := &fakeCalendarTx{
		listTimeslotsFn: func(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
			return []domain.Timeslot{template}, nil
		},
		listSeriesMembersFn: func(ctx context.Context, id uuid.UUID) ([]domain.Timeslot, error) {
			return []domain.Timeslot{template}, nil
		},
		listExceptionsFn: func(ctx context.Context, seriesIDs []uuid.UUID, windowStart, windowEnd time.Time) ([]domain.SeriesException, error) {
			if len(seriesIDs) != 1 || seriesIDs[0] != seriesID {
				t.Fatalf("seriesIDs = %v, want [%s]", seriesIDs, seriesID)
			}
			return []domain.SeriesException{{SeriesID: seriesID, OccurrenceStart: monday.AddDate(0, 0, 14)}}, nil
		},
		insertTimeslotFn: func(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
			inserted++
			slot.ID = uuid.New()
			return slot, nil
		},
	}

	res, err := InsertOccurrences(context.Background(), tx, "p1", candidates)
	if err != nil {
		t.Fatalf("InsertOccurrences() error = %v", err)
	}
	if len(res.Created) != 2 || inserted != 2 {
		t.Fatalf("created = %d (inserted %d), want 2", len(res.Created), inserted)
	}
	if res.Duplicates != 1 || res.Skipped != 1 || len(res.Clashing) != 0 {
		t.Fatalf("result = %+v, want 1 duplicate and 1 skipped", res)
	}
}

func TestInsertOccurrences_AbortsOnWriteFailure(t *testing.T) {
	boom := errors.New("boom")
	seriesID := uuid.New()
	candidates := []domain.Timeslot{{ProviderID: "p1", Start: monday, End: monday.Add(time.Hour), IsFixed: true, SeriesID: &seriesID}}
	tx := &fakeCalendarTx{
		insertTimeslotFn: func(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
			return domain.Timeslot{}, boom
		},
		listSeriesMembersFn: func(ctx context.Context, id uuid.UUID) ([]domain.Timeslot, error) {
			return []domain.Timeslot{{ID: id, Start: monday.AddDate(0, 0, -7), IsFixed: true, SeriesID: &seriesID}}, nil
		},
	}

	res, err := InsertOccurrences(context.Background(), tx, "p1", candidates)
	if !errors.Is(err, boom) {
		t.Fatalf("InsertOccurrences() error = %v, want boom", err)
	}
	if len(res.Created) != 0 {
		t.Fatalf("expected no created slots on failure")
	}
}

func TestInsertOccurrences_DropsOccurrencesPastSeriesEnd(t *testing.T) {
	seriesID := uuid.New()
	series := domain.Series{ID: seriesID, ProviderID: "p1", Title: "t", Start: monday, End: monday.Add(30 * time.Minute)}
	candidates, err := domain.WeeklyOccurrences(series, monday, monday.AddDate(0, 0, 21).Add(time.Hour), time.Time{}, time.UTC)
	if err != nil {
		t.Fatalf("WeeklyOccurrences() error = %v", err)
	}

	// A delete-all-future committed after the candidates were built.
	cutoff := monday.AddDate(0, 0, 14)
	template := candidates[0]
	template.ID = seriesID
	template.FixedUntil = &cutoff
	var inserted []domain.Timeslot
	tx := &fakeCalendarTx{
		listTimeslotsFn: func(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
			return []domain.Timeslot{template}, nil
		},
		listSeriesMembersFn: func(ctx context.Context, id uuid.UUID) ([]domain.Timeslot, error) {
			return []domain.Timeslot{template}, nil
		},
		insertTimeslotFn: func(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
			inserted = append(inserted, slot)
			slot.ID = uuid.New()
			return slot, nil
		},
	}

	res, err := InsertOccurrences(context.Background(), tx, "p1", candidates)
	if err != nil {
		t.Fatalf("InsertOccurrences() error = %v", err)
	}
	if len(inserted) != 1 || !inserted[0].Start.Equal(monday.AddDate(0, 0, 7)) {
		t.Fatalf("inserted = %+v, want only the second week", inserted)
	}
	if inserted[0].FixedUntil == nil || !inserted[0].FixedUntil.Equal(cutoff) {
		t.Fatalf("FixedUntil = %v, want %v", inserted[0].FixedUntil, cutoff)
	}
	if res.Duplicates != 1 || res.Skipped != 2 {
		t.Fatalf("result = %+v, want 1 duplicate and 2 skipped", res)
	}
}

func TestInsertOccurrences_UnfixedSeriesInsertsNothing(t *testing.T) {
	seriesID := uuid.New()
	candidates := []domain.Timeslot{
		{Start: monday, End: monday.Add(time.Hour), IsFixed: true, SeriesID: &seriesID},
		{Start: monday.AddDate(0, 0, 7), End: monday.AddDate(0, 0, 7).Add(time.Hour), IsFixed: true, SeriesID: &seriesID},
	}
	tx := &fakeCalendarTx{
		listSeriesMembersFn: func(ctx context.Context, id uuid.UUID) ([]domain.Timeslot, error) {
			return nil, nil
		},
		listTimeslotsFn: func(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
			t.Fatalf("ListTimeslots called with nothing to insert")
			return nil, nil
		},
		insertTimeslotFn: func(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
			t.Fatalf("InsertTimeslot(%+v) for a series with no members", slot)
			return slot, nil
		},
	}

	res, err := InsertOccurrences(context.Background(), tx, "p1", candidates)
	if err != nil {
		t.Fatalf("InsertOccurrences() error = %v", err)
	}
	if len(res.Created) != 0 || res.Skipped != 2 {
		t.Fatalf("result = %+v, want 2 skipped", res)
	}
}

func TestDeleteTimeslot_SingleFixedRecordsException(t *testing.T) {
	seriesID := uuid.New()
	slot := domain.Timeslot{ID: uuid.New(), ProviderID: "p1", Start: monday, End: monday.Add(time.Hour), IsFixed: true, SeriesID: &seriesID}
	tx := &fakeCalendarTx{
		getTimeslotFn: func(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) { return slot, nil },
	}

	res, err := DeleteTimeslot(context.Background(), tx, "p1", slot.ID, DeleteOptions{})
	if err != nil {
		t.Fatalf("DeleteTimeslot() error = %v", err)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != slot.ID {
		t.Fatalf("deleted = %v, want [%s]", res.Deleted, slot.ID)
	}
	if len(tx.exceptions) != 1 || !tx.exceptions[0].OccurrenceStart.Equal(monday) {
		t.Fatalf("exceptions = %v, want one at %s", tx.exceptions, monday)
	}
}

func TestDeleteTimeslot_Guards(t *testing.T) {
	reqID := uuid.New()
	booked := domain.Timeslot{ID: uuid.New(), ProviderID: "p1", Start: monday, End: monday.Add(time.Hour), IsBooked: true, RequestID: &reqID}
	tx := &fakeCalendarTx{
		getTimeslotFn: func(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) { return booked, nil },
	}

	if _, err := DeleteTimeslot(context.Background(), tx, "p1", booked.ID, DeleteOptions{}); !errors.Is(err, ErrSlotBooked) {
		t.Fatalf("DeleteTimeslot() error = %v, want ErrSlotBooked", err)
	}
	if _, err := DeleteTimeslot(context.Background(), tx, "someone-else", booked.ID, DeleteOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteTimeslot() error = %v, want ErrNotFound", err)
	}
	if len(tx.deleted) != 0 {
		t.Fatalf("expected nothing deleted")
	}
}

func TestDeleteTimeslot_AllFuture(t *testing.T) {
	seriesID := uuid.New()
	reqID := uuid.New()
	member := func(week int) domain.Timeslot {
		start := monday.AddDate(0, 0, 7*week)
		return domain.Timeslot{ID: uuid.New(), ProviderID: "p1", Start: start, End: start.Add(time.Hour), IsFixed: true, SeriesID: &seriesID}
	}
	past, target, future, bookedFuture := member(0), member(1), member(2), member(3)
	bookedFuture.IsBooked = true
	bookedFuture.RequestID = &reqID

	tx := &fakeCalendarTx{
		getTimeslotFn: func(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) { return target, nil },
		listSeriesMembersFn: func(ctx context.Context, id uuid.UUID) ([]domain.Timeslot, error) {
			return []domain.Timeslot{past, target, future, bookedFuture}, nil
		},
	}

	res, err := DeleteTimeslot(context.Background(), tx, "p1", target.ID, DeleteOptions{DeleteAllFuture: true})
	if err != nil {
		t.Fatalf("DeleteTimeslot() error = %v", err)
	}
	if len(res.Deleted) != 2 || res.Deleted[0] != target.ID || res.Deleted[1] != future.ID {
		t.Fatalf("deleted = %v, want target and future", res.Deleted)
	}
	if len(res.Detached) != 1 || res.Detached[0] != bookedFuture.ID {
		t.Fatalf("detached = %v, want booked future", res.Detached)
	}
	if len(tx.saved) != 2 {
		t.Fatalf("len(saved) = %d, want 2", len(tx.saved))
	}
	if got := tx.saved[0]; got.ID != past.ID || got.FixedUntil == nil || !got.FixedUntil.Equal(target.Start) {
		t.Fatalf("past member = %+v, want fixedUntil %s", got, target.Start)
	}
	if got := tx.saved[1]; got.IsFixed || got.SeriesID != nil {
		t.Fatalf("booked member should be detached, got %+v", got)
	}
}
