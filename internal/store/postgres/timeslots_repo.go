package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

type TimeslotRepo struct {
	db *bun.DB
}

var _ store.TimeslotRepository = (*TimeslotRepo)(nil)

func NewTimeslotRepo(db *bun.DB) *TimeslotRepo {
	return &TimeslotRepo{db: db}
}

type calendarTx struct {
	tx bun.Tx
}

func (r *TimeslotRepo) Create(ctx context.Context, slot domain.Timeslot, minDuration time.Duration) (domain.Timeslot, error) {
	var out domain.Timeslot
	err := r.InProviderTransaction(ctx, slot.ProviderID, func(ctx context.Context, tx store.CalendarTx) error {
		created, err := store.CreateTimeslot(ctx, tx, slot, minDuration)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Timeslot{}, mapError("create timeslot", err)
	}
	return out, nil
}

func (r *TimeslotRepo) Get(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) {
	var slot domain.Timeslot
	err := r.db.NewSelect().
		Model(&slot).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Timeslot{}, mapError("get timeslot", err)
	}
	return slot, nil
}

func (r *TimeslotRepo) List(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
	rows, err := listTimeslots(ctx, r.db, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, mapError("list timeslots", err)
	}
	return rows, nil
}

func (r *TimeslotRepo) Update(ctx context.Context, id uuid.UUID, patch domain.TimeslotPatch) (domain.Timeslot, error) {
	var out domain.Timeslot
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var slot domain.Timeslot
		err := tx.NewSelect().
			Model(&slot).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}
		patch.Apply(&slot)
		_, err = tx.NewUpdate().
			Model(&slot).
			Column("title", "is_fixed", "series_id", "fixed_until", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		out = slot
		return nil
	})
	if err != nil {
		return domain.Timeslot{}, mapError("update timeslot", err)
	}
	return out, nil
}

func (r *TimeslotRepo) Delete(ctx context.Context, providerID string, id uuid.UUID, opts store.DeleteOptions) (store.DeleteResult, error) {
	var out store.DeleteResult
	err := r.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.CalendarTx) error {
		res, err := store.DeleteTimeslot(ctx, tx, providerID, id, opts)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return store.DeleteResult{}, mapError("delete timeslot", err)
	}
	return out, nil
}

// Book claims a free slot with a single conditional UPDATE. With a transit
// envelope the claim is taken inside the provider lock after a clash check.
func (r *TimeslotRepo) Book(ctx context.Context, id uuid.UUID, claim domain.Claim, transit *domain.Interval) (domain.Timeslot, error) {
	if transit == nil {
		if err := r.claimFree(ctx, r.db, id, claim, nil); err != nil {
			return domain.Timeslot{}, mapError("book timeslot", err)
		}
		return r.Get(ctx, id)
	}

	slot, err := r.Get(ctx, id)
	if err != nil {
		return domain.Timeslot{}, err
	}
	err = r.InProviderTransaction(ctx, slot.ProviderID, func(ctx context.Context, tx store.CalendarTx) error {
		if err := store.CheckTransit(ctx, tx, slot, *transit); err != nil {
			return err
		}
		return r.claimFree(ctx, tx.(calendarTx).tx, id, claim, transit)
	})
	if err != nil {
		return domain.Timeslot{}, mapError("book timeslot", err)
	}
	return r.Get(ctx, id)
}

func (r *TimeslotRepo) claimFree(ctx context.Context, db bun.IDB, id uuid.UUID, claim domain.Claim, transit *domain.Interval) error {
	q := db.NewUpdate().
		Model((*domain.Timeslot)(nil)).
		Set("is_booked = TRUE").
		Set("? = ?", bun.Ident(claimColumn(claim.Kind)), claim.ID).
		Set("? = NULL", bun.Ident(otherClaimColumn(claim.Kind))).
		Set("updated_at = ?", time.Now().UTC())
	if transit != nil {
		q = q.Set("transit_start = ?", transit.Start.UTC()).Set("transit_end = ?", transit.End.UTC())
	}
	res, err := q.
		Where("id = ?", id).
		Where("is_booked = FALSE").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	return missingOr(ctx, db, id, store.ErrConflict)
}

func (r *TimeslotRepo) Release(ctx context.Context, id uuid.UUID, claim domain.Claim) (domain.Timeslot, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Timeslot)(nil)).
		Set("is_booked = FALSE").
		Set("request_id = NULL").
		Set("job_id = NULL").
		Set("transit_start = NULL").
		Set("transit_end = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("is_booked = TRUE").
		Where("? = ?", bun.Ident(claimColumn(claim.Kind)), claim.ID).
		Exec(ctx)
	if err := affectedOne(ctx, r.db, id, res, err); err != nil {
		return domain.Timeslot{}, mapError("release timeslot", err)
	}
	return r.Get(ctx, id)
}

func (r *TimeslotRepo) Transfer(ctx context.Context, id uuid.UUID, from, to domain.Claim) (domain.Timeslot, error) {
	q := r.db.NewUpdate().
		Model((*domain.Timeslot)(nil)).
		Set("? = ?", bun.Ident(claimColumn(to.Kind)), to.ID)
	if from.Kind != to.Kind {
		q = q.Set("? = NULL", bun.Ident(claimColumn(from.Kind)))
	}
	res, err := q.
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("is_booked = TRUE").
		Where("? = ?", bun.Ident(claimColumn(from.Kind)), from.ID).
		Exec(ctx)
	if err := affectedOne(ctx, r.db, id, res, err); err != nil {
		return domain.Timeslot{}, mapError("transfer timeslot", err)
	}
	return r.Get(ctx, id)
}

func (r *TimeslotRepo) ListSeries(ctx context.Context, providerID string) ([]domain.Series, error) {
	var rows []domain.Timeslot
	err := r.db.NewSelect().
		Model(&rows).
		Where("created_by_id = ?", providerID).
		Where("is_fixed = TRUE").
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapError("list series", err)
	}
	return domain.SeriesTemplates(rows), nil
}

func (r *TimeslotRepo) InsertOccurrences(ctx context.Context, providerID string, candidates []domain.Timeslot) (store.MaterializeResult, error) {
	var out store.MaterializeResult
	err := r.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.CalendarTx) error {
		res, err := store.InsertOccurrences(ctx, tx, providerID, candidates)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return store.MaterializeResult{}, mapError("insert occurrences", err)
	}
	return out, nil
}

// InProviderTransaction serializes calendar writes per provider with a
// transaction-scoped advisory lock.
func (r *TimeslotRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderCalendar(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, calendarTx{tx: tx})
	})
}

func lockProviderCalendar(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "timeslots:"+providerID).Exec(ctx)
	return err
}

func claimColumn(kind domain.ClaimKind) string {
	if kind == domain.ClaimJob {
		return "job_id"
	}
	return "request_id"
}

func otherClaimColumn(kind domain.ClaimKind) string {
	if kind == domain.ClaimJob {
		return "request_id"
	}
	return "job_id"
}

func affectedOne(ctx context.Context, db bun.IDB, id uuid.UUID, res interface{ RowsAffected() (int64, error) }, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	return missingOr(ctx, db, id, store.ErrNotHolder)
}

// missingOr returns ErrNotFound when the slot no longer exists, otherwise
// the given error.
func missingOr(ctx context.Context, db bun.IDB, id uuid.UUID, otherwise error) error {
	var exists bool
	if err := db.NewRaw("SELECT EXISTS (SELECT 1 FROM timeslots WHERE id = ?)", id).Scan(ctx, &exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return otherwise
}

func listTimeslots(ctx context.Context, db bun.IDB, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
	var rows []domain.Timeslot
	err := db.NewSelect().
		Model(&rows).
		Where("created_by_id = ?", providerID).
		Where("COALESCE(transit_start, start_time) < ?", windowEnd).
		Where("COALESCE(transit_end, end_time) > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c calendarTx) GetTimeslot(ctx context.Context, id uuid.UUID) (domain.Timeslot, error) {
	var slot domain.Timeslot
	err := c.tx.NewSelect().
		Model(&slot).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return domain.Timeslot{}, mapError("get timeslot", err)
	}
	return slot, nil
}

func (c calendarTx) ListTimeslots(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error) {
	return listTimeslots(ctx, c.tx, providerID, windowStart, windowEnd)
}

func (c calendarTx) InsertTimeslot(ctx context.Context, slot domain.Timeslot) (domain.Timeslot, error) {
	slot.Start, slot.End = slot.Start.UTC(), slot.End.UTC()
	if _, err := c.tx.NewInsert().Model(&slot).Exec(ctx); err != nil {
		return domain.Timeslot{}, mapError("insert timeslot", err)
	}
	return slot, nil
}

func (c calendarTx) SaveTimeslot(ctx context.Context, slot domain.Timeslot) error {
	_, err := c.tx.NewUpdate().
		Model(&slot).
		Column(
			"title", "is_fixed", "is_booked", "request_id", "job_id",
			"transit_start", "transit_end", "series_id", "fixed_until", "updated_at",
		).
		WherePK().
		Exec(ctx)
	return err
}

func (c calendarTx) DeleteTimeslots(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	res, err := c.tx.NewDelete().
		Model((*domain.Timeslot)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Where("is_booked = FALSE").
		Exec(ctx)
	if err != nil {
		return err
	}
	// Every id must go; a slot booked underneath the delete aborts the tx.
	if n, err := res.RowsAffected(); err == nil && n != int64(len(ids)) {
		return store.ErrConflict
	}
	return nil
}

// ListSeriesMembers locks the members it returns so a concurrent Book waits
// for the calendar write to commit.
func (c calendarTx) ListSeriesMembers(ctx context.Context, seriesID uuid.UUID) ([]domain.Timeslot, error) {
	var rows []domain.Timeslot
	err := c.tx.NewSelect().
		Model(&rows).
		Where("series_id = ?", seriesID).
		Where("is_fixed = TRUE").
		OrderExpr("start_time ASC").
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c calendarTx) ListExceptions(ctx context.Context, seriesIDs []uuid.UUID, windowStart, windowEnd time.Time) ([]domain.SeriesException, error) {
	var rows []domain.SeriesException
	err := c.tx.NewSelect().
		Model(&rows).
		Where("series_id IN (?)", bun.In(seriesIDs)).
		Where("occurrence_start >= ?", windowStart).
		Where("occurrence_start < ?", windowEnd).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c calendarTx) InsertException(ctx context.Context, ex domain.SeriesException) error {
	ex.OccurrenceStart = ex.OccurrenceStart.UTC()
	_, err := c.tx.NewInsert().
		Model(&ex).
		On("CONFLICT (series_id, occurrence_start) DO NOTHING").
		Exec(ctx)
	return err
}
