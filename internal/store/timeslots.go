package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

type DeleteOptions struct {
	// DeleteAllFuture removes this occurrence and every later occurrence of
	// the same fixed series. Earlier occurrences are kept.
	DeleteAllFuture bool
}

type DeleteResult struct {
	Deleted  []uuid.UUID
	Detached []uuid.UUID
}

type MaterializeResult struct {
	Created    []domain.Timeslot
	Duplicates int
	Skipped    int
	Clashing   []domain.Timeslot
}

type TimeslotRepository interface {
	Create(ctx context.Context, slot domain.Timeslot, minDuration time.Duration) (domain.Timeslot, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Timeslot, error)
	List(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Timeslot, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.TimeslotPatch) (domain.Timeslot, error)
	Delete(ctx context.Context, providerID string, id uuid.UUID, opts DeleteOptions) (DeleteResult, error)

	// Book atomically claims a free slot. A slot that is already booked
	// yields ErrConflict; a missing slot yields ErrNotFound. A non-nil
	// transit envelope is stored with the claim after a clash check.
	Book(ctx context.Context, id uuid.UUID, claim domain.Claim, transit *domain.Interval) (domain.Timeslot, error)
	Release(ctx context.Context, id uuid.UUID, claim domain.Claim) (domain.Timeslot, error)
	Transfer(ctx context.Context, id uuid.UUID, from, to domain.Claim) (domain.Timeslot, error)

	ListSeries(ctx context.Context, providerID string) ([]domain.Series, error)
	InsertOccurrences(ctx context.Context, providerID string, candidates []domain.Timeslot) (MaterializeResult, error)
}
