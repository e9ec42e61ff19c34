package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

type RequestRepo struct {
	db *bun.DB
}

var _ store.RequestRepository = (*RequestRepo)(nil)

func NewRequestRepo(db *bun.DB) *RequestRepo {
	return &RequestRepo{db: db}
}

func (r *RequestRepo) CreateRequest(ctx context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error) {
	if _, err := r.db.NewInsert().Model(&req).Exec(ctx); err != nil {
		return domain.ServiceRequest{}, mapError("create request", err)
	}
	return req, nil
}

func (r *RequestRepo) GetRequest(ctx context.Context, id uuid.UUID) (domain.ServiceRequest, error) {
	var req domain.ServiceRequest
	err := r.db.NewSelect().
		Model(&req).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.ServiceRequest{}, mapError("get request", err)
	}
	return req, nil
}

func (r *RequestRepo) UpdateRequest(ctx context.Context, id uuid.UUID, patch domain.RequestPatch) (domain.ServiceRequest, error) {
	var out domain.ServiceRequest
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var req domain.ServiceRequest
		err := tx.NewSelect().
			Model(&req).
			Where("id = ?", id).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return err
		}
		if patch.ExpectStatus != nil && req.Status != *patch.ExpectStatus {
			return store.ErrConflict
		}
		patch.Apply(&req)
		_, err = tx.NewUpdate().
			Model(&req).
			Column("status", "timeslot_id", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return domain.ServiceRequest{}, mapError("update request", err)
	}
	return out, nil
}

func (r *RequestRepo) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.ServiceRequest)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapError("delete request", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError("delete request", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *RequestRepo) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	if _, err := r.db.NewInsert().Model(&job).Exec(ctx); err != nil {
		return domain.Job{}, mapError("create job", err)
	}
	return job, nil
}

func (r *RequestRepo) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	var job domain.Job
	err := r.db.NewSelect().
		Model(&job).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Job{}, mapError("get job", err)
	}
	return job, nil
}

func (r *RequestRepo) UpdateJob(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (domain.Job, error) {
	q := r.db.NewUpdate().
		Model((*domain.Job)(nil)).
		Where("id = ?", id)
	if patch.Status != nil {
		q = q.Set("status = ?", *patch.Status)
	}
	if patch.ExpectStatus != nil {
		q = q.Where("status = ?", *patch.ExpectStatus)
	}
	res, err := q.Set("updated_at = now()").Exec(ctx)
	if err != nil {
		return domain.Job{}, mapError("update job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Job{}, mapError("update job", err)
	}
	if affected == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return domain.Job{}, err
		}
		return domain.Job{}, store.ErrConflict
	}
	return r.GetJob(ctx, id)
}

func (r *RequestRepo) DeleteJob(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.Job)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return mapError("delete job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError("delete job", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
