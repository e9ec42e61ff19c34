package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

type RequestRepository interface {
	CreateRequest(ctx context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (domain.ServiceRequest, error)
	// UpdateRequest returns ErrConflict when patch.ExpectStatus does not
	// match the stored status.
	UpdateRequest(ctx context.Context, id uuid.UUID, patch domain.RequestPatch) (domain.ServiceRequest, error)
	DeleteRequest(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job domain.Job) (domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error)
	UpdateJob(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (domain.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}
