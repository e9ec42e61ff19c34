package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
)

// ServiceRequest is a requester's ask for a provider's service in a
// specific timeslot. It references the slot but does not own it.
type ServiceRequest struct {
	bun.BaseModel `bun:"table:service_requests,alias:r"`

	ID          uuid.UUID     `bun:"id,pk,type:uuid"`
	ProviderID  string        `bun:"provider_id,notnull"`
	RequesterID string        `bun:"requester_id,notnull"`
	ServiceType string        `bun:"service_type,notnull"`
	Comment     string        `bun:"comment,notnull"`
	Status      RequestStatus `bun:"status,notnull"`
	TimeslotID  *uuid.UUID    `bun:"timeslot_id,type:uuid"`
	CreatedAt   time.Time     `bun:"created_at,notnull"`
	UpdatedAt   time.Time     `bun:"updated_at,notnull"`
}

func (r *ServiceRequest) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &r.ID, &r.CreatedAt, &r.UpdatedAt)
}

// RequestPatch updates a request. When ExpectStatus is set the update only
// applies to a request currently in that status.
type RequestPatch struct {
	Status       *RequestStatus
	ExpectStatus *RequestStatus
	TimeslotID   *uuid.UUID
}

func (p RequestPatch) Apply(r *ServiceRequest) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.TimeslotID != nil {
		id := *p.TimeslotID
		r.TimeslotID = &id
	}
}

type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

// Job is the accepted form of a request.
type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          uuid.UUID  `bun:"id,pk,type:uuid"`
	RequestID   uuid.UUID  `bun:"request_id,notnull,type:uuid"`
	ProviderID  string     `bun:"provider_id,notnull"`
	ReceiverID  string     `bun:"receiver_id,notnull"`
	ServiceType string     `bun:"service_type,notnull"`
	Status      JobStatus  `bun:"status,notnull"`
	TimeslotID  *uuid.UUID `bun:"timeslot_id,type:uuid"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func (j *Job) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	return stampModel(query, &j.ID, &j.CreatedAt, &j.UpdatedAt)
}

type JobPatch struct {
	Status       *JobStatus
	ExpectStatus *JobStatus
}

func (p JobPatch) Apply(j *Job) {
	if p.Status != nil {
		j.Status = *p.Status
	}
}
