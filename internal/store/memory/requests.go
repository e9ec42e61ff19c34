package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

func (s *Store) CreateRequest(ctx context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.ServiceRequest{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.ServiceRequest{}, err
		}
		req.ID = id
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (domain.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ServiceRequest{}, store.ErrNotFound
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, id uuid.UUID, patch domain.RequestPatch) (domain.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ServiceRequest{}, store.ErrNotFound
	}
	if patch.ExpectStatus != nil && req.Status != *patch.ExpectStatus {
		return domain.ServiceRequest{}, store.ErrConflict
	}
	patch.Apply(&req)
	req.UpdatedAt = time.Now().UTC()
	s.requests[id] = req
	return req, nil
}

func (s *Store) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		id, err := newID()
		if err != nil {
			return domain.Job{}, err
		}
		job.ID = id
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (s *Store) UpdateJob(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, store.ErrNotFound
	}
	if patch.ExpectStatus != nil && job.Status != *patch.ExpectStatus {
		return domain.Job{}, store.ErrConflict
	}
	patch.Apply(&job)
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}
