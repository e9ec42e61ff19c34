// Package booking coordinates the writes that tie a service request or job
// to a timeslot. The slot is claimed first; every later failure is undone
// with a compensating write so callers never see a half-applied booking.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/notify"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/observability/metrics"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

var tracer = otel.Tracer("servicehub.internal.service.booking")

var (
	ErrTimeslotConflict = errors.New("timeslot no longer available")
	ErrTimeslotNotFound = errors.New("timeslot not found")
	ErrRequestNotFound  = errors.New("request not found")
	ErrJobNotFound      = errors.New("job not found")
)

// Slots is the part of the timeslot store the coordinator writes through.
type Slots interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Timeslot, error)
	Book(ctx context.Context, id uuid.UUID, claim domain.Claim, transit *domain.Interval) (domain.Timeslot, error)
	Release(ctx context.Context, id uuid.UUID, claim domain.Claim) (domain.Timeslot, error)
	Transfer(ctx context.Context, id uuid.UUID, from, to domain.Claim) (domain.Timeslot, error)
}

type Options struct {
	OpTimeout           time.Duration
	CompensationTimeout time.Duration
	Location            *time.Location
	Logger              *slog.Logger
	Metrics             *metrics.BookingMetrics
}

type Coordinator struct {
	slots    Slots
	requests store.RequestRepository
	notifier notify.Notifier
	opts     Options
	log      *slog.Logger
}

func NewCoordinator(slots Slots, requests store.RequestRepository, notifier notify.Notifier, opts Options) *Coordinator {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		slots:    slots,
		requests: requests,
		notifier: notifier,
		opts:     opts,
		log:      log.With(slog.String("component", "booking")),
	}
}

type SubmitInput struct {
	RequesterID string
	ProviderID  string
	TimeslotID  uuid.UUID
	ServiceType string
	Comment     string
	// Transit optionally widens the booked slot by travel time.
	Transit *domain.Interval
}

type Result struct {
	Request  domain.ServiceRequest
	Job      domain.Job
	Timeslot domain.Timeslot
}

// Submit creates a pending request and claims its slot. A slot taken by a
// concurrent caller yields ErrTimeslotConflict and the request is deleted.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "booking.submit")
	defer span.End()
	defer c.observe(ctx, "submit", time.Now(), &err)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	requesterID := strings.TrimSpace(in.RequesterID)
	providerID := strings.TrimSpace(in.ProviderID)
	switch {
	case requesterID == "":
		return Result{}, service.Validation("requester_id is required")
	case providerID == "":
		return Result{}, service.Validation("provider_id is required")
	case in.TimeslotID == uuid.Nil:
		return Result{}, service.Validation("timeslot_id is required")
	case strings.TrimSpace(in.ServiceType) == "":
		return Result{}, service.Validation("service_type is required")
	case requesterID == providerID:
		return Result{}, service.Validation("providers cannot book their own timeslots")
	}
	span.SetAttributes(
		attribute.String("servicehub.provider_id", providerID),
		attribute.String("servicehub.timeslot_id", in.TimeslotID.String()),
	)

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	slot, err := c.freeSlot(opCtx, providerID, in.TimeslotID)
	if err != nil {
		return Result{}, err
	}
	if err := checkTransit(slot, in.Transit); err != nil {
		return Result{}, err
	}

	req, err := c.requests.CreateRequest(opCtx, domain.ServiceRequest{
		ProviderID:  providerID,
		RequesterID: requesterID,
		ServiceType: strings.TrimSpace(in.ServiceType),
		Comment:     in.Comment,
		Status:      domain.RequestPending,
	})
	if err != nil {
		return Result{}, store.Persistence("create request", err)
	}
	claim := domain.RequestClaim(req.ID)
	deleteRequest := func(ctx context.Context) error { return c.requests.DeleteRequest(ctx, claim.ID) }

	booked, err := c.slots.Book(opCtx, slot.ID, claim, in.Transit)
	if err != nil {
		if lostRace(err) {
			c.compensate(ctx, "delete_request", deleteRequest)
			c.log.InfoContext(ctx, "timeslot taken by a concurrent booking",
				slog.String("timeslot_id", slot.ID.String()),
				slog.String("request_id", claim.ID.String()),
			)
			return Result{}, fmt.Errorf("%w: %w", ErrTimeslotConflict, err)
		}
		// The claim may have committed before the failure was reported.
		c.compensate(ctx, "release_slot", c.releaseStep(slot.ID, claim))
		c.compensate(ctx, "delete_request", deleteRequest)
		return Result{}, store.Persistence("book timeslot", err)
	}

	slotID := booked.ID
	linked, err := c.requests.UpdateRequest(opCtx, claim.ID, domain.RequestPatch{TimeslotID: &slotID})
	if err != nil {
		c.compensate(ctx, "release_slot", c.releaseStep(slotID, claim))
		c.compensate(ctx, "delete_request", deleteRequest)
		return Result{}, store.Persistence("link request", err)
	}

	c.emit(ctx, notify.BookingRequested(linked, booked, c.opts.Location))
	return Result{Request: linked, Timeslot: booked}, nil
}

// Accept turns a pending request into a scheduled job and moves the slot
// claim from the request to the job.
func (c *Coordinator) Accept(ctx context.Context, providerID string, requestID uuid.UUID) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "booking.accept")
	defer span.End()
	defer c.observe(ctx, "accept", time.Now(), &err)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(providerID) == "" {
		return Result{}, service.Validation("provider_id is required")
	}
	span.SetAttributes(attribute.String("servicehub.request_id", requestID.String()))

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.loadRequest(opCtx, requestID)
	if err != nil {
		return Result{}, err
	}
	if req.ProviderID != providerID {
		return Result{}, service.ErrForbidden
	}
	if req.Status != domain.RequestPending || req.TimeslotID == nil {
		return Result{}, fmt.Errorf("%w: request is %s", service.ErrInvalidState, req.Status)
	}
	slotID := *req.TimeslotID

	job, err := c.requests.CreateJob(opCtx, domain.Job{
		RequestID:   req.ID,
		ProviderID:  req.ProviderID,
		ReceiverID:  req.RequesterID,
		ServiceType: req.ServiceType,
		Status:      domain.JobScheduled,
		TimeslotID:  &slotID,
	})
	if errors.Is(err, store.ErrConflict) {
		return Result{}, fmt.Errorf("%w: request already has a job", service.ErrInvalidState)
	}
	if err != nil {
		return Result{}, store.Persistence("create job", err)
	}
	deleteJob := func(ctx context.Context) error { return c.requests.DeleteJob(ctx, job.ID) }
	reqClaim, jobClaim := domain.RequestClaim(req.ID), domain.JobClaim(job.ID)
	transferBack := func(ctx context.Context) error {
		_, err := c.slots.Transfer(ctx, slotID, jobClaim, reqClaim)
		if errors.Is(err, store.ErrNotHolder) || errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	slot, err := c.slots.Transfer(opCtx, slotID, reqClaim, jobClaim)
	if err != nil {
		if lostRace(err) {
			c.compensate(ctx, "delete_job", deleteJob)
			return Result{}, fmt.Errorf("%w: %w", ErrTimeslotConflict, err)
		}
		// The transfer may have committed before the failure was reported.
		c.compensate(ctx, "transfer_back", transferBack)
		c.compensate(ctx, "delete_job", deleteJob)
		return Result{}, store.Persistence("transfer timeslot", err)
	}

	accepted, pending := domain.RequestAccepted, domain.RequestPending
	req, err = c.requests.UpdateRequest(opCtx, req.ID, domain.RequestPatch{Status: &accepted, ExpectStatus: &pending})
	if err != nil {
		c.compensate(ctx, "transfer_back", transferBack)
		c.compensate(ctx, "delete_job", deleteJob)
		if errors.Is(err, store.ErrConflict) {
			return Result{}, fmt.Errorf("%w: request is no longer pending", service.ErrInvalidState)
		}
		return Result{}, store.Persistence("accept request", err)
	}

	c.emit(ctx, notify.BookingConfirmed(req, job, slot, c.opts.Location))
	return Result{Request: req, Job: job, Timeslot: slot}, nil
}

// Decline is the provider refusing a pending request. The slot is freed
// again and the request kept as declined.
func (c *Coordinator) Decline(ctx context.Context, providerID string, requestID uuid.UUID) (domain.ServiceRequest, error) {
	return c.closeRequest(ctx, "decline", providerID, requestID, domain.RequestDeclined)
}

// Cancel is the requester withdrawing a pending request.
func (c *Coordinator) Cancel(ctx context.Context, requesterID string, requestID uuid.UUID) (domain.ServiceRequest, error) {
	return c.closeRequest(ctx, "cancel", requesterID, requestID, domain.RequestCancelled)
}

func (c *Coordinator) closeRequest(ctx context.Context, op, actorID string, requestID uuid.UUID, to domain.RequestStatus) (req domain.ServiceRequest, err error) {
	ctx, span := tracer.Start(ctx, "booking."+op)
	defer span.End()
	defer c.observe(ctx, op, time.Now(), &err)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(actorID) == "" {
		return domain.ServiceRequest{}, service.Validation("actor is required")
	}
	span.SetAttributes(attribute.String("servicehub.request_id", requestID.String()))

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err = c.loadRequest(opCtx, requestID)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	owner := req.ProviderID
	if to == domain.RequestCancelled {
		owner = req.RequesterID
	}
	if owner != actorID {
		return domain.ServiceRequest{}, service.ErrForbidden
	}

	// A repeated call only retries the release.
	if req.Status != to {
		if req.Status != domain.RequestPending {
			return domain.ServiceRequest{}, fmt.Errorf("%w: request is %s", service.ErrInvalidState, req.Status)
		}
		pending := domain.RequestPending
		req, err = c.requests.UpdateRequest(opCtx, req.ID, domain.RequestPatch{Status: &to, ExpectStatus: &pending})
		if errors.Is(err, store.ErrConflict) {
			return domain.ServiceRequest{}, fmt.Errorf("%w: request is no longer pending", service.ErrInvalidState)
		}
		if err != nil {
			return domain.ServiceRequest{}, store.Persistence(op+" request", err)
		}
		if to == domain.RequestDeclined {
			c.emit(ctx, notify.BookingDeclined(req))
		} else {
			c.emit(ctx, notify.BookingCancelled(req))
		}
	}

	if req.TimeslotID != nil {
		if err := c.release(opCtx, *req.TimeslotID, domain.RequestClaim(req.ID)); err != nil {
			return domain.ServiceRequest{}, err
		}
	}
	return req, nil
}

// CancelJob cancels a scheduled job and frees its slot. Either party of the
// job may cancel; the other one is notified.
func (c *Coordinator) CancelJob(ctx context.Context, actorID string, jobID uuid.UUID) (job domain.Job, err error) {
	ctx, span := tracer.Start(ctx, "booking.cancel_job")
	defer span.End()
	defer c.observe(ctx, "cancel_job", time.Now(), &err)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(actorID) == "" {
		return domain.Job{}, service.Validation("actor is required")
	}
	span.SetAttributes(attribute.String("servicehub.job_id", jobID.String()))

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	job, err = c.requests.GetJob(opCtx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Job{}, ErrJobNotFound
	}
	if err != nil {
		return domain.Job{}, store.Persistence("get job", err)
	}
	var counterparty string
	switch actorID {
	case job.ProviderID:
		counterparty = job.ReceiverID
	case job.ReceiverID:
		counterparty = job.ProviderID
	default:
		return domain.Job{}, service.ErrForbidden
	}

	if job.Status != domain.JobCancelled {
		if job.Status != domain.JobScheduled {
			return domain.Job{}, fmt.Errorf("%w: job is %s", service.ErrInvalidState, job.Status)
		}
		cancelled, scheduled := domain.JobCancelled, domain.JobScheduled
		job, err = c.requests.UpdateJob(opCtx, job.ID, domain.JobPatch{Status: &cancelled, ExpectStatus: &scheduled})
		if errors.Is(err, store.ErrConflict) {
			return domain.Job{}, fmt.Errorf("%w: job is no longer scheduled", service.ErrInvalidState)
		}
		if err != nil {
			return domain.Job{}, store.Persistence("cancel job", err)
		}
		c.emit(ctx, notify.JobCancelled(job, counterparty))
	}

	if job.TimeslotID != nil {
		if err := c.release(opCtx, *job.TimeslotID, domain.JobClaim(job.ID)); err != nil {
			return domain.Job{}, err
		}
	}
	return job, nil
}

// RequestTimeChange moves a pending request to another slot of the same
// provider. The new slot is claimed before the old one is released.
func (c *Coordinator) RequestTimeChange(ctx context.Context, actorID string, requestID, newSlotID uuid.UUID, transit *domain.Interval) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "booking.request_time_change")
	defer span.End()
	defer c.observe(ctx, "time_change", time.Now(), &err)
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(actorID) == "" {
		return Result{}, service.Validation("actor is required")
	}
	if newSlotID == uuid.Nil {
		return Result{}, service.Validation("timeslot_id is required")
	}
	span.SetAttributes(
		attribute.String("servicehub.request_id", requestID.String()),
		attribute.String("servicehub.timeslot_id", newSlotID.String()),
	)

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.loadRequest(opCtx, requestID)
	if err != nil {
		return Result{}, err
	}
	var counterparty string
	switch actorID {
	case req.ProviderID:
		counterparty = req.RequesterID
	case req.RequesterID:
		counterparty = req.ProviderID
	default:
		return Result{}, service.ErrForbidden
	}
	if req.Status != domain.RequestPending {
		return Result{}, fmt.Errorf("%w: request is %s", service.ErrInvalidState, req.Status)
	}
	if req.TimeslotID != nil && *req.TimeslotID == newSlotID {
		return Result{}, service.Validation("request already holds this timeslot")
	}

	slot, err := c.freeSlot(opCtx, req.ProviderID, newSlotID)
	if err != nil {
		return Result{}, err
	}
	if err := checkTransit(slot, transit); err != nil {
		return Result{}, err
	}

	claim := domain.RequestClaim(req.ID)
	booked, err := c.slots.Book(opCtx, newSlotID, claim, transit)
	if err != nil {
		if lostRace(err) {
			return Result{}, fmt.Errorf("%w: %w", ErrTimeslotConflict, err)
		}
		c.compensate(ctx, "release_slot", c.releaseStep(newSlotID, claim))
		return Result{}, store.Persistence("book timeslot", err)
	}

	oldSlotID := req.TimeslotID
	pending := domain.RequestPending
	req, err = c.requests.UpdateRequest(opCtx, req.ID, domain.RequestPatch{TimeslotID: &newSlotID, ExpectStatus: &pending})
	if err != nil {
		c.compensate(ctx, "release_slot", c.releaseStep(newSlotID, claim))
		if errors.Is(err, store.ErrConflict) {
			return Result{}, fmt.Errorf("%w: request is no longer pending", service.ErrInvalidState)
		}
		return Result{}, store.Persistence("relink request", err)
	}

	if oldSlotID != nil {
		if err := c.release(opCtx, *oldSlotID, claim); err != nil {
			c.log.ErrorContext(ctx, "old timeslot not released after time change",
				slog.String("timeslot_id", oldSlotID.String()),
				slog.String("request_id", req.ID.String()),
				slog.Any("err", err),
			)
		}
	}

	c.emit(ctx, notify.TimeChangeRequested(req, counterparty, booked, c.opts.Location))
	return Result{Request: req, Timeslot: booked}, nil
}

func (c *Coordinator) loadRequest(ctx context.Context, id uuid.UUID) (domain.ServiceRequest, error) {
	if id == uuid.Nil {
		return domain.ServiceRequest{}, service.Validation("request_id is required")
	}
	req, err := c.requests.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.ServiceRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return domain.ServiceRequest{}, store.Persistence("get request", err)
	}
	return req, nil
}

// freeSlot loads a slot of providerID that is not booked yet. The result is
// advisory; Book re-checks atomically.
func (c *Coordinator) freeSlot(ctx context.Context, providerID string, id uuid.UUID) (domain.Timeslot, error) {
	slot, err := c.slots.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Timeslot{}, ErrTimeslotNotFound
	}
	if err != nil {
		return domain.Timeslot{}, store.Persistence("get timeslot", err)
	}
	if slot.ProviderID != providerID {
		return domain.Timeslot{}, service.Validation("timeslot does not belong to the provider")
	}
	if slot.IsBooked {
		return domain.Timeslot{}, ErrTimeslotConflict
	}
	return slot, nil
}

// release frees a slot held by claim. A slot that is gone or already held by
// someone else needs no release.
func (c *Coordinator) release(ctx context.Context, slotID uuid.UUID, claim domain.Claim) error {
	_, err := c.slots.Release(ctx, slotID, claim)
	if err == nil || errors.Is(err, store.ErrNotHolder) || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return store.Persistence("release timeslot", err)
}

// releaseStep is a compensation that frees slotID if claim still holds it.
func (c *Coordinator) releaseStep(slotID uuid.UUID, claim domain.Claim) func(ctx context.Context) error {
	return func(ctx context.Context) error { return c.release(ctx, slotID, claim) }
}

func (c *Coordinator) compensate(ctx context.Context, step string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CompensationTimeout)
	defer cancel()
	err := fn(ctx)
	c.opts.Metrics.ObserveCompensation(step, err == nil)
	if err != nil {
		c.log.ErrorContext(ctx, "compensation failed", slog.String("step", step), slog.Any("err", err))
	}
}

func (c *Coordinator) emit(ctx context.Context, n domain.Notification) {
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.log.WarnContext(ctx, "notification not enqueued",
			slog.String("type", string(n.Type)),
			slog.String("related_entity_id", n.RelatedEntityID),
			slog.Any("err", err),
		)
	}
}

func (c *Coordinator) observe(ctx context.Context, op string, started time.Time, errp *error) {
	err := *errp
	c.opts.Metrics.ObserveOutcome(op, outcome(err), time.Since(started).Seconds())
	var pe *store.PersistenceError
	if errors.As(err, &pe) {
		c.log.ErrorContext(ctx, "booking operation failed", slog.String("op", op), slog.Any("err", err))
	}
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.OpTimeout)
}

func checkTransit(slot domain.Timeslot, transit *domain.Interval) error {
	if transit == nil {
		return nil
	}
	if !transit.End.After(transit.Start) {
		return service.Validation("transit end must be after transit start")
	}
	if !transit.Contains(domain.Interval{Start: slot.Start, End: slot.End}) {
		return service.Validation("transit envelope must contain the timeslot")
	}
	return nil
}

// lostRace reports store outcomes that mean another caller changed the slot
// first.
func lostRace(err error) bool {
	return errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrClash) ||
		errors.Is(err, store.ErrNotHolder)
}

func outcome(err error) string {
	var pe *store.PersistenceError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeslotConflict):
		return "conflict"
	case errors.Is(err, ErrTimeslotNotFound), errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrJobNotFound):
		return "not_found"
	case service.IsValidation(err):
		return "invalid"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	case errors.Is(err, service.ErrInvalidState):
		return "invalid_state"
	case errors.As(err, &pe):
		return "persistence_error"
	default:
		return "error"
	}
}
