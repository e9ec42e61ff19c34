// Package calendar is the provider-facing calendar: proposing slots,
// promoting them to weekly series, extending and trimming series, and
// querying a window.
package calendar

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
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/observability/metrics"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

var tracer = otel.Tracer("servicehub.internal.service.calendar")

// ClashError reports a proposed slot that overlaps an existing one. Nothing
// was written.
type ClashError struct {
	Proposed domain.Interval
	Existing domain.Timeslot
}

func (e *ClashError) Error() string {
	return "proposed timeslot overlaps an existing timeslot"
}

func (e *ClashError) Unwrap() error { return store.ErrClash }

type Options struct {
	MinDuration    time.Duration
	PromoteHorizon time.Duration
	MaxWindow      time.Duration
	OpTimeout      time.Duration
	Location       *time.Location
	Now            func() time.Time
	Logger         *slog.Logger
	Metrics        *metrics.CalendarMetrics
}

type Service struct {
	repo store.TimeslotRepository
	opts Options
	log  *slog.Logger
}

func NewService(repo store.TimeslotRepository, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PromoteHorizon <= 0 {
		opts.PromoteHorizon = 28 * 24 * time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, opts: opts, log: log.With(slog.String("component", "calendar"))}
}

func (s *Service) MinDuration() time.Duration { return s.opts.MinDuration }

type ProposeInput struct {
	ProviderID string
	Title      string
	Start      time.Time
	End        time.Time
}

// ProposeSlot persists a new free, non-fixed slot unless it overlaps the
// provider's calendar, in which case it returns a *ClashError and writes
// nothing. A slot shorter than the minimum duration is extended.
func (s *Service) ProposeSlot(ctx context.Context, in ProposeInput) (slot domain.Timeslot, err error) {
	ctx, span := tracer.Start(ctx, "calendar.propose_slot")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	providerID := strings.TrimSpace(in.ProviderID)
	if providerID == "" {
		return domain.Timeslot{}, service.Validation("provider_id is required")
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return domain.Timeslot{}, service.Validation("start and end are required")
	}
	start := in.Start.UTC()
	end := in.End.UTC()
	if end.Before(start) {
		return domain.Timeslot{}, service.Validation("end must not be before start")
	}
	env := domain.ProposedEnvelope(start, end, s.opts.MinDuration)
	if env.Duration() <= 0 {
		return domain.Timeslot{}, service.Validation("end must be after start")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "available"
	}
	span.SetAttributes(
		attribute.String("servicehub.provider_id", providerID),
		attribute.String("servicehub.slot_start", env.Start.Format(time.RFC3339)),
	)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.repo.List(ctx, providerID, env.Start, env.End)
	if err != nil {
		return domain.Timeslot{}, store.Persistence("list timeslots", err)
	}
	if hit, clash := domain.FirstClash(start, end, existing, s.opts.MinDuration); clash {
		s.opts.Metrics.ObserveProposal("clash")
		s.log.InfoContext(ctx, "proposed slot clashes",
			slog.String("provider_id", providerID),
			slog.String("existing_id", hit.ID.String()),
		)
		return domain.Timeslot{}, &ClashError{Proposed: env, Existing: hit}
	}

	created, err := s.repo.Create(ctx, domain.Timeslot{
		ProviderID: providerID,
		Title:      title,
		Start:      start,
		End:        end,
	}, s.opts.MinDuration)
	if errors.Is(err, store.ErrClash) {
		// Lost to a concurrent write between the check and the insert.
		s.opts.Metrics.ObserveProposal("clash")
		return domain.Timeslot{}, &ClashError{Proposed: env}
	}
	if err != nil {
		s.opts.Metrics.ObserveProposal("error")
		return domain.Timeslot{}, store.Persistence("create timeslot", err)
	}
	s.opts.Metrics.ObserveProposal("created")

	slot, err = s.repo.Get(ctx, created.ID)
	if err != nil {
		return domain.Timeslot{}, store.Persistence("get timeslot", err)
	}
	return slot, nil
}

type PromoteResult struct {
	Slot        domain.Timeslot
	Occurrences []domain.Timeslot
	Clashing    []domain.Timeslot
}

// PromoteToFixed turns a slot into the template of a weekly series and
// materializes occurrences from now until the given time, or for the
// configured horizon when until is nil. Past weeks are never generated.
func (s *Service) PromoteToFixed(ctx context.Context, providerID string, slotID uuid.UUID, until *time.Time) (res PromoteResult, err error) {
	ctx, span := tracer.Start(ctx, "calendar.promote_to_fixed")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(providerID) == "" {
		return PromoteResult{}, service.Validation("provider_id is required")
	}
	if slotID == uuid.Nil {
		return PromoteResult{}, service.Validation("slot_id is required")
	}
	now := s.opts.Now().UTC()
	rangeEnd := now.Add(s.opts.PromoteHorizon)
	if until != nil {
		rangeEnd = until.UTC()
	}
	if !rangeEnd.After(now) {
		return PromoteResult{}, service.Validation("until must be in the future")
	}
	if s.opts.MaxWindow > 0 && rangeEnd.Sub(now) > s.opts.MaxWindow {
		return PromoteResult{}, service.Validation("until is too far in the future")
	}
	span.SetAttributes(
		attribute.String("servicehub.provider_id", providerID),
		attribute.String("servicehub.slot_id", slotID.String()),
	)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	slot, err := s.ownedSlot(ctx, providerID, slotID)
	if err != nil {
		return PromoteResult{}, err
	}
	fixed := true
	slot, err = s.repo.Update(ctx, slot.ID, domain.TimeslotPatch{IsFixed: &fixed})
	if err != nil {
		return PromoteResult{}, store.Persistence("update timeslot", err)
	}

	occs, err := domain.WeeklyOccurrences(domain.SeriesFromTemplate(slot), slot.Start, rangeEnd, now, s.opts.Location)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("generate occurrences: %w", err)
	}
	mat, err := s.repo.InsertOccurrences(ctx, providerID, occs)
	if err != nil {
		return PromoteResult{}, store.Persistence("insert occurrences", err)
	}
	s.opts.Metrics.ObserveMaterialized("promote", len(mat.Created), mat.Duplicates, mat.Skipped, len(mat.Clashing))
	s.logClashing(ctx, providerID, mat.Clashing)

	slot, err = s.repo.Get(ctx, slot.ID)
	if err != nil {
		return PromoteResult{}, store.Persistence("get timeslot", err)
	}
	return PromoteResult{Slot: slot, Occurrences: mat.Created, Clashing: mat.Clashing}, nil
}

// DeleteSlot removes a free slot. With deleteAllFuture on a fixed slot it
// also removes every later occurrence of the series. Booked slots are
// rejected with store.ErrSlotBooked.
func (s *Service) DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID, deleteAllFuture bool) (res store.DeleteResult, err error) {
	ctx, span := tracer.Start(ctx, "calendar.delete_slot")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(providerID) == "" {
		return store.DeleteResult{}, service.Validation("provider_id is required")
	}
	if slotID == uuid.Nil {
		return store.DeleteResult{}, service.Validation("slot_id is required")
	}
	span.SetAttributes(
		attribute.String("servicehub.provider_id", providerID),
		attribute.Bool("servicehub.delete_all_future", deleteAllFuture),
	)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err = s.repo.Delete(ctx, providerID, slotID, store.DeleteOptions{DeleteAllFuture: deleteAllFuture})
	if err != nil {
		return store.DeleteResult{}, store.Persistence("delete timeslot", err)
	}
	if len(res.Detached) > 0 {
		s.log.InfoContext(ctx, "booked occurrences detached from series",
			slog.String("provider_id", providerID),
			slog.Int("count", len(res.Detached)),
		)
	}
	return res, nil
}

// ExtendWindow materializes every fixed series of the provider into
// [start, end]. It only adds slots; occurrences that already exist, were
// deleted, or would clash are left alone.
func (s *Service) ExtendWindow(ctx context.Context, providerID string, start, end time.Time) (res store.MaterializeResult, err error) {
	ctx, span := tracer.Start(ctx, "calendar.extend_window")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(providerID) == "" {
		return store.MaterializeResult{}, service.Validation("provider_id is required")
	}
	start, end, err = s.window(start, end)
	if err != nil {
		return store.MaterializeResult{}, err
	}
	span.SetAttributes(attribute.String("servicehub.provider_id", providerID))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	series, err := s.repo.ListSeries(ctx, providerID)
	if err != nil {
		return store.MaterializeResult{}, store.Persistence("list series", err)
	}
	var candidates []domain.Timeslot
	for _, ser := range series {
		occs, err := domain.WeeklyOccurrences(ser, start, end, time.Time{}, s.opts.Location)
		if err != nil {
			return store.MaterializeResult{}, fmt.Errorf("generate occurrences for series %s: %w", ser.ID, err)
		}
		candidates = append(candidates, occs...)
	}
	if len(candidates) == 0 {
		return store.MaterializeResult{}, nil
	}

	res, err = s.repo.InsertOccurrences(ctx, providerID, candidates)
	if err != nil {
		return store.MaterializeResult{}, store.Persistence("insert occurrences", err)
	}
	s.opts.Metrics.ObserveMaterialized("extend", len(res.Created), res.Duplicates, res.Skipped, len(res.Clashing))
	s.logClashing(ctx, providerID, res.Clashing)
	return res, nil
}

// SlotView is a slot annotated for display. Display is the interval the
// slot occupies on the calendar, the transit envelope when one is set.
type SlotView struct {
	domain.Timeslot
	State   domain.DisplayState
	Display domain.Interval
}

// QueryWindow returns every slot of the provider, booked or free, whose
// envelope intersects [start, end).
func (s *Service) QueryWindow(ctx context.Context, providerID string, start, end time.Time) (views []SlotView, err error) {
	ctx, span := tracer.Start(ctx, "calendar.query_window")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
	}()

	if strings.TrimSpace(providerID) == "" {
		return nil, service.Validation("provider_id is required")
	}
	start, end, err = s.window(start, end)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	slots, err := s.repo.List(ctx, providerID, start, end)
	if err != nil {
		return nil, store.Persistence("list timeslots", err)
	}
	views = make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		views = append(views, SlotView{Timeslot: slot, State: slot.DisplayState(), Display: slot.Envelope()})
	}
	return views, nil
}

func (s *Service) ownedSlot(ctx context.Context, providerID string, id uuid.UUID) (domain.Timeslot, error) {
	slot, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Timeslot{}, store.Persistence("get timeslot", err)
	}
	if slot.ProviderID != providerID {
		return domain.Timeslot{}, store.ErrNotFound
	}
	return slot, nil
}

func (s *Service) window(start, end time.Time) (time.Time, time.Time, error) {
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, service.Validation("window start and end are required")
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return time.Time{}, time.Time{}, service.Validation("window end must be after window start")
	}
	if s.opts.MaxWindow > 0 && end.Sub(start) > s.opts.MaxWindow {
		return time.Time{}, time.Time{}, service.Validation("window is too large")
	}
	return start, end, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

func (s *Service) logClashing(ctx context.Context, providerID string, clashing []domain.Timeslot) {
	for _, occ := range clashing {
		s.log.InfoContext(ctx, "occurrence skipped: clashes with existing slot",
			slog.String("provider_id", providerID),
			slog.Time("start", occ.Start),
		)
	}
}
