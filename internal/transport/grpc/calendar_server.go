package grpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/wire"
)

const calendarServiceName = "servicehub.v1.Calendar"

type calendarService interface {
	ProposeSlot(ctx context.Context, in calendar.ProposeInput) (domain.Timeslot, error)
	PromoteToFixed(ctx context.Context, providerID string, slotID uuid.UUID, until *time.Time) (calendar.PromoteResult, error)
	DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID, deleteAllFuture bool) (store.DeleteResult, error)
	ExtendWindow(ctx context.Context, providerID string, start, end time.Time) (store.MaterializeResult, error)
	QueryWindow(ctx context.Context, providerID string, start, end time.Time) ([]calendar.SlotView, error)
}

type CalendarServer struct {
	svc calendarService
	log *slog.Logger
}

func NewCalendarServer(svc calendarService, log *slog.Logger) *CalendarServer {
	if log == nil {
		log = slog.Default()
	}
	return &CalendarServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.calendar")),
	}
}

// RegisterCalendarServer registers srv under servicehub.v1.Calendar.
func RegisterCalendarServer(r grpc.ServiceRegistrar, srv *CalendarServer) {
	r.RegisterService(&calendarServiceDesc, srv)
}

type calendarRPC interface {
	ProposeSlot(context.Context, *wire.ProposeSlotRequest) (*wire.TimeslotResponse, error)
	QueryWindow(context.Context, *wire.WindowRequest) (*wire.TimeslotsResponse, error)
	PromoteToFixed(context.Context, *wire.PromoteRequest) (*wire.PromoteResponse, error)
	DeleteSlot(context.Context, *wire.DeleteSlotRequest) (*wire.DeleteSlotResponse, error)
	ExtendWindow(context.Context, *wire.WindowRequest) (*wire.ExtendWindowResponse, error)
}

var calendarServiceDesc = grpc.ServiceDesc{
	ServiceName: calendarServiceName,
	HandlerType: (*calendarRPC)(nil),
	Methods: []grpc.MethodDesc{
		unary(calendarServiceName, "ProposeSlot", (*CalendarServer).ProposeSlot),
		unary(calendarServiceName, "QueryWindow", (*CalendarServer).QueryWindow),
		unary(calendarServiceName, "PromoteToFixed", (*CalendarServer).PromoteToFixed),
		unary(calendarServiceName, "DeleteSlot", (*CalendarServer).DeleteSlot),
		unary(calendarServiceName, "ExtendWindow", (*CalendarServer).ExtendWindow),
	},
	Metadata: "servicehub/v1/calendar",
}

func (s *CalendarServer) ProposeSlot(ctx context.Context, req *wire.ProposeSlotRequest) (*wire.TimeslotResponse, error) {
	log := s.log.With(slog.String("rpc", "ProposeSlot"), slog.String("provider_id", req.ProviderID))

	if err := s.requireProvider(ctx, log, req.ProviderID); err != nil {
		return nil, err
	}
	if req.Start.IsZero() || req.End.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_times"))
		return nil, status.Error(codes.InvalidArgument, "start and end are required")
	}

	slot, err := s.svc.ProposeSlot(ctx, calendar.ProposeInput{
		ProviderID: req.ProviderID,
		Title:      req.Title,
		Start:      req.Start,
		End:        req.End,
	})
	if err != nil {
		return nil, toStatus(log, err, slog.Time("start", req.Start), slog.Time("end", req.End))
	}

	log.Info("timeslot proposed",
		slog.String("timeslot_id", slot.ID.String()),
		slog.Time("start", slot.Start),
		slog.Time("end", slot.End),
	)
	return &wire.TimeslotResponse{Timeslot: wire.FromTimeslot(slot)}, nil
}

func (s *CalendarServer) QueryWindow(ctx context.Context, req *wire.WindowRequest) (*wire.TimeslotsResponse, error) {
	log := s.log.With(slog.String("rpc", "QueryWindow"), slog.String("provider_id", req.ProviderID))

	if req.Start.IsZero() || req.End.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_window"))
		return nil, status.Error(codes.InvalidArgument, "start and end are required")
	}

	views, err := s.svc.QueryWindow(ctx, req.ProviderID, req.Start, req.End)
	if err != nil {
		return nil, toStatus(log, err)
	}

	out := make([]wire.Timeslot, 0, len(views))
	for _, v := range views {
		out = append(out, wire.FromView(v))
	}

	log.Debug("window queried",
		slog.Int("count", len(out)),
		slog.Time("start", req.Start),
		slog.Time("end", req.End),
	)
	return &wire.TimeslotsResponse{Timeslots: out}, nil
}

func (s *CalendarServer) PromoteToFixed(ctx context.Context, req *wire.PromoteRequest) (*wire.PromoteResponse, error) {
	log := s.log.With(slog.String("rpc", "PromoteToFixed"), slog.String("provider_id", req.ProviderID))

	if err := s.requireProvider(ctx, log, req.ProviderID); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(req.TimeslotID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "timeslot_id must be a UUID")
	}

	res, err := s.svc.PromoteToFixed(ctx, req.ProviderID, id, req.Until)
	if err != nil {
		return nil, toStatus(log, err, slog.String("timeslot_id", id.String()))
	}

	log.Info("timeslot promoted",
		slog.String("timeslot_id", id.String()),
		slog.Int("occurrences", len(res.Occurrences)),
		slog.Int("clashing", len(res.Clashing)),
	)
	out := wire.FromPromote(res)
	return &out, nil
}

func (s *CalendarServer) DeleteSlot(ctx context.Context, req *wire.DeleteSlotRequest) (*wire.DeleteSlotResponse, error) {
	log := s.log.With(slog.String("rpc", "DeleteSlot"), slog.String("provider_id", req.ProviderID))

	if err := s.requireProvider(ctx, log, req.ProviderID); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(req.TimeslotID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "timeslot_id must be a UUID")
	}

	res, err := s.svc.DeleteSlot(ctx, req.ProviderID, id, req.DeleteAllFuture)
	if err != nil {
		return nil, toStatus(log, err, slog.String("timeslot_id", id.String()))
	}

	log.Info("timeslot deleted",
		slog.String("timeslot_id", id.String()),
		slog.Bool("all_future", req.DeleteAllFuture),
		slog.Int("deleted", len(res.Deleted)),
		slog.Int("detached", len(res.Detached)),
	)
	out := wire.FromDelete(res)
	return &out, nil
}

func (s *CalendarServer) ExtendWindow(ctx context.Context, req *wire.WindowRequest) (*wire.ExtendWindowResponse, error) {
	log := s.log.With(slog.String("rpc", "ExtendWindow"), slog.String("provider_id", req.ProviderID))

	if err := s.requireProvider(ctx, log, req.ProviderID); err != nil {
		return nil, err
	}
	if req.Start.IsZero() || req.End.IsZero() {
		log.Warn("invalid request", slog.String("reason", "missing_window"))
		return nil, status.Error(codes.InvalidArgument, "start and end are required")
	}

	res, err := s.svc.ExtendWindow(ctx, req.ProviderID, req.Start, req.End)
	if err != nil {
		return nil, toStatus(log, err)
	}

	log.Info("window extended",
		slog.Int("created", len(res.Created)),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("skipped", res.Skipped),
		slog.Int("clashing", len(res.Clashing)),
	)
	out := wire.FromMaterialize(res)
	return &out, nil
}

// requireProvider allows calendar writes only for the provider's own id.
func (s *CalendarServer) requireProvider(ctx context.Context, log *slog.Logger, providerID string) error {
	if providerID == "" {
		log.Warn("invalid request", slog.String("reason", "missing_provider"))
		return status.Error(codes.InvalidArgument, "provider_id is required")
	}
	if sub := subject(ctx); sub != providerID {
		log.Warn("forbidden", slog.String("subject", sub))
		return status.Error(codes.PermissionDenied, "not allowed")
	}
	return nil
}
