package grpc

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/wire"
)

const bookingServiceName = "servicehub.v1.Booking"

type bookingService interface {
	Submit(ctx context.Context, in booking.SubmitInput) (booking.Result, error)
	Accept(ctx context.Context, providerID string, requestID uuid.UUID) (booking.Result, error)
	Decline(ctx context.Context, providerID string, requestID uuid.UUID) (domain.ServiceRequest, error)
	Cancel(ctx context.Context, requesterID string, requestID uuid.UUID) (domain.ServiceRequest, error)
	CancelJob(ctx context.Context, actorID string, jobID uuid.UUID) (domain.Job, error)
	RequestTimeChange(ctx context.Context, actorID string, requestID, newSlotID uuid.UUID, transit *domain.Interval) (booking.Result, error)
}

type BookingServer struct {
	svc bookingService
	log *slog.Logger
}

func NewBookingServer(svc bookingService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.booking")),
	}
}

// RegisterBookingServer registers srv under servicehub.v1.Booking.
func RegisterBookingServer(r grpc.ServiceRegistrar, srv *BookingServer) {
	r.RegisterService(&bookingServiceDesc, srv)
}

type bookingRPC interface {
	Submit(context.Context, *wire.SubmitRequest) (*wire.BookingResponse, error)
	Accept(context.Context, *wire.RequestAction) (*wire.BookingResponse, error)
	Decline(context.Context, *wire.RequestAction) (*wire.BookingResponse, error)
	Cancel(context.Context, *wire.RequestAction) (*wire.BookingResponse, error)
	CancelJob(context.Context, *wire.JobAction) (*wire.BookingResponse, error)
	RequestTimeChange(context.Context, *wire.RescheduleRequest) (*wire.BookingResponse, error)
}

var bookingServiceDesc = grpc.ServiceDesc{
	ServiceName: bookingServiceName,
	HandlerType: (*bookingRPC)(nil),
	Methods: []grpc.MethodDesc{
		unary(bookingServiceName, "Submit", (*BookingServer).Submit),
		unary(bookingServiceName, "Accept", (*BookingServer).Accept),
		unary(bookingServiceName, "Decline", (*BookingServer).Decline),
		unary(bookingServiceName, "Cancel", (*BookingServer).Cancel),
		unary(bookingServiceName, "CancelJob", (*BookingServer).CancelJob),
		unary(bookingServiceName, "RequestTimeChange", (*BookingServer).RequestTimeChange),
	},
	Metadata: "servicehub/v1/booking",
}

func (s *BookingServer) Submit(ctx context.Context, req *wire.SubmitRequest) (*wire.BookingResponse, error) {
	requester := subject(ctx)
	log := s.log.With(slog.String("rpc", "Submit"), slog.String("requester_id", requester))

	slotID, err := uuid.Parse(req.TimeslotID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, status.Error(codes.InvalidArgument, "timeslot_id must be a UUID")
	}
	transit, ok := wire.Transit(req.TransitStart, req.TransitEnd)
	if !ok {
		log.Warn("invalid request", slog.String("reason", "partial_transit"))
		return nil, status.Error(codes.InvalidArgument, "transit_start and transit_end must be set together")
	}

	res, err := s.svc.Submit(ctx, booking.SubmitInput{
		RequesterID: requester,
		ProviderID:  req.ProviderID,
		TimeslotID:  slotID,
		ServiceType: req.ServiceType,
		Comment:     req.Comment,
		Transit:     transit,
	})
	if err != nil {
		return nil, toStatus(log, err, slog.String("timeslot_id", slotID.String()))
	}

	log.Info("booking requested",
		slog.String("request_id", res.Request.ID.String()),
		slog.String("timeslot_id", slotID.String()),
		slog.String("provider_id", req.ProviderID),
	)
	out := wire.FromBooking(res)
	return &out, nil
}

func (s *BookingServer) Accept(ctx context.Context, req *wire.RequestAction) (*wire.BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "Accept"))

	id, err := parseID(log, req.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.Accept(ctx, subject(ctx), id)
	if err != nil {
		return nil, toStatus(log, err, slog.String("request_id", id.String()))
	}

	log.Info("booking accepted",
		slog.String("request_id", id.String()),
		slog.String("job_id", res.Job.ID.String()),
	)
	out := wire.FromBooking(res)
	return &out, nil
}

func (s *BookingServer) Decline(ctx context.Context, req *wire.RequestAction) (*wire.BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "Decline"))

	id, err := parseID(log, req.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	r, err := s.svc.Decline(ctx, subject(ctx), id)
	if err != nil {
		return nil, toStatus(log, err, slog.String("request_id", id.String()))
	}

	log.Info("booking declined", slog.String("request_id", id.String()))
	out := wire.FromBooking(booking.Result{Request: r})
	return &out, nil
}

func (s *BookingServer) Cancel(ctx context.Context, req *wire.RequestAction) (*wire.BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "Cancel"))

	id, err := parseID(log, req.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	r, err := s.svc.Cancel(ctx, subject(ctx), id)
	if err != nil {
		return nil, toStatus(log, err, slog.String("request_id", id.String()))
	}

	log.Info("booking cancelled", slog.String("request_id", id.String()))
	out := wire.FromBooking(booking.Result{Request: r})
	return &out, nil
}

func (s *BookingServer) CancelJob(ctx context.Context, req *wire.JobAction) (*wire.BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "CancelJob"))

	id, err := parseID(log, req.JobID, "job_id")
	if err != nil {
		return nil, err
	}
	job, err := s.svc.CancelJob(ctx, subject(ctx), id)
	if err != nil {
		return nil, toStatus(log, err, slog.String("job_id", id.String()))
	}

	log.Info("job cancelled", slog.String("job_id", id.String()))
	out := wire.FromBooking(booking.Result{Job: job})
	return &out, nil
}

func (s *BookingServer) RequestTimeChange(ctx context.Context, req *wire.RescheduleRequest) (*wire.BookingResponse, error) {
	log := s.log.With(slog.String("rpc", "RequestTimeChange"))

	requestID, err := parseID(log, req.RequestID, "request_id")
	if err != nil {
		return nil, err
	}
	slotID, err := parseID(log, req.TimeslotID, "timeslot_id")
	if err != nil {
		return nil, err
	}
	transit, ok := wire.Transit(req.TransitStart, req.TransitEnd)
	if !ok {
		log.Warn("invalid request", slog.String("reason", "partial_transit"))
		return nil, status.Error(codes.InvalidArgument, "transit_start and transit_end must be set together")
	}

	res, err := s.svc.RequestTimeChange(ctx, subject(ctx), requestID, slotID, transit)
	if err != nil {
		return nil, toStatus(log, err, slog.String("request_id", requestID.String()), slog.String("timeslot_id", slotID.String()))
	}

	log.Info("time change requested",
		slog.String("request_id", requestID.String()),
		slog.String("timeslot_id", slotID.String()),
	)
	out := wire.FromBooking(res)
	return &out, nil
}

func parseID(log *slog.Logger, raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("field", field))
		return uuid.Nil, status.Error(codes.InvalidArgument, field+" must be a UUID")
	}
	return id, nil
}
