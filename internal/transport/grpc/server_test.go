package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/wire"
)

type fakeCalendarService struct {
	proposeFn func(ctx context.Context, in calendar.ProposeInput) (domain.Timeslot, error)
	promoteFn func(ctx context.Context, providerID string, slotID uuid.UUID, until *time.Time) (calendar.PromoteResult, error)
	deleteFn  func(ctx context.Context, providerID string, slotID uuid.UUID, deleteAllFuture bool) (store.DeleteResult, error)
	extendFn  func(ctx context.Context, providerID string, start, end time.Time) (store.MaterializeResult, error)
	queryFn   func(ctx context.Context, providerID string, start, end time.Time) ([]calendar.SlotView, error)
}

func (f *fakeCalendarService) ProposeSlot(ctx context.Context, in calendar.ProposeInput) (domain.Timeslot, error) {
	if f.proposeFn == nil {
		panic("ProposeSlot not configured")
	}
	return f.proposeFn(ctx, in)
}

func (f *fakeCalendarService) PromoteToFixed(ctx context.Context, providerID string, slotID uuid.UUID, until *time.Time) (calendar.PromoteResult, error) {
	if f.promoteFn == nil {
		panic("PromoteToFixed not configured")
	}
	return f.promoteFn(ctx, providerID, slotID, until)
}

func (f *fakeCalendarService) DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID, deleteAllFuture bool) (store.DeleteResult, error) {
	if f.deleteFn == nil {
		panic("DeleteSlot not configured")
	}
	return f.deleteFn(ctx, providerID, slotID, deleteAllFuture)
}

func (f *fakeCalendarService) ExtendWindow(ctx context.Context, providerID string, start, end time.Time) (store.MaterializeResult, error) {
	if f.extendFn == nil {
		panic("ExtendWindow not configured")
	}
	return f.extendFn(ctx, providerID, start, end)
}

func (f *fakeCalendarService) QueryWindow(ctx context.Context, providerID string, start, end time.Time) ([]calendar.SlotView, error) {
	if f.queryFn == nil {
		panic("QueryWindow not configured")
	}
	return f.queryFn(ctx, providerID, start, end)
}

type fakeBookingService struct {
	submitFn     func(ctx context.Context, in booking.SubmitInput) (booking.Result, error)
	acceptFn     func(ctx context.Context, providerID string, requestID uuid.UUID) (booking.Result, error)
	declineFn    func(ctx context.Context, providerID string, requestID uuid.UUID) (domain.ServiceRequest, error)
	cancelFn     func(ctx context.Context, requesterID string, requestID uuid.UUID) (domain.ServiceRequest, error)
	cancelJobFn  func(ctx context.Context, actorID string, jobID uuid.UUID) (domain.Job, error)
	timeChangeFn func(ctx context.Context, actorID string, requestID, newSlotID uuid.UUID, transit *domain.Interval) (booking.Result, error)
}

func (f *fakeBookingService) Submit(ctx context.Context, in booking.SubmitInput) (booking.Result, error) {
	if f.submitFn == nil {
		panic("Submit not configured")
	}
	return f.submitFn(ctx, in)
}

func (f *fakeBookingService) Accept(ctx context.Context, providerID string, requestID uuid.UUID) (booking.Result, error) {
	if f.acceptFn == nil {
		panic("Accept not configured")
	}
	return f.acceptFn(ctx, providerID, requestID)
}

func (f *fakeBookingService) Decline(ctx context.Context, providerID string, requestID uuid.UUID) (domain.ServiceRequest, error) {
	if f.declineFn == nil {
		panic("Decline not configured")
	}
	return f.declineFn(ctx, providerID, requestID)
}

func (f *fakeBookingService) Cancel(ctx context.Context, requesterID string, requestID uuid.UUID) (domain.ServiceRequest, error) {
	if f.cancelFn == nil {
		panic("Cancel not configured")
	}
	return f.cancelFn(ctx, requesterID, requestID)
}

func (f *fakeBookingService) CancelJob(ctx context.Context, actorID string, jobID uuid.UUID) (domain.Job, error) {
	if f.cancelJobFn == nil {
		panic("CancelJob not configured")
	}
	return f.cancelJobFn(ctx, actorID, jobID)
}

func (f *fakeBookingService) RequestTimeChange(ctx context.Context, actorID string, requestID, newSlotID uuid.UUID, transit *domain.Interval) (booking.Result, error) {
	if f.timeChangeFn == nil {
		panic("RequestTimeChange not configured")
	}
	return f.timeChangeFn(ctx, actorID, requestID, newSlotID, transit)
}

var slotStart = time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

func asProvider(id string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{Subject: id})
}

func TestProposeSlot_RejectsOtherProvider(t *testing.T) {
	srv := NewCalendarServer(&fakeCalendarService{}, slog.Default())

	_, err := srv.ProposeSlot(asProvider("someone-else"), &wire.ProposeSlotRequest{ProviderID: "p1", Start: slotStart, End: slotStart.Add(time.Hour)})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("code = %s, want PermissionDenied", status.Code(err))
	}
}

func TestProposeSlot_RejectsMissingTimes(t *testing.T) {
	srv := NewCalendarServer(&fakeCalendarService{}, slog.Default())

	_, err := srv.ProposeSlot(asProvider("p1"), &wire.ProposeSlotRequest{ProviderID: "p1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want InvalidArgument", status.Code(err))
	}
}

func TestProposeSlot_MapsClashToFailedPrecondition(t *testing.T) {
	srv := NewCalendarServer(&fakeCalendarService{
		proposeFn: func(ctx context.Context, in calendar.ProposeInput) (domain.Timeslot, error) {
			return domain.Timeslot{}, &calendar.ClashError{Existing: domain.Timeslot{ID: uuid.New()}}
		},
	}, slog.Default())

	_, err := srv.ProposeSlot(asProvider("p1"), &wire.ProposeSlotRequest{ProviderID: "p1", Start: slotStart, End: slotStart.Add(time.Hour)})
	st, _ := status.FromError(err)
	if st.Code() != codes.FailedPrecondition {
		t.Fatalf("code = %s, want FailedPrecondition", st.Code())
	}
	if st.Message() != wire.MsgClash {
		t.Fatalf("message = %q, want %q", st.Message(), wire.MsgClash)
	}
}

func TestProposeSlot_ReturnsSlot(t *testing.T) {
	id := uuid.New()
	srv := NewCalendarServer(&fakeCalendarService{
		proposeFn: func(ctx context.Context, in calendar.ProposeInput) (domain.Timeslot, error) {
			if in.ProviderID != "p1" || in.Title != "morning" {
				t.Fatalf("unexpected input %+v", in)
			}
			return domain.Timeslot{ID: id, ProviderID: in.ProviderID, Title: in.Title, Start: in.Start, End: in.End}, nil
		},
	}, slog.Default())

	resp, err := srv.ProposeSlot(asProvider("p1"), &wire.ProposeSlotRequest{ProviderID: "p1", Title: "morning", Start: slotStart, End: slotStart.Add(time.Hour)})
	if err != nil {
		t.Fatalf("ProposeSlot error: %v", err)
	}
	if resp.Timeslot.ID != id.String() || resp.Timeslot.CreatedByID != "p1" {
		t.Fatalf("unexpected timeslot %+v", resp.Timeslot)
	}
}

func TestDeleteSlot_RejectsBadUUID(t *testing.T) {
	srv := NewCalendarServer(&fakeCalendarService{}, slog.Default())

	_, err := srv.DeleteSlot(asProvider("p1"), &wire.DeleteSlotRequest{ProviderID: "p1", TimeslotID: "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want InvalidArgument", status.Code(err))
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "slot booked", err: store.ErrSlotBooked, want: codes.FailedPrecondition},
		{name: "lost race", err: booking.ErrTimeslotConflict, want: codes.FailedPrecondition},
		{name: "invalid state", err: service.ErrInvalidState, want: codes.FailedPrecondition},
		{name: "not found", err: booking.ErrRequestNotFound, want: codes.NotFound},
		{name: "validation", err: service.Validation("bad"), want: codes.InvalidArgument},
		{name: "forbidden", err: service.ErrForbidden, want: codes.PermissionDenied},
		{name: "storage", err: store.Persistence("op", errors.New("down")), want: codes.Unavailable},
		{name: "unknown", err: errors.New("boom"), want: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewBookingServer(&fakeBookingService{
				acceptFn: func(ctx context.Context, providerID string, requestID uuid.UUID) (booking.Result, error) {
					return booking.Result{}, tt.err
				},
			}, slog.Default())

			_, err := srv.Accept(asProvider("p1"), &wire.RequestAction{RequestID: uuid.NewString()})
			if status.Code(err) != tt.want {
				t.Fatalf("code = %s, want %s", status.Code(err), tt.want)
			}
		})
	}
}

func TestSubmit_UsesCallerAsRequester(t *testing.T) {
	slotID := uuid.New()
	srv := NewBookingServer(&fakeBookingService{
		submitFn: func(ctx context.Context, in booking.SubmitInput) (booking.Result, error) {
			if in.RequesterID != "r1" || in.TimeslotID != slotID || in.Transit == nil {
				t.Fatalf("unexpected input %+v", in)
			}
			return booking.Result{Request: domain.ServiceRequest{ID: uuid.New(), RequesterID: in.RequesterID, Status: domain.RequestPending}}, nil
		},
	}, slog.Default())

	transitStart := slotStart.Add(-15 * time.Minute)
	transitEnd := slotStart.Add(45 * time.Minute)
	resp, err := srv.Submit(asProvider("r1"), &wire.SubmitRequest{
		ProviderID:   "p1",
		TimeslotID:   slotID.String(),
		ServiceType:  "cleaning",
		TransitStart: &transitStart,
		TransitEnd:   &transitEnd,
	})
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if resp.Request == nil || resp.Request.Status != "pending" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSubmit_RejectsPartialTransit(t *testing.T) {
	srv := NewBookingServer(&fakeBookingService{}, slog.Default())

	transitStart := slotStart
	_, err := srv.Submit(asProvider("r1"), &wire.SubmitRequest{TimeslotID: uuid.NewString(), TransitStart: &transitStart})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %s, want InvalidArgument", status.Code(err))
	}
}

func TestServer_EndToEndOverJSONCodec(t *testing.T) {
	verifier := auth.NewVerifier("test-secret", "")
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(AuthInterceptor(verifier)))

	slotID := uuid.New()
	RegisterCalendarServer(s, NewCalendarServer(&fakeCalendarService{
		queryFn: func(ctx context.Context, providerID string, start, end time.Time) ([]calendar.SlotView, error) {
			return []calendar.SlotView{{Timeslot: domain.Timeslot{ID: slotID, ProviderID: providerID, Start: slotStart, End: slotStart.Add(30 * time.Minute)}}}, nil
		},
	}, slog.Default()))
	RegisterBookingServer(s, NewBookingServer(&fakeBookingService{}, slog.Default()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check error: %v", err)
	}
	if hc.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health = %s, want SERVING", hc.Status)
	}

	req := &wire.WindowRequest{ProviderID: "p1", Start: slotStart, End: slotStart.Add(24 * time.Hour)}
	var resp wire.TimeslotsResponse
	err = conn.Invoke(ctx, "/servicehub.v1.Calendar/QueryWindow", req, &resp, grpc.CallContentSubtype(CodecName))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("unauthenticated call code = %s, want Unauthenticated", status.Code(err))
	}

	token, err := verifier.Sign("r1", time.Hour)
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	if err := conn.Invoke(authed, "/servicehub.v1.Calendar/QueryWindow", req, &resp, grpc.CallContentSubtype(CodecName)); err != nil {
		t.Fatalf("QueryWindow error: %v", err)
	}
	if len(resp.Timeslots) != 1 || resp.Timeslots[0].ID != slotID.String() {
		t.Fatalf("unexpected response %+v", resp)
	}
}
