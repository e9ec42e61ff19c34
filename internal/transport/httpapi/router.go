// Package httpapi exposes the calendar and booking services over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

type CalendarService interface {
	ProposeSlot(ctx context.Context, in calendar.ProposeInput) (domain.Timeslot, error)
	PromoteToFixed(ctx context.Context, providerID string, slotID uuid.UUID, until *time.Time) (calendar.PromoteResult, error)
	DeleteSlot(ctx context.Context, providerID string, slotID uuid.UUID, deleteAllFuture bool) (store.DeleteResult, error)
	ExtendWindow(ctx context.Context, providerID string, start, end time.Time) (store.MaterializeResult, error)
	QueryWindow(ctx context.Context, providerID string, start, end time.Time) ([]calendar.SlotView, error)
}

type BookingService interface {
	Submit(ctx context.Context, in booking.SubmitInput) (booking.Result, error)
	Accept(ctx context.Context, providerID string, requestID uuid.UUID) (booking.Result, error)
	Decline(ctx context.Context, providerID string, requestID uuid.UUID) (domain.ServiceRequest, error)
	Cancel(ctx context.Context, requesterID string, requestID uuid.UUID) (domain.ServiceRequest, error)
	CancelJob(ctx context.Context, actorID string, jobID uuid.UUID) (domain.Job, error)
	RequestTimeChange(ctx context.Context, actorID string, requestID, newSlotID uuid.UUID, transit *domain.Interval) (booking.Result, error)
}

type Config struct {
	Calendar CalendarService
	Booking  BookingService
	Verifier *auth.Verifier
	Logger   *slog.Logger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type api struct {
	calendar CalendarService
	booking  BookingService
	log      *slog.Logger
}

func NewRouter(cfg Config) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))
	a := &api{calendar: cfg.Calendar, booking: cfg.Booking, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				log.WarnContext(r.Context(), "readiness check failed", slog.Any("err", err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(authenticate(cfg.Verifier))

		v1.Route("/providers/{providerID}/timeslots", func(ts chi.Router) {
			ts.Get("/", a.queryWindow)
			ts.With(requireSelf).Post("/", a.proposeSlot)
			ts.With(requireSelf).Post("/extend", a.extendWindow)
			ts.With(requireSelf).Post("/{slotID}/fixed", a.promoteToFixed)
			ts.With(requireSelf).Delete("/{slotID}", a.deleteSlot)
		})

		v1.Post("/requests", a.submit)
		v1.Route("/requests/{requestID}", func(rq chi.Router) {
			rq.Post("/accept", a.accept)
			rq.Post("/decline", a.decline)
			rq.Post("/cancel", a.cancel)
			rq.Post("/reschedule", a.reschedule)
		})
		v1.Post("/jobs/{jobID}/cancel", a.cancelJob)
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.InfoContext(r.Context(), "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.Int("status", ww.Status()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// authenticate requires a valid bearer token and stores the caller's
// identity in the request context.
func authenticate(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("authentication required"))
				return
			}
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("missing authorization header"))
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// requireSelf rejects calendar mutations by anyone but the provider.
func requireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || id.Subject != chi.URLParam(r, "providerID") {
			writeJSON(w, http.StatusForbidden, errorBody("not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
