package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/notify"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store/memory"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/wire"
)

var tuesday = time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	handler  http.Handler
	verifier *auth.Verifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := memory.New()
	verifier := auth.NewVerifier("test-secret", "")
	cal := calendar.NewService(st, calendar.Options{
		MinDuration: 30 * time.Minute,
		Now:         func() time.Time { return tuesday.AddDate(0, 0, -1) },
	})
	coord := booking.NewCoordinator(st, st, notify.Discard{}, booking.Options{OpTimeout: time.Second})
	return &testAPI{
		handler: NewRouter(Config{
			Calendar: cal,
			Booking:  coord,
			Verifier: verifier,
			Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("# metrics"))
			}),
		}),
		verifier: verifier,
	}
}

func (a *testAPI) do(t *testing.T, method, path, subject string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if subject != "" {
		token, err := a.verifier.Sign(subject, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) propose(t *testing.T, start time.Time) wire.Timeslot {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/v1/providers/p1/timeslots", "p1", wire.ProposeSlotRequest{
		Start: start,
		End:   start.Add(30 * time.Minute),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out wire.TimeslotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Timeslot
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_ReportsDependencyFailure(t *testing.T) {
	h := NewRouter(Config{Ready: func(ctx context.Context) error { return errors.New("db down") }})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthentication(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/v1/providers/p1/timeslots?start=2026-01-05T00:00:00Z&end=2026-01-12T00:00:00Z", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/p1/timeslots", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProposeSlot_OnlyProviderMayWrite(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/providers/p1/timeslots", "someone-else", wire.ProposeSlotRequest{
		Start: tuesday,
		End:   tuesday.Add(time.Hour),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProposeSlot_ClashIsConflict(t *testing.T) {
	api := newTestAPI(t)
	slot := api.propose(t, tuesday)
	assert.Equal(t, "available", slot.Title)
	assert.True(t, slot.End.Equal(tuesday.Add(30*time.Minute)))

	rec := api.do(t, http.MethodPost, "/v1/providers/p1/timeslots", "p1", wire.ProposeSlotRequest{
		Start: tuesday.Add(15 * time.Minute),
		End:   tuesday.Add(45 * time.Minute),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body wire.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, wire.MsgClash, body.Error)
}

func TestProposeSlot_BadInput(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/v1/providers/p1/timeslots", "p1", wire.ProposeSlotRequest{
		Start: tuesday,
		End:   tuesday.Add(-time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/providers/p1/timeslots", bytes.NewBufferString("{"))
	token, err := api.verifier.Sign("p1", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQueryWindow(t *testing.T) {
	api := newTestAPI(t)
	api.propose(t, tuesday)

	rec := api.do(t, http.MethodGet, "/v1/providers/p1/timeslots?start=2026-01-05T00:00:00Z&end=2026-01-12T00:00:00Z", "requester", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out wire.TimeslotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Timeslots, 1)
	assert.Equal(t, "p1", out.Timeslots[0].CreatedByID)
	assert.NotEmpty(t, out.Timeslots[0].State)

	rec = api.do(t, http.MethodGet, "/v1/providers/p1/timeslots?start=yesterday&end=2026-01-12T00:00:00Z", "requester", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPromoteAndDelete(t *testing.T) {
	api := newTestAPI(t)
	slot := api.propose(t, tuesday)

	until := tuesday.AddDate(0, 0, 14).Add(time.Hour)
	rec := api.do(t, http.MethodPost, "/v1/providers/p1/timeslots/"+slot.ID+"/fixed", "p1", wire.PromoteRequest{Until: &until})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var promoted wire.PromoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &promoted))
	assert.True(t, promoted.Timeslot.IsFixed)
	assert.Len(t, promoted.Occurrences, 2)

	rec = api.do(t, http.MethodDelete, "/v1/providers/p1/timeslots/"+slot.ID+"?deleteAllFuture=true", "p1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var deleted wire.DeleteSlotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	assert.Len(t, deleted.Deleted, 3)

	rec = api.do(t, http.MethodDelete, "/v1/providers/p1/timeslots/"+slot.ID+"?deleteAllFuture=maybe", "p1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodDelete, "/v1/providers/p1/timeslots/not-a-uuid", "p1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	api := newTestAPI(t)
	slot := api.propose(t, tuesday)

	submit := wire.SubmitRequest{ProviderID: "p1", TimeslotID: slot.ID, ServiceType: "cleaning"}
	rec := api.do(t, http.MethodPost, "/v1/requests", "r1", submit)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var submitted wire.BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotNil(t, submitted.Request)
	assert.Equal(t, "pending", submitted.Request.Status)
	assert.Equal(t, "r1", submitted.Request.RequesterID)

	rec = api.do(t, http.MethodPost, "/v1/requests", "r2", submit)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/requests/"+submitted.Request.ID+"/accept", "r1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/requests/"+submitted.Request.ID+"/accept", "p1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var accepted wire.BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.NotNil(t, accepted.Job)
	assert.Equal(t, "scheduled", accepted.Job.Status)

	rec = api.do(t, http.MethodPost, "/v1/requests/"+submitted.Request.ID+"/cancel", "r1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/v1/jobs/"+accepted.Job.ID+"/cancel", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/v1/requests/"+uuid.NewString()+"/decline", "p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReschedule(t *testing.T) {
	api := newTestAPI(t)
	first := api.propose(t, tuesday)
	second := api.propose(t, tuesday.Add(2*time.Hour))

	rec := api.do(t, http.MethodPost, "/v1/requests", "r1", wire.SubmitRequest{ProviderID: "p1", TimeslotID: first.ID, ServiceType: "cleaning"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var submitted wire.BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	rec = api.do(t, http.MethodPost, "/v1/requests/"+submitted.Request.ID+"/reschedule", "r1", wire.RescheduleRequest{TimeslotID: second.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved wire.BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.Equal(t, second.ID, moved.Request.TimeslotID)

	half := tuesday
	rec = api.do(t, http.MethodPost, "/v1/requests/"+submitted.Request.ID+"/reschedule", "r1", wire.RescheduleRequest{TimeslotID: first.ID, TransitStart: &half})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
