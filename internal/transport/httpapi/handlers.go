package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/auth"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/transport/wire"
)

const maxBodyBytes = 1 << 20

func (a *api) queryWindow(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	start, err := parseTime(r.URL.Query().Get("start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("start must be an ISO 8601 timestamp"))
		return
	}
	end, err := parseTime(r.URL.Query().Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("end must be an ISO 8601 timestamp"))
		return
	}

	views, err := a.calendar.QueryWindow(r.Context(), providerID, start, end)
	if err != nil {
		a.fail(w, r, "query window", err)
		return
	}
	out := make([]wire.Timeslot, 0, len(views))
	for _, v := range views {
		out = append(out, wire.FromView(v))
	}
	writeJSON(w, http.StatusOK, wire.TimeslotsResponse{Timeslots: out})
}

func (a *api) proposeSlot(w http.ResponseWriter, r *http.Request) {
	var body wire.ProposeSlotRequest
	if !decode(w, r, &body) {
		return
	}
	slot, err := a.calendar.ProposeSlot(r.Context(), calendar.ProposeInput{
		ProviderID: chi.URLParam(r, "providerID"),
		Title:      body.Title,
		Start:      body.Start,
		End:        body.End,
	})
	if err != nil {
		a.fail(w, r, "propose slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.TimeslotResponse{Timeslot: wire.FromTimeslot(slot)})
}

func (a *api) extendWindow(w http.ResponseWriter, r *http.Request) {
	var body wire.WindowRequest
	if !decode(w, r, &body) {
		return
	}
	res, err := a.calendar.ExtendWindow(r.Context(), chi.URLParam(r, "providerID"), body.Start, body.End)
	if err != nil {
		a.fail(w, r, "extend window", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromMaterialize(res))
}

func (a *api) promoteToFixed(w http.ResponseWriter, r *http.Request) {
	slotID, ok := pathID(w, r, "slotID")
	if !ok {
		return
	}
	var body wire.PromoteRequest
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}
	res, err := a.calendar.PromoteToFixed(r.Context(), chi.URLParam(r, "providerID"), slotID, body.Until)
	if err != nil {
		a.fail(w, r, "promote to fixed", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromPromote(res))
}

func (a *api) deleteSlot(w http.ResponseWriter, r *http.Request) {
	slotID, ok := pathID(w, r, "slotID")
	if !ok {
		return
	}
	allFuture := false
	if v := r.URL.Query().Get("deleteAllFuture"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("deleteAllFuture must be a boolean"))
			return
		}
		allFuture = b
	}
	res, err := a.calendar.DeleteSlot(r.Context(), chi.URLParam(r, "providerID"), slotID, allFuture)
	if err != nil {
		a.fail(w, r, "delete slot", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromDelete(res))
}

func (a *api) submit(w http.ResponseWriter, r *http.Request) {
	var body wire.SubmitRequest
	if !decode(w, r, &body) {
		return
	}
	slotID, err := uuid.Parse(body.TimeslotID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("timeslotId must be a UUID"))
		return
	}
	transit, ok := wire.Transit(body.TransitStart, body.TransitEnd)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("transitStart and transitEnd must be set together"))
		return
	}
	res, err := a.booking.Submit(r.Context(), booking.SubmitInput{
		RequesterID: subject(r),
		ProviderID:  body.ProviderID,
		TimeslotID:  slotID,
		ServiceType: body.ServiceType,
		Comment:     body.Comment,
		Transit:     transit,
	})
	if err != nil {
		a.fail(w, r, "submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.FromBooking(res))
}

func (a *api) accept(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	res, err := a.booking.Accept(r.Context(), subject(r), requestID)
	if err != nil {
		a.fail(w, r, "accept request", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromBooking(res))
}

func (a *api) decline(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	req, err := a.booking.Decline(r.Context(), subject(r), requestID)
	if err != nil {
		a.fail(w, r, "decline request", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromBooking(booking.Result{Request: req}))
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	req, err := a.booking.Cancel(r.Context(), subject(r), requestID)
	if err != nil {
		a.fail(w, r, "cancel request", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromBooking(booking.Result{Request: req}))
}

func (a *api) reschedule(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	var body wire.RescheduleRequest
	if !decode(w, r, &body) {
		return
	}
	slotID, err := uuid.Parse(body.TimeslotID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("timeslotId must be a UUID"))
		return
	}
	transit, ok := wire.Transit(body.TransitStart, body.TransitEnd)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("transitStart and transitEnd must be set together"))
		return
	}
	res, err := a.booking.RequestTimeChange(r.Context(), subject(r), requestID, slotID, transit)
	if err != nil {
		a.fail(w, r, "reschedule request", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromBooking(res))
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	job, err := a.booking.CancelJob(r.Context(), subject(r), jobID)
	if err != nil {
		a.fail(w, r, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, wire.FromBooking(booking.Result{Job: job}))
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind, msg := wire.Classify(err)
	attrs := []any{slog.String("op", op), slog.Any("err", err), slog.String("subject", subject(r))}
	status := http.StatusInternalServerError
	switch kind {
	case wire.KindClash, wire.KindConflict, wire.KindSlotBooked:
		status = http.StatusConflict
		a.log.InfoContext(r.Context(), "request rejected", attrs...)
	case wire.KindInvalidState:
		status = http.StatusConflict
		a.log.WarnContext(r.Context(), "invalid state", attrs...)
	case wire.KindNotFound:
		status = http.StatusNotFound
		a.log.InfoContext(r.Context(), "not found", attrs...)
	case wire.KindInvalid:
		status = http.StatusBadRequest
		a.log.WarnContext(r.Context(), "invalid request", attrs...)
	case wire.KindUnauthenticated:
		status = http.StatusUnauthorized
	case wire.KindForbidden:
		status = http.StatusForbidden
		a.log.WarnContext(r.Context(), "forbidden", attrs...)
	case wire.KindUnavailable:
		status = http.StatusServiceUnavailable
		a.log.ErrorContext(r.Context(), "storage failure", attrs...)
	default:
		a.log.ErrorContext(r.Context(), "request failed", attrs...)
	}
	writeJSON(w, status, errorBody(msg))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("request body is required"))
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
	return false
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(name+" must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func subject(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.Subject
}

func errorBody(msg string) wire.Error {
	return wire.Error{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
