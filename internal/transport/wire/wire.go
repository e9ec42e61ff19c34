// Package wire holds the JSON shapes shared by the HTTP and gRPC transports.
// Timestamps are RFC 3339.
package wire

import (
	"time"

	"github.com/google/uuid"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/booking"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/service/calendar"
	"github.com/marwanabdalla1/ServiceHub-sub001/internal/store"
)

type Timeslot struct {
	ID           string     `json:"_id,omitempty"`
	Start        time.Time  `json:"start"`
	End          time.Time  `json:"end"`
	TransitStart *time.Time `json:"transitStart,omitempty"`
	TransitEnd   *time.Time `json:"transitEnd,omitempty"`
	Title        string     `json:"title"`
	IsFixed      bool       `json:"isFixed"`
	IsBooked     bool       `json:"isBooked"`
	CreatedByID  string     `json:"createdById"`
	RequestID    *string    `json:"requestId,omitempty"`
	JobID        *string    `json:"jobId,omitempty"`
	SeriesID     *string    `json:"seriesId,omitempty"`
	State        string     `json:"state,omitempty"`
}

func FromTimeslot(t domain.Timeslot) Timeslot {
	out := Timeslot{
		Start:        t.Start.UTC(),
		End:          t.End.UTC(),
		TransitStart: utcPtr(t.TransitStart),
		TransitEnd:   utcPtr(t.TransitEnd),
		Title:        t.Title,
		IsFixed:      t.IsFixed,
		IsBooked:     t.IsBooked,
		CreatedByID:  t.ProviderID,
		RequestID:    idPtr(t.RequestID),
		JobID:        idPtr(t.JobID),
		SeriesID:     idPtr(t.SeriesID),
	}
	if t.ID != uuid.Nil {
		out.ID = t.ID.String()
	}
	return out
}

func FromView(v calendar.SlotView) Timeslot {
	out := FromTimeslot(v.Timeslot)
	out.State = string(v.State)
	return out
}

func FromTimeslots(slots []domain.Timeslot) []Timeslot {
	out := make([]Timeslot, 0, len(slots))
	for _, s := range slots {
		out = append(out, FromTimeslot(s))
	}
	return out
}

type ServiceRequest struct {
	ID          string `json:"_id"`
	ProviderID  string `json:"providerId"`
	RequesterID string `json:"requesterId"`
	ServiceType string `json:"serviceType"`
	Comment     string `json:"comment,omitempty"`
	Status      string `json:"status"`
	TimeslotID  string `json:"timeslotId,omitempty"`
}

func FromRequest(r domain.ServiceRequest) ServiceRequest {
	out := ServiceRequest{
		ID:          r.ID.String(),
		ProviderID:  r.ProviderID,
		RequesterID: r.RequesterID,
		ServiceType: r.ServiceType,
		Comment:     r.Comment,
		Status:      string(r.Status),
	}
	if r.TimeslotID != nil {
		out.TimeslotID = r.TimeslotID.String()
	}
	return out
}

type Job struct {
	ID          string `json:"_id"`
	RequestID   string `json:"requestId"`
	ProviderID  string `json:"providerId"`
	ReceiverID  string `json:"receiverId"`
	ServiceType string `json:"serviceType"`
	Status      string `json:"status"`
	TimeslotID  string `json:"timeslotId,omitempty"`
}

func FromJob(j domain.Job) Job {
	out := Job{
		ID:          j.ID.String(),
		RequestID:   j.RequestID.String(),
		ProviderID:  j.ProviderID,
		ReceiverID:  j.ReceiverID,
		ServiceType: j.ServiceType,
		Status:      string(j.Status),
	}
	if j.TimeslotID != nil {
		out.TimeslotID = j.TimeslotID.String()
	}
	return out
}

type ProposeSlotRequest struct {
	ProviderID string    `json:"providerId"`
	Title      string    `json:"title"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type WindowRequest struct {
	ProviderID string    `json:"providerId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type TimeslotsResponse struct {
	Timeslots []Timeslot `json:"timeslots"`
}

type TimeslotResponse struct {
	Timeslot Timeslot `json:"timeslot"`
}

type PromoteRequest struct {
	ProviderID string     `json:"providerId"`
	TimeslotID string     `json:"timeslotId"`
	Until      *time.Time `json:"until,omitempty"`
}

type PromoteResponse struct {
	Timeslot    Timeslot   `json:"timeslot"`
	Occurrences []Timeslot `json:"occurrences"`
	Clashing    []Timeslot `json:"clashing,omitempty"`
}

func FromPromote(r calendar.PromoteResult) PromoteResponse {
	return PromoteResponse{
		Timeslot:    FromTimeslot(r.Slot),
		Occurrences: FromTimeslots(r.Occurrences),
		Clashing:    FromTimeslots(r.Clashing),
	}
}

type DeleteSlotRequest struct {
	ProviderID      string `json:"providerId"`
	TimeslotID      string `json:"timeslotId"`
	DeleteAllFuture bool   `json:"deleteAllFuture"`
}

type DeleteSlotResponse struct {
	Deleted  []string `json:"deleted"`
	Detached []string `json:"detached,omitempty"`
}

func FromDelete(r store.DeleteResult) DeleteSlotResponse {
	return DeleteSlotResponse{Deleted: ids(r.Deleted), Detached: ids(r.Detached)}
}

type ExtendWindowResponse struct {
	Created    []Timeslot `json:"created"`
	Duplicates int        `json:"duplicates"`
	Skipped    int        `json:"skipped"`
	Clashing   []Timeslot `json:"clashing,omitempty"`
}

func FromMaterialize(r store.MaterializeResult) ExtendWindowResponse {
	return ExtendWindowResponse{
		Created:    FromTimeslots(r.Created),
		Duplicates: r.Duplicates,
		Skipped:    r.Skipped,
		Clashing:   FromTimeslots(r.Clashing),
	}
}

type SubmitRequest struct {
	ProviderID   string     `json:"providerId"`
	TimeslotID   string     `json:"timeslotId"`
	ServiceType  string     `json:"serviceType"`
	Comment      string     `json:"comment"`
	TransitStart *time.Time `json:"transitStart,omitempty"`
	TransitEnd   *time.Time `json:"transitEnd,omitempty"`
}

type RequestAction struct {
	RequestID string `json:"requestId"`
}

type RescheduleRequest struct {
	RequestID    string     `json:"requestId"`
	TimeslotID   string     `json:"timeslotId"`
	TransitStart *time.Time `json:"transitStart,omitempty"`
	TransitEnd   *time.Time `json:"transitEnd,omitempty"`
}

type JobAction struct {
	JobID string `json:"jobId"`
}

type BookingResponse struct {
	Request  *ServiceRequest `json:"request,omitempty"`
	Job      *Job            `json:"job,omitempty"`
	Timeslot *Timeslot       `json:"timeslot,omitempty"`
}

func FromBooking(r booking.Result) BookingResponse {
	var out BookingResponse
	if r.Request.ID != uuid.Nil {
		req := FromRequest(r.Request)
		out.Request = &req
	}
	if r.Job.ID != uuid.Nil {
		job := FromJob(r.Job)
		out.Job = &job
	}
	if r.Timeslot.ID != uuid.Nil {
		slot := FromTimeslot(r.Timeslot)
		out.Timeslot = &slot
	}
	return out
}

type Error struct {
	Error string `json:"error"`
}

// Transit converts optional transit bounds. Exactly one bound set is an
// error reported as ok=false.
func Transit(start, end *time.Time) (*domain.Interval, bool) {
	switch {
	case start == nil && end == nil:
		return nil, true
	case start == nil || end == nil:
		return nil, false
	default:
		return &domain.Interval{Start: start.UTC(), End: end.UTC()}, true
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func idPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func ids(in []uuid.UUID) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		out = append(out, id.String())
	}
	return out
}
