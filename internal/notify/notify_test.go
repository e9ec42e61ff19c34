package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

func sampleRequest() (domain.ServiceRequest, domain.Timeslot) {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	req := domain.ServiceRequest{
		ID:          uuid.New(),
		ProviderID:  "provider-1",
		RequesterID: "requester-1",
		ServiceType: "plumbing",
		Comment:     "kitchen sink",
		Status:      domain.RequestPending,
	}
	slot := domain.Timeslot{ID: uuid.New(), ProviderID: "provider-1", Start: start, End: start.Add(30 * time.Minute)}
	return req, slot
}

func TestBuilders_AddressTheCounterparty(t *testing.T) {
	req, slot := sampleRequest()
	job := domain.Job{ID: uuid.New(), RequestID: req.ID}

	requested := BookingRequested(req, slot, time.UTC)
	assert.Equal(t, "provider-1", requested.RecipientID)
	assert.Equal(t, domain.NotificationBookingRequested, requested.Type)
	assert.Equal(t, req.ID.String(), requested.RelatedEntityID)
	assert.Contains(t, requested.Content, "Mon, Jan 5 09:00-09:30")
	assert.NotContains(t, requested.Content, "kitchen sink")

	confirmed := BookingConfirmed(req, job, slot, time.UTC)
	assert.Equal(t, "requester-1", confirmed.RecipientID)
	assert.Equal(t, job.ID.String(), confirmed.RelatedEntityID)

	assert.Equal(t, "requester-1", BookingDeclined(req).RecipientID)
	assert.Equal(t, "provider-1", BookingCancelled(req).RecipientID)
	assert.Equal(t, domain.NotificationJobCancelled, JobCancelled(job, "requester-1").Type)
}

func TestFormatSlot_UsesCalendarLocation(t *testing.T) {
	_, slot := sampleRequest()
	loc := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, "Mon, Jan 5 11:00-11:30", formatSlot(slot, loc))
}

func TestRedisStreamNotifier_AppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	req, slot := sampleRequest()
	n := NewRedisStreamNotifier(client, "servicehub:notifications")
	require.NoError(t, n.Notify(context.Background(), BookingRequested(req, slot, time.UTC)))

	msgs, err := client.XRange(context.Background(), "servicehub:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "booking_requested", msgs[0].Values["type"])
	assert.Equal(t, "provider-1", msgs[0].Values["recipient_id"])

	var got domain.Notification
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got))
	assert.Equal(t, req.ID.String(), got.RelatedEntityID)
}

func TestRedisStreamNotifier_PropagatesErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	req, _ := sampleRequest()
	err := NewRedisStreamNotifier(client, "s").Notify(context.Background(), BookingDeclined(req))
	assert.Error(t, err)
}

type stubSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (s *stubSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSNotifier_SendsJSONBody(t *testing.T) {
	stub := &stubSQS{}
	n := NewSQSNotifier(stub, "https://sqs.local/queue")
	req, _ := sampleRequest()

	require.NoError(t, n.Notify(context.Background(), BookingCancelled(req)))
	require.NotNil(t, stub.input)
	assert.Equal(t, "https://sqs.local/queue", aws.ToString(stub.input.QueueUrl))
	assert.JSONEq(t,
		`{"recipientId":"provider-1","content":"A booking request was cancelled.","type":"booking_cancelled","relatedEntityId":"`+req.ID.String()+`"}`,
		aws.ToString(stub.input.MessageBody))
	assert.Equal(t, "booking_cancelled", aws.ToString(stub.input.MessageAttributes["type"].StringValue))
}

func TestSQSNotifier_WrapsSendFailure(t *testing.T) {
	boom := errors.New("throttled")
	n := NewSQSNotifier(&stubSQS{err: boom}, "q")
	req, _ := sampleRequest()
	assert.ErrorIs(t, n.Notify(context.Background(), BookingDeclined(req)), boom)
}
