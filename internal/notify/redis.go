package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

const defaultStreamMaxLen = 10000

// RedisStreamNotifier appends notifications to a Redis stream consumed by
// the delivery workers.
type RedisStreamNotifier struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamNotifier(client redis.Cmdable, stream string) *RedisStreamNotifier {
	if client == nil {
		panic("notify: redis client cannot be nil")
	}
	if stream == "" {
		panic("notify: redis stream cannot be empty")
	}
	return &RedisStreamNotifier{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

func (n *RedisStreamNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal notification: %w", err)
	}
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":         string(msg.Type),
			"recipient_id": msg.RecipientID,
			"payload":      string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("notify: xadd %s: %w", n.stream, err)
	}
	return nil
}
