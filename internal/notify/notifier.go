// Package notify hands booking notifications to a delivery channel. Delivery
// itself happens elsewhere; emitters only enqueue.
package notify

import (
	"context"
	"log/slog"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// LogNotifier writes notifications to the log. It is the default emitter for
// local development.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	n.log.InfoContext(ctx, "notification",
		slog.String("type", string(msg.Type)),
		slog.String("recipient_id", msg.RecipientID),
		slog.String("related_entity_id", msg.RelatedEntityID),
	)
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, domain.Notification) error { return nil }
