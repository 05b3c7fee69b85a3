// Package notify hands persisted notifications to outbound transports. The
// core only guarantees that a message was stored; delivery is best effort.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/shift-compliance/internal/logging"
)

// Message is the typed payload handed to transports, one per recipient.
type Message struct {
	ID          string    `json:"id"`
	RecipientID string    `json:"recipient_id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	RelatedID   string    `json:"related_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink delivers messages. Implementations must be safe for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, msgs []Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msgs []Message) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, msgs []Message) error {
	return f(ctx, msgs)
}

// Discard drops every message.
var Discard Sink = SinkFunc(func(context.Context, []Message) error { return nil })

// LogSink writes one log record per message.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver logs msgs at INFO.
func (s LogSink) Deliver(ctx context.Context, msgs []Message) error {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = s.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range msgs {
		logger.InfoContext(ctx, "notification",
			"notification_id", m.ID,
			"recipient_id", m.RecipientID,
			"kind", m.Kind,
			"related_id", m.RelatedID,
			"title", m.Title,
		)
	}
	return nil
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

// Deliver forwards msgs to each sink even when an earlier one fails.
func (m Multi) Deliver(ctx context.Context, msgs []Message) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(ctx, msgs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
