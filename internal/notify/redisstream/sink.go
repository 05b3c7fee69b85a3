// Package redisstream publishes notifications to a Redis stream for
// downstream consumers such as mailers or push gateways.
package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/shift-compliance/internal/notify"
)

// DefaultMaxLen bounds the stream with approximate trimming.
const DefaultMaxLen = 10000

// Sink appends one stream entry per message.
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstream: ping %s: %w", addr, err)
	}
	return client, nil
}

// New returns a sink writing to stream.
func New(client *redis.Client, stream string) *Sink {
	if stream == "" {
		stream = "notifications"
	}
	return &Sink{client: client, stream: stream, maxLen: DefaultMaxLen}
}

// Deliver XADDs each message. It stops at the first failure.
func (s *Sink) Deliver(ctx context.Context, msgs []notify.Message) error {
	for _, m := range msgs {
		err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":           m.ID,
				"recipient_id": m.RecipientID,
				"kind":         m.Kind,
				"title":        m.Title,
				"body":         m.Body,
				"related_id":   m.RelatedID,
				"created_at":   m.CreatedAt.UTC().Format(time.RFC3339Nano),
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("redisstream: xadd %s: %w", s.stream, err)
		}
	}
	return nil
}

var _ notify.Sink = (*Sink)(nil)
