// Package webhook posts notification batches to an HTTP endpoint.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/example/shift-compliance/internal/notify"
)

// Payload is the JSON body of one delivery.
type Payload struct {
	Notifications []notify.Message `json:"notifications"`
}

// Sink posts to a fixed URL.
type Sink struct {
	client *resty.Client
	url    string
}

// Option customises the resty client.
type Option func(*resty.Client)

// WithRetries sets the retry count for failed deliveries.
func WithRetries(n int) Option {
	return func(c *resty.Client) { c.SetRetryCount(n) }
}

// WithTimeout sets the per request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// New returns a sink that posts to url.
func New(url string, opts ...Option) *Sink {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(client)
	}
	return &Sink{client: client, url: url}
}

// Deliver posts msgs as one batch. Non-2xx responses are errors.
func (s *Sink) Deliver(ctx context.Context, msgs []notify.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(Payload{Notifications: msgs}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", s.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: post %s: unexpected status %d", s.url, resp.StatusCode())
	}
	return nil
}

var _ notify.Sink = (*Sink)(nil)
