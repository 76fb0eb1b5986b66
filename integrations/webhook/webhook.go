package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lampkit/core"
	"lampkit/retry"
)

// Sink posts domain events to configured HTTP endpoints.
// It is synchronous for determinism; keep handlers fast or wrap with buffering if needed.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]struct{}
	policy    retry.Policy
	log       *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTypes restricts delivery to the given event types.
func WithTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		s.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

// WithRetry sets the per-endpoint retry policy (default: single attempt).
func WithRetry(p retry.Policy) Option { return func(s *Sink) { s.policy = p } }

func WithLogger(l *slog.Logger) Option { return func(s *Sink) { s.log = l } }

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		policy: retry.Policy{Attempts: 1},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// OnEvent posts the event JSON to all endpoints. Delivery failures are
// logged, never returned. Its signature matches engine bus handlers.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if len(s.endpoints) == 0 {
		return
	}
	if len(s.types) > 0 {
		if _, ok := s.types[e.Type]; !ok {
			return
		}
	}
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	for _, ep := range s.endpoints {
		if _, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.post(ctx, ep, body)
		}); err != nil {
			s.log.Warn("webhook delivery failed", "endpoint", ep, "event", e.Type, "error", err)
		}
	}
}

func (s *Sink) post(ctx context.Context, ep string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", ep, resp.StatusCode)
	}
	return nil
}
