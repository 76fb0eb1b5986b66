// Package retryqueue re-attempts block ranges whose event query failed.
package retryqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"lampkit/core"
	"lampkit/metrics"
	"lampkit/retry"
)

// Querier fetches the score events of one block range.
type Querier interface {
	QueryEvents(ctx context.Context, r core.BlockRange) ([]core.ScoreEvent, error)
}

// Applier consumes recovered events.
type Applier interface {
	Apply(ev core.ScoreEvent) (int64, bool)
}

// Publisher receives overflow notifications.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event)
}

// Config tunes the drain loop.
type Config struct {
	Capacity     int           // pending ranges kept; further failures are dropped
	MaxWidth     uint64        // widest accepted range
	IdleInterval time.Duration // sleep while the queue is empty
	Throttle     time.Duration // wait before each attempt
	Retry        retry.Policy
}

// DefaultConfig mirrors the provider limits of the public RPC endpoint.
func DefaultConfig() Config {
	return Config{
		Capacity:     50,
		MaxWidth:     5,
		IdleInterval: 5 * time.Second,
		Throttle:     2 * time.Second,
		Retry:        retry.DefaultPolicy(),
	}
}

// Queue is a bounded FIFO of failed ranges plus the loop that drains it.
type Queue struct {
	cfg     Config
	querier Querier
	applier Applier
	pub     Publisher
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	pending deque.Deque[core.BlockRange]
	dropped uint64
}

func New(cfg Config, querier Querier, applier Applier, pub Publisher, m *metrics.Metrics, log *slog.Logger) *Queue {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{cfg: cfg, querier: querier, applier: applier, pub: pub, metrics: m, log: log}
}

// Enqueue adds r unless the queue is full, in which case r is dropped and
// counted. Ranges wider than MaxWidth are refused.
func (q *Queue) Enqueue(r core.BlockRange) bool {
	if err := r.Validate(); err != nil {
		q.log.Warn("refusing invalid retry range", "range", r.String(), "error", err)
		return false
	}
	if q.cfg.MaxWidth > 0 && r.Width() > q.cfg.MaxWidth {
		q.log.Warn("refusing retry range", "range", r.String(),
			"error", fmt.Errorf("%w: %d > %d", core.ErrRangeTooWide, r.Width(), q.cfg.MaxWidth))
		return false
	}

	q.mu.Lock()
	if q.pending.Len() >= q.cfg.Capacity {
		q.dropped++
		q.mu.Unlock()
		q.metrics.RangesDropped.Inc()
		q.log.Warn("retry queue full, dropping range", "range", r.String(), "capacity", q.cfg.Capacity)
		if q.pub != nil {
			q.pub.Publish(context.Background(), core.NewRangeDropped(r))
		}
		return false
	}
	q.pending.PushBack(r)
	depth := q.pending.Len()
	q.mu.Unlock()
	q.metrics.RetryQueueDepth.Set(float64(depth))
	return true
}

// Len returns the number of pending ranges.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Pending returns a copy of the queued ranges in FIFO order.
func (q *Queue) Pending() []core.BlockRange {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.BlockRange, q.pending.Len())
	for i := range out {
		out[i] = q.pending.At(i)
	}
	return out
}

// Dropped counts ranges lost to overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue) pop() (core.BlockRange, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return core.BlockRange{}, false
	}
	r := q.pending.PopFront()
	q.metrics.RetryQueueDepth.Set(float64(q.pending.Len()))
	return r, true
}

// Run drains the queue until ctx is done, returning ctx.Err().
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("retry queue started", "capacity", q.cfg.Capacity)
	defer q.log.Info("retry queue stopped")
	for {
		r, ok := q.pop()
		if !ok {
			if err := retry.Wait(ctx, q.cfg.IdleInterval); err != nil {
				return err
			}
			continue
		}
		if err := retry.Wait(ctx, q.cfg.Throttle); err != nil {
			// keep the range for a later run
			q.Enqueue(r)
			return err
		}
		q.attempt(ctx, r)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (q *Queue) attempt(ctx context.Context, r core.BlockRange) {
	events, err := retry.Do(ctx, q.cfg.Retry, func(ctx context.Context) ([]core.ScoreEvent, error) {
		return q.querier.QueryEvents(ctx, r)
	})
	if err != nil {
		q.log.Warn("retry of block range failed", "range", r.String(), "error", err)
		q.Enqueue(r)
		return
	}
	applied := 0
	for _, ev := range events {
		if _, ok := q.applier.Apply(ev); ok {
			applied++
		}
	}
	q.log.Info("recovered block range", "range", r.String(), "events", len(events), "applied", applied)
}
