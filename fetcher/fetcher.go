// Package fetcher walks block ranges in provider-sized slices and collects
// the score events they contain.
package fetcher

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"lampkit/core"
	"lampkit/metrics"
	"lampkit/retry"
)

// Querier fetches the score events of one block range.
type Querier interface {
	QueryEvents(ctx context.Context, r core.BlockRange) ([]core.ScoreEvent, error)
}

// Enqueuer accepts sub-ranges whose query failed.
type Enqueuer interface {
	Enqueue(r core.BlockRange) bool
}

// Applier consumes fetched events.
type Applier interface {
	Apply(ev core.ScoreEvent) (int64, bool)
}

type Config struct {
	BlocksPerQuery uint64
	RequestDelay   time.Duration
	Retry          retry.Policy
}

func DefaultConfig() Config {
	return Config{BlocksPerQuery: 5, RequestDelay: 200 * time.Millisecond, Retry: retry.DefaultPolicy()}
}

// Fetcher runs at most one range traversal at a time.
type Fetcher struct {
	cfg     Config
	querier Querier
	queue   Enqueuer
	applier Applier
	metrics *metrics.Metrics
	log     *slog.Logger

	busy atomic.Bool
}

// New builds a Fetcher. applier may be nil when events are only returned.
func New(cfg Config, querier Querier, queue Enqueuer, applier Applier, m *metrics.Metrics, log *slog.Logger) *Fetcher {
	if cfg.BlocksPerQuery == 0 {
		cfg.BlocksPerQuery = DefaultConfig().BlocksPerQuery
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{cfg: cfg, querier: querier, queue: queue, applier: applier, metrics: m, log: log}
}

// Busy reports whether a traversal is in progress.
func (f *Fetcher) Busy() bool { return f.busy.Load() }

// FetchEvents returns the events of [from, to] in ascending sub-range order.
// Sub-ranges that still fail after retries are handed to the retry queue and
// contribute nothing, so the result may be partial. A call made while another
// traversal is running returns nil immediately.
func (f *Fetcher) FetchEvents(ctx context.Context, from, to uint64) []core.ScoreEvent {
	if !f.busy.CompareAndSwap(false, true) {
		f.log.Debug("event fetch already in progress, skipping", "from", from, "to", to)
		return nil
	}
	defer f.busy.Store(false)

	window := core.BlockRange{From: from, To: to}
	if err := window.Validate(); err != nil {
		f.log.Warn("skipping event fetch", "error", err)
		return nil
	}

	var out []core.ScoreEvent
	failed := 0
	for _, r := range core.SplitRange(window, f.cfg.BlocksPerQuery) {
		if err := retry.Wait(ctx, f.cfg.RequestDelay); err != nil {
			break
		}
		events, err := retry.Do(ctx, f.cfg.Retry, func(ctx context.Context) ([]core.ScoreEvent, error) {
			return f.querier.QueryEvents(ctx, r)
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failed++
			f.metrics.RangesFailed.Inc()
			f.log.Warn("block range query failed, queued for retry", "range", r.String(), "error", err)
			if f.queue != nil {
				f.queue.Enqueue(r)
			}
			continue
		}
		for _, ev := range events {
			if f.applier != nil {
				f.applier.Apply(ev)
			}
		}
		out = append(out, events...)
	}
	f.log.Debug("fetched score events", "range", window.String(), "events", len(out), "failed_ranges", failed)
	return out
}
