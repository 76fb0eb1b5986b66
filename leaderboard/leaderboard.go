// Package leaderboard serves the sorted leaderboard from a time-windowed
// cache that is rebuilt from recent ledger activity.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"lampkit/core"
	"lampkit/metrics"
	"lampkit/retry"
)

// StorageKey is where the snapshot is persisted.
const StorageKey = "leaderboard"

// Board abstracts sorted score sets.
type Board interface {
	Update(player core.PlayerID, score int64)
	Remove(player core.PlayerID)
	TopN(n int) []core.LeaderboardEntry
	Get(player core.PlayerID) (core.LeaderboardEntry, bool)
	Len() int
}

// HeightSource reports the current block height.
type HeightSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// EventSource returns the events of a block window.
type EventSource interface {
	FetchEvents(ctx context.Context, from, to uint64) []core.ScoreEvent
}

// ScoreSource returns a player's authoritative score.
type ScoreSource interface {
	Score(ctx context.Context, player core.PlayerID) int64
}

// Store persists snapshots. Get returns core.ErrNotFound for unknown keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Publisher is notified after every successful refresh.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event)
}

type Config struct {
	TTL             time.Duration
	Lookback        uint64
	ScoreBatchSize  int
	ScoreBatchDelay time.Duration
	Retry           retry.Policy
}

func DefaultConfig() Config {
	return Config{
		TTL:             30 * time.Second,
		Lookback:        50,
		ScoreBatchSize:  3,
		ScoreBatchDelay: 100 * time.Millisecond,
		Retry:           retry.DefaultPolicy(),
	}
}

// Deps are the collaborators of a Cache. Store and Publisher are optional.
type Deps struct {
	Heights   HeightSource
	Events    EventSource
	Scores    ScoreSource
	Store     Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Cache holds the last good snapshot. It is Fresh for TTL after a successful
// refresh and Stale otherwise; a Stale read triggers one shared refresh.
type Cache struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu          sync.RWMutex
	snap        core.Snapshot
	refreshedAt time.Time

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func NewCache(cfg Config, deps Deps, opts ...Option) *Cache {
	if cfg.ScoreBatchSize <= 0 {
		cfg.ScoreBatchSize = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := &Cache{cfg: cfg, deps: deps, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.snap = core.NewSnapshot(nil, time.Time{})
	return c
}

// Load installs the persisted snapshot, if any. The cache stays Stale.
func (c *Cache) Load(ctx context.Context) error {
	if c.deps.Store == nil {
		return nil
	}
	raw, err := c.deps.Store.Get(ctx, StorageKey)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load leaderboard: %w", err)
	}
	var entries []core.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("decode leaderboard: %w", err)
	}
	c.mu.Lock()
	c.snap = core.NewSnapshot(entries, time.Time{})
	c.refreshedAt = time.Time{}
	c.mu.Unlock()
	c.deps.Logger.Info("loaded persisted leaderboard", "entries", len(entries))
	return nil
}

// Fresh reports whether the snapshot is younger than TTL.
func (c *Cache) Fresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.freshLocked()
}

func (c *Cache) freshLocked() bool {
	return !c.refreshedAt.IsZero() && c.now().Sub(c.refreshedAt) < c.cfg.TTL
}

// Invalidate marks the snapshot Stale without discarding it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.refreshedAt = time.Time{}
	c.mu.Unlock()
}

// Snapshot returns a copy of the stored snapshot without refreshing.
func (c *Cache) Snapshot() core.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// Get returns the leaderboard, refreshing it first when Stale. On refresh
// failure the previous snapshot is returned.
func (c *Cache) Get(ctx context.Context) []core.LeaderboardEntry {
	c.mu.RLock()
	if c.freshLocked() {
		out := c.snap.Clone().Entries
		c.mu.RUnlock()
		return out
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		c.deps.Logger.Warn("leaderboard refresh failed, serving previous snapshot", "error", err)
		return c.Snapshot().Entries
	}
	return v.(core.Snapshot).Clone().Entries
}

func (c *Cache) refresh(ctx context.Context) (core.Snapshot, error) {
	start := time.Now()
	snap, err := c.rebuild(ctx)
	c.deps.Metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.deps.Metrics.Refreshes.WithLabelValues("error").Inc()
		return core.Snapshot{}, err
	}
	c.deps.Metrics.Refreshes.WithLabelValues("ok").Inc()

	c.mu.Lock()
	c.snap = snap
	c.refreshedAt = snap.LastUpdated
	c.mu.Unlock()

	c.persist(ctx, snap)
	if c.deps.Publisher != nil {
		c.deps.Publisher.Publish(ctx, core.NewLeaderboardRefreshed(snap))
	}
	c.deps.Logger.Debug("leaderboard refreshed", "entries", len(snap.Entries))
	return snap, nil
}

// rebuild stamps the snapshot with the time the refresh started.
func (c *Cache) rebuild(ctx context.Context) (core.Snapshot, error) {
	started := c.now()
	head, err := retry.Do(ctx, c.cfg.Retry, c.deps.Heights.BlockNumber)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("block height: %w", err)
	}
	from := uint64(0)
	if head > c.cfg.Lookback {
		from = head - c.cfg.Lookback
	}
	events := c.deps.Events.FetchEvents(ctx, from, head)
	players := uniquePlayers(events)

	board := NewSkipList()
	for i := 0; i < len(players); i += c.cfg.ScoreBatchSize {
		if i > 0 {
			if err := retry.Wait(ctx, c.cfg.ScoreBatchDelay); err != nil {
				return core.Snapshot{}, err
			}
		}
		batch := players[i:min(i+c.cfg.ScoreBatchSize, len(players))]
		totals := make([]int64, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for j, p := range batch {
			g.Go(func() error {
				totals[j] = c.deps.Scores.Score(gctx, p)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return core.Snapshot{}, err
		}
		for j, p := range batch {
			if totals[j] > 0 {
				board.Update(p, totals[j])
			}
		}
	}
	return core.Snapshot{Entries: board.TopN(-1), LastUpdated: started}, nil
}

func (c *Cache) persist(ctx context.Context, snap core.Snapshot) {
	if c.deps.Store == nil {
		return
	}
	raw, err := json.Marshal(snap.Entries)
	if err != nil {
		c.deps.Logger.Error("encode leaderboard", "error", err)
		return
	}
	if err := c.deps.Store.Put(ctx, StorageKey, raw); err != nil {
		c.deps.Logger.Warn("persist leaderboard failed", "error", err)
	}
}

// uniquePlayers lists normalized players in first-seen order.
func uniquePlayers(events []core.ScoreEvent) []core.PlayerID {
	seen := make(map[core.PlayerID]struct{}, len(events))
	var out []core.PlayerID
	for _, ev := range events {
		p, err := core.NormalizePlayerID(ev.Player)
		if err != nil {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
