package leaderboard

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lampkit/chain/chaintest"
	"lampkit/core"
	"lampkit/fetcher"
	"lampkit/metrics"
	"lampkit/retry"
	"lampkit/scores"
)

type mapStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (s *mapStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ledger  *chaintest.Ledger
	local   *scores.Ledger
	store   *mapStore
	clock   *clock
	metrics *metrics.Metrics
	cache   *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy := retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}
	f := &fixture{
		ledger:  chaintest.New(),
		local:   scores.NewLedger(),
		store:   &mapStore{data: map[string][]byte{}},
		clock:   &clock{now: time.Unix(1_700_000_000, 0)},
		metrics: metrics.New(),
	}
	fetch := fetcher.New(fetcher.Config{BlocksPerQuery: 5, Retry: policy}, f.ledger, nil, f.local, f.metrics, nil)
	cfg := DefaultConfig()
	cfg.ScoreBatchDelay = time.Millisecond
	cfg.Retry = policy
	f.cache = NewCache(cfg, Deps{
		Heights: f.ledger,
		Events:  fetch,
		Scores:  scores.NewResolver(f.ledger, f.local, policy, nil),
		Store:   f.store,
		Metrics: f.metrics,
	}, WithClock(f.clock.Now))
	return f
}

func TestGetMergesEventsIntoSingleEntry(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xABC", Delta: 10, BlockHeight: 100, LogIndex: 0})
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xABC", Delta: 15, BlockHeight: 101, LogIndex: 0})
	f.ledger.SetScore("0xabc", 25)

	got := f.cache.Get(context.Background())
	require.Equal(t, []core.LeaderboardEntry{{Player: "0xabc", Score: 25}}, got)
	assert.Equal(t, int64(25), f.local.Score("0xabc"))
	assert.True(t, f.cache.Fresh())
}

func TestGetIsIdempotentWithinWindow(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xa", Delta: 5, BlockHeight: 10})
	ctx := context.Background()

	first := f.cache.Get(ctx)
	heads, queries := f.ledger.HeadCalls(), len(f.ledger.Queries())
	scoreCalls := f.ledger.ScoreCalls("0xa")

	f.clock.Advance(29 * time.Second)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xb", Delta: 50, BlockHeight: 11})
	second := f.cache.Get(ctx)

	assert.Equal(t, first, second)
	assert.Equal(t, heads, f.ledger.HeadCalls())
	assert.Len(t, f.ledger.Queries(), queries)
	assert.Equal(t, scoreCalls, f.ledger.ScoreCalls("0xa"))

	f.clock.Advance(time.Second)
	third := f.cache.Get(ctx)
	assert.Equal(t, heads+1, f.ledger.HeadCalls())
	assert.Equal(t, []core.LeaderboardEntry{{Player: "0xb", Score: 50}, {Player: "0xa", Score: 5}}, third)
}

func TestSnapshotStampedAtRefreshStart(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xa", Delta: 5, BlockHeight: 10})
	startedAt := f.clock.Now()
	var once sync.Once
	f.ledger.QueryHook = func(context.Context, core.BlockRange) {
		once.Do(func() { f.clock.Advance(5 * time.Second) })
	}

	f.cache.Get(context.Background())
	assert.Equal(t, startedAt, f.cache.Snapshot().LastUpdated)

	f.clock.Advance(25 * time.Second)
	assert.False(t, f.cache.Fresh())
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xa", Delta: 5, BlockHeight: 10})
	ctx := context.Background()
	before := f.cache.Get(ctx)
	require.Len(t, before, 1)

	f.clock.Advance(31 * time.Second)
	f.ledger.FailHead(chaintest.Always)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xb", Delta: 50, BlockHeight: 11})

	assert.Equal(t, before, f.cache.Get(ctx))
	assert.False(t, f.cache.Fresh())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Refreshes.WithLabelValues("error")))

	// still stale, so the next call tries again
	calls := f.ledger.HeadCalls()
	f.cache.Get(ctx)
	assert.Equal(t, calls+3, f.ledger.HeadCalls())
}

func TestGetSortsAndDropsZeroScores(t *testing.T) {
	f := newFixture(t)
	for i, p := range []core.PlayerID{"0xd", "0xc", "0xb", "0xa", "0xe"} {
		f.ledger.AddEvent(core.ScoreEvent{Player: p, Delta: 1, BlockHeight: uint64(60 + i)})
	}
	f.ledger.SetScore("0xa", 40)
	f.ledger.SetScore("0xb", 40)
	f.ledger.SetScore("0xc", 0)
	f.ledger.SetScore("0xd", 7)
	f.ledger.SetScore("0xe", 90)

	got := f.cache.Get(context.Background())
	assert.Equal(t, []core.LeaderboardEntry{
		{Player: "0xe", Score: 90},
		{Player: "0xa", Score: 40},
		{Player: "0xb", Score: 40},
		{Player: "0xd", Score: 7},
	}, got)
}

func TestRefreshUsesLookbackWindow(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xold", Delta: 3, BlockHeight: 10})
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xnew", Delta: 4, BlockHeight: 120})

	got := f.cache.Get(context.Background())
	assert.Equal(t, []core.LeaderboardEntry{{Player: "0xnew", Score: 4}}, got)
	queries := f.ledger.Queries()
	require.NotEmpty(t, queries)
	assert.Equal(t, uint64(70), queries[0].From)
	assert.Equal(t, uint64(120), queries[len(queries)-1].To)
}

func TestRefreshPersistsAndLoadRestores(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xa", Delta: 5, BlockHeight: 1})
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xb", Delta: 9, BlockHeight: 2})
	f.cache.Get(context.Background())

	raw, err := f.store.Get(context.Background(), StorageKey)
	require.NoError(t, err)
	var persisted []core.LeaderboardEntry
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.Equal(t, []core.LeaderboardEntry{{Player: "0xb", Score: 9}, {Player: "0xa", Score: 5}}, persisted)

	restored := NewCache(DefaultConfig(), Deps{Store: f.store, Heights: f.ledger})
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, persisted, restored.Snapshot().Entries)
	assert.False(t, restored.Fresh())
}

func TestLoadWithoutPersistedSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Load(context.Background()))
	assert.Empty(t, f.cache.Snapshot().Entries)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xa", Delta: 5, BlockHeight: 1})
	ctx := context.Background()
	f.cache.Get(ctx)
	calls := f.ledger.HeadCalls()

	f.cache.Invalidate()
	assert.False(t, f.cache.Fresh())
	assert.Len(t, f.cache.Snapshot().Entries, 1)
	f.cache.Get(ctx)
	assert.Equal(t, calls+1, f.ledger.HeadCalls())
}

func TestConcurrentStaleReadsShareRefresh(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddEvent(core.ScoreEvent{Player: "0xa", Delta: 5, BlockHeight: 1})
	release := make(chan struct{})
	var once sync.Once
	f.ledger.QueryHook = func(context.Context, core.BlockRange) {
		once.Do(func() { <-release })
	}

	var wg sync.WaitGroup
	results := make([][]core.LeaderboardEntry, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.cache.Get(context.Background())
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.ledger.HeadCalls())
	for _, r := range results {
		assert.Equal(t, []core.LeaderboardEntry{{Player: "0xa", Score: 5}}, r)
	}
}
