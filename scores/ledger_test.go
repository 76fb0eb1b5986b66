package scores

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lampkit/chain/chaintest"
	"lampkit/core"
	"lampkit/metrics"
	"lampkit/retry"
)

func ev(player core.PlayerID, delta int64, block uint64, idx uint) core.ScoreEvent {
	return core.ScoreEvent{Player: player, Delta: delta, BlockHeight: block, LogIndex: idx, Timestamp: time.Unix(int64(block), 0)}
}

func TestApplySumsDeltas(t *testing.T) {
	l := NewLedger()
	l.Apply(ev("0xABC", 10, 1, 0))
	total, ok := l.Apply(ev("0xabc", 15, 2, 0))
	require.True(t, ok)
	assert.Equal(t, int64(25), total)
	assert.Equal(t, int64(25), l.Score("0xAbc"))
	assert.Equal(t, int64(0), l.Score("0xunknown"))

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, core.LeaderboardEntry{Player: "0xabc", Score: 25}, entries[0])
}

func TestApplyDeduplicates(t *testing.T) {
	m := metrics.New()
	l := NewLedger(WithMetrics(m))
	first := ev("0xabc", 10, 7, 3)
	_, ok := l.Apply(first)
	require.True(t, ok)
	_, ok = l.Apply(first)
	assert.False(t, ok)
	assert.Equal(t, int64(10), l.Score("0xabc"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDuplicate))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsApplied))

	// same block, different log index is a distinct event
	_, ok = l.Apply(ev("0xabc", 10, 7, 4))
	assert.True(t, ok)
	assert.Equal(t, int64(20), l.Score("0xabc"))
}

func TestApplyWithoutDedupeDoubleCounts(t *testing.T) {
	l := NewLedger(WithDedupe(0))
	e := ev("0xabc", 10, 7, 3)
	l.Apply(e)
	l.Apply(e)
	assert.Equal(t, int64(20), l.Score("0xabc"))
}

func TestApplyRejectsInvalid(t *testing.T) {
	l := NewLedger()
	_, ok := l.Apply(ev("0xabc", -5, 1, 0))
	assert.False(t, ok)
	_, ok = l.Apply(ev("  ", 5, 1, 0))
	assert.False(t, ok)
	assert.Empty(t, l.Entries())
}

func TestObserveNeverLowers(t *testing.T) {
	l := NewLedger()
	l.Observe("0xabc", 40)
	l.Observe("0xabc", 30)
	assert.Equal(t, int64(40), l.Score("0xabc"))
}

func TestReset(t *testing.T) {
	l := NewLedger()
	e := ev("0xabc", 10, 1, 0)
	l.Apply(e)
	l.Reset()
	assert.Equal(t, int64(0), l.Score("0xabc"))
	_, ok := l.Apply(e)
	assert.True(t, ok, "reset should forget remembered keys")
}

func TestResolverFallsBackToCachedScore(t *testing.T) {
	remote := chaintest.New()
	local := NewLedger()
	r := NewResolver(remote, local, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil)

	remote.FailScore("0xabc", chaintest.Always)
	assert.Equal(t, int64(0), r.Score(context.Background(), "0xabc"))
	assert.Equal(t, 3, remote.ScoreCalls("0xabc"))

	local.Apply(ev("0xabc", 10, 1, 0))
	assert.Equal(t, int64(10), r.Score(context.Background(), "0xABC"))
}

func TestResolverObservesRemoteScore(t *testing.T) {
	remote := chaintest.New()
	remote.SetScore("0xabc", 70)
	remote.FailScore("0xabc", 2)
	local := NewLedger()
	r := NewResolver(remote, local, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil)

	assert.Equal(t, int64(70), r.Score(context.Background(), "0xabc"))
	assert.Equal(t, int64(70), local.Score("0xabc"))
}
