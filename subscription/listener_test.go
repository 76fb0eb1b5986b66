package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lampkit/chain"
	"lampkit/chain/chaintest"
	"lampkit/core"
	"lampkit/retry"
	"lampkit/scores"
)

type recorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recorder) Publish(_ context.Context, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func start(t *testing.T, l *Listener) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return cancel, done
}

func TestListenerAppliesLiveEvents(t *testing.T) {
	ledger := chaintest.New()
	local := scores.NewLedger()
	pub := &recorder{}
	l := NewListener(ledger, local, pub, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil)

	cancel, done := start(t, l)
	require.Eventually(t, func() bool { return ledger.Subscribers() == 1 }, time.Second, time.Millisecond)

	ledger.Emit(core.ScoreEvent{Player: "0xABC", Delta: 10, BlockHeight: 5})
	ledger.Emit(core.ScoreEvent{Player: "0xabc", Delta: 15, BlockHeight: 6})
	require.Eventually(t, func() bool { return local.Score("0xabc") == 25 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return pub.len() == 2 }, time.Second, time.Millisecond)

	pub.mu.Lock()
	last := pub.events[1]
	pub.mu.Unlock()
	assert.Equal(t, core.EventScoreApplied, last.Type)
	assert.Equal(t, core.PlayerID("0xabc"), last.Player)
	assert.Equal(t, int64(25), last.Total)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, l.Connected())
}

func TestListenerResubscribesAfterDrop(t *testing.T) {
	ledger := chaintest.New()
	local := scores.NewLedger()
	l := NewListener(ledger, local, nil, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}, nil)

	cancel, done := start(t, l)
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool { return ledger.Subscribers() == 1 }, time.Second, time.Millisecond)

	ledger.BreakSubscriptions(errors.New("websocket closed"))
	require.Eventually(t, func() bool { return ledger.Subscribers() == 1 && l.Connected() }, time.Second, time.Millisecond)

	ledger.Emit(core.ScoreEvent{Player: "0xdef", Delta: 3, BlockHeight: 9})
	require.Eventually(t, func() bool { return local.Score("0xdef") == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), l.Received())
}

type failingSource struct{ calls atomic.Int32 }

func (s *failingSource) SubscribeEvents(context.Context) (<-chan core.ScoreEvent, chain.Subscription, error) {
	s.calls.Add(1)
	return nil, nil, errors.New("dial refused")
}

func TestListenerZeroBaseDelayDoesNotSpin(t *testing.T) {
	source := &failingSource{}
	l := NewListener(source, scores.NewLedger(), &recorder{}, retry.Policy{}, nil)

	cancel, done := start(t, l)
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.LessOrEqual(t, source.calls.Load(), int32(2))
}

func TestListenerSkipsDuplicates(t *testing.T) {
	ledger := chaintest.New()
	local := scores.NewLedger()
	pub := &recorder{}
	l := NewListener(ledger, local, pub, retry.Policy{BaseDelay: time.Millisecond}, nil)

	cancel, done := start(t, l)
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, func() bool { return ledger.Subscribers() == 1 }, time.Second, time.Millisecond)

	ev := core.ScoreEvent{Player: "0xa", Delta: 4, BlockHeight: 2, LogIndex: 1}
	ledger.Emit(ev)
	ledger.Emit(ev)
	require.Eventually(t, func() bool { return l.Received() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(4), local.Score("0xa"))
	assert.Equal(t, 1, pub.len())
}
