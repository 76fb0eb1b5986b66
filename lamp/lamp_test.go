package lamp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lampkit/chain/chaintest"
	"lampkit/core"
	"lampkit/engine"
	"lampkit/realtime"
)

type recordingSink struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingSink) OnEvent(_ context.Context, e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestNewBridgesEvents(t *testing.T) {
	hub := realtime.NewHub()
	sink := &recordingSink{}
	svc, err := New(
		WithClient(chaintest.New()),
		WithRealtime(hub),
		WithSink(sink),
		WithDispatchMode(engine.DispatchSync),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	_, ch := hub.Subscribe(1)
	svc.Publish(context.Background(), core.NewLampCollected("0xabc", "lamp-1", 10))

	ev := <-ch
	assert.Equal(t, core.EventLampCollected, ev.Type)
	require.Len(t, sink.events, 1)
	assert.Equal(t, core.PlayerID("0xabc"), sink.events[0].Player)
}

func TestNewDefaultsToMemoryStorage(t *testing.T) {
	svc, err := New(WithClient(chaintest.New()))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.EnqueueLamp(context.Background(), "lamp-3"))
	assert.Equal(t, []string{"lamp-3"}, svc.Pending())
}

func TestNewUsesClientAsSubscriber(t *testing.T) {
	ledger := chaintest.New()
	svc, err := New(WithClient(ledger), WithWallet(&chaintest.Wallet{Player: "0xabc", Ledger: ledger}))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	require.NoError(t, svc.Start(context.Background()))
	require.Eventually(t, func() bool { return ledger.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ledger.Emit(core.ScoreEvent{Player: "0xABC", Delta: 10, BlockHeight: 1})
	require.Eventually(t, func() bool { return svc.LocalScore("0xabc") == 10 }, time.Second, 5*time.Millisecond)
}
