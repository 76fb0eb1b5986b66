package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"lampkit/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewScoreApplied(core.ScoreEvent{Player: "0xbob", Delta: 10}, 10)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.Player != "0xbob" || received.Type != core.EventScoreApplied {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Len() != 0 {
		t.Fatalf("expected no receivers, got %d", h.Len())
	}
}

func TestHubFiltersAndDrops(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe(1, core.EventRangeDropped)

	h.Broadcast(context.Background(), core.NewLampRejected("0xa", "lamp-1"))
	h.Broadcast(context.Background(), core.NewRangeDropped(core.BlockRange{From: 5, To: 9}))
	h.Broadcast(context.Background(), core.NewRangeDropped(core.BlockRange{From: 10, To: 14}))

	got := <-ch
	if got.Type != core.EventRangeDropped || got.Range.From != 5 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if h.Dropped() != 1 {
		t.Fatalf("expected one dropped delivery, got %d", h.Dropped())
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewLeaderboardRefreshed(core.NewSnapshot([]core.LeaderboardEntry{{Player: "0xa", Score: 3}}, time.Now()))
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Score != 3 {
		t.Fatalf("unexpected entries: %+v", out.Entries)
	}
}
