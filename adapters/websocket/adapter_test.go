package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"lampkit/core"
	"lampkit/realtime"
)

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func waitForReceivers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d receivers, have %d", n, hub.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] // convert http->ws
	conn := dial(t, wsURL)
	defer conn.Close()
	waitForReceivers(t, hub, 1)

	ev := core.NewScoreApplied(core.ScoreEvent{Player: "0xalice", Delta: 5}, 5)
	hub.Broadcast(context.Background(), ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.Player != "0xalice" || received.Total != 5 {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerFiltersTypes(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, "ws"+server.URL[len("http"):]+"?types=leaderboard_refreshed")
	defer conn.Close()
	waitForReceivers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewScoreApplied(core.ScoreEvent{Player: "0xa", Delta: 1}, 1))
	hub.Broadcast(context.Background(), core.NewLeaderboardRefreshed(core.NewSnapshot(nil, time.Now())))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.Type != core.EventLeaderboardRefreshed {
		t.Fatalf("unexpected event type %s", received.Type)
	}
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, "ws"+server.URL[len("http"):])
	waitForReceivers(t, hub, 1)
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("receiver not removed after client close")
		}
		time.Sleep(time.Millisecond)
	}
}
