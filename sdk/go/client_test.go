package sdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	mem "lampkit/adapters/memory"
	"lampkit/api/httpapi"
	"lampkit/chain"
	"lampkit/chain/chaintest"
	"lampkit/core"
	"lampkit/engine"
	"lampkit/realtime"
	"lampkit/retry"
)

type testServer struct {
	*httptest.Server
	ledger *chaintest.Ledger
	wallet *chaintest.Wallet
	hub    *realtime.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.Retry = retry.Policy{Attempts: 1}
	opts.Fetch.RequestDelay = 0
	opts.Cache.ScoreBatchDelay = 0

	ts := &testServer{ledger: chaintest.New(), hub: realtime.NewHub()}
	ts.wallet = &chaintest.Wallet{Player: "0xABC", Ledger: ts.ledger}
	svc, err := engine.NewService(opts, engine.Deps{Client: ts.ledger, Wallet: ts.wallet, Storage: mem.New()})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ts.Server = httptest.NewServer(httpapi.NewMux(svc, ts.hub, httpapi.Options{PathPrefix: "/api", APIKeys: []string{"k1"}}))
	t.Cleanup(func() {
		ts.Close()
		svc.Close()
	})
	return ts
}

func TestClient_ReadEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.ledger.SetHead(10)
	srv.ledger.AddEvent(core.ScoreEvent{Player: "0xABC", Delta: 10, BlockHeight: 3})
	srv.ledger.AddEvent(core.ScoreEvent{Player: "0xDEF", Delta: 5, BlockHeight: 4})

	client, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	lb, err := client.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].Player != "0xabc" || lb.Entries[0].Score != 10 {
		t.Fatalf("unexpected leaderboard: %+v", lb)
	}

	score, err := client.PlayerScore(ctx, "0xDEF")
	if err != nil || score != 5 {
		t.Fatalf("player score got %d err=%v", score, err)
	}
	if _, err := client.PlayerScore(ctx, " "); !errors.Is(err, ErrEmptyPlayerID) {
		t.Fatalf("expected ErrEmptyPlayerID, got %v", err)
	}

	high, err := client.HighScore(ctx)
	if err != nil || high != 10 {
		t.Fatalf("high score got %d err=%v", high, err)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	srv := newTestServer(t)
	client, _ := NewClient(srv.URL + "/api")

	_, err := client.Session(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 || apiErr.Code != "unauthorized" {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestClient_SessionAndLamps(t *testing.T) {
	srv := newTestServer(t)
	client, _ := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	ctx := context.Background()

	if _, err := client.CollectLamp(ctx); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	sess, err := client.Connect(ctx)
	if err != nil || !sess.Connected || sess.Address != "0xabc" {
		t.Fatalf("connect: %+v err=%v", sess, err)
	}

	if _, err := client.CollectLamp(ctx); err != nil {
		t.Fatalf("collect: %v", err)
	}

	pending, err := client.EnqueueLamp(ctx, "lamp-7")
	if err != nil || len(pending) != 1 {
		t.Fatalf("enqueue: %v %v", pending, err)
	}
	if _, err := client.EnqueueLamp(ctx, ""); !errors.Is(err, ErrEmptyLampID) {
		t.Fatalf("expected ErrEmptyLampID, got %v", err)
	}

	srv.wallet.Err = &chain.RPCError{Code: chain.CodeUserRejected, Message: "User denied transaction signature"}
	if _, err := client.ProcessNext(ctx); !errors.Is(err, core.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	pending, err = client.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("rejected lamp should be dropped: %v %v", pending, err)
	}

	res, err := client.ProcessNext(ctx)
	if err != nil || res.Outcome != string(engine.OutcomeEmpty) {
		t.Fatalf("process empty: %+v err=%v", res, err)
	}

	if err := client.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	sess, _ = client.Session(ctx)
	if sess.Connected {
		t.Fatal("session should be cleared")
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, core.EventLampCollected)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// broadcast until the server side subscriber is registered
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				srv.hub.Broadcast(ctx, core.NewRangeDropped(core.BlockRange{From: 1, To: 2}))
				srv.hub.Broadcast(ctx, core.NewLampCollected("0xabc", "lamp-1", 10))
			}
		}
	}()

	select {
	case evt := <-events:
		if evt.Type != core.EventLampCollected || evt.Total != 10 {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range events {
	}
}
