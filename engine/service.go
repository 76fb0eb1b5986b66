package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lampkit/chain"
	"lampkit/core"
	"lampkit/fetcher"
	"lampkit/leaderboard"
	"lampkit/metrics"
	"lampkit/retry"
	"lampkit/retryqueue"
	"lampkit/scores"
	"lampkit/subscription"
)

// Options tunes the sync pipeline.
type Options struct {
	Retry        retry.Policy
	Fetch        fetcher.Config
	Queue        retryqueue.Config
	Cache        leaderboard.Config
	Dedupe       bool
	DedupeWindow int
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		Retry:        retry.DefaultPolicy(),
		Fetch:        fetcher.DefaultConfig(),
		Queue:        retryqueue.DefaultConfig(),
		Cache:        leaderboard.DefaultConfig(),
		Dedupe:       true,
		DedupeWindow: scores.DefaultDedupeWindow,
	}
}

// Deps are the external collaborators. Client is required; Subscriber,
// Wallet and Storage are optional.
type Deps struct {
	Client     chain.Client
	Subscriber chain.Subscriber
	Wallet     chain.Wallet
	Storage    Storage
	Bus        *EventBus
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Outcome is the result of processing one pending lamp.
type Outcome string

const (
	OutcomeEmpty     Outcome = "empty"
	OutcomeCollected Outcome = "collected"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Status summarizes the service for health checks.
type Status struct {
	Connected        bool          `json:"connected"`
	Address          core.PlayerID `json:"address,omitempty"`
	Subscribed       bool          `json:"subscribed"`
	LeaderboardFresh bool          `json:"leaderboard_fresh"`
	RetryQueueDepth  int           `json:"retry_queue_depth"`
	RangesDropped    uint64        `json:"ranges_dropped"`
	PendingLamps     int           `json:"pending_lamps"`
	EventsDropped    uint64        `json:"events_dropped"`
}

// Service is the outbound surface of the score pipeline: leaderboard reads,
// player scores, wallet session and lamp submissions.
type Service struct {
	client  chain.Client
	wallet  chain.Wallet
	storage Storage
	bus     *EventBus
	metrics *metrics.Metrics
	log     *slog.Logger
	policy  retry.Policy

	ledger   *scores.Ledger
	resolver *scores.Resolver
	queue    *retryqueue.Queue
	fetcher  *fetcher.Fetcher
	cache    *leaderboard.Cache
	listener *subscription.Listener

	mu      sync.Mutex
	address core.PlayerID
	pending []string

	// serializes lamp submissions
	submitMu sync.Mutex

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(opts Options, deps Deps) (*Service, error) {
	if deps.Client == nil {
		return nil, errors.New("engine: chain client is required")
	}
	if deps.Bus == nil {
		deps.Bus = NewEventBus(DispatchSync)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger

	window := opts.DedupeWindow
	if !opts.Dedupe {
		window = 0
	}
	ledger := scores.NewLedger(scores.WithDedupe(window), scores.WithMetrics(deps.Metrics),
		scores.WithLogger(log.With("component", "scores")))

	retryHook := func(call string, p retry.Policy) retry.Policy {
		p.OnRetry = func(err error, next time.Duration) {
			deps.Metrics.RemoteRetries.WithLabelValues(call).Inc()
			log.Debug("retrying remote call", "call", call, "in", next, "error", err)
		}
		return p
	}
	opts.Fetch.Retry = retryHook("get_logs", opts.Retry)
	opts.Queue.Retry = retryHook("get_logs_retry", opts.Retry)
	opts.Cache.Retry = retryHook("block_number", opts.Retry)
	if opts.Queue.MaxWidth == 0 {
		opts.Queue.MaxWidth = opts.Fetch.BlocksPerQuery
	}

	s := &Service{
		client:  deps.Client,
		wallet:  deps.Wallet,
		storage: deps.Storage,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		log:     log,
		policy:  retryHook("player_score", opts.Retry),
		ledger:  ledger,
	}
	s.resolver = scores.NewResolver(deps.Client, ledger, s.policy, log.With("component", "resolver"))
	s.queue = retryqueue.New(opts.Queue, deps.Client, ledger, deps.Bus, deps.Metrics, log.With("component", "retryqueue"))
	s.fetcher = fetcher.New(opts.Fetch, deps.Client, s.queue, ledger, deps.Metrics, log.With("component", "fetcher"))

	var store leaderboard.Store
	if deps.Storage != nil {
		store = deps.Storage
	}
	s.cache = leaderboard.NewCache(opts.Cache, leaderboard.Deps{
		Heights:   deps.Client,
		Events:    s.fetcher,
		Scores:    s.resolver,
		Store:     store,
		Publisher: deps.Bus,
		Metrics:   deps.Metrics,
		Logger:    log.With("component", "leaderboard"),
	})
	if deps.Subscriber != nil {
		s.listener = subscription.NewListener(deps.Subscriber, ledger, deps.Bus, opts.Retry, log.With("component", "subscription"))
	}
	return s, nil
}

// Start loads persisted state and launches the retry queue and live
// subscription. Only the first call has an effect.
func (s *Service) Start(ctx context.Context) error {
	var err error
	s.startOnce.Do(func() {
		if err = s.cache.Load(ctx); err != nil {
			s.log.Warn("ignoring unreadable persisted leaderboard", "error", err)
			err = nil
		}
		if err = s.loadPending(ctx); err != nil {
			return
		}
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		s.run(runCtx, "retryqueue", s.queue.Run)
		if s.listener != nil {
			s.run(runCtx, "subscription", s.listener.Run)
		}
		s.log.Info("score service started", "subscription", s.listener != nil, "signer", s.wallet != nil)
	})
	return err
}

func (s *Service) run(ctx context.Context, name string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("background task stopped", "task", name, "error", err)
		}
	}()
}

// Close stops background tasks and the event bus.
func (s *Service) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.bus.Close()
}

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) Publish(ctx context.Context, ev core.Event) {
	s.bus.Publish(ctx, ev)
}

func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// GetLeaderboard returns the cached leaderboard, refreshing it when stale.
func (s *Service) GetLeaderboard(ctx context.Context) []core.LeaderboardEntry {
	return s.cache.Get(ctx)
}

// Snapshot returns the stored leaderboard without refreshing.
func (s *Service) Snapshot() core.Snapshot { return s.cache.Snapshot() }

// PlayerScore returns the authoritative score, or the last known local
// value when the ledger cannot be reached.
func (s *Service) PlayerScore(ctx context.Context, player core.PlayerID) int64 {
	return s.resolver.Score(ctx, player)
}

// LocalScore returns the score accumulated from observed events.
func (s *Service) LocalScore(player core.PlayerID) int64 {
	return s.ledger.Score(player)
}

// HighScore returns the contract high score, 0 when unavailable.
func (s *Service) HighScore(ctx context.Context) int64 {
	high, err := retry.Do(ctx, s.policy, s.client.HighScore)
	if err != nil {
		s.log.Warn("high score query failed", "error", err)
		return 0
	}
	return high
}

// Address returns the connected account, if any.
func (s *Service) Address() (core.PlayerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address, s.address != ""
}

// Connect binds the signer account, resetting local score state.
func (s *Service) Connect(ctx context.Context) error {
	if s.wallet == nil {
		return core.ErrNoSigner
	}
	addr, err := core.NormalizePlayerID(s.wallet.Address())
	if err != nil {
		return fmt.Errorf("signer address: %w", err)
	}
	s.mu.Lock()
	s.address = addr
	s.mu.Unlock()
	s.ledger.Reset()
	s.cache.Invalidate()
	score := s.resolver.Score(ctx, addr)
	s.log.Info("wallet connected", "address", addr, "score", score)
	return nil
}

// Disconnect clears the account and local score state. The last leaderboard
// snapshot is kept but marked stale.
func (s *Service) Disconnect() {
	s.mu.Lock()
	addr := s.address
	s.address = ""
	s.mu.Unlock()
	s.ledger.Reset()
	s.cache.Invalidate()
	if addr != "" {
		s.log.Info("wallet disconnected", "address", addr)
	}
}

// CollectLamp submits one score increment and waits for it to be mined.
// Errors matching core.ErrRejected mean the signer declined.
func (s *Service) CollectLamp(ctx context.Context) (bool, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	return s.collect(ctx, "")
}

func (s *Service) collect(ctx context.Context, lampID string) (bool, error) {
	addr, ok := s.Address()
	if !ok || s.wallet == nil {
		return false, core.ErrNotConnected
	}
	tx, err := s.wallet.SubmitScoreIncrement(ctx)
	if err != nil {
		return false, fmt.Errorf("submit collectLamp: %w", err)
	}
	if err := tx.Wait(ctx); err != nil {
		return false, fmt.Errorf("confirm %s: %w", tx.Hash(), err)
	}
	total := s.resolver.Score(ctx, addr)
	s.cache.Invalidate()
	s.bus.Publish(ctx, core.NewLampCollected(addr, lampID, total))
	s.log.Info("lamp collected", "address", addr, "tx", tx.Hash(), "score", total)
	return true, nil
}

// EnqueueLamp records a collected lamp whose transaction is still to be sent.
func (s *Service) EnqueueLamp(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("lamp id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p == id {
			return nil
		}
	}
	s.pending = append(s.pending, id)
	return s.persistPendingLocked(ctx)
}

// Pending returns the queued lamp ids, oldest first.
func (s *Service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pending...)
}

// ProcessNext submits the oldest pending lamp. Success and user rejection
// remove it; any other failure keeps it for a later attempt.
func (s *Service) ProcessNext(ctx context.Context) (Outcome, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return OutcomeEmpty, nil
	}
	head := s.pending[0]
	s.mu.Unlock()

	_, err := s.collect(ctx, head)
	switch {
	case err == nil:
		return OutcomeCollected, s.removePending(ctx, head)
	case errors.Is(err, core.ErrRejected):
		addr, _ := s.Address()
		s.log.Info("lamp rejected by signer, dropping", "lamp", head)
		s.bus.Publish(ctx, core.NewLampRejected(addr, head))
		if perr := s.removePending(ctx, head); perr != nil {
			s.log.Warn("persist pending lamps failed", "error", perr)
		}
		return OutcomeRejected, err
	default:
		s.log.Warn("lamp submission failed, keeping it queued", "lamp", head, "error", err)
		return OutcomeFailed, err
	}
}

func (s *Service) removePending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == id {
			s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
			break
		}
	}
	return s.persistPendingLocked(ctx)
}

func (s *Service) persistPendingLocked(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	raw, err := json.Marshal(s.pending)
	if err != nil {
		return err
	}
	if err := s.storage.Put(ctx, KeyPending, raw); err != nil {
		return fmt.Errorf("persist pending lamps: %w", err)
	}
	return nil
}

func (s *Service) loadPending(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	raw, err := s.storage.Get(ctx, KeyPending)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load pending lamps: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		s.log.Warn("discarding unreadable pending lamps", "error", err)
		return nil
	}
	s.mu.Lock()
	s.pending = ids
	s.mu.Unlock()
	return nil
}

// RetryQueue exposes pending block ranges.
func (s *Service) RetryQueue() []core.BlockRange { return s.queue.Pending() }

// Status reports connection and pipeline health.
func (s *Service) Status() Status {
	addr, ok := s.Address()
	st := Status{
		Connected:        ok,
		Address:          addr,
		LeaderboardFresh: s.cache.Fresh(),
		RetryQueueDepth:  s.queue.Len(),
		RangesDropped:    s.queue.Dropped(),
		PendingLamps:     len(s.Pending()),
		EventsDropped:    s.bus.Dropped(),
	}
	if s.listener != nil {
		st.Subscribed = s.listener.Connected()
	}
	return st
}
