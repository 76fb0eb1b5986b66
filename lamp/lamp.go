// Package lamp assembles an engine.Service from functional options.
package lamp

import (
	"context"
	"errors"
	"log/slog"

	mem "lampkit/adapters/memory"
	"lampkit/chain"
	"lampkit/core"
	"lampkit/engine"
	"lampkit/metrics"
	"lampkit/realtime"
)

// Option configures the service builder.
type Option func(*config)

// EventSink receives every bus event, e.g. a webhook.Sink.
type EventSink interface {
	OnEvent(ctx context.Context, e core.Event)
}

type config struct {
	client     chain.Client
	subscriber chain.Subscriber
	wallet     chain.Wallet
	storage    engine.Storage
	mode       engine.DispatchMode
	opts       engine.Options
	hub        *realtime.Hub
	sinks      []EventSink
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// WithClient sets the ledger client. A client that also implements
// chain.Subscriber is used for the live subscription unless WithSubscriber
// overrides it.
func WithClient(c chain.Client) Option { return func(cfg *config) { cfg.client = c } }

// WithSubscriber sets the live event source.
func WithSubscriber(s chain.Subscriber) Option { return func(c *config) { c.subscriber = s } }

// WithWallet sets the signer used by Connect and CollectLamp.
func WithWallet(w chain.Wallet) Option { return func(c *config) { c.wallet = w } }

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithOptions replaces the engine timings.
func WithOptions(o engine.Options) Option { return func(c *config) { c.opts = o } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithSink forwards all engine events to s.
func WithSink(s EventSink) Option { return func(c *config) { c.sinks = append(c.sinks, s) } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *config) { c.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// New builds a configured Service. If not provided, defaults are used:
//   - storage: in-memory
//   - timings: engine.DefaultOptions
//   - dispatch: async
func New(opts ...Option) (*engine.Service, error) {
	cfg := &config{mode: engine.DispatchAsync, opts: engine.DefaultOptions()}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.client == nil {
		return nil, errors.New("lamp: a chain client is required")
	}
	if cfg.subscriber == nil {
		if s, ok := cfg.client.(chain.Subscriber); ok {
			cfg.subscriber = s
		}
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}

	bus := engine.NewEventBus(cfg.mode)
	if cfg.hub != nil {
		bus.Subscribe(engine.AllEvents, cfg.hub.Broadcast)
	}
	for _, s := range cfg.sinks {
		bus.Subscribe(engine.AllEvents, s.OnEvent)
	}

	return engine.NewService(cfg.opts, engine.Deps{
		Client:     cfg.client,
		Subscriber: cfg.subscriber,
		Wallet:     cfg.wallet,
		Storage:    cfg.storage,
		Bus:        bus,
		Metrics:    cfg.metrics,
		Logger:     cfg.logger,
	})
}
