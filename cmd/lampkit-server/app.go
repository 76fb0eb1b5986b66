package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"lampkit/adapters/jsonfile"
	mem "lampkit/adapters/memory"
	redisAdapter "lampkit/adapters/redis"
	sqlxAdapter "lampkit/adapters/sqlx"
	"lampkit/api/httpapi"
	"lampkit/chain"
	"lampkit/chain/ethrpc"
	"lampkit/config"
	"lampkit/core"
	"lampkit/engine"
	"lampkit/integrations/webhook"
	"lampkit/lamp"
	"lampkit/metrics"
	"lampkit/realtime"
	"lampkit/retry"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Metrics *metrics.Metrics
	Service *engine.Service
	Handler http.Handler
	Server  *http.Server
}

// provideConfig reads LAMPKIT_CONFIG_FILE when set, the environment otherwise.
func provideConfig() (*config.Config, error) {
	if path := os.Getenv("LAMPKIT_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg, os.Stdout, os.Stderr)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideStorage(ctx context.Context, cfg *config.Config) (engine.Storage, func(), error) {
	return setupStorage(ctx, cfg)
}

func provideChainClient(cfg *config.Config, logger *slog.Logger) (*ethrpc.Client, error) {
	contract, err := ethrpc.NewContract(cfg.Chain.ContractAddress)
	if err != nil {
		return nil, err
	}
	return ethrpc.NewClient(cfg.Chain.RPCURL, contract,
		ethrpc.WithHTTPClient(&http.Client{Timeout: cfg.Chain.RequestTimeout}),
		ethrpc.WithLogger(logger.With("component", "ethrpc")),
	), nil
}

// provideWallet returns nil without a signer key; the service then runs
// read-only.
func provideWallet(cfg *config.Config, client *ethrpc.Client) (chain.Wallet, error) {
	if cfg.Chain.SignerKey == "" {
		return nil, nil
	}
	signer, err := ethrpc.NewKeySigner(cfg.Chain.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("signer key: %w", err)
	}
	w := ethrpc.NewWallet(client, signer)
	w.GasLimit = cfg.Chain.GasLimit
	w.PollInterval = cfg.Chain.ReceiptPollInterval
	return w, nil
}

func provideService(
	cfg *config.Config,
	client *ethrpc.Client,
	wallet chain.Wallet,
	storage engine.Storage,
	hub *realtime.Hub,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*engine.Service, error) {
	opts := []lamp.Option{
		lamp.WithClient(client),
		lamp.WithStorage(storage),
		lamp.WithOptions(cfg.Sync.EngineOptions()),
		lamp.WithRealtime(hub),
		lamp.WithDispatchMode(engine.DispatchAsync),
		lamp.WithMetrics(m),
		lamp.WithLogger(logger),
	}
	if wallet != nil {
		opts = append(opts, lamp.WithWallet(wallet))
	}
	if cfg.Sync.Subscribe && cfg.Chain.WSURL != "" {
		opts = append(opts, lamp.WithSubscriber(
			ethrpc.NewSubscriber(cfg.Chain.WSURL, client.Contract(), logger.With("component", "ethrpc-ws"))))
	}
	if len(cfg.Webhooks.Endpoints) > 0 {
		opts = append(opts, lamp.WithSink(newWebhookSink(cfg.Webhooks, logger)))
	}
	return lamp.New(opts...)
}

func newWebhookSink(cfg config.WebhookConfig, logger *slog.Logger) *webhook.Sink {
	types := make([]core.EventType, 0, len(cfg.Events))
	for _, e := range cfg.Events {
		types = append(types, core.EventType(e))
	}
	return webhook.New(cfg.Endpoints,
		webhook.WithClient(&http.Client{Timeout: cfg.Timeout}),
		webhook.WithTypes(types...),
		webhook.WithRetry(retry.Policy{Attempts: max(1, cfg.RetryAttempts), BaseDelay: cfg.Timeout / 4}),
		webhook.WithLogger(logger.With("component", "webhook")),
	)
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config, stdout, stderr io.Writer) *slog.Logger {
	var handler slog.Handler

	out := stdout
	if cfg.Logging.Output == "stderr" {
		out = stderr
	}
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter named by configuration. The
// returned cleanup releases connections.
func setupStorage(ctx context.Context, cfg *config.Config) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "file":
		s, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "redis":
		rc := redisAdapter.DefaultConfig()
		rc.Addr = cfg.Storage.Redis.Addr
		rc.Password = cfg.Storage.Redis.Password
		rc.DB = cfg.Storage.Redis.DB
		if cfg.Storage.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Storage.Redis.PoolSize
		}
		if cfg.Storage.Redis.KeyPrefix != "" {
			rc.KeyPrefix = cfg.Storage.Redis.KeyPrefix
		}
		s, err := redisAdapter.New(rc)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "sql":
		s, err := sqlxAdapter.Open(ctx, sqlxAdapter.Driver(cfg.Storage.SQL.Driver), cfg.Storage.SQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
