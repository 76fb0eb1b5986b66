package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(field, value string, allowed ...string) string {
	if slices.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}
	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}
	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return joinErrs(errs)
}

// Validate checks endpoints, the contract address and the signer key shape.
func (c *ChainConfig) Validate() error {
	var errs []string

	if u, err := url.Parse(c.RPCURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "rpc_url must be an http(s) URL")
	}
	if c.WSURL != "" {
		if u, err := url.Parse(c.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, "ws_url must be a ws(s) URL")
		}
	}
	if !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, "contract_address must be a hex address")
	}
	if c.SignerKey != "" {
		key := strings.TrimPrefix(c.SignerKey, "0x")
		if len(key) != 64 {
			errs = append(errs, "signer_key must be 32 hex bytes")
		}
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "request_timeout must be positive")
	}
	if c.ReceiptPollInterval <= 0 {
		errs = append(errs, "receipt_poll_interval must be positive")
	}
	if c.GasLimit == 0 {
		errs = append(errs, "gas_limit must be positive")
	}

	return joinErrs(errs)
}

// Validate validates sync tuning
func (s *SyncConfig) Validate() error {
	var errs []string

	if s.BlocksPerQuery == 0 {
		errs = append(errs, "blocks_per_query must be positive")
	}
	if s.RequestDelay < 0 {
		errs = append(errs, "request_delay cannot be negative")
	}
	if s.RetryAttempts < 1 {
		errs = append(errs, "retry_attempts must be at least 1")
	}
	if s.RetryBaseDelay <= 0 {
		errs = append(errs, "retry_base_delay must be positive")
	}
	if s.CacheTTL <= 0 {
		errs = append(errs, "cache_ttl must be positive")
	}
	if s.ScoreBatchSize < 1 {
		errs = append(errs, "score_batch_size must be at least 1")
	}
	if s.ScoreBatchDelay < 0 {
		errs = append(errs, "score_batch_delay cannot be negative")
	}
	if s.RetryQueueCapacity < 1 {
		errs = append(errs, "retry_queue_capacity must be at least 1")
	}
	if s.RetryQueueIdle <= 0 {
		errs = append(errs, "retry_queue_idle must be positive")
	}
	if s.RetryQueueThrottle < 0 {
		errs = append(errs, "retry_queue_throttle cannot be negative")
	}
	if s.Dedupe && s.DedupeWindow < 1 {
		errs = append(errs, "dedupe_window must be positive when dedupe is enabled")
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if msg := oneOf("adapter", s.Adapter, "memory", "redis", "sql", "file"); msg != "" {
		errs = append(errs, msg)
	}

	switch s.Adapter {
	case "redis":
		if err := s.Redis.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("redis config: %v", err))
		}
	case "sql":
		if err := s.SQL.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("sql config: %v", err))
		}
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	}

	return joinErrs(errs)
}

// Validate validates Redis configuration
func (r *RedisConfig) Validate() error {
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "addr cannot be empty")
	}
	if r.DB < 0 {
		errs = append(errs, "db cannot be negative")
	}
	if r.PoolSize < 0 {
		errs = append(errs, "pool_size cannot be negative")
	}
	return joinErrs(errs)
}

// Validate validates SQL configuration
func (q *SQLConfig) Validate() error {
	var errs []string
	if msg := oneOf("driver", q.Driver, "postgres", "sqlite", "mysql"); msg != "" {
		errs = append(errs, msg)
	}
	if q.DSN == "" {
		errs = append(errs, "dsn cannot be empty")
	}
	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	for _, msg := range []string{
		oneOf("level", l.Level, "debug", "info", "warn", "error"),
		oneOf("format", l.Format, "json", "text"),
		oneOf("output", l.Output, "stdout", "stderr"),
	} {
		if msg != "" {
			errs = append(errs, msg)
		}
	}

	return joinErrs(errs)
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Address == "" {
		errs = append(errs, "address cannot be empty when metrics are enabled")
	}
	if !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, "path must start with / when metrics are enabled")
	}
	return joinErrs(errs)
}

// Validate validates security configuration
func (s *SecurityConfig) Validate() error {
	var errs []string

	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "requests_per_minute must be positive when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "burst_size must be positive when rate limiting is enabled")
		}
		if s.RateLimit.CleanupInterval <= 0 {
			errs = append(errs, "cleanup_interval must be positive when rate limiting is enabled")
		}
	}
	for _, k := range s.APIKeys {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, "api_keys cannot contain empty keys")
			break
		}
	}

	return joinErrs(errs)
}

// Validate validates webhook delivery configuration
func (w *WebhookConfig) Validate() error {
	var errs []string
	for _, e := range w.Endpoints {
		if u, err := url.Parse(e); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("endpoint %q must be an http(s) URL", e))
		}
	}
	if len(w.Endpoints) > 0 && w.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if w.RetryAttempts < 0 {
		errs = append(errs, "retry_attempts cannot be negative")
	}
	return joinErrs(errs)
}
