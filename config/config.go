package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"LAMPKIT_ENV"`
	Profile     string      `json:"profile" env:"LAMPKIT_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Remote ledger connection
	Chain ChainConfig `json:"chain"`

	// Event sync, cache and retry tuning
	Sync SyncConfig `json:"sync"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Metrics and monitoring
	Metrics MetricsConfig `json:"metrics"`

	// Security configuration
	Security SecurityConfig `json:"security"`

	// Outbound event delivery
	Webhooks WebhookConfig `json:"webhooks"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"LAMPKIT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"LAMPKIT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"LAMPKIT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"LAMPKIT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"LAMPKIT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"LAMPKIT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"LAMPKIT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"LAMPKIT_SERVER_SHUTDOWN_TIMEOUT"`
}

// ChainConfig locates the RPC endpoints and the lamp contract.
type ChainConfig struct {
	RPCURL          string `json:"rpc_url" env:"LAMPKIT_CHAIN_RPC_URL"`
	WSURL           string `json:"ws_url,omitempty" env:"LAMPKIT_CHAIN_WS_URL"`
	ContractAddress string `json:"contract_address" env:"LAMPKIT_CHAIN_CONTRACT"`
	// SignerKey is a hex private key. Without it the service is read-only.
	SignerKey           string        `json:"signer_key,omitempty" env:"LAMPKIT_CHAIN_SIGNER_KEY"`
	RequestTimeout      time.Duration `json:"request_timeout" env:"LAMPKIT_CHAIN_REQUEST_TIMEOUT"`
	ReceiptPollInterval time.Duration `json:"receipt_poll_interval" env:"LAMPKIT_CHAIN_RECEIPT_POLL"`
	GasLimit            uint64        `json:"gas_limit" env:"LAMPKIT_CHAIN_GAS_LIMIT"`
}

// SyncConfig tunes event fetching, the leaderboard cache and the retry queue.
type SyncConfig struct {
	BlocksPerQuery     uint64        `json:"blocks_per_query" env:"LAMPKIT_SYNC_BLOCKS_PER_QUERY"`
	RequestDelay       time.Duration `json:"request_delay" env:"LAMPKIT_SYNC_REQUEST_DELAY"`
	RetryAttempts      int           `json:"retry_attempts" env:"LAMPKIT_SYNC_RETRY_ATTEMPTS"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay" env:"LAMPKIT_SYNC_RETRY_BASE_DELAY"`
	CacheTTL           time.Duration `json:"cache_ttl" env:"LAMPKIT_SYNC_CACHE_TTL"`
	LookbackBlocks     uint64        `json:"lookback_blocks" env:"LAMPKIT_SYNC_LOOKBACK_BLOCKS"`
	ScoreBatchSize     int           `json:"score_batch_size" env:"LAMPKIT_SYNC_SCORE_BATCH_SIZE"`
	ScoreBatchDelay    time.Duration `json:"score_batch_delay" env:"LAMPKIT_SYNC_SCORE_BATCH_DELAY"`
	RetryQueueCapacity int           `json:"retry_queue_capacity" env:"LAMPKIT_SYNC_RETRY_QUEUE_CAPACITY"`
	RetryQueueIdle     time.Duration `json:"retry_queue_idle" env:"LAMPKIT_SYNC_RETRY_QUEUE_IDLE"`
	RetryQueueThrottle time.Duration `json:"retry_queue_throttle" env:"LAMPKIT_SYNC_RETRY_QUEUE_THROTTLE"`
	Dedupe             bool          `json:"dedupe" env:"LAMPKIT_SYNC_DEDUPE"`
	DedupeWindow       int           `json:"dedupe_window" env:"LAMPKIT_SYNC_DEDUPE_WINDOW"`
	Subscribe          bool          `json:"subscribe" env:"LAMPKIT_SYNC_SUBSCRIBE"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string      `json:"adapter" env:"LAMPKIT_STORAGE_ADAPTER"`
	Redis   RedisConfig `json:"redis,omitempty"`
	SQL     SQLConfig   `json:"sql,omitempty"`
	File    FileConfig  `json:"file,omitempty"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `json:"addr" env:"LAMPKIT_STORAGE_REDIS_ADDR"`
	Password  string `json:"password,omitempty" env:"LAMPKIT_STORAGE_REDIS_PASSWORD"`
	DB        int    `json:"db" env:"LAMPKIT_STORAGE_REDIS_DB"`
	PoolSize  int    `json:"pool_size" env:"LAMPKIT_STORAGE_REDIS_POOL_SIZE"`
	KeyPrefix string `json:"key_prefix" env:"LAMPKIT_STORAGE_REDIS_PREFIX"`
}

// SQLConfig holds SQL database settings
type SQLConfig struct {
	Driver string `json:"driver" env:"LAMPKIT_STORAGE_SQL_DRIVER"`
	DSN    string `json:"dsn" env:"LAMPKIT_STORAGE_SQL_DSN"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"LAMPKIT_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"LAMPKIT_LOG_LEVEL"`
	Format     string            `json:"format" env:"LAMPKIT_LOG_FORMAT"`
	Output     string            `json:"output" env:"LAMPKIT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" env:"LAMPKIT_LOG_ATTRIBUTES"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"LAMPKIT_METRICS_ENABLED"`
	Address string `json:"address" env:"LAMPKIT_METRICS_ADDR"`
	Path    string `json:"path" env:"LAMPKIT_METRICS_PATH"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"LAMPKIT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"LAMPKIT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"LAMPKIT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"LAMPKIT_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"LAMPKIT_SECURITY_RATE_LIMIT_CLEANUP"`
}

// WebhookConfig lists endpoints that receive bus events.
type WebhookConfig struct {
	Endpoints     []string      `json:"endpoints,omitempty" env:"LAMPKIT_WEBHOOK_ENDPOINTS"`
	Events        []string      `json:"events,omitempty" env:"LAMPKIT_WEBHOOK_EVENTS"`
	Timeout       time.Duration `json:"timeout" env:"LAMPKIT_WEBHOOK_TIMEOUT"`
	RetryAttempts int           `json:"retry_attempts" env:"LAMPKIT_WEBHOOK_RETRY_ATTEMPTS"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Chain: ChainConfig{
			RPCURL:              "http://127.0.0.1:8545",
			ContractAddress:     "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			RequestTimeout:      15 * time.Second,
			ReceiptPollInterval: time.Second,
			GasLimit:            120_000,
		},
		Sync: SyncConfig{
			BlocksPerQuery:     5,
			RequestDelay:       200 * time.Millisecond,
			RetryAttempts:      3,
			RetryBaseDelay:     time.Second,
			CacheTTL:           30 * time.Second,
			LookbackBlocks:     50,
			ScoreBatchSize:     3,
			ScoreBatchDelay:    100 * time.Millisecond,
			RetryQueueCapacity: 50,
			RetryQueueIdle:     5 * time.Second,
			RetryQueueThrottle: 2 * time.Second,
			Dedupe:             true,
			DedupeWindow:       10000,
			Subscribe:          true,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "lampkit:",
			},
			SQL: SQLConfig{
				Driver: "sqlite",
				DSN:    "./data/lampkit.db",
			},
			File: FileConfig{
				Path: "./data/lampkit.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
		Webhooks: WebhookConfig{
			Timeout:       2 * time.Second,
			RetryAttempts: 1,
		},
	}
}

// LoadProfile returns the defaults of a named deployment profile with
// environment overrides applied.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Environment = EnvDevelopment
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Sync.Subscribe = false
		cfg.Sync.RequestDelay = 0
		cfg.Sync.RetryBaseDelay = 10 * time.Millisecond
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = "file"
		cfg.Metrics.Enabled = true
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = "redis"
		cfg.Metrics.Enabled = true
		cfg.Security.EnableRateLimit = true
		cfg.Server.CORSOrigin = ""
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		err  error
	}{
		{"server", c.Server.Validate()},
		{"chain", c.Chain.Validate()},
		{"sync", c.Sync.Validate()},
		{"storage", c.Storage.Validate()},
		{"logging", c.Logging.Validate()},
		{"metrics", c.Metrics.Validate()},
		{"security", c.Security.Validate()},
		{"webhooks", c.Webhooks.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, s.err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Chain.SignerKey != "" {
		cfg.Chain.SignerKey = "[REDACTED]"
	}
	if len(cfg.Security.APIKeys) > 0 {
		cfg.Security.APIKeys = []string{"[REDACTED]"}
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
