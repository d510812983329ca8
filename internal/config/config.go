// Package config loads service configuration from a YAML file, a .env file
// and environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the wallet ledger service.
type Config struct {
	Solana  SolanaConfig  `yaml:"solana"`
	Helius  HeliusConfig  `yaml:"helius"`
	Pricing PricingConfig `yaml:"pricing"`
	Storage StorageConfig `yaml:"storage"`
	Polling PollingConfig `yaml:"polling"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// SolanaConfig configures RPC and websocket endpoints.
type SolanaConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	FallbackRPCURL string        `yaml:"fallback_rpc_url"`
	WSURL          string        `yaml:"ws_url"`     // empty disables push wakeups
	Commitment     string        `yaml:"commitment"` // processed, confirmed or finalized
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetryDelay  time.Duration `yaml:"max_retry_delay"`
}

// HeliusConfig configures transaction enrichment.
type HeliusConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// PricingConfig configures the price oracle.
type PricingConfig struct {
	DexScreenerURL string        `yaml:"dexscreener_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	Timeout        time.Duration `yaml:"timeout"`
}

// StorageConfig selects persistence backends. PostgresDSN is required unless
// the server runs with -use-memory. An empty ClickHouseDSN disables the archive.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// PollingConfig tunes the supervisor and its pollers.
type PollingConfig struct {
	Interval          time.Duration `yaml:"interval"`
	ErrorBackoff      time.Duration `yaml:"error_backoff"`
	PageSize          int           `yaml:"page_size"`
	MaxBatch          int           `yaml:"max_batch"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	ApplyTimeout      time.Duration `yaml:"apply_timeout"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	MissingRetries    int           `yaml:"missing_retries"` // negative skips unreturned signatures at once
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"` // empty disables auth
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Default returns a configuration with production defaults.
func Default() *Config {
	return &Config{
		Solana: SolanaConfig{
			RPCURL:        "https://api.mainnet-beta.solana.com",
			Commitment:    "confirmed",
			MaxRetries:    3,
			RetryDelay:    time.Second,
			MaxRetryDelay: 10 * time.Second,
		},
		Helius: HeliusConfig{
			BaseURL: "https://api.helius.xyz",
		},
		Pricing: PricingConfig{
			DexScreenerURL: "https://api.dexscreener.com",
			CacheTTL:       30 * time.Second,
			Timeout:        15 * time.Second,
		},
		Polling: PollingConfig{
			Interval:          15 * time.Second,
			ErrorBackoff:      20 * time.Second,
			PageSize:          25,
			MaxBatch:          20,
			CallTimeout:       20 * time.Second,
			ApplyTimeout:      2 * time.Minute,
			ReconcileInterval: 30 * time.Second,
			MissingRetries:    3,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. Priority order: environment variables >
// .env file > YAML file > defaults. An empty path skips the YAML file.
func Load(path string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Solana.RPCURL, "SOLANA_RPC_URL")
	setString(&c.Solana.FallbackRPCURL, "SOLANA_RPC_FALLBACK_URL")
	setString(&c.Solana.WSURL, "SOLANA_WS_URL")
	setString(&c.Solana.Commitment, "SOLANA_COMMITMENT")
	setString(&c.Helius.APIKey, "HELIUS_API_KEY")
	setString(&c.Helius.BaseURL, "HELIUS_BASE_URL")
	setString(&c.Pricing.DexScreenerURL, "DEXSCREENER_BASE_URL")
	setString(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Storage.ClickHouseDSN, "CLICKHOUSE_DSN")
	setString(&c.Storage.RedisAddr, "REDIS_ADDR")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.HTTP.JWTSecret, "JWT_SECRET")
	setString(&c.Logging.Level, "LOG_LEVEL")
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return errors.New("SOLANA_RPC_URL is required")
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return errors.Errorf("SOLANA_COMMITMENT %q must be processed, confirmed or finalized", c.Solana.Commitment)
	}
	if c.Solana.MaxRetries < 0 || c.Solana.RetryDelay <= 0 || c.Solana.MaxRetryDelay < c.Solana.RetryDelay {
		return errors.New("solana retry settings need max_retries >= 0 and 0 < retry_delay <= max_retry_delay")
	}
	if c.Helius.APIKey == "" {
		return errors.New("HELIUS_API_KEY is required")
	}
	if c.Helius.BaseURL == "" {
		return errors.New("HELIUS_BASE_URL is required")
	}
	if c.Pricing.DexScreenerURL == "" {
		return errors.New("DEXSCREENER_BASE_URL is required")
	}
	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be positive")
	}
	if c.Polling.PageSize < 1 || c.Polling.PageSize > 1000 {
		return errors.New("polling.page_size must be between 1 and 1000")
	}
	if c.Polling.MaxBatch < 1 || c.Polling.MaxBatch > c.Polling.PageSize {
		return errors.New("polling.max_batch must be between 1 and polling.page_size")
	}
	if c.HTTP.Addr == "" {
		return errors.New("HTTP_ADDR is required")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return errors.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

// MaskedHeliusKey returns the API key with most characters hidden for logging.
func (c *Config) MaskedHeliusKey() string {
	return maskSecret(c.Helius.APIKey)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}
