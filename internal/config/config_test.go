package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate clears every override and runs from an empty directory so no .env is picked up.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SOLANA_RPC_URL", "SOLANA_RPC_FALLBACK_URL", "SOLANA_WS_URL", "SOLANA_COMMITMENT", "HELIUS_API_KEY",
		"HELIUS_BASE_URL", "DEXSCREENER_BASE_URL", "POSTGRES_DSN", "CLICKHOUSE_DSN",
		"REDIS_ADDR", "HTTP_ADDR", "JWT_SECRET", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	isolate(t)
	t.Setenv("HELIUS_API_KEY", "secret-key-123456")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/ledger")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "secret-key-123456", cfg.Helius.APIKey)
	assert.Equal(t, "postgres://localhost/ledger", cfg.Storage.PostgresDSN)
	assert.Equal(t, 15*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 20, cfg.Polling.MaxBatch)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "confirmed", cfg.Solana.Commitment)
	assert.Equal(t, 10*time.Second, cfg.Solana.MaxRetryDelay)
}

func TestLoad_YAMLThenEnvOverride(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
solana:
  rpc_url: https://rpc.example.com
  ws_url: wss://rpc.example.com
  commitment: processed
  max_retries: 5
  retry_delay: 200ms
  max_retry_delay: 2s
helius:
  api_key: from-yaml
polling:
  interval: 5s
  page_size: 50
  max_batch: 10
http:
  addr: ":9000"
logging:
  level: debug
  format: console
`)
	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("SOLANA_COMMITMENT", "finalized")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.example.com", cfg.Solana.RPCURL)
	assert.Equal(t, "wss://rpc.example.com", cfg.Solana.WSURL)
	assert.Equal(t, "finalized", cfg.Solana.Commitment)
	assert.Equal(t, 5, cfg.Solana.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Solana.RetryDelay)
	assert.Equal(t, 2*time.Second, cfg.Solana.MaxRetryDelay)
	assert.Equal(t, "from-yaml", cfg.Helius.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 50, cfg.Polling.PageSize)
	assert.Equal(t, 10, cfg.Polling.MaxBatch)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, "console", cfg.Logging.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Polling.ReconcileInterval)
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("HELIUS_API_KEY=from-dotenv\n"), 0o600))
	// godotenv never overrides a variable that is set, even to "".
	require.NoError(t, os.Unsetenv("HELIUS_API_KEY"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Helius.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "polling: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HELIUS_API_KEY")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Helius.APIKey = "key"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing rpc", func(c *Config) { c.Solana.RPCURL = "" }, "SOLANA_RPC_URL"},
		{"missing helius key", func(c *Config) { c.Helius.APIKey = "" }, "HELIUS_API_KEY"},
		{"bad commitment", func(c *Config) { c.Solana.Commitment = "max" }, "SOLANA_COMMITMENT"},
		{"retry delay above max", func(c *Config) { c.Solana.RetryDelay = time.Minute }, "retry"},
		{"zero interval", func(c *Config) { c.Polling.Interval = 0 }, "polling.interval"},
		{"batch above page", func(c *Config) { c.Polling.MaxBatch = c.Polling.PageSize + 1 }, "max_batch"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMaskedHeliusKey(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "(not set)", cfg.MaskedHeliusKey())
	cfg.Helius.APIKey = "short"
	assert.Equal(t, "****", cfg.MaskedHeliusKey())
	cfg.Helius.APIKey = "abcd1234efgh"
	assert.Equal(t, "abcd****efgh", cfg.MaskedHeliusKey())
}
