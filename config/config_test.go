package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbeta/internal/cache"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no .env here
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, 20, cfg.Scanner.Tier1Concurrency)
	assert.Equal(t, 60*time.Second, cfg.Runner.Interval)
	assert.Equal(t, "@every 15m", cfg.Warmer.Schedule)
	assert.False(t, cfg.LiveBroker())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, `
http_addr: ":9000"
redis:
  addr: "redis:6379"
scanner:
  tier2_top_k: 25
cache_ttls:
  lightweight: 5m
runner:
  interval: 30s
warmer:
  warm_market_hours_only: true
`)
	t.Setenv("REDIS_ADDR", "other:6379")
	t.Setenv("RUNNER_INTERVAL", "2m")
	t.Setenv("ALPACA_API_KEY_ID", "key")
	t.Setenv("ALPACA_API_SECRET_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "other:6379", cfg.Redis.Addr, "env overrides yaml")
	assert.Equal(t, 25, cfg.Scanner.Tier2TopK)
	assert.Equal(t, 5, cfg.Scanner.Tier2Concurrency, "untouched fields keep defaults")
	assert.Equal(t, 5*time.Minute, cfg.TTLs()[cache.Lightweight])
	assert.Equal(t, 2*time.Minute, cfg.RunnerSettings().Interval)
	assert.Equal(t, 290, cfg.RunnerSettings().LookbackDays)
	assert.True(t, cfg.WarmerSettings().MarketHoursOnly)
	assert.True(t, cfg.LiveBroker())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FINNHUB_API_KEY=from-dotenv\n"), 0o600))
	t.Setenv("FINNHUB_API_KEY", "")
	os.Unsetenv("FINNHUB_API_KEY")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Providers.FinnhubAPIKey)
}

func TestLoad_BadInputs(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(writeFile(t, "http_addr: [unclosed"))
	assert.Error(t, err)

	t.Setenv("RUNNER_INTERVAL", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "RUNNER_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero tier1", func(c *Config) { c.Scanner.Tier1Concurrency = 0 }, "scanner.tier1_concurrency"},
		{"negative ttl", func(c *Config) { c.CacheTTLs.Endpoint = -time.Second }, "cache_ttls.endpoint"},
		{"zero rate", func(c *Config) { c.Providers.RateLimit = 0 }, "providers.rate_limit"},
		{"half alpaca", func(c *Config) { c.Alpaca.KeyID = "k" }, "alpaca"},
		{"bad cron", func(c *Config) { c.Warmer.Schedule = "every so often" }, "warmer.schedule"},
		{"negative redis db", func(c *Config) { c.Redis.DB = -1 }, "redis.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.Warmer.Enabled = false
	cfg.Warmer.Schedule = "ignored when disabled"
	assert.NoError(t, cfg.Validate())
}
