// Package config loads the API server configuration from an optional YAML
// file, a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"shadowbeta/internal/cache"
	"shadowbeta/internal/scanner"
	"shadowbeta/internal/scheduler"
	"shadowbeta/internal/strategy"
)

// Config holds all application configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	Redis      RedisConfig `yaml:"redis"` // empty addr → in-memory cache
	SQLitePath string      `yaml:"sqlite_path"`
	Mongo      MongoConfig `yaml:"mongo"` // empty uri → SQLite strategy store

	Providers ProviderConfig `yaml:"providers"`
	Alpaca    AlpacaConfig   `yaml:"alpaca"` // no keys → paper broker

	DiscordWebhookURL string `yaml:"discord_webhook_url"`

	CacheTTLs  TTLConfig      `yaml:"cache_ttls"`
	Scanner    scanner.Config `yaml:"scanner"`
	Runner     RunnerConfig   `yaml:"runner"`
	Warmer     WarmerConfig   `yaml:"warmer"`
	ReplaySize int            `yaml:"replay_size"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type ProviderConfig struct {
	YahooBaseURL   string        `yaml:"yahoo_base_url"`
	FinnhubBaseURL string        `yaml:"finnhub_base_url"`
	FinnhubAPIKey  string        `yaml:"finnhub_api_key"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second across all symbols
	Burst          int           `yaml:"burst"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
}

type AlpacaConfig struct {
	KeyID     string `yaml:"key_id"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"`
}

type TTLConfig struct {
	Universe     time.Duration `yaml:"universe"`
	FullAnalysis time.Duration `yaml:"full_analysis"`
	Lightweight  time.Duration `yaml:"lightweight"`
	Endpoint     time.Duration `yaml:"endpoint"`
}

type RunnerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

type WarmerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Schedule        string `yaml:"schedule"`
	RefreshSchedule string `yaml:"refresh_schedule"`
	MarketHoursOnly bool   `yaml:"warm_market_hours_only"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	runner := strategy.DefaultRunnerConfig()
	warmer := scheduler.DefaultConfig()
	return &Config{
		HTTPAddr:    ":8000",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		SQLitePath:  "data/shadowbeta.db",
		Redis:       RedisConfig{Prefix: "shadowbeta"},
		Mongo:       MongoConfig{Database: "shadowbeta"},
		Providers: ProviderConfig{
			RateLimit:    10,
			Burst:        20,
			FetchTimeout: 10 * time.Second,
		},
		CacheTTLs: TTLConfig{
			Universe:     cache.DefaultTTLs[cache.Universe],
			FullAnalysis: cache.DefaultTTLs[cache.FullAnalysis],
			Lightweight:  cache.DefaultTTLs[cache.Lightweight],
			Endpoint:     cache.DefaultTTLs[cache.Endpoint],
		},
		Scanner: scanner.DefaultConfig(),
		Runner: RunnerConfig{
			Interval:     runner.Interval,
			ErrorBackoff: runner.ErrorBackoff,
		},
		Warmer: WarmerConfig{
			Enabled:         true,
			Schedule:        warmer.WarmSpec,
			RefreshSchedule: warmer.RefreshSpec,
		},
		ReplaySize: 500,
	}
}

// Load reads the YAML file at path (a missing file is not an error), loads
// .env into the environment when present, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", slog.String("component", "config"), slog.String("err", err.Error()))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.Mongo.URI, "MONGO_URI")
	setString(&c.Mongo.Database, "MONGO_DB")

	setString(&c.Providers.YahooBaseURL, "YAHOO_BASE_URL")
	setString(&c.Providers.FinnhubAPIKey, "FINNHUB_API_KEY")
	setString(&c.Alpaca.KeyID, "ALPACA_API_KEY_ID")
	setString(&c.Alpaca.SecretKey, "ALPACA_API_SECRET_KEY")
	setString(&c.Alpaca.BaseURL, "ALPACA_BASE_URL")
	setString(&c.DiscordWebhookURL, "DISCORD_WEBHOOK_URL")

	setString(&c.Warmer.Schedule, "WARM_SCHEDULE")
	setString(&c.Warmer.RefreshSchedule, "REFRESH_SCHEDULE")

	var errs []error
	errs = append(errs,
		setInt(&c.Redis.DB, "REDIS_DB"),
		setFloat(&c.Providers.RateLimit, "PROVIDER_RATE_LIMIT"),
		setDuration(&c.Providers.FetchTimeout, "FETCH_TIMEOUT"),
		setDuration(&c.Runner.Interval, "RUNNER_INTERVAL"),
		setBool(&c.Warmer.Enabled, "WARM_ENABLED"),
		setBool(&c.Warmer.MarketHoursOnly, "WARM_MARKET_HOURS_ONLY"),
	)
	return errors.Join(errs...)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positiveDur := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path is required"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("redis.db must not be negative, got %d", c.Redis.DB))
	}

	positive("scanner.tier1_concurrency", c.Scanner.Tier1Concurrency)
	positive("scanner.tier2_concurrency", c.Scanner.Tier2Concurrency)
	positive("scanner.tier2_top_k", c.Scanner.Tier2TopK)
	positive("scanner.batch_concurrency", c.Scanner.BatchConcurrency)
	positive("providers.burst", c.Providers.Burst)
	positive("replay_size", c.ReplaySize)
	if c.Providers.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("providers.rate_limit must be positive, got %g", c.Providers.RateLimit))
	}

	positiveDur("providers.fetch_timeout", c.Providers.FetchTimeout)
	positiveDur("cache_ttls.universe", c.CacheTTLs.Universe)
	positiveDur("cache_ttls.full_analysis", c.CacheTTLs.FullAnalysis)
	positiveDur("cache_ttls.lightweight", c.CacheTTLs.Lightweight)
	positiveDur("cache_ttls.endpoint", c.CacheTTLs.Endpoint)
	positiveDur("runner.interval", c.Runner.Interval)
	positiveDur("runner.error_backoff", c.Runner.ErrorBackoff)

	if (c.Alpaca.KeyID == "") != (c.Alpaca.SecretKey == "") {
		errs = append(errs, errors.New("alpaca.key_id and alpaca.secret_key must be set together"))
	}

	if c.Warmer.Enabled {
		for name, spec := range map[string]string{
			"warmer.schedule":         c.Warmer.Schedule,
			"warmer.refresh_schedule": c.Warmer.RefreshSchedule,
		} {
			if _, err := cron.ParseStandard(spec); err != nil {
				errs = append(errs, fmt.Errorf("%s %q: %w", name, spec, err))
			}
		}
	}
	return errors.Join(errs...)
}

// LiveBroker reports whether Alpaca credentials are configured.
func (c *Config) LiveBroker() bool { return c.Alpaca.KeyID != "" && c.Alpaca.SecretKey != "" }

// TTLs returns the cache TTL map for cache.NewManager.
func (c *Config) TTLs() map[cache.Name]time.Duration {
	return map[cache.Name]time.Duration{
		cache.Universe:     c.CacheTTLs.Universe,
		cache.FullAnalysis: c.CacheTTLs.FullAnalysis,
		cache.Lightweight:  c.CacheTTLs.Lightweight,
		cache.Endpoint:     c.CacheTTLs.Endpoint,
	}
}

// RunnerSettings returns the strategy runner configuration.
func (c *Config) RunnerSettings() strategy.RunnerConfig {
	rc := strategy.DefaultRunnerConfig()
	rc.Interval = c.Runner.Interval
	rc.ErrorBackoff = c.Runner.ErrorBackoff
	return rc
}

// WarmerSettings returns the cache warmer configuration.
func (c *Config) WarmerSettings() scheduler.Config {
	wc := scheduler.DefaultConfig()
	wc.WarmSpec = c.Warmer.Schedule
	wc.RefreshSpec = c.Warmer.RefreshSchedule
	wc.MarketHoursOnly = c.Warmer.MarketHoursOnly
	return wc
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
