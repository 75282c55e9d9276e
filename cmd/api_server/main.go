// cmd/api_server runs the dashboard backend: scan and stock endpoints, the
// strategy runner, backtests, the runner websocket and the cache warmer.
//
// Usage:
//
//	go run ./cmd/api_server --config config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"shadowbeta/config"
	"shadowbeta/internal/api"
	"shadowbeta/internal/backtest"
	"shadowbeta/internal/cache"
	"shadowbeta/internal/execution"
	"shadowbeta/internal/gateway"
	"shadowbeta/internal/logger"
	"shadowbeta/internal/marketdata"
	"shadowbeta/internal/markethours"
	"shadowbeta/internal/metrics"
	"shadowbeta/internal/model"
	"shadowbeta/internal/notification"
	"shadowbeta/internal/scanner"
	"shadowbeta/internal/scheduler"
	mongostore "shadowbeta/internal/store/mongo"
	redisstore "shadowbeta/internal/store/redis"
	sqlitestore "shadowbeta/internal/store/sqlite"
	"shadowbeta/internal/strategy"
)

// runnerHealth mirrors runner activity into both metrics and /healthz.
type runnerHealth struct {
	*metrics.Metrics
	health *metrics.HealthStatus
}

func (r runnerHealth) RunnerActive(active bool) {
	r.Metrics.RunnerActive(active)
	r.health.SetRunnerActive(active)
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.Init("api_server", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()
	var probes metrics.Probes

	// ---- Cache tier: Redis when configured, otherwise in-process ----
	var cacheStore cache.Store = cache.NewMemoryStore(time.Now)
	var redisCache *redisstore.CacheStore
	if cfg.Redis.Addr != "" {
		redisCache, err = redisstore.NewCacheStore(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			log.Warn("redis unavailable, using in-memory cache", "err", err)
			redisCache = nil
		} else {
			redisCache.OnBreakerChange(func(from, to redisstore.State) {
				prom.BreakerStateChanged(int(from), int(to))
			})
			cacheStore = redisCache
			probes.Redis = redisCache.Client()
			defer redisCache.Close()
		}
	}
	caches := cache.NewManager(cacheStore, cfg.TTLs(),
		cache.WithObserver(prom),
		cache.WithLogger(log),
	)

	// ---- Market data providers ----
	yahoo := marketdata.NewYahoo(cfg.Providers.YahooBaseURL, cfg.Providers.FetchTimeout)
	fetcher := marketdata.NewThrottled(yahoo, cfg.Providers.RateLimit, cfg.Providers.Burst, cfg.Providers.FetchTimeout)
	var lister model.SymbolLister
	if cfg.Providers.FinnhubAPIKey != "" {
		lister = marketdata.NewFinnhub(cfg.Providers.FinnhubBaseURL, cfg.Providers.FinnhubAPIKey, cfg.Providers.FetchTimeout)
	} else {
		log.Info("no finnhub key, exchange-wide scans use the fallback universe")
	}

	sc := scanner.New(fetcher, lister, caches, cfg.Scanner,
		scanner.WithObserver(prom),
		scanner.WithLogger(log),
	)

	// ---- Persistence ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("create data dir failed", "dir", dir, "err", err)
			os.Exit(1)
		}
	}
	journal, err := execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Error("trade journal init failed", "err", err)
		os.Exit(1)
	}
	defer journal.Close()
	probes.SQLite = journal.DB()

	var strategies model.StrategyStore
	if cfg.Mongo.URI != "" {
		ms, err := mongostore.NewStrategyStore(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			log.Error("mongo strategy store init failed", "err", err)
			os.Exit(1)
		}
		probes.Mongo = ms.Ping
		strategies = ms
		log.Info("strategy store: mongo", "database", cfg.Mongo.Database)
	} else {
		ss, err := sqlitestore.NewStrategyStore(cfg.SQLitePath)
		if err != nil {
			log.Error("sqlite strategy store init failed", "err", err)
			os.Exit(1)
		}
		strategies = ss
		log.Info("strategy store: sqlite", "path", cfg.SQLitePath)
	}
	defer strategies.Close()

	health.StartLivenessChecker(ctx, probes, 15*time.Second)

	// ---- Runner event fan-out: websocket hub (via Redis when shared) + notifier ----
	hub := gateway.NewHub(cfg.ReplaySize, gateway.WithObserver(prom), gateway.WithLogger(log))
	defer hub.Close()

	var wsOut model.Broadcaster = hub
	if redisCache != nil {
		relay := gateway.NewRedisRelay(redisCache.Client(), "", hub)
		go relay.Run(ctx)
		wsOut = relay
	}

	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.DiscordWebhookURL != "" {
		notifier = notification.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}
	forwarder := notification.NewForwarder(notifier, 128)
	go forwarder.Run(ctx)

	// ---- Broker: Alpaca when keyed, otherwise paper ----
	runnerOpts := []strategy.RunnerOption{
		strategy.WithStrategies(strategies),
		strategy.WithBroadcaster(gateway.NewTee(wsOut, forwarder)),
		strategy.WithJournal(journal),
		strategy.WithRunnerObserver(runnerHealth{Metrics: prom, health: health}),
		strategy.WithRunnerLogger(log),
	}
	var broker model.Broker
	if cfg.LiveBroker() {
		alpaca, err := execution.NewAlpaca(execution.AlpacaConfig{
			KeyID:     cfg.Alpaca.KeyID,
			SecretKey: cfg.Alpaca.SecretKey,
			BaseURL:   cfg.Alpaca.BaseURL,
		})
		if err != nil {
			log.Error("alpaca init failed", "err", err)
			os.Exit(1)
		}
		broker = alpaca
		runnerOpts = append(runnerOpts, strategy.WithBroker(alpaca))
		log.Info("broker: alpaca", "paper_account", alpaca.Paper())
	} else {
		paper := execution.NewPaperBroker()
		broker = paper
		runnerOpts = append(runnerOpts, strategy.WithPaperBook(paper))
		log.Info("broker: paper (no alpaca keys)")
	}

	runner := strategy.NewRunner(fetcher, cfg.RunnerSettings(), runnerOpts...)
	bt := backtest.New(fetcher, backtest.DefaultConfig(), log)

	// ---- Cache warmer ----
	var warmer *scheduler.CacheWarmer
	if cfg.Warmer.Enabled {
		warmer = scheduler.NewCacheWarmer(sc, caches, cfg.WarmerSettings(),
			scheduler.WithObserver(prom),
			scheduler.WithLogger(log),
		)
		if err := warmer.Start(ctx); err != nil {
			log.Error("cache warmer start failed", "err", err)
			os.Exit(1)
		}
		go warmer.Warm(ctx)
	}

	// ---- HTTP ----
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		Scanner:       sc,
		Runner:        runner,
		Backtester:    bt,
		Strategies:    strategies,
		Trades:        journal,
		Broker:        broker,
		Caches:        caches,
		Hub:           hub,
		Health:        health,
		RunnerContext: ctx,
		Logger:        log,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("api server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server error", "err", err)
			sigCh <- syscall.SIGTERM
		}
	}()
	log.Info(markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Info("shutdown signal received, cleaning up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if runner.Stop() == strategy.StatusStopping {
		select {
		case <-runner.Done():
		case <-shutdownCtx.Done():
			log.Warn("runner did not stop in time")
		}
	}
	if warmer != nil {
		warmer.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api server shutdown", "err", err)
	}
	cancel()
	metricsSrv.Stop(shutdownCtx)

	log.Info("shutdown complete")
}
