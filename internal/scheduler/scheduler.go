// Package scheduler runs the periodic cache warmer.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"shadowbeta/internal/cache"
	"shadowbeta/internal/marketdata"
	"shadowbeta/internal/markethours"
	"shadowbeta/internal/model"
)

// Job names used in logs and metrics.
const (
	JobWarm    = "warm"
	JobRefresh = "refresh"
)

// Run outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Config controls the warmer schedules.
type Config struct {
	WarmSpec        string // cron spec, default "@every 15m"
	RefreshSpec     string // cron spec, default "@hourly"
	TopN            int    // curated symbols warmed per run, default 20
	MarketHoursOnly bool   // skip runs outside the NYSE session and pre-open window
	RunTimeout      time.Duration
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		WarmSpec:    "@every 15m",
		RefreshSpec: "@hourly",
		TopN:        20,
		RunTimeout:  5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WarmSpec == "" {
		c.WarmSpec = d.WarmSpec
	}
	if c.RefreshSpec == "" {
		c.RefreshSpec = d.RefreshSpec
	}
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	return c
}

// Warmer is the scanner surface the warmer drives.
type Warmer interface {
	WarmLightweight(ctx context.Context, tickers []string) int
	RefreshFastScan(ctx context.Context) model.FastScanResult
}

// Clearer drops whole caches.
type Clearer interface {
	Clear(ctx context.Context, name cache.Name) error
}

// Observer receives one call per job run.
type Observer interface {
	WarmerRun(job, outcome string)
}

type nopObserver struct{}

func (nopObserver) WarmerRun(string, string) {}

// CacheWarmer keeps the lightweight and fast-scan caches hot on a cron
// schedule. Runs never overlap. A warm that finds another run in progress
// is skipped; a refresh waits for it, since its clear must not be lost.
// At most one refresh waits at a time.
type CacheWarmer struct {
	cfg     Config
	scanner Warmer
	caches  Clearer
	obs     Observer
	log     *slog.Logger
	now     func() time.Time

	slot           chan struct{} // holds one token while a run is in progress
	refreshPending atomic.Bool

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a CacheWarmer.
type Option func(*CacheWarmer)

func WithObserver(o Observer) Option        { return func(w *CacheWarmer) { w.obs = o } }
func WithLogger(l *slog.Logger) Option      { return func(w *CacheWarmer) { w.log = l } }
func WithClock(now func() time.Time) Option { return func(w *CacheWarmer) { w.now = now } }

// NewCacheWarmer builds a stopped warmer.
func NewCacheWarmer(scanner Warmer, caches Clearer, cfg Config, opts ...Option) *CacheWarmer {
	w := &CacheWarmer{
		cfg:     cfg.withDefaults(),
		scanner: scanner,
		caches:  caches,
		obs:     nopObserver{},
		log:     slog.Default(),
		now:     time.Now,
		slot:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With(slog.String("component", "cache_warmer"))
	return w
}

// Start registers both jobs and starts the cron loop. Jobs stop when ctx is
// cancelled or Stop is called.
func (w *CacheWarmer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return fmt.Errorf("cache warmer already started")
	}

	c := cron.New(cron.WithLocation(markethours.NewYork))
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(w.cfg.WarmSpec, func() { w.Warm(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register warm job %q: %w", w.cfg.WarmSpec, err)
	}
	if _, err := c.AddFunc(w.cfg.RefreshSpec, func() { w.Refresh(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register refresh job %q: %w", w.cfg.RefreshSpec, err)
	}

	w.cron, w.ctx, w.cancel = c, runCtx, cancel
	c.Start()
	w.log.Info("cache warmer started",
		slog.String("warm", w.cfg.WarmSpec),
		slog.String("refresh", w.cfg.RefreshSpec),
		slog.Bool("market_hours_only", w.cfg.MarketHoursOnly),
	)
	return nil
}

// Stop cancels in-flight runs and waits for them to return. It is a no-op
// on a stopped warmer.
func (w *CacheWarmer) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.ctx, w.cancel = nil, nil, nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	w.log.Info("cache warmer stopped")
}

// Warm refreshes the lightweight entries of the top curated symbols and the
// fast-scan endpoint entry.
func (w *CacheWarmer) Warm(ctx context.Context) string {
	return w.run(ctx, JobWarm, false, func(ctx context.Context) error {
		w.warm(ctx)
		return nil
	})
}

// Refresh clears the lightweight, full-analysis and universe caches and
// warms again.
func (w *CacheWarmer) Refresh(ctx context.Context) string {
	return w.run(ctx, JobRefresh, true, func(ctx context.Context) error {
		for _, name := range []cache.Name{cache.Lightweight, cache.FullAnalysis, cache.Universe} {
			if err := w.caches.Clear(ctx, name); err != nil {
				return fmt.Errorf("clear %s: %w", name, err)
			}
		}
		w.warm(ctx)
		return nil
	})
}

func (w *CacheWarmer) warm(ctx context.Context) {
	tickers := marketdata.Curated()
	if len(tickers) > w.cfg.TopN {
		tickers = tickers[:w.cfg.TopN]
	}
	n := w.scanner.WarmLightweight(ctx, tickers)
	fast := w.scanner.RefreshFastScan(ctx)
	w.log.Debug("warmed",
		slog.Int("lightweight", n),
		slog.Int("requested", len(tickers)),
		slog.Int("fast_scan_rows", len(fast.Stocks)),
	)
}

func (w *CacheWarmer) run(ctx context.Context, job string, wait bool, fn func(context.Context) error) string {
	outcome := w.runOnce(ctx, job, wait, fn)
	w.obs.WarmerRun(job, outcome)
	return outcome
}

func (w *CacheWarmer) runOnce(ctx context.Context, job string, wait bool, fn func(context.Context) error) string {
	if ctx.Err() != nil {
		return OutcomeSkipped
	}
	if w.cfg.MarketHoursOnly && !markethours.InWarmWindow(w.now()) {
		w.log.Debug("outside market hours", slog.String("job", job))
		return OutcomeSkipped
	}
	if !w.acquire(ctx, job, wait) {
		return OutcomeSkipped
	}
	defer func() { <-w.slot }()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.RunTimeout)
	defer cancel()

	start := w.now()
	if err := fn(ctx); err != nil {
		w.log.Warn("cache warmer run failed", slog.String("job", job), slog.String("err", err.Error()))
		return OutcomeError
	}
	w.log.Info("cache warmer run complete",
		slog.String("job", job),
		slog.Duration("took", w.now().Sub(start)),
	)
	return OutcomeOK
}

func (w *CacheWarmer) acquire(ctx context.Context, job string, wait bool) bool {
	select {
	case w.slot <- struct{}{}:
		return true
	default:
	}
	if !wait {
		w.log.Debug("previous run still in progress", slog.String("job", job))
		return false
	}
	if !w.refreshPending.CompareAndSwap(false, true) {
		w.log.Info("refresh already queued, skipping", slog.String("job", job))
		return false
	}
	defer w.refreshPending.Store(false)
	w.log.Debug("waiting for previous run", slog.String("job", job))
	select {
	case w.slot <- struct{}{}:
		return true
	case <-ctx.Done():
		w.log.Info("gave up waiting for previous run", slog.String("job", job))
		return false
	}
}
