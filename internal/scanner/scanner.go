// Package scanner implements the two-tier scan pipeline: a cheap,
// highly concurrent pre-filter over the candidate universe followed by
// full technical analysis of the best survivors.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"shadowbeta/internal/cache"
	"shadowbeta/internal/logger"
	"shadowbeta/internal/marketdata"
	"shadowbeta/internal/model"
	"shadowbeta/internal/scoring"
)

const (
	universeKey = "nyse"
	fastScanKey = "scan:fast"
)

// Config bounds the pipeline's cost.
type Config struct {
	Tier1Concurrency  int `yaml:"tier1_concurrency"`
	Tier2Concurrency  int `yaml:"tier2_concurrency"`
	Tier2TopK         int `yaml:"tier2_top_k"`
	UniverseCap       int `yaml:"universe_cap"`
	Tier1LookbackDays int `yaml:"tier1_lookback_days"`
	Tier2LookbackDays int `yaml:"tier2_lookback_days"`
	BatchConcurrency  int `yaml:"batch_concurrency"`
	BatchMax          int `yaml:"batch_max"`
	FastScanUniverse  int `yaml:"fast_scan_universe"`
	FastScanResults   int `yaml:"fast_scan_results"`
	// SharedFetchTimeout bounds a fetch shared by concurrent callers. It
	// runs detached from any one caller's cancellation.
	SharedFetchTimeout time.Duration `yaml:"shared_fetch_timeout"`
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		Tier1Concurrency:  20,
		Tier2Concurrency:  5,
		Tier2TopK:         50,
		UniverseCap:       300,
		Tier1LookbackDays: 7,   // about five sessions
		Tier2LookbackDays: 183, // about six months
		BatchConcurrency:  8,
		BatchMax:          200,
		FastScanUniverse:  100,
		FastScanResults:   15,

		SharedFetchTimeout: 60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.Tier1Concurrency, d.Tier1Concurrency)
	fill(&c.Tier2Concurrency, d.Tier2Concurrency)
	fill(&c.Tier2TopK, d.Tier2TopK)
	fill(&c.UniverseCap, d.UniverseCap)
	fill(&c.Tier1LookbackDays, d.Tier1LookbackDays)
	fill(&c.Tier2LookbackDays, d.Tier2LookbackDays)
	fill(&c.BatchConcurrency, d.BatchConcurrency)
	fill(&c.BatchMax, d.BatchMax)
	fill(&c.FastScanUniverse, d.FastScanUniverse)
	fill(&c.FastScanResults, d.FastScanResults)
	if c.SharedFetchTimeout <= 0 {
		c.SharedFetchTimeout = d.SharedFetchTimeout
	}
	return c
}

// Observer receives scan outcomes (metrics).
type Observer interface {
	ScanCompleted(meta model.ScanMetadata)
	FetchFailed(tier int, category string)
}

type nopObserver struct{}

func (nopObserver) ScanCompleted(model.ScanMetadata) {}
func (nopObserver) FetchFailed(int, string)          {}

// Scanner runs scans and single-ticker analysis. It is safe for
// concurrent use.
type Scanner struct {
	fetcher model.HistoryFetcher
	lister  model.SymbolLister
	caches  *cache.Manager

	full     cache.Typed[model.CandidateStock]
	quick    cache.Typed[model.QuickStock]
	universe cache.Typed[[]string]
	endpoint cache.Typed[model.FastScanResult]

	flight singleflight.Group
	cfg    Config
	obs    Observer
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option { return func(s *Scanner) { s.obs = o } }

// WithLogger sets the scanner logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scanner) { s.log = l } }

// New creates a Scanner. lister may be nil, in which case the exchange
// universe falls back to a static list.
func New(fetcher model.HistoryFetcher, lister model.SymbolLister, caches *cache.Manager, cfg Config, opts ...Option) *Scanner {
	s := &Scanner{
		fetcher:  fetcher,
		lister:   lister,
		caches:   caches,
		full:     cache.For[model.CandidateStock](caches, cache.FullAnalysis),
		quick:    cache.For[model.QuickStock](caches, cache.Lightweight),
		universe: cache.For[[]string](caches, cache.Universe),
		endpoint: cache.For[model.FastScanResult](caches, cache.Endpoint),
		cfg:      cfg.withDefaults(),
		obs:      nopObserver{},
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(slog.String("component", "scanner"))
	return s
}

// Scan runs the tiered pipeline. Only a malformed request is returned as
// an error; per-symbol failures are recorded in the result metadata.
func (s *Scanner) Scan(ctx context.Context, req model.ScanRequest) (model.ScanResult, error) {
	if err := req.Validate(); err != nil {
		return model.ScanResult{}, err
	}

	start := s.now()
	scanID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, scanID)
	rec := &errorRecorder{obs: s.obs, ctx: ctx}

	candidates := s.Universe(ctx, req.UseCurated)
	meta := model.ScanMetadata{
		ScanID:       scanID,
		Tier1Scanned: len(candidates),
		UsedCurated:  req.UseCurated,
	}

	quick := s.lightweightAll(ctx, candidates, s.cfg.Tier1Concurrency, rec)
	survivors := make([]model.QuickStock, 0, len(quick))
	for _, q := range quick {
		if passesTier1(q, req) {
			survivors = append(survivors, q)
		}
	}
	meta.Tier1Passed = len(survivors)

	scoring.SortQuick(survivors)
	if len(survivors) > s.cfg.Tier2TopK {
		survivors = survivors[:s.cfg.Tier2TopK]
	}
	s.log.InfoContext(ctx, "tier 1 complete",
		slog.Int("scanned", meta.Tier1Scanned),
		slog.Int("passed", meta.Tier1Passed),
		slog.Int("selected", len(survivors)),
	)

	var analyzed []model.CandidateStock
	if len(survivors) > 0 {
		tickers := make([]string, len(survivors))
		for i, q := range survivors {
			tickers[i] = q.Ticker
		}
		analyzed = s.analyzeAll(ctx, tickers, s.cfg.Tier2Concurrency, 2, rec)
	}
	if err := ctx.Err(); err != nil {
		return model.ScanResult{}, err
	}
	meta.Tier2Analyzed = len(analyzed)
	meta.ScoreDistribution = scoring.Distribution(analyzed)

	final := make([]model.CandidateStock, 0, len(analyzed))
	for _, c := range analyzed {
		if passesBounds(c.RelativeVolume, c.CurrentPrice, req) && c.Score >= req.MinScore {
			final = append(final, c)
		}
	}
	final = scoring.SortAndRank(final, req.MaxResults)

	meta.FinalResults = len(final)
	meta.Errors = rec.list()
	meta.ScanDurationSeconds = s.now().Sub(start).Seconds()
	s.obs.ScanCompleted(meta)

	s.log.InfoContext(ctx, "scan complete",
		slog.Int("tier2_analyzed", meta.Tier2Analyzed),
		slog.Int("results", meta.FinalResults),
		slog.Int("errors", len(meta.Errors)),
		slog.Float64("seconds", meta.ScanDurationSeconds),
	)

	return model.ScanResult{Stocks: final, Metadata: meta}, nil
}

// Universe returns the candidate tickers. The exchange listing is cached
// in the universe cache and capped; on failure the static fallback list
// is used and not cached.
func (s *Scanner) Universe(ctx context.Context, useCurated bool) []string {
	if useCurated {
		return marketdata.Curated()
	}
	if syms, ok := s.universe.Get(ctx, universeKey); ok && len(syms) > 0 {
		return capList(syms, s.cfg.UniverseCap)
	}
	if s.lister == nil {
		return capList(marketdata.Fallback(), s.cfg.UniverseCap)
	}

	v, err := s.shared(ctx, "universe", func(ctx context.Context) (any, error) {
		syms, err := s.lister.ListSymbols(ctx)
		if err != nil {
			return nil, err
		}
		if len(syms) == 0 {
			return nil, fmt.Errorf("%w: empty symbol listing", model.ErrDataUnavailable)
		}
		s.universe.Set(ctx, universeKey, syms)
		return syms, nil
	})
	if err != nil {
		s.log.WarnContext(ctx, "symbol listing failed, using fallback universe", slog.String("err", err.Error()))
		return capList(marketdata.Fallback(), s.cfg.UniverseCap)
	}
	return capList(v.([]string), s.cfg.UniverseCap)
}

// Lightweight returns the tier-1 view of one ticker, from cache when live.
func (s *Scanner) Lightweight(ctx context.Context, ticker string) (model.QuickStock, error) {
	if q, ok := s.quick.Get(ctx, ticker); ok {
		return q, nil
	}
	series, err := s.fetcher.FetchHistory(ctx, ticker, s.cfg.Tier1LookbackDays)
	if err != nil {
		return model.QuickStock{}, err
	}
	q, err := quickFromSeries(ticker, series)
	if err != nil {
		return model.QuickStock{}, err
	}
	s.quick.Set(ctx, ticker, q)
	return q, nil
}

// Analyze returns the full analysis of one ticker, from cache when live.
// Concurrent calls for the same ticker share one fetch.
func (s *Scanner) Analyze(ctx context.Context, ticker string) (model.CandidateStock, error) {
	if c, ok := s.full.Get(ctx, ticker); ok {
		return c, nil
	}
	v, err := s.shared(ctx, "full:"+ticker, func(ctx context.Context) (any, error) {
		series, err := s.fetcher.FetchHistory(ctx, ticker, s.cfg.Tier2LookbackDays)
		if err != nil {
			return nil, err
		}
		c, err := candidateFromSeries(ticker, series)
		if err != nil {
			return nil, err
		}
		s.full.Set(ctx, ticker, c)
		return c, nil
	})
	if err != nil {
		return model.CandidateStock{}, err
	}
	return v.(model.CandidateStock), nil
}

// shared runs fn once per key across concurrent callers. fn gets a context
// that keeps ctx's values but not its cancellation, bounded by
// SharedFetchTimeout; each caller stops waiting when its own ctx ends.
func (s *Scanner) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SharedFetchTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

// GetStock returns the full analysis of one ticker or ErrNotFound.
func (s *Scanner) GetStock(ctx context.Context, ticker string) (model.CandidateStock, error) {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return model.CandidateStock{}, fmt.Errorf("%w: ticker is required", model.ErrInvalidRequest)
	}
	c, err := s.Analyze(ctx, ticker)
	if err != nil {
		s.log.DebugContext(ctx, "stock lookup failed", slog.String("ticker", ticker), slog.String("err", err.Error()))
		return model.CandidateStock{}, fmt.Errorf("%w: %s: %v", model.ErrNotFound, ticker, err)
	}
	c.Rank = 1
	return c, nil
}

// Batch analyzes many tickers (normalized, de-duplicated, capped) and
// returns the ones that succeeded, sorted and ranked.
func (s *Scanner) Batch(ctx context.Context, tickers []string) []model.CandidateStock {
	cleaned := make([]string, 0, len(tickers))
	seen := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		t = NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		cleaned = append(cleaned, t)
	}
	cleaned = capList(cleaned, s.cfg.BatchMax)

	out := s.analyzeAll(ctx, cleaned, s.cfg.BatchConcurrency, 2, &errorRecorder{obs: s.obs, ctx: ctx})
	return scoring.SortAndRank(out, 0)
}

// FastScan returns the lightweight-only ranking of the top curated names,
// served from the endpoint cache when live.
func (s *Scanner) FastScan(ctx context.Context) model.FastScanResult {
	if r, ok := s.endpoint.Get(ctx, fastScanKey); ok {
		return r
	}
	return s.RefreshFastScan(ctx)
}

// RefreshFastScan recomputes the fast scan and replaces the cached entry.
func (s *Scanner) RefreshFastScan(ctx context.Context) model.FastScanResult {
	start := s.now()
	universe := capList(marketdata.Curated(), s.cfg.FastScanUniverse)
	quick := s.lightweightAll(ctx, universe, s.cfg.Tier1Concurrency, &errorRecorder{obs: s.obs, ctx: ctx})

	rows := make([]model.QuickStock, 0, len(quick))
	for _, q := range quick {
		if q.IsLiquid && q.ReasonablePrice {
			rows = append(rows, q)
		}
	}
	passed := len(rows)
	scoring.SortQuick(rows)
	if len(rows) > s.cfg.FastScanResults {
		rows = rows[:s.cfg.FastScanResults]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}

	res := model.FastScanResult{
		Stocks: rows,
		Metadata: model.FastScanMetadata{
			Scanned:             len(universe),
			Passed:              passed,
			ScanDurationSeconds: s.now().Sub(start).Seconds(),
		},
	}
	if ctx.Err() == nil {
		s.endpoint.Set(ctx, fastScanKey, res)
	}
	return res
}

// WarmLightweight refreshes the lightweight cache for tickers and returns
// how many succeeded.
func (s *Scanner) WarmLightweight(ctx context.Context, tickers []string) int {
	return len(s.lightweightAll(ctx, tickers, s.cfg.Tier1Concurrency, &errorRecorder{obs: s.obs, ctx: ctx}))
}

// lightweightAll runs Lightweight over tickers with bounded concurrency and
// returns the successes in input order.
func (s *Scanner) lightweightAll(ctx context.Context, tickers []string, limit int, rec *errorRecorder) []model.QuickStock {
	results := make([]*model.QuickStock, len(tickers))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, t := range tickers {
		i, t := i, t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			q, err := s.Lightweight(ctx, t)
			if err != nil {
				rec.add(t, 1, err)
				return nil
			}
			results[i] = &q
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.QuickStock, 0, len(results))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// analyzeAll runs Analyze over tickers with bounded concurrency. All
// fetches finish before it returns.
func (s *Scanner) analyzeAll(ctx context.Context, tickers []string, limit, tier int, rec *errorRecorder) []model.CandidateStock {
	results := make([]*model.CandidateStock, len(tickers))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, t := range tickers {
		i, t := i, t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			c, err := s.Analyze(ctx, t)
			if err != nil {
				rec.add(t, tier, err)
				return nil
			}
			results[i] = &c
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.CandidateStock, 0, len(results))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// NormalizeTicker upper-cases a ticker and strips an "EXCHANGE:" prefix.
func NormalizeTicker(t string) string {
	if i := strings.LastIndex(t, ":"); i >= 0 {
		t = t[i+1:]
	}
	return strings.ToUpper(strings.TrimSpace(t))
}

func capList(xs []string, n int) []string {
	if n > 0 && len(xs) > n {
		return xs[:n]
	}
	return xs
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []model.ScanError
	obs  Observer
	ctx  context.Context
}

func (r *errorRecorder) add(ticker string, tier int, err error) {
	// A cancellation is only noise when the scan itself was cancelled.
	if errors.Is(err, context.Canceled) && r.ctx.Err() != nil {
		return
	}
	cat := model.Category(err)
	r.obs.FetchFailed(tier, cat)
	r.mu.Lock()
	r.errs = append(r.errs, model.ScanError{Ticker: ticker, Tier: tier, Category: cat, Message: err.Error()})
	r.mu.Unlock()
}

func (r *errorRecorder) list() []model.ScanError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ScanError(nil), r.errs...)
}
