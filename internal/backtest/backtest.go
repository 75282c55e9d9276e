// Package backtest replays a strategy's entry and exit rules over daily bars.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"shadowbeta/internal/model"
	"shadowbeta/internal/strategy"
)

// Mode selects how capital is shared between symbols.
type Mode string

const (
	// ModeIndependent gives every symbol an equal slice of the starting
	// equity and sums the results.
	ModeIndependent Mode = "independent"
	// ModeSequential compounds one equity value across symbols in order.
	ModeSequential Mode = "sequential"
)

// ParseMode maps "" to ModeIndependent.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeIndependent:
		return ModeIndependent, nil
	case ModeSequential:
		return ModeSequential, nil
	default:
		return "", fmt.Errorf("%w: unknown backtest mode %q", model.ErrInvalidRequest, s)
	}
}

// Config bounds a backtest run.
type Config struct {
	MaxSymbols       int     `yaml:"max_symbols"`
	LookbackDays     int     `yaml:"lookback_days"`
	StartEquity      float64 `yaml:"start_equity"`
	MinBars          int     `yaml:"min_bars"`
	FetchConcurrency int     `yaml:"fetch_concurrency"`
}

// DefaultConfig replays one year of bars for up to 10 symbols.
func DefaultConfig() Config {
	return Config{
		MaxSymbols:       10,
		LookbackDays:     365,
		StartEquity:      10000,
		MinBars:          50,
		FetchConcurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSymbols <= 0 {
		c.MaxSymbols = d.MaxSymbols
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = d.LookbackDays
	}
	if c.StartEquity <= 0 {
		c.StartEquity = d.StartEquity
	}
	if c.MinBars <= 0 {
		c.MinBars = d.MinBars
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = d.FetchConcurrency
	}
	return c
}

// SymbolResult is the outcome for one symbol.
type SymbolResult struct {
	Symbol    string  `json:"symbol"`
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Growth    float64 `json:"growth"`
	EndEquity float64 `json:"end_equity"`
	Error     string  `json:"error,omitempty"`
}

// Result summarizes a run. ROI and WinRate are percentages rounded to two
// decimals.
type Result struct {
	Mode        Mode           `json:"mode"`
	StartEquity float64        `json:"start"`
	EndEquity   float64        `json:"end"`
	ROI         float64        `json:"roi"`
	Trades      int            `json:"trades"`
	Wins        int            `json:"wins"`
	WinRate     float64        `json:"winrate"`
	EquityCurve []float64      `json:"equity_curve"`
	Symbols     []SymbolResult `json:"symbols"`
}

// Simulator runs backtests against a history source. It has no side effects
// beyond the fetches.
type Simulator struct {
	fetcher model.HistoryFetcher
	cfg     Config
	log     *slog.Logger
}

// New creates a Simulator.
func New(fetcher model.HistoryFetcher, cfg Config, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{fetcher: fetcher, cfg: cfg.withDefaults(), log: log.With("component", "backtest")}
}

// Run backtests st over its first MaxSymbols symbols. Symbols whose history
// cannot be fetched are reported in the per-symbol results and leave their
// capital untouched.
func (s *Simulator) Run(ctx context.Context, st model.Strategy, mode Mode) (Result, error) {
	if mode == "" {
		mode = ModeIndependent
	}
	if mode != ModeIndependent && mode != ModeSequential {
		return Result{}, fmt.Errorf("%w: unknown backtest mode %q", model.ErrInvalidRequest, mode)
	}
	st = st.WithDefaults()
	symbols := st.Symbols
	if len(symbols) > s.cfg.MaxSymbols {
		symbols = symbols[:s.cfg.MaxSymbols]
	}

	series := make([]model.PriceSeries, len(symbols))
	fetchErrs := make([]error, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			series[i], fetchErrs[i] = s.fetcher.FetchHistory(gctx, sym, s.cfg.LookbackDays)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{
		Mode:        mode,
		StartEquity: s.cfg.StartEquity,
		EquityCurve: make([]float64, 0, len(symbols)),
		Symbols:     make([]SymbolResult, 0, len(symbols)),
	}

	equity := decimal.NewFromFloat(s.cfg.StartEquity)
	var alloc decimal.Decimal
	if mode == ModeIndependent && len(symbols) > 0 {
		alloc = equity.Div(decimal.NewFromInt(int64(len(symbols))))
	}

	for i, sym := range symbols {
		sr := SymbolResult{Symbol: sym, Growth: 1}
		if fetchErrs[i] != nil || series[i].Len() == 0 {
			sr.Error = "no history"
			if fetchErrs[i] != nil {
				sr.Error = fetchErrs[i].Error()
			}
			s.log.Warn("backtest symbol skipped", "symbol", sym, "err", sr.Error)
			res.Symbols = append(res.Symbols, sr)
			continue
		}

		run := Walk(series[i], st.EntryRules, st.StopLossPct, st.TakeProfitPct, s.cfg.MinBars)
		sr.Trades, sr.Wins = run.Trades, run.Wins
		sr.Growth = run.Growth.InexactFloat64()
		res.Trades += run.Trades
		res.Wins += run.Wins

		switch mode {
		case ModeSequential:
			equity = equity.Mul(run.Growth)
			sr.EndEquity = equity.InexactFloat64()
			res.EquityCurve = append(res.EquityCurve, sr.EndEquity)
		default:
			end := alloc.Mul(run.Growth)
			equity = equity.Sub(alloc).Add(end)
			sr.EndEquity = end.InexactFloat64()
			res.EquityCurve = append(res.EquityCurve, equity.InexactFloat64())
		}
		res.Symbols = append(res.Symbols, sr)
	}

	start := decimal.NewFromFloat(s.cfg.StartEquity)
	res.EndEquity = equity.InexactFloat64()
	res.ROI = equity.Sub(start).Div(start).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	if res.Trades > 0 {
		res.WinRate = decimal.NewFromInt(int64(res.Wins)).Div(decimal.NewFromInt(int64(res.Trades))).
			Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	s.log.Info("backtest complete", "strategy", st.ID, "mode", string(mode), "symbols", len(symbols),
		"trades", res.Trades, "roi", res.ROI)
	return res, nil
}

// SymbolRun is the walk-forward outcome for one series.
type SymbolRun struct {
	Trades int
	Wins   int
	// Growth is the product of exit/entry over every round trip.
	Growth decimal.Decimal
}

// Walk steps through s bar by bar. While flat, entry rules are evaluated
// on the bars seen so far once minBars are available; while in a position,
// the stop and take levels are checked first and entry is skipped on the
// exit bar. A position still open at the end closes at the last close. A
// round trip is a win when it exits above its entry.
//
// An empty rule set matches every bar, so with no rules Walk enters as
// soon as minBars are seen. On a flat series that is one round trip with
// no gain and no win.
func Walk(s model.PriceSeries, rules model.RuleSet, stopPct, takePct float64, minBars int) SymbolRun {
	run := SymbolRun{Growth: decimal.NewFromInt(1)}
	inPosition := false
	var entry float64

	closeAt := func(price float64) {
		run.Growth = run.Growth.Mul(decimal.NewFromFloat(price).Div(decimal.NewFromFloat(entry)))
		if price > entry {
			run.Wins++
		}
		inPosition = false
	}

	for i := range s.Bars {
		price := s.Bars[i].Close
		if inPosition {
			if strategy.ExitReason(entry, stopPct, takePct, price) != "" {
				closeAt(price)
			}
			continue
		}
		if i+1 < minBars || price <= 0 {
			continue
		}
		if strategy.Evaluate(rules, strategy.InputsFrom(s.Window(i+1))) {
			inPosition = true
			entry = price
			run.Trades++
		}
	}
	if inPosition {
		closeAt(s.Last().Close)
	}
	return run
}
