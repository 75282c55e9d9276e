package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"shadowbeta/config"
	"shadowbeta/internal/backtest"
	"shadowbeta/internal/cache"
	"shadowbeta/internal/logger"
	"shadowbeta/internal/marketdata"
	"shadowbeta/internal/model"
	"shadowbeta/internal/scanner"
)

func defaultScanFlags() model.ScanRequest { return model.DefaultScanRequest() }

// deps are the pieces every command builds from config.
type deps struct {
	cfg     *config.Config
	fetcher model.HistoryFetcher
	scanner *scanner.Scanner
}

func setup() (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// Logs go to stderr so stdout stays parseable.
	log := logger.InitWriter(os.Stderr, "shadowctl", logger.ParseLevel(cfg.LogLevel))

	yahoo := marketdata.NewYahoo(cfg.Providers.YahooBaseURL, cfg.Providers.FetchTimeout)
	fetcher := marketdata.NewThrottled(yahoo, cfg.Providers.RateLimit, cfg.Providers.Burst, cfg.Providers.FetchTimeout)
	var lister model.SymbolLister
	if cfg.Providers.FinnhubAPIKey != "" {
		lister = marketdata.NewFinnhub(cfg.Providers.FinnhubBaseURL, cfg.Providers.FinnhubAPIKey, cfg.Providers.FetchTimeout)
	}
	caches := cache.NewManager(cache.NewMemoryStore(time.Now), cfg.TTLs(), cache.WithLogger(log))
	return &deps{
		cfg:     cfg,
		fetcher: fetcher,
		scanner: scanner.New(fetcher, lister, caches, cfg.Scanner, scanner.WithLogger(log)),
	}, nil
}

// commandContext is cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, _ []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	req := scanReq
	req.UseCurated = !scanAll
	res, err := d.scanner.Scan(ctx, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printCandidates(cmd.OutOrStdout(), res.Stocks)
	m := res.Metadata
	fmt.Fprintf(cmd.OutOrStdout(), "\nscanned %d, tier-1 passed %d, analyzed %d, results %d in %.1fs (%d errors)\n",
		m.Tier1Scanned, m.Tier1Passed, m.Tier2Analyzed, m.FinalResults, m.ScanDurationSeconds, len(m.Errors))
	return nil
}

func runFast(cmd *cobra.Command, _ []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res := d.scanner.FastScan(ctx)
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tTICKER\tPRICE\tCHG%\tRELVOL")
	for _, q := range res.Stocks {
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%+.2f\t%.2f\n", q.Rank, q.Ticker, q.CurrentPrice, q.PriceChangePercent, q.RelativeVolume)
	}
	return w.Flush()
}

func runStock(cmd *cobra.Command, args []string) error {
	d, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	stock, err := d.scanner.GetStock(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), stock)
	}
	printCandidates(cmd.OutOrStdout(), []model.CandidateStock{stock})
	return nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	mode, err := backtest.ParseMode(backtestMode)
	if err != nil {
		return err
	}
	st, err := loadStrategyFile(strategyFile)
	if err != nil {
		return err
	}
	d, err := setup()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := backtest.New(d.fetcher, backtest.DefaultConfig(), slog.Default()).Run(ctx, st, mode)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printBacktest(cmd.OutOrStdout(), st.Name, res)
	return nil
}

// loadStrategyFile reads a strategy from YAML, or JSON when the extension
// is .json. Entry rules may be a list or the {name: bool} form.
func loadStrategyFile(path string) (model.Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Strategy{}, fmt.Errorf("read strategy: %w", err)
	}
	var st model.Strategy
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(raw, &st)
	} else {
		err = yaml.Unmarshal(raw, &st)
	}
	if err != nil {
		return model.Strategy{}, fmt.Errorf("parse strategy %s: %w", path, err)
	}
	if st.Name == "" {
		st.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := st.Validate(); err != nil {
		return model.Strategy{}, err
	}
	if len(st.WithDefaults().Symbols) == 0 {
		return model.Strategy{}, fmt.Errorf("%w: strategy %s has no symbols", model.ErrInvalidRequest, st.Name)
	}
	return st, nil
}

func printCandidates(out io.Writer, stocks []model.CandidateStock) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tTICKER\tSCORE\tPRICE\tCHG%\tRELVOL\tRSI\tMA50\tMA200")
	for _, s := range stocks {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%+.2f\t%.2f\t%.1f\t%.2f\t%.2f\n",
			s.Rank, s.Ticker, s.Score, s.CurrentPrice, s.PriceChangePercent, s.RelativeVolume,
			s.Indicators.RSI, s.Indicators.FiftyMA, s.Indicators.TwoHundredMA)
	}
	w.Flush()
}

func printBacktest(out io.Writer, name string, res backtest.Result) {
	fmt.Fprintf(out, "%s (%s)\n", name, res.Mode)
	fmt.Fprintf(out, "  equity   %.2f -> %.2f  (roi %+.2f%%)\n", res.StartEquity, res.EndEquity, res.ROI)
	fmt.Fprintf(out, "  trades   %d, wins %d (%.2f%%)\n\n", res.Trades, res.Wins, res.WinRate)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTRADES\tWINS\tGROWTH\tEND\tERROR")
	for _, s := range res.Symbols {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.4f\t%.2f\t%s\n", s.Symbol, s.Trades, s.Wins, s.Growth, s.EndEquity, s.Error)
	}
	w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
