// cmd/shadowctl runs scans, stock lookups and backtests from the terminal
// against the same providers the API server uses, with an in-process cache.
//
// Usage:
//
//	shadowctl scan --min-score 3 --max-results 10
//	shadowctl stock AAPL
//	shadowctl backtest --strategy dip.yaml --mode sequential
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:           "shadowctl",
		Short:         "Scan, inspect and backtest US stocks from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Run the tiered scan and print ranked candidates",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	scanReq = defaultScanFlags()
	scanAll bool

	fastCmd = &cobra.Command{
		Use:   "fast",
		Short: "Run the lightweight-only scan over the curated list",
		Args:  cobra.NoArgs,
		RunE:  runFast,
	}

	stockCmd = &cobra.Command{
		Use:   "stock [ticker]",
		Short: "Print the full analysis of one ticker",
		Args:  cobra.ExactArgs(1),
		RunE:  runStock,
	}

	backtestCmd = &cobra.Command{
		Use:   "backtest",
		Short: "Backtest a strategy file over about a year of daily bars",
		Args:  cobra.NoArgs,
		RunE:  runBacktest,
	}
	strategyFile string
	backtestMode string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to YAML config (optional)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")

	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Float64Var(&scanReq.MinVolumeMultiplier, "min-volume-multiplier", scanReq.MinVolumeMultiplier, "Minimum relative volume")
	scanCmd.Flags().Float64Var(&scanReq.MinPrice, "min-price", scanReq.MinPrice, "Minimum price")
	scanCmd.Flags().Float64Var(&scanReq.MaxPrice, "max-price", scanReq.MaxPrice, "Maximum price")
	scanCmd.Flags().IntVar(&scanReq.MinScore, "min-score", scanReq.MinScore, "Minimum score (0-4)")
	scanCmd.Flags().IntVar(&scanReq.MaxResults, "max-results", scanReq.MaxResults, "Maximum rows")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Scan the exchange listing instead of the curated list")

	rootCmd.AddCommand(fastCmd)
	rootCmd.AddCommand(stockCmd)

	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVarP(&strategyFile, "strategy", "s", "", "Strategy YAML or JSON file")
	backtestCmd.Flags().StringVar(&backtestMode, "mode", "independent", "Equity mode: independent or sequential")
	_ = backtestCmd.MarkFlagRequired("strategy")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
