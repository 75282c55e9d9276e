package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbeta/internal/backtest"
	"shadowbeta/internal/model"
)

func writeStrategy(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadStrategyFile(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		body     string
		wantName string
		wantErr  error
		rules    model.RuleSet
	}{
		{
			name:     "yaml list rules",
			file:     "dip.yaml",
			body:     "symbols: [aapl, msft]\nentry_rules: [rsi_oversold, price_above_ma50]\n",
			wantName: "dip",
			rules:    model.RuleSet{model.RuleRSIOversold, model.RulePriceAboveMA50},
		},
		{
			name:     "yaml legacy flags",
			file:     "trend.yml",
			body:     "name: Trend\nsymbols: [NVDA]\nentry_rules:\n  ma50_above_ma200: true\n  rsi_oversold: false\n",
			wantName: "Trend",
			rules:    model.RuleSet{model.RuleMA50AboveMA200},
		},
		{
			name:     "json",
			file:     "vol.json",
			body:     `{"name":"Vol","symbols":["AMD"],"entry_rules":["rel_volume_strong"]}`,
			wantName: "Vol",
			rules:    model.RuleSet{model.RuleRelVolumeStrong},
		},
		{
			name:    "no symbols",
			file:    "empty.yaml",
			body:    "name: empty\n",
			wantErr: model.ErrInvalidRequest,
		},
		{
			name:    "negative limit",
			file:    "neg.yaml",
			body:    "symbols: [AAPL]\nstop_loss_pct: -1\n",
			wantErr: model.ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := loadStrategyFile(writeStrategy(t, tt.file, tt.body))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, st.Name)
			assert.ElementsMatch(t, tt.rules, st.EntryRules)
		})
	}
}

func TestLoadStrategyFile_UnknownRule(t *testing.T) {
	_, err := loadStrategyFile(writeStrategy(t, "bad.yaml", "symbols: [AAPL]\nentry_rules: [full_moon]\n"))
	assert.Error(t, err)

	_, err = loadStrategyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPrintBacktest(t *testing.T) {
	var buf bytes.Buffer
	printBacktest(&buf, "dip", backtest.Result{
		Mode:        backtest.ModeIndependent,
		StartEquity: 10000,
		EndEquity:   10100,
		ROI:         1,
		Trades:      1,
		Wins:        1,
		WinRate:     100,
		Symbols: []backtest.SymbolResult{
			{Symbol: "AAPL", Trades: 1, Wins: 1, Growth: 1.02, EndEquity: 5100},
			{Symbol: "ZZZZ", EndEquity: 5000, Error: "not found"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "dip (independent)")
	assert.Contains(t, out, "10000.00 -> 10100.00")
	assert.Contains(t, out, "roi +1.00%")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines[len(lines)-1], "not found")
}

func TestPrintCandidates(t *testing.T) {
	var buf bytes.Buffer
	printCandidates(&buf, []model.CandidateStock{{Ticker: "AAPL", Score: 4, Rank: 1, CurrentPrice: 190.5}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "RANK"))
	assert.Contains(t, lines[1], "AAPL")
	assert.Contains(t, lines[1], "190.50")
}
