package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbeta/internal/backtest"
	"shadowbeta/internal/cache"
	"shadowbeta/internal/execution"
	"shadowbeta/internal/markethours"
	"shadowbeta/internal/model"
	"shadowbeta/internal/portfolio"
)

// ──────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────

type fakeScanner struct {
	lastReq model.ScanRequest
	batched []string
}

func (f *fakeScanner) Scan(_ context.Context, req model.ScanRequest) (model.ScanResult, error) {
	f.lastReq = req
	if err := req.Validate(); err != nil {
		return model.ScanResult{}, err
	}
	return model.ScanResult{
		Stocks:   []model.CandidateStock{{Ticker: "AAPL", Score: 3, Rank: 1}},
		Metadata: model.ScanMetadata{FinalResults: 1, ScoreDistribution: map[int]int{0: 0, 1: 0, 2: 0, 3: 1, 4: 0}},
	}, nil
}

func (f *fakeScanner) FastScan(context.Context) model.FastScanResult {
	return model.FastScanResult{Stocks: []model.QuickStock{{Ticker: "MSFT", Rank: 1}}}
}

func (f *fakeScanner) GetStock(_ context.Context, ticker string) (model.CandidateStock, error) {
	if strings.EqualFold(ticker, "zzzz") {
		return model.CandidateStock{}, fmt.Errorf("%w: ZZZZ", model.ErrNotFound)
	}
	return model.CandidateStock{Ticker: strings.ToUpper(ticker), Rank: 1}, nil
}

func (f *fakeScanner) Batch(_ context.Context, tickers []string) []model.CandidateStock {
	f.batched = tickers
	out := make([]model.CandidateStock, 0, len(tickers))
	for i, t := range tickers {
		out = append(out, model.CandidateStock{Ticker: t, Rank: i + 1})
	}
	return out
}

type fakeRunner struct {
	mu     sync.Mutex
	active bool
	ctx    context.Context
	pnl    *portfolio.PnLTracker
}

func (f *fakeRunner) Start(ctx context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return "already_running"
	}
	f.active, f.ctx = true, ctx
	return "started"
}

func (f *fakeRunner) Stop() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return "not_running"
	}
	f.active = false
	return "stopping"
}

func (f *fakeRunner) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeRunner) Paper() bool { return true }

func (f *fakeRunner) Positions() map[string]model.Position {
	return map[string]model.Position{"AAPL": {Symbol: "AAPL", StrategyID: "s1", EntryPrice: 100, Qty: 50}}
}

func (f *fakeRunner) PnL() *portfolio.PnLTracker { return f.pnl }

type fakeBacktester struct {
	gotMode backtest.Mode
}

func (f *fakeBacktester) Run(_ context.Context, st model.Strategy, mode backtest.Mode) (backtest.Result, error) {
	f.gotMode = mode
	return backtest.Result{Mode: mode, StartEquity: 10000, EndEquity: 10100, ROI: 1}, nil
}

type memStore struct {
	mu   sync.Mutex
	byID map[string]model.Strategy
	seq  int
}

func newMemStore() *memStore { return &memStore{byID: map[string]model.Strategy{}} }

func (m *memStore) List(context.Context) ([]model.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Strategy, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) LoadEnabled(ctx context.Context) ([]model.Strategy, error) { return m.List(ctx) }

func (m *memStore) Upsert(_ context.Context, s model.Strategy) (model.Strategy, error) {
	if err := s.Validate(); err != nil {
		return model.Strategy{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		m.seq++
		s.ID = fmt.Sprintf("st-%d", m.seq)
	}
	s = s.WithDefaults()
	m.byID[s.ID] = s
	return s, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("%w: strategy %s", model.ErrNotFound, id)
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) Close() error { return nil }

type failingBroker struct{ model.Broker }

func (failingBroker) Account(context.Context) (model.Account, error) {
	return model.Account{}, fmt.Errorf("%w: alpaca 500", model.ErrExternal)
}

// ──────────────────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────────────────

type harness struct {
	router   *gin.Engine
	scanner  *fakeScanner
	runner   *fakeRunner
	bt       *fakeBacktester
	store    *memStore
	journal  *execution.Journal
	caches   *cache.Manager
	memStore *cache.MemoryStore
	rootCtx  context.Context
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	journal, err := execution.NewJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	mem := cache.NewMemoryStore(time.Now)
	h := &harness{
		scanner:  &fakeScanner{},
		runner:   &fakeRunner{pnl: portfolio.NewPnLTracker()},
		bt:       &fakeBacktester{},
		store:    newMemStore(),
		journal:  journal,
		memStore: mem,
		caches:   cache.NewManager(mem, nil),
		rootCtx:  context.WithValue(context.Background(), ctxKey{}, "root"),
	}
	d := Deps{
		Scanner:       h.scanner,
		Runner:        h.runner,
		Backtester:    h.bt,
		Strategies:    h.store,
		Trades:        journal,
		Broker:        execution.NewPaperBroker(),
		Caches:        h.caches,
		Health:        http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(`{"status":"healthy"}`)) }),
		RunnerContext: h.rootCtx,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           func() time.Time { return time.Date(2026, time.October, 15, 12, 0, 0, 0, markethours.NewYork) },
	}
	if mutate != nil {
		mutate(&d)
	}
	h.router = NewRouter(d)
	return h
}

type ctxKey struct{}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ──────────────────────────────────────────────────────────────
// Stocks
// ──────────────────────────────────────────────────────────────

func TestScan_DefaultsAndQuery(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/stocks/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DefaultScanRequest(), h.scanner.lastReq)

	rec = h.do(http.MethodGet, "/api/stocks/scan?min_price=10&max_results=5&use_curated=false&min_score=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10.0, h.scanner.lastReq.MinPrice)
	assert.Equal(t, 5, h.scanner.lastReq.MaxResults)
	assert.Equal(t, 2, h.scanner.lastReq.MinScore)
	assert.False(t, h.scanner.lastReq.UseCurated)
	assert.Equal(t, 500.0, h.scanner.lastReq.MaxPrice, "unset params keep defaults")

	body := decode(t, rec)
	meta := body["metadata"].(map[string]any)
	assert.Contains(t, meta["score_distribution"], "4")
}

func TestScan_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/stocks/scan?min_price=50&max_price=10", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec)["category"])

	rec = h.do(http.MethodGet, "/api/stocks/scan?min_price=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFastScanAndStock(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/stocks/scan/fast", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["stocks"], 1)

	rec = h.do(http.MethodGet, "/api/stocks/aapl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", decode(t, rec)["ticker"])

	rec = h.do(http.MethodGet, "/api/stocks/zzzz", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["category"])
}

func TestBatch(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/stocks/batch", map[string]any{"tickers": []string{"AAPL", "MSFT"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["returned"])
	assert.Equal(t, []string{"AAPL", "MSFT"}, h.scanner.batched)

	rec = h.do(http.MethodPost, "/api/stocks/batch", map[string]any{"tickers": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ──────────────────────────────────────────────────────────────
// Runner
// ──────────────────────────────────────────────────────────────

func TestRunner_StartStopStatus(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/shadowbot/runner/start", nil)
	assert.Equal(t, "started", decode(t, rec)["status"])
	assert.Equal(t, "root", h.runner.ctx.Value(ctxKey{}), "runner starts on the long-lived context")

	rec = h.do(http.MethodPost, "/api/shadowbot/runner/start", nil)
	assert.Equal(t, "already_running", decode(t, rec)["status"])

	rec = h.do(http.MethodGet, "/api/shadowbot/runner/status", nil)
	body := decode(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, true, body["paper"])
	assert.Len(t, body["positions"], 1)
	assert.Contains(t, body, "pnl")

	rec = h.do(http.MethodPost, "/api/shadowbot/runner/stop", nil)
	assert.Equal(t, "stopping", decode(t, rec)["status"])
	rec = h.do(http.MethodPost, "/api/shadowbot/runner/stop", nil)
	assert.Equal(t, "not_running", decode(t, rec)["status"])
}

// ──────────────────────────────────────────────────────────────
// Backtest & strategies
// ──────────────────────────────────────────────────────────────

func TestBacktest(t *testing.T) {
	h := newHarness(t, nil)
	st := map[string]any{"name": "dip", "symbols": []string{"AAPL"}, "entry_rules": []string{"rsi_oversold"}}

	rec := h.do(http.MethodPost, "/api/shadowbot/backtest", st)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, backtest.ModeIndependent, h.bt.gotMode)
	assert.EqualValues(t, 10100, decode(t, rec)["end"])

	rec = h.do(http.MethodPost, "/api/shadowbot/backtest?mode=sequential", st)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, backtest.ModeSequential, h.bt.gotMode)

	rec = h.do(http.MethodPost, "/api/shadowbot/backtest?mode=lifo", st)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/shadowbot/backtest", map[string]any{"name": "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/shadowbot/backtest",
		map[string]any{"symbols": []string{"AAPL"}, "entry_rules": []string{"moon_phase"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown rule rejected at decode")
}

func TestStrategies_CRUD(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodPost, "/api/shadowbot/strategies", map[string]any{
		"name":        "legacy",
		"enabled":     true,
		"symbols":     []string{"aapl"},
		"entry_rules": map[string]bool{"rsi_oversold": true, "price_above_ma50": false},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode(t, rec)
	id := saved["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, []any{"AAPL"}, saved["symbols"])
	assert.EqualValues(t, model.DefaultMaxPositions, saved["max_positions"])

	rec = h.do(http.MethodGet, "/api/shadowbot/strategies", nil)
	assert.Len(t, decode(t, rec)["strategies"], 1)

	rec = h.do(http.MethodPost, "/api/shadowbot/strategies", map[string]any{"symbols": []string{"X"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "name required")

	rec = h.do(http.MethodDelete, "/api/shadowbot/strategies/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodDelete, "/api/shadowbot/strategies/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrades(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, h.journal.RecordFill(model.Fill{
			OrderID: fmt.Sprintf("o-%d", i), StrategyID: "s1", Symbol: "AAPL",
			Side: model.SideBuy, Qty: 1, Price: 100, Paper: true, FilledAt: time.Now(),
		}))
	}

	rec := h.do(http.MethodGet, "/api/shadowbot/trades?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trades := decode(t, rec)["trades"].([]any)
	require.Len(t, trades, 2)
	assert.Equal(t, "o-2", trades[0].(map[string]any)["order_id"], "newest first")

	require.NoError(t, h.journal.RecordFill(model.Fill{
		OrderID: "other", StrategyID: "s2", Symbol: "MSFT",
		Side: model.SideBuy, Qty: 1, Price: 400, FilledAt: time.Now(),
	}))
	rec = h.do(http.MethodGet, "/api/shadowbot/trades?strategy_id=s2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trades = decode(t, rec)["trades"].([]any)
	require.Len(t, trades, 1)
	assert.Equal(t, "other", trades[0].(map[string]any)["order_id"])

	rec = h.do(http.MethodGet, "/api/shadowbot/trades?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	empty := newHarness(t, func(d *Deps) { d.Trades = nil })
	rec = empty.do(http.MethodGet, "/api/shadowbot/trades", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["trades"])
}

// ──────────────────────────────────────────────────────────────
// Broker & admin
// ──────────────────────────────────────────────────────────────

func TestBroker(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/api/broker/account", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["paper"])

	rec = h.do(http.MethodGet, "/api/broker/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "orders")

	none := newHarness(t, func(d *Deps) { d.Broker = nil })
	assert.Equal(t, http.StatusServiceUnavailable, none.do(http.MethodGet, "/api/broker/account", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, none.do(http.MethodGet, "/api/broker/orders", nil).Code)

	failing := newHarness(t, func(d *Deps) { d.Broker = failingBroker{} })
	rec = failing.do(http.MethodGet, "/api/broker/account", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "external", decode(t, rec)["category"])
}

func TestClearCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.caches.Set(ctx, cache.Lightweight, "AAPL", 1)
	h.caches.Set(ctx, cache.Universe, "nyse", []string{"AAPL"})

	rec := h.do(http.MethodPost, "/api/cache/clear?name=lightweight", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, h.memStore.Len(cache.Lightweight))
	assert.Equal(t, 1, h.memStore.Len(cache.Universe))

	rec = h.do(http.MethodPost, "/api/cache/clear", map[string]string{"name": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/cache/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all", decode(t, rec)["cleared"])
	assert.Equal(t, 0, h.memStore.Len(cache.Universe))
}

func TestMarketStatusAndHealth(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/api/market/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["open"])

	rec = h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/ws/shadowbot", nil).Code, "no hub configured")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", model.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: x", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: x", model.ErrDataUnavailable), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", model.ErrExternal), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
