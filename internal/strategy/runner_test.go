package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbeta/internal/model"
)

// ────────────────────────────────────────────────────────────
// Fakes
// ────────────────────────────────────────────────────────────

type seriesFetcher struct {
	mu     sync.Mutex
	series map[string]model.PriceSeries
	errs   map[string]error
}

func newSeriesFetcher() *seriesFetcher {
	return &seriesFetcher{series: map[string]model.PriceSeries{}, errs: map[string]error{}}
}

func (f *seriesFetcher) set(sym string, s model.PriceSeries) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series[sym] = s
}

func (f *seriesFetcher) FetchHistory(_ context.Context, sym string, _ int) (model.PriceSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[sym]; err != nil {
		return model.PriceSeries{}, err
	}
	s, ok := f.series[sym]
	if !ok {
		return model.PriceSeries{}, fmt.Errorf("%w: %s", model.ErrDataUnavailable, sym)
	}
	return s, nil
}

type staticLoader struct {
	strategies []model.Strategy
	err        error
	panicMsg   string
}

func (l *staticLoader) LoadEnabled(context.Context) ([]model.Strategy, error) {
	if l.panicMsg != "" {
		panic(l.panicMsg)
	}
	return l.strategies, l.err
}

type fakeBroker struct {
	mu      sync.Mutex
	orders  []model.OrderRequest
	failBuy bool
	failSel bool
}

func (b *fakeBroker) SubmitOrder(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if (req.Side == model.SideBuy && b.failBuy) || (req.Side == model.SideSell && b.failSel) {
		return model.OrderResult{}, fmt.Errorf("%w: insufficient buying power", model.ErrExternal)
	}
	b.orders = append(b.orders, req)
	return model.OrderResult{ID: fmt.Sprintf("ord-%d", len(b.orders)), Status: "accepted", Symbol: req.Symbol, Qty: req.Qty, Side: req.Side}, nil
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureBroadcaster) Broadcast(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureBroadcaster) types() []model.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *captureBroadcaster) last(t model.EventType) (model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Type == t {
			return c.events[i], true
		}
	}
	return model.Event{}, false
}

func (c *captureBroadcaster) has(t model.EventType, status string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Type == t && (status == "" || e.Status == status) {
			return true
		}
	}
	return false
}

type memJournal struct {
	mu    sync.Mutex
	fills []model.Fill
}

func (j *memJournal) RecordFill(f model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, f)
	return nil
}

// uptrend builds 200 daily bars: 150 at 98, 49 at 105 and a final close
// of last, so ma50 is about 105 and ma200 about 100.
func uptrend(sym string, last float64) model.PriceSeries {
	bars := make([]model.Bar, 0, 200)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	add := func(c float64) {
		bars = append(bars, model.Bar{Time: t0.AddDate(0, 0, len(bars)), Open: c, High: c, Low: c, Close: c, Volume: 1_000_000})
	}
	for i := 0; i < 150; i++ {
		add(98)
	}
	for i := 0; i < 49; i++ {
		add(105)
	}
	add(last)
	return model.PriceSeries{Symbol: sym, Bars: bars}
}

func flat(sym string, n int, c float64) model.PriceSeries {
	bars := make([]model.Bar, n)
	for i := range bars {
		bars[i] = model.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1_000_000}
	}
	return model.PriceSeries{Symbol: sym, Bars: bars}
}

func trendStrategy(id string, symbols ...string) model.Strategy {
	return model.Strategy{
		ID: id, Name: id, Enabled: true, Symbols: symbols,
		EntryRules:  model.RuleSet{model.RuleMA50AboveMA200},
		StopLossPct: 3.0, TakeProfitPct: 6.0, MaxPositions: 3, MaxNotionalPerTrade: 5000,
	}
}

func newTestRunner(f model.HistoryFetcher, l model.StrategyLoader, opts ...RunnerOption) (*Runner, *captureBroadcaster) {
	events := &captureBroadcaster{}
	all := append([]RunnerOption{WithStrategies(l), WithBroadcaster(events)}, opts...)
	return NewRunner(f, RunnerConfig{Interval: time.Hour, ErrorBackoff: time.Hour}, all...), events
}

// ────────────────────────────────────────────────────────────
// Cycle
// ────────────────────────────────────────────────────────────

func TestCycle_OpensThenStopsOut(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAPL", uptrend("AAPL", 106))
	journal := &memJournal{}
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "aapl")}}, WithJournal(journal))

	require.NoError(t, r.Cycle(context.Background()))
	pos, ok := r.Positions()["AAPL"]
	require.True(t, ok, "position should be open")
	assert.Equal(t, 106.0, pos.EntryPrice)
	assert.Equal(t, int64(47), pos.Qty)
	assert.LessOrEqual(t, pos.Notional(), 5000.0)
	assert.Equal(t, []model.EventType{model.EventSignal, model.EventPaperTrade}, events.types())

	// Same symbol again while open: no re-entry.
	require.NoError(t, r.Cycle(context.Background()))
	assert.Len(t, r.Positions(), 1)
	assert.Len(t, events.types(), 2)

	f.set("AAPL", uptrend("AAPL", 106*0.97))
	require.NoError(t, r.Cycle(context.Background()))
	assert.Empty(t, r.Positions())

	exit, ok := events.last(model.EventPaperExit)
	require.True(t, ok)
	assert.Equal(t, model.ExitStop, exit.Reason)
	assert.InDelta(t, (106*0.97-106)*47, exit.RealizedPnL, 1e-6)

	require.Len(t, journal.fills, 2)
	assert.Equal(t, model.SideBuy, journal.fills[0].Side)
	assert.Equal(t, model.SideSell, journal.fills[1].Side)
	assert.True(t, journal.fills[1].Paper)
	assert.InDelta(t, exit.RealizedPnL, journal.fills[1].RealizedPnL, 1e-9)
}

func TestCycle_TakeProfitExit(t *testing.T) {
	f := newSeriesFetcher()
	f.set("XOM", uptrend("XOM", 106))
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "XOM")}})

	require.NoError(t, r.Cycle(context.Background()))
	f.set("XOM", uptrend("XOM", 106*1.06))
	require.NoError(t, r.Cycle(context.Background()))

	exit, ok := events.last(model.EventPaperExit)
	require.True(t, ok)
	assert.Equal(t, model.ExitTake, exit.Reason)
	assert.Empty(t, r.Positions())
}

func TestCycle_PositionCapPerStrategy(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAA", uptrend("AAA", 106))
	f.set("BBB", uptrend("BBB", 106))
	st := trendStrategy("s1", "AAA", "BBB")
	st.MaxPositions = 1
	r, _ := newTestRunner(f, &staticLoader{strategies: []model.Strategy{st}})

	require.NoError(t, r.Cycle(context.Background()))
	pos := r.Positions()
	assert.Len(t, pos, 1)
	assert.Contains(t, pos, "AAA")
}

func TestCycle_SymbolSharedAcrossStrategiesOpensOnce(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAA", uptrend("AAA", 106))
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{
		trendStrategy("s1", "AAA"), trendStrategy("s2", "AAA"),
	}})

	require.NoError(t, r.Cycle(context.Background()))
	pos := r.Positions()
	require.Len(t, pos, 1)
	assert.Equal(t, "s1", pos["AAA"].StrategyID)
	assert.Len(t, events.types(), 2)
}

func TestCycle_FlatSeriesDoesNotEnter(t *testing.T) {
	f := newSeriesFetcher()
	f.set("FLAT", flat("FLAT", 200, 50))
	st := trendStrategy("s1", "FLAT")
	st.EntryRules = model.RuleSet{model.RuleMA50AboveMA200, model.RulePriceAboveMA50}
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{st}})

	require.NoError(t, r.Cycle(context.Background()))
	assert.Empty(t, r.Positions())
	assert.Empty(t, events.types())
}

func TestCycle_ShortHistorySkipped(t *testing.T) {
	f := newSeriesFetcher()
	f.set("NEW", flat("NEW", 10, 20))
	st := trendStrategy("s1", "NEW")
	st.EntryRules = nil
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{st}})

	require.NoError(t, r.Cycle(context.Background()))
	assert.Empty(t, r.Positions())
	assert.Empty(t, events.types())
}

func TestCycle_FetchErrorBecomesEvalError(t *testing.T) {
	f := newSeriesFetcher()
	f.set("GOOD", uptrend("GOOD", 106))
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "MISSING", "GOOD")}})

	require.NoError(t, r.Cycle(context.Background()))
	ev, ok := events.last(model.EventEvalError)
	require.True(t, ok)
	assert.Equal(t, "MISSING", ev.Symbol)
	assert.Equal(t, "data_unavailable", ev.Reason)
	assert.Contains(t, r.Positions(), "GOOD", "one bad symbol must not stop the others")
}

func TestCycle_LoaderErrorReturned(t *testing.T) {
	r, _ := newTestRunner(newSeriesFetcher(), &staticLoader{err: errors.New("mongo down")})
	assert.Error(t, r.Cycle(context.Background()))
}

func TestCycle_NoLoaderIsNoop(t *testing.T) {
	r := NewRunner(newSeriesFetcher(), RunnerConfig{})
	assert.NoError(t, r.Cycle(context.Background()))
}

// ────────────────────────────────────────────────────────────
// Live broker
// ────────────────────────────────────────────────────────────

func TestCycle_LiveBrokerOrders(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAPL", uptrend("AAPL", 106))
	broker := &fakeBroker{}
	journal := &memJournal{}
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "AAPL")}},
		WithBroker(broker), WithJournal(journal))
	assert.False(t, r.Paper())

	require.NoError(t, r.Cycle(context.Background()))
	sub, ok := events.last(model.EventOrderSubmitted)
	require.True(t, ok)
	assert.Equal(t, "ord-1", sub.OrderID)
	require.Len(t, broker.orders, 1)
	assert.Equal(t, model.OrderRequest{Symbol: "AAPL", Qty: 47, Side: model.SideBuy, TimeInForce: model.TIFDay}, broker.orders[0])

	f.set("AAPL", uptrend("AAPL", 90))
	require.NoError(t, r.Cycle(context.Background()))
	ex, ok := events.last(model.EventExitOrder)
	require.True(t, ok)
	assert.Equal(t, "ord-2", ex.OrderID)
	assert.Equal(t, model.SideSell, broker.orders[1].Side)
	require.Len(t, journal.fills, 2)
	assert.False(t, journal.fills[0].Paper)
}

func TestCycle_FailedBuyLeavesSymbolFlat(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAPL", uptrend("AAPL", 106))
	journal := &memJournal{}
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "AAPL")}},
		WithBroker(&fakeBroker{failBuy: true}), WithJournal(journal))

	require.NoError(t, r.Cycle(context.Background()))
	assert.Empty(t, r.Positions())
	assert.Equal(t, []model.EventType{model.EventSignal, model.EventOrderError}, events.types())
	assert.Empty(t, journal.fills)
}

func TestCycle_FailedSellStillDropsPosition(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAPL", uptrend("AAPL", 106))
	broker := &fakeBroker{}
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "AAPL")}}, WithBroker(broker))

	require.NoError(t, r.Cycle(context.Background()))
	broker.failSel = true
	f.set("AAPL", uptrend("AAPL", 90))
	require.NoError(t, r.Cycle(context.Background()))

	assert.Empty(t, r.Positions())
	ev, ok := events.last(model.EventExitError)
	require.True(t, ok)
	assert.Equal(t, model.ExitStop, ev.Reason)
}

// ────────────────────────────────────────────────────────────
// Lifecycle
// ────────────────────────────────────────────────────────────

func TestRunner_StartStop(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAPL", uptrend("AAPL", 106))
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "AAPL")}})

	assert.Equal(t, StatusNotRunning, r.Stop())
	assert.Equal(t, StatusStarted, r.Start(context.Background()))
	assert.Equal(t, StatusAlreadyRunning, r.Start(context.Background()))
	assert.True(t, r.Active())

	require.Eventually(t, func() bool { return events.has(model.EventPaperTrade, "") }, 2*time.Second, 5*time.Millisecond)

	done := r.Done()
	assert.Equal(t, StatusStopping, r.Stop())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.False(t, r.Active())
	assert.Empty(t, r.Positions(), "positions are dropped on stop")
	assert.True(t, events.has(model.EventRunner, StatusStarted))
	assert.True(t, events.has(model.EventRunner, StatusStopped))
}

func TestRunner_PanicBecomesRunnerError(t *testing.T) {
	r, events := newTestRunner(newSeriesFetcher(), &staticLoader{panicMsg: "boom"})

	r.Start(context.Background())
	require.Eventually(t, func() bool { return events.has(model.EventRunnerError, "") }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Active(), "loop keeps running after a failed cycle")

	done := r.Done()
	r.Stop()
	<-done
	ev, _ := events.last(model.EventRunnerError)
	assert.Contains(t, ev.Error, "boom")
}

func TestCycle_PaperBookRecordsPaperOrders(t *testing.T) {
	f := newSeriesFetcher()
	f.set("AAPL", uptrend("AAPL", 106))
	book := &fakeBroker{}
	r, events := newTestRunner(f, &staticLoader{strategies: []model.Strategy{trendStrategy("s1", "AAPL")}}, WithPaperBook(book))
	assert.True(t, r.Paper())

	require.NoError(t, r.Cycle(context.Background()))
	ev, ok := events.last(model.EventPaperTrade)
	require.True(t, ok)
	assert.Equal(t, "ord-1", ev.OrderID)
	require.Len(t, book.orders, 1)
}
