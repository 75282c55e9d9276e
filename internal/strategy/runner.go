package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shadowbeta/internal/logger"
	"shadowbeta/internal/model"
	"shadowbeta/internal/portfolio"
)

// Runner status strings returned by Start and Stop.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopping       = "stopping"
	StatusNotRunning     = "not_running"
	StatusStopped        = "stopped"
)

// RunnerConfig holds the loop cadence and history requirements.
type RunnerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
	LookbackDays int           `yaml:"lookback_days"`
	MinBars      int           `yaml:"min_bars"`
}

// DefaultRunnerConfig evaluates once a minute over roughly 200 trading days.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:     60 * time.Second,
		ErrorBackoff: 5 * time.Second,
		LookbackDays: 290,
		MinBars:      50,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = d.LookbackDays
	}
	if c.MinBars <= 0 {
		c.MinBars = d.MinBars
	}
	return c
}

// RunnerObserver receives runner telemetry.
type RunnerObserver interface {
	RunnerEvent(t model.EventType)
	RunnerActive(active bool)
	OpenPositions(n int)
}

type nopRunnerObserver struct{}

func (nopRunnerObserver) RunnerEvent(model.EventType) {}
func (nopRunnerObserver) RunnerActive(bool)           {}
func (nopRunnerObserver) OpenPositions(int)           {}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStrategies sets the strategy source. Without one every cycle
// evaluates zero strategies.
func WithStrategies(l model.StrategyLoader) RunnerOption {
	return func(r *Runner) { r.loader = l }
}

// WithBroker sets the order placer. Without one the runner paper-trades.
func WithBroker(b model.OrderPlacer) RunnerOption {
	return func(r *Runner) { r.broker = b }
}

// WithPaperBook records paper orders (for example an
// execution.PaperBroker) so they can be listed later. It is only used when
// no live broker is set.
func WithPaperBook(p model.OrderPlacer) RunnerOption {
	return func(r *Runner) { r.paperBook = p }
}

// WithBroadcaster sets where runner events are published.
func WithBroadcaster(b model.Broadcaster) RunnerOption {
	return func(r *Runner) { r.events = b }
}

// WithJournal records every entry and exit fill.
func WithJournal(j model.TradeJournal) RunnerOption {
	return func(r *Runner) { r.journal = j }
}

// WithPnL shares a P&L tracker with the caller.
func WithPnL(p *portfolio.PnLTracker) RunnerOption {
	return func(r *Runner) { r.pnl = p }
}

// WithRunnerObserver sets the telemetry sink.
func WithRunnerObserver(o RunnerObserver) RunnerOption {
	return func(r *Runner) { r.obs = o }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = l }
}

// WithRunnerClock overrides the event clock.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// Runner periodically evaluates enabled strategies, opening positions when
// entry rules match and closing them on stop or take.
//
// Each symbol is either FLAT (absent from the position map) or OPEN. Orders
// are treated as filled when the broker call returns; a failed buy leaves
// the symbol FLAT.
type Runner struct {
	fetcher   model.HistoryFetcher
	loader    model.StrategyLoader
	broker    model.OrderPlacer
	paperBook model.OrderPlacer
	events    model.Broadcaster
	journal   model.TradeJournal
	pnl       *portfolio.PnLTracker
	obs       RunnerObserver
	log       *slog.Logger
	now       func() time.Time
	cfg       RunnerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// positions is only mutated from Cycle; posMu guards snapshot reads.
	posMu     sync.RWMutex
	positions map[string]*model.Position
}

// NewRunner creates a stopped runner.
func NewRunner(fetcher model.HistoryFetcher, cfg RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		fetcher:   fetcher,
		obs:       nopRunnerObserver{},
		log:       slog.Default(),
		now:       time.Now,
		cfg:       cfg.withDefaults(),
		positions: make(map[string]*model.Position),
	}
	for _, o := range opts {
		o(r)
	}
	if r.pnl == nil {
		r.pnl = portfolio.NewPnLTracker()
	}
	r.log = r.log.With("component", "runner")
	return r
}

// Paper reports whether orders are simulated.
func (r *Runner) Paper() bool { return r.broker == nil }

// PnL returns the runner's P&L tracker.
func (r *Runner) PnL() *portfolio.PnLTracker { return r.pnl }

// Start launches the loop. Starting an active runner is a no-op that
// returns StatusAlreadyRunning. The loop outlives ctx only until ctx is
// cancelled; callers normally pass a process-lifetime context.
func (r *Runner) Start(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return StatusAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.obs.RunnerActive(true)
	go r.loop(loopCtx, r.done)
	return StatusStarted
}

// Stop cancels the loop. The in-flight cycle completes, then a final
// "stopped" event is emitted and open positions are dropped.
func (r *Runner) Stop() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return StatusNotRunning
	}
	r.cancel()
	return StatusStopping
}

// Active reports whether the loop is running.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Done returns a channel closed when the current loop exits, or nil when
// the runner was never started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Positions returns a snapshot of open positions keyed by symbol.
func (r *Runner) Positions() map[string]model.Position {
	r.posMu.RLock()
	defer r.posMu.RUnlock()
	out := make(map[string]model.Position, len(r.positions))
	for k, p := range r.positions {
		out[k] = *p
	}
	return out
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		r.clearPositions()
		r.emit(model.Event{Type: model.EventRunner, Status: StatusStopped})
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		r.obs.RunnerActive(false)
		close(done)
	}()

	r.emit(model.Event{Type: model.EventRunner, Status: StatusStarted})
	r.log.Info("runner started", "interval", r.cfg.Interval.String(), "paper", r.Paper())

	for cycle := 1; ; cycle++ {
		wait := r.cfg.Interval
		// Cancellation is only observed between cycles.
		cctx := logger.WithTraceID(context.WithoutCancel(ctx), "cycle-"+strconv.Itoa(cycle))
		if err := r.safeCycle(cctx); err != nil {
			r.log.ErrorContext(cctx, "runner cycle failed", "err", err)
			r.emit(model.Event{Type: model.EventRunnerError, Error: err.Error()})
			wait = r.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("runner stopped")
			return
		case <-timer.C:
		}
	}
}

func (r *Runner) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner panic: %v", p)
		}
	}()
	return r.Cycle(ctx)
}

// Cycle runs one evaluation pass over every enabled strategy. Per-symbol
// failures become eval_error events; only a failure to load strategies is
// returned.
func (r *Runner) Cycle(ctx context.Context) error {
	if r.loader == nil {
		return nil
	}
	strategies, err := r.loader.LoadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}
	for _, st := range strategies {
		st = st.WithDefaults()
		for _, sym := range st.Symbols {
			if err := r.evalSymbol(ctx, st, sym); err != nil {
				r.log.WarnContext(ctx, "symbol evaluation failed", "strategy", st.ID, "symbol", sym, "err", err)
				r.emit(model.Event{
					Type:       model.EventEvalError,
					StrategyID: st.ID,
					Symbol:     sym,
					Reason:     model.Category(err),
					Error:      err.Error(),
				})
			}
		}
	}
	r.posMu.RLock()
	n := len(r.positions)
	r.posMu.RUnlock()
	r.obs.OpenPositions(n)
	return nil
}

func (r *Runner) evalSymbol(ctx context.Context, st model.Strategy, sym string) error {
	series, err := r.fetcher.FetchHistory(ctx, sym, r.cfg.LookbackDays)
	if err != nil {
		return err
	}
	if series.Len() < r.cfg.MinBars {
		r.log.Debug("history too short", "symbol", sym, "bars", series.Len())
		return nil
	}
	in := InputsFrom(series)

	r.posMu.RLock()
	pos, open := r.positions[sym]
	r.posMu.RUnlock()
	if open {
		if reason := positionExit(pos, in.Price); reason != "" {
			r.exit(ctx, pos, in.Price, reason)
		}
		return nil
	}

	if !Evaluate(st.EntryRules, in) {
		return nil
	}
	if r.openFor(st.ID) >= st.MaxPositions {
		r.log.Debug("position cap reached", "strategy", st.ID, "symbol", sym)
		return nil
	}
	qty, ok := OrderQty(st.MaxNotionalPerTrade, in.Price)
	if !ok {
		r.log.Debug("price above notional limit", "strategy", st.ID, "symbol", sym, "price", in.Price)
		return nil
	}
	r.enter(ctx, st, sym, qty, in)
	return nil
}

func (r *Runner) enter(ctx context.Context, st model.Strategy, sym string, qty int64, in Inputs) {
	r.emit(model.Event{
		Type:       model.EventSignal,
		StrategyID: st.ID,
		Symbol:     sym,
		Side:       model.SideBuy,
		Qty:        qty,
		Price:      in.Price,
		RSI:        in.RSI,
	})

	var orderID string
	if r.broker != nil {
		res, err := r.broker.SubmitOrder(ctx, model.OrderRequest{
			Symbol: sym, Qty: qty, Side: model.SideBuy, TimeInForce: model.TIFDay,
		})
		if err != nil {
			r.emit(model.Event{
				Type: model.EventOrderError, StrategyID: st.ID, Symbol: sym,
				Side: model.SideBuy, Qty: qty, Error: err.Error(),
			})
			return
		}
		orderID = res.ID
		r.emit(model.Event{
			Type: model.EventOrderSubmitted, StrategyID: st.ID, Symbol: sym, Side: model.SideBuy,
			Qty: qty, Price: in.Price, OrderID: orderID, Status: res.Status,
		})
	} else {
		orderID = r.paperOrder(ctx, sym, qty, model.SideBuy)
		r.emit(model.Event{
			Type: model.EventPaperTrade, StrategyID: st.ID, Symbol: sym, Side: model.SideBuy,
			Qty: qty, Price: in.Price, OrderID: orderID,
		})
	}

	now := r.now()
	r.posMu.Lock()
	r.positions[sym] = &model.Position{
		Symbol:     sym,
		StrategyID: st.ID,
		EntryPrice: in.Price,
		Qty:        qty,
		StopPct:    st.StopLossPct,
		TakePct:    st.TakeProfitPct,
		OpenedAt:   now,
	}
	r.posMu.Unlock()

	r.pnl.RecordTrade(portfolio.Trade{
		Symbol: sym, Side: model.SideBuy, Qty: qty, Price: decimal.NewFromFloat(in.Price), Timestamp: now,
	})
	r.record(model.Fill{
		OrderID: orderID, StrategyID: st.ID, Symbol: sym, Side: model.SideBuy,
		Qty: qty, Price: in.Price, Reason: "entry", Paper: r.broker == nil, FilledAt: now,
	})
}

// exit closes pos. The position is removed even when the sell fails.
func (r *Runner) exit(ctx context.Context, pos *model.Position, price float64, reason string) {
	defer func() {
		r.posMu.Lock()
		delete(r.positions, pos.Symbol)
		r.posMu.Unlock()
	}()

	var orderID string
	evType := model.EventPaperExit
	if r.broker != nil {
		res, err := r.broker.SubmitOrder(ctx, model.OrderRequest{
			Symbol: pos.Symbol, Qty: pos.Qty, Side: model.SideSell, TimeInForce: model.TIFDay,
		})
		if err != nil {
			r.emit(model.Event{
				Type: model.EventExitError, StrategyID: pos.StrategyID, Symbol: pos.Symbol,
				Side: model.SideSell, Qty: pos.Qty, Reason: reason, Error: err.Error(),
			})
			return
		}
		orderID = res.ID
		evType = model.EventExitOrder
	} else {
		orderID = r.paperOrder(ctx, pos.Symbol, pos.Qty, model.SideSell)
	}

	now := r.now()
	realized := r.pnl.RecordTrade(portfolio.Trade{
		Symbol: pos.Symbol, Side: model.SideSell, Qty: pos.Qty, Price: decimal.NewFromFloat(price), Timestamp: now,
	})
	r.emit(model.Event{
		Type:        evType,
		StrategyID:  pos.StrategyID,
		Symbol:      pos.Symbol,
		Side:        model.SideSell,
		Qty:         pos.Qty,
		Price:       price,
		OrderID:     orderID,
		Reason:      reason,
		RealizedPnL: realized.InexactFloat64(),
	})
	r.record(model.Fill{
		OrderID: orderID, StrategyID: pos.StrategyID, Symbol: pos.Symbol, Side: model.SideSell,
		Qty: pos.Qty, Price: price, Reason: reason, RealizedPnL: realized.InexactFloat64(),
		Paper: r.broker == nil, FilledAt: now,
	})
}

// paperOrder returns the id of a simulated order.
func (r *Runner) paperOrder(ctx context.Context, sym string, qty int64, side model.Side) string {
	if r.paperBook != nil {
		res, err := r.paperBook.SubmitOrder(ctx, model.OrderRequest{Symbol: sym, Qty: qty, Side: side, TimeInForce: model.TIFDay})
		if err == nil {
			return res.ID
		}
		r.log.Warn("paper book rejected order", "symbol", sym, "err", err)
	}
	return uuid.NewString()
}

func (r *Runner) openFor(strategyID string) int {
	r.posMu.RLock()
	defer r.posMu.RUnlock()
	n := 0
	for _, p := range r.positions {
		if p.StrategyID == strategyID {
			n++
		}
	}
	return n
}

func (r *Runner) clearPositions() {
	r.posMu.Lock()
	r.positions = make(map[string]*model.Position)
	r.posMu.Unlock()
	r.obs.OpenPositions(0)
}

func (r *Runner) record(f model.Fill) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordFill(f); err != nil {
		r.log.Error("journal write failed", "symbol", f.Symbol, "side", f.Side, "err", err)
	}
}

func (r *Runner) emit(ev model.Event) {
	if ev.Time.IsZero() {
		ev.Time = r.now()
	}
	r.obs.RunnerEvent(ev.Type)
	if r.events != nil {
		r.events.Broadcast(ev)
	}
}
