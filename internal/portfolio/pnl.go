// Package portfolio tracks cost basis and realized P&L of the runner's
// fills using decimal arithmetic.
package portfolio

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"shadowbeta/internal/model"
	"shadowbeta/internal/ringbuf"
)

// fillLogSize bounds the fills kept for inspection.
const fillLogSize = 1000

// Trade is one fill fed to the tracker.
type Trade struct {
	Symbol    string          `json:"symbol"`
	Side      model.Side      `json:"side"`
	Qty       int64           `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// holding is the open quantity of one symbol at its average cost.
type holding struct {
	qty  int64
	cost decimal.Decimal // average price per share
}

func (h *holding) buy(qty int64, price decimal.Decimal) {
	if h.qty == 0 {
		h.qty, h.cost = qty, price
		return
	}
	total := h.cost.Mul(decimal.NewFromInt(h.qty)).Add(price.Mul(decimal.NewFromInt(qty)))
	h.qty += qty
	h.cost = total.Div(decimal.NewFromInt(h.qty))
}

// sell closes up to qty shares and returns the realized P&L. Shares beyond
// the held quantity realize nothing.
func (h *holding) sell(qty int64, price decimal.Decimal) decimal.Decimal {
	qty = min(qty, h.qty)
	realized := price.Sub(h.cost).Mul(decimal.NewFromInt(qty))
	h.qty -= qty
	if h.qty == 0 {
		h.cost = decimal.Zero
	}
	return realized
}

func (h *holding) unrealized(mark float64) decimal.Decimal {
	return decimal.NewFromFloat(mark).Sub(h.cost).Mul(decimal.NewFromInt(h.qty))
}

// PnLTracker keeps per-symbol holdings and realized P&L.
type PnLTracker struct {
	mu       sync.RWMutex
	holdings map[string]*holding
	realized map[string]decimal.Decimal
	total    decimal.Decimal
	fills    int
	log      *ringbuf.Ring[Trade]
}

// NewPnLTracker returns an empty tracker.
func NewPnLTracker() *PnLTracker {
	return &PnLTracker{
		holdings: make(map[string]*holding),
		realized: make(map[string]decimal.Decimal),
		log:      ringbuf.New[Trade](fillLogSize),
	}
}

// RecordTrade applies a fill and returns the P&L it realized (zero for
// buys).
func (p *PnLTracker) RecordTrade(t Trade) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fills++
	p.log.Push(t)

	h := p.holdings[t.Symbol]
	if h == nil {
		h = &holding{}
		p.holdings[t.Symbol] = h
	}

	var realized decimal.Decimal
	if t.Side == model.SideBuy {
		h.buy(t.Qty, t.Price)
	} else {
		realized = h.sell(t.Qty, t.Price)
		p.realized[t.Symbol] = p.realized[t.Symbol].Add(realized)
		p.total = p.total.Add(realized)
	}
	if h.qty == 0 {
		delete(p.holdings, t.Symbol)
	}
	return realized
}

// RealizedPnL returns the total realized P&L.
func (p *PnLTracker) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// Trades returns the most recent fills, oldest first.
func (p *PnLTracker) Trades() []Trade { return p.log.Snapshot() }

// PnLSummary is the JSON view returned by the API.
type PnLSummary struct {
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	TotalPnL      float64            `json:"total_pnl"`
	TotalTrades   int                `json:"total_trades"`
	OpenPositions int                `json:"open_positions"`
	BySymbol      map[string]float64 `json:"realized_by_symbol,omitempty"`
}

// Summary marks open holdings at marks (symbol -> price). Holdings without
// a mark contribute nothing to unrealized P&L.
func (p *PnLTracker) Summary(marks map[string]float64) PnLSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unrealized := decimal.Zero
	for sym, h := range p.holdings {
		if mark, ok := marks[sym]; ok {
			unrealized = unrealized.Add(h.unrealized(mark))
		}
	}
	var bySymbol map[string]float64
	if len(p.realized) > 0 {
		bySymbol = make(map[string]float64, len(p.realized))
		for sym, v := range p.realized {
			bySymbol[sym] = v.InexactFloat64()
		}
	}
	return PnLSummary{
		RealizedPnL:   p.total.InexactFloat64(),
		UnrealizedPnL: unrealized.InexactFloat64(),
		TotalPnL:      p.total.Add(unrealized).InexactFloat64(),
		TotalTrades:   p.fills,
		OpenPositions: len(p.holdings),
		BySymbol:      bySymbol,
	}
}
