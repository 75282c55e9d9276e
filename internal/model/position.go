package model

import "time"

// Position is an open long position held by the strategy runner.
// StopPct and TakePct are percentages copied from the strategy at entry.
type Position struct {
	Symbol     string    `json:"symbol"`
	StrategyID string    `json:"strategy_id"`
	EntryPrice float64   `json:"entry_price"`
	Qty        int64     `json:"qty"`
	StopPct    float64   `json:"stop_pct"`
	TakePct    float64   `json:"take_pct"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Notional returns qty * entry price.
func (p *Position) Notional() float64 {
	return float64(p.Qty) * p.EntryPrice
}
