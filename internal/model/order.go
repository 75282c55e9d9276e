package model

import "time"

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TimeInForce values accepted by the broker.
const (
	TIFDay = "day"
	TIFGTC = "gtc"
)

// OrderRequest is a market order.
type OrderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         int64  `json:"qty"`
	Side        Side   `json:"side"`
	TimeInForce string `json:"time_in_force"`
}

// OrderResult is what the broker reports back for a submitted order.
type OrderResult struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Symbol      string    `json:"symbol"`
	Qty         int64     `json:"qty"`
	Side        Side      `json:"side"`
	Paper       bool      `json:"paper"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Account is a broker account summary.
type Account struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Equity      string `json:"equity"`
	Paper       bool   `json:"paper"`
}

// Fill is an executed runner order recorded in the trade journal.
type Fill struct {
	OrderID     string    `json:"order_id"`
	StrategyID  string    `json:"strategy_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         int64     `json:"qty"`
	Price       float64   `json:"price"`
	Reason      string    `json:"reason"`
	RealizedPnL float64   `json:"realized_pnl"`
	Paper       bool      `json:"paper"`
	FilledAt    time.Time `json:"filled_at"`
}
