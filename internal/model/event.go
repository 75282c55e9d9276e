package model

import "time"

// EventType names a runner event pushed to subscribers.
type EventType string

const (
	EventRunner         EventType = "runner"
	EventRunnerError    EventType = "runner_error"
	EventSignal         EventType = "signal"
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderError     EventType = "order_error"
	EventPaperTrade     EventType = "paper_trade"
	EventExitOrder      EventType = "exit_order"
	EventPaperExit      EventType = "paper_exit"
	EventExitError      EventType = "exit_error"
	EventEvalError      EventType = "eval_error"
	EventHello          EventType = "hello"
)

// Exit reasons.
const (
	ExitStop = "stop"
	ExitTake = "take"
)

// Event is one runner notification. Unused fields are omitted on the wire.
type Event struct {
	Type        EventType `json:"type"`
	Time        time.Time `json:"ts"`
	Status      string    `json:"status,omitempty"`
	StrategyID  string    `json:"strategy_id,omitempty"`
	Symbol      string    `json:"symbol,omitempty"`
	Side        Side      `json:"side,omitempty"`
	Qty         int64     `json:"qty,omitempty"`
	Price       float64   `json:"price,omitempty"`
	RSI         float64   `json:"rsi,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
	Error       string    `json:"error,omitempty"`
}
