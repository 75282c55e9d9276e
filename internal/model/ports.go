package model

import "context"

// ── Collaborator ports ──
// The scan, runner and backtest code depends only on these; concrete
// providers, brokers and stores live in marketdata, execution and store.

// HistoryFetcher returns daily bars covering the last `days` calendar days.
// It must fail with an error (or return an empty series) rather than hang.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, symbol string, days int) (PriceSeries, error)
}

// SymbolLister lists the exchange-wide candidate universe.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

// OrderPlacer submits market orders.
type OrderPlacer interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Broker is a full broker client.
type Broker interface {
	OrderPlacer
	Account(ctx context.Context) (Account, error)
	ListOrders(ctx context.Context, limit int) ([]OrderResult, error)
}

// StrategyLoader supplies the strategies the runner evaluates each cycle.
type StrategyLoader interface {
	LoadEnabled(ctx context.Context) ([]Strategy, error)
}

// StrategyStore persists user-defined strategies.
type StrategyStore interface {
	StrategyLoader
	List(ctx context.Context) ([]Strategy, error)
	Upsert(ctx context.Context, s Strategy) (Strategy, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Broadcaster fans an event out to subscribers. It must not block on a
// slow subscriber.
type Broadcaster interface {
	Broadcast(ev Event)
}

// TradeJournal records fills.
type TradeJournal interface {
	RecordFill(f Fill) error
}
