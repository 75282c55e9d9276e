package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"shadowbeta/internal/model"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS fills (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id     TEXT NOT NULL,
	strategy_id  TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	qty          INTEGER NOT NULL,
	price        REAL NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	realized_pnl REAL NOT NULL DEFAULT 0,
	paper        INTEGER NOT NULL DEFAULT 0,
	filled_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_strategy ON fills(strategy_id, id);
CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol, id);
`

// TradeQuery selects journaled fills. Empty fields match everything.
type TradeQuery struct {
	StrategyID string
	Symbol     string
	Limit      int // defaults to 50
}

// TradeRecord is one journaled fill with its row id.
type TradeRecord struct {
	ID int64 `json:"id"`
	model.Fill
}

// Journal is the SQLite trade journal of runner entries and exits.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger
}

// NewJournal opens or creates the journal at dbPath. ":memory:" gives a
// throwaway database.
func NewJournal(dbPath string) (*Journal, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	log := slog.Default().With("component", "journal")
	log.Info("trade journal opened", "path", dbPath)
	return &Journal{db: db, log: log}, nil
}

// RecordFill appends f.
func (j *Journal) RecordFill(f model.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, strategy_id, symbol, side, qty, price, reason, realized_pnl, paper, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.StrategyID, f.Symbol, string(f.Side), f.Qty, f.Price,
		f.Reason, f.RealizedPnL, f.Paper, f.FilledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: insert %s %s: %w", f.Side, f.Symbol, err)
	}
	return nil
}

// Trades returns the fills matching q, newest first.
func (j *Journal) Trades(ctx context.Context, q TradeQuery) ([]TradeRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var (
		where []string
		args  []any
	)
	if q.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, q.StrategyID)
	}
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(q.Symbol))
	}
	stmt := `SELECT id, order_id, strategy_id, symbol, side, qty, price, reason, realized_pnl, paper, filled_at FROM fills`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	out := make([]TradeRecord, 0, q.Limit)
	for rows.Next() {
		var (
			rec      TradeRecord
			side     string
			filledAt string
		)
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.StrategyID, &rec.Symbol, &side,
			&rec.Qty, &rec.Price, &rec.Reason, &rec.RealizedPnL, &rec.Paper, &filledAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		rec.Side = model.Side(side)
		if rec.FilledAt, err = time.Parse(time.RFC3339Nano, filledAt); err != nil {
			j.log.Warn("bad filled_at in journal", "id", rec.ID, "value", filledAt)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (j *Journal) Ping() error { return j.db.Ping() }

// DB exposes the handle for health probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }
