// Package sqlite is the SQLite-backed strategy store used when no MongoDB
// URI is configured.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"shadowbeta/internal/model"
)

// StrategyStore persists strategies as JSON documents keyed by id.
type StrategyStore struct {
	db  *sql.DB
	now func() time.Time
}

// DB returns the underlying sql.DB for health checks.
func (s *StrategyStore) DB() *sql.DB { return s.db }

// NewStrategyStore opens dbPath (":memory:" for tests) and creates the
// schema.
func NewStrategyStore(dbPath string) (*StrategyStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single connection so ":memory:" is one shared database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("strategy store opened", "component", "sqlite", "path", dbPath)
	return &StrategyStore{db: db, now: time.Now}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS strategies (
			id         TEXT    PRIMARY KEY,
			name       TEXT    NOT NULL,
			enabled    INTEGER NOT NULL DEFAULT 0,
			body       TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_strategies_enabled ON strategies(enabled);
	`)
	return err
}

// List returns every strategy ordered by name.
func (s *StrategyStore) List(ctx context.Context) ([]model.Strategy, error) {
	return s.query(ctx, `SELECT body FROM strategies ORDER BY name, id`)
}

// LoadEnabled returns the enabled strategies.
func (s *StrategyStore) LoadEnabled(ctx context.Context) ([]model.Strategy, error) {
	return s.query(ctx, `SELECT body FROM strategies WHERE enabled = 1 ORDER BY name, id`)
}

func (s *StrategyStore) query(ctx context.Context, q string) ([]model.Strategy, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	out := make([]model.Strategy, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var st model.Strategy
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			slog.Warn("skipping unreadable strategy", "component", "sqlite", "err", err)
			continue
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a strategy by id, assigning a UUID when the id
// is empty. The stored copy has defaults applied.
func (s *StrategyStore) Upsert(ctx context.Context, st model.Strategy) (model.Strategy, error) {
	if err := st.Validate(); err != nil {
		return model.Strategy{}, err
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st = st.WithDefaults()

	body, err := json.Marshal(st)
	if err != nil {
		return model.Strategy{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, enabled, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, enabled = excluded.enabled,
			body = excluded.body, updated_at = excluded.updated_at`,
		st.ID, st.Name, st.Enabled, string(body), s.now().UnixMilli())
	if err != nil {
		return model.Strategy{}, fmt.Errorf("upsert strategy: %w", err)
	}
	return st, nil
}

// Delete removes a strategy. Unknown ids return model.ErrNotFound.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: strategy %q", model.ErrNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *StrategyStore) Close() error {
	return s.db.Close()
}
