// Package mongo is the MongoDB-backed strategy store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shadowbeta/internal/model"
)

// Defaults for the strategy collection.
const (
	DefaultDatabase    = "shadowbeta"
	StrategyCollection = "strategies"
)

// Config holds the connection settings.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// strategyDoc is the stored document. Entry rules keep the {name: bool}
// layout so documents written by older tools still load.
type strategyDoc struct {
	ID                  string          `bson:"_id"`
	Name                string          `bson:"name"`
	Enabled             bool            `bson:"enabled"`
	Symbols             []string        `bson:"symbols"`
	EntryRules          map[string]bool `bson:"entry_rules"`
	MaxPositions        int             `bson:"max_positions"`
	MaxNotionalPerTrade float64         `bson:"max_notional_per_trade"`
	StopLossPct         float64         `bson:"stop_loss_pct"`
	TakeProfitPct       float64         `bson:"take_profit_pct"`
	UpdatedAt           time.Time       `bson:"updated_at"`
}

func toDoc(s model.Strategy, now time.Time) strategyDoc {
	return strategyDoc{
		ID:                  s.ID,
		Name:                s.Name,
		Enabled:             s.Enabled,
		Symbols:             s.Symbols,
		EntryRules:          s.EntryRules.Flags(),
		MaxPositions:        s.MaxPositions,
		MaxNotionalPerTrade: s.MaxNotionalPerTrade,
		StopLossPct:         s.StopLossPct,
		TakeProfitPct:       s.TakeProfitPct,
		UpdatedAt:           now,
	}
}

func (d strategyDoc) strategy() (model.Strategy, error) {
	rules, err := model.RulesFromFlags(d.EntryRules)
	if err != nil {
		return model.Strategy{}, err
	}
	return model.Strategy{
		ID:                  d.ID,
		Name:                d.Name,
		Enabled:             d.Enabled,
		Symbols:             d.Symbols,
		EntryRules:          rules,
		MaxPositions:        d.MaxPositions,
		MaxNotionalPerTrade: d.MaxNotionalPerTrade,
		StopLossPct:         d.StopLossPct,
		TakeProfitPct:       d.TakeProfitPct,
	}.WithDefaults(), nil
}

// StrategyStore implements model.StrategyStore on a MongoDB collection.
type StrategyStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *slog.Logger
	now    func() time.Time
}

// NewStrategyStore connects, pings and ensures the enabled index.
func NewStrategyStore(ctx context.Context, cfg Config) (*StrategyStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: mongo uri is required", model.ErrInvalidRequest)
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(10).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(cctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(StrategyCollection)
	log := slog.Default().With("component", "mongo")
	if _, err := coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "enabled", Value: 1}},
	}); err != nil {
		log.Warn("create strategy index failed", "err", err)
	}

	log.Info("strategy store connected", "database", cfg.Database)
	return &StrategyStore{client: client, coll: coll, log: log, now: time.Now}, nil
}

// List returns every strategy ordered by name.
func (s *StrategyStore) List(ctx context.Context) ([]model.Strategy, error) {
	return s.find(ctx, bson.M{})
}

// LoadEnabled returns the enabled strategies.
func (s *StrategyStore) LoadEnabled(ctx context.Context) ([]model.Strategy, error) {
	return s.find(ctx, bson.M{"enabled": true})
}

func (s *StrategyStore) find(ctx context.Context, filter bson.M) ([]model.Strategy, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find strategies: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]model.Strategy, 0)
	for cur.Next(ctx) {
		var d strategyDoc
		if err := cur.Decode(&d); err != nil {
			s.log.Warn("skipping undecodable strategy", "err", err)
			continue
		}
		st, err := d.strategy()
		if err != nil {
			s.log.Warn("skipping strategy with bad rules", "id", d.ID, "err", err)
			continue
		}
		out = append(out, st)
	}
	return out, cur.Err()
}

// Upsert replaces the document with the same id, assigning a UUID when the
// id is empty.
func (s *StrategyStore) Upsert(ctx context.Context, st model.Strategy) (model.Strategy, error) {
	if err := st.Validate(); err != nil {
		return model.Strategy{}, err
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st = st.WithDefaults()

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": st.ID}, toDoc(st, s.now()), options.Replace().SetUpsert(true))
	if err != nil {
		return model.Strategy{}, fmt.Errorf("upsert strategy: %w", err)
	}
	return st, nil
}

// Delete removes a strategy. Unknown ids return model.ErrNotFound.
func (s *StrategyStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: strategy %q", model.ErrNotFound, id)
	}
	return nil
}

// Ping checks the server connection.
func (s *StrategyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *StrategyStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil && !errors.Is(err, mongo.ErrClientDisconnected) {
		return err
	}
	return nil
}
