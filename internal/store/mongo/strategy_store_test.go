package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"shadowbeta/internal/model"
)

func TestStrategyDoc_RoundTripThroughBSON(t *testing.T) {
	in := model.Strategy{
		ID: "s1", Name: "trend", Enabled: true, Symbols: []string{"AAPL"},
		EntryRules:   model.RuleSet{model.RuleMA50AboveMA200, model.RulePriceAboveMA50},
		MaxPositions: 2, MaxNotionalPerTrade: 1000, StopLossPct: 2, TakeProfitPct: 4,
	}
	raw, err := bson.Marshal(toDoc(in, time.Unix(0, 0)))
	require.NoError(t, err)

	var d strategyDoc
	require.NoError(t, bson.Unmarshal(raw, &d))
	assert.Equal(t, map[string]bool{"ma50_above_ma200": true, "price_above_ma50": true}, d.EntryRules)

	out, err := d.strategy()
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, 2, out.MaxPositions)
	assert.True(t, out.EntryRules.Has(model.RuleMA50AboveMA200))
	assert.True(t, out.EntryRules.Has(model.RulePriceAboveMA50))
	assert.Len(t, out.EntryRules, 2)
}

func TestStrategyDoc_LegacyDocument(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"_id":         "old",
		"name":        "legacy",
		"enabled":     true,
		"symbols":     bson.A{"xom"},
		"entry_rules": bson.M{"RSI_OVERSOLD": true, "rel_volume_strong": false},
	})
	require.NoError(t, err)

	var d strategyDoc
	require.NoError(t, bson.Unmarshal(raw, &d))
	st, err := d.strategy()
	require.NoError(t, err)
	assert.Equal(t, model.RuleSet{model.RuleRSIOversold}, st.EntryRules)
	assert.Equal(t, []string{"XOM"}, st.Symbols)
	assert.Equal(t, model.DefaultStopLossPct, st.StopLossPct)
}

func TestStrategyDoc_UnknownRuleRejected(t *testing.T) {
	d := strategyDoc{ID: "x", Name: "x", EntryRules: map[string]bool{"moon_phase": true}}
	_, err := d.strategy()
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestNewStrategyStore_RequiresURI(t *testing.T) {
	_, err := NewStrategyStore(context.Background(), Config{})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}
