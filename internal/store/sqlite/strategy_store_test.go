package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowbeta/internal/model"
)

func openStore(t *testing.T) *StrategyStore {
	t.Helper()
	s, err := NewStrategyStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStrategyStore_UpsertAssignsIDAndDefaults(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	st, err := s.Upsert(ctx, model.Strategy{Name: "trend", Enabled: true, Symbols: []string{"aapl", " msft "},
		EntryRules: model.RuleSet{model.RuleMA50AboveMA200}})
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, []string{"AAPL", "MSFT"}, st.Symbols)
	assert.Equal(t, model.DefaultMaxPositions, st.MaxPositions)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, st, all[0])
}

func TestStrategyStore_UpsertReplacesAndFiltersEnabled(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.Upsert(ctx, model.Strategy{ID: "a", Name: "alpha", Enabled: true})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, model.Strategy{ID: "b", Name: "beta"})
	require.NoError(t, err)

	enabled, err := s.LoadEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "a", enabled[0].ID)

	a.Enabled = false
	a.Name = "alpha v2"
	_, err = s.Upsert(ctx, a)
	require.NoError(t, err)

	enabled, err = s.LoadEnabled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha v2", all[0].Name)
}

func TestStrategyStore_Delete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, model.Strategy{ID: "a", Name: "alpha"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a"))
	assert.ErrorIs(t, s.Delete(ctx, "a"), model.ErrNotFound)
}

func TestStrategyStore_RejectsInvalid(t *testing.T) {
	s := openStore(t)
	_, err := s.Upsert(context.Background(), model.Strategy{Name: "  "})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}
