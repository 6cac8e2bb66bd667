package royalty

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/database"
	"tradebrain/internal/logging"
)

func TestRateTable(t *testing.T) {
	cases := []struct {
		name       string
		similarity float64
		mutations  int
		want       float64
	}{
		{"near clone", 0.85, 1, 0.05},
		{"moderate similarity", 0.55, 2, 0.03},
		{"boundary at 0.70 pays mid tier", 0.70, 1, 0.03},
		{"low similarity", 0.45, 2, 0.015},
		{"divergent", 0.30, 1, 0},
		{"three mutations flat", 0.90, 3, 0.015},
		{"three mutations but divergent", 0.20, 3, 0},
		{"deep lineage pays nothing", 0.95, 4, 0},
		{"own original", 1.0, 0, 0.05},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Rate(tc.similarity, tc.mutations), 1e-9)
		})
	}
}

type royaltyStore struct {
	strategies map[string]*database.Strategy
	edges      map[string][]*database.LineageEdge
	users      map[string]*database.User
	plans      map[string]*database.SubscriptionPlan
	settings   *database.AdminSettings
	entries    []*database.RoyaltyEntry
}

func newRoyaltyStore() *royaltyStore {
	return &royaltyStore{
		strategies: map[string]*database.Strategy{},
		edges:      map[string][]*database.LineageEdge{},
		users:      map[string]*database.User{},
		plans:      map[string]*database.SubscriptionPlan{},
		settings:   &database.AdminSettings{PlatformFeePercent: 5, CreatorFeePercent: 3},
	}
}

func (s *royaltyStore) GetStrategy(ctx context.Context, id string) (*database.Strategy, error) {
	return s.strategies[id], nil
}

func (s *royaltyStore) GetParentEdges(ctx context.Context, childID string) ([]*database.LineageEdge, error) {
	return s.edges[childID], nil
}

func (s *royaltyStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	return s.users[userID], nil
}

func (s *royaltyStore) GetPlan(ctx context.Context, code string) (*database.SubscriptionPlan, error) {
	return s.plans[code], nil
}

func (s *royaltyStore) GetAdminSettings(ctx context.Context) (*database.AdminSettings, error) {
	return s.settings, nil
}

func (s *royaltyStore) CreateRoyaltyEntry(ctx context.Context, e *database.RoyaltyEntry) error {
	s.entries = append(s.entries, e)
	return nil
}

func rulesetJSON(t *testing.T, indicator string, value float64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"side": "BUY",
		"conditions": []map[string]any{
			{"indicator": indicator, "length": 14, "relation": "<", "value": value},
		},
		"exit":      map[string]any{"style": "percent", "stop_loss": 0.02, "take_profit": 0.04},
		"timeframe": "1h",
	})
	require.NoError(t, err)
	return raw
}

func seedCreator(store *royaltyStore, planCode string, feePercent float64) {
	store.users["creator-1"] = &database.User{ID: "creator-1", Email: "creator@example.com", PlanCode: &planCode}
	store.plans[planCode] = &database.SubscriptionPlan{Code: planCode, PlatformFeePercent: feePercent}
}

func TestOnTradeClosedBooksEntryWithPlanFee(t *testing.T) {
	store := newRoyaltyStore()
	seedCreator(store, "pro", 3)
	store.strategies["strat-1"] = &database.Strategy{
		ID: "strat-1", UserID: "creator-1", Ruleset: rulesetJSON(t, "RSI", 30),
	}

	// Pin the rate via the creator override so the cents math is exact:
	// $200 profit at 3% royalty and 3% fee gives 600 / 18 / 582 cents.
	override := 3.0
	store.users["creator-1"].RoyaltyPercentOverride = &override

	engine := NewEngine(store, logging.Default())
	sid := "strat-1"
	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-1", &sid, 200))

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.Equal(t, "creator-1", e.CreatorID)
	assert.Equal(t, int64(20000), e.TradeProfitCents)
	assert.InDelta(t, 0.03, e.RoyaltyRate, 1e-9)
	assert.Equal(t, int64(600), e.RoyaltyCents)
	assert.Equal(t, int64(18), e.PlatformFeeCents)
	assert.Equal(t, int64(582), e.NetCents)
	assert.Equal(t, e.RoyaltyCents-e.PlatformFeeCents, e.NetCents)
}

func TestOnTradeClosedOriginalStrategyFullRate(t *testing.T) {
	store := newRoyaltyStore()
	seedCreator(store, "pro", 3)
	store.strategies["strat-1"] = &database.Strategy{
		ID: "strat-1", UserID: "creator-1", Ruleset: rulesetJSON(t, "RSI", 30),
	}

	engine := NewEngine(store, logging.Default())
	sid := "strat-1"
	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-1", &sid, 200))

	// No parents: similarity 1.0, zero mutations, 5% rate
	require.Len(t, store.entries, 1)
	assert.InDelta(t, 0.05, store.entries[0].RoyaltyRate, 1e-9)
	assert.Equal(t, int64(1000), store.entries[0].RoyaltyCents)
}

func TestOnTradeClosedSkipsLossAndOwnTrades(t *testing.T) {
	store := newRoyaltyStore()
	seedCreator(store, "pro", 3)
	store.strategies["strat-1"] = &database.Strategy{
		ID: "strat-1", UserID: "creator-1", Ruleset: rulesetJSON(t, "RSI", 30),
	}
	engine := NewEngine(store, logging.Default())
	sid := "strat-1"

	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-1", &sid, -50))
	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-2", &sid, 0))
	require.NoError(t, engine.OnTradeClosed(context.Background(), "creator-1", "trade-3", &sid, 200))
	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-4", nil, 200))

	assert.Empty(t, store.entries)
}

func TestAttributeWalksLineage(t *testing.T) {
	store := newRoyaltyStore()
	store.users["creator-1"] = &database.User{ID: "creator-1", Email: "creator@example.com"}

	// origin -> mid -> leaf, rulesets identical so similarity stays 1.0
	rs := rulesetJSON(t, "RSI", 30)
	store.strategies["origin"] = &database.Strategy{ID: "origin", UserID: "creator-1", Ruleset: rs}
	store.strategies["mid"] = &database.Strategy{ID: "mid", UserID: "trader-9", Ruleset: rs}
	store.strategies["leaf"] = &database.Strategy{ID: "leaf", UserID: "trader-9", Ruleset: rs}
	store.edges["leaf"] = []*database.LineageEdge{{ParentID: "mid", ChildID: "leaf"}}
	store.edges["mid"] = []*database.LineageEdge{{ParentID: "origin", ChildID: "mid"}}

	engine := NewEngine(store, logging.Default())
	attr, err := engine.Attribute(context.Background(), store.strategies["leaf"])
	require.NoError(t, err)

	assert.Equal(t, "origin", attr.OriginID)
	assert.Equal(t, "creator-1", attr.CreatorID)
	assert.Equal(t, 2, attr.Mutations)
	assert.InDelta(t, 1.0, attr.Similarity, 1e-9)
	assert.InDelta(t, 0.05, attr.Rate, 1e-9)
}

func TestAttributeDeepLineagePaysNothing(t *testing.T) {
	store := newRoyaltyStore()
	store.users["creator-1"] = &database.User{ID: "creator-1", Email: "creator@example.com"}

	rs := rulesetJSON(t, "RSI", 30)
	chain := []string{"leaf", "g3", "g2", "g1", "origin"}
	for i, id := range chain {
		store.strategies[id] = &database.Strategy{ID: id, UserID: "creator-1", Ruleset: rs}
		if i+1 < len(chain) {
			store.edges[id] = []*database.LineageEdge{{ParentID: chain[i+1], ChildID: id}}
		}
	}

	engine := NewEngine(store, logging.Default())
	attr, err := engine.Attribute(context.Background(), store.strategies["leaf"])
	require.NoError(t, err)

	assert.Equal(t, 4, attr.Mutations)
	assert.Zero(t, attr.Rate)
}

func TestPlatformFeeFallsBackToAdminSettings(t *testing.T) {
	store := newRoyaltyStore()
	store.settings = &database.AdminSettings{PlatformFeePercent: 5, CreatorFeePercent: 3}
	store.users["creator-1"] = &database.User{ID: "creator-1", Email: "creator@example.com"} // no plan
	store.strategies["strat-1"] = &database.Strategy{
		ID: "strat-1", UserID: "creator-1", Ruleset: rulesetJSON(t, "RSI", 30),
	}

	engine := NewEngine(store, logging.Default())
	sid := "strat-1"
	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-1", &sid, 200))

	require.Len(t, store.entries, 1)
	assert.InDelta(t, 0.05, store.entries[0].PlatformFeeRate, 1e-9)
	assert.Equal(t, int64(50), store.entries[0].PlatformFeeCents) // 5% of 1000
}

func TestPlanlessCreatorRolePaysCreatorFee(t *testing.T) {
	store := newRoyaltyStore()
	store.users["creator-1"] = &database.User{
		ID: "creator-1", Email: "creator@example.com", Role: database.RoleCreator, // no plan
	}
	store.strategies["strat-1"] = &database.Strategy{
		ID: "strat-1", UserID: "creator-1", Ruleset: rulesetJSON(t, "RSI", 30),
	}

	engine := NewEngine(store, logging.Default())
	sid := "strat-1"
	require.NoError(t, engine.OnTradeClosed(context.Background(), "trader-1", "trade-1", &sid, 200))

	require.Len(t, store.entries, 1)
	assert.InDelta(t, 0.03, store.entries[0].PlatformFeeRate, 1e-9)
	assert.Equal(t, int64(30), store.entries[0].PlatformFeeCents) // 3% of 1000
}

func TestAttributeCrossoverFollowsOldestEdge(t *testing.T) {
	store := newRoyaltyStore()
	store.users["creator-1"] = &database.User{ID: "creator-1", Email: "creator@example.com"}
	store.users["creator-2"] = &database.User{ID: "creator-2", Email: "other@example.com"}

	rs := rulesetJSON(t, "RSI", 30)
	store.strategies["first"] = &database.Strategy{ID: "first", UserID: "creator-1", Ruleset: rs}
	store.strategies["second"] = &database.Strategy{ID: "second", UserID: "creator-2", Ruleset: rs}
	store.strategies["child"] = &database.Strategy{ID: "child", UserID: "trader-9", Ruleset: rs}

	// Crossover child carries two parent edges; newest listed first to prove
	// selection is by creation time, not slice order.
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.edges["child"] = []*database.LineageEdge{
		{ID: 2, ParentID: "second", ChildID: "child", CreatedAt: older.Add(time.Hour)},
		{ID: 1, ParentID: "first", ChildID: "child", CreatedAt: older},
	}

	engine := NewEngine(store, logging.Default())
	attr, err := engine.Attribute(context.Background(), store.strategies["child"])
	require.NoError(t, err)

	assert.Equal(t, "first", attr.OriginID)
	assert.Equal(t, "creator-1", attr.CreatorID)
	assert.Equal(t, 1, attr.Mutations)
}
