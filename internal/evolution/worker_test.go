package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/backtest"
	"tradebrain/internal/database"
	"tradebrain/internal/events"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	"tradebrain/internal/mutation"
)

type evoStore struct {
	strategies map[string]*database.Strategy
	backtests  map[string][]*database.Backtest // strategyID -> rows
	edges      []*database.LineageEdge
	created    []*database.Strategy
	nextID     int
}

func newEvoStore() *evoStore {
	return &evoStore{
		strategies: map[string]*database.Strategy{},
		backtests:  map[string][]*database.Backtest{},
	}
}

func (s *evoStore) ListActiveStrategies(ctx context.Context) ([]*database.Strategy, error) {
	var out []*database.Strategy
	for _, st := range s.strategies {
		if st.Status != database.StatusDiscarded {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *evoStore) GetLatestBacktest(ctx context.Context, strategyID, segment string) (*database.Backtest, error) {
	var latest *database.Backtest
	for _, b := range s.backtests[strategyID] {
		if b.Segment == segment && (latest == nil || b.CreatedAt.After(latest.CreatedAt)) {
			latest = b
		}
	}
	return latest, nil
}

func (s *evoStore) CreateBacktest(ctx context.Context, b *database.Backtest) error {
	b.CreatedAt = time.Now()
	s.backtests[b.StrategyID] = append(s.backtests[b.StrategyID], b)
	return nil
}

func (s *evoStore) UpdateStrategy(ctx context.Context, st *database.Strategy) error {
	s.strategies[st.ID] = st
	return nil
}

func (s *evoStore) CreateStrategy(ctx context.Context, st *database.Strategy) error {
	s.nextID++
	st.ID = fmt.Sprintf("child-%d", s.nextID)
	s.strategies[st.ID] = st
	s.created = append(s.created, st)
	return nil
}

func (s *evoStore) CreateLineageEdge(ctx context.Context, e *database.LineageEdge) error {
	s.edges = append(s.edges, e)
	return nil
}

type frameSource struct{ candles []market.Candle }

func (f *frameSource) GetCandlesForBacktest(ctx context.Context, q market.CandleQuery) []market.Candle {
	return f.candles
}

func alwaysEnterRuleset(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"side": "BUY",
		"conditions": []map[string]any{
			{"indicator": "PRICE", "relation": ">", "value": 0},
		},
		"exit":      map[string]any{"style": "percent", "stop_loss": 0.02, "take_profit": 0.04},
		"timeframe": "1h",
	})
	require.NoError(t, err)
	return raw
}

// winningFrame holds 60 flat warm-up bars, then repeats a pattern where each
// entry at 100 rallies through the 4% target.
func winningFrame(cycles int) []market.Candle {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var out []market.Candle
	push := func(o, h, l, c float64) {
		out = append(out, market.Candle{
			Timestamp: base.Add(time.Duration(len(out)) * time.Hour),
			Open:      o, High: h, Low: l, Close: c, Volume: 1e6,
		})
	}
	for i := 0; i < 60; i++ {
		push(100, 100, 100, 100)
	}
	for i := 0; i < cycles; i++ {
		push(100, 100, 100, 100) // entry bar
		push(100, 105, 100, 105) // target fill at 104
		push(100, 100, 100, 100) // re-arm
	}
	return out
}

func testWorker(store *evoStore, candles []market.Candle, cfg Config) *Worker {
	return NewWorker(store, &frameSource{candles: candles}, NewMemoryLocker(),
		mutation.NewEngine(7), events.NewEventBus(), cfg, logging.Default())
}

func sharpePtr(v float64) *float64 { return &v }

func TestCycleBacktestsAndPromotesExperiment(t *testing.T) {
	store := newEvoStore()
	store.strategies["s1"] = &database.Strategy{
		ID: "s1", UserID: "u1", Name: "rsi dip", Ruleset: alwaysEnterRuleset(t),
		AssetType: "stock", Timeframe: "1h", Status: database.StatusExperiment,
	}

	w := testWorker(store, winningFrame(4), Config{MinTrades: 3})
	require.NoError(t, w.RunCycle(context.Background()))

	s := store.strategies["s1"]
	assert.Equal(t, database.StatusCandidate, s.Status)
	assert.Greater(t, s.Score, 0.0)
	assert.NotEmpty(t, s.LastBacktest)

	// full, train and test rows were persisted
	segments := map[string]bool{}
	for _, b := range store.backtests["s1"] {
		segments[b.Segment] = true
		assert.Equal(t, "SPY", b.Symbol)
	}
	assert.True(t, segments["full"] && segments["train"] && segments["test"])

	// Promotion spawned experiment children with lineage edges
	require.NotEmpty(t, store.created)
	for _, child := range store.created {
		assert.Equal(t, database.StatusExperiment, child.Status)
		assert.Equal(t, "u1", child.UserID)
	}
	require.Len(t, store.edges, len(store.created))
	assert.Equal(t, "s1", store.edges[0].ParentID)
	require.NotNil(t, store.edges[0].Similarity)
	assert.Less(t, *store.edges[0].Similarity, 1.0)
}

func TestFreshBacktestSkipsStrategy(t *testing.T) {
	store := newEvoStore()
	store.strategies["s1"] = &database.Strategy{
		ID: "s1", Ruleset: alwaysEnterRuleset(t), Status: database.StatusExperiment,
	}
	store.backtests["s1"] = []*database.Backtest{
		{StrategyID: "s1", Segment: "full", CreatedAt: time.Now().Add(-time.Hour)},
	}

	w := testWorker(store, winningFrame(4), Config{IntervalHours: 6})
	require.NoError(t, w.RunCycle(context.Background()))

	// Still only the pre-seeded row: nothing was re-run
	assert.Len(t, store.backtests["s1"], 1)
}

func TestEvaluateCandidateToProposable(t *testing.T) {
	w := testWorker(newEvoStore(), nil, Config{})
	s := &database.Strategy{ID: "s1", Status: database.StatusCandidate}

	result := &backtest.Result{
		Full:  backtest.Metrics{Trades: 80, WinRate: 0.62, AvgPnL: 4, Sharpe: sharpePtr(1.6)},
		Train: backtest.Metrics{Sharpe: sharpePtr(1.5)},
		Test:  backtest.Metrics{Sharpe: sharpePtr(1.2)}, // ratio 0.8
	}
	promoted := w.evaluate(s, result)

	assert.True(t, promoted)
	assert.Equal(t, database.StatusProposable, s.Status)
	assert.True(t, s.IsProposable)
	assert.Zero(t, s.EvolutionAttempts)
}

func TestEvaluateOverfitBlocksPromotion(t *testing.T) {
	w := testWorker(newEvoStore(), nil, Config{})
	s := &database.Strategy{ID: "s1", Status: database.StatusCandidate}

	result := &backtest.Result{
		Full:  backtest.Metrics{Trades: 80, WinRate: 0.62, Sharpe: sharpePtr(1.6)},
		Train: backtest.Metrics{Sharpe: sharpePtr(1.5)},
		Test:  backtest.Metrics{Sharpe: sharpePtr(0.6)}, // ratio 0.4 < 0.7
	}
	promoted := w.evaluate(s, result)

	assert.False(t, promoted)
	assert.Equal(t, database.StatusCandidate, s.Status)
	assert.Equal(t, 1, s.EvolutionAttempts)
}

func TestEvaluateDiscardsAfterAttemptCap(t *testing.T) {
	w := testWorker(newEvoStore(), nil, Config{MaxAttempts: 5})
	s := &database.Strategy{ID: "s1", Status: database.StatusCandidate, EvolutionAttempts: 5}

	promoted := w.evaluate(s, &backtest.Result{
		Full: backtest.Metrics{Trades: 10, WinRate: 0.3},
	})

	assert.False(t, promoted)
	assert.Equal(t, database.StatusDiscarded, s.Status)
	assert.False(t, s.IsProposable)
}

func TestEvaluateNeverDemotesProposable(t *testing.T) {
	w := testWorker(newEvoStore(), nil, Config{MaxAttempts: 1})
	s := &database.Strategy{
		ID: "s1", Status: database.StatusProposable, IsProposable: true,
		EvolutionAttempts: 9,
	}

	// Metrics collapsed, yet status must hold; only the flag drops
	promoted := w.evaluate(s, &backtest.Result{
		Full: backtest.Metrics{Trades: 5, WinRate: 0.2},
	})

	assert.False(t, promoted)
	assert.Equal(t, database.StatusProposable, s.Status)
	assert.False(t, s.IsProposable)
}

func TestEvaluateExperimentNeedsPositiveExpectancy(t *testing.T) {
	w := testWorker(newEvoStore(), nil, Config{MinTrades: 20})
	s := &database.Strategy{ID: "s1", Status: database.StatusExperiment}

	promoted := w.evaluate(s, &backtest.Result{
		Full: backtest.Metrics{Trades: 30, WinRate: 0.6, AvgPnL: -1},
	})

	assert.False(t, promoted)
	assert.Equal(t, database.StatusExperiment, s.Status)
}

func TestLockSerializesCycles(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	ok, err := locker.Acquire(ctx, "evolution:lock:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locker.Acquire(ctx, "evolution:lock:s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "evolution:lock:s1"))
	ok, err = locker.Acquire(ctx, "evolution:lock:s1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockedStrategySkipped(t *testing.T) {
	store := newEvoStore()
	store.strategies["s1"] = &database.Strategy{
		ID: "s1", Ruleset: alwaysEnterRuleset(t), Status: database.StatusExperiment,
	}
	locker := NewMemoryLocker()
	_, err := locker.Acquire(context.Background(), "evolution:lock:s1", time.Minute)
	require.NoError(t, err)

	w := NewWorker(store, &frameSource{candles: winningFrame(4)}, locker,
		mutation.NewEngine(7), nil, Config{}, logging.Default())
	require.NoError(t, w.RunCycle(context.Background()))

	assert.Empty(t, store.backtests["s1"])
	assert.Equal(t, database.StatusExperiment, store.strategies["s1"].Status)
}

func TestDiscardsInvalidRuleset(t *testing.T) {
	store := newEvoStore()
	store.strategies["s1"] = &database.Strategy{
		ID: "s1", Ruleset: json.RawMessage(`{"conditions": "nope"`), Status: database.StatusExperiment,
	}

	w := testWorker(store, winningFrame(1), Config{})
	require.NoError(t, w.RunCycle(context.Background()))

	assert.Equal(t, database.StatusDiscarded, store.strategies["s1"].Status)
}
