// Package evolution runs the periodic strategy lifecycle: backtest active
// strategies, promote or discard them by thresholds, and spawn mutated
// children of promoted parents.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"tradebrain/internal/backtest"
	"tradebrain/internal/database"
	"tradebrain/internal/events"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	"tradebrain/internal/mutation"
	"tradebrain/internal/ruleset"
)

// Store is the persistence surface the worker needs
type Store interface {
	ListActiveStrategies(ctx context.Context) ([]*database.Strategy, error)
	GetLatestBacktest(ctx context.Context, strategyID, segment string) (*database.Backtest, error)
	CreateBacktest(ctx context.Context, b *database.Backtest) error
	UpdateStrategy(ctx context.Context, s *database.Strategy) error
	CreateStrategy(ctx context.Context, s *database.Strategy) error
	CreateLineageEdge(ctx context.Context, e *database.LineageEdge) error
}

// CandleSource is the router surface the worker needs. The backtest path
// returns an empty frame instead of an error so a provider outage degrades a
// cycle, never crashes it.
type CandleSource interface {
	GetCandlesForBacktest(ctx context.Context, q market.CandleQuery) []market.Candle
}

// Config holds the worker thresholds
type Config struct {
	IntervalHours int
	MinTrades     int     // experiment -> candidate floor
	WinRateMin    float64 // candidate -> proposable thresholds
	SharpeMin     float64
	OverfitRatio  float64 // test/train Sharpe floor
	MaxAttempts   int
	LockTTL       time.Duration
	CandleLimit   int
	SpawnCount    int // children per promotion
}

func (c Config) withDefaults() Config {
	if c.IntervalHours <= 0 {
		c.IntervalHours = 6
	}
	if c.MinTrades <= 0 {
		c.MinTrades = 20
	}
	if c.WinRateMin <= 0 {
		c.WinRateMin = 0.55
	}
	if c.SharpeMin <= 0 {
		c.SharpeMin = 1.0
	}
	if c.OverfitRatio <= 0 {
		c.OverfitRatio = 0.7
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 500
	}
	if c.SpawnCount <= 0 {
		c.SpawnCount = 2
	}
	return c
}

// Worker drives the evolution cycle
type Worker struct {
	store   Store
	candles CandleSource
	locker  Locker
	mutator *mutation.Engine
	bus     *events.EventBus
	cfg     Config
	cron    *cron.Cron
	logger  *logging.Logger
}

// NewWorker creates the evolution worker
func NewWorker(store Store, candles CandleSource, locker Locker, mutator *mutation.Engine, bus *events.EventBus, cfg Config, logger *logging.Logger) *Worker {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Worker{
		store:   store,
		candles: candles,
		locker:  locker,
		mutator: mutator,
		bus:     bus,
		cfg:     cfg.withDefaults(),
		cron:    cron.New(),
		logger:  logger.WithComponent("evolution"),
	}
}

// Start schedules periodic cycles
func (w *Worker) Start() {
	spec := fmt.Sprintf("@every %dh", w.cfg.IntervalHours)
	_, err := w.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(w.cfg.IntervalHours)*time.Hour/2)
		defer cancel()
		if err := w.RunCycle(ctx); err != nil {
			w.logger.WithError(err).Error("Evolution cycle failed")
		}
	})
	if err != nil {
		w.logger.WithError(err).Error("Failed to schedule evolution cycle")
		return
	}
	w.cron.Start()
	w.logger.Info("Evolution worker scheduled", "spec", spec)
}

// Stop halts the scheduler
func (w *Worker) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}

// RunCycle processes every active strategy once. Each strategy is guarded by
// a named lock so concurrent cycles (or replicas) never double-write.
func (w *Worker) RunCycle(ctx context.Context) error {
	strategies, err := w.store.ListActiveStrategies(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active strategies: %w", err)
	}

	w.logger.Info("Evolution cycle started", "strategies", len(strategies))
	for _, s := range strategies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := "evolution:lock:" + s.ID
		ok, err := w.locker.Acquire(ctx, key, w.cfg.LockTTL)
		if err != nil {
			w.logger.WithError(err).Warn("Lock acquire failed", "strategy_id", s.ID)
			continue
		}
		if !ok {
			continue
		}
		if err := w.Process(ctx, s); err != nil {
			w.logger.WithError(err).Error("Failed to process strategy", "strategy_id", s.ID)
		}
		_ = w.locker.Release(ctx, key)
	}
	return nil
}

// Process backtests one strategy if its results are stale and applies the
// status transitions.
func (w *Worker) Process(ctx context.Context, s *database.Strategy) error {
	if !w.needsBacktest(ctx, s) {
		return nil
	}

	rs, err := ruleset.Parse(s.Ruleset)
	if err != nil {
		// An unparseable ruleset can never trade; drop it from the pipeline
		w.logger.WithError(err).Warn("Discarding strategy with invalid ruleset", "strategy_id", s.ID)
		s.Status = database.StatusDiscarded
		s.IsProposable = false
		return w.store.UpdateStrategy(ctx, s)
	}

	symbol := w.symbolFor(s)
	candles := w.candles.GetCandlesForBacktest(ctx, market.CandleQuery{
		Symbol:   symbol,
		Interval: rs.Timeframe,
		Limit:    w.cfg.CandleLimit,
	})
	if len(candles) < rs.MaxLookback()+10 {
		w.logger.Warn("Insufficient candles for backtest",
			"strategy_id", s.ID, "symbol", symbol, "bars", len(candles))
		return nil
	}

	result := backtest.Run(rs, candles)
	if err := w.saveBacktests(ctx, s, symbol, rs.Timeframe, candles, result); err != nil {
		return err
	}

	s.Score = scoreOf(result.Full)
	if raw, err := json.Marshal(result.Full); err == nil {
		s.LastBacktest = raw
	}

	promoted := w.evaluate(s, result)
	if err := w.store.UpdateStrategy(ctx, s); err != nil {
		return err
	}
	if promoted {
		return w.spawn(ctx, s, rs)
	}
	return nil
}

func (w *Worker) needsBacktest(ctx context.Context, s *database.Strategy) bool {
	latest, err := w.store.GetLatestBacktest(ctx, s.ID, "full")
	if err != nil {
		w.logger.WithError(err).Warn("Failed to read latest backtest", "strategy_id", s.ID)
		return false
	}
	if latest == nil {
		return true
	}
	staleAfter := time.Duration(w.cfg.IntervalHours) * time.Hour
	return time.Since(latest.CreatedAt) >= staleAfter
}

func (w *Worker) saveBacktests(ctx context.Context, s *database.Strategy, symbol, timeframe string, candles []market.Candle, result *backtest.Result) error {
	start := candles[0].Timestamp
	end := candles[len(candles)-1].Timestamp
	segments := []struct {
		name string
		m    backtest.Metrics
	}{
		{"full", result.Full},
		{"train", result.Train},
		{"test", result.Test},
	}
	for _, seg := range segments {
		row := &database.Backtest{
			StrategyID:  s.ID,
			Symbol:      symbol,
			Timeframe:   timeframe,
			Segment:     seg.name,
			WindowStart: &start,
			WindowEnd:   &end,
			TotalReturn: seg.m.TotalReturn,
			WinRate:     seg.m.WinRate,
			MaxDrawdown: seg.m.MaxDrawdown,
			AvgPnL:      seg.m.AvgPnL,
			TotalTrades: seg.m.Trades,
			Sharpe:      seg.m.Sharpe,
		}
		if err := w.store.CreateBacktest(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// evaluate applies the status transitions in place and reports whether the
// strategy was promoted this cycle. Proposable strategies are never demoted
// back into the pipeline; at worst their is_proposable flag drops until
// metrics recover.
func (w *Worker) evaluate(s *database.Strategy, result *backtest.Result) bool {
	full := result.Full

	switch s.Status {
	case database.StatusExperiment:
		if full.Trades >= w.cfg.MinTrades && full.AvgPnL > 0 {
			w.transition(s, database.StatusCandidate)
			return true
		}
	case database.StatusCandidate:
		if w.meetsProposable(result) {
			w.transition(s, database.StatusProposable)
			s.IsProposable = true
			return true
		}
	case database.StatusProposable:
		s.IsProposable = w.meetsProposable(result)
		return false
	}

	s.EvolutionAttempts++
	if s.EvolutionAttempts > w.cfg.MaxAttempts {
		w.transition(s, database.StatusDiscarded)
		s.IsProposable = false
	}
	return false
}

func (w *Worker) meetsProposable(result *backtest.Result) bool {
	full := result.Full
	if full.WinRate < w.cfg.WinRateMin {
		return false
	}
	if full.Sharpe == nil || *full.Sharpe <= w.cfg.SharpeMin {
		return false
	}
	return !w.overfit(result)
}

// overfit flags a train/test divergence. Missing Sharpe on either segment
// counts as divergence: the split was too thin to trust.
func (w *Worker) overfit(result *backtest.Result) bool {
	if result.Train.Sharpe == nil || result.Test.Sharpe == nil {
		return true
	}
	train, test := *result.Train.Sharpe, *result.Test.Sharpe
	if train <= 0 {
		return true
	}
	return test/train < w.cfg.OverfitRatio
}

func (w *Worker) transition(s *database.Strategy, to database.StrategyStatus) {
	from := s.Status
	s.Status = to
	w.logger.Info("Strategy status transition",
		"strategy_id", s.ID, "from", string(from), "to", string(to), "score", s.Score)
	if w.bus != nil {
		w.bus.PublishStrategyStatus(s.ID, string(from), string(to))
	}
}

// spawn derives mutated children of a promoted parent and records their
// lineage edges.
func (w *Worker) spawn(ctx context.Context, parent *database.Strategy, rs *ruleset.Ruleset) error {
	if w.mutator == nil {
		return nil
	}
	children, err := w.mutator.Mutate(rs, w.cfg.SpawnCount)
	if err != nil {
		return fmt.Errorf("failed to mutate %s: %w", parent.ID, err)
	}

	for i, child := range children {
		raw, err := json.Marshal(child.Ruleset)
		if err != nil {
			return err
		}
		row := &database.Strategy{
			UserID:     parent.UserID,
			Name:       fmt.Sprintf("%s v%d", parent.Name, parent.EvolutionAttempts+i+2),
			Parameters: parent.Parameters,
			Ruleset:    raw,
			AssetType:  parent.AssetType,
			Timeframe:  child.Ruleset.Timeframe,
			Status:     database.StatusExperiment,
		}
		if err := w.store.CreateStrategy(ctx, row); err != nil {
			return err
		}
		sim := child.Similarity
		edge := &database.LineageEdge{
			ParentID:     parent.ID,
			ChildID:      row.ID,
			MutationType: string(child.Type),
			Similarity:   &sim,
		}
		if err := w.store.CreateLineageEdge(ctx, edge); err != nil {
			return err
		}
		w.logger.Info("Spawned mutation",
			"parent_id", parent.ID, "child_id", row.ID,
			"mutation_type", string(child.Type), "similarity", sim)
	}
	return nil
}

// symbolFor picks the backtest symbol: the strategy's parameters may name
// one, otherwise a liquid default per asset class.
func (w *Worker) symbolFor(s *database.Strategy) string {
	if len(s.Parameters) > 0 {
		var params struct {
			Symbol string `json:"symbol"`
		}
		if err := json.Unmarshal(s.Parameters, &params); err == nil && params.Symbol != "" {
			return market.NormalizeSymbol(params.Symbol)
		}
	}
	if s.AssetType == "crypto" {
		return "BTC-USD"
	}
	return "SPY"
}

// scoreOf maps backtest metrics to the [0,1] strategy score
func scoreOf(m backtest.Metrics) float64 {
	sharpe := 0.0
	if m.Sharpe != nil && *m.Sharpe > 0 {
		sharpe = *m.Sharpe
	}
	score := 0.5*m.WinRate + 0.3*clamp01(sharpe/3) + 0.2*clamp01(1-2*m.MaxDrawdown)
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
