// Package brain assembles trading signals: it evaluates a strategy's ruleset
// against live market data, gathers every confirmation factor, calibrates a
// confidence score and emits an explained signal or a refusal.
package brain

import (
	"context"
	"fmt"
	"math"
	"time"

	"tradebrain/internal/analysis"
	"tradebrain/internal/database"
	"tradebrain/internal/indicators"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	"tradebrain/internal/regime"
	"tradebrain/internal/risk"
	"tradebrain/internal/ruleset"
)

// MarketSource is the router surface the assembler needs
type MarketSource interface {
	GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error)
	GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error)
}

// StrategyStore is the persistence surface the assembler needs
type StrategyStore interface {
	GetStrategy(ctx context.Context, id string) (*database.Strategy, error)
	GetParentEdges(ctx context.Context, childID string) ([]*database.LineageEdge, error)
	GetLatestBacktest(ctx context.Context, strategyID, segment string) (*database.Backtest, error)
	ListClosedTrades(ctx context.Context, userID string, limit int) ([]*database.Trade, error)
	ListOpenTrades(ctx context.Context, userID, symbol string) ([]*database.Trade, error)
	GetOrCreatePaperAccount(ctx context.Context, userID string, startingBalance float64) (*database.PaperAccount, error)
}

// RegimeDetector abstracts the regime package for tests
type RegimeDetector interface {
	Detect(ctx context.Context, symbol string) regime.Detection
}

// TrendAnalyzer abstracts the multi-timeframe analyzer for tests
type TrendAnalyzer interface {
	Analyze(ctx context.Context, symbol string) *analysis.TrendAlignment
}

// Config bounds the assembler's behavior
type Config struct {
	MinConfidence   float64
	CandleLookback  int
	StartingBalance float64
}

// Assembler builds signals from strategies
type Assembler struct {
	store     StrategyStore
	markets   MarketSource
	regimes   RegimeDetector
	trends    TrendAnalyzer
	portfolio *risk.PortfolioGuard
	sectorOf  func(string) string
	cfg       Config
	logger    *logging.Logger
}

// New creates an assembler. sectorOf may be nil when no sector mapping is
// available; portfolio sector checks then degrade to symbol-only limits.
func New(store StrategyStore, markets MarketSource, regimes RegimeDetector, trends TrendAnalyzer, portfolio *risk.PortfolioGuard, sectorOf func(string) string, cfg Config, logger *logging.Logger) *Assembler {
	if cfg.CandleLookback <= 0 {
		cfg.CandleLookback = 200
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.35
	}
	if sectorOf == nil {
		sectorOf = func(string) string { return "" }
	}
	return &Assembler{
		store:     store,
		markets:   markets,
		regimes:   regimes,
		trends:    trends,
		portfolio: portfolio,
		sectorOf:  sectorOf,
		cfg:       cfg,
		logger:    logger.WithComponent("brain"),
	}
}

// Assemble produces a signal for (strategy, user, symbol)
func (a *Assembler) Assemble(ctx context.Context, strategyID, userID, symbol string) (*Signal, error) {
	symbol = market.NormalizeSymbol(symbol)

	strategy, err := a.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}
	if strategy == nil {
		return nil, fmt.Errorf("strategy %s not found", strategyID)
	}

	rs, err := ruleset.Parse(strategy.Ruleset)
	if err != nil {
		return nil, fmt.Errorf("strategy %s has an invalid ruleset: %w", strategyID, err)
	}

	price, err := a.markets.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	candles, err := a.markets.GetCandles(ctx, market.CandleQuery{
		Symbol:   symbol,
		Interval: rs.Timeframe,
		Limit:    a.cfg.CandleLookback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}

	sig := &Signal{
		StrategyID: strategyID,
		UserID:     userID,
		Symbol:     symbol,
		CreatedAt:  time.Now(),
	}

	env := ruleset.NewEnv(candles)
	lastBar := env.Bars() - 1
	evalRes := ruleset.Evaluate(rs, env, lastBar)
	if !evalRes.Met {
		sig.Side = SideHold
		sig.Confidence = 0
		sig.Reasoning = "Entry conditions not met"
		return sig, nil
	}

	sig.Side = rs.Side
	sig.Strength = evalRes.Strength
	sig.Entry = price.Price
	if sig.Entry == 0 && len(candles) > 0 {
		sig.Entry = candles[len(candles)-1].Close
	}

	atr := 0.0
	if series := indicators.ATR(candles, 14); len(series) > 0 {
		atr = series[len(series)-1]
	}
	sig.StopLoss, sig.TakeProfit = rs.Exit.Levels(sig.Entry, atr, rs.Side)

	g := a.gather(ctx, strategy, userID, symbol, sig.Entry)
	sig.Regime = g.regime.Regime

	base := 0.7*strategy.Score + 0.3*sig.Strength
	confidence, factors := calibrate(base, sig.Side, g)
	sig.Confidence = confidence
	sig.Explanation = &Explanation{
		Factors: factors,
		Lineage: g.lineage,
		Summary: summarize(sig, g),
	}

	if g.portfolio != nil && !g.portfolio.Allowed {
		sig.Side = SideHold
		sig.Confidence = 0
		sig.Refusal = RefusalPortfolioRisk
		sig.Reasoning = "Portfolio risk limits deny this trade"
		return sig, nil
	}
	if confidence < a.cfg.MinConfidence {
		sig.Side = SideHold
		sig.Refusal = RefusalLowConfidence
		sig.Reasoning = fmt.Sprintf("Confidence %.2f below minimum %.2f", confidence, a.cfg.MinConfidence)
		return sig, nil
	}

	sig.Reasoning = fmt.Sprintf("%s conditions met with strength %.2f in %s regime", sig.Side, sig.Strength, g.regime.Regime)
	return sig, nil
}

// gather collects every confirmation factor. Individual failures degrade to
// neutral defaults so one flaky dependency cannot block signal assembly.
func (a *Assembler) gather(ctx context.Context, strategy *database.Strategy, userID, symbol string, entry float64) gathered {
	g := gathered{}

	if a.regimes != nil {
		g.regime = a.regimes.Detect(ctx, symbol)
	} else {
		g.regime = regime.Detection{Regime: regime.Neutral, Confidence: 0.3, RiskLevel: "normal", Features: map[string]float64{}}
	}

	if a.trends != nil {
		g.alignment = a.trends.Analyze(ctx, symbol)
	}

	if candles, err := a.markets.GetCandles(ctx, market.CandleQuery{Symbol: symbol, Interval: "1h", Limit: 50}); err == nil {
		g.volume = analysis.AnalyzeVolume(candles)
	}

	account, err := a.store.GetOrCreatePaperAccount(ctx, userID, a.cfg.StartingBalance)
	balance := a.cfg.StartingBalance
	if err == nil && account != nil {
		balance = account.Balance
	}

	if closed, err := a.store.ListClosedTrades(ctx, userID, 200); err == nil {
		trades := make([]database.Trade, 0, len(closed))
		for _, t := range closed {
			trades = append(trades, *t)
		}
		g.profile = risk.BuildProfile(trades, balance)
	}

	if a.portfolio != nil {
		if open, err := a.store.ListOpenTrades(ctx, userID, ""); err == nil {
			trades := make([]database.Trade, 0, len(open))
			for _, t := range open {
				trades = append(trades, *t)
			}
			// Cost of the proposed position: whole shares up to a tenth
			// of the balance, minimum one share at entry price.
			cost := balance * 0.1
			if entry > 0 {
				qty := math.Floor(balance * 0.1 / entry)
				if qty < 1 {
					qty = 1
				}
				cost = qty * entry
			}
			g.portfolio = a.portfolio.Assess(trades, balance, cost, symbol, a.sectorOf)
		}
	}

	g.lineage = a.lineageNote(ctx, strategy)
	return g
}

// lineageNote walks parent edges to the original ancestor
func (a *Assembler) lineageNote(ctx context.Context, strategy *database.Strategy) LineageNote {
	note := LineageNote{Similarity: 1.0, Stable: strategy.Status == database.StatusProposable || strategy.Status == database.StatusCandidate}

	current := strategy.ID
	for depth := 0; depth < 20; depth++ {
		edges, err := a.store.GetParentEdges(ctx, current)
		if err != nil || len(edges) == 0 {
			break
		}
		edge := edges[0]
		note.AncestorCount++
		if edge.Similarity != nil {
			note.Similarity *= *edge.Similarity
		}
		current = edge.ParentID
	}

	if train, err := a.store.GetLatestBacktest(ctx, strategy.ID, "train"); err == nil && train != nil && train.Sharpe != nil {
		if test, err := a.store.GetLatestBacktest(ctx, strategy.ID, "test"); err == nil && test != nil && test.Sharpe != nil {
			if *train.Sharpe > 0 && *test.Sharpe/(*train.Sharpe) < 0.7 {
				note.OverfitFlag = true
			}
		}
	}
	return note
}

func summarize(sig *Signal, g gathered) string {
	return fmt.Sprintf("%s %s at %.2f: regime %s (%.2f), alignment %.2f, confidence %.2f",
		sig.Side, sig.Symbol, sig.Entry, g.regime.Regime, g.regime.Confidence, alignmentOf(g), sig.Confidence)
}

func alignmentOf(g gathered) float64 {
	if g.alignment == nil {
		return 0
	}
	return g.alignment.AlignmentScore
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
