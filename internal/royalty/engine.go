package royalty

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradebrain/internal/database"
	"tradebrain/internal/events"
	"tradebrain/internal/logging"
	"tradebrain/internal/mutation"
	"tradebrain/internal/ruleset"
)

// Store is the persistence surface the royalty engine needs
type Store interface {
	GetStrategy(ctx context.Context, id string) (*database.Strategy, error)
	GetParentEdges(ctx context.Context, childID string) ([]*database.LineageEdge, error)
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	GetPlan(ctx context.Context, code string) (*database.SubscriptionPlan, error)
	GetAdminSettings(ctx context.Context) (*database.AdminSettings, error)
	CreateRoyaltyEntry(ctx context.Context, e *database.RoyaltyEntry) error
}

// Engine books royalty ledger rows on profitable strategy trades
type Engine struct {
	store  Store
	logger *logging.Logger
}

// NewEngine creates the royalty engine
func NewEngine(store Store, logger *logging.Logger) *Engine {
	return &Engine{store: store, logger: logger.WithComponent("royalty")}
}

// Subscribe attaches the engine to trade-closed events on the bus
func (e *Engine) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTradeClosed, func(ev events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		userID, _ := ev.Data["user_id"].(string)
		tradeID, _ := ev.Data["trade_id"].(string)
		pnl, _ := ev.Data["pnl"].(float64)
		var strategyID *string
		if s, ok := ev.Data["strategy_id"].(string); ok && s != "" {
			strategyID = &s
		}

		if err := e.OnTradeClosed(ctx, userID, tradeID, strategyID, pnl); err != nil {
			e.logger.WithError(err).Error("Failed to book royalty", "trade_id", tradeID)
		}
	})
}

// Attribution is the lineage result for a traded strategy
type Attribution struct {
	OriginID   string  `json:"origin_id"`
	CreatorID  string  `json:"creator_id"`
	Mutations  int     `json:"mutations"`
	Similarity float64 `json:"similarity"`
	Rate       float64 `json:"rate"`
}

// Attribute walks the lineage from the traded strategy back to its original
// ancestor and computes the royalty rate. A strategy with no parents is its
// own origin: similarity 1.0, zero mutations, full rate.
func (e *Engine) Attribute(ctx context.Context, strategy *database.Strategy) (*Attribution, error) {
	origin := strategy
	mutations := 0
	current := strategy.ID

	for depth := 0; depth < 50; depth++ {
		edges, err := e.store.GetParentEdges(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to walk lineage: %w", err)
		}
		if len(edges) == 0 {
			break
		}
		mutations++
		current = oldestEdge(edges).ParentID
		parent, err := e.store.GetStrategy(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("failed to load ancestor %s: %w", current, err)
		}
		if parent == nil {
			break
		}
		origin = parent
	}

	similarity := 1.0
	if origin.ID != strategy.ID {
		childRS, cerr := ruleset.Parse(strategy.Ruleset)
		originRS, oerr := ruleset.Parse(origin.Ruleset)
		if cerr == nil && oerr == nil {
			similarity = mutation.Similarity(originRS, childRS)
		} else {
			similarity = 0
		}
	}

	return &Attribution{
		OriginID:   origin.ID,
		CreatorID:  origin.UserID,
		Mutations:  mutations,
		Similarity: similarity,
		Rate:       Rate(similarity, mutations),
	}, nil
}

// oldestEdge picks the earliest-created parent edge so that crossover
// children attribute along a stable path. Ties fall back to edge id.
func oldestEdge(edges []*database.LineageEdge) *database.LineageEdge {
	chosen := edges[0]
	for _, edge := range edges[1:] {
		if edge.CreatedAt.Before(chosen.CreatedAt) ||
			(edge.CreatedAt.Equal(chosen.CreatedAt) && edge.ID < chosen.ID) {
			chosen = edge
		}
	}
	return chosen
}

// OnTradeClosed books a royalty for a closed trade. No-ops on non-positive
// pnl, missing strategy, zero rate, or the trader being the creator.
func (e *Engine) OnTradeClosed(ctx context.Context, userID, tradeID string, strategyID *string, pnl float64) error {
	if strategyID == nil || pnl <= 0 {
		return nil
	}

	strategy, err := e.store.GetStrategy(ctx, *strategyID)
	if err != nil {
		return fmt.Errorf("failed to load strategy for royalty: %w", err)
	}
	if strategy == nil {
		return nil
	}

	attr, err := e.Attribute(ctx, strategy)
	if err != nil {
		return err
	}
	if attr.CreatorID == userID {
		// Creators owe nothing on their own strategies
		return nil
	}

	creator, err := e.store.GetUserByID(ctx, attr.CreatorID)
	if err != nil {
		return fmt.Errorf("failed to load creator: %w", err)
	}

	rate := attr.Rate
	if creator != nil && creator.RoyaltyPercentOverride != nil {
		rate = *creator.RoyaltyPercentOverride / 100
	}
	if rate <= 0 {
		return nil
	}

	feeRate, err := e.platformFeeRate(ctx, creator)
	if err != nil {
		return err
	}

	// Integer-cents arithmetic: round the profit first, then each derived
	// amount, so net always equals royalty minus fee exactly.
	profitCents := decimal.NewFromFloat(pnl).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	royaltyCents := decimal.NewFromInt(profitCents).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart()
	feeCents := decimal.NewFromInt(royaltyCents).Mul(decimal.NewFromFloat(feeRate)).Round(0).IntPart()
	netCents := royaltyCents - feeCents

	entry := &database.RoyaltyEntry{
		CreatorID:        attr.CreatorID,
		StrategyID:       strategy.ID,
		TradeID:          tradeID,
		TradeProfitCents: profitCents,
		RoyaltyRate:      rate,
		RoyaltyCents:     royaltyCents,
		PlatformFeeRate:  feeRate,
		PlatformFeeCents: feeCents,
		NetCents:         netCents,
	}
	if err := e.store.CreateRoyaltyEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to book royalty: %w", err)
	}

	e.logger.Info("Royalty booked",
		"creator_id", attr.CreatorID, "strategy_id", strategy.ID, "trade_id", tradeID,
		"rate", rate, "royalty_cents", royaltyCents, "net_cents", netCents)
	return nil
}

// platformFeeRate resolves the fee from the creator's plan, falling back to
// the admin default.
func (e *Engine) platformFeeRate(ctx context.Context, creator *database.User) (float64, error) {
	if creator != nil && creator.PlanCode != nil {
		plan, err := e.store.GetPlan(ctx, *creator.PlanCode)
		if err == nil && plan != nil {
			return plan.PlatformFeePercent / 100, nil
		}
	}

	settings, err := e.store.GetAdminSettings(ctx)
	if err != nil || settings == nil {
		return 0.05, nil
	}
	// Planless creators pay the reduced creator fee; everyone else pays
	// the standard platform fee.
	if creator != nil && creator.Role == database.RoleCreator {
		return settings.CreatorFeePercent / 100, nil
	}
	return settings.PlatformFeePercent / 100, nil
}
