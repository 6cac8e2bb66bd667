// Package paper implements the simulated broker. Orders fill at the
// router's current price against a per-user cash balance; no real orders are
// ever placed.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradebrain/internal/database"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
)

// Order rejection reasons, matched with errors.Is at the HTTP edge.
var (
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoOpenPosition      = errors.New("no open position")
)

// Store is the persistence surface the broker needs
type Store interface {
	CreateTrade(ctx context.Context, t *database.Trade) error
	GetTrade(ctx context.Context, id string) (*database.Trade, error)
	CloseTrade(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error
	ListOpenTrades(ctx context.Context, userID, symbol string) ([]*database.Trade, error)
	GetOrCreatePaperAccount(ctx context.Context, userID string, startingBalance float64) (*database.PaperAccount, error)
	AdjustPaperBalance(ctx context.Context, userID string, delta float64) error
}

// PriceSource is the router surface the broker needs
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error)
}

// Publisher receives trade lifecycle events
type Publisher interface {
	PublishTradeOpened(userID, tradeID, symbol, side string, entryPrice, quantity float64)
	PublishTradeClosed(userID, tradeID, symbol string, strategyID *string, pnl float64)
}

// OrderRequest describes a market order
type OrderRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Side       string  `json:"side" binding:"required"`
	Quantity   float64 `json:"quantity" binding:"required"`
	StrategyID *string `json:"strategy_id,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// CloseRequest closes open trades for a symbol. Quantity 0 closes everything.
type CloseRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Quantity float64 `json:"quantity,omitempty"`
}

// Broker executes simulated orders. Per-user mutexes serialize balance
// mutations so concurrent orders cannot overdraw an account.
type Broker struct {
	store           Store
	prices          PriceSource
	events          Publisher
	startingBalance float64
	logger          *logging.Logger

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewBroker creates the paper broker
func NewBroker(store Store, prices PriceSource, events Publisher, startingBalance float64, logger *logging.Logger) *Broker {
	if startingBalance <= 0 {
		startingBalance = 100000
	}
	return &Broker{
		store:           store,
		prices:          prices,
		events:          events,
		startingBalance: startingBalance,
		logger:          logger.WithComponent("paper"),
		users:           make(map[string]*sync.Mutex),
	}
}

func (b *Broker) userLock(userID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.users[userID]
	if !ok {
		l = &sync.Mutex{}
		b.users[userID] = l
	}
	return l
}

// Account returns (creating if needed) the user's paper account
func (b *Broker) Account(ctx context.Context, userID string) (*database.PaperAccount, error) {
	return b.store.GetOrCreatePaperAccount(ctx, userID, b.startingBalance)
}

// PlaceOrder opens a position at the current market price. BUY debits the
// cash cost; SELL (a short) credits the proceeds.
func (b *Broker) PlaceOrder(ctx context.Context, userID string, req OrderRequest) (*database.Trade, error) {
	side := database.TradeSide(req.Side)
	if side != database.SideBuy && side != database.SideSell {
		return nil, fmt.Errorf("%w %q", ErrInvalidSide, req.Side)
	}
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	symbol := market.NormalizeSymbol(req.Symbol)
	snapshot, err := b.prices.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	if snapshot.Price <= 0 {
		return nil, fmt.Errorf("no usable price for %s", symbol)
	}

	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	account, err := b.store.GetOrCreatePaperAccount(ctx, userID, b.startingBalance)
	if err != nil {
		return nil, err
	}

	cost := snapshot.Price * req.Quantity
	if side == database.SideBuy && account.Balance < cost {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBalance, cost, account.Balance)
	}

	source := database.SourceManual
	if req.Source != "" {
		source = database.TradeSource(req.Source)
	}
	assetType := "stock"
	if market.IsCrypto(symbol) {
		assetType = "crypto"
	}

	trade := &database.Trade{
		ID:         uuid.NewString(),
		UserID:     userID,
		Symbol:     symbol,
		AssetType:  assetType,
		Side:       side,
		Quantity:   req.Quantity,
		EntryPrice: snapshot.Price,
		Status:     database.TradeOpen,
		Mode:       database.ModePaper,
		Source:     source,
		StrategyID: req.StrategyID,
		OpenedAt:   time.Now(),
	}
	if err := b.store.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}

	delta := -cost
	if side == database.SideSell {
		delta = cost
	}
	if err := b.store.AdjustPaperBalance(ctx, userID, delta); err != nil {
		return nil, err
	}

	b.logger.Info("Paper order filled",
		"user_id", userID, "symbol", symbol, "side", string(side),
		"quantity", req.Quantity, "price", snapshot.Price)
	if b.events != nil {
		b.events.PublishTradeOpened(userID, trade.ID, symbol, string(side), snapshot.Price, req.Quantity)
	}
	return trade, nil
}

// ClosePosition closes open trades for (user, symbol) at the current price.
// Quantity 0 closes everything. A partial quantity collapses to a full close
// of each touched trade plus one new entry for the remainder, so the ledger
// only ever holds fully-open or fully-closed rows.
func (b *Broker) ClosePosition(ctx context.Context, userID string, req CloseRequest) ([]*database.Trade, error) {
	symbol := market.NormalizeSymbol(req.Symbol)
	snapshot, err := b.prices.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}

	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	open, err := b.store.ListOpenTrades(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoOpenPosition, symbol)
	}

	remaining := req.Quantity
	closeAll := remaining <= 0

	var closed []*database.Trade
	for _, t := range open {
		if !closeAll && remaining <= 0 {
			break
		}

		reopenQty := 0.0
		if !closeAll && remaining < t.Quantity {
			reopenQty = t.Quantity - remaining
		}

		if err := b.closeTrade(ctx, t, snapshot.Price); err != nil {
			return closed, err
		}
		closed = append(closed, t)
		if !closeAll {
			remaining -= t.Quantity
		}

		if reopenQty > 0 {
			if err := b.reopenRemainder(ctx, t, reopenQty, snapshot.Price); err != nil {
				return closed, err
			}
		}
	}
	return closed, nil
}

// closeTrade fills one trade at price and settles the balance
func (b *Broker) closeTrade(ctx context.Context, t *database.Trade, price float64) error {
	pnl := (price - t.EntryPrice) * t.Quantity
	if t.Side == database.SideSell {
		pnl = -pnl
	}

	now := time.Now()
	if err := b.store.CloseTrade(ctx, t.ID, price, pnl, now); err != nil {
		return err
	}

	// BUY returns the exit proceeds to cash; a short pays to buy back
	delta := price * t.Quantity
	if t.Side == database.SideSell {
		delta = -delta
	}
	if err := b.store.AdjustPaperBalance(ctx, t.UserID, delta); err != nil {
		return err
	}

	t.Status = database.TradeClosed
	t.ExitPrice = &price
	t.RealizedPnL = &pnl
	t.ClosedAt = &now

	b.logger.Info("Paper position closed",
		"user_id", t.UserID, "symbol", t.Symbol, "trade_id", t.ID, "pnl", pnl)
	if b.events != nil {
		b.events.PublishTradeClosed(t.UserID, t.ID, t.Symbol, t.StrategyID, pnl)
	}
	return nil
}

// reopenRemainder opens a fresh trade for the unclosed part of a partial
// close, at the same price the close filled at.
func (b *Broker) reopenRemainder(ctx context.Context, parent *database.Trade, qty, price float64) error {
	trade := &database.Trade{
		ID:         uuid.NewString(),
		UserID:     parent.UserID,
		Symbol:     parent.Symbol,
		AssetType:  parent.AssetType,
		Side:       parent.Side,
		Quantity:   qty,
		EntryPrice: price,
		Status:     database.TradeOpen,
		Mode:       parent.Mode,
		Source:     parent.Source,
		StrategyID: parent.StrategyID,
		OpenedAt:   time.Now(),
	}
	if err := b.store.CreateTrade(ctx, trade); err != nil {
		return err
	}

	cost := price * qty
	delta := -cost
	if parent.Side == database.SideSell {
		delta = cost
	}
	return b.store.AdjustPaperBalance(ctx, parent.UserID, delta)
}
