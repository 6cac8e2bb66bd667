package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// TRADES
// =====================================================

const tradeColumns = `
	id, user_id, symbol, asset_type, side, quantity, entry_price, exit_price,
	status, mode, source, strategy_id, opened_at, closed_at, realized_pnl
`

func scanTrade(row pgx.Row) (*Trade, error) {
	t := &Trade{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.Symbol, &t.AssetType, &t.Side, &t.Quantity,
		&t.EntryPrice, &t.ExitPrice, &t.Status, &t.Mode, &t.Source,
		&t.StrategyID, &t.OpenedAt, &t.ClosedAt, &t.RealizedPnL,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	return t, nil
}

// CreateTrade inserts a new OPEN trade
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO trades (user_id, symbol, asset_type, side, quantity, entry_price,
			status, mode, source, strategy_id, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		t.UserID, t.Symbol, t.AssetType, t.Side, t.Quantity, t.EntryPrice,
		t.Status, t.Mode, t.Source, t.StrategyID, t.OpenedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetTrade retrieves a trade by ID. Returns (nil, nil) when not found.
func (r *Repository) GetTrade(ctx context.Context, id string) (*Trade, error) {
	return scanTrade(r.db.Pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
}

// CloseTrade marks a trade CLOSED with its exit fields. The CLOSED invariant
// requires all three of exit price, closed-at and realized pnl.
func (r *Repository) CloseTrade(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET status = 'CLOSED', exit_price = $2, realized_pnl = $3, closed_at = $4
		WHERE id = $1 AND status = 'OPEN'`,
		id, exitPrice, realizedPnL, closedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s is not open", id)
	}
	return nil
}

// ListTrades returns a user's trades, optionally filtered by status and mode
func (r *Repository) ListTrades(ctx context.Context, userID string, status TradeStatus, mode TradeMode, limit int) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if mode != "" {
		args = append(args, mode)
		query += fmt.Sprintf(" AND mode = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY opened_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListOpenTrades returns OPEN trades for (user, symbol). Symbol "" matches all.
func (r *Repository) ListOpenTrades(ctx context.Context, userID, symbol string) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE user_id = $1 AND status = 'OPEN'`
	args := []interface{}{userID}
	if symbol != "" {
		args = append(args, symbol)
		query += " AND symbol = $2"
	}
	query += " ORDER BY opened_at"

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListClosedTrades returns a user's CLOSED trades ordered oldest first
func (r *Repository) ListClosedTrades(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 AND status = 'CLOSED' ORDER BY closed_at LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list closed trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TradeSummary aggregates a user's closed-trade performance
type TradeSummary struct {
	TotalTrades   int     `json:"total_trades"`
	OpenTrades    int     `json:"open_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
}

// GetTradeSummary computes a user's trade summary
func (r *Repository) GetTradeSummary(ctx context.Context, userID string) (*TradeSummary, error) {
	s := &TradeSummary{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'OPEN'),
			COUNT(*) FILTER (WHERE status = 'CLOSED'),
			COUNT(*) FILTER (WHERE status = 'CLOSED' AND realized_pnl > 0),
			COALESCE(SUM(realized_pnl) FILTER (WHERE status = 'CLOSED'), 0)
		FROM trades WHERE user_id = $1`, userID,
	).Scan(&s.TotalTrades, &s.OpenTrades, &s.ClosedTrades, &s.WinningTrades, &s.TotalPnL)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade summary: %w", err)
	}
	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosedTrades)
	}
	return s, nil
}

// =====================================================
// PAPER ACCOUNTS
// =====================================================

// GetOrCreatePaperAccount returns the user's paper account, seeding it with
// the starting balance on first use.
func (r *Repository) GetOrCreatePaperAccount(ctx context.Context, userID string, startingBalance float64) (*PaperAccount, error) {
	a := &PaperAccount{}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO paper_accounts (user_id, balance, starting_balance)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, balance, starting_balance, updated_at`,
		userID, startingBalance,
	).Scan(&a.UserID, &a.Balance, &a.StartingBalance, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get paper account: %w", err)
	}
	return a, nil
}

// AdjustPaperBalance applies a signed delta to a user's paper balance
func (r *Repository) AdjustPaperBalance(ctx context.Context, userID string, delta float64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE paper_accounts SET balance = balance + $2, updated_at = NOW() WHERE user_id = $1`,
		userID, delta,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust paper balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("paper account for user %s not found", userID)
	}
	return nil
}
