package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// STRATEGY CRUD OPERATIONS
// =====================================================

const strategyColumns = `
	id, user_id, name, parameters, ruleset, asset_type, timeframe, score,
	status, evolution_attempts, is_proposable, last_backtest, created_at, updated_at
`

func scanStrategy(row pgx.Row) (*Strategy, error) {
	s := &Strategy{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.Parameters, &s.Ruleset, &s.AssetType,
		&s.Timeframe, &s.Score, &s.Status, &s.EvolutionAttempts, &s.IsProposable,
		&s.LastBacktest, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan strategy: %w", err)
	}
	return s, nil
}

// CreateStrategy inserts a new strategy
func (r *Repository) CreateStrategy(ctx context.Context, s *Strategy) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO strategies (user_id, name, parameters, ruleset, asset_type, timeframe, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		s.UserID, s.Name, s.Parameters, s.Ruleset, s.AssetType, s.Timeframe, s.Status,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}
	return nil
}

// GetStrategy retrieves a strategy by ID. Returns (nil, nil) when not found.
func (r *Repository) GetStrategy(ctx context.Context, id string) (*Strategy, error) {
	return scanStrategy(r.db.Pool.QueryRow(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE id = $1`, id))
}

// ListStrategiesByUser returns all strategies owned by a user
func (r *Repository) ListStrategiesByUser(ctx context.Context, userID string) ([]*Strategy, error) {
	return r.queryStrategies(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListStrategiesByStatus returns strategies in a given evolution status
func (r *Repository) ListStrategiesByStatus(ctx context.Context, status StrategyStatus) ([]*Strategy, error) {
	return r.queryStrategies(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE status = $1 ORDER BY score DESC`, status)
}

// ListActiveStrategies returns strategies still in the evolution pipeline
func (r *Repository) ListActiveStrategies(ctx context.Context) ([]*Strategy, error) {
	return r.queryStrategies(ctx,
		`SELECT `+strategyColumns+` FROM strategies WHERE status != 'discarded' ORDER BY updated_at`)
}

// ListProposableStrategies returns strategies eligible for recommendation
func (r *Repository) ListProposableStrategies(ctx context.Context, limit int) ([]*Strategy, error) {
	return r.queryStrategies(ctx,
		`SELECT `+strategyColumns+` FROM strategies
		 WHERE status = 'proposable' AND is_proposable ORDER BY score DESC LIMIT $1`, limit)
}

func (r *Repository) queryStrategies(ctx context.Context, query string, args ...interface{}) ([]*Strategy, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	var out []*Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateStrategy updates a strategy's mutable fields
func (r *Repository) UpdateStrategy(ctx context.Context, s *Strategy) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE strategies SET
			name = $2, parameters = $3, ruleset = $4, timeframe = $5,
			score = $6, status = $7, evolution_attempts = $8,
			is_proposable = $9, last_backtest = $10, updated_at = NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.Parameters, s.Ruleset, s.Timeframe,
		s.Score, s.Status, s.EvolutionAttempts, s.IsProposable, s.LastBacktest,
	)
	if err != nil {
		return fmt.Errorf("failed to update strategy: %w", err)
	}
	return nil
}

// DeleteStrategy marks a strategy discarded. Strategies referenced by trades
// and royalties are never hard-deleted.
func (r *Repository) DeleteStrategy(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE strategies SET status = 'discarded', is_proposable = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete strategy: %w", err)
	}
	return nil
}

// =====================================================
// LINEAGE
// =====================================================

// CreateLineageEdge records one parent→child mutation edge
func (r *Repository) CreateLineageEdge(ctx context.Context, e *LineageEdge) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO strategy_lineage (parent_id, child_id, mutation_type, similarity, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		e.ParentID, e.ChildID, e.MutationType, e.Similarity, e.CreatedBy,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lineage edge: %w", err)
	}
	return nil
}

// GetParentEdges returns the incoming edges of a strategy
func (r *Repository) GetParentEdges(ctx context.Context, childID string) ([]*LineageEdge, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, parent_id, child_id, mutation_type, similarity, created_by, created_at
		FROM strategy_lineage WHERE child_id = $1`, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lineage: %w", err)
	}
	defer rows.Close()

	var edges []*LineageEdge
	for rows.Next() {
		e := &LineageEdge{}
		if err := rows.Scan(&e.ID, &e.ParentID, &e.ChildID, &e.MutationType,
			&e.Similarity, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lineage edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// =====================================================
// BACKTESTS
// =====================================================

// CreateBacktest inserts an immutable backtest record
func (r *Repository) CreateBacktest(ctx context.Context, b *Backtest) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO backtests (strategy_id, symbol, timeframe, segment, window_start, window_end,
			total_return, win_rate, max_drawdown, avg_pnl, total_trades, sharpe)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		b.StrategyID, b.Symbol, b.Timeframe, b.Segment, b.WindowStart, b.WindowEnd,
		b.TotalReturn, b.WinRate, b.MaxDrawdown, b.AvgPnL, b.TotalTrades, b.Sharpe,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create backtest: %w", err)
	}
	return nil
}

// GetLatestBacktest returns the most recent backtest for a strategy segment.
// Returns (nil, nil) when the strategy has never been backtested.
func (r *Repository) GetLatestBacktest(ctx context.Context, strategyID, segment string) (*Backtest, error) {
	b := &Backtest{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, strategy_id, symbol, timeframe, segment, window_start, window_end,
			total_return, win_rate, max_drawdown, avg_pnl, total_trades, sharpe, created_at
		FROM backtests WHERE strategy_id = $1 AND segment = $2
		ORDER BY created_at DESC LIMIT 1`, strategyID, segment,
	).Scan(&b.ID, &b.StrategyID, &b.Symbol, &b.Timeframe, &b.Segment,
		&b.WindowStart, &b.WindowEnd, &b.TotalReturn, &b.WinRate, &b.MaxDrawdown,
		&b.AvgPnL, &b.TotalTrades, &b.Sharpe, &b.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest backtest: %w", err)
	}
	return b, nil
}
