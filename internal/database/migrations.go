package database

import (
	"context"
	"fmt"
)

// RunMigrations executes schema migrations. Statements are idempotent so the
// list can be re-run on every startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255),
			auth_provider VARCHAR(32) NOT NULL DEFAULT 'password',
			role VARCHAR(16) NOT NULL DEFAULT 'user',
			plan_code VARCHAR(32),
			royalty_percent_override DECIMAL(6, 4),
			broker_connected BOOLEAN NOT NULL DEFAULT FALSE,
			billing_locked BOOLEAN NOT NULL DEFAULT FALSE,
			billing_locked_at TIMESTAMPTZ,
			consecutive_paid_months INT NOT NULL DEFAULT 0,
			last_payment_at TIMESTAMPTZ,
			stripe_customer_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,

		`CREATE TABLE IF NOT EXISTS subscription_plans (
			code VARCHAR(32) PRIMARY KEY,
			name VARCHAR(64) NOT NULL,
			monthly_price_cents BIGINT NOT NULL DEFAULT 0,
			royalty_percent DECIMAL(6, 4) NOT NULL DEFAULT 0,
			platform_fee_percent DECIMAL(6, 4) NOT NULL DEFAULT 5.0,
			max_group_size INT NOT NULL DEFAULT 25,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS strategies (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id),
			name VARCHAR(128) NOT NULL,
			parameters JSONB NOT NULL DEFAULT '{}',
			ruleset JSONB NOT NULL DEFAULT '{}',
			asset_type VARCHAR(16) NOT NULL DEFAULT 'stock',
			timeframe VARCHAR(8) NOT NULL DEFAULT '1h',
			score DECIMAL(6, 4) NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL DEFAULT 'experiment',
			evolution_attempts INT NOT NULL DEFAULT 0,
			is_proposable BOOLEAN NOT NULL DEFAULT FALSE,
			last_backtest JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_user ON strategies(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_status ON strategies(status)`,

		`CREATE TABLE IF NOT EXISTS strategy_lineage (
			id BIGSERIAL PRIMARY KEY,
			parent_id UUID NOT NULL REFERENCES strategies(id),
			child_id UUID NOT NULL REFERENCES strategies(id),
			mutation_type VARCHAR(32) NOT NULL,
			similarity DECIMAL(6, 4),
			created_by UUID REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (parent_id, child_id, mutation_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lineage_child ON strategy_lineage(child_id)`,
		`CREATE INDEX IF NOT EXISTS idx_lineage_parent ON strategy_lineage(parent_id)`,

		`CREATE TABLE IF NOT EXISTS backtests (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			strategy_id UUID NOT NULL REFERENCES strategies(id),
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			segment VARCHAR(8) NOT NULL DEFAULT 'full',
			window_start TIMESTAMPTZ,
			window_end TIMESTAMPTZ,
			total_return DECIMAL(12, 6) NOT NULL DEFAULT 0,
			win_rate DECIMAL(6, 4) NOT NULL DEFAULT 0,
			max_drawdown DECIMAL(12, 6) NOT NULL DEFAULT 0,
			avg_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_trades INT NOT NULL DEFAULT 0,
			sharpe DECIMAL(12, 6),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtests_strategy ON backtests(strategy_id)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id),
			symbol VARCHAR(20) NOT NULL,
			asset_type VARCHAR(16) NOT NULL DEFAULT 'stock',
			side VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			status VARCHAR(8) NOT NULL DEFAULT 'OPEN',
			mode VARCHAR(8) NOT NULL DEFAULT 'PAPER',
			source VARCHAR(8) NOT NULL DEFAULT 'MANUAL',
			strategy_id UUID REFERENCES strategies(id),
			opened_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ,
			realized_pnl DECIMAL(20, 8)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_symbol_status ON trades(user_id, symbol, status)`,

		`CREATE TABLE IF NOT EXISTS paper_accounts (
			user_id UUID PRIMARY KEY REFERENCES users(id),
			balance DECIMAL(20, 8) NOT NULL,
			starting_balance DECIMAL(20, 8) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS royalty_ledger (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			creator_id UUID NOT NULL REFERENCES users(id),
			strategy_id UUID NOT NULL REFERENCES strategies(id),
			trade_id UUID NOT NULL REFERENCES trades(id),
			trade_profit_cents BIGINT NOT NULL,
			royalty_rate DECIMAL(8, 6) NOT NULL,
			royalty_cents BIGINT NOT NULL,
			platform_fee_rate DECIMAL(8, 6) NOT NULL,
			platform_fee_cents BIGINT NOT NULL,
			net_cents BIGINT NOT NULL,
			invoice_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (strategy_id, trade_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_royalty_creator ON royalty_ledger(creator_id)`,
		`CREATE INDEX IF NOT EXISTS idx_royalty_uninvoiced ON royalty_ledger(creator_id) WHERE invoice_id IS NULL`,

		`CREATE TABLE IF NOT EXISTS royalty_invoices (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			creator_id UUID NOT NULL REFERENCES users(id),
			period VARCHAR(7) NOT NULL,
			amount_cents BIGINT NOT NULL,
			status VARCHAR(8) NOT NULL DEFAULT 'pending',
			stripe_charge_id VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			paid_at TIMESTAMPTZ,
			UNIQUE (creator_id, period)
		)`,

		`CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_id UUID NOT NULL REFERENCES users(id),
			name VARCHAR(128) NOT NULL,
			join_code VARCHAR(12) NOT NULL UNIQUE,
			max_size INT NOT NULL DEFAULT 25,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (group_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS group_messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			group_id UUID NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id),
			kind VARCHAR(8) NOT NULL DEFAULT 'TEXT',
			ciphertext TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_messages_group ON group_messages(group_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS admin_settings (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			platform_fee_percent DECIMAL(6, 4) NOT NULL DEFAULT 5.0,
			creator_fee_percent DECIMAL(6, 4) NOT NULL DEFAULT 3.0,
			pnl_fee_threshold_cents BIGINT NOT NULL DEFAULT 0,
			grace_months INT NOT NULL DEFAULT 3,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`INSERT INTO admin_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,

		`CREATE TABLE IF NOT EXISTS otp_codes (
			id BIGSERIAL PRIMARY KEY,
			email VARCHAR(255) NOT NULL,
			code VARCHAR(6) NOT NULL,
			purpose VARCHAR(32) NOT NULL DEFAULT 'login',
			expires_at TIMESTAMPTZ NOT NULL,
			used BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_otp_email ON otp_codes(email, purpose)`,

		`CREATE TABLE IF NOT EXISTS promos (
			code VARCHAR(32) PRIMARY KEY,
			description VARCHAR(255) NOT NULL DEFAULT '',
			percent_off DECIMAL(6, 4) NOT NULL DEFAULT 0,
			max_redemptions INT NOT NULL DEFAULT 0,
			redeemed_count INT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`INSERT INTO subscription_plans (code, name, monthly_price_cents, royalty_percent, platform_fee_percent, max_group_size)
		 VALUES
			('free', 'Free', 0, 5.0, 5.0, 10),
			('pro', 'Pro', 2900, 5.0, 4.0, 50),
			('creator', 'Creator', 4900, 5.0, 3.0, 100)
		 ON CONFLICT (code) DO NOTHING`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info("Database migrations complete", "count", len(migrations))
	return nil
}
