package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// USER CRUD OPERATIONS
// =====================================================

// CreateUser creates a new user. Email is lowercased before insert.
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (email, password_hash, auth_provider, role, plan_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		strings.ToLower(user.Email),
		user.PasswordHash,
		user.AuthProvider,
		user.Role,
		user.PlanCode,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.Email = strings.ToLower(user.Email)
	return nil
}

const userColumns = `
	id, email, COALESCE(password_hash, ''), auth_provider, role, plan_code,
	royalty_percent_override, broker_connected, billing_locked, billing_locked_at,
	consecutive_paid_months, last_payment_at, COALESCE(stripe_customer_id, ''),
	created_at, updated_at
`

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.AuthProvider, &user.Role,
		&user.PlanCode, &user.RoyaltyPercentOverride, &user.BrokerConnected,
		&user.BillingLocked, &user.BillingLockedAt,
		&user.ConsecutivePaidMonths, &user.LastPaymentAt, &user.StripeCustomerID,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when not found.
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.Pool.QueryRow(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email. Returns (nil, nil) when not found.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.Pool.QueryRow(ctx, query, strings.ToLower(email)))
}

// UpdateUser updates a user's mutable profile fields
func (r *Repository) UpdateUser(ctx context.Context, user *User) error {
	query := `
		UPDATE users SET
			role = $2,
			plan_code = $3,
			royalty_percent_override = $4,
			broker_connected = $5,
			stripe_customer_id = $6,
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		user.ID,
		user.Role,
		user.PlanCode,
		user.RoyaltyPercentOverride,
		user.BrokerConnected,
		user.StripeCustomerID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// UpdateUserPassword sets a new password hash
func (r *Repository) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		userID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// SetUserBillingLock flips the billing hard-lock flag
func (r *Repository) SetUserBillingLock(ctx context.Context, userID string, locked bool) error {
	var lockedAt *time.Time
	if locked {
		now := time.Now().UTC()
		lockedAt = &now
	}
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET billing_locked = $2, billing_locked_at = $3, updated_at = NOW() WHERE id = $1`,
		userID, locked, lockedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set billing lock: %w", err)
	}
	return nil
}

// RecordUserPayment updates the consecutive paid-month counter after a
// billing cycle. Success increments, failure resets to zero.
func (r *Repository) RecordUserPayment(ctx context.Context, userID string, success bool) error {
	var query string
	if success {
		query = `UPDATE users SET consecutive_paid_months = consecutive_paid_months + 1,
			last_payment_at = NOW(), updated_at = NOW() WHERE id = $1`
	} else {
		query = `UPDATE users SET consecutive_paid_months = 0, updated_at = NOW() WHERE id = $1`
	}
	if _, err := r.db.Pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to record payment outcome: %w", err)
	}
	return nil
}

// =====================================================
// OTP CODES
// =====================================================

// CreateOTP stores a single-use code for an email
func (r *Repository) CreateOTP(ctx context.Context, email, code, purpose string, ttl time.Duration) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO otp_codes (email, code, purpose, expires_at) VALUES ($1, $2, $3, $4)`,
		strings.ToLower(email), code, purpose, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("failed to create otp: %w", err)
	}
	return nil
}

// ConsumeOTP atomically validates and marks a code as used. Returns false
// when the code is unknown, expired, or already used.
func (r *Repository) ConsumeOTP(ctx context.Context, email, code, purpose string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE otp_codes SET used = TRUE
		WHERE id = (
			SELECT id FROM otp_codes
			WHERE email = $1 AND code = $2 AND purpose = $3
				AND used = FALSE AND expires_at > NOW()
			ORDER BY created_at DESC LIMIT 1
		)`,
		strings.ToLower(email), code, purpose,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =====================================================
// SUBSCRIPTION PLANS
// =====================================================

// ListPlans returns all subscription plans
func (r *Repository) ListPlans(ctx context.Context) ([]*SubscriptionPlan, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT code, name, monthly_price_cents, royalty_percent, platform_fee_percent,
			max_group_size, created_at, updated_at
		FROM subscription_plans ORDER BY monthly_price_cents`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*SubscriptionPlan
	for rows.Next() {
		p := &SubscriptionPlan{}
		if err := rows.Scan(&p.Code, &p.Name, &p.MonthlyPriceCents, &p.RoyaltyPercent,
			&p.PlatformFeePercent, &p.MaxGroupSize, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetPlan retrieves a plan by code. Returns (nil, nil) when not found.
func (r *Repository) GetPlan(ctx context.Context, code string) (*SubscriptionPlan, error) {
	p := &SubscriptionPlan{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT code, name, monthly_price_cents, royalty_percent, platform_fee_percent,
			max_group_size, created_at, updated_at
		FROM subscription_plans WHERE code = $1`, code,
	).Scan(&p.Code, &p.Name, &p.MonthlyPriceCents, &p.RoyaltyPercent,
		&p.PlatformFeePercent, &p.MaxGroupSize, &p.CreatedAt, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

// UpsertPlan creates or updates a plan (admin operation)
func (r *Repository) UpsertPlan(ctx context.Context, p *SubscriptionPlan) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO subscription_plans (code, name, monthly_price_cents, royalty_percent, platform_fee_percent, max_group_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			monthly_price_cents = EXCLUDED.monthly_price_cents,
			royalty_percent = EXCLUDED.royalty_percent,
			platform_fee_percent = EXCLUDED.platform_fee_percent,
			max_group_size = EXCLUDED.max_group_size,
			updated_at = NOW()`,
		p.Code, p.Name, p.MonthlyPriceCents, p.RoyaltyPercent, p.PlatformFeePercent, p.MaxGroupSize,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

// =====================================================
// ADMIN SETTINGS (singleton row)
// =====================================================

// GetAdminSettings returns the singleton settings row
func (r *Repository) GetAdminSettings(ctx context.Context) (*AdminSettings, error) {
	s := &AdminSettings{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT platform_fee_percent, creator_fee_percent, pnl_fee_threshold_cents, grace_months, updated_at
		FROM admin_settings WHERE id = 1`,
	).Scan(&s.PlatformFeePercent, &s.CreatorFeePercent, &s.PnLFeeThresholdCents, &s.GraceMonths, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get admin settings: %w", err)
	}
	return s, nil
}

// UpdateAdminSettings updates the singleton settings row
func (r *Repository) UpdateAdminSettings(ctx context.Context, s *AdminSettings) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE admin_settings SET
			platform_fee_percent = $1,
			creator_fee_percent = $2,
			pnl_fee_threshold_cents = $3,
			grace_months = $4,
			updated_at = NOW()
		WHERE id = 1`,
		s.PlatformFeePercent, s.CreatorFeePercent, s.PnLFeeThresholdCents, s.GraceMonths,
	)
	if err != nil {
		return fmt.Errorf("failed to update admin settings: %w", err)
	}
	return nil
}

// CountUsers returns the total user count (admin stats)
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
