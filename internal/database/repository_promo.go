package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// PROMO CODE OPERATIONS
// =====================================================

const promoColumns = `
	code, description, percent_off, max_redemptions, redeemed_count,
	active, expires_at, created_at, updated_at
`

func scanPromo(row pgx.Row) (*Promo, error) {
	p := &Promo{}
	err := row.Scan(
		&p.Code, &p.Description, &p.PercentOff, &p.MaxRedemptions,
		&p.RedeemedCount, &p.Active, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan promo: %w", err)
	}
	return p, nil
}

// CreatePromo inserts a promo code. Codes are stored uppercase.
func (r *Repository) CreatePromo(ctx context.Context, p *Promo) error {
	query := `
		INSERT INTO promos (code, description, percent_off, max_redemptions, active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	err := r.db.Pool.QueryRow(ctx, query,
		p.Code, p.Description, p.PercentOff, p.MaxRedemptions, p.Active, p.ExpiresAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create promo: %w", err)
	}
	return nil
}

// GetPromo retrieves a promo by code. Returns (nil, nil) when not found.
func (r *Repository) GetPromo(ctx context.Context, code string) (*Promo, error) {
	query := `SELECT ` + promoColumns + ` FROM promos WHERE code = $1`
	return scanPromo(r.db.Pool.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(code))))
}

// ListPromos returns every promo, newest first
func (r *Repository) ListPromos(ctx context.Context) ([]*Promo, error) {
	query := `SELECT ` + promoColumns + ` FROM promos ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list promos: %w", err)
	}
	defer rows.Close()

	var promos []*Promo
	for rows.Next() {
		p, err := scanPromo(rows)
		if err != nil {
			return nil, err
		}
		promos = append(promos, p)
	}
	return promos, rows.Err()
}

// UpdatePromo updates a promo's mutable fields
func (r *Repository) UpdatePromo(ctx context.Context, p *Promo) error {
	query := `
		UPDATE promos SET
			description = $2,
			percent_off = $3,
			max_redemptions = $4,
			active = $5,
			expires_at = $6,
			updated_at = NOW()
		WHERE code = $1
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.Code, p.Description, p.PercentOff, p.MaxRedemptions, p.Active, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update promo: %w", err)
	}
	return nil
}

// DeletePromo removes a promo code
func (r *Repository) DeletePromo(ctx context.Context, code string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM promos WHERE code = $1`,
		strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return fmt.Errorf("failed to delete promo: %w", err)
	}
	return nil
}
