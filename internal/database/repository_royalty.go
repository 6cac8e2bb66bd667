package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// ROYALTY LEDGER
// =====================================================

// CreateRoyaltyEntry inserts a ledger row. The (strategy, trade) unique
// constraint makes double-crediting a no-op conflict error the caller can
// treat as already-written.
func (r *Repository) CreateRoyaltyEntry(ctx context.Context, e *RoyaltyEntry) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO royalty_ledger (creator_id, strategy_id, trade_id, trade_profit_cents,
			royalty_rate, royalty_cents, platform_fee_rate, platform_fee_cents, net_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		e.CreatorID, e.StrategyID, e.TradeID, e.TradeProfitCents,
		e.RoyaltyRate, e.RoyaltyCents, e.PlatformFeeRate, e.PlatformFeeCents, e.NetCents,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create royalty entry: %w", err)
	}
	return nil
}

// ListRoyaltiesByCreator returns a creator's ledger rows, newest first
func (r *Repository) ListRoyaltiesByCreator(ctx context.Context, creatorID string, limit int) ([]*RoyaltyEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, creator_id, strategy_id, trade_id, trade_profit_cents,
			royalty_rate, royalty_cents, platform_fee_rate, platform_fee_cents,
			net_cents, invoice_id, created_at
		FROM royalty_ledger WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2`,
		creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list royalties: %w", err)
	}
	defer rows.Close()

	var entries []*RoyaltyEntry
	for rows.Next() {
		e := &RoyaltyEntry{}
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.StrategyID, &e.TradeID,
			&e.TradeProfitCents, &e.RoyaltyRate, &e.RoyaltyCents, &e.PlatformFeeRate,
			&e.PlatformFeeCents, &e.NetCents, &e.InvoiceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan royalty entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RoyaltySummary aggregates a creator's earnings
type RoyaltySummary struct {
	TotalEntries     int   `json:"total_entries"`
	TotalNetCents    int64 `json:"total_net_cents"`
	UnbilledNetCents int64 `json:"unbilled_net_cents"`
}

// GetRoyaltySummary computes a creator's total and unbilled earnings
func (r *Repository) GetRoyaltySummary(ctx context.Context, creatorID string) (*RoyaltySummary, error) {
	s := &RoyaltySummary{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(net_cents), 0),
			COALESCE(SUM(net_cents) FILTER (WHERE invoice_id IS NULL), 0)
		FROM royalty_ledger WHERE creator_id = $1`, creatorID,
	).Scan(&s.TotalEntries, &s.TotalNetCents, &s.UnbilledNetCents)
	if err != nil {
		return nil, fmt.Errorf("failed to get royalty summary: %w", err)
	}
	return s, nil
}

// GetOutstandingCents sums a creator's uninvoiced plus unpaid invoiced dues
func (r *Repository) GetOutstandingCents(ctx context.Context, creatorID string) (int64, error) {
	var unbilled, unpaid int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(net_cents) FILTER (WHERE invoice_id IS NULL), 0)
		FROM royalty_ledger WHERE creator_id = $1`, creatorID).Scan(&unbilled)
	if err != nil {
		return 0, fmt.Errorf("failed to sum unbilled royalties: %w", err)
	}
	err = r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM royalty_invoices WHERE creator_id = $1 AND status != 'paid'`, creatorID).Scan(&unpaid)
	if err != nil {
		return 0, fmt.Errorf("failed to sum unpaid invoices: %w", err)
	}
	return unbilled + unpaid, nil
}

// ListCreatorsWithUnbilledRoyalties returns creator IDs with uninvoiced rows
func (r *Repository) ListCreatorsWithUnbilledRoyalties(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT DISTINCT creator_id FROM royalty_ledger WHERE invoice_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan creator id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =====================================================
// ROYALTY INVOICES
// =====================================================

// CreateInvoiceForPeriod creates a pending invoice for a creator's period and
// attaches all currently uninvoiced ledger rows to it, in one transaction.
// Returns (nil, nil) when there is nothing to bill.
func (r *Repository) CreateInvoiceForPeriod(ctx context.Context, creatorID, period string) (*RoyaltyInvoice, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin invoice tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var amount int64
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(net_cents), 0) FROM royalty_ledger
		WHERE creator_id = $1 AND invoice_id IS NULL`, creatorID).Scan(&amount)
	if err != nil {
		return nil, fmt.Errorf("failed to sum unbilled rows: %w", err)
	}
	if amount <= 0 {
		return nil, nil
	}

	inv := &RoyaltyInvoice{CreatorID: creatorID, Period: period, AmountCents: amount, Status: InvoicePending}
	err = tx.QueryRow(ctx, `
		INSERT INTO royalty_invoices (creator_id, period, amount_cents, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, created_at`,
		creatorID, period, amount,
	).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE royalty_ledger SET invoice_id = $2
		WHERE creator_id = $1 AND invoice_id IS NULL`, creatorID, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach ledger rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice tx: %w", err)
	}
	return inv, nil
}

// UpdateInvoiceStatus records the payment outcome of an invoice
func (r *Repository) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status InvoiceStatus, stripeChargeID string) error {
	var paidAt *time.Time
	if status == InvoicePaid {
		now := time.Now().UTC()
		paidAt = &now
	}
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE royalty_invoices SET status = $2, stripe_charge_id = $3, paid_at = $4
		WHERE id = $1`,
		invoiceID, status, stripeChargeID, paidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
	}
	return nil
}

// GetLastPaidInvoice returns the creator's most recently paid invoice.
// Returns (nil, nil) when the creator has never paid.
func (r *Repository) GetLastPaidInvoice(ctx context.Context, creatorID string) (*RoyaltyInvoice, error) {
	inv := &RoyaltyInvoice{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, creator_id, period, amount_cents, status, COALESCE(stripe_charge_id, ''), created_at, paid_at
		FROM royalty_invoices WHERE creator_id = $1 AND status = 'paid'
		ORDER BY paid_at DESC LIMIT 1`, creatorID,
	).Scan(&inv.ID, &inv.CreatorID, &inv.Period, &inv.AmountCents, &inv.Status,
		&inv.StripeChargeID, &inv.CreatedAt, &inv.PaidAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last paid invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices returns a creator's invoices, newest first
func (r *Repository) ListInvoices(ctx context.Context, creatorID string, limit int) ([]*RoyaltyInvoice, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, creator_id, period, amount_cents, status, COALESCE(stripe_charge_id, ''), created_at, paid_at
		FROM royalty_invoices WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2`,
		creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*RoyaltyInvoice
	for rows.Next() {
		inv := &RoyaltyInvoice{}
		if err := rows.Scan(&inv.ID, &inv.CreatorID, &inv.Period, &inv.AmountCents,
			&inv.Status, &inv.StripeChargeID, &inv.CreatedAt, &inv.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// ListAllRoyalties returns the most recent ledger rows across all creators
// (admin operation)
func (r *Repository) ListAllRoyalties(ctx context.Context, limit int) ([]*RoyaltyEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, creator_id, strategy_id, trade_id, trade_profit_cents,
			royalty_rate, royalty_cents, platform_fee_rate, platform_fee_cents,
			net_cents, invoice_id, created_at
		FROM royalty_ledger ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list all royalties: %w", err)
	}
	defer rows.Close()

	var entries []*RoyaltyEntry
	for rows.Next() {
		e := &RoyaltyEntry{}
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.StrategyID, &e.TradeID,
			&e.TradeProfitCents, &e.RoyaltyRate, &e.RoyaltyCents, &e.PlatformFeeRate,
			&e.PlatformFeeCents, &e.NetCents, &e.InvoiceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan royalty entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
