package royalty

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"tradebrain/internal/database"
	"tradebrain/internal/events"
	"tradebrain/internal/logging"
)

// BillingStore is the persistence surface the monthly billing cycle needs
type BillingStore interface {
	ListCreatorsWithUnbilledRoyalties(ctx context.Context) ([]string, error)
	CreateInvoiceForPeriod(ctx context.Context, creatorID, period string) (*database.RoyaltyInvoice, error)
	UpdateInvoiceStatus(ctx context.Context, invoiceID string, status database.InvoiceStatus, stripeChargeID string) error
	ListInvoices(ctx context.Context, creatorID string, limit int) ([]*database.RoyaltyInvoice, error)
	GetOutstandingCents(ctx context.Context, creatorID string) (int64, error)
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	UpdateUser(ctx context.Context, user *database.User) error
	RecordUserPayment(ctx context.Context, userID string, success bool) error
	SetUserBillingLock(ctx context.Context, userID string, locked bool) error
}

// Charger attempts to collect an invoice amount from a creator
type Charger interface {
	Configured() bool
	EnsureCustomer(ctx context.Context, user *database.User) (string, error)
	Charge(ctx context.Context, customerID string, amountCents int64, period, invoiceID string) (string, error)
}

// BillingConfig controls the lock threshold and grace policy
type BillingConfig struct {
	LockThresholdUSD float64
	GraceMonths      int // Consecutive paid months that earn grace
	GraceDelayed     int // Unpaid invoices tolerated under grace
	BillingDayUTC    int
}

// Biller runs the monthly royalty billing cycle: invoice each creator's
// unbilled ledger rows, attempt collection, then apply or release the
// billing lock.
type Biller struct {
	store   BillingStore
	charger Charger
	bus     *events.EventBus
	cfg     BillingConfig
	cron    *cron.Cron
	logger  *logging.Logger
}

// NewBiller creates the billing cycle runner
func NewBiller(store BillingStore, charger Charger, bus *events.EventBus, cfg BillingConfig, logger *logging.Logger) *Biller {
	if cfg.LockThresholdUSD <= 0 {
		cfg.LockThresholdUSD = 10
	}
	if cfg.BillingDayUTC < 1 || cfg.BillingDayUTC > 28 {
		cfg.BillingDayUTC = 1
	}
	return &Biller{
		store:   store,
		charger: charger,
		bus:     bus,
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger.WithComponent("billing"),
	}
}

// Start schedules the monthly cycle
func (b *Biller) Start() {
	spec := fmt.Sprintf("0 3 %d * *", b.cfg.BillingDayUTC)
	_, err := b.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if err := b.RunCycle(ctx); err != nil {
			b.logger.WithError(err).Error("Billing cycle failed")
		}
	})
	if err != nil {
		b.logger.WithError(err).Error("Failed to schedule billing cycle")
		return
	}
	b.cron.Start()
	b.logger.Info("Billing cycle scheduled", "spec", spec)
}

// Stop halts the scheduler
func (b *Biller) Stop() {
	if b.cron != nil {
		b.cron.Stop()
	}
}

// RunCycle bills every creator with unbilled royalties for the month that
// just ended. Per-creator failures are logged and skipped so one bad account
// never stalls the cycle.
func (b *Biller) RunCycle(ctx context.Context) error {
	period := time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
	creators, err := b.store.ListCreatorsWithUnbilledRoyalties(ctx)
	if err != nil {
		return fmt.Errorf("failed to list creators for billing: %w", err)
	}

	b.logger.Info("Billing cycle started", "period", period, "creators", len(creators))
	for _, creatorID := range creators {
		if err := b.BillCreator(ctx, creatorID, period); err != nil {
			b.logger.WithError(err).Error("Failed to bill creator", "creator_id", creatorID)
		}
	}
	return nil
}

// BillCreator invoices one creator's unbilled rows, attempts the charge, and
// re-evaluates the billing lock.
func (b *Biller) BillCreator(ctx context.Context, creatorID, period string) error {
	user, err := b.store.GetUserByID(ctx, creatorID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("creator %s not found", creatorID)
	}
	// The paid streak before this cycle decides grace; recording the outcome
	// below resets it on failure.
	priorStreak := user.ConsecutivePaidMonths

	invoice, err := b.store.CreateInvoiceForPeriod(ctx, creatorID, period)
	if err != nil {
		return err
	}
	if invoice == nil {
		// Nothing unbilled
		return b.evaluateLock(ctx, creatorID, priorStreak)
	}

	paid := false
	if b.charger != nil && b.charger.Configured() {
		chargeID, chargeErr := b.collect(ctx, user, invoice, period)
		if chargeErr != nil {
			b.logger.WithError(chargeErr).Warn("Charge failed",
				"creator_id", creatorID, "invoice_id", invoice.ID, "amount_cents", invoice.AmountCents)
			if err := b.store.UpdateInvoiceStatus(ctx, invoice.ID, database.InvoiceFailed, ""); err != nil {
				return err
			}
		} else {
			paid = true
			if err := b.store.UpdateInvoiceStatus(ctx, invoice.ID, database.InvoicePaid, chargeID); err != nil {
				return err
			}
			b.logger.Info("Invoice collected",
				"creator_id", creatorID, "invoice_id", invoice.ID, "amount_cents", invoice.AmountCents)
		}
	} else {
		b.logger.Warn("No charger configured, invoice left pending",
			"creator_id", creatorID, "invoice_id", invoice.ID)
	}

	if err := b.store.RecordUserPayment(ctx, creatorID, paid); err != nil {
		return err
	}
	return b.evaluateLock(ctx, creatorID, priorStreak)
}

func (b *Biller) collect(ctx context.Context, user *database.User, invoice *database.RoyaltyInvoice, period string) (string, error) {
	customerID, err := b.charger.EnsureCustomer(ctx, user)
	if err != nil {
		return "", err
	}
	if customerID != user.StripeCustomerID {
		user.StripeCustomerID = customerID
		if err := b.store.UpdateUser(ctx, user); err != nil {
			b.logger.WithError(err).Warn("Failed to save stripe customer id", "user_id", user.ID)
		}
	}
	return b.charger.Charge(ctx, customerID, invoice.AmountCents, period, invoice.ID)
}

// evaluateLock applies the billing lock when outstanding dues exceed the
// threshold, honoring the good-standing grace policy, and releases the lock
// once dues fall back under it.
func (b *Biller) evaluateLock(ctx context.Context, creatorID string, paidStreak int) error {
	outstanding, err := b.store.GetOutstandingCents(ctx, creatorID)
	if err != nil {
		return err
	}
	user, err := b.store.GetUserByID(ctx, creatorID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	thresholdCents := int64(b.cfg.LockThresholdUSD * 100)
	if outstanding <= thresholdCents {
		if user.BillingLocked {
			if err := b.store.SetUserBillingLock(ctx, creatorID, false); err != nil {
				return err
			}
			b.publishLock(creatorID, false, outstanding)
		}
		return nil
	}

	if user.BillingLocked {
		return nil
	}
	if b.underGrace(ctx, user, paidStreak) {
		b.logger.Info("Lock deferred under grace",
			"creator_id", creatorID, "outstanding_cents", outstanding,
			"consecutive_paid_months", paidStreak)
		return nil
	}

	if err := b.store.SetUserBillingLock(ctx, creatorID, true); err != nil {
		return err
	}
	b.logger.Warn("Billing lock applied", "creator_id", creatorID, "outstanding_cents", outstanding)
	b.publishLock(creatorID, true, outstanding)
	return nil
}

// underGrace reports whether a creator's payment history earns tolerance for
// delayed invoices. Grace requires a streak of paid months before the miss
// and caps how many invoices may sit unpaid.
func (b *Biller) underGrace(ctx context.Context, user *database.User, paidStreak int) bool {
	if b.cfg.GraceMonths <= 0 || paidStreak < b.cfg.GraceMonths {
		return false
	}
	invoices, err := b.store.ListInvoices(ctx, user.ID, 24)
	if err != nil {
		return false
	}
	unpaid := 0
	for _, inv := range invoices {
		if inv.Status != database.InvoicePaid {
			unpaid++
		}
	}
	return unpaid <= b.cfg.GraceDelayed
}

func (b *Biller) publishLock(creatorID string, locked bool, outstandingCents int64) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Event{
		Type: events.EventBillingLock,
		Data: map[string]interface{}{
			"user_id":           creatorID,
			"locked":            locked,
			"outstanding_cents": outstandingCents,
		},
	})
}

// PaymentStatus is the billing state surfaced to clients and the payment
// lock middleware
type PaymentStatus struct {
	OutstandingCents int64   `json:"outstanding_cents"`
	ThresholdCents   int64   `json:"threshold_cents"`
	Locked           bool    `json:"locked"`
	ShouldLock       bool    `json:"should_lock"`
	OutstandingUSD   float64 `json:"outstanding_usd"`
}

// Status reports a user's current billing standing
func (b *Biller) Status(ctx context.Context, userID string) (*PaymentStatus, error) {
	outstanding, err := b.store.GetOutstandingCents(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := b.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}

	thresholdCents := int64(b.cfg.LockThresholdUSD * 100)
	return &PaymentStatus{
		OutstandingCents: outstanding,
		ThresholdCents:   thresholdCents,
		Locked:           user.BillingLocked,
		ShouldLock:       outstanding > thresholdCents,
		OutstandingUSD:   float64(outstanding) / 100,
	}, nil
}
