package royalty

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/database"
	"tradebrain/internal/logging"
)

type billingStore struct {
	users       map[string]*database.User
	unbilled    map[string]int64 // creator -> uninvoiced net cents
	invoices    map[string][]*database.RoyaltyInvoice
	nextInvoice int
}

func newBillingStore() *billingStore {
	return &billingStore{
		users:    map[string]*database.User{},
		unbilled: map[string]int64{},
		invoices: map[string][]*database.RoyaltyInvoice{},
	}
}

func (s *billingStore) ListCreatorsWithUnbilledRoyalties(ctx context.Context) ([]string, error) {
	var ids []string
	for id, cents := range s.unbilled {
		if cents > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *billingStore) CreateInvoiceForPeriod(ctx context.Context, creatorID, period string) (*database.RoyaltyInvoice, error) {
	amount := s.unbilled[creatorID]
	if amount <= 0 {
		return nil, nil
	}
	s.unbilled[creatorID] = 0
	s.nextInvoice++
	inv := &database.RoyaltyInvoice{
		ID:          fmt.Sprintf("inv-%d", s.nextInvoice),
		CreatorID:   creatorID,
		Period:      period,
		AmountCents: amount,
		Status:      database.InvoicePending,
		CreatedAt:   time.Now(),
	}
	s.invoices[creatorID] = append(s.invoices[creatorID], inv)
	return inv, nil
}

func (s *billingStore) UpdateInvoiceStatus(ctx context.Context, invoiceID string, status database.InvoiceStatus, stripeChargeID string) error {
	for _, invs := range s.invoices {
		for _, inv := range invs {
			if inv.ID == invoiceID {
				inv.Status = status
				inv.StripeChargeID = stripeChargeID
				return nil
			}
		}
	}
	return fmt.Errorf("invoice %s not found", invoiceID)
}

func (s *billingStore) ListInvoices(ctx context.Context, creatorID string, limit int) ([]*database.RoyaltyInvoice, error) {
	return s.invoices[creatorID], nil
}

func (s *billingStore) GetOutstandingCents(ctx context.Context, creatorID string) (int64, error) {
	total := s.unbilled[creatorID]
	for _, inv := range s.invoices[creatorID] {
		if inv.Status != database.InvoicePaid {
			total += inv.AmountCents
		}
	}
	return total, nil
}

func (s *billingStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	return s.users[userID], nil
}

func (s *billingStore) UpdateUser(ctx context.Context, user *database.User) error {
	s.users[user.ID] = user
	return nil
}

func (s *billingStore) RecordUserPayment(ctx context.Context, userID string, success bool) error {
	u := s.users[userID]
	if success {
		u.ConsecutivePaidMonths++
	} else {
		u.ConsecutivePaidMonths = 0
	}
	return nil
}

func (s *billingStore) SetUserBillingLock(ctx context.Context, userID string, locked bool) error {
	s.users[userID].BillingLocked = locked
	return nil
}

type fakeCharger struct {
	fail    bool
	charges int
}

func (c *fakeCharger) Configured() bool { return true }

func (c *fakeCharger) EnsureCustomer(ctx context.Context, user *database.User) (string, error) {
	return "cus_test", nil
}

func (c *fakeCharger) Charge(ctx context.Context, customerID string, amountCents int64, period, invoiceID string) (string, error) {
	c.charges++
	if c.fail {
		return "", fmt.Errorf("card declined")
	}
	return "pi_test", nil
}

func testConfig() BillingConfig {
	return BillingConfig{LockThresholdUSD: 10, GraceMonths: 3, GraceDelayed: 2, BillingDayUTC: 1}
}

func TestBillCreatorCollectsAndMarksPaid(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com"}
	store.unbilled["c1"] = 582

	charger := &fakeCharger{}
	biller := NewBiller(store, charger, nil, testConfig(), logging.Default())
	require.NoError(t, biller.RunCycle(context.Background()))

	require.Len(t, store.invoices["c1"], 1)
	inv := store.invoices["c1"][0]
	assert.Equal(t, database.InvoicePaid, inv.Status)
	assert.Equal(t, int64(582), inv.AmountCents)
	assert.Equal(t, 1, charger.charges)
	assert.Equal(t, 1, store.users["c1"].ConsecutivePaidMonths)
	assert.False(t, store.users["c1"].BillingLocked)
}

func TestFailedChargeOverThresholdLocks(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com"}
	store.unbilled["c1"] = 2500 // $25, above the $10 threshold

	biller := NewBiller(store, &fakeCharger{fail: true}, nil, testConfig(), logging.Default())
	require.NoError(t, biller.RunCycle(context.Background()))

	assert.Equal(t, database.InvoiceFailed, store.invoices["c1"][0].Status)
	assert.True(t, store.users["c1"].BillingLocked)
	assert.Zero(t, store.users["c1"].ConsecutivePaidMonths)
}

func TestFailedChargeUnderThresholdStaysUnlocked(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com"}
	store.unbilled["c1"] = 800 // $8, under the $10 threshold

	biller := NewBiller(store, &fakeCharger{fail: true}, nil, testConfig(), logging.Default())
	require.NoError(t, biller.RunCycle(context.Background()))

	assert.False(t, store.users["c1"].BillingLocked)
}

func TestGraceDefersLockForGoodStanding(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com", ConsecutivePaidMonths: 4}
	store.unbilled["c1"] = 5000

	biller := NewBiller(store, &fakeCharger{fail: true}, nil, testConfig(), logging.Default())
	require.NoError(t, biller.BillCreator(context.Background(), "c1", "2026-07"))

	// One delayed invoice with a prior 4-month paid streak stays under grace
	assert.False(t, store.users["c1"].BillingLocked)
}

func TestGraceExhaustedLocks(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com", ConsecutivePaidMonths: 6}
	// Three already-failed invoices exhaust the two delayed months grace allows
	for i := 0; i < 3; i++ {
		store.invoices["c1"] = append(store.invoices["c1"], &database.RoyaltyInvoice{
			ID: fmt.Sprintf("old-%d", i), CreatorID: "c1", AmountCents: 1000,
			Status: database.InvoiceFailed,
		})
	}
	store.unbilled["c1"] = 1500

	biller := NewBiller(store, &fakeCharger{fail: true}, nil, testConfig(), logging.Default())
	require.NoError(t, biller.BillCreator(context.Background(), "c1", "2026-07"))

	assert.True(t, store.users["c1"].BillingLocked)
}

func TestLockReleasedWhenSettled(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com", BillingLocked: true}
	store.unbilled["c1"] = 500 // back under threshold

	biller := NewBiller(store, &fakeCharger{}, nil, testConfig(), logging.Default())
	require.NoError(t, biller.BillCreator(context.Background(), "c1", "2026-07"))

	assert.False(t, store.users["c1"].BillingLocked)
}

func TestStatusReportsShouldLock(t *testing.T) {
	store := newBillingStore()
	store.users["c1"] = &database.User{ID: "c1", Email: "c1@example.com"}
	store.unbilled["c1"] = 2500

	biller := NewBiller(store, nil, nil, testConfig(), logging.Default())
	status, err := biller.Status(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, int64(2500), status.OutstandingCents)
	assert.True(t, status.ShouldLock)
	assert.False(t, status.Locked)
	assert.InDelta(t, 25.0, status.OutstandingUSD, 1e-9)
}
