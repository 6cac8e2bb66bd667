package royalty

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebrain/internal/database"
)

// StripeClient charges creators for royalty invoices through the Stripe API.
// Requests are form-encoded with the secret key as basic auth.
type StripeClient struct {
	client        *resty.Client
	secretKey     string
	webhookSecret string
}

// NewStripeClient creates a Stripe client. An empty secret key leaves the
// client unconfigured; charges then fail and invoices stay pending.
func NewStripeClient(secretKey, webhookSecret string) *StripeClient {
	client := resty.New().
		SetBaseURL("https://api.stripe.com/v1").
		SetTimeout(30 * time.Second).
		SetBasicAuth(secretKey, "").
		SetHeader("Content-Type", "application/x-www-form-urlencoded")
	return &StripeClient{client: client, secretKey: secretKey, webhookSecret: webhookSecret}
}

// Configured reports whether charges can be attempted
func (s *StripeClient) Configured() bool {
	return s.secretKey != ""
}

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// EnsureCustomer returns the user's Stripe customer ID, creating one when the
// user has none yet.
func (s *StripeClient) EnsureCustomer(ctx context.Context, user *database.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	var customer stripeCustomer
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"email": user.Email}).
		SetResult(&customer).
		Post("/customers")
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("stripe customer create returned %d: %s", resp.StatusCode(), resp.String())
	}
	return customer.ID, nil
}

type stripePaymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Charge collects an invoice amount from a customer's saved payment method.
// Returns the payment intent ID on success.
func (s *StripeClient) Charge(ctx context.Context, customerID string, amountCents int64, period, invoiceID string) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("stripe is not configured")
	}

	var intent stripePaymentIntent
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"amount":               strconv.FormatInt(amountCents, 10),
			"currency":             "usd",
			"customer":             customerID,
			"confirm":              "true",
			"off_session":          "true",
			"description":          fmt.Sprintf("Royalties for %s", period),
			"metadata[invoice_id]": invoiceID,
			"metadata[type]":       "royalty",
		}).
		SetResult(&intent).
		Post("/payment_intents")
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("stripe charge returned %d: %s", resp.StatusCode(), resp.String())
	}
	if intent.Status != "succeeded" {
		return "", fmt.Errorf("payment intent %s ended in status %s", intent.ID, intent.Status)
	}
	return intent.ID, nil
}

// VerifyWebhookSignature checks a Stripe-Signature header against the
// webhook secret. Verification is skipped when no secret is configured.
func (s *StripeClient) VerifyWebhookSignature(payload []byte, header string) bool {
	if s.webhookSecret == "" {
		return true
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
