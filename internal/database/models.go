package database

import (
	"encoding/json"
	"time"
)

// =====================================================
// ENUMS
// =====================================================

// UserRole represents the user's role on the platform
type UserRole string

const (
	RoleUser    UserRole = "user"
	RolePro     UserRole = "pro"
	RoleCreator UserRole = "creator"
	RoleAdmin   UserRole = "admin"
)

// StrategyStatus represents the evolution status of a strategy
type StrategyStatus string

const (
	StatusExperiment StrategyStatus = "experiment"
	StatusCandidate  StrategyStatus = "candidate"
	StatusProposable StrategyStatus = "proposable"
	StatusDiscarded  StrategyStatus = "discarded"
)

// TradeSide represents the direction of a trade
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeStatus represents the lifecycle state of a trade
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// TradeMode distinguishes simulated from live trades
type TradeMode string

const (
	ModePaper TradeMode = "PAPER"
	ModeReal  TradeMode = "REAL"
)

// TradeSource records what initiated a trade
type TradeSource string

const (
	SourceManual TradeSource = "MANUAL"
	SourceBrain  TradeSource = "BRAIN"
)

// MessageKind classifies group messages
type MessageKind string

const (
	MessageText     MessageKind = "TEXT"
	MessageStrategy MessageKind = "STRATEGY"
)

// InvoiceStatus represents the payment state of a royalty invoice
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceFailed  InvoiceStatus = "failed"
)

// =====================================================
// MODELS
// =====================================================

// User represents a platform account
type User struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	PasswordHash           string     `json:"-"`
	AuthProvider           string     `json:"auth_provider"`
	Role                   UserRole   `json:"role"`
	PlanCode               *string    `json:"plan_code,omitempty"`
	RoyaltyPercentOverride *float64   `json:"royalty_percent_override,omitempty"`
	BrokerConnected        bool       `json:"broker_connected"`
	BillingLocked          bool       `json:"billing_locked"`
	BillingLockedAt        *time.Time `json:"billing_locked_at,omitempty"`
	ConsecutivePaidMonths  int        `json:"consecutive_paid_months"`
	LastPaymentAt          *time.Time `json:"last_payment_at,omitempty"`
	StripeCustomerID       string     `json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// SubscriptionPlan represents a billing plan
type SubscriptionPlan struct {
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	MonthlyPriceCents  int64     `json:"monthly_price_cents"`
	RoyaltyPercent     float64   `json:"royalty_percent"`
	PlatformFeePercent float64   `json:"platform_fee_percent"`
	MaxGroupSize       int       `json:"max_group_size"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Strategy represents a trading strategy and its evolution state
type Strategy struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	Name              string          `json:"name"`
	Parameters        json.RawMessage `json:"parameters"`
	Ruleset           json.RawMessage `json:"ruleset"`
	AssetType         string          `json:"asset_type"`
	Timeframe         string          `json:"timeframe"`
	Score             float64         `json:"score"`
	Status            StrategyStatus  `json:"status"`
	EvolutionAttempts int             `json:"evolution_attempts"`
	IsProposable      bool            `json:"is_proposable"`
	LastBacktest      json.RawMessage `json:"last_backtest,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LineageEdge is one parent→child edge in the strategy lineage DAG
type LineageEdge struct {
	ID           int64     `json:"id"`
	ParentID     string    `json:"parent_id"`
	ChildID      string    `json:"child_id"`
	MutationType string    `json:"mutation_type"`
	Similarity   *float64  `json:"similarity,omitempty"`
	CreatedBy    *string   `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Backtest is an immutable backtest result record
type Backtest struct {
	ID          string     `json:"id"`
	StrategyID  string     `json:"strategy_id"`
	Symbol      string     `json:"symbol"`
	Timeframe   string     `json:"timeframe"`
	Segment     string     `json:"segment"` // full, train, test
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	TotalReturn float64    `json:"total_return"`
	WinRate     float64    `json:"win_rate"`
	MaxDrawdown float64    `json:"max_drawdown"`
	AvgPnL      float64    `json:"avg_pnl"`
	TotalTrades int        `json:"total_trades"`
	Sharpe      *float64   `json:"sharpe,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Trade represents an order ledger row.
// Invariant: Status == CLOSED ⇔ ExitPrice, ClosedAt and RealizedPnL are set.
type Trade struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Symbol      string      `json:"symbol"`
	AssetType   string      `json:"asset_type"`
	Side        TradeSide   `json:"side"`
	Quantity    float64     `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	Status      TradeStatus `json:"status"`
	Mode        TradeMode   `json:"mode"`
	Source      TradeSource `json:"source"`
	StrategyID  *string     `json:"strategy_id,omitempty"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
	RealizedPnL *float64    `json:"realized_pnl,omitempty"`
}

// PaperAccount is the simulated cash balance for a user
type PaperAccount struct {
	UserID          string    `json:"user_id"`
	Balance         float64   `json:"balance"`
	StartingBalance float64   `json:"starting_balance"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RoyaltyEntry is one royalty ledger row. All monetary amounts are integer
// cents; net = royalty − platform fee.
type RoyaltyEntry struct {
	ID               string    `json:"id"`
	CreatorID        string    `json:"creator_id"`
	StrategyID       string    `json:"strategy_id"`
	TradeID          string    `json:"trade_id"`
	TradeProfitCents int64     `json:"trade_profit_cents"`
	RoyaltyRate      float64   `json:"royalty_rate"`
	RoyaltyCents     int64     `json:"royalty_cents"`
	PlatformFeeRate  float64   `json:"platform_fee_rate"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	NetCents         int64     `json:"net_cents"`
	InvoiceID        *string   `json:"invoice_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// RoyaltyInvoice is a monthly aggregation of ledger rows for one creator
type RoyaltyInvoice struct {
	ID             string        `json:"id"`
	CreatorID      string        `json:"creator_id"`
	Period         string        `json:"period"` // YYYY-MM
	AmountCents    int64         `json:"amount_cents"`
	Status         InvoiceStatus `json:"status"`
	StripeChargeID string        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
}

// Group is a private strategy-sharing group with one owner
type Group struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	JoinCode    string    `json:"join_code"`
	MaxSize     int       `json:"max_size"`
	MemberCount int       `json:"member_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupMember links a user into a group
type GroupMember struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// GroupMessage is a message stored encrypted at rest. Ciphertext is
// base64(nonce || AES-GCM sealed payload).
type GroupMessage struct {
	ID         string      `json:"id"`
	GroupID    string      `json:"group_id"`
	UserID     string      `json:"user_id"`
	Kind       MessageKind `json:"kind"`
	Ciphertext string      `json:"-"`
	Content    string      `json:"content,omitempty"` // decrypted, never persisted
	CreatedAt  time.Time   `json:"created_at"`
}

// AdminSettings is the singleton platform configuration row
type AdminSettings struct {
	PlatformFeePercent   float64   `json:"platform_fee_percent"`
	CreatorFeePercent    float64   `json:"creator_fee_percent"`
	PnLFeeThresholdCents int64     `json:"pnl_fee_threshold_cents"`
	GraceMonths          int       `json:"grace_months"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Promo is an admin-managed promotional discount code
type Promo struct {
	Code           string     `json:"code"`
	Description    string     `json:"description,omitempty"`
	PercentOff     float64    `json:"percent_off"`
	MaxRedemptions int        `json:"max_redemptions"` // 0 means unlimited
	RedeemedCount  int        `json:"redeemed_count"`
	Active         bool       `json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OTPCode is a single-use emailed code
type OTPCode struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}
