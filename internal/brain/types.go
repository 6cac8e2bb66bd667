package brain

import (
	"time"

	"tradebrain/internal/analysis"
	"tradebrain/internal/regime"
	"tradebrain/internal/risk"
)

// Signal sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
	SideHold = "HOLD"
)

// Refusal reasons for non-HOLD declines
const (
	RefusalLowConfidence = "low-confidence"
	RefusalPortfolioRisk = "portfolio-risk"
)

// Factor is one entry in a signal's explanation
type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
	Impact string  `json:"impact"` // positive, negative, neutral
}

// LineageNote summarizes the strategy's ancestry for the explanation
type LineageNote struct {
	AncestorCount int     `json:"ancestor_count"`
	Similarity    float64 `json:"similarity_to_origin"`
	Stable        bool    `json:"stable"`
	OverfitFlag   bool    `json:"overfit_flag"`
}

// Explanation carries per-factor reasoning alongside a signal
type Explanation struct {
	Factors []Factor    `json:"factors"`
	Lineage LineageNote `json:"lineage"`
	Summary string      `json:"summary"`
}

// Signal is the assembler's output record
type Signal struct {
	StrategyID string    `json:"strategy_id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Entry      float64   `json:"entry,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Confidence float64   `json:"confidence"`
	Strength   float64   `json:"signal_strength"`
	Reasoning  string    `json:"reasoning"`
	Refusal    string    `json:"refusal,omitempty"`
	Regime     string    `json:"regime,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	Explanation *Explanation `json:"explanation,omitempty"`
}

// factors gathered for calibration, kept together for the explanation pass
type gathered struct {
	regime    regime.Detection
	alignment *analysis.TrendAlignment
	volume    *analysis.VolumeProfile
	profile   *risk.Profile
	portfolio *risk.Assessment
	lineage   LineageNote
}
