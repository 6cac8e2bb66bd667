// Package risk scores a user's trading tendency and guards the portfolio
// against concentration, leverage and correlation limits.
package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"tradebrain/internal/database"
)

// Tendency labels
const (
	Conservative = "conservative"
	Moderate     = "moderate"
	Aggressive   = "aggressive"
)

// MinClosedTrades is the minimum history a profile needs
const MinClosedTrades = 5

// Profile is the scored risk tendency of one user
type Profile struct {
	Tendency        string  `json:"tendency"`
	Confidence      float64 `json:"confidence"` // normalized winner margin
	AvgPositionFrac float64 `json:"avg_position_fraction"`
	WinRate         float64 `json:"win_rate"`
	AvgHoldingDays  float64 `json:"avg_holding_days"`
	ReturnStdev     float64 `json:"return_stdev"`
	MaxDrawdownFrac float64 `json:"max_drawdown_fraction"`
	ClosedTrades    int     `json:"closed_trades"`
	Sufficient      bool    `json:"sufficient"`
}

// BuildProfile scores closed trades against an account balance. Fewer than
// MinClosedTrades yields an insufficient moderate profile.
func BuildProfile(trades []database.Trade, accountBalance float64) *Profile {
	closed := make([]database.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status == database.TradeClosed && t.ExitPrice != nil && t.ClosedAt != nil && t.RealizedPnL != nil {
			closed = append(closed, t)
		}
	}

	p := &Profile{Tendency: Moderate, Confidence: 0, ClosedTrades: len(closed)}
	if len(closed) < MinClosedTrades {
		return p
	}
	p.Sufficient = true

	sort.Slice(closed, func(i, j int) bool { return closed[i].ClosedAt.Before(*closed[j].ClosedAt) })

	var posFracs, returns []float64
	wins := 0
	holdingDays := 0.0
	equity, peak := 0.0, 0.0

	for _, t := range closed {
		cost := t.EntryPrice * t.Quantity
		if accountBalance > 0 {
			posFracs = append(posFracs, cost/accountBalance)
		}
		if cost > 0 {
			returns = append(returns, *t.RealizedPnL/cost)
		}
		if *t.RealizedPnL > 0 {
			wins++
		}
		holdingDays += t.ClosedAt.Sub(t.OpenedAt).Hours() / 24

		equity += *t.RealizedPnL
		if equity > peak {
			peak = equity
		}
		if accountBalance > 0 {
			dd := (peak - equity) / accountBalance
			if dd > p.MaxDrawdownFrac {
				p.MaxDrawdownFrac = dd
			}
		}
	}

	if len(posFracs) > 0 {
		p.AvgPositionFrac = stat.Mean(posFracs, nil)
	}
	p.WinRate = float64(wins) / float64(len(closed))
	p.AvgHoldingDays = holdingDays / float64(len(closed))
	if len(returns) >= 2 {
		p.ReturnStdev = stat.StdDev(returns, nil)
	}

	p.Tendency, p.Confidence = scoreTendency(p)
	return p
}

// scoreTendency applies the additive rubric: each metric adds weight to one
// tendency bucket, and confidence is the winner's margin over the runner-up
// normalized by total weight.
func scoreTendency(p *Profile) (string, float64) {
	scores := map[string]float64{Conservative: 0, Moderate: 0, Aggressive: 0}

	// Position size carries the most weight
	switch {
	case p.AvgPositionFrac < 0.05:
		scores[Conservative] += 0.3
	case p.AvgPositionFrac <= 0.15:
		scores[Moderate] += 0.3
	default:
		scores[Aggressive] += 0.3
	}

	switch {
	case p.WinRate > 0.7:
		scores[Conservative] += 0.2
	case p.WinRate >= 0.5:
		scores[Moderate] += 0.2
	default:
		scores[Aggressive] += 0.2
	}

	// Long holds read as patience, intraday churn as appetite
	switch {
	case p.AvgHoldingDays > 14:
		scores[Conservative] += 0.2
	case p.AvgHoldingDays >= 1:
		scores[Moderate] += 0.2
	default:
		scores[Aggressive] += 0.2
	}

	switch {
	case p.ReturnStdev < 0.02:
		scores[Conservative] += 0.15
	case p.ReturnStdev <= 0.08:
		scores[Moderate] += 0.15
	default:
		scores[Aggressive] += 0.15
	}

	switch {
	case p.MaxDrawdownFrac < 0.05:
		scores[Conservative] += 0.15
	case p.MaxDrawdownFrac <= 0.15:
		scores[Moderate] += 0.15
	default:
		scores[Aggressive] += 0.15
	}

	winner, runnerUp := Moderate, 0.0
	best := -1.0
	for _, label := range []string{Conservative, Moderate, Aggressive} {
		s := scores[label]
		if s > best {
			runnerUp = best
			best = s
			winner = label
		} else if s > runnerUp {
			runnerUp = s
		}
	}

	total := scores[Conservative] + scores[Moderate] + scores[Aggressive]
	confidence := 0.0
	if total > 0 {
		confidence = math.Max(0, (best-runnerUp)/total)
	}
	return winner, confidence
}
