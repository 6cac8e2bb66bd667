package risk

import (
	"fmt"
	"math"

	"tradebrain/internal/database"
)

// Portfolio limits as fractions of account equity
const (
	MaxSymbolExposure = 0.20
	MaxSectorExposure = 0.40
	MaxLeverage       = 1.0
	// dampenAt is the fraction of a limit where confidence starts shrinking
	dampenAt = 0.80
)

// DefaultMaxCorrelated is the default cap on open positions sharing a sector
const DefaultMaxCorrelated = 4

// Assessment is the portfolio gate's verdict on a proposed trade
type Assessment struct {
	Allowed    bool     `json:"allowed"`
	Multiplier float64  `json:"multiplier"` // confidence multiplier in (0, 1]
	Reasons    []string `json:"reasons,omitempty"`

	SymbolExposure float64 `json:"symbol_exposure"` // post-trade fraction
	SectorExposure float64 `json:"sector_exposure"`
	Leverage       float64 `json:"leverage"`
	CorrelatedOpen int     `json:"correlated_open"`
}

// PortfolioGuard evaluates proposed trades against open exposure
type PortfolioGuard struct {
	maxCorrelated int
}

// NewPortfolioGuard creates a guard; maxCorrelated <= 0 uses the default
func NewPortfolioGuard(maxCorrelated int) *PortfolioGuard {
	if maxCorrelated <= 0 {
		maxCorrelated = DefaultMaxCorrelated
	}
	return &PortfolioGuard{maxCorrelated: maxCorrelated}
}

// Assess checks a proposed trade of cost against open trades and equity.
// sectorOf maps symbols to sectors; unknown symbols map to "".
func (g *PortfolioGuard) Assess(open []database.Trade, equity, cost float64, symbol string, sectorOf func(string) string) *Assessment {
	a := &Assessment{Allowed: true, Multiplier: 1.0}
	if equity <= 0 {
		a.Allowed = false
		a.Multiplier = 0
		a.Reasons = append(a.Reasons, "no account equity")
		return a
	}

	sector := sectorOf(symbol)
	symbolCost, sectorCost, totalCost := cost, cost, cost
	correlated := 0
	for _, t := range open {
		c := t.EntryPrice * t.Quantity
		totalCost += c
		if t.Symbol == symbol {
			symbolCost += c
		}
		if sector != "" && sectorOf(t.Symbol) == sector {
			sectorCost += c
			correlated++
		}
	}

	a.SymbolExposure = symbolCost / equity
	a.SectorExposure = sectorCost / equity
	a.Leverage = totalCost / equity
	a.CorrelatedOpen = correlated

	a.applyLimit(a.SymbolExposure, MaxSymbolExposure, fmt.Sprintf("symbol exposure %.0f%% of equity", a.SymbolExposure*100))
	if sector != "" {
		a.applyLimit(a.SectorExposure, MaxSectorExposure, fmt.Sprintf("sector %q exposure %.0f%% of equity", sector, a.SectorExposure*100))
	}
	a.applyLimit(a.Leverage, MaxLeverage, fmt.Sprintf("leverage %.2fx", a.Leverage))

	if correlated >= g.maxCorrelated {
		a.Allowed = false
		a.Multiplier = 0
		a.Reasons = append(a.Reasons, fmt.Sprintf("%d open positions already correlated with %s", correlated, symbol))
	}
	return a
}

// applyLimit dampens the multiplier past 80% of a limit and denies at 100%
func (a *Assessment) applyLimit(value, limit float64, reason string) {
	ratio := value / limit
	switch {
	case ratio >= 1.0:
		a.Allowed = false
		a.Multiplier = 0
		a.Reasons = append(a.Reasons, reason+" exceeds limit")
	case ratio >= dampenAt:
		// Linear ramp from 1.0 at 80% down to 0.5 at the limit
		m := 1.0 - 0.5*(ratio-dampenAt)/(1.0-dampenAt)
		a.Multiplier = math.Min(a.Multiplier, m)
		a.Reasons = append(a.Reasons, reason+" near limit")
	}
}
