package brain

import (
	"tradebrain/internal/analysis"
	"tradebrain/internal/regime"
	"tradebrain/internal/risk"
)

// calibrate combines the base score with the multiplier ladder and returns
// the clamped confidence plus one explanation factor per input.
func calibrate(base float64, side string, g gathered) (float64, []Factor) {
	confidence := base
	factors := []Factor{{
		Name:   "base_score",
		Value:  base,
		Weight: 1.0,
		Impact: impactOf(base, 0.5),
	}}

	apply := func(name string, value, multiplier float64) {
		confidence *= multiplier
		factors = append(factors, Factor{
			Name:   name,
			Value:  value,
			Weight: multiplier,
			Impact: impactOf(multiplier, 1.0),
		})
	}

	apply("regime_fit", g.regime.Confidence, regimeMultiplier(side, g.regime))

	if g.alignment != nil {
		apply("timeframe_alignment", g.alignment.AlignmentScore, alignmentMultiplier(side, g.alignment))
	}
	if g.volume != nil {
		apply("volume", g.volume.Strength, volumeMultiplier(g.volume))
	}
	if g.profile != nil {
		apply("risk_tendency", g.profile.Confidence, tendencyMultiplier(side, g.profile))
	}
	if g.portfolio != nil {
		apply("portfolio_risk", g.portfolio.Leverage, g.portfolio.Multiplier)
	}

	return clamp01(confidence), factors
}

// regimeMultiplier rewards signals aligned with the detected regime and
// penalizes fighting it, scaled by the detector's own confidence.
func regimeMultiplier(side string, det regime.Detection) float64 {
	fit := 1.0
	switch det.Regime {
	case regime.Momentum, regime.RiskOn:
		if side == SideBuy {
			fit = 1.1
		} else {
			fit = 0.85
		}
	case regime.RiskOff:
		if side == SideSell {
			fit = 1.1
		} else {
			fit = 0.8
		}
	case regime.Volatility:
		fit = 0.8
	}
	// Low detector confidence pulls the multiplier back toward neutral
	return 1 + (fit-1)*det.Confidence
}

// alignmentMultiplier maps agreement with the signal direction into
// [0.75, 1.15]; disagreement inverts the bonus.
func alignmentMultiplier(side string, ta *analysis.TrendAlignment) float64 {
	m := 0.75 + 0.4*ta.AlignmentScore
	agrees := (side == SideBuy && ta.Direction == analysis.TrendUp) ||
		(side == SideSell && ta.Direction == analysis.TrendDown)
	if !agrees && ta.Direction != analysis.TrendFlat {
		m = 0.75
	}
	return m
}

func volumeMultiplier(vp *analysis.VolumeProfile) float64 {
	switch vp.Recommendation {
	case analysis.VolumeConfirm:
		return 1.0 + 0.05*vp.Strength
	case analysis.VolumeBlock:
		return 0.7
	default:
		return 0.9
	}
}

// tendencyMultiplier nudges confidence when the trade matches the user's
// demonstrated appetite. Insufficient history is neutral.
func tendencyMultiplier(side string, p *risk.Profile) float64 {
	if !p.Sufficient {
		return 1.0
	}
	switch p.Tendency {
	case risk.Conservative:
		return 0.95
	case risk.Aggressive:
		return 1.05
	default:
		return 1.0
	}
}

func impactOf(value, neutral float64) string {
	switch {
	case value > neutral+1e-9:
		return "positive"
	case value < neutral-1e-9:
		return "negative"
	default:
		return "neutral"
	}
}
