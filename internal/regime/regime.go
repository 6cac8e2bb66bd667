// Package regime classifies the current market state. A rule-based cold
// start covers empty memory; once the memory store holds enough samples,
// similarity-weighted voting over stored regimes takes over. The detector's
// contract is total: every call returns a complete Detection, and any
// internal failure collapses to neutral with confidence 0.3.
package regime

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"tradebrain/internal/indicators"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	"tradebrain/internal/mcn"
)

// Regime labels
const (
	Momentum   = "momentum"
	RiskOff    = "risk_off"
	RiskOn     = "risk_on"
	Volatility = "volatility"
	Neutral    = "neutral"
)

// Detection is the detector's complete output record
type Detection struct {
	Regime        string             `json:"regime"`
	Confidence    float64            `json:"confidence"` // [0, 1]
	Volatility    *float64           `json:"volatility,omitempty"`
	RiskLevel     string             `json:"risk_level"` // low, normal, high
	MemorySamples int                `json:"memory_samples"`
	Features      map[string]float64 `json:"regime_features"`
}

// CandleSource is the slice of the router the detector needs
type CandleSource interface {
	GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error)
}

// Detector combines cold-start rules with memory-store voting
type Detector struct {
	candles    CandleSource
	memory     *mcn.Store
	minSamples int
	logger     *logging.Logger
}

// NewDetector creates a detector. minSamples is the memory threshold below
// which only the cold-start rules run.
func NewDetector(candles CandleSource, memory *mcn.Store, minSamples int, logger *logging.Logger) *Detector {
	if minSamples <= 0 {
		minSamples = 10
	}
	return &Detector{
		candles:    candles,
		memory:     memory,
		minSamples: minSamples,
		logger:     logger.WithComponent("regime"),
	}
}

// neutralFallback is the degraded result for any failure path
func (d *Detector) neutralFallback() Detection {
	samples := 0
	if d.memory != nil {
		samples = d.memory.Len()
	}
	return Detection{
		Regime:        Neutral,
		Confidence:    0.3,
		RiskLevel:     "normal",
		MemorySamples: samples,
		Features:      map[string]float64{},
	}
}

// Detect classifies the market state for a symbol
func (d *Detector) Detect(ctx context.Context, symbol string) Detection {
	candles, err := d.candles.GetCandles(ctx, market.CandleQuery{
		Symbol:   symbol,
		Interval: "1d",
		Limit:    210,
	})
	if err != nil || len(candles) < 30 {
		if err != nil {
			d.logger.Warn("Regime candle fetch failed", "symbol", symbol, "error", err.Error())
		}
		return d.neutralFallback()
	}

	features := extractFeatures(candles)
	det := d.classifyColdStart(features)
	det.Features = features
	if vol, ok := features["volatility_30d"]; ok {
		v := vol
		det.Volatility = &v
	}

	if d.memory != nil {
		det.MemorySamples = d.memory.Len()
		if det.MemorySamples >= d.minSamples {
			if voted, ok := d.voteFromMemory(features); ok {
				voted.Features = features
				voted.Volatility = det.Volatility
				voted.MemorySamples = det.MemorySamples
				return voted
			}
		}
		// Feed the store so future detections can vote
		d.memory.Add([][]float64{Embed(features)}, []map[string]string{{"regime": det.Regime}})
	}
	return det
}

// extractFeatures derives the rule inputs from daily candles
func extractFeatures(candles []market.Candle) map[string]float64 {
	closes := indicators.Closes(candles)
	features := map[string]float64{}

	last := closes[len(closes)-1]
	features["close"] = last

	if sma50 := indicators.SMA(closes, 50); len(sma50) > 0 {
		features["sma50"] = sma50[len(sma50)-1]
	}
	if sma200 := indicators.SMA(closes, 200); len(sma200) > 0 {
		features["sma200"] = sma200[len(sma200)-1]
	}

	// 30-day annualized volatility from log returns
	if len(closes) >= 31 {
		window := closes[len(closes)-31:]
		returns := make([]float64, 0, 30)
		for i := 1; i < len(window); i++ {
			if window[i-1] > 0 {
				returns = append(returns, math.Log(window[i]/window[i-1]))
			}
		}
		if len(returns) >= 2 {
			features["volatility_30d"] = stat.StdDev(returns, nil) * math.Sqrt(252)
		}
	}

	// 20-day momentum as fractional change
	if len(closes) >= 21 {
		prev := closes[len(closes)-21]
		if prev > 0 {
			features["momentum_20d"] = (last - prev) / prev
		}
	}
	return features
}

// classifyColdStart applies the rule ladder: extreme volatility first, then
// trend via SMA50/200 alignment with momentum, then momentum alone.
func (d *Detector) classifyColdStart(f map[string]float64) Detection {
	vol, hasVol := f["volatility_30d"]
	mom, hasMom := f["momentum_20d"]
	sma50, has50 := f["sma50"]
	sma200, has200 := f["sma200"]

	riskLevel := "normal"
	if hasVol {
		switch {
		case vol >= 0.40:
			riskLevel = "high"
		case vol <= 0.12:
			riskLevel = "low"
		}
	}

	switch {
	case hasVol && vol >= 0.40:
		return Detection{Regime: Volatility, Confidence: clamp(0.5 + vol/2), RiskLevel: "high"}
	case has50 && has200 && sma50 > sma200 && hasMom && mom > 0.05:
		return Detection{Regime: Momentum, Confidence: clamp(0.55 + mom), RiskLevel: riskLevel}
	case has50 && has200 && sma50 < sma200 && hasMom && mom < -0.05:
		return Detection{Regime: RiskOff, Confidence: clamp(0.55 - mom), RiskLevel: "high"}
	case hasMom && mom > 0.03:
		return Detection{Regime: RiskOn, Confidence: clamp(0.45 + mom*2), RiskLevel: riskLevel}
	case hasMom && mom < -0.03:
		return Detection{Regime: RiskOff, Confidence: clamp(0.45 - mom*2), RiskLevel: riskLevel}
	default:
		return Detection{Regime: Neutral, Confidence: 0.4, RiskLevel: riskLevel}
	}
}

// voteFromMemory aggregates similar stored states by similarity-weighted
// votes. ok is false when memory cannot produce a usable vote.
func (d *Detector) voteFromMemory(features map[string]float64) (Detection, bool) {
	metas, scores := d.memory.Search(Embed(features), 10)
	if len(metas) == 0 {
		return Detection{}, false
	}

	votes := map[string]float64{}
	total := 0.0
	for i, md := range metas {
		label := md["regime"]
		if label == "" {
			continue
		}
		weight := math.Max(scores[i], 0)
		votes[label] += weight
		total += weight
	}
	if total == 0 {
		return Detection{}, false
	}

	best, bestWeight := "", 0.0
	for label, w := range votes {
		if w > bestWeight {
			best, bestWeight = label, w
		}
	}

	riskLevel := "normal"
	switch best {
	case Volatility, RiskOff:
		riskLevel = "high"
	case Neutral:
		riskLevel = "normal"
	}
	return Detection{
		Regime:     best,
		Confidence: clamp(bestWeight / total),
		RiskLevel:  riskLevel,
	}, true
}

// Embed maps the feature record to a fixed-dimension vector for the memory
// store. Feature order is stable so embeddings stay comparable across runs.
func Embed(features map[string]float64) []float64 {
	v := make([]float64, 0, mcn.Dim)
	close := features["close"]

	norm := func(val float64) float64 {
		if close > 0 {
			return val / close
		}
		return val
	}
	v = append(v,
		norm(features["sma50"]),
		norm(features["sma200"]),
		features["volatility_30d"],
		features["momentum_20d"],
	)
	return mcn.FixDim(v)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
