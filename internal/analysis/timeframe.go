// Package analysis provides the confirmation layers the signal assembler
// consults before emitting a signal: multi-timeframe trend agreement and
// volume behavior.
package analysis

import (
	"context"
	"math"

	"tradebrain/internal/indicators"
	"tradebrain/internal/logging"
	"tradebrain/internal/market"
)

// Trend direction per timeframe
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// timeframeGroups buckets the six canonical intervals into horizons
var timeframeGroups = map[string]string{
	"1m": "short", "5m": "short",
	"15m": "medium", "1h": "medium",
	"4h": "long", "1d": "long",
}

// TimeframeTrend is one interval's classification
type TimeframeTrend struct {
	Timeframe string  `json:"timeframe"`
	Direction string  `json:"direction"`
	Slope     float64 `json:"slope"` // fractional EMA12 slope per bar
}

// TrendAlignment is the aggregate multi-timeframe view
type TrendAlignment struct {
	Trends         []TimeframeTrend  `json:"trends"`
	GroupDirection map[string]string `json:"group_direction"` // short, medium, long
	Direction      string            `json:"direction"`       // overall majority
	AlignmentScore float64           `json:"alignment_score"` // [0, 1]
	FlatCount      int               `json:"flat_count"`
}

// CandleSource is the slice of the router this package needs
type CandleSource interface {
	GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error)
}

// TimeframeAnalyzer classifies trend per timeframe and scores agreement
type TimeframeAnalyzer struct {
	candles CandleSource
	logger  *logging.Logger
}

// NewTimeframeAnalyzer creates the analyzer
func NewTimeframeAnalyzer(candles CandleSource, logger *logging.Logger) *TimeframeAnalyzer {
	return &TimeframeAnalyzer{candles: candles, logger: logger.WithComponent("timeframe")}
}

// Analyze classifies all six timeframes for a symbol. Timeframes whose data
// cannot be fetched count as flat; the call itself never fails.
func (a *TimeframeAnalyzer) Analyze(ctx context.Context, symbol string) *TrendAlignment {
	out := &TrendAlignment{GroupDirection: map[string]string{}}

	groupVotes := map[string]map[string]int{
		"short": {}, "medium": {}, "long": {},
	}

	for _, tf := range market.Intervals {
		trend := a.classify(ctx, symbol, tf)
		out.Trends = append(out.Trends, trend)
		if trend.Direction == TrendFlat {
			out.FlatCount++
			continue
		}
		groupVotes[timeframeGroups[tf]][trend.Direction]++
	}

	// Per-group majority
	overall := map[string]int{}
	for group, votes := range groupVotes {
		dir := majority(votes)
		out.GroupDirection[group] = dir
		if dir != TrendFlat {
			overall[dir]++
		}
	}
	out.Direction = majority(overall)
	out.AlignmentScore = alignmentScore(overall, out.FlatCount)
	return out
}

// classify fetches one timeframe and labels it from EMA12/EMA26 alignment
// plus the fast EMA's slope.
func (a *TimeframeAnalyzer) classify(ctx context.Context, symbol, timeframe string) TimeframeTrend {
	trend := TimeframeTrend{Timeframe: timeframe, Direction: TrendFlat}

	candles, err := a.candles.GetCandles(ctx, market.CandleQuery{
		Symbol:   symbol,
		Interval: timeframe,
		Limit:    60,
	})
	if err != nil || len(candles) < 30 {
		if err != nil {
			a.logger.Debug("Timeframe fetch failed, counting as flat",
				"symbol", symbol, "timeframe", timeframe, "error", err.Error())
		}
		return trend
	}

	closes := indicators.Closes(candles)
	ema12 := indicators.EMA(closes, 12)
	ema26 := indicators.EMA(closes, 26)
	if len(ema12) < 4 || len(ema26) < 1 {
		return trend
	}

	fast := ema12[len(ema12)-1]
	slow := ema26[len(ema26)-1]
	prev := ema12[len(ema12)-4]
	if prev != 0 {
		trend.Slope = (fast - prev) / prev / 3
	}

	// Alignment and slope must agree; a slope under 5 bps/bar is noise
	const minSlope = 0.0005
	switch {
	case fast > slow && trend.Slope > minSlope:
		trend.Direction = TrendUp
	case fast < slow && trend.Slope < -minSlope:
		trend.Direction = TrendDown
	}
	return trend
}

func majority(votes map[string]int) string {
	best, bestN := TrendFlat, 0
	for dir, n := range votes {
		if n > bestN {
			best, bestN = dir, n
		}
	}
	return best
}

// alignmentScore maps group agreement to the coarse ladder: 1.0 when all
// voting groups agree, 0.67 when two do, 0.33 otherwise, minus 0.1 per flat
// timeframe.
func alignmentScore(overall map[string]int, flatCount int) float64 {
	score := 0.33
	maxAgree := 0
	for _, n := range overall {
		if n > maxAgree {
			maxAgree = n
		}
	}
	switch maxAgree {
	case 3:
		score = 1.0
	case 2:
		score = 0.67
	}
	score -= 0.1 * float64(flatCount)
	return math.Max(0, score)
}
