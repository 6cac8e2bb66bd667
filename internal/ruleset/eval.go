package ruleset

import (
	"fmt"
	"math"
	"strings"

	"tradebrain/internal/indicators"
	"tradebrain/internal/market"
)

// Env holds the candle frame and lazily-computed indicator series for one
// evaluation pass. Series are cached by (indicator, length) so repeated
// references across conditions compute once.
type Env struct {
	candles []market.Candle
	closes  []float64
	series  map[string][]float64
	offsets map[string]int // bar index of the first series element
}

// NewEnv prepares an evaluation environment over a candle frame
func NewEnv(candles []market.Candle) *Env {
	return &Env{
		candles: candles,
		closes:  indicators.Closes(candles),
		series:  make(map[string][]float64),
		offsets: make(map[string]int),
	}
}

// Bars returns the number of candles in the frame
func (e *Env) Bars() int { return len(e.candles) }

// Value resolves an indicator at a bar index. ok is false for unknown
// indicators, insufficient data, or an index before the indicator's warm-up.
func (e *Env) Value(indicator string, length, barIndex int) (float64, bool) {
	if barIndex < 0 || barIndex >= len(e.candles) {
		return 0, false
	}

	key := fmt.Sprintf("%s:%d", indicator, length)
	series, ok := e.series[key]
	if !ok {
		series = e.compute(indicator, length, key)
		e.series[key] = series
	}
	if series == nil {
		return 0, false
	}

	idx := barIndex - e.offsets[key]
	if idx < 0 || idx >= len(series) {
		return 0, false
	}
	return series[idx], true
}

// compute builds an indicator series and records its bar offset. A nil return
// marks the indicator as unknown or unsatisfiable for this frame.
func (e *Env) compute(indicator string, length int, key string) []float64 {
	n := length
	switch strings.ToUpper(indicator) {
	case "SMA":
		if n == 0 {
			n = 20
		}
		e.offsets[key] = n - 1
		return indicators.SMA(e.closes, n)
	case "EMA":
		if n == 0 {
			n = 12
		}
		e.offsets[key] = n - 1
		return indicators.EMA(e.closes, n)
	case "RSI":
		if n == 0 {
			n = 14
		}
		e.offsets[key] = n
		return indicators.RSI(e.closes, n)
	case "MACD":
		res := indicators.MACD(e.closes, 12, 26, 9)
		if res == nil {
			return nil
		}
		e.offsets[key] = 25
		return res.Line
	case "MACD_SIGNAL":
		res := indicators.MACD(e.closes, 12, 26, 9)
		if res == nil || res.Signal == nil {
			return nil
		}
		e.offsets[key] = 25 + 8
		return res.Signal
	case "MACD_HIST":
		res := indicators.MACD(e.closes, 12, 26, 9)
		if res == nil || res.Histogram == nil {
			return nil
		}
		e.offsets[key] = 25 + 8
		return res.Histogram
	case "BB_UPPER", "BB_LOWER", "BB_MIDDLE":
		if n == 0 {
			n = 20
		}
		res := indicators.Bollinger(e.closes, n, 2)
		if res == nil {
			return nil
		}
		e.offsets[key] = n - 1
		switch strings.ToUpper(indicator) {
		case "BB_UPPER":
			return res.Upper
		case "BB_LOWER":
			return res.Lower
		default:
			return res.Middle
		}
	case "ATR":
		if n == 0 {
			n = 14
		}
		e.offsets[key] = n
		return indicators.ATR(e.candles, n)
	case "VWAP":
		e.offsets[key] = 0
		return indicators.VWAP(e.candles)
	case "PRICE", "CLOSE":
		e.offsets[key] = 0
		return e.closes
	case "VOLUME":
		e.offsets[key] = 0
		vols := make([]float64, len(e.candles))
		for i, c := range e.candles {
			vols[i] = c.Volume
		}
		return vols
	default:
		return nil
	}
}

// Result is the outcome of evaluating a ruleset at one bar
type Result struct {
	Met bool
	// Strength is the mean normalized distance past each comparison's
	// threshold, in [0, 1]. Zero when conditions are unmet.
	Strength float64
}

// Evaluate runs the ruleset's conditions at barIndex. The running operator
// starts as AND; logic markers switch it for subsequent terms. Nested groups
// evaluate recursively. Malformed or unknown terms are false.
func Evaluate(rs *Ruleset, env *Env, barIndex int) Result {
	met, distances := evalNodes(rs.Conditions, env, barIndex)
	if !met {
		return Result{}
	}
	return Result{Met: true, Strength: meanStrength(distances)}
}

func evalNodes(nodes []Node, env *Env, barIndex int) (bool, []float64) {
	result := true
	op := LogicAND
	first := true
	var distances []float64

	for _, n := range nodes {
		if n.Logic == LogicAND || n.Logic == LogicOR {
			op = n.Logic
			continue
		}

		var term bool
		if len(n.Group) > 0 {
			var groupDist []float64
			term, groupDist = evalNodes(n.Group, env, barIndex)
			distances = append(distances, groupDist...)
		} else {
			var dist float64
			term, dist = evalComparison(n, env, barIndex)
			distances = append(distances, dist)
		}

		if first {
			result = term
			first = false
			continue
		}
		if op == LogicOR {
			result = result || term
		} else {
			result = result && term
		}
	}
	return result, distances
}

// evalComparison resolves one indicator comparison. The distance is how far
// past the threshold the value sits, normalized by the threshold magnitude.
func evalComparison(n Node, env *Env, barIndex int) (bool, float64) {
	left, ok := env.Value(n.Indicator, n.Length, barIndex)
	if !ok {
		return false, 0
	}

	var right float64
	if n.Other != "" {
		right, ok = env.Value(strings.ToUpper(n.Other), n.OtherLen, barIndex)
		if !ok {
			return false, 0
		}
	} else if n.Value != nil {
		right = *n.Value
	} else {
		return false, 0
	}

	var met bool
	switch n.Relation {
	case RelGT:
		met = left > right
	case RelLT:
		met = left < right
	case RelGTE:
		met = left >= right
	case RelLTE:
		met = left <= right
	case RelEQ:
		met = left == right
	case RelNEQ:
		met = left != right
	default:
		return false, 0
	}

	dist := 0.0
	if met {
		denom := math.Abs(right)
		if denom == 0 {
			denom = 1
		}
		dist = math.Abs(left-right) / denom
	}
	return met, dist
}

// meanStrength maps raw threshold distances into [0, 1]. A 10% overshoot of
// the threshold saturates to full strength.
func meanStrength(distances []float64) float64 {
	if len(distances) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range distances {
		sum += math.Min(d/0.10, 1.0)
	}
	return sum / float64(len(distances))
}
