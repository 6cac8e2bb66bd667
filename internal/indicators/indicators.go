// Package indicators implements the technical indicators the ruleset
// evaluator and signal assembler consume. All functions are pure and
// deterministic; output alignment is documented per function so callers can
// map an output index back to the source bar.
package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"tradebrain/internal/market"
)

// SMA returns the simple moving average. Output length is len(values)-period+1;
// output[i] covers values[i : i+period].
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}

// EMA returns the exponential moving average seeded with the SMA of the first
// period samples. Output length is len(values)-period+1.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)

	seed := stat.Mean(values[:period], nil)
	out = append(out, seed)

	k := 2.0 / float64(period+1)
	prev := seed
	for _, v := range values[period:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// RSI returns the Wilder relative strength index in [0, 100]. Output length
// is len(values)-period; output[i] corresponds to values[i+period].
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return nil
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACDResult holds the three aligned MACD series. Line has length
// len(values)-slow+1; Signal and Histogram have length len(Line)-signal+1 and
// align to the trailing bars of Line.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD returns the moving average convergence/divergence with the
// conventional fast/slow/signal periods (12, 26, 9 in the default ruleset).
func MACD(values []float64, fast, slow, signal int) *MACDResult {
	if fast <= 0 || slow <= fast || len(values) < slow {
		return nil
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	// Align the fast series to the slow one's start
	offset := len(fastEMA) - len(slowEMA)
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}

	res := &MACDResult{Line: line}
	if len(line) >= signal && signal > 0 {
		res.Signal = EMA(line, signal)
		tail := line[len(line)-len(res.Signal):]
		res.Histogram = make([]float64, len(res.Signal))
		for i := range res.Signal {
			res.Histogram[i] = tail[i] - res.Signal[i]
		}
	}
	return res
}

// BollingerResult holds the three aligned bands, each of length
// len(values)-period+1.
type BollingerResult struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger returns bands at k sample standard deviations around the SMA
func Bollinger(values []float64, period int, k float64) *BollingerResult {
	if period <= 1 || len(values) < period {
		return nil
	}
	n := len(values) - period + 1
	res := &BollingerResult{
		Middle: make([]float64, n),
		Upper:  make([]float64, n),
		Lower:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		window := values[i : i+period]
		mean, std := stat.MeanStdDev(window, nil)
		res.Middle[i] = mean
		res.Upper[i] = mean + k*std
		res.Lower[i] = mean - k*std
	}
	return res
}

// ATR returns the Wilder average true range. Output length is
// len(candles)-period; output[i] corresponds to candles[i+period].
func ATR(candles []market.Candle, period int) []float64 {
	if period <= 0 || len(candles) <= period {
		return nil
	}

	tr := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		tr = append(tr, math.Max(highLow, math.Max(highClose, lowClose)))
	}

	out := make([]float64, 0, len(candles)-period)
	prev := stat.Mean(tr[:period], nil)
	out = append(out, prev)
	for _, t := range tr[period:] {
		prev = (prev*float64(period-1) + t) / float64(period)
		out = append(out, prev)
	}
	return out
}

// VWAP returns the cumulative volume-weighted average price, one value per
// candle. Zero-volume prefixes fall back to the typical price.
func VWAP(candles []market.Candle) []float64 {
	if len(candles) == 0 {
		return nil
	}
	out := make([]float64, len(candles))
	cumPV, cumV := 0.0, 0.0
	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * c.Volume
		cumV += c.Volume
		if cumV > 0 {
			out[i] = cumPV / cumV
		} else {
			out[i] = typical
		}
	}
	return out
}

// Closes extracts the close series from candles
func Closes(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Last returns the final value of a series
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}
