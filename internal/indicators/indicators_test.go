package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/market"
)

func candlesFrom(closes []float64) []market.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func TestSMAPeriodOneIsIdentity(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	got := SMA(values, 1)
	require.Len(t, got, len(values))
	for i := range values {
		assert.InDelta(t, values[i], got[i], 1e-12)
	}
}

func TestSMADropsWarmup(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	got := SMA(values, 3)
	require.Len(t, got, 3)
	assert.InDelta(t, 2.0, got[0], 1e-12)
	assert.InDelta(t, 3.0, got[1], 1e-12)
	assert.InDelta(t, 4.0, got[2], 1e-12)
}

func TestSMATooShortReturnsNil(t *testing.T) {
	assert.Nil(t, SMA([]float64{1, 2}, 3))
	assert.Nil(t, SMA(nil, 3))
}

func TestEMALength(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = float64(i)
	}
	got := EMA(values, 12)
	assert.Len(t, got, len(values)-12+1)
}

func TestEMAConstantSeries(t *testing.T) {
	values := []float64{7, 7, 7, 7, 7, 7, 7, 7}
	for _, v := range EMA(values, 3) {
		assert.InDelta(t, 7.0, v, 1e-12)
	}
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
	}
	rsi := RSI(up, 14)
	require.NotEmpty(t, rsi)
	last, _ := Last(rsi)
	assert.InDelta(t, 100.0, last, 1e-9)

	down := make([]float64, 20)
	for i := range down {
		down[i] = float64(100 - i)
	}
	rsi = RSI(down, 14)
	last, _ = Last(rsi)
	assert.InDelta(t, 0.0, last, 1e-9)
}

func TestRSIOversoldOnDecline(t *testing.T) {
	// Mostly declining closes should push RSI well below 50
	values := make([]float64, 50)
	price := 200.0
	for i := range values {
		if i%5 == 4 {
			price += 0.3
		} else {
			price -= 1.2
		}
		values[i] = price
	}
	rsi := RSI(values, 14)
	require.NotEmpty(t, rsi)
	last, _ := Last(rsi)
	assert.Less(t, last, 35.0)
}

func TestMACDAlignment(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = 50 + 10*math.Sin(float64(i)/8)
	}
	res := MACD(values, 12, 26, 9)
	require.NotNil(t, res)
	assert.Len(t, res.Line, len(values)-26+1)
	assert.Len(t, res.Signal, len(res.Line)-9+1)
	assert.Len(t, res.Histogram, len(res.Signal))
}

func TestBollingerBandsBracketMiddle(t *testing.T) {
	values := []float64{10, 11, 9, 12, 8, 13, 10, 11, 9, 12}
	res := Bollinger(values, 5, 2)
	require.NotNil(t, res)
	require.Len(t, res.Middle, len(values)-5+1)
	for i := range res.Middle {
		assert.GreaterOrEqual(t, res.Upper[i], res.Middle[i])
		assert.LessOrEqual(t, res.Lower[i], res.Middle[i])
	}
}

func TestATRPositiveAndAligned(t *testing.T) {
	candles := candlesFrom([]float64{100, 102, 101, 103, 105, 104, 106, 108, 107, 109, 111, 110, 112, 114, 113, 115})
	atr := ATR(candles, 14)
	require.Len(t, atr, len(candles)-14)
	for _, v := range atr {
		assert.Greater(t, v, 0.0)
	}
}

func TestVWAPTracksTypicalPrice(t *testing.T) {
	candles := candlesFrom([]float64{100, 100, 100})
	vwap := VWAP(candles)
	require.Len(t, vwap, 3)
	typical := (100*1.01 + 100*0.99 + 100) / 3
	for _, v := range vwap {
		assert.InDelta(t, typical, v, 1e-9)
	}
}

func TestVWAPZeroVolumeFallsBack(t *testing.T) {
	candles := candlesFrom([]float64{50})
	candles[0].Volume = 0
	vwap := VWAP(candles)
	require.Len(t, vwap, 1)
	typical := (50*1.01 + 50*0.99 + 50.0) / 3
	assert.InDelta(t, typical, vwap[0], 1e-9)
}
