package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/logging"
	"tradebrain/internal/market"
)

type stubCandles struct {
	byInterval map[string][]market.Candle
	err        error
}

func (s *stubCandles) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byInterval[q.Interval], nil
}

func series(n int, step float64) []market.Candle {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	price := 100.0
	for i := range out {
		price *= 1 + step
		out[i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price * 1.001, Low: price * 0.999, Close: price,
			Volume: 1000,
		}
	}
	return out
}

func allIntervals(candles []market.Candle) map[string][]market.Candle {
	out := map[string][]market.Candle{}
	for _, tf := range market.Intervals {
		out[tf] = candles
	}
	return out
}

func TestAnalyzeFullAgreementScoresOne(t *testing.T) {
	a := NewTimeframeAnalyzer(&stubCandles{byInterval: allIntervals(series(60, 0.004))}, logging.Default())
	res := a.Analyze(context.Background(), "AAPL")

	require.Len(t, res.Trends, 6)
	assert.Equal(t, TrendUp, res.Direction)
	assert.Zero(t, res.FlatCount)
	assert.InDelta(t, 1.0, res.AlignmentScore, 1e-9)
}

func TestAnalyzeDowntrendAgreement(t *testing.T) {
	a := NewTimeframeAnalyzer(&stubCandles{byInterval: allIntervals(series(60, -0.004))}, logging.Default())
	res := a.Analyze(context.Background(), "AAPL")
	assert.Equal(t, TrendDown, res.Direction)
	assert.InDelta(t, 1.0, res.AlignmentScore, 1e-9)
}

func TestAnalyzeFlatPenalty(t *testing.T) {
	intervals := allIntervals(series(60, 0.004))
	intervals["1m"] = series(60, 0) // flat series on one timeframe
	a := NewTimeframeAnalyzer(&stubCandles{byInterval: intervals}, logging.Default())

	res := a.Analyze(context.Background(), "AAPL")
	assert.Equal(t, 1, res.FlatCount)
	assert.InDelta(t, 0.9, res.AlignmentScore, 1e-9)
}

func TestAnalyzeFetchFailureCountsFlat(t *testing.T) {
	a := NewTimeframeAnalyzer(&stubCandles{err: errors.New("down")}, logging.Default())
	res := a.Analyze(context.Background(), "AAPL")

	assert.Equal(t, 6, res.FlatCount)
	assert.Equal(t, TrendFlat, res.Direction)
	assert.Zero(t, res.AlignmentScore)
}

func TestAnalyzeMixedDirectionsScoreLower(t *testing.T) {
	intervals := map[string][]market.Candle{
		"1m": series(60, 0.004), "5m": series(60, 0.004),
		"15m": series(60, -0.004), "1h": series(60, -0.004),
		"4h": series(60, 0.004), "1d": series(60, -0.004),
	}
	a := NewTimeframeAnalyzer(&stubCandles{byInterval: intervals}, logging.Default())
	res := a.Analyze(context.Background(), "AAPL")
	assert.Less(t, res.AlignmentScore, 1.0)
}

func volumeSeries(volumes []float64) []market.Candle {
	out := make([]market.Candle, len(volumes))
	for i, v := range volumes {
		out[i] = market.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: v}
	}
	return out
}

func constVolumes(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestVolumeIncreasingConfirms(t *testing.T) {
	vols := constVolumes(50, 1000)
	for i := 45; i < 50; i++ {
		vols[i] = 2500
	}
	p := AnalyzeVolume(volumeSeries(vols))
	assert.Equal(t, VolumeIncreasing, p.Trend)
	assert.Equal(t, VolumeConfirm, p.Recommendation)
	assert.Greater(t, p.Strength, 0.5)
}

func TestVolumeDecreasingCautions(t *testing.T) {
	vols := constVolumes(50, 1000)
	for i := 45; i < 50; i++ {
		vols[i] = 600
	}
	p := AnalyzeVolume(volumeSeries(vols))
	assert.Equal(t, VolumeDecreasing, p.Trend)
	assert.Equal(t, VolumeCaution, p.Recommendation)
}

func TestVolumeDriedUpBlocks(t *testing.T) {
	vols := constVolumes(50, 1000)
	for i := 45; i < 50; i++ {
		vols[i] = 100
	}
	p := AnalyzeVolume(volumeSeries(vols))
	assert.Equal(t, VolumeLow, p.Trend)
	assert.Equal(t, VolumeBlock, p.Recommendation)
}

func TestVolumeSteadyIsNormal(t *testing.T) {
	p := AnalyzeVolume(volumeSeries(constVolumes(50, 1000)))
	assert.Equal(t, VolumeNormal, p.Trend)
	assert.Equal(t, VolumeConfirm, p.Recommendation)
	assert.InDelta(t, 1.0, p.RecentRatio, 1e-9)
}

func TestVolumeShortFrameCautions(t *testing.T) {
	p := AnalyzeVolume(volumeSeries(constVolumes(5, 1000)))
	assert.Equal(t, VolumeLow, p.Trend)
	assert.Equal(t, VolumeCaution, p.Recommendation)
}
