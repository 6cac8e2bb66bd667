package regime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	"tradebrain/internal/mcn"
)

type stubCandles struct {
	candles []market.Candle
	err     error
}

func (s *stubCandles) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	return s.candles, s.err
}

func dailySeries(closes []float64) []market.Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: base.AddDate(0, 0, i),
			Open:      c, High: c * 1.005, Low: c * 0.995, Close: c,
			Volume: 1e6,
		}
	}
	return out
}

func trendingUp(n int) []market.Candle {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 1.004
		closes[i] = price
	}
	return dailySeries(closes)
}

func trendingDown(n int) []market.Candle {
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price *= 0.996
		closes[i] = price
	}
	return dailySeries(closes)
}

func newMemory(t *testing.T) *mcn.Store {
	t.Helper()
	return mcn.New(filepath.Join(t.TempDir(), "mcn.snapshot"), 1<<20, logging.Default())
}

func assertContract(t *testing.T, det Detection) {
	t.Helper()
	assert.NotEmpty(t, det.Regime)
	assert.GreaterOrEqual(t, det.Confidence, 0.0)
	assert.LessOrEqual(t, det.Confidence, 1.0)
	assert.Contains(t, []string{"low", "normal", "high"}, det.RiskLevel)
	assert.NotNil(t, det.Features)
}

func TestDetectMomentumOnUptrend(t *testing.T) {
	d := NewDetector(&stubCandles{candles: trendingUp(210)}, newMemory(t), 10, logging.Default())
	det := d.Detect(context.Background(), "AAPL")
	assertContract(t, det)
	assert.Equal(t, Momentum, det.Regime)
	assert.Greater(t, det.Confidence, 0.5)
}

func TestDetectRiskOffOnDowntrend(t *testing.T) {
	d := NewDetector(&stubCandles{candles: trendingDown(210)}, newMemory(t), 10, logging.Default())
	det := d.Detect(context.Background(), "AAPL")
	assertContract(t, det)
	assert.Equal(t, RiskOff, det.Regime)
	assert.Equal(t, "high", det.RiskLevel)
}

func TestDetectFallsBackOnProviderError(t *testing.T) {
	d := NewDetector(&stubCandles{err: errors.New("upstream down")}, newMemory(t), 10, logging.Default())
	det := d.Detect(context.Background(), "AAPL")
	assertContract(t, det)
	assert.Equal(t, Neutral, det.Regime)
	assert.InDelta(t, 0.3, det.Confidence, 1e-9)
}

func TestDetectFallsBackOnEmptyFrame(t *testing.T) {
	d := NewDetector(&stubCandles{candles: nil}, newMemory(t), 10, logging.Default())
	det := d.Detect(context.Background(), "AAPL")
	assert.Equal(t, Neutral, det.Regime)
	assert.InDelta(t, 0.3, det.Confidence, 1e-9)
}

func TestDetectWorksWithoutMemoryStore(t *testing.T) {
	d := NewDetector(&stubCandles{candles: trendingUp(210)}, nil, 10, logging.Default())
	det := d.Detect(context.Background(), "AAPL")
	assertContract(t, det)
	assert.Zero(t, det.MemorySamples)
}

func TestDetectUsesMemoryVotesPastThreshold(t *testing.T) {
	memory := newMemory(t)
	d := NewDetector(&stubCandles{candles: trendingUp(210)}, memory, 3, logging.Default())

	// Seed enough samples so voting takes over. Seeded labels disagree with
	// the cold-start rules on purpose.
	feats := extractFeatures(trendingUp(210))
	for i := 0; i < 5; i++ {
		memory.Add([][]float64{Embed(feats)}, []map[string]string{{"regime": RiskOn}})
	}

	det := d.Detect(context.Background(), "AAPL")
	assertContract(t, det)
	assert.Equal(t, RiskOn, det.Regime)
	assert.GreaterOrEqual(t, det.MemorySamples, 5)
}

func TestDetectFeedsMemoryDuringColdStart(t *testing.T) {
	memory := newMemory(t)
	d := NewDetector(&stubCandles{candles: trendingUp(210)}, memory, 100, logging.Default())

	before := memory.Len()
	d.Detect(context.Background(), "AAPL")
	assert.Equal(t, before+1, memory.Len())
}

func TestEmbedIsStableAndFixedDim(t *testing.T) {
	feats := extractFeatures(trendingUp(210))
	a := Embed(feats)
	b := Embed(feats)
	require.Len(t, a, mcn.Dim)
	assert.Equal(t, a, b)
}
