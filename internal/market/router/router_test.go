package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	marketcache "tradebrain/internal/market/cache"
	"tradebrain/internal/market/queue"
)

type stubProvider struct {
	name    string
	price   float64
	err     error
	calls   atomic.Int32
	candles []market.Candle
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &market.PriceSnapshot{Symbol: symbol, Price: s.price, Provider: s.name, Timestamp: time.Now()}, nil
}

func (s *stubProvider) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

type sentimentStub struct {
	stubProvider
	score float64
}

func (s *sentimentStub) GetSentiment(ctx context.Context, symbol string) (*market.SentimentSnapshot, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &market.SentimentSnapshot{Symbol: symbol, Score: s.score, Label: market.SentimentLabel(s.score), Provider: s.name}, nil
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	tiered, err := marketcache.NewTiered(16, t.TempDir(), nil, logging.Default())
	require.NoError(t, err)
	return New(queue.NewQueue(tiered, 600, logging.Default()), logging.Default())
}

func rateLimited(provider string) error {
	return &market.ProviderError{Provider: provider, StatusCode: 429, Kind: market.KindRateLimit, Message: "too many requests"}
}

func TestFallThroughOnRateLimit(t *testing.T) {
	r := newTestRouter(t)
	primary := &stubProvider{name: "primary", err: rateLimited("primary")}
	secondary := &stubProvider{name: "secondary", price: 101.5}
	r.Bind(SlotLivePrimary, primary)
	r.Bind(SlotLiveSecondary, secondary)

	snap, err := r.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 101.5, snap.Price)
	assert.Equal(t, "secondary", snap.Provider)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())
}

func TestFatalErrorDoesNotFallThrough(t *testing.T) {
	r := newTestRouter(t)
	primary := &stubProvider{name: "primary", err: &market.ProviderError{
		Provider: "primary", StatusCode: 400, Kind: market.KindFatal, Message: "bad interval",
	}}
	secondary := &stubProvider{name: "secondary", price: 1}
	r.Bind(SlotLivePrimary, primary)
	r.Bind(SlotLiveSecondary, secondary)

	_, err := r.GetPrice(context.Background(), "AAPL")
	require.Error(t, err)

	var pe *market.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, market.KindFatal, pe.Kind)
	assert.Equal(t, int32(0), secondary.calls.Load(), "fatal errors must not try the next slot")
}

func TestAllProvidersFailed(t *testing.T) {
	r := newTestRouter(t)
	r.Bind(SlotLivePrimary, &stubProvider{name: "primary", err: rateLimited("primary")})
	r.Bind(SlotLastResort, &stubProvider{name: "fallback", err: rateLimited("fallback")})

	_, err := r.GetPrice(context.Background(), "AAPL")
	assert.ErrorIs(t, err, market.ErrAllProvidersFailed)
}

func TestNoSlotsBound(t *testing.T) {
	r := newTestRouter(t)
	_, err := r.GetPrice(context.Background(), "AAPL")
	assert.ErrorIs(t, err, market.ErrCapabilityUnsupported)
}

func TestHistoricalIntentSkipsLiveSlots(t *testing.T) {
	r := newTestRouter(t)
	live := &stubProvider{name: "live", candles: barSeries(5)}
	hist := &stubProvider{name: "hist", candles: barSeries(5)}
	r.Bind(SlotLivePrimary, live)
	r.Bind(SlotHistoricalPrimary, hist)

	candles, err := r.GetHistoricalCandles(context.Background(), market.CandleQuery{Symbol: "AAPL", Interval: "1d", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, candles, 5)
	assert.Equal(t, int32(0), live.calls.Load(), "historical requests must never hit live-only slots")
	assert.Equal(t, int32(1), hist.calls.Load())
}

func TestLiveIntentSkipsHistoricalPrimary(t *testing.T) {
	r := newTestRouter(t)
	hist := &stubProvider{name: "hist", price: 1}
	fallback := &stubProvider{name: "fallback", price: 2}
	r.Bind(SlotHistoricalPrimary, hist)
	r.Bind(SlotLastResort, fallback)

	snap, err := r.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "fallback", snap.Provider)
	assert.Equal(t, int32(0), hist.calls.Load())
}

func TestLastResortServesBothIntents(t *testing.T) {
	r := newTestRouter(t)
	fallback := &stubProvider{name: "fallback", price: 3, candles: barSeries(3)}
	r.Bind(SlotLastResort, fallback)

	_, err := r.GetPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = r.GetHistoricalCandles(context.Background(), market.CandleQuery{Symbol: "MSFT", Interval: "1d", Limit: 3})
	require.NoError(t, err)
}

func TestBacktestCandlesDegradeToEmpty(t *testing.T) {
	r := newTestRouter(t)
	r.Bind(SlotHistoricalPrimary, &stubProvider{name: "hist", err: rateLimited("hist")})

	candles := r.GetCandlesForBacktest(context.Background(), market.CandleQuery{Symbol: "AAPL", Interval: "1d", Limit: 10})
	assert.NotNil(t, candles)
	assert.Empty(t, candles)
}

func TestSentimentCapabilityDispatch(t *testing.T) {
	r := newTestRouter(t)
	// Plain provider lacks the capability and must be skipped
	r.Bind(SlotLivePrimary, &stubProvider{name: "plain", price: 1})
	capable := &sentimentStub{stubProvider: stubProvider{name: "news"}, score: 0.4}
	r.Bind(SlotLiveSecondary, capable)

	snap, err := r.GetSentiment(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "bullish", snap.Label)
	assert.Equal(t, "news", snap.Provider)
}

func TestSentimentUnsupportedWhenNoCapableProvider(t *testing.T) {
	r := newTestRouter(t)
	r.Bind(SlotLivePrimary, &stubProvider{name: "plain", price: 1})

	_, err := r.GetSentiment(context.Background(), "AAPL")
	assert.ErrorIs(t, err, market.ErrCapabilityUnsupported)
}

func barSeries(n int) []market.Candle {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Timestamp: base.AddDate(0, 0, i),
			Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		}
	}
	return out
}
