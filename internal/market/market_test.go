package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"aapl", "AAPL"},
		{" $tsla ", "TSLA"},
		{"btc", "BTC-USD"},
		{"ETH", "ETH-USD"},
		{"btc/usd", "BTC-USD"},
		{"eth_usdt", "ETH-USDT"},
		{"BTC-USD", "BTC-USD"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSymbol(tt.in), "input %q", tt.in)
	}
}

func TestIsCryptoAndBaseAsset(t *testing.T) {
	assert.True(t, IsCrypto("BTC-USD"))
	assert.True(t, IsCrypto("ETH-USDT"))
	assert.False(t, IsCrypto("AAPL"))

	assert.Equal(t, "BTC", BaseAsset("BTC-USD"))
	assert.Equal(t, "SPY", BaseAsset("SPY"))
}

func TestIntervalMinutes(t *testing.T) {
	assert.Equal(t, 1, IntervalMinutes("1m"))
	assert.Equal(t, 240, IntervalMinutes("4h"))
	assert.Equal(t, 1440, IntervalMinutes("1d"))
	assert.Equal(t, 0, IntervalMinutes("2h"))
	assert.Equal(t, 0, IntervalMinutes(""))
}

func TestResampleHourlyToFourHour(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var candles []Candle
	for i := 0; i < 8; i++ {
		candles = append(candles, Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100 + float64(i),
			High:      110 + float64(i),
			Low:       90 + float64(i),
			Close:     105 + float64(i),
			Volume:    10,
		})
	}

	out := Resample(candles, "4h")
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, base, first.Timestamp)
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 113.0, first.High)
	assert.Equal(t, 90.0, first.Low)
	assert.Equal(t, 108.0, first.Close)
	assert.Equal(t, 40.0, first.Volume)

	second := out[1]
	assert.Equal(t, base.Add(4*time.Hour), second.Timestamp)
	assert.Equal(t, 104.0, second.Open)
	assert.Equal(t, 112.0, second.Close)
}

func TestResamplePartialTrailingBucket(t *testing.T) {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	candles := []Candle{
		{Timestamp: base, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1},
		{Timestamp: base.Add(time.Hour), Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 1},
	}

	out := Resample(candles, "4h")
	require.Len(t, out, 1)
	assert.Equal(t, 3.0, out[0].High)
	assert.Equal(t, 2.0, out[0].Volume)
}

func TestResampleUnknownInterval(t *testing.T) {
	candles := []Candle{{Timestamp: time.Now(), Close: 1}}
	assert.Nil(t, Resample(candles, "2h"))
	assert.Nil(t, Resample(nil, "4h"))
}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{429, "too many requests", KindRateLimit},
		{200, "you have exceeded your rate limit", KindRateLimit},
		{500, "internal", KindTransient},
		{503, "", KindTransient},
		{401, "bad key", KindUpstream},
		{404, "unknown symbol", KindUpstream},
		{400, "bad request", KindFatal},
		{0, "", KindTransient},
	}
	for _, tt := range tests {
		pe := ClassifyHTTPError("polygon", tt.status, tt.body, nil)
		assert.Equal(t, tt.want, pe.Kind, "status %d body %q", tt.status, tt.body)
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	assert.False(t, (&ProviderError{Kind: KindFatal}).Retryable())
	assert.True(t, (&ProviderError{Kind: KindRateLimit}).Retryable())
	assert.True(t, (&ProviderError{Kind: KindUpstream}).Retryable())

	assert.True(t, (&ProviderError{Kind: KindRateLimit}).Backoffable())
	assert.True(t, (&ProviderError{Kind: KindTransient}).Backoffable())
	assert.False(t, (&ProviderError{Kind: KindUpstream}).Backoffable())
}

func TestClassifyErrorPreservesProviderError(t *testing.T) {
	orig := &ProviderError{Provider: "finnhub", Kind: KindRateLimit, Message: "slow down"}
	got := ClassifyError("other", orig)
	assert.Same(t, orig, got)

	wrapped := ClassifyError("yahoo", errors.New("connection reset"))
	assert.Equal(t, KindTransient, wrapped.Kind)

	limited := ClassifyError("yahoo", errors.New("Rate Limit exceeded"))
	assert.Equal(t, KindRateLimit, limited.Kind)
}

func TestClassifyErrorTruncatesBody(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	pe := ClassifyHTTPError("polygon", 500, string(long), nil)
	assert.Len(t, pe.Message, 200)
}

func TestSentimentLabel(t *testing.T) {
	assert.Equal(t, "bullish", SentimentLabel(0.5))
	assert.Equal(t, "bearish", SentimentLabel(-0.5))
	assert.Equal(t, "neutral", SentimentLabel(0.1))
	assert.Equal(t, "neutral", SentimentLabel(0))
}
