package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebrain/internal/market"
)

// Finnhub serves realtime quotes, candles and news sentiment. It is the usual
// live-primary slot.
type Finnhub struct {
	http   *resty.Client
	apiKey string
}

// NewFinnhub creates the Finnhub adapter
func NewFinnhub(apiKey string, timeout time.Duration) *Finnhub {
	return &Finnhub{
		http: resty.New().
			SetBaseURL("https://finnhub.io/api/v1").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		apiKey: apiKey,
	}
}

func (f *Finnhub) Name() string { return "finnhub" }

// finnhubSymbol converts canonical crypto pairs to Finnhub's Binance form
func finnhubSymbol(symbol string) string {
	if market.IsCrypto(symbol) {
		return "BINANCE:" + market.BaseAsset(symbol) + "USDT"
	}
	return symbol
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Timestamp     int64   `json:"t"`
}

// GetPrice returns the realtime quote
func (f *Finnhub) GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error) {
	var quote finnhubQuote
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", finnhubSymbol(symbol)).
		SetQueryParam("token", f.apiKey).
		SetResult(&quote).
		Get("/quote")
	if err != nil {
		return nil, market.ClassifyError(f.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(f.Name(), resp.StatusCode(), resp.String(), nil)
	}
	// Finnhub returns zeros with a 200 for unknown symbols
	if quote.Current == 0 && quote.Timestamp == 0 {
		return nil, market.ClassifyHTTPError(f.Name(), http.StatusNotFound, "no quote for symbol", nil)
	}

	return &market.PriceSnapshot{
		Symbol:    symbol,
		Price:     quote.Current,
		ChangePct: quote.ChangePercent,
		Provider:  f.Name(),
		Timestamp: time.Unix(quote.Timestamp, 0).UTC(),
	}, nil
}

// finnhubResolution maps canonical intervals to Finnhub resolutions. 4h is
// synthesized from 1h.
func finnhubResolution(interval string) (res string, resample bool) {
	switch interval {
	case "1m":
		return "1", false
	case "5m":
		return "5", false
	case "15m":
		return "15", false
	case "1h":
		return "60", false
	case "4h":
		return "60", true
	default:
		return "D", false
	}
}

type finnhubCandles struct {
	Status  string    `json:"s"`
	Opens   []float64 `json:"o"`
	Highs   []float64 `json:"h"`
	Lows    []float64 `json:"l"`
	Closes  []float64 `json:"c"`
	Volumes []float64 `json:"v"`
	Times   []int64   `json:"t"`
}

// GetCandles fetches an OHLCV window
func (f *Finnhub) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	res, resample := finnhubResolution(q.Interval)

	end := q.End
	if end.IsZero() {
		end = time.Now()
	}
	start := q.Start
	if start.IsZero() {
		minutes := market.IntervalMinutes(q.Interval)
		start = end.Add(-time.Duration(minutes*q.Limit*2) * time.Minute)
	}

	path := "/stock/candle"
	if market.IsCrypto(q.Symbol) {
		path = "/crypto/candle"
	}

	var result finnhubCandles
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", finnhubSymbol(q.Symbol)).
		SetQueryParam("resolution", res).
		SetQueryParam("from", strconv.FormatInt(start.Unix(), 10)).
		SetQueryParam("to", strconv.FormatInt(end.Unix(), 10)).
		SetQueryParam("token", f.apiKey).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, market.ClassifyError(f.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(f.Name(), resp.StatusCode(), resp.String(), nil)
	}
	if result.Status != "ok" {
		return nil, market.ClassifyHTTPError(f.Name(), http.StatusNotFound,
			fmt.Sprintf("candle status %q", result.Status), nil)
	}

	n := len(result.Times)
	candles := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, market.Candle{
			Timestamp: time.Unix(result.Times[i], 0).UTC(),
			Open:      result.Opens[i],
			High:      result.Highs[i],
			Low:       result.Lows[i],
			Close:     result.Closes[i],
			Volume:    result.Volumes[i],
		})
	}
	if resample {
		candles = market.Resample(candles, q.Interval)
	}
	if q.Limit > 0 && len(candles) > q.Limit {
		candles = candles[len(candles)-q.Limit:]
	}
	return candles, nil
}

type finnhubSentiment struct {
	Sentiment struct {
		BullishPercent float64 `json:"bullishPercent"`
		BearishPercent float64 `json:"bearishPercent"`
	} `json:"sentiment"`
	Buzz struct {
		ArticlesInLastWeek int `json:"articlesInLastWeek"`
	} `json:"buzz"`
}

// GetSentiment returns news sentiment in [-1, 1]
func (f *Finnhub) GetSentiment(ctx context.Context, symbol string) (*market.SentimentSnapshot, error) {
	var result finnhubSentiment
	resp, err := f.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", finnhubSymbol(symbol)).
		SetQueryParam("token", f.apiKey).
		SetResult(&result).
		Get("/news-sentiment")
	if err != nil {
		return nil, market.ClassifyError(f.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(f.Name(), resp.StatusCode(), resp.String(), nil)
	}

	score := result.Sentiment.BullishPercent - result.Sentiment.BearishPercent
	return &market.SentimentSnapshot{
		Symbol:       symbol,
		Score:        score,
		Label:        market.SentimentLabel(score),
		ArticleCount: result.Buzz.ArticlesInLastWeek,
		Provider:     f.Name(),
		Timestamp:    time.Now(),
	}, nil
}
