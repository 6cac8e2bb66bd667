package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebrain/internal/market"
)

// Yahoo is the keyless last-resort slot. It serves quotes and candles from
// the public chart endpoint with no API key, which makes it slower and less
// reliable than the keyed vendors but always available.
type Yahoo struct {
	http *resty.Client
}

// NewYahoo creates the Yahoo Finance adapter
func NewYahoo(timeout time.Duration) *Yahoo {
	return &Yahoo{
		http: resty.New().
			SetBaseURL("https://query1.finance.yahoo.com").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "Mozilla/5.0 (compatible; tradebrain/1.0)"),
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

// yahooSymbol keeps canonical form; Yahoo already uses BTC-USD style pairs
func yahooSymbol(symbol string) string { return symbol }

// yahooRange maps an interval to the vendor's interval/range pair
func yahooRange(interval string, limit int) (yi, yr string) {
	switch interval {
	case "1m":
		return "1m", "1d"
	case "5m":
		return "5m", "5d"
	case "15m":
		return "15m", "5d"
	case "1h":
		return "1h", "1mo"
	case "4h":
		return "1h", "3mo"
	default:
		if limit > 250 {
			return "1d", "2y"
		}
		return "1d", "1y"
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamps []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (y *Yahoo) chart(ctx context.Context, symbol, interval, rng string) (*yahooChart, error) {
	var result yahooChart
	resp, err := y.http.R().
		SetContext(ctx).
		SetQueryParam("interval", interval).
		SetQueryParam("range", rng).
		SetResult(&result).
		Get("/v8/finance/chart/" + yahooSymbol(symbol))
	if err != nil {
		return nil, market.ClassifyError(y.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(y.Name(), resp.StatusCode(), resp.String(), nil)
	}
	if result.Chart.Error != nil {
		return nil, market.ClassifyHTTPError(y.Name(), http.StatusNotFound, result.Chart.Error.Description, nil)
	}
	if len(result.Chart.Result) == 0 {
		return nil, market.ClassifyHTTPError(y.Name(), http.StatusNotFound, "empty chart result", nil)
	}
	return &result, nil
}

// GetPrice returns the latest quote from chart metadata
func (y *Yahoo) GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error) {
	chart, err := y.chart(ctx, symbol, "1d", "1d")
	if err != nil {
		return nil, err
	}

	meta := chart.Chart.Result[0].Meta
	changePct := 0.0
	if meta.PreviousClose != 0 {
		changePct = (meta.RegularMarketPrice - meta.PreviousClose) / meta.PreviousClose * 100
	}
	return &market.PriceSnapshot{
		Symbol:    symbol,
		Price:     meta.RegularMarketPrice,
		ChangePct: changePct,
		Provider:  y.Name(),
		Timestamp: time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}

// GetCandles fetches an OHLCV window. Yahoo leaves holes as nulls, which
// decode to zero opens; those bars are dropped.
func (y *Yahoo) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	yi, yr := yahooRange(q.Interval, q.Limit)
	chart, err := y.chart(ctx, q.Symbol, yi, yr)
	if err != nil {
		return nil, err
	}

	r := chart.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, market.ClassifyHTTPError(y.Name(), http.StatusNotFound, "no quote series", nil)
	}
	quote := r.Indicators.Quote[0]

	candles := make([]market.Candle, 0, len(r.Timestamps))
	for i, ts := range r.Timestamps {
		if i >= len(quote.Open) || quote.Open[i] == 0 {
			continue
		}
		candles = append(candles, market.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      quote.Open[i],
			High:      quote.High[i],
			Low:       quote.Low[i],
			Close:     quote.Close[i],
			Volume:    quote.Volume[i],
		})
	}
	if q.Interval == "4h" {
		candles = market.Resample(candles, "4h")
	}
	if q.Limit > 0 && len(candles) > q.Limit {
		candles = candles[len(candles)-q.Limit:]
	}
	return candles, nil
}
