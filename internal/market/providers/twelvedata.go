package providers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebrain/internal/market"
)

// TwelveData serves quotes and candles across stocks, forex and crypto. It is
// the usual live-secondary slot, and also exposes realized volatility derived
// from its daily closes.
type TwelveData struct {
	http   *resty.Client
	apiKey string
}

// NewTwelveData creates the Twelve Data adapter
func NewTwelveData(apiKey string, timeout time.Duration) *TwelveData {
	return &TwelveData{
		http: resty.New().
			SetBaseURL("https://api.twelvedata.com").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		apiKey: apiKey,
	}
}

func (t *TwelveData) Name() string { return "twelvedata" }

// twelveDataSymbol converts canonical crypto pairs to slash form (BTC/USD)
func twelveDataSymbol(symbol string) string {
	if market.IsCrypto(symbol) {
		return market.BaseAsset(symbol) + "/USD"
	}
	return symbol
}

// twelveDataError is embedded in every error payload, which arrives with
// HTTP 200 and a "code" field.
type twelveDataError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e twelveDataError) failed() bool { return e.Status == "error" }

type twelveDataQuote struct {
	twelveDataError
	Close         string `json:"close"`
	PercentChange string `json:"percent_change"`
	Volume        string `json:"volume"`
	Timestamp     int64  `json:"timestamp"`
}

// GetPrice returns the realtime quote
func (t *TwelveData) GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error) {
	var quote twelveDataQuote
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", twelveDataSymbol(symbol)).
		SetQueryParam("apikey", t.apiKey).
		SetResult(&quote).
		Get("/quote")
	if err != nil {
		return nil, market.ClassifyError(t.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(t.Name(), resp.StatusCode(), resp.String(), nil)
	}
	if quote.failed() {
		return nil, market.ClassifyHTTPError(t.Name(), quote.Code, quote.Message, nil)
	}

	price, _ := strconv.ParseFloat(quote.Close, 64)
	changePct, _ := strconv.ParseFloat(quote.PercentChange, 64)
	volume, _ := strconv.ParseFloat(quote.Volume, 64)
	return &market.PriceSnapshot{
		Symbol:    symbol,
		Price:     price,
		ChangePct: changePct,
		Volume:    volume,
		Provider:  t.Name(),
		Timestamp: time.Unix(quote.Timestamp, 0).UTC(),
	}, nil
}

// twelveDataInterval maps canonical intervals to the vendor's names; all six
// are served natively.
func twelveDataInterval(interval string) string {
	switch interval {
	case "1m":
		return "1min"
	case "5m":
		return "5min"
	case "15m":
		return "15min"
	case "1h":
		return "1h"
	case "4h":
		return "4h"
	default:
		return "1day"
	}
}

type twelveDataSeries struct {
	twelveDataError
	Values []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

// GetCandles fetches an OHLCV window. The vendor returns newest-first, so the
// result is reversed into ascending order.
func (t *TwelveData) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	req := t.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", twelveDataSymbol(q.Symbol)).
		SetQueryParam("interval", twelveDataInterval(q.Interval)).
		SetQueryParam("outputsize", strconv.Itoa(limit)).
		SetQueryParam("apikey", t.apiKey)
	if !q.Start.IsZero() {
		req.SetQueryParam("start_date", q.Start.UTC().Format("2006-01-02 15:04:05"))
	}
	if !q.End.IsZero() {
		req.SetQueryParam("end_date", q.End.UTC().Format("2006-01-02 15:04:05"))
	}

	var series twelveDataSeries
	resp, err := req.SetResult(&series).Get("/time_series")
	if err != nil {
		return nil, market.ClassifyError(t.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(t.Name(), resp.StatusCode(), resp.String(), nil)
	}
	if series.failed() {
		return nil, market.ClassifyHTTPError(t.Name(), series.Code, series.Message, nil)
	}

	candles := make([]market.Candle, 0, len(series.Values))
	for i := len(series.Values) - 1; i >= 0; i-- {
		v := series.Values[i]
		ts, perr := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if perr != nil {
			ts, perr = time.Parse("2006-01-02", v.Datetime)
			if perr != nil {
				continue
			}
		}
		open, _ := strconv.ParseFloat(v.Open, 64)
		high, _ := strconv.ParseFloat(v.High, 64)
		low, _ := strconv.ParseFloat(v.Low, 64)
		clo, _ := strconv.ParseFloat(v.Close, 64)
		vol, _ := strconv.ParseFloat(v.Volume, 64)
		candles = append(candles, market.Candle{
			Timestamp: ts.UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     clo,
			Volume:    vol,
		})
	}
	return candles, nil
}

// GetVolatility returns 30-day annualized realized volatility from daily
// closes.
func (t *TwelveData) GetVolatility(ctx context.Context, symbol string) (float64, error) {
	candles, err := t.GetCandles(ctx, market.CandleQuery{Symbol: symbol, Interval: "1d", Limit: 31})
	if err != nil {
		return 0, err
	}
	if len(candles) < 2 {
		return 0, market.ClassifyHTTPError(t.Name(), http.StatusNotFound, "not enough daily closes", nil)
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		if candles[i-1].Close > 0 {
			returns = append(returns, math.Log(candles[i].Close/candles[i-1].Close))
		}
	}
	if len(returns) < 2 {
		return 0, market.ClassifyHTTPError(t.Name(), http.StatusNotFound, "not enough daily closes", nil)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(252), nil
}
