package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebrain/internal/market"
)

// Polygon serves deep historical OHLCV and asset reference data. It is the
// usual historical-primary slot.
type Polygon struct {
	http   *resty.Client
	apiKey string
}

// NewPolygon creates the Polygon.io adapter
func NewPolygon(apiKey string, timeout time.Duration) *Polygon {
	return &Polygon{
		http: resty.New().
			SetBaseURL("https://api.polygon.io").
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		apiKey: apiKey,
	}
}

func (p *Polygon) Name() string { return "polygon" }

// polygonSymbol converts canonical symbols to Polygon's ticker format
// (crypto pairs become X:BTCUSD).
func polygonSymbol(symbol string) string {
	if market.IsCrypto(symbol) {
		return "X:" + strings.ReplaceAll(symbol, "-", "")
	}
	return symbol
}

type polygonAggsResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Open      float64 `json:"o"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		Close     float64 `json:"c"`
		Volume    float64 `json:"v"`
		Timestamp int64   `json:"t"`
	} `json:"results"`
}

type polygonPrevCloseResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Open   float64 `json:"o"`
		Close  float64 `json:"c"`
		Volume float64 `json:"v"`
	} `json:"results"`
}

// GetPrice returns the previous-close snapshot. Polygon has no free realtime
// quote, so this slot is only useful for historical work and fallback.
func (p *Polygon) GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error) {
	var result polygonPrevCloseResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", p.apiKey).
		SetResult(&result).
		Get(fmt.Sprintf("/v2/aggs/ticker/%s/prev", polygonSymbol(symbol)))
	if err != nil {
		return nil, market.ClassifyError(p.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(p.Name(), resp.StatusCode(), resp.String(), nil)
	}
	if len(result.Results) == 0 {
		return nil, market.ClassifyHTTPError(p.Name(), http.StatusNotFound, "no data for symbol", nil)
	}

	r := result.Results[0]
	changePct := 0.0
	if r.Open != 0 {
		changePct = (r.Close - r.Open) / r.Open * 100
	}
	return &market.PriceSnapshot{
		Symbol:    symbol,
		Price:     r.Close,
		ChangePct: changePct,
		Volume:    r.Volume,
		Provider:  p.Name(),
		Timestamp: time.Now(),
	}, nil
}

// polygonRange maps a canonical interval onto Polygon's multiplier/timespan
// pair. 4h has no native timespan and is synthesized from 1h.
func polygonRange(interval string) (mult int, timespan string, resample bool) {
	switch interval {
	case "1m":
		return 1, "minute", false
	case "5m":
		return 5, "minute", false
	case "15m":
		return 15, "minute", false
	case "1h":
		return 1, "hour", false
	case "4h":
		return 1, "hour", true
	default:
		return 1, "day", false
	}
}

// GetCandles fetches an OHLCV window
func (p *Polygon) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	mult, timespan, resample := polygonRange(q.Interval)

	end := q.End
	if end.IsZero() {
		end = time.Now()
	}
	start := q.Start
	if start.IsZero() {
		minutes := market.IntervalMinutes(q.Interval)
		start = end.Add(-time.Duration(minutes*q.Limit*2) * time.Minute)
	}

	var result polygonAggsResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", p.apiKey).
		SetQueryParam("limit", "50000").
		SetQueryParam("sort", "asc").
		SetResult(&result).
		Get(fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%d/%d",
			polygonSymbol(q.Symbol), mult, timespan, start.UnixMilli(), end.UnixMilli()))
	if err != nil {
		return nil, market.ClassifyError(p.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(p.Name(), resp.StatusCode(), resp.String(), nil)
	}

	candles := make([]market.Candle, 0, len(result.Results))
	for _, r := range result.Results {
		candles = append(candles, market.Candle{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
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

type polygonTickerDetails struct {
	Results struct {
		Name            string `json:"name"`
		Market          string `json:"market"`
		PrimaryExchange string `json:"primary_exchange"`
		SICDescription  string `json:"sic_description"`
		Description     string `json:"description"`
	} `json:"results"`
}

// GetAssetDetails returns reference data for a ticker
func (p *Polygon) GetAssetDetails(ctx context.Context, symbol string) (*market.AssetDetails, error) {
	var result polygonTickerDetails
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("apiKey", p.apiKey).
		SetResult(&result).
		Get("/v3/reference/tickers/" + polygonSymbol(symbol))
	if err != nil {
		return nil, market.ClassifyError(p.Name(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, market.ClassifyHTTPError(p.Name(), resp.StatusCode(), resp.String(), nil)
	}

	return &market.AssetDetails{
		Symbol:      symbol,
		Name:        result.Results.Name,
		AssetClass:  result.Results.Market,
		Exchange:    result.Results.PrimaryExchange,
		Sector:      result.Results.SICDescription,
		Description: result.Results.Description,
		Provider:    p.Name(),
	}, nil
}
