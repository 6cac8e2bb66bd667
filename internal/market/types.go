package market

import (
	"context"
	"time"
)

// Candle is one OHLCV bar
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// PriceSnapshot is a point-in-time quote
type PriceSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	Volume    float64   `json:"volume"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
}

// SentimentSnapshot is a coarse sentiment reading for a symbol
type SentimentSnapshot struct {
	Symbol       string    `json:"symbol"`
	Score        float64   `json:"score"` // [-1, 1]
	Label        string    `json:"label"` // bullish, bearish, neutral
	ArticleCount int       `json:"article_count,omitempty"`
	Provider     string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
}

// AssetDetails describes a tradable instrument
type AssetDetails struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	AssetClass  string `json:"asset_class"`
	Sector      string `json:"sector"`
	Exchange    string `json:"exchange"`
	Description string `json:"description,omitempty"`
	Provider    string `json:"provider"`
}

// CandleQuery bounds a candle request
type CandleQuery struct {
	Symbol   string
	Interval string
	Limit    int
	Start    time.Time
	End      time.Time
}

// Provider is the base capability every vendor adapter implements
type Provider interface {
	Name() string
	GetPrice(ctx context.Context, symbol string) (*PriceSnapshot, error)
	GetCandles(ctx context.Context, q CandleQuery) ([]Candle, error)
}

// SentimentProvider is the optional sentiment capability
type SentimentProvider interface {
	GetSentiment(ctx context.Context, symbol string) (*SentimentSnapshot, error)
}

// VolatilityProvider is the optional realized-volatility capability
type VolatilityProvider interface {
	GetVolatility(ctx context.Context, symbol string) (float64, error)
}

// AssetDetailsProvider is the optional instrument-metadata capability
type AssetDetailsProvider interface {
	GetAssetDetails(ctx context.Context, symbol string) (*AssetDetails, error)
}

// SentimentLabel maps a score in [-1, 1] to a coarse label
func SentimentLabel(score float64) string {
	switch {
	case score > 0.15:
		return "bullish"
	case score < -0.15:
		return "bearish"
	default:
		return "neutral"
	}
}
