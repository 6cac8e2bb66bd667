package queue

import (
	"fmt"
	"strings"
	"time"
)

// Kind categorizes a market-data request for TTL purposes
type Kind int

const (
	// KindPrice covers live quote lookups
	KindPrice Kind = iota
	// KindCandles covers recent OHLCV windows
	KindCandles
	// KindHistorical covers closed historical ranges, which never change
	KindHistorical
	// KindMetadata covers sentiment, volatility and asset details
	KindMetadata
)

func (k Kind) String() string {
	switch k {
	case KindPrice:
		return "price"
	case KindCandles:
		return "candles"
	case KindHistorical:
		return "historical"
	default:
		return "metadata"
	}
}

// TTL returns how long a cached response of this kind stays fresh
func (k Kind) TTL() time.Duration {
	switch k {
	case KindPrice:
		return 5 * time.Second
	case KindCandles:
		return 60 * time.Second
	case KindHistorical:
		return 12 * time.Hour
	default:
		return 5 * time.Minute
	}
}

// Key builds the canonical cache/coalescing key for a request. Identical
// (provider, function, args) tuples always produce the same key.
func Key(provider, function string, args ...string) string {
	return fmt.Sprintf("%s:%s:%s", provider, function, strings.Join(args, ":"))
}
