package market

import (
	"strings"
)

// Common crypto shorthand that vendors expect as a -USD pair
var cryptoShorthand = map[string]string{
	"BTC":  "BTC-USD",
	"ETH":  "ETH-USD",
	"SOL":  "SOL-USD",
	"XRP":  "XRP-USD",
	"DOGE": "DOGE-USD",
	"ADA":  "ADA-USD",
}

// NormalizeSymbol converts user input into the platform's canonical form:
// uppercase, no cash prefix, crypto shorthand expanded to a -USD pair.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")

	if mapped, ok := cryptoShorthand[s]; ok {
		return mapped
	}
	return s
}

// IsCrypto reports whether a canonical symbol is a crypto pair
func IsCrypto(symbol string) bool {
	return strings.HasSuffix(symbol, "-USD") || strings.HasSuffix(symbol, "-USDT")
}

// BaseAsset returns the left side of a crypto pair, or the symbol itself
func BaseAsset(symbol string) string {
	if i := strings.Index(symbol, "-"); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// Canonical intervals supported by the platform, ascending
var Intervals = []string{"1m", "5m", "15m", "1h", "4h", "1d"}

// IntervalMinutes maps a canonical interval to its length in minutes
func IntervalMinutes(interval string) int {
	switch interval {
	case "1m":
		return 1
	case "5m":
		return 5
	case "15m":
		return 15
	case "1h":
		return 60
	case "4h":
		return 240
	case "1d":
		return 1440
	default:
		return 0
	}
}
