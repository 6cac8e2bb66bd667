package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	"tradebrain/internal/market/queue"
)

// Slot names the position a provider holds in the fallback hierarchy
type Slot string

const (
	SlotHistoricalPrimary Slot = "historical_primary"
	SlotLivePrimary       Slot = "live_primary"
	SlotLiveSecondary     Slot = "live_secondary"
	SlotLastResort        Slot = "last_resort"
)

// Intent describes what the caller needs the data for, which constrains
// which slots are eligible.
type Intent int

const (
	// IntentLive prefers realtime-capable slots
	IntentLive Intent = iota
	// IntentHistorical must never be served by live-only vendors
	IntentHistorical
)

// slotEntry is one provider bound to a slot with its circuit breaker
type slotEntry struct {
	slot     Slot
	provider market.Provider
	breaker  *gobreaker.CircuitBreaker
}

// Router dispatches market-data requests across the provider hierarchy.
// Every slot call goes through the request queue, so caching, coalescing,
// rate windows and backoff apply uniformly.
type Router struct {
	slots  []slotEntry
	q      *queue.Queue
	logger *logging.Logger
}

// New creates a router. Slots are tried in the order given; nil providers
// (unconfigured slots) are skipped.
func New(q *queue.Queue, logger *logging.Logger) *Router {
	return &Router{q: q, logger: logger.WithComponent("market_router")}
}

// Bind attaches a provider to a slot. Order of Bind calls defines fallback
// order within an intent.
func (r *Router) Bind(slot Slot, p market.Provider) {
	if p == nil {
		return
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("%s:%s", slot, p.Name()),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	r.slots = append(r.slots, slotEntry{slot: slot, provider: p, breaker: cb})
}

// eligible returns the slots allowed for an intent, in fallback order.
// Historical requests skip live-only slots; the last-resort slot serves both.
func (r *Router) eligible(intent Intent) []slotEntry {
	out := make([]slotEntry, 0, len(r.slots))
	for _, s := range r.slots {
		switch intent {
		case IntentHistorical:
			if s.slot == SlotLivePrimary || s.slot == SlotLiveSecondary {
				continue
			}
		case IntentLive:
			if s.slot == SlotHistoricalPrimary {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// dispatch walks the eligible slots, trying each until one succeeds. Fatal
// errors propagate immediately; everything else falls through.
func dispatch[T any](ctx context.Context, r *Router, intent Intent, call func(context.Context, slotEntry) (T, error)) (T, error) {
	var zero T
	slots := r.eligible(intent)
	if len(slots) == 0 {
		return zero, market.ErrCapabilityUnsupported
	}

	var lastErr error
	for _, s := range slots {
		result, err := s.breaker.Execute(func() (interface{}, error) {
			return call(ctx, s)
		})
		if err == nil {
			return result.(T), nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var pe *market.ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return zero, pe
		}
		r.logger.Warn("Provider slot failed, falling through",
			"slot", string(s.slot), "provider", s.provider.Name(), "error", err.Error())
		lastErr = err
	}

	if lastErr != nil {
		return zero, fmt.Errorf("%w: %v", market.ErrAllProvidersFailed, lastErr)
	}
	return zero, market.ErrAllProvidersFailed
}

// GetPrice returns a live quote through the hierarchy
func (r *Router) GetPrice(ctx context.Context, symbol string) (*market.PriceSnapshot, error) {
	symbol = market.NormalizeSymbol(symbol)
	return dispatch(ctx, r, IntentLive, func(ctx context.Context, s slotEntry) (*market.PriceSnapshot, error) {
		key := queue.Key(s.provider.Name(), "get_price", symbol)
		return queue.Do(ctx, r.q, s.provider.Name(), key, symbol, queue.KindPrice, func(ctx context.Context) (*market.PriceSnapshot, error) {
			return s.provider.GetPrice(ctx, symbol)
		})
	})
}

// GetCandles returns recent candles for live consumers
func (r *Router) GetCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	return r.getCandles(ctx, IntentLive, queue.KindCandles, q)
}

// GetHistoricalCandles returns candles for a closed range, never from a
// live-only slot.
func (r *Router) GetHistoricalCandles(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	return r.getCandles(ctx, IntentHistorical, queue.KindHistorical, q)
}

// GetCandlesForBacktest is the degraded path backtests use: provider failures
// yield an empty series instead of an error so a batch run never aborts on a
// single symbol.
func (r *Router) GetCandlesForBacktest(ctx context.Context, q market.CandleQuery) []market.Candle {
	candles, err := r.getCandles(ctx, IntentHistorical, queue.KindHistorical, q)
	if err != nil {
		r.logger.Warn("Backtest candle fetch failed, returning empty series",
			"symbol", q.Symbol, "interval", q.Interval, "error", err.Error())
		return []market.Candle{}
	}
	return candles
}

func (r *Router) getCandles(ctx context.Context, intent Intent, kind queue.Kind, q market.CandleQuery) ([]market.Candle, error) {
	q.Symbol = market.NormalizeSymbol(q.Symbol)
	return dispatch(ctx, r, intent, func(ctx context.Context, s slotEntry) ([]market.Candle, error) {
		key := queue.Key(s.provider.Name(), "get_candles",
			q.Symbol, q.Interval, fmt.Sprintf("%d", q.Limit),
			fmt.Sprintf("%d", q.Start.Unix()), fmt.Sprintf("%d", q.End.Unix()))
		return queue.Do(ctx, r.q, s.provider.Name(), key, q.Symbol, kind, func(ctx context.Context) ([]market.Candle, error) {
			return s.provider.GetCandles(ctx, q)
		})
	})
}

// GetSentiment returns sentiment from the first slot whose provider supports
// the capability.
func (r *Router) GetSentiment(ctx context.Context, symbol string) (*market.SentimentSnapshot, error) {
	symbol = market.NormalizeSymbol(symbol)
	return dispatchCapability(ctx, r, func(p market.Provider) (func(context.Context) (*market.SentimentSnapshot, error), bool) {
		sp, ok := p.(market.SentimentProvider)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context) (*market.SentimentSnapshot, error) {
			return sp.GetSentiment(ctx, symbol)
		}, true
	}, "get_sentiment", symbol)
}

// GetVolatility returns annualized realized volatility from a capable slot
func (r *Router) GetVolatility(ctx context.Context, symbol string) (float64, error) {
	symbol = market.NormalizeSymbol(symbol)
	return dispatchCapability(ctx, r, func(p market.Provider) (func(context.Context) (float64, error), bool) {
		vp, ok := p.(market.VolatilityProvider)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context) (float64, error) {
			return vp.GetVolatility(ctx, symbol)
		}, true
	}, "get_volatility", symbol)
}

// GetAssetDetails returns instrument metadata from a capable slot
func (r *Router) GetAssetDetails(ctx context.Context, symbol string) (*market.AssetDetails, error) {
	symbol = market.NormalizeSymbol(symbol)
	return dispatchCapability(ctx, r, func(p market.Provider) (func(context.Context) (*market.AssetDetails, error), bool) {
		ap, ok := p.(market.AssetDetailsProvider)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context) (*market.AssetDetails, error) {
			return ap.GetAssetDetails(ctx, symbol)
		}, true
	}, "get_asset_details", symbol)
}

// dispatchCapability walks every slot, skipping providers that lack the
// capability, with the same fall-through semantics as dispatch.
func dispatchCapability[T any](ctx context.Context, r *Router, pick func(market.Provider) (func(context.Context) (T, error), bool), function, symbol string) (T, error) {
	var zero T
	var lastErr error
	supported := false

	for _, s := range r.slots {
		fetch, ok := pick(s.provider)
		if !ok {
			continue
		}
		supported = true

		key := queue.Key(s.provider.Name(), function, symbol)
		provider := s.provider.Name()
		entry := s
		result, err := entry.breaker.Execute(func() (interface{}, error) {
			return queue.Do(ctx, r.q, provider, key, symbol, queue.KindMetadata, fetch)
		})
		if err == nil {
			return result.(T), nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var pe *market.ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return zero, pe
		}
		lastErr = err
	}

	if !supported {
		return zero, market.ErrCapabilityUnsupported
	}
	if lastErr != nil {
		return zero, fmt.Errorf("%w: %v", market.ErrAllProvidersFailed, lastErr)
	}
	return zero, market.ErrAllProvidersFailed
}

// Status exposes per-provider queue health for the admin surface
func (r *Router) Status() []queue.ProviderStatus {
	return r.q.Status()
}
