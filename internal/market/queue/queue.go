package queue

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	marketcache "tradebrain/internal/market/cache"
)

const maxBackoff = 60 * time.Second

// providerState tracks failure-driven backoff for one provider
type providerState struct {
	consecutiveFailures int
	backoffUntil        time.Time
}

// Queue sits between the router and the vendor adapters. Every upstream call
// goes through it: cache first, then coalescing of identical in-flight
// requests, then the provider's rate window and backoff, then the fetch.
type Queue struct {
	cache  *marketcache.Tiered
	flight singleflight.Group
	logger *logging.Logger

	mu        sync.Mutex
	rates     map[string]*RateTracker
	states    map[string]*providerState
	rateLimit int
}

// NewQueue creates the request queue. requestsPerMin applies per provider.
func NewQueue(cache *marketcache.Tiered, requestsPerMin int, logger *logging.Logger) *Queue {
	return &Queue{
		cache:     cache,
		logger:    logger.WithComponent("market_queue"),
		rates:     make(map[string]*RateTracker),
		states:    make(map[string]*providerState),
		rateLimit: requestsPerMin,
	}
}

func (q *Queue) tracker(provider string) *RateTracker {
	q.mu.Lock()
	defer q.mu.Unlock()
	rt, ok := q.rates[provider]
	if !ok {
		rt = NewRateTracker(q.rateLimit)
		q.rates[provider] = rt
	}
	return rt
}

// backoffRemaining returns how long the provider is still in backoff
func (q *Queue) backoffRemaining(provider string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[provider]
	if !ok {
		return 0
	}
	return time.Until(st.backoffUntil)
}

func (q *Queue) recordFailure(provider string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[provider]
	if !ok {
		st = &providerState{}
		q.states[provider] = st
	}
	st.consecutiveFailures++
	delay := time.Duration(math.Min(math.Pow(2, float64(st.consecutiveFailures)), maxBackoff.Seconds())) * time.Second
	st.backoffUntil = time.Now().Add(delay)
}

func (q *Queue) recordSuccess(provider string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.states[provider]; ok {
		st.consecutiveFailures = 0
		st.backoffUntil = time.Time{}
	}
}

// ProviderStatus is a point-in-time view of one provider's health
type ProviderStatus struct {
	Provider            string    `json:"provider"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BackoffUntil        time.Time `json:"backoff_until,omitempty"`
	RequestsInWindow    int       `json:"requests_in_window"`
}

// Status reports health for every provider the queue has seen
func (q *Queue) Status() []ProviderStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ProviderStatus, 0, len(q.rates))
	for name, rt := range q.rates {
		st := q.states[name]
		ps := ProviderStatus{Provider: name, RequestsInWindow: rt.InWindow()}
		if st != nil {
			ps.ConsecutiveFailures = st.consecutiveFailures
			if st.backoffUntil.After(time.Now()) {
				ps.BackoffUntil = st.backoffUntil
			}
		}
		out = append(out, ps)
	}
	return out
}

// Do executes a market-data request through the queue. Identical keys share a
// single upstream call; fresh cache entries short-circuit entirely. On an
// upstream failure a stale cache entry, if any exists, is served instead of
// the error.
func Do[T any](ctx context.Context, q *Queue, provider, key, symbol string, kind Kind, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	if payload, ok := q.cache.Get(ctx, key, symbol, kind.TTL()); ok {
		cacheHitsTotal.WithLabelValues(kind.String()).Inc()
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			return v, nil
		}
	}

	// DoChan rather than Do so a waiter whose context ends can detach;
	// the leader's fetch keeps running for the remaining waiters.
	ch := q.flight.DoChan(key, func() (interface{}, error) {
		return q.fetchUpstream(ctx, provider, key, symbol, kind, func(ctx context.Context) (any, error) {
			return fetch(ctx)
		})
	})

	var payload interface{}
	var err error
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		payload, err = res.Val, res.Err
		if res.Shared {
			coalescedTotal.WithLabelValues(kind.String()).Inc()
		}
	}
	if err != nil {
		// Stale fallback: an expired entry beats no data at all
		if stale, storedAt, ok := q.cache.GetStale(ctx, key, symbol); ok {
			q.logger.Warn("Serving stale cache after provider failure",
				"provider", provider, "key", key, "age", time.Since(storedAt).String())
			var v T
			if uerr := json.Unmarshal(stale, &v); uerr == nil {
				return v, nil
			}
		}
		return zero, err
	}

	var v T
	if uerr := json.Unmarshal(payload.([]byte), &v); uerr != nil {
		return zero, uerr
	}
	return v, nil
}

// fetchUpstream runs the rate-limit wait, backoff wait and actual vendor call.
// It returns the marshalled payload so coalesced waiters share one decode
// source.
func (q *Queue) fetchUpstream(ctx context.Context, provider, key, symbol string, kind Kind, fetch func(context.Context) (any, error)) ([]byte, error) {
	if remaining := q.backoffRemaining(provider); remaining > 0 {
		backoffTotal.WithLabelValues(provider).Inc()
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if err := q.tracker(provider).Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := fetch(ctx)
	requestDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	if err != nil {
		pe := market.ClassifyError(provider, err)
		if pe.Backoffable() {
			q.recordFailure(provider)
		}
		requestsTotal.WithLabelValues(provider, kind.String(), pe.Kind.String()).Inc()
		return nil, pe
	}

	q.recordSuccess(provider)
	requestsTotal.WithLabelValues(provider, kind.String(), "success").Inc()

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, errors.New("failed to encode provider response")
	}
	q.cache.Set(ctx, key, symbol, payload, kind.TTL())
	return payload, nil
}
