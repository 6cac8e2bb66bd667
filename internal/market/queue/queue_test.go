package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/logging"
	"tradebrain/internal/market"
	marketcache "tradebrain/internal/market/cache"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	tiered, err := marketcache.NewTiered(16, t.TempDir(), nil, logging.Default())
	require.NoError(t, err)
	return NewQueue(tiered, 60, logging.Default())
}

type quote struct {
	Price float64 `json:"price"`
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("polygon", "candles", "AAPL", "1d")
	b := Key("polygon", "candles", "AAPL", "1d")
	c := Key("polygon", "candles", "AAPL", "1h")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "polygon:candles:AAPL:1d", a)
}

func TestKindTTLOrdering(t *testing.T) {
	assert.Less(t, KindPrice.TTL(), KindCandles.TTL())
	assert.Less(t, KindCandles.TTL(), KindMetadata.TTL())
	assert.Less(t, KindMetadata.TTL(), KindHistorical.TTL())
}

func TestDoCachesFetchResult(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	var calls atomic.Int32

	fetch := func(context.Context) (quote, error) {
		calls.Add(1)
		return quote{Price: 42}, nil
	}

	got, err := Do(ctx, q, "polygon", "polygon:price:AAPL", "AAPL", KindPrice, fetch)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Price)

	// Second request inside the TTL is served from cache
	got, err = Do(ctx, q, "polygon", "polygon:price:AAPL", "AAPL", KindPrice, fetch)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.Price)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoCoalescesConcurrentRequests(t *testing.T) {
	q := newTestQueue(t)
	var calls atomic.Int32

	fetch := func(context.Context) (quote, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return quote{Price: 7}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Do(context.Background(), q, "finnhub", "finnhub:price:TSLA", "TSLA", KindPrice, fetch)
			assert.NoError(t, err)
			assert.Equal(t, 7.0, got.Price)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "identical in-flight requests should share one upstream call")
}

func TestDoWaiterDetachesOnContextCancel(t *testing.T) {
	q := newTestQueue(t)
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(context.Context) (quote, error) {
		close(started)
		<-release
		return quote{Price: 7}, nil
	}

	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, _ = Do(context.Background(), q, "finnhub", "finnhub:price:NVDA", "NVDA", KindPrice, fetch)
	}()
	<-started

	// A waiter on the same key must not outlive its own deadline just
	// because the leader is still in flight.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Do(ctx, q, "finnhub", "finnhub:price:NVDA", "NVDA", KindPrice, fetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-leaderDone
}

func TestDoFailureReturnsProviderError(t *testing.T) {
	q := newTestQueue(t)

	_, err := Do(context.Background(), q, "polygon", "polygon:price:MSFT", "MSFT", KindPrice,
		func(context.Context) (quote, error) {
			return quote{}, errors.New("rate limit exceeded")
		})
	require.Error(t, err)

	var pe *market.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, market.KindRateLimit, pe.Kind)
}

func TestBackoffAdvancesOnFailure(t *testing.T) {
	q := newTestQueue(t)

	_, err := Do(context.Background(), q, "twelvedata", "twelvedata:price:NVDA", "NVDA", KindPrice,
		func(context.Context) (quote, error) {
			return quote{}, errors.New("rate limit exceeded")
		})
	require.Error(t, err)

	assert.Greater(t, q.backoffRemaining("twelvedata"), time.Duration(0))

	statuses := q.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "twelvedata", statuses[0].Provider)
	assert.Equal(t, 1, statuses[0].ConsecutiveFailures)
	assert.False(t, statuses[0].BackoffUntil.IsZero())
}

func TestUpstreamErrorsDoNotBackoff(t *testing.T) {
	q := newTestQueue(t)

	_, err := Do(context.Background(), q, "polygon", "polygon:price:BAD", "BAD", KindPrice,
		func(context.Context) (quote, error) {
			return quote{}, &market.ProviderError{Provider: "polygon", StatusCode: 404, Kind: market.KindUpstream, Message: "unknown symbol"}
		})
	require.Error(t, err)
	assert.Equal(t, time.Duration(0), q.backoffRemaining("polygon"))
}

func TestSuccessResetsBackoff(t *testing.T) {
	q := newTestQueue(t)
	q.recordFailure("yahoo")
	require.Greater(t, q.backoffRemaining("yahoo"), time.Duration(0))

	q.recordSuccess("yahoo")
	assert.Equal(t, time.Duration(0), q.backoffRemaining("yahoo"))
}

func TestRateTrackerSlidingWindow(t *testing.T) {
	rt := NewRateTracker(2)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rt.nowFunc = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, rt.Wait(ctx))
	require.NoError(t, rt.Wait(ctx))
	assert.Equal(t, 2, rt.InWindow())

	// Advancing past the window frees both slots
	now = now.Add(61 * time.Second)
	assert.Equal(t, 0, rt.InWindow())
	require.NoError(t, rt.Wait(ctx))
	assert.Equal(t, 1, rt.InWindow())
}

func TestRateTrackerWaitHonorsCancellation(t *testing.T) {
	rt := NewRateTracker(1)
	require.NoError(t, rt.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rt.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
