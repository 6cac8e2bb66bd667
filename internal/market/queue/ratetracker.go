package queue

import (
	"context"
	"sync"
	"time"
)

const rateWindow = 60 * time.Second

// RateTracker enforces a per-provider request ceiling over a sliding 60s
// window. Callers block until a slot opens rather than getting an error.
type RateTracker struct {
	mu      sync.Mutex
	limit   int
	stamps  []time.Time
	nowFunc func() time.Time
}

// NewRateTracker creates a tracker allowing limit requests per 60s
func NewRateTracker(limit int) *RateTracker {
	if limit <= 0 {
		limit = 60
	}
	return &RateTracker{limit: limit, nowFunc: time.Now}
}

func (rt *RateTracker) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(rt.stamps) && !rt.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rt.stamps = rt.stamps[i:]
	}
}

// Wait blocks until a request slot is available, then records the request.
// Returns early with the context error if ctx is cancelled.
func (rt *RateTracker) Wait(ctx context.Context) error {
	for {
		rt.mu.Lock()
		now := rt.nowFunc()
		rt.prune(now)
		if len(rt.stamps) < rt.limit {
			rt.stamps = append(rt.stamps, now)
			rt.mu.Unlock()
			return nil
		}
		// Sleep until the oldest stamp ages out of the window
		wakeAt := rt.stamps[0].Add(rateWindow)
		rt.mu.Unlock()

		wait := time.Until(wakeAt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow returns how many requests are recorded in the current window
func (rt *RateTracker) InWindow() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.prune(rt.nowFunc())
	return len(rt.stamps)
}
