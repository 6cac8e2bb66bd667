package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"tradebrain/internal/auth"
)

// clientLimiters keeps a token bucket per client. Authenticated requests are
// keyed by user id, anonymous ones by remote address.
type clientLimiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

func newClientLimiters(requestsPerSec int) *clientLimiters {
	if requestsPerSec <= 0 {
		requestsPerSec = 20
	}
	return &clientLimiters{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(requestsPerSec),
		burst:   requestsPerSec * 2,
	}
}

func (l *clientLimiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = lim
	}
	return lim
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !s.limiters.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// paymentLockMiddleware guards premium endpoints. A creator with outstanding
// royalty dues above the threshold gets 402 with the amounts and a pointer
// to the billing endpoint.
func (s *Server) paymentLockMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.GetUserID(c)
		if userID == "" || s.deps.Biller == nil {
			c.Next()
			return
		}

		status, err := s.deps.Biller.Status(c.Request.Context(), userID)
		if err != nil {
			// Billing degradation never blocks trading on its own
			s.logger.WithError(err).Warn("Billing status unavailable", "user_id", userID)
			c.Next()
			return
		}

		if status.Locked || status.ShouldLock {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":              "PAYMENT_REQUIRED",
				"message":            "outstanding royalty dues must be settled",
				"outstanding_amount": status.OutstandingUSD,
				"lock_threshold":     float64(status.ThresholdCents) / 100,
				"billing":            "/api/royalties/billing-status",
			})
			return
		}
		c.Next()
	}
}

// metricsCache memoizes the admin metrics summary for a short window
type metricsCache struct {
	mu      sync.Mutex
	at      time.Time
	ttl     time.Duration
	payload gin.H
}

func (m *metricsCache) get(build func() gin.H) gin.H {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload != nil && time.Since(m.at) < m.ttl {
		return m.payload
	}
	m.payload = build()
	m.at = time.Now()
	return m.payload
}
