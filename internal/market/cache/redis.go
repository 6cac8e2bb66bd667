package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tradebrain/internal/logging"
)

// redisEnvelope wraps a payload with its write time for staleness checks
type redisEnvelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// RedisCache is the optional shared layer. It degrades gracefully: after
// maxFailures consecutive errors the layer marks itself unhealthy and stops
// issuing commands until the recovery backoff elapses.
type RedisCache struct {
	client *redis.Client
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures     int
	recoveryBackoff time.Duration
}

// NewRedisCache connects to Redis. A failed initial ping returns the cache in
// degraded mode rather than an error, so the service can start without Redis.
func NewRedisCache(url string, logger *logging.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rc := &RedisCache{
		client:          redis.NewClient(opts),
		logger:          logger.WithComponent("market_cache_redis"),
		maxFailures:     3,
		recoveryBackoff: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.client.Ping(ctx).Err(); err != nil {
		rc.logger.Warn("Initial Redis connection failed, starting degraded", "error", err.Error())
		return rc, nil
	}

	rc.healthy = true
	rc.lastCheck = time.Now()
	return rc, nil
}

// IsHealthy reports whether Redis commands are currently issued
func (rc *RedisCache) IsHealthy() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.healthy
}

func (rc *RedisCache) recordFailure() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.failureCount++
	if rc.failureCount >= rc.maxFailures {
		if rc.healthy {
			rc.logger.Warn("Redis marked unhealthy", "failures", rc.failureCount)
		}
		rc.healthy = false
		rc.lastCheck = time.Now()
	}
}

func (rc *RedisCache) recordSuccess() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.healthy && rc.failureCount >= rc.maxFailures {
		rc.logger.Info("Redis recovered")
	}
	rc.failureCount = 0
	rc.healthy = true
	rc.lastCheck = time.Now()
}

// allowAttempt gates commands: when unhealthy, only one probe per recovery
// backoff window goes through.
func (rc *RedisCache) allowAttempt() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.healthy {
		return true
	}
	if time.Since(rc.lastCheck) >= rc.recoveryBackoff {
		rc.lastCheck = time.Now()
		return true
	}
	return false
}

// Get returns the payload and its write time. Misses and degraded states both
// report ok=false.
func (rc *RedisCache) Get(ctx context.Context, key string) (payload []byte, storedAt time.Time, ok bool) {
	if !rc.allowAttempt() {
		return nil, time.Time{}, false
	}

	data, err := rc.client.Get(ctx, "market:"+key).Bytes()
	if err == redis.Nil {
		rc.recordSuccess()
		return nil, time.Time{}, false
	}
	if err != nil {
		rc.recordFailure()
		return nil, time.Time{}, false
	}
	rc.recordSuccess()

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, time.Time{}, false
	}
	return env.Payload, env.StoredAt, true
}

// Set stores the payload with an expiry. Redis entries expire at 2x the TTL
// so the stale-fallback read still has something to serve shortly after
// freshness lapses.
func (rc *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if !rc.allowAttempt() {
		return
	}

	env := redisEnvelope{StoredAt: time.Now(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	if err := rc.client.Set(ctx, "market:"+key, data, 2*ttl).Err(); err != nil {
		rc.recordFailure()
		return
	}
	rc.recordSuccess()
}

// Close releases the underlying client
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
