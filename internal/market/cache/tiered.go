package cache

import (
	"context"
	"time"

	"tradebrain/internal/logging"
)

// Tiered layers the in-memory LRU over the file cache and, when configured,
// Redis. Reads promote hits into faster layers; writes go to every layer.
type Tiered struct {
	l1     *LRU
	l2     *FileCache
	l3     *RedisCache // nil when Redis is not configured
	logger *logging.Logger
}

// NewTiered assembles the cache stack. redisCache may be nil.
func NewTiered(l1Entries int, fileDir string, redisCache *RedisCache, logger *logging.Logger) (*Tiered, error) {
	fc, err := NewFileCache(fileDir)
	if err != nil {
		return nil, err
	}
	return &Tiered{
		l1:     NewLRU(l1Entries),
		l2:     fc,
		l3:     redisCache,
		logger: logger.WithComponent("market_cache"),
	}, nil
}

// Get returns a payload no older than ttl, searching L1, then L2, then L3.
// Hits in slower layers are promoted.
func (t *Tiered) Get(ctx context.Context, key, symbol string, ttl time.Duration) ([]byte, bool) {
	now := time.Now()

	if payload, storedAt, ok := t.l1.Get(key); ok && now.Sub(storedAt) <= ttl {
		return payload, true
	}

	if payload, storedAt, ok := t.l2.Get(key, symbol); ok && now.Sub(storedAt) <= ttl {
		t.l1.Set(key, payload)
		return payload, true
	}

	if t.l3 != nil {
		if payload, storedAt, ok := t.l3.Get(ctx, key); ok && now.Sub(storedAt) <= ttl {
			t.l1.Set(key, payload)
			if err := t.l2.Set(key, symbol, payload); err != nil {
				t.logger.Debug("File cache promote failed", "error", err.Error())
			}
			return payload, true
		}
	}

	return nil, false
}

// GetStale returns the freshest payload found in any layer regardless of age.
// Used as the fallback when every provider has failed.
func (t *Tiered) GetStale(ctx context.Context, key, symbol string) ([]byte, time.Time, bool) {
	var (
		best   []byte
		bestAt time.Time
		found  bool
	)
	if payload, storedAt, ok := t.l1.Get(key); ok {
		best, bestAt, found = payload, storedAt, true
	}
	if payload, storedAt, ok := t.l2.Get(key, symbol); ok && storedAt.After(bestAt) {
		best, bestAt, found = payload, storedAt, true
	}
	if t.l3 != nil {
		if payload, storedAt, ok := t.l3.Get(ctx, key); ok && storedAt.After(bestAt) {
			best, bestAt, found = payload, storedAt, true
		}
	}
	return best, bestAt, found
}

// Set writes the payload to all layers
func (t *Tiered) Set(ctx context.Context, key, symbol string, payload []byte, ttl time.Duration) {
	t.l1.Set(key, payload)
	if err := t.l2.Set(key, symbol, payload); err != nil {
		t.logger.Warn("File cache write failed", "key", key, "error", err.Error())
	}
	if t.l3 != nil {
		t.l3.Set(ctx, key, payload, ttl)
	}
}
