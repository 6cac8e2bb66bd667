package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebrain/internal/logging"
)

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3"))

	assert.Equal(t, 2, c.Len())
	_, _, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	payload, _, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), payload)
}

func TestLRUGetRefreshesRecency(t *testing.T) {
	c := NewLRU(2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	// Touch a so b becomes the eviction victim
	c.Get("a")
	c.Set("c", []byte("3"))

	_, _, ok := c.Get("a")
	assert.True(t, ok)
	_, _, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLRUOverwriteKeepsSingleEntry(t *testing.T) {
	c := NewLRU(4)
	c.Set("a", []byte("1"))
	c.Set("a", []byte("2"))

	assert.Equal(t, 1, c.Len())
	payload, _, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), payload)
}

func TestFileCacheRoundTrip(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fc.Set("polygon:candles:AAPL:1d", "AAPL", []byte(`{"v":1}`)))

	payload, storedAt, ok := fc.Get("polygon:candles:AAPL:1d", "AAPL")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(payload))
	assert.WithinDuration(t, time.Now(), storedAt, 5*time.Second)
}

func TestFileCacheMiss(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	_, _, ok := fc.Get("unknown", "AAPL")
	assert.False(t, ok)
}

func TestFileCacheSanitizesSymbolPath(t *testing.T) {
	fc, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	// A hostile symbol must not escape the cache dir
	require.NoError(t, fc.Set("k", "../etc", []byte(`{}`)))
	_, _, ok := fc.Get("k", "../etc")
	assert.True(t, ok)
}

func newTestTiered(t *testing.T) *Tiered {
	t.Helper()
	tc, err := NewTiered(8, t.TempDir(), nil, logging.Default())
	require.NoError(t, err)
	return tc
}

func TestTieredSetThenGet(t *testing.T) {
	tc := newTestTiered(t)
	ctx := context.Background()

	tc.Set(ctx, "key1", "AAPL", []byte(`{"price":190.5}`), time.Minute)

	payload, ok := tc.Get(ctx, "key1", "AAPL", time.Minute)
	require.True(t, ok)
	assert.JSONEq(t, `{"price":190.5}`, string(payload))
}

func TestTieredExpiredEntryMisses(t *testing.T) {
	tc := newTestTiered(t)
	ctx := context.Background()

	tc.Set(ctx, "key1", "AAPL", []byte(`{"price":1}`), time.Minute)

	// Zero TTL treats everything as stale
	_, ok := tc.Get(ctx, "key1", "AAPL", 0)
	assert.False(t, ok)
}

func TestTieredStaleFallback(t *testing.T) {
	tc := newTestTiered(t)
	ctx := context.Background()

	tc.Set(ctx, "key1", "AAPL", []byte(`{"price":1}`), time.Minute)

	payload, storedAt, ok := tc.GetStale(ctx, "key1", "AAPL")
	require.True(t, ok)
	assert.JSONEq(t, `{"price":1}`, string(payload))
	assert.False(t, storedAt.IsZero())

	_, _, ok = tc.GetStale(ctx, "never-written", "AAPL")
	assert.False(t, ok)
}

func TestTieredFileLayerSurvivesL1Eviction(t *testing.T) {
	tc := newTestTiered(t)
	ctx := context.Background()

	tc.Set(ctx, "key0", "AAPL", []byte(`{"v":0}`), time.Minute)
	// Push key0 out of the 8-entry L1
	for i := 1; i <= 10; i++ {
		tc.Set(ctx, "key"+strconv.Itoa(i), "AAPL", []byte(`{"v":1}`), time.Minute)
	}

	payload, ok := tc.Get(ctx, "key0", "AAPL", time.Minute)
	require.True(t, ok, "file layer should serve after L1 eviction")
	assert.JSONEq(t, `{"v":0}`, string(payload))
}
