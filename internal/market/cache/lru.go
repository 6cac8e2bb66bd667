package cache

import (
	"container/list"
	"sync"
	"time"
)

// lruEntry is one cached payload with its write time
type lruEntry struct {
	key      string
	payload  []byte
	storedAt time.Time
}

// LRU is a bounded in-memory cache. Eviction is least-recently-used;
// staleness is the reader's concern (entries carry their write time).
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

// NewLRU creates a bounded LRU cache
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the payload and its age. ok is false on miss.
func (c *LRU) Get(key string) (payload []byte, storedAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		return nil, time.Time{}, false
	}
	c.order.MoveToFront(el)
	e := el.Value.(*lruEntry)
	return e.payload, e.storedAt, true
}

// Set stores a payload, evicting the oldest entry when full
func (c *LRU) Set(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.items[key]; found {
		c.order.MoveToFront(el)
		e := el.Value.(*lruEntry)
		e.payload = payload
		e.storedAt = time.Now()
		return
	}

	el := c.order.PushFront(&lruEntry{key: key, payload: payload, storedAt: time.Now()})
	c.items[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

// Len returns the current entry count
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
