package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL applies when neither Options nor Set supply a positive TTL.
const DefaultTTL = 5 * time.Minute

// Options tune cache behaviour.
type Options struct {
	// DefaultTTL is used by Set when called with ttl <= 0.
	DefaultTTL time.Duration
	// Capacity bounds the number of live entries. Zero means unbounded.
	Capacity int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hitRate"`
	Evictions uint64  `json:"evictions"`
	Capacity  int     `json:"capacity"`
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.insertedAt) >= e.ttl
}

// Cache is a TTL key/value store with hit/miss accounting. Values are stored and
// returned by value; callers should cache value types (or copies) so a stored entry
// cannot be mutated from outside.
//
// Expiry is lazy: Get evicts an expired entry when it finds one. Sweep removes
// expired entries eagerly. When Capacity is set, the least recently inserted entry
// makes room for a new key.
type Cache[V any] struct {
	mu         sync.Mutex
	items      map[string]*entry[V]
	order      *list.List // insertion order, oldest at front
	defaultTTL time.Duration
	capacity   int
	now        func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// New constructs an empty cache.
func New[V any](opts Options) *Cache[V] {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	capacity := opts.Capacity
	if capacity < 0 {
		capacity = 0
	}
	return &Cache[V]{
		items:      make(map[string]*entry[V]),
		order:      list.New(),
		defaultTTL: ttl,
		capacity:   capacity,
		now:        now,
	}
}

// Get returns the live value for key. An expired entry is removed and counted as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if e.expired(c.now()) {
		c.removeLocked(e)
		c.misses++
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set inserts or overwrites key. A ttl <= 0 uses the default TTL. Counters are untouched.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.insertedAt = now
		e.ttl = ttl
		c.order.MoveToBack(e.elem)
		return
	}

	if c.capacity > 0 {
		for len(c.items) >= c.capacity {
			oldest := c.order.Front()
			if oldest == nil {
				break
			}
			c.removeLocked(oldest.Value.(*entry[V]))
			c.evictions++
		}
	}

	e := &entry[V]{key: key, value: value, insertedAt: now, ttl: ttl}
	e.elem = c.order.PushBack(e)
	c.items[key] = e
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear drops every entry. Hit and miss counters survive so HitRate stays a long-run signal.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry[V])
	c.order.Init()
}

// ResetStats zeroes hit, miss and eviction counters.
func (c *Cache[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Sweep removes all expired entries and returns how many were dropped.
// Sweeping does not count misses.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if e := elem.Value.(*entry[V]); e.expired(now) {
			c.removeLocked(e)
			removed++
		}
		elem = next
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := 0.0
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Entries:   len(c.items),
		HitRate:   hitRate,
		Evictions: c.evictions,
		Capacity:  c.capacity,
	}
}

// removeLocked must be called with mu held.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}
