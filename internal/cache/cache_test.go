package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type payload struct {
	Score float64
	Level string
}

func TestSetThenGet(t *testing.T) {
	c := New[payload](Options{})
	c.Set("pool-A", payload{Score: 42, Level: "medium"}, time.Minute)

	got, ok := c.Get("pool-A")
	require.True(t, ok)
	assert.Equal(t, payload{Score: 42, Level: "medium"}, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestEntriesCountNewAndOverwrite(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1, 0)
	assert.Equal(t, 1, c.Stats().Entries)

	c.Set("b", 2, 0)
	assert.Equal(t, 2, c.Stats().Entries)

	c.Set("a", 3, 0)
	assert.Equal(t, 2, c.Stats().Entries)

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestSetDoesNotTouchCounters(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1, 0)
	c.Set("a", 2, 0)
	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
}

func TestMissOnAbsentKey(t *testing.T) {
	c := New[int](Options{})
	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestExpiryIsLazyAndCountsMiss(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Options{Now: clock.Now})
	c.Set("k", "v", 10*time.Second)

	clock.Advance(9 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	clock.Advance(time.Second)
	assert.Equal(t, 1, c.Stats().Entries, "expired entry stays until read")

	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestReinsertRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{Now: clock.Now})
	c.Set("k", 1, 10*time.Second)

	clock.Advance(8 * time.Second)
	c.Set("k", 2, 10*time.Second)

	clock.Advance(8 * time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestDefaultTTLApplied(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{DefaultTTL: time.Minute, Now: clock.Now})
	c.Set("k", 1, 0)

	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestClearKeepsCounters(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a")
	c.Get("zzz")

	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-12)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestResetStats(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1, 0)
	c.Get("a")
	c.Get("b")
	c.ResetStats()

	stats := c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.HitRate)
	assert.Equal(t, 1, stats.Entries)
}

func TestHitRate(t *testing.T) {
	c := New[int](Options{})
	assert.Equal(t, 0.0, c.Stats().HitRate)

	c.Set("a", 1, 0)
	c.Get("a")
	c.Get("a")
	c.Get("a")
	c.Get("b")

	stats := c.Stats()
	assert.Equal(t, float64(stats.Hits)/float64(stats.Hits+stats.Misses), stats.HitRate)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-12)
}

func TestCapacityEvictsLeastRecentlyInserted(t *testing.T) {
	c := New[int](Options{Capacity: 2})
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a") // reads do not change insertion order
	c.Set("c", 3, 0)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestCapacityOverwriteDoesNotEvict(t *testing.T) {
	c := New[int](Options{Capacity: 2})
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Set("a", 10, 0)
	assert.Equal(t, uint64(0), c.Stats().Evictions)

	// "a" was re-inserted, so "b" is now the oldest
	c.Set("c", 3, 0)
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := New[int](Options{Now: clock.Now})
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Sweep())

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Zero(t, stats.Misses)
}

func TestDelete(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1, 0)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccessKeepsCountersConsistent(t *testing.T) {
	c := New[int](Options{Capacity: 64})
	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("k-%d", (w*perWorker+i)%100)
				if i%2 == 0 {
					c.Set(key, i, 0)
				} else {
					c.Get(key)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, uint64(workers*perWorker/2), stats.Hits+stats.Misses)
	assert.LessOrEqual(t, stats.Entries, 64)
	assert.Equal(t, stats.Entries, c.Len())
}
