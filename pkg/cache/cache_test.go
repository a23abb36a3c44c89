package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache[V any](t *testing.T, cfg Config, opts ...Option[V]) Cache[V] {
	t.Helper()
	c, err := NewTTL[V](context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTTLCache_SetGetDelete(t *testing.T) {
	c := newTestCache[string](t, DefaultConfig())

	created, err := c.Set("a", "alpha")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.Set("a", "alpha-2")
	require.NoError(t, err)
	assert.False(t, created, "overwrite should not report a new entry")

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha-2", v)
	assert.Equal(t, 1, c.Size())

	deleted, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete("a")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestTTLCache_EmptyKeyRejected(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig())

	_, err := c.Set("", 1)
	assert.Error(t, err)

	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestTTLCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.DefaultTTL = time.Minute
	c := newTestCache[int](t, cfg, WithClock[int](clock.Now))

	_, err := c.Set("default", 1)
	require.NoError(t, err)
	_, err = c.SetWithTTL("short", 2, 10*time.Second)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok, "entry must be gone once its ttl has elapsed")

	v, ok := c.Get("default")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	_, ok = c.Get("default")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
	assert.Equal(t, int64(2), c.Stats().Evictions())
}

func TestTTLCache_ReaperRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.CleanupInterval = 10 * time.Millisecond

	var mu sync.Mutex
	var evicted []string
	c := newTestCache[int](t, cfg,
		WithClock[int](clock.Now),
		WithEvictionCallback[int](func(key string, _ int) {
			mu.Lock()
			evicted = append(evicted, key)
			mu.Unlock()
		}),
	)

	_, err := c.SetWithTTL("gone", 1, time.Second)
	require.NoError(t, err)
	_, err = c.SetWithTTL("kept", 2, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return c.Size() == 1 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"gone"}, evicted)
}

func TestTTLCache_GetManySetMany(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig())

	require.NoError(t, c.SetMany(map[string]int{"a": 1, "b": 2}, 0))

	found, missing := c.GetMany([]string{"a", "b", "c"})
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, found)
	assert.Equal(t, []string{"c"}, missing)

	assert.Error(t, c.SetMany(map[string]int{"": 3}, 0))
}

func TestTTLCache_InvalidatePattern(t *testing.T) {
	c := newTestCache[string](t, DefaultConfig())

	for _, key := range []string{
		"intel:v1:character:1:standard:all",
		"intel:v1:character:2:standard:all",
		"intel:v1:corporation:1:standard:all",
	} {
		_, err := c.Set(key, key)
		require.NoError(t, err)
	}

	n, err := c.InvalidatePattern("intel:v1:character:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"intel:v1:corporation:1:standard:all"}, c.Keys())

	n, err = c.InvalidatePattern("intel:v1:fleet:*")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.InvalidatePattern("intel:[")
	assert.Error(t, err)
	assert.Equal(t, 1, c.Size())
}

func TestTTLCache_CapacityEvictsEarliestExpiring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 20
	c := newTestCache[int](t, cfg)

	// Later keys live longer, so key-0 and key-1 expire first.
	for i := 0; i < 20; i++ {
		_, err := c.SetWithTTL(fmt.Sprintf("key-%d", i), i, time.Duration(i+1)*time.Minute)
		require.NoError(t, err)
	}
	require.Equal(t, 20, c.Size())

	_, err := c.Set("overflow", 99)
	require.NoError(t, err)

	assert.Equal(t, 19, c.Size())
	_, ok := c.Get("key-0")
	assert.False(t, ok)
	_, ok = c.Get("key-1")
	assert.False(t, ok)
	_, ok = c.Get("key-2")
	assert.True(t, ok)
	_, ok = c.Get("overflow")
	assert.True(t, ok)

	// Overwriting an existing key at capacity must not evict.
	before := c.Size()
	_, err = c.Set("key-5", 55)
	require.NoError(t, err)
	assert.Equal(t, before, c.Size())
}

func TestTTLCache_Clear(t *testing.T) {
	c := newTestCache[int](t, DefaultConfig())
	require.NoError(t, c.SetMany(map[string]int{"a": 1, "b": 2, "c": 3}, 0))

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())
	assert.Empty(t, c.Keys())
	assert.Zero(t, c.Stats().MemoryUsage())
}

func TestTTLCache_MemoryEstimate(t *testing.T) {
	c := newTestCache[string](t, DefaultConfig(), WithSizer[string](func(_ string, v string) int64 {
		return int64(len(v))
	}))

	_, err := c.Set("a", "12345")
	require.NoError(t, err)
	_, err = c.Set("b", "123")
	require.NoError(t, err)
	assert.Equal(t, int64(8), c.Stats().MemoryUsage())

	_, err = c.Set("a", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.Stats().MemoryUsage())
}

func TestTTLCache_NilSafe(t *testing.T) {
	var c *ttlCache[int]

	_, ok := c.Get("a")
	assert.False(t, ok)

	created, err := c.Set("a", 1)
	assert.NoError(t, err)
	assert.False(t, created)

	n, err := c.InvalidatePattern("*")
	assert.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, c.SetMany(map[string]int{"a": 1}, 0))
	assert.NoError(t, c.Clear())
	assert.NoError(t, c.Close())
	assert.Zero(t, c.Size())
	assert.Nil(t, c.Keys())
	assert.Nil(t, c.Stats())
}

func TestTTLCache_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewTTL[int](ctx, DefaultConfig())
	require.NoError(t, err)

	cancel()
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "close must be idempotent")
}

func TestTTLCache_Concurrent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 500
	c := newTestCache[int](t, cfg)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-%d", w, i)
				_, _ = c.Set(key, i)
				_, _ = c.Get(key)
				if i%10 == 0 {
					_, _ = c.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()

	// Inserts racing at the limit may each land before eviction catches up.
	assert.LessOrEqual(t, c.Size(), 500+8)
	assert.Equal(t, len(c.Keys()), c.Size())
}

func TestNoopCache(t *testing.T) {
	c := NewNoop[string]()

	created, err := c.Set("a", "x")
	assert.NoError(t, err)
	assert.False(t, created)

	_, ok := c.Get("a")
	assert.False(t, ok)

	found, missing := c.GetMany([]string{"a", "b"})
	assert.Empty(t, found)
	assert.Equal(t, []string{"a", "b"}, missing)

	n, err := c.InvalidatePattern("*")
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, c.Stats())
	assert.NoError(t, c.Close())
}

func TestStatistics_Summary(t *testing.T) {
	s := NewStatistics()
	s.Hit()
	s.Hit()
	s.Hit()
	s.Miss()
	s.UpdateSize(4)
	s.UpdateSize(2)

	summary := s.Summary()
	assert.Equal(t, int64(3), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.InDelta(t, 0.75, summary.HitRatio, 1e-9)
	assert.Equal(t, int64(2), summary.CurrentSize)
	assert.Equal(t, int64(4), summary.MaxSize)

	var nilStats *Statistics
	assert.Equal(t, StatsSummary{}, nilStats.Summary())
}
