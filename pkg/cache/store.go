package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
)

// evictFraction is the share of entries dropped when an insert would exceed MaxSize.
const evictFraction = 0.10

type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	size      int64
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]*ttlEntry[V]
}

// ttlCache is a sharded TTL cache. Each shard has its own RWMutex; the entry
// count and memory estimate are tracked with atomics so capacity checks never
// take a global lock.
type ttlCache[V any] struct {
	shards     []*shard[V]
	defaultTTL time.Duration
	maxSize    int

	count  atomic.Int64
	memory atomic.Int64

	// evictMu serializes capacity eviction so concurrent inserts at the limit
	// do not each drop 10% of the cache.
	evictMu sync.Mutex

	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
	sizer   func(string, V) int64
	now     func() time.Time

	cleanupInterval time.Duration
	shutdown        chan struct{}
	done            chan struct{}
	closeOnce       sync.Once
}

// NewTTL creates a TTL cache and starts its background reaper, which stops when
// ctx is cancelled or Close is called.
func NewTTL[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	c, err := newTTLCache[V](ctx, config, applyOptions(options...))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newTTLCache[V any](ctx context.Context, config Config, opts *cacheOptions[V]) (*ttlCache[V], error) {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if config.Shards <= 0 {
		config.Shards = DefaultConfig().Shards
	}

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newTTLCache", "metrics registration")
		}
	}

	c := &ttlCache[V]{
		shards:          make([]*shard[V], config.Shards),
		defaultTTL:      config.DefaultTTL,
		maxSize:         config.MaxSize,
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		sizer:           opts.sizer,
		now:             opts.now,
		cleanupInterval: config.CleanupInterval,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &shard[V]{items: make(map[string]*ttlEntry[V])}
	}

	go c.cleanup(ctx)

	return c, nil
}

// ready reports whether the cache has usable storage. A nil or zero-value cache
// degrades to misses and no-ops.
func (c *ttlCache[V]) ready() bool {
	return c != nil && len(c.shards) > 0
}

func (c *ttlCache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get retrieves a value by key, lazily dropping it if it has expired.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.ready() {
		return zero, false
	}

	s := c.shardFor(key)
	s.mu.RLock()
	entry, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return zero, false
	}

	if !c.now().Before(entry.expiresAt) {
		var removed *ttlEntry[V]
		s.mu.Lock()
		if current, ok := s.items[key]; ok && !c.now().Before(current.expiresAt) {
			delete(s.items, key)
			removed = current
		}
		s.mu.Unlock()
		if removed != nil {
			c.afterRemoval([]*ttlEntry[V]{removed}, true)
		}
		c.recordMiss()
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores a value with the default TTL.
func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	return c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores a value that expires after ttl.
func (c *ttlCache[V]) SetWithTTL(key string, value V, ttl time.Duration) (bool, error) {
	if !c.ready() {
		return false, nil
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	entry := &ttlEntry[V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
		size:      c.sizer(key, value),
	}

	s := c.shardFor(key)

	s.mu.RLock()
	_, exists := s.items[key]
	s.mu.RUnlock()
	if !exists && c.maxSize > 0 && int(c.count.Load()) >= c.maxSize {
		c.evictForCapacity()
	}

	s.mu.Lock()
	previous, existed := s.items[key]
	s.items[key] = entry
	s.mu.Unlock()

	if existed {
		c.memory.Add(entry.size - previous.size)
	} else {
		c.count.Add(1)
		c.memory.Add(entry.size)
	}

	c.stats.Set()
	c.publishSize()
	if c.metrics != nil {
		c.metrics.recordSet()
	}

	return !existed, nil
}

// GetMany looks up keys, returning found values and the keys that missed.
func (c *ttlCache[V]) GetMany(keys []string) (map[string]V, []string) {
	found := make(map[string]V, len(keys))
	var missing []string
	for _, key := range keys {
		if v, ok := c.Get(key); ok {
			found[key] = v
		} else {
			missing = append(missing, key)
		}
	}
	return found, missing
}

// SetMany stores every entry with the same ttl. The first invalid key aborts
// the remaining writes.
func (c *ttlCache[V]) SetMany(entries map[string]V, ttl time.Duration) error {
	if !c.ready() {
		return nil
	}
	for key, value := range entries {
		if _, err := c.SetWithTTL(key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an entry by key.
func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if !c.ready() {
		return false, nil
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	entry, exists := s.items[key]
	if exists {
		delete(s.items, key)
	}
	s.mu.Unlock()

	if !exists {
		return false, nil
	}

	c.count.Add(-1)
	c.memory.Add(-entry.size)
	c.stats.Delete()
	c.publishSize()
	if c.metrics != nil {
		c.metrics.recordDelete()
	}
	return true, nil
}

// InvalidatePattern removes all keys matching pattern using path.Match glob syntax.
func (c *ttlCache[V]) InvalidatePattern(pattern string) (int, error) {
	if !c.ready() {
		return 0, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, errors.WrapInvalid(err, "cache", "InvalidatePattern", fmt.Sprintf("pattern %q", pattern))
	}

	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, entry := range s.items {
			if ok, _ := path.Match(pattern, key); ok {
				delete(s.items, key)
				c.count.Add(-1)
				c.memory.Add(-entry.size)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		for i := 0; i < removed; i++ {
			c.stats.Delete()
		}
		c.publishSize()
		if c.metrics != nil {
			c.metrics.recordInvalidation(removed)
		}
	}
	return removed, nil
}

// Clear removes all entries from the cache.
func (c *ttlCache[V]) Clear() error {
	if !c.ready() {
		return nil
	}

	var dropped []*ttlEntry[V]
	for _, s := range c.shards {
		s.mu.Lock()
		if c.evictFn != nil {
			for _, entry := range s.items {
				dropped = append(dropped, entry)
			}
		}
		s.items = make(map[string]*ttlEntry[V])
		s.mu.Unlock()
	}
	c.count.Store(0)
	c.memory.Store(0)
	c.publishSize()

	if c.evictFn != nil {
		for _, entry := range dropped {
			c.evictFn(entry.key, entry.value)
		}
	}
	return nil
}

// Size returns the current number of entries, including expired entries the
// reaper has not removed yet.
func (c *ttlCache[V]) Size() int {
	if !c.ready() {
		return 0
	}
	return int(c.count.Load())
}

// Keys returns all keys that have not expired.
func (c *ttlCache[V]) Keys() []string {
	if !c.ready() {
		return nil
	}

	now := c.now()
	var keys []string
	for _, s := range c.shards {
		s.mu.RLock()
		for key, entry := range s.items {
			if now.Before(entry.expiresAt) {
				keys = append(keys, key)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Stats returns cache statistics.
func (c *ttlCache[V]) Stats() *Statistics {
	if c == nil {
		return nil
	}
	return c.stats
}

// Close stops the background reaper and waits for it to exit.
func (c *ttlCache[V]) Close() error {
	if !c.ready() {
		return nil
	}
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cleanup goroutine to finish")
	}
}

// evictForCapacity drops roughly the oldest-expiring 10% of entries.
// This is an approximate FIFO by expiry, not LRU.
func (c *ttlCache[V]) evictForCapacity() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	if int(c.count.Load()) < c.maxSize {
		return
	}

	type candidate struct {
		key       string
		expiresAt time.Time
	}
	var candidates []candidate
	for _, s := range c.shards {
		s.mu.RLock()
		for key, entry := range s.items {
			candidates = append(candidates, candidate{key: key, expiresAt: entry.expiresAt})
		}
		s.mu.RUnlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})

	target := int(float64(c.maxSize) * evictFraction)
	if target < 1 {
		target = 1
	}
	if target > len(candidates) {
		target = len(candidates)
	}

	var evicted []*ttlEntry[V]
	for _, cand := range candidates[:target] {
		s := c.shardFor(cand.key)
		s.mu.Lock()
		if entry, ok := s.items[cand.key]; ok {
			delete(s.items, cand.key)
			evicted = append(evicted, entry)
		}
		s.mu.Unlock()
	}

	c.afterRemoval(evicted, true)
}

// afterRemoval updates counters and fires callbacks for entries already
// removed from their shards. Must be called without shard locks held.
func (c *ttlCache[V]) afterRemoval(removed []*ttlEntry[V], eviction bool) {
	if len(removed) == 0 {
		return
	}
	for _, entry := range removed {
		c.count.Add(-1)
		c.memory.Add(-entry.size)
		if eviction {
			c.stats.Eviction()
			if c.metrics != nil {
				c.metrics.recordEviction()
			}
		}
	}
	c.publishSize()

	if c.evictFn != nil {
		for _, entry := range removed {
			c.evictFn(entry.key, entry.value)
		}
	}
}

func (c *ttlCache[V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

func (c *ttlCache[V]) publishSize() {
	size := c.count.Load()
	mem := c.memory.Load()
	c.stats.UpdateSize(size)
	c.stats.UpdateMemoryUsage(mem)
	if c.metrics != nil {
		c.metrics.updateSize(int(size), mem)
	}
}

// cleanup runs in a background goroutine and periodically removes expired entries.
func (c *ttlCache[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries, one shard at a time.
func (c *ttlCache[V]) removeExpired() {
	now := c.now()
	var expired []*ttlEntry[V]

	for _, s := range c.shards {
		s.mu.Lock()
		for key, entry := range s.items {
			if !now.Before(entry.expiresAt) {
				expired = append(expired, entry)
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}

	c.afterRemoval(expired, true)
}
