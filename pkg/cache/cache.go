package cache

import (
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
)

// Cache represents a generic cache interface that all cache implementations must satisfy.
// The cache is parameterized by value type V for type safety.
//
// Every method is safe to call on a nil or disabled cache: reads miss and writes
// are no-ops.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found and not expired.
	Get(key string) (V, bool)

	// Set stores a value under the default TTL. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)

	// SetWithTTL stores a value that expires after ttl. ttl <= 0 uses the default TTL.
	SetWithTTL(key string, value V, ttl time.Duration) (bool, error)

	// GetMany looks up several keys at once, returning the hits and the keys that missed.
	GetMany(keys []string) (map[string]V, []string)

	// SetMany stores every entry with the same ttl.
	SetMany(entries map[string]V, ttl time.Duration) error

	// Delete removes an entry by key. Returns true if the key existed and was deleted.
	Delete(key string) (bool, error)

	// InvalidatePattern removes every key matching a glob pattern ("*", "?", "[...]")
	// and returns how many entries were removed.
	InvalidatePattern(pattern string) (int, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns all live keys.
	Keys() []string

	// Stats returns cache statistics, nil for a disabled cache.
	Stats() *Statistics

	// Close stops the background reaper.
	Close() error
}

// EvictCallback is called when an entry is evicted or expires.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

// NewNoop creates a cache that does nothing (always returns cache misses).
// This is useful when caching is disabled via configuration.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }

func (c *noopCache[V]) SetWithTTL(_ string, _ V, _ time.Duration) (bool, error) { return false, nil }

func (c *noopCache[V]) GetMany(keys []string) (map[string]V, []string) {
	return map[string]V{}, append([]string(nil), keys...)
}

func (c *noopCache[V]) SetMany(_ map[string]V, _ time.Duration) error { return nil }

func (c *noopCache[V]) Delete(_ string) (bool, error) { return false, nil }

func (c *noopCache[V]) InvalidatePattern(_ string) (int, error) { return 0, nil }

func (c *noopCache[V]) Clear() error { return nil }

func (c *noopCache[V]) Size() int { return 0 }

func (c *noopCache[V]) Keys() []string { return nil }

func (c *noopCache[V]) Stats() *Statistics { return nil }

func (c *noopCache[V]) Close() error { return nil }
