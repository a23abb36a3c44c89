package cache

import (
	"time"

	"github.com/guarzo/eveDMV-sub012/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; metrics are optional and enabled via WithMetrics().
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	sizer         func(key string, value V) int64
	now           func() time.Time
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked for evicted and expired entries.
// It runs outside the shard lock.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithSizer sets the function used to estimate an entry's memory footprint in bytes.
func WithSizer[V any](sizer func(key string, value V) int64) Option[V] {
	return func(opts *cacheOptions[V]) {
		if sizer != nil {
			opts.sizer = sizer
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(opts *cacheOptions[V]) {
		if now != nil {
			opts.now = now
		}
	}
}

// defaultEntryOverhead approximates map bucket, entry struct and expiry bookkeeping.
const defaultEntryOverhead = 96

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		sizer: func(key string, _ V) int64 { return int64(len(key)) + defaultEntryOverhead },
		now:   time.Now,
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
