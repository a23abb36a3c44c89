package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/guarzo/eveDMV-sub012/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	sets          prometheus.Counter
	deletes       prometheus.Counter
	evictions     prometheus.Counter
	invalidations prometheus.Counter

	size   prometheus.Gauge
	memory prometheus.Gauge
}

func newCounter(prefix, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "intel",
		Subsystem:   "cache",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": prefix},
		Help:        help,
	})
}

func newGauge(prefix, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "intel",
		Subsystem:   "cache",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": prefix},
		Help:        help,
	})
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits:          newCounter(prefix, "hits_total", "Total number of cache hits"),
		misses:        newCounter(prefix, "misses_total", "Total number of cache misses"),
		sets:          newCounter(prefix, "sets_total", "Total number of cache set operations"),
		deletes:       newCounter(prefix, "deletes_total", "Total number of cache delete operations"),
		evictions:     newCounter(prefix, "evictions_total", "Total number of expired or capacity evictions"),
		invalidations: newCounter(prefix, "invalidations_total", "Total number of entries removed by pattern invalidation"),
		size:          newGauge(prefix, "size", "Current number of entries in cache"),
		memory:        newGauge(prefix, "memory_bytes", "Estimated memory held by cache entries"),
	}

	counters := map[string]prometheus.Counter{
		"cache_hits":          m.hits,
		"cache_misses":        m.misses,
		"cache_sets":          m.sets,
		"cache_deletes":       m.deletes,
		"cache_evictions":     m.evictions,
		"cache_invalidations": m.invalidations,
	}
	for name, counter := range counters {
		if err := registry.RegisterCounter(prefix, name, counter); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_memory", m.memory); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()      { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) recordSet()      { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()   { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction() { m.evictions.Inc() }

func (m *cacheMetrics) recordInvalidation(n int) {
	m.invalidations.Add(float64(n))
}

func (m *cacheMetrics) updateSize(size int, memory int64) {
	m.size.Set(float64(size))
	m.memory.Set(float64(memory))
}
