package cache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/eveDMV-sub012/metric"
)

func TestCacheMetrics_Recorded(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewTTL[string](context.Background(), DefaultConfig(), WithMetrics[string](registry, "reports"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("a", "1")
	require.NoError(t, err)
	_, err = c.Set("b", "2")
	require.NoError(t, err)
	c.Get("a")
	c.Get("missing")
	_, err = c.InvalidatePattern("*")
	require.NoError(t, err)

	m := c.(*ttlCache[string]).metrics
	require.NotNil(t, m)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sets))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.invalidations))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.size))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["intel_cache_hits_total"])
	assert.True(t, names["intel_cache_memory_bytes"])
}

func TestCacheMetrics_DuplicatePrefixFails(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewTTL[int](context.Background(), DefaultConfig(), WithMetrics[int](registry, "dup"))
	require.NoError(t, err)
	defer c.Close()

	_, err = NewTTL[int](context.Background(), DefaultConfig(), WithMetrics[int](registry, "dup"))
	assert.Error(t, err)
}

func TestCacheMetrics_DisabledWithoutRegistry(t *testing.T) {
	c, err := NewTTL[int](context.Background(), DefaultConfig(), WithMetrics[int](nil, "x"))
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.(*ttlCache[int]).metrics)
}
