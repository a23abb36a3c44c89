// Package cache provides the sharded TTL cache used for analysis reports and
// per-plugin result fragments.
//
// Keys are spread over independently locked shards chosen by FNV hash. Every
// entry carries its own expiry; expired entries are dropped lazily on Get and
// in bulk by a background reaper. When MaxSize is set, inserting a new key at
// capacity evicts roughly the 10% of entries closest to expiry.
//
// Basic usage:
//
//	reports, err := cache.NewTTL[*types.Report](ctx, cache.DefaultConfig(),
//		cache.WithMetrics[*types.Report](registry, "reports"))
//	if err != nil {
//		return err
//	}
//	defer reports.Close()
//
//	reports.SetWithTTL(key, report, 5*time.Minute)
//	if r, ok := reports.Get(key); ok {
//		// use r
//	}
//	reports.InvalidatePattern("intel:v1:character:*")
//
// A nil or disabled cache is always safe to call: reads miss and writes do
// nothing. NewFromConfig returns a no-op cache when Enabled is false.
package cache
