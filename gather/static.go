package gather

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/guarzo/eveDMV-sub012/types"
)

// StaticGatherer serves stats from memory. Used for demos and tests.
type StaticGatherer struct {
	mu    sync.RWMutex
	stats map[int64]types.EntityStats
	err   error
	calls atomic.Int64
}

// NewStatic creates a gatherer preloaded with stats keyed by EntityID.
func NewStatic(stats ...types.EntityStats) *StaticGatherer {
	g := &StaticGatherer{stats: make(map[int64]types.EntityStats, len(stats))}
	for _, s := range stats {
		g.stats[s.EntityID] = s.Clone()
	}
	return g
}

// Set replaces the stats stored for s.EntityID.
func (g *StaticGatherer) Set(s types.EntityStats) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats[s.EntityID] = s.Clone()
}

// FailWith makes every later FetchStats call return err. Nil clears it.
func (g *StaticGatherer) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Calls reports how many times FetchStats has been invoked.
func (g *StaticGatherer) Calls() int64 {
	return g.calls.Load()
}

// FetchStats implements Gatherer. The lookback window is ignored.
func (g *StaticGatherer) FetchStats(ctx context.Context, ids []int64, _ int) (map[int64]types.EntityStats, error) {
	g.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.err != nil {
		return nil, g.err
	}

	out := make(map[int64]types.EntityStats, len(ids))
	for _, id := range ids {
		if s, ok := g.stats[id]; ok {
			out[id] = s.Clone()
		}
	}
	return Complete(ids, out), nil
}
