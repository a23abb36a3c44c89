package gather

import (
	"context"
	"sort"

	"github.com/guarzo/eveDMV-sub012/types"
)

// Gatherer supplies pre-aggregated facts for a set of entities. One call
// covers the whole id set; ids the source does not know map to empty stats.
type Gatherer interface {
	FetchStats(ctx context.Context, ids []int64, lookbackDays int) (map[int64]types.EntityStats, error)
}

// Func adapts an ordinary function to the Gatherer interface.
type Func func(ctx context.Context, ids []int64, lookbackDays int) (map[int64]types.EntityStats, error)

// FetchStats calls f.
func (f Func) FetchStats(ctx context.Context, ids []int64, lookbackDays int) (map[int64]types.EntityStats, error) {
	return f(ctx, ids, lookbackDays)
}

// Complete returns a map holding exactly one entry per requested id, using
// empty stats for ids missing from got. Entries for ids that were not
// requested are dropped.
func Complete(ids []int64, got map[int64]types.EntityStats) map[int64]types.EntityStats {
	out := make(map[int64]types.EntityStats, len(ids))
	for _, id := range ids {
		if s, ok := got[id]; ok {
			s.EntityID = id
			out[id] = s
			continue
		}
		out[id] = types.EmptyStats(id)
	}
	return out
}

// uniqueIDs returns ids sorted with duplicates removed.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
