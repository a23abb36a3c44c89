package gather

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/natsclient"
	"github.com/guarzo/eveDMV-sub012/types"
)

// JSONStore is the subset of natsclient.KVStore used by KVGatherer.
type JSONStore interface {
	GetJSON(ctx context.Context, key string, out any) error
	PutJSON(ctx context.Context, key string, v any) (uint64, error)
}

const kvReadConcurrency = 8

// KVGatherer reads stats that an upstream aggregator publishes into a
// JetStream key-value bucket under "<domain>.<id>". Values are already
// aggregated, so the lookback window is not applied.
type KVGatherer struct {
	store  JSONStore
	domain types.Domain
}

// NewKV creates a KV-backed gatherer for one domain.
func NewKV(store JSONStore, domain types.Domain) (*KVGatherer, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "KVGatherer", "NewKV", "validate store")
	}
	if !domain.Valid() {
		return nil, errors.New(errors.ErrInvalidDomain, errors.ErrorInvalid, "KVGatherer", "NewKV", string(domain))
	}
	return &KVGatherer{store: store, domain: domain}, nil
}

// Key returns the bucket key holding stats for id.
func (g *KVGatherer) Key(id int64) string {
	return fmt.Sprintf("%s.%d", g.domain, id)
}

// FetchStats implements Gatherer. Keys are read concurrently, at most
// kvReadConcurrency at a time. Missing keys yield empty stats; any other read
// failure fails the whole call.
func (g *KVGatherer) FetchStats(ctx context.Context, ids []int64, _ int) (map[int64]types.EntityStats, error) {
	unique := uniqueIDs(ids)
	var (
		mu    sync.Mutex
		found = make(map[int64]types.EntityStats, len(unique))
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(kvReadConcurrency)
	for _, id := range unique {
		eg.Go(func() error {
			var s types.EntityStats
			if err := g.store.GetJSON(egCtx, g.Key(id), &s); err != nil {
				if natsclient.IsKVNotFoundError(err) {
					return nil
				}
				return errors.WrapTransient(err, "KVGatherer", "FetchStats", fmt.Sprintf("read %s", g.Key(id)))
			}
			mu.Lock()
			found[id] = s.Clone()
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return Complete(ids, found), nil
}

// Store publishes stats for s.EntityID.
func (g *KVGatherer) Store(ctx context.Context, s types.EntityStats) error {
	if s.EntityID <= 0 {
		return errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid, "KVGatherer", "Store",
			fmt.Sprintf("%d", s.EntityID))
	}
	if _, err := g.store.PutJSON(ctx, g.Key(s.EntityID), s); err != nil {
		return errors.WrapTransient(err, "KVGatherer", "Store", fmt.Sprintf("write %s", g.Key(s.EntityID)))
	}
	return nil
}
