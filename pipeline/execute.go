package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// outcome is the result of one plugin within one report.
type outcome struct {
	name     string
	value    any
	err      error
	duration time.Duration
	cached   bool
}

func (o outcome) outcome() metric.Outcome {
	switch {
	case o.cached:
		return metric.OutcomeCacheHit
	case o.err == nil:
		return metric.OutcomeSuccess
	case errors.CodeOf(o.err) == errors.CodeTimeout:
		return metric.OutcomeTimeout
	default:
		return metric.OutcomeError
	}
}

// executePlugins runs every planned plugin and returns one outcome per plugin
// in resolution order. It never fails as a whole.
func (p *Pipeline) executePlugins(ctx context.Context, pl plan, data *types.BaseData) []outcome {
	if !pl.parallel || len(pl.plugins) == 1 {
		out := make([]outcome, 0, len(pl.plugins))
		for _, name := range pl.plugins {
			out = append(out, p.executeOne(ctx, pl, name, data))
		}
		return out
	}
	return p.executeParallel(ctx, pl, data)
}

type indexedOutcome struct {
	index int
	outcome
}

func (p *Pipeline) executeParallel(ctx context.Context, pl plan, data *types.BaseData) []outcome {
	n := len(pl.plugins)
	results := make(chan indexedOutcome, n)
	for i, name := range pl.plugins {
		go func() {
			results <- indexedOutcome{index: i, outcome: p.executeOne(ctx, pl, name, data)}
		}()
	}

	out := make([]outcome, n)
	received := make([]bool, n)
	timer := time.NewTimer(p.cfg.PluginTimeout)
	defer timer.Stop()

	for pending := n; pending > 0; pending-- {
		select {
		case r := <-results:
			out[r.index] = r.outcome
			received[r.index] = true
		case <-timer.C:
			p.abandon(pl, out, received, p.timeoutError)
			return out
		case <-ctx.Done():
			p.abandon(pl, out, received, func(name string) error {
				if ctx.Err() == context.DeadlineExceeded {
					return p.timeoutError(name)
				}
				return errors.Wrap(ctx.Err(), "pipeline", "execute", name+" cancelled")
			})
			return out
		}
	}
	return out
}

// abandon fills every unfinished slot. Late results are dropped by the
// buffered channel.
func (p *Pipeline) abandon(pl plan, out []outcome, received []bool, reason func(string) error) {
	for i, name := range pl.plugins {
		if received[i] {
			continue
		}
		out[i] = outcome{name: name, err: reason(name), duration: p.cfg.PluginTimeout}
		p.logger.Warn("Plugin abandoned", "plugin", name, "domain", pl.domain, "error", out[i].err)
	}
}

func (p *Pipeline) timeoutError(name string) error {
	return errors.New(errors.ErrTimeout, errors.ErrorTransient, "pipeline", "execute",
		fmt.Sprintf("%s did not finish within %v", name, p.cfg.PluginTimeout))
}

// executeOne resolves one plugin, serves its fragment from cache when it has a
// cache strategy, and otherwise runs it under the plugin timeout.
func (p *Pipeline) executeOne(ctx context.Context, pl plan, name string, data *types.BaseData) outcome {
	impl, ok := p.registry.Get(pl.domain, name)
	if !ok {
		return outcome{name: name, err: errors.New(errors.ErrPluginNotFound, errors.ErrorInvalid,
			"pipeline", "execute", fmt.Sprintf("%s/%s", pl.domain, name))}
	}
	desc, _ := p.registry.Descriptor(pl.domain, name)

	var fragKey string
	if desc.CacheStrategy.Enabled() {
		fragKey = FragmentKey(desc.CacheStrategy.KeyPrefix, pl.domain, pl.ids, pl.scope)
		if !pl.bypass {
			if v, ok := p.fragments.Get(fragKey); ok && v != nil {
				return outcome{name: name, value: v, cached: true}
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PluginTimeout)
	defer cancel()

	req := plugin.Request{
		Domain:    pl.domain,
		EntityIDs: pl.ids,
		Data:      data.Snapshot(),
		Options:   plugin.Options{Scope: pl.scope},
	}

	var res plugin.Result
	if len(pl.ids) > 1 && !desc.SupportsBatch {
		res = p.runPerEntity(ctx, name, impl, req)
	} else {
		res = plugin.Run(ctx, name, impl, req, p.logger)
	}

	if res.Err == nil && fragKey != "" {
		if _, err := p.fragments.SetWithTTL(fragKey, res.Value, desc.CacheStrategy.TTL); err != nil {
			p.logger.Warn("Fragment cache store failed", "key", fragKey, "error", err)
		}
	}
	return outcome{name: name, value: res.Value, err: res.Err, duration: res.Duration}
}

// runPerEntity calls a single-entity plugin once per id and keys the fragments
// by id. The first failure fails the plugin.
func (p *Pipeline) runPerEntity(ctx context.Context, name string, impl plugin.Plugin, req plugin.Request) plugin.Result {
	start := time.Now()
	fragments := make(map[int64]any, len(req.EntityIDs))
	for _, id := range req.EntityIDs {
		single := req
		single.EntityIDs = []int64{id}
		res := plugin.Run(ctx, name, impl, single, p.logger)
		if res.Err != nil {
			res.Duration = time.Since(start)
			return res
		}
		fragments[id] = res.Value
	}
	return plugin.Result{Plugin: name, Value: fragments, Duration: time.Since(start)}
}
