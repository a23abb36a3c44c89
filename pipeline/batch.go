package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/types"
)

// batchTask is one entity of a batch queued on the worker pool. The closure
// carries the request context.
type batchTask struct {
	entityID int64
	run      func()
}

func runBatchTask(_ context.Context, t batchTask) error {
	t.run()
	return nil
}

// ExecuteBatch produces one report per entity. Invalid input fails the whole
// call; everything after validation is reported per entity, so the result has
// exactly one entry per distinct id. That includes a failed gather: every
// uncached entity then carries the gathering error and the call itself succeeds.
func (p *Pipeline) ExecuteBatch(ctx context.Context, domain types.Domain, entityIDs []int64, opts Options) (map[int64]BatchResult, error) {
	start := p.now()

	pl, err := p.plan(domain, entityIDs, opts)
	if err != nil {
		return nil, err
	}

	results := make(map[int64]BatchResult, len(pl.ids))
	keys := make(map[int64]string, len(pl.ids))
	misses := make([]int64, 0, len(pl.ids))
	for _, id := range pl.ids {
		key := ReportKey(pl.domain, []int64{id}, pl.scope, pl.plugins)
		keys[id] = key
		if !pl.bypass {
			if cached, ok := p.reports.Get(key); ok && cached != nil {
				results[id] = BatchResult{Report: cached}
				p.sink.RecordPipeline(string(pl.domain), p.now().Sub(start), metric.OutcomeCacheHit)
				continue
			}
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return results, nil
	}

	data, err := p.gather(ctx, pl.domain, misses, pl.scope)
	if err != nil {
		for _, id := range misses {
			results[id] = BatchResult{Err: err}
			p.sink.RecordPipeline(string(pl.domain), p.now().Sub(start), metric.OutcomeError)
		}
		return results, nil
	}

	for id, r := range p.fanOut(ctx, pl, misses, data, keys, start) {
		results[id] = r
	}

	p.logger.Debug("Batch completed",
		"domain", pl.domain,
		"entities", len(pl.ids),
		"cached", len(pl.ids)-len(misses),
		"duration", p.now().Sub(start))
	return results, nil
}

// runEntity builds one entity's report without committing it.
func (p *Pipeline) runEntity(ctx context.Context, pl plan, id int64, data *types.BaseData, key string) entityReport {
	entity := pl
	entity.ids = []int64{id}
	report, outcomes := p.build(ctx, entity, data.Subset(entity.ids), key, p.now())
	return entityReport{id: id, plan: entity, report: report, outcomes: outcomes}
}

type entityReport struct {
	id       int64
	plan     plan
	report   *types.Report
	outcomes []outcome
}

// accept commits a report that arrived in time.
func (p *Pipeline) accept(ctx context.Context, r entityReport, key string, start time.Time) BatchResult {
	p.commit(ctx, r.plan, key, r.report, r.outcomes)
	p.sink.RecordPipeline(string(r.plan.domain), p.now().Sub(start), metric.OutcomeSuccess)
	return BatchResult{Report: r.report}
}

// fanOut runs each entity's plugins. Concurrent fan-out goes through the
// worker pool when it is running and is joined under the batch timeout;
// entities still running at the deadline are reported as timed out and their
// late reports are dropped uncommitted.
func (p *Pipeline) fanOut(ctx context.Context, pl plan, ids []int64, data *types.BaseData, keys map[int64]string, start time.Time) map[int64]BatchResult {
	out := make(map[int64]BatchResult, len(ids))

	if !pl.parallel || len(ids) == 1 {
		for _, id := range ids {
			out[id] = p.accept(ctx, p.runEntity(ctx, pl, id, data, keys[id]), keys[id], start)
		}
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	done := make(chan entityReport, len(ids))
	dispatched := 0
	for _, id := range ids {
		task := batchTask{entityID: id, run: func() {
			done <- p.runEntity(ctx, pl, id, data, keys[id])
		}}
		if !p.dispatch(ctx, task) {
			break
		}
		dispatched++
	}

join:
	for ; dispatched > 0; dispatched-- {
		select {
		case r := <-done:
			out[r.id] = p.accept(ctx, r, keys[r.id], start)
		case <-ctx.Done():
			break join
		}
	}

	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		err := p.batchAbandoned(ctx, id)
		out[id] = BatchResult{Err: err}
		p.sink.RecordPipeline(string(pl.domain), p.cfg.BatchTimeout, metric.OutcomeTimeout)
		p.logger.Warn("Batch entity abandoned", "domain", pl.domain, "entity_id", id, "error", err)
	}
	return out
}

// dispatch queues task on the pool, or starts a goroutine when the pool is not
// running. It returns false only when ctx ended before the task was queued.
func (p *Pipeline) dispatch(ctx context.Context, task batchTask) bool {
	if p.pool.Running() {
		err := p.pool.SubmitWait(ctx, task)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		p.logger.Debug("Batch pool unavailable, running inline goroutine", "entity_id", task.entityID, "error", err)
	}
	go task.run()
	return true
}

func (p *Pipeline) batchAbandoned(ctx context.Context, id int64) error {
	if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), "pipeline", "ExecuteBatch", fmt.Sprintf("entity %d cancelled", id))
	}
	return errors.New(errors.ErrTimeout, errors.ErrorTransient, "pipeline", "ExecuteBatch",
		fmt.Sprintf("entity %d did not finish within %v", id, p.cfg.BatchTimeout))
}
