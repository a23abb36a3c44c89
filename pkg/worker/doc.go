// Package worker provides a generic, bounded worker pool.
//
// A Pool runs a fixed number of goroutines that drain a bounded queue of work
// items of any type T. Submit never blocks and returns ErrQueueFull when the
// queue is at capacity; SubmitWait blocks until there is room, the caller's
// context is done, or the pool starts stopping. The batch executor uses
// SubmitWait so a large id list is fanned out at most Workers wide.
//
//	pool := worker.NewPool(16, 256, func(ctx context.Context, job batchJob) error {
//		job.run(ctx)
//		return nil
//	}, worker.WithMetricsRegistry[batchJob](registry, "batch"))
//
//	if err := pool.Start(ctx); err != nil {
//		return err
//	}
//	defer pool.Stop(30 * time.Second)
//
// A panicking processor is recovered and counted as a failure. Statistics are
// always collected; Prometheus metrics are registered only when
// WithMetricsRegistry is given a registry and a prefix.
package worker
