package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/biosctl/pkg/progress"
)

// DefaultFleetParallelism is the number of targets reconciled at once when
// no limit is given.
const DefaultFleetParallelism = 10

// TargetRun binds a reconcile request to the channels of its target. Each
// run must have its own channel instances; nothing is shared across targets.
type TargetRun struct {
	Request *ReconcileRequest
	Fast    FastChannel
	Tool    ToolChannel
}

// Fleet reconciles many independent targets concurrently against one
// shared progress monitor.
type Fleet struct {
	monitor     *progress.Monitor
	maxParallel int
	opts        []Option
}

// NewFleet creates a fleet runner. maxParallel <= 0 uses the default.
func NewFleet(monitor *progress.Monitor, maxParallel int, opts ...Option) *Fleet {
	if maxParallel <= 0 {
		maxParallel = DefaultFleetParallelism
	}
	return &Fleet{monitor: monitor, maxParallel: maxParallel, opts: opts}
}

// ReconcileAll runs every target and returns their results in input order.
// A failing target never stops the others; inspect each result.
func (f *Fleet) ReconcileAll(ctx context.Context, runs []TargetRun) []*ReconcileResult {
	results := make([]*ReconcileResult, len(runs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxParallel)
	for i, run := range runs {
		g.Go(func() error {
			c := NewCoordinator(run.Fast, run.Tool, f.monitor, f.opts...)
			// Errors stay in the result so one target cannot cancel the rest.
			results[i], _ = c.Execute(ctx, run.Request)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
