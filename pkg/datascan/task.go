package datascan

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/openlake/datascan/pkg/datascan/expr"
	"github.com/openlake/datascan/pkg/result"
)

// filterProjectTask decorates a raw scan task with filter simplification,
// filter evaluation, and projection. It owns the fragment's partition
// expression (shared, read-only), the simplified filter (computed once on
// first execution), and a private working copy of the projection template.
type filterProjectTask struct {
	inner     ScanTask
	partition expr.Expr
	opts      *ScanOptions
	sctx      *ScanContext

	// The projector copy is made at construction, not per batch: default
	// value population depends only on the partition expression, which is
	// constant for the task's lifetime. Its scratch buffers are reused
	// across this task's batches only.
	projector *Projector

	simplified bool
	filter     expr.Expr
}

var _ ScanTask = (*filterProjectTask)(nil)

func newFilterProjectTask(inner ScanTask, partition expr.Expr, opts *ScanOptions, sctx *ScanContext) *filterProjectTask {
	return &filterProjectTask{
		inner:     inner,
		partition: partition,
		opts:      opts,
		sctx:      sctx,
		projector: opts.Projector.Clone(),
	}
}

// Execute implements ScanTask.
func (t *filterProjectTask) Execute(ctx context.Context) (result.Seq[arrow.Record], error) {
	start := time.Now()
	t.sctx.Metrics.taskStarted()

	if !t.simplified {
		t.filter = expr.SimplifyGiven(t.opts.Filter, t.partition)
		t.simplified = true
	}

	seq, err := t.inner.Execute(ctx)
	if err != nil {
		t.sctx.Metrics.taskFailed()
		return nil, err
	}

	seq = t.sctx.Metrics.observeReads(seq)

	// Evaluation always runs, even when the simplified filter is statically
	// false; a fragment that wants to skip physical reads does so in Scan.
	seq = filterRecords(seq, t.opts.evaluator(), t.filter, t.sctx.allocator())

	if t.partition != nil {
		if err := t.projector.SetDefaultValuesFrom(t.partition); err != nil {
			t.sctx.Metrics.taskFailed()
			return nil, err
		}
	}
	seq = projectRecords(seq, t.projector, t.sctx.allocator())

	return t.sctx.Metrics.observe(start, recoverRecords(seq)), nil
}

// filterRecords wraps a batch sequence with filter application. Each batch
// is consumed: the evaluated selection mask is applied and a new batch
// yielded. A nil filter leaves the sequence untouched.
func filterRecords(seq result.Seq[arrow.Record], ev expr.Evaluator, filter expr.Expr, alloc memory.Allocator) result.Seq[arrow.Record] {
	if filter == nil {
		return seq
	}

	return result.TryMap(seq, func(batch arrow.Record) (arrow.Record, error) {
		defer batch.Release()

		mask, err := ev.Evaluate(filter, batch, alloc)
		if err != nil {
			return nil, err
		}
		defer mask.Release()

		return ev.Filter(mask, batch, alloc), nil
	})
}

// projectRecords wraps a batch sequence with projection onto the target
// schema. The projector must be a task-private copy; its working buffers
// are not safe to share across tasks.
func projectRecords(seq result.Seq[arrow.Record], projector *Projector, alloc memory.Allocator) result.Seq[arrow.Record] {
	return result.TryMap(seq, func(batch arrow.Record) (arrow.Record, error) {
		defer batch.Release()
		return projector.Project(batch, alloc)
	})
}

// recoverRecords converts panics raised while pulling seq (allocator
// exhaustion, in particular) into a terminal error item instead of
// unwinding the consumer.
func recoverRecords(seq result.Seq[arrow.Record]) result.Seq[arrow.Record] {
	return func(yield func(result.Result[arrow.Record]) bool) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			yield(result.Error[arrow.Record](fmt.Errorf("scan task panicked: %w", err)))
		}()

		seq(yield)
	}
}
