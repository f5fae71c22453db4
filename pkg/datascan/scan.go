// Package datascan turns a collection of heterogeneous data sources
// (fragments) into a single lazily-evaluated stream of filtered,
// partition-aware, schema-projected record batches. Nothing is read or
// materialized until a consumer pulls it.
//
// Fragments produce scan tasks; [ScanTasks] decorates every task with
// filter simplification, filter evaluation, and projection, and flattens
// them into one sequence. Distinct tasks are safe to execute concurrently:
// each owns its simplified filter and its private projector copy.
package datascan

import (
	"context"
	"runtime"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"

	"github.com/openlake/datascan/pkg/datascan/expr"
	"github.com/openlake/datascan/pkg/result"
)

// ScanOptions bundles the per-scan configuration. It is immutable once a
// scan starts and shared read-only across all tasks of the scan.
type ScanOptions struct {
	// Filter is the boolean filter expression applied to every batch. A nil
	// Filter matches all rows.
	Filter expr.Expr

	// Projector is the projection template mapping batches onto the scan's
	// target schema. Required. Tasks never mutate the template; each derives
	// its own working copy.
	Projector *Projector

	// Evaluator evaluates the filter against batches. Defaults to
	// [expr.VectorEvaluator].
	Evaluator expr.Evaluator
}

func (o *ScanOptions) evaluator() expr.Evaluator {
	if o.Evaluator == nil {
		return expr.VectorEvaluator{}
	}
	return o.Evaluator
}

// ScanContext bundles the execution-wide resources of a scan. It is
// immutable once a scan starts and shared read-only across all tasks.
type ScanContext struct {
	// Allocator provides intermediate buffers. Must be safe for concurrent
	// use by independent tasks. Defaults to [memory.DefaultAllocator].
	Allocator memory.Allocator

	// Logger for scan diagnostics. Defaults to a nop logger.
	Logger log.Logger

	// Metrics, if set, records scan activity.
	Metrics *Metrics

	// Concurrency bounds parallel task execution in [Scanner.ToRecords].
	// Defaults to [runtime.GOMAXPROCS].
	Concurrency int
}

func (c *ScanContext) allocator() memory.Allocator {
	if c.Allocator == nil {
		return memory.DefaultAllocator
	}
	return c.Allocator
}

func (c *ScanContext) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNopLogger()
	}
	return c.Logger
}

func (c *ScanContext) concurrency() int {
	if c.Concurrency <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Concurrency
}

// A ScanTask is one schedulable piece of scan work bound to one fragment.
// Executing it yields a lazy batch sequence; the consumer owns each pulled
// batch and must release it. An error item terminates the sequence.
//
// A ScanTask is single-use and owned by one goroutine, but distinct tasks
// may execute concurrently.
type ScanTask interface {
	Execute(ctx context.Context) (result.Seq[arrow.Record], error)
}

// A Fragment is one physical or logical data source with an attached
// partition expression.
type Fragment interface {
	// PartitionExpression returns the predicate (typically a conjunction of
	// equalities) describing constant column values implied by the
	// fragment's origin. It may be nil and never changes after creation.
	PartitionExpression() expr.Expr

	// Scan produces the fragment's raw scan tasks. Implementations may
	// consult opts.Filter (simplified against their partition expression) to
	// prune work and return fewer tasks than physically present; this is an
	// optimization, not a correctness requirement. Failures wrap [ErrIO] or
	// [ErrSchemaMismatch].
	Scan(ctx context.Context, opts *ScanOptions, sctx *ScanContext) (result.Seq[ScanTask], error)
}

// FragmentSeq adapts a fragment slice into a lazy fragment sequence.
func FragmentSeq(fragments ...Fragment) result.Seq[Fragment] {
	return result.Values(fragments...)
}
