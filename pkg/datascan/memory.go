package datascan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"

	"github.com/openlake/datascan/pkg/datascan/expr"
	"github.com/openlake/datascan/pkg/result"
)

// An InMemoryFragment serves record batches already held in memory, one
// scan task per batch. It retains its batches until released.
type InMemoryFragment struct {
	partition expr.Expr
	batches   []arrow.Record

	skipWhenExcluded bool
}

var _ Fragment = (*InMemoryFragment)(nil)

// NewInMemoryFragment creates a fragment over the given batches with an
// attached partition expression (may be nil). The fragment retains every
// batch; release the fragment with [InMemoryFragment.Release] when the
// scan is done.
func NewInMemoryFragment(partition expr.Expr, batches ...arrow.Record) *InMemoryFragment {
	for _, batch := range batches {
		batch.Retain()
	}
	return &InMemoryFragment{partition: partition, batches: batches}
}

// SetSkipWhenExcluded enables filter-based pruning: when the scan filter,
// simplified against the fragment's partition expression, is statically
// false, Scan returns no tasks at all instead of producing all-excluded
// batches.
func (f *InMemoryFragment) SetSkipWhenExcluded(skip bool) { f.skipWhenExcluded = skip }

// PartitionExpression implements Fragment.
func (f *InMemoryFragment) PartitionExpression() expr.Expr { return f.partition }

// Scan implements Fragment.
func (f *InMemoryFragment) Scan(_ context.Context, opts *ScanOptions, sctx *ScanContext) (result.Seq[ScanTask], error) {
	if f.skipWhenExcluded && opts.Filter != nil {
		if expr.IsAlwaysFalse(expr.SimplifyGiven(opts.Filter, f.partition)) {
			level.Debug(sctx.logger()).Log("msg", "skipping fragment, filter excludes partition", "partition", f.partition)
			return result.Values[ScanTask](), nil
		}
	}

	return result.Iter(func(yield func(ScanTask) bool) error {
		for _, batch := range f.batches {
			if !yield(&inMemoryScanTask{batch: batch}) {
				return nil
			}
		}
		return nil
	}), nil
}

// Release drops the fragment's references to its batches.
func (f *InMemoryFragment) Release() {
	for _, batch := range f.batches {
		batch.Release()
	}
	f.batches = nil
}

type inMemoryScanTask struct {
	batch arrow.Record
}

var _ ScanTask = (*inMemoryScanTask)(nil)

// Execute implements ScanTask. The yielded batch is retained for the
// consumer; the fragment keeps its own reference.
func (t *inMemoryScanTask) Execute(ctx context.Context) (result.Seq[arrow.Record], error) {
	return result.Iter(func(yield func(arrow.Record) bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Ownership of the extra reference transfers to the consumer on yield.
		t.batch.Retain()
		yield(t.batch)
		return nil
	}), nil
}
