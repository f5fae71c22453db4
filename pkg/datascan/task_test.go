package datascan

import (
	"context"
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/openlake/datascan/pkg/datascan/expr"
	"github.com/openlake/datascan/pkg/result"
)

// recordingEvaluator remembers every filter expression it is asked to
// evaluate.
type recordingEvaluator struct {
	expr.VectorEvaluator

	seen []expr.Expr
}

func (e *recordingEvaluator) Evaluate(ex expr.Expr, batch arrow.Record, alloc memory.Allocator) (*array.Boolean, error) {
	e.seen = append(e.seen, ex)
	return e.VectorEvaluator.Evaluate(ex, batch, alloc)
}

func TestFilterProjectTask(t *testing.T) {
	t.Run("evaluator receives the simplified filter", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		evaluator := &recordingEvaluator{}
		fragments := FragmentSeq(yearFragment(t, alloc, 2009, []int32{1}, []int32{2}))
		opts := &ScanOptions{
			Filter:    expr.Eq(expr.Col("year"), expr.Lit(int32(2015))),
			Projector: NewProjector(targetSchema),
			Evaluator: evaluator,
		}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.NoError(t, err)

		for _, task := range tasks {
			seq, err := task.Execute(t.Context())
			require.NoError(t, err)
			records, err := result.Collect(seq)
			require.NoError(t, err)
			releaseAll(records)
		}

		require.Len(t, evaluator.seen, 2, "one evaluation per batch")
		for _, seen := range evaluator.seen {
			require.True(t, expr.IsAlwaysFalse(seen),
				"partition year=2009 trivializes the year=2015 filter before evaluation")
		}
	})

	t.Run("projection template stays untouched", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		template := NewProjector(targetSchema)
		fragments := FragmentSeq(yearFragment(t, alloc, 2009, []int32{1}))
		opts := &ScanOptions{Projector: template}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.NoError(t, err)

		seq, err := tasks[0].Execute(t.Context())
		require.NoError(t, err)
		records, err := result.Collect(seq)
		require.NoError(t, err)
		releaseAll(records)

		for _, slot := range template.defaults {
			require.Nil(t, slot, "partition defaults bind to the task's private copy only")
		}
	})

	t.Run("evaluation error terminates the batch sequence", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		fragments := FragmentSeq(yearFragment(t, alloc, 2009, []int32{1}))
		opts := &ScanOptions{
			// "month" is neither physical nor bound by the partition.
			Filter:    expr.Eq(expr.Col("month"), expr.Lit(int32(6))),
			Projector: NewProjector(targetSchema),
		}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.NoError(t, err)

		seq, err := tasks[0].Execute(t.Context())
		require.NoError(t, err, "execution starts fine, the failure surfaces on pull")

		records, err := result.Collect(seq)
		require.ErrorIs(t, err, expr.ErrEvaluate)
		require.Empty(t, records)
	})

	t.Run("panic while pulling becomes a terminal error item", func(t *testing.T) {
		opts := &ScanOptions{Projector: NewProjector(targetSchema)}
		sctx := &ScanContext{}

		task := newFilterProjectTask(&panickingTask{}, nil, opts, sctx)
		seq, err := task.Execute(t.Context())
		require.NoError(t, err)

		records, err := result.Collect(seq)
		require.ErrorIs(t, err, ErrOutOfMemory)
		require.Empty(t, records)
	})
}

// panickingTask simulates allocator exhaustion while producing a batch.
type panickingTask struct{}

func (t *panickingTask) Execute(ctx context.Context) (result.Seq[arrow.Record], error) {
	return func(yield func(result.Result[arrow.Record]) bool) {
		panic(fmt.Errorf("allocating batch buffer: %w", ErrOutOfMemory))
	}, nil
}
