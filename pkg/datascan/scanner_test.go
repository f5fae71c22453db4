package datascan

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/openlake/datascan/pkg/datascan/expr"
	"github.com/openlake/datascan/pkg/datascan/internal/arrowtest"
	"github.com/openlake/datascan/pkg/result"
)

var (
	physicalSchema = arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	}, nil)

	targetSchema = arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "year", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	}, nil)
)

// yearFragment builds an in-memory fragment partitioned by year, with one
// scan task per batch of values.
func yearFragment(t *testing.T, alloc memory.Allocator, year int32, batches ...[]int32) *InMemoryFragment {
	t.Helper()

	records := make([]arrow.Record, 0, len(batches))
	for _, values := range batches {
		rows := make(arrowtest.Rows, 0, len(values))
		for _, v := range values {
			rows = append(rows, map[string]any{"a": v})
		}
		records = append(records, rows.Record(alloc, physicalSchema))
	}

	fragment := NewInMemoryFragment(expr.Eq(expr.Col("year"), expr.Lit(year)), records...)
	for _, record := range records {
		record.Release()
	}

	t.Cleanup(fragment.Release)
	return fragment
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func collectRows(t *testing.T, records []arrow.Record) arrowtest.Rows {
	t.Helper()

	var out arrowtest.Rows
	for _, record := range records {
		rows, err := arrowtest.RecordRows(record)
		require.NoError(t, err)
		out = append(out, rows...)
	}
	return out
}

func TestScanTasks(t *testing.T) {
	t.Run("two fragments with two tasks each flatten to four", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		fragments := FragmentSeq(
			yearFragment(t, alloc, 2009, []int32{1}, []int32{2}),
			yearFragment(t, alloc, 2015, []int32{3}, []int32{4}),
		)
		opts := &ScanOptions{Projector: NewProjector(targetSchema)}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.NoError(t, err)
		require.Len(t, tasks, 4)

		// Every task carries its originating fragment's partition value into
		// the projected output.
		var got arrowtest.Rows
		for _, task := range tasks {
			seq, err := task.Execute(t.Context())
			require.NoError(t, err)

			records, err := result.Collect(seq)
			require.NoError(t, err)
			got = append(got, collectRows(t, records)...)
			releaseAll(records)
		}

		require.ElementsMatch(t, arrowtest.Rows{
			{"a": int32(1), "year": int32(2009)},
			{"a": int32(2), "year": int32(2009)},
			{"a": int32(3), "year": int32(2015)},
			{"a": int32(4), "year": int32(2015)},
		}, got)
	})

	t.Run("excluded partition yields zero rows without pruning", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		fragments := FragmentSeq(yearFragment(t, alloc, 2009, []int32{1, 2, 3}))
		opts := &ScanOptions{
			Filter:    expr.Eq(expr.Col("year"), expr.Lit(int32(2015))),
			Projector: NewProjector(targetSchema),
		}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.NoError(t, err)
		require.Len(t, tasks, 1, "the filter check itself touches no physical data")

		seq, err := tasks[0].Execute(t.Context())
		require.NoError(t, err)
		records, err := result.Collect(seq)
		require.NoError(t, err)
		defer releaseAll(records)

		var rows int64
		for _, record := range records {
			rows += record.NumRows()
			require.True(t, record.Schema().Equal(targetSchema))
		}
		require.Equal(t, int64(0), rows, "simplified filter is statically false")
	})

	t.Run("fragment pruning skips excluded partitions", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		skipped := yearFragment(t, alloc, 2009, []int32{1, 2, 3})
		skipped.SetSkipWhenExcluded(true)
		kept := yearFragment(t, alloc, 2015, []int32{4})
		kept.SetSkipWhenExcluded(true)

		opts := &ScanOptions{
			Filter:    expr.Eq(expr.Col("year"), expr.Lit(int32(2015))),
			Projector: NewProjector(targetSchema),
		}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), FragmentSeq(skipped, kept), opts, sctx))
		require.NoError(t, err)
		require.Len(t, tasks, 1, "excluded fragment contributes no tasks")
	})

	t.Run("matching partition passes all rows", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		fragments := FragmentSeq(yearFragment(t, alloc, 2015, []int32{1, 2}))
		opts := &ScanOptions{
			Filter:    expr.Eq(expr.Col("year"), expr.Lit(int32(2015))),
			Projector: NewProjector(targetSchema),
		}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		seq, err := tasks[0].Execute(t.Context())
		require.NoError(t, err)
		records, err := result.Collect(seq)
		require.NoError(t, err)
		defer releaseAll(records)

		require.Equal(t, arrowtest.Rows{
			{"a": int32(1), "year": int32(2015)},
			{"a": int32(2), "year": int32(2015)},
		}, collectRows(t, records))
	})

	t.Run("nil scan context uses defaults", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		fragments := FragmentSeq(yearFragment(t, alloc, 2009, []int32{1}))
		opts := &ScanOptions{Projector: NewProjector(targetSchema)}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, nil))
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		seq, err := tasks[0].Execute(t.Context())
		require.NoError(t, err)
		records, err := result.Collect(seq)
		require.NoError(t, err)
		defer releaseAll(records)

		require.Equal(t, arrowtest.Rows{
			{"a": int32(1), "year": int32(2009)},
		}, collectRows(t, records))
	})

	t.Run("fragment scan failure terminates the task sequence", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		healthy := yearFragment(t, alloc, 2009, []int32{1})
		fragments := FragmentSeq(healthy, &failingFragment{}, yearFragment(t, alloc, 2015, []int32{2}))

		opts := &ScanOptions{Projector: NewProjector(targetSchema)}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), fragments, opts, sctx))
		require.ErrorIs(t, err, ErrIO)
		require.Len(t, tasks, 1, "tasks before the failure are preserved")
	})

	t.Run("task execution failure leaves sibling tasks unaffected", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		fragment := &mixedFragment{healthy: yearFragment(t, alloc, 2009, []int32{1})}
		opts := &ScanOptions{Projector: NewProjector(targetSchema)}
		sctx := &ScanContext{Allocator: alloc}

		tasks, err := result.Collect(ScanTasks(t.Context(), FragmentSeq(fragment), opts, sctx))
		require.NoError(t, err)
		require.Len(t, tasks, 2)

		_, err = tasks[0].Execute(t.Context())
		require.ErrorIs(t, err, ErrIO, "first task fails")

		seq, err := tasks[1].Execute(t.Context())
		require.NoError(t, err)
		records, err := result.Collect(seq)
		require.NoError(t, err, "sibling task still executes")
		defer releaseAll(records)

		require.Equal(t, arrowtest.Rows{
			{"a": int32(1), "year": int32(2009)},
		}, collectRows(t, records))
	})
}

func TestScanner(t *testing.T) {
	newScanner := func(t *testing.T, alloc memory.Allocator, metrics *Metrics, concurrency int) *Scanner {
		t.Helper()

		fragments := []Fragment{
			yearFragment(t, alloc, 2009, []int32{1, 2}, []int32{3}),
			yearFragment(t, alloc, 2015, []int32{4}, []int32{5, 6}),
		}
		opts := &ScanOptions{
			Filter:    expr.Gte(expr.Col("a"), expr.Lit(int32(2))),
			Projector: NewProjector(targetSchema),
		}
		sctx := &ScanContext{Allocator: alloc, Metrics: metrics, Concurrency: concurrency}

		scanner, err := NewScanner(fragments, opts, sctx)
		require.NoError(t, err)
		return scanner
	}

	wantRows := arrowtest.Rows{
		{"a": int32(2), "year": int32(2009)},
		{"a": int32(3), "year": int32(2009)},
		{"a": int32(4), "year": int32(2015)},
		{"a": int32(5), "year": int32(2015)},
		{"a": int32(6), "year": int32(2015)},
	}

	t.Run("sequential batch stream", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		scanner := newScanner(t, alloc, nil, 1)

		records, err := result.Collect(scanner.ScanBatches(t.Context()))
		require.NoError(t, err)
		defer releaseAll(records)

		require.Equal(t, wantRows, collectRows(t, records), "batch order matches task order")
	})

	t.Run("parallel collection equals sequential", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		sequential, err := newScanner(t, alloc, nil, 1).ToRecords(t.Context())
		require.NoError(t, err)
		defer releaseAll(sequential)

		parallel, err := newScanner(t, alloc, nil, 4).ToRecords(t.Context())
		require.NoError(t, err)
		defer releaseAll(parallel)

		require.Equal(t, collectRows(t, sequential), collectRows(t, parallel))
		require.Equal(t, wantRows, collectRows(t, parallel))
	})

	t.Run("concurrent execution is isolated per task", func(t *testing.T) {
		// Tasks derived from the same ScanOptions share the projection
		// template but never its working state; executing them concurrently
		// must produce the same rows as running them one by one.
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		for range 20 {
			records, err := newScanner(t, alloc, nil, 4).ToRecords(t.Context())
			require.NoError(t, err)

			got := collectRows(t, records)
			sort.Slice(got, func(i, j int) bool { return got[i]["a"].(int32) < got[j]["a"].(int32) })
			require.Equal(t, wantRows, got)
			releaseAll(records)
		}
	})

	t.Run("metrics observe the scan", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		metrics := NewMetrics()
		require.NoError(t, metrics.Register(prometheus.NewRegistry()))

		records, err := newScanner(t, alloc, metrics, 2).ToRecords(t.Context())
		require.NoError(t, err)
		defer releaseAll(records)

		require.Equal(t, float64(4), testutil.ToFloat64(metrics.tasksStarted))
		require.Equal(t, float64(0), testutil.ToFloat64(metrics.tasksFailed))
		require.Equal(t, float64(4), testutil.ToFloat64(metrics.batchesRead))
		require.Equal(t, float64(6), testutil.ToFloat64(metrics.rowsRead))
		require.Equal(t, float64(5), testutil.ToFloat64(metrics.rowsEmitted))
		require.Equal(t, uint64(4), histogramCount(t, metrics.taskDuration), "one duration sample per task")
	})

	t.Run("metrics count reads without a filter", func(t *testing.T) {
		alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
		t.Cleanup(func() { alloc.AssertSize(t, 0) })

		metrics := NewMetrics()
		fragments := []Fragment{yearFragment(t, alloc, 2009, []int32{1, 2}, []int32{3})}
		opts := &ScanOptions{Projector: NewProjector(targetSchema)}
		sctx := &ScanContext{Allocator: alloc, Metrics: metrics}

		scanner, err := NewScanner(fragments, opts, sctx)
		require.NoError(t, err)

		records, err := scanner.ToRecords(t.Context())
		require.NoError(t, err)
		defer releaseAll(records)

		require.Equal(t, float64(2), testutil.ToFloat64(metrics.batchesRead))
		require.Equal(t, float64(3), testutil.ToFloat64(metrics.rowsRead))
		require.Equal(t, float64(3), testutil.ToFloat64(metrics.rowsEmitted))
		require.Equal(t, uint64(2), histogramCount(t, metrics.taskDuration))
	})

	t.Run("requires a projection template", func(t *testing.T) {
		_, err := NewScanner(nil, &ScanOptions{}, nil)
		require.ErrorIs(t, err, ErrConfiguration)
	})
}

// failingFragment fails at scan time, before producing any task.
type failingFragment struct{}

func (f *failingFragment) PartitionExpression() expr.Expr { return nil }

func (f *failingFragment) Scan(context.Context, *ScanOptions, *ScanContext) (result.Seq[ScanTask], error) {
	return nil, fmt.Errorf("reading fragment listing: %w", ErrIO)
}

// mixedFragment yields one failing task followed by the tasks of a
// healthy fragment.
type mixedFragment struct {
	healthy Fragment
}

func (f *mixedFragment) PartitionExpression() expr.Expr { return f.healthy.PartitionExpression() }

func (f *mixedFragment) Scan(ctx context.Context, opts *ScanOptions, sctx *ScanContext) (result.Seq[ScanTask], error) {
	inner, err := f.healthy.Scan(ctx, opts, sctx)
	if err != nil {
		return nil, err
	}

	return result.Flatten(result.Values(
		result.Values[ScanTask](&failingTask{}),
		inner,
	)), nil
}

type failingTask struct{}

func (t *failingTask) Execute(context.Context) (result.Seq[arrow.Record], error) {
	return nil, fmt.Errorf("reading data: %w", ErrIO)
}
