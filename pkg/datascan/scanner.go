package datascan

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/openlake/datascan/pkg/result"
)

var tracer = otel.Tracer("pkg/datascan")

// ScanTasks composes a sequence of fragments into a single flattened
// sequence of decorated scan tasks, ready for independent (possibly
// parallel) execution by the caller.
//
// For each fragment, pulled lazily one at a time, the fragment's raw task
// sequence is obtained and every task wrapped with the filter+projection
// decorator, capturing the fragment's partition expression by shared
// reference. A fragment scan failure surfaces as the next item and
// terminates the flattened sequence. No task executes during composition.
//
// A nil sctx uses defaults throughout.
func ScanTasks(ctx context.Context, fragments result.Seq[Fragment], opts *ScanOptions, sctx *ScanContext) result.Seq[ScanTask] {
	if sctx == nil {
		sctx = &ScanContext{}
	}

	perFragment := result.TryMap(fragments, func(fragment Fragment) (result.Seq[ScanTask], error) {
		tasks, err := fragment.Scan(ctx, opts, sctx)
		if err != nil {
			return nil, fmt.Errorf("scanning fragment: %w", err)
		}

		partition := fragment.PartitionExpression()
		return result.Map(tasks, func(task ScanTask) ScanTask {
			return newFilterProjectTask(task, partition, opts, sctx)
		}), nil
	})

	return result.Flatten(perFragment)
}

// A Scanner binds fragments to scan options and offers convenience
// surfaces over [ScanTasks]: sequential batch streaming and parallel
// collection.
type Scanner struct {
	fragments []Fragment
	opts      *ScanOptions
	sctx      *ScanContext
}

// NewScanner creates a Scanner over the given fragments. opts.Projector is
// required; a nil sctx uses defaults throughout.
func NewScanner(fragments []Fragment, opts *ScanOptions, sctx *ScanContext) (*Scanner, error) {
	if opts == nil || opts.Projector == nil {
		return nil, fmt.Errorf("scanner: options must carry a projection template: %w", ErrConfiguration)
	}
	if sctx == nil {
		sctx = &ScanContext{}
	}

	return &Scanner{fragments: fragments, opts: opts, sctx: sctx}, nil
}

// ScanTasks returns the scan's decorated task sequence.
func (s *Scanner) ScanTasks(ctx context.Context) result.Seq[ScanTask] {
	return ScanTasks(ctx, FragmentSeq(s.fragments...), s.opts, s.sctx)
}

// ScanBatches executes tasks sequentially, in task order, and flattens
// their batch sequences into one. The consumer owns each pulled batch.
func (s *Scanner) ScanBatches(ctx context.Context) result.Seq[arrow.Record] {
	executed := result.TryMap(s.ScanTasks(ctx), func(task ScanTask) (result.Seq[arrow.Record], error) {
		return task.Execute(ctx)
	})
	return result.Flatten(executed)
}

// ToRecords executes all tasks, fanning out across at most
// [ScanContext.Concurrency] goroutines, and collects every emitted batch
// in task order. On any failure the whole scan aborts, previously
// collected batches are released, and the first error is returned; callers
// wanting partial-result semantics should consume [Scanner.ScanTasks]
// themselves.
func (s *Scanner) ToRecords(ctx context.Context) ([]arrow.Record, error) {
	ctx, span := tracer.Start(ctx, "Scanner.ToRecords")
	defer span.End()

	tasks, err := result.Collect(s.ScanTasks(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("num_tasks", len(tasks)))

	collected := make([][]arrow.Record, len(tasks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sctx.concurrency())

	for i, task := range tasks {
		g.Go(func() error {
			records, err := executeTask(ctx, i, task)
			if err != nil {
				level.Warn(s.sctx.logger()).Log("msg", "scan task failed", "task", i, "err", err)
				return err
			}
			collected[i] = records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, records := range collected {
			releaseAll(records)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var out []arrow.Record
	for _, records := range collected {
		out = append(out, records...)
	}
	return out, nil
}

// executeTask runs one task to exhaustion, collecting its batches.
func executeTask(ctx context.Context, index int, task ScanTask) ([]arrow.Record, error) {
	ctx, span := tracer.Start(ctx, "Scanner.executeTask")
	span.SetAttributes(attribute.Int("task", index))
	defer span.End()

	seq, err := task.Execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	records, err := result.Collect(seq)
	if err != nil {
		releaseAll(records)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return records, nil
}

func releaseAll(records []arrow.Record) {
	for _, record := range records {
		record.Release()
	}
}
