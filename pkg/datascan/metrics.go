package datascan

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openlake/datascan/pkg/result"
)

// Metrics records scan activity. All methods are nil-safe so that
// instrumentation stays optional.
type Metrics struct {
	tasksStarted   prometheus.Counter
	tasksFailed    prometheus.Counter
	batchesRead    prometheus.Counter
	rowsRead       prometheus.Counter
	batchesEmitted prometheus.Counter
	rowsEmitted    prometheus.Counter
	taskDuration   prometheus.Histogram
}

// NewMetrics creates the scan metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datascan_tasks_started_total",
			Help: "Total number of scan tasks whose execution started",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datascan_tasks_failed_total",
			Help: "Total number of scan tasks that terminated with an error",
		}),
		batchesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datascan_batches_read_total",
			Help: "Total number of record batches read from fragments before filtering",
		}),
		rowsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datascan_rows_read_total",
			Help: "Total number of rows read from fragments before filtering",
		}),
		batchesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datascan_batches_emitted_total",
			Help: "Total number of record batches emitted after filtering and projection",
		}),
		rowsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "datascan_rows_emitted_total",
			Help: "Total number of rows emitted after filtering and projection",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:                            "datascan_task_duration_seconds",
			Help:                            "Time taken to execute one scan task to exhaustion in seconds",
			Buckets:                         prometheus.DefBuckets,
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),
	}
}

// Register registers all collectors with reg. Collectors that are already
// registered are tolerated.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.tasksStarted,
		m.tasksFailed,
		m.batchesRead,
		m.rowsRead,
		m.batchesEmitted,
		m.rowsEmitted,
		m.taskDuration,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
}

func (m *Metrics) taskFailed() {
	if m == nil {
		return
	}
	m.tasksFailed.Inc()
}

// observeReads wraps a task's raw batch sequence to count batches and
// rows read from the fragment, before any filtering.
func (m *Metrics) observeReads(seq result.Seq[arrow.Record]) result.Seq[arrow.Record] {
	if m == nil {
		return seq
	}

	return result.Map(seq, func(batch arrow.Record) arrow.Record {
		m.batchesRead.Inc()
		m.rowsRead.Add(float64(batch.NumRows()))
		return batch
	})
}

// observe wraps a task's output sequence to count emitted batches and
// rows and terminal failures, and to record the task's duration from
// start once the sequence terminates.
func (m *Metrics) observe(start time.Time, seq result.Seq[arrow.Record]) result.Seq[arrow.Record] {
	if m == nil {
		return seq
	}

	return func(yield func(result.Result[arrow.Record]) bool) {
		defer func() {
			m.taskDuration.Observe(time.Since(start).Seconds())
		}()

		seq(func(r result.Result[arrow.Record]) bool {
			if r.Err() != nil {
				m.tasksFailed.Inc()
				yield(r)
				return false
			}

			batch := r.MustValue()
			m.batchesEmitted.Inc()
			m.rowsEmitted.Add(float64(batch.NumRows()))
			return yield(r)
		})
	}
}
