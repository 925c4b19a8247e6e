// Package metrics registers the Prometheus collectors this system's four
// control loops update. Nothing in this module serves them over HTTP —
// there is no public network API (see spec.md Non-goals) — an operator
// mounts promhttp.Handler() in their own process or scrapes the default
// registry directly.
package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	// Task store / consumer metrics
	TasksLeased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksqueue_tasks_leased_total",
			Help: "Total number of tasks handed out by lease_batch",
		},
	)

	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksqueue_tasks_completed_total",
			Help: "Total number of tasks marked completed",
		},
	)

	TasksFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksqueue_tasks_failed_total",
			Help: "Total number of tasks marked failed",
		},
	)

	TaskProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tasksqueue_task_processing_duration_seconds",
			Help:    "Simulated task processing duration in seconds",
			Buckets: prometheus.LinearBuckets(5, 1, 16), // 5s..20s
		},
	)

	// Rescheduler metrics
	RetryMapSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasksqueue_retry_map_size",
			Help: "Current size of the rescheduler's in-memory retry map",
		},
	)

	TasksRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksqueue_tasks_requeued_total",
			Help: "Total number of failed tasks moved back to pending by the rescheduler",
		},
	)

	// Supervisor metrics
	FleetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasksqueue_fleet_size",
			Help: "Number of running consumer worker containers seen at the supervisor's last load check",
		},
	)

	WorkersSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksqueue_workers_spawned_total",
			Help: "Total number of consumer worker containers created",
		},
	)

	WorkersDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasksqueue_workers_drained_total",
			Help: "Total number of consumer worker containers stopped and removed",
		},
	)

	// Cross-component store latency
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasksqueue_store_operation_duration_seconds",
			Help:    "Task store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)
)

// RecordTaskLeased increments the leased-task counter by the batch size
// actually returned by lease_batch (may be less than requested).
func RecordTaskLeased(n int) {
	TasksLeased.Add(float64(n))
}

// RecordTaskOutcome increments the completed or failed counter and
// observes the processing duration.
func RecordTaskOutcome(completed bool, duration float64) {
	TaskProcessingDuration.Observe(duration)
	if completed {
		TasksCompleted.Inc()
	} else {
		TasksFailed.Inc()
	}
}

// SetRetryMapSize sets the retry map size gauge.
func SetRetryMapSize(n int) {
	RetryMapSize.Set(float64(n))
}

// RecordRequeued adds n to the requeued counter.
func RecordRequeued(n int) {
	TasksRequeued.Add(float64(n))
}

// SetFleetSize sets the fleet size gauge.
func SetFleetSize(n int) {
	FleetSize.Set(float64(n))
}

// RecordStoreOperation observes the duration of a task store call.
func RecordStoreOperation(operation string, seconds float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(seconds)
}

// WriteTo dumps every registered metric to w in Prometheus text exposition
// format. None of this module's binaries run an HTTP server to expose
// metrics (no public network API — see spec Non-goals); this is the
// escape hatch for an operator who wants a one-shot text snapshot without
// standing one up. No cmd in this repo calls WriteTo or mounts
// promhttp.Handler() — an operator who wants metrics over HTTP wires that
// into their own process.
func WriteTo(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
