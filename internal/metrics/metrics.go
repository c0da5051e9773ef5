package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Device metrics
	DevicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usbthief_devices_total",
			Help: "Total number of tracked devices by state",
		},
		[]string{"state"},
	)

	NewDevicesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usbthief_new_devices_total",
			Help: "Total number of newly discovered devices",
		},
	)

	// Scheduler / queue metrics
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usbthief_scheduler_queue_depth",
			Help: "Number of priority tasks currently queued",
		},
	)

	AccumulationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usbthief_scheduler_accumulation_cycles_total",
			Help: "Total number of scheduler ticks spent in accumulation mode",
		},
	)

	TasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbthief_scheduler_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to the copy executor by load level",
		},
		[]string{"level"},
	)

	// Copy executor metrics
	ExecutorRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usbthief_executor_rejections_total",
			Help: "Total number of tasks rejected by the bounded worker pool",
		},
	)

	ExecutorActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usbthief_executor_active_workers",
			Help: "Number of worker goroutines currently executing a task",
		},
	)

	CopyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usbthief_copy_duration_seconds",
			Help:    "Time taken to execute a single CopyTask in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CopyResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbthief_copy_results_total",
			Help: "Total number of completed copy tasks by result",
		},
		[]string{"result"},
	)

	BytesCopiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usbthief_bytes_copied_total",
			Help: "Total number of bytes written to the work directory",
		},
	)

	// Load evaluator metrics
	LoadScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usbthief_load_score",
			Help: "Current composite load score (0-100)",
		},
	)

	// Storage / recycler metrics
	StorageFreeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usbthief_storage_free_bytes",
			Help: "Free bytes on the work volume as of the last poll",
		},
	)

	RecyclerBytesFreedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbthief_recycler_bytes_freed_total",
			Help: "Total bytes freed by the recycler by strategy",
		},
		[]string{"strategy"},
	)

	EmptyFoldersDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usbthief_empty_folders_deleted_total",
			Help: "Total number of empty directories removed by the recycler",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DevicesTotal,
		NewDevicesTotal,
		QueueDepth,
		AccumulationCyclesTotal,
		TasksDispatchedTotal,
		ExecutorRejectionsTotal,
		ExecutorActiveWorkers,
		CopyDuration,
		CopyResultsTotal,
		BytesCopiedTotal,
		LoadScore,
		StorageFreeBytes,
		RecyclerBytesFreedTotal,
		EmptyFoldersDeletedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
