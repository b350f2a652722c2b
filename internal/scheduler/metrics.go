package scheduler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultInferenceTimeBuckets mirrors lib/metrics.py's Metrics class default
// histogram buckets (seconds) for task_inference_time. The registered
// collector uses them for every task, including tasks given buckets via
// WithInferenceTimeBuckets.
var defaultInferenceTimeBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90, 120, 200}

// batchSizeBuckets mirrors lib/metrics.py's batch_sizes histogram buckets —
// fixed, not configurable per task, since batch size is bounded by a single
// scheduler-wide MaxBatchSize.
var batchSizeBuckets = []float64{1, 2, 4, 6, 8, 16, 32, 64}

// Metrics is the Metrics Sink (spec.md §6): a pure observer over the
// scheduler's internals, built once per scheduler instance and registered
// into a caller-owned *prometheus.Registry — the same construction style as
// internal/platform/metrics.NewMetrics(namespace), scaled down to this
// package's four named series.
type Metrics struct {
	BatchQueueSize             prometheus.Gauge
	TaskQueueSize              *prometheus.GaugeVec
	BatchSizes                 prometheus.Histogram
	TaskInferenceTime          *prometheus.HistogramVec
	inferenceTimeBucketsByTask map[string][]float64

	avgMu          sync.Mutex
	recentAvgBatch float64
	haveAvgBatch   bool
}

// NewMetrics constructs the four series spec.md §6 names, under namespace
// (typically "inference"). Callers register the returned *Metrics with
// reg; passing a fresh registry per test avoids the "duplicate metrics
// collector registration" panic across table-driven test cases.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		BatchQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_queue_size",
			Help:      "Number of batches currently waiting in the dispatch queue.",
		}),
		TaskQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_queue_size",
			Help:      "Number of items currently waiting on a per-task queue.",
		}, []string{"task_name"}),
		BatchSizes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_sizes",
			Help:      "Distribution of emitted batch sizes.",
			Buckets:   batchSizeBuckets,
		}),
		TaskInferenceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_inference_time",
			Help:      "Inference call latency in seconds, per task.",
			Buckets:   defaultInferenceTimeBuckets,
		}, []string{"task_name"}),
		inferenceTimeBucketsByTask: make(map[string][]float64),
	}

	reg.MustRegister(m.BatchQueueSize, m.TaskQueueSize, m.BatchSizes, m.TaskInferenceTime)
	return m
}

// WithInferenceTimeBuckets records buckets for one task's
// task_inference_time series. The recorded buckets are not read anywhere:
// HistogramVec buckets are fixed at registration time, so every task is
// observed with defaultInferenceTimeBuckets regardless of this call.
func (m *Metrics) WithInferenceTimeBuckets(taskName string, buckets []float64) {
	m.inferenceTimeBucketsByTask[taskName] = buckets
}

// observeBatch records one batch's size and its inference latency in
// seconds (the whole batch's round trip, not divided per item). The dispatch
// worker calls it only for batches whose worker returned no error.
func (m *Metrics) observeBatch(taskName string, size int, latencySeconds float64) {
	m.BatchSizes.Observe(float64(size))
	m.TaskInferenceTime.WithLabelValues(taskName).Observe(latencySeconds)

	const alpha = 0.2 // exponential moving average weight for the newest batch
	m.avgMu.Lock()
	if !m.haveAvgBatch {
		m.recentAvgBatch = float64(size)
		m.haveAvgBatch = true
	} else {
		m.recentAvgBatch = alpha*float64(size) + (1-alpha)*m.recentAvgBatch
	}
	m.avgMu.Unlock()
}

// RecentAvgBatchSize returns an exponentially-weighted moving average of
// recently dispatched batch sizes, the figure QueueSizes surfaces as
// RecentAvgBatchSize (SPEC_FULL.md §4 item 5).
func (m *Metrics) RecentAvgBatchSize() float64 {
	m.avgMu.Lock()
	defer m.avgMu.Unlock()
	return m.recentAvgBatch
}

// setQueueDepths reports current queue depths. The batcher calls it after
// every enqueue and after every emitted batch, so items a batcher pulls off
// its task queue are reflected at its next emit; a dispatch worker popping a
// batch updates BatchQueueSize directly.
func (m *Metrics) setQueueDepths(taskName string, taskDepth int, batchQueueDepth int) {
	m.TaskQueueSize.WithLabelValues(taskName).Set(float64(taskDepth))
	m.BatchQueueSize.Set(float64(batchQueueDepth))
}
