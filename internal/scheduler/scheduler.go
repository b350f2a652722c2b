package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inferedge/batchsched/internal/platform/logger"
	"github.com/inferedge/batchsched/internal/platform/messaging/kafka"
)

// QueueSizes is the introspection snapshot SubmitTasks callers (and an
// operator) can poll without touching Prometheus, matching the Python
// original's /queue endpoint shape (SPEC_FULL.md §4 item 5).
type QueueSizes struct {
	BatchQueue         int
	PerTask            map[string]int
	RecentAvgBatchSize float64
	Workers            []WorkerStats
}

// MetricDescriptor names one series the Metrics Sink exposes, returned by
// MetricsInstrumentations so a caller wiring a /metrics HTTP handler (out of
// this package's scope) knows what it's exporting without importing
// Prometheus's own reflection.
type MetricDescriptor struct {
	Name string
	Help string
}

// Scheduler is the Submission API (spec.md §4.5): the single entry point
// callers use to submit items, get results back, and introspect queue state.
// It owns one Registry (name-existence only — see registry.go), one batcher
// per declared task, one shared dispatch queue, a WorkerPool, and an
// optional Kafka event mirror.
type Scheduler struct {
	spec    ModelSpec
	cfg     SchedulerConfig
	log     logger.Logger
	metrics *Metrics

	registry           *Registry
	batchers           map[string]*batcher
	batchQueue         chan TaskBatch
	pool               *WorkerPool
	events             *eventPublisher
	health             *healthSweep
	healthIntervalSpec string

	ctx        context.Context
	cancel     context.CancelFunc
	dispatchWG sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option customizes NewScheduler's construction without widening its
// constructor signature for every ambient concern.
type Option func(*schedulerOptions)

type schedulerOptions struct {
	launch         ProcessLauncher
	kafkaPublisher *kafka.EventPublisher
	healthInterval string
}

// WithProcessLauncher overrides how worker subprocesses are spawned. Tests
// use this to install an in-process fake; production code typically doesn't
// need it since NewScheduler defaults to ExecLauncher(workerBinaryPath).
func WithProcessLauncher(launch ProcessLauncher) Option {
	return func(o *schedulerOptions) { o.launch = launch }
}

// WithEventMirror enables best-effort batch lifecycle mirroring to Kafka.
func WithEventMirror(publisher *kafka.EventPublisher) Option {
	return func(o *schedulerOptions) { o.kafkaPublisher = publisher }
}

// WithHealthSweepInterval overrides the default "@every 30s" worker liveness
// sweep schedule (cron spec string, robfig/cron/v3 syntax).
func WithHealthSweepInterval(cronSpec string) Option {
	return func(o *schedulerOptions) { o.healthInterval = cronSpec }
}

// NewScheduler builds an unstarted Scheduler for spec. workerBinaryPath is
// the cmd/inferenceworker binary ExecLauncher execs per worker; it is
// ignored if WithProcessLauncher supplies a launcher of its own.
func NewScheduler(spec ModelSpec, cfg SchedulerConfig, workerBinaryPath string, log logger.Logger, metrics *Metrics, opts ...Option) (*Scheduler, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("scheduler: ModelSpec.Name must not be empty")
	}
	if len(spec.TaskNames) == 0 {
		return nil, fmt.Errorf("scheduler: ModelSpec %q declares no tasks", spec.Name)
	}

	options := schedulerOptions{
		launch:         ExecLauncher(workerBinaryPath),
		healthInterval: "@every 30s",
	}
	for _, opt := range opts {
		opt(&options)
	}

	registry := NewRegistry()
	for _, taskName := range spec.TaskNames {
		key := TaskKey{ModelName: spec.Name, TaskName: taskName}
		if err := registry.Register(key, nil); err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	batchQueue := make(chan TaskBatch, cfg.PoolWorkers*2)
	batchers := make(map[string]*batcher, len(spec.TaskNames))
	for _, taskName := range spec.TaskNames {
		batchers[taskName] = newBatcher(taskName, cfg, batchQueue, metrics, log)
	}

	pool := NewWorkerPool(spec, cfg, options.launch, log)

	s := &Scheduler{
		spec:               spec,
		cfg:                cfg,
		log:                log,
		metrics:            metrics,
		registry:           registry,
		batchers:           batchers,
		batchQueue:         batchQueue,
		pool:               pool,
		events:             newEventPublisher(options.kafkaPublisher, log),
		health:             newHealthSweep(pool, log),
		healthIntervalSpec: options.healthInterval,
	}
	return s, nil
}

// Start brings every component up: the Worker Pool's subprocesses, one
// goroutine per Per-Task Batcher, a pool-sized set of Dispatch Workers, and
// the worker liveness health sweep. Start is not idempotent — calling it
// twice on the same Scheduler is a programming error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: starting worker pool: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.ctx = runCtx
	s.cancel = cancel

	for _, b := range s.batchers {
		go b.run(runCtx)
	}

	for i := 0; i < s.cfg.PoolWorkers; i++ {
		dw := &dispatchWorker{
			id:      i,
			queue:   s.batchQueue,
			pool:    s.pool,
			metrics: s.metrics,
			log:     s.log,
			events:  s.events,
		}
		s.dispatchWG.Add(1)
		go dw.run(runCtx, &s.dispatchWG)
	}

	if err := s.health.start(s.healthIntervalSpec); err != nil {
		return fmt.Errorf("scheduler: starting health sweep: %w", err)
	}

	s.log.WithFields(map[string]any{"model": s.spec.Name, "workers": s.cfg.PoolWorkers}).
		Info("scheduler started")
	return nil
}

// Stop drains nothing — any batch already handed to the dispatch queue is
// allowed to complete — but stops accepting new work from the batchers,
// waits for in-flight dispatch to finish, then tears down the Worker Pool
// and the health sweep. Safe to call once; ctx bounds the total wait.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.health.stop()

	done := make(chan struct{})
	go func() {
		s.dispatchWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	return s.pool.Stop(ctx)
}

// SubmitTasks submits items, all bound for taskName, and blocks until every
// item has resolved — either with its output or with an error. Items may be
// split across more than one TaskBatch depending on batcher timing; the
// returned slice preserves the caller's input order regardless (spec.md §3
// FIFO invariant applies per item, not per batch).
func (s *Scheduler) SubmitTasks(ctx context.Context, taskName string, items []any) ([]any, error) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return nil, ErrSchedulerStopped
	}

	b, ok := s.batchers[taskName]
	if !ok {
		return nil, ErrUnknownTask
	}
	if _, exists := s.registry.Lookup(TaskKey{ModelName: s.spec.Name, TaskName: taskName}); !exists {
		return nil, ErrUnknownTask
	}

	handles := make([]*Handle, len(items))
	for i, item := range items {
		h := newHandle()
		handles[i] = h
		if err := b.enqueue(ctx, TaskItem{Data: item, handle: h, queuedAt: time.Now()}); err != nil {
			return nil, err
		}
	}

	outputs := make([]any, len(items))
	for i, h := range handles {
		out, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}

// SubmitTask submits a single item and waits for its result. A thin
// convenience wrapper over SubmitTasks([item]).
func (s *Scheduler) SubmitTask(ctx context.Context, taskName string, item any) (any, error) {
	out, err := s.SubmitTasks(ctx, taskName, []any{item})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// QueueSizes reports current queue depths, recent batch-size behavior, and
// per-worker resource usage, matching the Python original's /queue endpoint
// shape plus the worker CPU/RSS sampling spec.md §1's "private CPU budget"
// calls for.
func (s *Scheduler) QueueSizes() QueueSizes {
	perTask := make(map[string]int, len(s.batchers))
	for name, b := range s.batchers {
		perTask[name] = len(b.input)
	}
	return QueueSizes{
		BatchQueue:         len(s.batchQueue),
		PerTask:            perTask,
		RecentAvgBatchSize: s.metrics.RecentAvgBatchSize(),
		Workers:            s.pool.Stats(),
	}
}

// MetricsInstrumentations lists the series this Scheduler's Metrics Sink
// exposes, for a caller wiring an HTTP /metrics handler.
func (s *Scheduler) MetricsInstrumentations() []MetricDescriptor {
	return []MetricDescriptor{
		{Name: "batch_queue_size", Help: "Number of batches currently waiting in the dispatch queue."},
		{Name: "task_queue_size", Help: "Number of items currently waiting on a per-task queue."},
		{Name: "batch_sizes", Help: "Distribution of emitted batch sizes."},
		{Name: "task_inference_time", Help: "Inference call latency in seconds, per task."},
	}
}
