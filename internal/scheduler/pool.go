package scheduler

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/inferedge/batchsched/internal/platform/logger"
)

// processHandle is the subset of *os/exec.Cmd the pool depends on, narrowed
// to an interface so tests can substitute an in-process fake without
// spawning the real worker binary.
type processHandle interface {
	Start() error
	Wait() error
	Kill() error
	Pid() int
	Stdin() io.Writer
	Stdout() io.Reader
}

// execProcessHandle is the production processHandle, backed by a real
// *exec.Cmd and its stdio pipes.
type execProcessHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (h *execProcessHandle) Start() error { return h.cmd.Start() }
func (h *execProcessHandle) Wait() error  { return h.cmd.Wait() }
func (h *execProcessHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
func (h *execProcessHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
func (h *execProcessHandle) Stdin() io.Writer  { return h.stdin }
func (h *execProcessHandle) Stdout() io.Reader { return h.stdout }

// ProcessLauncher spawns one worker subprocess for modelName and returns a
// handle to it. WorkerPool never execs directly — it always goes through a
// ProcessLauncher, which is what lets tests swap in an in-process fake that
// behaves like a worker without actually forking (spec.md §4.2's isolation
// requirement is a property of the production launcher, not of WorkerPool's
// own logic).
type ProcessLauncher func(ctx context.Context, modelName string, cfg SchedulerConfig) (processHandle, error)

// ExecLauncher builds the default ProcessLauncher: it execs workerBinaryPath
// with modelName as its sole argument, and forwards UseGPU/Warmup/
// ModelCacheDir as INFERENCE_-prefixed environment variables of the worker
// subprocess. cmd/inferenceworker reads INFERENCE_WARMUP itself; the other
// two are left in the environment for model code to read.
func ExecLauncher(workerBinaryPath string) ProcessLauncher {
	return func(ctx context.Context, modelName string, cfg SchedulerConfig) (processHandle, error) {
		cmd := exec.CommandContext(ctx, workerBinaryPath, modelName)
		cmd.Env = append(cmd.Environ(),
			fmt.Sprintf("INFERENCE_USE_GPU=%t", cfg.UseGPU),
			fmt.Sprintf("INFERENCE_WARMUP=%t", cfg.Warmup),
			fmt.Sprintf("INFERENCE_MODEL_CACHE_DIR=%s", cfg.ModelCacheDir),
		)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		cmd.Stderr = nil

		return &execProcessHandle{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

// poolWorker is one live worker subprocess managed by a WorkerPool.
type poolWorker struct {
	id      string
	proc    processHandle
	conn    *workerConn
	sampler *process.Process // nil if gopsutil sampling is unavailable for this pid
}

// cpuPercent and rssBytes report the worker's last-sampled resource usage,
// surfaced so callers can detect a runaway worker ahead of a hard crash
// (spec.md §1's "private CPU budget"). Errors are swallowed to zero — a
// sampling failure must never affect scheduling.
func (w *poolWorker) cpuPercent() float64 {
	if w.sampler == nil {
		return 0
	}
	pct, err := w.sampler.CPUPercent()
	if err != nil {
		return 0
	}
	return pct
}

func (w *poolWorker) rssBytes() uint64 {
	if w.sampler == nil {
		return 0
	}
	info, err := w.sampler.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

// WorkerStats is a point-in-time resource snapshot for one live worker
// process, surfaced so a caller can detect a runaway worker ahead of a hard crash (spec.md §1's "private CPU
// budget").
type WorkerStats struct {
	WorkerID   string
	PID        int
	CPUPercent float64
	RSSBytes   uint64
}

// Stats snapshots resource usage for every currently tracked worker.
// Scheduler.QueueSizes surfaces this as Workers so a caller can observe a
// runaway worker's CPU/RSS without touching Prometheus directly.
func (p *WorkerPool) Stats() []WorkerStats {
	live := p.liveWorkers()
	out := make([]WorkerStats, len(live))
	for i, w := range live {
		out[i] = WorkerStats{
			WorkerID:   w.id,
			PID:        w.proc.Pid(),
			CPUPercent: w.cpuPercent(),
			RSSBytes:   w.rssBytes(),
		}
	}
	return out
}

// WorkerPool is the Worker Pool (spec.md §4.2): a fixed-size set of OS
// processes, each holding its own constructed Model instance, that Submit
// dispatches whole batches to. Workers are interchangeable — Submit takes
// whichever is idle, mirroring internal/executor's SandboxPool
// acquire/release channel pattern rather than a sticky worker-per-task
// assignment.
type WorkerPool struct {
	spec   ModelSpec
	cfg    SchedulerConfig
	launch ProcessLauncher
	log    logger.Logger

	mu      sync.Mutex
	workers map[string]*poolWorker
	idle    chan *poolWorker
	closed  bool
}

// NewWorkerPool constructs an unstarted pool for spec, sized by
// cfg.PoolWorkers.
func NewWorkerPool(spec ModelSpec, cfg SchedulerConfig, launch ProcessLauncher, log logger.Logger) *WorkerPool {
	return &WorkerPool{
		spec:    spec,
		cfg:     cfg,
		launch:  launch,
		log:     log,
		workers: make(map[string]*poolWorker),
		idle:    make(chan *poolWorker, cfg.PoolWorkers),
	}
}

// Start spawns cfg.PoolWorkers subprocesses and returns once each process
// has been started; it does not wait for a worker to answer. A failure to start any one worker aborts the
// whole pool start — a partially-started pool would silently run under
// capacity.
func (p *WorkerPool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.PoolWorkers; i++ {
		w, err := p.spawn(ctx)
		if err != nil {
			return fmt.Errorf("scheduler: starting worker %d/%d: %w", i+1, p.cfg.PoolWorkers, err)
		}
		p.mu.Lock()
		p.workers[w.id] = w
		p.mu.Unlock()
		p.idle <- w
	}
	return nil
}

func (p *WorkerPool) spawn(ctx context.Context) (*poolWorker, error) {
	handle, err := p.launch(ctx, p.spec.Name, p.cfg)
	if err != nil {
		return nil, err
	}
	if err := handle.Start(); err != nil {
		return nil, err
	}

	w := &poolWorker{
		id:   uuid.NewString(),
		proc: handle,
		conn: newWorkerConn(handle.Stdin(), handle.Stdout()),
	}
	if sampler, err := process.NewProcess(int32(handle.Pid())); err == nil {
		w.sampler = sampler
	}

	p.log.WithFields(map[string]any{"worker_id": w.id, "model": p.spec.Name, "pid": handle.Pid()}).
		Info("worker started")
	return w, nil
}

// Submit sends batch to the next idle worker and blocks for its result. If
// the worker's process has died, Submit retires it, reports a WorkerCrash
// TaskResult, and spawns a replacement so pool capacity is restored for the
// next Submit (spec.md §4.2 crash recovery).
func (p *WorkerPool) Submit(ctx context.Context, batch TaskBatch) (TaskResult, error) {
	var w *poolWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}

	result, err := w.conn.call(batch)
	if err != nil {
		p.log.WithFields(map[string]any{"worker_id": w.id, "error": err.Error()}).
			Error("worker crashed mid-batch")
		p.retire(w)
		replacement, spawnErr := p.spawn(ctx)
		if spawnErr == nil {
			p.mu.Lock()
			p.workers[replacement.id] = replacement
			p.mu.Unlock()
			p.idle <- replacement
		} else {
			p.log.WithFields(map[string]any{"error": spawnErr.Error()}).Error("failed to respawn worker after crash")
		}
		return TaskResult{Error: newWorkerCrashError(err.Error())}, nil
	}

	p.idle <- w
	return result, nil
}

func (p *WorkerPool) retire(w *poolWorker) {
	p.mu.Lock()
	delete(p.workers, w.id)
	p.mu.Unlock()
	_ = w.proc.Kill()
}

// Stop terminates every worker process. Safe to call more than once.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := make([]*poolWorker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		_ = w.proc.Kill()
	}

	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			_ = w.proc.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return nil
	}
}

// liveWorkers returns a snapshot of currently tracked workers, used by
// Stats.
func (p *WorkerPool) liveWorkers() []*poolWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*poolWorker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	return out
}
