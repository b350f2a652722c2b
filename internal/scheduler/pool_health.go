package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/inferedge/batchsched/internal/platform/logger"
)

// healthSweep is the Worker Pool's proactive complement to Submit's reactive
// WorkerCrash handling (spec.md §4.2): a recurring, low-priority check that
// catches a worker whose process exited while idle — a crash that
// Submit-path detection would otherwise only notice the next time that
// worker happened to be picked, which could be an arbitrarily long time
// under light load. It never touches the submission path directly; it only
// retires and replaces dead idle workers.
//
// Built on robfig/cron/v3 the same way this repository's scheduling engine
// drives its own recurring jobs: a single cron.Cron instance running one
// entry, wrapped in cron.Recover so a panic inside the sweep can never take
// the process down.
type healthSweep struct {
	pool *WorkerPool
	log  logger.Logger
	cron *cron.Cron
}

// newHealthSweep builds an unstarted sweep over pool. The schedule is given
// to start, as a robfig/cron/v3 spec string in the default parser's syntax
// (five fields, no seconds) or a descriptor such as "@every 30s".
func newHealthSweep(pool *WorkerPool, log logger.Logger) *healthSweep {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &healthSweep{pool: pool, log: log, cron: c}
}

// start registers the sweep at the given interval spec and starts the cron
// scheduler. Typical usage passes "@every 30s" — liveness checks are cheap
// and this is purely a safety net, not a latency-sensitive path.
func (h *healthSweep) start(spec string) error {
	_, err := h.cron.AddFunc(spec, h.sweep)
	if err != nil {
		return err
	}
	h.cron.Start()
	return nil
}

func (h *healthSweep) stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
}

// sweep takes each worker currently waiting in the pool's idle channel,
// checks its OS process for liveness, puts live ones back, and retires +
// replaces any that have exited. A worker mid-Submit is not in the idle
// channel, so the sweep never touches it; Submit's own crash handling
// covers that worker.
func (h *healthSweep) sweep() {
	for i, n := 0, len(h.pool.idle); i < n; i++ {
		var w *poolWorker
		select {
		case w = <-h.pool.idle:
		default:
			return
		}
		alive, err := process.PidExists(int32(w.proc.Pid()))
		if err != nil {
			h.pool.idle <- w
			continue
		}
		if alive {
			h.pool.idle <- w
			continue
		}

		h.log.WithFields(map[string]any{"worker_id": w.id, "pid": w.proc.Pid()}).
			Warn("health sweep found dead worker, respawning")
		h.pool.retire(w)

		replacement, err := h.pool.spawn(context.Background())
		if err != nil {
			h.log.WithFields(map[string]any{"error": err.Error()}).Error("health sweep failed to respawn worker")
			continue
		}
		h.pool.mu.Lock()
		h.pool.workers[replacement.id] = replacement
		h.pool.mu.Unlock()
		h.pool.idle <- replacement
	}
}
