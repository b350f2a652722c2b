package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inferedge/batchsched/internal/platform/logger"
)

// dispatchWorker pulls finished TaskBatches off the shared dispatch queue,
// sends each to the Worker Pool, and resolves every item's Handle with the
// pool's response (spec.md §4.4). Multiple dispatchWorkers run concurrently
// against the same queue and pool. Items within one batch are resolved in
// order; across batches, handles are resolved in the order their workers
// finish, so with more than one pool worker a later batch of a task can
// resolve before an earlier one.
type dispatchWorker struct {
	id      int
	queue   <-chan TaskBatch
	pool    *WorkerPool
	metrics *Metrics
	log     logger.Logger
	events  *eventPublisher // publish is a no-op if event mirroring is disabled
}

func (d *dispatchWorker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case batch := <-d.queue:
			d.process(ctx, batch)
		case <-ctx.Done():
			return
		}
	}
}

func (d *dispatchWorker) process(ctx context.Context, batch TaskBatch) {
	d.metrics.BatchQueueSize.Set(float64(len(d.queue)))
	d.events.publish(batchEvent{Kind: "dispatched", TaskName: batch.TaskName, Size: batch.Len()})

	start := time.Now()
	result, err := d.pool.Submit(ctx, batch)
	elapsed := time.Since(start)

	if err != nil {
		// Submission itself failed (e.g. context cancelled while waiting for
		// an idle worker) rather than the worker reporting a handler error —
		// every item in the batch fails uniformly, same as a handler error.
		result = TaskResult{Error: newUnknownError(err)}
	}

	latencyMs := result.LatencyMs
	if latencyMs == 0 {
		latencyMs = float64(elapsed.Milliseconds())
	}

	if result.Error != nil {
		d.log.WithFields(map[string]any{
			"task":       batch.TaskName,
			"batch_size": batch.Len(),
			"latency_ms": latencyMs,
			"error":      result.Error.Error(),
		}).Error(fmt.Sprintf("Batch size: %d | %.0fms | Task: %s | Had error", batch.Len(), latencyMs, batch.TaskName))

		for _, item := range batch.Items {
			item.handle.resolve(nil, result.Error)
		}
		d.events.publish(batchEvent{Kind: "failed", TaskName: batch.TaskName, Size: batch.Len()})
		return
	}

	d.log.WithFields(map[string]any{
		"task":       batch.TaskName,
		"batch_size": batch.Len(),
		"latency_ms": latencyMs,
	}).Info(fmt.Sprintf("Batch size: %d | %.0fms | Task: %s", batch.Len(), latencyMs, batch.TaskName))

	d.metrics.observeBatch(batch.TaskName, batch.Len(), elapsed.Seconds())

	if len(result.Outputs) != batch.Len() {
		// The handler violated its contract (spec.md §4.1: equal-length
		// output). Treat it the same as a handler error rather than risk
		// resolving an item with another item's output.
		mismatch := newUnknownError(fmt.Errorf("handler returned %d outputs for %d inputs", len(result.Outputs), batch.Len()))
		for _, item := range batch.Items {
			item.handle.resolve(nil, mismatch)
		}
		d.events.publish(batchEvent{Kind: "failed", TaskName: batch.TaskName, Size: batch.Len()})
		return
	}

	for i, item := range batch.Items {
		item.handle.resolve(result.Outputs[i], nil)
	}
	d.events.publish(batchEvent{Kind: "completed", TaskName: batch.TaskName, Size: batch.Len()})
}
