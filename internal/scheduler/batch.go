package scheduler

import "time"

// TaskItem is one submitted unit of work waiting on a per-task queue. It
// carries the caller's data alongside the Handle that Wait blocks on and the
// time it was submitted. The batcher does not read queuedAt: it starts its
// MaxBatchWaitSeconds timer when it receives a batch's first item.
type TaskItem struct {
	Data     any
	handle   *Handle
	queuedAt time.Time
}

// TaskBatch is a bounded group of same-task items about to be sent to a
// worker process for one inference call (spec.md §4.3). Items preserve FIFO
// submission order — the scheduler never reorders items within a batch.
type TaskBatch struct {
	TaskName string
	Items    []TaskItem
}

// Len reports how many items are in the batch.
func (b TaskBatch) Len() int { return len(b.Items) }

// inputs extracts the ordered Data payloads, the shape a TaskHandler or a
// worker subprocess actually consumes.
func (b TaskBatch) inputs() []any {
	out := make([]any, len(b.Items))
	for i, item := range b.Items {
		out[i] = item.Data
	}
	return out
}

// TaskResult is what a worker process (or an in-process handler invocation
// during tests) returns for one dispatched TaskBatch. Outputs must be the
// same length as the batch it answers unless Error is set, in which case
// every item in the batch is resolved with Error uniformly (spec.md §4.4).
type TaskResult struct {
	LatencyMs float64
	Outputs   []any
	Error     *TaskError
}
