package scheduler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// wireBatch is the JSON frame sent to a worker subprocess's stdin: one line,
// one batch. Items travel as free-form JSON values the same way
// internal/executor's NodeExecutionRequest carries arbitrary node input —
// there is no shared compiled type between this process and the worker
// binary beyond this envelope, since the two may not even share a Go
// toolchain version in a real deployment.
type wireBatch struct {
	TaskName string `json:"task_name"`
	Items    []any  `json:"items"`
}

// wireResult is the JSON frame a worker subprocess writes to stdout in
// response to one wireBatch.
type wireResult struct {
	LatencyMs float64    `json:"latency_ms"`
	Outputs   []any      `json:"outputs,omitempty"`
	Error     *wireError `json:"error,omitempty"`
}

type wireError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

func toWireError(te *TaskError) *wireError {
	if te == nil {
		return nil
	}
	return &wireError{Kind: string(te.Kind), Message: te.Message, HTTPStatus: te.HTTPStatus}
}

func fromWireError(we *wireError) *TaskError {
	if we == nil {
		return nil
	}
	return &TaskError{Kind: ErrorKind(we.Kind), Message: we.Message, HTTPStatus: we.HTTPStatus}
}

// workerConn wraps one worker subprocess's stdin/stdout pipes with a
// line-delimited JSON codec and serializes access: a real OS pipe has no
// notion of "call N's response", so only one request may be outstanding on a
// workerConn at a time. The Worker Pool enforces that by only ever assigning
// one batch to a worker between Submit calls.
type workerConn struct {
	mu  sync.Mutex
	enc *json.Encoder
	dec *bufio.Scanner
}

func newWorkerConn(stdin io.Writer, stdout io.Reader) *workerConn {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &workerConn{
		enc: json.NewEncoder(stdin),
		dec: scanner,
	}
}

// call sends one batch and blocks for its single response line. Returns an
// error (not a *TaskError) only for transport-level failures — a crashed or
// unreadable worker — which the caller translates into a WorkerCrash
// TaskError for every item in the batch.
func (c *workerConn) call(batch TaskBatch) (TaskResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := wireBatch{TaskName: batch.TaskName, Items: batch.inputs()}
	if err := c.enc.Encode(req); err != nil {
		return TaskResult{}, fmt.Errorf("scheduler: writing batch to worker: %w", err)
	}

	if !c.dec.Scan() {
		if err := c.dec.Err(); err != nil {
			return TaskResult{}, fmt.Errorf("scheduler: reading worker response: %w", err)
		}
		return TaskResult{}, io.ErrUnexpectedEOF
	}

	var resp wireResult
	if err := json.Unmarshal(c.dec.Bytes(), &resp); err != nil {
		return TaskResult{}, fmt.Errorf("scheduler: decoding worker response: %w", err)
	}

	return TaskResult{
		LatencyMs: resp.LatencyMs,
		Outputs:   resp.Outputs,
		Error:     fromWireError(resp.Error),
	}, nil
}
