package scheduler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessHandle is an in-memory stand-in for a real worker subprocess,
// following the os/exec "TestHelperProcess" idiom's spirit without actually
// forking: a goroutine plays the worker side of the wire protocol over an
// io.Pipe pair, so pool.go's Submit/crash-detection logic can be exercised
// without a real cmd/inferenceworker binary on PATH.
type fakeProcessHandle struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	pid     int32
	done    chan struct{}
	crashOn string // a task name that causes the fake worker to die without responding
	errorOn string // a task name that causes the fake worker to return a handler-style error
}

var fakePidCounter int32

func newFakeProcessHandle(crashOn string) *fakeProcessHandle {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &fakeProcessHandle{
		stdinR:  inR,
		stdinW:  inW,
		stdoutR: outR,
		stdoutW: outW,
		pid:     atomic.AddInt32(&fakePidCounter, 1),
		done:    make(chan struct{}),
		crashOn: crashOn,
	}
}

func (h *fakeProcessHandle) Start() error {
	go h.serve()
	return nil
}

func (h *fakeProcessHandle) serve() {
	defer close(h.done)
	scanner := bufio.NewScanner(h.stdinR)
	enc := json.NewEncoder(h.stdoutW)

	for scanner.Scan() {
		var req wireBatch
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			return
		}
		if req.TaskName == h.crashOn {
			// Simulate a crash: close stdout without responding, which
			// surfaces as an unexpected-EOF transport error to the caller.
			_ = h.stdoutW.Close()
			return
		}

		if req.TaskName == h.errorOn {
			if err := enc.Encode(wireResult{LatencyMs: 1, Error: &wireError{
				Kind: "ModelError", Message: "simulated handler failure", HTTPStatus: 422,
			}}); err != nil {
				return
			}
			continue
		}

		outputs := make([]any, len(req.Items))
		for i, item := range req.Items {
			outputs[i] = fmt.Sprintf("handled:%v", item)
		}
		if err := enc.Encode(wireResult{LatencyMs: 1, Outputs: outputs}); err != nil {
			return
		}
	}
}

func (h *fakeProcessHandle) Wait() error {
	<-h.done
	return nil
}

func (h *fakeProcessHandle) Kill() error {
	_ = h.stdinW.Close()
	_ = h.stdoutW.Close()
	return nil
}

func (h *fakeProcessHandle) Pid() int           { return int(h.pid) }
func (h *fakeProcessHandle) Stdin() io.Writer  { return h.stdinW }
func (h *fakeProcessHandle) Stdout() io.Reader { return h.stdoutR }

func fakeLauncher(crashOn string) ProcessLauncher {
	return func(ctx context.Context, modelName string, cfg SchedulerConfig) (processHandle, error) {
		return newFakeProcessHandle(crashOn), nil
	}
}

func testSpec() ModelSpec {
	return ModelSpec{Name: "m", TaskNames: []string{"echo"}}
}

func TestWorkerPool_SubmitRoundTrip(t *testing.T) {
	cfg := SchedulerConfig{PoolWorkers: 2}
	pool := NewWorkerPool(testSpec(), cfg, fakeLauncher(""), testLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	batch := TaskBatch{TaskName: "echo", Items: []TaskItem{{Data: "a"}, {Data: "b"}}}
	result, err := pool.Submit(context.Background(), batch)
	require.NoError(t, err)
	require.Nil(t, result.Error)
	assert.Equal(t, []any{"handled:a", "handled:b"}, result.Outputs)
}

func TestWorkerPool_RespawnsAfterCrash(t *testing.T) {
	cfg := SchedulerConfig{PoolWorkers: 1}
	pool := NewWorkerPool(testSpec(), cfg, fakeLauncher("echo"), testLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	batch := TaskBatch{TaskName: "echo", Items: []TaskItem{{Data: "a"}}}
	result, err := pool.Submit(context.Background(), batch)
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, KindWorkerCrash, result.Error.Kind)

	// Pool capacity should be restored: a second Submit (against a
	// non-crashing task) must still complete, proving a replacement worker
	// was spawned.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch2 := TaskBatch{TaskName: "other", Items: []TaskItem{{Data: "b"}}}
	result2, err := pool.Submit(ctx, batch2)
	require.NoError(t, err)
	require.Nil(t, result2.Error)
}

func TestWorkerPool_StopTerminatesWorkers(t *testing.T) {
	cfg := SchedulerConfig{PoolWorkers: 2}
	pool := NewWorkerPool(testSpec(), cfg, fakeLauncher(""), testLogger())
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Stop(context.Background()))
	assert.NoError(t, pool.Stop(context.Background()), "Stop must be idempotent")
}

func TestWorkerPool_StatsReportsEveryTrackedWorker(t *testing.T) {
	cfg := SchedulerConfig{PoolWorkers: 3}
	pool := NewWorkerPool(testSpec(), cfg, fakeLauncher(""), testLogger())
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop(context.Background())

	stats := pool.Stats()
	require.Len(t, stats, 3)
	for _, s := range stats {
		assert.NotEmpty(t, s.WorkerID)
		assert.NotZero(t, s.PID)
	}
}
