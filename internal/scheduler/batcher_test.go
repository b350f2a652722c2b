package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferedge/batchsched/internal/platform/logger"
)

func testLogger() logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "console"})
}

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics("test_"+t.Name(), prometheus.NewRegistry())
}

func newTestBatcher(t *testing.T, cfg SchedulerConfig) (*batcher, chan TaskBatch) {
	t.Helper()
	out := make(chan TaskBatch, 16)
	b := newBatcher("echo", cfg, out, testMetrics(t), testLogger())
	return b, out
}

func TestBatcher_EmitsOnMaxSize(t *testing.T) {
	cfg := SchedulerConfig{MaxBatchSize: 3, MaxBatchWaitSeconds: 1, FillQueueSizeThreshold: 0}
	b, out := newTestBatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.enqueue(context.Background(), TaskItem{Data: i, handle: newHandle(), queuedAt: time.Now()}))
	}

	select {
	case batch := <-out:
		assert.Equal(t, 3, batch.Len())
	case <-time.After(time.Second):
		t.Fatal("batch was not emitted on reaching max size")
	}
}

func TestBatcher_EmitsOnTimeout(t *testing.T) {
	cfg := SchedulerConfig{MaxBatchSize: 100, MaxBatchWaitSeconds: 0.03, FillQueueSizeThreshold: 0}
	b, out := newTestBatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.run(ctx)

	require.NoError(t, b.enqueue(context.Background(), TaskItem{Data: "only", handle: newHandle(), queuedAt: time.Now()}))

	select {
	case batch := <-out:
		assert.Equal(t, 1, batch.Len())
	case <-time.After(time.Second):
		t.Fatal("batch was not emitted on timeout")
	}
}

func TestBatcher_FillThresholdDelaysUnderFullBatch(t *testing.T) {
	cfg := SchedulerConfig{MaxBatchSize: 100, MaxBatchWaitSeconds: 0.03, FillQueueSizeThreshold: 2}
	b, out := newTestBatcher(t, cfg)

	// Pre-load the shared dispatch queue (not this task's own input queue)
	// above FillQueueSizeThreshold, so the batcher sees downstream
	// saturation when its timer fires and extends once.
	for i := 0; i < 3; i++ {
		out <- TaskBatch{TaskName: "other", Items: []TaskItem{{Data: i}}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.run(ctx)

	start := time.Now()
	require.NoError(t, b.enqueue(context.Background(), TaskItem{Data: "only", handle: newHandle(), queuedAt: time.Now()}))

	// Keep the pre-loaded batches in place past the 30ms timer so the
	// batcher extends by 15ms before emitting.
	time.Sleep(40 * time.Millisecond)
	for i := 0; i < 3; i++ {
		<-out
	}

	select {
	case batch := <-out:
		assert.Equal(t, 1, batch.Len())
		assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("batch was never emitted even after the bounded extension")
	}
}

func TestBatcher_FlushesPartialBatchOnContextCancel(t *testing.T) {
	cfg := SchedulerConfig{MaxBatchSize: 100, MaxBatchWaitSeconds: 10, FillQueueSizeThreshold: 0}
	b, out := newTestBatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go b.run(ctx)

	require.NoError(t, b.enqueue(context.Background(), TaskItem{Data: "x", handle: newHandle(), queuedAt: time.Now()}))
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case batch := <-out:
		assert.Equal(t, 1, batch.Len())
	case <-time.After(time.Second):
		t.Fatal("partial batch was not flushed on shutdown")
	}
}

func TestBatcher_PreservesFIFOOrderWithinABatch(t *testing.T) {
	cfg := SchedulerConfig{MaxBatchSize: 5, MaxBatchWaitSeconds: 1, FillQueueSizeThreshold: 0}
	b, out := newTestBatcher(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.enqueue(context.Background(), TaskItem{Data: i, handle: newHandle(), queuedAt: time.Now()}))
	}

	batch := <-out
	for i, item := range batch.Items {
		assert.Equal(t, i, item.Data)
	}
}
