package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/inferedge/batchsched/internal/platform/logger"
	"github.com/inferedge/batchsched/internal/platform/messaging/kafka"
)

// batchEvent is the lifecycle event mirrored to Kafka for every dispatched
// batch (SPEC_FULL.md §3's sarama wiring). It is intentionally thin — just
// enough for an external audit/observability pipeline to reconstruct batch
// timing and outcome without the actual item payloads, which may contain
// caller data this process has no business re-broadcasting.
type batchEvent struct {
	Kind      string    `json:"kind"` // "dispatched", "completed", or "failed"
	TaskName  string    `json:"task_name"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// eventPublisher is a best-effort mirror of batch lifecycle events onto
// Kafka. A nil *eventPublisher is valid and makes every publish call a
// no-op — event mirroring is optional (spec.md never requires it), so
// dispatchWorker always holds one even when Kafka isn't configured.
type eventPublisher struct {
	kafka *kafka.EventPublisher
	log   logger.Logger
}

// newEventPublisher wraps an already-constructed kafka.EventPublisher. Pass
// nil kafkaPublisher to disable mirroring entirely.
func newEventPublisher(kafkaPublisher *kafka.EventPublisher, log logger.Logger) *eventPublisher {
	return &eventPublisher{kafka: kafkaPublisher, log: log}
}

// publish fires batchEvent at the configured Kafka topic without blocking
// the dispatch path on it: failures are logged and swallowed, matching the
// Metrics Sink's "pure observer, never affects scheduling" framing extended
// to this second, optional observer.
func (p *eventPublisher) publish(evt batchEvent) {
	if p == nil || p.kafka == nil {
		return
	}
	evt.Timestamp = time.Now()

	payload, err := json.Marshal(evt)
	if err != nil {
		p.log.WithFields(map[string]any{"error": err.Error()}).Warn("failed to marshal batch event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.kafka.Publish(ctx, evt.TaskName, payload, map[string]string{"kind": evt.Kind}); err != nil {
		p.log.WithFields(map[string]any{"error": err.Error()}).Warn("failed to publish batch event")
	}
}
