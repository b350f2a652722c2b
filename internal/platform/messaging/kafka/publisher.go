package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// EventPublisher publishes raw, pre-serialized events to Kafka. It carries
// no opinion about event shape — callers serialize their own payloads — so
// it can back any fire-and-forget event mirror in this module, not just one
// domain's event bus.
type EventPublisher struct {
	producer sarama.AsyncProducer
	config   *Config
	errors   chan error
}

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// NewEventPublisher creates a new Kafka event publisher
func NewEventPublisher(config *Config) (*EventPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Version = sarama.V3_3_1_0

	producer, err := sarama.NewAsyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	publisher := &EventPublisher{
		producer: producer,
		config:   config,
		errors:   make(chan error, 100),
	}

	// Handle producer errors
	go publisher.handleErrors()

	// Handle successes
	go publisher.handleSuccesses()

	return publisher, nil
}

// Publish sends one message, keyed by key, to the publisher's configured
// topic. It never blocks on broker acknowledgement — the message is handed
// to sarama's async producer and this call returns as soon as that hand-off
// succeeds or ctx is cancelled.
func (p *EventPublisher) Publish(ctx context.Context, key string, payload []byte, headers map[string]string) error {
	message := &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	for k, v := range headers {
		message.Headers = append(message.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.errors:
		return fmt.Errorf("producer error: %w", err)
	}
}

// Close closes the publisher
func (p *EventPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	close(p.errors)
	return nil
}

// handleErrors handles producer errors
func (p *EventPublisher) handleErrors() {
	for err := range p.producer.Errors() {
		select {
		case p.errors <- fmt.Errorf("kafka producer error: %w", err.Err):
		default:
			fmt.Printf("Producer error (channel full): %v\n", err.Err)
		}
	}
}

// handleSuccesses drains the producer's success channel. Delivery is
// fire-and-forget from the caller's point of view, so there is nothing to do
// with a success beyond keeping the channel from filling up.
func (p *EventPublisher) handleSuccesses() {
	for range p.producer.Successes() {
	}
}
