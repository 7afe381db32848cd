// Package kafka publishes twin events to a Kafka topic with segmentio/kafka-go.
//
// Messages are JSON encoded, keyed so that events for the same operation or
// memory land on the same partition, and carry their event type in an
// "event_type" header. Writes are asynchronous; delivery failures are logged.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/logger"
)

const (
	// DefaultTopic is used when Config.Topic is empty.
	DefaultTopic = "twin.events"

	// DefaultWriteTimeout bounds a single batch write.
	DefaultWriteTimeout = 5 * time.Second

	headerEventType = "event_type"
)

// ErrNoBrokers is returned when a publisher is configured without brokers.
var ErrNoBrokers = errors.New("kafka publisher requires at least one broker")

// Config configures the Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher implements eventstream.Publisher on a kafka-go Writer.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher creates an asynchronous Kafka publisher.
func NewPublisher(cfg Config, log *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	log = logger.OrNop(log).With("publisher", "kafka", "topic", cfg.Topic)

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				log.Warn("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}

	return newPublisher(w, cfg.Topic, log), nil
}

func newPublisher(w messageWriter, topic string, log *slog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		topic:  topic,
		logger: logger.OrNop(log),
	}
}

// PublishOperation enqueues an operation timing event keyed by operation.
func (p *Publisher) PublishOperation(ctx context.Context, event *eventstream.OperationTimedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.Operation, event.EventType, event)
}

// PublishMemoryChange enqueues a memory change event keyed by memory id.
func (p *Publisher) PublishMemoryChange(ctx context.Context, event *eventstream.MemoryChangedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	return p.publish(ctx, event.MemoryID.String(), event.EventType, event)
}

func (p *Publisher) publish(ctx context.Context, key, eventType string, event any) error {
	msg, err := encode(key, eventType, event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing %s event: %w", eventType, err)
	}
	return nil
}

func encode(key, eventType string, event any) (kafkago.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding %s event: %w", eventType, err)
	}

	return kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: headerEventType, Value: []byte(eventType)},
		},
	}, nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
