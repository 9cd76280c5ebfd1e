package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/healthmetrix/recontact-service/internal/observability"
)

// KafkaConfig holds the Kafka settings shared by the mirror and the listener.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives mirrored bus events.
	Topic string
	// TicketEventsTopic carries ticket notifications consumed by the listener.
	TicketEventsTopic string
	// GroupID is the consumer group ID of the listener.
	GroupID string
	// BatchSize and BatchTimeout tune the mirror writer.
	BatchSize    int
	BatchTimeout time.Duration
}

// MirroredEvent is the JSON value written for each mirrored event.
type MirroredEvent struct {
	Type        string          `json:"type"`
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// messageWriter is the subset of *kafka.Writer the mirror uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher mirrors bus events to a Kafka topic. Register Handle with
// Bus.SubscribeAll.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
	logger zerolog.Logger
}

// NewKafkaPublisher creates a mirror writing to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig, logger zerolog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, logger)
}

func newKafkaPublisher(writer messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		now:    time.Now,
		logger: observability.WithComponent(logger, "event-mirror"),
	}
}

// Handle writes event to the mirror topic, keyed by the event key.
func (p *KafkaPublisher) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event.EventType(), err)
	}

	value, err := json.Marshal(MirroredEvent{
		Type:        event.EventType(),
		Key:         event.Key(),
		Payload:     payload,
		PublishedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding mirrored event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType())},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing %s event to kafka: %w", event.EventType(), err)
	}

	p.logger.Debug().
		Str("event_type", event.EventType()).
		Str("event_key", event.Key()).
		Msg("event mirrored")
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event mirror")
	return p.writer.Close()
}
