package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/observability"
)

// TicketEventCohortInfo is the ticket event that announces a changed cohort attachment.
const TicketEventCohortInfo = "cohortinfo"

// TicketEvent is a notification about a ticket, as posted by the ticketing system.
type TicketEvent struct {
	IssueID string `json:"issueId"`
	Event   string `json:"event"`
}

// messageReader is the subset of *kafka.Reader the listener uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Listener consumes ticket events from Kafka and republishes them on the bus.
type Listener struct {
	reader    messageReader
	publisher Publisher
	logger    zerolog.Logger
}

// NewListener creates a listener on cfg.TicketEventsTopic.
func NewListener(cfg KafkaConfig, publisher Publisher, logger zerolog.Logger) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.TicketEventsTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, publisher, logger)
}

func newListener(reader messageReader, publisher Publisher, logger zerolog.Logger) *Listener {
	return &Listener{
		reader:    reader,
		publisher: publisher,
		logger:    observability.WithComponent(logger, "ticket-listener"),
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting ticket event listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("ticket event listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received ticket event")

		l.handle(ctx, msg.Value)
	}
}

func (l *Listener) handle(ctx context.Context, value []byte) {
	var event TicketEvent
	if err := json.Unmarshal(value, &event); err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(value)).
			Msg("failed to unmarshal ticket event")
		return
	}

	if event.IssueID == "" {
		l.logger.Warn().Str("raw_value", string(value)).Msg("ticket event without issue id")
		return
	}

	switch strings.ToLower(event.Event) {
	case TicketEventCohortInfo:
		l.publisher.Publish(ctx, domain.CohortInfoChangedEvent{IssueID: event.IssueID})
	default:
		l.logger.Warn().
			Str("issue_id", event.IssueID).
			Str("event", event.Event).
			Msg("ignoring unknown ticket event")
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing ticket event listener")
	return l.reader.Close()
}
