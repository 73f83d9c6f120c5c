package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/fire-dispatch-etl/internal/config"
	"github.com/couchcryptid/fire-dispatch-etl/internal/domain"
)

// messageWriter is the part of *kafkago.Writer the adapter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces incident messages to a Kafka topic.
// It implements pipeline.IncidentLoader.
type Writer struct {
	writer messageWriter
	topic  string
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured incident topic.
// clock stamps the extracted_at header.
func NewWriter(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, topic: cfg.KafkaTopic, clock: clock, logger: logger}
}

// LoadBatch serializes and publishes incidents to the sink topic in a single
// WriteMessages call. Messages are keyed by incident ID so updates to the same
// incident land on the same partition.
func (w *Writer) LoadBatch(ctx context.Context, incidents []domain.Incident) error {
	if len(incidents) == 0 {
		return nil
	}
	extractedAt := w.clock.Now()
	msgs := make([]kafkago.Message, len(incidents))
	for i := range incidents {
		msg, err := serializeToMessage(incidents[i], extractedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write incidents: %w", err)
	}
	w.logger.Debug("incidents published", "count", len(msgs), "topic", w.topic)
	return nil
}

// Close flushes pending messages and releases the producer's connections.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Incident into a Kafka message.
func serializeToMessage(incident domain.Incident, extractedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(incident)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(incident.IncidentID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "incident_type", Value: []byte(incident.Type)},
			{Key: "level", Value: []byte(incident.Level)},
			{Key: "extracted_at", Value: []byte(extractedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
