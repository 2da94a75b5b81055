// Package sink hands fused search results and deduplication reports to the
// downstream persistence layer.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
)

// DocumentSink receives the outputs of searches and deduplication runs.
type DocumentSink interface {
	// PublishDocuments publishes the fused documents of a search.
	PublishDocuments(ctx context.Context, searchID, query string, docs []*domain.ScholarlyDocument) error

	// PublishSearchCompleted publishes the summary of a finished search.
	PublishSearchCompleted(ctx context.Context, payload domain.SearchCompletedPayload) error

	// PublishReport publishes a deduplication report.
	PublishReport(ctx context.Context, report *dedup.Report) error

	// Close flushes pending messages and releases resources.
	Close() error
}

// NopSink discards everything.
type NopSink struct{}

var _ DocumentSink = NopSink{}

func (NopSink) PublishDocuments(context.Context, string, string, []*domain.ScholarlyDocument) error {
	return nil
}

func (NopSink) PublishSearchCompleted(context.Context, domain.SearchCompletedPayload) error {
	return nil
}

func (NopSink) PublishReport(context.Context, *dedup.Report) error { return nil }

func (NopSink) Close() error { return nil }

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic to publish to.
	Topic string
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration
	// ServiceName is stamped on every message as its source.
	ServiceName string
}

// KafkaSink publishes every output as JSON domain.Event envelopes.
// Documents are keyed by LumenID, search summaries by search id and
// reports by run id.
type KafkaSink struct {
	writer  MessageWriter
	topic   string
	emitter *Emitter
	logger  zerolog.Logger
	metrics *observability.Metrics
}

var _ DocumentSink = (*KafkaSink)(nil)

// NewKafkaSink creates a KafkaSink with a kafka-go writer.
func NewKafkaSink(cfg KafkaConfig, logger zerolog.Logger, metrics *observability.Metrics) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink: topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaSinkWithWriter(writer, cfg.Topic, NewEmitter(EmitterConfig{ServiceName: cfg.ServiceName}), logger, metrics), nil
}

// NewKafkaSinkWithWriter creates a KafkaSink over an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, topic string, emitter *Emitter, logger zerolog.Logger, metrics *observability.Metrics) *KafkaSink {
	if emitter == nil {
		emitter = NewEmitter(EmitterConfig{})
	}
	return &KafkaSink{
		writer:  w,
		topic:   topic,
		emitter: emitter,
		logger:  observability.WithComponent(logger, "kafka_sink"),
		metrics: metrics,
	}
}

// PublishDocuments implements DocumentSink.
func (s *KafkaSink) PublishDocuments(ctx context.Context, searchID, query string, docs []*domain.ScholarlyDocument) error {
	if len(docs) == 0 {
		return nil
	}

	correlationID := observability.RequestIDFromContext(ctx)
	msgs := make([]kafka.Message, 0, len(docs))
	for _, doc := range docs {
		msg, err := s.emitter.Emit(EmitParams{
			AggregateID: searchID,
			Key:         doc.LumenID,
			EventType:   domain.EventTypeDocumentsFused,
			Payload: domain.DocumentsFusedPayload{
				SearchID:  searchID,
				Query:     query,
				Documents: []*domain.ScholarlyDocument{doc},
				Count:     1,
			},
			CorrelationID: correlationID,
		})
		if err != nil {
			return fmt.Errorf("emitting document %s: %w", doc.LumenID, err)
		}
		msgs = append(msgs, msg)
	}
	return s.write(ctx, domain.EventTypeDocumentsFused, msgs)
}

// PublishSearchCompleted implements DocumentSink.
func (s *KafkaSink) PublishSearchCompleted(ctx context.Context, payload domain.SearchCompletedPayload) error {
	msg, err := s.emitter.Emit(EmitParams{
		AggregateID:   payload.SearchID,
		EventType:     domain.EventTypeSearchCompleted,
		Payload:       payload,
		CorrelationID: observability.RequestIDFromContext(ctx),
	})
	if err != nil {
		return fmt.Errorf("emitting search summary: %w", err)
	}
	return s.write(ctx, domain.EventTypeSearchCompleted, []kafka.Message{msg})
}

// PublishReport implements DocumentSink.
func (s *KafkaSink) PublishReport(ctx context.Context, report *dedup.Report) error {
	if report == nil {
		return nil
	}
	msg, err := s.emitter.Emit(EmitParams{
		AggregateID:   report.RunID,
		EventType:     domain.EventTypeDedupCompleted,
		Payload:       report.Payload(),
		CorrelationID: observability.RequestIDFromContext(ctx),
	})
	if err != nil {
		return fmt.Errorf("emitting dedup report: %w", err)
	}
	return s.write(ctx, domain.EventTypeDedupCompleted, []kafka.Message{msg})
}

// Close implements DocumentSink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) write(ctx context.Context, eventType string, msgs []kafka.Message) error {
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		if s.metrics != nil {
			s.metrics.RecordSinkFailed(s.topic)
		}
		s.logger.Error().Err(err).Str("event_type", eventType).Int("messages", len(msgs)).Msg("failed to publish")
		return fmt.Errorf("kafka sink: write %s: %w", eventType, err)
	}
	if s.metrics != nil {
		s.metrics.RecordSinkPublished(s.topic, len(msgs))
	}
	s.logger.Debug().Str("event_type", eventType).Int("messages", len(msgs)).Msg("published")
	return nil
}
