package sink

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/helixir/lumen-search/internal/domain"
)

const (
	// defaultServiceName is the source stamped on every message.
	defaultServiceName = "lumen-search"

	headerEventType     = "event_type"
	headerSource        = "source"
	headerCorrelationID = "correlation_id"
)

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// AggregateID is the search or dedup run the event belongs to.
	AggregateID string
	// Key is the partition key. Defaults to AggregateID.
	Key string
	// EventType is the type of event (e.g., "search.completed").
	EventType string
	// Payload is the event payload that will be JSON-serialized.
	Payload interface{}
	// CorrelationID for request tracing (optional).
	CorrelationID string
}

// Emitter turns domain payloads into Kafka messages carrying a domain.Event
// envelope.
type Emitter struct {
	config EmitterConfig
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config}
}

// Emit builds the message for params.
func (e *Emitter) Emit(params EmitParams) (kafka.Message, error) {
	if params.AggregateID == "" {
		return kafka.Message{}, fmt.Errorf("aggregate_id is required")
	}
	if params.EventType == "" {
		return kafka.Message{}, fmt.Errorf("event_type is required")
	}

	event, err := domain.NewEvent(params.EventType, params.AggregateID, params.Payload)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}

	key := params.Key
	if key == "" {
		key = params.AggregateID
	}

	headers := []kafka.Header{
		{Key: headerEventType, Value: []byte(params.EventType)},
		{Key: headerSource, Value: []byte(e.config.ServiceName)},
	}
	if params.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: headerCorrelationID, Value: []byte(params.CorrelationID)})
	}

	return kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    event.CreatedAt,
	}, nil
}
