package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
)

// recordingWriter implements MessageWriter for testing.
type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	writeErr error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func decodeEvent(t *testing.T, msg kafka.Message) domain.Event {
	t.Helper()
	var ev domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	return ev
}

func TestKafkaSink_PublishDocuments(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := NewKafkaSinkWithWriter(w, "lumen.results", nil, zerolog.Nop(), nil)

	ctx := observability.WithRequestID(context.Background(), "req-1")
	docs := []*domain.ScholarlyDocument{
		domain.NewDocument(domain.ProviderOpenAlex, "W1", "First"),
		domain.NewDocument(domain.ProviderCrossref, "10.1/x", "Second"),
	}
	require.NoError(t, s.PublishDocuments(ctx, "search-1", "graphs", docs))

	require.Len(t, w.messages, 2)
	msg := w.messages[0]
	assert.Equal(t, "oa:W1", string(msg.Key))
	assert.Equal(t, domain.EventTypeDocumentsFused, header(msg, headerEventType))
	assert.Equal(t, defaultServiceName, header(msg, headerSource))
	assert.Equal(t, "req-1", header(msg, headerCorrelationID))

	ev := decodeEvent(t, msg)
	assert.Equal(t, "search-1", ev.AggregateID)
	assert.Equal(t, 1, ev.EventVersion)

	var payload domain.DocumentsFusedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "graphs", payload.Query)
	require.Len(t, payload.Documents, 1)
	assert.Equal(t, "First", payload.Documents[0].Title)

	assert.Equal(t, "cr:10.1/x", string(w.messages[1].Key))
}

func TestKafkaSink_PublishDocumentsEmpty(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{writeErr: errors.New("must not be called")}
	s := NewKafkaSinkWithWriter(w, "t", nil, zerolog.Nop(), nil)

	assert.NoError(t, s.PublishDocuments(context.Background(), "search-1", "q", nil))
}

func TestKafkaSink_PublishSearchCompleted(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := NewKafkaSinkWithWriter(w, "t", NewEmitter(EmitterConfig{ServiceName: "lumen-test"}), zerolog.Nop(), nil)

	require.NoError(t, s.PublishSearchCompleted(context.Background(), domain.SearchCompletedPayload{
		SearchID:  "search-9",
		Query:     "q",
		Documents: 4,
	}))

	require.Len(t, w.messages, 1)
	assert.Equal(t, "search-9", string(w.messages[0].Key))
	assert.Equal(t, "lumen-test", header(w.messages[0], headerSource))
	assert.Empty(t, header(w.messages[0], headerCorrelationID))
}

func TestKafkaSink_PublishReport(t *testing.T) {
	t.Parallel()

	engine, err := dedup.NewEngine(dedup.DefaultConfig())
	require.NoError(t, err)
	defer engine.Close()

	report := engine.Deduplicate([]*domain.ScholarlyDocument{
		{LumenID: "a", Title: "Same"},
		{LumenID: "b", Title: "Same"},
	})

	w := &recordingWriter{}
	s := NewKafkaSinkWithWriter(w, "t", nil, zerolog.Nop(), nil)
	require.NoError(t, s.PublishReport(context.Background(), report))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, report.RunID, string(msg.Key))
	assert.Equal(t, domain.EventTypeDedupCompleted, header(msg, headerEventType))

	var payload domain.DedupCompletedPayload
	require.NoError(t, json.Unmarshal(decodeEvent(t, msg).Payload, &payload))
	assert.Equal(t, []string{"a"}, payload.KeptIDs)
	assert.Equal(t, 1, payload.DuplicatesRemoved)

	assert.NoError(t, s.PublishReport(context.Background(), nil))
}

func TestKafkaSink_WriteError(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{writeErr: errors.New("broker down")}
	s := NewKafkaSinkWithWriter(w, "t", nil, zerolog.Nop(), nil)

	err := s.PublishSearchCompleted(context.Background(), domain.SearchCompletedPayload{SearchID: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Contains(t, err.Error(), domain.EventTypeSearchCompleted)
}

func TestKafkaSink_Close(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	s := NewKafkaSinkWithWriter(w, "t", nil, zerolog.Nop(), nil)
	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSink_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewKafkaSink(KafkaConfig{Topic: "t"}, zerolog.Nop(), nil)
	assert.Error(t, err)

	_, err = NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}}, zerolog.Nop(), nil)
	assert.Error(t, err)

	s, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestEmitter_Emit(t *testing.T) {
	t.Parallel()

	emitter := NewEmitter(EmitterConfig{})

	t.Run("requires aggregate id", func(t *testing.T) {
		t.Parallel()
		_, err := emitter.Emit(EmitParams{EventType: "x"})
		assert.Error(t, err)
	})

	t.Run("requires event type", func(t *testing.T) {
		t.Parallel()
		_, err := emitter.Emit(EmitParams{AggregateID: "a"})
		assert.Error(t, err)
	})

	t.Run("rejects unserializable payloads", func(t *testing.T) {
		t.Parallel()
		_, err := emitter.Emit(EmitParams{AggregateID: "a", EventType: "x", Payload: make(chan int)})
		assert.Error(t, err)
	})

	t.Run("defaults the key to the aggregate id", func(t *testing.T) {
		t.Parallel()
		msg, err := emitter.Emit(EmitParams{AggregateID: "a", EventType: "x", Payload: map[string]int{"n": 1}})
		require.NoError(t, err)
		assert.Equal(t, "a", string(msg.Key))
		assert.False(t, msg.Time.IsZero())
	})
}

func TestNopSink(t *testing.T) {
	t.Parallel()

	var s DocumentSink = NopSink{}
	assert.NoError(t, s.PublishDocuments(context.Background(), "s", "q", nil))
	assert.NoError(t, s.PublishSearchCompleted(context.Background(), domain.SearchCompletedPayload{}))
	assert.NoError(t, s.PublishReport(context.Background(), nil))
	assert.NoError(t, s.Close())
}
