package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for downstream hand-off events.
const (
	EventTypeDocumentsFused  = "search.documents_fused"
	EventTypeSearchCompleted = "search.completed"
	EventTypeDedupCompleted  = "dedup.completed"
)

// Event is an envelope published to downstream collaborators (persistence, audit).
type Event struct {
	EventID      string          `json:"event_id"`
	EventVersion int             `json:"event_version"`
	AggregateID  string          `json:"aggregate_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:      uuid.New().String(),
		EventVersion: 1,
		AggregateID:  aggregateID,
		EventType:    eventType,
		Payload:      payloadBytes,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// DocumentsFusedPayload is the payload for search.documents_fused events.
type DocumentsFusedPayload struct {
	SearchID  string               `json:"search_id"`
	Query     string               `json:"query"`
	Documents []*ScholarlyDocument `json:"documents"`
	Count     int                  `json:"count"`
}

// SearchCompletedPayload is the payload for search.completed events.
type SearchCompletedPayload struct {
	SearchID     string        `json:"search_id"`
	Query        string        `json:"query"`
	Documents    int           `json:"documents"`
	ExecutionLog []StageResult `json:"execution_log"`
	Duration     time.Duration `json:"duration_ns"`
}

// DedupCompletedPayload is the payload for dedup.completed events.
type DedupCompletedPayload struct {
	RunID             string              `json:"run_id"`
	TotalBefore       int                 `json:"total_before"`
	TotalAfter        int                 `json:"total_after"`
	DuplicatesRemoved int                 `json:"duplicates_removed"`
	Clusters          []*DuplicateCluster `json:"clusters"`
	KeptIDs           []string            `json:"kept_ids"`
}
