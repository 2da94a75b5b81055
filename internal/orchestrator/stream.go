package orchestrator

import (
	"context"
	"sync"

	"github.com/helixir/lumen-search/internal/domain"
)

// EventKind tells whether an event introduces a document or refines one.
type EventKind string

const (
	// EventNew is emitted the first time an identity key is seen.
	EventNew EventKind = "new"
	// EventUpdated carries the fused document after a duplicate arrived.
	EventUpdated EventKind = "updated"
)

// Event is one element of a search stream.
type Event struct {
	Kind EventKind `json:"kind"`

	// Document is a snapshot of the fused record; callers may keep it.
	Document *domain.ScholarlyDocument `json:"document"`

	// Provider is the provider whose record triggered the event.
	Provider string `json:"provider"`
}

// arrival is a provider record on its way to the merge loop.
type arrival struct {
	doc      *domain.ScholarlyDocument
	provider string
}

// Stream is a running federated search. Events are produced until every
// provider finishes or the stream is closed.
type Stream struct {
	id     string
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	index *identityIndex
	log   []domain.StageResult
}

func newStream(id string, cancel context.CancelFunc, buffer int) *Stream {
	return &Stream{
		id:     id,
		events: make(chan Event, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
		index:  newIdentityIndex(),
	}
}

// SearchID returns the id assigned to this search.
func (s *Stream) SearchID() string {
	return s.id
}

// C returns the event channel. It is closed when the search ends.
func (s *Stream) C() <-chan Event {
	return s.events
}

// Next blocks until the next event, the end of the stream, or ctx is done.
// It reports false once no more events will be delivered to this caller.
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	if ctx.Err() != nil {
		return Event{}, false
	}
	select {
	case ev, ok := <-s.events:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close cancels every in-flight provider task and waits for the merge loop
// to exit. It is safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// Done is closed after the last provider finished and the merge loop exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Log returns a copy of the execution log recorded so far, one entry per
// provider that was skipped, failed or completed.
func (s *Stream) Log() []domain.StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StageResult, len(s.log))
	copy(out, s.log)
	return out
}

// Results returns the fused documents seen so far in first-seen order.
func (s *Stream) Results() []*domain.ScholarlyDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.snapshot()
}

// Len returns the number of distinct fused documents seen so far.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.len()
}

func (s *Stream) record(r domain.StageResult) {
	s.mu.Lock()
	s.log = append(s.log, r)
	s.mu.Unlock()
}

// upsert fuses doc into the index and returns a snapshot of the result.
func (s *Stream) upsert(doc *domain.ScholarlyDocument) (*domain.ScholarlyDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fused, isNew := s.index.upsert(doc)
	return fused.Clone(), isNew
}

func (s *Stream) finish() {
	close(s.events)
	close(s.done)
}
