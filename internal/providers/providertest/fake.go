// Package providertest provides an in-memory SearchProvider for tests of
// packages that fan out to providers.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/providers"
)

// Fake is a scripted SearchProvider. The zero value is not usable; build one
// with New.
type Fake struct {
	id   string
	caps domain.CapabilitySet

	mu sync.Mutex

	// Docs are streamed in order by Search.
	Docs []*domain.ScholarlyDocument
	// SearchErr, when set, is returned by Search before any streaming.
	SearchErr error
	// StreamErr, when set, is sent after Docs.
	StreamErr error
	// Delay is waited before each document, honouring ctx.
	Delay time.Duration
	// Hang blocks Search streams until ctx is done.
	Hang bool

	// Details maps ids to FetchDetails results.
	Details map[string]*domain.ScholarlyDocument
	// DetailsErr is returned by FetchDetails when set.
	DetailsErr error

	// Statistics is returned by Stats.
	Statistics *domain.SearchStatistics
	// StatsErr is returned by Stats when set.
	StatsErr error

	searchCalls  int
	statsCalls   int
	detailsCalls int
}

var _ providers.SearchProvider = (*Fake)(nil)

// New returns a Fake with the given id. With no capabilities it declares all.
func New(id string, caps ...domain.ProviderCapability) *Fake {
	if len(caps) == 0 {
		caps = []domain.ProviderCapability{
			domain.CapabilityTextSearch,
			domain.CapabilityStatistics,
			domain.CapabilityFetchDetails,
		}
	}
	return &Fake{id: id, caps: domain.NewCapabilitySet(caps...)}
}

// ID implements providers.SearchProvider.
func (f *Fake) ID() string { return f.id }

// Capabilities implements providers.SearchProvider.
func (f *Fake) Capabilities() domain.CapabilitySet { return f.caps }

// Search implements providers.SearchProvider.
func (f *Fake) Search(ctx context.Context, intent domain.SearchIntent) (<-chan providers.SearchItem, error) {
	f.mu.Lock()
	f.searchCalls++
	docs := append([]*domain.ScholarlyDocument(nil), f.Docs...)
	f.mu.Unlock()

	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	out := make(chan providers.SearchItem)
	go func() {
		defer close(out)
		if f.Hang {
			<-ctx.Done()
			return
		}
		for i, doc := range docs {
			if intent.Filters.MaxResults > 0 && i >= intent.Filters.MaxResults {
				return
			}
			if f.Delay > 0 {
				select {
				case <-time.After(f.Delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- providers.SearchItem{Document: doc.Clone()}:
			case <-ctx.Done():
				return
			}
		}
		if f.StreamErr != nil {
			select {
			case out <- providers.SearchItem{Err: f.StreamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// FetchDetails implements providers.SearchProvider.
func (f *Fake) FetchDetails(_ context.Context, id string) (*domain.ScholarlyDocument, error) {
	f.mu.Lock()
	f.detailsCalls++
	f.mu.Unlock()

	if f.DetailsErr != nil {
		return nil, f.DetailsErr
	}
	doc, ok := f.Details[id]
	if !ok {
		return nil, domain.NewNotFoundError("document", id)
	}
	return doc.Clone(), nil
}

// Stats implements providers.SearchProvider.
func (f *Fake) Stats(_ context.Context, _ domain.SearchIntent) (*domain.SearchStatistics, error) {
	f.mu.Lock()
	f.statsCalls++
	f.mu.Unlock()

	if f.StatsErr != nil {
		return nil, f.StatsErr
	}
	if f.Statistics == nil {
		return &domain.SearchStatistics{Provider: f.id}, nil
	}
	s := *f.Statistics
	return &s, nil
}

// DebugQueryTranslation implements providers.SearchProvider.
func (f *Fake) DebugQueryTranslation(intent domain.SearchIntent) string {
	return f.id + "?q=" + intent.Query
}

// SearchCalls returns the number of Search invocations.
func (f *Fake) SearchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

// StatsCalls returns the number of Stats invocations.
func (f *Fake) StatsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

// DetailsCalls returns the number of FetchDetails invocations.
func (f *Fake) DetailsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailsCalls
}
