// Package providers defines the contract every bibliographic source implements
// and the shared plumbing (registry, HTTP client, page streaming) the
// concrete providers build on.
//
// Each provider lives in its own sub-package (openalex, crossref,
// semanticscholar, arxiv) and is registered with a Registry:
//
//	reg := providers.NewRegistry()
//	reg.Register(openalex.New(openalex.Config{Email: "me@example.org"}))
//
//	items, err := p.Search(ctx, intent)
//	for item := range items {
//		if item.Err != nil { ... }
//		handle(item.Document)
//	}
package providers

import (
	"context"

	"github.com/helixir/lumen-search/internal/domain"
)

// SearchItem is one element of a provider result stream: a document, or the
// error that ended the stream.
type SearchItem struct {
	Document *domain.ScholarlyDocument
	Err      error
}

// SearchProvider is implemented by each bibliographic source.
type SearchProvider interface {
	// ID returns the stable provider id, e.g. "openalex".
	ID() string

	// Capabilities returns the features the provider supports.
	Capabilities() domain.CapabilitySet

	// Search streams documents matching the intent. The channel is closed when
	// the provider has no more results, after an item carrying an error, or
	// when ctx is done. A non-nil error means the search could not start.
	Search(ctx context.Context, intent domain.SearchIntent) (<-chan SearchItem, error)

	// FetchDetails retrieves the full record for a provider id or DOI.
	// Returns a *domain.NotFoundError when the record does not exist.
	FetchDetails(ctx context.Context, id string) (*domain.ScholarlyDocument, error)

	// Stats returns a statistics-only view of the intent.
	Stats(ctx context.Context, intent domain.SearchIntent) (*domain.SearchStatistics, error)

	// DebugQueryTranslation renders the native request the intent maps to.
	DebugQueryTranslation(intent domain.SearchIntent) string
}
