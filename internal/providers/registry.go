package providers

import (
	"sort"
	"sync"

	"github.com/helixir/lumen-search/internal/domain"
)

// Registry manages search providers by id. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]SearchProvider
}

// NewRegistry creates a new provider registry with an empty provider map.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]SearchProvider),
	}
}

// Register adds a provider to the registry.
// If a provider with the same id already exists, it will be replaced.
func (r *Registry) Register(p SearchProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (SearchProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns every registered provider sorted by id.
// The returned slice is a snapshot and is safe to iterate even if
// providers are added or removed concurrently.
func (r *Registry) All() []SearchProvider {
	r.mu.RLock()
	out := make([]SearchProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sortByID(out)
	return out
}

// IDs returns the sorted ids of all registered providers.
func (r *Registry) IDs() []string {
	all := r.All()
	ids := make([]string, len(all))
	for i, p := range all {
		ids[i] = p.ID()
	}
	return ids
}

// WithCapability returns the providers declaring c, sorted by id.
func (r *Registry) WithCapability(c domain.ProviderCapability) []SearchProvider {
	all := r.All()
	out := all[:0]
	for _, p := range all {
		if p.Capabilities().Has(c) {
			out = append(out, p)
		}
	}
	return out
}

// Resolve returns the providers named by ids, in the given order and without
// repeats. An empty ids returns all providers. An id that is not registered
// yields a *domain.UnknownProviderError and no providers.
func (r *Registry) Resolve(ids []string) ([]SearchProvider, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	out := make([]SearchProvider, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		p, ok := r.providers[id]
		if !ok {
			return nil, domain.NewUnknownProviderError(id)
		}
		seen[id] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func sortByID(ps []SearchProvider) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID() < ps[j].ID() })
}
