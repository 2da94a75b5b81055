// Package domain provides the shared value types of the federated search engine.
package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Known provider identifiers.
const (
	ProviderOpenAlex        = "openalex"
	ProviderCrossref        = "crossref"
	ProviderSemanticScholar = "semanticscholar"
	ProviderArXiv           = "arxiv"
)

// ProviderCapability is a feature a SearchProvider declares support for.
type ProviderCapability string

const (
	CapabilityTextSearch   ProviderCapability = "TEXT_SEARCH"
	CapabilityStatistics   ProviderCapability = "STATISTICS"
	CapabilityFetchDetails ProviderCapability = "FETCH_DETAILS"
)

// CapabilitySet is the set of capabilities declared by a provider.
type CapabilitySet map[ProviderCapability]struct{}

// NewCapabilitySet builds a CapabilitySet from the given capabilities.
func NewCapabilitySet(caps ...ProviderCapability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c ProviderCapability) bool {
	_, ok := s[c]
	return ok
}

// String returns the capabilities sorted and comma-separated.
func (s CapabilitySet) String() string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// SearchMode selects between cheap discovery and full enrichment fetches.
type SearchMode string

const (
	// ModeDiscovery requests cheap "lite" records from text search.
	ModeDiscovery SearchMode = "DISCOVERY"
	// ModeEnrichment fetches full records for already known ids.
	ModeEnrichment SearchMode = "ENRICHMENT"
)

// IsValid reports whether the mode is one of the known values.
func (m SearchMode) IsValid() bool {
	return m == ModeDiscovery || m == ModeEnrichment
}

// SearchFilters narrows a search.
type SearchFilters struct {
	// YearFrom is the inclusive lower publication year bound (0 = unbounded).
	YearFrom int `json:"year_from,omitempty" yaml:"year_from,omitempty"`

	// YearTo is the inclusive upper publication year bound (0 = unbounded).
	YearTo int `json:"year_to,omitempty" yaml:"year_to,omitempty"`

	OpenAccessOnly bool `json:"open_access_only,omitempty" yaml:"open_access_only,omitempty"`

	// MaxResults caps the number of records streamed per provider (0 = provider default).
	MaxResults int `json:"max_results,omitempty" yaml:"max_results,omitempty"`
}

// SearchIntent is an already-validated query handed to the engine.
type SearchIntent struct {
	Query   string        `json:"query" yaml:"query"`
	Filters SearchFilters `json:"filters" yaml:"filters"`
	Mode    SearchMode    `json:"mode" yaml:"mode"`

	// DomainContext is an optional hint for provider-side query shaping.
	DomainContext string `json:"domain_context,omitempty" yaml:"domain_context,omitempty"`

	// Providers restricts the fan-out to these provider ids. Empty means all capable providers.
	Providers []string `json:"providers,omitempty" yaml:"providers,omitempty"`

	// KnownIDs lists the ids to fetch in ENRICHMENT mode.
	KnownIDs []string `json:"known_ids,omitempty" yaml:"known_ids,omitempty"`
}

// EffectiveMode returns the intent's mode, defaulting to discovery.
func (i SearchIntent) EffectiveMode() SearchMode {
	if i.Mode == "" {
		return ModeDiscovery
	}
	return i.Mode
}

// SearchStatistics is a statistics-only view of a query on one provider.
type SearchStatistics struct {
	Provider      string          `json:"provider"`
	TotalCount    int64           `json:"total_count"`
	YearHistogram map[int]int64   `json:"year_histogram,omitempty"`
	TopConcepts   []Concept       `json:"top_concepts,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// MatchType records which dedup rule collapsed a cluster.
type MatchType string

const (
	MatchDOIExact       MatchType = "DOI_EXACT"
	MatchArXivExact     MatchType = "ARXIV_EXACT"
	MatchTitleFuzzyYear MatchType = "TITLE_FUZZY_YEAR"
)

// DuplicateCluster groups documents judged to be the same work.
type DuplicateCluster struct {
	Representative *ScholarlyDocument   `json:"representative"`
	Duplicates     []*ScholarlyDocument `json:"duplicates"`
	MatchType      MatchType            `json:"match_type"`
}
