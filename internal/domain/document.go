package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Author represents a document author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	ORCID       string `json:"orcid,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

// String returns a formatted string representation of the author.
func (a Author) String() string {
	var sb strings.Builder
	sb.WriteString(a.Name)

	if a.Affiliation != "" {
		sb.WriteString(" (")
		sb.WriteString(a.Affiliation)
		sb.WriteString(")")
	}

	if a.ORCID != "" {
		sb.WriteString(" [")
		sb.WriteString(a.ORCID)
		sb.WriteString("]")
	}

	return sb.String()
}

// Richness counts the populated optional fields of the author.
func (a Author) Richness() int {
	n := 0
	if a.ORCID != "" {
		n++
	}
	if a.Affiliation != "" {
		n++
	}
	return n
}

// Concept is a topic tag attached to a document by a provider.
type Concept struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	ID    string  `json:"id"`
}

// ScholarlyDocument is the canonical representation of one bibliographic work.
//
// Optional string fields use the empty string for "absent" and a zero
// PublicationYear means the year is unknown.
type ScholarlyDocument struct {
	// LumenID is the session-scoped identity, e.g. "oa:W123".
	LumenID string `json:"lumen_id"`

	// DOI is the cross-provider merge key. It is never replaced once set.
	DOI string `json:"doi,omitempty"`

	// ArXivID is the arXiv identifier without version suffix, when known.
	ArXivID string `json:"arxiv_id,omitempty"`

	// SourceProvider is the provider that produced this instance before any merge.
	SourceProvider string `json:"source_provider"`

	Title           string   `json:"title"`
	Authors         []Author `json:"authors,omitempty"`
	PublicationYear int      `json:"publication_year,omitempty"`
	Venue           string   `json:"venue,omitempty"`
	CitationCount   int      `json:"citation_count"`
	PDFURL          string   `json:"pdf_url,omitempty"`

	Abstract   string    `json:"abstract,omitempty"`
	TLDR       string    `json:"tldr,omitempty"`
	Concepts   []Concept `json:"concepts,omitempty"`
	References []string  `json:"references,omitempty"`
	Citations  []string  `json:"citations,omitempty"`

	// RawSourceData holds each provider's native payload, keyed by provider name.
	RawSourceData map[string]json.RawMessage `json:"raw_source_data,omitempty"`

	// FieldSources names the provider that supplied a trust-ranked field when
	// it differs from SourceProvider.
	FieldSources map[string]string `json:"field_sources,omitempty"`

	IsFullyHydrated     bool     `json:"is_fully_hydrated"`
	RetrievalConfidence float64  `json:"retrieval_confidence"`
	MergedFromIDs       []string `json:"merged_from_ids,omitempty"`
}

// NewDocument creates a document discovered by provider with an exact-key
// retrieval confidence of 1.0.
func NewDocument(provider, nativeID, title string) *ScholarlyDocument {
	return &ScholarlyDocument{
		LumenID:             LumenID(provider, nativeID),
		SourceProvider:      provider,
		Title:               title,
		RetrievalConfidence: 1.0,
	}
}

// LumenID builds the provider-scoped identity for a native provider id.
func LumenID(provider, nativeID string) string {
	prefix, ok := lumenPrefixes[provider]
	if !ok {
		prefix = provider
	}
	return prefix + ":" + nativeID
}

var lumenPrefixes = map[string]string{
	ProviderOpenAlex:        "oa",
	ProviderCrossref:        "cr",
	ProviderSemanticScholar: "ss",
	ProviderArXiv:           "ax",
}

// ProviderFromLumenID maps a LumenID back to the provider that minted it.
// It returns the empty string for ids without a prefix.
func ProviderFromLumenID(id string) string {
	prefix, _, ok := strings.Cut(id, ":")
	if !ok || prefix == "" {
		return ""
	}
	for provider, p := range lumenPrefixes {
		if p == prefix {
			return provider
		}
	}
	return prefix
}

// FieldSource returns the provider that supplied the value of field.
func (d *ScholarlyDocument) FieldSource(field string) string {
	if p := d.FieldSources[field]; p != "" {
		return p
	}
	return d.SourceProvider
}

// HasDOI reports whether the document carries a DOI.
func (d *ScholarlyDocument) HasDOI() bool {
	return strings.TrimSpace(d.DOI) != ""
}

// NormalizedDOI returns the DOI lowercased and stripped of resolver prefixes.
func (d *ScholarlyDocument) NormalizedDOI() string {
	return NormalizeDOI(d.DOI)
}

// NormalizeDOI strips resolver prefixes from a DOI and lowercases it.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	if doi == "" {
		return ""
	}
	lower := strings.ToLower(doi)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			lower = lower[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(lower)
}

// NormalizeArXivID strips URL prefixes and the version suffix from an arXiv id.
func NormalizeArXivID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ""
	}
	for _, prefix := range []string{"https://arxiv.org/abs/", "http://arxiv.org/abs/", "arxiv:"} {
		id = strings.TrimPrefix(id, prefix)
	}
	if i := strings.LastIndex(id, "v"); i > 0 && i < len(id)-1 {
		if isDigits(id[i+1:]) {
			id = id[:i]
		}
	}
	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Clone returns a deep copy of the document.
func (d *ScholarlyDocument) Clone() *ScholarlyDocument {
	if d == nil {
		return nil
	}
	c := *d
	c.Authors = append([]Author(nil), d.Authors...)
	c.Concepts = append([]Concept(nil), d.Concepts...)
	c.References = append([]string(nil), d.References...)
	c.Citations = append([]string(nil), d.Citations...)
	c.MergedFromIDs = append([]string(nil), d.MergedFromIDs...)
	if d.RawSourceData != nil {
		c.RawSourceData = make(map[string]json.RawMessage, len(d.RawSourceData))
		for k, v := range d.RawSourceData {
			c.RawSourceData[k] = append(json.RawMessage(nil), v...)
		}
	}
	if d.FieldSources != nil {
		c.FieldSources = make(map[string]string, len(d.FieldSources))
		for k, v := range d.FieldSources {
			c.FieldSources[k] = v
		}
	}
	return &c
}

// Validate checks the value ranges of the document.
func (d *ScholarlyDocument) Validate() error {
	if strings.TrimSpace(d.LumenID) == "" {
		return NewValidationError("lumen_id", "must not be empty")
	}
	if strings.TrimSpace(d.SourceProvider) == "" {
		return NewValidationError("source_provider", "must not be empty")
	}
	if d.CitationCount < 0 {
		return NewValidationError("citation_count", fmt.Sprintf("must be >= 0, got %d", d.CitationCount))
	}
	if d.RetrievalConfidence < 0 || d.RetrievalConfidence > 1 {
		return NewValidationError("retrieval_confidence", fmt.Sprintf("must be in [0,1], got %g", d.RetrievalConfidence))
	}
	for _, c := range d.Concepts {
		if c.Score < 0 || c.Score > 1 {
			return NewValidationError("concepts", fmt.Sprintf("score for %q must be in [0,1], got %g", c.Name, c.Score))
		}
	}
	return nil
}

// SetRawSource stores a provider's native payload in the sidecar map.
func (d *ScholarlyDocument) SetRawSource(provider string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if d.RawSourceData == nil {
		d.RawSourceData = make(map[string]json.RawMessage)
	}
	d.RawSourceData[provider] = data
}

// MarkHydrated flips IsFullyHydrated to true. It never reverts.
func (d *ScholarlyDocument) MarkHydrated() {
	d.IsFullyHydrated = true
}
