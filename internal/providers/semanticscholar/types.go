// Package semanticscholar implements the Semantic Scholar search provider.
//
// Semantic Scholar is the only provider that supplies machine-generated
// TLDR summaries. The provider supports text search over the Graph API,
// total-count statistics and detail fetches by paper id, DOI or arXiv id.
//
// API Documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// SearchResponse represents the response from the paper search endpoint.
type SearchResponse struct {
	// Total is the total number of papers matching the query.
	Total int64 `json:"total"`

	// Offset is the current offset in the result set.
	Offset int `json:"offset"`

	// Next is the offset for the next page of results.
	// A value of 0 indicates no more results.
	Next int `json:"next"`

	// Data contains the list of papers returned by the search.
	Data []PaperResult `json:"data"`
}

// PaperResult represents a single paper in the Semantic Scholar API response.
type PaperResult struct {
	// PaperID is the Semantic Scholar unique identifier for the paper.
	PaperID string `json:"paperId"`

	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`

	// Venue is the publication venue (conference, journal name, etc.).
	Venue   string   `json:"venue"`
	Journal *Journal `json:"journal,omitempty"`

	Authors []Author `json:"authors"`

	CitationCount  int  `json:"citationCount"`
	ReferenceCount int  `json:"referenceCount"`
	IsOpenAccess   bool `json:"isOpenAccess"`

	OpenAccessPDF *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	ExternalIDs   *ExternalIDs   `json:"externalIds,omitempty"`

	// TLDR is the model-generated one sentence summary.
	TLDR *TLDR `json:"tldr,omitempty"`

	FieldsOfStudy []string   `json:"fieldsOfStudy,omitempty"`
	References    []PaperRef `json:"references,omitempty"`
}

// ExternalIDs contains external identifiers for a paper.
type ExternalIDs struct {
	DOI           string `json:"DOI,omitempty"`
	ArXiv         string `json:"ArXiv,omitempty"`
	PubMed        string `json:"PubMed,omitempty"`
	PubMedCentral string `json:"PubMedCentral,omitempty"`
}

// Journal contains journal-specific information.
type Journal struct {
	Name   string `json:"name,omitempty"`
	Volume string `json:"volume,omitempty"`
	Pages  string `json:"pages,omitempty"`
}

// Author represents a paper author in the Semantic Scholar API.
type Author struct {
	AuthorID     string   `json:"authorId,omitempty"`
	Name         string   `json:"name"`
	Affiliations []string `json:"affiliations,omitempty"`
}

// OpenAccessPDF contains information about an open access PDF.
type OpenAccessPDF struct {
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// TLDR is a generated summary.
type TLDR struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text,omitempty"`
}

// PaperRef is a reference to another paper.
type PaperRef struct {
	PaperID string `json:"paperId"`
}

// ErrorResponse represents an error response from the Semantic Scholar API.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
