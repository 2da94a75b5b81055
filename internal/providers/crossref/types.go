// Package crossref implements the Crossref search provider.
//
// Crossref is the DOI registration agency for most scholarly publishers and
// the authoritative source for titles and publication years. The provider
// supports text search, statistics through the total-results field and the
// published facet, and detail fetches by DOI.
//
// API Documentation: https://api.crossref.org/swagger-ui/index.html
package crossref

// ListResponse is the envelope of the works search endpoint.
type ListResponse struct {
	Status  string      `json:"status"`
	Message WorkListMsg `json:"message"`
}

// WorkListMsg is the message body of a work-list response.
type WorkListMsg struct {
	TotalResults int64            `json:"total-results"`
	Items        []Item           `json:"items"`
	Facets       map[string]Facet `json:"facets"`
}

// Facet is one facet of a work-list response.
type Facet struct {
	ValueCount int              `json:"value-count"`
	Values     map[string]int64 `json:"values"`
}

// WorkResponse is the envelope of the single work endpoint.
type WorkResponse struct {
	Status  string `json:"status"`
	Message Item   `json:"message"`
}

// Item is a Crossref work record.
type Item struct {
	DOI                 string      `json:"DOI"`
	Title               []string    `json:"title"`
	Author              []Author    `json:"author"`
	ContainerTitle      []string    `json:"container-title"`
	Publisher           string      `json:"publisher"`
	Type                string      `json:"type"`
	IsReferencedByCount int         `json:"is-referenced-by-count"`
	Published           *DateParts  `json:"published"`
	Issued              *DateParts  `json:"issued"`
	Abstract            string      `json:"abstract"`
	Link                []Link      `json:"link"`
	Reference           []Reference `json:"reference"`
	Subject             []string    `json:"subject"`
}

// Author is a Crossref contributor.
type Author struct {
	Given       string        `json:"given"`
	Family      string        `json:"family"`
	Name        string        `json:"name"`
	ORCID       string        `json:"ORCID"`
	Affiliation []Affiliation `json:"affiliation"`
}

// Affiliation is an author's institution.
type Affiliation struct {
	Name string `json:"name"`
}

// DateParts holds a partial date as [[year, month, day]].
type DateParts struct {
	DateParts [][]int `json:"date-parts"`
}

// Year returns the year component, or zero when absent.
func (d *DateParts) Year() int {
	if d == nil || len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return 0
	}
	return d.DateParts[0][0]
}

// Link is a full-text link of a work.
type Link struct {
	URL         string `json:"URL"`
	ContentType string `json:"content-type"`
}

// Reference is one entry of a work's reference list.
type Reference struct {
	Key string `json:"key"`
	DOI string `json:"DOI"`
}
