package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/providers"
)

const (
	// DefaultBaseURL is the default OpenAlex API base URL.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default number of works per page.
	DefaultPageSize = 25

	// maxPageSize is the OpenAlex per_page limit.
	maxPageSize = 200

	// topConceptGroups is the number of concept buckets kept by Stats.
	topConceptGroups = 10

	doiPrefix        = "https://doi.org/"
	openAlexIDPrefix = "https://openalex.org/"
)

// discoveryFields is the select list for DISCOVERY mode searches.
var discoveryFields = []string{
	"id", "doi", "display_name", "publication_year", "cited_by_count",
	"authorships", "primary_location", "open_access", "ids", "type",
}

// Config holds configuration for the OpenAlex provider.
type Config struct {
	// BaseURL is the OpenAlex API base URL.
	// Defaults to https://api.openalex.org
	BaseURL string

	// Email is the contact email for the polite pool.
	// See: https://docs.openalex.org/how-to-use-the-api/rate-limits-and-authentication
	Email string

	// Timeout is the request timeout.
	// Defaults to 30 seconds.
	Timeout time.Duration

	// PageSize is the number of works requested per page.
	// Defaults to 25, maximum is 200 per OpenAlex API.
	PageSize int

	// MaxRetries is the number of HTTP retries on 429 and 5xx.
	MaxRetries int

	// Metrics receives per-request metrics when set.
	Metrics *observability.Metrics
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
}

// Client implements providers.SearchProvider for OpenAlex.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.SearchProvider = (*Client)(nil)

// New creates a new OpenAlex provider with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:   domain.ProviderOpenAlex,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		UserAgent:  "LumenSearch/1.0 (mailto:" + cfg.Email + ")",
		Metrics:    cfg.Metrics,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// NewWithHTTPClient creates a new OpenAlex provider with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// ID implements providers.SearchProvider.
func (c *Client) ID() string {
	return domain.ProviderOpenAlex
}

// Capabilities implements providers.SearchProvider.
func (c *Client) Capabilities() domain.CapabilitySet {
	return domain.NewCapabilitySet(
		domain.CapabilityTextSearch,
		domain.CapabilityStatistics,
		domain.CapabilityFetchDetails,
	)
}

// Search streams works matching the intent, one page at a time.
func (c *Client) Search(ctx context.Context, intent domain.SearchIntent) (<-chan providers.SearchItem, error) {
	perPage := providers.PageSize(intent.Filters.MaxResults, c.config.PageSize)

	if _, err := c.buildSearchURL(intent, perPage, 0); err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	fetch := func(ctx context.Context, page int) ([]*domain.ScholarlyDocument, bool, error) {
		searchURL, err := c.buildSearchURL(intent, perPage, page)
		if err != nil {
			return nil, false, err
		}

		var resp SearchResponse
		if err := c.httpClient.GetJSON(ctx, "works", searchURL, "", &resp); err != nil {
			return nil, false, err
		}

		docs := make([]*domain.ScholarlyDocument, 0, len(resp.Results))
		for i := range resp.Results {
			if doc := c.workToDocument(&resp.Results[i]); doc != nil {
				docs = append(docs, doc)
			}
		}
		done := int64((page+1)*perPage) >= resp.Meta.Count
		return docs, done, nil
	}

	return providers.StreamPages(ctx, intent.Filters.MaxResults, fetch), nil
}

// FetchDetails retrieves a full work by OpenAlex id, LumenID or DOI.
func (c *Client) FetchDetails(ctx context.Context, id string) (*domain.ScholarlyDocument, error) {
	fetchURL, err := c.buildGetByIDURL(id)
	if err != nil {
		return nil, fmt.Errorf("building fetch URL: %w", err)
	}

	var work Work
	if err := c.httpClient.GetJSON(ctx, "work", fetchURL, id, &work); err != nil {
		return nil, err
	}

	doc := c.workToDocument(&work)
	if doc == nil {
		return nil, domain.NewNotFoundError("document", id)
	}
	doc.MarkHydrated()
	return doc, nil
}

// Stats returns the total count, the publication year histogram and the top
// concepts for the intent.
func (c *Client) Stats(ctx context.Context, intent domain.SearchIntent) (*domain.SearchStatistics, error) {
	countURL, err := c.buildStatsURL(intent, "")
	if err != nil {
		return nil, fmt.Errorf("building stats URL: %w", err)
	}
	var countResp SearchResponse
	if err := c.httpClient.GetJSON(ctx, "works_count", countURL, "", &countResp); err != nil {
		return nil, err
	}

	yearURL, err := c.buildStatsURL(intent, "publication_year")
	if err != nil {
		return nil, fmt.Errorf("building stats URL: %w", err)
	}
	body, err := c.httpClient.GetBody(ctx, "works_group_by", yearURL, "")
	if err != nil {
		return nil, err
	}
	var years GroupByResponse
	if err := decodeJSON(body, &years); err != nil {
		return nil, err
	}

	conceptURL, err := c.buildStatsURL(intent, "concepts.id")
	if err != nil {
		return nil, fmt.Errorf("building stats URL: %w", err)
	}
	var concepts GroupByResponse
	if err := c.httpClient.GetJSON(ctx, "works_group_by", conceptURL, "", &concepts); err != nil {
		return nil, err
	}

	total := countResp.Meta.Count
	stats := &domain.SearchStatistics{
		Provider:      domain.ProviderOpenAlex,
		TotalCount:    total,
		YearHistogram: make(map[int]int64, len(years.GroupBy)),
		TopConcepts:   groupsToConcepts(concepts.GroupBy, total),
		Raw:           body,
	}
	for _, g := range years.GroupBy {
		year, err := strconv.Atoi(g.Key)
		if err != nil {
			continue
		}
		stats.YearHistogram[year] += g.Count
	}
	return stats, nil
}

// DebugQueryTranslation renders the first search page URL the intent maps to.
func (c *Client) DebugQueryTranslation(intent domain.SearchIntent) string {
	u, err := c.buildSearchURL(intent, providers.PageSize(intent.Filters.MaxResults, c.config.PageSize), 0)
	if err != nil {
		return "invalid: " + err.Error()
	}
	return u
}

// buildSearchURL constructs the works search URL for the zero-based page.
func (c *Client) buildSearchURL(intent domain.SearchIntent, perPage, page int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := c.baseQuery(intent)
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("page", strconv.Itoa(page+1))
	if intent.EffectiveMode() == domain.ModeDiscovery {
		query.Set("select", strings.Join(discoveryFields, ","))
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// buildStatsURL constructs a count-only or group_by URL for the intent.
func (c *Client) buildStatsURL(intent domain.SearchIntent, groupBy string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := c.baseQuery(intent)
	if groupBy == "" {
		query.Set("per_page", "1")
		query.Set("select", "id")
	} else {
		query.Set("group_by", groupBy)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

func (c *Client) baseQuery(intent domain.SearchIntent) url.Values {
	query := url.Values{}
	if intent.Query != "" {
		query.Set("search", intent.Query)
	}
	if filters := buildFilters(intent.Filters); len(filters) > 0 {
		query.Set("filter", strings.Join(filters, ","))
	}
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}
	return query
}

// buildFilters constructs the filter query string components.
func buildFilters(f domain.SearchFilters) []string {
	var filters []string
	if f.YearFrom > 0 {
		filters = append(filters, fmt.Sprintf("from_publication_date:%04d-01-01", f.YearFrom))
	}
	if f.YearTo > 0 {
		filters = append(filters, fmt.Sprintf("to_publication_date:%04d-12-31", f.YearTo))
	}
	if f.OpenAccessOnly {
		filters = append(filters, "is_oa:true")
	}
	return filters
}

// buildGetByIDURL constructs the URL for fetching a work by id.
func (c *Client) buildGetByIDURL(id string) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	id = strings.TrimSpace(id)
	var workID string
	switch {
	case strings.HasPrefix(id, "oa:"):
		workID = strings.TrimPrefix(id, "oa:")
	case strings.HasPrefix(id, openAlexIDPrefix):
		workID = strings.TrimPrefix(id, openAlexIDPrefix)
	case strings.HasPrefix(id, doiPrefix):
		workID = id
	case strings.HasPrefix(id, "10."):
		workID = doiPrefix + id
	case strings.HasPrefix(id, "doi:"):
		workID = doiPrefix + strings.TrimPrefix(id, "doi:")
	default:
		workID = id
	}

	// OpenAlex expects the DOI URL as-is in the path.
	baseURL.Path = "/works/" + workID

	if c.config.Email != "" {
		query := url.Values{}
		query.Set("mailto", c.config.Email)
		baseURL.RawQuery = query.Encode()
	}

	return baseURL.String(), nil
}

// workToDocument converts an OpenAlex Work to a ScholarlyDocument. Works
// without an OpenAlex id are dropped.
func (c *Client) workToDocument(work *Work) *domain.ScholarlyDocument {
	if work == nil {
		return nil
	}

	openAlexID := normalizeOpenAlexID(work.ID)
	if openAlexID == "" {
		openAlexID = normalizeOpenAlexID(work.IDs.OpenAlex)
	}
	if openAlexID == "" {
		return nil
	}

	// display_name is usually cleaner than title
	title := work.DisplayName
	if title == "" {
		title = work.Title
	}

	doc := domain.NewDocument(domain.ProviderOpenAlex, openAlexID, strings.TrimSpace(title))

	doc.DOI = domain.NormalizeDOI(work.DOI)
	if doc.DOI == "" {
		doc.DOI = domain.NormalizeDOI(work.IDs.DOI)
	}
	doc.PublicationYear = work.PublicationYear
	doc.CitationCount = max(work.CitedByCount, 0)

	doc.Authors = make([]domain.Author, 0, len(work.Authorships))
	for _, authorship := range work.Authorships {
		author := domain.Author{
			Name:  authorship.Author.DisplayName,
			ORCID: normalizeORCID(authorship.Author.Orcid),
		}
		if len(authorship.Institutions) > 0 {
			author.Affiliation = authorship.Institutions[0].DisplayName
		}
		doc.Authors = append(doc.Authors, author)
	}

	if work.PrimaryLocation != nil && work.PrimaryLocation.Source != nil {
		doc.Venue = work.PrimaryLocation.Source.DisplayName
	}
	if work.OpenAccess != nil && work.OpenAccess.OAURL != "" {
		doc.PDFURL = work.OpenAccess.OAURL
	} else if work.PrimaryLocation != nil {
		doc.PDFURL = work.PrimaryLocation.PDFURL
	}

	doc.Abstract = reconstructAbstract(work.AbstractInvertedIndex)

	for _, concept := range work.Concepts {
		doc.Concepts = append(doc.Concepts, domain.Concept{
			Name:  concept.DisplayName,
			Score: clampScore(concept.Score),
			ID:    normalizeOpenAlexID(concept.ID),
		})
	}
	for _, ref := range work.ReferencedWorks {
		if id := normalizeOpenAlexID(ref); id != "" {
			doc.References = append(doc.References, domain.LumenID(domain.ProviderOpenAlex, id))
		}
	}

	doc.SetRawSource(domain.ProviderOpenAlex, map[string]any{
		"openalex_id": openAlexID,
		"type":        work.Type,
		"pmid":        normalizePMID(work.IDs.PMID),
		"pmcid":       work.IDs.PMCID,
	})

	return doc
}

// groupsToConcepts converts concept buckets to concepts scored by their share
// of the total count.
func groupsToConcepts(groups []Group, total int64) []domain.Concept {
	sorted := append([]Group(nil), groups...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	if len(sorted) > topConceptGroups {
		sorted = sorted[:topConceptGroups]
	}

	concepts := make([]domain.Concept, 0, len(sorted))
	for _, g := range sorted {
		var score float64
		if total > 0 {
			score = clampScore(float64(g.Count) / float64(total))
		}
		concepts = append(concepts, domain.Concept{
			Name:  g.KeyDisplayName,
			Score: score,
			ID:    normalizeOpenAlexID(g.Key),
		})
	}
	return concepts
}

func decodeJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func clampScore(s float64) float64 {
	return min(max(s, 0), 1)
}

// normalizeOpenAlexID extracts the short ID from full OpenAlex URLs.
func normalizeOpenAlexID(id string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(id), openAlexIDPrefix))
}

// normalizePMID strips any URL prefixes from PubMed IDs.
func normalizePMID(pmid string) string {
	return strings.TrimSpace(strings.TrimPrefix(pmid, "https://pubmed.ncbi.nlm.nih.gov/"))
}

// normalizeORCID strips any URL prefixes from ORCID identifiers.
func normalizeORCID(orcid string) string {
	return strings.TrimSpace(strings.TrimPrefix(orcid, "https://orcid.org/"))
}

// reconstructAbstract rebuilds the abstract text from OpenAlex's inverted
// index, which maps each word to its positions.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	const maxAbstractWords = 100_000
	totalPairs := 0
	for _, positions := range invertedIndex {
		totalPairs += len(positions)
	}
	if totalPairs > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, totalPairs)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	var builder strings.Builder
	builder.Grow(totalPairs * 7)
	for i, pair := range pairs {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(pair.word)
	}
	return builder.String()
}
