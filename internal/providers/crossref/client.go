package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/providers"
)

const (
	// DefaultBaseURL is the default Crossref REST API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default number of rows per page.
	DefaultPageSize = 20

	// maxPageSize is the Crossref rows limit.
	maxPageSize = 1000

	// publishedFacet requests the publication year facet with all values.
	publishedFacet = "published:*"
)

var (
	jatsTagRegex    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Config holds configuration for the Crossref provider.
type Config struct {
	// BaseURL is the Crossref API base URL.
	// Defaults to https://api.crossref.org
	BaseURL string

	// Email is sent as mailto to join the polite pool.
	Email string

	// Timeout is the request timeout.
	// Defaults to 30 seconds.
	Timeout time.Duration

	// PageSize is the number of rows requested per page.
	// Defaults to 20, maximum is 1000 per Crossref API.
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

// Client implements providers.SearchProvider for Crossref.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.SearchProvider = (*Client)(nil)

// New creates a new Crossref provider with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:   domain.ProviderCrossref,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		UserAgent:  "LumenSearch/1.0 (mailto:" + cfg.Email + ")",
		Metrics:    cfg.Metrics,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// NewWithHTTPClient creates a new Crossref provider with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// ID implements providers.SearchProvider.
func (c *Client) ID() string {
	return domain.ProviderCrossref
}

// Capabilities implements providers.SearchProvider.
func (c *Client) Capabilities() domain.CapabilitySet {
	return domain.NewCapabilitySet(
		domain.CapabilityTextSearch,
		domain.CapabilityStatistics,
		domain.CapabilityFetchDetails,
	)
}

// Search streams works matching the intent using offset pagination.
func (c *Client) Search(ctx context.Context, intent domain.SearchIntent) (<-chan providers.SearchItem, error) {
	rows := providers.PageSize(intent.Filters.MaxResults, c.config.PageSize)

	if _, err := c.buildSearchURL(intent, rows, 0); err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	fetch := func(ctx context.Context, page int) ([]*domain.ScholarlyDocument, bool, error) {
		offset := page * rows
		searchURL, err := c.buildSearchURL(intent, rows, offset)
		if err != nil {
			return nil, false, err
		}

		var resp ListResponse
		if err := c.httpClient.GetJSON(ctx, "works", searchURL, "", &resp); err != nil {
			return nil, false, err
		}

		docs := make([]*domain.ScholarlyDocument, 0, len(resp.Message.Items))
		for i := range resp.Message.Items {
			if doc := itemToDocument(&resp.Message.Items[i]); doc != nil {
				docs = append(docs, doc)
			}
		}
		done := int64(offset+rows) >= resp.Message.TotalResults
		return docs, done, nil
	}

	return providers.StreamPages(ctx, intent.Filters.MaxResults, fetch), nil
}

// FetchDetails retrieves a work by DOI or crossref LumenID.
func (c *Client) FetchDetails(ctx context.Context, id string) (*domain.ScholarlyDocument, error) {
	doi := domain.NormalizeDOI(strings.TrimPrefix(strings.TrimSpace(id), "cr:"))
	if doi == "" {
		return nil, domain.NewValidationError("id", "a DOI is required")
	}

	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works/" + doi
	if c.config.Email != "" {
		baseURL.RawQuery = url.Values{"mailto": {c.config.Email}}.Encode()
	}

	var resp WorkResponse
	if err := c.httpClient.GetJSON(ctx, "work", baseURL.String(), id, &resp); err != nil {
		return nil, err
	}

	doc := itemToDocument(&resp.Message)
	if doc == nil {
		return nil, domain.NewNotFoundError("document", id)
	}
	doc.MarkHydrated()
	return doc, nil
}

// Stats returns the total result count and the published year facet.
func (c *Client) Stats(ctx context.Context, intent domain.SearchIntent) (*domain.SearchStatistics, error) {
	statsURL, err := c.buildSearchURL(intent, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("building stats URL: %w", err)
	}
	u, err := url.Parse(statsURL)
	if err != nil {
		return nil, fmt.Errorf("parsing stats URL: %w", err)
	}
	q := u.Query()
	q.Set("facet", publishedFacet)
	u.RawQuery = q.Encode()

	body, err := c.httpClient.GetBody(ctx, "works_stats", u.String(), "")
	if err != nil {
		return nil, err
	}
	var resp ListResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}

	stats := &domain.SearchStatistics{
		Provider:      domain.ProviderCrossref,
		TotalCount:    resp.Message.TotalResults,
		YearHistogram: make(map[int]int64),
		Raw:           body,
	}
	if facet, ok := resp.Message.Facets["published"]; ok {
		for key, count := range facet.Values {
			year, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			stats.YearHistogram[year] += count
		}
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

func (c *Client) buildSearchURL(intent domain.SearchIntent, rows, offset int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := url.Values{}
	if intent.Query != "" {
		query.Set("query", intent.Query)
	}
	if filters := buildFilters(intent.Filters); len(filters) > 0 {
		query.Set("filter", strings.Join(filters, ","))
	}
	query.Set("rows", strconv.Itoa(rows))
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

func buildFilters(f domain.SearchFilters) []string {
	var filters []string
	if f.YearFrom > 0 {
		filters = append(filters, fmt.Sprintf("from-pub-date:%04d", f.YearFrom))
	}
	if f.YearTo > 0 {
		filters = append(filters, fmt.Sprintf("until-pub-date:%04d", f.YearTo))
	}
	if f.OpenAccessOnly {
		filters = append(filters, "has-license:true")
	}
	return filters
}

// itemToDocument converts a Crossref item. Items without a DOI are dropped.
func itemToDocument(item *Item) *domain.ScholarlyDocument {
	if item == nil {
		return nil
	}
	doi := domain.NormalizeDOI(item.DOI)
	if doi == "" {
		return nil
	}

	doc := domain.NewDocument(domain.ProviderCrossref, doi, firstOf(item.Title))
	doc.DOI = doi
	doc.Venue = firstOf(item.ContainerTitle)
	doc.CitationCount = max(item.IsReferencedByCount, 0)
	doc.PublicationYear = item.Published.Year()
	if doc.PublicationYear == 0 {
		doc.PublicationYear = item.Issued.Year()
	}
	doc.Abstract = stripJATS(item.Abstract)

	for _, a := range item.Author {
		name := strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
		if name == "" {
			name = strings.TrimSpace(a.Name)
		}
		if name == "" {
			continue
		}
		author := domain.Author{Name: name, ORCID: normalizeORCID(a.ORCID)}
		if len(a.Affiliation) > 0 {
			author.Affiliation = a.Affiliation[0].Name
		}
		doc.Authors = append(doc.Authors, author)
	}

	for _, l := range item.Link {
		if l.ContentType == "application/pdf" {
			doc.PDFURL = l.URL
			break
		}
	}

	for _, ref := range item.Reference {
		if refDOI := domain.NormalizeDOI(ref.DOI); refDOI != "" {
			doc.References = append(doc.References, refDOI)
		}
	}

	doc.SetRawSource(domain.ProviderCrossref, map[string]any{
		"type":      item.Type,
		"publisher": item.Publisher,
		"subject":   item.Subject,
	})
	return doc
}

func firstOf(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// stripJATS removes JATS markup from an abstract and collapses whitespace.
func stripJATS(s string) string {
	if s == "" {
		return ""
	}
	s = jatsTagRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

func normalizeORCID(orcid string) string {
	orcid = strings.TrimSpace(orcid)
	orcid = strings.TrimPrefix(orcid, "https://orcid.org/")
	return strings.TrimPrefix(orcid, "http://orcid.org/")
}

func decodeJSON(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
