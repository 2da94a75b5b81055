package arxiv

import (
	"context"
	"encoding/xml"
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
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default number of entries per page.
	DefaultPageSize = 100
)

// arxivIDRegex extracts the arXiv ID from the full URL.
// Matches patterns like "http://arxiv.org/abs/2301.12345v1" or "http://arxiv.org/abs/hep-th/9901001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv provider.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// PageSize is the number of entries requested per page.
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
}

// Client implements providers.SearchProvider for arXiv.
type Client struct {
	config     Config
	httpClient *providers.HTTPClient
}

var _ providers.SearchProvider = (*Client)(nil)

// New creates a new arXiv provider with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:   domain.ProviderArXiv,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Metrics:    cfg.Metrics,
	})

	return NewWithHTTPClient(cfg, httpClient)
}

// NewWithHTTPClient creates a new arXiv provider with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// ID implements providers.SearchProvider.
func (c *Client) ID() string {
	return domain.ProviderArXiv
}

// Capabilities implements providers.SearchProvider.
func (c *Client) Capabilities() domain.CapabilitySet {
	return domain.NewCapabilitySet(
		domain.CapabilityTextSearch,
		domain.CapabilityStatistics,
		domain.CapabilityFetchDetails,
	)
}

// Search streams entries matching the intent, newest submissions first.
func (c *Client) Search(ctx context.Context, intent domain.SearchIntent) (<-chan providers.SearchItem, error) {
	pageSize := providers.PageSize(intent.Filters.MaxResults, c.config.PageSize)

	if _, err := c.buildSearchURL(intent, pageSize, 0); err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	fetch := func(ctx context.Context, page int) ([]*domain.ScholarlyDocument, bool, error) {
		start := page * pageSize
		searchURL, err := c.buildSearchURL(intent, pageSize, start)
		if err != nil {
			return nil, false, err
		}

		feed, err := c.fetchFeed(ctx, "query", searchURL, "")
		if err != nil {
			return nil, false, err
		}

		docs := make([]*domain.ScholarlyDocument, 0, len(feed.Entries))
		for i := range feed.Entries {
			if doc := entryToDocument(&feed.Entries[i]); doc != nil {
				docs = append(docs, doc)
			}
		}
		done := int64(start+pageSize) >= feed.TotalResults
		return docs, done, nil
	}

	return providers.StreamPages(ctx, intent.Filters.MaxResults, fetch), nil
}

// FetchDetails retrieves a paper by arXiv id or arxiv LumenID.
func (c *Client) FetchDetails(ctx context.Context, id string) (*domain.ScholarlyDocument, error) {
	arxivID := domain.NormalizeArXivID(strings.TrimPrefix(strings.TrimSpace(id), "ax:"))
	if arxivID == "" {
		return nil, domain.NewValidationError("id", "an arXiv id is required")
	}

	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"
	baseURL.RawQuery = url.Values{"id_list": {arxivID}}.Encode()

	feed, err := c.fetchFeed(ctx, "id_list", baseURL.String(), id)
	if err != nil {
		return nil, err
	}
	if len(feed.Entries) == 0 {
		return nil, domain.NewNotFoundError("document", id)
	}

	doc := entryToDocument(&feed.Entries[0])
	if doc == nil {
		return nil, domain.NewNotFoundError("document", id)
	}
	doc.MarkHydrated()
	return doc, nil
}

// Stats returns the total match count from a max_results=0 query.
func (c *Client) Stats(ctx context.Context, intent domain.SearchIntent) (*domain.SearchStatistics, error) {
	statsURL, err := c.buildSearchURL(intent, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("building stats URL: %w", err)
	}

	feed, err := c.fetchFeed(ctx, "query_count", statsURL, "")
	if err != nil {
		return nil, err
	}

	return &domain.SearchStatistics{
		Provider:   domain.ProviderArXiv,
		TotalCount: feed.TotalResults,
	}, nil
}

// DebugQueryTranslation renders the first search page URL the intent maps to.
func (c *Client) DebugQueryTranslation(intent domain.SearchIntent) string {
	u, err := c.buildSearchURL(intent, providers.PageSize(intent.Filters.MaxResults, c.config.PageSize), 0)
	if err != nil {
		return "invalid: " + err.Error()
	}
	return u
}

func (c *Client) fetchFeed(ctx context.Context, endpoint, rawURL, notFoundID string) (*Feed, error) {
	body, err := c.httpClient.GetBody(ctx, endpoint, rawURL, notFoundID)
	if err != nil {
		return nil, err
	}
	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &feed, nil
}

// buildSearchURL constructs the arXiv search API URL.
func (c *Client) buildSearchURL(intent domain.SearchIntent, maxResults, start int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	searchQuery := "all:" + intent.Query
	if dateFilter := buildDateFilter(intent.Filters); dateFilter != "" {
		searchQuery += " AND " + dateFilter
	}

	query := url.Values{}
	query.Set("search_query", searchQuery)
	query.Set("max_results", strconv.Itoa(maxResults))
	if start > 0 {
		query.Set("start", strconv.Itoa(start))
	}
	query.Set("sortBy", "submittedDate")
	query.Set("sortOrder", "descending")

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// buildDateFilter constructs the arXiv submittedDate range from the year bounds.
func buildDateFilter(f domain.SearchFilters) string {
	if f.YearFrom <= 0 && f.YearTo <= 0 {
		return ""
	}
	from, to := "*", "*"
	if f.YearFrom > 0 {
		from = fmt.Sprintf("%04d01010000", f.YearFrom)
	}
	if f.YearTo > 0 {
		to = fmt.Sprintf("%04d12312359", f.YearTo)
	}
	return fmt.Sprintf("submittedDate:[%s TO %s]", from, to)
}

// entryToDocument converts an Atom entry. Entries without an arXiv id are dropped.
func entryToDocument(entry *Entry) *domain.ScholarlyDocument {
	if entry == nil {
		return nil
	}
	arxivID := extractArXivID(entry.ID)
	if arxivID == "" {
		return nil
	}

	// arXiv pads titles and abstracts with newlines
	doc := domain.NewDocument(domain.ProviderArXiv, arxivID, normalizeWhitespace(entry.Title))
	doc.ArXivID = domain.NormalizeArXivID(arxivID)
	doc.DOI = domain.NormalizeDOI(entry.DOI)
	doc.Abstract = normalizeWhitespace(entry.Summary)
	doc.Venue = normalizeWhitespace(entry.JournalRef)

	if entry.Published != "" {
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			doc.PublicationYear = t.Year()
		}
	}

	for _, a := range entry.Authors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		doc.Authors = append(doc.Authors, domain.Author{
			Name:        name,
			Affiliation: strings.TrimSpace(a.Affiliation),
		})
	}

	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			doc.PDFURL = link.Href
			break
		}
	}
	if doc.PDFURL == "" {
		doc.PDFURL = "https://arxiv.org/pdf/" + arxivID
	}

	categories := make([]string, 0, len(entry.Categories))
	for _, cat := range entry.Categories {
		if cat.Term != "" {
			categories = append(categories, cat.Term)
		}
	}
	raw := map[string]any{
		"arxiv_id":   arxivID,
		"categories": categories,
	}
	if entry.Comment != "" {
		raw["comment"] = strings.TrimSpace(entry.Comment)
	}
	if entry.PrimaryCategory.Term != "" {
		raw["primary_category"] = entry.PrimaryCategory.Term
	}
	doc.SetRawSource(domain.ProviderArXiv, raw)

	return doc
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// Input: "http://arxiv.org/abs/2301.12345v1" returns "2301.12345".
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(strings.TrimSpace(entryURL))
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// normalizeWhitespace trims and collapses multiple whitespace characters.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
