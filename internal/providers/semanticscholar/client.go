package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/providers"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the default number of results per page.
	DefaultPageSize = 100

	// maxPageSize is the search endpoint limit.
	maxPageSize = 100

	// apiKeyHeader is the header name for the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// discoveryFields is requested by DISCOVERY mode searches.
	discoveryFields = "paperId,externalIds,title,year,venue,journal,authors,citationCount,isOpenAccess,openAccessPdf"

	// fullFields is requested by ENRICHMENT searches and detail fetches.
	fullFields = discoveryFields + ",abstract,tldr,fieldsOfStudy,references.paperId"
)

// Config contains configuration options for the Semantic Scholar provider.
type Config struct {
	// BaseURL is the base URL for the API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	// Authenticated requests have higher rate limits.
	APIKey string

	// Timeout is the HTTP request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// PageSize is the number of results requested per page, at most 100.
	PageSize int

	// MaxRetries is the number of HTTP retries on 429 and 5xx.
	MaxRetries int

	// Metrics receives per-request metrics when set.
	Metrics *observability.Metrics
}

// Client implements providers.SearchProvider for Semantic Scholar.
type Client struct {
	httpClient *providers.HTTPClient
	config     Config
}

// Compile-time check that Client implements providers.SearchProvider.
var _ providers.SearchProvider = (*Client)(nil)

// NewClient creates a new Semantic Scholar provider with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *providers.HTTPClient) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > maxPageSize {
		cfg.PageSize = DefaultPageSize
	}

	if httpClient == nil {
		httpClient = providers.NewHTTPClient(providers.HTTPClientConfig{
			Provider:     domain.ProviderSemanticScholar,
			Timeout:      cfg.Timeout,
			MaxRetries:   cfg.MaxRetries,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
			Metrics:      cfg.Metrics,
		})
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
	}
}

// ID implements providers.SearchProvider.
func (c *Client) ID() string {
	return domain.ProviderSemanticScholar
}

// Capabilities implements providers.SearchProvider.
func (c *Client) Capabilities() domain.CapabilitySet {
	return domain.NewCapabilitySet(
		domain.CapabilityTextSearch,
		domain.CapabilityStatistics,
		domain.CapabilityFetchDetails,
	)
}

// Search streams papers matching the intent, following the next offset.
func (c *Client) Search(ctx context.Context, intent domain.SearchIntent) (<-chan providers.SearchItem, error) {
	limit := providers.PageSize(intent.Filters.MaxResults, c.config.PageSize)
	fields := discoveryFields
	if intent.EffectiveMode() == domain.ModeEnrichment {
		fields = fullFields
	}

	if _, err := c.buildSearchURL(intent, fields, limit, 0); err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	next := 0
	fetch := func(ctx context.Context, _ int) ([]*domain.ScholarlyDocument, bool, error) {
		searchURL, err := c.buildSearchURL(intent, fields, limit, next)
		if err != nil {
			return nil, false, err
		}

		var resp SearchResponse
		if err := c.httpClient.GetJSON(ctx, "paper_search", searchURL, "", &resp); err != nil {
			return nil, false, refineError(err)
		}

		docs := make([]*domain.ScholarlyDocument, 0, len(resp.Data))
		for i := range resp.Data {
			if doc := convertToDocument(&resp.Data[i]); doc != nil {
				docs = append(docs, doc)
			}
		}
		done := resp.Next <= next
		next = resp.Next
		return docs, done, nil
	}

	return providers.StreamPages(ctx, intent.Filters.MaxResults, fetch), nil
}

// FetchDetails retrieves a paper by Semantic Scholar id, LumenID, DOI or
// arXiv id.
func (c *Client) FetchDetails(ctx context.Context, id string) (*domain.ScholarlyDocument, error) {
	paperID := toPaperID(id)
	if paperID == "" {
		return nil, domain.NewValidationError("id", "must not be empty")
	}

	paperURL := fmt.Sprintf("%s/paper/%s?fields=%s", c.config.BaseURL, url.PathEscape(paperID), url.QueryEscape(fullFields))

	var result PaperResult
	if err := c.httpClient.GetJSON(ctx, "paper", paperURL, id, &result); err != nil {
		return nil, refineError(err)
	}

	doc := convertToDocument(&result)
	if doc == nil {
		return nil, domain.NewNotFoundError("document", id)
	}
	doc.MarkHydrated()
	return doc, nil
}

// Stats returns the total match count. Semantic Scholar exposes no
// aggregations, so the histogram and concepts stay empty.
func (c *Client) Stats(ctx context.Context, intent domain.SearchIntent) (*domain.SearchStatistics, error) {
	statsURL, err := c.buildSearchURL(intent, "paperId", 1, 0)
	if err != nil {
		return nil, fmt.Errorf("building stats URL: %w", err)
	}

	body, err := c.httpClient.GetBody(ctx, "paper_search_count", statsURL, "")
	if err != nil {
		return nil, refineError(err)
	}
	var resp SearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &domain.SearchStatistics{
		Provider:   domain.ProviderSemanticScholar,
		TotalCount: resp.Total,
		Raw:        body,
	}, nil
}

// DebugQueryTranslation renders the first search page URL the intent maps to.
func (c *Client) DebugQueryTranslation(intent domain.SearchIntent) string {
	fields := discoveryFields
	if intent.EffectiveMode() == domain.ModeEnrichment {
		fields = fullFields
	}
	u, err := c.buildSearchURL(intent, fields, providers.PageSize(intent.Filters.MaxResults, c.config.PageSize), 0)
	if err != nil {
		return "invalid: " + err.Error()
	}
	return u
}

// buildSearchURL constructs the search API URL with query parameters.
func (c *Client) buildSearchURL(intent domain.SearchIntent, fields string, limit, offset int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	searchURL := baseURL.JoinPath("paper", "search")

	q := searchURL.Query()
	q.Set("query", intent.Query)
	q.Set("fields", fields)
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if intent.Filters.OpenAccessOnly {
		q.Set("openAccessPdf", "")
	}
	if year := yearRange(intent.Filters); year != "" {
		q.Set("year", year)
	}

	searchURL.RawQuery = q.Encode()
	return searchURL.String(), nil
}

// yearRange renders the year parameter: "2019-2023", "2019-" or "-2023".
func yearRange(f domain.SearchFilters) string {
	switch {
	case f.YearFrom > 0 && f.YearTo > 0:
		return fmt.Sprintf("%d-%d", f.YearFrom, f.YearTo)
	case f.YearFrom > 0:
		return fmt.Sprintf("%d-", f.YearFrom)
	case f.YearTo > 0:
		return fmt.Sprintf("-%d", f.YearTo)
	default:
		return ""
	}
}

// toPaperID maps the accepted id forms to a Graph API paper id.
func toPaperID(id string) string {
	id = strings.TrimSpace(id)
	switch {
	case strings.HasPrefix(id, "ss:"):
		return strings.TrimPrefix(id, "ss:")
	case strings.HasPrefix(id, "ax:"):
		return "ARXIV:" + strings.TrimPrefix(id, "ax:")
	case strings.HasPrefix(id, "10."), strings.HasPrefix(strings.ToLower(id), "doi:"), strings.HasPrefix(id, "https://doi.org/"):
		return "DOI:" + domain.NormalizeDOI(id)
	default:
		return id
	}
}

// refineError replaces a JSON error body with its message.
func refineError(err error) error {
	var apiErr *domain.ExternalAPIError
	if !errors.As(err, &apiErr) || apiErr.Message == "" {
		return err
	}
	var errResp ErrorResponse
	if json.Unmarshal([]byte(apiErr.Message), &errResp) != nil {
		return err
	}
	message := errResp.Error
	if message == "" {
		message = errResp.Message
	}
	if message == "" {
		return err
	}
	return domain.NewExternalAPIError(apiErr.Source, apiErr.StatusCode, message, apiErr.Cause)
}

// convertToDocument converts a single API paper result. Results without a
// paper id are dropped.
func convertToDocument(result *PaperResult) *domain.ScholarlyDocument {
	if result == nil || strings.TrimSpace(result.PaperID) == "" {
		return nil
	}

	doc := domain.NewDocument(domain.ProviderSemanticScholar, result.PaperID, strings.TrimSpace(result.Title))
	doc.Abstract = strings.TrimSpace(result.Abstract)
	doc.PublicationYear = result.Year
	doc.Venue = result.Venue
	if doc.Venue == "" && result.Journal != nil {
		doc.Venue = result.Journal.Name
	}
	doc.CitationCount = max(result.CitationCount, 0)

	if result.OpenAccessPDF != nil {
		doc.PDFURL = result.OpenAccessPDF.URL
	}
	if result.TLDR != nil {
		doc.TLDR = strings.TrimSpace(result.TLDR.Text)
	}
	if result.ExternalIDs != nil {
		doc.DOI = domain.NormalizeDOI(result.ExternalIDs.DOI)
		doc.ArXivID = domain.NormalizeArXivID(result.ExternalIDs.ArXiv)
	}

	doc.Authors = convertAuthors(result.Authors)
	for _, ref := range result.References {
		if ref.PaperID != "" {
			doc.References = append(doc.References, domain.LumenID(domain.ProviderSemanticScholar, ref.PaperID))
		}
	}

	raw := map[string]any{
		"semantic_scholar_id": result.PaperID,
		"is_open_access":      result.IsOpenAccess,
	}
	if len(result.FieldsOfStudy) > 0 {
		raw["fields_of_study"] = result.FieldsOfStudy
	}
	if result.ExternalIDs != nil && result.ExternalIDs.PubMed != "" {
		raw["pmid"] = result.ExternalIDs.PubMed
	}
	doc.SetRawSource(domain.ProviderSemanticScholar, raw)

	return doc
}

// convertAuthors converts API authors to domain authors.
func convertAuthors(apiAuthors []Author) []domain.Author {
	authors := make([]domain.Author, 0, len(apiAuthors))
	for _, a := range apiAuthors {
		if strings.TrimSpace(a.Name) == "" {
			continue
		}
		author := domain.Author{Name: a.Name}
		if len(a.Affiliations) > 0 {
			author.Affiliation = a.Affiliations[0]
		}
		authors = append(authors, author)
	}
	return authors
}
