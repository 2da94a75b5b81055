package crossref

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/providers"
)

func newTestClient(serverURL string) *Client {
	cfg := Config{
		BaseURL:  serverURL,
		Email:    "test@example.com",
		Timeout:  5 * time.Second,
		PageSize: 2,
	}
	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:   domain.ProviderCrossref,
		Timeout:    cfg.Timeout,
		MaxRetries: -1,
	})
	return NewWithHTTPClient(cfg, httpClient)
}

func sampleItem() Item {
	return Item{
		DOI:            "10.1234/X",
		Title:          []string{"  Title from Crossref "},
		ContainerTitle: []string{"Journal of Tests"},
		Publisher:      "ACM",
		Type:           "journal-article",
		Author: []Author{
			{Given: "Ada", Family: "Lovelace", ORCID: "https://orcid.org/0000-0002-0000-0001",
				Affiliation: []Affiliation{{Name: "Analytical Engines Ltd"}}},
			{Name: "The Consortium"},
			{},
		},
		IsReferencedByCount: 150,
		Published:           &DateParts{DateParts: [][]int{{2021, 3}}},
		Issued:              &DateParts{DateParts: [][]int{{2020}}},
		Abstract:            "<jats:title>Abstract</jats:title><jats:p>Hello   <jats:italic>world</jats:italic></jats:p>",
		Link: []Link{
			{URL: "https://example.org/x.xml", ContentType: "text/xml"},
			{URL: "https://example.org/x.pdf", ContentType: "application/pdf"},
		},
		Reference: []Reference{{Key: "r1", DOI: "10.5555/A"}, {Key: "r2"}},
	}
}

func itemsPage(total int64, n int) ListResponse {
	resp := ListResponse{Status: "ok", Message: WorkListMsg{TotalResults: total}}
	for i := 0; i < n; i++ {
		resp.Message.Items = append(resp.Message.Items, Item{
			DOI:   "10.1/" + strconv.Itoa(i),
			Title: []string{"T"},
		})
	}
	return resp
}

func TestClient_Search(t *testing.T) {
	t.Parallel()

	t.Run("paginates with offset", func(t *testing.T) {
		t.Parallel()
		var (
			mu      sync.Mutex
			offsets []string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "/works", r.URL.Path)
			assert.Equal(t, "transformers", q.Get("query"))
			assert.Equal(t, "2", q.Get("rows"))
			assert.Equal(t, "test@example.com", q.Get("mailto"))
			mu.Lock()
			offsets = append(offsets, q.Get("offset"))
			mu.Unlock()

			if q.Get("offset") == "" {
				json.NewEncoder(w).Encode(itemsPage(3, 2))
				return
			}
			json.NewEncoder(w).Encode(itemsPage(3, 1))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		items, err := client.Search(context.Background(), domain.SearchIntent{Query: "transformers"})
		require.NoError(t, err)

		docs, err := providers.Drain(context.Background(), items)
		require.NoError(t, err)
		assert.Len(t, docs, 3)
		mu.Lock()
		assert.Equal(t, []string{"", "2"}, offsets)
		mu.Unlock()
		assert.Equal(t, "cr:10.1/0", docs[0].LumenID)
	})

	t.Run("year filters", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "from-pub-date:2019,until-pub-date:2022", r.URL.Query().Get("filter"))
			json.NewEncoder(w).Encode(itemsPage(0, 0))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		items, err := client.Search(context.Background(), domain.SearchIntent{
			Query:   "x",
			Filters: domain.SearchFilters{YearFrom: 2019, YearTo: 2022},
		})
		require.NoError(t, err)

		docs, err := providers.Drain(context.Background(), items)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("drops items without DOI", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := itemsPage(2, 1)
			resp.Message.Items = append(resp.Message.Items, Item{Title: []string{"no doi"}})
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		items, err := client.Search(context.Background(), domain.SearchIntent{Query: "x"})
		require.NoError(t, err)

		docs, err := providers.Drain(context.Background(), items)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}

func TestClient_FetchDetails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/works/10.1234/x" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(WorkResponse{Status: "ok", Message: sampleItem()})
	}))
	t.Cleanup(server.Close)

	client := newTestClient(server.URL)

	t.Run("converts every field", func(t *testing.T) {
		t.Parallel()
		doc, err := client.FetchDetails(context.Background(), "cr:10.1234/x")
		require.NoError(t, err)

		assert.Equal(t, "cr:10.1234/x", doc.LumenID)
		assert.Equal(t, "10.1234/x", doc.DOI)
		assert.Equal(t, "Title from Crossref", doc.Title)
		assert.Equal(t, "Journal of Tests", doc.Venue)
		assert.Equal(t, 2021, doc.PublicationYear)
		assert.Equal(t, 150, doc.CitationCount)
		assert.Equal(t, "Abstract Hello world", doc.Abstract)
		assert.Equal(t, "https://example.org/x.pdf", doc.PDFURL)
		assert.Equal(t, []string{"10.5555/a"}, doc.References)
		assert.Equal(t, []domain.Author{
			{Name: "Ada Lovelace", ORCID: "0000-0002-0000-0001", Affiliation: "Analytical Engines Ltd"},
			{Name: "The Consortium"},
		}, doc.Authors)
		assert.True(t, doc.IsFullyHydrated)
		assert.Contains(t, string(doc.RawSourceData[domain.ProviderCrossref]), "journal-article")
	})

	t.Run("accepts a DOI URL", func(t *testing.T) {
		t.Parallel()
		doc, err := client.FetchDetails(context.Background(), "https://doi.org/10.1234/X")
		require.NoError(t, err)
		assert.Equal(t, "10.1234/x", doc.DOI)
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		_, err := client.FetchDetails(context.Background(), "10.9999/missing")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("empty id", func(t *testing.T) {
		t.Parallel()
		_, err := client.FetchDetails(context.Background(), "  ")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestClient_Stats(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "0", q.Get("rows"))
		assert.Equal(t, publishedFacet, q.Get("facet"))
		w.Write([]byte(`{"status":"ok","message":{"total-results":4200,"items":[],
			"facets":{"published":{"value-count":3,"values":{"2020":1000,"2021":3000,"n/a":5}}}}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	stats, err := client.Stats(context.Background(), domain.SearchIntent{Query: "x"})
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderCrossref, stats.Provider)
	assert.Equal(t, int64(4200), stats.TotalCount)
	assert.Equal(t, map[int]int64{2020: 1000, 2021: 3000}, stats.YearHistogram)
	assert.Empty(t, stats.TopConcepts)
	assert.NotEmpty(t, stats.Raw)
}

func TestStripJATS(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", stripJATS(""))
	assert.Equal(t, "plain text", stripJATS("plain   text"))
	assert.Equal(t, "a b", stripJATS("<jats:p>a</jats:p><jats:p>b</jats:p>"))
}

func TestDateParts_Year(t *testing.T) {
	t.Parallel()

	var nilParts *DateParts
	assert.Equal(t, 0, nilParts.Year())
	assert.Equal(t, 0, (&DateParts{}).Year())
	assert.Equal(t, 1999, (&DateParts{DateParts: [][]int{{1999, 12, 31}}}).Year())
}
