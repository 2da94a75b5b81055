package arxiv

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/providers"
)

const sampleEntry = `
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <updated>2023-08-02T00:41:18Z</updated>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models
      are based on recurrent networks.
    </summary>
    <author><name>Ashish Vaswani</name><arxiv:affiliation>Google Brain</arxiv:affiliation></author>
    <author><name>Noam Shazeer</name></author>
    <arxiv:doi>10.48550/arXiv.1706.03762</arxiv:doi>
    <arxiv:journal_ref>NeurIPS 2017</arxiv:journal_ref>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
    <arxiv:primary_category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>`

func feedXML(total int, entries ...string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <opensearch:totalResults>%d</opensearch:totalResults>
  <opensearch:startIndex>0</opensearch:startIndex>
  %s
</feed>`, total, strings.Join(entries, "\n"))
}

func entryWithID(id string) string {
	return fmt.Sprintf(`<entry><id>http://arxiv.org/abs/%sv1</id><title>T %s</title></entry>`, id, id)
}

func newTestClient(serverURL string) *Client {
	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:   domain.ProviderArXiv,
		Timeout:    5 * time.Second,
		MaxRetries: -1,
	})
	return NewWithHTTPClient(Config{BaseURL: serverURL, PageSize: 2}, httpClient)
}

func TestClient_Search(t *testing.T) {
	t.Parallel()

	t.Run("pages with start", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "/query", r.URL.Path)
			assert.Equal(t, "all:quantum", q.Get("search_query"))
			assert.Equal(t, "2", q.Get("max_results"))
			assert.Equal(t, "submittedDate", q.Get("sortBy"))

			w.Header().Set("Content-Type", "application/atom+xml")
			switch q.Get("start") {
			case "":
				w.Write([]byte(feedXML(3, entryWithID("2301.00001"), entryWithID("2301.00002"))))
			case "2":
				w.Write([]byte(feedXML(3, entryWithID("2301.00003"))))
			default:
				t.Errorf("unexpected start %q", q.Get("start"))
			}
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		items, err := client.Search(context.Background(), domain.SearchIntent{Query: "quantum"})
		require.NoError(t, err)

		docs, err := providers.Drain(context.Background(), items)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "ax:2301.00001", docs[0].LumenID)
		assert.Equal(t, "2301.00003", docs[2].ArXivID)
	})

	t.Run("adds the submitted date range", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "all:x AND submittedDate:[202001010000 TO *]", r.URL.Query().Get("search_query"))
			w.Write([]byte(feedXML(0)))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		items, err := client.Search(context.Background(), domain.SearchIntent{
			Query:   "x",
			Filters: domain.SearchFilters{YearFrom: 2020},
		})
		require.NoError(t, err)

		docs, err := providers.Drain(context.Background(), items)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("malformed XML ends the stream with an error", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<feed><entry>"))
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		items, err := client.Search(context.Background(), domain.SearchIntent{Query: "x"})
		require.NoError(t, err)

		_, err = providers.Drain(context.Background(), items)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding response")
	})
}

func TestClient_FetchDetails(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_list") == "1706.03762" {
			w.Write([]byte(feedXML(1, sampleEntry)))
			return
		}
		w.Write([]byte(feedXML(0)))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(server.URL)

	t.Run("converts every field", func(t *testing.T) {
		t.Parallel()
		doc, err := client.FetchDetails(context.Background(), "ax:1706.03762v7")
		require.NoError(t, err)

		assert.Equal(t, "ax:1706.03762", doc.LumenID)
		assert.Equal(t, "1706.03762", doc.ArXivID)
		assert.Equal(t, "10.48550/arxiv.1706.03762", doc.DOI)
		assert.Equal(t, "Attention Is All You Need", doc.Title)
		assert.Equal(t, "The dominant sequence transduction models are based on recurrent networks.", doc.Abstract)
		assert.Equal(t, 2017, doc.PublicationYear)
		assert.Equal(t, "NeurIPS 2017", doc.Venue)
		assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", doc.PDFURL)
		assert.Equal(t, []domain.Author{
			{Name: "Ashish Vaswani", Affiliation: "Google Brain"},
			{Name: "Noam Shazeer"},
		}, doc.Authors)
		assert.True(t, doc.IsFullyHydrated)
		assert.Contains(t, string(doc.RawSourceData[domain.ProviderArXiv]), "cs.LG")
	})

	t.Run("empty feed is not found", func(t *testing.T) {
		t.Parallel()
		_, err := client.FetchDetails(context.Background(), "9999.99999")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestClient_Stats(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("max_results"))
		w.Write([]byte(feedXML(987)))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	stats, err := client.Stats(context.Background(), domain.SearchIntent{Query: "x"})
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderArXiv, stats.Provider)
	assert.Equal(t, int64(987), stats.TotalCount)
}

func TestExtractArXivID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"http://arxiv.org/abs/2301.12345v1", "2301.12345"},
		{"http://arxiv.org/abs/2301.12345", "2301.12345"},
		{"http://arxiv.org/abs/hep-th/9901001v2", "hep-th/9901001"},
		{"https://example.org/x", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractArXivID(tt.in), tt.in)
	}
}
