package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/providers"
	"github.com/helixir/lumen-search/internal/providers/openalex"
	"github.com/helixir/lumen-search/internal/providers/providertest"
)

// pagedOpenAlex serves one work per page out of a result set of total works
// and counts the requests it receives.
func pagedOpenAlex(t *testing.T, total int64) (*openalex.Client, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openalex.SearchResponse{
			Meta: openalex.Meta{Count: total},
			Results: []openalex.Work{{
				ID:          fmt.Sprintf("https://openalex.org/W%d", n),
				DisplayName: fmt.Sprintf("Work %d", n),
			}},
		})
	}))
	t.Cleanup(server.Close)

	httpClient := providers.NewHTTPClient(providers.HTTPClientConfig{
		Provider:   domain.ProviderOpenAlex,
		Timeout:    5 * time.Second,
		MaxRetries: -1,
		UserAgent:  "TestClient/1.0",
	})
	client := openalex.NewWithHTTPClient(openalex.Config{BaseURL: server.URL, PageSize: 1}, httpClient)
	return client, &requests
}

func runSearch(t *testing.T, o *Orchestrator, intent domain.SearchIntent) ([]*domain.ScholarlyDocument, domain.StageResult) {
	t.Helper()

	stream, err := o.Search(context.Background(), intent)
	require.NoError(t, err)
	docs, err := Collect(context.Background(), stream)
	require.NoError(t, err)

	log := stream.Log()
	require.Len(t, log, 1)
	return docs, log[0]
}

func TestSearch_EveryPageIsChargedToTheGovernor(t *testing.T) {
	t.Parallel()

	client, requests := pagedOpenAlex(t, 1000)
	gov := generousGovernor()

	docs, result := runSearch(t, New(newRegistry(client), gov), domain.SearchIntent{
		Query:   "graphs",
		Filters: domain.SearchFilters{MaxResults: 12},
	})

	assert.Len(t, docs, 12)
	assert.Equal(t, int64(12), requests.Load())
	assert.Equal(t, domain.StageSuccess, result.Status)

	usage, ok := gov.UsageStats(domain.ProviderOpenAlex)
	require.True(t, ok)
	assert.Equal(t, requests.Load(), usage.DailyUsage)
}

func TestSearch_DailyQuotaStopsPaging(t *testing.T) {
	t.Parallel()

	client, requests := pagedOpenAlex(t, 1000)
	gov := governor.New(governor.WithQuota(domain.ProviderOpenAlex,
		governor.ProviderQuotaConfig{RequestsPerSecond: 1000, BurstCapacity: 1000, DailyLimit: 5}))

	docs, result := runSearch(t, New(newRegistry(client), gov), domain.SearchIntent{Query: "graphs"})

	assert.Len(t, docs, 5)
	assert.Equal(t, int64(5), requests.Load())
	assert.Equal(t, domain.StagePartial, result.Status)
	assert.Equal(t, 5, result.Documents)
	require.NotNil(t, result.Error)
	assert.Equal(t, domain.CodeDailyQuota, result.Error.Code)

	usage, ok := gov.UsageStats(domain.ProviderOpenAlex)
	require.True(t, ok)
	assert.Equal(t, int64(5), usage.DailyUsage)
}

func TestSearch_DefaultMaxResultsCapsPaging(t *testing.T) {
	t.Parallel()

	client, requests := pagedOpenAlex(t, 1000)
	o := New(newRegistry(client), generousGovernor(), WithDefaultMaxResults(7))

	docs, result := runSearch(t, o, domain.SearchIntent{Query: "graphs"})

	assert.Len(t, docs, 7)
	assert.Equal(t, int64(7), requests.Load())
	assert.Equal(t, domain.StageSuccess, result.Status)
}

func TestSearch_PagesArePacedByTheTokenBucket(t *testing.T) {
	t.Parallel()

	client, requests := pagedOpenAlex(t, 1000)
	gov := governor.New(governor.WithQuota(domain.ProviderOpenAlex,
		governor.ProviderQuotaConfig{RequestsPerSecond: 50, BurstCapacity: 1}))

	start := time.Now()
	docs, result := runSearch(t, New(newRegistry(client), gov), domain.SearchIntent{
		Query:   "graphs",
		Filters: domain.SearchFilters{MaxResults: 5},
	})

	assert.Len(t, docs, 5)
	assert.Equal(t, int64(5), requests.Load())
	assert.Equal(t, domain.StageSuccess, result.Status)
	// four refills at 50/s
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestSearch_RateRefusalPastDeadlineEndsEarly(t *testing.T) {
	t.Parallel()

	client, requests := pagedOpenAlex(t, 1000)
	gov := governor.New(governor.WithQuota(domain.ProviderOpenAlex,
		governor.ProviderQuotaConfig{RequestsPerSecond: 0.01, BurstCapacity: 1}))

	docs, result := runSearch(t, New(newRegistry(client), gov, WithProviderTimeout(time.Second)), domain.SearchIntent{
		Query: "graphs",
	})

	assert.Len(t, docs, 1)
	assert.Equal(t, int64(1), requests.Load())
	assert.Equal(t, domain.StagePartial, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, domain.CodeRateLimited, result.Error.Code)
}

func TestSearch_EnrichmentChargesEveryFetch(t *testing.T) {
	t.Parallel()

	oa := providertest.New(domain.ProviderOpenAlex)
	oa.Details = map[string]*domain.ScholarlyDocument{
		"oa:W1": newDoc(domain.ProviderOpenAlex, "W1", nil),
		"oa:W2": newDoc(domain.ProviderOpenAlex, "W2", nil),
		"oa:W3": newDoc(domain.ProviderOpenAlex, "W3", nil),
	}
	gov := governor.New(governor.WithQuota(domain.ProviderOpenAlex,
		governor.ProviderQuotaConfig{RequestsPerSecond: 1000, BurstCapacity: 1000, DailyLimit: 2}))

	docs, result := runSearch(t, New(newRegistry(oa), gov), domain.SearchIntent{
		Mode:     domain.ModeEnrichment,
		KnownIDs: []string{"oa:W1", "oa:W2", "oa:W3"},
	})

	assert.Len(t, docs, 2)
	assert.Equal(t, 2, oa.DetailsCalls())
	assert.Equal(t, domain.StagePartial, result.Status)

	usage, ok := gov.UsageStats(domain.ProviderOpenAlex)
	require.True(t, ok)
	assert.Equal(t, int64(2), usage.DailyUsage)
}
