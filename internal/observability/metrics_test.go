package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: prometheus/promauto registers metrics globally, so we need to use
// unique namespaces per test to avoid registration conflicts.

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("test_lumen_new")

	assert.NotNil(t, m.SearchesStarted)
	assert.NotNil(t, m.SearchesCompleted)
	assert.NotNil(t, m.SearchesFailed)
	assert.NotNil(t, m.SearchesSkipped)
	assert.NotNil(t, m.DocumentsEmitted)
	assert.NotNil(t, m.DocumentsFused)
	assert.NotNil(t, m.PermitsGranted)
	assert.NotNil(t, m.PermitsDenied)
	assert.NotNil(t, m.DailyUsage)
	assert.NotNil(t, m.ProviderRequestsTotal)
	assert.NotNil(t, m.ProbeRequests)
	assert.NotNil(t, m.DedupRuns)
	assert.NotNil(t, m.SinkMessagesPublished)
}

func TestRecordSearchLifecycle(t *testing.T) {
	m := NewMetrics("test_search_lifecycle")

	m.RecordSearchStarted("openalex")
	m.RecordSearchCompleted("openalex", 42, 2.5)
	m.RecordSearchFailed("crossref", 1.0)
	m.RecordSearchSkipped("arxiv", "rate_limited")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesStarted.WithLabelValues("openalex")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesCompleted.WithLabelValues("openalex")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesFailed.WithLabelValues("crossref")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesSkipped.WithLabelValues("arxiv", "rate_limited")))
}

func TestRecordDocumentEmittedAndFused(t *testing.T) {
	m := NewMetrics("test_documents_emitted")

	m.RecordDocumentEmitted("new")
	m.RecordDocumentEmitted("new")
	m.RecordDocumentEmitted("updated")
	m.RecordDocumentFused()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DocumentsEmitted.WithLabelValues("new")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocumentsEmitted.WithLabelValues("updated")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DocumentsFused))
}

func TestGovernorMetrics(t *testing.T) {
	m := NewMetrics("test_governor_metrics")

	m.RecordPermitGranted("openalex")
	m.RecordPermitDenied("semanticscholar", "daily_quota")
	m.SetDailyUsage("semanticscholar", 17)
	m.RecordDailyReset()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermitsGranted.WithLabelValues("openalex")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermitsDenied.WithLabelValues("semanticscholar", "daily_quota")))
	assert.Equal(t, float64(17), testutil.ToFloat64(m.DailyUsage.WithLabelValues("semanticscholar")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DailyResets))
}

func TestRecordProviderRequest(t *testing.T) {
	m := NewMetrics("test_provider_request")

	m.RecordProviderRequest("openalex", "works", 0.5)
	m.RecordProviderRequestFailed("openalex", "works", "timeout")
	m.RecordProviderRateLimited("openalex")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequestsTotal.WithLabelValues("openalex", "works")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRequestsFailed.WithLabelValues("openalex", "works", "timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderRateLimited.WithLabelValues("openalex")))
}

func TestRecordProbe(t *testing.T) {
	m := NewMetrics("test_probe")

	m.RecordProbe("signal_strength")
	m.RecordProbeCache(true)
	m.RecordProbeCache(false)
	m.RecordProbeCache(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProbeRequests.WithLabelValues("signal_strength")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProbeCacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ProbeCacheMisses))
}

func TestRecordDedupRun(t *testing.T) {
	m := NewMetrics("test_dedup_run")

	m.RecordDedupRun(3, 0.02)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DedupRuns))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DedupDuplicatesRemoved))

	histCount, err := getHistogramSampleCount(m.DedupDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordSink(t *testing.T) {
	m := NewMetrics("test_sink")

	m.RecordSinkPublished("lumen.documents", 5)
	m.RecordSinkFailed("lumen.dedup")

	assert.Equal(t, float64(5), testutil.ToFloat64(m.SinkMessagesPublished.WithLabelValues("lumen.documents")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkPublishFailed.WithLabelValues("lumen.dedup")))
}

// Helper to get histogram sample count
func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
