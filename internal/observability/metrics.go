package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the federated search engine.
// Metrics are organized by subsystem: searches, fusion, governor, providers,
// probe, dedup, and the downstream sink. All counters and histograms are
// registered via promauto with the default Prometheus registry.
type Metrics struct {
	// SearchesStarted counts provider searches initiated, labeled by provider.
	SearchesStarted *prometheus.CounterVec

	// SearchesCompleted counts provider searches that finished, labeled by provider.
	SearchesCompleted *prometheus.CounterVec

	// SearchesFailed counts provider searches that failed or timed out, labeled by provider.
	SearchesFailed *prometheus.CounterVec

	// SearchesSkipped counts provider searches not started because the governor
	// denied admission, labeled by provider and reason.
	SearchesSkipped *prometheus.CounterVec

	// SearchDuration observes provider search duration in seconds, labeled by provider.
	SearchDuration *prometheus.HistogramVec

	// DocumentsPerSearch observes the number of documents streamed per provider search.
	DocumentsPerSearch *prometheus.HistogramVec

	// DocumentsEmitted counts stream events, labeled by kind ("new", "updated").
	DocumentsEmitted *prometheus.CounterVec

	// DocumentsFused counts merges of two records describing the same work.
	DocumentsFused prometheus.Counter

	// PermitsGranted counts governor admissions, labeled by provider.
	PermitsGranted *prometheus.CounterVec

	// PermitsDenied counts governor refusals, labeled by provider and reason.
	PermitsDenied *prometheus.CounterVec

	// DailyUsage tracks the current daily usage counter, labeled by provider.
	DailyUsage *prometheus.GaugeVec

	// DailyResets counts daily counter resets.
	DailyResets prometheus.Counter

	// ProviderRequestsTotal counts HTTP requests to provider APIs, labeled by provider and endpoint.
	ProviderRequestsTotal *prometheus.CounterVec

	// ProviderRequestsFailed counts failed HTTP requests, labeled by provider, endpoint, and error type.
	ProviderRequestsFailed *prometheus.CounterVec

	// ProviderRequestDuration observes HTTP request duration to provider APIs in seconds.
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRateLimited counts 429 responses from provider APIs, labeled by provider.
	ProviderRateLimited *prometheus.CounterVec

	// ProbeRequests counts probe operations, labeled by operation.
	ProbeRequests *prometheus.CounterVec

	// ProbeCacheHits counts statistics served from the probe cache.
	ProbeCacheHits prometheus.Counter

	// ProbeCacheMisses counts statistics that had to be fetched from a provider.
	ProbeCacheMisses prometheus.Counter

	// DedupRuns counts corpus deduplication passes.
	DedupRuns prometheus.Counter

	// DedupDuplicatesRemoved counts documents collapsed into another cluster.
	DedupDuplicatesRemoved prometheus.Counter

	// DedupDuration observes deduplication pass duration in seconds.
	DedupDuration prometheus.Histogram

	// SinkMessagesPublished counts messages handed to the downstream sink, labeled by topic.
	SinkMessagesPublished *prometheus.CounterVec

	// SinkPublishFailed counts failed sink publishes, labeled by topic.
	SinkPublishFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Searches
		SearchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_started_total",
			Help:      "Total number of provider searches started",
		}, []string{"provider"}),
		SearchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_completed_total",
			Help:      "Total number of provider searches completed",
		}, []string{"provider"}),
		SearchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of provider searches that failed",
		}, []string{"provider"}),
		SearchesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_skipped_total",
			Help:      "Total number of provider searches skipped by the governor",
		}, []string{"provider", "reason"}),
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of provider searches in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		DocumentsPerSearch: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "documents_per_search",
			Help:      "Number of documents streamed per provider search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}, []string{"provider"}),

		// Fusion
		DocumentsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_emitted_total",
			Help:      "Total number of documents emitted on search streams by event kind",
		}, []string{"kind"}),
		DocumentsFused: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_fused_total",
			Help:      "Total number of cross-provider record merges",
		}),

		// Governor
		PermitsGranted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_permits_granted_total",
			Help:      "Total number of permits granted by provider",
		}, []string{"provider"}),
		PermitsDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_permits_denied_total",
			Help:      "Total number of permits denied by provider and reason",
		}, []string{"provider", "reason"}),
		DailyUsage: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "governor_daily_usage",
			Help:      "Current daily usage counter by provider",
		}, []string{"provider"}),
		DailyResets: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governor_daily_resets_total",
			Help:      "Total number of daily counter resets",
		}),

		// Providers
		ProviderRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of requests to provider APIs",
		}, []string{"provider", "endpoint"}),
		ProviderRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_failed_total",
			Help:      "Total number of failed requests to provider APIs",
		}, []string{"provider", "endpoint", "error_type"}),
		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of requests to provider APIs in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "endpoint"}),
		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Total number of rate limit responses from provider APIs",
		}, []string{"provider"}),

		// Probe
		ProbeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_requests_total",
			Help:      "Total number of probe operations by operation",
		}, []string{"operation"}),
		ProbeCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_cache_hits_total",
			Help:      "Total number of probe statistics served from cache",
		}),
		ProbeCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_cache_misses_total",
			Help:      "Total number of probe statistics fetched from providers",
		}),

		// Dedup
		DedupRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_runs_total",
			Help:      "Total number of deduplication passes",
		}),
		DedupDuplicatesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_duplicates_removed_total",
			Help:      "Total number of duplicate documents removed",
		}),
		DedupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedup_duration_seconds",
			Help:      "Duration of deduplication passes in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}),

		// Sink
		SinkMessagesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_messages_published_total",
			Help:      "Total number of messages published downstream by topic",
		}, []string{"topic"}),
		SinkPublishFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_failed_total",
			Help:      "Total number of failed downstream publishes by topic",
		}, []string{"topic"}),
	}
}

// RecordSearchStarted records that a provider search has started.
func (m *Metrics) RecordSearchStarted(provider string) {
	m.SearchesStarted.WithLabelValues(provider).Inc()
}

// RecordSearchCompleted records that a provider search has completed.
func (m *Metrics) RecordSearchCompleted(provider string, documentCount int, durationSeconds float64) {
	m.SearchesCompleted.WithLabelValues(provider).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(durationSeconds)
	m.DocumentsPerSearch.WithLabelValues(provider).Observe(float64(documentCount))
}

// RecordSearchFailed records that a provider search has failed.
func (m *Metrics) RecordSearchFailed(provider string, durationSeconds float64) {
	m.SearchesFailed.WithLabelValues(provider).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordSearchSkipped records a provider search the governor did not admit.
func (m *Metrics) RecordSearchSkipped(provider, reason string) {
	m.SearchesSkipped.WithLabelValues(provider, reason).Inc()
}

// RecordDocumentEmitted records one stream event of the given kind.
func (m *Metrics) RecordDocumentEmitted(kind string) {
	m.DocumentsEmitted.WithLabelValues(kind).Inc()
}

// RecordDocumentFused records one cross-provider merge.
func (m *Metrics) RecordDocumentFused() {
	m.DocumentsFused.Inc()
}

// RecordPermitGranted records a governor admission.
func (m *Metrics) RecordPermitGranted(provider string) {
	m.PermitsGranted.WithLabelValues(provider).Inc()
}

// RecordPermitDenied records a governor refusal.
func (m *Metrics) RecordPermitDenied(provider, reason string) {
	m.PermitsDenied.WithLabelValues(provider, reason).Inc()
}

// SetDailyUsage sets the daily usage gauge for a provider.
func (m *Metrics) SetDailyUsage(provider string, usage int64) {
	m.DailyUsage.WithLabelValues(provider).Set(float64(usage))
}

// RecordDailyReset records a daily counter reset.
func (m *Metrics) RecordDailyReset() {
	m.DailyResets.Inc()
}

// RecordProviderRequest records a request to a provider API.
func (m *Metrics) RecordProviderRequest(provider, endpoint string, durationSeconds float64) {
	m.ProviderRequestsTotal.WithLabelValues(provider, endpoint).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, endpoint).Observe(durationSeconds)
}

// RecordProviderRequestFailed records a failed request to a provider API.
func (m *Metrics) RecordProviderRequestFailed(provider, endpoint, errorType string) {
	m.ProviderRequestsFailed.WithLabelValues(provider, endpoint, errorType).Inc()
}

// RecordProviderRateLimited records a rate limit response from a provider.
func (m *Metrics) RecordProviderRateLimited(provider string) {
	m.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordProbe records a probe operation.
func (m *Metrics) RecordProbe(operation string) {
	m.ProbeRequests.WithLabelValues(operation).Inc()
}

// RecordProbeCache records a probe cache lookup.
func (m *Metrics) RecordProbeCache(hit bool) {
	if hit {
		m.ProbeCacheHits.Inc()
		return
	}
	m.ProbeCacheMisses.Inc()
}

// RecordDedupRun records a completed deduplication pass.
func (m *Metrics) RecordDedupRun(duplicatesRemoved int, durationSeconds float64) {
	m.DedupRuns.Inc()
	m.DedupDuplicatesRemoved.Add(float64(duplicatesRemoved))
	m.DedupDuration.Observe(durationSeconds)
}

// RecordSinkPublished records messages published to a sink topic.
func (m *Metrics) RecordSinkPublished(topic string, count int) {
	m.SinkMessagesPublished.WithLabelValues(topic).Add(float64(count))
}

// RecordSinkFailed records a failed publish to a sink topic.
func (m *Metrics) RecordSinkFailed(topic string) {
	m.SinkPublishFailed.WithLabelValues(topic).Inc()
}
