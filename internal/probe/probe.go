// Package probe is the statistics-only read path used while a query is being
// refined. It never fetches documents.
package probe

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/providers"
)

const (
	// DefaultConcurrency bounds the providers probed at once.
	DefaultConcurrency = 4

	// DefaultTimeout bounds each provider's statistics call.
	DefaultTimeout = 10 * time.Second
)

// Governor is the admission control consulted before each uncached probe.
type Governor interface {
	Admit(provider string) governor.Decision
	RecordUsage(provider string, count int64)
}

// Report bundles the three probe views of one query.
type Report struct {
	Query          string           `json:"query"`
	SignalStrength *int64           `json:"signal_strength"`
	TrendLine      map[int]int64    `json:"trend_line"`
	Refinements    []Refinement     `json:"refinements"`
	Providers      []string         `json:"providers"`
	TopConcepts    []domain.Concept `json:"top_concepts,omitempty"`
}

// Client answers probe queries from STATISTICS-capable providers.
type Client struct {
	registry    *providers.Registry
	governor    Governor
	cache       StatsCache
	policy      Policy
	concurrency int
	timeout     time.Duration
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables caching of provider statistics.
func WithCache(cache StatsCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithPolicy sets the refinement policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithConcurrency bounds the number of providers probed at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithTimeout sets the per-provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = observability.WithComponent(logger, "probe")
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a probe Client.
func New(registry *providers.Registry, gov Governor, opts ...Option) *Client {
	c := &Client{
		registry:    registry,
		governor:    gov,
		policy:      DefaultPolicy(),
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignalStrength estimates the number of matching works as the sum of
// provider totals. It returns nil when no provider answered.
func (c *Client) SignalStrength(ctx context.Context, query string) *int64 {
	c.record("signal_strength")
	return signal(c.collect(ctx, query))
}

// TrendLine returns the merged year histogram of the query. The map is empty
// when no provider answered.
func (c *Client) TrendLine(ctx context.Context, query string) map[int]int64 {
	c.record("trend_line")
	return trend(c.collect(ctx, query))
}

// SuggestRefinements applies the policy to the aggregated total and top
// concepts. It returns nil when no provider answered.
func (c *Client) SuggestRefinements(ctx context.Context, query string) []Refinement {
	c.record("suggest_refinements")
	stats := c.collect(ctx, query)
	if len(stats) == 0 {
		return nil
	}
	return c.policy.Suggest(*signal(stats), concepts(stats))
}

// Probe computes every view of the query from a single fan-out.
func (c *Client) Probe(ctx context.Context, query string) *Report {
	c.record("probe")
	stats := c.collect(ctx, query)

	r := &Report{
		Query:          query,
		SignalStrength: signal(stats),
		TrendLine:      trend(stats),
		TopConcepts:    concepts(stats),
		Providers:      make([]string, 0, len(stats)),
	}
	for _, s := range stats {
		r.Providers = append(r.Providers, s.Provider)
	}
	if len(stats) > 0 {
		r.Refinements = c.policy.Suggest(*r.SignalStrength, r.TopConcepts)
	}
	return r
}

func (c *Client) record(operation string) {
	if c.metrics != nil {
		c.metrics.RecordProbe(operation)
	}
}

// collect returns the statistics of every provider that answered, in
// registry order. Failures and refusals are logged and skipped.
func (c *Client) collect(ctx context.Context, query string) []*domain.SearchStatistics {
	ps := c.registry.WithCapability(domain.CapabilityStatistics)
	if len(ps) == 0 {
		return nil
	}

	results := make([]*domain.SearchStatistics, len(ps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, p := range ps {
		g.Go(func() error {
			results[i] = c.providerStats(gctx, p, query)
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, s := range results {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) providerStats(ctx context.Context, p providers.SearchProvider, query string) *domain.SearchStatistics {
	id := p.ID()
	if c.cache != nil {
		stats, hit := c.cache.Get(ctx, id, query)
		if c.metrics != nil {
			c.metrics.RecordProbeCache(hit)
		}
		if hit {
			stats.Provider = id
			return stats
		}
	}

	if decision := c.governor.Admit(id); decision != governor.Granted {
		c.logger.Debug().Str("provider", id).Str("reason", decision.String()).Msg("probe skipped")
		return nil
	}
	c.governor.RecordUsage(id, 1)

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stats, err := p.Stats(pctx, domain.SearchIntent{Query: query, Mode: domain.ModeDiscovery})
	if err != nil {
		c.logger.Warn().Err(err).Str("provider", id).Msg("probe failed")
		return nil
	}
	if stats == nil {
		return nil
	}
	stats.Provider = id

	if c.cache != nil {
		if err := c.cache.Put(ctx, id, query, stats); err != nil {
			c.logger.Warn().Err(err).Str("provider", id).Msg("probe cache write failed")
		}
	}
	return stats
}

func signal(stats []*domain.SearchStatistics) *int64 {
	if len(stats) == 0 {
		return nil
	}
	var total int64
	for _, s := range stats {
		total += s.TotalCount
	}
	return &total
}

func trend(stats []*domain.SearchStatistics) map[int]int64 {
	out := make(map[int]int64)
	for _, s := range stats {
		out = domain.AddHistogram(out, s.YearHistogram)
	}
	return out
}

func concepts(stats []*domain.SearchStatistics) []domain.Concept {
	lists := make([][]domain.Concept, 0, len(stats))
	for _, s := range stats {
		lists = append(lists, s.TopConcepts)
	}
	return domain.UnionConcepts(lists...)
}
