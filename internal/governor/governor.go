// Package governor gates outbound provider calls with a per-provider token
// bucket and a daily usage counter.
package governor

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/helixir/lumen-search/internal/observability"
)

// Decision is the outcome of an admission attempt.
type Decision int

const (
	// Granted means a token was consumed and the call may proceed.
	Granted Decision = iota
	// DeniedRateLimit means the bucket holds less than one token.
	DeniedRateLimit
	// DeniedDailyQuota means the provider's daily limit is reached.
	DeniedDailyQuota
)

// String returns the metric label of the decision.
func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case DeniedRateLimit:
		return "rate_limited"
	case DeniedDailyQuota:
		return "daily_quota"
	default:
		return "unknown"
	}
}

// UsageStats is a point-in-time view of one provider's budget.
type UsageStats struct {
	Provider          string  `json:"provider"`
	TokensAvailable   float64 `json:"tokens_available"`
	BurstCapacity     int     `json:"burst_capacity"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	DailyUsage        int64   `json:"daily_usage"`
	DailyLimit        int64   `json:"daily_limit,omitempty"`
	DailyRemaining    int64   `json:"daily_remaining,omitempty"`
}

// bucket is the per-provider state. Its mutex orders the daily check and
// the token consume so that admission is atomic for the provider.
type bucket struct {
	mu         sync.Mutex
	quota      ProviderQuotaConfig
	limiter    *rate.Limiter
	dailyUsage int64
}

func newBucket(q ProviderQuotaConfig) *bucket {
	return &bucket{
		quota:   q,
		limiter: rate.NewLimiter(rate.Limit(q.RequestsPerSecond), q.BurstCapacity),
	}
}

func (b *bucket) dailyExhausted() bool {
	return !b.quota.Unlimited() && b.dailyUsage >= b.quota.DailyLimit
}

// Governor enforces per-provider rate and daily quotas. It is safe for
// concurrent use; operations on one provider never block another.
type Governor struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	quotas   map[string]ProviderQuotaConfig
	fallback ProviderQuotaConfig

	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option configures a Governor.
type Option func(*Governor)

// WithQuota overrides the quota of one provider.
func WithQuota(provider string, q ProviderQuotaConfig) Option {
	return func(g *Governor) {
		g.quotas[provider] = q
	}
}

// WithQuotas overrides the quotas of several providers.
func WithQuotas(quotas map[string]ProviderQuotaConfig) Option {
	return func(g *Governor) {
		for p, q := range quotas {
			g.quotas[p] = q
		}
	}
}

// WithFallbackQuota sets the quota used for providers without configuration.
func WithFallbackQuota(q ProviderQuotaConfig) Option {
	return func(g *Governor) {
		g.fallback = q
	}
}

// WithClock injects the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Governor) {
		g.logger = observability.WithComponent(logger, "governor")
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Governor) {
		g.metrics = m
	}
}

// New creates a Governor seeded with DefaultQuotas and then the given options.
func New(opts ...Option) *Governor {
	g := &Governor{
		buckets:  make(map[string]*bucket),
		quotas:   DefaultQuotas(),
		fallback: FallbackQuota,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// bucketFor returns the provider's bucket, creating it on first use.
func (g *Governor) bucketFor(provider string) *bucket {
	g.mu.RLock()
	b, ok := g.buckets[provider]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.buckets[provider]; ok {
		return b
	}
	q, configured := g.quotas[provider]
	if !configured {
		q = g.fallback
	}
	b = newBucket(q)
	g.buckets[provider] = b
	return b
}

// HasBudget reports whether a permit would currently be granted, without
// consuming anything.
func (g *Governor) HasBudget(provider string) bool {
	b := g.bucketFor(provider)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dailyExhausted() {
		return false
	}
	return b.limiter.TokensAt(g.now()) >= 1
}

// AcquirePermit consumes one token if one is available and the daily limit
// is not reached. It never blocks.
func (g *Governor) AcquirePermit(provider string) bool {
	return g.Admit(provider) == Granted
}

// Admit is AcquirePermit with the reason for a refusal.
func (g *Governor) Admit(provider string) Decision {
	b := g.bucketFor(provider)
	b.mu.Lock()
	decision := Granted
	switch {
	case b.dailyExhausted():
		decision = DeniedDailyQuota
	case !b.limiter.AllowN(g.now(), 1):
		decision = DeniedRateLimit
	}
	b.mu.Unlock()

	if g.metrics != nil {
		if decision == Granted {
			g.metrics.RecordPermitGranted(provider)
		} else {
			g.metrics.RecordPermitDenied(provider, decision.String())
		}
	}
	if decision != Granted {
		g.logger.Debug().Str("provider", provider).Str("reason", decision.String()).Msg("permit denied")
	}
	return decision
}

// Delay returns how long until the provider's bucket holds a whole token.
// It is zero when a token is available now. It does not consider the daily
// limit and consumes nothing.
func (g *Governor) Delay(provider string) time.Duration {
	b := g.bucketFor(provider)
	b.mu.Lock()
	defer b.mu.Unlock()

	missing := 1 - b.limiter.TokensAt(g.now())
	if missing <= 0 {
		return 0
	}
	if b.quota.RequestsPerSecond <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(missing / b.quota.RequestsPerSecond * float64(time.Second))
}

// RecordUsage adds count to the provider's daily usage counter.
func (g *Governor) RecordUsage(provider string, count int64) {
	if count <= 0 {
		return
	}
	b := g.bucketFor(provider)
	b.mu.Lock()
	b.dailyUsage += count
	usage := b.dailyUsage
	b.mu.Unlock()

	if g.metrics != nil {
		g.metrics.SetDailyUsage(provider, usage)
	}
}

// ResetDailyCounters zeroes every daily usage counter. Token buckets are
// left untouched.
func (g *Governor) ResetDailyCounters() {
	g.mu.RLock()
	providers := make(map[string]*bucket, len(g.buckets))
	for p, b := range g.buckets {
		providers[p] = b
	}
	g.mu.RUnlock()

	for p, b := range providers {
		b.mu.Lock()
		b.dailyUsage = 0
		b.mu.Unlock()
		if g.metrics != nil {
			g.metrics.SetDailyUsage(p, 0)
		}
	}
	if g.metrics != nil {
		g.metrics.RecordDailyReset()
	}
	g.logger.Info().Int("providers", len(providers)).Msg("daily counters reset")
}

// UsageStats returns the provider's current budget. It reports false for a
// provider without a configured quota, even when the fallback quota has
// already governed calls to it.
func (g *Governor) UsageStats(provider string) (UsageStats, bool) {
	g.mu.RLock()
	_, configured := g.quotas[provider]
	g.mu.RUnlock()
	if !configured {
		return UsageStats{}, false
	}

	b := g.bucketFor(provider)
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := UsageStats{
		Provider:          provider,
		TokensAvailable:   b.limiter.TokensAt(g.now()),
		BurstCapacity:     b.quota.BurstCapacity,
		RequestsPerSecond: b.quota.RequestsPerSecond,
		DailyUsage:        b.dailyUsage,
		DailyLimit:        b.quota.DailyLimit,
	}
	if !b.quota.Unlimited() {
		stats.DailyRemaining = max(b.quota.DailyLimit-b.dailyUsage, 0)
	}
	return stats, true
}

// Quota returns the effective quota of a provider.
func (g *Governor) Quota(provider string) ProviderQuotaConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if q, ok := g.quotas[provider]; ok {
		return q
	}
	return g.fallback
}

// UpdateQuota replaces the quota of a provider at runtime. An existing bucket
// keeps its daily usage and its current token count, capped at the new burst.
func (g *Governor) UpdateQuota(provider string, q ProviderQuotaConfig) error {
	if err := q.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	g.quotas[provider] = q
	b, ok := g.buckets[provider]
	g.mu.Unlock()

	if ok {
		now := g.now()
		b.mu.Lock()
		b.quota = q
		b.limiter.SetLimitAt(now, rate.Limit(q.RequestsPerSecond))
		b.limiter.SetBurstAt(now, q.BurstCapacity)
		b.mu.Unlock()
	}

	g.logger.Info().
		Str("provider", provider).
		Float64("requests_per_second", q.RequestsPerSecond).
		Int("burst_capacity", q.BurstCapacity).
		Int64("daily_limit", q.DailyLimit).
		Msg("quota updated")
	return nil
}
