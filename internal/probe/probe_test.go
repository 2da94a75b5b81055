package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/providers"
	"github.com/helixir/lumen-search/internal/providers/providertest"
)

func openGovernor() *governor.Governor {
	return governor.New(governor.WithFallbackQuota(governor.ProviderQuotaConfig{RequestsPerSecond: 100, BurstCapacity: 100}),
		governor.WithQuotas(map[string]governor.ProviderQuotaConfig{
			domain.ProviderOpenAlex: {RequestsPerSecond: 100, BurstCapacity: 100},
			domain.ProviderCrossref: {RequestsPerSecond: 100, BurstCapacity: 100},
		}))
}

// denyGovernor refuses every provider.
type denyGovernor struct{}

func (denyGovernor) Admit(string) governor.Decision { return governor.DeniedDailyQuota }
func (denyGovernor) RecordUsage(string, int64)      {}

func statsRegistry() (*providers.Registry, *providertest.Fake, *providertest.Fake) {
	oa := providertest.New(domain.ProviderOpenAlex)
	oa.Statistics = &domain.SearchStatistics{
		TotalCount:    9000,
		YearHistogram: map[int]int64{2022: 4000, 2023: 5000},
		TopConcepts: []domain.Concept{
			{ID: "C1", Name: "Deep learning", Score: 0.8},
			{ID: "C2", Name: "Computer vision", Score: 0.5},
			{ID: "C3", Name: "Robotics", Score: 0.3},
		},
	}
	cr := providertest.New(domain.ProviderCrossref)
	cr.Statistics = &domain.SearchStatistics{
		TotalCount:    1000,
		YearHistogram: map[int]int64{2023: 1000},
	}

	reg := providers.NewRegistry()
	reg.Register(oa)
	reg.Register(cr)
	return reg, oa, cr
}

func TestClient_SignalStrengthAndTrendLine(t *testing.T) {
	t.Parallel()

	reg, _, _ := statsRegistry()
	c := New(reg, openGovernor())

	signal := c.SignalStrength(context.Background(), "vision transformers")
	require.NotNil(t, signal)
	assert.Equal(t, int64(10000), *signal)

	assert.Equal(t, map[int]int64{2022: 4000, 2023: 6000}, c.TrendLine(context.Background(), "vision transformers"))
}

func TestClient_NoProviders(t *testing.T) {
	t.Parallel()

	c := New(providers.NewRegistry(), openGovernor())

	assert.Nil(t, c.SignalStrength(context.Background(), "x"))
	assert.Empty(t, c.TrendLine(context.Background(), "x"))
	assert.NotNil(t, c.TrendLine(context.Background(), "x"))
	assert.Nil(t, c.SuggestRefinements(context.Background(), "x"))
}

func TestClient_FailuresAreSkipped(t *testing.T) {
	t.Parallel()

	reg, _, cr := statsRegistry()
	cr.StatsErr = errors.New("503")
	c := New(reg, openGovernor())

	signal := c.SignalStrength(context.Background(), "x")
	require.NotNil(t, signal)
	assert.Equal(t, int64(9000), *signal)

	statsOnlyFailing := providertest.New(domain.ProviderArXiv, domain.CapabilityStatistics)
	statsOnlyFailing.StatsErr = errors.New("down")
	lonely := providers.NewRegistry()
	lonely.Register(statsOnlyFailing)

	assert.Nil(t, New(lonely, openGovernor()).SignalStrength(context.Background(), "x"))
}

func TestClient_GovernorRefusalsAreSkipped(t *testing.T) {
	t.Parallel()

	reg, oa, _ := statsRegistry()
	c := New(reg, denyGovernor{})

	assert.Nil(t, c.SignalStrength(context.Background(), "x"))
	assert.Zero(t, oa.StatsCalls())
}

func TestClient_SuggestRefinements(t *testing.T) {
	t.Parallel()

	reg, _, _ := statsRegistry()
	c := New(reg, openGovernor(), WithPolicy(Policy{NarrowAbove: 5000, BroadenBelow: 10, MaxConceptHints: 2}))

	got := c.SuggestRefinements(context.Background(), "x")
	require.Len(t, got, 3)
	assert.Equal(t, RefineNarrow, got[0].Kind)
	assert.Empty(t, got[0].Concept)
	assert.Equal(t, "Deep learning", got[1].Concept)
	assert.Equal(t, "Computer vision", got[2].Concept)
}

func TestClient_Probe(t *testing.T) {
	t.Parallel()

	reg, _, _ := statsRegistry()
	c := New(reg, openGovernor(), WithConcurrency(1), WithTimeout(time.Second))

	report := c.Probe(context.Background(), "x")
	require.NotNil(t, report.SignalStrength)
	assert.Equal(t, int64(10000), *report.SignalStrength)
	assert.Equal(t, []string{domain.ProviderCrossref, domain.ProviderOpenAlex}, report.Providers)
	assert.Len(t, report.TopConcepts, 3)
	assert.Equal(t, RefineNarrow, report.Refinements[0].Kind)
}

func TestClient_CachesProviderStatistics(t *testing.T) {
	t.Parallel()

	cache, err := OpenBadgerCache(BadgerCacheConfig{TTL: time.Minute}, zerolog.Nop())
	require.NoError(t, err)
	defer cache.Close()

	reg, oa, cr := statsRegistry()
	c := New(reg, openGovernor(), WithCache(cache))

	first := c.SignalStrength(context.Background(), "q")
	second := c.SignalStrength(context.Background(), "q")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)

	assert.Equal(t, 1, oa.StatsCalls())
	assert.Equal(t, 1, cr.StatsCalls())

	c.SignalStrength(context.Background(), "other query")
	assert.Equal(t, 2, oa.StatsCalls())
}

func TestBadgerCache(t *testing.T) {
	t.Parallel()

	cache, err := OpenBadgerCache(BadgerCacheConfig{Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	defer cache.Close()

	_, ok := cache.Get(context.Background(), "openalex", "q")
	assert.False(t, ok)

	require.NoError(t, cache.Put(context.Background(), "openalex", "q", &domain.SearchStatistics{
		Provider:      "openalex",
		TotalCount:    42,
		YearHistogram: map[int]int64{2024: 42},
	}))

	got, ok := cache.Get(context.Background(), "openalex", "q")
	require.True(t, ok)
	assert.Equal(t, int64(42), got.TotalCount)
	assert.Equal(t, map[int]int64{2024: 42}, got.YearHistogram)

	_, ok = cache.Get(context.Background(), "crossref", "q")
	assert.False(t, ok)
}

func TestPolicy_Suggest(t *testing.T) {
	t.Parallel()

	p := Policy{NarrowAbove: 1000, BroadenBelow: 20, MaxConceptHints: 1}
	concepts := []domain.Concept{{Name: "A", Score: 0.9}, {Name: "B", Score: 0.5}}

	tests := []struct {
		name  string
		total int64
		kinds []RefinementKind
	}{
		{name: "too broad", total: 1001, kinds: []RefinementKind{RefineNarrow, RefineNarrow}},
		{name: "too narrow", total: 3, kinds: []RefinementKind{RefineBroaden}},
		{name: "at ceiling", total: 1000, kinds: []RefinementKind{RefineOK}},
		{name: "at floor", total: 20, kinds: []RefinementKind{RefineOK}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.Suggest(tt.total, concepts)
			kinds := make([]RefinementKind, len(got))
			for i, r := range got {
				kinds[i] = r.Kind
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{NarrowAbove: 10, BroadenBelow: 10}.Validate())
	assert.Error(t, Policy{NarrowAbove: 10, BroadenBelow: -1}.Validate())
	assert.Error(t, Policy{NarrowAbove: 10, BroadenBelow: 1, MaxConceptHints: -1}.Validate())
}
