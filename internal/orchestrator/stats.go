package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/providers"
)

// AggregatedStatistics combines the statistics of every STATISTICS-capable
// provider that answered.
type AggregatedStatistics struct {
	// TotalCount is the sum of per-provider totals. Providers index
	// overlapping corpora, so it is an upper bound rather than a distinct count.
	TotalCount    int64                               `json:"total_count"`
	YearHistogram map[int]int64                       `json:"year_histogram,omitempty"`
	TopConcepts   []domain.Concept                    `json:"top_concepts,omitempty"`
	PerProvider   map[string]*domain.SearchStatistics `json:"per_provider"`
	ExecutionLog  []domain.StageResult                `json:"execution_log"`
}

// Responded reports whether at least one provider returned statistics.
func (a *AggregatedStatistics) Responded() bool {
	return len(a.PerProvider) > 0
}

// AggregatedStats queries every selected STATISTICS-capable provider in
// parallel. Like Search, it fails synchronously only for unknown providers.
func (o *Orchestrator) AggregatedStats(ctx context.Context, intent domain.SearchIntent) (*AggregatedStatistics, error) {
	selected, skipped, err := o.selectProviders(intent.Providers, domain.CapabilityStatistics, stageStats)
	if err != nil {
		return nil, err
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		agg = &AggregatedStatistics{
			PerProvider:  make(map[string]*domain.SearchStatistics),
			ExecutionLog: skipped,
		}
	)
	for _, p := range selected {
		wg.Add(1)
		go func(p providers.SearchProvider) {
			defer wg.Done()
			stats, result := o.providerStats(ctx, p, intent)

			mu.Lock()
			defer mu.Unlock()
			agg.ExecutionLog = append(agg.ExecutionLog, result)
			if stats != nil {
				agg.PerProvider[p.ID()] = stats
			}
		}(p)
	}
	wg.Wait()

	concepts := make([][]domain.Concept, 0, len(agg.PerProvider))
	for _, stats := range agg.PerProvider {
		agg.TotalCount += stats.TotalCount
		if len(stats.YearHistogram) > 0 {
			agg.YearHistogram = domain.AddHistogram(agg.YearHistogram, stats.YearHistogram)
		}
		concepts = append(concepts, stats.TopConcepts)
	}
	agg.TopConcepts = domain.UnionConcepts(concepts...)

	return agg, nil
}

func (o *Orchestrator) providerStats(ctx context.Context, p providers.SearchProvider, intent domain.SearchIntent) (*domain.SearchStatistics, domain.StageResult) {
	id := p.ID()
	if result, ok := o.admit(stageStats, id); !ok {
		return nil, result
	}
	o.governor.RecordUsage(id, 1)

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	stats, err := p.Stats(pctx, intent)
	elapsed := time.Since(start)
	if err != nil {
		code := domain.CodeProvider
		switch {
		case ctx.Err() != nil:
			code = domain.CodeCancelled
		case errors.Is(err, context.DeadlineExceeded):
			code = domain.CodeTimeout
		}
		o.logger.Warn().Err(err).Str("provider", id).Str("code", code).Msg("statistics failed")
		return nil, domain.Failure(stageStats, id, code, fmt.Errorf("stats: %w", err), 0, elapsed)
	}
	if stats == nil {
		stats = &domain.SearchStatistics{}
	}
	stats.Provider = id
	return stats, domain.Success(stageStats, id, 0, elapsed)
}
