// Package orchestrator fans a search intent out to every capable provider,
// gates each call with the governor and fuses duplicate records into a
// single stream as they arrive.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/governor"
	"github.com/helixir/lumen-search/internal/observability"
	"github.com/helixir/lumen-search/internal/providers"
)

const (
	// DefaultProviderTimeout bounds each provider's share of a search.
	DefaultProviderTimeout = 30 * time.Second

	// DefaultBufferSize is the capacity of the event channel of a Stream.
	DefaultBufferSize = 64

	// DefaultMaxResults caps each provider's share of a discovery search
	// whose intent sets no max_results.
	DefaultMaxResults = 200

	// minGateWait is the shortest pause before retrying a refused request.
	minGateWait = 10 * time.Millisecond

	stageSearch = "search"
	stageEnrich = "enrich"
	stageStats  = "stats"
)

// Governor is the admission control the orchestrator consults before every
// provider request. *governor.Governor implements it.
type Governor interface {
	Admit(provider string) governor.Decision
	RecordUsage(provider string, count int64)
	Delay(provider string) time.Duration
}

// Orchestrator runs federated searches over a provider registry.
type Orchestrator struct {
	registry   *providers.Registry
	governor   Governor
	logger     zerolog.Logger
	metrics    *observability.Metrics
	timeout    time.Duration
	bufferSize int
	maxResults int
	newID      func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = observability.WithComponent(logger, "orchestrator")
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithProviderTimeout overrides the per-provider timeout.
func WithProviderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBufferSize overrides the event channel capacity.
func WithBufferSize(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.bufferSize = n
		}
	}
}

// WithDefaultMaxResults overrides the per-provider cap applied to intents
// without max_results.
func WithDefaultMaxResults(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxResults = n
		}
	}
}

// WithIDGenerator replaces the search id generator. Used by tests.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New creates an Orchestrator over registry, gated by gov.
func New(registry *providers.Registry, gov Governor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   registry,
		governor:   gov,
		logger:     zerolog.Nop(),
		timeout:    DefaultProviderTimeout,
		bufferSize: DefaultBufferSize,
		maxResults: DefaultMaxResults,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// task is the work planned for one provider.
type task struct {
	provider providers.SearchProvider
	ids      []string
}

// Search starts a federated search and returns its event stream. The only
// errors are synchronous ones raised before fan-out: an unknown provider in
// the intent, or an ENRICHMENT intent without known ids. Provider failures
// and governor refusals are recorded in the stream's execution log.
func (o *Orchestrator) Search(ctx context.Context, intent domain.SearchIntent) (*Stream, error) {
	mode := intent.EffectiveMode()
	if !mode.IsValid() {
		return nil, domain.NewValidationError("mode", fmt.Sprintf("unknown search mode %q", mode))
	}
	if mode == domain.ModeEnrichment && len(intent.KnownIDs) == 0 {
		return nil, domain.NewValidationError("known_ids", "enrichment requires at least one known id")
	}
	if intent.Filters.MaxResults <= 0 {
		intent.Filters.MaxResults = o.maxResults
	}

	capability := domain.CapabilityTextSearch
	stage := stageSearch
	if mode == domain.ModeEnrichment {
		capability = domain.CapabilityFetchDetails
		stage = stageEnrich
	}

	selected, skipped, err := o.selectProviders(intent.Providers, capability, stage)
	if err != nil {
		return nil, err
	}

	tasks := make([]task, 0, len(selected))
	if mode == domain.ModeEnrichment {
		tasks = routeKnownIDs(selected, intent.KnownIDs)
	} else {
		for _, p := range selected {
			tasks = append(tasks, task{provider: p})
		}
	}

	searchID := o.newID()
	ctx, cancel := context.WithCancel(ctx)
	s := newStream(searchID, cancel, o.bufferSize)
	for _, r := range skipped {
		s.record(r)
	}

	o.logger.Info().
		Str("search_id", searchID).
		Str("mode", string(mode)).
		Int("providers", len(tasks)).
		Msg("search started")

	arrivals := make(chan arrival)
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			s.record(o.runTask(ctx, searchID, stage, intent, t, arrivals))
		}(t)
	}
	go func() {
		wg.Wait()
		close(arrivals)
	}()

	go o.mergeLoop(ctx, s, arrivals)

	return s, nil
}

// selectProviders resolves the intent's allow-list, or every provider with
// the capability when it is empty. Named providers lacking the capability
// are returned as skipped stage results.
func (o *Orchestrator) selectProviders(ids []string, capability domain.ProviderCapability, stage string) ([]providers.SearchProvider, []domain.StageResult, error) {
	if len(ids) == 0 {
		return o.registry.WithCapability(capability), nil, nil
	}

	resolved, err := o.registry.Resolve(ids)
	if err != nil {
		return nil, nil, err
	}

	var (
		selected []providers.SearchProvider
		skipped  []domain.StageResult
	)
	for _, p := range resolved {
		if !p.Capabilities().Has(capability) {
			skipped = append(skipped, domain.Unsupported(stage, p.ID(), capability))
			continue
		}
		selected = append(selected, p)
	}
	return selected, skipped, nil
}

// routeKnownIDs assigns each known id to the provider that minted it. Ids
// without a recognised prefix, such as bare DOIs, go to every provider.
func routeKnownIDs(selected []providers.SearchProvider, knownIDs []string) []task {
	byID := make(map[string]int, len(selected))
	tasks := make([]task, len(selected))
	for i, p := range selected {
		byID[p.ID()] = i
		tasks[i] = task{provider: p}
	}

	for _, id := range knownIDs {
		if i, ok := byID[domain.ProviderFromLumenID(id)]; ok {
			tasks[i].ids = append(tasks[i].ids, id)
			continue
		}
		for i := range tasks {
			tasks[i].ids = append(tasks[i].ids, id)
		}
	}

	out := tasks[:0]
	for _, t := range tasks {
		if len(t.ids) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// admit consults the governor. A refusal is returned as the stage result
// to record in place of running the provider.
func (o *Orchestrator) admit(stage, provider string) (domain.StageResult, bool) {
	switch o.governor.Admit(provider) {
	case governor.Granted:
		return domain.StageResult{}, true
	case governor.DeniedDailyQuota:
		if o.metrics != nil {
			o.metrics.RecordSearchSkipped(provider, domain.CodeDailyQuota)
		}
		o.logger.Info().Str("provider", provider).Str("stage", stage).Msg("daily quota exhausted, provider skipped")
		return domain.RequiresApproval(stage, provider, domain.CodeDailyQuota, "daily quota exhausted"), false
	default:
		if o.metrics != nil {
			o.metrics.RecordSearchSkipped(provider, domain.CodeRateLimited)
		}
		o.logger.Info().Str("provider", provider).Str("stage", stage).Msg("no token available, provider skipped")
		return domain.Skipped(stage, provider, domain.CodeRateLimited, "no token available"), false
	}
}

// runTask runs one provider's share of a search and reports its outcome.
func (o *Orchestrator) runTask(ctx context.Context, searchID, stage string, intent domain.SearchIntent, t task, out chan<- arrival) domain.StageResult {
	id := t.provider.ID()
	if result, ok := o.admit(stage, id); !ok {
		return result
	}

	o.governor.RecordUsage(id, 1)

	logger := observability.WithSearchContext(o.logger, searchID, id)
	if o.metrics != nil {
		o.metrics.RecordSearchStarted(id)
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	pctx = providers.WithRequestGate(pctx, o.requestGate(id))

	var (
		delivered int
		err       error
		budget    *domain.BudgetError
	)
	if stage == stageEnrich {
		delivered, err = o.fetchAll(pctx, t, out)
	} else {
		delivered, err = o.stream(pctx, t.provider, intent, out)
	}
	elapsed := time.Since(start)

	code := ""
	switch {
	case ctx.Err() != nil:
		code, err = domain.CodeCancelled, domain.ErrCancelled
	case errors.Is(pctx.Err(), context.DeadlineExceeded):
		code, err = domain.CodeTimeout, fmt.Errorf("provider exceeded %s: %w", o.timeout, context.DeadlineExceeded)
	case errors.As(err, &budget):
		if o.metrics != nil {
			o.metrics.RecordSearchCompleted(id, delivered, elapsed.Seconds())
		}
		logger.Info().Str("code", budget.Code).Int("documents", delivered).Dur("duration", elapsed).Msg("provider stopped early by governor")
		return domain.Partial(stage, id, budget, delivered, elapsed)
	case err != nil:
		code = domain.CodeProvider
	}

	if code != "" {
		if o.metrics != nil {
			o.metrics.RecordSearchFailed(id, elapsed.Seconds())
		}
		logger.Warn().Err(err).Str("code", code).Int("documents", delivered).Dur("duration", elapsed).Msg("provider failed")
		return domain.Failure(stage, id, code, err, delivered, elapsed)
	}

	if o.metrics != nil {
		o.metrics.RecordSearchCompleted(id, delivered, elapsed.Seconds())
	}
	logger.Debug().Int("documents", delivered).Dur("duration", elapsed).Msg("provider completed")
	return domain.Success(stage, id, delivered, elapsed)
}

// requestGate admits the requests of a running task after its first, each
// charged to the daily counter. A rate refusal waits for the next token
// unless that would overrun the task's deadline. A daily refusal ends the
// task.
func (o *Orchestrator) requestGate(provider string) providers.RequestGate {
	return func(ctx context.Context) error {
		for {
			switch o.governor.Admit(provider) {
			case governor.Granted:
				o.governor.RecordUsage(provider, 1)
				return nil
			case governor.DeniedDailyQuota:
				return &domain.BudgetError{Provider: provider, Code: domain.CodeDailyQuota}
			}

			wait := max(o.governor.Delay(provider), minGateWait)
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
				return &domain.BudgetError{Provider: provider, Code: domain.CodeRateLimited}
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// stream forwards a provider's search results to the merge loop.
func (o *Orchestrator) stream(ctx context.Context, p providers.SearchProvider, intent domain.SearchIntent, out chan<- arrival) (int, error) {
	items, err := p.Search(ctx, intent)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for item := range items {
		if item.Err != nil {
			return delivered, item.Err
		}
		if item.Document == nil {
			continue
		}
		select {
		case out <- arrival{doc: item.Document, provider: p.ID()}:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
	return delivered, ctx.Err()
}

// fetchAll fetches every routed id. Ids the provider does not know are
// skipped; any other error ends the task.
func (o *Orchestrator) fetchAll(ctx context.Context, t task, out chan<- arrival) (int, error) {
	delivered := 0
	for i, id := range t.ids {
		if i > 0 {
			if err := providers.AdmitRequest(ctx); err != nil {
				return delivered, err
			}
		}
		doc, err := t.provider.FetchDetails(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return delivered, fmt.Errorf("fetching %s: %w", id, err)
		}
		select {
		case out <- arrival{doc: doc, provider: t.provider.ID()}:
			delivered++
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
	return delivered, nil
}

// mergeLoop is the single owner of the stream's identity index.
func (o *Orchestrator) mergeLoop(ctx context.Context, s *Stream, arrivals <-chan arrival) {
	defer s.finish()

	emit := true
	for a := range arrivals {
		doc, isNew := s.upsert(a.doc)

		kind := EventUpdated
		if isNew {
			kind = EventNew
		} else if o.metrics != nil {
			o.metrics.RecordDocumentFused()
		}

		// after cancellation the index keeps absorbing in-flight documents
		// but nothing more is emitted
		if !emit {
			continue
		}
		select {
		case s.events <- Event{Kind: kind, Document: doc, Provider: a.provider}:
			if o.metrics != nil {
				o.metrics.RecordDocumentEmitted(string(kind))
			}
		case <-ctx.Done():
			emit = false
		}
	}

	o.logger.Info().
		Str("search_id", s.id).
		Int("documents", s.Len()).
		Msg("search completed")
}

// Collect drains stream and returns the fused documents in first-seen order.
// The stream is closed when Collect returns.
func Collect(ctx context.Context, s *Stream) ([]*domain.ScholarlyDocument, error) {
	defer s.Close()
	for {
		if _, ok := s.Next(ctx); !ok {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return s.Results(), err
	}
	return s.Results(), nil
}
