package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
)

const (
	// DefaultTitleThreshold is the minimum normalized-title similarity.
	DefaultTitleThreshold = 0.97

	// DefaultYearTolerance is the maximum publication year difference.
	DefaultYearTolerance = 1

	// DefaultParallelThreshold is the cluster count above which the fuzzy
	// scan is split across the worker pool.
	DefaultParallelThreshold = 2048
)

// Config holds the configuration of the deduplication engine.
type Config struct {
	// TitleThreshold is the Levenshtein similarity at or above which two
	// normalized titles are considered equal (e.g. 0.97).
	TitleThreshold float64 `mapstructure:"title_threshold"`

	// YearTolerance is the publication year difference still considered the
	// same work (e.g. 1, for preprint versus published year).
	YearTolerance int `mapstructure:"year_tolerance"`

	// Workers is the size of the fuzzy scan pool. Zero keeps the scan serial.
	Workers int `mapstructure:"workers"`

	// ParallelThreshold is the cluster count above which the pool is used.
	ParallelThreshold int `mapstructure:"parallel_threshold"`
}

// DefaultConfig returns the conservative defaults.
func DefaultConfig() Config {
	return Config{
		TitleThreshold:    DefaultTitleThreshold,
		YearTolerance:     DefaultYearTolerance,
		ParallelThreshold: DefaultParallelThreshold,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.TitleThreshold <= 0 || c.TitleThreshold > 1 {
		return fmt.Errorf("title_threshold must be in (0, 1], got %g", c.TitleThreshold)
	}
	if c.YearTolerance < 0 {
		return fmt.Errorf("year_tolerance must be >= 0, got %d", c.YearTolerance)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	return nil
}

// Report is the outcome of one deduplication run.
type Report struct {
	RunID             string                      `json:"run_id"`
	TotalBefore       int                         `json:"total_before"`
	TotalAfter        int                         `json:"total_after"`
	DuplicatesRemoved int                         `json:"duplicates_removed"`
	Clusters          []*domain.DuplicateCluster  `json:"clusters"`
	KeptDocuments     []*domain.ScholarlyDocument `json:"kept_documents"`
	Duration          time.Duration               `json:"duration_ns"`
}

// KeptIDs returns the LumenIDs of the kept documents in order.
func (r *Report) KeptIDs() []string {
	ids := make([]string, len(r.KeptDocuments))
	for i, d := range r.KeptDocuments {
		ids[i] = d.LumenID
	}
	return ids
}

// Payload converts the report to its downstream event payload.
func (r *Report) Payload() domain.DedupCompletedPayload {
	return domain.DedupCompletedPayload{
		RunID:             r.RunID,
		TotalBefore:       r.TotalBefore,
		TotalAfter:        r.TotalAfter,
		DuplicatesRemoved: r.DuplicatesRemoved,
		Clusters:          r.Clusters,
		KeptIDs:           r.KeptIDs(),
	}
}

// Engine performs corpus-wide deduplication. It is safe for concurrent use;
// every run has its own state.
type Engine struct {
	cfg     Config
	pool    *ants.Pool
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = observability.WithComponent(logger, "dedup")
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an Engine. Zero config values fall back to the defaults.
// When cfg.Workers is positive a worker pool is started; release it with Close.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	def := DefaultConfig()
	if cfg.TitleThreshold == 0 {
		cfg.TitleThreshold = def.TitleThreshold
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = def.ParallelThreshold
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dedup config: %w", err)
	}

	e := &Engine{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Workers > 0 {
		pool, err := ants.NewPool(cfg.Workers)
		if err != nil {
			return nil, fmt.Errorf("creating dedup worker pool: %w", err)
		}
		e.pool = pool
	}
	return e, nil
}

// Close releases the worker pool, if any.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Release()
	}
}

// entry is a corpus document with its precomputed match keys.
type entry struct {
	doc   *domain.ScholarlyDocument
	doi   string
	arxiv string
	title string
	year  int
}

// cluster accumulates the entries judged to be one work.
type cluster struct {
	members []*entry
	match   domain.MatchType
	dois    map[string]struct{}
}

func (c *cluster) add(en *entry) {
	c.members = append(c.members, en)
	if en.doi == "" {
		return
	}
	if c.dois == nil {
		c.dois = make(map[string]struct{}, 1)
	}
	c.dois[en.doi] = struct{}{}
}

// conflicts reports whether the cluster already holds a DOI other than doi.
// A member without a DOI must not bridge records that carry different ones.
func (c *cluster) conflicts(doi string) bool {
	if doi == "" {
		return false
	}
	for d := range c.dois {
		if d != doi {
			return true
		}
	}
	return false
}

// matchRank orders match types from strongest to weakest.
var matchRank = map[domain.MatchType]int{
	domain.MatchDOIExact:       3,
	domain.MatchArXivExact:     2,
	domain.MatchTitleFuzzyYear: 1,
}

// run is the state of one Deduplicate call.
type run struct {
	clusters []*cluster
	byDOI    map[string]int
	byArXiv  map[string]int
}

// Deduplicate clusters docs in a single pass. Rules apply in order and the
// first match wins: exact DOI, exact arXiv id, then normalized title
// similarity within the year tolerance. Input documents are not modified.
func (e *Engine) Deduplicate(docs []*domain.ScholarlyDocument) *Report {
	start := time.Now()
	r := &run{
		byDOI:   make(map[string]int),
		byArXiv: make(map[string]int),
	}

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		en := &entry{
			doc:   doc,
			doi:   doc.NormalizedDOI(),
			arxiv: domain.NormalizeArXivID(doc.ArXivID),
			title: NormalizeTitle(doc.Title),
			year:  doc.PublicationYear,
		}

		idx, match := e.find(r, en)
		if idx < 0 {
			c := &cluster{}
			c.add(en)
			r.clusters = append(r.clusters, c)
			idx = len(r.clusters) - 1
		} else {
			c := r.clusters[idx]
			c.add(en)
			if matchRank[match] > matchRank[c.match] {
				c.match = match
			}
		}
		r.index(idx, en)
	}

	report := e.report(r)
	report.Duration = time.Since(start)

	if e.metrics != nil {
		e.metrics.RecordDedupRun(report.DuplicatesRemoved, report.Duration.Seconds())
	}
	e.logger.Info().
		Str("run_id", report.RunID).
		Int("total_before", report.TotalBefore).
		Int("total_after", report.TotalAfter).
		Int("clusters", len(report.Clusters)).
		Dur("duration", report.Duration).
		Msg("deduplication completed")

	return report
}

// index registers the entry's exact keys for its cluster. The first cluster
// to claim a key keeps it.
func (r *run) index(idx int, en *entry) {
	if en.doi != "" {
		if _, ok := r.byDOI[en.doi]; !ok {
			r.byDOI[en.doi] = idx
		}
	}
	if en.arxiv != "" {
		if _, ok := r.byArXiv[en.arxiv]; !ok {
			r.byArXiv[en.arxiv] = idx
		}
	}
}

// find returns the cluster the entry belongs to and the rule that matched,
// or -1 when it starts a new cluster.
func (e *Engine) find(r *run, en *entry) (int, domain.MatchType) {
	if en.doi != "" {
		if idx, ok := r.byDOI[en.doi]; ok {
			return idx, domain.MatchDOIExact
		}
	}
	if en.arxiv != "" {
		if idx, ok := r.byArXiv[en.arxiv]; ok {
			return idx, domain.MatchArXivExact
		}
	}
	if en.title == "" {
		return -1, ""
	}

	var idx int
	if e.pool != nil && len(r.clusters) > e.cfg.ParallelThreshold {
		idx = e.scanParallel(r.clusters, en)
	} else {
		idx = e.scan(r.clusters, en, 0, len(r.clusters))
	}
	if idx < 0 {
		return -1, ""
	}
	return idx, domain.MatchTitleFuzzyYear
}

// scan returns the lowest cluster index in [from, to) with a fuzzy match.
func (e *Engine) scan(clusters []*cluster, en *entry, from, to int) int {
	for i := from; i < to; i++ {
		if clusters[i].conflicts(en.doi) {
			continue
		}
		for _, m := range clusters[i].members {
			if e.fuzzyMatch(en, m) {
				return i
			}
		}
	}
	return -1
}

// scanParallel splits the scan into one chunk per worker and returns the
// lowest matching index, the same answer as the serial scan.
func (e *Engine) scanParallel(clusters []*cluster, en *entry) int {
	workers := e.pool.Cap()
	chunk := (len(clusters) + workers - 1) / workers
	found := make([]int, 0, workers)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for from := 0; from < len(clusters); from += chunk {
		to := min(from+chunk, len(clusters))
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			if idx := e.scan(clusters, en, from, to); idx >= 0 {
				mu.Lock()
				found = append(found, idx)
				mu.Unlock()
			}
		})
		if err != nil {
			// the pool is closed or overloaded; scan this chunk inline
			wg.Done()
			if idx := e.scan(clusters, en, from, to); idx >= 0 {
				mu.Lock()
				found = append(found, idx)
				mu.Unlock()
			}
		}
	}
	wg.Wait()

	best := -1
	for _, idx := range found {
		if best < 0 || idx < best {
			best = idx
		}
	}
	return best
}

// fuzzyMatch applies the title and year rule. Two records carrying
// different DOIs are never fuzzy-matched. A panic while comparing counts
// as no match.
func (e *Engine) fuzzyMatch(a, b *entry) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn().
				Interface("panic", r).
				Str("lumen_id", a.doc.LumenID).
				Str("other_id", b.doc.LumenID).
				Msg("title comparison failed")
			matched = false
		}
	}()

	if b.title == "" {
		return false
	}
	if a.doi != "" && b.doi != "" && a.doi != b.doi {
		return false
	}
	if !yearsCompatible(a.year, b.year, e.cfg.YearTolerance) {
		return false
	}
	return TitleSimilarity(a.title, b.title) >= e.cfg.TitleThreshold
}

// representativeScore ranks cluster members: a DOI counts 10, an abstract 5,
// a positive citation count 3 and a venue 2.
func representativeScore(d *domain.ScholarlyDocument) int {
	score := 0
	if d.HasDOI() {
		score += 10
	}
	if d.Abstract != "" {
		score += 5
	}
	if d.CitationCount > 0 {
		score += 3
	}
	if d.Venue != "" {
		score += 2
	}
	return score
}

func (e *Engine) report(r *run) *Report {
	report := &Report{
		RunID:         uuid.New().String(),
		KeptDocuments: make([]*domain.ScholarlyDocument, 0, len(r.clusters)),
		Clusters:      []*domain.DuplicateCluster{},
	}

	for _, c := range r.clusters {
		report.TotalBefore += len(c.members)

		rep := 0
		best := representativeScore(c.members[0].doc)
		for i := 1; i < len(c.members); i++ {
			if s := representativeScore(c.members[i].doc); s > best {
				rep, best = i, s
			}
		}
		report.KeptDocuments = append(report.KeptDocuments, c.members[rep].doc)

		if len(c.members) == 1 {
			continue
		}
		dc := &domain.DuplicateCluster{
			Representative: c.members[rep].doc,
			Duplicates:     make([]*domain.ScholarlyDocument, 0, len(c.members)-1),
			MatchType:      c.match,
		}
		for i, m := range c.members {
			if i != rep {
				dc.Duplicates = append(dc.Duplicates, m.doc)
			}
		}
		report.Clusters = append(report.Clusters, dc)
	}

	report.TotalAfter = len(report.KeptDocuments)
	report.DuplicatesRemoved = report.TotalBefore - report.TotalAfter
	return report
}
