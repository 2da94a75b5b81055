package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/observability"
)

// searchRequest is the JSON request body of POST /search.
type searchRequest struct {
	Query         string         `json:"query" validate:"required_unless=Mode ENRICHMENT,max=1000"`
	Mode          string         `json:"mode" validate:"omitempty,oneof=DISCOVERY ENRICHMENT"`
	Filters       filtersRequest `json:"filters"`
	DomainContext string         `json:"domain_context,omitempty" validate:"max=200"`
	Providers     []string       `json:"providers,omitempty" validate:"max=16,dive,required"`
	KnownIDs      []string       `json:"known_ids,omitempty" validate:"required_if=Mode ENRICHMENT,max=500,dive,required"`
}

type filtersRequest struct {
	YearFrom       int  `json:"year_from,omitempty" validate:"omitempty,min=1000,max=3000"`
	YearTo         int  `json:"year_to,omitempty" validate:"omitempty,min=1000,max=3000,gtefield=YearFrom"`
	OpenAccessOnly bool `json:"open_access_only,omitempty"`
	MaxResults     int  `json:"max_results,omitempty" validate:"min=0,max=1000"`
}

func (r searchRequest) intent() domain.SearchIntent {
	return domain.SearchIntent{
		Query: strings.TrimSpace(r.Query),
		Filters: domain.SearchFilters{
			YearFrom:       r.Filters.YearFrom,
			YearTo:         r.Filters.YearTo,
			OpenAccessOnly: r.Filters.OpenAccessOnly,
			MaxResults:     r.Filters.MaxResults,
		},
		Mode:          domain.SearchMode(r.Mode),
		DomainContext: r.DomainContext,
		Providers:     r.Providers,
		KnownIDs:      r.KnownIDs,
	}
}

// statsRequest is the JSON request body of POST /stats.
type statsRequest struct {
	Query     string         `json:"query" validate:"required,max=1000"`
	Filters   filtersRequest `json:"filters"`
	Providers []string       `json:"providers,omitempty" validate:"max=16,dive,required"`
}

// dedupRequest is the JSON request body of POST /dedup.
type dedupRequest struct {
	Documents []*domain.ScholarlyDocument `json:"documents" validate:"required,max=100000,dive,required"`
}

// search handles POST /search. The response is NDJSON: one line per merge
// event, then a summary line carrying the execution log. The fused list is
// published to the sink before the summary is written.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	started := time.Now()
	intent := req.intent()

	stream, err := s.deps.Searcher.Search(ctx, intent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Search-ID", stream.SearchID())
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			break
		}
		if err := enc.Encode(eventToLine(ev)); err != nil {
			s.logger.Debug().Err(err).Str("search_id", stream.SearchID()).Msg("client went away")
			return
		}
		flush()
	}

	if ctx.Err() != nil {
		s.logger.Info().Str("search_id", stream.SearchID()).Msg("search abandoned by client")
		return
	}

	results := stream.Results()
	published := s.publishSearch(r, stream.SearchID(), intent.Query, results, stream.Log(), time.Since(started))

	_ = enc.Encode(summarize(stream, time.Since(started), published))
	flush()
}

// publishSearch hands the fused list and the search summary to the sink and
// reports whether both were accepted.
func (s *Server) publishSearch(r *http.Request, searchID, query string, results []*domain.ScholarlyDocument, log []domain.StageResult, elapsed time.Duration) bool {
	ctx := r.Context()
	logger := observability.WithRequestContext(s.logger, observability.RequestIDFromContext(ctx))
	if err := s.deps.Sink.PublishDocuments(ctx, searchID, query, results); err != nil {
		logger.Warn().Err(err).Str("search_id", searchID).Msg("failed to publish documents")
		return false
	}
	err := s.deps.Sink.PublishSearchCompleted(ctx, domain.SearchCompletedPayload{
		SearchID:     searchID,
		Query:        query,
		Documents:    len(results),
		ExecutionLog: log,
		Duration:     elapsed,
	})
	if err != nil {
		logger.Warn().Err(err).Str("search_id", searchID).Msg("failed to publish search summary")
		return false
	}
	return true
}

// stats handles POST /stats.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	var req statsRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	intent := searchRequest{Query: req.Query, Filters: req.Filters, Providers: req.Providers}.intent()
	agg, err := s.deps.Searcher.AggregatedStats(r.Context(), intent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// probe handles GET /probe?q=.
func (s *Server) probe(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if err := s.validate.Var(query, "required,max=1000"); err != nil {
		writeError(w, http.StatusBadRequest, "q is required and must be at most 1000 characters")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Prober.Probe(r.Context(), query))
}

// dedup handles POST /dedup. The report is published to the sink.
func (s *Server) dedup(w http.ResponseWriter, r *http.Request) {
	var req dedupRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	report := s.deps.Deduplicator.Deduplicate(req.Documents)
	if err := s.deps.Sink.PublishReport(r.Context(), report); err != nil {
		logger := observability.WithRequestContext(s.logger, observability.RequestIDFromContext(r.Context()))
		logger.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to publish dedup report")
	}

	writeJSON(w, http.StatusOK, report)
}

// listProviders handles GET /providers.
func (s *Server) listProviders(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Providers.All()
	resp := listProvidersResponse{Providers: make([]providerResponse, 0, len(all))}
	for _, p := range all {
		resp.Providers = append(resp.Providers, providerToResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

// governorUsage handles GET /governor/{provider}.
func (s *Server) governorUsage(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))

	stats, ok := s.deps.Usage.UsageStats(provider)
	if !ok {
		writeError(w, http.StatusNotFound, "provider is not configured")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
