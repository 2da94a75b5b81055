package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/orchestrator"
	"github.com/helixir/lumen-search/internal/providers"
)

// Line types of the NDJSON search stream.
const (
	lineDocument = "document"
	lineSummary  = "summary"
)

type healthResponse struct {
	Status    string `json:"status"`
	Providers int    `json:"providers"`
}

// documentLine is one merge event of a search stream.
type documentLine struct {
	Type     string                    `json:"type"`
	Kind     orchestrator.EventKind    `json:"kind"`
	Provider string                    `json:"provider"`
	Document *domain.ScholarlyDocument `json:"document"`
}

// summaryLine is the trailer of a search stream.
type summaryLine struct {
	Type         string               `json:"type"`
	SearchID     string               `json:"search_id"`
	Documents    int                  `json:"documents"`
	ExecutionLog []domain.StageResult `json:"execution_log"`
	Duration     string               `json:"duration"`
	Published    bool                 `json:"published"`
}

type providerResponse struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

type listProvidersResponse struct {
	Providers []providerResponse `json:"providers"`
}

func eventToLine(ev orchestrator.Event) documentLine {
	return documentLine{
		Type:     lineDocument,
		Kind:     ev.Kind,
		Provider: ev.Provider,
		Document: ev.Document,
	}
}

func summarize(s *orchestrator.Stream, elapsed time.Duration, published bool) summaryLine {
	return summaryLine{
		Type:         lineSummary,
		SearchID:     s.SearchID(),
		Documents:    s.Len(),
		ExecutionLog: s.Log(),
		Duration:     elapsed.String(),
		Published:    published,
	}
}

func providerToResponse(p providers.SearchProvider) providerResponse {
	caps := make([]string, 0, len(p.Capabilities()))
	for c := range p.Capabilities() {
		caps = append(caps, string(c))
	}
	sort.Strings(caps)
	return providerResponse{ID: p.ID(), Capabilities: caps}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent, so an encode error cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
