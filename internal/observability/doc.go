// Package observability provides logging and metrics support for the
// federated search engine.
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger = observability.WithSearchContext(logger, searchID, "openalex")
//	logger.Info().Int("documents", n).Msg("provider finished")
//
// # Metrics
//
//	metrics := observability.NewMetrics("lumen")
//	metrics.RecordPermitGranted("crossref")
//	metrics.RecordSearchCompleted("crossref", 42, 1.3)
//
// Components accept a nil *Metrics and skip recording in that case.
//
// # Standard Fields
//
//   - request_id: inbound HTTP request identifier
//   - search_id: orchestrated search identifier
//   - provider: provider id (openalex, crossref, semanticscholar, arxiv)
//   - lumen_id: session-scoped document identity
//   - component: owning component (governor, orchestrator, probe, dedup, sink)
package observability
