package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/orchestrator"
	"github.com/helixir/lumen-search/internal/sink"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a federated search described by an intent file",
	Long: `Search reads a YAML search intent, fans it out to the configured
providers and writes the fused, deduplicated result list as JSON together with
the per-provider execution log.

Example intent file:

  query: "protein folding transformer"
  mode: DISCOVERY
  filters:
    year_from: 2019
    max_results: 50
  providers: [openalex, crossref]`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("intent")
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open intent file: %w", err)
		}
		defer f.Close()

		intent, err := readIntent(f)
		if err != nil {
			return err
		}

		out, err := openOutput(cmd)
		if err != nil {
			return err
		}
		defer out.Close()

		var target sink.DocumentSink = sink.NopSink{}
		if publish, _ := cmd.Flags().GetBool("publish"); publish {
			target = components.Sink
		}
		return runSearch(cmd.Context(), components.Orchestrator, target, intent, out)
	},
}

func init() {
	searchCmd.Flags().String("intent", "", "YAML file describing the search intent")
	searchCmd.Flags().String("out", "", "write results to this file instead of stdout")
	searchCmd.Flags().Bool("publish", false, "hand the fused results to the configured Kafka sink")
	_ = searchCmd.MarkFlagRequired("intent")

	rootCmd.AddCommand(searchCmd)
}

// searchOutput is the JSON document written by the search command. Its
// documents field is also accepted by the dedup command.
type searchOutput struct {
	SearchID     string                      `json:"search_id"`
	Query        string                      `json:"query"`
	Documents    []*domain.ScholarlyDocument `json:"documents"`
	ExecutionLog []domain.StageResult        `json:"execution_log"`
	Duration     string                      `json:"duration"`
}

// readIntent decodes a YAML search intent. Unknown keys are rejected.
func readIntent(r io.Reader) (domain.SearchIntent, error) {
	var intent domain.SearchIntent

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&intent); err != nil {
		if errors.Is(err, io.EOF) {
			return intent, domain.NewValidationError("intent", "file is empty")
		}
		return intent, fmt.Errorf("parse intent: %w", err)
	}

	intent.Query = strings.TrimSpace(intent.Query)
	intent.Mode = domain.SearchMode(strings.ToUpper(string(intent.Mode)))
	if intent.Mode != "" && !intent.Mode.IsValid() {
		return intent, domain.NewValidationError("mode", "must be DISCOVERY or ENRICHMENT")
	}
	switch intent.EffectiveMode() {
	case domain.ModeEnrichment:
		if len(intent.KnownIDs) == 0 {
			return intent, domain.NewValidationError("known_ids", "required in ENRICHMENT mode")
		}
	default:
		if intent.Query == "" {
			return intent, domain.NewValidationError("query", "must not be empty")
		}
	}
	if intent.Filters.YearTo != 0 && intent.Filters.YearTo < intent.Filters.YearFrom {
		return intent, domain.NewValidationError("filters.year_to", "must not be less than year_from")
	}
	return intent, nil
}

type searcher interface {
	Search(ctx context.Context, intent domain.SearchIntent) (*orchestrator.Stream, error)
}

func runSearch(ctx context.Context, s searcher, target sink.DocumentSink, intent domain.SearchIntent, out io.Writer) error {
	started := time.Now()

	stream, err := s.Search(ctx, intent)
	if err != nil {
		return fmt.Errorf("start search: %w", err)
	}

	docs, err := orchestrator.Collect(ctx, stream)
	if err != nil {
		return fmt.Errorf("search %s: %w", stream.SearchID(), err)
	}
	elapsed := time.Since(started)

	if err := target.PublishDocuments(ctx, stream.SearchID(), intent.Query, docs); err != nil {
		return fmt.Errorf("publish documents: %w", err)
	}
	err = target.PublishSearchCompleted(ctx, domain.SearchCompletedPayload{
		SearchID:     stream.SearchID(),
		Query:        intent.Query,
		Documents:    len(docs),
		ExecutionLog: stream.Log(),
		Duration:     elapsed,
	})
	if err != nil {
		return fmt.Errorf("publish search summary: %w", err)
	}

	return writeJSON(out, searchOutput{
		SearchID:     stream.SearchID(),
		Query:        intent.Query,
		Documents:    docs,
		ExecutionLog: stream.Log(),
		Duration:     elapsed.String(),
	})
}
