package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/helixir/lumen-search/internal/dedup"
	"github.com/helixir/lumen-search/internal/domain"
	"github.com/helixir/lumen-search/internal/sink"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Collapse duplicate records of a corpus",
	Long: `Dedup reads a JSON corpus, either an array of documents or the output of
the search command, and runs one conservative deduplication pass: exact DOI,
exact arXiv id, then near-identical title within one publication year. The
report lists every duplicate cluster and the kept documents.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("in")
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open corpus: %w", err)
		}
		defer f.Close()

		docs, err := readCorpus(f)
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
		return runDedup(cmd.Context(), components.Dedup, target, docs, out)
	},
}

func init() {
	dedupCmd.Flags().String("in", "", "JSON corpus to deduplicate")
	dedupCmd.Flags().String("out", "", "write the report to this file instead of stdout")
	dedupCmd.Flags().Bool("publish", false, "hand the report to the configured Kafka sink")
	_ = dedupCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(dedupCmd)
}

// readCorpus accepts a JSON array of documents or an object with a
// "documents" array.
func readCorpus(r io.Reader) ([]*domain.ScholarlyDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.NewValidationError("corpus", "file is empty")
	}

	var docs []*domain.ScholarlyDocument
	if trimmed[0] == '{' {
		var wrapped struct {
			Documents []*domain.ScholarlyDocument `json:"documents"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("parse corpus: %w", err)
		}
		docs = wrapped.Documents
	} else if err := json.Unmarshal(trimmed, &docs); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}

	kept := docs[:0]
	for _, d := range docs {
		if d != nil {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

type deduplicator interface {
	Deduplicate(docs []*domain.ScholarlyDocument) *dedup.Report
}

func runDedup(ctx context.Context, d deduplicator, target sink.DocumentSink, docs []*domain.ScholarlyDocument, out io.Writer) error {
	report := d.Deduplicate(docs)
	if err := target.PublishReport(ctx, report); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return writeJSON(out, report)
}
