package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/lumen-search/internal/probe"
)

var probeCmd = &cobra.Command{
	Use:   "probe <query>",
	Short: "Estimate how many works match a query, without fetching records",
	Long: `Probe asks every statistics-capable provider for the total hit count,
the publication year histogram and the top concepts of a query. It prints the
summed signal strength, the merged trend line and refinement hints.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return runProbe(cmd.Context(), components.Probe, strings.Join(args, " "), cmd.OutOrStdout(), jsonOutput)
	},
}

func init() {
	probeCmd.Flags().Bool("json", false, "output the probe report as JSON")
	rootCmd.AddCommand(probeCmd)
}

type prober interface {
	Probe(ctx context.Context, query string) *probe.Report
}

func runProbe(ctx context.Context, p prober, query string, out io.Writer, jsonOutput bool) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("query must not be empty")
	}

	report := p.Probe(ctx, query)
	if jsonOutput {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "Query:     %s\n", report.Query)
	fmt.Fprintf(out, "Providers: %s\n", strings.Join(report.Providers, ", "))
	if report.SignalStrength == nil {
		fmt.Fprintln(out, "Signal:    unavailable")
	} else {
		fmt.Fprintf(out, "Signal:    %d\n", *report.SignalStrength)
	}

	if len(report.TrendLine) > 0 {
		years := make([]int, 0, len(report.TrendLine))
		for y := range report.TrendLine {
			years = append(years, y)
		}
		sort.Ints(years)
		fmt.Fprintln(out, "Trend:")
		for _, y := range years {
			fmt.Fprintf(out, "  %d  %d\n", y, report.TrendLine[y])
		}
	}

	fmt.Fprintln(out, "Refinements:")
	for _, r := range report.Refinements {
		if r.Concept != "" {
			fmt.Fprintf(out, "  %-8s %s (%s)\n", r.Kind, r.Reason, r.Concept)
			continue
		}
		fmt.Fprintf(out, "  %-8s %s\n", r.Kind, r.Reason)
	}
	return nil
}
