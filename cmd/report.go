package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/bibfixer/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "report <report-file>",
		Short: "Display a saved fix run report",
		Long: `Reads a report written by "bibfixer fix --report" (.yaml, .json or .parquet)
and prints it as text, JSON or CSV.`,
		Example: `  bibfixer report reports/refs.yaml
  bibfixer report reports/refs.parquet --format csv > refs.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Load(args[0])
			if err != nil {
				return fmt.Errorf("failed to load report: %w", err)
			}
			return printReport(cmd.OutOrStdout(), r, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, csv)")

	return cmd
}

func printReport(w io.Writer, r *report.Report, format string) error {
	switch format {
	case "text":
		return printTextReport(w, r)
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	case "csv":
		return printCSVReport(w, r)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printTextReport(w io.Writer, r *report.Report) error {
	fmt.Fprintln(w, "========================================")
	fmt.Fprintln(w, "Bibliography Fix Report")
	fmt.Fprintln(w, "========================================")
	fmt.Fprintf(w, "Run:     %s\n", r.RunID)
	if r.Output != "" {
		fmt.Fprintf(w, "Input:   %s\n", r.Input)
		fmt.Fprintf(w, "Output:  %s\n", r.Output)
		fmt.Fprintf(w, "Workers: %d\n", r.Workers)
		fmt.Fprintf(w, "Took:    %s\n", r.Duration)
	}
	fmt.Fprintf(w, "Fixed %d out of %d entries (%d matched)\n", r.Changed, r.Total, r.Matched)

	counts := r.StrategyCounts()
	strategies := make([]string, 0, len(counts))
	for s := range counts {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)
	for _, s := range strategies {
		fmt.Fprintf(w, "  %-12s %d\n", s, counts[s])
	}

	fmt.Fprintln(w, "\nEntries:")
	fmt.Fprintln(w, "========================================")
	for _, e := range r.Entries {
		switch {
		case e.Error != "":
			fmt.Fprintf(w, "[%d] %s  failed\n", e.Index+1, e.ID)
		case e.Matched:
			fmt.Fprintf(w, "[%d] %s  %s match (%.2f)  %s\n", e.Index+1, e.ID, e.Strategy, e.Score, strings.Join(e.Fields, ", "))
		case e.Changed:
			fmt.Fprintf(w, "[%d] %s  no match  %s\n", e.Index+1, e.ID, strings.Join(e.Fields, ", "))
		default:
			fmt.Fprintf(w, "[%d] %s  unchanged\n", e.Index+1, e.ID)
		}
	}

	if failed := r.Failed(); len(failed) > 0 {
		fmt.Fprintf(w, "\nFailures (%d):\n", len(failed))
		fmt.Fprintln(w, "========================================")
		for _, e := range failed {
			fmt.Fprintf(w, "  %s: %s\n", e.ID, e.Error)
		}
	}
	return nil
}

func printCSVReport(w io.Writer, r *report.Report) error {
	writer := csv.NewWriter(w)

	header := []string{"Index", "ID", "Type", "Strategy", "Score", "Changed", "Matched", "Fields", "Error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range r.Entries {
		row := []string{
			strconv.Itoa(e.Index),
			e.ID,
			e.Type,
			e.Strategy,
			strconv.FormatFloat(e.Score, 'f', 3, 64),
			strconv.FormatBool(e.Changed),
			strconv.FormatBool(e.Matched),
			strings.Join(e.Fields, ";"),
			e.Error,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
