package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/bibfixer/internal/bibtex"
	"github.com/lehigh-university-libraries/bibfixer/internal/crossref"
	"github.com/lehigh-university-libraries/bibfixer/internal/fixer"
	"github.com/lehigh-university-libraries/bibfixer/internal/report"
	"github.com/spf13/cobra"
)

type fixOptions struct {
	input      string
	output     string
	email      string
	baseURL    string
	reportPath string
	workers    int
}

func newFixCmd() *cobra.Command {
	var opts fixOptions
	var maxWorkers int

	cmd := &cobra.Command{
		Use:   "fix <input.bib>",
		Short: "Fix a BibTeX file",
		Long: `Looks up every entry of a BibTeX file on Crossref and writes the corrected
bibliography to a new file. Entries that cannot be matched are written back
unchanged, except that abstract and keyword fields are always removed.`,
		Example: `  # Write refs_fixed.bib next to refs.bib
  bibfixer fix refs.bib

  # Identify yourself to Crossref and use 10 workers
  bibfixer fix refs.bib -o clean.bib -e you@example.edu -t 10

  # Keep a per-entry report of what changed
  bibfixer fix refs.bib --report reports/refs.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.input = args[0]
			if cmd.Flags().Changed("max-workers") {
				opts.workers = maxWorkers
			}
			if err := opts.applyEnv(cmd); err != nil {
				return err
			}
			return runFix(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file (default: <input>_fixed.<ext>)")
	cmd.Flags().StringVarP(&opts.email, "email", "e", "", "Contact email sent to Crossref for polite API usage")
	cmd.Flags().IntVarP(&opts.workers, "threads", "t", fixer.DefaultWorkers, "Number of parallel workers")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", fixer.DefaultWorkers, "Alias for --threads")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Write a run report (.yaml, .json or .parquet)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", crossref.DefaultBaseURL, "Crossref API base URL")

	return cmd
}

// applyEnv fills options the user did not set on the command line
func (o *fixOptions) applyEnv(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("email") {
		o.email = os.Getenv("CROSSREF_MAILTO")
	}
	if !cmd.Flags().Changed("base-url") {
		if v := os.Getenv("CROSSREF_URL"); v != "" {
			o.baseURL = v
		}
	}
	if !cmd.Flags().Changed("threads") && !cmd.Flags().Changed("max-workers") {
		if v := os.Getenv("BIBFIXER_WORKERS"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid BIBFIXER_WORKERS %q: %w", v, err)
			}
			o.workers = n
		}
	}
	return nil
}

// defaultOutputPath returns <input>_fixed with the input's extension
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_fixed" + ext
}

// resolveWorkers rejects counts below one and clamps counts above the maximum
func resolveWorkers(n int) (int, error) {
	if n < 1 {
		return 0, fmt.Errorf("number of workers must be at least 1, got %d", n)
	}
	workers, clamped := fixer.ClampWorkers(n)
	if clamped {
		slog.Warn("Too many workers requested, capping", "requested", n, "workers", workers)
	}
	return workers, nil
}

func runFix(ctx context.Context, out io.Writer, opts fixOptions) error {
	workers, err := resolveWorkers(opts.workers)
	if err != nil {
		return err
	}
	if opts.output == "" {
		opts.output = defaultOutputPath(opts.input)
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	slog.Info("Starting fix run", "run_id", runID, "input", opts.input, "output", opts.output, "workers", workers)

	db, err := bibtex.Load(opts.input)
	if err != nil {
		return fmt.Errorf("failed to load bibliography: %w", err)
	}
	if len(db.Entries) == 0 {
		slog.Warn("No entries found", "input", opts.input)
		fmt.Fprintln(out, "No entries found")
		return nil
	}

	client := crossref.NewClient(opts.baseURL, opts.email)
	f := fixer.New(func() fixer.Searcher { return client.NewCaller() }, workers)

	result := f.FixAll(ctx, db.Entries)
	db.Entries = result.Records

	if err := bibtex.Save(db, opts.output); err != nil {
		return fmt.Errorf("failed to save bibliography: %w", err)
	}

	if opts.reportPath != "" {
		r := report.New(runID, opts.input, opts.output, workers, startedAt, result)
		if err := r.Save(opts.reportPath); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Fixed %d out of %d entries\n", result.Changed, len(result.Outcomes))
	fmt.Fprintf(out, "Output written to: %s\n", opts.output)
	return nil
}
