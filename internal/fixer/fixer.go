// Package fixer applies the search, select and merge pipeline to a batch of
// records with a bounded worker pool.
package fixer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lehigh-university-libraries/bibfixer/internal/merge"
	"github.com/lehigh-university-libraries/bibfixer/internal/models"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers = 6
	MaxWorkers     = 20
)

// Searcher queries the remote metadata service. Implementations swallow
// transport errors and return empty results instead.
type Searcher interface {
	SearchByDOI(ctx context.Context, doi string) *models.Candidate
	SearchByTitle(ctx context.Context, title string, rows int) []models.Candidate
	SearchByAuthorTitle(ctx context.Context, authors []string, title string) []models.Candidate
}

// SearcherFactory creates the Searcher owned by a single worker
type SearcherFactory func() Searcher

// Fixer runs the correction pipeline over batches of records
type Fixer struct {
	newSearcher SearcherFactory
	workers     int

	// TitleRows caps the number of title search results considered
	TitleRows int
}

// Result is the outcome of a batch run
type Result struct {
	Records  []models.Record
	Outcomes []models.Outcome
	Changed  int
	Matched  int
}

// New creates a Fixer. workers is clamped to [1, MaxWorkers].
func New(newSearcher SearcherFactory, workers int) *Fixer {
	workers, _ = ClampWorkers(workers)
	return &Fixer{
		newSearcher: newSearcher,
		workers:     workers,
		TitleRows:   5,
	}
}

// ClampWorkers limits n to [1, MaxWorkers]; the bool reports clamping above
// the maximum
func ClampWorkers(n int) (int, bool) {
	switch {
	case n < 1:
		return 1, false
	case n > MaxWorkers:
		return MaxWorkers, true
	default:
		return n, false
	}
}

// Workers returns the configured pool size
func (f *Fixer) Workers() int {
	return f.workers
}

// FixAll processes every record and returns outcomes in input order. A record
// that fails, or is never reached because ctx was cancelled, is returned
// unchanged.
func (f *Fixer) FixAll(ctx context.Context, records []models.Record) Result {
	outcomes := make([]models.Outcome, len(records))
	for i, record := range records {
		outcomes[i] = models.Outcome{Index: i, Record: record}
	}

	workers := min(f.workers, len(records))
	slog.Info("Processing records", "records", len(records), "workers", workers)

	// one Searcher per worker slot, borrowed for the duration of a record
	searchers := make(chan Searcher, workers)
	for range workers {
		searchers <- f.newSearcher()
	}

	var completed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			searcher := <-searchers
			defer func() { searchers <- searcher }()

			// each index is written by exactly one goroutine
			outcomes[i] = f.fixSafely(gctx, searcher, i, records[i])

			n := completed.Add(1)
			if n%10 == 0 || int(n) == len(records) {
				slog.Info("Progress", "processed", n, "total", len(records))
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		slog.Warn("Batch cancelled, remaining records left unchanged", "processed", completed.Load(), "total", len(records), "error", err)
	}

	result := Result{
		Records:  make([]models.Record, len(records)),
		Outcomes: outcomes,
	}
	for i, outcome := range outcomes {
		result.Records[i] = outcome.Record
		if outcome.Changed {
			result.Changed++
		}
		if outcome.Matched {
			result.Matched++
		}
	}
	return result
}

// fixSafely isolates a single record: any panic yields the original record
// with changed=false
func (f *Fixer) fixSafely(ctx context.Context, searcher Searcher, index int, record models.Record) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("processing entry %d (%s): %v", index, record.ID, r)
			slog.Error("Error processing entry", "index", index, "id", record.ID, "error", err)
			outcome = models.Outcome{Index: index, Record: record, Err: err.Error()}
		}
	}()

	outcome = f.Fix(ctx, searcher, record)
	outcome.Index = index
	return outcome
}

// Fix runs the pipeline for one record using searcher
func (f *Fixer) Fix(ctx context.Context, searcher Searcher, record models.Record) models.Outcome {
	slog.Info("Processing entry", "id", record.ID)

	working, removed := merge.StripAnnotations(record)
	if len(removed) > 0 {
		slog.Info("Removed fields", "id", record.ID, "fields", removed)
	}

	outcome := models.Outcome{Record: working}

	for _, s := range f.strategies() {
		match := s.find(ctx, searcher, working)
		if !match.Matched() {
			continue
		}

		// the entry kind is only ever inferred, never replaced
		if working.Type == "" && match.Candidate.Kind != "" {
			working.Type = match.Candidate.Kind
		}

		merged, fields := merge.Merge(working, *match.Candidate)
		for _, field := range fields {
			slog.Debug("Updated field", "id", record.ID, "field", field, "value", merged.Fields[field])
		}

		outcome.Record = merged
		outcome.Matched = true
		outcome.Strategy = s.name
		outcome.Score = match.Score
		break
	}

	// a match counts as a fix even when the remote data adds nothing new
	outcome.Fields = merge.Diff(record, outcome.Record)
	outcome.Changed = outcome.Matched || len(outcome.Fields) > 0
	return outcome
}
