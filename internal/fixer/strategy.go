package fixer

import (
	"context"
	"log/slog"

	"github.com/lehigh-university-libraries/bibfixer/internal/matching"
	"github.com/lehigh-university-libraries/bibfixer/internal/models"
	"github.com/lehigh-university-libraries/bibfixer/internal/normalize"
)

// strategy is one way of locating the authoritative record. Strategies are
// tried in order and the first match wins.
type strategy struct {
	name string
	find func(ctx context.Context, s Searcher, record models.Record) models.MatchResult
}

func (f *Fixer) strategies() []strategy {
	return []strategy{
		{name: "doi", find: byDOI},
		{name: "title", find: f.byTitle},
		{name: "author_title", find: byAuthorTitle},
	}
}

// byDOI treats an identifier hit as authoritative and skips similarity gating
func byDOI(ctx context.Context, s Searcher, record models.Record) models.MatchResult {
	doi := record.Get("doi")
	if doi == "" {
		return models.MatchResult{}
	}
	slog.Info("Searching by DOI", "id", record.ID, "doi", doi)

	candidate := s.SearchByDOI(ctx, doi)
	if candidate == nil {
		return models.MatchResult{}
	}
	return models.MatchResult{Candidate: candidate, Score: 1.0}
}

func (f *Fixer) byTitle(ctx context.Context, s Searcher, record models.Record) models.MatchResult {
	title := record.Get("title")
	if title == "" {
		return models.MatchResult{}
	}
	slog.Info("Searching by title", "id", record.ID, "title", truncate(title, 50))

	return matching.SelectBest(record, s.SearchByTitle(ctx, title, f.TitleRows))
}

func byAuthorTitle(ctx context.Context, s Searcher, record models.Record) models.MatchResult {
	title := record.Get("title")
	authors := normalize.SplitAuthors(record.Get("author"))
	if title == "" || len(authors) == 0 {
		return models.MatchResult{}
	}
	slog.Info("Searching by author+title", "id", record.ID)

	return matching.SelectBest(record, s.SearchByAuthorTitle(ctx, authors, title))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
