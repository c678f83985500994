// Package matching decides whether a remote candidate describes the same work
// as a local record.
package matching

import (
	"log/slog"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/lehigh-university-libraries/bibfixer/internal/models"
	"github.com/lehigh-university-libraries/bibfixer/internal/normalize"
)

const (
	// JournalThreshold is the minimum journal similarity when the source names a journal
	JournalThreshold = 0.80
	// TitleThreshold must be strictly exceeded for a candidate to match
	TitleThreshold = 0.70
)

// Similarity returns a 0.0 to 1.0 ratio based on Levenshtein distance between
// the normalized forms of a and b
func Similarity(a, b string) float64 {
	return ratio(normalize.Normalize(a), normalize.Normalize(b))
}

func ratio(s1, s2 string) float64 {
	if s1 == "" || s2 == "" {
		return 0.0
	}
	if s1 == s2 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(s1, s2)
	maxLen := utf8.RuneCountInString(s1)
	if l := utf8.RuneCountInString(s2); l > maxLen {
		maxLen = l
	}

	return 1.0 - float64(distance)/float64(maxLen)
}

// SelectBest picks the candidate whose title is most similar to the source,
// after discarding candidates from a different journal. An empty result means
// no candidate is trustworthy enough to merge.
func SelectBest(source models.Record, candidates []models.Candidate) models.MatchResult {
	var result models.MatchResult

	sourceJournal := normalize.Normalize(source.Get("journal"))
	sourceTitle := normalize.Normalize(source.Get("title"))

	for i := range candidates {
		candidate := &candidates[i]

		if sourceJournal != "" {
			journal := normalize.Normalize(candidate.Get("journal"))
			if journal == "" {
				continue
			}
			if sim := ratio(sourceJournal, journal); sim < JournalThreshold {
				slog.Debug("Skipping candidate, journal mismatch",
					"id", source.ID,
					"journal", sourceJournal,
					"candidate_journal", journal,
					"similarity", sim)
				continue
			}
		}

		sim := ratio(sourceTitle, normalize.Normalize(candidate.Get("title")))
		if sim > TitleThreshold && sim > result.Score {
			result = models.MatchResult{Candidate: candidate, Score: sim}
		}
	}

	if result.Matched() {
		slog.Info("Found valid match", "id", source.ID, "journal", result.Candidate.Get("journal"), "score", result.Score)
	}

	return result
}
