// Package merge combines a local record with a matched remote candidate. The
// policy is conservative: better local data is never silently replaced.
package merge

import (
	"sort"
	"unicode/utf8"

	"github.com/lehigh-university-libraries/bibfixer/internal/models"
	"github.com/lehigh-university-libraries/bibfixer/internal/normalize"
)

// AnnotationFields are local annotations removed from every record
var AnnotationFields = []string{"abstract", "keywords"}

// Fields lists the fields taken from a candidate, in the order they are applied
var Fields = []string{
	"title", "author", "journal", "booktitle", "year", "month",
	"volume", "number", "pages", "doi", "publisher", "isbn", "issn", "url",
}

// StripAnnotations returns a copy of r without abstract and keywords, and the
// names of the fields that were removed
func StripAnnotations(r models.Record) (models.Record, []string) {
	out := r.Clone()
	var removed []string
	for _, field := range AnnotationFields {
		if _, ok := out.Fields[field]; ok {
			delete(out.Fields, field)
			removed = append(removed, field)
		}
	}
	return out, removed
}

// Merge applies candidate data to source and returns the merged record along
// with every field key that differs from source. It has no side effects.
func Merge(source models.Record, candidate models.Candidate) (models.Record, []string) {
	merged, _ := StripAnnotations(source)

	for _, field := range Fields {
		incoming := candidate.Get(field)
		if incoming == "" {
			continue
		}

		current := merged.Get(field)
		if current == "" {
			merged.Fields[field] = incoming
			continue
		}

		switch field {
		case "title":
			if preferTitle(current, incoming) {
				merged.Fields[field] = incoming
			}
		case "journal":
			// abbreviations are shorter than full names
			if runeLen(incoming) > runeLen(current) {
				merged.Fields[field] = incoming
			}
		case "pages":
			// full ranges beat truncated ones
			if runeLen(incoming) > runeLen(current) {
				merged.Fields[field] = incoming
			}
		}
		// everything else is gap-fill only
	}

	return merged, Diff(source, merged)
}

// preferTitle reports whether the candidate title should replace the current
// one: it is longer, or nearly as long and different after cleaning. This is
// a heuristic and can flip on paraphrased titles of similar length.
func preferTitle(current, incoming string) bool {
	original := normalize.CleanText(current)
	cleaned := normalize.CleanText(incoming)

	if runeLen(cleaned) > runeLen(original) {
		return true
	}
	return float64(runeLen(cleaned)) >= 0.9*float64(runeLen(original)) && cleaned != original
}

// Diff returns the sorted keys whose values differ between a and b, including
// added and removed fields. "type" is reported when the entry kind differs.
func Diff(a, b models.Record) []string {
	var changed []string
	for field, value := range a.Fields {
		if other, ok := b.Fields[field]; !ok || other != value {
			changed = append(changed, field)
		}
	}
	for field := range b.Fields {
		if _, ok := a.Fields[field]; !ok {
			changed = append(changed, field)
		}
	}
	if a.Type != b.Type {
		changed = append(changed, "type")
	}
	sort.Strings(changed)
	return changed
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
