// Package normalize turns free text and remote metadata into the canonical,
// comparable form used by matching and merging.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]+>`)
	periodRunPattern = regexp.MustCompile(`\.{2,}`)
	commaRunPattern  = regexp.MustCompile(`,{2,}`)
	semiRunPattern   = regexp.MustCompile(`;{2,}`)

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)

	// compared case-insensitively
	labelPrefixes = []string{"title: ", "article: "}
)

// CleanText strips markup and formatting artifacts from a title or journal
// name. The result is a fixpoint: CleanText(CleanText(s)) == CleanText(s).
func CleanText(s string) string {
	for {
		next := cleanPass(s)
		if next == s {
			return s
		}
		s = next
	}
}

// Normalize returns the form used for every free-text comparison
func Normalize(s string) string {
	return strings.ToLower(CleanText(s))
}

func cleanPass(s string) string {
	s = norm.NFC.String(s)
	s = tagPattern.ReplaceAllString(s, "")
	s = collapseSpace(s)
	s = entityReplacer.Replace(s)
	s = unwrapQuotes(s)

	s = periodRunPattern.ReplaceAllString(s, ".")
	s = commaRunPattern.ReplaceAllString(s, ",")
	s = semiRunPattern.ReplaceAllString(s, ";")

	s = trimLabel(s)
	s = strings.TrimRight(s, ".")
	return strings.TrimSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func unwrapQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func trimLabel(s string) string {
	for _, prefix := range labelPrefixes {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			return s[len(prefix):]
		}
	}
	return s
}
