package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/bibfixer/internal/models"
)

var (
	dashPattern = regexp.MustCompile(`[-−–—]+`)

	monthNames = [...]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

	entryKinds = map[string]string{
		"journal-article":     "article",
		"book":                "book",
		"book-chapter":        "inbook",
		"book-section":        "inbook",
		"proceedings-article": "inproceedings",
	}
)

// EntryKind maps a Crossref work type onto a BibTeX entry type. Unknown
// types fall back to article.
func EntryKind(workType string) string {
	if kind, ok := entryKinds[workType]; ok {
		return kind
	}
	return "article"
}

// Project converts a raw Crossref work into a candidate using the same field
// names as local records. Abstracts are never imported.
func Project(work models.Work) models.Candidate {
	fields := make(map[string]string)
	set := func(field, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields[field] = value
		}
	}

	if len(work.Title) > 0 {
		set("title", CleanText(work.Title[0]))
	}
	set("author", formatAuthors(work.Author))

	var container string
	if len(work.ContainerTitle) > 0 {
		container = CleanText(work.ContainerTitle[0])
	}
	set("journal", container)

	// chapters, proceedings and everything else that is not a journal article
	// keep the container as booktitle
	if container != "" && work.Type != "journal-article" {
		set("booktitle", container)
	}

	year, month := publicationDate(work)
	set("year", year)
	set("month", month)

	set("volume", work.Volume.String())
	set("number", issueNumber(work))
	set("pages", pages(work))
	set("doi", work.DOI.String())
	set("publisher", firstText(work.Publisher, work.Institution, work.School))
	set("isbn", work.ISBN.String())
	set("issn", work.ISSN.String())
	set("url", work.URL.String())

	return models.Candidate{
		Kind:   EntryKind(work.Type),
		Fields: fields,
		Raw:    work,
	}
}

// SplitAuthors splits a BibTeX author list ("Doe, John and Roe, Jane") into
// individual names
func SplitAuthors(authors string) []string {
	var names []string
	for _, name := range strings.Split(collapseSpace(authors), " and ") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func formatAuthors(contributors []models.Contributor) string {
	names := make([]string, 0, len(contributors))
	for _, c := range contributors {
		family := strings.TrimSpace(c.Family)
		given := strings.TrimSpace(c.Given)
		switch {
		case family != "" && given != "":
			names = append(names, family+", "+given)
		case family != "":
			names = append(names, family)
		}
	}
	return strings.Join(names, " and ")
}

// publicationDate takes year and month from the first date block that has
// any date parts at all
func publicationDate(work models.Work) (year, month string) {
	for _, date := range []*models.DateParts{work.PublishedPrint, work.PublishedOnline, work.Created, work.Issued} {
		parts := date.First()
		if len(parts) == 0 {
			continue
		}
		if y := parts[0].String(); y != "" && y != "0" {
			year = y
		}
		if len(parts) >= 2 {
			month = monthName(parts[1].String())
		}
		return year, month
	}
	return "", ""
}

func monthName(value string) string {
	if value == "" || value == "0" {
		return ""
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 12 {
		return value
	}
	return monthNames[n-1]
}

func issueNumber(work models.Work) string {
	if issue := work.Issue.String(); issue != "" {
		return issue
	}
	if work.JournalIssue != nil {
		if issue := work.JournalIssue.Issue.String(); issue != "" {
			return issue
		}
	}
	return work.Number.String()
}

func pages(work models.Work) string {
	if page := work.Page.String(); page != "" {
		return dashPattern.ReplaceAllString(page, "--")
	}
	return work.ArticleNumber.String()
}

func firstText(values ...models.Text) string {
	for _, v := range values {
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
