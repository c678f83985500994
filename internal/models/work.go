package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Work is a single item from a Crossref works response. Only the fields that
// feed projection are decoded.
type Work struct {
	Type            string        `json:"type"`
	Title           []string      `json:"title"`
	ContainerTitle  []string      `json:"container-title"`
	Author          []Contributor `json:"author"`
	PublishedPrint  *DateParts    `json:"published-print"`
	PublishedOnline *DateParts    `json:"published-online"`
	Created         *DateParts    `json:"created"`
	Issued          *DateParts    `json:"issued"`
	Volume          Text          `json:"volume"`
	Issue           Text          `json:"issue"`
	JournalIssue    *JournalIssue `json:"journal-issue"`
	Number          Text          `json:"number"`
	Page            Text          `json:"page"`
	ArticleNumber   Text          `json:"article-number"`
	DOI             Text          `json:"DOI"`
	Publisher       Text          `json:"publisher"`
	Institution     Text          `json:"institution"`
	School          Text          `json:"school"`
	ISBN            Text          `json:"ISBN"`
	ISSN            Text          `json:"ISSN"`
	URL             Text          `json:"URL"`
}

// JournalIssue is the nested issue block of a journal article
type JournalIssue struct {
	Issue Text `json:"issue"`
}

// Contributor is a Crossref author entry
type Contributor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

// DateParts holds a Crossref partial date, e.g. {"date-parts": [[2020, 5]]}
type DateParts struct {
	Parts [][]Text `json:"date-parts"`
}

// First returns the first date-parts row, or nil
func (d *DateParts) First() []Text {
	if d == nil || len(d.Parts) == 0 {
		return nil
	}
	return d.Parts[0]
}

// Text decodes a JSON string, number, array (first element) or object with a
// "name" key into a plain string. Crossref is inconsistent about these shapes.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case '[':
		var items []Text
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*t = ""
		for _, item := range items {
			if strings.TrimSpace(string(item)) != "" {
				*t = item
				break
			}
		}
	case '{':
		var obj struct {
			Name Text `json:"name"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*t = obj.Name
	default:
		// numbers and booleans keep their literal form
		*t = Text(data)
	}
	return nil
}

// String returns the trimmed value
func (t Text) String() string {
	return strings.TrimSpace(string(t))
}
