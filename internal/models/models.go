package models

import (
	"maps"
	"strings"
)

// Record is one bibliographic entry being corrected
type Record struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"` // article, book, inbook, inproceedings, ...
	Fields map[string]string `json:"fields"`

	// Exprs holds the raw BibTeX expression of fields that reference @string
	// macros, e.g. `jws` or `"Proc. " # jws`. Fields holds the expanded text.
	Exprs map[string]string `json:"-"`
}

// NewRecord creates a record with an empty field set
func NewRecord(id, entryType string) Record {
	return Record{
		ID:     id,
		Type:   entryType,
		Fields: make(map[string]string),
	}
}

// Get returns the trimmed value of a field, or "" when absent
func (r Record) Get(field string) string {
	return strings.TrimSpace(r.Fields[field])
}

// Has reports whether the field is present, even if blank
func (r Record) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// Clone returns a deep copy so callers can modify fields freely
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Type: r.Type, Exprs: maps.Clone(r.Exprs)}
	if r.Fields == nil {
		out.Fields = make(map[string]string)
	} else {
		out.Fields = maps.Clone(r.Fields)
	}
	return out
}

// Candidate is a remote search hit projected into the record field namespace
type Candidate struct {
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields"`
	Raw    Work              `json:"-"`
}

// Get returns a candidate field, or "" when absent
func (c Candidate) Get(field string) string {
	return strings.TrimSpace(c.Fields[field])
}

// MatchResult is the outcome of selecting among candidates
type MatchResult struct {
	Candidate *Candidate
	Score     float64 // 0.0 to 1.0
}

// Matched reports whether a candidate was selected
func (m MatchResult) Matched() bool {
	return m.Candidate != nil
}

// Outcome is the result of processing a single record
type Outcome struct {
	Index    int      `json:"index"`
	Record   Record   `json:"record"`
	Changed  bool     `json:"changed"`
	Matched  bool     `json:"matched"`
	Strategy string   `json:"strategy,omitempty"` // "doi", "title", "author_title"
	Score    float64  `json:"score,omitempty"`
	Fields   []string `json:"fields,omitempty"` // field keys that differ from the input record
	Err      string   `json:"error,omitempty"`
}
