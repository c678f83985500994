package models

import "time"

// Session is an uploaded bibliography fixed through the web API
type Session struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	Total     int       `json:"total"`
	Changed   int       `json:"changed"`
	Matched   int       `json:"matched"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
	Output    []byte    `json:"-"`
}

// Summary returns a copy without the per-entry outcomes
func (s *Session) Summary() *Session {
	summary := *s
	summary.Outcomes = nil
	return &summary
}
