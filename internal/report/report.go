// Package report records what a fix run did to each entry.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/bibfixer/internal/fixer"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// Report is the summary of one fix run
type Report struct {
	RunID     string        `yaml:"runid" json:"run_id"`
	Input     string        `yaml:"input" json:"input"`
	Output    string        `yaml:"output" json:"output"`
	Workers   int           `yaml:"workers" json:"workers"`
	StartedAt time.Time     `yaml:"startedat" json:"started_at"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
	Total     int           `yaml:"total" json:"total"`
	Changed   int           `yaml:"changed" json:"changed"`
	Matched   int           `yaml:"matched" json:"matched"`
	Entries   []Entry       `yaml:"entries" json:"entries"`
}

// Entry is the outcome for a single record. It is also the parquet row
// layout, so every field carries a parquet tag.
type Entry struct {
	RunID    string   `yaml:"-" json:"-" parquet:"run_id"`
	Index    int      `yaml:"index" json:"index" parquet:"index"`
	ID       string   `yaml:"id" json:"id" parquet:"id"`
	Type     string   `yaml:"type" json:"type" parquet:"type"`
	Strategy string   `yaml:"strategy,omitempty" json:"strategy,omitempty" parquet:"strategy"`
	Score    float64  `yaml:"score,omitempty" json:"score,omitempty" parquet:"score"`
	Changed  bool     `yaml:"changed" json:"changed" parquet:"changed"`
	Matched  bool     `yaml:"matched" json:"matched" parquet:"matched"`
	Fields   []string `yaml:"fields,omitempty" json:"fields,omitempty" parquet:"fields,list"`
	Error    string   `yaml:"error,omitempty" json:"error,omitempty" parquet:"error"`
}

// New builds a report from a batch result
func New(runID, input, output string, workers int, startedAt time.Time, result fixer.Result) *Report {
	r := &Report{
		RunID:     runID,
		Input:     input,
		Output:    output,
		Workers:   workers,
		StartedAt: startedAt.UTC(),
		Duration:  time.Since(startedAt).Round(time.Millisecond),
		Total:     len(result.Outcomes),
		Changed:   result.Changed,
		Matched:   result.Matched,
		Entries:   make([]Entry, 0, len(result.Outcomes)),
	}

	for _, o := range result.Outcomes {
		r.Entries = append(r.Entries, Entry{
			RunID:    runID,
			Index:    o.Index,
			ID:       o.Record.ID,
			Type:     o.Record.Type,
			Strategy: o.Strategy,
			Score:    o.Score,
			Changed:  o.Changed,
			Matched:  o.Matched,
			Fields:   o.Fields,
			Error:    o.Err,
		})
	}
	return r
}

// Failed returns the entries that could not be processed
func (r *Report) Failed() []Entry {
	var failed []Entry
	for _, e := range r.Entries {
		if e.Error != "" {
			failed = append(failed, e)
		}
	}
	return failed
}

// StrategyCounts tallies matched entries per search strategy
func (r *Report) StrategyCounts() map[string]int {
	counts := make(map[string]int)
	for _, e := range r.Entries {
		if e.Matched {
			counts[e.Strategy]++
		}
	}
	return counts
}

// Save writes the report in the format implied by the path extension
func (r *Report) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = r.saveYAML(path)
	case ".json":
		err = r.saveJSON(path)
	case ".parquet":
		err = parquet.WriteFile(path, r.Entries)
	default:
		return fmt.Errorf("unsupported report format: %s (supported: .yaml, .json, .parquet)", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	absPath, _ := filepath.Abs(path)
	slog.Info("Report saved", "path", absPath, "run_id", r.RunID)
	return nil
}

func (r *Report) saveYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (r *Report) saveJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Load reads a report written by Save. Parquet files only hold entries, so the
// run level totals are recomputed from them.
func Load(path string) (*Report, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return loadWith(path, yaml.Unmarshal)
	case ".json":
		return loadWith(path, json.Unmarshal)
	case ".parquet":
		return loadParquet(path)
	default:
		return nil, fmt.Errorf("unsupported report format: %s (supported: .yaml, .json, .parquet)", ext)
	}
}

func loadWith(path string, unmarshal func([]byte, any) error) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	for i := range r.Entries {
		r.Entries[i].RunID = r.RunID
	}
	return &r, nil
}

func loadParquet(path string) (*Report, error) {
	entries, err := parquet.ReadFile[Entry](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet report: %w", err)
	}
	slog.Debug("Read parquet report", "path", path, "rows", len(entries))

	r := &Report{Input: path, Total: len(entries), Entries: entries}
	for _, e := range entries {
		if r.RunID == "" {
			r.RunID = e.RunID
		}
		if e.Changed {
			r.Changed++
		}
		if e.Matched {
			r.Matched++
		}
	}
	return r, nil
}
