package bibtex

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/bibfixer/internal/models"
)

const indent = "  "

// Serialize renders the database. Fields are sorted by name with aligned
// values and no trailing comma; entries keep their order.
func Serialize(db *Database) []byte {
	var b strings.Builder

	for _, block := range db.Blocks {
		b.WriteString(block)
		b.WriteString("\n\n")
	}

	for i, entry := range db.Entries {
		if i > 0 {
			b.WriteString("\n")
		}
		writeEntry(&b, db, entry)
	}

	return []byte(b.String())
}

var monthMacros = map[string]bool{
	"jan": true, "feb": true, "mar": true, "apr": true, "may": true, "jun": true,
	"jul": true, "aug": true, "sep": true, "oct": true, "nov": true, "dec": true,
}

func writeEntry(b *strings.Builder, db *Database, entry models.Record) {
	fmt.Fprintf(b, "@%s{%s", entry.Type, entry.ID)

	names := make([]string, 0, len(entry.Fields))
	width := 0
	for name := range entry.Fields {
		names = append(names, name)
		width = max(width, len(name))
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(b, ",\n%s%-*s = %s", indent, width, name, formatValue(db, entry, name))
	}
	b.WriteString("\n}\n")
}

// formatValue writes a macro expression back unbraced as long as it still
// expands to the field value. Anything else, including values replaced by a
// merge, is written braced. Months use the standard month macros.
func formatValue(db *Database, entry models.Record, name string) string {
	value := entry.Fields[name]

	if expr, ok := entry.Exprs[name]; ok {
		p := &parser{src: []rune(expr), macros: db.Strings}
		if expanded, _, err := p.value(0); err == nil && expanded == value {
			return expr
		}
	}
	if name == "month" && monthMacros[strings.ToLower(value)] {
		return strings.ToLower(value)
	}
	return "{" + value + "}"
}

// Load reads and parses a BibTeX file. On a parse error it returns an empty
// database together with the error.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return &Database{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	db, err := Parse(data)
	if err != nil {
		return &Database{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	slog.Debug("Loaded bibliography", "path", path, "entries", len(db.Entries), "blocks", len(db.Blocks))
	return db, nil
}

// Validate drops entries missing an ID or entry type, logging each one, and
// returns the number dropped
func Validate(db *Database) int {
	valid := db.Entries[:0:0]
	dropped := 0
	for _, entry := range db.Entries {
		if strings.TrimSpace(entry.ID) == "" || strings.TrimSpace(entry.Type) == "" {
			slog.Warn("Skipping invalid entry", "id", entry.ID, "type", entry.Type, "fields", entry.Fields)
			dropped++
			continue
		}
		valid = append(valid, entry)
	}
	db.Entries = valid
	return dropped
}

// Save validates the database and writes it to path
func Save(db *Database, path string) error {
	Validate(db)

	if err := os.WriteFile(path, Serialize(db), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
