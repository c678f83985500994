// Package bibtex reads and writes BibTeX databases as models.Record values.
package bibtex

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/lehigh-university-libraries/bibfixer/internal/models"
)

// Database is a parsed BibTeX file
type Database struct {
	// Blocks holds @comment, @preamble and @string blocks verbatim
	Blocks  []string
	Entries []models.Record

	// Strings maps lower-cased @string macro names to their expanded text
	Strings map[string]string
}

// ParseError reports malformed input with the line where parsing stopped
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bibtex: line %d: %s", e.Line, e.Msg)
}

type parser struct {
	src    []rune
	pos    int
	macros map[string]string
}

// Parse parses BibTeX source. Entry types and field names are lower-cased;
// values keep their inner braces. Macro references are expanded in
// Record.Fields and kept verbatim in Record.Exprs.
func Parse(data []byte) (*Database, error) {
	db := &Database{Strings: make(map[string]string)}
	p := &parser{src: []rune(string(data)), macros: db.Strings}

	for {
		if !p.skipTo('@') {
			return db, nil
		}
		start := p.pos
		p.pos++ // '@'

		kind := strings.ToLower(p.ident())
		p.skipSpace()

		// a stray @ in free text between entries
		if open := p.peek(); kind == "" || (open != '{' && open != '(') {
			continue
		}

		switch kind {
		case "comment":
			body, err := p.balanced()
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(body) != "" {
				db.Blocks = append(db.Blocks, string(p.src[start:p.pos]))
			}
		case "preamble":
			if _, err := p.balanced(); err != nil {
				return nil, err
			}
			db.Blocks = append(db.Blocks, string(p.src[start:p.pos]))
		case "string":
			body, err := p.balanced()
			if err != nil {
				return nil, err
			}
			if err := p.define(body, start); err != nil {
				return nil, err
			}
			db.Blocks = append(db.Blocks, string(p.src[start:p.pos]))
		default:
			entry, err := p.entry(kind)
			if err != nil {
				return nil, err
			}
			db.Entries = append(db.Entries, entry)
		}
	}
}

func (p *parser) entry(kind string) (models.Record, error) {
	closer := '}'
	if p.peek() == '(' {
		closer = ')'
	}
	p.pos++

	p.skipSpace()
	keyStart := p.pos
	for !p.eof() && p.peek() != ',' && p.peek() != closer {
		p.pos++
	}
	record := models.NewRecord(strings.TrimSpace(string(p.src[keyStart:p.pos])), kind)
	if p.eof() {
		return record, p.errorf("unterminated entry %q", record.ID)
	}

	for {
		p.skipSpace()
		if p.eof() {
			return record, p.errorf("unterminated entry %q", record.ID)
		}
		switch p.peek() {
		case closer:
			p.pos++
			return record, nil
		case ',':
			p.pos++
			continue
		}

		name := strings.ToLower(p.ident())
		if name == "" {
			return record, p.errorf("expected field name in entry %q", record.ID)
		}
		p.skipSpace()
		if p.peek() != '=' {
			return record, p.errorf("expected = after field %q in entry %q", name, record.ID)
		}
		p.pos++

		value, expr, err := p.value(closer)
		if err != nil {
			return record, err
		}
		record.Fields[name] = value
		if expr != "" {
			if record.Exprs == nil {
				record.Exprs = make(map[string]string)
			}
			record.Exprs[name] = expr
		}
	}
}

// define records the macro declared by an @string body
func (p *parser) define(body string, at int) error {
	sub := &parser{src: []rune(body), macros: p.macros}
	sub.skipSpace()
	name := strings.ToLower(sub.ident())
	sub.skipSpace()
	if name == "" || sub.peek() != '=' {
		return &ParseError{Line: lineAt(p.src, at), Msg: "malformed @string definition"}
	}
	sub.pos++

	value, _, err := sub.value(0)
	if err != nil {
		return &ParseError{Line: lineAt(p.src, at), Msg: fmt.Sprintf("malformed @string %q", name)}
	}
	p.macros[name] = value
	return nil
}

// value reads a field value, including '#' concatenations. It returns the
// expanded text and, when a macro is referenced, the raw expression.
func (p *parser) value(closer rune) (string, string, error) {
	var parts, raw []string
	macro := false
	for {
		p.skipSpace()
		if p.eof() {
			return "", "", p.errorf("unexpected end of input in field value")
		}

		switch r := p.peek(); {
		case r == '{':
			body, err := p.balanced()
			if err != nil {
				return "", "", err
			}
			parts = append(parts, body)
			raw = append(raw, "{"+body+"}")
		case r == '"':
			body, err := p.quoted()
			if err != nil {
				return "", "", err
			}
			parts = append(parts, body)
			raw = append(raw, `"`+body+`"`)
		default:
			start := p.pos
			for !p.eof() && !unicode.IsSpace(p.peek()) && p.peek() != ',' && p.peek() != '#' && p.peek() != closer {
				p.pos++
			}
			if p.pos == start {
				return "", "", p.errorf("empty field value")
			}
			token := string(p.src[start:p.pos])
			expanded, isMacro := p.expand(token)
			parts = append(parts, expanded)
			raw = append(raw, token)
			macro = macro || isMacro
		}

		p.skipSpace()
		if p.peek() != '#' {
			break
		}
		p.pos++
	}

	expr := ""
	if macro {
		expr = strings.Join(raw, " # ")
	}
	return strings.Join(parts, ""), expr, nil
}

// expand resolves a bare token. Numbers are literals. Any other token is a
// macro; month macros and undefined names expand to themselves.
func (p *parser) expand(token string) (string, bool) {
	if isNumber(token) {
		return token, false
	}
	if value, ok := p.macros[strings.ToLower(token)]; ok {
		return value, true
	}
	return token, true
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// balanced consumes a {…} or (…) group and returns its inner text
func (p *parser) balanced() (string, error) {
	open := p.peek()
	closeRune := '}'
	if open == '(' {
		closeRune = ')'
	}
	p.pos++
	start := p.pos
	depth := 1
	for !p.eof() {
		switch p.peek() {
		case open:
			depth++
		case closeRune:
			depth--
			if depth == 0 {
				body := string(p.src[start:p.pos])
				p.pos++
				return body, nil
			}
		}
		p.pos++
	}
	return "", &ParseError{Line: lineAt(p.src, start), Msg: "unbalanced braces"}
}

// quoted consumes a "…" value; braces inside protect embedded quotes
func (p *parser) quoted() (string, error) {
	p.pos++
	start := p.pos
	depth := 0
	for !p.eof() {
		switch p.peek() {
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			if depth == 0 {
				body := string(p.src[start:p.pos])
				p.pos++
				return body, nil
			}
		}
		p.pos++
	}
	return "", &ParseError{Line: lineAt(p.src, start), Msg: "unterminated quoted value"}
}

func (p *parser) ident() string {
	start := p.pos
	for !p.eof() {
		r := p.peek()
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-:.+/", r) {
			p.pos++
			continue
		}
		break
	}
	return string(p.src[start:p.pos])
}

func (p *parser) skipTo(r rune) bool {
	for !p.eof() {
		if p.peek() == r {
			return true
		}
		p.pos++
	}
	return false
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.peek()) {
		p.pos++
	}
}

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: lineAt(p.src, p.pos), Msg: fmt.Sprintf(format, args...)}
}

func lineAt(src []rune, pos int) int {
	line := 1
	for _, r := range src[:min(pos, len(src))] {
		if r == '\n' {
			line++
		}
	}
	return line
}
