// Package csv implements the CSV/TSV input/output formats, the one format
// pair whose behaviour genuinely depends on per-file schema (§4.2, §4.7):
// each time the batcher detects a filename transition it builds a fresh
// header vector (and optional type-hint map) and the worker swaps in a
// freshly constructed Parser carrying that schema.
package csv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crimson-sun/quill/internal/format"
	"github.com/crimson-sun/quill/internal/model"
)

func init() {
	format.RegisterParser("csv", newCSVParserCtor(','))
	format.RegisterParser("tsv", newCSVParserCtor('\t'))
	format.RegisterFormatter("csv", newCSVFormatterCtor(','))
	format.RegisterFormatter("tsv", newCSVFormatterCtor('\t'))
}

func newCSVParserCtor(sep rune) format.ParserConstructor {
	return func(string) (format.Parser, error) { return &Parser{sep: sep}, nil }
}

func newCSVFormatterCtor(sep rune) format.FormatterConstructor {
	return func(string) (format.Formatter, error) { return &Formatter{sep: sep}, nil }
}

// Parser splits one data row by the configured separator and zips it
// against the active schema's header vector. Until WithSchema has been
// called at least once it has no headers and parses positionally
// (field_0, field_1, ...).
type Parser struct {
	sep     rune
	headers []string
	hints   map[string]string
}

// WithSchema returns a new Parser bound to schema, satisfying
// format.CSVAware. Called by the worker whenever the batch it's about to
// process carries a schema different from the one currently in use.
func (p *Parser) WithSchema(schema *model.CSVSchema) (format.Parser, error) {
	if schema == nil {
		return &Parser{sep: p.sep}, nil
	}
	return &Parser{sep: p.sep, headers: schema.Headers, hints: schema.TypeHint}, nil
}

func (p *Parser) Parse(line string) (*model.Event, error) {
	ev := model.NewEvent(line)
	fields := splitRow(line, p.sep)
	for i, raw := range fields {
		key := fmt.Sprintf("field_%d", i)
		if i < len(p.headers) {
			key = p.headers[i]
		}
		ev.Set(key, p.convert(key, raw))
	}
	return ev, nil
}

func (p *Parser) convert(key, raw string) any {
	switch p.hints[key] {
	case "int":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case "float":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case "bool":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

// splitRow is a minimal RFC-4180-ish splitter: it honours double-quoted
// fields that may contain the separator, escaping an embedded quote as "".
// It is not a full CSV dialect implementation — the out-of-scope parser
// black box in the original system is; this exists only to exercise the
// schema-swap contract realistically.
func splitRow(line string, sep rune) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			if inQuote && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			inQuote = !inQuote
		case r == sep && !inQuote:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// Formatter renders an event's fields as one delimited row and never writes
// a header line itself. Headers, when set, fixes the column order; when nil,
// the event's own key order is used.
type Formatter struct {
	sep     rune
	Headers []string
}

func (f *Formatter) Format(ev *model.Event) (format.FormattedOutput, error) {
	keys := f.Headers
	if keys == nil {
		keys = ev.Keys()
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, _ := ev.Get(k)
		parts[i] = escapeField(fmt.Sprint(v), f.sep)
	}
	return format.FormattedOutput{Line: strings.Join(parts, string(f.sep))}, nil
}

func escapeField(s string, sep rune) string {
	if strings.ContainsRune(s, sep) || strings.ContainsAny(s, "\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func (f *Formatter) Finish() (format.FormattedOutput, bool, error) {
	return format.FormattedOutput{}, false, nil
}
