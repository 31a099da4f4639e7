// Package kv implements the key=value input/output format (logfmt-style),
// e.g. `level=INFO msg="request done" status=200`.
package kv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/crimson-sun/quill/internal/format"
	"github.com/crimson-sun/quill/internal/model"
)

func init() {
	format.RegisterParser("kv", func(string) (format.Parser, error) { return Parser{}, nil })
	format.RegisterFormatter("kv", func(string) (format.Formatter, error) { return &Formatter{}, nil })
}

// Parser splits a line into whitespace-separated key=value tokens, honoring
// double-quoted values that may themselves contain spaces.
type Parser struct{}

func (Parser) Parse(line string) (*model.Event, error) {
	ev := model.NewEvent(line)
	for _, tok := range tokenize(line) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		ev.Set(k, unquote(v))
	}
	return ev, nil
}

func tokenize(line string) []string {
	var toks []string
	var cur strings.Builder
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
	}
	return v
}

// Formatter renders an event back as space-separated key=value pairs, in
// field order; values containing whitespace are quoted.
type Formatter struct{}

func (*Formatter) Format(ev *model.Event) (format.FormattedOutput, error) {
	var b strings.Builder
	for i, k := range ev.Keys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		v, _ := ev.Get(k)
		s := fmt.Sprint(v)
		fmt.Fprintf(&b, "%s=%s", k, quoteIfNeeded(s))
	}
	return format.FormattedOutput{Line: b.String()}, nil
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}

func (*Formatter) Finish() (format.FormattedOutput, bool, error) {
	return format.FormattedOutput{}, false, nil
}
