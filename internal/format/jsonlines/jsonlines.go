// Package jsonlines implements the JSON-lines input/output format: one JSON
// object per line, decoded field order preserved via a raw decode pass.
package jsonlines

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/crimson-sun/quill/internal/format"
	"github.com/crimson-sun/quill/internal/model"
)

func init() {
	format.RegisterParser("json", func(string) (format.Parser, error) { return Parser{}, nil })
	format.RegisterFormatter("json", func(string) (format.Formatter, error) { return &Formatter{}, nil })
}

// Parser decodes one JSON object per line into an Event, preserving key
// order as encountered in the source text.
type Parser struct{}

func (Parser) Parse(line string) (*model.Event, error) {
	ev := model.NewEvent(line)
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("jsonlines: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("jsonlines: line is not a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("jsonlines: %w", err)
		}
		key, _ := keyTok.(string)
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("jsonlines: value for %q: %w", key, err)
		}
		ev.Set(key, val)
	}
	return ev, nil
}

// Formatter re-encodes an event's fields, in insertion order, as one JSON
// object per line.
type Formatter struct{}

func (*Formatter) Format(ev *model.Event) (format.FormattedOutput, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range ev.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		v, _ := ev.Get(k)
		kb, err := json.Marshal(k)
		if err != nil {
			return format.FormattedOutput{}, err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return format.FormattedOutput{}, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return format.FormattedOutput{Line: buf.String()}, nil
}

func (*Formatter) Finish() (format.FormattedOutput, bool, error) {
	return format.FormattedOutput{}, false, nil
}
