// Package plain implements the trivial "line" input/output format: the raw
// line becomes the event's single "line" field, and formatting an event
// just renders that field back (or the raw line it still carries, after a
// script may have replaced it).
package plain

import (
	"github.com/crimson-sun/quill/internal/format"
	"github.com/crimson-sun/quill/internal/model"
)

func init() {
	format.RegisterParser("line", func(string) (format.Parser, error) { return Parser{}, nil })
	format.RegisterFormatter("line", func(string) (format.Formatter, error) { return &Formatter{}, nil })
}

// Parser wraps every line as a single-field event.
type Parser struct{}

func (Parser) Parse(line string) (*model.Event, error) {
	ev := model.NewEvent(line)
	ev.Set("line", line)
	return ev, nil
}

// Formatter renders the "line" field (or the raw line, if a script dropped
// the field) as-is.
type Formatter struct{}

func (*Formatter) Format(ev *model.Event) (format.FormattedOutput, error) {
	if v, ok := ev.Get("line"); ok {
		if s, ok := v.(string); ok {
			return format.FormattedOutput{Line: s}, nil
		}
	}
	return format.FormattedOutput{Line: ev.Raw}, nil
}

func (*Formatter) Finish() (format.FormattedOutput, bool, error) {
	return format.FormattedOutput{}, false, nil
}
