// Package batcher implements the pipeline's second stage (§4.2): it applies
// line-level filters, detects CSV schema transitions, and groups surviving
// lines into size-or-time-bounded batches.
package batcher

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/model"
)

// Section selects a line range (e.g. "100:200"); either bound may be
// absent, meaning unbounded on that side.
type Section struct {
	Start, End int // 1-based; End == 0 means unbounded
}

// Contains reports whether the 1-based line number falls inside the
// section.
func (s Section) Contains(line int) bool {
	if s.Start > 0 && line < s.Start {
		return false
	}
	if s.End > 0 && line > s.End {
		return false
	}
	return true
}

// CSVMode controls whether a filename transition should re-derive the
// header/type-hint schema (only CSV/TSV-family inputs do).
type CSVMode int

const (
	CSVNone CSVMode = iota
	CSVWithHeader
)

// Config holds every filter/grouping knob from the CLI surface (§6) that
// the batcher consults.
type Config struct {
	HeadLimit     int // 0 = unlimited
	SkipLines     int
	Section       *Section
	KeepRegex     *regexp.Regexp
	IgnoreRegex   *regexp.Regexp
	DropEmpty     bool
	BatchSize     int
	BatchTimeout  time.Duration
	CSV           CSVMode
	CSVDelimiter  rune
}

// Batcher runs the blocking grouping loop.
type Batcher struct {
	Cfg Config
	In  <-chan model.LineMessage
	Out chan<- model.WorkMessage
	Bus *control.Bus

	// LinesRead and LinesFiltered are read by the coordinator once Run
	// returns; they are not safe for concurrent access while Run is live.
	LinesRead     int64
	LinesFiltered int64
}

type state struct {
	lines     []string
	filenames []string
	startLine int
	nextID    uint64
	schema    *model.CSVSchema
	curFile   string

	// sniffPending is set the moment a new CSV/TSV header is parsed and
	// cleared as soon as the first data row of that schema has been used to
	// derive schema.TypeHint.
	sniffPending bool
}

// Run drives the select loop over {control bus, input channel, timeout}.
func (b *Batcher) Run() error {
	defer close(b.Out)
	sub := b.Bus.Subscribe()
	st := &state{startLine: 1}
	var timeoutCh <-chan time.Time
	var timer *time.Timer

	flush := func() {
		if len(st.lines) == 0 {
			return
		}
		b.Out <- model.WorkMessage{Lines: &model.Batch{
			ID:        st.nextID,
			Lines:     st.lines,
			StartLine: st.startLine,
			Filenames: st.filenames,
			Schema:    st.schema,
		}}
		st.nextID++
		st.startLine += len(st.lines)
		st.lines = nil
		st.filenames = nil
		if timer != nil {
			timer.Stop()
			timer = nil
			timeoutCh = nil
		}
	}

	headStop := false
	for {
		select {
		case sig := <-sub:
			switch {
			case sig.Kind == control.Shutdown && sig.Immediate:
				return nil
			case sig.Kind == control.Shutdown && !sig.Immediate:
				flush()
				return nil
			}
		case <-timeoutCh:
			flush()
		case msg, ok := <-b.In:
			if !ok || msg.EOF {
				flush()
				return nil
			}
			if msg.Err != nil {
				return fmt.Errorf("batcher: %w", msg.Err)
			}
			if headStop {
				continue
			}
			b.LinesRead++
			if b.Cfg.HeadLimit > 0 && b.LinesRead > int64(b.Cfg.HeadLimit) {
				headStop = true
				flush()
				return nil
			}
			if b.LinesRead <= int64(b.Cfg.SkipLines) {
				b.LinesFiltered++
				continue
			}
			if b.Cfg.Section != nil && !b.Cfg.Section.Contains(int(b.LinesRead)) {
				b.LinesFiltered++
				continue
			}
			if b.Cfg.DropEmpty && strings.TrimSpace(msg.Line) == "" {
				b.LinesFiltered++
				continue
			}
			if b.Cfg.KeepRegex != nil && !b.Cfg.KeepRegex.MatchString(msg.Line) {
				b.LinesFiltered++
				continue
			}
			if b.Cfg.IgnoreRegex != nil && b.Cfg.IgnoreRegex.MatchString(msg.Line) {
				b.LinesFiltered++
				continue
			}

			if b.Cfg.CSV != CSVNone && msg.HasFile && msg.Filename != st.curFile {
				flush()
				st.curFile = msg.Filename
				st.schema = &model.CSVSchema{Headers: splitHeader(msg.Line, b.Cfg.CSVDelimiter)}
				st.sniffPending = true
				continue // header line consumed, not emitted as data
			}

			if st.sniffPending {
				st.schema.TypeHint = sniffTypeHints(msg.Line, b.Cfg.CSVDelimiter, st.schema.Headers)
				st.sniffPending = false
			}

			st.lines = append(st.lines, msg.Line)
			st.filenames = append(st.filenames, msg.Filename)
			if len(st.lines) >= b.Cfg.BatchSize {
				flush()
			} else if timer == nil && b.Cfg.BatchTimeout > 0 {
				timer = time.NewTimer(b.Cfg.BatchTimeout)
				timeoutCh = timer.C
			}
		}
	}
}

func splitHeader(line string, sep rune) []string {
	if sep == 0 {
		sep = ','
	}
	return strings.Split(line, string(sep))
}

// sniffTypeHints infers a per-column type ("int", "float", or "bool") from
// a schema's first data row, so internal/format/csv's Parser.convert can
// coerce numeric/boolean columns instead of leaving every field a string.
// A column left out of the returned map (including when every field sniffs
// as plain text) falls back to string conversion. This only ever inspects
// one row per schema transition — a column whose later rows disagree with
// the sniffed type still falls through convert's type switch to the raw
// string, so it degrades safely rather than erroring.
func sniffTypeHints(line string, sep rune, headers []string) map[string]string {
	if sep == 0 {
		sep = ','
	}
	fields := strings.Split(line, string(sep))
	var hints map[string]string
	for i, raw := range fields {
		if i >= len(headers) {
			break
		}
		raw = strings.TrimSpace(raw)
		hint := sniffFieldType(raw)
		if hint == "" {
			continue
		}
		if hints == nil {
			hints = make(map[string]string, len(fields))
		}
		hints[headers[i]] = hint
	}
	return hints
}

func sniffFieldType(raw string) string {
	switch strings.ToLower(raw) {
	case "":
		return ""
	case "true", "false":
		return "bool"
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return "int"
	}
	if _, err := strconv.ParseFloat(raw, 64); err == nil {
		return "float"
	}
	return ""
}
