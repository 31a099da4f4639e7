// Package worker implements the pipeline's per-worker scripted pipeline
// (§4.4): parse -> window -> script stages -> format, plus the tracker
// delta computation that makes parallel aggregation exact.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/format"
	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/script"
	"github.com/crimson-sun/quill/internal/stats"
	"github.com/crimson-sun/quill/internal/tracker"
)

// ErrorPolicy controls how parse/script failures are handled (§7).
type ErrorPolicy string

const (
	PolicySkip  ErrorPolicy = "skip"
	PolicyAbort ErrorPolicy = "abort"
	PolicyPrint ErrorPolicy = "print"
	PolicyStub  ErrorPolicy = "stub"
)

// Config bundles everything a worker needs that doesn't change per batch.
type Config struct {
	LineFilter func(line string) bool // optional discard-before-parse predicate

	ParserName, ParserOpts       string
	FormatterName, FormatterOpts string

	Begin, End *script.CompiledExpression // optional per-worker setup/teardown scripts

	Stages []Stage

	WindowSize int // 0 or 1 disables the sliding window beyond the current event

	Strict bool
	Policy ErrorPolicy

	FlushDeadline time.Duration // per-worker pending-flush poll interval
}

// Worker runs the blocking per-worker loop.
type Worker struct {
	ID  int
	Cfg Config
	In  <-chan model.WorkMessage
	Out chan<- model.BatchResult
	Bus *control.Bus

	tr       *tracker.WorkerTracker
	parser   format.Parser
	fmt      format.Formatter
	curSchema *model.CSVSchema
	window   []map[string]any
	st       stats.Stats

	beginOut, beginErr []string // captured once by Run's begin script, flushed into the first batch
	beginPending       bool
}

// Run drives the worker's select loop, as described in §4.4 and §5: a
// blocking loop over {control bus, work channel, flush deadline}.
func (w *Worker) Run() error {
	w.tr = tracker.NewWorkerTracker()
	w.st = stats.New()

	p, err := format.NewParser(w.Cfg.ParserName, w.Cfg.ParserOpts)
	if err != nil {
		return fmt.Errorf("worker %d: %w", w.ID, err)
	}
	w.parser = p

	f, err := format.NewFormatter(w.Cfg.FormatterName, w.Cfg.FormatterOpts)
	if err != nil {
		return fmt.Errorf("worker %d: %w", w.ID, err)
	}
	w.fmt = f

	if w.Cfg.Begin != nil {
		if err := script.ExecuteBegin(w.Cfg.Begin, w.tr, &w.beginOut, &w.beginErr); err != nil {
			if w.Cfg.Strict {
				return fmt.Errorf("worker %d: begin script: %w", w.ID, err)
			}
			slog.Warn("worker: begin script error", "worker", w.ID, "error", err)
		}
		w.beginPending = len(w.beginOut) > 0 || len(w.beginErr) > 0
	}

	sub := w.Bus.Subscribe()
	var deadline <-chan time.Time
	var timer *time.Timer
	if w.Cfg.FlushDeadline <= 0 {
		w.Cfg.FlushDeadline = 300 * time.Millisecond
	}

	for {
		select {
		case sig := <-sub:
			if sig.Kind != control.Shutdown {
				continue
			}
			if sig.Immediate {
				return nil
			}
			w.flush()
			return nil

		case <-deadline:
			w.flush()
			timer = nil
			deadline = nil

		case msg, ok := <-w.In:
			if !ok {
				w.flush()
				return nil
			}
			if err := w.processMessage(msg); err != nil {
				if w.Cfg.Strict {
					return err
				}
				slog.Warn("worker: batch processing error", "worker", w.ID, "error", err)
			}
			if timer == nil {
				timer = time.NewTimer(w.Cfg.FlushDeadline)
				deadline = timer.C
			}
		}
	}
}

// processMessage runs one batch (line-based or pre-chunked) through the
// full per-worker pipeline and reports a BatchResult.
func (w *Worker) processMessage(msg model.WorkMessage) error {
	before := w.tr.BeforeInternal()

	var id uint64
	var lines []string
	var filenames []string
	var startLine int
	var schema *model.CSVSchema

	switch {
	case msg.Lines != nil:
		id, lines, filenames, startLine, schema = msg.Lines.ID, msg.Lines.Lines, msg.Lines.Filenames, msg.Lines.StartLine, msg.Lines.Schema
	case msg.Events != nil:
		id, lines, filenames, startLine, schema = msg.Events.ID, msg.Events.Events, msg.Events.Filenames, msg.Events.StartLine, msg.Events.Schema
	default:
		return nil
	}

	if err := w.swapSchemaIfNeeded(schema); err != nil {
		return err
	}

	results := make([]model.ProcessedEvent, 0, len(lines))
	for i, line := range lines {
		filename := ""
		if i < len(filenames) {
			filename = filenames[i]
		}
		lineNum := startLine + i

		pe, skip, err := w.processOne(line, filename, lineNum)
		if err != nil {
			switch w.Cfg.Policy {
			case PolicyAbort:
				return err
			case PolicyPrint:
				slog.Error("worker: processing error", "worker", w.ID, "line", lineNum, "error", err)
				w.st.ParseErrors++
				continue
			case PolicyStub:
				results = append(results, model.ProcessedEvent{Line: line})
				w.st.ParseErrors++
				continue
			default: // skip
				w.st.ParseErrors++
				continue
			}
		}
		if skip {
			w.st.EventsFiltered++
			continue
		}
		results = append(results, pe...)
	}

	if w.beginPending {
		results = append([]model.ProcessedEvent{{CapturedStdout: w.beginOut, CapturedStderr: w.beginErr}}, results...)
		w.beginPending = false
		w.beginOut, w.beginErr = nil, nil
	}

	userValues, userOps := w.tr.Delta()
	internalValues, internalOps := w.tr.InternalDelta(before)

	w.Out <- model.BatchResult{
		BatchID:       id,
		Results:       results,
		UserDelta:     userValues,
		UserOps:       userOps,
		InternalDelta: internalValues,
		InternalOps:   internalOps,
		WorkerStats:   w.st.Snapshot(),
	}
	w.tr.ResetUser()
	w.st = stats.New()
	return nil
}

// processOne runs the parse -> window -> stages -> format chain for a
// single line/event, returning zero or more ProcessedEvents (script stages
// may fan out via Emit/EmitMultiple).
func (w *Worker) processOne(line, filename string, lineNum int) ([]model.ProcessedEvent, bool, error) {
	if w.Cfg.LineFilter != nil && !w.Cfg.LineFilter(line) {
		return nil, true, nil
	}

	ev, err := w.parser.Parse(line)
	if err != nil {
		return nil, false, fmt.Errorf("parse line %d: %w", lineNum, err)
	}
	ev.Line = lineNum
	ev.HasLine = true
	ev.Filename = filename
	w.st.EventsCreated++

	w.pushWindow(ev)

	var stdout, stderr []string
	events := []*model.Event{ev}
	for _, stage := range w.Cfg.Stages {
		var next []*model.Event
		for _, e := range events {
			outcome, emitted, err := stage.Run(e, w.window, w.tr, &stdout, &stderr)
			if err != nil {
				if w.Cfg.Policy == PolicyAbort {
					return nil, false, err
				}
				w.st.ScriptErrors++
				continue
			}
			switch outcome {
			case OutcomeSkip:
				continue
			case OutcomeEmit:
				for _, fields := range emitted {
					clone := e.Clone()
					clone.ApplyMap(fields)
					next = append(next, clone)
					w.st.EventsCreated++
				}
			default:
				next = append(next, e)
			}
		}
		events = next
		if len(events) == 0 {
			break
		}
	}

	if len(events) == 0 {
		if len(stdout) == 0 && len(stderr) == 0 {
			return nil, true, nil
		}
		return []model.ProcessedEvent{{CapturedStdout: stdout, CapturedStderr: stderr}}, false, nil
	}

	out := make([]model.ProcessedEvent, 0, len(events))
	for idx, e := range events {
		fo, err := w.fmt.Format(e)
		if err != nil {
			if w.Cfg.Policy == PolicyAbort {
				return nil, false, err
			}
			w.st.ScriptErrors++
			continue
		}
		pe := model.ProcessedEvent{
			Line:         fo.Line,
			HasTimestamp: fo.HasTimestamp,
			Timestamp:    fo.Timestamp,
			FileOps:      fo.FileOps,
		}
		if idx == 0 {
			pe.CapturedStdout = stdout
			pe.CapturedStderr = stderr
		}
		out = append(out, pe)
		w.st.EventsOutput++
	}
	return out, false, nil
}

func (w *Worker) pushWindow(ev *model.Event) {
	if w.Cfg.WindowSize <= 1 {
		w.window = []map[string]any{ev.Map()}
		return
	}
	w.window = append([]map[string]any{ev.Map()}, w.window...)
	if len(w.window) > w.Cfg.WindowSize {
		w.window = w.window[:w.Cfg.WindowSize]
	}
}

func (w *Worker) swapSchemaIfNeeded(schema *model.CSVSchema) error {
	if schema == nil || schema == w.curSchema {
		return nil
	}
	aware, ok := w.parser.(format.CSVAware)
	if !ok {
		w.curSchema = schema
		return nil
	}
	p, err := aware.WithSchema(schema)
	if err != nil {
		return fmt.Errorf("worker %d: csv schema swap: %w", w.ID, err)
	}
	w.parser = p
	w.curSchema = schema
	return nil
}

// flush emits a single BatchResult carrying the tracker delta accumulated
// since the last BatchResult (including the End script's tracking) and any
// still-buffered formatter output (§4.4's graceful-flush rule), tagged with
// the reserved flush batch id.
func (w *Worker) flush() {
	before := w.tr.BeforeInternal()
	var results []model.ProcessedEvent
	if w.beginPending {
		results = append(results, model.ProcessedEvent{CapturedStdout: w.beginOut, CapturedStderr: w.beginErr})
		w.beginPending = false
	}
	if w.Cfg.End != nil {
		var endOut, endErr []string
		if err := script.ExecuteEnd(w.Cfg.End, w.tr, &endOut, &endErr); err != nil {
			slog.Warn("worker: end script error", "worker", w.ID, "error", err)
		}
		if len(endOut) > 0 || len(endErr) > 0 {
			results = append(results, model.ProcessedEvent{CapturedStdout: endOut, CapturedStderr: endErr})
		}
	}
	if fo, ok, _ := w.fmt.Finish(); ok {
		results = append(results, model.ProcessedEvent{Line: fo.Line, HasTimestamp: fo.HasTimestamp, Timestamp: fo.Timestamp, FileOps: fo.FileOps})
	}
	userValues, userOps := w.tr.Delta()
	internalValues, internalOps := w.tr.InternalDelta(before)
	w.Out <- model.BatchResult{
		BatchID:       model.FlushBatchID,
		Results:       results,
		UserDelta:     userValues,
		UserOps:       userOps,
		InternalDelta: internalValues,
		InternalOps:   internalOps,
		WorkerStats:   w.st.Snapshot(),
	}
}
