// Package chunker implements the optional multiline stream transducer
// (§4.3): lines are folded into complete event strings using a start
// predicate (and optional continuation predicate) until the next start
// line or a flush.
package chunker

import (
	"strings"
	"time"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/model"
)

// Predicate reports whether a line starts (or continues) a multiline
// event.
type Predicate func(line string) bool

// Chunker folds a stream of lines into complete event strings. It is not
// safe for concurrent use; one instance per chunker task.
type Chunker struct {
	Start        Predicate
	Continuation Predicate // nil means "anything not Start continues"

	buf      []string
	filename string
	haveFile bool
	pending  bool
}

// New returns a Chunker using start (and optionally continuation) to
// delimit events.
func New(start, continuation Predicate) *Chunker {
	return &Chunker{Start: start, Continuation: continuation}
}

// FeedLine folds one more physical line in, returning a complete event
// string when a new start line closes off the buffered one.
func (c *Chunker) FeedLine(line, filename string) (event string, filenameOut string, ok bool) {
	isStart := c.Start(line)
	isContinuation := !isStart && (c.Continuation == nil || c.Continuation(line))

	if c.pending && isStart {
		event = strings.Join(c.buf, "\n")
		filenameOut = c.filename
		ok = true
		c.buf = nil
		c.pending = false
	}

	if isStart || (isContinuation && c.pending) {
		if !c.pending {
			c.filename = filename
			c.pending = true
		}
		c.buf = append(c.buf, line)
	} else if !c.pending {
		// A continuation-shaped line with no open event starts one anyway,
		// so no input is silently dropped.
		c.filename = filename
		c.pending = true
		c.buf = append(c.buf, line)
	}

	return event, filenameOut, ok
}

// Flush releases a non-empty pending buffer at EOF or after the caller's
// own inactivity deadline has elapsed.
func (c *Chunker) Flush() (event string, filename string, ok bool) {
	if !c.pending || len(c.buf) == 0 {
		return "", "", false
	}
	event = strings.Join(c.buf, "\n")
	filename = c.filename
	c.buf = nil
	c.pending = false
	return event, filename, true
}

// defaultFlushDeadline is how long Task.Run waits for a new batch before
// releasing a non-empty pending buffer on its own, matching §4.3's "flush at
// EOF or after an inactivity deadline" contract for a multiline stream that
// simply stops (no EOF, no further lines, e.g. a tailed file gone quiet).
const defaultFlushDeadline = 2 * time.Second

// Task wires a Chunker into the pipeline's blocking loop: consumes Batches
// of raw lines, folds them, and emits EventBatches. When disabled
// (Chunker == nil) it instead passes raw lines through one-per-event.
type Task struct {
	Chunker *Chunker
	In      <-chan model.WorkMessage
	Out     chan<- model.WorkMessage
	Bus     *control.Bus

	// FlushDeadline bounds how long a buffered partial event can sit idle
	// before Flush releases it unprompted. Zero means defaultFlushDeadline.
	FlushDeadline time.Duration
}

// Run drives the fold loop. When Chunker is nil this degenerates to a pure
// LineBatch -> EventBatch relabeling pass-through, so downstream workers
// always see a uniform WorkMessage shape regardless of whether multiline
// mode is active; the inactivity timer is also skipped in that case since
// pass-through never buffers a partial event.
func (t *Task) Run() error {
	defer close(t.Out)
	sub := t.Bus.Subscribe()
	var nextID uint64

	emit := func(events []string, filenames []string, startLine int, schema *model.CSVSchema) {
		if len(events) == 0 {
			return
		}
		t.Out <- model.WorkMessage{Events: &model.EventBatch{
			ID: nextID, Events: events, StartLine: startLine,
			Filenames: filenames, Schema: schema,
		}}
		nextID++
	}

	if t.FlushDeadline <= 0 {
		t.FlushDeadline = defaultFlushDeadline
	}

	var timer *time.Timer
	var deadline <-chan time.Time
	if t.Chunker != nil {
		timer = time.NewTimer(t.FlushDeadline)
		deadline = timer.C
		defer timer.Stop()
	}

	resetTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(t.FlushDeadline)
	}

	for {
		select {
		case sig := <-sub:
			if sig.Kind == control.Shutdown {
				if sig.Immediate {
					return nil
				}
				t.flushPending(emit)
				return nil
			}
		case <-deadline:
			t.flushPending(emit)
			resetTimer()
		case msg, ok := <-t.In:
			if !ok {
				t.flushPending(emit)
				return nil
			}
			if msg.Lines == nil {
				continue
			}
			batch := msg.Lines
			if t.Chunker == nil {
				events := append([]string(nil), batch.Lines...)
				emit(events, batch.Filenames, batch.StartLine, batch.Schema)
				continue
			}
			var events []string
			var filenames []string
			for i, line := range batch.Lines {
				fn := ""
				if i < len(batch.Filenames) {
					fn = batch.Filenames[i]
				}
				if ev, evFn, ok := t.Chunker.FeedLine(line, fn); ok {
					events = append(events, ev)
					filenames = append(filenames, evFn)
				}
			}
			emit(events, filenames, batch.StartLine, batch.Schema)
			resetTimer()
		}
	}
}

func (t *Task) flushPending(emit func([]string, []string, int, *model.CSVSchema)) {
	if t.Chunker == nil {
		return
	}
	if ev, fn, ok := t.Chunker.Flush(); ok {
		emit([]string{ev}, []string{fn}, 0, nil)
	}
}
