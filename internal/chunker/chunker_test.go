package chunker

import (
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/model"
)

func startsWithTimestamp(line string) bool {
	return len(line) > 0 && line[0] >= '0' && line[0] <= '9'
}

// TestChunker_JavaStackTrace mirrors the multiline Java stack trace scenario:
// a leading-timestamp start predicate folds "at ..." continuation lines into
// the preceding record.
func TestChunker_JavaStackTrace(t *testing.T) {
	c := New(startsWithTimestamp, nil)
	lines := []string{
		"2024-01-01 ERROR boom",
		"  at com.example.Foo.bar(Foo.java:10)",
		"  at com.example.Baz.qux(Baz.java:20)",
		"2024-01-01 INFO next record",
	}

	var events []string
	for _, l := range lines {
		if ev, _, ok := c.FeedLine(l, "app.log"); ok {
			events = append(events, ev)
		}
	}
	if ev, _, ok := c.Flush(); ok {
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 folded events, got %d: %v", len(events), events)
	}
	if !strings.Contains(events[0], "Foo.bar") || !strings.Contains(events[0], "Baz.qux") {
		t.Fatalf("expected first event to carry both stack frames, got %q", events[0])
	}
	if events[1] != "2024-01-01 INFO next record" {
		t.Fatalf("expected second event to be the lone trailing line, got %q", events[1])
	}
}

func TestChunker_FlushReleasesPendingOnEOF(t *testing.T) {
	c := New(startsWithTimestamp, nil)
	c.FeedLine("2024-01-01 ERROR boom", "app.log")
	c.FeedLine("  at line one", "app.log")

	ev, fn, ok := c.Flush()
	if !ok {
		t.Fatal("expected Flush to release the pending partial record")
	}
	if fn != "app.log" {
		t.Fatalf("expected filename app.log, got %q", fn)
	}
	if !strings.Contains(ev, "line one") {
		t.Fatalf("expected pending content in flushed event, got %q", ev)
	}

	if _, _, ok := c.Flush(); ok {
		t.Fatal("expected a second Flush with nothing pending to report false")
	}
}

func TestChunker_DisabledPassesLinesThrough(t *testing.T) {
	in := make(chan model.WorkMessage, 1)
	out := make(chan model.WorkMessage, 1)
	in <- model.WorkMessage{Lines: &model.Batch{
		ID:        0,
		Lines:     []string{"a", "b"},
		Filenames: []string{"f", "f"},
	}}
	close(in)

	task := &Task{Chunker: nil, In: in, Out: out, Bus: control.New()}
	done := make(chan error, 1)
	go func() { done <- task.Run() }()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	msg, ok := <-out
	if !ok {
		t.Fatal("expected one pass-through EventBatch")
	}
	if msg.Events == nil || len(msg.Events.Events) != 2 {
		t.Fatalf("expected 2 events pass-through, got %+v", msg.Events)
	}
}

// TestTask_InactivityDeadlineFlushesPendingBuffer exercises Run's timer arm
// directly: with no EOF and no further batch arriving, a short FlushDeadline
// must still release the buffered partial event on its own.
func TestTask_InactivityDeadlineFlushesPendingBuffer(t *testing.T) {
	in := make(chan model.WorkMessage)
	out := make(chan model.WorkMessage, 2)

	task := &Task{
		Chunker:       New(startsWithTimestamp, nil),
		In:            in,
		Out:           out,
		Bus:           control.New(),
		FlushDeadline: 20 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() { done <- task.Run() }()

	in <- model.WorkMessage{Lines: &model.Batch{
		ID:        0,
		Lines:     []string{"2024-01-01 ERROR boom", "  at frame"},
		Filenames: []string{"f", "f"},
	}}

	select {
	case msg := <-out:
		if msg.Events == nil || len(msg.Events.Events) != 1 {
			t.Fatalf("expected the inactivity timer to flush one pending event, got %+v", msg.Events)
		}
		if !strings.Contains(msg.Events.Events[0], "frame") {
			t.Fatalf("expected the flushed event to carry the buffered line, got %q", msg.Events.Events[0])
		}
	case <-time.After(time.Second):
		t.Fatal("expected the chunker to flush its pending buffer after the inactivity deadline")
	}

	close(in)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTask_FoldsBatchIntoEvents(t *testing.T) {
	in := make(chan model.WorkMessage, 1)
	out := make(chan model.WorkMessage, 2)
	in <- model.WorkMessage{Lines: &model.Batch{
		ID: 0,
		Lines: []string{
			"2024-01-01 ERROR boom",
			"  at frame",
			"2024-01-01 INFO ok",
		},
		Filenames: []string{"f", "f", "f"},
	}}
	close(in)

	task := &Task{Chunker: New(startsWithTimestamp, nil), In: in, Out: out, Bus: control.New()}
	done := make(chan error, 1)
	go func() { done <- task.Run() }()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	msg, ok := <-out
	if !ok {
		t.Fatal("expected one EventBatch")
	}
	if len(msg.Events.Events) != 1 {
		t.Fatalf("expected 1 folded event released mid-stream by the next start line, got %d", len(msg.Events.Events))
	}
}
