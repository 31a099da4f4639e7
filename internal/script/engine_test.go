package script

import (
	"testing"

	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/tracker"
)

func TestCompileAndFilter(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Get("level") == "ERROR"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ev := model.NewEvent(`{"level":"ERROR"}`)
	ev.Set("level", "ERROR")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string

	keep, err := ExecuteFilter(c, ev, nil, tr, &stdout, &stderr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !keep {
		t.Fatal("expected filter to keep ERROR event")
	}

	ev.Set("level", "INFO")
	keep, err = ExecuteFilter(c, ev, nil, tr, &stdout, &stderr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if keep {
		t.Fatal("expected filter to drop INFO event")
	}
}

func TestFilterNonBoolIsError(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Get("level")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("")
	ev.Set("level", "ERROR")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string
	if _, err := ExecuteFilter(c, ev, nil, tr, &stdout, &stderr); err == nil {
		t.Fatal("expected error for a non-boolean filter result")
	}
}

func TestTransformSetAndTrack(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Set("host", "web-1") && TrackCount("events")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("")
	ev.Set("msg", "hello")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string

	skip, emitted, err := ExecuteTransform(c, ev, nil, tr, &stdout, &stderr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if skip {
		t.Fatal("did not expect skip")
	}
	if len(emitted) != 0 {
		t.Fatalf("expected no emitted events, got %v", emitted)
	}
	host, ok := ev.Get("host")
	if !ok || host != "web-1" {
		t.Fatalf("expected host=web-1 applied back to event, got %v", host)
	}
	delta, _ := tr.Delta()
	if delta["events"].(int64) != 1 {
		t.Fatalf("expected tracked count 1, got %v", delta["events"])
	}
}

func TestTransformSkip(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Skip()`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string
	skip, _, err := ExecuteTransform(c, ev, nil, tr, &stdout, &stderr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !skip {
		t.Fatal("expected Skip() to mark the event for discard")
	}
}

func TestTransformEmit(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Emit({"a": 1}) && Emit({"a": 2})`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string
	_, emitted, err := ExecuteTransform(c, ev, nil, tr, &stdout, &stderr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(emitted) != 2 {
		t.Fatalf("expected 2 emitted events, got %d", len(emitted))
	}
}

func TestBeginAndEndRunAgainstTracker(t *testing.T) {
	eng := New()
	begin, err := eng.Compile(`TrackReplace("started", true)`)
	if err != nil {
		t.Fatalf("compile begin: %v", err)
	}
	end, err := eng.Compile(`TrackReplace("finished", true)`)
	if err != nil {
		t.Fatalf("compile end: %v", err)
	}
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string

	if err := ExecuteBegin(begin, tr, &stdout, &stderr); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := ExecuteEnd(end, tr, &stdout, &stderr); err != nil {
		t.Fatalf("end: %v", err)
	}
	delta, _ := tr.Delta()
	if delta["started"] != true || delta["finished"] != true {
		t.Fatalf("expected both begin/end tracked keys set, got %+v", delta)
	}
}

func TestPrintCapturesStdoutAndStderr(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Print("hi") && Eprint("oops")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string
	if _, _, err := ExecuteTransform(c, ev, nil, tr, &stdout, &stderr); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(stdout) != 1 || stdout[0] != "hi" {
		t.Fatalf("expected captured stdout [hi], got %v", stdout)
	}
	if len(stderr) != 1 || stderr[0] != "oops" {
		t.Fatalf("expected captured stderr [oops], got %v", stderr)
	}
}

func TestMatchAndReplaceRegex(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Match("err.*", Line) ? ReplaceRegex("err", "ERR", Line) : Line`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("err: boom")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string
	_, _, err = ExecuteTransform(c, ev, nil, tr, &stdout, &stderr)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestInvalidRegexBecomesScriptError(t *testing.T) {
	eng := New()
	c, err := eng.Compile(`Match("(", Line)`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := model.NewEvent("anything")
	tr := tracker.NewWorkerTracker()
	var stdout, stderr []string
	if _, err := ExecuteFilter(c, ev, nil, tr, &stdout, &stderr); err == nil {
		t.Fatal("expected an invalid regex to surface as a script error, not a crash")
	}
}

func TestCompileErrorOnUnparseableSource(t *testing.T) {
	eng := New()
	if _, err := eng.Compile(`this is not )(( valid`); err == nil {
		t.Fatal("expected a compile error for unparseable source")
	}
}
