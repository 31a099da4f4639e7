package coordinator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crimson-sun/quill/internal/batcher"
	"github.com/crimson-sun/quill/internal/ioreader"
	"github.com/crimson-sun/quill/internal/sink"
	"github.com/crimson-sun/quill/internal/worker"

	_ "github.com/crimson-sun/quill/internal/format/plain"
)

func TestCoordinator_RunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.log")
	if err := os.WriteFile(in, []byte("one\ntwo\nthree\nfour\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "out.log")
	outFile, err := os.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}

	co := New(Config{
		Paths:      []string{in},
		FileOrder:  ioreader.OrderNone,
		Batcher:    batcher.Config{BatchSize: 2, BatchTimeout: time.Second},
		NumWorkers: 2,
		Worker:     worker.Config{ParserName: "line", FormatterName: "line", Policy: worker.PolicySkip},
		Sink:       sink.Config{Ordered: true},
	})

	if err := co.Run(outFile); err != nil {
		t.Fatalf("Run: %v", err)
	}
	outFile.Close()

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(got), "\n"), "\n")
	want := []string{"one", "two", "three", "four"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("ordered output mismatch: expected %v, got %v", want, lines)
		}
	}

	_, _, agg := co.Tracker().Snapshot()
	if agg.LinesRead != 4 {
		t.Fatalf("expected 4 lines read, got %d", agg.LinesRead)
	}
}

func TestCoordinator_MissingFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok.log")
	if err := os.WriteFile(ok, []byte("fine\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.log")
	outPath := filepath.Join(dir, "out.log")
	outFile, err := os.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}

	co := New(Config{
		Paths:      []string{missing, ok},
		Batcher:    batcher.Config{BatchSize: 256, BatchTimeout: time.Second},
		NumWorkers: 1,
		Worker:     worker.Config{ParserName: "line", FormatterName: "line", Policy: worker.PolicySkip},
	})

	err = co.Run(outFile)
	outFile.Close()

	if err == nil {
		t.Fatal("expected Run to fail when an input file cannot be opened")
	}
	if !strings.Contains(err.Error(), "missing.log") {
		t.Fatalf("expected the error to name the unreadable file, got %v", err)
	}
}
