package fileops

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crimson-sun/quill/internal/model"
)

func TestExecute_CreateThenAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	e := New()
	defer e.Close()

	err := e.Execute([]model.FileOp{
		{Kind: "create_file", Path: path, Data: "first\n"},
		{Kind: "append_file", Path: path, Data: "second\n"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "first\nsecond\n" {
		t.Fatalf("expected %q, got %q", "first\nsecond\n", got)
	}
}

func TestExecute_Mkdir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b", "c")
	e := New()
	defer e.Close()

	if err := e.Execute([]model.FileOp{{Kind: "mkdir", Path: sub}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	info, err := os.Stat(sub)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s, err=%v", sub, err)
	}
}

func TestExecute_CreateTruncatesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(path, []byte("stale content"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := New()
	defer e.Close()

	if err := e.Execute([]model.FileOp{{Kind: "create_file", Path: path, Data: "fresh\n"}}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "fresh\n" {
		t.Fatalf("expected truncated content %q, got %q", "fresh\n", got)
	}
}

func TestExecute_UnknownKindErrors(t *testing.T) {
	e := New()
	defer e.Close()
	err := e.Execute([]model.FileOp{{Kind: "frobnicate", Path: "x"}})
	if err == nil {
		t.Fatal("expected an error for an unknown op kind")
	}
}
