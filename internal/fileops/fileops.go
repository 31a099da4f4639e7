// Package fileops executes the deferred side-effects ("create_file",
// "append_file", "mkdir") a script queues via a FormattedOutput's FileOps
// list. The sink calls Execute once per ProcessedEvent, immediately before
// printing its line (§4.7, §4.8).
//
// Adapted from the teacher's buffered-file output: files opened for
// appending are kept open and wrapped in a bufio.Writer across calls
// instead of being reopened per write, since a script can target the same
// path repeatedly within a run.
package fileops

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/crimson-sun/quill/internal/model"
)

const bufSize = 64 * 1024

// Executor keeps one open, buffered writer per distinct path a script has
// targeted for create/append operations.
type Executor struct {
	mu      sync.Mutex
	writers map[string]*bufio.Writer
	files   map[string]*os.File
}

// New returns an empty Executor.
func New() *Executor {
	return &Executor{writers: make(map[string]*bufio.Writer), files: make(map[string]*os.File)}
}

// Execute runs every op in order, flushing as it goes so a later read of
// the same file (outside this process) sees up-to-date content.
func (e *Executor) Execute(ops []model.FileOp) error {
	for _, op := range ops {
		if err := e.executeOne(op); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) executeOne(op model.FileOp) error {
	switch op.Kind {
	case "mkdir":
		if err := os.MkdirAll(op.Path, 0o755); err != nil {
			return fmt.Errorf("fileops: mkdir %s: %w", op.Path, err)
		}
		return nil
	case "create_file":
		if err := e.closeAndRemove(op.Path); err != nil {
			return err
		}
		return e.write(op.Path, op.Data, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	case "append_file":
		return e.write(op.Path, op.Data, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	default:
		return fmt.Errorf("fileops: unknown op kind %q", op.Kind)
	}
}

func (e *Executor) write(path, data string, flag int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.writers[path]
	if !ok {
		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			return fmt.Errorf("fileops: open %s: %w", path, err)
		}
		w = bufio.NewWriterSize(f, bufSize)
		e.files[path] = f
		e.writers[path] = w
	}
	if _, err := w.WriteString(data); err != nil {
		return fmt.Errorf("fileops: write %s: %w", path, err)
	}
	return w.Flush()
}

func (e *Executor) closeAndRemove(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.files[path]; ok {
		f.Close()
		delete(e.files, path)
		delete(e.writers, path)
	}
	return nil
}

// Close flushes and closes every file this Executor has opened, in
// preparation for process exit.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for path, w := range e.writers {
		if err := w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("fileops: flush %s: %w", path, err)
		}
	}
	for path, f := range e.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("fileops: close %s: %w", path, err)
		}
	}
	return firstErr
}
