// Package ioreader implements the pipeline's first stage: a blocking loop
// that reads raw lines from stdin or a concatenation of files (with
// transparent decompression) and tags each with its originating filename
// into a bounded channel, polling the control bus between lines.
package ioreader

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/model"
)

// Order selects how multiple file paths are concatenated.
type Order int

const (
	OrderNone  Order = iota // CLI argument order, unchanged
	OrderName               // lexical filename sort
	OrderMtime              // ascending modification time
)

// SortPaths reorders paths per mode; OrderNone is a no-op copy.
func SortPaths(paths []string, mode Order) []string {
	out := append([]string(nil), paths...)
	switch mode {
	case OrderName:
		sort.Strings(out)
	case OrderMtime:
		sort.Slice(out, func(i, j int) bool {
			ti, ei := mtime(out[i])
			tj, ej := mtime(out[j])
			if ei != nil || ej != nil {
				return out[i] < out[j]
			}
			return ti.Before(tj)
		})
	}
	return out
}

func mtime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Reader drives the blocking read loop. Out is the bounded channel lines
// are sent into; Bus is polled between lines for Shutdown signals.
type Reader struct {
	Paths []string // empty means stdin
	Out   chan<- model.LineMessage
	Bus   *control.Bus
}

// Run reads every configured source in order and closes nothing (the
// caller owns Out's lifetime); it returns after sending a terminal EOF
// message or observing Shutdown{immediate:true}.
func (r *Reader) Run() error {
	sub := r.Bus.Subscribe()

	if len(r.Paths) == 0 {
		if _, err := r.readStream(os.Stdin, "", sub); err != nil {
			return err
		}
		r.Out <- model.LineMessage{EOF: true}
		return nil
	}
	for _, path := range r.Paths {
		f, err := os.Open(path)
		if err != nil {
			r.Out <- model.LineMessage{Filename: path, Err: fmt.Errorf("ioreader: open %s: %w", path, err)}
			continue
		}
		rc, err := decompress(path, f)
		if err != nil {
			f.Close()
			r.Out <- model.LineMessage{Filename: path, Err: fmt.Errorf("ioreader: %w", err)}
			continue
		}
		immediate, err := r.readStream(rc, path, sub)
		rc.Close()
		f.Close()
		if err != nil {
			return err
		}
		if immediate {
			r.Out <- model.LineMessage{EOF: true}
			return nil
		}
	}
	r.Out <- model.LineMessage{EOF: true}
	return nil
}

// decompress wraps f with a decompressing reader chosen by extension;
// unrecognized extensions pass the raw stream through unchanged.
func decompress(path string, f io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, nil
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return readCloser{zr}, nil
	default:
		return io.NopCloser(f), nil
	}
}

type readCloser struct{ *zstd.Decoder }

func (r readCloser) Close() error { r.Decoder.Close(); return nil }

// readStream reads one already-decompressed source line by line, tagging
// each with filename (empty for stdin). It returns immediate=true if a
// Shutdown{immediate:true} signal cut the read short.
func (r *Reader) readStream(src io.Reader, filename string, sub <-chan control.Signal) (immediate bool, err error) {
	br := bufio.NewReaderSize(src, 64*1024)
	for {
		select {
		case sig := <-sub:
			if sig.Kind == control.Shutdown && sig.Immediate {
				return true, nil
			}
		default:
		}

		line, rerr := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			r.Out <- model.LineMessage{Line: line, Filename: filename, HasFile: filename != ""}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return false, nil
			}
			r.Out <- model.LineMessage{Filename: filename, Err: fmt.Errorf("ioreader: read %s: %w", filename, rerr)}
			return false, nil
		}
	}
}
