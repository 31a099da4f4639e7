// Package logging configures quill's package-level slog default: every
// stage (reader, batcher, chunker, workers, sink) logs through slog rather
// than threading a logger handle, so this is set up once in main before the
// pipeline starts.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init creates and sets the package-level default slog logger, writing
// always to stderr so the formatted event stream on stdout never gets
// interleaved with log lines.
//
// asJSON selects JSONHandler over TextHandler. internal/config's
// --log-format flag drives this choice: text is the default, and JSON is
// used only when --log-format json is given. Debug level also
// turns on source-file annotations, since that's the level where tracing a
// log line back to its call site earns its keep.
func Init(asJSON bool, level slog.Level) {
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel converts a level name ("debug", "info", "warn"/"warning",
// "error") to its slog.Level. Unknown or empty strings default to
// LevelInfo, matching quill's default verbosity when QUILL_LOG_LEVEL is
// unset.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
