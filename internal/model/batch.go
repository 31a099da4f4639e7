package model

import (
	"github.com/crimson-sun/quill/internal/stats"
	"github.com/crimson-sun/quill/internal/tracker"
)

// StatsBatchID marks a pure terminal-stats BatchResult carrying no events.
const StatsBatchID = ^uint64(0)

// FlushBatchID marks a graceful-flush BatchResult emitted outside the normal
// batch-id sequence (cooperative shutdown or end-of-stream drain).
const FlushBatchID = ^uint64(0) - 1

// CSVSchema carries the header vector and optional type hints detected for a
// CSV/TSV-family input file. Stamped onto every Batch read from that file
// until the batcher detects a filename transition.
type CSVSchema struct {
	Headers  []string
	TypeHint map[string]string
}

// Batch is a group of raw lines handed to exactly one worker.
type Batch struct {
	ID            uint64
	Lines         []string
	StartLine     int
	Filenames     []string // parallel to Lines; "" when the source has no filename
	Schema        *CSVSchema
}

// EventBatch is a group of pre-chunked, complete event strings produced by
// the multiline chunker in place of a Batch.
type EventBatch struct {
	ID        uint64
	Events    []string
	StartLine int
	Filenames []string
	Schema    *CSVSchema
}

// WorkMessage is the uniform unit workers consume, whichever upstream stage
// produced it (chunker or the multiline-absent pass-through).
type WorkMessage struct {
	Lines  *Batch
	Events *EventBatch
}

// LineMessage is what the IO reader emits into the line channel.
type LineMessage struct {
	Line     string
	Filename string
	HasFile  bool
	Err      error
	EOF      bool
}

// FileOp is a deferred side effect a script requested (via a host function)
// that the sink executes immediately before printing the associated line.
type FileOp struct {
	Kind string // "create_file", "append_file", "mkdir"
	Path string
	Data string
}

// ProcessedEvent is a fully formatted event awaiting emission by the sink.
type ProcessedEvent struct {
	Line           string
	HasTimestamp   bool
	Timestamp      int64 // unix nanos, valid when HasTimestamp
	CapturedStdout []string
	CapturedStderr []string
	FileOps        []FileOp
}

// BatchResult is what a worker reports back to the sink after processing one
// WorkMessage.
type BatchResult struct {
	BatchID       uint64
	Results       []ProcessedEvent
	UserDelta     map[string]any
	UserOps       map[string]tracker.Op
	InternalDelta map[string]any
	InternalOps   map[string]tracker.Op
	WorkerStats   stats.Stats
}
