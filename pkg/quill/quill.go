package quill

import (
	"os"
	"strings"

	"github.com/crimson-sun/quill/internal/config"
	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/coordinator"
	"github.com/crimson-sun/quill/internal/stats"
	"github.com/crimson-sun/quill/internal/tracker"

	_ "github.com/crimson-sun/quill/internal/format/csv"
	_ "github.com/crimson-sun/quill/internal/format/jsonlines"
	_ "github.com/crimson-sun/quill/internal/format/kv"
	_ "github.com/crimson-sun/quill/internal/format/plain"
)

// Quill is one configured pipeline run. Build one with New, drive it with
// Run, and release its resources with Close.
type Quill struct {
	co *coordinator.Coordinator
}

// New builds a Quill instance from options, compiling every script and
// regex up front so configuration mistakes surface before Run starts any
// goroutine.
func New(opts ...Option) (*Quill, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	raw := config.Raw{
		Paths:         o.paths,
		InputFormat:   o.inputFormat,
		OutputFormat:  o.outputFormat,
		Filter:        o.filter,
		Transform:     o.transform,
		Begin:         o.begin,
		End:           o.end,
		Levels:        strings.Join(o.levels, ","),
		ExcludeLevels: strings.Join(o.excludeLevels, ","),
		Keys:          strings.Join(o.keys, ","),
		ExcludeKeys:   strings.Join(o.excludeKeys, ","),
		Take:          o.take,
		Skip:          o.skip,
		Head:          o.head,
		Parallel:      o.workers,
		BatchSize:     o.batchSize,
		BatchTimeoutMS: int(o.batchTimeout.Milliseconds()),
		OnError:       o.onError,
		Strict:        o.strict,
		Color:         "auto",
	}

	cfg, err := raw.Build()
	if err != nil {
		return nil, err
	}
	cfg.FileOrder = o.fileOrder

	return &Quill{co: coordinator.New(*cfg)}, nil
}

// Run drives the pipeline to completion, writing formatted output to out.
// It blocks until every input source is exhausted or a shutdown signal
// (via Shutdown) is observed.
func (q *Quill) Run(out *os.File) error {
	return q.co.Run(out)
}

// Shutdown asks the pipeline to wind down; immediate=false drains and
// flushes in-flight work first, immediate=true drops it.
func (q *Quill) Shutdown(immediate bool) {
	q.co.Bus().Send(control.Signal{Kind: control.Shutdown, Immediate: immediate})
}

// PrintStats asks the pipeline to log a statistics snapshot without
// otherwise interrupting processing.
func (q *Quill) PrintStats() {
	q.co.Bus().Send(control.Signal{Kind: control.PrintStats})
}

// Stats returns the current (possibly still-running) aggregate view of the
// global tracker's user map, internal map, and processing statistics.
func (q *Quill) Stats() (user, internal map[string]any, agg stats.Aggregate) {
	return q.co.Tracker().Snapshot()
}

// SortedKeys is a small re-export so callers rendering Stats output don't
// need to import internal/tracker themselves.
func SortedKeys(m map[string]any) []string { return tracker.SortedKeys(m) }

// Close releases resources held by the Quill instance. The coordinator's
// goroutines all exit on their own once Run returns, so Close is currently
// a no-op kept for forward-compatible symmetry with Run/New.
func (q *Quill) Close() error { return nil }
