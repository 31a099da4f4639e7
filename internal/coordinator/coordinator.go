// Package coordinator wires the reader, batcher, chunker, N workers, and
// sink into the bounded-channel pipeline described in §2 and §5, and owns
// their lifetimes: one goroutine per stage, joined on Run's return.
//
// Adapted from the teacher's Pipeline type: a constructor taking one Config
// struct, one blocking Run per task, and a WaitGroup-style join,
// generalized from a single connector->engine->output chain into an N-wide
// fan-out/fan-in over workers.
package coordinator

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/crimson-sun/quill/internal/batcher"
	"github.com/crimson-sun/quill/internal/chunker"
	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/fileops"
	"github.com/crimson-sun/quill/internal/ioreader"
	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/sink"
	"github.com/crimson-sun/quill/internal/tracker"
	"github.com/crimson-sun/quill/internal/worker"
)

// Config bundles every stage's configuration; the coordinator is
// responsible only for wiring, not for interpreting CLI flags (that's
// internal/config's job).
type Config struct {
	Paths     []string
	FileOrder ioreader.Order

	Batcher batcher.Config

	ChunkerStart, ChunkerContinuation chunker.Predicate // nil disables multiline

	NumWorkers int
	Worker     worker.Config

	Sink sink.Config

	LineChanSize  int
	BatchChanSize int
	WorkChanSize  int
	ResultChanSize int
}

// Coordinator owns the channels and the control bus connecting every stage.
type Coordinator struct {
	cfg     Config
	bus     *control.Bus
	tracker *tracker.GlobalTracker
	files   *fileops.Executor
}

// New returns a Coordinator ready to Run, filling in defaults for unset
// channel sizes and worker count.
func New(cfg Config) *Coordinator {
	if cfg.LineChanSize == 0 {
		cfg.LineChanSize = 10_000
	}
	if cfg.BatchChanSize == 0 {
		cfg.BatchChanSize = 10_000
	}
	if cfg.WorkChanSize == 0 {
		cfg.WorkChanSize = 10_000
	}
	if cfg.ResultChanSize == 0 {
		if cfg.Sink.Ordered {
			cfg.ResultChanSize = 4 * max(cfg.NumWorkers, 1)
		} else {
			cfg.ResultChanSize = 10_000
		}
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	return &Coordinator{
		cfg:     cfg,
		bus:     control.New(),
		tracker: tracker.New(),
		files:   fileops.New(),
	}
}

// Bus exposes the control bus so the CLI layer can translate OS signals
// (§6's SIGINT/SIGUSR1 handling) into Shutdown/PrintStats sends.
func (c *Coordinator) Bus() *control.Bus { return c.bus }

// Tracker exposes the global tracker for final-report rendering after Run
// returns.
func (c *Coordinator) Tracker() *tracker.GlobalTracker { return c.tracker }

// Run spawns every stage, blocks until the sink (the pipeline's natural
// drain point) finishes, and joins the rest. The dependency order mirrors
// §2's "leaves first" note: Run starts readers of each channel before
// writers, so nothing blocks sending to a channel nobody is yet draining.
// out is where the sink writes formatted lines (normally os.Stdout).
func (c *Coordinator) Run(out *os.File) error {
	lineCh := make(chan model.LineMessage, c.cfg.LineChanSize)
	batchCh := make(chan model.WorkMessage, c.cfg.BatchChanSize)
	workCh := make(chan model.WorkMessage, c.cfg.WorkChanSize)
	resultCh := make(chan model.BatchResult, c.cfg.ResultChanSize)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)

	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				slog.Error("coordinator: stage failed", "stage", name, "error", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	s := sink.New(c.cfg.Sink, resultCh, out, c.bus, c.tracker, c.files)
	run("sink", s.Run)

	// Workers are resultCh's only producers; resultCh can only be closed
	// once every one of them has returned, so they get their own
	// WaitGroup instead of sharing the stage-level one.
	var workersWG sync.WaitGroup
	for i := 0; i < c.cfg.NumWorkers; i++ {
		w := &worker.Worker{ID: i, Cfg: c.cfg.Worker, In: workCh, Out: resultCh, Bus: c.bus}
		workersWG.Add(1)
		go func(name string) {
			defer workersWG.Done()
			if err := w.Run(); err != nil {
				slog.Error("coordinator: stage failed", "stage", name, "error", err)
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}(fmt.Sprintf("worker-%d", i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		workersWG.Wait()
		close(resultCh)
	}()

	var ch *chunker.Chunker
	if c.cfg.ChunkerStart != nil {
		ch = chunker.New(c.cfg.ChunkerStart, c.cfg.ChunkerContinuation)
	}
	chunkTask := &chunker.Task{Chunker: ch, In: batchCh, Out: workCh, Bus: c.bus}
	run("chunker", chunkTask.Run)

	bc := c.cfg.Batcher
	b := &batcher.Batcher{Cfg: bc, In: lineCh, Out: batchCh, Bus: c.bus}
	run("batcher", func() error {
		err := b.Run()
		c.tracker.AddLinesRead(b.LinesRead)
		return err
	})

	paths := ioreader.SortPaths(c.cfg.Paths, c.cfg.FileOrder)
	r := &ioreader.Reader{Paths: paths, Out: lineCh, Bus: c.bus}
	run("reader", r.Run)

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
