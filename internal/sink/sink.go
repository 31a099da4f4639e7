// Package sink implements the pipeline's final stage (§4.8): it merges
// every worker's delta into the global tracker, re-orders output by batch
// id when requested, enforces the take-limit, renders gap markers, and
// executes deferred file operations immediately before printing each line.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/fileops"
	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/tracker"
	"github.com/crimson-sun/quill/internal/tty"
)

// Config holds the sink's CLI-facing knobs.
type Config struct {
	Ordered     bool
	TakeLimit   int64 // 0 = unlimited
	GapMarkThreshold time.Duration // 0 disables gap markers
	ColorMode   tty.Mode
	CSVHeader   []string // non-nil emits a header line before any output
}

// Sink runs the blocking merge/emit loop.
type Sink struct {
	Cfg     Config
	In      <-chan model.BatchResult
	Out     io.Writer
	Bus     *control.Bus
	Tracker *tracker.GlobalTracker
	Files   *fileops.Executor

	emitted      int64
	lastTime     time.Time
	haveLastTime bool
	colorOn      bool
	wroteHeader  bool
}

// New returns a Sink with its TTY colour decision pre-resolved against out.
func New(cfg Config, in <-chan model.BatchResult, out *os.File, bus *control.Bus, gt *tracker.GlobalTracker, files *fileops.Executor) *Sink {
	return &Sink{
		Cfg:     cfg,
		In:      in,
		Out:     out,
		Bus:     bus,
		Tracker: gt,
		Files:   files,
		colorOn: tty.Enabled(cfg.ColorMode, out),
	}
}

// Run drives ordered or unordered merging per Cfg.Ordered.
func (s *Sink) Run() error {
	bw := bufio.NewWriterSize(s.Out, 64*1024)
	defer bw.Flush()

	if s.Cfg.Ordered {
		return s.runOrdered(bw)
	}
	return s.runUnordered(bw)
}

func (s *Sink) runOrdered(bw *bufio.Writer) error {
	sub := s.Bus.Subscribe()
	pending := make(map[uint64]model.BatchResult)
	var next uint64

	process := func(br model.BatchResult) error {
		s.mergeDelta(br)
		switch br.BatchID {
		case model.FlushBatchID:
			return s.emitResults(bw, br.Results)
		case model.StatsBatchID:
			return nil
		default:
			pending[br.BatchID] = br
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if err := s.emitResults(bw, r.Results); err != nil {
					return err
				}
			}
			return nil
		}
	}

	for {
		select {
		case sig := <-sub:
			if sig.Kind == control.PrintStats {
				s.printStats()
			}
		case br, ok := <-s.In:
			if !ok {
				bw.Flush()
				return nil
			}
			if err := process(br); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) runUnordered(bw *bufio.Writer) error {
	sub := s.Bus.Subscribe()
	for {
		select {
		case sig := <-sub:
			if sig.Kind == control.PrintStats {
				s.printStats()
			}
		case br, ok := <-s.In:
			if !ok {
				bw.Flush()
				return nil
			}
			s.mergeDelta(br)
			if br.BatchID == model.StatsBatchID {
				continue
			}
			if err := s.emitResults(bw, br.Results); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) mergeDelta(br model.BatchResult) {
	s.Tracker.MergeUser(br.UserDelta, br.UserOps)
	s.Tracker.MergeInternal(br.InternalDelta, br.InternalOps)
	s.Tracker.MergeStats(br.WorkerStats)
}

// emitResults prints each result's line (after running its deferred file
// ops and any gap marker), honouring the take-limit and terminate flag.
// Per §4.8, output stops once the terminate flag is set but the caller
// keeps draining and merging deltas — emitResults itself is a no-op past
// that point rather than an early return from the whole loop.
func (s *Sink) emitResults(bw *bufio.Writer, results []model.ProcessedEvent) error {
	if !s.wroteHeader && s.Cfg.CSVHeader != nil {
		s.wroteHeader = true
		if _, err := fmt.Fprintln(bw, joinHeader(s.Cfg.CSVHeader)); err != nil {
			return err
		}
	}

	for _, r := range results {
		if s.Bus.ShouldTerminate() {
			continue
		}
		if len(r.FileOps) > 0 && s.Files != nil {
			if err := s.Files.Execute(r.FileOps); err != nil {
				return err
			}
		}
		for _, line := range r.CapturedStdout {
			fmt.Fprintln(bw, line)
		}
		for _, line := range r.CapturedStderr {
			fmt.Fprintln(os.Stderr, line)
		}
		if r.Line == "" {
			continue
		}

		if s.Cfg.GapMarkThreshold > 0 && r.HasTimestamp {
			s.maybeEmitGap(bw, r.Timestamp)
		}

		if _, err := fmt.Fprintln(bw, r.Line); err != nil {
			return err
		}
		n := s.emitted + 1
		s.emitted = n
		if s.Cfg.TakeLimit > 0 && n >= s.Cfg.TakeLimit {
			// Only the local terminate flag is set here, not a Shutdown
			// broadcast: upstream stages must keep draining and reporting
			// lines_read accurately even after the sink stops printing.
			s.Bus.SetTerminate()
		}
	}
	return nil
}

func (s *Sink) maybeEmitGap(bw *bufio.Writer, ts int64) {
	t := time.Unix(0, ts)
	if s.haveLastTime && t.Sub(s.lastTime) > s.Cfg.GapMarkThreshold {
		marker := fmt.Sprintf("--- gap: %s ---", t.Sub(s.lastTime))
		fmt.Fprintln(bw, tty.GapMarker(marker, s.colorOn))
	}
	s.lastTime = t
	s.haveLastTime = true
}

func (s *Sink) printStats() {
	_, _, agg := s.Tracker.Snapshot()
	slog.Info("stats",
		"lines_read", agg.LinesRead,
		"events_created", agg.EventsCreated,
		"events_output", agg.EventsOutput,
		"events_filtered", agg.EventsFiltered,
		"parse_errors", agg.ParseErrors,
		"script_errors", agg.ScriptErrors,
	)
}

func joinHeader(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
