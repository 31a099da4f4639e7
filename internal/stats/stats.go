// Package stats holds the ProcessingStats structure accumulated per worker
// and merged into the global tracker's aggregate view at run end.
package stats

import "time"

// Stats is the set of internal processing counters every worker accumulates
// locally and reports in each BatchResult. A worker resets its counters after
// every BatchResult, so each report holds that batch's counts alone and the
// global tracker sums them. lines_read is deliberately absent: that counter is
// owned exclusively by the reader/batcher pair and is never summed across
// workers.
type Stats struct {
	LinesErrors   int64
	LinesFiltered int64
	EventsCreated int64
	EventsOutput  int64
	EventsFiltered int64

	ParseErrors  int64
	ScriptErrors int64

	TimestampDetected int64
	TimestampParsed   int64
	TimestampAbsent   int64

	DiscoveredLevels     map[string]struct{}
	DiscoveredKeys       map[string]struct{}
	DiscoveredOutputKeys map[string]struct{}

	ProcessingTime time.Duration
}

// New returns a zero-valued Stats with its set fields initialized.
func New() Stats {
	return Stats{
		DiscoveredLevels:     make(map[string]struct{}),
		DiscoveredKeys:       make(map[string]struct{}),
		DiscoveredOutputKeys: make(map[string]struct{}),
	}
}

// Add accumulates another worker's counters into the receiver. Used by the
// global tracker when folding per-batch worker stats into the run totals;
// lines_read is intentionally skipped here too.
func (s *Stats) Add(o Stats) {
	s.LinesErrors += o.LinesErrors
	s.LinesFiltered += o.LinesFiltered
	s.EventsCreated += o.EventsCreated
	s.EventsOutput += o.EventsOutput
	s.EventsFiltered += o.EventsFiltered
	s.ParseErrors += o.ParseErrors
	s.ScriptErrors += o.ScriptErrors
	s.TimestampDetected += o.TimestampDetected
	s.TimestampParsed += o.TimestampParsed
	s.TimestampAbsent += o.TimestampAbsent
	for k := range o.DiscoveredLevels {
		if s.DiscoveredLevels == nil {
			s.DiscoveredLevels = make(map[string]struct{})
		}
		s.DiscoveredLevels[k] = struct{}{}
	}
	for k := range o.DiscoveredKeys {
		if s.DiscoveredKeys == nil {
			s.DiscoveredKeys = make(map[string]struct{})
		}
		s.DiscoveredKeys[k] = struct{}{}
	}
	for k := range o.DiscoveredOutputKeys {
		if s.DiscoveredOutputKeys == nil {
			s.DiscoveredOutputKeys = make(map[string]struct{})
		}
		s.DiscoveredOutputKeys[k] = struct{}{}
	}
}

// Snapshot returns a deep-enough copy for reporting without holding a lock.
func (s Stats) Snapshot() Stats {
	cp := s
	cp.DiscoveredLevels = copySet(s.DiscoveredLevels)
	cp.DiscoveredKeys = copySet(s.DiscoveredKeys)
	cp.DiscoveredOutputKeys = copySet(s.DiscoveredOutputKeys)
	return cp
}

func copySet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// Aggregate is the run-wide reporting view the sink renders on --stats or
// SIGUSR1, including wall-clock fields Stats itself doesn't track.
type Aggregate struct {
	Stats
	LinesRead     int64
	RunStart      time.Time
	EventsTotal   int64
}
