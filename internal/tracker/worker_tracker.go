package tracker

import (
	"github.com/axiomhq/hyperloglog"
	"github.com/influxdata/tdigest"
)

// space is one namespace of tracked key/value state (user-visible or
// internal-stats). Each key's operation is fixed by whichever call touches
// it first; later calls against the same key under a different verb keep
// the original tag ("first write wins").
type space struct {
	values map[string]any
	ops    map[string]Op

	sketches map[string]*hyperloglog.Sketch
	digests  map[string]*tdigest.TDigest
	tops     map[string]*topAgg
	uniques  map[string]map[string]struct{}
	buckets  map[string]map[string]int64
	sums     map[string]float64
	counts   map[string]int64
	avgSum   map[string]float64
	avgN     map[string]int64
	errEx    map[string][]string
}

func newSpace() *space {
	return &space{
		values:   make(map[string]any),
		ops:      make(map[string]Op),
		sketches: make(map[string]*hyperloglog.Sketch),
		digests:  make(map[string]*tdigest.TDigest),
		tops:     make(map[string]*topAgg),
		uniques:  make(map[string]map[string]struct{}),
		buckets:  make(map[string]map[string]int64),
		sums:     make(map[string]float64),
		counts:   make(map[string]int64),
		avgSum:   make(map[string]float64),
		avgN:     make(map[string]int64),
		errEx:    make(map[string][]string),
	}
}

// tag records a key's operation on first touch only.
func (s *space) tag(key string, op Op) {
	if _, ok := s.ops[key]; !ok {
		s.ops[key] = op
	}
}

func (s *space) opOf(key string) Op {
	if op, ok := s.ops[key]; ok {
		return op
	}
	return OpReplace
}

// WorkerTracker is the per-worker tracking state threaded through a single
// worker goroutine's script invocations. It carries two independent spaces:
//
//   - User holds the script-facing track_* state. It is reset to empty at
//     the start of every batch, so a plain snapshot of it after processing a
//     batch already equals that batch's delta for every operation,
//     including count and sum.
//   - Internal holds the host's own bookkeeping (discovered levels/keys,
//     output counters, ...). It lives for the worker's whole lifetime, so
//     count/sum keys need an explicit before/after diff per batch while
//     every other operation reports an absolute snapshot.
type WorkerTracker struct {
	User     *space
	Internal *space
}

// NewWorkerTracker returns an empty tracker for one worker goroutine.
func NewWorkerTracker() *WorkerTracker {
	return &WorkerTracker{User: newSpace(), Internal: newSpace()}
}

// ResetUser clears the user space at a batch boundary. Internal is never
// reset; its per-batch diffing is done by BeforeInternal and InternalDelta.
func (t *WorkerTracker) ResetUser() {
	t.User = newSpace()
}

// Replace sets key to value with last-writer-wins semantics (the default
// operation for a key no other Track* call has touched).
func (s *space) Replace(key string, value any) {
	s.tag(key, OpReplace)
	s.values[key] = value
}

// Count increments key's running count by delta (normally 1).
func (s *space) Count(key string, delta int64) {
	s.tag(key, OpCount)
	s.counts[key] += delta
	s.values[key] = s.counts[key]
}

// Sum adds delta to key's running total.
func (s *space) Sum(key string, delta float64) {
	s.tag(key, OpSum)
	s.sums[key] += delta
	s.values[key] = s.sums[key]
}

// AvgState is the sum/count pair an "avg" key carries so that merging two
// workers' partial averages stays exact (merging raw averages would not be).
type AvgState struct {
	Sum   float64
	Count int64
}

// Avg folds one more sample into key's running average. The stored value is
// the running {sum, count} pair, not the quotient — only cheaply mergeable
// state crosses the worker/sink boundary; callers divide at render time.
func (s *space) Avg(key string, value float64) {
	s.tag(key, OpAvg)
	s.avgSum[key] += value
	s.avgN[key]++
	s.values[key] = AvgState{Sum: s.avgSum[key], Count: s.avgN[key]}
}

// Min keeps the smallest value seen for key. Float inputs fall through to
// replace semantics once a float is observed, matching the original
// implementation's int-only min/max fast path.
func (s *space) Min(key string, value float64, isInt bool) {
	s.tag(key, OpMin)
	cur, ok := s.values[key]
	if !ok {
		s.values[key] = numericOrValue(value, isInt)
		return
	}
	curF, curIsInt := asFloat(cur)
	if !isInt || !curIsInt {
		s.values[key] = numericOrValue(value, isInt)
		return
	}
	if value < curF {
		s.values[key] = numericOrValue(value, isInt)
	}
}

// Max keeps the largest value seen for key, mirroring Min.
func (s *space) Max(key string, value float64, isInt bool) {
	s.tag(key, OpMax)
	cur, ok := s.values[key]
	if !ok {
		s.values[key] = numericOrValue(value, isInt)
		return
	}
	curF, curIsInt := asFloat(cur)
	if !isInt || !curIsInt {
		s.values[key] = numericOrValue(value, isInt)
		return
	}
	if value > curF {
		s.values[key] = numericOrValue(value, isInt)
	}
}

func numericOrValue(v float64, isInt bool) any {
	if isInt {
		return int64(v)
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, false
	default:
		return 0, false
	}
}

// Unique adds item to key's distinct-value set. The stored value is the
// list of distinct items in first-seen order.
func (s *space) Unique(key, item string) {
	s.tag(key, OpUnique)
	set, ok := s.uniques[key]
	if !ok {
		set = make(map[string]struct{})
		s.uniques[key] = set
	}
	list, _ := s.values[key].([]string)
	if _, seen := set[item]; !seen {
		set[item] = struct{}{}
		list = append(list[:len(list):len(list)], item)
	}
	s.values[key] = list
}

// Bucket increments the count of item within key's histogram.
func (s *space) Bucket(key, item string, delta int64) {
	s.tag(key, OpBucket)
	m, ok := s.buckets[key]
	if !ok {
		m = make(map[string]int64)
		s.buckets[key] = m
	}
	m[item] += delta
	cp := make(map[string]int64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	s.values[key] = cp
}

// ErrorExample appends one example up to a cap of 3, skipping duplicates.
func (s *space) ErrorExample(key, example string) {
	s.tag(key, OpErrorExamples)
	list := s.errEx[key]
	for _, e := range list {
		if e == example {
			s.values[key] = append([]string(nil), list...)
			return
		}
	}
	if len(list) < 3 {
		list = append(list, example)
		s.errEx[key] = list
	}
	s.values[key] = append([]string(nil), list...)
}

// topAggFor returns (creating if needed) the top/bottom accumulator for key.
func (s *space) topAggFor(key string, n int, top bool) *topAgg {
	a, ok := s.tops[key]
	if !ok {
		a = newTopAgg(n, top, false)
		s.tops[key] = a
	}
	return a
}

// TopCount adds a count-mode candidate to key's top-N list.
func (s *space) TopCount(key string, n int, item string, delta int64) {
	s.tag(key, OpTop)
	a := s.topAggFor(key, n, true)
	a.n = n
	a.addCount(item, delta)
	s.values[key] = a.snapshot()
}

// TopWeighted adds a weighted candidate to key's top-N list.
func (s *space) TopWeighted(key string, n int, item string, value float64) {
	s.tag(key, OpTop)
	a, ok := s.tops[key]
	if !ok {
		a = newTopAgg(n, true, true)
		s.tops[key] = a
	}
	a.n = n
	a.weighted = true
	a.addValue(item, value)
	s.values[key] = a.snapshot()
}

// BottomCount adds a count-mode candidate to key's bottom-N list.
func (s *space) BottomCount(key string, n int, item string, delta int64) {
	s.tag(key, OpBottom)
	a := s.topAggFor(key, n, false)
	a.n = n
	a.addCount(item, delta)
	s.values[key] = a.snapshot()
}

// BottomWeighted adds a weighted candidate to key's bottom-N list.
func (s *space) BottomWeighted(key string, n int, item string, value float64) {
	s.tag(key, OpBottom)
	a, ok := s.tops[key]
	if !ok {
		a = newTopAgg(n, false, true)
		s.tops[key] = a
	}
	a.n = n
	a.weighted = true
	a.addValue(item, value)
	s.values[key] = a.snapshot()
}

// Percentile folds value into key's t-digest, stored in serialized form so
// it can cross the worker/sink channel boundary as an opaque blob.
func (s *space) Percentile(key string, value float64) {
	s.tag(key, OpPercentiles)
	d, ok := s.digests[key]
	if !ok {
		d = tdigest.New()
		s.digests[key] = d
	}
	d.Add(value, 1)
	s.values[key] = SerializeTDigest(d)
}

// Cardinality folds item into key's HLL sketch.
func (s *space) Cardinality(key, item string) {
	s.tag(key, OpCardinality)
	sk, ok := s.sketches[key]
	if !ok {
		sk = NewSketch()
		s.sketches[key] = sk
	}
	sk.InsertHash(HashItem(item))
	blob, err := SerializeHLL(sk)
	if err == nil {
		s.values[key] = blob
	}
}

// Snapshot returns a copy of the space's current values and operation tags.
func (s *space) Snapshot() (map[string]any, map[string]Op) {
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	ops := make(map[string]Op, len(s.ops))
	for k, v := range s.ops {
		ops[k] = v
	}
	return values, ops
}

// Delta computes the per-batch user-visible delta: simply the current
// snapshot, since User is cleared at every batch boundary by the caller.
func (t *WorkerTracker) Delta() (userValues map[string]any, userOps map[string]Op) {
	return t.User.Snapshot()
}

// InternalDelta computes the internal-stats delta against a prior
// snapshot (before), applying the additive-diff rule of Op.Additive() to
// count/sum keys and an absolute copy to everything else. Zero diffs for
// additive keys are omitted, matching the original's "only report when it
// moved" behavior.
func (t *WorkerTracker) InternalDelta(before map[string]any) (map[string]any, map[string]Op) {
	values, ops := t.Internal.Snapshot()
	out := make(map[string]any, len(values))
	outOps := make(map[string]Op, len(ops))

	for key, val := range values {
		op := ops[key]
		if !op.Additive() {
			out[key] = val
			outOps[key] = op
			continue
		}
		cur, curIsFloat := asNumber(val)
		prev, _ := asNumber(before[key])
		diff := cur - prev
		if diff == 0 {
			continue
		}
		if curIsFloat {
			out[key] = diff
		} else {
			out[key] = int64(diff)
		}
		outOps[key] = op
	}
	return out, outOps
}

// BeforeInternal returns a plain value snapshot usable as InternalDelta's
// "before" argument; call it once at the start of batch processing.
func (t *WorkerTracker) BeforeInternal() map[string]any {
	values, _ := t.Internal.Snapshot()
	return values
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), false
	case int:
		return float64(n), false
	case float64:
		return n, true
	default:
		return 0, false
	}
}
