package tracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/crimson-sun/quill/internal/stats"
)

// GlobalTracker is the sink-side accumulator every worker's per-batch deltas
// fold into. Its user, internal and stats state are each guarded by their
// own mutex so a panic while merging one (a malformed t-digest blob, say)
// can't wedge the others; the run start time is set once in New and is not
// guarded. Go has no mutex-poisoning equivalent to recover from, so a panic
// inside a locked section is caught, logged, and treated as "this merge
// contributed nothing" rather than crashing the sink goroutine.
type GlobalTracker struct {
	userMu  sync.Mutex
	user    map[string]any
	userOps map[string]Op

	internalMu  sync.Mutex
	internal    map[string]any
	internalOps map[string]Op

	statsMu sync.Mutex
	agg     stats.Aggregate

	start time.Time
}

// New returns an empty GlobalTracker with its run clock started.
func New() *GlobalTracker {
	return &GlobalTracker{
		user:        make(map[string]any),
		userOps:     make(map[string]Op),
		internal:    make(map[string]any),
		internalOps: make(map[string]Op),
		agg:         stats.Aggregate{Stats: stats.New(), RunStart: time.Now()},
		start:       time.Now(),
	}
}

// recoverMerge guards one merge step with a log-and-continue fallback; it
// plays the part the original's poisoned-mutex recovery played, translated
// to Go's panic/recover idiom since Go mutexes don't carry poison state.
func recoverMerge(what string) {
	if r := recover(); r != nil {
		slog.Warn("tracker: recovered from panic while merging state", "state", what, "panic", r)
	}
}

// MergeUser folds one worker's user-visible batch delta into the run total.
func (g *GlobalTracker) MergeUser(delta map[string]any, ops map[string]Op) {
	defer recoverMerge("user")
	g.userMu.Lock()
	defer g.userMu.Unlock()
	mergeInto(g.user, g.userOps, delta, ops, false)
}

// MergeInternal folds one worker's internal-stats batch delta into the run
// total with the same per-key dispatch as MergeUser. Operation tags are kept
// in internalOps, beside the values rather than inside the value map.
func (g *GlobalTracker) MergeInternal(delta map[string]any, ops map[string]Op) {
	defer recoverMerge("internal")
	g.internalMu.Lock()
	defer g.internalMu.Unlock()
	mergeInto(g.internal, g.internalOps, delta, ops, true)
}

// mergeInto applies one worker delta onto a target state map, dispatching on
// each key's recorded operation: the first tag seen for a key is kept in
// targetOps and decides how every later delta for that key merges.
// copyMetadata is unused by Go's explicit-map representation (kept as a
// parameter to mirror the original's dual-purpose helper) and is reserved
// for callers that want to track provenance differently per namespace.
func mergeInto(target map[string]any, targetOps map[string]Op, delta map[string]any, deltaOps map[string]Op, copyMetadata bool) {
	_ = copyMetadata
	for key, value := range delta {
		if _, ok := targetOps[key]; !ok {
			targetOps[key] = deltaOps[key]
		}
		op := targetOps[key]
		existing, has := target[key]
		if !has {
			target[key] = value
			continue
		}
		merged, ok := mergeValue(op, existing, value)
		if ok {
			target[key] = merged
		} else {
			target[key] = value
		}
	}
}

func mergeValue(op Op, existing, value any) (any, bool) {
	switch op {
	case OpCount, OpSum:
		return mergeNumericAdd(existing, value), true
	case OpAvg:
		return mergeAvg(existing, value)
	case OpMin:
		return mergeMinMax(existing, value, true)
	case OpMax:
		return mergeMinMax(existing, value, false)
	case OpUnique:
		return mergeUnique(existing, value)
	case OpBucket:
		return mergeBucket(existing, value)
	case OpTop:
		return mergeTopBottomValue(existing, value, true)
	case OpBottom:
		return mergeTopBottomValue(existing, value, false)
	case OpErrorExamples:
		return mergeErrorExamples(existing, value)
	case OpPercentiles:
		return mergePercentilesValue(existing, value)
	case OpCardinality:
		return mergeCardinalityValue(existing, value)
	default:
		return value, true
	}
}

func mergeNumericAdd(existing, value any) any {
	ef, eIsFloat := asFloat64(existing)
	vf, vIsFloat := asFloat64(value)
	if eIsFloat || vIsFloat {
		return ef + vf
	}
	return int64(ef) + int64(vf)
}

func asFloat64(v any) (float64, bool) {
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

func mergeAvg(existing, value any) (any, bool) {
	e, eok := existing.(AvgState)
	v, vok := value.(AvgState)
	if !eok || !vok {
		return nil, false
	}
	return AvgState{Sum: e.Sum + v.Sum, Count: e.Count + v.Count}, true
}

func mergeMinMax(existing, value any, min bool) (any, bool) {
	ef, eIsFloat := asFloat64(existing)
	vf, vIsFloat := asFloat64(value)
	if eIsFloat || vIsFloat {
		// Only the original's int fast path merges; a float operand falls
		// through to replace semantics, matching merge_min/merge_max.
		return nil, false
	}
	ei, vi := int64(ef), int64(vf)
	if min {
		if vi < ei {
			return vi, true
		}
		return ei, true
	}
	if vi > ei {
		return vi, true
	}
	return ei, true
}

func mergeUnique(existing, value any) (any, bool) {
	e, eok := existing.([]string)
	v, vok := value.([]string)
	if !eok || !vok {
		return nil, false
	}
	seen := make(map[string]struct{}, len(e))
	out := append([]string(nil), e...)
	for _, s := range e {
		seen[s] = struct{}{}
	}
	for _, s := range v {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, true
}

func mergeBucket(existing, value any) (any, bool) {
	e, eok := existing.(map[string]int64)
	v, vok := value.(map[string]int64)
	if !eok || !vok {
		return nil, false
	}
	out := make(map[string]int64, len(e))
	for k, n := range e {
		out[k] = n
	}
	for k, n := range v {
		out[k] += n
	}
	return out, true
}

func mergeErrorExamples(existing, value any) (any, bool) {
	e, eok := existing.([]string)
	v, vok := value.([]string)
	if !eok || !vok {
		return nil, false
	}
	out := append([]string(nil), e...)
	for _, s := range v {
		if len(out) >= 3 {
			break
		}
		dup := false
		for _, x := range out {
			if x == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out, true
}

func mergeTopBottomValue(existing, value any, top bool) (any, bool) {
	e, eok := existing.([]TopItem)
	v, vok := value.([]TopItem)
	if !eok || !vok {
		return nil, false
	}
	return MergeTopBottom(e, v, top), true
}

func mergePercentilesValue(existing, value any) (any, bool) {
	e, eok := existing.([]byte)
	v, vok := value.([]byte)
	if !eok || !vok {
		return nil, false
	}
	merged, err := MergeTDigests(e, v)
	if err != nil {
		return nil, false
	}
	return merged, true
}

func mergeCardinalityValue(existing, value any) (any, bool) {
	e, eok := existing.([]byte)
	v, vok := value.([]byte)
	if !eok || !vok {
		return nil, false
	}
	merged, err := MergeHLL(e, v)
	if err != nil {
		return nil, false
	}
	return merged, true
}

// MergeStats adds one worker's per-batch stats counters into the run totals.
func (g *GlobalTracker) MergeStats(s stats.Stats) {
	defer recoverMerge("stats")
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	g.agg.Stats.Add(s)
}

// AddLinesRead accumulates the reader/batcher-owned line counter, kept out
// of the per-worker Stats.Add path since it isn't duplicated per worker.
func (g *GlobalTracker) AddLinesRead(n int64) {
	g.statsMu.Lock()
	defer g.statsMu.Unlock()
	g.agg.LinesRead += n
}

// Snapshot returns copies of both tracked namespaces plus the running
// aggregate, safe to render without holding any of the tracker's locks.
func (g *GlobalTracker) Snapshot() (user map[string]any, internal map[string]any, agg stats.Aggregate) {
	g.userMu.Lock()
	user = make(map[string]any, len(g.user))
	for k, v := range g.user {
		user[k] = v
	}
	g.userMu.Unlock()

	g.internalMu.Lock()
	internal = make(map[string]any, len(g.internal))
	for k, v := range g.internal {
		internal[k] = v
	}
	g.internalMu.Unlock()

	g.statsMu.Lock()
	agg = g.agg
	agg.Stats = g.agg.Stats.Snapshot()
	agg.ProcessingTime = time.Since(g.start)
	g.statsMu.Unlock()

	return user, internal, agg
}

// SortedKeys is a small rendering helper: stable, deterministic output order
// for the final stats/tracker report regardless of map iteration order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
