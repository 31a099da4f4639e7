package tracker

import "sort"

// TopItem is one entry of a top-N/bottom-N tracked list. Exactly one of
// Count/Value is meaningful, selected by Weighted — the same split the
// original dynamic-scripting representation makes by looking at which field
// the first array element carries.
type TopItem struct {
	Key      string
	Count    int64
	Value    float64
	Weighted bool
}

// topAgg accumulates top/bottom candidates for one worker-local key before
// they are rendered into the absolute-value snapshot a BatchResult carries.
type topAgg struct {
	n        int
	top      bool // true = top-N (descending), false = bottom-N (ascending)
	weighted bool
	counts   map[string]int64
	values   map[string]float64
}

func newTopAgg(n int, top, weighted bool) *topAgg {
	return &topAgg{
		n:        n,
		top:      top,
		weighted: weighted,
		counts:   make(map[string]int64),
		values:   make(map[string]float64),
	}
}

func (a *topAgg) addCount(key string, delta int64) {
	a.counts[key] += delta
}

func (a *topAgg) addValue(key string, v float64) {
	cur, ok := a.values[key]
	if !ok {
		a.values[key] = v
		return
	}
	if a.top {
		if v > cur {
			a.values[key] = v
		}
	} else if v < cur {
		a.values[key] = v
	}
}

// snapshot renders the current accumulator into a sorted, N-truncated list.
func (a *topAgg) snapshot() []TopItem {
	var items []TopItem
	if a.weighted {
		for k, v := range a.values {
			items = append(items, TopItem{Key: k, Value: v, Weighted: true})
		}
	} else {
		for k, c := range a.counts {
			items = append(items, TopItem{Key: k, Count: c})
		}
	}
	sortTopItems(items, a.top)
	if len(items) > a.n {
		items = items[:a.n]
	}
	return items
}

func sortTopItems(items []TopItem, top bool) {
	sort.Slice(items, func(i, j int) bool {
		vi, vj := itemValue(items[i]), itemValue(items[j])
		if vi == vj {
			return items[i].Key < items[j].Key
		}
		if top {
			return vi > vj
		}
		return vi < vj
	})
}

func itemValue(t TopItem) float64 {
	if t.Weighted {
		return t.Value
	}
	return float64(t.Count)
}

// MergeTopBottom merges two already-rendered top/bottom lists the way the
// sink does across worker deltas: count-mode entries sum, weighted-mode
// entries take max (top) or min (bottom) per key, ties break on ascending
// key, and the result truncates to max(len(a), len(b)).
func MergeTopBottom(existing, incoming []TopItem, top bool) []TopItem {
	n := len(existing)
	if len(incoming) > n {
		n = len(incoming)
	}
	weighted := false
	if len(existing) > 0 {
		weighted = existing[0].Weighted
	} else if len(incoming) > 0 {
		weighted = incoming[0].Weighted
	}

	merged := make(map[string]float64)
	for _, it := range existing {
		merged[it.Key] = itemValue(it)
	}
	for _, it := range incoming {
		v := itemValue(it)
		if weighted {
			if cur, ok := merged[it.Key]; ok {
				if top && v > cur {
					merged[it.Key] = v
				} else if !top && v < cur {
					merged[it.Key] = v
				}
			} else {
				merged[it.Key] = v
			}
		} else {
			merged[it.Key] += v
		}
	}

	out := make([]TopItem, 0, len(merged))
	for k, v := range merged {
		if weighted {
			out = append(out, TopItem{Key: k, Value: v, Weighted: true})
		} else {
			out = append(out, TopItem{Key: k, Count: int64(v)})
		}
	}
	sortTopItems(out, top)
	if len(out) > n {
		out = out[:n]
	}
	return out
}
