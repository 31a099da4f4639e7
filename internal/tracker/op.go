package tracker

// Op is the decoded form of a tracker key's operation tag. A key's tag is
// set the first time the key is touched and kept in a key-to-Op map beside
// the values; callers on the Go side deal in this enum instead of the raw
// string so the merge algebra can switch on it exhaustively.
type Op int

const (
	// OpReplace is also the default for a key with no recorded tag.
	OpReplace Op = iota
	OpCount
	OpSum
	OpAvg
	OpMin
	OpMax
	OpUnique
	OpBucket
	OpTop
	OpBottom
	OpPercentiles
	OpCardinality
	OpErrorExamples
)

// String renders the tag's string name.
func (o Op) String() string {
	switch o {
	case OpCount:
		return "count"
	case OpSum:
		return "sum"
	case OpAvg:
		return "avg"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpUnique:
		return "unique"
	case OpBucket:
		return "bucket"
	case OpTop:
		return "top"
	case OpBottom:
		return "bottom"
	case OpPercentiles:
		return "percentiles"
	case OpCardinality:
		return "cardinality"
	case OpErrorExamples:
		return "error_examples"
	default:
		return "replace"
	}
}

// ParseOp decodes a tag's string name. Unknown tags fall back to
// OpReplace (last-writer-wins), matching the spec's fall-through rule.
func ParseOp(s string) Op {
	switch s {
	case "count":
		return OpCount
	case "sum":
		return OpSum
	case "avg":
		return OpAvg
	case "min":
		return OpMin
	case "max":
		return OpMax
	case "unique":
		return OpUnique
	case "bucket":
		return OpBucket
	case "top":
		return OpTop
	case "bottom":
		return OpBottom
	case "percentiles":
		return OpPercentiles
	case "cardinality":
		return OpCardinality
	case "error_examples":
		return OpErrorExamples
	default:
		return OpReplace
	}
}

// Additive reports whether a worker delta for this operation should be a
// per-batch numeric diff (true) or an absolute snapshot (false). Only count
// and sum are additive; every other operation reports absolute values.
func (o Op) Additive() bool {
	return o == OpCount || o == OpSum
}
