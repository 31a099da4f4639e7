// Package script wraps the compiled-expression engine every worker drives:
// filter/transform/begin/end stages written by the user, plus the host
// functions those expressions call into (tracking, string/regex helpers,
// captured output). Compilation and the AST it produces are the only state
// shared across workers; everything else here is worker-local.
package script

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/tracker"
)

// Env is the struct-based evaluation environment bound per call. Using a
// struct instead of a bare map lets host functions surface as ordinary Go
// methods that expr resolves by name, with Event kept as a map so a script
// can use plain dot/index notation against arbitrary parsed fields.
type Env struct {
	Event map[string]any
	Line  string
	// Window holds the last W events seen by this worker, most recent
	// first; Window[0] is always the current event (also available via
	// Event directly).
	Window []map[string]any

	tr     *tracker.WorkerTracker
	stdout *[]string
	stderr *[]string
	skip   bool
	emit   []map[string]any

	regexCache map[string]*regexp.Regexp
}

// NewEnv binds a fresh per-call environment to a worker's tracker and its
// thread-local capture buffers.
func NewEnv(ev *model.Event, window []map[string]any, tr *tracker.WorkerTracker, stdout, stderr *[]string) *Env {
	return &Env{
		Event:      ev.Map(),
		Line:       ev.Raw,
		Window:     window,
		tr:         tr,
		stdout:     stdout,
		stderr:     stderr,
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Skip marks the current event for discard; checked by the transform stage
// runner after Run returns.
func (e *Env) Skip() bool {
	e.skip = true
	return true
}

// Skipped reports whether Skip() was called during this evaluation.
func (e *Env) Skipped() bool { return e.skip }

// Emit queues a replacement event (as a field map) in place of — or
// alongside — the current one; EmitAll replaces the current event with a
// list of derived events. Used by transform scripts that fan out.
func (e *Env) Emit(fields map[string]any) bool {
	e.emit = append(e.emit, fields)
	return true
}

func (e *Env) EmitAll(events []map[string]any) bool {
	e.emit = append(e.emit, events...)
	return true
}

// Emitted returns the events queued by Emit/EmitAll this evaluation.
func (e *Env) Emitted() []map[string]any { return e.emit }

// Print appends a line to the thread-local captured-stdout buffer, mirroring
// a script-side print() call; the worker drains this into the
// ProcessedEvent it is currently building.
func (e *Env) Print(args ...any) bool {
	*e.stdout = append(*e.stdout, joinArgs(args))
	return true
}

// Eprint is Print's stderr counterpart.
func (e *Env) Eprint(args ...any) bool {
	*e.stderr = append(*e.stderr, joinArgs(args))
	return true
}

func joinArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}

// Set mutates a field on the current event. expr's expression language has
// no assignment operator against an arbitrary map, so transform scripts
// call this host function (`Set("level", "WARN")`) instead of the
// `event.field = value` syntax a statement-oriented engine would allow.
func (e *Env) Set(key string, value any) bool {
	if e.Event == nil {
		e.Event = make(map[string]any)
	}
	e.Event[key] = value
	return true
}

// Delete removes a field from the current event.
func (e *Env) Delete(key string) bool {
	delete(e.Event, key)
	return true
}

// Get reads a field, returning nil for an absent key (expr treats nil as
// falsy/empty in comparisons, matching a dynamic language's missing-field
// behaviour).
func (e *Env) Get(key string) any { return e.Event[key] }

// Match reports whether s matches the (cached, compiled) regular expression
// pattern. Compilation errors surface as a script runtime error via panic,
// matching expr's convention of recovering native-function panics into the
// expression's own error return.
func (e *Env) Match(pattern, s string) bool {
	re := e.compiledRegex(pattern)
	return re.MatchString(s)
}

// ReplaceRegex applies a regex substitution, mirroring a common log-munging host
// helper.
func (e *Env) ReplaceRegex(pattern, replacement, s string) string {
	re := e.compiledRegex(pattern)
	return re.ReplaceAllString(s, replacement)
}

func (e *Env) compiledRegex(pattern string) *regexp.Regexp {
	if re, ok := e.regexCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		panic(fmt.Sprintf("script: invalid regex %q: %v", pattern, err))
	}
	e.regexCache[pattern] = re
	return re
}

// --- tracking host functions, dispatched straight to the worker tracker ---

func (e *Env) TrackReplace(key string, value any) bool { e.tr.User.Replace(key, value); return true }
func (e *Env) TrackCount(key string) bool               { e.tr.User.Count(key, 1); return true }
func (e *Env) TrackCountN(key string, n int64) bool      { e.tr.User.Count(key, n); return true }
func (e *Env) TrackSum(key string, v float64) bool       { e.tr.User.Sum(key, v); return true }
func (e *Env) TrackAvg(key string, v float64) bool       { e.tr.User.Avg(key, v); return true }
func (e *Env) TrackMin(key string, v int64) bool {
	e.tr.User.Min(key, float64(v), true)
	return true
}
func (e *Env) TrackMax(key string, v int64) bool {
	e.tr.User.Max(key, float64(v), true)
	return true
}
func (e *Env) TrackUnique(key, item string) bool { e.tr.User.Unique(key, item); return true }
func (e *Env) TrackBucket(key, item string) bool { e.tr.User.Bucket(key, item, 1); return true }
func (e *Env) TrackErrorExample(key, example string) bool {
	e.tr.User.ErrorExample(key, example)
	return true
}
func (e *Env) TrackTop(key string, n int, item string) bool {
	e.tr.User.TopCount(key, n, item, 1)
	return true
}
func (e *Env) TrackTopWeighted(key string, n int, item string, v float64) bool {
	e.tr.User.TopWeighted(key, n, item, v)
	return true
}
func (e *Env) TrackBottom(key string, n int, item string) bool {
	e.tr.User.BottomCount(key, n, item, 1)
	return true
}
func (e *Env) TrackBottomWeighted(key string, n int, item string, v float64) bool {
	e.tr.User.BottomWeighted(key, n, item, v)
	return true
}
func (e *Env) TrackPercentile(key string, v float64) bool {
	e.tr.User.Percentile(key, v)
	return true
}
func (e *Env) TrackCardinality(key, item string) bool {
	e.tr.User.Cardinality(key, item)
	return true
}
