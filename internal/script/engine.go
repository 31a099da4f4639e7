package script

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/tracker"
)

// CompiledExpression is a compiled script AST plus its source, kept around
// for error messages. Programs are safe for concurrent Run calls against
// distinct Env values, so one compiled program is shared by every worker —
// only the Env passed to Run is worker-local.
type CompiledExpression struct {
	program *vm.Program
	source  string
}

// Engine compiles script source against the Env shape once; execution is
// stateless from the Engine's point of view; all mutable state lives in the
// Env a caller constructs per call.
type Engine struct {
	opts []expr.Option
}

// New returns an Engine whose compiled programs type-check against Env.
func New() *Engine {
	return &Engine{opts: []expr.Option{expr.Env(Env{}), expr.AllowUndefinedVariables()}}
}

// Compile compiles filter, transform, begin, and end scripts uniformly —
// the expression language doesn't distinguish them; only the caller's
// choice of which Execute* to invoke, and the expected return type, differ.
func (eng *Engine) Compile(source string) (*CompiledExpression, error) {
	program, err := expr.Compile(source, eng.opts...)
	if err != nil {
		return nil, fmt.Errorf("script: compile %q: %w", source, err)
	}
	return &CompiledExpression{program: program, source: source}, nil
}

// ExecuteFilter runs a compiled filter expression against one event and
// reports whether it should be kept. A non-bool result is a script error.
func ExecuteFilter(c *CompiledExpression, ev *model.Event, window []map[string]any, tr *tracker.WorkerTracker, stdout, stderr *[]string) (bool, error) {
	env := NewEnv(ev, window, tr, stdout, stderr)
	out, err := runCaught(c, env)
	if err != nil {
		return false, err
	}
	if env.Skipped() {
		return false, nil
	}
	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("script: filter %q did not return a boolean", c.source)
	}
	return keep, nil
}

// ExecuteTransform runs a compiled transform expression, applying any
// Set/Delete calls back onto the event and returning any events queued via
// Emit/EmitAll in place of modifying ev directly. An empty, nil Emitted()
// list means "keep ev as mutated"; Skipped() means "drop ev entirely".
func ExecuteTransform(c *CompiledExpression, ev *model.Event, window []map[string]any, tr *tracker.WorkerTracker, stdout, stderr *[]string) (skip bool, emitted []map[string]any, err error) {
	env := NewEnv(ev, window, tr, stdout, stderr)
	if _, err := runCaught(c, env); err != nil {
		return false, nil, err
	}
	ev.ApplyMap(env.Event)
	return env.Skipped(), env.Emitted(), nil
}

// ExecuteBegin runs a compiled begin expression once per worker before any
// events are processed. It has no event to act on, only tracking/output.
func ExecuteBegin(c *CompiledExpression, tr *tracker.WorkerTracker, stdout, stderr *[]string) error {
	env := &Env{tr: tr, stdout: stdout, stderr: stderr, regexCache: make(map[string]*regexp.Regexp)}
	_, err := runCaught(c, env)
	return err
}

// ExecuteEnd runs a compiled end expression once per worker after its last
// batch, symmetric with ExecuteBegin.
func ExecuteEnd(c *CompiledExpression, tr *tracker.WorkerTracker, stdout, stderr *[]string) error {
	env := &Env{tr: tr, stdout: stdout, stderr: stderr, regexCache: make(map[string]*regexp.Regexp)}
	_, err := runCaught(c, env)
	return err
}

// runCaught executes a compiled program, converting a panicking host
// function (e.g. an invalid regex) into a plain script error instead of
// crashing the worker goroutine.
func runCaught(c *CompiledExpression, env *Env) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script: runtime error in %q: %v", c.source, r)
		}
	}()
	out, err = expr.Run(c.program, env)
	if err != nil {
		return nil, fmt.Errorf("script: execute %q: %w", c.source, err)
	}
	return out, nil
}
