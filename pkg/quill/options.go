package quill

import (
	"time"

	"github.com/crimson-sun/quill/internal/ioreader"
)

type options struct {
	paths     []string
	fileOrder ioreader.Order

	inputFormat, outputFormat string

	filter, transform, begin, end string

	levels, excludeLevels []string
	keys, excludeKeys     []string

	take, skip, head int64

	workers      int
	batchSize    int
	batchTimeout time.Duration

	onError string
	strict  bool
}

// Option configures a Quill instance.
type Option func(*options)

// WithPaths sets the input files to read, in the given order. No paths
// means read from stdin.
func WithPaths(paths ...string) Option {
	return func(o *options) { o.paths = paths }
}

// WithInputFormat selects the input parser: "json", "kv", "csv", "tsv", or
// "line". Default: "json".
func WithInputFormat(name string) Option {
	return func(o *options) { o.inputFormat = name }
}

// WithOutputFormat selects the output formatter with the same names as
// WithInputFormat. Default: "json".
func WithOutputFormat(name string) Option {
	return func(o *options) { o.outputFormat = name }
}

// WithFilter sets the per-event filter expression; events for which it
// evaluates false are dropped.
func WithFilter(expr string) Option {
	return func(o *options) { o.filter = expr }
}

// WithTransform sets the per-event transform expression.
func WithTransform(expr string) Option {
	return func(o *options) { o.transform = expr }
}

// WithBeginEnd sets the per-worker setup/teardown expressions.
func WithBeginEnd(begin, end string) Option {
	return func(o *options) { o.begin, o.end = begin, end }
}

// WithLevels restricts output to these level names (case-insensitive).
func WithLevels(levels ...string) Option {
	return func(o *options) { o.levels = levels }
}

// WithExcludeLevels drops these level names.
func WithExcludeLevels(levels ...string) Option {
	return func(o *options) { o.excludeLevels = levels }
}

// WithKeys projects events onto these fields only.
func WithKeys(keys ...string) Option {
	return func(o *options) { o.keys = keys }
}

// WithExcludeKeys drops these fields from every event.
func WithExcludeKeys(keys ...string) Option {
	return func(o *options) { o.excludeKeys = keys }
}

// WithTake stops the run after emitting n events (0 = unlimited).
func WithTake(n int64) Option {
	return func(o *options) { o.take = n }
}

// WithSkip skips n input lines before any filtering.
func WithSkip(n int64) Option {
	return func(o *options) { o.skip = n }
}

// WithHead stops reading input after n lines (0 = unlimited).
func WithHead(n int64) Option {
	return func(o *options) { o.head = n }
}

// WithWorkers sets the number of parallel worker goroutines. Default: 1.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBatch sets the batcher's size and idle-timeout bounds.
func WithBatch(size int, timeout time.Duration) Option {
	return func(o *options) { o.batchSize, o.batchTimeout = size, timeout }
}

// WithOnError sets the error policy: "skip", "abort", "print", or "stub".
// Default: "skip".
func WithOnError(policy string) Option {
	return func(o *options) { o.onError = policy }
}

// WithStrict treats any error as fatal, overriding WithOnError.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithFileOrder sets how multiple paths are concatenated.
func WithFileOrder(order ioreader.Order) Option {
	return func(o *options) { o.fileOrder = order }
}

func defaultOptions() options {
	return options{
		inputFormat:  "json",
		outputFormat: "json",
		workers:      1,
		batchSize:    256,
		batchTimeout: 50 * time.Millisecond,
		onError:      "skip",
	}
}
