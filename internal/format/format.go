// Package format defines the parser/formatter contract every input/output
// format implements, plus a registry so the coordinator can look one up by
// name the way the teacher's connector registry looks up a Connector.
//
// The formats themselves are treated as external collaborators per the
// spec — only their contract and a small, representative, testable subset
// (plain line, JSON lines, key=value, CSV/TSV) live here. The other tens of
// formats (Apache/NGINX/syslog/CEF/...) are out of scope; this package
// exists to exercise the contract correctly, not to be exhaustive.
package format

import (
	"fmt"
	"sync"

	"github.com/crimson-sun/quill/internal/model"
)

// Parser turns one raw line into a structured Event. Implementations must
// be pure and safe for concurrent use by multiple workers sharing the same
// compiled parser.
type Parser interface {
	Parse(line string) (*model.Event, error)
}

// FileOp is re-exported from model for formatter implementations that don't
// otherwise need to import model directly; kept as an alias, not a copy.
type FileOp = model.FileOp

// FormattedOutput is one formatter invocation's result.
type FormattedOutput struct {
	Line         string
	HasTimestamp bool
	Timestamp    int64 // unix nanos
	FileOps      []FileOp
}

// Formatter converts an Event into output text. Finish is called once at
// stream end for formats that batch characters until a terminal condition
// (e.g. a fixed-width compact table); formats without trailing state return
// a zero FormattedOutput and false.
type Formatter interface {
	Format(ev *model.Event) (FormattedOutput, error)
	Finish() (FormattedOutput, bool, error)
}

// CSVAware is implemented by parsers/formatters whose behaviour depends on
// a per-file header/type-hint schema; the batcher and worker rebuild one of
// these whenever model.CSVSchema changes.
type CSVAware interface {
	WithSchema(schema *model.CSVSchema) (Parser, error)
}

// ParserConstructor builds a Parser from a free-form options string (a
// worker.Config's ParserOpts or FormatterOpts: the CSV/TSV delimiter, or
// empty). The built-in constructors ignore it.
type ParserConstructor func(opts string) (Parser, error)

// FormatterConstructor builds a Formatter the same way.
type FormatterConstructor func(opts string) (Formatter, error)

var (
	mu          sync.RWMutex
	parsers     = map[string]ParserConstructor{}
	formatters  = map[string]FormatterConstructor{}
)

// RegisterParser adds a named input format to the registry. Intended to be
// called from package init() in format subpackages (plain, jsonlines, kv,
// csv), mirroring the teacher connector registry's pattern.
func RegisterParser(name string, ctor ParserConstructor) {
	mu.Lock()
	defer mu.Unlock()
	parsers[name] = ctor
}

// RegisterFormatter adds a named output format to the registry.
func RegisterFormatter(name string, ctor FormatterConstructor) {
	mu.Lock()
	defer mu.Unlock()
	formatters[name] = ctor
}

// NewParser builds a parser by name with its options suffix.
func NewParser(name, opts string) (Parser, error) {
	mu.RLock()
	ctor, ok := parsers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("format: unknown input format %q", name)
	}
	return ctor(opts)
}

// NewFormatter builds a formatter by name with its options suffix.
func NewFormatter(name, opts string) (Formatter, error) {
	mu.RLock()
	ctor, ok := formatters[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("format: unknown output format %q", name)
	}
	return ctor(opts)
}

// Names lists registered parser and formatter names, for help text and
// validation.
func Names() (parserNames, formatterNames []string) {
	mu.RLock()
	defer mu.RUnlock()
	for k := range parsers {
		parserNames = append(parserNames, k)
	}
	for k := range formatters {
		formatterNames = append(formatterNames, k)
	}
	return parserNames, formatterNames
}
