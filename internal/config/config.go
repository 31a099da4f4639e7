// Package config parses the command-line surface into the plain structs
// internal/coordinator consumes. The flag set is built with cobra/pflag,
// the same pair the wider example corpus reaches for ahead of the standard
// library's flag package whenever a CLI grows past a handful of switches.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/quill/internal/batcher"
	"github.com/crimson-sun/quill/internal/coordinator"
	"github.com/crimson-sun/quill/internal/ioreader"
	"github.com/crimson-sun/quill/internal/logging"
	"github.com/crimson-sun/quill/internal/script"
	"github.com/crimson-sun/quill/internal/sink"
	"github.com/crimson-sun/quill/internal/tty"
	"github.com/crimson-sun/quill/internal/worker"
)

// Raw holds every flag's value exactly as pflag parsed it, before any
// cross-validation or compilation into coordinator.Config.
type Raw struct {
	Paths []string

	InputFormat, OutputFormat string
	Plain                     bool

	Filter, Transform, Begin, End string

	Levels, ExcludeLevels string
	Keys, ExcludeKeys     string

	Take, Skip, Head       int64
	KeepLines, IgnoreLines string

	MarkGaps string

	Parallel, BatchSize int
	BatchTimeoutMS      int

	OnError string
	Strict  bool

	Color string
	Stats bool

	Section string

	FileOrder string

	Quiet     bool
	Verbose   bool
	LogFormat string
}

// NewCommand builds the root cobra command. run is invoked with the parsed
// and validated coordinator.Config once flags have been consumed; cobra
// owns argument parsing and --help rendering.
func NewCommand(run func(cfg *coordinator.Config, stats bool) error) *cobra.Command {
	var raw Raw

	cmd := &cobra.Command{
		Use:   "quill [flags] [file...]",
		Short: "Stream, filter, transform, and aggregate structured logs in parallel",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw.Paths = args
			logging.Init(raw.LogFormat == "json", resolveLevel(raw.Quiet, raw.Verbose))
			cfg, err := raw.Build()
			if err != nil {
				return err
			}
			return run(cfg, raw.Stats)
		},
		SilenceUsage: true,
	}

	fs := cmd.Flags()
	fs.StringVar(&raw.InputFormat, "input-format", "json", `input parser: "json", "kv", "csv", "tsv", or "line"`)
	fs.StringVar(&raw.OutputFormat, "output-format", "json", `output formatter: "json", "kv", "csv", "tsv", or "line"`)
	fs.BoolVar(&raw.Plain, "plain", false, `shorthand for --input-format line --output-format line`)

	fs.StringVar(&raw.Filter, "filter", "", "filter expression; events for which it evaluates false are dropped")
	fs.StringVar(&raw.Transform, "transform", "", "transform expression run against every surviving event")
	fs.StringVar(&raw.Begin, "begin", "", "expression run once per worker before its first batch")
	fs.StringVar(&raw.End, "end", "", "expression run once per worker after its last batch")

	fs.StringVar(&raw.Levels, "levels", "", "comma-separated level names to keep (others dropped)")
	fs.StringVar(&raw.ExcludeLevels, "exclude-levels", "", "comma-separated level names to drop")
	fs.StringVar(&raw.Keys, "keys", "", "comma-separated field names to keep, dropping the rest")
	fs.StringVar(&raw.ExcludeKeys, "exclude-keys", "", "comma-separated field names to drop")

	fs.Int64Var(&raw.Take, "take", 0, "stop after emitting this many events (0 = unlimited)")
	fs.Int64Var(&raw.Skip, "skip", 0, "skip this many input lines before any filtering")
	fs.Int64Var(&raw.Head, "head", 0, "stop reading input after this many lines (0 = unlimited)")
	fs.StringVar(&raw.KeepLines, "keep-lines", "", "regex; only matching raw lines reach the batcher")
	fs.StringVar(&raw.IgnoreLines, "ignore-lines", "", "regex; matching raw lines are dropped before the batcher")
	fs.StringVar(&raw.Section, "section", "", "line range START:END (either bound may be omitted)")

	fs.StringVar(&raw.MarkGaps, "mark-gaps", "", "render a marker when consecutive timestamps differ by more than this duration (e.g. 5s)")

	fs.IntVar(&raw.Parallel, "parallel", 1, "number of worker goroutines")
	fs.IntVar(&raw.Parallel, "workers", 1, "alias of --parallel")
	fs.IntVar(&raw.BatchSize, "batch-size", 256, "lines grouped per batch")
	fs.IntVar(&raw.BatchTimeoutMS, "batch-timeout-ms", 50, "flush a partial batch after this many idle milliseconds")

	fs.StringVar(&raw.OnError, "on-error", "skip", "error policy: skip, abort, print, or stub")
	fs.BoolVar(&raw.Strict, "strict", false, "treat any error as fatal, overriding --on-error")

	fs.StringVar(&raw.Color, "color", "auto", "gap marker colour: auto, always, or never")
	fs.BoolVar(&raw.Stats, "stats", false, "print a final statistics summary to stderr")

	fs.StringVar(&raw.FileOrder, "file-order", "none", "multi-file concatenation order: none, name, or mtime")

	fs.BoolVar(&raw.Quiet, "quiet", false, "suppress info-level logging, printing only warnings and errors")
	fs.BoolVar(&raw.Verbose, "verbose", false, "enable debug-level logging")
	fs.StringVar(&raw.LogFormat, "log-format", "text", `internal log handler: "text" or "json"`)

	return cmd
}

// resolveLevel maps the --quiet/--verbose pair to a slog level, with
// --verbose winning a conflicting combination of both flags.
func resolveLevel(quiet, verbose bool) slog.Level {
	switch {
	case verbose:
		return slog.LevelDebug
	case quiet:
		return slog.LevelWarn
	default:
		return logging.ParseLevel(os.Getenv("QUILL_LOG_LEVEL"))
	}
}

// Build validates Raw and compiles it into a coordinator.Config, compiling
// every script and regex once up front so a bad expression fails before any
// goroutine starts.
func (r *Raw) Build() (*coordinator.Config, error) {
	if r.Plain {
		r.InputFormat, r.OutputFormat = "line", "line"
	}

	var cfg coordinator.Config
	cfg.Paths = r.Paths
	cfg.NumWorkers = r.Parallel
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	switch r.FileOrder {
	case "name":
		cfg.FileOrder = ioreader.OrderName
	case "mtime":
		cfg.FileOrder = ioreader.OrderMtime
	default:
		cfg.FileOrder = ioreader.OrderNone
	}

	var keepRe, ignoreRe *regexp.Regexp
	var err error
	if r.KeepLines != "" {
		if keepRe, err = regexp.Compile(r.KeepLines); err != nil {
			return nil, fmt.Errorf("config: --keep-lines: %w", err)
		}
	}
	if r.IgnoreLines != "" {
		if ignoreRe, err = regexp.Compile(r.IgnoreLines); err != nil {
			return nil, fmt.Errorf("config: --ignore-lines: %w", err)
		}
	}
	var section *batcher.Section
	if r.Section != "" {
		section, err = parseSection(r.Section)
		if err != nil {
			return nil, err
		}
	}

	csvMode := batcher.CSVNone
	var csvDelim rune = ','
	switch r.InputFormat {
	case "csv":
		csvMode = batcher.CSVWithHeader
		csvDelim = ','
	case "tsv":
		csvMode = batcher.CSVWithHeader
		csvDelim = '\t'
	}

	cfg.Batcher = batcher.Config{
		HeadLimit:    int(r.Head),
		SkipLines:    int(r.Skip),
		Section:      section,
		KeepRegex:    keepRe,
		IgnoreRegex:  ignoreRe,
		BatchSize:    r.BatchSize,
		BatchTimeout: time.Duration(r.BatchTimeoutMS) * time.Millisecond,
		CSV:          csvMode,
		CSVDelimiter: csvDelim,
	}
	if cfg.Batcher.BatchSize <= 0 {
		cfg.Batcher.BatchSize = 256
	}

	stages, err := buildStages(r)
	if err != nil {
		return nil, err
	}

	eng := script.New()
	var beginC, endC *script.CompiledExpression
	if r.Begin != "" {
		if beginC, err = eng.Compile(r.Begin); err != nil {
			return nil, err
		}
	}
	if r.End != "" {
		if endC, err = eng.Compile(r.End); err != nil {
			return nil, err
		}
	}

	policy := worker.PolicySkip
	switch r.OnError {
	case "abort":
		policy = worker.PolicyAbort
	case "print":
		policy = worker.PolicyPrint
	case "stub":
		policy = worker.PolicyStub
	}

	parserOpts, formatterOpts := "", ""
	if csvMode == batcher.CSVWithHeader {
		if csvDelim == '\t' {
			parserOpts, formatterOpts = "\t", "\t"
		} else {
			parserOpts, formatterOpts = ",", ","
		}
	}

	cfg.Worker = worker.Config{
		ParserName:    formatName(r.InputFormat),
		ParserOpts:    parserOpts,
		FormatterName: formatName(r.OutputFormat),
		FormatterOpts: formatterOpts,
		Begin:         beginC,
		End:           endC,
		Stages:        stages,
		WindowSize:    1,
		Strict:        r.Strict,
		Policy:        policy,
	}

	var gapThreshold time.Duration
	if r.MarkGaps != "" {
		gapThreshold, err = time.ParseDuration(r.MarkGaps)
		if err != nil {
			return nil, fmt.Errorf("config: --mark-gaps: %w", err)
		}
	}

	var colorMode tty.Mode
	switch r.Color {
	case "always":
		colorMode = tty.Always
	case "never":
		colorMode = tty.Never
	default:
		colorMode = tty.Auto
	}

	cfg.Sink = sink.Config{
		Ordered:          cfg.NumWorkers > 1,
		TakeLimit:        r.Take,
		GapMarkThreshold: gapThreshold,
		ColorMode:        colorMode,
	}
	if r.OutputFormat == "csv" || r.OutputFormat == "tsv" {
		cfg.Sink.CSVHeader = splitCSV(r.Keys)
	}

	return &cfg, nil
}

func formatName(name string) string {
	switch name {
	case "json", "kv", "csv", "tsv", "line":
		return name
	default:
		return "line"
	}
}

func buildStages(r *Raw) ([]worker.Stage, error) {
	var stages []worker.Stage
	eng := script.New()

	if r.Filter != "" {
		c, err := eng.Compile(r.Filter)
		if err != nil {
			return nil, err
		}
		stages = append(stages, worker.Stage{Kind: worker.StageFilter, Compiled: c})
	}

	if r.Levels != "" || r.ExcludeLevels != "" {
		stages = append(stages, worker.Stage{
			Kind:          worker.StageLevelFilter,
			LevelsInclude: splitCSV(r.Levels),
			LevelsExclude: splitCSV(r.ExcludeLevels),
		})
	}

	if r.Transform != "" {
		c, err := eng.Compile(r.Transform)
		if err != nil {
			return nil, err
		}
		stages = append(stages, worker.Stage{Kind: worker.StageTransform, Compiled: c})
	}

	if r.Keys != "" || r.ExcludeKeys != "" {
		stages = append(stages, worker.Stage{
			Kind:     worker.StageKeyFilter,
			KeysKeep: splitCSV(r.Keys),
			KeysDrop: splitCSV(r.ExcludeKeys),
		})
	}

	return stages, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func parseSection(s string) (*batcher.Section, error) {
	idx := -1
	for i, c := range s {
		if c == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("config: --section: expected START:END, got %q", s)
	}
	startStr, endStr := s[:idx], s[idx+1:]
	var start, end int
	if startStr != "" {
		if _, err := fmt.Sscanf(startStr, "%d", &start); err != nil {
			return nil, fmt.Errorf("config: --section: invalid start %q", startStr)
		}
	}
	if endStr != "" {
		if _, err := fmt.Sscanf(endStr, "%d", &end); err != nil {
			return nil, fmt.Errorf("config: --section: invalid end %q", endStr)
		}
	}
	return &batcher.Section{Start: start, End: end}, nil
}
