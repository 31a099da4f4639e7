package worker

import (
	"strings"

	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/script"
	"github.com/crimson-sun/quill/internal/tracker"
)

// StageKind discriminates the four script-stage shapes §4.4 names.
type StageKind int

const (
	StageFilter StageKind = iota
	StageTransform
	StageLevelFilter
	StageKeyFilter
)

// Stage is one entry of the ordered per-worker pipeline's script-stage
// list. Only the fields relevant to Kind are populated.
type Stage struct {
	Kind StageKind

	Compiled *script.CompiledExpression // Filter, Transform

	LevelField    string // LevelFilter; defaults to "level" if empty
	LevelsInclude []string
	LevelsExclude []string

	KeysKeep []string // KeyFilter: project onto these keys...
	KeysDrop []string // ...or drop these keys; mutually exclusive
}

// Outcome is what running one stage against one event produced.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeSkip
	OutcomeEmit // replace the current event with Events
	OutcomeError
)

// Run executes one stage, returning the outcome and, for OutcomeEmit, the
// replacement event(s) as field maps (applied by the caller).
func (s Stage) Run(ev *model.Event, window []map[string]any, tr *tracker.WorkerTracker, stdout, stderr *[]string) (Outcome, []map[string]any, error) {
	switch s.Kind {
	case StageFilter:
		keep, err := script.ExecuteFilter(s.Compiled, ev, window, tr, stdout, stderr)
		if err != nil {
			return OutcomeError, nil, err
		}
		if !keep {
			return OutcomeSkip, nil, nil
		}
		return OutcomeContinue, nil, nil

	case StageTransform:
		skip, emitted, err := script.ExecuteTransform(s.Compiled, ev, window, tr, stdout, stderr)
		if err != nil {
			return OutcomeError, nil, err
		}
		if skip {
			return OutcomeSkip, nil, nil
		}
		if len(emitted) > 0 {
			return OutcomeEmit, emitted, nil
		}
		return OutcomeContinue, nil, nil

	case StageLevelFilter:
		field := s.LevelField
		if field == "" {
			field = "level"
		}
		v, ok := ev.Get(field)
		if !ok {
			if len(s.LevelsInclude) > 0 {
				return OutcomeSkip, nil, nil
			}
			return OutcomeContinue, nil, nil
		}
		level := strings.ToLower(toString(v))
		if len(s.LevelsInclude) > 0 && !containsFold(s.LevelsInclude, level) {
			return OutcomeSkip, nil, nil
		}
		if containsFold(s.LevelsExclude, level) {
			return OutcomeSkip, nil, nil
		}
		return OutcomeContinue, nil, nil

	case StageKeyFilter:
		if len(s.KeysKeep) > 0 {
			keep := make(map[string]struct{}, len(s.KeysKeep))
			for _, k := range s.KeysKeep {
				keep[k] = struct{}{}
			}
			for _, k := range ev.Keys() {
				if _, ok := keep[k]; !ok {
					ev.Delete(k)
				}
			}
		}
		for _, k := range s.KeysDrop {
			ev.Delete(k)
		}
		return OutcomeContinue, nil, nil

	default:
		return OutcomeContinue, nil, nil
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
