package worker

import (
	"testing"

	"github.com/crimson-sun/quill/internal/control"
	"github.com/crimson-sun/quill/internal/model"
	"github.com/crimson-sun/quill/internal/script"

	_ "github.com/crimson-sun/quill/internal/format/plain"
)

func runWorker(t *testing.T, cfg Config, batch model.Batch) []model.BatchResult {
	t.Helper()
	in := make(chan model.WorkMessage, 1)
	out := make(chan model.BatchResult, 4)
	in <- model.WorkMessage{Lines: &batch}
	close(in)

	w := &Worker{ID: 0, Cfg: cfg, In: in, Out: out, Bus: control.New()}
	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	var results []model.BatchResult
	collecting := true
	for collecting {
		select {
		case r, ok := <-out:
			if !ok {
				collecting = false
				break
			}
			results = append(results, r)
			if r.BatchID == model.FlushBatchID {
				collecting = false
			}
		case err := <-done:
			if err != nil {
				t.Fatalf("worker.Run: %v", err)
			}
			// drain any buffered results sent just before EOF.
			for {
				select {
				case r := <-out:
					results = append(results, r)
				default:
					return results
				}
			}
		}
	}
	<-done
	return results
}

func TestWorker_ParsesAndFormatsPlainLines(t *testing.T) {
	cfg := Config{ParserName: "line", FormatterName: "line", Policy: PolicySkip}
	batch := model.Batch{ID: 1, Lines: []string{"hello", "world"}}
	results := runWorker(t, cfg, batch)

	var got []string
	for _, r := range results {
		for _, pe := range r.Results {
			if pe.Line != "" {
				got = append(got, pe.Line)
			}
		}
	}
	if len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Fatalf("expected [hello world], got %v", got)
	}
}

func TestWorker_FilterStageDropsEvents(t *testing.T) {
	eng := script.New()
	c, err := eng.Compile(`Line != "drop-me"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg := Config{
		ParserName:    "line",
		FormatterName: "line",
		Policy:        PolicySkip,
		Stages:        []Stage{{Kind: StageFilter, Compiled: c}},
	}
	batch := model.Batch{ID: 1, Lines: []string{"keep-me", "drop-me"}}
	results := runWorker(t, cfg, batch)

	var got []string
	for _, r := range results {
		for _, pe := range r.Results {
			if pe.Line != "" {
				got = append(got, pe.Line)
			}
		}
	}
	if len(got) != 1 || got[0] != "keep-me" {
		t.Fatalf("expected [keep-me], got %v", got)
	}
	var filtered int64
	for _, r := range results {
		filtered += r.WorkerStats.EventsFiltered
	}
	if filtered != 1 {
		t.Fatalf("expected 1 filtered event counted in stats, got %d", filtered)
	}
}

func TestWorker_LevelFilterStage(t *testing.T) {
	cfg := Config{
		ParserName:    "line",
		FormatterName: "line",
		Policy:        PolicySkip,
		Stages: []Stage{{
			Kind:          StageLevelFilter,
			LevelsExclude: []string{"debug"},
		}},
	}
	batch := model.Batch{ID: 1, Lines: []string{"anything"}}
	results := runWorker(t, cfg, batch)
	if len(results) == 0 {
		t.Fatal("expected at least one BatchResult")
	}
}

func TestWorker_TrackCountViaTransform(t *testing.T) {
	eng := script.New()
	c, err := eng.Compile(`TrackCount("lines")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg := Config{
		ParserName:    "line",
		FormatterName: "line",
		Policy:        PolicySkip,
		Stages:        []Stage{{Kind: StageTransform, Compiled: c}},
	}
	batch := model.Batch{ID: 1, Lines: []string{"a", "b", "c"}}
	results := runWorker(t, cfg, batch)

	var total int64
	for _, r := range results {
		if v, ok := r.UserDelta["lines"]; ok {
			total += v.(int64)
		}
	}
	if total != 3 {
		t.Fatalf("expected tracked count 3, got %d", total)
	}
}

func TestWorker_AbortPolicyStopsOnParseError(t *testing.T) {
	// "line" parser never errors, so exercise the abort path via a filter
	// stage's non-boolean runtime error instead.
	eng := script.New()
	c, err := eng.Compile(`Get("nonexistent-returns-nil-which-is-not-bool")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cfg := Config{
		ParserName:    "line",
		FormatterName: "line",
		Policy:        PolicyAbort,
		Strict:        true,
		Stages:        []Stage{{Kind: StageFilter, Compiled: c}},
	}
	in := make(chan model.WorkMessage, 1)
	out := make(chan model.BatchResult, 4)
	in <- model.WorkMessage{Lines: &model.Batch{ID: 1, Lines: []string{"x"}}}
	close(in)

	w := &Worker{ID: 0, Cfg: cfg, In: in, Out: out, Bus: control.New()}
	if err := w.Run(); err == nil {
		t.Fatal("expected strict+abort to surface the filter's runtime error")
	}
}
