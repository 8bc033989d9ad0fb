package predictor

import (
	"strings"
	"testing"
	"time"

	"cronsage/internal/analyzer"
	"cronsage/internal/storage"
	"cronsage/internal/strategy"
	logx "cronsage/pkg/logx"
)

func newTestPredictor(t *testing.T) *Predictor {
	t.Helper()
	an := analyzer.New(analyzer.Config{}, logx.Nop())
	return New(Config{}, an, logx.Nop())
}

func run(t *testing.T, job string, hour int, success bool, durationSeconds float64) storage.ExecutionRecord {
	t.Helper()
	start := time.Date(2026, 8, 10, hour, 0, 0, 0, time.UTC)
	rec, err := storage.NewExecutionRecord(job, start, durationSeconds, success, nil)
	if err != nil {
		t.Fatalf("NewExecutionRecord: %v", err)
	}
	return rec
}

func TestPredictBuildDeployScenario(t *testing.T) {
	t.Parallel()
	p := newTestPredictor(t)

	var records []storage.ExecutionRecord
	for i := 0; i < 5; i++ {
		records = append(records, run(t, "build", 3, true, 60))
	}
	for i := 0; i < 5; i++ {
		records = append(records, run(t, "build", 15, i < 3, 60))
	}

	build := p.Predict("build", strategy.DefaultParameters(), records)
	if build.RecommendedTime != "0 3 * * *" {
		t.Fatalf("build recommended %q, want %q", build.RecommendedTime, "0 3 * * *")
	}
	if build.PredictedSuccessRate < 0.8 {
		t.Fatalf("build success rate %v, want near 1.0", build.PredictedSuccessRate)
	}
	if build.Confidence <= 0 {
		t.Fatalf("build confidence %v, want > 0", build.Confidence)
	}
	if build.ExpectedDurationSeconds != 60 {
		t.Fatalf("build expected duration %v, want 60", build.ExpectedDurationSeconds)
	}

	deploy := p.Predict("deploy", strategy.DefaultParameters(), records)
	if deploy.RecommendedTime != "0 3 * * *" {
		t.Fatalf("deploy recommended %q, want default", deploy.RecommendedTime)
	}
	if deploy.Confidence != 0 {
		t.Fatalf("deploy confidence %v, want 0", deploy.Confidence)
	}
	if len(deploy.Reasoning) != 1 || deploy.Reasoning[0] != ReasonNoData {
		t.Fatalf("deploy reasoning %v, want [%q]", deploy.Reasoning, ReasonNoData)
	}
	if build.Confidence <= deploy.Confidence {
		t.Fatalf("build confidence %v not above deploy's %v", build.Confidence, deploy.Confidence)
	}
}

func TestPredictAllSuccessHourWins(t *testing.T) {
	t.Parallel()
	p := newTestPredictor(t)

	records := []storage.ExecutionRecord{
		run(t, "etl", 7, true, 30),
		run(t, "etl", 7, true, 30),
	}
	got := p.Predict("etl", strategy.DefaultParameters(), records)
	if got.RecommendedTime != "0 7 * * *" {
		t.Fatalf("recommended %q, want hour 7", got.RecommendedTime)
	}
	if got.Confidence <= 0 {
		t.Fatalf("confidence %v, want above the zero-data baseline", got.Confidence)
	}
}

func TestConfidenceMonotonicInSampleCount(t *testing.T) {
	t.Parallel()
	p := newTestPredictor(t)

	prev := -1.0
	for n := 1; n <= 30; n++ {
		var records []storage.ExecutionRecord
		for i := 0; i < n; i++ {
			records = append(records, run(t, "job", 4, true, 10))
		}
		got := p.Predict("job", strategy.DefaultParameters(), records)
		if got.Confidence < prev {
			t.Fatalf("confidence decreased at n=%d: %v -> %v", n, prev, got.Confidence)
		}
		if got.Confidence < 0 || got.Confidence > 1 {
			t.Fatalf("confidence out of [0,1] at n=%d: %v", n, got.Confidence)
		}
		prev = got.Confidence
	}
	if prev < 1-1e-9 {
		t.Fatalf("confidence did not saturate at 1: %v", prev)
	}
}

func TestPredictBatchSeparatesConflictingJobs(t *testing.T) {
	t.Parallel()
	p := newTestPredictor(t)

	// Two jobs whose execution windows fully overlap at hour 3.
	var records []storage.ExecutionRecord
	for i := 0; i < 4; i++ {
		records = append(records, run(t, "alpha", 3, true, 600))
		records = append(records, run(t, "beta", 3, true, 600))
	}

	preds := p.PredictBatch([]string{"alpha", "beta"}, strategy.DefaultParameters(), records)
	if len(preds) != 2 {
		t.Fatalf("batch returned %d predictions, want 2", len(preds))
	}
	a, b := preds["alpha"].RecommendedTime, preds["beta"].RecommendedTime
	if a == b {
		t.Fatalf("conflicting jobs share a slot: alpha=%q beta=%q", a, b)
	}
}

func TestPredictBatchSpreadsNoDataJobsNowhere(t *testing.T) {
	t.Parallel()
	p := newTestPredictor(t)

	preds := p.PredictBatch([]string{"x", "y"}, strategy.DefaultParameters(), nil)
	for id, pr := range preds {
		if pr.RecommendedTime != "0 3 * * *" || pr.Confidence != 0 {
			t.Fatalf("job %s: got %+v, want default schedule with zero confidence", id, pr)
		}
	}
}

func TestReasoningMentionsConflicts(t *testing.T) {
	t.Parallel()
	p := newTestPredictor(t)

	var records []storage.ExecutionRecord
	for i := 0; i < 3; i++ {
		records = append(records, run(t, "backup", 2, true, 1200))
		records = append(records, run(t, "report", 2, true, 1200))
	}
	got := p.Predict("backup", strategy.DefaultParameters(), records)

	want := "avoids known conflict with job report"
	found := false
	for _, r := range got.Reasoning {
		if r == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasoning %v missing %q", got.Reasoning, want)
	}
	if !strings.HasPrefix(got.Reasoning[0], "counted ") {
		t.Fatalf("reasoning %v does not lead with run counts", got.Reasoning)
	}
}
