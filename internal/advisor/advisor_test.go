package advisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

func newTestAdvisor(t *testing.T) *Advisor {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	a, err := New(context.Background(), Config{}, st, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func seedBuildHistory(t *testing.T, a *Advisor) {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		start := day.AddDate(0, 0, i).Add(3 * time.Hour)
		if _, err := a.RecordExecution(ctx, "build", start, 120, true, nil); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		start := day.AddDate(0, 0, i).Add(15 * time.Hour)
		if _, err := a.RecordExecution(ctx, "build", start, 120, i < 3, nil); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}
}

func TestPredictUsesActiveStrategy(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	seedBuildHistory(t, a)

	pred, err := a.Predict(context.Background(), "build")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.RecommendedTime != "0 3 * * *" {
		t.Fatalf("recommended %q, want hour 3", pred.RecommendedTime)
	}
	if a.Active().Name != "default" {
		t.Fatalf("active strategy %q, want default", a.Active().Name)
	}
}

func TestRecordExecutionValidates(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	ctx := context.Background()

	if _, err := a.RecordExecution(ctx, "", time.Now(), 10, true, nil); err == nil {
		t.Fatal("expected error for empty job id")
	}
	if _, err := a.RecordExecution(ctx, "job", time.Now(), -1, true, nil); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestTrackExecutionUsesCachedPrediction(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	seedBuildHistory(t, a)
	ctx := context.Background()

	pred, err := a.Predict(ctx, "build")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	start := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(pred.ExpectedDurationSeconds * float64(time.Second)))
	cmp, err := a.TrackExecution(ctx, "build", start, end, true, nil)
	if err != nil {
		t.Fatalf("TrackExecution: %v", err)
	}
	if cmp.PredictedDuration != pred.ExpectedDurationSeconds {
		t.Fatalf("compared against %v, want cached %v", cmp.PredictedDuration, pred.ExpectedDurationSeconds)
	}
	if cmp.PredictionErrorPercent != 0 {
		t.Fatalf("error percent %v, want 0 for an exact match", cmp.PredictionErrorPercent)
	}
}

func TestTrackExecutionWithoutCacheRecomputes(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	seedBuildHistory(t, a)
	ctx := context.Background()

	start := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	cmp, err := a.TrackExecution(ctx, "build", start, start.Add(120*time.Second), true, nil)
	if err != nil {
		t.Fatalf("TrackExecution: %v", err)
	}
	if cmp.PredictedDuration != 120 {
		t.Fatalf("fresh prediction duration %v, want the 120s historical mean", cmp.PredictedDuration)
	}
}

func TestMetaLearningCycle(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	seedBuildHistory(t, a)
	ctx := context.Background()

	if err := a.Adapt(ctx); err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if err := a.Evolve(ctx); err != nil {
		t.Fatalf("Evolve: %v", err)
	}

	report, err := a.MetaLearningReport(ctx)
	if err != nil {
		t.Fatalf("MetaLearningReport: %v", err)
	}
	if report.BestStrategy == "" {
		t.Fatal("report has no best strategy")
	}
	if len(report.Strategies) == 0 {
		t.Fatal("report has no strategies")
	}
	found := false
	for _, s := range report.Strategies {
		if s.Name == "default" {
			found = true
		}
	}
	if !found {
		t.Fatal("default strategy missing from report")
	}
}

func TestEvaluateEmptyHistory(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	ev, err := a.Evaluate(context.Background(), a.Active().Parameters, 10)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Jobs != 0 {
		t.Fatalf("evaluated %d jobs with empty history", ev.Jobs)
	}
}

func TestExportMetrics(t *testing.T) {
	t.Parallel()
	a := newTestAdvisor(t)
	seedBuildHistory(t, a)
	ctx := context.Background()

	start := time.Date(2026, 8, 10, 3, 0, 0, 0, time.UTC)
	if _, err := a.TrackExecution(ctx, "build", start, start.Add(100*time.Second), true, nil); err != nil {
		t.Fatalf("TrackExecution: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "metrics.json")
	if err := a.ExportMetrics(ctx, path); err != nil {
		t.Fatalf("ExportMetrics: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if report.Accuracy.TotalComparisons != 1 {
		t.Fatalf("exported %d comparisons, want 1", report.Accuracy.TotalComparisons)
	}
}
