package analyzer

import (
	"testing"
	"time"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

func rec(t *testing.T, job string, start time.Time, durSec float64, success bool) storage.ExecutionRecord {
	t.Helper()
	r, err := storage.NewExecutionRecord(job, start, durSec, success, nil)
	if err != nil {
		t.Fatalf("NewExecutionRecord: %v", err)
	}
	return r
}

func TestJobStatsSmoothing(t *testing.T) {
	t.Parallel()
	a := New(Config{}, logx.Nop())
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	var records []storage.ExecutionRecord
	for i := 0; i < 4; i++ {
		records = append(records, rec(t, "build", base.AddDate(0, 0, i), 60, true))
	}
	records = append(records, rec(t, "build", base.AddDate(0, 0, 4), 60, false))
	// another job's records must not leak in
	records = append(records, rec(t, "other", base, 60, false))

	st := a.JobStats("build", records)
	if st.TotalRuns != 5 {
		t.Fatalf("TotalRuns = %d, want 5", st.TotalRuns)
	}
	// 4 successes of 5 attempts at hour 9: (4+1)/(5+2)
	want := 5.0 / 7.0
	if got := st.SuccessRate(9); got != want {
		t.Fatalf("SuccessRate(9) = %v, want %v", got, want)
	}
	// Empty hour regresses to 0.5, never 0 or 1.
	if got := st.SuccessRate(0); got != 0.5 {
		t.Fatalf("SuccessRate(0) = %v, want 0.5", got)
	}
	if v := st.OutcomeVariance(9); v <= 0 {
		t.Fatalf("expected positive variance for mixed outcomes, got %v", v)
	}
}

func TestCongestionCountsAllJobs(t *testing.T) {
	t.Parallel()
	a := New(Config{}, logx.Nop())
	base := time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)
	records := []storage.ExecutionRecord{
		rec(t, "a", base, 60, true),
		rec(t, "b", base.Add(10*time.Minute), 60, true),
		rec(t, "c", base.Add(5*time.Hour), 60, true),
	}
	cong := a.CongestionByHour(records)
	if cong[6] != 2 || cong[11] != 1 {
		t.Fatalf("unexpected congestion: hour6=%d hour11=%d", cong[6], cong[11])
	}
}

func TestConflictsOverlapThreshold(t *testing.T) {
	t.Parallel()
	a := New(Config{ConflictOverlapThreshold: 0.30}, logx.Nop())
	base := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)

	var records []storage.ExecutionRecord
	// job A: 10 executions of 30 min at 02:00
	for i := 0; i < 10; i++ {
		records = append(records, rec(t, "a", base.AddDate(0, 0, i), 1800, true))
	}
	// job B overlaps A's window on 4 of A's days (40% >= 30%)
	for i := 0; i < 4; i++ {
		records = append(records, rec(t, "b", base.AddDate(0, 0, i).Add(15*time.Minute), 1800, true))
	}
	// job C runs at a different time entirely
	for i := 0; i < 4; i++ {
		records = append(records, rec(t, "c", base.AddDate(0, 0, i).Add(8*time.Hour), 1800, true))
	}

	conflicts := a.Conflicts(records)
	if !conflicts.Conflicting("a", "b") || !conflicts.Conflicting("b", "a") {
		t.Fatal("expected a and b to conflict symmetrically")
	}
	if conflicts.Conflicting("a", "c") {
		t.Fatal("did not expect a and c to conflict")
	}

	load := a.ConflictLoad("a", conflicts, records)
	if load[2] != 4 {
		t.Fatalf("ConflictLoad hour2 = %d, want 4", load[2])
	}
}

func TestConflictsBelowThreshold(t *testing.T) {
	t.Parallel()
	a := New(Config{ConflictOverlapThreshold: 0.30}, logx.Nop())
	base := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)

	var records []storage.ExecutionRecord
	for i := 0; i < 10; i++ {
		records = append(records, rec(t, "a", base.AddDate(0, 0, i), 1800, true))
	}
	// only 2 of 10 (20%) overlap, and all of b's 2 overlap... so b's ratio is
	// 100% and the pair still conflicts; keep b busy elsewhere to dilute it.
	for i := 0; i < 2; i++ {
		records = append(records, rec(t, "b", base.AddDate(0, 0, i).Add(15*time.Minute), 1800, true))
	}
	for i := 0; i < 8; i++ {
		records = append(records, rec(t, "b", base.AddDate(0, 0, i).Add(10*time.Hour), 1800, true))
	}

	conflicts := a.Conflicts(records)
	if conflicts.Conflicting("a", "b") {
		t.Fatal("expected no conflict below the overlap threshold")
	}
}

func TestResourceImpact(t *testing.T) {
	t.Parallel()
	a := New(Config{}, logx.Nop())
	tests := []struct {
		name   string
		durSec float64
		usage  map[string]float64
		want   Impact
	}{
		{name: "short", durSec: 30, want: ImpactLow},
		{name: "medium", durSec: 300, want: ImpactMedium},
		{name: "long", durSec: 900, want: ImpactHigh},
		{name: "boundary low", durSec: 119, want: ImpactLow},
		{name: "boundary medium", durSec: 600, want: ImpactMedium},
		{name: "short but cpu heavy", durSec: 30, usage: map[string]float64{UsageCPU: 95}, want: ImpactMedium},
		{name: "medium and memory heavy", durSec: 300, usage: map[string]float64{UsageMemory: 90}, want: ImpactHigh},
		{name: "high stays high", durSec: 900, usage: map[string]float64{UsageCPU: 99}, want: ImpactHigh},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := a.ResourceImpact(tt.durSec, tt.usage); got != tt.want {
				t.Fatalf("ResourceImpact(%v, %v) = %s, want %s", tt.durSec, tt.usage, got, tt.want)
			}
		})
	}
}
