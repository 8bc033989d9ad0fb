package strategy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

type fakeEvaluator struct {
	proxy    float64
	avoid    float64
	jobs     int
	meanErr  float64
	compared int
}

func (f fakeEvaluator) Evaluate(_ context.Context, _ Parameters, _ int) (Evaluation, error) {
	return Evaluation{SuccessProxy: f.proxy, ConflictAvoidance: f.avoid, Jobs: f.jobs}, nil
}

func (f fakeEvaluator) MeanAbsErrorPercent(_ context.Context) (float64, int, error) {
	return f.meanErr, f.compared, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := NewRegistry(st, logx.Nop())
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func TestTrendOver(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{name: "empty", history: nil, want: TrendUnknown},
		{name: "single", history: []float64{50}, want: TrendStable},
		{name: "flat", history: []float64{60, 60.5, 59.8, 60.2, 60}, want: TrendStable},
		{name: "improving", history: []float64{40, 50, 60, 70, 80}, want: TrendImproving},
		{name: "declining", history: []float64{80, 70, 60, 50, 40}, want: TrendDeclining},
		{name: "window ignores old decline", history: []float64{90, 80, 40, 50, 60, 70, 80}, want: TrendImproving},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s := Strategy{PerformanceHistory: tt.history}
			if got := s.TrendOver(5, 4.0, 0.5); got != tt.want {
				t.Fatalf("TrendOver(%v) = %s, want %s", tt.history, got, tt.want)
			}
		})
	}
}

func TestRegistryLoadSeedsDefault(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	def, ok := reg.Get(DefaultName)
	if !ok {
		t.Fatal("default strategy not seeded")
	}
	if def.Parameters != DefaultParameters() {
		t.Fatalf("unexpected default parameters: %+v", def.Parameters)
	}
	if got := reg.Active().Name; got != DefaultName {
		t.Fatalf("Active() = %s, want default while unscored", got)
	}
}

func TestAdaptAppendsExactlyOneScore(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	ml := NewMetaLearner(Config{}, reg, fakeEvaluator{proxy: 0.9, avoid: 1, jobs: 3, meanErr: 10, compared: 5}, logx.Nop())

	before, _ := reg.Get(DefaultName)
	for i := 0; i < 4; i++ {
		s, err := ml.Adapt(context.Background(), DefaultName)
		if err != nil {
			t.Fatalf("Adapt: %v", err)
		}
		if len(s.PerformanceHistory) != len(before.PerformanceHistory)+i+1 {
			t.Fatalf("history grew by more than one: %d after %d adapts", len(s.PerformanceHistory), i+1)
		}
		p := s.Parameters
		for name, v := range map[string]float64{
			"success":  p.SuccessWeight,
			"duration": p.DurationWeight,
			"conflict": p.ConflictWeight,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("%s weight out of [0,1]: %v", name, v)
			}
		}
	}
}

func TestAdaptUnknownStrategy(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	ml := NewMetaLearner(Config{}, reg, fakeEvaluator{jobs: 1}, logx.Nop())
	if _, err := ml.Adapt(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestScoreNeutralWithoutHistory(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	ml := NewMetaLearner(Config{}, reg, fakeEvaluator{jobs: 0}, logx.Nop())
	def, _ := reg.Get(DefaultName)
	score, err := ml.Score(context.Background(), def)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != neutralScore {
		t.Fatalf("Score = %v, want neutral %v with no history", score, neutralScore)
	}
}

func TestEvolveKeepsBoundsAndDefault(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	cfg := Config{EliteCount: 2, MinPopulation: 1, MaxPopulation: 6}
	ml := NewMetaLearner(cfg, reg, fakeEvaluator{proxy: 0.8, avoid: 0.9, jobs: 2, compared: 0}, logx.Nop())

	for gen := 0; gen < 3; gen++ {
		if err := ml.Evolve(context.Background()); err != nil {
			t.Fatalf("Evolve: %v", err)
		}
		if n := reg.Size(); n < cfg.MinPopulation || n > cfg.MaxPopulation {
			t.Fatalf("population %d out of bounds [%d,%d]", n, cfg.MinPopulation, cfg.MaxPopulation)
		}
		if _, ok := reg.Get(DefaultName); !ok {
			t.Fatal("default strategy was removed by evolution")
		}
		for _, s := range reg.All() {
			p := s.Parameters
			if p.SuccessWeight < 0 || p.SuccessWeight > 1 ||
				p.DurationWeight < 0 || p.DurationWeight > 1 ||
				p.ConflictWeight < 0 || p.ConflictWeight > 1 {
				t.Fatalf("strategy %s has weights outside [0,1]: %+v", s.Name, p)
			}
			if p.LearningRate <= 0 || p.LearningRate > 0.5 {
				t.Fatalf("strategy %s has learning rate out of range: %v", s.Name, p.LearningRate)
			}
		}
	}
}

func TestEvolvePrefersBetterParent(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	ctx := context.Background()

	// Seed a clearly better second strategy via the registry's own path.
	better := Strategy{
		Name:               "hot",
		Parameters:         Parameters{SuccessWeight: 1, DurationWeight: 0, ConflictWeight: 0, LearningRate: 0.05},
		PerformanceHistory: []float64{90, 92, 95},
		LastUpdated:        time.Now().UTC(),
	}
	if err := reg.put(ctx, better); err != nil {
		t.Fatalf("put: %v", err)
	}

	ml := NewMetaLearner(Config{EliteCount: 1, MaxPopulation: 4}, reg, fakeEvaluator{jobs: 1}, logx.Nop())
	if err := ml.Evolve(ctx); err != nil {
		t.Fatalf("Evolve: %v", err)
	}
	if _, ok := reg.Get("hot"); !ok {
		t.Fatal("best strategy did not survive as elite")
	}
	best, summaries := ml.Report()
	if best != "hot" {
		t.Fatalf("Report best = %s, want hot", best)
	}
	if len(summaries) != reg.Size() {
		t.Fatalf("report covers %d strategies, population is %d", len(summaries), reg.Size())
	}
}
