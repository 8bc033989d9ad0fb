// Package advisor is the service facade: it owns the store, the analysis
// and prediction pipeline, the strategy table, and the accuracy tracker,
// and exposes the operations the CLI and HTTP surfaces call.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cronsage/internal/accuracy"
	"cronsage/internal/analyzer"
	"cronsage/internal/predictor"
	"cronsage/internal/storage"
	"cronsage/internal/strategy"
	logx "cronsage/pkg/logx"
)

type Config struct {
	Analyzer  analyzer.Config
	Predictor predictor.Config
	Strategy  strategy.Config
}

type Advisor struct {
	store   storage.Store
	an      *analyzer.Analyzer
	pred    *predictor.Predictor
	reg     *strategy.Registry
	learner *strategy.MetaLearner
	tracker *accuracy.Tracker
	log     logx.Logger

	mu     sync.RWMutex
	cached map[string]predictor.Prediction
}

// New wires the pipeline around an opened store and loads the strategy
// table. The advisor itself serves as the meta-learner's evaluator.
func New(ctx context.Context, cfg Config, store storage.Store, log logx.Logger) (*Advisor, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	an := analyzer.New(cfg.Analyzer, log)

	a := &Advisor{
		store:   store,
		an:      an,
		pred:    predictor.New(cfg.Predictor, an, log),
		reg:     strategy.NewRegistry(store, log),
		tracker: accuracy.New(store, log),
		log:     log,
		cached:  map[string]predictor.Prediction{},
	}
	a.learner = strategy.NewMetaLearner(cfg.Strategy, a.reg, a, log)

	if err := a.reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	return a, nil
}

// RecordExecution validates and appends one observed run.
func (a *Advisor) RecordExecution(ctx context.Context, jobID string, start time.Time, durationSeconds float64, success bool, usage map[string]float64) (storage.ExecutionRecord, error) {
	rec, err := storage.NewExecutionRecord(jobID, start, durationSeconds, success, usage)
	if err != nil {
		return storage.ExecutionRecord{}, err
	}
	if err := storage.Retry(ctx, func() error {
		return a.store.AppendExecution(ctx, rec)
	}); err != nil {
		return storage.ExecutionRecord{}, fmt.Errorf("append execution: %w", err)
	}
	a.log.Debug("execution recorded",
		logx.String("job", rec.JobID),
		logx.Int("hour", rec.HourOfDay),
		logx.Bool("success", rec.Success),
	)
	return rec, nil
}

// Predict recommends a schedule for one job under the active strategy.
// The result is cached so a later TrackExecution can compare against it.
func (a *Advisor) Predict(ctx context.Context, jobID string) (predictor.Prediction, error) {
	records, err := a.store.Executions(ctx, "")
	if err != nil {
		return predictor.Prediction{}, err
	}
	pred := a.pred.Predict(jobID, a.reg.Active().Parameters, records)

	a.mu.Lock()
	a.cached[jobID] = pred
	a.mu.Unlock()
	return pred, nil
}

// PredictBatch recommends schedules for several jobs at once, spreading
// them across slots. All results are cached.
func (a *Advisor) PredictBatch(ctx context.Context, jobIDs []string) (map[string]predictor.Prediction, error) {
	records, err := a.store.Executions(ctx, "")
	if err != nil {
		return nil, err
	}
	preds := a.pred.PredictBatch(jobIDs, a.reg.Active().Parameters, records)

	a.mu.Lock()
	for id, p := range preds {
		a.cached[id] = p
	}
	a.mu.Unlock()
	return preds, nil
}

// TrackExecution closes the loop for one run: the expected duration comes
// from the job's cached prediction, or from a fresh one when nothing was
// cached (first report for a job, or a restart in between).
func (a *Advisor) TrackExecution(ctx context.Context, jobID string, start, end time.Time, success bool, usage map[string]float64) (storage.ExecutionComparison, error) {
	a.mu.RLock()
	pred, ok := a.cached[jobID]
	a.mu.RUnlock()
	if !ok {
		fresh, err := a.Predict(ctx, jobID)
		if err != nil {
			return storage.ExecutionComparison{}, err
		}
		pred = fresh
	}
	return a.tracker.TrackExecution(ctx, jobID, start, end, success, usage, pred.ExpectedDurationSeconds)
}

// AccuracyMetrics reports the error distribution, optionally for one job.
func (a *Advisor) AccuracyMetrics(ctx context.Context, jobID string) (accuracy.Metrics, error) {
	return a.tracker.Metrics(ctx, jobID)
}

func (a *Advisor) BestPredictions(ctx context.Context, limit int) ([]storage.ExecutionComparison, error) {
	return a.tracker.Best(ctx, limit)
}

func (a *Advisor) WorstPredictions(ctx context.Context, limit int) ([]storage.ExecutionComparison, error) {
	return a.tracker.Worst(ctx, limit)
}

// Report combines the strategy table's state with realized accuracy.
type Report struct {
	GeneratedAt  time.Time          `json:"generated_at"`
	BestStrategy string             `json:"best_strategy"`
	Strategies   []strategy.Summary `json:"strategies"`
	Accuracy     accuracy.Metrics   `json:"accuracy"`
}

func (a *Advisor) MetaLearningReport(ctx context.Context) (Report, error) {
	acc, err := a.tracker.Metrics(ctx, "")
	if err != nil {
		return Report{}, err
	}
	best, summaries := a.learner.Report()
	return Report{
		GeneratedAt:  time.Now().UTC(),
		BestStrategy: best,
		Strategies:   summaries,
		Accuracy:     acc,
	}, nil
}

// ExportMetrics writes the report as indented JSON, temp-then-rename so a
// reader never observes a partial file.
func (a *Advisor) ExportMetrics(ctx context.Context, path string) error {
	report, err := a.MetaLearningReport(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	a.log.Info("metrics exported", logx.String("path", path))
	return nil
}

// Adapt re-scores and nudges every strategy.
func (a *Advisor) Adapt(ctx context.Context) error {
	return a.learner.AdaptAll(ctx)
}

// AdaptStrategy adapts one strategy by name.
func (a *Advisor) AdaptStrategy(ctx context.Context, name string) (strategy.Strategy, error) {
	return a.learner.Adapt(ctx, name)
}

// Evolve runs one generation of strategy evolution.
func (a *Advisor) Evolve(ctx context.Context) error {
	return a.learner.Evolve(ctx)
}

// Active returns the strategy currently steering predictions.
func (a *Advisor) Active() strategy.Strategy {
	return a.reg.Active()
}
