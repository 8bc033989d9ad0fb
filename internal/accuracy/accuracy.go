// Package accuracy closes the feedback loop: it turns reported outcomes
// into execution records plus prediction comparisons, and summarizes the
// realized error distribution.
package accuracy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

// errEpsilon guards the error-percent division against tiny predictions.
const errEpsilon = 1e-9

// Tracker records outcomes and reports accuracy.
type Tracker struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, log: log}
}

// ErrorPercent is |predicted-actual| relative to the prediction, in percent.
// A zero prediction with a nonzero actual is a total miss: 100%.
func ErrorPercent(predicted, actual float64) float64 {
	if predicted <= 0 {
		if actual > 0 {
			return 100
		}
		return 0
	}
	return math.Abs(predicted-actual) / math.Max(predicted, errEpsilon) * 100
}

// TrackExecution appends the observed run to the history store and then
// logs a comparison against the predicted duration. The history append is
// the priority write: it is retried on contention, and a comparison is
// only attempted once the record is durable.
func (t *Tracker) TrackExecution(ctx context.Context, jobID string, start, end time.Time, success bool, usage map[string]float64, predictedDuration float64) (storage.ExecutionComparison, error) {
	if end.Before(start) {
		return storage.ExecutionComparison{}, fmt.Errorf("end %s precedes start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	actual := end.Sub(start).Seconds()

	rec, err := storage.NewExecutionRecord(jobID, start, actual, success, usage)
	if err != nil {
		return storage.ExecutionComparison{}, err
	}
	if err := storage.Retry(ctx, func() error {
		return t.store.AppendExecution(ctx, rec)
	}); err != nil {
		return storage.ExecutionComparison{}, fmt.Errorf("append execution: %w", err)
	}

	cmp := storage.ExecutionComparison{
		ID:                     uuid.NewString(),
		JobID:                  rec.JobID,
		PredictedDuration:      predictedDuration,
		ActualDuration:         actual,
		PredictionErrorPercent: ErrorPercent(predictedDuration, actual),
		Timestamp:              time.Now().UTC(),
	}
	if err := storage.Retry(ctx, func() error {
		return t.store.AppendComparison(ctx, cmp)
	}); err != nil {
		return storage.ExecutionComparison{}, fmt.Errorf("append comparison: %w", err)
	}

	t.log.Debug("execution tracked",
		logx.String("job", cmp.JobID),
		logx.Float64("predicted_s", predictedDuration),
		logx.Float64("actual_s", actual),
		logx.Float64("error_pct", cmp.PredictionErrorPercent),
	)
	return cmp, nil
}

// Metrics summarizes the realized prediction error distribution.
type Metrics struct {
	JobID              string  `json:"job_id,omitempty"`
	TotalComparisons   int     `json:"total_comparisons"`
	MeanErrorPercent   float64 `json:"mean_error_percent"`
	MedianErrorPercent float64 `json:"median_error_percent"`

	// Buckets always sum to TotalComparisons.
	Excellent int `json:"excellent"` // <= 10%
	Good      int `json:"good"`      // <= 25%
	Fair      int `json:"fair"`      // <= 50%
	Poor      int `json:"poor"`      // > 50%

	// OverallScore is clamp(100 - mean error, 0, 100).
	OverallScore float64 `json:"overall_score"`
}

// Metrics computes accuracy over all comparisons, or one job's when jobID
// is non-empty.
func (t *Tracker) Metrics(ctx context.Context, jobID string) (Metrics, error) {
	cmps, err := t.store.Comparisons(ctx, jobID)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{JobID: jobID, TotalComparisons: len(cmps)}
	if len(cmps) == 0 {
		return m, nil
	}

	errs := make([]float64, len(cmps))
	var sum float64
	for i, c := range cmps {
		e := c.PredictionErrorPercent
		errs[i] = e
		sum += e
		switch {
		case e <= 10:
			m.Excellent++
		case e <= 25:
			m.Good++
		case e <= 50:
			m.Fair++
		default:
			m.Poor++
		}
	}
	sort.Float64s(errs)

	m.MeanErrorPercent = sum / float64(len(errs))
	if n := len(errs); n%2 == 1 {
		m.MedianErrorPercent = errs[n/2]
	} else {
		m.MedianErrorPercent = (errs[n/2-1] + errs[n/2]) / 2
	}
	m.OverallScore = math.Max(0, math.Min(100, 100-m.MeanErrorPercent))
	return m, nil
}

// MeanAbsErrorPercent reports the fleet-wide mean error and sample count.
func (t *Tracker) MeanAbsErrorPercent(ctx context.Context) (float64, int, error) {
	m, err := t.Metrics(ctx, "")
	if err != nil {
		return 0, 0, err
	}
	return m.MeanErrorPercent, m.TotalComparisons, nil
}

// Best returns up to limit comparisons with the lowest error percent.
func (t *Tracker) Best(ctx context.Context, limit int) ([]storage.ExecutionComparison, error) {
	return t.ranked(ctx, limit, false)
}

// Worst returns up to limit comparisons with the highest error percent.
func (t *Tracker) Worst(ctx context.Context, limit int) ([]storage.ExecutionComparison, error) {
	return t.ranked(ctx, limit, true)
}

func (t *Tracker) ranked(ctx context.Context, limit int, descending bool) ([]storage.ExecutionComparison, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	cmps, err := t.store.Comparisons(ctx, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cmps, func(i, j int) bool {
		if descending {
			return cmps[i].PredictionErrorPercent > cmps[j].PredictionErrorPercent
		}
		return cmps[i].PredictionErrorPercent < cmps[j].PredictionErrorPercent
	})
	if len(cmps) > limit {
		cmps = cmps[:limit]
	}
	return cmps, nil
}
