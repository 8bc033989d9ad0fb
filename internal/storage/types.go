package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBusy means the writer slot (or database lock) could not be acquired
	// within the configured busy timeout. Transient; callers should retry
	// with backoff.
	ErrBusy = errors.New("storage busy")

	// ErrClosed means the store was closed.
	ErrClosed = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file
type Config struct {
	Driver string
	Path   string
	// BusyTimeout bounds the wait for the serialized append path.
	// 0 means default (2s).
	BusyTimeout time.Duration
}

// ExecutionRecord is one observed job run.
// Immutable once appended; history is the learning substrate.
type ExecutionRecord struct {
	JobID           string             `json:"job_id"`
	StartTime       time.Time          `json:"start_time"`
	DurationSeconds float64            `json:"duration_seconds"`
	Success         bool               `json:"success"`
	ResourceUsage   map[string]float64 `json:"resource_usage,omitempty"`

	// Derived at creation so analysis never recomputes timezone math.
	HourOfDay int `json:"hour_of_day"`
	DayOfWeek int `json:"day_of_week"` // time.Weekday numbering (0 = Sunday)
}

// NewExecutionRecord validates inputs and derives hour/day fields.
func NewExecutionRecord(jobID string, start time.Time, durationSeconds float64, success bool, usage map[string]float64) (ExecutionRecord, error) {
	rec := ExecutionRecord{
		JobID:           strings.TrimSpace(jobID),
		StartTime:       start,
		DurationSeconds: durationSeconds,
		Success:         success,
		ResourceUsage:   usage,
		HourOfDay:       start.Hour(),
		DayOfWeek:       int(start.Weekday()),
	}
	if err := rec.Validate(); err != nil {
		return ExecutionRecord{}, err
	}
	return rec, nil
}

func (r ExecutionRecord) Validate() error {
	if r.JobID == "" {
		return errors.New("job_id is required")
	}
	if r.StartTime.IsZero() {
		return errors.New("start_time is required")
	}
	if r.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must be >= 0, got %v", r.DurationSeconds)
	}
	if r.HourOfDay < 0 || r.HourOfDay > 23 {
		return fmt.Errorf("hour_of_day out of range: %d", r.HourOfDay)
	}
	return nil
}

// EndTime is the end of the record's conflict window.
func (r ExecutionRecord) EndTime() time.Time {
	return r.StartTime.Add(time.Duration(r.DurationSeconds * float64(time.Second)))
}

// ExecutionComparison is one closed feedback loop: predicted vs actual
// duration for a tracked run. Append-only, written by the accuracy tracker.
type ExecutionComparison struct {
	ID                     string    `json:"id"`
	JobID                  string    `json:"job_id"`
	PredictedDuration      float64   `json:"predicted_duration"`
	ActualDuration         float64   `json:"actual_duration"`
	PredictionErrorPercent float64   `json:"prediction_error_percent"`
	Timestamp              time.Time `json:"timestamp"`
}

func (c ExecutionComparison) Validate() error {
	if strings.TrimSpace(c.JobID) == "" {
		return errors.New("job_id is required")
	}
	if c.ActualDuration < 0 || c.PredictedDuration < 0 {
		return errors.New("durations must be >= 0")
	}
	return nil
}

// StrategyRecord is the persisted form of a scheduling strategy.
// Weights are kept in [0,1]; performance scores in [0,100], oldest first.
type StrategyRecord struct {
	Name               string    `json:"name"`
	SuccessWeight      float64   `json:"success_weight"`
	DurationWeight     float64   `json:"duration_weight"`
	ConflictWeight     float64   `json:"conflict_weight"`
	LearningRate       float64   `json:"learning_rate"`
	PerformanceHistory []float64 `json:"performance_history"`
	LastUpdated        time.Time `json:"last_updated"`
}
