// Package analyzer derives success, congestion, and conflict statistics
// from execution history. Everything here is recomputed on demand from
// record slices; the analyzer persists nothing of its own.
package analyzer

import (
	"time"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

// Config holds the analysis thresholds. All of them are empirically chosen
// tunables surfaced through the service config.
type Config struct {
	// ConflictOverlapThreshold is the fraction of one job's executions whose
	// windows must overlap another job's windows for the pair to conflict.
	ConflictOverlapThreshold float64

	// CPUThreshold / MemoryThreshold raise resource impact one level when the
	// job's mean reported usage exceeds them.
	CPUThreshold    float64
	MemoryThreshold float64

	// Duration cutoffs for impact classification.
	LowDurationMax    time.Duration
	MediumDurationMax time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConflictOverlapThreshold <= 0 {
		c.ConflictOverlapThreshold = 0.30
	}
	if c.CPUThreshold <= 0 {
		c.CPUThreshold = 80
	}
	if c.MemoryThreshold <= 0 {
		c.MemoryThreshold = 80
	}
	if c.LowDurationMax <= 0 {
		c.LowDurationMax = 2 * time.Minute
	}
	if c.MediumDurationMax <= 0 {
		c.MediumDurationMax = 10 * time.Minute
	}
}

type Analyzer struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Analyzer {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Analyzer{cfg: cfg, log: log}
}

// JobStats aggregates one job's history by hour of day.
type JobStats struct {
	JobID     string
	TotalRuns int

	Attempts  [24]int
	Successes [24]int

	MeanDurationSeconds float64
	// MeanUsage averages reported resource metrics across runs that carry them.
	MeanUsage map[string]float64
}

// SuccessRate returns the Laplace-smoothed success ratio for an hour:
// (successes+1)/(attempts+2). Sparse hours regress toward 0.5 instead of
// producing degenerate 0/1 estimates.
func (s JobStats) SuccessRate(hour int) float64 {
	return float64(s.Successes[hour]+1) / float64(s.Attempts[hour]+2)
}

// RawSuccessRatio is the unsmoothed ratio; 0 when the hour has no attempts.
func (s JobStats) RawSuccessRatio(hour int) float64 {
	if s.Attempts[hour] == 0 {
		return 0
	}
	return float64(s.Successes[hour]) / float64(s.Attempts[hour])
}

// OutcomeVariance is the Bernoulli variance p(1-p) of raw outcomes at an
// hour. All-success or all-failure hours have zero variance.
func (s JobStats) OutcomeVariance(hour int) float64 {
	if s.Attempts[hour] == 0 {
		return 0
	}
	p := s.RawSuccessRatio(hour)
	return p * (1 - p)
}

// JobStats computes per-hour statistics for one job from its records.
func (a *Analyzer) JobStats(jobID string, records []storage.ExecutionRecord) JobStats {
	st := JobStats{JobID: jobID}
	var (
		durTotal    float64
		usageTotals map[string]float64
		usageCounts map[string]int
	)
	for _, r := range records {
		if r.JobID != jobID {
			continue
		}
		h := r.HourOfDay
		if h < 0 || h > 23 {
			continue
		}
		st.TotalRuns++
		st.Attempts[h]++
		if r.Success {
			st.Successes[h]++
		}
		durTotal += r.DurationSeconds
		for k, v := range r.ResourceUsage {
			if usageTotals == nil {
				usageTotals = map[string]float64{}
				usageCounts = map[string]int{}
			}
			usageTotals[k] += v
			usageCounts[k]++
		}
	}
	if st.TotalRuns > 0 {
		st.MeanDurationSeconds = durTotal / float64(st.TotalRuns)
	}
	if usageTotals != nil {
		st.MeanUsage = make(map[string]float64, len(usageTotals))
		for k, total := range usageTotals {
			st.MeanUsage[k] = total / float64(usageCounts[k])
		}
	}
	return st
}

// CongestionByHour counts every job's executions starting in each hour.
// It is the proxy for shared-resource contention across the fleet.
func (a *Analyzer) CongestionByHour(records []storage.ExecutionRecord) [24]int {
	var out [24]int
	for _, r := range records {
		if r.HourOfDay >= 0 && r.HourOfDay < 24 {
			out[r.HourOfDay]++
		}
	}
	return out
}

// JobIDs returns the distinct job ids present in records, in first-seen order.
func JobIDs(records []storage.ExecutionRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range records {
		if !seen[r.JobID] {
			seen[r.JobID] = true
			out = append(out, r.JobID)
		}
	}
	return out
}
