package strategy

import (
	"time"

	"cronsage/internal/storage"
)

// DefaultName is the strategy that always exists and is never removed.
const DefaultName = "default"

// Parameters is the weighting vector a strategy applies to slot scoring.
// Weights live in [0,1]; they are not required to sum to 1.
type Parameters struct {
	SuccessWeight  float64 `json:"success_weight"`
	DurationWeight float64 `json:"duration_weight"`
	ConflictWeight float64 `json:"conflict_weight"`
	LearningRate   float64 `json:"learning_rate"`
}

// DefaultParameters favors historical success over congestion and conflicts.
func DefaultParameters() Parameters {
	return Parameters{
		SuccessWeight:  0.7,
		DurationWeight: 0.15,
		ConflictWeight: 0.15,
		LearningRate:   0.1,
	}
}

// Clamp forces weights into [0,1] and the learning rate into (0, 0.5].
func (p Parameters) Clamp() Parameters {
	p.SuccessWeight = clamp01(p.SuccessWeight)
	p.DurationWeight = clamp01(p.DurationWeight)
	p.ConflictWeight = clamp01(p.ConflictWeight)
	if p.LearningRate < 0.01 {
		p.LearningRate = 0.01
	}
	if p.LearningRate > 0.5 {
		p.LearningRate = 0.5
	}
	return p
}

func (p Parameters) add(d Parameters) Parameters {
	p.SuccessWeight += d.SuccessWeight
	p.DurationWeight += d.DurationWeight
	p.ConflictWeight += d.ConflictWeight
	p.LearningRate += d.LearningRate
	return p
}

func (p Parameters) isZero() bool {
	return p == Parameters{}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Trend classifies the recent direction of a strategy's performance.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
	TrendUnknown   Trend = "unknown"
)

// Strategy is one named weighting strategy plus its scoring history.
type Strategy struct {
	Name               string
	Parameters         Parameters
	PerformanceHistory []float64 // scores in [0,100], oldest first
	LastUpdated        time.Time
}

// AveragePerformance is the mean of the full history; 0 when empty.
func (s Strategy) AveragePerformance() float64 {
	if len(s.PerformanceHistory) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.PerformanceHistory {
		sum += v
	}
	return sum / float64(len(s.PerformanceHistory))
}

// TrendOver classifies the trailing window. Variance below the cutoff wins
// over slope: a flat-enough series is stable regardless of its direction.
func (s Strategy) TrendOver(window int, varianceThreshold, slopeThreshold float64) Trend {
	h := s.PerformanceHistory
	if len(h) == 0 {
		return TrendUnknown
	}
	if window > 0 && len(h) > window {
		h = h[len(h)-window:]
	}

	n := float64(len(h))
	var mean float64
	for _, v := range h {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range h {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	if variance < varianceThreshold {
		return TrendStable
	}

	// Least-squares slope against index 0..n-1.
	xMean := (n - 1) / 2
	var num, den float64
	for i, v := range h {
		dx := float64(i) - xMean
		num += dx * (v - mean)
		den += dx * dx
	}
	if den == 0 {
		return TrendStable
	}
	slope := num / den
	switch {
	case slope > slopeThreshold:
		return TrendImproving
	case slope < -slopeThreshold:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func (s Strategy) record() storage.StrategyRecord {
	return storage.StrategyRecord{
		Name:               s.Name,
		SuccessWeight:      s.Parameters.SuccessWeight,
		DurationWeight:     s.Parameters.DurationWeight,
		ConflictWeight:     s.Parameters.ConflictWeight,
		LearningRate:       s.Parameters.LearningRate,
		PerformanceHistory: append([]float64(nil), s.PerformanceHistory...),
		LastUpdated:        s.LastUpdated,
	}
}

func fromRecord(r storage.StrategyRecord) Strategy {
	return Strategy{
		Name: r.Name,
		Parameters: Parameters{
			SuccessWeight:  r.SuccessWeight,
			DurationWeight: r.DurationWeight,
			ConflictWeight: r.ConflictWeight,
			LearningRate:   r.LearningRate,
		},
		PerformanceHistory: append([]float64(nil), r.PerformanceHistory...),
		LastUpdated:        r.LastUpdated,
	}
}
