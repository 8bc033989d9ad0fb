// Package predictor scores candidate hours for a job against its history
// and recommends a cron schedule with a confidence and plain-language
// reasoning. Predictions are ephemeral; callers may cache them but the
// predictor persists nothing.
package predictor

import (
	"fmt"
	"math"
	"sort"

	"github.com/robfig/cron/v3"

	"cronsage/internal/analyzer"
	"cronsage/internal/storage"
	"cronsage/internal/strategy"
	logx "cronsage/pkg/logx"
)

// Prediction is one schedule recommendation.
type Prediction struct {
	JobID                   string          `json:"job_id"`
	RecommendedTime         string          `json:"recommended_time"`
	Confidence              float64         `json:"confidence"`
	ExpectedDurationSeconds float64         `json:"expected_duration_seconds"`
	PredictedSuccessRate    float64         `json:"predicted_success_rate"`
	ResourceImpact          analyzer.Impact `json:"resource_impact"`
	Reasoning               []string        `json:"reasoning"`
}

// ReasonNoData is the reasoning entry for a job with zero history.
const ReasonNoData = "no historical data"

type Config struct {
	// DefaultSchedule is recommended when a job has no history.
	DefaultSchedule string
	// DefaultDurationSeconds stands in for the expected duration of a job
	// that has never run.
	DefaultDurationSeconds float64
	// ConfidenceSaturation is the sample count at which the confidence
	// sample term reaches 1.
	ConfidenceSaturation int
}

func (c *Config) applyDefaults() {
	if c.DefaultSchedule == "" {
		c.DefaultSchedule = "0 3 * * *"
	}
	if c.DefaultDurationSeconds <= 0 {
		c.DefaultDurationSeconds = 300
	}
	if c.ConfidenceSaturation <= 0 {
		c.ConfidenceSaturation = 20
	}
}

type Predictor struct {
	cfg Config
	an  *analyzer.Analyzer
	log logx.Logger
}

func New(cfg Config, an *analyzer.Analyzer, log logx.Logger) *Predictor {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Predictor{cfg: cfg, an: an, log: log}
}

// Predict recommends a schedule for one job under the given weights,
// considering the whole fleet's records for congestion and conflicts.
func (p *Predictor) Predict(jobID string, params strategy.Parameters, records []storage.ExecutionRecord) Prediction {
	pred, _, _ := p.predict(jobID, params, records, [24]int{})
	return pred
}

// PredictBatch assigns hours greedily in input order. Each job's congestion
// view also counts hours claimed earlier in the same batch, so jobs with
// near-identical histories spread out instead of clustering.
func (p *Predictor) PredictBatch(jobIDs []string, params strategy.Parameters, records []storage.ExecutionRecord) map[string]Prediction {
	out := make(map[string]Prediction, len(jobIDs))
	var claimed [24]int
	for _, id := range jobIDs {
		pred, hour, scored := p.predict(id, params, records, claimed)
		out[id] = pred
		if scored {
			claimed[hour]++
		}
	}
	return out
}

// predict is the scoring core. extra holds hours claimed earlier in a
// batch; scored is false when the job had no history and got the default.
func (p *Predictor) predict(jobID string, params strategy.Parameters, records []storage.ExecutionRecord, extra [24]int) (pred Prediction, hour int, scored bool) {
	stats := p.an.JobStats(jobID, records)
	if stats.TotalRuns == 0 {
		return Prediction{
			JobID:                   jobID,
			RecommendedTime:         p.cfg.DefaultSchedule,
			Confidence:              0,
			ExpectedDurationSeconds: p.cfg.DefaultDurationSeconds,
			PredictedSuccessRate:    0.5,
			ResourceImpact:          p.an.ResourceImpact(p.cfg.DefaultDurationSeconds, nil),
			Reasoning:               []string{ReasonNoData},
		}, 0, false
	}

	congestion := p.an.CongestionByHour(records)
	for h := range congestion {
		congestion[h] += extra[h]
	}
	conflicts := p.an.Conflicts(records)
	conflictLoad := p.an.ConflictLoad(jobID, conflicts, records)

	// Success rates live in [0,1] while congestion and conflict load are
	// raw counts; normalizing both against the busiest hour keeps the three
	// weighted terms commensurate. Raw counts still break ties below.
	normCong := normalize(congestion)
	normConf := normalize(conflictLoad)

	best := 0
	bestScore := math.Inf(-1)
	for h := 0; h < 24; h++ {
		score := params.SuccessWeight*stats.SuccessRate(h) -
			params.ConflictWeight*normConf[h] -
			params.DurationWeight*normCong[h]
		switch {
		case score > bestScore+scoreEpsilon:
			best, bestScore = h, score
		case math.Abs(score-bestScore) <= scoreEpsilon:
			if congestion[h] < congestion[best] {
				best = h
			}
		}
	}

	expr := fmt.Sprintf("0 %d * * *", best)
	if _, err := cron.ParseStandard(expr); err != nil {
		p.log.Warn("recommended expression failed validation",
			logx.String("job", jobID), logx.String("expr", expr), logx.Err(err))
		expr = p.cfg.DefaultSchedule
	}

	attempts := stats.Attempts[best]
	confidence := clamp01(
		math.Min(1, math.Log1p(float64(attempts))/math.Log1p(float64(p.cfg.ConfidenceSaturation))) *
			(1 - stats.OutcomeVariance(best)))

	return Prediction{
		JobID:                   jobID,
		RecommendedTime:         expr,
		Confidence:              confidence,
		ExpectedDurationSeconds: stats.MeanDurationSeconds,
		PredictedSuccessRate:    stats.SuccessRate(best),
		ResourceImpact:          p.an.ResourceImpact(stats.MeanDurationSeconds, stats.MeanUsage),
		Reasoning:               p.reasons(jobID, best, stats, congestion, conflicts, conflictLoad),
	}, best, true
}

// scoreEpsilon separates genuinely better scores from float noise so the
// deterministic tie-breaks apply.
const scoreEpsilon = 1e-9

func (p *Predictor) reasons(jobID string, hour int, stats analyzer.JobStats, congestion [24]int, conflicts analyzer.ConflictSet, conflictLoad [24]int) []string {
	out := []string{
		fmt.Sprintf("counted %d runs at hour %02d with %.0f%% success",
			stats.Attempts[hour], hour, stats.RawSuccessRatio(hour)*100),
	}
	if congestion[hour] > 0 {
		out = append(out, fmt.Sprintf("%d fleet executions historically start at hour %02d", congestion[hour], hour))
	} else {
		out = append(out, fmt.Sprintf("no fleet congestion at hour %02d", hour))
	}

	peers := make([]string, 0, len(conflicts[jobID]))
	for peer := range conflicts[jobID] {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	for _, peer := range peers {
		out = append(out, fmt.Sprintf("avoids known conflict with job %s", peer))
	}
	if len(peers) > 0 && conflictLoad[hour] > 0 {
		out = append(out, fmt.Sprintf("%d conflicting executions share hour %02d", conflictLoad[hour], hour))
	}
	return out
}

func normalize(counts [24]int) [24]float64 {
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	var out [24]float64
	if max == 0 {
		return out
	}
	for h, c := range counts {
		out[h] = float64(c) / float64(max)
	}
	return out
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
