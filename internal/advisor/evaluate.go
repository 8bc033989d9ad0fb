package advisor

import (
	"context"
	"fmt"

	"cronsage/internal/analyzer"
	"cronsage/internal/strategy"
)

// Evaluate re-runs prediction for up to maxJobs known jobs under candidate
// parameters and measures how the recommendations would fare: the mean
// predicted success rate, and the fraction of jobs whose recommended hour
// is free of executions from conflicting jobs.
func (a *Advisor) Evaluate(ctx context.Context, p strategy.Parameters, maxJobs int) (strategy.Evaluation, error) {
	records, err := a.store.Executions(ctx, "")
	if err != nil {
		return strategy.Evaluation{}, err
	}
	jobs := analyzer.JobIDs(records)
	if len(jobs) == 0 {
		return strategy.Evaluation{}, nil
	}
	if maxJobs > 0 && len(jobs) > maxJobs {
		jobs = jobs[:maxJobs]
	}

	conflicts := a.an.Conflicts(records)

	var successSum float64
	avoided := 0
	for _, job := range jobs {
		pred := a.pred.Predict(job, p, records)
		successSum += pred.PredictedSuccessRate

		var hour int
		if _, err := fmt.Sscanf(pred.RecommendedTime, "0 %d", &hour); err != nil || hour < 0 || hour > 23 {
			continue
		}
		load := a.an.ConflictLoad(job, conflicts, records)
		if load[hour] == 0 {
			avoided++
		}
	}

	return strategy.Evaluation{
		SuccessProxy:      successSum / float64(len(jobs)),
		ConflictAvoidance: float64(avoided) / float64(len(jobs)),
		Jobs:              len(jobs),
	}, nil
}

// MeanAbsErrorPercent reports realized prediction accuracy for scoring.
func (a *Advisor) MeanAbsErrorPercent(ctx context.Context) (float64, int, error) {
	return a.tracker.MeanAbsErrorPercent(ctx)
}
