package analyzer

import "cronsage/internal/storage"

// ConflictSet maps a job to the set of jobs it conflicts with. Symmetric:
// if b is in m[a], a is in m[b].
type ConflictSet map[string]map[string]bool

// Conflicting reports whether a and b are known to conflict.
func (m ConflictSet) Conflicting(a, b string) bool {
	return m[a][b]
}

// Conflicts detects pairwise job conflicts. Two jobs conflict when the
// [start, start+duration] windows of one job's executions overlap the other
// job's windows in at least the configured fraction of either job's runs.
func (a *Analyzer) Conflicts(records []storage.ExecutionRecord) ConflictSet {
	byJob := map[string][]storage.ExecutionRecord{}
	for _, r := range records {
		byJob[r.JobID] = append(byJob[r.JobID], r)
	}

	jobs := JobIDs(records)
	out := ConflictSet{}
	add := func(x, y string) {
		if out[x] == nil {
			out[x] = map[string]bool{}
		}
		out[x][y] = true
	}

	for i := 0; i < len(jobs); i++ {
		for j := i + 1; j < len(jobs); j++ {
			ra, rb := byJob[jobs[i]], byJob[jobs[j]]
			if overlapRatio(ra, rb) >= a.cfg.ConflictOverlapThreshold ||
				overlapRatio(rb, ra) >= a.cfg.ConflictOverlapThreshold {
				add(jobs[i], jobs[j])
				add(jobs[j], jobs[i])
			}
		}
	}
	return out
}

// overlapRatio is the fraction of a's executions whose window overlaps any
// of b's execution windows.
func overlapRatio(a, b []storage.ExecutionRecord) float64 {
	if len(a) == 0 {
		return 0
	}
	overlapping := 0
	for _, ra := range a {
		aEnd := ra.EndTime()
		for _, rb := range b {
			if ra.StartTime.Before(rb.EndTime()) && rb.StartTime.Before(aEnd) {
				overlapping++
				break
			}
		}
	}
	return float64(overlapping) / float64(len(a))
}

// ConflictLoad counts, per hour, executions belonging to jobs that conflict
// with jobID. The predictor subtracts this signal from candidate slots.
func (a *Analyzer) ConflictLoad(jobID string, conflicts ConflictSet, records []storage.ExecutionRecord) [24]int {
	var out [24]int
	peers := conflicts[jobID]
	if len(peers) == 0 {
		return out
	}
	for _, r := range records {
		if peers[r.JobID] && r.HourOfDay >= 0 && r.HourOfDay < 24 {
			out[r.HourOfDay]++
		}
	}
	return out
}
