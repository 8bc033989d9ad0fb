package analyzer

import "time"

// Impact classifies how heavy a job is on shared resources.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Fixed metric keys recognized in resource_usage. Other keys are carried
// but do not influence classification.
const (
	UsageCPU    = "cpu"
	UsageMemory = "memory"
)

// ResourceImpact classifies by mean duration, then raises the level once
// when mean reported CPU or memory usage exceeds the configured thresholds.
func (a *Analyzer) ResourceImpact(meanDurationSeconds float64, meanUsage map[string]float64) Impact {
	d := time.Duration(meanDurationSeconds * float64(time.Second))
	impact := ImpactLow
	switch {
	case d > a.cfg.MediumDurationMax:
		impact = ImpactHigh
	case d >= a.cfg.LowDurationMax:
		impact = ImpactMedium
	}

	if meanUsage[UsageCPU] > a.cfg.CPUThreshold || meanUsage[UsageMemory] > a.cfg.MemoryThreshold {
		impact = impact.raise()
	}
	return impact
}

func (i Impact) raise() Impact {
	switch i {
	case ImpactLow:
		return ImpactMedium
	case ImpactMedium:
		return ImpactHigh
	default:
		return ImpactHigh
	}
}
