package config

// Config is the full service configuration.
//
// Accepted on disk as JSON or YAML (YAML is coerced to JSON before the
// strict decode, so unknown keys are rejected for both formats).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Analyzer holds the empirically chosen analysis thresholds.
	// They are tunables, not laws; the defaults match observed behavior.
	Analyzer AnalyzerConfig `json:"analyzer,omitempty"`

	Predictor PredictorConfig `json:"predictor,omitempty"`
	Strategy  StrategyConfig  `json:"strategy,omitempty"`
	Server    ServerConfig    `json:"server,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./cronsage_data" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout bounds how long an append waits for the writer slot
	// (file driver) or the database lock (sqlite) before reporting busy.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AnalyzerConfig controls pattern analysis.
//
// Defaults (when fields are omitted/zero):
//   - conflict_overlap_threshold: 0.30
//   - cpu_threshold: 80
//   - memory_threshold: 80
//   - low_duration_max: "2m"
//   - medium_duration_max: "10m"
type AnalyzerConfig struct {
	// ConflictOverlapThreshold is the fraction of one job's executions that
	// must overlap another job's execution windows before the pair counts
	// as conflicting.
	ConflictOverlapThreshold float64 `json:"conflict_overlap_threshold,omitempty"`

	// CPUThreshold / MemoryThreshold raise resource impact one level when a
	// job's reported usage exceeds them.
	CPUThreshold    float64 `json:"cpu_threshold,omitempty"`
	MemoryThreshold float64 `json:"memory_threshold,omitempty"`

	LowDurationMax    string `json:"low_duration_max,omitempty"`
	MediumDurationMax string `json:"medium_duration_max,omitempty"`
}

// PredictorConfig controls slot scoring.
//
// Defaults (when fields are omitted/zero):
//   - default_schedule: "0 3 * * *"
//   - default_duration_seconds: 300
//   - confidence_saturation: 20
type PredictorConfig struct {
	// DefaultSchedule is returned for jobs with no history.
	DefaultSchedule string `json:"default_schedule,omitempty"`

	// DefaultDurationSeconds is the expected duration for jobs with no history.
	DefaultDurationSeconds float64 `json:"default_duration_seconds,omitempty"`

	// ConfidenceSaturation is the sample count at which confidence saturates.
	ConfidenceSaturation int `json:"confidence_saturation,omitempty"`
}

// StrategyConfig controls the strategy registry and meta-learner.
//
// Defaults (when fields are omitted/zero):
//   - trend_window: 5
//   - trend_variance_threshold: 4.0
//   - trend_slope_threshold: 0.5
//   - elite_count: 3
//   - min_population: 1
//   - max_population: 8
//   - mutation_scale: 0.5
//   - representative_jobs: 25
//   - adapt_schedule: "15 * * * *"
//   - evolve_schedule: "45 3 * * *"
type StrategyConfig struct {
	TrendWindow            int     `json:"trend_window,omitempty"`
	TrendVarianceThreshold float64 `json:"trend_variance_threshold,omitempty"`
	TrendSlopeThreshold    float64 `json:"trend_slope_threshold,omitempty"`

	EliteCount    int     `json:"elite_count,omitempty"`
	MinPopulation int     `json:"min_population,omitempty"`
	MaxPopulation int     `json:"max_population,omitempty"`
	MutationScale float64 `json:"mutation_scale,omitempty"`

	// RepresentativeJobs caps how many jobs a strategy is scored against.
	RepresentativeJobs int `json:"representative_jobs,omitempty"`

	// AdaptSchedule / EvolveSchedule are standard 5-field cron expressions
	// driving the periodic meta-learning loop in serve mode.
	AdaptSchedule  string `json:"adapt_schedule,omitempty"`
	EvolveSchedule string `json:"evolve_schedule,omitempty"`
}

// ServerConfig controls the optional HTTP API.
//
// Security note: prefer binding to localhost; the API is unauthenticated.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8530"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// RatePerSec limits mutating requests (ingest/track). 0 keeps the default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}
