package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Default tunables. See the per-struct doc comments in types.go.
const (
	DefaultConflictOverlapThreshold = 0.30
	DefaultCPUThreshold             = 80.0
	DefaultMemoryThreshold          = 80.0
	DefaultLowDurationMax           = "2m"
	DefaultMediumDurationMax        = "10m"

	DefaultSchedule             = "0 3 * * *"
	DefaultDurationSeconds      = 300.0
	DefaultConfidenceSaturation = 20

	DefaultTrendWindow            = 5
	DefaultTrendVarianceThreshold = 4.0
	DefaultTrendSlopeThreshold    = 0.5
	DefaultEliteCount             = 3
	DefaultMinPopulation          = 1
	DefaultMaxPopulation          = 8
	DefaultMutationScale          = 0.5
	DefaultRepresentativeJobs     = 25
	DefaultAdaptSchedule          = "15 * * * *"
	DefaultEvolveSchedule         = "45 3 * * *"

	DefaultServerAddr = "127.0.0.1:8530"
	DefaultRatePerSec = 20
)

// ApplyDefaults fills omitted/zero fields in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	a := &c.Analyzer
	if a.ConflictOverlapThreshold <= 0 {
		a.ConflictOverlapThreshold = DefaultConflictOverlapThreshold
	}
	if a.CPUThreshold <= 0 {
		a.CPUThreshold = DefaultCPUThreshold
	}
	if a.MemoryThreshold <= 0 {
		a.MemoryThreshold = DefaultMemoryThreshold
	}
	if strings.TrimSpace(a.LowDurationMax) == "" {
		a.LowDurationMax = DefaultLowDurationMax
	}
	if strings.TrimSpace(a.MediumDurationMax) == "" {
		a.MediumDurationMax = DefaultMediumDurationMax
	}

	p := &c.Predictor
	if strings.TrimSpace(p.DefaultSchedule) == "" {
		p.DefaultSchedule = DefaultSchedule
	}
	if p.DefaultDurationSeconds <= 0 {
		p.DefaultDurationSeconds = DefaultDurationSeconds
	}
	if p.ConfidenceSaturation <= 0 {
		p.ConfidenceSaturation = DefaultConfidenceSaturation
	}

	s := &c.Strategy
	if s.TrendWindow <= 0 {
		s.TrendWindow = DefaultTrendWindow
	}
	if s.TrendVarianceThreshold <= 0 {
		s.TrendVarianceThreshold = DefaultTrendVarianceThreshold
	}
	if s.TrendSlopeThreshold <= 0 {
		s.TrendSlopeThreshold = DefaultTrendSlopeThreshold
	}
	if s.EliteCount <= 0 {
		s.EliteCount = DefaultEliteCount
	}
	if s.MinPopulation <= 0 {
		s.MinPopulation = DefaultMinPopulation
	}
	if s.MaxPopulation <= 0 {
		s.MaxPopulation = DefaultMaxPopulation
	}
	if s.MutationScale <= 0 {
		s.MutationScale = DefaultMutationScale
	}
	if s.RepresentativeJobs <= 0 {
		s.RepresentativeJobs = DefaultRepresentativeJobs
	}
	if strings.TrimSpace(s.AdaptSchedule) == "" {
		s.AdaptSchedule = DefaultAdaptSchedule
	}
	if strings.TrimSpace(s.EvolveSchedule) == "" {
		s.EvolveSchedule = DefaultEvolveSchedule
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.RatePerSec <= 0 {
		c.Server.RatePerSec = DefaultRatePerSec
	}
}

// Validate checks cross-field constraints. It assumes ApplyDefaults ran.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		return errors.New("storage.driver is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if c.Analyzer.ConflictOverlapThreshold > 1 {
		return errors.New("analyzer.conflict_overlap_threshold must be in (0,1]")
	}
	if _, err := ParseDurationField("analyzer.low_duration_max", c.Analyzer.LowDurationMax); err != nil {
		return err
	}
	if _, err := ParseDurationField("analyzer.medium_duration_max", c.Analyzer.MediumDurationMax); err != nil {
		return err
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for path, expr := range map[string]string{
		"predictor.default_schedule": c.Predictor.DefaultSchedule,
		"strategy.adapt_schedule":    c.Strategy.AdaptSchedule,
		"strategy.evolve_schedule":   c.Strategy.EvolveSchedule,
	} {
		if _, err := parser.Parse(expr); err != nil {
			return fmt.Errorf("%s: invalid cron expression %q: %w", path, expr, err)
		}
	}

	if c.Strategy.MinPopulation > c.Strategy.MaxPopulation {
		return errors.New("strategy.min_population must be <= strategy.max_population")
	}

	for path, raw := range map[string]string{
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"server.idle_timeout":  c.Server.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}
