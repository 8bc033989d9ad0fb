package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	logx "cronsage/pkg/logx"
)

// ErrUnknownStrategy is returned when adapting a name that is not in the table.
var ErrUnknownStrategy = errors.New("unknown strategy")

// maxHistory bounds a strategy's performance log; the oldest score is
// dropped once it is full, so an adaptation never grows it by more than one.
const maxHistory = 100

// Config holds the meta-learning tunables.
type Config struct {
	TrendWindow            int
	TrendVarianceThreshold float64
	TrendSlopeThreshold    float64

	EliteCount    int
	MinPopulation int
	MaxPopulation int
	MutationScale float64

	RepresentativeJobs int
}

func (c *Config) applyDefaults() {
	if c.TrendWindow <= 0 {
		c.TrendWindow = 5
	}
	if c.TrendVarianceThreshold <= 0 {
		c.TrendVarianceThreshold = 4.0
	}
	if c.TrendSlopeThreshold <= 0 {
		c.TrendSlopeThreshold = 0.5
	}
	if c.EliteCount <= 0 {
		c.EliteCount = 3
	}
	if c.MinPopulation <= 0 {
		c.MinPopulation = 1
	}
	if c.MaxPopulation < c.MinPopulation {
		c.MaxPopulation = 8
	}
	if c.MutationScale <= 0 {
		c.MutationScale = 0.5
	}
	if c.RepresentativeJobs <= 0 {
		c.RepresentativeJobs = 25
	}
}

// Evaluation is how a parameter set performed against current history.
type Evaluation struct {
	// SuccessProxy is the mean predicted success rate over the evaluated jobs.
	SuccessProxy float64
	// ConflictAvoidance is the fraction of jobs whose recommended slot is
	// free of known conflicts.
	ConflictAvoidance float64
	// Jobs is how many jobs were evaluated; 0 means no history exists.
	Jobs int
}

// Evaluator re-runs prediction under candidate parameters and reports the
// tracker's realized accuracy. Implemented by the advisor; declared here so
// the meta-learner stays free of prediction plumbing.
type Evaluator interface {
	Evaluate(ctx context.Context, p Parameters, maxJobs int) (Evaluation, error)
	// MeanAbsErrorPercent returns the mean prediction error and the number
	// of comparisons behind it.
	MeanAbsErrorPercent(ctx context.Context) (float64, int, error)
}

// MetaLearner owns all strategy mutation: scoring, hill-climb adaptation,
// and population evolution.
type MetaLearner struct {
	cfg  Config
	reg  *Registry
	eval Evaluator
	log  logx.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	lastDelta map[string]Parameters
}

func NewMetaLearner(cfg Config, reg *Registry, eval Evaluator, log logx.Logger) *MetaLearner {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MetaLearner{
		cfg:       cfg,
		reg:       reg,
		eval:      eval,
		log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		lastDelta: map[string]Parameters{},
	}
}

// neutralScore is reported when there is no history to evaluate against.
const neutralScore = 50.0

// Score rates a strategy in [0,100] by re-running prediction under its
// weights: 40% realized-success proxy, 30% tracker accuracy, 30%
// conflict avoidance.
func (m *MetaLearner) Score(ctx context.Context, s Strategy) (float64, error) {
	ev, err := m.eval.Evaluate(ctx, s.Parameters, m.cfg.RepresentativeJobs)
	if err != nil {
		return 0, fmt.Errorf("evaluate strategy %q: %w", s.Name, err)
	}
	if ev.Jobs == 0 {
		return neutralScore, nil
	}

	meanErr, compared, err := m.eval.MeanAbsErrorPercent(ctx)
	if err != nil {
		return 0, fmt.Errorf("accuracy for strategy %q: %w", s.Name, err)
	}
	accScore := neutralScore
	if compared > 0 {
		accScore = clampScore(100 - meanErr)
	}

	score := 0.4*ev.SuccessProxy*100 + 0.3*accScore + 0.3*ev.ConflictAvoidance*100
	return clampScore(score), nil
}

// Adapt scores a strategy, appends exactly one history entry, and nudges
// its parameters by +/- learning_rate in a trend-directed direction:
// improving keeps the previous adjustment, declining explores with a
// doubled perturbation, stable/unknown takes a small random step.
func (m *MetaLearner) Adapt(ctx context.Context, name string) (Strategy, error) {
	s, ok := m.reg.Get(name)
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	perf, err := m.Score(ctx, s)
	if err != nil {
		return Strategy{}, err
	}

	s.PerformanceHistory = append(s.PerformanceHistory, perf)
	if len(s.PerformanceHistory) > maxHistory {
		s.PerformanceHistory = s.PerformanceHistory[len(s.PerformanceHistory)-maxHistory:]
	}
	trend := s.TrendOver(m.cfg.TrendWindow, m.cfg.TrendVarianceThreshold, m.cfg.TrendSlopeThreshold)

	m.mu.Lock()
	lr := s.Parameters.LearningRate
	var delta Parameters
	switch trend {
	case TrendImproving:
		// Keep climbing the same slope.
		delta = m.lastDelta[name]
		if delta.isZero() {
			delta = m.randomDelta(lr)
		}
	case TrendDeclining:
		// Larger perturbation to escape the current basin.
		delta = m.randomDelta(2 * lr)
	default:
		delta = m.randomDelta(lr)
	}
	m.lastDelta[name] = delta
	m.mu.Unlock()

	s.Parameters = s.Parameters.add(delta).Clamp()
	s.LastUpdated = time.Now().UTC()

	if err := m.reg.put(ctx, s); err != nil {
		return Strategy{}, err
	}
	m.log.Debug("strategy adapted",
		logx.String("name", name),
		logx.Float64("score", perf),
		logx.String("trend", string(trend)),
	)
	return s, nil
}

// AdaptAll adapts every strategy in the table.
func (m *MetaLearner) AdaptAll(ctx context.Context) error {
	for _, s := range m.reg.All() {
		if _, err := m.Adapt(ctx, s.Name); err != nil {
			return err
		}
	}
	return nil
}

// randomDelta perturbs each weight by +/- step (uniform sign). The learning
// rate itself is left alone here; evolution mutates it.
func (m *MetaLearner) randomDelta(step float64) Parameters {
	sign := func() float64 {
		if m.rng.Intn(2) == 0 {
			return -1
		}
		return 1
	}
	return Parameters{
		SuccessWeight:  sign() * step,
		DurationWeight: sign() * step,
		ConflictWeight: sign() * step,
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
