package strategy

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	logx "cronsage/pkg/logx"
)

// Evolve runs one generation of elitist selection: the top strategies by
// average performance survive, the rest are replaced by offspring of the two
// best parents (weighted-average crossover plus learning-rate-scaled
// Gaussian mutation). The default strategy always survives and the
// population stays within [MinPopulation, MaxPopulation].
func (m *MetaLearner) Evolve(ctx context.Context) error {
	pop := m.reg.All()
	sort.Slice(pop, func(i, j int) bool {
		return pop[i].AveragePerformance() > pop[j].AveragePerformance()
	})

	elite := m.cfg.EliteCount
	if elite > len(pop) {
		elite = len(pop)
	}

	next := make([]Strategy, 0, m.cfg.MaxPopulation)
	kept := map[string]bool{}
	for _, s := range pop[:elite] {
		next = append(next, s)
		kept[s.Name] = true
	}
	if !kept[DefaultName] {
		for _, s := range pop {
			if s.Name == DefaultName {
				next = append(next, s)
				kept[DefaultName] = true
				break
			}
		}
	}

	p1 := pop[0]
	p2 := p1
	if len(pop) > 1 {
		p2 = pop[1]
	}
	for len(next) < m.cfg.MaxPopulation {
		next = append(next, m.breed(p1, p2))
	}

	replaced := len(pop) - elite
	if replaced < 0 {
		replaced = 0
	}
	if err := m.reg.replaceAll(ctx, next); err != nil {
		return err
	}
	m.log.Info("strategy population evolved",
		logx.Int("population", m.reg.Size()),
		logx.Int("elite", elite),
		logx.Int("replaced", replaced),
		logx.String("best", p1.Name),
	)
	return nil
}

// breed crosses two parents, weighting the better performer's vector, then
// applies Gaussian mutation scaled by the child's own learning rate.
func (m *MetaLearner) breed(a, b Strategy) Strategy {
	pa, pb := a.AveragePerformance(), b.AveragePerformance()
	w := 0.5
	if pa+pb > 0 {
		w = pa / (pa + pb)
	}

	mix := func(x, y float64) float64 { return w*x + (1-w)*y }
	child := Parameters{
		SuccessWeight:  mix(a.Parameters.SuccessWeight, b.Parameters.SuccessWeight),
		DurationWeight: mix(a.Parameters.DurationWeight, b.Parameters.DurationWeight),
		ConflictWeight: mix(a.Parameters.ConflictWeight, b.Parameters.ConflictWeight),
		LearningRate:   mix(a.Parameters.LearningRate, b.Parameters.LearningRate),
	}

	m.mu.Lock()
	scale := child.LearningRate * m.cfg.MutationScale
	child.SuccessWeight += m.rng.NormFloat64() * scale
	child.DurationWeight += m.rng.NormFloat64() * scale
	child.ConflictWeight += m.rng.NormFloat64() * scale
	child.LearningRate += m.rng.NormFloat64() * 0.05 * m.cfg.MutationScale
	m.mu.Unlock()

	return Strategy{
		Name:        "evo-" + uuid.NewString()[:8],
		Parameters:  child.Clamp(),
		LastUpdated: time.Now().UTC(),
	}
}

// Summary is one strategy's line in the meta-learning report.
type Summary struct {
	Name               string    `json:"name"`
	AveragePerformance float64   `json:"average_performance"`
	Trend              Trend     `json:"trend"`
	Samples            int       `json:"samples"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Report lists every strategy with its average performance and trend,
// best first.
func (m *MetaLearner) Report() (best string, summaries []Summary) {
	pop := m.reg.All()
	sort.Slice(pop, func(i, j int) bool {
		return pop[i].AveragePerformance() > pop[j].AveragePerformance()
	})
	for _, s := range pop {
		summaries = append(summaries, Summary{
			Name:               s.Name,
			AveragePerformance: s.AveragePerformance(),
			Trend:              s.TrendOver(m.cfg.TrendWindow, m.cfg.TrendVarianceThreshold, m.cfg.TrendSlopeThreshold),
			Samples:            len(s.PerformanceHistory),
			LastUpdated:        s.LastUpdated,
		})
	}
	if len(summaries) > 0 {
		best = summaries[0].Name
	}
	return best, summaries
}
