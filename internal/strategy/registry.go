package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"cronsage/internal/storage"
	logx "cronsage/pkg/logx"
)

// Registry is the explicit strategy table. It loads the population from the
// store, serves copies to callers, and persists after every mutation. The
// mutators are unexported: only the MetaLearner changes the population.
type Registry struct {
	store storage.Store
	log   logx.Logger

	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:      store,
		log:        log,
		strategies: map[string]Strategy{},
	}
}

// Load restores the population and guarantees the default strategy exists.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.store.Strategies(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.strategies = make(map[string]Strategy, len(recs)+1)
	for _, rec := range recs {
		s := fromRecord(rec)
		s.Parameters = s.Parameters.Clamp()
		r.strategies[s.Name] = s
	}
	_, hasDefault := r.strategies[DefaultName]
	if !hasDefault {
		r.strategies[DefaultName] = Strategy{
			Name:        DefaultName,
			Parameters:  DefaultParameters(),
			LastUpdated: time.Now().UTC(),
		}
	}
	r.mu.Unlock()

	if !hasDefault {
		return r.persist(ctx)
	}
	return nil
}

func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// All returns the population sorted by name.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Active returns the best-scoring strategy, falling back to default while
// nothing has been scored yet.
func (r *Registry) Active() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best, ok := r.strategies[DefaultName]
	for _, s := range r.strategies {
		if !ok || s.AveragePerformance() > best.AveragePerformance() {
			best, ok = s, true
		}
	}
	return best
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

// put upserts one strategy and persists the population.
func (r *Registry) put(ctx context.Context, s Strategy) error {
	r.mu.Lock()
	r.strategies[s.Name] = s
	r.mu.Unlock()
	return r.persist(ctx)
}

// replaceAll swaps the whole population. The default strategy is reinstated
// if the new population dropped it.
func (r *Registry) replaceAll(ctx context.Context, pop []Strategy) error {
	r.mu.Lock()
	next := make(map[string]Strategy, len(pop)+1)
	for _, s := range pop {
		next[s.Name] = s
	}
	if _, ok := next[DefaultName]; !ok {
		if def, had := r.strategies[DefaultName]; had {
			next[DefaultName] = def
		} else {
			next[DefaultName] = Strategy{
				Name:        DefaultName,
				Parameters:  DefaultParameters(),
				LastUpdated: time.Now().UTC(),
			}
		}
	}
	r.strategies = next
	r.mu.Unlock()
	return r.persist(ctx)
}

func (r *Registry) persist(ctx context.Context) error {
	r.mu.RLock()
	recs := make([]storage.StrategyRecord, 0, len(r.strategies))
	for _, s := range r.strategies {
		recs = append(recs, s.record())
	}
	r.mu.RUnlock()
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	return storage.Retry(ctx, func() error {
		return r.store.SaveStrategies(ctx, recs)
	})
}
