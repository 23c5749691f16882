// Package sampler provides parameter samplers for hyperparameter
// optimization. A sampler proposes batches of candidate parameter
// combinations and receives the scored outcomes back, which search
// strategies may use to steer later batches.
package sampler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/luwei0711/ludwig/internal/domain"
)

const defaultBatchSize = 1

// Grid exhaustively enumerates the cartesian product of the configured
// parameter value lists, in deterministic order: parameter names are
// sorted, and the last name varies fastest. Feedback does not change
// the enumeration, only the tracked best score.
type Grid struct {
	mu    sync.Mutex
	keys  []string
	vals  [][]any
	batch int
	goal  domain.Goal

	next  int
	total int
	best  *domain.SampleScore
}

// NewGrid builds a grid sampler over parameters, a map from dotted
// parameter path to the list of values to try for it.
func NewGrid(parameters map[string][]any, goal domain.Goal, batchSize int) (*Grid, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("grid sampler: no parameters to search")
	}
	if goal != domain.Maximize && goal != domain.Minimize {
		return nil, fmt.Errorf("grid sampler: invalid goal %q", goal)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	total := 1
	vals := make([][]any, len(keys))
	for i, key := range keys {
		if len(parameters[key]) == 0 {
			return nil, fmt.Errorf("grid sampler: parameter %q has no values", key)
		}
		vals[i] = parameters[key]
		total *= len(parameters[key])
	}

	return &Grid{
		keys:  keys,
		vals:  vals,
		batch: batchSize,
		goal:  goal,
		total: total,
	}, nil
}

func (g *Grid) Finished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next >= g.total
}

func (g *Grid) SampleBatch() []domain.Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.batch
	if remaining := g.total - g.next; n > remaining {
		n = remaining
	}
	samples := make([]domain.Sample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, g.sampleAt(g.next))
		g.next++
	}
	return samples
}

// sampleAt decodes a flat enumeration index into one value per
// parameter, mixed-radix with the last key varying fastest.
func (g *Grid) sampleAt(index int) domain.Sample {
	sample := make(domain.Sample, len(g.keys))
	for i := len(g.keys) - 1; i >= 0; i-- {
		size := len(g.vals[i])
		sample[g.keys[i]] = g.vals[i][index%size]
		index /= size
	}
	return sample
}

func (g *Grid) UpdateBatch(scores []domain.SampleScore) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, scored := range scores {
		if g.best == nil || g.better(scored.Score, g.best.Score) {
			best := scored
			g.best = &best
		}
	}
}

func (g *Grid) better(candidate, incumbent float64) bool {
	if g.goal == domain.Minimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}

func (g *Grid) Goal() domain.Goal {
	return g.goal
}

// Best returns the best scored sample seen so far, or false when no
// feedback has arrived yet.
func (g *Grid) Best() (domain.SampleScore, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.best == nil {
		return domain.SampleScore{}, false
	}
	return *g.best, true
}

// Total reports the number of combinations the grid will enumerate.
func (g *Grid) Total() int {
	return g.total
}

var _ domain.Sampler = (*Grid)(nil)
