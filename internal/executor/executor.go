// Package executor drives the hyperopt loop: ask the sampler for a
// batch of samples, substitute each into the model definition, run the
// trials, feed the scores back and repeat until the sampler is done.
// Three engines share that contract and differ only in concurrency
// model and resource assignment.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Executor runs the whole hyperopt search against a base definition and
// returns trial results ranked by the sampler's goal.
type Executor interface {
	Execute(ctx context.Context, def domain.Definition, settings trial.Settings) ([]domain.TrialResult, error)
}

// Options carries construction parameters for every strategy; each
// constructor picks the knobs it understands.
type Options struct {
	Sampler       domain.Sampler
	OutputFeature string
	Metric        string
	Split         trial.Split
	Runner        trial.Runner
	Logger        *zap.Logger

	// Parallel strategy knobs.
	NumWorkers     int
	Epsilon        float64
	GPUs           string
	GPUMemoryLimit float64
	GPUProvider    domain.GPUProvider

	// Distributed strategy knobs.
	Backend       string
	BackendImage  string
	CPUsPerWorker int
	GPUsPerWorker int
}

var registry = map[string]func(Options) (Executor, error){}

// Register adds an executor constructor to the registry.
func Register(name string, constructor func(Options) (Executor, error)) {
	registry[name] = constructor
}

// New builds an executor by strategy name.
func New(name string, opts Options) (Executor, error) {
	constructor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown hyperopt executor: %s (available: %v)", name, Names())
	}
	return constructor(opts)
}

// Names returns all registered strategy names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// base holds what every strategy shares: the sampler, the metric to
// rank by and the split to evaluate on.
type base struct {
	sampler       domain.Sampler
	outputFeature string
	metric        string
	split         trial.Split
	logger        *zap.Logger
}

func newBase(opts Options, name string) (base, error) {
	if opts.Sampler == nil {
		return base{}, errors.New("executor requires a sampler")
	}
	if opts.OutputFeature == "" || opts.Metric == "" {
		return base{}, errors.New("executor requires an output feature and a metric")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		sampler:       opts.Sampler,
		outputFeature: opts.OutputFeature,
		metric:        opts.Metric,
		split:         opts.Split,
		logger:        logger.Named(name),
	}, nil
}

// metricScore extracts the ranking metric from evaluation statistics.
func (b *base) metricScore(stats domain.EvalStats) (float64, error) {
	feature, ok := stats[b.outputFeature]
	if !ok {
		return 0, fmt.Errorf("eval stats have no output feature %q", b.outputFeature)
	}
	score, ok := feature[b.metric]
	if !ok {
		return 0, fmt.Errorf("output feature %q has no metric %q", b.outputFeature, b.metric)
	}
	return score, nil
}

// trialSettings stamps the per-trial fields onto a copy of the shared
// settings.
func (b *base) trialSettings(settings trial.Settings, trialID int) trial.Settings {
	s := settings
	name := s.ExperimentName
	if name == "" {
		name = "hyperopt"
	}
	s.ExperimentName = fmt.Sprintf("%s_%d", name, trialID)
	if b.split != "" {
		s.EvalSplit = b.split
	}
	return s
}

func (b *base) sortResults(results []domain.TrialResult) []domain.TrialResult {
	return SortResults(results, b.sampler.Goal())
}

// SortResults stable-sorts trial results by metric score, descending
// for a maximization goal and ascending otherwise. Equal scores keep
// their insertion order; ties are common with coarse metrics.
func SortResults(results []domain.TrialResult, goal domain.Goal) []domain.TrialResult {
	sort.SliceStable(results, func(i, j int) bool {
		if goal == domain.Maximize {
			return results[i].MetricScore > results[j].MetricScore
		}
		return results[i].MetricScore < results[j].MetricScore
	})
	return results
}
