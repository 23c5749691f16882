package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/backend"
	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/params"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Distributed delegates each batch to an externally-managed worker
// pool. Per-worker CPU/GPU constraints are declared once when the pool
// is built; the loop shape (one synchronous map per batch, one feedback
// per batch) is identical to the parallel strategy.
type Distributed struct {
	base
	backendName string
	poolOpts    backend.Options
}

func init() {
	Register("distributed", func(opts Options) (Executor, error) { return NewDistributed(opts) })
}

func NewDistributed(opts Options) (*Distributed, error) {
	b, err := newBase(opts, "distributed")
	if err != nil {
		return nil, err
	}
	name := opts.Backend
	if name == "" {
		name = "local"
	}
	// Unknown backends fail here, before any trial runs.
	if err := backend.Lookup(name); err != nil {
		return nil, err
	}
	workers := opts.NumWorkers
	if workers <= 0 {
		workers = 2
	}
	return &Distributed{
		base:        b,
		backendName: name,
		poolOpts: backend.Options{
			Workers: workers,
			Limits: backend.ResourceLimits{
				CPUsPerWorker: opts.CPUsPerWorker,
				GPUsPerWorker: opts.GPUsPerWorker,
			},
			Runner: opts.Runner,
			Image:  opts.BackendImage,
			Logger: b.logger,
		},
	}, nil
}

func (e *Distributed) Execute(ctx context.Context, def domain.Definition, settings trial.Settings) ([]domain.TrialResult, error) {
	pool, err := backend.Get(e.backendName, e.poolOpts)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	var results []domain.TrialResult
	trials := 0

	for !e.sampler.Finished() {
		batch := e.sampler.SampleBatch()

		tasks := make([]backend.Task, len(batch))
		for i, sample := range batch {
			trialID := trials + i
			modified, err := params.Substitute(def, sample)
			if err != nil {
				return nil, err
			}
			tasks[i] = backend.Task{
				ID:         trialID,
				Definition: modified,
				Settings:   e.trialSettings(settings, trialID),
			}
		}
		trials += len(batch)

		batchResults, err := pool.Map(ctx, tasks)
		if err != nil {
			return nil, err
		}

		scores := make([]domain.SampleScore, 0, len(batch))
		for i, result := range batchResults {
			score, err := e.metricScore(result.EvalStats)
			if err != nil {
				return nil, fmt.Errorf("trial %d: %w", tasks[i].ID, err)
			}

			e.logger.Info("trial finished",
				zap.Int("trial_id", tasks[i].ID),
				zap.Float64("metric_score", score))

			scores = append(scores, domain.SampleScore{Parameters: batch[i], Score: score})
			results = append(results, domain.TrialResult{
				Parameters:  batch[i],
				MetricScore: score,
				TrainStats:  result.TrainStats,
				EvalStats:   result.EvalStats,
			})
		}

		e.sampler.UpdateBatch(scores)
	}

	return e.sortResults(results), nil
}

var _ Executor = (*Distributed)(nil)
