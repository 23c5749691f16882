package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/params"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Serial runs every trial synchronously on the calling goroutine, in
// deterministic order. The first trial failure aborts the run.
type Serial struct {
	base
	runner trial.Runner
}

func init() {
	Register("serial", func(opts Options) (Executor, error) { return NewSerial(opts) })
}

func NewSerial(opts Options) (*Serial, error) {
	b, err := newBase(opts, "serial")
	if err != nil {
		return nil, err
	}
	if opts.Runner == nil {
		return nil, errors.New("serial executor requires a trial runner")
	}
	return &Serial{base: b, runner: opts.Runner}, nil
}

func (e *Serial) Execute(ctx context.Context, def domain.Definition, settings trial.Settings) ([]domain.TrialResult, error) {
	var results []domain.TrialResult
	trials := 0

	for !e.sampler.Finished() {
		batch := e.sampler.SampleBatch()
		scores := make([]domain.SampleScore, 0, len(batch))

		for i, sample := range batch {
			trialID := trials + i
			modified, err := params.Substitute(def, sample)
			if err != nil {
				return nil, err
			}

			trainStats, evalStats, err := e.runner.Run(ctx, modified, e.trialSettings(settings, trialID))
			if err != nil {
				return nil, fmt.Errorf("trial %d: %w", trialID, err)
			}
			score, err := e.metricScore(evalStats)
			if err != nil {
				return nil, fmt.Errorf("trial %d: %w", trialID, err)
			}

			e.logger.Info("trial finished",
				zap.Int("trial_id", trialID),
				zap.Float64("metric_score", score))

			scores = append(scores, domain.SampleScore{Parameters: sample, Score: score})
			results = append(results, domain.TrialResult{
				Parameters:  sample,
				MetricScore: score,
				TrainStats:  trainStats,
				EvalStats:   evalStats,
			})
		}
		trials += len(batch)

		e.sampler.UpdateBatch(scores)
	}

	return e.sortResults(results), nil
}

var _ Executor = (*Serial)(nil)
