package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/gpu"
	"github.com/luwei0711/ludwig/internal/params"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Parallel runs each batch on a fixed-size worker pool. When GPU ids
// are available (passed explicitly or auto-detected through the
// provider) trials borrow a slot from a shared pool before running and
// return it on every exit path. A batch is dispatched as one synchronous
// map: the coordinator blocks until the whole batch finished, and a
// failing trial fails the batch only after the rest drained.
type Parallel struct {
	base
	runner         trial.Runner
	numWorkers     int
	epsilon        float64
	gpus           string
	gpuMemoryLimit float64
	provider       domain.GPUProvider
}

func init() {
	Register("parallel", func(opts Options) (Executor, error) { return NewParallel(opts) })
}

func NewParallel(opts Options) (*Parallel, error) {
	b, err := newBase(opts, "parallel")
	if err != nil {
		return nil, err
	}
	if opts.Runner == nil {
		return nil, errors.New("parallel executor requires a trial runner")
	}
	workers := opts.NumWorkers
	if workers <= 0 {
		workers = 2
	}
	return &Parallel{
		base:           b,
		runner:         opts.Runner,
		numWorkers:     workers,
		epsilon:        opts.Epsilon,
		gpus:           opts.GPUs,
		gpuMemoryLimit: opts.GPUMemoryLimit,
		provider:       opts.GPUProvider,
	}, nil
}

type parallelOutcome struct {
	result domain.TrialResult
	err    error
}

type parallelJob struct {
	idx      int
	trialID  int
	sample   domain.Sample
	def      domain.Definition
	settings trial.Settings
	outcomes []parallelOutcome
	done     *sync.WaitGroup
}

func (e *Parallel) Execute(ctx context.Context, def domain.Definition, settings trial.Settings) ([]domain.TrialResult, error) {
	slots, err := e.setupSlots()
	if err != nil {
		return nil, err
	}

	jobs := make(chan parallelJob)
	var workers sync.WaitGroup
	for w := 0; w < e.numWorkers; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for job := range jobs {
				job.outcomes[job.idx] = e.runOne(ctx, job, slots)
				job.done.Done()
			}
		}()
	}
	// The pool is torn down before any error propagates.
	defer func() {
		close(jobs)
		workers.Wait()
	}()

	var results []domain.TrialResult
	trials := 0

	for !e.sampler.Finished() {
		batch := e.sampler.SampleBatch()

		// Substitution errors are configuration errors: fail the run
		// before dispatching anything.
		prepared := make([]parallelJob, len(batch))
		outcomes := make([]parallelOutcome, len(batch))
		var done sync.WaitGroup
		for i, sample := range batch {
			trialID := trials + i
			modified, err := params.Substitute(def, sample)
			if err != nil {
				return nil, err
			}
			prepared[i] = parallelJob{
				idx:      i,
				trialID:  trialID,
				sample:   sample,
				def:      modified,
				settings: e.trialSettings(settings, trialID),
				outcomes: outcomes,
				done:     &done,
			}
		}
		trials += len(batch)

		done.Add(len(prepared))
		for _, job := range prepared {
			jobs <- job
		}
		done.Wait()

		scores := make([]domain.SampleScore, 0, len(batch))
		for i, outcome := range outcomes {
			if outcome.err != nil {
				return nil, fmt.Errorf("trial %d: %w", prepared[i].trialID, outcome.err)
			}
			scores = append(scores, domain.SampleScore{
				Parameters: outcome.result.Parameters,
				Score:      outcome.result.MetricScore,
			})
			results = append(results, outcome.result)
		}

		e.sampler.UpdateBatch(scores)
	}

	return e.sortResults(results), nil
}

// runOne executes a single prepared trial, borrowing a GPU slot when a
// slot pool exists. The slot is returned even when the trial fails.
func (e *Parallel) runOne(ctx context.Context, job parallelJob, slots *gpu.SlotPool) parallelOutcome {
	settings := job.settings

	if slots != nil {
		slot, err := slots.Acquire(ctx)
		if err != nil {
			return parallelOutcome{err: err}
		}
		defer slots.Release(slot)
		settings.GPUs = slot.GPUID
		settings.GPUMemoryLimit = slot.MemoryLimit
	}

	trainStats, evalStats, err := e.runner.Run(ctx, job.def, settings)
	if err != nil {
		return parallelOutcome{err: err}
	}
	score, err := e.metricScore(evalStats)
	if err != nil {
		return parallelOutcome{err: err}
	}

	e.logger.Info("trial finished",
		zap.Int("trial_id", job.trialID),
		zap.String("gpus", settings.GPUs),
		zap.Float64("metric_score", score))

	return parallelOutcome{result: domain.TrialResult{
		Parameters:  job.sample,
		MetricScore: score,
		TrainStats:  trainStats,
		EvalStats:   evalStats,
	}}
}

// setupSlots builds the shared GPU slot pool, auto-detecting devices
// through the provider when no ids were passed. Returns nil when the
// run is CPU-only.
func (e *Parallel) setupSlots() (*gpu.SlotPool, error) {
	ids := splitGPUIDs(e.gpus)
	if len(ids) == 0 && e.provider != nil {
		visible, err := e.provider.VisibleDevices()
		if err != nil {
			e.logger.Warn("gpu detection failed, running cpu-only", zap.Error(err))
			return nil, nil
		}
		ids = splitGPUIDs(visible)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if cpus := runtime.NumCPU(); e.numWorkers > cpus {
		e.logger.Warn("more workers than available cpus",
			zap.Int("num_workers", e.numWorkers),
			zap.Int("num_available_cpus", cpus))
	}

	req := gpu.PlanRequest{
		NumWorkers:  e.numWorkers,
		GPUIDs:      ids,
		MemoryLimit: e.gpuMemoryLimit,
		Epsilon:     e.epsilon,
	}
	if len(ids) < e.numWorkers {
		if e.provider == nil {
			return nil, errors.New("gpu over-subscription requires a gpu provider for memory queries")
		}
		available, err := e.provider.AvailableMemory()
		if err != nil {
			return nil, fmt.Errorf("querying gpu memory: %w", err)
		}
		req.AvailableMemory = available
	}

	plans, err := gpu.Plan(req, e.logger)
	if err != nil {
		return nil, err
	}
	return gpu.NewSlotPool(plans), nil
}

func splitGPUIDs(gpus string) []string {
	var ids []string
	for _, id := range strings.Split(gpus, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

var _ Executor = (*Parallel)(nil)
