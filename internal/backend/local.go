package backend

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/trial"
)

// LocalPool runs tasks on a fixed number of in-process workers. Resource
// limits are advisory here: the CPU dimension caps the worker count,
// the GPU dimension has no local enforcement.
type LocalPool struct {
	workers int
	runner  trial.Runner
	logger  *zap.Logger
}

func init() {
	Register("local", func(opts Options) (Pool, error) { return NewLocalPool(opts) })
}

// NewLocalPool builds a local pool; it needs a trial runner to execute
// tasks with.
func NewLocalPool(opts Options) (*LocalPool, error) {
	if opts.Runner == nil {
		return nil, errors.New("local pool requires a trial runner")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("local-pool")

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if cpus := opts.Limits.CPUsPerWorker; cpus > 0 && workers*cpus > runtime.NumCPU() {
		capped := runtime.NumCPU() / cpus
		if capped < 1 {
			capped = 1
		}
		logger.Warn("capping local pool workers to honor cpu limits",
			zap.Int("requested_workers", workers),
			zap.Int("cpus_per_worker", cpus),
			zap.Int("workers", capped))
		workers = capped
	}
	return &LocalPool{workers: workers, runner: opts.Runner, logger: logger}, nil
}

// Map runs the batch on the pool's workers and blocks until every task
// finished. The first failure (in task order) is returned after the
// whole batch drained.
func (p *LocalPool) Map(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, len(tasks))
	errs := make([]error, len(tasks))

	jobs := make(chan int, len(tasks))
	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				task := tasks[i]
				trainStats, evalStats, err := p.runner.Run(ctx, task.Definition, task.Settings)
				if err != nil {
					errs[i] = fmt.Errorf("task %d: %w", task.ID, err)
					continue
				}
				results[i] = Result{TrainStats: trainStats, EvalStats: evalStats}
			}
		}()
	}

	for i := range tasks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (p *LocalPool) Close() error {
	return nil
}

var _ Pool = (*LocalPool)(nil)
