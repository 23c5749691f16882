// Package backend provides the distributed worker pools the distributed
// executor delegates to. A pool maps a batch of trial tasks to results
// synchronously; parallelism and fault handling live inside the pool.
package backend

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/luwei0711/ludwig/internal/domain"
	"github.com/luwei0711/ludwig/internal/trial"
)

// Task is one trial to execute: a fully substituted definition plus the
// per-trial settings.
type Task struct {
	ID         int               `json:"id"`
	Definition domain.Definition `json:"definition"`
	Settings   trial.Settings    `json:"settings"`
}

// Result is the raw outcome of one task, before metric extraction.
type Result struct {
	TrainStats domain.TrainStats
	EvalStats  domain.EvalStats
}

// Pool runs batches of tasks. Map blocks until every task finished or
// failed; a failing task fails the whole batch, but only after all
// in-flight tasks completed.
type Pool interface {
	Map(ctx context.Context, tasks []Task) ([]Result, error)
	Close() error
}

// ResourceLimits declares per-worker resource constraints. Zero or
// negative values leave the dimension unconstrained.
type ResourceLimits struct {
	CPUsPerWorker int
	GPUsPerWorker int
}

// Options configures a pool. Runner is consumed by the local pool,
// Image by the docker pool.
type Options struct {
	Workers int
	Limits  ResourceLimits
	Runner  trial.Runner
	Image   string
	Logger  *zap.Logger
}

var registry = map[string]func(Options) (Pool, error){}

// Register adds a pool constructor to the registry.
func Register(name string, constructor func(Options) (Pool, error)) {
	registry[name] = constructor
}

// Lookup reports whether a pool backend is registered.
func Lookup(name string) error {
	if _, ok := registry[name]; !ok {
		return fmt.Errorf("unknown pool backend: %s (available: %v)", name, Names())
	}
	return nil
}

// Get builds a pool by backend name.
func Get(name string, opts Options) (Pool, error) {
	constructor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown pool backend: %s (available: %v)", name, Names())
	}
	return constructor(opts)
}

// Names returns all registered backend names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
