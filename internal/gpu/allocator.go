// Package gpu computes per-GPU memory limits for over-subscribed workers
// and manages the shared pool of GPU slots that trials borrow and return.
package gpu

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	// DefaultEpsilon is the safety fraction subtracted from the ideal
	// per-worker share of a GPU.
	DefaultEpsilon = 0.01
	// epsilonMemory is the headroom (MiB) kept free when clamping an
	// explicit limit to the available memory.
	epsilonMemory = 100.0
	// reservePerWorker is the framework overhead (MiB) reserved per
	// worker when no explicit limit was given.
	reservePerWorker = 100.0
)

var ErrNoAvailableSlot = errors.New("no gpu slot available")

// Slot is a consumable GPU resource token. Exactly one in-flight trial
// holds a slot at a time; the holder must return it on every exit path.
type Slot struct {
	GPUID string
	// MemoryLimit is the per-trial memory limit in MiB. Zero means
	// unlimited.
	MemoryLimit float64
}

// DevicePlan is the allocation computed for one GPU id.
type DevicePlan struct {
	GPUID           string
	MemoryLimit     float64
	ProcessesPerGPU int
}

// PlanRequest describes the worker/GPU layout to plan for.
type PlanRequest struct {
	NumWorkers int
	GPUIDs     []string
	// MemoryLimit is an explicit per-GPU limit in MiB. Zero means
	// unset: the planner derives one when GPUs are over-subscribed.
	MemoryLimit float64
	// Epsilon overrides DefaultEpsilon when non-zero.
	Epsilon float64
	// AvailableMemory is free memory in MiB keyed by GPU id. Only
	// consulted when GPUs are over-subscribed.
	AvailableMemory map[string]float64
}

// Plan computes one DevicePlan per GPU id. With enough GPUs for every
// worker each device gets a single slot and the explicit limit passes
// through untouched. When workers outnumber GPUs the available memory is
// divided among workers, and an explicit limit is clamped rather than
// honored strictly so the run keeps progressing:
//
//   - a limit above the available memory drops to available − headroom
//   - a limit below a required share that exceeds half the device also
//     rises to available − headroom, to avoid under-utilization
//   - otherwise the limit falls to the required share when that is lower
func Plan(req PlanRequest, logger *zap.Logger) ([]DevicePlan, error) {
	if req.NumWorkers <= 0 {
		return nil, fmt.Errorf("num workers must be positive, got %d", req.NumWorkers)
	}
	if len(req.GPUIDs) == 0 {
		return nil, errors.New("no gpu ids to plan for")
	}

	if len(req.GPUIDs) >= req.NumWorkers {
		plans := make([]DevicePlan, 0, len(req.GPUIDs))
		for _, id := range req.GPUIDs {
			plans = append(plans, DevicePlan{
				GPUID:           id,
				MemoryLimit:     req.MemoryLimit,
				ProcessesPerGPU: 1,
			})
		}
		return plans, nil
	}

	epsilon := req.Epsilon
	if epsilon == 0 {
		epsilon = DefaultEpsilon
	}
	fraction := float64(len(req.GPUIDs))/float64(req.NumWorkers) - epsilon

	plans := make([]DevicePlan, 0, len(req.GPUIDs))
	for _, id := range req.GPUIDs {
		available, ok := req.AvailableMemory[id]
		if !ok {
			return nil, fmt.Errorf("no available memory reported for gpu %s", id)
		}
		required := fraction * available

		limit := req.MemoryLimit
		if limit == 0 {
			limit = required - reservePerWorker*float64(req.NumWorkers)
			logger.Warn("setting gpu memory limit from worker share",
				zap.String("gpu_id", id),
				zap.Float64("gpu_memory_limit", limit),
				zap.Float64("required_memory", required),
				zap.Int("num_gpus", len(req.GPUIDs)),
				zap.Int("num_workers", req.NumWorkers),
				zap.Float64("available_memory", available))
		} else {
			if limit > available {
				logger.Warn("gpu memory limit exceeds available memory, clamping",
					zap.String("gpu_id", id),
					zap.Float64("available_memory", available))
				limit = available - epsilonMemory
			}
			if required < limit {
				if required > 0.5*available {
					if available != limit {
						logger.Warn("raising gpu memory limit to avoid under-utilization",
							zap.String("gpu_id", id),
							zap.Float64("available_memory", available))
						limit = available - epsilonMemory
					}
				} else {
					logger.Warn("lowering gpu memory limit to worker share",
						zap.String("gpu_id", id),
						zap.Float64("gpu_memory_limit", required),
						zap.Int("num_gpus", len(req.GPUIDs)),
						zap.Int("num_workers", req.NumWorkers),
						zap.Float64("available_memory", available))
					limit = required
				}
			} else {
				logger.Warn("gpu memory limit could be raised",
					zap.String("gpu_id", id),
					zap.Float64("possible_limit", required),
					zap.Float64("available_memory", available))
			}
		}

		if limit <= 0 {
			return nil, fmt.Errorf(
				"computed gpu memory limit %.1f MiB for gpu %s is not positive; reduce num workers",
				limit, id)
		}

		plans = append(plans, DevicePlan{
			GPUID:           id,
			MemoryLimit:     limit,
			ProcessesPerGPU: int(available / limit),
		})
	}
	return plans, nil
}
