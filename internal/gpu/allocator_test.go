package gpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPlan_EnoughGPUsGivesOneSlotPerDevice(t *testing.T) {
	plans, err := Plan(PlanRequest{
		NumWorkers:  2,
		GPUIDs:      []string{"0", "1", "2"},
		MemoryLimit: 4096,
	}, zap.NewNop())

	require.NoError(t, err)
	require.Len(t, plans, 3)
	for _, plan := range plans {
		assert.Equal(t, 1, plan.ProcessesPerGPU)
		assert.Equal(t, 4096.0, plan.MemoryLimit)
	}
}

func TestPlan_OversubscribedWithoutExplicitLimit(t *testing.T) {
	// fraction = 2/4 - 0.01 = 0.49, required = 490,
	// limit = 490 - 100*4 = 90, processes = floor(1000/90) = 11
	plans, err := Plan(PlanRequest{
		NumWorkers:      4,
		GPUIDs:          []string{"0", "1"},
		AvailableMemory: map[string]float64{"0": 1000, "1": 1000},
	}, zap.NewNop())

	require.NoError(t, err)
	require.Len(t, plans, 2)
	for _, plan := range plans {
		assert.InDelta(t, 90.0, plan.MemoryLimit, 1e-9)
		assert.Equal(t, 11, plan.ProcessesPerGPU)
	}
}

func TestPlan_ExplicitLimitAboveAvailableIsClamped(t *testing.T) {
	plans, err := Plan(PlanRequest{
		NumWorkers:      4,
		GPUIDs:          []string{"0"},
		MemoryLimit:     20000,
		AvailableMemory: map[string]float64{"0": 10000},
	}, zap.NewNop())

	require.NoError(t, err)
	// clamped to available - 100; required = 0.24*10000 = 2400 which is
	// below half the device, so the limit then drops to the share
	assert.InDelta(t, 2400.0, plans[0].MemoryLimit, 1e-9)
}

func TestPlan_LimitRaisedWhenShareExceedsHalfDevice(t *testing.T) {
	// fraction = 2/3 - 0.01, required = 6566.67 > half the device and
	// below the explicit limit: the limit rises to available - 100.
	plans, err := Plan(PlanRequest{
		NumWorkers:      3,
		GPUIDs:          []string{"0", "1"},
		MemoryLimit:     8000,
		AvailableMemory: map[string]float64{"0": 10000, "1": 10000},
	}, zap.NewNop())

	require.NoError(t, err)
	for _, plan := range plans {
		assert.InDelta(t, 9900.0, plan.MemoryLimit, 1e-9)
		assert.Equal(t, 1, plan.ProcessesPerGPU)
	}
}

func TestPlan_LimitLoweredToRequiredShare(t *testing.T) {
	// fraction = 2/8 - 0.01 = 0.24, required = 2400 < limit 5000 and
	// below half the device: limit drops to 2400.
	plans, err := Plan(PlanRequest{
		NumWorkers:      8,
		GPUIDs:          []string{"0", "1"},
		MemoryLimit:     5000,
		AvailableMemory: map[string]float64{"0": 10000, "1": 10000},
	}, zap.NewNop())

	require.NoError(t, err)
	assert.InDelta(t, 2400.0, plans[0].MemoryLimit, 1e-9)
	assert.Equal(t, 4, plans[0].ProcessesPerGPU)
}

func TestPlan_LimitKeptWhenBelowRequiredShare(t *testing.T) {
	// required = 0.49*10000 = 4900 >= limit 3000: limit unchanged.
	plans, err := Plan(PlanRequest{
		NumWorkers:      4,
		GPUIDs:          []string{"0", "1"},
		MemoryLimit:     3000,
		AvailableMemory: map[string]float64{"0": 10000, "1": 10000},
	}, zap.NewNop())

	require.NoError(t, err)
	assert.InDelta(t, 3000.0, plans[0].MemoryLimit, 1e-9)
	assert.Equal(t, 3, plans[0].ProcessesPerGPU)
}

func TestPlan_MissingAvailableMemoryFails(t *testing.T) {
	_, err := Plan(PlanRequest{
		NumWorkers:      4,
		GPUIDs:          []string{"0", "1"},
		AvailableMemory: map[string]float64{"0": 1000},
	}, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpu 1")
}

func TestPlan_NonPositiveComputedLimitFails(t *testing.T) {
	// required = (1/32 - 0.01) * 1000 = 21.25, reserve = 100*32 = 3200
	_, err := Plan(PlanRequest{
		NumWorkers:      32,
		GPUIDs:          []string{"0"},
		AvailableMemory: map[string]float64{"0": 1000},
	}, zap.NewNop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not positive")
}

func TestPlan_RejectsEmptyInput(t *testing.T) {
	_, err := Plan(PlanRequest{NumWorkers: 0, GPUIDs: []string{"0"}}, zap.NewNop())
	require.Error(t, err)

	_, err = Plan(PlanRequest{NumWorkers: 2}, zap.NewNop())
	require.Error(t, err)
}

func TestSlotPool_AcquireAndRelease(t *testing.T) {
	pool := NewSlotPool([]DevicePlan{
		{GPUID: "0", MemoryLimit: 512, ProcessesPerGPU: 2},
		{GPUID: "1", MemoryLimit: 512, ProcessesPerGPU: 1},
	})

	assert.Equal(t, 3, pool.Capacity())
	assert.Equal(t, 3, pool.Available())

	slot, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Available())

	pool.Release(slot)
	assert.Equal(t, 3, pool.Available())
}

func TestSlotPool_SlotReturnedAfterTrialFailure(t *testing.T) {
	pool := NewSlotPool([]DevicePlan{{GPUID: "0", MemoryLimit: 512, ProcessesPerGPU: 2}})
	before := pool.Available()

	runTrial := func() (err error) {
		slot, acquireErr := pool.Acquire(context.Background())
		if acquireErr != nil {
			return acquireErr
		}
		defer pool.Release(slot)
		return errors.New("training diverged")
	}

	require.Error(t, runTrial())
	assert.Equal(t, before, pool.Available())
}

func TestSlotPool_AcquireBlocksUntilRelease(t *testing.T) {
	pool := NewSlotPool([]DevicePlan{{GPUID: "0", MemoryLimit: 512, ProcessesPerGPU: 1}})

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan Slot)
	go func() {
		slot, acquireErr := pool.Acquire(context.Background())
		require.NoError(t, acquireErr)
		acquired <- slot
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(held)

	select {
	case slot := <-acquired:
		assert.Equal(t, "0", slot.GPUID)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestSlotPool_AcquireHonorsContextCancellation(t *testing.T) {
	pool := NewSlotPool([]DevicePlan{{GPUID: "0", MemoryLimit: 512, ProcessesPerGPU: 1}})
	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlotPool_TryAcquireDoesNotBlock(t *testing.T) {
	pool := NewSlotPool([]DevicePlan{{GPUID: "0", MemoryLimit: 512, ProcessesPerGPU: 1}})

	_, err := pool.TryAcquire()
	require.NoError(t, err)

	_, err = pool.TryAcquire()
	assert.ErrorIs(t, err, ErrNoAvailableSlot)
}
