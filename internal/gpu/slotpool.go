package gpu

import "context"

// SlotPool is a shared multi-consumer pool of GPU slots. It is the only
// structure shared between concurrent trials: Acquire blocks until a
// slot is free, and every holder must Release the same slot on all exit
// paths so the pool never starves.
type SlotPool struct {
	slots    chan Slot
	capacity int
}

// NewSlotPool builds a pool with ProcessesPerGPU slots per device plan.
func NewSlotPool(plans []DevicePlan) *SlotPool {
	total := 0
	for _, plan := range plans {
		total += plan.ProcessesPerGPU
	}
	pool := &SlotPool{
		slots:    make(chan Slot, total),
		capacity: total,
	}
	for _, plan := range plans {
		for i := 0; i < plan.ProcessesPerGPU; i++ {
			pool.slots <- Slot{GPUID: plan.GPUID, MemoryLimit: plan.MemoryLimit}
		}
	}
	return pool
}

// Acquire borrows a slot, blocking until one is free or the context is
// cancelled.
func (p *SlotPool) Acquire(ctx context.Context) (Slot, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	case <-ctx.Done():
		return Slot{}, ctx.Err()
	}
}

// TryAcquire borrows a slot without blocking.
func (p *SlotPool) TryAcquire() (Slot, error) {
	select {
	case slot := <-p.slots:
		return slot, nil
	default:
		return Slot{}, ErrNoAvailableSlot
	}
}

// Release returns a borrowed slot to the pool.
func (p *SlotPool) Release(slot Slot) {
	select {
	case p.slots <- slot:
	default:
		// Returning more slots than were produced is a programming
		// error; dropping the extra token keeps the invariant
		// outstanding <= capacity.
	}
}

// Capacity returns the total number of slots produced.
func (p *SlotPool) Capacity() int {
	return p.capacity
}

// Available returns the number of slots currently free.
func (p *SlotPool) Available() int {
	return len(p.slots)
}
