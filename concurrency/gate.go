// Package concurrency bounds the number of test processes running at once.
package concurrency

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Unset is the capacity flag value meaning no limit was requested
const Unset = -1

// Gate is a process-wide counting admission gate.
// A gate with capacity <= 0 never blocks.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int

	active atomic.Int64
	peak   atomic.Int64
}

// NewGate creates a gate admitting at most capacity concurrent holders
func NewGate(capacity int) *Gate {
	g := &Gate{capacity: capacity}
	if capacity > 0 {
		g.sem = semaphore.NewWeighted(int64(capacity))
	}
	return g
}

// DefaultCapacity is twice the number of logical CPUs
func DefaultCapacity() int {
	return 2 * runtime.NumCPU()
}

// ResolveCapacity turns the user-facing flag value into a gate capacity:
// Unset (or any negative value) means unlimited, 0 asks for DefaultCapacity.
func ResolveCapacity(flag int) int {
	switch {
	case flag < 0:
		return 0
	case flag == 0:
		return DefaultCapacity()
	default:
		return flag
	}
}

// Acquire blocks until a slot is free or ctx is done.
// The returned release func is safe to call more than once; only the first call frees the slot.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	g.enter()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.active.Add(-1)
			if g.sem != nil {
				g.sem.Release(1)
			}
		})
	}, nil
}

// Do runs fn while holding a slot. The slot is released on every exit path, including panics.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (g *Gate) enter() {
	n := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Capacity returns the configured capacity; 0 means unlimited
func (g *Gate) Capacity() int {
	if g.capacity < 0 {
		return 0
	}
	return g.capacity
}

// Unlimited reports whether the gate never blocks
func (g *Gate) Unlimited() bool {
	return g.sem == nil
}

// Active returns the number of current holders
func (g *Gate) Active() int {
	return int(g.active.Load())
}

// Peak returns the highest number of simultaneous holders observed
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}
