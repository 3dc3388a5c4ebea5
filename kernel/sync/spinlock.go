// Package sync provides synchronization primitives that work without a
// scheduler.
package sync

import (
	"sync/atomic"

	"kernos/kernel/cpu"
)

// spinsBeforeYield is the number of failed acquisition attempts after which
// a spinning task calls yieldFn (if set).
const spinsBeforeYield = 64

var (
	// yieldFn is called periodically while spinning. It stays nil until
	// the kernel gains a scheduler.
	yieldFn func()

	// pauseFn is mocked by tests.
	pauseFn = cpu.Pause
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	var attempt uint32
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// Spin on a read-only atomic load so the cache line stays shared
		// while the holder works.
		for atomic.LoadUint32(&l.state) != 0 {
			attempt++
			pauseFn()
			if attempt%spinsBeforeYield == 0 && yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
