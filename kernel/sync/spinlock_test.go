package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"kernos/kernel/cpu"
)

func TestSpinlock(t *testing.T) {
	// Substitute the yieldFn with runtime.Gosched to avoid deadlocks while testing
	defer func(origYieldFn func()) { yieldFn = origYieldFn }(yieldFn)
	yieldFn = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
		counter    int
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sl.Acquire()
				counter++
				sl.Release()
			}
		}(i)
	}

	<-time.After(50 * time.Millisecond)
	sl.Release()
	wg.Wait()

	if exp := numWorkers * 100; counter != exp {
		t.Fatalf("expected counter to be %d; got %d", exp, counter)
	}

	if !sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to succeed on a released lock")
	}
	sl.Release()
}

func TestSpinlockPausesWhileSpinning(t *testing.T) {
	defer func() {
		pauseFn = cpu.Pause
		yieldFn = nil
	}()

	var (
		sl         Spinlock
		pauseCount int
	)

	sl.Acquire()
	yieldFn = runtime.Gosched
	pauseFn = func() {
		pauseCount++
		if pauseCount == 3 {
			sl.Release()
		}
	}

	sl.Acquire()
	if pauseCount != 3 {
		t.Fatalf("expected pause hint to be issued 3 times; got %d", pauseCount)
	}
}

func TestSpinlockYieldInterval(t *testing.T) {
	defer func() {
		pauseFn = cpu.Pause
		yieldFn = nil
	}()

	var (
		sl                     Spinlock
		pauseCount, yieldCount int
		releaseAt              = 2*spinsBeforeYield + 5
	)

	sl.Acquire()
	yieldFn = func() { yieldCount++ }
	pauseFn = func() {
		pauseCount++
		if pauseCount == releaseAt {
			sl.Release()
		}
	}

	sl.Acquire()
	if pauseCount != releaseAt {
		t.Fatalf("expected pause hint to be issued %d times; got %d", releaseAt, pauseCount)
	}

	if exp := 2; yieldCount != exp {
		t.Fatalf("expected yieldFn to be called %d times; got %d", exp, yieldCount)
	}
}
