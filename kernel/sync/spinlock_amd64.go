package sync

import "sync/atomic"

// pause executes the PAUSE instruction, hinting to the CPU that the current
// code is spinning so it can de-prioritize the calling hardware thread.
func pause()

// archAcquireSpinlock busy-waits until state can be swapped from 0 to 1.
// After attemptsBeforeYielding consecutive failed attempts it calls yieldFn
// (if set) before resuming the spin, so callers don't peg the CPU forever
// while waiting on a lock held by a different goroutine/task.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	var attempts uint32
	for !atomic.CompareAndSwapUint32(state, 0, 1) {
		pause()

		attempts++
		if attempts >= attemptsBeforeYielding {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}
