// Package async implements a single-future cooperative executor shared by
// the kernel and user-space runtime. It has no scheduler and no threads: a
// call to Execute drives exactly one Future to completion on the calling
// context, blocking via whatever Blocker the caller supplies.
package async

import "sync/atomic"

// Waker is the handle a Future hands to whatever will eventually make it
// ready again (an interrupt handler, a completed I/O operation). Wake is
// safe to call from an interrupt context; Poll never sees a wake that
// happened strictly before the matching Wait call returned, only ones
// concurrent with or after it.
type Waker struct {
	woke uint32
}

// Wake marks the executor's wait as satisfied. Idempotent.
func (w *Waker) Wake() {
	atomic.StoreUint32(&w.woke, 1)
}

// consume reports whether Wake was called since the last consume, clearing
// the flag.
func (w *Waker) consume() bool {
	return atomic.SwapUint32(&w.woke, 0) != 0
}

// Future is polled repeatedly by Execute until it reports ready. A pending
// Future is responsible for arranging a later call to w.Wake — typically by
// stashing w somewhere an interrupt handler or callback can reach.
type Future[T any] interface {
	Poll(w *Waker) (value T, ready bool)
}

// Blocker supplies the three primitives Execute needs to block without
// racing a concurrent wake: Disable masks the executor's own wake source so
// the wake flag can be checked without a wake landing unobserved between the
// check and the block; Enable undoes that when the check finds a wake
// already pending; Wait atomically re-enables and sleeps until exactly one
// wake arrives. In the kernel this is interrupts and hlt; in user space it
// is the three interrupt-deferral syscalls.
type Blocker interface {
	Disable()
	Enable()
	Wait()
}

// Execute polls f until it is ready, blocking via b between polls. The
// sequence around each block is: disable, check the wake flag, and only
// call Wait if the flag was still clear — a wake that raced the disable is
// never lost, since Wait (or the immediate re-poll taken instead of it) is
// the only thing that consumes the flag after it's been set.
func Execute[T any](f Future[T], b Blocker) T {
	var w Waker
	for {
		if v, ready := f.Poll(&w); ready {
			return v
		}

		b.Disable()
		if w.consume() {
			b.Enable()
			continue
		}
		b.Wait()
		w.consume()
	}
}
