// Package userstate implements the single-process interrupt-deferral
// protocol: user space registers one keyboard callback, can cheaply mask its
// own interrupts without touching hardware, and is guaranteed never to lose
// an interrupt that arrived while masked. It is the kernel-side half of the
// (contexts, in_handler, queued, enabled) state machine; kernel/syscallabi's
// C10 syscall handlers call into it, and kernel/apic's keyboard IRQ route
// calls HandleKeyboardInterrupt.
package userstate

import (
	"coderunner/kernel/cpu"
	"coderunner/kernel/idt"
	"coderunner/kernel/sync"
	"coderunner/kernel/syscallabi"
)

type contextKind uint8

const (
	kindFull contextKind = iota
	kindSyscall
)

// savedContext is either a suspended hardware-interrupt context (a user
// callback itself got interrupted) or a suspended syscall context (the
// caller is blocked inside a wait syscall). Exactly one of full/sys is set,
// selected by kind.
type savedContext struct {
	kind contextKind
	full *idt.FullContext
	sys  *syscallabi.Context
}

// retarget rewrites the instruction pointer this context will resume at —
// the mechanism by which "transfer to the callback" is implemented: the
// callback runs on whatever stack the suspended context already had, so only
// rip needs to change.
func (c *savedContext) retarget(addr uintptr) {
	switch c.kind {
	case kindFull:
		c.full.RIP = uint64(addr)
	case kindSyscall:
		c.sys.RCX = uint64(addr)
	}
}

var (
	mu        sync.Spinlock
	contexts  []savedContext
	inHandler bool
	queued    bool
	enabled   = true
	callback  uintptr

	returnFn         = syscallabi.Return
	restoreContextFn = idt.RestoreContext
)

// SetKeyboardCallback records the user virtual address user space wants its
// keyboard callback entered at, or clears it if addr is 0.
func SetKeyboardCallback(addr uintptr) {
	mu.Acquire()
	callback = addr
	mu.Release()
}

// HandleKeyboardInterrupt is the handler kernel/apic's RouteIRQ call for the
// keyboard IRQ should register. ctx is the FullContext the hardware
// interrupt just saved. Per the EOI policy, end-of-interrupt is signaled
// before the restore-vs-transfer decision is made, so a second keyboard
// interrupt can be serviced as soon as this one's critical section ends.
func HandleKeyboardInterrupt(ctx *idt.FullContext, eoi func()) {
	eoi()

	mu.Acquire()
	defer mu.Release()

	if len(contexts) == 0 {
		handleFromUserCode(ctx)
		return
	}

	top := &contexts[len(contexts)-1]
	if top.kind == kindSyscall {
		handleFromWaitingSyscall(ctx, top)
		return
	}

	// We interrupted a running user callback: queue, and simply let ctx
	// restore normally (the callback keeps running once rescheduled).
	queued = true
}

// handleFromUserCode runs with mu held. contexts is empty: the interrupt
// landed in ordinary user code.
func handleFromUserCode(ctx *idt.FullContext) {
	if callback == 0 {
		return // no callback: restore ctx unchanged
	}

	if !inHandler && enabled {
		contexts = append(contexts, savedContext{kind: kindFull, full: ctx})
		inHandler = true
		ctx.RIP = uint64(callback)
		return
	}

	// Either already in the handler or the callback masked its own
	// interrupts: remember that one is owed, restore ctx unchanged.
	queued = true
}

// handleFromWaitingSyscall runs with mu held. The top saved context is a
// Syscall one: the caller is blocked in EnableMyInterruptsAndWaitUntilOneHappens's
// sti;hlt. By invariant enabled is true here.
func handleFromWaitingSyscall(ctx *idt.FullContext, top *savedContext) {
	if inHandler {
		queued = true
		return
	}

	inHandler = true
	top.retarget(callback)

	// The interrupted hlt never resumes: we divert straight into the
	// syscall-return path instead of letting dispatchInterrupt's iretq
	// bring the kernel back to the instruction after hlt.
	sys := top.sys
	contexts = contexts[:len(contexts)-1]
	mu.Release()
	returnFn(sys)
	mu.Acquire() // unreachable: returnFn never returns
}

// DoneWithInterruptHandler implements the DoneWithInterruptHandler syscall.
// Must only be called while in_handler; the caller (kernel/syscallabi's
// dispatch) is responsible for whatever error behavior an out-of-protocol
// call deserves before reaching here.
func DoneWithInterruptHandler(ctx *syscallabi.Context) {
	mu.Acquire()

	inHandler = false

	if queued && callback != 0 {
		queued = false
		inHandler = true
		top := &contexts[len(contexts)-1]
		top.retarget(callback)
		mu.Release()
		resumeTop()
		return
	}

	if len(contexts) == 0 {
		mu.Release()
		ctx.RAX = 0
		returnFn(ctx)
		return
	}

	top := contexts[len(contexts)-1]
	contexts = contexts[:len(contexts)-1]
	mu.Release()
	resumeSaved(top)
}

// DisableAndDeferMyInterrupts implements DisableAndDeferMyInterrupts: purely
// a software flag, no hardware masking.
func DisableAndDeferMyInterrupts(ctx *syscallabi.Context) {
	mu.Acquire()
	enabled = false
	mu.Release()

	ctx.RAX = 0
	returnFn(ctx)
}

// EnableAndCatchUpOnMyInterrupts implements EnableAndCatchUpOnMyInterrupts.
func EnableAndCatchUpOnMyInterrupts(ctx *syscallabi.Context) {
	mu.Acquire()
	enabled = true

	if queued && callback != 0 {
		queued = false
		inHandler = true
		contexts = append(contexts, savedContext{kind: kindSyscall, sys: ctx})
		mu.Release()

		ctx.RCX = uint64(callback)
		returnFn(ctx)
		return
	}

	mu.Release()
	ctx.RAX = 0
	returnFn(ctx)
}

// EnableMyInterruptsAndWaitUntilOneHappens implements
// EnableMyInterruptsAndWaitUntilOneHappens.
func EnableMyInterruptsAndWaitUntilOneHappens(ctx *syscallabi.Context) {
	mu.Acquire()
	enabled = true

	if queued && callback != 0 {
		queued = false
		inHandler = true
		contexts = append(contexts, savedContext{kind: kindSyscall, sys: ctx})
		mu.Release()

		ctx.RCX = uint64(callback)
		returnFn(ctx)
		return
	}

	contexts = append(contexts, savedContext{kind: kindSyscall, sys: ctx})
	mu.Release()

	waitForInterruptFn()
	// Unreachable in practice: the handler that observes this Syscall
	// context on top always diverts control flow (resumeTop/returnFn)
	// instead of letting execution fall out of sti;hlt normally.
}

var waitForInterruptFn = cpu.WaitForInterrupt

func resumeTop() {
	mu.Acquire()
	top := contexts[len(contexts)-1]
	contexts = contexts[:len(contexts)-1]
	mu.Release()
	resumeSaved(top)
}

// SelectSyscallStack is kernel/syscallabi's stack-selection policy once
// proto.Init wires it in with SetStackSelector. A new syscall's Context is
// built directly on syscallabi's fixed per-depth stack slot (entry_amd64.s
// pushes its fields straight onto whatever stack stackSelectorFn returned,
// no copy), and every savedContext in contexts points at that same memory —
// so a syscall entered while one or more Syscall contexts are already
// suspended must run one level deeper, or building its Context would
// overwrite a suspended outer one in place.
func SelectSyscallStack() uintptr {
	mu.Acquire()
	depth := 0
	for _, c := range contexts {
		if c.kind == kindSyscall {
			depth++
		}
	}
	mu.Release()
	return syscallabi.StackForDepth(depth)
}

func resumeSaved(c savedContext) {
	if c.kind == kindSyscall {
		returnFn(c.sys)
		return
	}
	// A saved Full context is the original interrupt frame
	// handleFromUserCode pushed before entering the callback; by the time
	// DoneWithInterruptHandler pops it (possibly retargeted back to the
	// callback for a queued re-entry), there is no live call stack left to
	// fall out of, so it is resumed directly via idt.RestoreContext's own
	// pop-and-IRETQ tail instead of returning through commonStub.
	restoreContextFn(c.full)
}
