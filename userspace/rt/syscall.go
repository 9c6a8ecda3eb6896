// Package rt is the resident user process's thin runtime: it wraps the
// kernel's seven-register syscall ABI (kernel/syscallabi/proto) in ordinary
// Go functions and supplies a kernel/async.Blocker built on the interrupt-
// deferral syscalls, so the same async.Execute loop the kernel runs in ring
// 0 also drives futures in ring 3.
package rt

import "unsafe"

// Syscall mirrors kernel/syscallabi/proto.Syscall; kept as a distinct type
// rather than imported since user space and kernel space are separate
// compilation targets that only agree by convention on the wire values.
type Syscall uint64

const (
	sysPrint Syscall = iota
	sysTakeFrameBuffer
	sysStartRecordingKeyboard
	sysPollKeyboard
	sysAllocatePages
	sysSetKeyboardInterruptHandler
	sysDoneWithInterruptHandler
	sysDisableAndDeferMyInterrupts
	sysEnableAndCatchUpOnMyInterrupts
	sysEnableMyInterruptsAndWaitUntilOneHappens
	sysExit
)

// ErrCode mirrors kernel/syscallabi/proto.ErrCode.
type ErrCode uint64

const (
	ErrNone ErrCode = iota
	ErrNull
	ErrUnaligned
	ErrForbidden
	ErrInvalidUTF8
	ErrNoFrameBuffer
	ErrCannotSecurelyGiveAccess
)

// FullQueueBehavior mirrors kernel/syscallabi/proto.FullQueueBehavior.
type FullQueueBehavior uint64

const (
	DropNewest FullQueueBehavior = iota
	DropOldest
)

func rawSyscall(num, a1, a2, a3, a4, a5, a6 uint64) uint64

func do(num Syscall, a1, a2, a3, a4, a5, a6 uint64) (ErrCode, uint64) {
	result := rawSyscall(uint64(num), a1, a2, a3, a4, a5, a6)
	return ErrCode(result & 0xff), result >> 8
}

// Print writes s to the kernel's console.
func Print(s string) ErrCode {
	if len(s) == 0 {
		code, _ := do(sysPrint, 0, 0, 0, 0, 0, 0)
		return code
	}
	code, _ := do(sysPrint, uint64(uintptr(unsafe.Pointer(unsafe.StringData(s)))), uint64(len(s)), 0, 0, 0, 0)
	return code
}

// Exit terminates the process. It never returns.
func Exit() {
	do(sysExit, 0, 0, 0, 0, 0, 0)
	for {
	}
}

// TakeFrameBuffer maps the boot framebuffer into the process and returns its
// base address.
func TakeFrameBuffer() (uintptr, ErrCode) {
	var out uint64
	code, _ := do(sysTakeFrameBuffer, uint64(uintptr(unsafe.Pointer(&out))), 0, 0, 0, 0, 0)
	return uintptr(out), code
}

// StartRecordingKeyboard asks the kernel to begin queuing scan codes with
// the given capacity (0 selects the kernel's default) and overflow policy.
func StartRecordingKeyboard(capacity uint64, policy FullQueueBehavior) ErrCode {
	code, _ := do(sysStartRecordingKeyboard, capacity, uint64(policy), 0, 0, 0, 0)
	return code
}

// PollKeyboard copies any scan codes queued since the last call into buf and
// returns how many were copied.
func PollKeyboard(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	_, n := do(sysPollKeyboard, uint64(uintptr(unsafe.Pointer(&buf[0]))), uint64(len(buf)), 0, 0, 0, 0)
	return int(n)
}

// AllocatePages grows the process heap to at least n pages and returns its
// base address.
func AllocatePages(n uint64) (uintptr, ErrCode) {
	code, base := do(sysAllocatePages, n, 0, 0, 0, 0, 0)
	return uintptr(base), code
}

// SetKeyboardInterruptHandler installs handlerAddr as the address the
// kernel retargets execution to on every keyboard interrupt; handlerAddr
// must be a NOSPLIT, zero-argument assembly routine that ends by calling
// DoneWithInterruptHandler, since the kernel resumes it in place of
// whatever this process was doing when the interrupt arrived, on the same
// stack. A zero address disables the handler.
func SetKeyboardInterruptHandler(handlerAddr uintptr) {
	do(sysSetKeyboardInterruptHandler, uint64(handlerAddr), 0, 0, 0, 0, 0)
}

// DoneWithInterruptHandler tells the kernel the keyboard interrupt handler
// has finished and execution should resume wherever it was diverted from.
// It never returns.
func DoneWithInterruptHandler() {
	do(sysDoneWithInterruptHandler, 0, 0, 0, 0, 0, 0)
	for {
	}
}

// DisableAndDeferMyInterrupts masks interrupts for this process, queuing
// any that arrive rather than retargeting execution, until the matching
// EnableAndCatchUpOnMyInterrupts.
func DisableAndDeferMyInterrupts() {
	do(sysDisableAndDeferMyInterrupts, 0, 0, 0, 0, 0, 0)
}

// EnableAndCatchUpOnMyInterrupts undoes DisableAndDeferMyInterrupts,
// delivering any interrupt that was queued while deferred.
func EnableAndCatchUpOnMyInterrupts() {
	do(sysEnableAndCatchUpOnMyInterrupts, 0, 0, 0, 0, 0, 0)
}

// EnableMyInterruptsAndWaitUntilOneHappens re-enables interrupts and blocks
// the process until exactly one arrives.
func EnableMyInterruptsAndWaitUntilOneHappens() {
	do(sysEnableMyInterruptsAndWaitUntilOneHappens, 0, 0, 0, 0, 0, 0)
}
