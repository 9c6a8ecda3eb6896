package syscallabi

import (
	"coderunner/kernel/cpu"
	"unsafe"
)

// Context is the full register/stack state of a syscall, built by the entry
// trampoline before calling the handler and consumed by Return to build the
// sysretq frame. Field order matches entry_amd64.s's push order low-to-high:
// the callee-saved registers, then rcx (user rip)/r11 (user rflags), then
// the argument registers, then the return-value/stack slots. Changing field
// order requires updating the byte offsets hardcoded in entry_amd64.s and
// return_amd64.s.
type Context struct {
	// Callee-saved, preserved across the call into the Go handler by the
	// ordinary Go calling convention; saved here only so a suspended
	// syscall context can be resumed with the user's own values intact.
	RBX uint64
	RBP uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	RCX uint64 // user rip, loaded by SYSCALL
	R11 uint64 // user rflags, loaded by SYSCALL

	RDI uint64
	RSI uint64
	RDX uint64
	R8  uint64
	R9  uint64
	R10 uint64 // 4th syscall argument (rcx is unusable for it: SYSCALL clobbers it)

	RAX uint64 // syscall number on entry; the handler overwrites it with the return value before calling Return
	RSP uint64 // user stack pointer, saved by the trampoline before switching
}

// stackSelectorFn chooses the kernel stack pointer a new syscall should run
// from. It is a package var so tests can substitute a fixed stack, and so
// SetStackSelector can replace it with kernel/userstate's "run below any
// suspended ring-0 syscall context" logic once that package is wired in.
var stackSelectorFn = defaultKernelStack

// SetStackSelector overrides the kernel-stack-selection policy. Called once
// during boot, the same way SetHandler installs the single syscall handler.
func SetStackSelector(fn func() uintptr) {
	stackSelectorFn = fn
}

// maxSyscallNesting bounds how many syscall Contexts may be suspended at
// once (one per wait syscall interrupted by a keyboard callback that itself
// issues another syscall before the outer one is resumed). Each level gets
// its own fixed stack slot in syscallStackPool, so a nested syscall's Context
// never aliases a suspended outer one's.
const (
	maxSyscallNesting = 4
	syscallStackSize  = 4096
)

var syscallStackPool [maxSyscallNesting][syscallStackSize]byte

// StackForDepth returns the 16-byte aligned top of the nesting-depth'th
// kernel stack slot. depth is clamped into range rather than indexed out of
// bounds; nesting past maxSyscallNesting would mean more wait syscalls are
// suspended simultaneously than this single-process ABI's protocol allows.
func StackForDepth(depth int) uintptr {
	if depth < 0 {
		depth = 0
	}
	if depth >= maxSyscallNesting {
		depth = maxSyscallNesting - 1
	}
	base := uintptr(unsafe.Pointer(&syscallStackPool[depth][0]))
	top := base + uintptr(len(syscallStackPool[depth]))
	return top &^ 0xf // 16-byte aligned, per the ABI's stack-selection rule
}

// defaultKernelStack is the stack-selection policy in effect until
// SetStackSelector installs kernel/userstate's reentrancy-aware one: every
// syscall runs at nesting depth 0.
func defaultKernelStack() uintptr {
	return StackForDepth(0)
}

// bootScratchStack is a tiny stack entryAddr's trampoline switches onto just
// long enough to make the one call into selectKernelStackForEntry. The
// entry path cannot trust the incoming user rsp for any call at all (a
// hostile user program could have set it to an unmapped or kernel address
// before executing SYSCALL), so it must reach a known-good stack before
// doing anything but saving registers to scratch globals.
var bootScratchStack [256]byte

// scratch globals used by entry_amd64.s to pass values across the one call
// it makes before it has a real Context to work with.
var (
	scratchSyscallNum uint64
	scratchUserRSP    uint64
	scratchNewRSP     uintptr
)

// selectKernelStackForEntry is the fixed top-level symbol entry_amd64.s
// calls; it exists so the stack-selection policy itself (stackSelectorFn)
// stays an ordinary, swappable Go func var instead of something assembly
// has to call indirectly.
//
//go:nosplit
func selectKernelStackForEntry() {
	scratchNewRSP = stackSelectorFn()
}

func haltForever() {
	cpu.Halt()
}
