// Package proto is the closed syscall set: it decodes the seven-register
// wire format kernel/syscallabi's trampoline hands it, validates every
// user-supplied pointer, and dispatches to the single resident process's
// kernel-side state (kernel/userstate, the user heap tracker, the
// framebuffer, the keyboard queue).
package proto

import (
	"coderunner/kernel"
	"coderunner/kernel/apic"
	"coderunner/kernel/cpu"
	"coderunner/kernel/idt"
	"coderunner/kernel/kfmt"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/pmm"
	"coderunner/kernel/mem/vmm"
	"coderunner/kernel/syscallabi"
	"coderunner/kernel/userstate"
	"unicode/utf8"
	"unsafe"
)

// Syscall is the closed set of operations user space may request. The
// numeric value is what the caller places in rax.
type Syscall uint64

const (
	SysPrint Syscall = iota
	SysTakeFrameBuffer
	SysStartRecordingKeyboard
	SysPollKeyboard
	SysAllocatePages
	SysSetKeyboardInterruptHandler
	SysDoneWithInterruptHandler
	SysDisableAndDeferMyInterrupts
	SysEnableAndCatchUpOnMyInterrupts
	SysEnableMyInterruptsAndWaitUntilOneHappens
	SysExit
)

// ErrCode is the low byte of every syscall's result word; ErrNone means the
// call succeeded and any remaining bits carry its payload.
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

// request is never actually constructed on the wire — the seven registers
// are read directly from the Context — but its size documents the budget
// the format is held to: one tag plus six 8-byte argument slots.
type request struct {
	tag  uint64
	args [6]uint64
}

// Compile-time assertion that request never exceeds the 56-byte budget (7
// registers × 8 bytes); a request that grew past it would fail to build.
var _ [56 - int(unsafe.Sizeof(request{}))]byte

// userSpaceLimit is the exclusive upper bound (K) of the single resident
// process's address space; every user pointer argument must fit under it.
const userSpaceLimit = uintptr(1) << 47

func packResult(code ErrCode, payload uint64) uint64 {
	return uint64(code) | payload<<8
}

var returnFn = syscallabi.Return

// state is the single resident process's syscall-visible kernel state. This
// kernel supports exactly one user process at a time (4.9/5: no kernel or
// user threads), so it lives as package-level fields rather than a process
// table.
var state struct {
	tracker    *vmm.Tracker
	allocFrame vmm.FrameAllocatorFn

	heapBase  uintptr
	heapPages uint64

	fbBase uintptr
	fbSize mem.Size

	keyboard *keyboardQueue
}

// Init wires the syscall handler into kernel/syscallabi, routes the keyboard
// IRQ to kernel/userstate, and records the per-process resources (the user
// address-space tracker and frame allocator) later syscalls need. Must run
// after gdt.Init/syscallabi.Init and after the resident process's address
// space has been built by kernel/elf.
func Init(tracker *vmm.Tracker, allocFrame vmm.FrameAllocatorFn) *kernel.Error {
	state.tracker = tracker
	state.allocFrame = allocFrame

	syscallabi.SetHandler(dispatch)
	syscallabi.SetStackSelector(userstate.SelectSyscallStack)

	_, err := apic.RouteIRQ(1, func(ctx *idt.FullContext) {
		scanCode := cpu.PortReadByte(keyboardDataPort)
		if state.keyboard != nil {
			state.keyboard.push(scanCode)
		}
		userstate.HandleKeyboardInterrupt(ctx, apic.EOI)
	})
	return err
}

// keyboardDataPort is the PS/2 controller's data port (8042), the same one
// legacy IRQ1 handlers on this platform always read to clear the condition.
const keyboardDataPort = 0x60

// SetFramebuffer records the boot-time framebuffer descriptor so
// TakeFrameBuffer can hand it to user space later. size must already be
// rounded to whole pages; TakeFrameBuffer independently re-checks alignment.
func SetFramebuffer(base uintptr, size mem.Size) {
	state.fbBase = base
	state.fbSize = size
}

func dispatch(num uint64, ctx *syscallabi.Context) {
	switch Syscall(num) {
	case SysPrint:
		handlePrint(ctx)
	case SysTakeFrameBuffer:
		handleTakeFrameBuffer(ctx)
	case SysStartRecordingKeyboard:
		handleStartRecordingKeyboard(ctx)
	case SysPollKeyboard:
		handlePollKeyboard(ctx)
	case SysAllocatePages:
		handleAllocatePages(ctx)
	case SysSetKeyboardInterruptHandler:
		userstate.SetKeyboardCallback(uintptr(ctx.RDI))
		ctx.RAX = packResult(ErrNone, 0)
		returnFn(ctx)
	case SysDoneWithInterruptHandler:
		userstate.DoneWithInterruptHandler(ctx)
	case SysDisableAndDeferMyInterrupts:
		userstate.DisableAndDeferMyInterrupts(ctx)
	case SysEnableAndCatchUpOnMyInterrupts:
		userstate.EnableAndCatchUpOnMyInterrupts(ctx)
	case SysEnableMyInterruptsAndWaitUntilOneHappens:
		userstate.EnableMyInterruptsAndWaitUntilOneHappens(ctx)
	case SysExit:
		cpu.Halt()
	default:
		kfmt.Printf("proto: rejecting unknown syscall number %d\n", num)
		ctx.RAX = 0
		returnFn(ctx)
	}
}

// validatePointer implements the boundary-check rule: non-null, naturally
// aligned for align, and the whole [ptr, ptr+length) range under K.
func validatePointer(ptr uintptr, length uintptr, align uintptr) ErrCode {
	if ptr == 0 {
		return ErrNull
	}
	if ptr%align != 0 {
		return ErrUnaligned
	}
	if ptr > userSpaceLimit || length > userSpaceLimit-ptr {
		return ErrForbidden
	}
	return ErrNone
}

func handlePrint(ctx *syscallabi.Context) {
	ptr, length := uintptr(ctx.RDI), uintptr(ctx.RSI)
	if code := validatePointer(ptr, length, 1); code != ErrNone {
		ctx.RAX = packResult(code, 0)
		returnFn(ctx)
		return
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length)
	if !utf8.Valid(buf) {
		ctx.RAX = packResult(ErrInvalidUTF8, 0)
		returnFn(ctx)
		return
	}

	kfmt.Printf("%s", string(buf))
	ctx.RAX = packResult(ErrNone, 0)
	returnFn(ctx)
}

func handleTakeFrameBuffer(ctx *syscallabi.Context) {
	outPtr := uintptr(ctx.RDI)
	if code := validatePointer(outPtr, 8, 8); code != ErrNone {
		ctx.RAX = packResult(code, 0)
		returnFn(ctx)
		return
	}
	if state.fbBase == 0 || state.fbSize == 0 {
		ctx.RAX = packResult(ErrNoFrameBuffer, 0)
		returnFn(ctx)
		return
	}
	if state.fbBase%uintptr(mem.PageSize) != 0 || uintptr(state.fbSize)%uintptr(mem.PageSize) != 0 {
		ctx.RAX = packResult(ErrCannotSecurelyGiveAccess, 0)
		returnFn(ctx)
		return
	}

	pageCount := uint64(state.fbSize) / uint64(mem.PageSize)
	userAddr, ok := state.tracker.Allocate(pageCount, uintptr(mem.PageSize))
	if !ok {
		ctx.RAX = packResult(ErrCannotSecurelyGiveAccess, 0)
		returnFn(ctx)
		return
	}

	for i := uint64(0); i < pageCount; i++ {
		frame := pmm.FrameFromAddress(state.fbBase + uintptr(i)*uintptr(mem.PageSize))
		page := vmm.PageFromAddress(userAddr + uintptr(i)*uintptr(mem.PageSize))
		flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute
		if err := vmm.Map(page, frame, flags); err != nil {
			ctx.RAX = packResult(ErrCannotSecurelyGiveAccess, 0)
			returnFn(ctx)
			return
		}
	}

	*(*uint64)(unsafe.Pointer(outPtr)) = uint64(userAddr)
	ctx.RAX = packResult(ErrNone, 0)
	returnFn(ctx)
}

func handleStartRecordingKeyboard(ctx *syscallabi.Context) {
	capacity := uintptr(ctx.RDI)
	policy := FullQueueBehavior(ctx.RSI)
	if capacity == 0 {
		capacity = defaultKeyboardQueueCapacity
	}

	state.keyboard = newKeyboardQueue(capacity, policy)
	if err := apic.UnmaskIRQ(1); err != nil {
		ctx.RAX = packResult(ErrForbidden, 0)
		returnFn(ctx)
		return
	}

	ctx.RAX = packResult(ErrNone, 0)
	returnFn(ctx)
}

func handlePollKeyboard(ctx *syscallabi.Context) {
	ptr, length := uintptr(ctx.RDI), uintptr(ctx.RSI)
	if code := validatePointer(ptr, length, 1); code != ErrNone || state.keyboard == nil {
		ctx.RAX = packResult(ErrNone, 0)
		returnFn(ctx)
		return
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length)
	n := state.keyboard.drain(buf)
	ctx.RAX = packResult(ErrNone, uint64(n))
	returnFn(ctx)
}

func handleAllocatePages(ctx *syscallabi.Context) {
	n := ctx.RDI
	if n <= state.heapPages {
		ctx.RAX = packResult(ErrNone, uint64(state.heapBase))
		returnFn(ctx)
		return
	}

	if state.heapPages == 0 {
		base, ok := state.tracker.Allocate(n, uintptr(mem.PageSize))
		if !ok {
			ctx.RAX = packResult(ErrForbidden, 0)
			returnFn(ctx)
			return
		}
		state.heapBase = base
	} else {
		extStart := state.heapBase + uintptr(state.heapPages)*uintptr(mem.PageSize)
		extEnd := state.heapBase + uintptr(n)*uintptr(mem.PageSize)
		if err := state.tracker.ReserveSpecific(extStart, extEnd); err != nil {
			ctx.RAX = packResult(ErrForbidden, 0)
			returnFn(ctx)
			return
		}
	}

	for i := state.heapPages; i < n; i++ {
		frame, err := state.allocFrame()
		if err != nil {
			ctx.RAX = packResult(ErrForbidden, 0)
			returnFn(ctx)
			return
		}
		page := vmm.PageFromAddress(state.heapBase + uintptr(i)*uintptr(mem.PageSize))
		if err := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); err != nil {
			ctx.RAX = packResult(ErrForbidden, 0)
			returnFn(ctx)
			return
		}
	}
	state.heapPages = n

	ctx.RAX = packResult(ErrNone, uint64(state.heapBase))
	returnFn(ctx)
}
