// Package idt builds and installs the kernel's interrupt descriptor table.
// It owns all 256 vectors: the 32 fixed CPU exception/reserved slots and the
// 224 flexible slots handed out to drivers (APIC, keyboard, timer, ...).
package idt

import (
	"coderunner/kernel"
	"coderunner/kernel/cpu"
	"unsafe"
)

// numFixedVectors is the size of the CPU-reserved region of the IDT (0-31);
// everything at or above it is a flexible vector.
const numFixedVectors = 32

// FullContext is the exact snapshot of all general-purpose registers plus
// the CPU-pushed interrupt frame. Field order matches memory order at the
// point dispatchInterrupt is called: the trampoline pushes rbp, rax, rbx,
// rcx, rdx, rsi, rdi, r8..r15 in that order, so r15 (pushed last) sits at the
// lowest address and rbp (pushed first) sits just below the vector/error-code
// pair the per-vector stub pushed before it. Restoring is a mirrored pop
// sequence ending in IRETQ.
type FullContext struct {
	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	R11 uint64
	R10 uint64
	R9  uint64
	R8  uint64
	RDI uint64
	RSI uint64
	RDX uint64
	RCX uint64
	RBX uint64
	RAX uint64
	RBP uint64

	// Vector is the interrupt/exception number, pushed by the per-vector
	// stub.
	Vector uint64

	// ErrorCode is the CPU-pushed error code for the handful of exceptions
	// that have one, or 0 (pushed by the stub itself) for every other
	// vector.
	ErrorCode uint64

	// The frame IRETQ expects to find on the stack.
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Handler is invoked by the dispatch stub with a pointer to the saved
// context. It never returns to its caller: it either falls through to the
// shared restore-and-iretq path (the common case, expressed here as an
// ordinary Go return) or transfers control elsewhere itself.
type Handler func(ctx *FullContext)

// RestoreContext resumes ctx via IRETQ, restoring every register exactly as
// commonStub's own tail would, whether or not ctx is the context currently
// on top of any real call stack. This is how a saved Full context is
// resumed after a caller has retargeted its RIP (e.g. kernel/userstate
// re-entering a keyboard callback for an interrupt that arrived while the
// callback was already running): the caller can't jump back into
// commonStub's still-live stack frame from outside it, so this runs the
// same restore sequence against ctx directly. Never returns.
func RestoreContext(ctx *FullContext)

// idtEntry is a single 64-bit interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

const (
	gatePresent       = 1 << 7
	gateTypeInterrupt = 0xE // 64-bit interrupt gate
)

func newGate(handlerAddr uintptr, selector uint16, ist uint8) idtEntry {
	return idtEntry{
		offsetLow:  uint16(handlerAddr),
		selector:   selector,
		ist:        ist & 0x7,
		typeAttr:   gatePresent | gateTypeInterrupt,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

type idtr struct {
	limit uint16
	base  uintptr
}

var (
	entries [256]idtEntry
	reg     idtr

	// handlers is indexed by vector; dispatchInterrupt (called from the
	// shared assembly stub) looks it up at interrupt time, so the gate
	// table itself never needs to change after Install.
	handlers [256]Handler

	// used tracks which vectors (fixed and flexible) already have a
	// registered Go handler, to implement the spec's double-set/duplicate
	// checks.
	used [256]bool

	errAlreadyAssigned = &kernel.Error{Module: "idt", Message: "vector already assigned"}
	errNoFreeVector    = &kernel.Error{Module: "idt", Message: "no free flexible vector"}
	errNotFixedVector  = &kernel.Error{Module: "idt", Message: "vector is not a fixed vector"}

	loadIDTFn = loadIDT
	haltFn    = cpu.Halt
)

// SetFixedEntry registers handler for the given fixed vector (0-31). It
// returns errAlreadyAssigned if that vector already has a handler.
func SetFixedEntry(vector uint8, handler Handler) *kernel.Error {
	if vector >= numFixedVectors {
		return errNotFixedVector
	}
	return setEntry(vector, handler)
}

// SetFlexibleEntry assigns handler to the lowest unused vector in [32, 256)
// and returns it, or errNoFreeVector if every flexible vector is taken.
func SetFlexibleEntry(handler Handler) (uint8, *kernel.Error) {
	for v := numFixedVectors; v < len(used); v++ {
		if !used[v] {
			if err := setEntry(uint8(v), handler); err != nil {
				return 0, err
			}
			return uint8(v), nil
		}
	}
	return 0, errNoFreeVector
}

func setEntry(vector uint8, handler Handler) *kernel.Error {
	if used[vector] {
		return errAlreadyAssigned
	}
	used[vector] = true
	handlers[vector] = handler
	return nil
}

// stubAddr returns the entry address of the generated per-vector trampoline
// fn. Each isrStubN is a regular (non-closure) top-level function,
// so the first word behind its func value is its code pointer.
func stubAddr(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// Init builds the IDT gate table (pointing every vector at its generated
// stub), loads IDTR, and remaps+masks the legacy 8259 PIC so that none of
// its spurious interrupts reach the CPU before a driver explicitly opts in
// via a flexible vector. The caller is responsible for setting the CPU
// interrupt flag afterwards.
func Init(codeSelector uint16) {
	for v := range entries {
		entries[v] = newGate(stubAddr(isrStubs[v]), codeSelector, 0)
	}

	reg.limit = uint16(unsafe.Sizeof(entries)) - 1
	reg.base = uintptr(unsafe.Pointer(&entries[0]))
	loadIDTFn(&reg)

	remapAndMaskPIC()
}

func loadIDT(reg *idtr)
