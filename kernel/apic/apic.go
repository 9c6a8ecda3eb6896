// Package apic programs the local APIC and the I/O APIC(s) described by the
// ACPI MADT. It owns the on-chip interrupt controllers: it assigns them
// flexible IDT vectors, acknowledges interrupts (EOI), and routes/masks
// external IRQ lines.
package apic

import (
	"coderunner/device/acpi"
	"coderunner/kernel"
	"coderunner/kernel/idt"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/vmm"
	"unsafe"
)

// Local APIC register byte offsets, relative to its mapped base.
const (
	lapicRegEOI      = 0xB0
	lapicRegSVR      = 0xF0
	lapicRegLVTTimer = 0x320
	lapicRegLVTError = 0x370
)

const (
	svrAPICEnable = 1 << 8
	lvtMasked     = 1 << 16
)

// FrameMapper is the subset of *vmm.PhysMapper this package needs; narrowing
// to an interface lets tests supply a fake mapping instead of a real one.
type FrameMapper interface {
	MapPhysAddr(physAddr uintptr, size mem.Size, flags vmm.PageTableEntryFlag) (uintptr, int, *kernel.Error)
}

var (
	errNoLocalAPIC = &kernel.Error{Module: "apic", Message: "ACPI did not report a local APIC"}

	// lapicBase is the virtual address the local APIC's 4 KiB register
	// window was mapped to by Init. EOI (and, later, timer control) reads
	// this directly rather than threading it through every call site.
	lapicBase uintptr
)

// Init maps the local APIC and every I/O APIC described by source via
// mapper, assigns spurious/timer/error vectors from the IDT's flexible pool
// and enables the local APIC. The timer is left masked: this kernel relies
// on kernel/timer's RTC path rather than the APIC timer. I/O APICs are
// mapped and recorded for RouteIRQ, but no legacy IRQ is routed here —
// that's left to whichever driver (e.g. the keyboard) wants one, since
// routing it this early would require this package to already know that
// driver's handler.
func Init(source acpi.APICSource, mapper FrameMapper) *kernel.Error {
	lapicInfo, ok := source.LocalAPIC()
	if !ok {
		return errNoLocalAPIC
	}

	base, _, err := mapper.MapPhysAddr(
		uintptr(lapicInfo.Address),
		mem.PageSize,
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache|vmm.FlagNoExecute,
	)
	if err != nil {
		return err
	}
	lapicBase = base

	spuriousVector, err := idt.SetFlexibleEntry(func(*idt.FullContext) {
		// Spurious interrupts need no EOI and carry no useful state.
	})
	if err != nil {
		return err
	}
	writeReg(lapicBase, lapicRegSVR, svrAPICEnable|uint32(spuriousVector))

	timerVector, err := idt.SetFlexibleEntry(func(*idt.FullContext) {
		EOI()
	})
	if err != nil {
		return err
	}
	writeReg(lapicBase, lapicRegLVTTimer, lvtMasked|uint32(timerVector))

	errorVector, err := idt.SetFlexibleEntry(handleLocalAPICError)
	if err != nil {
		return err
	}
	writeReg(lapicBase, lapicRegLVTError, uint32(errorVector))

	return mapIOAPICs(source, mapper)
}

// EOI signals end-of-interrupt to the local APIC. Every handler registered
// for a non-spurious APIC-routed vector must call this before returning.
func EOI() {
	writeReg(lapicBase, lapicRegEOI, 0)
}

func handleLocalAPICError(*idt.FullContext) {
	EOI()
}

func readReg(base, offset uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(base + offset))
}

func writeReg(base, offset uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(base + offset)) = val
}
