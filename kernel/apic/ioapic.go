package apic

import (
	"coderunner/device/acpi"
	"coderunner/kernel"
	"coderunner/kernel/idt"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/vmm"
)

// I/O APIC register window: writing the register index to ioRegSel makes it
// readable/writable at ioWin.
const (
	ioRegSel = 0x00
	ioWin    = 0x10

	ioapicRegVersion = 0x01

	// ioRedTblLow(n) = ioRedTblBase + 2n, ioRedTblHigh(n) = ioRedTblBase + 2n + 1.
	ioRedTblBase = 0x10
)

const redirMasked = 1 << 16

// ioapicWindow is a mapped I/O APIC's register window plus the range of
// global system interrupts (GSIs) it owns, used to find which one (if any)
// a legacy IRQ number routes through.
type ioapicWindow struct {
	base       uintptr
	gsiBase    uint32
	redirCount uint32
}

var (
	errNoIOAPICForIRQ = &kernel.Error{Module: "apic", Message: "no I/O APIC covers this IRQ"}

	ioapics []ioapicWindow
)

// mapIOAPICs maps every I/O APIC source reports and records the GSI range
// each one owns. This kernel assumes, as gopher-os did for the legacy PIC,
// that legacy ISA IRQ N maps to GSI N with no interrupt source override;
// systems with overrides would need the MADT's interrupt-source-override
// entries, which are not modeled here.
func mapIOAPICs(source acpi.APICSource, mapper FrameMapper) *kernel.Error {
	ioapics = ioapics[:0]

	for _, info := range source.IOAPICs() {
		base, _, err := mapper.MapPhysAddr(
			uintptr(info.Address),
			mem.PageSize,
			vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache|vmm.FlagNoExecute,
		)
		if err != nil {
			return err
		}

		redirCount := ((ioapicRead(base, ioapicRegVersion) >> 16) & 0xff) + 1
		ioapics = append(ioapics, ioapicWindow{
			base:       base,
			gsiBase:    info.SysInterruptBase,
			redirCount: redirCount,
		})
	}

	return nil
}

// RouteIRQ assigns handler a flexible IDT vector and programs the I/O APIC
// redirection entry for legacy IRQ irq to target it, masked. The caller must
// call UnmaskIRQ to let the interrupt actually reach the CPU.
func RouteIRQ(irq uint8, handler idt.Handler) (uint8, *kernel.Error) {
	w, index, err := ioapicFor(irq)
	if err != nil {
		return 0, err
	}

	vector, verr := idt.SetFlexibleEntry(handler)
	if verr != nil {
		return 0, verr
	}

	writeRedirEntry(w.base, index, uint32(vector)|redirMasked)
	return vector, nil
}

// MaskIRQ sets the mask bit on the redirection entry for a previously routed
// legacy IRQ, stopping it from reaching the CPU.
func MaskIRQ(irq uint8) *kernel.Error {
	w, index, err := ioapicFor(irq)
	if err != nil {
		return err
	}

	low := ioapicRead(w.base, ioRedTblBase+2*index)
	writeRedirEntry(w.base, index, low|redirMasked)
	return nil
}

// UnmaskIRQ clears the mask bit on the redirection entry for a previously
// routed legacy IRQ, letting it reach the CPU again.
func UnmaskIRQ(irq uint8) *kernel.Error {
	w, index, err := ioapicFor(irq)
	if err != nil {
		return err
	}

	low := ioapicRead(w.base, ioRedTblBase+2*index)
	writeRedirEntry(w.base, index, low&^uint32(redirMasked))
	return nil
}

// ioapicFor returns the mapped I/O APIC window covering irq and the
// redirection-table index within it.
func ioapicFor(irq uint8) (ioapicWindow, uint32, *kernel.Error) {
	gsi := uint32(irq)
	for _, w := range ioapics {
		if gsi >= w.gsiBase && gsi < w.gsiBase+w.redirCount {
			return w, gsi - w.gsiBase, nil
		}
	}
	return ioapicWindow{}, 0, errNoIOAPICForIRQ
}

func writeRedirEntry(base uintptr, index uint32, low uint32) {
	writeReg(base, ioRegSel, ioRedTblBase+2*index)
	writeReg(base, ioWin, low)
}

func ioapicRead(base uintptr, reg uint32) uint32 {
	writeReg(base, ioRegSel, reg)
	return readReg(base, ioWin)
}
