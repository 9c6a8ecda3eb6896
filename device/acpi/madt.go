package acpi

import (
	"coderunner/device/acpi/table"
	"unsafe"
)

const madtSignature = "APIC"

// APICSource is implemented by the ACPI driver and lets callers that only
// care about interrupt-controller topology (kernel/apic) depend on this
// narrower interface instead of the full device.Driver surface.
type APICSource interface {
	LocalAPIC() (LocalAPICInfo, bool)
	IOAPICs() []IOAPICInfo
}

// MADTEntryType flag bits set on MADTEntryLocalAPIC.Flags; bit 0 indicates the
// described processor is enabled.
const madtLocalAPICEnabled = 1

// LocalAPICInfo describes the system's local APIC as reported by the MADT.
type LocalAPICInfo struct {
	// Address is the physical address of the local APIC registers shared
	// by all processors, unless overridden by a 64-bit address override
	// entry (not modeled here; this kernel targets a single local APIC
	// base for all cores).
	Address uint32

	// CPUCount is the number of enabled local APIC entries, i.e. usable
	// processors.
	CPUCount int
}

// IOAPICInfo describes a single I/O APIC as reported by the MADT.
type IOAPICInfo struct {
	ID               uint8
	Address          uint32
	SysInterruptBase uint32
}

// LocalAPIC returns the physical address of the local APIC and the number of
// enabled processors described by the MADT, or ok=false if no MADT table was
// found while enumerating ACPI tables.
func (drv *acpiDriver) LocalAPIC() (info LocalAPICInfo, ok bool) {
	madtHeader, found := drv.tableMap[madtSignature]
	if !found {
		return LocalAPICInfo{}, false
	}

	madt := (*table.MADT)(unsafe.Pointer(madtHeader))
	info.Address = madt.LocalControllerAddress

	walkMADTEntries(madt, func(entryType table.MADTEntryType, entryPtr unsafe.Pointer) {
		if entryType != table.MADTEntryTypeLocalAPIC {
			return
		}
		lapic := (*table.MADTEntryLocalAPIC)(entryPtr)
		if lapic.Flags&madtLocalAPICEnabled != 0 {
			info.CPUCount++
		}
	})

	return info, true
}

// IOAPICs returns the list of I/O APICs described by the MADT. It returns an
// empty slice if no MADT table was found.
func (drv *acpiDriver) IOAPICs() []IOAPICInfo {
	madtHeader, found := drv.tableMap[madtSignature]
	if !found {
		return nil
	}

	madt := (*table.MADT)(unsafe.Pointer(madtHeader))

	var ioapics []IOAPICInfo
	walkMADTEntries(madt, func(entryType table.MADTEntryType, entryPtr unsafe.Pointer) {
		if entryType != table.MADTEntryTypeIOAPIC {
			return
		}
		ioapic := (*table.MADTEntryIOAPIC)(entryPtr)
		ioapics = append(ioapics, IOAPICInfo{
			ID:               ioapic.APICID,
			Address:          ioapic.Address,
			SysInterruptBase: ioapic.SysInterruptBase,
		})
	})

	return ioapics
}

// walkMADTEntries iterates over the variable-length MADTEntry records that
// follow the MADT header, invoking visit once for each record.
func walkMADTEntries(madt *table.MADT, visit func(entryType table.MADTEntryType, entryPtr unsafe.Pointer)) {
	var (
		tableEnd = uintptr(unsafe.Pointer(madt)) + uintptr(madt.Length)
		cur      = uintptr(unsafe.Pointer(madt)) + unsafe.Sizeof(table.MADT{})
	)

	for cur+unsafe.Sizeof(table.MADTEntry{}) <= tableEnd {
		entry := (*table.MADTEntry)(unsafe.Pointer(cur))
		if entry.Length == 0 {
			break
		}

		visit(entry.Type, unsafe.Pointer(cur+unsafe.Sizeof(table.MADTEntry{})))

		cur += uintptr(entry.Length)
	}
}
