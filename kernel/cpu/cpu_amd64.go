package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// WaitForInterrupt enables interrupts and halts until exactly one arrives,
// then returns. Used by the async executor (C9) and the user-space
// interrupt-deferral wait syscall's kernel-side block, both of which need
// "enable, then sleep until woken" as a single uninterruptible step so a
// wakeup that lands between the check and the halt is never lost.
func WaitForInterrupt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// FlushTLB reloads the root page table directory with its own current
// address, which discards every non-global TLB entry in one shot. It is
// cheaper than issuing an invlpg per page when a caller has just installed or
// torn down a multi-page mapping.
func FlushTLB() {
	SwitchPDT(ActivePDT())
}

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// PortWriteByte writes val to the specified I/O port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads and returns a byte from the specified I/O port.
func PortReadByte(port uint16) uint8

// WriteMSR writes val to the model-specific register msr.
func WriteMSR(msr uint32, val uint64)

// ReadMSR reads and returns the value of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
