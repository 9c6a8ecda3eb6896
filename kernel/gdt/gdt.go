// Package gdt builds and installs the kernel's global descriptor table: the
// flat code/data segments required by long mode plus the task state segment
// that supplies the interrupt stack table entries C3/C4 rely on.
package gdt

import "unsafe"

// Selector identifies a GDT entry by its byte offset, with the low 3 bits
// carrying the requested privilege level and table indicator exactly as the
// CPU expects them in a segment register.
type Selector uint16

// The fixed set of selectors this kernel installs. Ring-3 selectors already
// carry RPL 3 in their low bits so they can be loaded directly into CS/SS.
//
// User data sits before user code (rather than the more "natural" code-then-
// data order) because IA32_STAR's SYSRET half derives CS from base+16 and SS
// from base+8: with base=KernelDataSelector's offset (0x10), that lands
// exactly on UserDataSelector/UserCodeSelector below. kernel/syscallabi
// relies on this layout.
const (
	NullSelector       Selector = 0x00
	KernelCodeSelector Selector = 0x08
	KernelDataSelector Selector = 0x10
	UserDataSelector   Selector = 0x18 | 3
	UserCodeSelector   Selector = 0x20 | 3
	TSSSelector        Selector = 0x28
)

// descriptor access-byte bits shared by code and data segments.
const (
	descPresent   = 1 << 7
	descDPL3      = 3 << 5
	descNotSystem = 1 << 4
	descExecute   = 1 << 3
	descRW        = 1 << 1 // readable (code) / writable (data)

	// flags nibble (bits 52-55 of the packed descriptor).
	flagLongMode = 1 << 5
)

// segmentDescriptor encodes a single flat 64-bit code or data segment. In
// long mode the base/limit fields are ignored by the CPU for these types but
// are still zeroed for clarity.
type segmentDescriptor uint64

func newCodeDescriptor(dpl uint8) segmentDescriptor {
	access := uint64(descPresent | descNotSystem | descExecute | descRW)
	access |= uint64(dpl) << 5
	return segmentDescriptor(access<<40 | uint64(flagLongMode)<<52)
}

func newDataDescriptor(dpl uint8) segmentDescriptor {
	access := uint64(descPresent | descNotSystem | descRW)
	access |= uint64(dpl) << 5
	return segmentDescriptor(access << 40)
}

// tssDescriptor is the 16-byte system descriptor a 64-bit TSS occupies; it
// spans two consecutive GDT slots.
type tssDescriptor struct {
	limitLow   uint16
	baseLow    uint16
	baseMiddle uint8
	access     uint8
	flagsLimit uint8
	baseHigh   uint8
	baseUpper  uint32
	reserved   uint32
}

func newTSSDescriptor(addr uintptr, limit uint32) tssDescriptor {
	const availableTSS = 0x9 // type field for an available 64-bit TSS
	return tssDescriptor{
		limitLow:   uint16(limit),
		baseLow:    uint16(addr),
		baseMiddle: uint8(addr >> 16),
		access:     descPresent | availableTSS,
		flagsLimit: uint8(limit>>16) & 0x0f,
		baseHigh:   uint8(addr >> 24),
		baseUpper:  uint32(addr >> 32),
	}
}

// TaskStateSegment is the 64-bit TSS. Only the privilege-stack-table and
// interrupt-stack-table entries are used by this kernel; I/O permission
// bitmaps are not supported, so ioMapBase points past the segment limit.
type TaskStateSegment struct {
	reserved0 uint32
	RSP       [3]uint64
	reserved1 uint64
	IST       [7]uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

type gdtr struct {
	limit uint16
	base  uintptr
}

var (
	entries [7]uint64
	reg     gdtr
	tss     TaskStateSegment

	// the following functions are backed by Plan9 assembly and are mocked by
	// tests, which is why they are stored as package-level seams.
	loadGDTFn          = loadGDT
	reloadSegmentsFn   = reloadSegments
	loadTaskRegisterFn = loadTaskRegister
)

// Init builds the GDT and TSS described above, loads GDTR, reloads every
// segment register to point at the new descriptors and loads the task
// register so the CPU picks up the interrupt stack table on the next
// privilege-level change.
func Init(istStacks [7][]byte) {
	entries[0] = 0
	entries[1] = uint64(newCodeDescriptor(0))
	entries[2] = uint64(newDataDescriptor(0))
	entries[3] = uint64(newDataDescriptor(3))
	entries[4] = uint64(newCodeDescriptor(3))

	for i, stack := range istStacks {
		if len(stack) == 0 {
			continue
		}
		tss.IST[i] = uint64(uintptr(unsafe.Pointer(&stack[len(stack)-1])))
	}
	tss.ioMapBase = uint16(unsafe.Sizeof(tss))

	tssDesc := newTSSDescriptor(uintptr(unsafe.Pointer(&tss)), uint32(unsafe.Sizeof(tss))-1)
	entries[5] = *(*uint64)(unsafe.Pointer(&tssDesc))
	entries[6] = uint64(tssDesc.reserved)<<32 | uint64(tssDesc.baseUpper)

	reg.limit = uint16(unsafe.Sizeof(entries)) - 1
	reg.base = uintptr(unsafe.Pointer(&entries[0]))

	loadGDTFn(&reg)
	reloadSegmentsFn()
	loadTaskRegisterFn(uint16(TSSSelector))
}

// SetKernelStack updates RSP0, the stack the CPU switches to whenever a
// ring-3 task raises its privilege level without going through an IST entry.
func SetKernelStack(stackTop uintptr) {
	tss.RSP[0] = uint64(stackTop)
}

// loadGDT issues LGDT with the supplied descriptor.
func loadGDT(reg *gdtr)

// reloadSegments reloads CS via a far return and DS/ES/FS/GS/SS with the flat
// kernel data selector.
func reloadSegments()

// loadTaskRegister issues LTR with the given selector.
func loadTaskRegister(selector uint16)
