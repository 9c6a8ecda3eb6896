// Package elf loads a static ELF64 executable into a fresh user address
// space and transfers control to it in ring 3. It implements just enough of
// the format for this kernel's needs: PT_LOAD segments, a minimal
// R_X86_64_RELATIVE relocation subset, and a _start symbol lookup — not a
// general-purpose linker.
package elf

import (
	"coderunner/kernel"
	"coderunner/kernel/gdt"
	"coderunner/kernel/kfmt"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/pmm"
	"coderunner/kernel/mem/vmm"
	"unsafe"
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// Header mirrors the 64-bit ELF file header (Elf64_Ehdr).
type Header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// ProgramHeader mirrors Elf64_Phdr.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	PAddr  uint64
	FileSz uint64
	MemSz  uint64
	Align  uint64
}

// SectionHeader mirrors Elf64_Shdr.
type SectionHeader struct {
	NameOff   uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// Symbol mirrors Elf64_Sym.
type Symbol struct {
	NameOff uint32
	Info    uint8
	Other   uint8
	Shndx   uint16
	Value   uint64
	Size    uint64
}

// Rela mirrors Elf64_Rela.
type Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

const (
	ptLoad = 1

	pfExecute = 1
	pfWrite   = 2

	shtRela   = 4
	shtSymtab = 2

	rX8664Relative = 8

	userStackSize = 64 * 1024
)

var (
	errBadMagic     = &kernel.Error{Module: "elf", Message: "not an ELF64 little-endian executable"}
	errNoStartSym   = &kernel.Error{Module: "elf", Message: "no _start symbol found"}
	reportUnknownFn = reportUnknownRelocation
)

// Image describes an ELF executable loaded into a fresh user address space,
// ready to be entered in ring 3.
type Image struct {
	Entry    uintptr
	StackTop uintptr
}

// Load parses data as a static ELF64 executable, reserves and maps its
// PT_LOAD segments (and a fresh user stack) inside tracker via allocFrame,
// applies the relocations this loader understands, and locates _start.
func Load(data []byte, tracker *vmm.Tracker, allocFrame vmm.FrameAllocatorFn) (Image, *kernel.Error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return Image{}, err
	}

	for i := uint16(0); i < hdr.PhNum; i++ {
		ph := programHeader(data, hdr, i)
		if ph.Type != ptLoad {
			continue
		}
		if err := loadSegment(data, ph, tracker, allocFrame); err != nil {
			return Image{}, err
		}
	}

	applyRelocations(data, hdr)

	stackTop, err := allocUserStack(tracker, allocFrame)
	if err != nil {
		return Image{}, err
	}

	entry, err := resolveStart(data, hdr)
	if err != nil {
		return Image{}, err
	}

	return Image{Entry: entry, StackTop: stackTop}, nil
}

func parseHeader(data []byte) (*Header, *kernel.Error) {
	if len(data) < int(unsafe.Sizeof(Header{})) {
		return nil, errBadMagic
	}
	hdr := (*Header)(unsafe.Pointer(&data[0]))
	if hdr.Ident[0] != elfMagic[0] || hdr.Ident[1] != elfMagic[1] ||
		hdr.Ident[2] != elfMagic[2] || hdr.Ident[3] != elfMagic[3] {
		return nil, errBadMagic
	}
	return hdr, nil
}

func programHeader(data []byte, hdr *Header, index uint16) *ProgramHeader {
	off := hdr.PhOff + uint64(index)*uint64(hdr.PhEntSize)
	return (*ProgramHeader)(unsafe.Pointer(&data[off]))
}

func sectionHeader(data []byte, hdr *Header, index uint16) *SectionHeader {
	off := hdr.ShOff + uint64(index)*uint64(hdr.ShEntSize)
	return (*SectionHeader)(unsafe.Pointer(&data[off]))
}

// loadSegment reserves the virtual pages ph needs, maps them writable while
// the contents are copied in, then downgrades permissions to what the
// segment's own flags call for.
func loadSegment(data []byte, ph *ProgramHeader, tracker *vmm.Tracker, allocFrame vmm.FrameAllocatorFn) *kernel.Error {
	pageStart := uintptr(ph.VAddr) &^ uintptr(mem.PageSize-1)
	pageEnd := (uintptr(ph.VAddr) + uintptr(ph.MemSz) + uintptr(mem.PageSize) - 1) &^ uintptr(mem.PageSize-1)
	pageCount := int((pageEnd - pageStart) / uintptr(mem.PageSize))

	if err := tracker.ReserveSpecific(pageStart, pageEnd); err != nil {
		return err
	}

	frames := make([]pmm.Frame, pageCount)
	for i := 0; i < pageCount; i++ {
		frame, err := allocFrame()
		if err != nil {
			return err
		}
		frames[i] = frame
		page := vmm.PageFromAddress(pageStart + uintptr(i)*uintptr(mem.PageSize))
		if err := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			return err
		}
	}

	// Copy file content into [vaddr, vaddr+filesz) and zero the remainder
	// (the bss tail, covered by memsz but not filesz).
	segStart := pageStart
	dst := (*[1 << 30]byte)(unsafe.Pointer(segStart))[:pageEnd-pageStart]
	for i := range dst {
		dst[i] = 0
	}
	fileOff := uintptr(ph.VAddr) - pageStart
	copy(dst[fileOff:fileOff+uintptr(ph.FileSz)], data[ph.Offset:ph.Offset+ph.FileSz])

	flags := vmm.PageTableEntryFlag(vmm.FlagPresent | vmm.FlagUserAccessible)
	if ph.Flags&pfWrite != 0 {
		flags |= vmm.FlagRW
	}
	if ph.Flags&pfExecute == 0 {
		flags |= vmm.FlagNoExecute
	}
	// Re-mapping the same frame with the segment's real flags downgrades
	// permissions now that the copy above is done; Map overwrites the
	// existing entry in place rather than requiring a separate unmap step.
	for i := 0; i < pageCount; i++ {
		page := vmm.PageFromAddress(pageStart + uintptr(i)*uintptr(mem.PageSize))
		if err := vmm.Map(page, frames[i], flags); err != nil {
			return err
		}
	}

	return nil
}

// applyRelocations walks every SHT_RELA section and applies the one
// relocation type this loader understands (an absolute 64-bit store of
// addend at the target offset). Anything else is logged and skipped.
func applyRelocations(data []byte, hdr *Header) {
	for i := uint16(0); i < hdr.ShNum; i++ {
		sh := sectionHeader(data, hdr, i)
		if sh.Type != shtRela {
			continue
		}

		count := sh.Size / uint64(unsafe.Sizeof(Rela{}))
		for j := uint64(0); j < count; j++ {
			rela := (*Rela)(unsafe.Pointer(&data[sh.Offset+j*uint64(unsafe.Sizeof(Rela{}))]))
			relocType := rela.Info & 0xffffffff
			if relocType != rX8664Relative {
				reportUnknownFn(relocType, rela.Offset)
				continue
			}
			*(*uint64)(unsafe.Pointer(uintptr(rela.Offset))) = uint64(rela.Addend)
		}
	}
}

func reportUnknownRelocation(relocType uint64, offset uint64) {
	kfmt.Printf("elf: skipping unsupported relocation type %d at offset 0x%x\n", relocType, offset)
}

func allocUserStack(tracker *vmm.Tracker, allocFrame vmm.FrameAllocatorFn) (uintptr, *kernel.Error) {
	pageCount := userStackSize / int(mem.PageSize)
	base, ok := tracker.Allocate(uint64(pageCount), uintptr(mem.PageSize))
	if !ok {
		return 0, &kernel.Error{Module: "elf", Message: "could not reserve virtual pages for the user stack"}
	}

	for i := 0; i < pageCount; i++ {
		frame, err := allocFrame()
		if err != nil {
			return 0, err
		}
		page := vmm.PageFromAddress(base + uintptr(i)*uintptr(mem.PageSize))
		if err := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible|vmm.FlagNoExecute); err != nil {
			return 0, err
		}
	}

	return base + uintptr(userStackSize), nil
}

func resolveStart(data []byte, hdr *Header) (uintptr, *kernel.Error) {
	for i := uint16(0); i < hdr.ShNum; i++ {
		sh := sectionHeader(data, hdr, i)
		if sh.Type != shtSymtab {
			continue
		}
		strTab := sectionHeader(data, hdr, uint16(sh.Link))

		count := sh.Size / uint64(unsafe.Sizeof(Symbol{}))
		for j := uint64(0); j < count; j++ {
			sym := (*Symbol)(unsafe.Pointer(&data[sh.Offset+j*uint64(unsafe.Sizeof(Symbol{}))]))
			if symbolName(data, strTab, sym.NameOff) == "_start" {
				return uintptr(sym.Value), nil
			}
		}
	}
	return 0, errNoStartSym
}

func symbolName(data []byte, strTab *SectionHeader, nameOff uint32) string {
	start := strTab.Offset + uint64(nameOff)
	end := start
	for end < strTab.Offset+strTab.Size && data[end] != 0 {
		end++
	}
	return string(data[start:end])
}

// enterRing3 builds an iretq frame targeting entry/stackTop at the given
// code/data selectors (RPL 3 is applied by the caller's selector values) and
// executes iretq. Implemented in entry_amd64.s.
func enterRing3(entry, stackTop uintptr, codeSel, dataSel uint16)

// EnterRing3 transfers control to entry, running at stackTop with interrupts
// enabled, at ring 3 using the kernel's user code/data selectors. Never
// returns.
func EnterRing3(entry, stackTop uintptr) {
	enterRing3(entry, stackTop, uint16(gdt.UserCodeSelector), uint16(gdt.UserDataSelector))
}
