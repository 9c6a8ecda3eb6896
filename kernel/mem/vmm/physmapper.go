package vmm

import (
	"coderunner/kernel"
	"coderunner/kernel/cpu"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/pmm"
)

var (
	errNoFrames       = &kernel.Error{Module: "vmm", Message: "map_to_phys requires at least one frame"}
	errNoVirtualSpace = &kernel.Error{Module: "vmm", Message: "no virtual address range large enough for this mapping"}
	errNotMappedByUs  = &kernel.Error{Module: "vmm", Message: "page range was not obtained from PhysMapper.MapToPhys"}

	// flushTLBFn is used by tests to override calls to cpu.FlushTLB which
	// will cause a fault if called in user-mode.
	flushTLBFn = cpu.FlushTLB
)

// PhysMapper composes a Tracker (C1) with the page-table mapper and a
// physical frame allocator to let callers map ranges of physical frames into
// the kernel's virtual address space on demand, and unmap them again. A
// single PhysMapper instance is shared by every caller that needs to reach
// physical memory by address, e.g. ACPI table enumeration or the APIC driver
// mapping the Local/IO APIC registers.
type PhysMapper struct {
	tracker    *Tracker
	allocFrame FrameAllocatorFn
}

// NewPhysMapper creates a PhysMapper that reserves virtual windows from
// tracker and, when a mapping requires new page-table pages, allocates them
// via allocFrame. allocFrame also becomes the package's registered frame
// allocator (see SetFrameAllocator) if one has not already been installed,
// since Map/Unmap's page-table walk needs it too.
func NewPhysMapper(tracker *Tracker, allocFrame FrameAllocatorFn) *PhysMapper {
	if frameAllocator == nil {
		frameAllocator = allocFrame
	}
	return &PhysMapper{tracker: tracker, allocFrame: allocFrame}
}

// MapToPhys reserves a contiguous virtual window sized to hold len(frames)
// pages, installs page-table entries pointing each page at the matching
// frame with the given flags, and issues a single TLB flush once every entry
// is in place. On failure, any entries already installed are rolled back and
// the virtual reservation is released.
func (m *PhysMapper) MapToPhys(frames []pmm.Frame, flags PageTableEntryFlag) (Page, *kernel.Error) {
	if len(frames) == 0 {
		return 0, errNoFrames
	}

	startAddr, ok := m.tracker.Allocate(uint64(len(frames)), uintptr(mem.PageSize))
	if !ok {
		return 0, errNoVirtualSpace
	}
	startPage := PageFromAddress(startAddr)

	for i, frame := range frames {
		page := startPage + Page(i)
		if err := installMapping(page, frame, flags); err != nil {
			for j := 0; j < i; j++ {
				_ = clearMapping(startPage + Page(j))
			}
			flushTLBFn()
			m.tracker.Release(startAddr, startAddr+uintptr(len(frames))*uintptr(mem.PageSize))
			return 0, err
		}
	}

	flushTLBFn()
	return startPage, nil
}

// Unmap clears the page-table entries for the pageCount pages starting at
// page, flushes the TLB once, and releases the virtual range back to the
// tracker. The underlying physical frames are not freed: this kernel has no
// frame-reclamation path and every PhysMapper caller's lifetime is bounded by
// the process or by boot, so the leak is acceptable.
func (m *PhysMapper) Unmap(page Page, pageCount int) *kernel.Error {
	if pageCount <= 0 {
		return errNotMappedByUs
	}

	for i := 0; i < pageCount; i++ {
		if err := clearMapping(page + Page(i)); err != nil {
			return err
		}
	}
	flushTLBFn()

	start := page.Address()
	m.tracker.Release(start, start+uintptr(pageCount)*uintptr(mem.PageSize))
	return nil
}

// MapPhysAddr maps the size bytes of physical memory starting at physAddr and
// returns a virtual address that preserves physAddr's offset within its
// page, plus the number of pages the mapping spans (needed by the caller to
// later Unmap it). This is the contract ACPI/APIC register access relies on:
// callers work with a physical address and a length, not a frame-aligned
// Page.
func (m *PhysMapper) MapPhysAddr(physAddr uintptr, size mem.Size, flags PageTableEntryFlag) (uintptr, int, *kernel.Error) {
	startFrame := pmm.FrameFromAddress(physAddr)
	offset := PageOffset(physAddr)

	pageCount := int((mem.Size(offset) + size + mem.PageSize - 1) >> mem.PageShift)
	frames := make([]pmm.Frame, pageCount)
	for i := range frames {
		frames[i] = startFrame + pmm.Frame(i)
	}

	page, err := m.MapToPhys(frames, flags)
	if err != nil {
		return 0, 0, err
	}

	return page.Address() + offset, pageCount, nil
}
