// Package kmain sequences kernel bring-up: it is the boot-time glue between
// the rt0 trampoline and every subsystem package, run exactly once and never
// returning.
package kmain

import (
	"coderunner/device/acpi"
	"coderunner/kernel"
	"coderunner/kernel/apic"
	"coderunner/kernel/elf"
	"coderunner/kernel/gdt"
	"coderunner/kernel/hal"
	"coderunner/kernel/hal/multiboot"
	"coderunner/kernel/idt"
	"coderunner/kernel/kfmt"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/pmm/allocator"
	"coderunner/kernel/mem/vmm"
	"coderunner/kernel/syscallabi"
	"coderunner/kernel/syscallabi/proto"
	"coderunner/kernel/timer"
	"unsafe"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoACPI        = &kernel.Error{Module: "kmain", Message: "no ACPI driver reported a local APIC"}
	errNoRamdisk     = &kernel.Error{Module: "kmain", Message: "bootloader supplied no ramdisk module"}
)

// kernelPageOffset is the virtual address the kernel image itself is loaded
// at. This kernel identity-maps its own image rather than relocating it into
// a higher-half window.
const kernelPageOffset = 0

// istStackSize is the size of each interrupt-stack-table stack handed to the
// GDT's TSS; double-fault and NMI handlers must not run on a stack that
// might itself be the cause of the fault.
const istStackSize = 16 * mem.Kb

// userAddressSpaceLimit bounds the virtual-address range handed to the
// resident user process's Tracker; kernel/syscallabi/proto enforces the same
// bound independently on every pointer argument it receives from user code.
const userAddressSpaceLimit = uintptr(1) << 47

// kernelDeviceWindowBase/Limit bound a separate virtual-address range used
// only for mapping device register windows (e.g. the local/IO APICs), kept
// well clear of the user address space so the two Trackers never overlap.
const (
	kernelDeviceWindowBase  = uintptr(1) << 47
	kernelDeviceWindowLimit = uintptr(1) << 48
)

// Kmain is the only Go symbol the rt0 trampoline calls. multibootInfoPtr is
// the bootloader's info structure; kernelStart/kernelEnd are the physical
// addresses of the loaded kernel image, used to carve it out of the boot
// memory allocator's view of free RAM.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.DetectHardware()
	kfmt.Printf("starting\n")

	var istStacks [7][]byte
	istStacks[0] = make([]byte, istStackSize)
	gdt.Init(istStacks)
	idt.Init(uint16(gdt.KernelCodeSelector))

	if err := allocator.Init(kernelStart, kernelEnd); err != nil {
		kernel.Panic(err)
	}
	vmm.SetFrameAllocator(allocator.AllocFrame)
	if err := vmm.Init(kernelPageOffset); err != nil {
		kernel.Panic(err)
	}

	apicSource, err := locateACPI()
	if err != nil {
		kernel.Panic(err)
	}
	physMapper := vmm.NewPhysMapper(vmm.NewTracker(kernelDeviceWindowBase, kernelDeviceWindowLimit, false), allocator.AllocFrame)
	if err := apic.Init(apicSource, physMapper); err != nil {
		kernel.Panic(err)
	}
	if err := timer.Init(timer.DefaultRate); err != nil {
		kernel.Panic(err)
	}

	syscallabi.Init()

	userTracker := vmm.NewTracker(0, userAddressSpaceLimit, false)
	image, err := loadRamdisk(userTracker)
	if err != nil {
		kernel.Panic(err)
	}

	if err := proto.Init(userTracker, allocator.AllocFrame); err != nil {
		kernel.Panic(err)
	}
	if fb := multiboot.GetFramebufferInfo(); fb != nil {
		proto.SetFramebuffer(uintptr(fb.PhysAddr), mem.Size(fb.Pitch)*mem.Size(fb.Height))
	}

	elf.EnterRing3(image.Entry, image.StackTop)

	// EnterRing3 never returns; use kernel.Panic instead of a bare
	// infinite loop so the compiler can't eliminate this tail as
	// unreachable dead code.
	kernel.Panic(errKmainReturned)
}

// locateACPI finds the ACPI driver among the drivers hal.DetectHardware
// probed and asserts it as an apic.Init source. The ACPI driver self-locates
// the RSDP by scanning memory; no multiboot tag carries its address.
func locateACPI() (acpi.APICSource, *kernel.Error) {
	for _, drv := range hal.ActiveDrivers() {
		if source, ok := drv.(acpi.APICSource); ok {
			return source, nil
		}
	}
	return nil, errNoACPI
}

// loadRamdisk locates the bootloader-supplied ramdisk module and loads it as
// an ELF image into tracker's address space.
func loadRamdisk(tracker *vmm.Tracker) (elf.Image, *kernel.Error) {
	mod, ok := multiboot.GetModule()
	if !ok {
		return elf.Image{}, errNoRamdisk
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(mod.Start))), mod.End-mod.Start)
	return elf.Load(data, tracker, allocator.AllocFrame)
}
