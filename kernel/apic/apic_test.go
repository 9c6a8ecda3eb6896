package apic

import (
	"coderunner/device/acpi"
	"coderunner/kernel"
	"coderunner/kernel/mem"
	"coderunner/kernel/mem/vmm"
	"testing"
	"unsafe"
)

type fakeAPICSource struct {
	lapicAddr uint32
	lapicOK   bool
	ioapics   []acpi.IOAPICInfo
}

func (f fakeAPICSource) LocalAPIC() (acpi.LocalAPICInfo, bool) {
	return acpi.LocalAPICInfo{Address: f.lapicAddr, CPUCount: 1}, f.lapicOK
}

func (f fakeAPICSource) IOAPICs() []acpi.IOAPICInfo {
	return f.ioapics
}

// fakeMapper hands out a fixed in-process buffer as the "mapped" address for
// every physical address it's asked about, so register reads/writes land on
// memory the test can inspect directly.
type fakeMapper struct {
	regions map[uintptr]*[4096]byte
}

func (f *fakeMapper) MapPhysAddr(physAddr uintptr, _ mem.Size, _ vmm.PageTableEntryFlag) (uintptr, int, *kernel.Error) {
	buf, ok := f.regions[physAddr]
	if !ok {
		buf = &[4096]byte{}
		f.regions[physAddr] = buf
	}
	return uintptr(unsafe.Pointer(&buf[0])), 1, nil
}

func TestInitEnablesLocalAPICAndAssignsVectors(t *testing.T) {
	mapper := &fakeMapper{regions: map[uintptr]*[4096]byte{}}
	source := fakeAPICSource{lapicAddr: 0xfee00000, lapicOK: true}

	if err := Init(source, mapper); err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}

	svr := readReg(lapicBase, lapicRegSVR)
	if svr&svrAPICEnable == 0 {
		t.Fatal("expected the local APIC enable bit to be set in SVR")
	}

	lvtTimer := readReg(lapicBase, lapicRegLVTTimer)
	if lvtTimer&lvtMasked == 0 {
		t.Fatal("expected the timer LVT entry to be masked by default")
	}
}

func TestInitReturnsErrorWithNoLocalAPIC(t *testing.T) {
	mapper := &fakeMapper{regions: map[uintptr]*[4096]byte{}}
	source := fakeAPICSource{lapicOK: false}

	if err := Init(source, mapper); err != errNoLocalAPIC {
		t.Fatalf("expected errNoLocalAPIC; got %v", err)
	}
}

func TestEOIWritesZeroToEOIRegister(t *testing.T) {
	mapper := &fakeMapper{regions: map[uintptr]*[4096]byte{}}
	source := fakeAPICSource{lapicAddr: 0xfee00000, lapicOK: true}
	if err := Init(source, mapper); err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}

	writeReg(lapicBase, lapicRegEOI, 0xff)
	EOI()

	if got := readReg(lapicBase, lapicRegEOI); got != 0 {
		t.Fatalf("expected EOI to write 0; got 0x%x", got)
	}
}
