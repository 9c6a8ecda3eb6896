package idt

import (
	"testing"
	"unsafe"
)

func resetVectorState() {
	for i := range used {
		used[i] = false
		handlers[i] = nil
	}
}

func TestSetFixedEntry(t *testing.T) {
	resetVectorState()
	defer resetVectorState()

	var called bool
	if err := SetFixedEntry(8, func(*FullContext) { called = true }); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	handlers[8](&FullContext{})
	if !called {
		t.Fatal("expected registered handler to be reachable via handlers[8]")
	}

	if err := SetFixedEntry(8, func(*FullContext) {}); err != errAlreadyAssigned {
		t.Fatalf("expected errAlreadyAssigned; got %v", err)
	}
}

func TestSetFixedEntryRejectsFlexibleVector(t *testing.T) {
	resetVectorState()
	defer resetVectorState()

	if err := SetFixedEntry(numFixedVectors, func(*FullContext) {}); err == nil {
		t.Fatal("expected an error for a vector outside the fixed range")
	}
}

func TestSetFlexibleEntry(t *testing.T) {
	resetVectorState()
	defer resetVectorState()

	v, err := SetFlexibleEntry(func(*FullContext) {})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v != numFixedVectors {
		t.Fatalf("expected the first flexible vector (%d); got %d", numFixedVectors, v)
	}

	v2, err := SetFlexibleEntry(func(*FullContext) {})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v2 != numFixedVectors+1 {
		t.Fatalf("expected the next free flexible vector (%d); got %d", numFixedVectors+1, v2)
	}
}

func TestSetFlexibleEntryExhausted(t *testing.T) {
	resetVectorState()
	defer resetVectorState()

	for v := numFixedVectors; v < len(used); v++ {
		used[v] = true
	}

	if _, err := SetFlexibleEntry(func(*FullContext) {}); err != errNoFreeVector {
		t.Fatalf("expected errNoFreeVector; got %v", err)
	}
}

func TestInitBuildsGateTableAndLoadsIDTR(t *testing.T) {
	defer func(orig func(*idtr)) { loadIDTFn = orig }(loadIDTFn)

	var gotReg *idtr
	loadIDTFn = func(r *idtr) { gotReg = r }

	origPortWrite, origPortRead, origIOWait := portWriteByteFn, portReadByteFn, ioWaitFn
	defer func() {
		portWriteByteFn, portReadByteFn, ioWaitFn = origPortWrite, origPortRead, origIOWait
	}()
	portWriteByteFn = func(uint16, uint8) {}
	portReadByteFn = func(uint16) uint8 { return 0 }
	ioWaitFn = func() {}

	Init(0x08)

	if gotReg == nil {
		t.Fatal("expected loadIDTFn to be called")
	}
	if gotReg.limit != uint16(unsafe.Sizeof(entries))-1 {
		t.Fatalf("unexpected IDTR limit: %d", gotReg.limit)
	}

	for v := range entries {
		if entries[v].selector != 0x08 {
			t.Fatalf("vector %d: expected selector 0x08; got 0x%x", v, entries[v].selector)
		}
		if entries[v].typeAttr&gatePresent == 0 {
			t.Fatalf("vector %d: expected the present bit to be set", v)
		}
	}
}
