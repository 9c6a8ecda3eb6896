package idt

import "coderunner/kernel/kfmt"

// dispatchInterrupt is called by commonStub (in dispatch_amd64.s) with a
// pointer to the FullContext the trampoline just saved.
//
//go:nosplit
func dispatchInterrupt(ctx *FullContext) {
	vector := ctx.Vector & 0xff

	handler := handlers[vector]
	if handler == nil {
		unhandledVector(ctx, uint8(vector))
		return
	}

	handler(ctx)
}

// unhandledVector is reached when an interrupt fires for a vector with no
// registered Go handler. This should never happen for an unmasked IRQ or a
// CPU exception once boot has finished installing handlers; if it does, the
// kernel has no safe way to continue so it reports and halts.
func unhandledVector(ctx *FullContext, vector uint8) {
	kfmt.Printf("idt: unhandled interrupt, vector=%d rip=0x%x\n", vector, ctx.RIP)
	haltFn()
}
