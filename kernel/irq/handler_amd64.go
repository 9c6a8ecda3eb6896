package irq

import (
	"coderunner/kernel/idt"
	"coderunner/kernel/kfmt"
)

// ExceptionNum defines an exception number that can be
// passed to the HandleException and HandleExceptionWithCode
// functions.
type ExceptionNum uint8

const (
	// DoubleFault occurs when an exception is unhandled
	// or when an exception occurs while the CPU is
	// trying to call an exception handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a PDT or
	// PDT-entry is not present or when a privilege
	// and/or RW protection check fails.
	PageFaultException = ExceptionNum(14)
)

var setFixedEntryFn = idt.SetFixedEntry

// ExceptionHandler is a function that handles an exception that does not push
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandler func(*Frame, *Regs)

// ExceptionHandlerWithCode is a function that handles an exception that pushes
// an error code to the stack. If the handler returns, any modifications to the
// supplied Frame and/or Regs pointers will be propagated back to the location
// where the exception occurred.
type ExceptionHandlerWithCode func(uint64, *Frame, *Regs)

// HandleException registers an exception handler (without an error code) for
// the given interrupt number. It is a thin adapter over idt.SetFixedEntry:
// the full IDT owns the actual gate table, this package just narrows its
// generic FullContext down to the Frame/Regs split exception handlers expect
// and writes any handler-side modifications back before returning.
func HandleException(exceptionNum ExceptionNum, handler ExceptionHandler) {
	err := setFixedEntryFn(uint8(exceptionNum), func(ctx *idt.FullContext) {
		regs, frame := splitContext(ctx)
		handler(&frame, &regs)
		joinContext(ctx, &regs, &frame)
	})
	if err != nil {
		kfmt.Printf("irq: %s\n", err.Message)
	}
}

// HandleExceptionWithCode registers an exception handler (with an error code)
// for the given interrupt number.
func HandleExceptionWithCode(exceptionNum ExceptionNum, handler ExceptionHandlerWithCode) {
	err := setFixedEntryFn(uint8(exceptionNum), func(ctx *idt.FullContext) {
		regs, frame := splitContext(ctx)
		handler(ctx.ErrorCode, &frame, &regs)
		joinContext(ctx, &regs, &frame)
	})
	if err != nil {
		kfmt.Printf("irq: %s\n", err.Message)
	}
}

// splitContext narrows a FullContext down to the Regs/Frame pair exception
// handlers are written against.
func splitContext(ctx *idt.FullContext) (Regs, Frame) {
	regs := Regs{
		RAX: ctx.RAX, RBX: ctx.RBX, RCX: ctx.RCX, RDX: ctx.RDX,
		RSI: ctx.RSI, RDI: ctx.RDI, RBP: ctx.RBP,
		R8: ctx.R8, R9: ctx.R9, R10: ctx.R10, R11: ctx.R11,
		R12: ctx.R12, R13: ctx.R13, R14: ctx.R14, R15: ctx.R15,
	}
	frame := Frame{
		RIP: ctx.RIP, CS: ctx.CS, RFlags: ctx.RFlags, RSP: ctx.RSP, SS: ctx.SS,
	}
	return regs, frame
}

// joinContext writes a (possibly handler-modified) Regs/Frame pair back into
// ctx so changes propagate to the trampoline's restore path.
func joinContext(ctx *idt.FullContext, regs *Regs, frame *Frame) {
	ctx.RAX, ctx.RBX, ctx.RCX, ctx.RDX = regs.RAX, regs.RBX, regs.RCX, regs.RDX
	ctx.RSI, ctx.RDI, ctx.RBP = regs.RSI, regs.RDI, regs.RBP
	ctx.R8, ctx.R9, ctx.R10, ctx.R11 = regs.R8, regs.R9, regs.R10, regs.R11
	ctx.R12, ctx.R13, ctx.R14, ctx.R15 = regs.R12, regs.R13, regs.R14, regs.R15

	ctx.RIP, ctx.CS, ctx.RFlags, ctx.RSP, ctx.SS =
		frame.RIP, frame.CS, frame.RFlags, frame.RSP, frame.SS
}
