package kernel

import (
	"coderunner/kernel/cpu"
	"coderunner/kernel/kfmt"
)

// cpuHaltFn is mocked by tests.
var cpuHaltFn = cpu.Halt

var errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}

// Panic prints the supplied error (if not nil) and halts the CPU. It never
// returns. e may be a *Error, a string or an error; anything else is
// reported without detail.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***\n")
	kfmt.Printf("-----------------------------------\n")

	cpuHaltFn()
}
