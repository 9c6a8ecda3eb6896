package main

import "coderunner/kernel/kmain"

// multibootInfoPtr, kernelStartAddr and kernelEndAddr are populated by the
// rt0 assembly before main is invoked.
var (
	multibootInfoPtr               uintptr
	kernelStartAddr, kernelEndAddr uintptr
)

// main is the only Go symbol visible to the rt0 initialization code. It is a
// trampoline for the real kernel entrypoint (kmain.Kmain); defining it this
// way (rather than calling Kmain directly from assembly) keeps the compiler
// from treating the kernel package as unreachable and eliminating it.
//
// main is not expected to return: the rt0 code halts the CPU if it does.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStartAddr, kernelEndAddr)
}
