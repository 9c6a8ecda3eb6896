package async

import "coderunner/kernel/cpu"

// KernelBlocker drives Execute from kernel-space code: disabling/enabling
// are the plain CLI/STI instructions, and waiting is the combined STI;HLT
// primitive that can't lose a wake between re-enabling and sleeping.
type KernelBlocker struct{}

func (KernelBlocker) Disable() { disableInterruptsFn() }
func (KernelBlocker) Enable()  { enableInterruptsFn() }
func (KernelBlocker) Wait()    { waitForInterruptFn() }

var (
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	waitForInterruptFn  = cpu.WaitForInterrupt
)
