package rt

// Blocker implements kernel/async.Blocker over the three interrupt-deferral
// syscalls, so async.Execute drives a Future in user space exactly the way
// kernel/async.KernelBlocker drives one in the kernel: Disable defers rather
// than masking at the CPU, and Wait is the one syscall that atomically
// re-enables and sleeps, closing the same check-then-block race the kernel
// side closes with cpu.WaitForInterrupt.
type Blocker struct{}

// These are seams over the raw syscalls, the same xxxFn pattern used
// throughout this tree to let tests substitute a fake for a privileged
// instruction they can't actually execute.
var (
	disableAndDeferFn  = DisableAndDeferMyInterrupts
	enableAndCatchUpFn = EnableAndCatchUpOnMyInterrupts
	enableAndWaitFn    = EnableMyInterruptsAndWaitUntilOneHappens
)

func (Blocker) Disable() { disableAndDeferFn() }
func (Blocker) Enable()  { enableAndCatchUpFn() }
func (Blocker) Wait()    { enableAndWaitFn() }
