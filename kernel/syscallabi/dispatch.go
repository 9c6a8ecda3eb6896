package syscallabi

// syscallEntry is the naked entry point SYSCALL jumps to once Init has
// pointed IA32_LSTAR at it; its only job is building a Context and calling
// dispatchSyscall. Implemented in entry_amd64.s.
func syscallEntry()

// Return performs sysretq, resuming user execution at ctx.RCX with
// ctx.R11 restored into rflags and every general-purpose register restored
// from ctx. It never returns to its caller. Implemented in return_amd64.s.
func Return(ctx *Context)

// returnFn exists purely as a test seam over Return, whose real
// implementation executes a privileged instruction and can't run under go
// test.
var returnFn = Return

// dispatchSyscall is called by syscallEntry with the original user rax
// (the syscall number) and the freshly built Context. It never returns:
// the registered Handler is responsible for calling Return.
//
//go:nosplit
func dispatchSyscall(num uint64, ctx *Context) {
	if handler == nil {
		ctx.RAX = 0
		returnFn(ctx)
		return
	}
	handler(num, ctx)
}
