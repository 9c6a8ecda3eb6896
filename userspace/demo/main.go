// Command demo is the resident user process's sample workload: it drives
// kernel/async.Execute over a keyboard scan code stream using userspace/rt's
// syscall-backed Blocker, logging each batch of scan codes and periodically
// closing and reopening the stream to exercise cancellation, the user-space
// counterpart of the kernel's own async demos.
package main

import (
	"coderunner/kernel/async"
	"coderunner/kernel/kfmt"
	"coderunner/userspace/rt"
)

// console adapts rt.Print to an io.Writer so kfmt.Fprintf can format
// messages the same way kernel-side code does, instead of hand-rolling
// string building in a package that otherwise has no allocator of its own.
type console struct{}

func (console) Write(p []byte) (int, error) {
	rt.Print(string(p))
	return len(p), nil
}

var out console

// closeAfterBatches bounds how many scan-code batches a single
// KeyboardStream serves before main closes it and opens a fresh one,
// mirroring demo_async_keyboard_drop.rs's "stop after 6 events" loop.
const closeAfterBatches = 6

func main() {
	var blocker rt.Blocker

	for {
		stream := rt.NewKeyboardStream(256, rt.DropOldest)
		for batches := 0; batches < closeAfterBatches; batches++ {
			scanCodes := async.Execute[[]byte](stream, blocker)
			if len(scanCodes) == 0 {
				break
			}
			kfmt.Fprintf(&out, "scan codes:")
			for _, b := range scanCodes {
				kfmt.Fprintf(&out, " %x", b)
			}
			kfmt.Fprintf(&out, "\n")
		}
		// Closing and immediately reopening exercises the same
		// disable-then-reinstall-the-handler path a real drop would take.
		stream.Close()
	}
}
