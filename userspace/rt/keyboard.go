package rt

import (
	"coderunner/kernel/async"
	"unsafe"
)

func keyboardInterruptTrampoline()

// pendingWaker is the Waker of whichever poll last found the queue empty;
// the interrupt trampoline wakes it directly. async.Waker.Wake is documented
// safe to call from interrupt context, the user-space equivalent of
// async_keyboard.rs's WAKER.register/WAKER.wake pair.
var pendingWaker *async.Waker

//go:nosplit
func onKeyboardInterrupt() {
	if w := pendingWaker; w != nil {
		w.Wake()
	}
}

// trampolineAddr returns the code address of keyboardInterruptTrampoline,
// using the same funcPC trick kernel/syscallabi.entryAddr uses to address
// its own asm entry point without reflect.
func trampolineAddr() uintptr {
	fn := keyboardInterruptTrampoline
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// KeyboardStream is an async.Future[[]byte] over the kernel's keyboard scan
// code queue: each Poll drains whatever has arrived since the last one,
// becoming ready exactly when there is at least one scan code, and
// otherwise arranging to be woken by the keyboard interrupt the same way
// kernel/timer arranges to be woken by the RTC's.
type KeyboardStream struct {
	buf    [256]byte
	closed bool
}

// NewKeyboardStream asks the kernel to start recording scan codes and
// installs the interrupt trampoline that wakes pending polls.
func NewKeyboardStream(capacity uint64, policy FullQueueBehavior) *KeyboardStream {
	StartRecordingKeyboard(capacity, policy)
	SetKeyboardInterruptHandler(trampolineAddr())
	return &KeyboardStream{}
}

// Close disables the keyboard interrupt handler, the Go equivalent of the
// original's Drop impl on AsyncKeyboard disabling further interrupt
// delivery to a stream that is no longer being polled.
func (s *KeyboardStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	SetKeyboardInterruptHandler(0)
}

// pollKeyboardFn is a seam so tests can drive Poll without going through a
// real syscall, the same xxxFn pattern kernel/syscallabi and kernel/apic use
// for their own privileged-instruction boundaries.
var pollKeyboardFn = PollKeyboard

// Poll implements async.Future[[]byte].
func (s *KeyboardStream) Poll(w *async.Waker) ([]byte, bool) {
	if s.closed {
		return nil, true
	}

	n := pollKeyboardFn(s.buf[:])
	if n > 0 {
		return s.buf[:n], true
	}

	pendingWaker = w
	return nil, false
}
