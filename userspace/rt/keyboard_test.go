package rt

import (
	"coderunner/kernel/async"
	"testing"
)

func withFakePoll(t *testing.T, scanCodes []byte) {
	t.Helper()
	prev := pollKeyboardFn
	t.Cleanup(func() { pollKeyboardFn = prev })

	pollKeyboardFn = func(buf []byte) int {
		n := copy(buf, scanCodes)
		return n
	}
}

func TestKeyboardStreamPollPendingWhenQueueEmpty(t *testing.T) {
	withFakePoll(t, nil)
	s := &KeyboardStream{}

	var w async.Waker
	if _, ready := s.Poll(&w); ready {
		t.Fatal("expected a pending poll when no scan codes are queued")
	}
	if pendingWaker != &w {
		t.Fatal("expected Poll to stash its Waker for the interrupt trampoline to wake")
	}
}

func TestKeyboardStreamPollReadyWithScanCodes(t *testing.T) {
	withFakePoll(t, []byte{0x1e, 0x9e})
	s := &KeyboardStream{}

	var w async.Waker
	got, ready := s.Poll(&w)
	if !ready {
		t.Fatal("expected the poll to be ready once scan codes are queued")
	}
	if len(got) != 2 || got[0] != 0x1e || got[1] != 0x9e {
		t.Fatalf("unexpected scan codes: %x", got)
	}
}

func TestKeyboardStreamPollAfterCloseIsImmediatelyReady(t *testing.T) {
	withFakePoll(t, nil)
	s := &KeyboardStream{closed: true}

	var w async.Waker
	got, ready := s.Poll(&w)
	if !ready {
		t.Fatal("expected a closed stream to report ready immediately")
	}
	if got != nil {
		t.Fatalf("expected a closed stream to yield no scan codes, got %x", got)
	}
}

func TestOnKeyboardInterruptWakesThePendingWakerUsedByExecute(t *testing.T) {
	defer func() { pendingWaker = nil }()
	prev := pollKeyboardFn
	defer func() { pollKeyboardFn = prev }()

	var calls int
	pollKeyboardFn = func(buf []byte) int {
		calls++
		if calls == 1 {
			return 0 // pending on the first poll, forcing Execute to block
		}
		return copy(buf, []byte{0x1e})
	}

	s := &KeyboardStream{}
	b := &fakeBlocker{onWait: func() { onKeyboardInterrupt() }}

	got := async.Execute[[]byte](s, b)
	if len(got) != 1 || got[0] != 0x1e {
		t.Fatalf("unexpected scan codes: %x", got)
	}
	if b.waits == 0 {
		t.Fatal("expected Execute to block at least once before the interrupt woke it")
	}
}

// fakeBlocker lets onWait simulate the keyboard interrupt trampoline firing
// while Execute is blocked, proving the Waker Poll stashed is the one the
// trampoline's onKeyboardInterrupt call reaches.
type fakeBlocker struct {
	waits  int
	onWait func()
}

func (b *fakeBlocker) Disable() {}
func (b *fakeBlocker) Enable()  {}
func (b *fakeBlocker) Wait() {
	b.waits++
	if b.waits > 1 {
		return
	}
	b.onWait()
}
