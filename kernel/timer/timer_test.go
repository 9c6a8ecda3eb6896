package timer

import (
	"coderunner/kernel/async"
	"sync/atomic"
	"testing"
)

func resetTicks(v uint64) {
	atomic.StoreUint64(&ticks, v)
	pendingWaker = nil
}

func TestDeadlinePollReadyOnceTargetReached(t *testing.T) {
	defer resetTicks(0)
	resetTicks(10)

	d := After(3)

	var w async.Waker
	if _, ready := d.Poll(&w); ready {
		t.Fatal("expected the deadline to be pending immediately after After")
	}
	if pendingWaker != &w {
		t.Fatal("expected Poll to stash its Waker for the IRQ handler to wake")
	}

	atomic.StoreUint64(&ticks, 13)
	if _, ready := d.Poll(&w); !ready {
		t.Fatal("expected the deadline to be ready once Ticks() reaches the target")
	}
}

func TestTickFiresOnceThenWaitsForTheNextInterrupt(t *testing.T) {
	defer resetTicks(0)
	resetTicks(5)

	tick := NewTick()
	var w async.Waker

	if _, ready := tick.Poll(&w); ready {
		t.Fatal("expected no tick to be pending before the count changes")
	}

	atomic.AddUint64(&ticks, 1)
	if _, ready := tick.Poll(&w); !ready {
		t.Fatal("expected the tick to be ready once the counter advances")
	}

	if _, ready := tick.Poll(&w); ready {
		t.Fatal("expected the tick to go pending again immediately after firing")
	}
}

func TestTicksReflectsIRQHandlerIncrements(t *testing.T) {
	defer resetTicks(0)
	resetTicks(0)

	atomic.AddUint64(&ticks, 1)
	atomic.AddUint64(&ticks, 1)

	if got := Ticks(); got != 2 {
		t.Fatalf("expected Ticks() == 2, got %d", got)
	}
}
