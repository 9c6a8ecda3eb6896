package kernel

import (
	"bytes"
	"coderunner/kernel/kfmt"
	"testing"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = func() {}
		kfmt.SetOutputSink(nil)
	}()

	t.Run("with error", func(t *testing.T) {
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)
		var halted bool
		cpuHaltFn = func() { halted = true }

		Panic(&Error{Module: "test", Message: "panic test"})

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
		if !halted {
			t.Fatal("expected cpu.Halt to be invoked")
		}
	})

	t.Run("without error", func(t *testing.T) {
		var buf bytes.Buffer
		kfmt.SetOutputSink(&buf)
		var halted bool
		cpuHaltFn = func() { halted = true }

		Panic(nil)

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------\n"
		if got := buf.String(); got != exp {
			t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
		}
		if !halted {
			t.Fatal("expected cpu.Halt to be invoked")
		}
	})
}
