// Package timer drives a monotonic tick count off the RTC's periodic
// interrupt (IRQ8) and exposes it to kernel/async as a Future, the same way
// kernel/syscallabi/proto exposes the keyboard as a polled queue.
package timer

import (
	"coderunner/kernel"
	"coderunner/kernel/apic"
	"coderunner/kernel/async"
	"coderunner/kernel/cpu"
	"coderunner/kernel/idt"
	"sync/atomic"
)

const (
	cmosIndexPort = 0x70
	cmosDataPort  = 0x71

	// disableNMIBit is ORed into the CMOS index byte to keep the NMI line
	// masked while reading/writing a register, as every CMOS access must.
	disableNMIBit = 1 << 7

	regStatusA = 0x0A
	regStatusB = 0x0B
	regStatusC = 0x0C

	// statusBPeriodicIntEnable is the Periodic Interrupt Enable bit of
	// Status Register B.
	statusBPeriodicIntEnable = 1 << 6

	rtcIRQ = 8
)

var (
	ticks uint64

	// pendingWaker is the Waker of whichever Future last polled and found
	// itself not ready; the IRQ handler wakes it on the next tick. Only one
	// Future is ever in flight at a time, per Execute's single-future
	// contract.
	pendingWaker *async.Waker

	errNoIRQ = &kernel.Error{Module: "timer", Message: "failed to route RTC IRQ"}
)

// RateDivider selects the RTC's periodic interrupt rate: the interrupt
// fires at 32768Hz >> (divider-1), for divider in [3, 15]. Divider 6 yields
// 1024Hz, the rate DOS-era firmware defaults to.
type RateDivider uint8

// DefaultRate yields a 1024Hz tick.
const DefaultRate RateDivider = 6

func readCMOS(reg uint8) uint8 {
	cpu.PortWriteByte(cmosIndexPort, reg|disableNMIBit)
	return cpu.PortReadByte(cmosDataPort)
}

func writeCMOS(reg, value uint8) {
	cpu.PortWriteByte(cmosIndexPort, reg|disableNMIBit)
	cpu.PortWriteByte(cmosDataPort, value)
}

// Init routes the RTC's IRQ8 to a flexible vector, programs it for a
// divider-selected periodic rate, and unmasks it. Must run after apic.Init.
func Init(rate RateDivider) *kernel.Error {
	prevB := readCMOS(regStatusB)
	writeCMOS(regStatusB, prevB|statusBPeriodicIntEnable)

	prevA := readCMOS(regStatusA)
	writeCMOS(regStatusA, (prevA&0xF0)|uint8(rate&0x0F))

	_, err := apic.RouteIRQ(rtcIRQ, func(*idt.FullContext) {
		atomic.AddUint64(&ticks, 1)
		if w := pendingWaker; w != nil {
			w.Wake()
		}
		// Status register C must be read on every RTC IRQ or the
		// controller stops delivering further interrupts.
		readCMOS(regStatusC)
	})
	if err != nil {
		return errNoIRQ
	}

	return apic.UnmaskIRQ(rtcIRQ)
}

// Ticks returns the number of RTC interrupts observed so far.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// Deadline is an async.Future[struct{}] that becomes ready once Ticks() has
// reached a target tick count, set when the Deadline is constructed.
type Deadline struct {
	target uint64
}

// After returns a Deadline that is ready once n further ticks have elapsed.
func After(n uint64) Deadline {
	return Deadline{target: Ticks() + n}
}

// Poll implements async.Future[struct{}].
func (d Deadline) Poll(w *async.Waker) (struct{}, bool) {
	if Ticks() >= d.target {
		return struct{}{}, true
	}
	pendingWaker = w
	return struct{}{}, false
}

// Tick is an async.Future[struct{}] that becomes ready on the very next RTC
// interrupt; polling it repeatedly via async.Execute yields a periodic
// stream, mirroring the original's RtcStream.
type Tick struct {
	seen uint64
}

// NewTick starts a Tick sequence from the current tick count.
func NewTick() *Tick {
	return &Tick{seen: Ticks()}
}

// Poll implements async.Future[struct{}].
func (t *Tick) Poll(w *async.Waker) (struct{}, bool) {
	if cur := Ticks(); cur != t.seen {
		t.seen = cur
		return struct{}{}, true
	}
	pendingWaker = w
	return struct{}{}, false
}
