package idt

import "coderunner/kernel/cpu"

// Legacy 8259 PIC I/O ports and initialization-sequence command bytes.
const (
	picMasterCommand = 0x20
	picMasterData    = 0x21
	picSlaveCommand  = 0xA0
	picSlaveData     = 0xA1

	icw1Init = 0x11 // edge triggered, cascade mode, ICW4 present
	icw4Mode = 0x01 // 8086/88 mode

	picMaskAll = 0xFF
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	ioWaitFn        = ioWait
)

// remapAndMaskPIC remaps the master/slave PIC's interrupt vectors into the
// unused 0x20-0x2f range (so a stray legacy IRQ can't alias a CPU exception)
// and then masks every line. A driver that wants a hardware IRQ unmasks it
// explicitly after registering a flexible vector handler for it.
func remapAndMaskPIC() {
	portWriteByteFn(picMasterCommand, icw1Init)
	ioWaitFn()
	portWriteByteFn(picSlaveCommand, icw1Init)
	ioWaitFn()

	portWriteByteFn(picMasterData, 0x20) // master PIC vector offset (IRQ0 -> 0x20)
	ioWaitFn()
	portWriteByteFn(picSlaveData, 0x28) // slave PIC vector offset (IRQ8 -> 0x28)
	ioWaitFn()

	portWriteByteFn(picMasterData, 0x04) // tell master about the slave at IRQ2
	ioWaitFn()
	portWriteByteFn(picSlaveData, 0x02) // tell slave its cascade identity
	ioWaitFn()

	portWriteByteFn(picMasterData, icw4Mode)
	ioWaitFn()
	portWriteByteFn(picSlaveData, icw4Mode)
	ioWaitFn()

	portWriteByteFn(picMasterData, picMaskAll)
	portWriteByteFn(picSlaveData, picMaskAll)
}

// ioWait gives the PIC time to process the preceding command by writing to
// an unused port (0x80), a standard trick on PC hardware.
func ioWait() {
	portWriteByteFn(0x80, 0)
}

// UnmaskIRQ clears the mask bit for legacy IRQ line irq (0-15), letting it
// reach the CPU again. Callers are expected to have already registered a
// flexible-vector handler for it.
func UnmaskIRQ(irq uint8) {
	port := uint16(picMasterData)
	line := irq
	if irq >= 8 {
		port = picSlaveData
		line -= 8
	}

	mask := portReadByteFn(port)
	portWriteByteFn(port, mask&^(1<<line))
}

// MaskIRQ sets the mask bit for legacy IRQ line irq (0-15), stopping it from
// reaching the CPU.
func MaskIRQ(irq uint8) {
	port := uint16(picMasterData)
	line := irq
	if irq >= 8 {
		port = picSlaveData
		line -= 8
	}

	mask := portReadByteFn(port)
	portWriteByteFn(port, mask|(1<<line))
}
