package console

import "coderunner/device"
import "coderunner/kernel/cpu"
import "coderunner/kernel/hal/multiboot"
import "coderunner/kernel/mem/vmm"

var (
	getFramebufferInfoFn = multiboot.GetFramebufferInfo
	portWriteByteFn      = cpu.PortWriteByte
	mapRegionFn          = vmm.MapRegion

	// ProbeFuncs is a slice of device probe functions that is used by
	// the hal package to probe for console device hardware. Each driver
	// should use an init() block to append its probe function to this list.
	ProbeFuncs []device.ProbeFn
)
