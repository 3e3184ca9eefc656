package app

import (
	"fmt"

	"ember/hal"
	"ember/kernel"
)

func installFaultHandler(h hal.HAL) {
	kernel.SetFaultHandler(faultReporter(h))
}

// faultReporter logs a kernel fault and leaves the LED lit. It runs once,
// possibly in interrupt context, and must not block.
func faultReporter(h hal.HAL) func(kernel.FaultInfo) {
	return func(info kernel.FaultInfo) {
		if l := h.Logger(); l != nil {
			l.WriteLineString(fmt.Sprintf("ember fault: thread=%s err=%v", info.Thread, info.Err))
			if info.Thread != nil {
				used, size := info.Thread.StackUsage()
				l.WriteLineString(fmt.Sprintf("  stack: %d/%d words", used, size))
			}
		}
		if led := h.LED(); led != nil {
			led.High()
		}
	}
}
