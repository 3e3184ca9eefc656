//go:build bootdebug

package app

import (
	"ember/hal"
)

// bootStep logs each firmware bring-up step, so a board that hangs during
// boot shows how far it got.
func bootStep(h hal.HAL, msg string) {
	if h == nil {
		return
	}
	if l := h.Logger(); l != nil {
		l.WriteLineString("bootdiag: " + msg)
	}
}
