package hal

import (
	"errors"

	"ember/kernel"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// LED is a minimal output pin abstraction.
type LED interface {
	High()
	Low()
}

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrTimerStarted   = errors.New("hal: timer already started")
	ErrTimerRate      = errors.New("hal: invalid tick rate")
)

// Board pin names. PC2 is high while the tick handler runs; PC10 is
// pulsed by the idle loop.
const (
	PinLED      = "LED"
	PinTick     = "PC2"
	PinPC3      = "PC3"
	PinIdle     = "PC10"
	DefaultTick = 1000 // Hz
)

// Timer is the periodic tick source. Each tick runs the kernel's tick
// service in interrupt context.
type Timer interface {
	// Start arms the tick at hz. It may be called once.
	Start(hz uint32) error
	// Elapsed returns the number of ticks handled so far.
	Elapsed() uint64
}

// HAL provides the only contact point between the kernel and the board.
type HAL interface {
	Logger() Logger
	LED() LED
	GPIO() GPIO
	Port() kernel.Port
	Timer() Timer
}
