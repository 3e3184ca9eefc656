//go:build tinygo && cortexm

package hal

import (
	"fmt"
	"machine"
	"sync/atomic"

	"ember/hal/cortexm"
)

type tinyGoTimer struct {
	started bool
	elapsed atomic.Uint64
}

func (t *tinyGoTimer) Start(hz uint32) error {
	if t.started {
		return ErrTimerStarted
	}
	if !cortexm.Default.StartTick(machine.CPUFrequency(), hz) {
		return fmt.Errorf("%w: %d Hz", ErrTimerRate, hz)
	}
	t.started = true
	return nil
}

func (t *tinyGoTimer) Elapsed() uint64 { return t.elapsed.Load() }

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type pinLED struct {
	pin machine.Pin
}

func (l *pinLED) High() { l.pin.High() }
func (l *pinLED) Low()  { l.pin.Low() }

// machinePin is a GPIOPin on a real port pin.
type machinePin struct {
	name  string
	pin   machine.Pin
	mode  GPIOMode
	edges uint64
}

func (p *machinePin) Name() string { return p.name }

func (p *machinePin) Caps() GPIOCaps {
	return GPIOCapInput | GPIOCapOutput
}

func (p *machinePin) Configure(mode GPIOMode) error {
	cfg := machine.PinConfig{Mode: machine.PinInput}
	if mode == GPIOModeOutput {
		cfg.Mode = machine.PinOutput
	}
	p.pin.Configure(cfg)
	p.mode = mode
	return nil
}

func (p *machinePin) Read() (bool, error) { return p.pin.Get(), nil }

func (p *machinePin) Write(level bool) error {
	if p.mode != GPIOModeOutput {
		return fmt.Errorf("gpio: pin %s: not in output mode", p.name)
	}
	if p.pin.Get() != level {
		p.edges++
	}
	p.pin.Set(level)
	return nil
}

func (p *machinePin) Edges() uint64 { return p.edges }
