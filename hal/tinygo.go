//go:build tinygo && cortexm

package hal

import (
	"machine"

	"ember/hal/cortexm"
	"ember/kernel"
)

type tinyGoHAL struct {
	logger *uartLogger
	led    *pinLED
	gpio   GPIO
	probe  machine.Pin
	timer  *tinyGoTimer
}

// New returns a Nucleo-F446RE HAL implementation.
//
// UART: USART2 on the ST-LINK virtual COM port, 115200 8N1.
// LED: LD2 on PA5. Probes: PC2 (tick handler), PC3, PC10 (idle).
func New() HAL {
	uart := machine.Serial
	uart.Configure(machine.UARTConfig{BaudRate: 115200})

	ledPin := machine.LED
	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led := &pinLED{pin: ledPin}

	probe := machine.PC2
	probe.Configure(machine.PinConfig{Mode: machine.PinOutput})

	h := &tinyGoHAL{
		logger: &uartLogger{uart: uart},
		led:    led,
		gpio: newVirtualGPIO([]GPIOPin{
			newLEDPin(PinLED, led),
			&machinePin{name: PinTick, pin: probe},
			&machinePin{name: PinPC3, pin: machine.PC3},
			&machinePin{name: PinIdle, pin: machine.PC10},
		}),
		probe: probe,
		timer: &tinyGoTimer{},
	}
	cortexm.Default.SetTickHandler(h.tickISR)
	return h
}

func (h *tinyGoHAL) Logger() Logger    { return h.logger }
func (h *tinyGoHAL) LED() LED          { return h.led }
func (h *tinyGoHAL) GPIO() GPIO        { return h.gpio }
func (h *tinyGoHAL) Port() kernel.Port { return cortexm.Default }
func (h *tinyGoHAL) Timer() Timer      { return h.timer }

func (h *tinyGoHAL) tickISR(v kernel.Vectors) {
	h.probe.High()
	h.timer.elapsed.Add(1)
	v.OnTick()
	h.probe.Low()
}
