//go:build !tinygo

package hal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"ember/kernel"
)

// HostConfig configures the simulated board.
type HostConfig struct {
	// Out receives log lines. Defaults to os.Stdout.
	Out io.Writer
	// LogLED logs every LED change.
	LogLED bool
	// Speed scales the tick rate against wall time. Defaults to 1.
	Speed float64
	// ManualTicks leaves tick generation to the caller (HostCPU.RaiseTick).
	ManualTicks bool
}

// Host is a simulated Nucleo-64 style board: a HostCPU, an LED, the probe
// pins and a tick timer.
type Host struct {
	logger *hostLogger
	led    *hostLED
	gpio   GPIO
	pins   []GPIOPin
	probe  GPIOPin
	cpu    *HostCPU
	timer  *hostTimer
}

// New returns a host HAL implementation with default settings.
func New() HAL { return NewHost(HostConfig{}) }

// NewHost returns a simulated board.
func NewHost(cfg HostConfig) *Host {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	logger := &hostLogger{w: cfg.Out}
	cpu := NewHostCPU()

	led := &hostLED{logger: logger, verbose: cfg.LogLED}
	ledp := newLEDPin(PinLED, led)
	ledp.onWrite = cpu.Step
	pins := []GPIOPin{ledp}
	for _, name := range []string{PinTick, PinPC3, PinIdle} {
		p := newVirtualPin(name, GPIOCapInput|GPIOCapOutput)
		p.onWrite = cpu.Step
		pins = append(pins, p)
	}

	h := &Host{
		logger: logger,
		led:    led,
		gpio:   newVirtualGPIO(pins),
		pins:   pins,
		cpu:    cpu,
		timer:  newHostTimer(cpu, cfg.Speed, cfg.ManualTicks),
	}
	h.probe = PinByName(h.gpio, PinTick)
	_ = h.probe.Configure(GPIOModeOutput)
	cpu.SetTickHandler(h.tickISR)
	return h
}

func (h *Host) Logger() Logger    { return h.logger }
func (h *Host) LED() LED          { return h.led }
func (h *Host) GPIO() GPIO        { return h.gpio }
func (h *Host) Port() kernel.Port { return h.cpu }
func (h *Host) Timer() Timer      { return h.timer }

// CPU returns the simulated core.
func (h *Host) CPU() *HostCPU { return h.cpu }

// Tee copies every log line to w as well.
func (h *Host) Tee(w io.Writer) { h.logger.setTee(w) }

// tickISR is the board's SysTick handler: PC2 is high while it runs.
func (h *Host) tickISR(v kernel.Vectors) {
	_ = h.probe.Write(true)
	h.timer.count()
	v.OnTick()
	_ = h.probe.Write(false)
}

type hostLogger struct {
	mu  sync.Mutex
	w   io.Writer
	tee io.Writer
}

func (l *hostLogger) setTee(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tee = w
}

func (l *hostLogger) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
	if l.tee != nil {
		fmt.Fprintln(l.tee, s)
	}
}

func (l *hostLogger) WriteLineBytes(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range []io.Writer{l.w, l.tee} {
		if w == nil {
			continue
		}
		w.Write(b)
		w.Write([]byte{'\n'})
	}
}

type hostLED struct {
	mu      sync.Mutex
	on      bool
	verbose bool
	logger  *hostLogger
}

func (l *hostLED) High() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = true
	if l.verbose {
		l.logger.WriteLineString("led: HIGH")
	}
}

func (l *hostLED) Low() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = false
	if l.verbose {
		l.logger.WriteLineString("led: LOW")
	}
}

func (l *hostLED) isOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
