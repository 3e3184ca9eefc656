package app

import (
	"fmt"

	"ember/hal"
	"ember/internal/buildinfo"
	"ember/kernel"
)

// System is the firmware: a kernel, the application threads declared by a
// Table, and the board they run on.
type System struct {
	h     hal.HAL
	k     *kernel.Kernel
	table Table
	idle  hal.GPIOPin

	blinkers []*blinker
}

// blinker is the body of every application thread.
type blinker struct {
	k      *kernel.Kernel
	thread kernel.Thread
	pin    hal.GPIOPin
	period uint32
	stack  []uint32
}

func (b *blinker) run() {
	for {
		if err := hal.Toggle(b.pin); err != nil {
			panic(err)
		}
		b.k.Delay(b.period)
	}
}

// New builds the firmware described by table on h. Nothing runs until
// Run is called.
func New(h hal.HAL, table Table) (*System, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	bootStep(h, "validated thread table")

	s := &System{h: h, table: table}
	s.k = kernel.New(h.Port(), kernel.Config{
		OnStartup:   s.startup,
		OnIdle:      s.onIdle,
		SleepOnIdle: table.SleepOnIdle,
	})
	installFaultHandler(h)

	if p := hal.PinByName(h.GPIO(), hal.PinIdle); p != nil {
		if err := p.Configure(hal.GPIOModeOutput); err != nil {
			return nil, err
		}
		s.idle = p
	}

	if err := s.k.Init(make([]uint32, table.IdleStack)); err != nil {
		return nil, err
	}
	bootStep(h, "idle thread ready")

	for _, spec := range table.Threads {
		pin := hal.PinByName(h.GPIO(), spec.Pin)
		if pin == nil {
			return nil, fmt.Errorf("thread %s: %w: %s not on this board", spec.Name, ErrUnknownPin, spec.Pin)
		}
		if err := pin.Configure(hal.GPIOModeOutput); err != nil {
			return nil, fmt.Errorf("thread %s: %w", spec.Name, err)
		}

		b := &blinker{
			k:      s.k,
			pin:    pin,
			period: spec.Period,
			stack:  make([]uint32, spec.Stack),
		}
		b.thread.Name = spec.Name
		if err := s.k.StartThread(&b.thread, spec.Priority, b.run, b.stack); err != nil {
			return nil, fmt.Errorf("thread %s: %w", spec.Name, err)
		}
		s.blinkers = append(s.blinkers, b)
		bootStep(h, "started "+spec.Name)
	}

	s.logTable()
	return s, nil
}

// Kernel returns the scheduler, for tracing and post-mortem inspection.
func (s *System) Kernel() *kernel.Kernel { return s.k }

// SetTracer installs a scheduler tracer. It must be called before Run.
func (s *System) SetTracer(t kernel.Tracer) { s.k.SetTracer(t) }

// Run starts the tick and hands the CPU to the threads. It does not
// return.
func (s *System) Run() { s.k.Run() }

// Threads returns the application threads in table order.
func (s *System) Threads() []*kernel.Thread {
	out := make([]*kernel.Thread, len(s.blinkers))
	for i, b := range s.blinkers {
		out[i] = &b.thread
	}
	return out
}

func (s *System) startup() {
	if err := s.h.Timer().Start(s.table.TickHz); err != nil {
		panic(err)
	}
	bootStep(s.h, "tick armed")
}

// onIdle pulses PC10 once per pass of the idle loop.
func (s *System) onIdle() {
	if s.idle == nil {
		return
	}
	_ = s.idle.Write(true)
	_ = s.idle.Write(false)
}

func (s *System) logTable() {
	l := s.h.Logger()
	if l == nil {
		return
	}
	l.WriteLineString(fmt.Sprintf("ember %s: %d threads, tick %d Hz", buildinfo.Short(), len(s.blinkers), s.table.TickHz))
	for _, b := range s.blinkers {
		l.WriteLineString(fmt.Sprintf("  prio %2d  %-12s pin %-4s every %d ticks, %d word stack",
			b.thread.Priority(), b.thread.Name, b.pin.Name(), b.period, len(b.stack)))
	}
}
