package kernel

import (
	"fmt"
	"math/bits"
)

// Config holds the kernel's hooks into the surrounding firmware.
type Config struct {
	// OnStartup runs once from Run, before the first scheduling decision.
	// It is where the board arms its tick source.
	OnStartup func()

	// OnIdle runs on every pass of the idle loop.
	OnIdle func()

	// SleepOnIdle makes the idle loop wait for an interrupt after OnIdle.
	SleepOnIdle bool
}

// Tracer observes scheduler events. Its methods run in interrupt context
// with interrupts masked and must not block.
type Tracer interface {
	Switched(from, to *Thread)
	Ticked()
}

// Kernel is a preemptive fixed-priority scheduler.
type Kernel struct {
	port Port
	cfg  Config

	threads registry
	idle    Thread

	ready   uint32
	delayed uint32

	current *Thread
	next    *Thread

	running bool
	tracer  Tracer
}

// New creates a kernel on top of port and binds the port's exception
// vectors to it.
func New(port Port, cfg Config) *Kernel {
	k := &Kernel{port: port, cfg: cfg}
	k.idle.Name = "idle"
	port.Install(k)
	return k
}

// SetTracer installs t. It must be called before Run.
func (k *Kernel) SetTracer(t Tracer) { k.tracer = t }

// Init registers the idle thread on idleStack and moves the context-switch
// exception to the lowest exception priority.
func (k *Kernel) Init(idleStack []uint32) error {
	k.port.ConfigureSwitch()
	if err := k.StartThread(&k.idle, IdlePriority, k.idleMain, idleStack); err != nil {
		return fmt.Errorf("kernel: idle thread: %w", err)
	}
	return nil
}

func (k *Kernel) idleMain() {
	for {
		if k.cfg.OnIdle != nil {
			k.cfg.OnIdle()
		}
		if k.cfg.SleepOnIdle {
			k.port.WaitForInterrupt()
		}
	}
}

// StartThread fabricates t's initial frame on stack and registers it at
// prio. A thread registered at a non-zero priority is immediately ready.
//
// stack must stay allocated for the lifetime of the kernel and is owned
// by the thread from now on.
func (k *Kernel) StartThread(t *Thread, prio Priority, entry func(), stack []uint32) error {
	if t == nil {
		return ErrNilThread
	}
	if entry == nil {
		return ErrNilEntry
	}

	cs := k.critical()
	defer cs.exit()

	if k.running {
		return ErrStarted
	}
	if err := k.threads.check(prio); err != nil {
		return err
	}

	region := k.port.StackRegion(stack)
	sp, err := region.Install(InitialContext(k.port.EntryAddress(entry)))
	if err != nil {
		return fmt.Errorf("kernel: thread %s: %w", t, err)
	}
	t.sp = uintptr(sp)
	t.stack = region
	t.timeout = 0

	if err := k.threads.add(t, prio); err != nil {
		return err
	}
	k.ready |= prio.bit()
	return nil
}

// Run calls the startup hook and hands the CPU to the highest priority
// ready thread. It does not return.
func (k *Kernel) Run() {
	k.start()

	// The first switch abandons this context; a port that delivers the
	// switch exception late idles here until it is taken.
	for {
		k.port.WaitForInterrupt()
	}
}

func (k *Kernel) start() {
	if k.threads.get(IdlePriority) == nil {
		k.fault(ErrNoIdle)
	}
	if k.cfg.OnStartup != nil {
		k.cfg.OnStartup()
	}

	cs := k.critical()
	defer cs.exit()
	k.running = true
	k.schedule()
}

// schedule selects the thread that should run and requests a switch to
// it. Interrupts must be masked.
func (k *Kernel) schedule() {
	var t *Thread
	if k.ready == 0 {
		t = k.threads.get(IdlePriority)
	} else {
		t = k.threads.get(Priority(bits.Len32(k.ready)))
	}

	switch {
	case t == k.next:
		// Already running or already requested.
	case t == k.current:
		// A request for another thread is still pending; make it a
		// switch back to the current one.
		k.next = t
	default:
		k.next = t
		k.port.PendSwitch()
	}
}

// Delay suspends the calling thread for ticks periodic ticks. Other ready
// threads run in the meantime. It must be called by a running thread other
// than the idle thread, with ticks > 0.
func (k *Kernel) Delay(ticks uint32) {
	if ticks == 0 {
		k.fault(ErrZeroDelay)
	}

	cs := k.critical()
	defer cs.exit()

	t := k.current
	switch {
	case t == nil:
		k.fault(ErrNotRunning)
	case t.prio == IdlePriority:
		k.fault(ErrIdleDelay)
	}

	t.timeout = ticks
	bit := t.prio.bit()
	k.ready &^= bit
	k.delayed |= bit
	k.schedule()
}

// Current returns the running thread, or nil before the first switch.
func (k *Kernel) Current() *Thread {
	cs := k.critical()
	defer cs.exit()
	return k.current
}

// Thread returns the thread registered at prio, or nil.
func (k *Kernel) Thread(prio Priority) *Thread {
	return k.threads.get(prio)
}

// Ready returns the ready set: bit i is priority i+1.
func (k *Kernel) Ready() uint32 {
	cs := k.critical()
	defer cs.exit()
	return k.ready
}

// Delayed returns the delayed set: bit i is priority i+1.
func (k *Kernel) Delayed() uint32 {
	cs := k.critical()
	defer cs.exit()
	return k.delayed
}

// Timeout returns the ticks left before t becomes ready again.
func (k *Kernel) Timeout(t *Thread) uint32 {
	cs := k.critical()
	defer cs.exit()
	return t.timeout
}

// State is a thread's scheduling state.
type State uint8

const (
	StateUnknown State = iota
	StateReady
	StateRunning
	StateDelayed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDelayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// State reports t's scheduling state. The idle thread is ready whenever it
// is not running.
func (k *Kernel) State(t *Thread) State {
	cs := k.critical()
	defer cs.exit()

	switch {
	case t == nil || k.threads.get(t.prio) != t:
		return StateUnknown
	case t == k.current:
		return StateRunning
	case k.delayed&t.prio.bit() != 0:
		return StateDelayed
	case t.prio == IdlePriority || k.ready&t.prio.bit() != 0:
		return StateReady
	default:
		return StateUnknown
	}
}
