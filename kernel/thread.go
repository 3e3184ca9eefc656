package kernel

import (
	"errors"
	"fmt"
)

// Priority orders threads. Higher values win; 0 is the idle thread.
type Priority uint8

const (
	IdlePriority Priority = 0
	MaxPriority  Priority = 31

	maxThreads = int(MaxPriority) + 1
)

var (
	ErrPriorityRange = errors.New("kernel: priority out of range")
	ErrPriorityInUse = errors.New("kernel: priority already registered")
	ErrStarted       = errors.New("kernel: threads cannot be started after Run")
	ErrNilThread     = errors.New("kernel: nil thread")
	ErrNilEntry      = errors.New("kernel: nil entry function")
)

// bit returns the ready/delayed set bit for p. Priority p maps to bit p-1;
// the idle thread has no bit.
func (p Priority) bit() uint32 {
	if p == IdlePriority {
		return 0
	}
	return 1 << (p - 1)
}

// Valid reports whether p fits the registry.
func (p Priority) Valid() bool { return p <= MaxPriority }

// Thread is a thread control block.
//
// A Thread must outlive the kernel it is registered with; threads are
// never unregistered.
type Thread struct {
	// sp is written by StartThread and afterwards only by SwitchContext.
	sp      uintptr
	prio    Priority
	timeout uint32
	stack   Stack

	// Name is used for diagnostics only.
	Name string
}

// Priority returns the priority t was registered with.
func (t *Thread) Priority() Priority { return t.prio }

// SP returns the saved stack pointer. It is only meaningful while t is
// not running.
func (t *Thread) SP() uintptr { return t.sp }

// Stack returns the stack region t was started on.
func (t *Thread) Stack() Stack { return t.stack }

// StackUsage reports how many words of t's stack have been written since
// it was started, and the stack size in words.
func (t *Thread) StackUsage() (used, size int) {
	return t.stack.HighWater(), len(t.stack.Words)
}

func (t *Thread) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("prio%d", t.prio)
}

// registry maps priorities to threads. It is written only before Run.
type registry struct {
	slots [maxThreads]*Thread
}

// check reports why prio cannot be registered, if it cannot.
func (r *registry) check(prio Priority) error {
	if !prio.Valid() {
		return fmt.Errorf("%w: %d > %d", ErrPriorityRange, prio, MaxPriority)
	}
	if prev := r.slots[prio]; prev != nil {
		return fmt.Errorf("%w: %d (held by %s)", ErrPriorityInUse, prio, prev)
	}
	return nil
}

func (r *registry) add(t *Thread, prio Priority) error {
	if err := r.check(prio); err != nil {
		return err
	}
	t.prio = prio
	r.slots[prio] = t
	return nil
}

func (r *registry) get(prio Priority) *Thread {
	if !prio.Valid() {
		return nil
	}
	return r.slots[prio]
}
