package kernel

// Port is the platform layer underneath the kernel.
//
// Everything that touches a processor register lives behind this
// interface: the interrupt mask, the deferred context-switch exception,
// sleep, and the mapping of Go values to machine addresses. All methods
// except Install may be called from interrupt context.
type Port interface {
	// DisableInterrupts masks all maskable interrupts and returns the
	// previous mask state.
	DisableInterrupts() uintptr
	// RestoreInterrupts restores a state returned by DisableInterrupts.
	// Pending exceptions may be taken before it returns.
	RestoreInterrupts(state uintptr)

	// PendSwitch arms the context-switch exception. Multiple requests
	// made before it is delivered are coalesced into one.
	PendSwitch()
	// ConfigureSwitch sets the context-switch exception to the lowest
	// exception priority.
	ConfigureSwitch()

	// WaitForInterrupt sleeps until an interrupt is pending.
	WaitForInterrupt()

	// EntryAddress returns the machine address execution starts at when
	// a fabricated frame resumes into fn, and the value R0 must hold on
	// entry. On hardware that is the closure context; the host simulator
	// passes a handle to fn instead.
	EntryAddress(fn func()) (pc, arg uint32)
	// StackRegion returns the machine view of a word buffer.
	StackRegion(words []uint32) Stack

	// Install binds the exception vectors the port delivers.
	Install(v Vectors)
}

// Vectors receives the exceptions a Port delivers.
type Vectors interface {
	// SwitchContext is the portable half of the context-switch handler.
	// It runs with interrupts masked, after the callee-saved registers
	// have been pushed on the outgoing stack. sp is the resulting stack
	// pointer; the return value is the stack to pop the incoming
	// thread's callee-saved registers from.
	SwitchContext(sp uintptr) uintptr

	// OnTick runs once per periodic tick interrupt.
	OnTick()
}

// criticalSection is a scoped interrupt mask. Callers exit it with defer.
type criticalSection struct {
	port  Port
	state uintptr
}

func (k *Kernel) critical() criticalSection {
	return criticalSection{port: k.port, state: k.port.DisableInterrupts()}
}

func (cs criticalSection) exit() {
	cs.port.RestoreInterrupts(cs.state)
}
