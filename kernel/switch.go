package kernel

// SwitchContext is the portable half of the context-switch handler. The
// port calls it with interrupts masked, after pushing the outgoing
// thread's callee-saved registers; sp is the resulting stack pointer.
// It returns the stack pointer of the thread to resume, from which the
// port pops the callee-saved registers before returning from the
// exception.
//
// This is the only place the current thread changes and the only place a
// saved stack pointer is read back out of a Thread.
func (k *Kernel) SwitchContext(sp uintptr) uintptr {
	next := k.next
	if next == nil {
		return sp
	}

	prev := k.current
	if prev != nil {
		prev.sp = sp
	}
	k.current = next

	if k.tracer != nil {
		k.tracer.Switched(prev, next)
	}
	return next.sp
}
