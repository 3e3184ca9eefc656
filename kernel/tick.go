package kernel

import "math/bits"

// OnTick is the tick service. The board calls it once per periodic tick
// interrupt, at a higher exception priority than the context switch.
//
// Every delayed thread's timeout is decremented; threads whose timeout
// reaches zero move back to the ready set, and the scheduler runs. A thread
// that delayed for N ticks is ready after the N-th call.
func (k *Kernel) OnTick() {
	cs := k.critical()
	defer cs.exit()

	for work := k.delayed; work != 0; {
		prio := Priority(bits.Len32(work))
		bit := prio.bit()
		work &^= bit

		t := k.threads.get(prio)
		t.timeout--
		if t.timeout == 0 {
			k.delayed &^= bit
			k.ready |= bit
		}
	}

	if k.tracer != nil {
		k.tracer.Ticked()
	}
	if k.running {
		k.schedule()
	}
}
