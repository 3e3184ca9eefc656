package kernel

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrZeroDelay  = errors.New("kernel: delay of zero ticks")
	ErrIdleDelay  = errors.New("kernel: idle thread cannot delay")
	ErrNotRunning = errors.New("kernel: no thread is running")
	ErrNoIdle     = errors.New("kernel: Run called before Init")
)

// FaultInfo describes a contract violation detected by the kernel.
type FaultInfo struct {
	Thread *Thread
	Err    error
}

var (
	faultActive atomic.Bool
	faultOnce   sync.Once

	faultHandler atomic.Value // func(FaultInfo)
)

// InFaultMode reports whether the kernel has faulted.
func InFaultMode() bool {
	return faultActive.Load()
}

// SetFaultHandler installs a process-wide fault handler.
//
// The handler is invoked at most once (on the first fault). It must not
// panic. On hardware it typically drives a status pin or resets the chip.
func SetFaultHandler(fn func(FaultInfo)) {
	faultHandler.Store(fn)
}

// fault reports a contract violation and panics with err.
func (k *Kernel) fault(err error) {
	info := FaultInfo{Thread: k.current, Err: err}
	faultOnce.Do(func() {
		faultActive.Store(true)
		if v := faultHandler.Load(); v != nil {
			if fn, ok := v.(func(FaultInfo)); ok && fn != nil {
				fn(info)
			}
		}
	})
	panic(err)
}
