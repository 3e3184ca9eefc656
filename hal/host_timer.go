//go:build !tinygo

package hal

import (
	"fmt"
	"sync/atomic"
	"time"
)

// hostTimer stands in for SysTick. It raises the core's tick exception
// from its own goroutine; the tick count advances in the handler.
type hostTimer struct {
	cpu    *HostCPU
	speed  float64
	manual bool

	started atomic.Bool
	hz      atomic.Uint32
	elapsed atomic.Uint64
}

func newHostTimer(cpu *HostCPU, speed float64, manual bool) *hostTimer {
	if speed <= 0 {
		speed = 1
	}
	return &hostTimer{cpu: cpu, speed: speed, manual: manual}
}

func (t *hostTimer) Start(hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("%w: %d Hz", ErrTimerRate, hz)
	}
	period := time.Duration(float64(time.Second) / (float64(hz) * t.speed))
	if period <= 0 {
		return fmt.Errorf("%w: %d Hz at %gx", ErrTimerRate, hz, t.speed)
	}
	if !t.started.CompareAndSwap(false, true) {
		return ErrTimerStarted
	}
	t.hz.Store(hz)
	if !t.manual {
		go t.run(period)
	}
	return nil
}

func (t *hostTimer) run(period time.Duration) {
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			t.cpu.RaiseTick()
		case <-t.cpu.Halted():
			return
		}
	}
}

func (t *hostTimer) Elapsed() uint64 { return t.elapsed.Load() }

// Rate returns the rate passed to Start, or 0.
func (t *hostTimer) Rate() uint32 { return t.hz.Load() }

func (t *hostTimer) count() { t.elapsed.Add(1) }
