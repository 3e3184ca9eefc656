//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ember/kernel"
)

type eventLog struct {
	mu sync.Mutex
	ev []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ev = append(l.ev, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ev...)
}

func newHostKernel(t *testing.T, cfg kernel.Config) (*HostCPU, *kernel.Kernel) {
	t.Helper()
	cpu := NewHostCPU()
	k := kernel.New(cpu, cfg)
	if err := k.Init(make([]uint32, 128)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(cpu.Stop)
	return cpu, k
}

func waitIdle(t *testing.T, cpu *HostCPU) {
	t.Helper()
	select {
	case <-cpu.Idle():
	case <-cpu.Halted():
		t.Fatalf("core halted: %v", cpu.Err())
	case <-time.After(5 * time.Second):
		t.Fatal("core never went idle")
	}
}

func waitHalt(t *testing.T, cpu *HostCPU) error {
	t.Helper()
	select {
	case <-cpu.Halted():
		return cpu.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("core never halted")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func tickAndSettle(t *testing.T, cpu *HostCPU) {
	t.Helper()
	select {
	case <-cpu.Idle():
	default:
	}
	cpu.RaiseTick()
	waitIdle(t, cpu)
}

func TestHostPreemptsByPriority(t *testing.T) {
	cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
	var log eventLog

	var high, low kernel.Thread
	if err := k.StartThread(&high, 3, func() {
		for {
			log.add("high")
			k.Delay(2)
		}
	}, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(high): %v", err)
	}
	if err := k.StartThread(&low, 2, func() {
		for {
			log.add("low")
			k.Delay(3)
		}
	}, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(low): %v", err)
	}

	cpu.Boot(k.Run)
	waitIdle(t, cpu)
	for i := 0; i < 6; i++ {
		tickAndSettle(t, cpu)
	}

	// high wakes on ticks 2, 4, 6; low on ticks 3, 6.
	want := []string{"high", "low", "high", "low", "high", "high", "low"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if err := cpu.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
}

func TestHostTickPreemptsRunningThread(t *testing.T) {
	cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
	var highRuns, spins, ticks atomic.Int64
	cpu.SetTickHandler(func(v kernel.Vectors) {
		v.OnTick()
		ticks.Add(1)
	})

	var high, low kernel.Thread
	if err := k.StartThread(&high, 3, func() {
		for {
			highRuns.Add(1)
			k.Delay(2)
		}
	}, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(high): %v", err)
	}
	// low never blocks, so only a tick can take the core from it.
	if err := k.StartThread(&low, 2, func() {
		for {
			spins.Add(1)
			cpu.Step()
		}
	}, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(low): %v", err)
	}

	cpu.Boot(k.Run)
	eventually(t, "low to run", func() bool { return spins.Load() > 0 })
	if got := highRuns.Load(); got != 1 {
		t.Fatalf("high ran %d times before the first tick, want 1", got)
	}

	cpu.RaiseTick()
	eventually(t, "tick 1", func() bool { return ticks.Load() == 1 })
	before := spins.Load()
	eventually(t, "low to resume after tick 1", func() bool { return spins.Load() > before })
	if got := highRuns.Load(); got != 1 {
		t.Fatalf("high ran %d times after one tick, want 1", got)
	}

	cpu.RaiseTick()
	eventually(t, "high to preempt low", func() bool { return highRuns.Load() == 2 })
	if got := ticks.Load(); got != 2 {
		t.Fatalf("ticks = %d when high ran again, want 2", got)
	}
	before = spins.Load()
	eventually(t, "low to resume after high delays", func() bool { return spins.Load() > before })

	if err := cpu.Err(); err != nil {
		t.Fatalf("Err() = %v", err)
	}
}

func TestHostRegistersSurviveSwitches(t *testing.T) {
	cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
	var log eventLog

	check := func(name string, base uint32) {
		for r := 4; r <= 11; r++ {
			if got := cpu.Reg(r); got != base+uint32(r) {
				log.add("%s R%d = %#x, want %#x", name, r, got, base+uint32(r))
			}
		}
	}
	thread := func(name string, base uint32, th *kernel.Thread) func() {
		return func() {
			check(name, 0)
			if got := cpu.Reg(12); got != 0xC {
				log.add("%s R12 = %#x, want 0xc", name, got)
			}
			if got := cpu.Reg(14); got != kernel.SentinelLR {
				log.add("%s LR = %#x, want %#x", name, got, kernel.SentinelLR)
			}
			if got, want := cpu.Reg(13), uint32(th.SP())+kernel.ContextWords*4; got != want {
				log.add("%s SP = %#x, want %#x", name, got, want)
			}
			if cpu.Reg(0) == 0 {
				log.add("%s R0 = 0, want a closure handle", name)
			}

			for r := 4; r <= 11; r++ {
				cpu.SetReg(r, base+uint32(r))
			}
			k.Delay(1)
			check(name, base)
			log.add("%s done", name)
			for {
				k.Delay(100)
			}
		}
	}

	var a, b kernel.Thread
	if err := k.StartThread(&a, 2, thread("a", 0xA00, &a), make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(a): %v", err)
	}
	if err := k.StartThread(&b, 1, thread("b", 0xB00, &b), make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(b): %v", err)
	}

	cpu.Boot(k.Run)
	waitIdle(t, cpu)
	tickAndSettle(t, cpu)

	want := []string{"a done", "b done"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestHostSharedCodeClosures(t *testing.T) {
	cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
	var log eventLog

	threads := make([]kernel.Thread, 3)
	for i := range threads {
		id := i
		if err := k.StartThread(&threads[i], kernel.Priority(i+1), func() {
			log.add("t%d", id)
			for {
				k.Delay(50)
			}
		}, make([]uint32, 64)); err != nil {
			t.Fatalf("StartThread(%d): %v", i, err)
		}
	}

	cpu.Boot(k.Run)
	waitIdle(t, cpu)

	want := []string{"t2", "t1", "t0"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestHostFaults(t *testing.T) {
	tests := []struct {
		name  string
		entry func(cpu *HostCPU, k *kernel.Kernel) func()
		words int
		want  error
		text  string
	}{
		{
			name:  "thread returns",
			entry: func(*HostCPU, *kernel.Kernel) func() { return func() {} },
			words: 64,
			want:  ErrCoreFault,
			text:  "thread returned to 0x0000000e",
		},
		{
			name:  "zero delay",
			entry: func(_ *HostCPU, k *kernel.Kernel) func() { return func() { k.Delay(0) } },
			words: 64,
			want:  kernel.ErrZeroDelay,
		},
		{
			name: "stack overflow",
			entry: func(cpu *HostCPU, _ *kernel.Kernel) func() {
				return func() {
					for {
						cpu.Push(0xA5A5A5A5)
					}
				}
			},
			words: 64,
			want:  ErrUnmapped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
			var th kernel.Thread
			if err := k.StartThread(&th, 1, tt.entry(cpu, k), make([]uint32, tt.words)); err != nil {
				t.Fatalf("StartThread: %v", err)
			}
			cpu.Boot(k.Run)

			err := waitHalt(t, cpu)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Err() = %v, want %v", err, tt.want)
			}
			if tt.text != "" && !strings.Contains(err.Error(), tt.text) {
				t.Fatalf("Err() = %q, want it to mention %q", err, tt.text)
			}
		})
	}
}

func TestHostStackOverflowFaultsBelowRegion(t *testing.T) {
	cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
	var th kernel.Thread
	if err := k.StartThread(&th, 1, func() {
		for {
			cpu.Push(0xA5A5A5A5)
		}
	}, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread: %v", err)
	}
	cpu.Boot(k.Run)

	err := waitHalt(t, cpu)
	if !errors.Is(err, ErrUnmapped) {
		t.Fatalf("Err() = %v, want ErrUnmapped", err)
	}
	cpu.Join()

	st := th.Stack()
	if want := fmt.Sprintf("%#08x", st.Base-4); !strings.Contains(err.Error(), want) {
		t.Fatalf("Err() = %q, want the fault at %s", err, want)
	}
	for i, w := range st.Words {
		if w != 0xA5A5A5A5 {
			t.Fatalf("stack word %d = %#08x, want it overwritten", i, w)
		}
	}
	if got := st.HighWater(); got != len(st.Words) {
		t.Fatalf("HighWater() = %d, want %d", got, len(st.Words))
	}
}

type stubVectors struct {
	log      *eventLog
	switches int
}

func (v *stubVectors) SwitchContext(sp uintptr) uintptr {
	v.switches++
	v.log.add("switch")
	return sp
}

func (v *stubVectors) OnTick() { v.log.add("tick") }

func TestHostSwitchPriority(t *testing.T) {
	for _, configured := range []bool{true, false} {
		t.Run(fmt.Sprintf("configured=%v", configured), func(t *testing.T) {
			var log eventLog
			cpu := NewHostCPU()
			t.Cleanup(cpu.Stop)
			cpu.Install(&stubVectors{log: &log})
			if configured {
				cpu.ConfigureSwitch()
			}
			cpu.SetTickHandler(func(v kernel.Vectors) {
				state := cpu.DisableInterrupts()
				cpu.PendSwitch()
				cpu.RestoreInterrupts(state)
				v.OnTick()
			})
			cpu.Boot(func() {
				for {
					cpu.WaitForInterrupt()
				}
			})
			waitIdle(t, cpu)
			cpu.RaiseTick()

			if !configured {
				err := waitHalt(t, cpu)
				if !errors.Is(err, ErrCoreFault) || !strings.Contains(err.Error(), "handler mode") {
					t.Fatalf("Err() = %v, want a handler mode switch fault", err)
				}
				return
			}

			waitIdle(t, cpu)
			want := []string{"tick", "switch"}
			if got := log.snapshot(); !reflect.DeepEqual(got, want) {
				t.Fatalf("events = %v, want %v", got, want)
			}
		})
	}
}

func TestHostStopEndsWait(t *testing.T) {
	cpu := NewHostCPU()
	cpu.Boot(func() {
		for {
			cpu.WaitForInterrupt()
		}
	})
	waitIdle(t, cpu)
	cpu.Stop()
	if err := waitHalt(t, cpu); err != nil {
		t.Fatalf("Err() after Stop = %v, want nil", err)
	}
}

func TestHostJoinWaitsForThreads(t *testing.T) {
	cpu, k := newHostKernel(t, kernel.Config{SleepOnIdle: true})
	var spins atomic.Int64
	var th kernel.Thread
	if err := k.StartThread(&th, 1, func() {
		for {
			spins.Add(1)
			cpu.Step()
		}
	}, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread: %v", err)
	}

	cpu.Boot(k.Run)
	eventually(t, "thread to run", func() bool { return spins.Load() > 0 })
	cpu.Stop()

	joined := make(chan struct{})
	go func() {
		cpu.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		t.Fatal("Join never returned")
	}

	after := spins.Load()
	time.Sleep(10 * time.Millisecond)
	if got := spins.Load(); got != after {
		t.Fatalf("thread kept running after Join: %d spins, then %d", after, got)
	}
	// Core state belongs to the caller now. The thread pushed nothing, so
	// SP is back at the top of its stack.
	st := th.Stack()
	if got, want := cpu.Reg(13), st.Base+uint32(len(st.Words))*4; got != want {
		t.Fatalf("SP = %#08x, want %#08x", got, want)
	}
}
