package kernel

import "testing"

type recordedSwitch struct{ from, to *Thread }

type recordingTracer struct {
	switches []recordedSwitch
	ticks    int
}

func (r *recordingTracer) Switched(from, to *Thread) {
	r.switches = append(r.switches, recordedSwitch{from, to})
}

func (r *recordingTracer) Ticked() { r.ticks++ }

func TestSwitchWithoutRequestKeepsStack(t *testing.T) {
	k, _ := newTestKernel(t)
	if got := k.SwitchContext(0x20000400); got != 0x20000400 {
		t.Fatalf("SwitchContext = %#x, want %#x", got, 0x20000400)
	}
	if k.current != nil {
		t.Fatalf("current = %v, want nil", k.current)
	}
}

func TestFirstSwitchDiscardsBootStack(t *testing.T) {
	k, _ := newTestKernel(t)
	th := startThread(t, k, "a", 1)
	want := th.SP()
	k.start()

	if got := k.SwitchContext(0x2001FFE0); got != want {
		t.Fatalf("SwitchContext = %#x, want %#x", got, want)
	}
	if th.SP() != want {
		t.Fatalf("incoming thread sp changed to %#x", th.SP())
	}
	if idle := k.Thread(IdlePriority); idle.SP() == 0x2001FFE0 {
		t.Fatal("boot stack pointer stored into a thread")
	}
}

func TestSwitchSavesOutgoingStack(t *testing.T) {
	k, p := newTestKernel(t)
	high := startThread(t, k, "high", 2)
	low := startThread(t, k, "low", 1)
	bootKernel(t, k, p)

	lowSP := low.SP()
	k.Delay(1)

	if got := k.SwitchContext(0x20000F00); got != lowSP {
		t.Fatalf("SwitchContext = %#x, want %#x", got, lowSP)
	}
	if high.SP() != 0x20000F00 {
		t.Fatalf("high.SP() = %#x, want %#x", high.SP(), 0x20000F00)
	}
}

func TestScenarioTwoThreadsAndIdle(t *testing.T) {
	k, p := newTestKernel(t)
	rec := &recordingTracer{}
	k.SetTracer(rec)

	blinky := startThread(t, k, "blinky", 3)
	toggle := startThread(t, k, "toggle", 2)
	idle := k.Thread(IdlePriority)
	bootKernel(t, k, p)

	if k.Current() != blinky {
		t.Fatalf("Current() = %v, want blinky", k.Current())
	}

	k.Delay(2)
	p.deliver()
	if k.Current() != toggle {
		t.Fatalf("Current() = %v, want toggle", k.Current())
	}

	k.Delay(3)
	p.deliver()
	if k.Current() != idle {
		t.Fatalf("Current() = %v, want idle", k.Current())
	}

	k.OnTick()
	if p.pending {
		t.Fatal("switch requested after one tick")
	}
	k.OnTick()
	p.deliver()
	if k.Current() != blinky {
		t.Fatalf("after 2 ticks Current() = %v, want blinky", k.Current())
	}

	k.Delay(2)
	p.deliver()
	if k.Current() != idle {
		t.Fatalf("Current() = %v, want idle", k.Current())
	}
	k.OnTick()
	p.deliver()
	if k.Current() != toggle {
		t.Fatalf("after 3 ticks Current() = %v, want toggle", k.Current())
	}

	want := []recordedSwitch{
		{nil, blinky},
		{blinky, toggle},
		{toggle, idle},
		{idle, blinky},
		{blinky, idle},
		{idle, toggle},
	}
	if len(rec.switches) != len(want) {
		t.Fatalf("recorded %d switches, want %d", len(rec.switches), len(want))
	}
	for i, w := range want {
		if rec.switches[i] != w {
			t.Fatalf("switch %d = %v -> %v, want %v -> %v", i, rec.switches[i].from, rec.switches[i].to, w.from, w.to)
		}
	}
	if rec.ticks != 3 {
		t.Fatalf("ticks = %d, want 3", rec.ticks)
	}
}

func TestTickPreemptsRunningThread(t *testing.T) {
	k, p := newTestKernel(t)
	rec := &recordingTracer{}
	k.SetTracer(rec)

	blinky := startThread(t, k, "blinky", 3)
	toggle := startThread(t, k, "toggle", 2)
	bootKernel(t, k, p)

	k.Delay(2)
	p.deliver()
	if k.Current() != toggle {
		t.Fatalf("Current() = %v, want toggle", k.Current())
	}

	// toggle keeps running; only the tick that expires blinky's delay may
	// take the core from it.
	k.OnTick()
	if p.pending {
		t.Fatal("switch requested after one tick")
	}
	p.deliver()
	if k.Current() != toggle {
		t.Fatalf("after 1 tick Current() = %v, want toggle", k.Current())
	}
	if got := k.State(toggle); got != StateRunning {
		t.Fatalf("State(toggle) = %v, want %v", got, StateRunning)
	}

	k.OnTick()
	if !p.pending {
		t.Fatal("no switch requested after blinky's delay expired")
	}
	toggleSP := uintptr(0x2FFF0000 + (p.switchCount+1)*0x10)
	p.deliver()
	if k.Current() != blinky {
		t.Fatalf("after 2 ticks Current() = %v, want blinky", k.Current())
	}
	if toggle.SP() != toggleSP {
		t.Fatalf("toggle.SP() = %#x, want %#x", toggle.SP(), toggleSP)
	}
	if got := k.State(toggle); got != StateReady {
		t.Fatalf("State(toggle) = %v, want %v", got, StateReady)
	}

	last := rec.switches[len(rec.switches)-1]
	if last != (recordedSwitch{toggle, blinky}) {
		t.Fatalf("last switch = %v -> %v, want toggle -> blinky", last.from, last.to)
	}
}
