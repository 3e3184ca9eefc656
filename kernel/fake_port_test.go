package kernel

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

// fakePort records what the kernel asks of the platform. Switch requests
// are delivered only when a test calls deliver.
type fakePort struct {
	masked      bool
	pends       int
	pending     bool
	configured  bool
	sleeps      int
	onSleep     func()
	vectors     Vectors
	nextBase    uint32
	entries     map[uintptr]uint32
	switchCount int
}

func newFakePort() *fakePort {
	return &fakePort{nextBase: 0x20000000, entries: make(map[uintptr]uint32)}
}

func (p *fakePort) DisableInterrupts() uintptr {
	prev := p.masked
	p.masked = true
	if prev {
		return 1
	}
	return 0
}

func (p *fakePort) RestoreInterrupts(state uintptr) { p.masked = state != 0 }

func (p *fakePort) PendSwitch() {
	if !p.masked {
		panic("PendSwitch with interrupts enabled")
	}
	p.pends++
	p.pending = true
}

func (p *fakePort) ConfigureSwitch() { p.configured = true }

func (p *fakePort) WaitForInterrupt() {
	p.sleeps++
	if p.onSleep != nil {
		p.onSleep()
	}
}

func (p *fakePort) EntryAddress(fn func()) (uint32, uint32) {
	key := reflect.ValueOf(fn).Pointer()
	if pc, ok := p.entries[key]; ok {
		return pc, 0
	}
	pc := 0x08000101 + uint32(len(p.entries))*0x100
	p.entries[key] = pc
	return pc, 0
}

func (p *fakePort) StackRegion(words []uint32) Stack {
	s := Stack{Base: p.nextBase, Words: words}
	p.nextBase += uint32(len(words))*4 + 0x100
	return s
}

func (p *fakePort) Install(v Vectors) { p.vectors = v }

// deliver takes a pending switch request the way the handler would: the
// outgoing stack pointer is a recognisable fake value.
func (p *fakePort) deliver() bool {
	if !p.pending {
		return false
	}
	p.pending = false
	p.switchCount++
	p.vectors.SwitchContext(uintptr(0x2FFF0000 + p.switchCount*0x10))
	return true
}

func resetFaults() {
	faultOnce = sync.Once{}
	faultActive.Store(false)
	faultHandler = atomic.Value{}
}

func noop() {}

func newTestKernel(t *testing.T) (*Kernel, *fakePort) {
	t.Helper()
	p := newFakePort()
	k := New(p, Config{})
	if err := k.Init(make([]uint32, 64)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return k, p
}

func startThread(t *testing.T, k *Kernel, name string, prio Priority) *Thread {
	t.Helper()
	th := &Thread{Name: name}
	if err := k.StartThread(th, prio, noop, make([]uint32, 64)); err != nil {
		t.Fatalf("StartThread(%s, %d): %v", name, prio, err)
	}
	return th
}

func bootKernel(t *testing.T, k *Kernel, p *fakePort) {
	t.Helper()
	k.start()
	p.deliver()
	if k.current == nil {
		t.Fatal("no thread running after start")
	}
}

func prioBits(prios ...Priority) uint32 {
	var m uint32
	for _, p := range prios {
		m |= p.bit()
	}
	return m
}
