// Package trace records scheduler activity and summarises it.
package trace

import (
	"sync"
	"sync/atomic"

	"ember/kernel"
)

// NoThread marks the missing outgoing thread of the first switch.
const NoThread = -1

// Event is one pass through the switch handler.
type Event struct {
	Tick uint64 // ticks handled before the switch
	From int    // outgoing priority, or NoThread
	To   int    // incoming priority
}

// Recorder is a kernel.Tracer. Switches go into a ring; ticks are counted.
// The kernel side never blocks: events that do not fit are dropped and
// counted.
type Recorder struct {
	ring    Ring
	ticks   atomic.Uint64
	dropped atomic.Uint64

	mu     sync.Mutex
	events []Event
}

var _ kernel.Tracer = (*Recorder)(nil)

func (r *Recorder) Switched(from, to *kernel.Thread) {
	e := Event{Tick: r.ticks.Load(), From: NoThread, To: int(to.Priority())}
	if from != nil {
		e.From = int(from.Priority())
	}
	if !r.ring.TryPush(e) {
		r.dropped.Add(1)
	}
}

func (r *Recorder) Ticked() { r.ticks.Add(1) }

// Ticks returns the number of ticks seen.
func (r *Recorder) Ticks() uint64 { return r.ticks.Load() }

// Dropped returns the number of switches lost to a full ring.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Events drains the ring and returns every event recorded so far. Only
// one goroutine may drain a Recorder.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		e, ok := r.ring.TryPop()
		if !ok {
			break
		}
		r.events = append(r.events, e)
	}
	return append([]Event(nil), r.events...)
}

// Report summarises everything recorded so far. Thread names and stack
// usage come from k, which must no longer be running.
func (r *Recorder) Report(k *kernel.Kernel) Report {
	rep := Analyze(r.Events(), r.Ticks(), func(prio int) string {
		return k.Thread(kernel.Priority(prio)).String()
	})
	rep.Dropped = r.Dropped()
	for i := range rep.Threads {
		if t := k.Thread(kernel.Priority(rep.Threads[i].Priority)); t != nil {
			rep.Threads[i].StackUsed, rep.Threads[i].StackSize = t.StackUsage()
		}
	}
	return rep
}
