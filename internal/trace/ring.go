package trace

import "sync/atomic"

const ringSlots = 4096

// Ring is a fixed-size single-producer, single-consumer event queue. The
// producer runs in interrupt context: pushing never blocks or allocates.
type Ring struct {
	_     [0]func() // prevent accidental copying.
	head  atomic.Uint32
	tail  atomic.Uint32
	slots [ringSlots]Event
}

// TryPush enqueues e, returning false if the ring is full.
func (r *Ring) TryPush(e Event) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= ringSlots {
		return false
	}
	r.slots[head%ringSlots] = e
	r.head.Store(head + 1)
	return true
}

// TryPop dequeues one event, returning false if the ring is empty.
func (r *Ring) TryPop() (Event, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return Event{}, false
	}
	e := r.slots[tail%ringSlots]
	r.tail.Store(tail + 1)
	return e, true
}

// Len returns the number of queued events.
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}
