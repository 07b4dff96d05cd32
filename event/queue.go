package event

import (
	"sync"
	"time"
)

// buffer is the thread-safe multi-producer event queue: events pushed
// before the loop signals readiness are held in a plain FIFO; once ready,
// events are stored in a table keyed
// by a recycled uint32 id so the table's size is a meaningful upper bound on
// the number of in-flight events, with a separate FIFO of ids preserving
// enqueue order for dispatch.
type buffer struct {
	mu      sync.Mutex
	ready   bool
	pending []Event

	table    map[uint32]Event
	order    []uint32
	freeList []uint32
	nextID   uint32

	wake chan struct{}
}

func newBuffer() *buffer {
	return &buffer{
		table: make(map[uint32]Event),
		wake:  make(chan struct{}, 1),
	}
}

func (b *buffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// setReady marks the buffer ready and flushes the pre-readiness pending FIFO
// into the id table, preserving insertion order.
func (b *buffer) setReady() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return
	}
	b.ready = true
	for _, e := range b.pending {
		b.storeLocked(e)
	}
	b.pending = nil
}

func (b *buffer) allocIDLocked() uint32 {
	if n := len(b.freeList); n > 0 {
		id := b.freeList[n-1]
		b.freeList = b.freeList[:n-1]
		return id
	}
	b.nextID++
	return b.nextID
}

func (b *buffer) storeLocked(e Event) {
	id := b.allocIDLocked()
	b.table[id] = e
	b.order = append(b.order, id)
}

// push enqueues e for deferred dispatch. Callers must have already filtered
// out synthetic types and DeliverImmediately events (see Loop.AddEvent).
func (b *buffer) push(e Event) {
	b.mu.Lock()
	if !b.ready {
		b.pending = append(b.pending, e)
	} else {
		b.storeLocked(e)
	}
	b.mu.Unlock()
	b.signal()
}

// pop removes and returns the oldest queued event, if any.
func (b *buffer) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.order) == 0 {
		return Event{}, false
	}
	id := b.order[0]
	b.order = b.order[1:]
	e := b.table[id]
	delete(b.table, id)
	b.freeList = append(b.freeList, id)
	return e, true
}

// len reports the number of queued-but-undispatched events.
func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// dropTarget discards every queued event addressed to target, used when a
// Target is destroyed with events still pending for it.
func (b *buffer) dropTarget(target TargetID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.order[:0:0]
	for _, id := range b.order {
		if b.table[id].Target == target {
			delete(b.table, id)
			b.freeList = append(b.freeList, id)
			continue
		}
		kept = append(kept, id)
	}
	b.order = kept
}

// waitForEvent blocks until either an event is queued or timeout elapses. A
// negative timeout blocks indefinitely.
func (b *buffer) waitForEvent(timeout time.Duration) {
	if b.len() > 0 {
		return
	}
	if timeout < 0 {
		<-b.wake
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-b.wake:
	case <-t.C:
	}
}
