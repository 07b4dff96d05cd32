package event

import (
	"container/heap"
	"time"
)

// Timer is a {period, remaining, target, one_shot} record.
// On dispatch, a timer whose Remaining <= 0 emits a TimerFired event for its
// Target and, unless OneShot, is re-armed with Remaining = Period.
type Timer struct {
	Period    time.Duration
	Target    TargetID
	OneShot   bool
	remaining time.Duration
	index     int // heap.Interface bookkeeping
	deleted   bool
}

// Remaining reports the time left before this timer next fires.
func (t *Timer) Remaining() time.Duration { return t.remaining }

// timerHeap is a min-heap keyed by remaining time, satisfying the invariant
// that the heap stays in sync with the timer set: a timer exists in exactly
// one of {heap, deleted}.
type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].remaining < h[j].remaining }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerSet owns the heap and exposes the operations the loop needs: arm,
// cancel, decrement-all-by-elapsed, and peek-next-deadline.
type timerSet struct {
	h timerHeap
}

func newTimerSet() *timerSet {
	ts := &timerSet{}
	heap.Init(&ts.h)
	return ts
}

// Add arms a new timer. Its first firing includes no elapsed time yet; the
// loop's own stopwatch accounts for time between creation and the next wake.
func (ts *timerSet) Add(t *Timer) {
	t.remaining = t.Period
	heap.Push(&ts.h, t)
}

// Remove cancels t. If t already fired and was popped, Remove is a no-op;
// otherwise it is a true heap removal in O(log n) via index tracking.
func (ts *timerSet) Remove(t *Timer) {
	if t.deleted || t.index < 0 || t.index >= len(ts.h) || ts.h[t.index] != t {
		return
	}
	t.deleted = true
	heap.Remove(&ts.h, t.index)
}

// Len reports the number of live timers.
func (ts *timerSet) Len() int { return ts.h.Len() }

// NextDeadline reports the time until the nearest timer fires, or -1 if
// there are no timers.
func (ts *timerSet) NextDeadline() time.Duration {
	if ts.h.Len() == 0 {
		return -1
	}
	return ts.h[0].remaining
}

// Advance decrements every live timer by elapsed and pops+re-arms every
// timer whose remaining time has reached zero, invoking fire for each. A
// repeating timer is pushed back with remaining = period; a one-shot timer
// is dropped after firing.
func (ts *timerSet) Advance(elapsed time.Duration, fire func(*Timer)) {
	for i := range ts.h {
		ts.h[i].remaining -= elapsed
	}
	heap.Init(&ts.h) // remaining changed for every element; cheaper than n percolations

	for ts.h.Len() > 0 && ts.h[0].remaining <= 0 {
		t := heap.Pop(&ts.h).(*Timer)
		t.deleted = true
		fire(t)
		if !t.OneShot {
			t.deleted = false
			t.remaining = t.Period
			heap.Push(&ts.h, t)
		}
	}
}
