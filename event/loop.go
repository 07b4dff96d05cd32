package event

import (
	"sync"
	"time"
)

// Handler is a callable bound to (Target, Type) in a Loop's registry.
type Handler func(Event)

type handlerKey struct {
	target TargetID
	typ    Type
}

// Loop is the single-threaded event dispatcher. Only the goroutine that
// calls Run dispatches events and invokes handlers; every other entry point
// (AddEvent, timer arming, Register/Unregister) is thread-safe and may be
// called from any goroutine.
type Loop struct {
	buf *buffer
	ts  *timerSet

	mu       sync.Mutex
	handlers map[handlerKey]Handler

	quit     chan struct{}
	quitOnce sync.Once

	started   chan struct{} // closed once Run signals readiness
	startOnce sync.Once

	now func() time.Time // injectable for tests
}

// NewLoop builds a Loop that has not yet started running.
func NewLoop() *Loop {
	return &Loop{
		buf:      newBuffer(),
		ts:       newTimerSet(),
		handlers: make(map[handlerKey]Handler),
		quit:     make(chan struct{}),
		started:  make(chan struct{}),
		now:      time.Now,
	}
}

// Register binds handler to (target, typ) on this loop. It also binds
// target's ownership to this loop: a Target with any registered handler has
// exactly one owning loop.
func (l *Loop) Register(target *Target, typ Type, h Handler) {
	target.loop.Store(l)
	l.mu.Lock()
	l.handlers[handlerKey{target.ID(), typ}] = h
	l.mu.Unlock()
}

// Unregister removes the handler bound to (target, typ), if any.
func (l *Loop) Unregister(target *Target, typ Type) {
	l.mu.Lock()
	delete(l.handlers, handlerKey{target.ID(), typ})
	l.mu.Unlock()
}

// destroyTarget removes every handler registered for id and drops any
// events already queued for it, atomically with respect to dispatch.
func (l *Loop) destroyTarget(id TargetID) {
	l.mu.Lock()
	for k := range l.handlers {
		if k.target == id {
			delete(l.handlers, k)
		}
	}
	l.mu.Unlock()
	l.buf.dropTarget(id)
}

// AddEvent enqueues e for dispatch: synthetic types are dropped,
// DeliverImmediately dispatches inline on the caller's goroutine, otherwise
// the event is queued for the loop goroutine to dispatch in order.
func (l *Loop) AddEvent(e Event) {
	if e.synthetic() {
		return
	}
	if e.Immediate() {
		l.dispatch(e)
		return
	}
	l.buf.push(e)
}

// ArmTimer adds t to the timer heap. t.Target will receive a TimerFired event
// each time it fires.
func (l *Loop) ArmTimer(t *Timer) {
	l.mu.Lock()
	l.ts.Add(t)
	l.mu.Unlock()
	l.buf.signal()
}

// CancelTimer removes t from the heap; safe to call even if t already fired.
func (l *Loop) CancelTimer(t *Timer) {
	l.mu.Lock()
	l.ts.Remove(t)
	l.mu.Unlock()
}

func (l *Loop) dispatch(e Event) {
	l.mu.Lock()
	h, ok := l.handlers[handlerKey{e.Target, e.Type}]
	if !ok {
		h, ok = l.handlers[handlerKey{e.Target, Wildcard}]
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	h(e)
}

// Quit requests the loop to exit once it next wakes; a SIGINT/SIGTERM
// handler enqueuing a QUIT event for the system target amounts to the same
// thing.
func (l *Loop) Quit() {
	l.quitOnce.Do(func() { close(l.quit) })
	l.buf.signal()
}

// ShuttingDown reports whether Quit has been called.
func (l *Loop) ShuttingDown() bool {
	select {
	case <-l.quit:
		return true
	default:
		return false
	}
}

// Run is the main loop: initialise, signal readiness, drain events queued
// before startup in order, then alternate between firing expired timers and
// dispatching one queued event per wake until Quit is called. Handler
// panics are not recovered; they propagate to Run's caller.
func (l *Loop) Run() {
	l.buf.setReady()
	l.startOnce.Do(func() { close(l.started) })

	last := l.now()
	for {
		if l.ShuttingDown() {
			return
		}

		l.mu.Lock()
		deadline := l.ts.NextDeadline()
		l.mu.Unlock()

		l.buf.waitForEvent(deadline)

		now := l.now()
		elapsed := now.Sub(last)
		last = now

		l.mu.Lock()
		var fired []*Timer
		l.ts.Advance(elapsed, func(t *Timer) { fired = append(fired, t) })
		l.mu.Unlock()

		for _, t := range fired {
			l.dispatch(Event{Type: TimerFired, Target: t.Target, Data: TimerInfo{Count: 1}})
		}

		if e, ok := l.buf.pop(); ok {
			l.dispatch(e)
			if e.Type == Quit && e.Target == SystemTarget {
				l.Quit()
			}
		}
	}
}

// WaitUntilStarted blocks until Run has signalled readiness. Useful in tests
// and in callers that enqueue work immediately after starting the loop on
// another goroutine.
func (l *Loop) WaitUntilStarted() {
	<-l.started
}

// PendingCount reports how many events are queued but not yet dispatched.
func (l *Loop) PendingCount() int { return l.buf.len() }
