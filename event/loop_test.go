package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatchOrderPerTarget(t *testing.T) {
	l := NewLoop()
	target := NewTarget()

	var mu sync.Mutex
	var seen []int

	l.Register(target, ButtonDown, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Data.(int))
		mu.Unlock()
	})

	go l.Run()
	l.WaitUntilStarted()

	for i := 0; i < 5; i++ {
		l.AddEvent(Event{Type: ButtonDown, Target: target.ID(), Data: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, seen)

	l.Quit()
}

func TestWildcardFallback(t *testing.T) {
	l := NewLoop()
	target := NewTarget()

	hit := make(chan Type, 1)
	l.Register(target, Wildcard, func(e Event) { hit <- e.Type })

	go l.Run()
	l.WaitUntilStarted()

	l.AddEvent(Event{Type: KeyUp, Target: target.ID()})

	select {
	case typ := <-hit:
		require.Equal(t, KeyUp, typ)
	case <-time.After(time.Second):
		t.Fatal("wildcard handler never fired")
	}
	l.Quit()
}

func TestUnhandledEventIsDropped(t *testing.T) {
	l := NewLoop()
	target := NewTarget()
	go l.Run()
	l.WaitUntilStarted()

	// No handler registered at all; AddEvent must not panic or block.
	l.AddEvent(Event{Type: KeyUp, Target: target.ID()})
	require.Eventually(t, func() bool { return l.PendingCount() == 0 }, time.Second, time.Millisecond)
	l.Quit()
}

func TestDeliverImmediatelyBypassesQueue(t *testing.T) {
	l := NewLoop()
	target := NewTarget()

	called := make(chan struct{})
	l.Register(target, ButtonUp, func(e Event) { close(called) })

	// Dispatches synchronously even though Run was never started.
	l.AddEvent(Event{Type: ButtonUp, Target: target.ID(), Flags: DeliverImmediately})

	select {
	case <-called:
	default:
		t.Fatal("immediate event did not dispatch inline")
	}
}

func TestSyntheticTypesAreDropped(t *testing.T) {
	l := NewLoop()
	target := NewTarget()
	go l.Run()
	l.WaitUntilStarted()

	l.AddEvent(Event{Type: Unknown, Target: target.ID()})
	l.AddEvent(Event{Type: System, Target: target.ID()})
	l.AddEvent(Event{Type: TimerFired, Target: target.ID()})

	require.Equal(t, 0, l.PendingCount())
	l.Quit()
}

func TestDestroyTargetDropsQueuedEvents(t *testing.T) {
	l := NewLoop()
	target := NewTarget()
	l.Register(target, ButtonDown, func(Event) {})

	l.buf.setReady()
	l.AddEvent(Event{Type: ButtonDown, Target: target.ID()})
	require.Equal(t, 1, l.PendingCount())

	target.Destroy()
	require.Equal(t, 0, l.PendingCount())
	require.Nil(t, target.Loop())
}

func TestTimerFiresRepeatedly(t *testing.T) {
	l := NewLoop()
	target := NewTarget()

	var count int
	var mu sync.Mutex
	l.Register(target, TimerFired, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	timer := &Timer{Period: 5 * time.Millisecond, Target: target.ID()}
	l.ArmTimer(timer)

	go l.Run()
	l.WaitUntilStarted()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, time.Second, time.Millisecond)

	l.Quit()
}

func TestOneShotTimerFiresOnce(t *testing.T) {
	l := NewLoop()
	target := NewTarget()

	var count int
	var mu sync.Mutex
	l.Register(target, TimerFired, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	timer := &Timer{Period: 5 * time.Millisecond, Target: target.ID(), OneShot: true}
	l.ArmTimer(timer)

	go l.Run()
	l.WaitUntilStarted()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := count
	mu.Unlock()
	require.Equal(t, 1, got)

	l.Quit()
}
