package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerSetOrdersByRemaining(t *testing.T) {
	ts := newTimerSet()
	a := &Timer{Period: 30 * time.Millisecond, Target: TargetID(1)}
	b := &Timer{Period: 10 * time.Millisecond, Target: TargetID(2)}
	c := &Timer{Period: 20 * time.Millisecond, Target: TargetID(3)}

	ts.Add(a)
	ts.Add(b)
	ts.Add(c)

	require.Equal(t, 10*time.Millisecond, ts.NextDeadline())
}

func TestTimerSetAdvanceFiresExpired(t *testing.T) {
	ts := newTimerSet()
	quick := &Timer{Period: 10 * time.Millisecond, Target: TargetID(1)}
	slow := &Timer{Period: 100 * time.Millisecond, Target: TargetID(2)}
	ts.Add(quick)
	ts.Add(slow)

	var fired []TargetID
	ts.Advance(15*time.Millisecond, func(tm *Timer) { fired = append(fired, tm.Target) })

	require.Equal(t, []TargetID{1}, fired)
	require.Equal(t, 2, ts.Len()) // quick was re-armed
}

func TestTimerSetOneShotNotReArmed(t *testing.T) {
	ts := newTimerSet()
	tm := &Timer{Period: 10 * time.Millisecond, Target: TargetID(1), OneShot: true}
	ts.Add(tm)

	var fired int
	ts.Advance(15*time.Millisecond, func(*Timer) { fired++ })

	require.Equal(t, 1, fired)
	require.Equal(t, 0, ts.Len())
}

func TestTimerSetRemoveBeforeFiring(t *testing.T) {
	ts := newTimerSet()
	tm := &Timer{Period: 10 * time.Millisecond, Target: TargetID(1)}
	ts.Add(tm)
	ts.Remove(tm)

	require.Equal(t, 0, ts.Len())

	var fired int
	ts.Advance(100*time.Millisecond, func(*Timer) { fired++ })
	require.Equal(t, 0, fired)
}
