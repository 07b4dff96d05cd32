package relay

import "time"

// Backoff paces loops that poll a remote which may stay quiet for long
// stretches: each Next doubles the interval up to the steady ceiling, and
// Reset drops back to the fast floor after any activity.
type Backoff struct {
	fast, steady, cur time.Duration
}

// NewBackoff builds a Backoff starting at the fast interval.
func NewBackoff(fast, steady time.Duration) *Backoff {
	if fast <= 0 {
		fast = DefaultFastPoll
	}
	if steady < fast {
		steady = fast
	}
	return &Backoff{fast: fast, steady: steady, cur: fast}
}

// Next returns the current interval and doubles it for the next call, up to
// the steady ceiling.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	if b.cur < b.steady {
		b.cur *= 2
		if b.cur > b.steady {
			b.cur = b.steady
		}
	}
	return d
}

// Sleep waits for Next().
func (b *Backoff) Sleep() { time.Sleep(b.Next()) }

// Reset returns the interval to the fast floor.
func (b *Backoff) Reset() { b.cur = b.fast }
