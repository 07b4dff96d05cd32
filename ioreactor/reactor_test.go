package ioreactor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStream is a minimal ioreactor.Stream for testing the reactor without a
// real bytestream.ByteStream.
type fakeStream struct {
	mu       sync.Mutex
	ready    bool
	readable chan struct{}
	writable chan struct{}
	errored  chan error
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		errored:  make(chan error, 1),
	}
}

func (f *fakeStream) Readable() <-chan struct{} { return f.readable }
func (f *fakeStream) Writable() <-chan struct{} { return f.writable }
func (f *fakeStream) Errored() <-chan error     { return f.errored }

func (f *fakeStream) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeStream) setReady() {
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	select {
	case f.readable <- struct{}{}:
	default:
	}
}

func (f *fakeStream) fail(err error) {
	select {
	case f.errored <- err:
	default:
	}
}

func TestReactorDispatchesReadyJob(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Shutdown()

	stream := newFakeStream()
	calls := make(chan Readiness, 4)
	r.Add(&Job{
		Stream:    stream,
		WantsRead: true,
		Run: func(ready Readiness) Result {
			calls <- ready
			return Stop
		},
	})

	stream.setReady()

	select {
	case got := <-calls:
		require.True(t, got.Readable)
		require.NoError(t, got.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never dispatched")
	}

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)
}

func TestReactorErrorPreemptsAndSticks(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Shutdown()

	stream := newFakeStream()
	stream.setReady() // would-be readable, but error takes precedence
	calls := make(chan Readiness, 4)
	boom := errors.New("boom")

	var n int
	r.Add(&Job{
		Stream:     stream,
		WantsRead:  true,
		WantsWrite: true,
		Run: func(ready Readiness) Result {
			calls <- ready
			n++
			if n >= 2 {
				return Stop
			}
			return Keep
		},
	})

	stream.fail(boom)

	first := <-calls
	require.ErrorIs(t, first.Err, boom)
	require.False(t, first.Readable)
	require.False(t, first.Writable)

	second := <-calls
	require.ErrorIs(t, second.Err, boom)
}

func TestReactorReplaceJobSwapsSlot(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Shutdown()

	stream := newFakeStream()
	done := make(chan struct{})

	var second *Job
	second = &Job{
		Stream:    stream,
		WantsRead: true,
		Run: func(ready Readiness) Result {
			close(done)
			return Stop
		},
	}

	first := &Job{
		Stream:    stream,
		WantsRead: true,
		Run: func(ready Readiness) Result {
			return Replace(second)
		},
	}
	r.Add(first)
	stream.setReady()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement job never ran")
	}
}

func TestReactorRemoveStopsDispatch(t *testing.T) {
	r := New()
	go r.Run()
	defer r.Shutdown()

	stream := newFakeStream()
	calls := 0
	job := &Job{
		Stream:    stream,
		WantsRead: true,
		Run: func(ready Readiness) Result {
			calls++
			return Keep
		},
	}
	r.Add(job)
	r.Remove(job)

	stream.setReady()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, calls)
}

func TestReactorShutdownJoins(t *testing.T) {
	r := New()
	go r.Run()
	r.Shutdown()
	require.Equal(t, 0, r.Len())
}
