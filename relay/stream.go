package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/input-leap/input-leap-sub002/bytestream"
)

// stream adapts a Carrier to the bytestream.ByteStream contract, the same
// two-goroutine construction as bytestream.TCPStream: a send loop drains a
// mutex-guarded outbound buffer into the carrier (chunked at the carrier's
// message limit), a recv loop polls the carrier with adaptive backoff and
// feeds an inbound buffer, and Flush waits on a condition variable
// signalled when the outbound buffer empties. The difference from TCP is
// only the transport underneath: polled storage messages instead of a
// socket, so the recv loop paces itself with a Backoff instead of blocking
// in a read.
type stream struct {
	carrier Carrier
	driver  Driver
	session string
	cfg     *Config

	inMu   sync.Mutex
	in     bytes.Buffer
	inShut bool

	outMu     sync.Mutex
	out       bytes.Buffer
	outShut   bool
	flushedCV *sync.Cond

	readable chan struct{}
	writable chan struct{}
	errored  chan error
	errOnce  sync.Once

	peerSeen chan struct{} // closed on the first envelope from the peer
	seenOnce sync.Once

	wake      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newStream(carrier Carrier, driver Driver, sessionID string, cfg *Config) *stream {
	s := &stream{
		carrier:  carrier,
		driver:   driver,
		session:  sessionID,
		cfg:      cfg,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		errored:  make(chan error, 1),
		peerSeen: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	s.flushedCV = sync.NewCond(&s.outMu)
	sig(s.writable)
	go s.sendLoop()
	go s.recvLoop()
	return s
}

func sig(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *stream) raise(err error) {
	s.errOnce.Do(func() { s.errored <- err })
}

func (s *stream) sendControl(kind byte) error {
	return s.carrier.Send(sealEnvelope(kind, nil))
}

// awaitPeer blocks until the recv loop has seen the peer's first envelope.
func (s *stream) awaitPeer(timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.peerSeen:
		return nil
	case <-t.C:
		return ErrConnectTimeout
	case <-s.closed:
		return bytestream.ErrClosed
	}
}

func (s *stream) sendLoop() {
	var pingC <-chan time.Time
	if s.cfg.pingInterval > 0 {
		ticker := time.NewTicker(s.cfg.pingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-s.closed:
			return
		case <-pingC:
			if err := s.sendControl(kindPing); err != nil {
				s.raise(err)
				return
			}
			continue
		case <-s.wake:
		}

		for {
			s.outMu.Lock()
			if s.out.Len() == 0 {
				s.flushedCV.Broadcast()
				s.outMu.Unlock()
				break
			}
			n := s.out.Len()
			if max := s.carrier.MaxPayload() - 1; n > max {
				n = max
			}
			chunk := append([]byte(nil), s.out.Next(n)...)
			s.outMu.Unlock()

			if err := s.carrier.Send(sealEnvelope(kindData, chunk)); err != nil {
				s.outMu.Lock()
				s.flushedCV.Broadcast()
				s.outMu.Unlock()
				s.raise(err)
				return
			}
			if s.cfg.metrics != nil {
				s.cfg.metrics.IncrementBytesSent(int64(len(chunk)))
			}
		}
	}
}

func (s *stream) recvLoop() {
	poll := NewBackoff(s.cfg.dataPollFast, s.cfg.dataPollSteady)
	lastHeard := time.Now()

	for {
		select {
		case <-s.closed:
			return
		default:
		}

		msg, err := s.carrier.Recv()
		if err != nil {
			if !errors.Is(err, ErrNoData) {
				s.raise(err)
				return
			}
			if s.cfg.idleTimeout > 0 && time.Since(lastHeard) > s.cfg.idleTimeout {
				s.raise(fmt.Errorf("%w: no traffic for %s", ErrPeerSilent, s.cfg.idleTimeout))
				return
			}
			select {
			case <-s.closed:
				return
			case <-time.After(poll.Next()):
			}
			continue
		}

		poll.Reset()
		lastHeard = time.Now()

		kind, payload, err := openEnvelope(msg)
		if err != nil {
			continue
		}
		s.seenOnce.Do(func() { close(s.peerSeen) })

		switch kind {
		case kindData:
			s.inMu.Lock()
			if !s.inShut {
				s.in.Write(payload)
			}
			s.inMu.Unlock()
			sig(s.readable)
			if s.cfg.metrics != nil {
				s.cfg.metrics.IncrementBytesReceived(int64(len(payload)))
			}
		case kindPing:
			// liveness only; lastHeard already moved
		case kindFin:
			s.raise(ErrSessionClosed)
			return
		}
	}
}

// Read implements bytestream.ByteStream. After ShutdownInput it returns
// (0, nil) forever.
func (s *stream) Read(p []byte) (int, error) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if s.inShut || s.in.Len() == 0 {
		return 0, nil
	}
	return s.in.Read(p)
}

// Write implements bytestream.ByteStream.
func (s *stream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, bytestream.ErrClosed
	default:
	}
	s.outMu.Lock()
	if s.outShut {
		s.outMu.Unlock()
		return 0, bytestream.ErrClosed
	}
	n, _ := s.out.Write(p)
	s.outMu.Unlock()
	sig(s.wake)
	return n, nil
}

// Flush implements bytestream.ByteStream.
func (s *stream) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.outMu.Lock()
		for s.out.Len() > 0 {
			s.flushedCV.Wait()
		}
		s.outMu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return bytestream.ErrClosed
	}
}

// ShutdownInput implements bytestream.ByteStream. Bytes already buffered
// but not yet read are discarded.
func (s *stream) ShutdownInput() error {
	s.inMu.Lock()
	s.inShut = true
	s.in.Reset()
	s.inMu.Unlock()
	return nil
}

// ShutdownOutput implements bytestream.ByteStream.
func (s *stream) ShutdownOutput() error {
	s.outMu.Lock()
	s.outShut = true
	s.outMu.Unlock()
	return s.Flush(context.Background())
}

// Close implements bytestream.ByteStream: a best-effort FIN to the peer,
// then the carrier and the session's backing resources are released.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.sendControl(kindFin)
		_ = s.carrier.Close()
		_ = s.driver.CleanupSession(s.session)
		s.outMu.Lock()
		s.flushedCV.Broadcast()
		s.outMu.Unlock()
		if s.cfg.metrics != nil {
			s.cfg.metrics.IncrementConnectionsClosed()
		}
	})
	return nil
}

// ReadySize implements bytestream.ByteStream.
func (s *stream) ReadySize() int {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	return s.in.Len()
}

// IsReady implements bytestream.ByteStream.
func (s *stream) IsReady() bool { return s.ReadySize() > 0 }

// Readable implements bytestream.ByteStream.
func (s *stream) Readable() <-chan struct{} { return s.readable }

// Writable implements bytestream.ByteStream.
func (s *stream) Writable() <-chan struct{} { return s.writable }

// Errored implements bytestream.ByteStream.
func (s *stream) Errored() <-chan error { return s.errored }

var _ bytestream.ByteStream = (*stream)(nil)
