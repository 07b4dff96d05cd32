package bytestream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// DefaultPort is the TCP port the protocol listens on by default.
const DefaultPort = 24800

// TCPStream is the plain-TCP ByteStream implementation. It owns a reader
// goroutine draining net.Conn into an inbound buffer and a writer goroutine
// draining an outbound buffer into net.Conn.
type TCPStream struct {
	conn net.Conn

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

	closeOnce sync.Once
	closed    chan struct{}

	wake chan struct{} // tells the writer goroutine new output is queued
}

// NewTCPStream wraps an already-connected net.Conn. It starts the reader and
// writer goroutines immediately.
func NewTCPStream(conn net.Conn) *TCPStream {
	s := &TCPStream{
		conn:     conn,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		errored:  make(chan error, 1),
		closed:   make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	s.flushedCV = sync.NewCond(&s.outMu)
	signal(s.writable)
	go s.readLoop()
	go s.writeLoop()
	return s
}

// DialTCP opens a plain TCP connection and wraps it as a ByteStream.
func DialTCP(ctx context.Context, address string) (*TCPStream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewTCPStream(conn), nil
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *TCPStream) raiseError(err error) {
	s.errOnce.Do(func() {
		s.errored <- err
	})
}

func (s *TCPStream) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.inMu.Lock()
			s.in.Write(buf[:n])
			s.inMu.Unlock()
			signal(s.readable)
		}
		if err != nil {
			signal(s.readable)
			if !errors.Is(err, io.EOF) && !isUseOfClosed(err) {
				s.raiseError(err)
			}
			return
		}
	}
}

func (s *TCPStream) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.wake:
		}
		for {
			s.outMu.Lock()
			if s.out.Len() == 0 {
				s.flushedCV.Broadcast()
				s.outMu.Unlock()
				break
			}
			chunk := s.out.Next(s.out.Len())
			s.outMu.Unlock()

			if _, err := s.conn.Write(chunk); err != nil {
				if !isUseOfClosed(err) {
					s.raiseError(err)
				}
				s.outMu.Lock()
				s.flushedCV.Broadcast()
				s.outMu.Unlock()
				return
			}
		}
	}
}

func isUseOfClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// Read implements ByteStream. After ShutdownInput it returns (0, nil)
// forever, even for bytes that were buffered before the shutdown.
func (s *TCPStream) Read(p []byte) (int, error) {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	if s.inShut || s.in.Len() == 0 {
		return 0, nil
	}
	return s.in.Read(p)
}

// Write implements ByteStream.
func (s *TCPStream) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, ErrClosed
	default:
	}
	s.outMu.Lock()
	if s.outShut {
		s.outMu.Unlock()
		return 0, ErrClosed
	}
	n, _ := s.out.Write(p)
	s.outMu.Unlock()
	signal(s.wake)
	return n, nil
}

// Flush implements ByteStream.
func (s *TCPStream) Flush(ctx context.Context) error {
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
		return ErrClosed
	}
}

// ShutdownInput implements ByteStream. Bytes already buffered but not yet
// read are discarded.
func (s *TCPStream) ShutdownInput() error {
	s.inMu.Lock()
	s.inShut = true
	s.in.Reset()
	s.inMu.Unlock()
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.CloseRead()
	}
	return nil
}

// ShutdownOutput implements ByteStream.
func (s *TCPStream) ShutdownOutput() error {
	s.outMu.Lock()
	s.outShut = true
	s.outMu.Unlock()
	if err := s.Flush(context.Background()); err != nil {
		return err
	}
	if tc, ok := s.conn.(*net.TCPConn); ok {
		return tc.CloseWrite()
	}
	return nil
}

// Close implements ByteStream.
func (s *TCPStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		s.outMu.Lock()
		s.flushedCV.Broadcast()
		s.outMu.Unlock()
	})
	return err
}

// ReadySize implements ByteStream.
func (s *TCPStream) ReadySize() int {
	s.inMu.Lock()
	defer s.inMu.Unlock()
	return s.in.Len()
}

// IsReady implements ByteStream.
func (s *TCPStream) IsReady() bool { return s.ReadySize() > 0 }

// Readable implements ByteStream.
func (s *TCPStream) Readable() <-chan struct{} { return s.readable }

// Writable implements ByteStream.
func (s *TCPStream) Writable() <-chan struct{} { return s.writable }

// Errored implements ByteStream.
func (s *TCPStream) Errored() <-chan error { return s.errored }

// RemoteAddr exposes the underlying connection's peer address.
func (s *TCPStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr exposes the underlying connection's local address.
func (s *TCPStream) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// TCPListener adapts a net.Listener into a bytestream.Listener.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP opens a TCP listener on address (host:port; use ":24800" for
// DefaultPort on every interface).
func ListenTCP(address string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (ByteStream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPStream(conn), nil
}

func (l *TCPListener) Close() error { return l.ln.Close() }
func (l *TCPListener) Addr() string { return l.ln.Addr().String() }
