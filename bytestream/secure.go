package bytestream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

// NoiseOverhead is the per-frame cost of the AEAD seal: a 4-byte length
// prefix plus the 16-byte AES-GCM tag.
const NoiseOverhead = 4 + 16

var defaultCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

var (
	// ErrHandshakeFailed is fatal: the handshake cannot be retried and the
	// stream raises Disconnected.
	ErrHandshakeFailed     = errors.New("bytestream: secure handshake failed")
	ErrHandshakeIncomplete = errors.New("bytestream: secure handshake not complete")
)

// SecureStream is the secure variant of the ByteStream contract: the same
// interface, but protected with a Noise Protocol NN handshake (anonymous,
// unauthenticated by default) instead of TLS. It layers directly on top of
// another ByteStream, normally a *TCPStream.
type SecureStream struct {
	under      ByteStream
	initiator  bool
	hs         *noise.HandshakeState
	send, recv *noise.CipherState

	mu     sync.Mutex
	rawIn  bytes.Buffer // not-yet-parsed bytes read from under
	plain  bytes.Buffer // decrypted application bytes ready for Read
	ready  bool         // handshake complete
	failed error

	readable chan struct{}
	writable chan struct{}
	errored  chan error
	errOnce  sync.Once

	handshakeReady chan struct{} // closed once, broadcasts handshake completion
	readyOnce      sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

// NewSecureClient wraps under and drives the Noise handshake as the
// initiator. The returned stream is usable immediately: Read before the
// handshake completes returns no data, and Write waits for the handshake
// to finish (see Write).
func NewSecureClient(under ByteStream) (*SecureStream, error) {
	return newSecureStream(under, true)
}

// NewSecureServer wraps under and drives the Noise handshake as the
// responder.
func NewSecureServer(under ByteStream) (*SecureStream, error) {
	return newSecureStream(under, false)
}

func newSecureStream(under ByteStream, initiator bool) (*SecureStream, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: defaultCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	s := &SecureStream{
		under:          under,
		initiator:      initiator,
		hs:             hs,
		readable:       make(chan struct{}, 1),
		writable:       make(chan struct{}, 1),
		errored:        make(chan error, 1),
		handshakeReady: make(chan struct{}),
		closed:         make(chan struct{}),
	}
	signal(s.writable)
	go s.run()
	return s, nil
}

// putMessage frames a raw (unencrypted) handshake message with a 4-byte
// length prefix and queues it on the underlying stream.
func (s *SecureStream) putMessage(msg []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(msg)))
	if _, err := s.under.Write(hdr[:]); err != nil {
		return err
	}
	_, err := s.under.Write(msg)
	return err
}

// nextMessage pulls bytes from under into rawIn until one complete
// length-prefixed message is available, or returns ErrWouldBlock if the
// underlying stream has no more data right now.
func (s *SecureStream) nextMessage() ([]byte, error) {
	buf := make([]byte, 4096)
	for {
		if s.rawIn.Len() >= 4 {
			n := binary.BigEndian.Uint32(s.rawIn.Bytes()[:4])
			if s.rawIn.Len() >= int(4+n) {
				s.rawIn.Next(4)
				return s.rawIn.Next(int(n)), nil
			}
		}
		nRead, err := s.under.Read(buf)
		if err != nil {
			return nil, err
		}
		if nRead == 0 {
			return nil, ErrWouldBlock
		}
		s.rawIn.Write(buf[:nRead])
	}
}

// run drives the handshake to completion and then pumps ciphertext from
// under into plaintext, waking readable on progress.
func (s *SecureStream) run() {
	if err := s.handshake(); err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrHandshakeFailed, err))
		return
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.handshakeReady) })
	signal(s.writable)
	// The handshake reads may already have pulled the peer's first sealed
	// frames into rawIn; decrypt them now instead of waiting for a fresh
	// Readable signal that may never come.
	s.pump()

	for {
		select {
		case <-s.closed:
			return
		case <-s.under.Readable():
		case err := <-s.under.Errored():
			s.fail(err)
			return
		}
		s.pump()
	}
}

func (s *SecureStream) handshake() error {
	if s.initiator {
		msg, _, _, err := s.hs.WriteMessage(nil, nil)
		if err != nil {
			return err
		}
		if err := s.putMessage(msg); err != nil {
			return err
		}
	}

	for {
		reply, err := s.waitMessage()
		if err != nil {
			return err
		}
		_, cs1, cs2, err := s.hs.ReadMessage(nil, reply)
		if err != nil {
			return err
		}
		if cs1 != nil && cs2 != nil {
			s.setCipherStates(cs1, cs2)
			return nil
		}

		msg, cs1, cs2, err := s.hs.WriteMessage(nil, nil)
		if err != nil {
			return err
		}
		if err := s.putMessage(msg); err != nil {
			return err
		}
		if cs1 != nil && cs2 != nil {
			s.setCipherStates(cs1, cs2)
			return nil
		}
	}
}

func (s *SecureStream) setCipherStates(cs1, cs2 *noise.CipherState) {
	if s.initiator {
		s.send, s.recv = cs1, cs2
	} else {
		s.send, s.recv = cs2, cs1
	}
}

// waitMessage blocks (via the underlying stream's readiness channel) until
// one full length-prefixed handshake message is available.
func (s *SecureStream) waitMessage() ([]byte, error) {
	for {
		msg, err := s.nextMessage()
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}
		select {
		case <-s.closed:
			return nil, ErrClosed
		case <-s.under.Readable():
		case err := <-s.under.Errored():
			return nil, err
		}
	}
}

// pump decrypts every complete sealed frame currently buffered in rawIn.
func (s *SecureStream) pump() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.under.Read(buf)
		if err != nil {
			s.fail(err)
			return
		}
		if n == 0 {
			break
		}
		s.mu.Lock()
		s.rawIn.Write(buf[:n])
		s.mu.Unlock()
	}

	s.mu.Lock()
	grew := false
	var decErr error
	for s.rawIn.Len() >= 4 {
		frameLen := int(binary.BigEndian.Uint32(s.rawIn.Bytes()[:4]))
		if s.rawIn.Len() < 4+frameLen {
			break
		}
		s.rawIn.Next(4)
		ciphertext := s.rawIn.Next(frameLen)
		plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
		if err != nil {
			decErr = fmt.Errorf("bytestream: decrypt: %w", err)
			break
		}
		s.plain.Write(plaintext)
		grew = true
	}
	s.mu.Unlock()
	if decErr != nil {
		s.fail(decErr)
		return
	}
	if grew {
		signal(s.readable)
	}
}

func (s *SecureStream) fail(err error) {
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.failed = err
		s.mu.Unlock()
		s.errored <- err
	})
}

// Read implements ByteStream.
func (s *SecureStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plain.Len() == 0 {
		return 0, nil
	}
	return s.plain.Read(p)
}

// Write implements ByteStream: seals p and queues the ciphertext on the
// underlying stream. Sealing needs the session keys, so a Write arriving
// before the handshake finishes waits for it to complete (or the stream to
// close). This is the one exception to "Write never blocks" and is bounded
// by the handshake deadline the caller enforces.
func (s *SecureStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	ready := s.ready
	failed := s.failed
	s.mu.Unlock()
	if failed != nil {
		return 0, failed
	}
	if !ready {
		select {
		case <-s.closed:
			return 0, ErrClosed
		case <-s.handshakeReady:
		}
	}

	ciphertext, err := s.send.Encrypt(nil, nil, p)
	if err != nil {
		return 0, fmt.Errorf("bytestream: encrypt: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(ciphertext)))
	if _, err := s.under.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := s.under.Write(ciphertext); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush implements ByteStream.
func (s *SecureStream) Flush(ctx context.Context) error { return s.under.Flush(ctx) }

// ShutdownInput implements ByteStream.
func (s *SecureStream) ShutdownInput() error { return s.under.ShutdownInput() }

// ShutdownOutput implements ByteStream.
func (s *SecureStream) ShutdownOutput() error { return s.under.ShutdownOutput() }

// Close implements ByteStream.
func (s *SecureStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.under.Close()
	})
	return err
}

// ReadySize implements ByteStream.
func (s *SecureStream) ReadySize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plain.Len()
}

// IsReady implements ByteStream.
func (s *SecureStream) IsReady() bool { return s.ReadySize() > 0 }

// Readable implements ByteStream.
func (s *SecureStream) Readable() <-chan struct{} { return s.readable }

// Writable implements ByteStream.
func (s *SecureStream) Writable() <-chan struct{} { return s.writable }

// Errored implements ByteStream.
func (s *SecureStream) Errored() <-chan error { return s.errored }

// HandshakeComplete reports whether the Noise handshake has finished.
func (s *SecureStream) HandshakeComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}
