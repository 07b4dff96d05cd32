// Package bytestream defines the ByteStream capability: an
// ordered, bidirectional, reliable octet transport with independent
// shutdown-for-read/-write, plus concrete TCP and Noise-secured
// implementations, and the readiness channels the ioreactor package
// multiplexes across many streams.
package bytestream

import (
	"context"
	"errors"
)

// ErrClosed is returned by Read/Write once Close has completed.
var ErrClosed = errors.New("bytestream: closed")

// ErrWouldBlock is SecureStream's internal signal that a handshake step
// needs more bytes from the peer than the underlying stream holds yet; no
// ByteStream method returns it.
var ErrWouldBlock = errors.New("bytestream: handshake wants more I/O")

// ByteStream is the capability interface the reactor, the framing layer, and
// the connection state machine consume. Implementations: TCPStream (plain TCP) and SecureStream (Noise
// Protocol handshake + AEAD framing standing in for the excluded TLS
// handshake details).
type ByteStream interface {
	// Read copies up to len(p) already-received bytes into p. It returns
	// (0, nil) when no data is available right now — never an EOF-shaped
	// zero return. After a local ShutdownInput, Read returns (0, nil)
	// forever; after the peer shuts down its output, Read still returns the
	// bytes already received, then (0, nil).
	Read(p []byte) (int, error)

	// Write queues p for transmission and returns immediately; it never
	// blocks. It either queues every byte of p or returns (0, ErrClosed) /
	// an output error — partial queueing never happens.
	Write(p []byte) (int, error)

	// Flush blocks until every previously queued byte has been handed to
	// the OS (the "flushed" condition), or until
	// ctx is cancelled or the stream disconnects.
	Flush(ctx context.Context) error

	// ShutdownInput stops future reads from returning new data.
	ShutdownInput() error
	// ShutdownOutput stops future writes and flushes then closes the send
	// side once queued bytes depart.
	ShutdownOutput() error
	// Close tears down both directions immediately, discarding any queued
	// but unsent output.
	Close() error

	// ReadySize reports how many bytes are currently available to Read
	// without blocking.
	ReadySize() int
	// IsReady reports ReadySize() > 0.
	IsReady() bool

	// Readable/Writable/Errored are the channels ioreactor.Reactor polls:
	// Readable fires when ReadySize may have grown, Writable fires when the
	// stream is willing to accept more queued output (always non-blocking
	// per the Write contract, but a handshake mid-flight may want_write),
	// Errored fires once with a terminal error before the stream becomes
	// permanently unusable.
	Readable() <-chan struct{}
	Writable() <-chan struct{}
	Errored() <-chan error
}

// Dialer opens an outbound ByteStream, the stream-layer analogue of
// net.Dial, used by Connection when acting as a client.
type Dialer interface {
	Dial(ctx context.Context, network, address string) (ByteStream, error)
}

// Listener accepts inbound ByteStreams, the stream-layer analogue of
// net.Listener, used by Connection when acting as a server.
type Listener interface {
	Accept() (ByteStream, error)
	Close() error
	Addr() string
}
