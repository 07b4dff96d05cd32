// Package relay carries the input-sharing protocol between a server and a
// client that have no direct TCP path to each other (NAT on both ends, or a
// network that only allows outbound HTTPS). Both machines talk to a cloud
// storage account instead: the client posts an offer naming itself, the
// server's listener picks the offer up, and from then on each side appends
// its protocol bytes to one half of a storage-backed pipe and polls the
// other half. The session is handed back as a bytestream.ByteStream, so
// conn.Connection, the reactor, and the switcher run over a relay session
// exactly as they do over TCP.
//
// Security is layered the same way as for TCP: wrap the returned stream in
// bytestream.NewSecureClient / NewSecureServer. The relay itself moves
// opaque bytes and has no crypto layer of its own.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/input-leap/input-leap-sub002/bytestream"
)

// Offer is a client's request for a relay session, posted to the rendezvous
// store and collected by the server's listener.
type Offer struct {
	SessionID  string `json:"session_id"`
	ClientName string `json:"client_name"`
}

// Carrier is one live session's bidirectional message pipe. Send delivers
// one message to the peer; Recv returns the next pending message from the
// peer or ErrNoData when nothing is waiting. Messages arrive whole and in
// order, which is all the stream layer on top needs.
type Carrier interface {
	Send(msg []byte) error
	Recv() ([]byte, error)
	MaxPayload() int
	Close() error
}

// Driver binds the rendezvous and carrier operations to one storage
// backend. Two ship in this package (azblob and azqueue); tests register an
// in-memory third.
type Driver interface {
	PostOffer(o Offer) error
	CollectOffers() ([]Offer, error)
	// ClearOffer removes a collected offer from the store. Backends whose
	// collection is already destructive (a queue dequeue) make this a no-op.
	ClearOffer(o Offer) error

	// OpenCarrier opens the message pipe for a session. Either side may get
	// here first, so implementations create the backing resources
	// idempotently from whichever side arrives first.
	OpenCarrier(sessionID string, initiator bool) (Carrier, error)
	CleanupSession(sessionID string) error
}

// DriverFunc builds a Driver for a parsed endpoint and configuration.
type DriverFunc func(ep *Endpoint, cfg *Config) (Driver, error)

var drivers = make(map[string]DriverFunc)

// RegisterDriver registers a storage backend under a URL scheme name. Called
// from init; registering the same scheme twice is a programming error.
func RegisterDriver(scheme string, build DriverFunc) {
	if _, dup := drivers[scheme]; dup {
		panic("relay: driver already registered for scheme " + scheme)
	}
	drivers[scheme] = build
}

func openDriver(scheme, address string, opts []Option) (Driver, *Endpoint, *Config, error) {
	build, ok := drivers[scheme]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	ep, err := ParseEndpoint(address)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg := NewConfig(opts...)
	d, err := build(ep, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return d, ep, cfg, nil
}

// Dial posts an offer under clientName and opens the session's carrier as
// the initiating side. It blocks until the listening server answers with
// its first envelope, or the connect timeout passes.
func Dial(scheme, address, clientName string, opts ...Option) (bytestream.ByteStream, error) {
	driver, _, cfg, err := openDriver(scheme, address, opts)
	if err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	if err := driver.PostOffer(Offer{SessionID: sessionID, ClientName: clientName}); err != nil {
		return nil, err
	}
	carrier, err := driver.OpenCarrier(sessionID, true)
	if err != nil {
		return nil, err
	}

	st := newStream(carrier, driver, sessionID, cfg)
	if err := st.sendControl(kindPing); err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := st.awaitPeer(cfg.connectTimeout); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Listen opens the rendezvous store for accepting relay sessions, the
// stream-layer analogue of bytestream.ListenTCP.
func Listen(scheme, address string, opts ...Option) (*Listener, error) {
	driver, ep, cfg, err := openDriver(scheme, address, opts)
	if err != nil {
		return nil, err
	}
	return &Listener{
		scheme: scheme,
		ep:     ep,
		driver: driver,
		cfg:    cfg,
		closed: make(chan struct{}),
		seen:   make(map[string]bool),
	}, nil
}

// Listener accepts relay sessions by polling the offer store. It implements
// bytestream.Listener.
type Listener struct {
	scheme string
	ep     *Endpoint
	driver Driver
	cfg    *Config

	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	seen map[string]bool // session IDs already picked up
}

// Accept blocks until a client posts an offer, then answers it and returns
// the session's stream.
func (l *Listener) Accept() (bytestream.ByteStream, error) {
	for {
		select {
		case <-l.closed:
			return nil, ErrListenerClosed
		default:
		}

		offers, err := l.driver.CollectOffers()
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			l.mu.Lock()
			dup := l.seen[o.SessionID]
			l.seen[o.SessionID] = true
			l.mu.Unlock()
			if dup {
				continue
			}
			_ = l.driver.ClearOffer(o)

			carrier, err := l.driver.OpenCarrier(o.SessionID, false)
			if err != nil {
				return nil, err
			}
			st := newStream(carrier, l.driver, o.SessionID, l.cfg)
			if err := st.sendControl(kindPing); err != nil {
				_ = st.Close()
				return nil, err
			}
			if l.cfg.metrics != nil {
				l.cfg.metrics.IncrementConnectionsAccepted()
			}
			return st, nil
		}

		select {
		case <-l.closed:
			return nil, ErrListenerClosed
		case <-time.After(l.cfg.acceptPoll):
		}
	}
}

// Close stops Accept. Sessions already handed out keep running.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// Addr reports the rendezvous the listener polls.
func (l *Listener) Addr() string {
	return l.scheme + "://" + l.ep.URL.Host
}

var _ bytestream.Listener = (*Listener)(nil)

// DialBlob, ListenBlob, DialQueue, ListenQueue name the two shipped
// backends: append blobs for sessions that will move bulk file-chunk
// payloads, queues for ordinary low-latency protocol traffic.

func DialBlob(address, clientName string, opts ...Option) (bytestream.ByteStream, error) {
	return Dial(blobScheme, address, clientName, opts...)
}

func ListenBlob(address string, opts ...Option) (*Listener, error) {
	return Listen(blobScheme, address, opts...)
}

func DialQueue(address, clientName string, opts ...Option) (bytestream.ByteStream, error) {
	return Dial(queueScheme, address, clientName, opts...)
}

func ListenQueue(address string, opts ...Option) (*Listener, error) {
	return Listen(queueScheme, address, opts...)
}
