package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/input-leap/input-leap-sub002/bytestream"
)

// The memory driver exercises Dial/Listen end to end without live Azure
// services, registered through the same RegisterDriver path the real
// backends use.

func init() {
	RegisterDriver("memory", newMemoryDriver)
}

var (
	hubsMu sync.Mutex
	hubs   = map[string]*memoryHub{}
)

type memoryHub struct {
	mu     sync.Mutex
	offers []Offer
	pipes  map[string]*memoryPipe // sessionID -> its two directions
}

type memoryPipe struct {
	c2s, s2c *msgQueue
}

type msgQueue struct {
	mu  sync.Mutex
	buf [][]byte
}

func (q *msgQueue) push(msg []byte) {
	q.mu.Lock()
	q.buf = append(q.buf, append([]byte(nil), msg...))
	q.mu.Unlock()
}

func (q *msgQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, false
	}
	msg := q.buf[0]
	q.buf = q.buf[1:]
	return msg, true
}

func hubFor(key string) *memoryHub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[key]
	if !ok {
		h = &memoryHub{pipes: map[string]*memoryPipe{}}
		hubs[key] = h
	}
	return h
}

type memoryDriver struct {
	hub *memoryHub
}

func newMemoryDriver(ep *Endpoint, cfg *Config) (Driver, error) {
	return &memoryDriver{hub: hubFor(ep.URL.String())}, nil
}

func (d *memoryDriver) PostOffer(o Offer) error {
	d.hub.mu.Lock()
	d.hub.offers = append(d.hub.offers, o)
	d.hub.mu.Unlock()
	return nil
}

func (d *memoryDriver) CollectOffers() ([]Offer, error) {
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	out := make([]Offer, len(d.hub.offers))
	copy(out, d.hub.offers)
	return out, nil
}

func (d *memoryDriver) ClearOffer(o Offer) error {
	d.hub.mu.Lock()
	defer d.hub.mu.Unlock()
	for i, existing := range d.hub.offers {
		if existing.SessionID == o.SessionID {
			d.hub.offers = append(d.hub.offers[:i], d.hub.offers[i+1:]...)
			break
		}
	}
	return nil
}

func (d *memoryDriver) OpenCarrier(sessionID string, initiator bool) (Carrier, error) {
	d.hub.mu.Lock()
	pipe, ok := d.hub.pipes[sessionID]
	if !ok {
		pipe = &memoryPipe{c2s: &msgQueue{}, s2c: &msgQueue{}}
		d.hub.pipes[sessionID] = pipe
	}
	d.hub.mu.Unlock()
	if initiator {
		return &memoryCarrier{tx: pipe.c2s, rx: pipe.s2c}, nil
	}
	return &memoryCarrier{tx: pipe.s2c, rx: pipe.c2s}, nil
}

func (d *memoryDriver) CleanupSession(sessionID string) error {
	d.hub.mu.Lock()
	delete(d.hub.pipes, sessionID)
	d.hub.mu.Unlock()
	return nil
}

type memoryCarrier struct {
	tx, rx *msgQueue
}

func (c *memoryCarrier) Send(msg []byte) error {
	c.tx.push(msg)
	return nil
}

func (c *memoryCarrier) Recv() ([]byte, error) {
	msg, ok := c.rx.pop()
	if !ok {
		return nil, ErrNoData
	}
	return msg, nil
}

func (c *memoryCarrier) MaxPayload() int { return 1024 }
func (c *memoryCarrier) Close() error    { return nil }

func testOpts() []Option {
	return []Option{
		WithAcceptPoll(2 * time.Millisecond),
		WithDataPoll(2*time.Millisecond, 5*time.Millisecond),
		WithConnectTimeout(2 * time.Second),
		WithPing(0),
	}
}

func TestDialListenRoundTrip(t *testing.T) {
	ln, err := Listen("memory", "memory://round-trip", testOpts()...)
	require.NoError(t, err)
	defer ln.Close()

	type acceptResult struct {
		stream bytestream.ByteStream
		err    error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		st, err := ln.Accept()
		accepted <- acceptResult{st, err}
	}()

	client, err := Dial("memory", "memory://round-trip", "alice", testOpts()...)
	require.NoError(t, err)
	defer client.Close()

	res := <-accepted
	require.NoError(t, res.err)
	server := res.stream
	defer server.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.ReadySize() == 5 }, 2*time.Second, 2*time.Millisecond)

	buf := make([]byte, 16)
	n, err := server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	// And the other direction.
	_, err = server.Write([]byte("hi back"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.ReadySize() == 7 }, 2*time.Second, 2*time.Millisecond)
	n, err = client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hi back", string(buf[:n]))
}

func TestWriteLargerThanCarrierPayloadIsChunked(t *testing.T) {
	ln, err := Listen("memory", "memory://chunked", testOpts()...)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan bytestream.ByteStream, 1)
	go func() {
		st, err := ln.Accept()
		if err == nil {
			accepted <- st
		}
	}()

	client, err := Dial("memory", "memory://chunked", "alice", testOpts()...)
	require.NoError(t, err)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	// 1024-byte carrier limit minus the envelope byte: 3000 bytes must
	// arrive intact across several messages.
	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = client.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server.ReadySize() == len(payload) }, 2*time.Second, 2*time.Millisecond)
	got := make([]byte, len(payload))
	n, err := server.Read(got)
	require.NoError(t, err)
	require.Equal(t, payload, got[:n])
}

func TestListenerCloseStopsAccept(t *testing.T) {
	ln, err := Listen("memory", "memory://closing", testOpts()...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()
	ln.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrListenerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not observe Close")
	}
}

func TestDialTimesOutWithoutListener(t *testing.T) {
	_, err := Dial("memory", "memory://nobody-home", "alice",
		WithDataPoll(2*time.Millisecond, 5*time.Millisecond),
		WithConnectTimeout(30*time.Millisecond),
		WithPing(0),
	)
	require.ErrorIs(t, err, ErrConnectTimeout)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	kind, payload, err := openEnvelope(sealEnvelope(kindData, []byte("x")))
	require.NoError(t, err)
	require.Equal(t, kindData, kind)
	require.Equal(t, []byte("x"), payload)

	kind, payload, err = openEnvelope(sealEnvelope(kindPing, nil))
	require.NoError(t, err)
	require.Equal(t, kindPing, kind)
	require.Empty(t, payload)

	_, _, err = openEnvelope(nil)
	require.Error(t, err)
}

func TestBackoffDoublesAndResets(t *testing.T) {
	b := NewBackoff(10*time.Millisecond, 40*time.Millisecond)
	require.Equal(t, 10*time.Millisecond, b.Next())
	require.Equal(t, 20*time.Millisecond, b.Next())
	require.Equal(t, 40*time.Millisecond, b.Next())
	require.Equal(t, 40*time.Millisecond, b.Next())

	b.Reset()
	require.Equal(t, 10*time.Millisecond, b.Next())
}

func TestUnsupportedSchemeRejected(t *testing.T) {
	_, err := Dial("carrier-pigeon", "coop://roof", "alice")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
}
