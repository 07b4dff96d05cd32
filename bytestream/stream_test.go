package bytestream

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pipeStreams() (*TCPStream, *TCPStream) {
	a, b := net.Pipe()
	return NewTCPStream(a), NewTCPStream(b)
}

func TestTCPStreamWriteRead(t *testing.T) {
	a, b := pipeStreams()
	defer a.Close()
	defer b.Close()

	_, err := a.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, a.Flush(context.Background()))

	require.Eventually(t, func() bool { return b.ReadySize() == 5 }, time.Second, time.Millisecond)

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestTCPStreamReadNoDataIsZeroNotEOF(t *testing.T) {
	a, b := pipeStreams()
	defer a.Close()
	defer b.Close()

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestTCPStreamShutdownInputYieldsZeroForever(t *testing.T) {
	a, b := pipeStreams()
	defer a.Close()
	defer b.Close()

	_, err := a.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, a.Flush(context.Background()))

	require.NoError(t, b.ShutdownInput())

	buf := make([]byte, 4)
	n, err := b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = b.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSecureStreamHandshakeAndRoundTrip(t *testing.T) {
	a, b := pipeStreams()
	defer a.Close()
	defer b.Close()

	client, err := NewSecureClient(a)
	require.NoError(t, err)
	server, err := NewSecureServer(b)
	require.NoError(t, err)

	payload := []byte("the quick brown fox")
	_, err = client.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return server.ReadySize() == len(payload) }, 2*time.Second, 2*time.Millisecond)
	require.True(t, server.HandshakeComplete())
	require.True(t, client.HandshakeComplete())

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestSecureStreamBidirectional(t *testing.T) {
	a, b := pipeStreams()
	defer a.Close()
	defer b.Close()

	client, err := NewSecureClient(a)
	require.NoError(t, err)
	server, err := NewSecureServer(b)
	require.NoError(t, err)

	_, err = server.Write([]byte("server->client"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return client.ReadySize() > 0 }, 2*time.Second, 2*time.Millisecond)

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "server->client", string(buf[:n]))
}
