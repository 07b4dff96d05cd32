package conn

import (
	"net"
	"testing"
	"time"

	"github.com/input-leap/input-leap-sub002/bytestream"
	"github.com/input-leap/input-leap-sub002/event"
	"github.com/input-leap/input-leap-sub002/proto"
	"github.com/stretchr/testify/require"
)

func pipePair() (*bytestream.TCPStream, *bytestream.TCPStream) {
	a, b := net.Pipe()
	return bytestream.NewTCPStream(a), bytestream.NewTCPStream(b)
}

func waitReadable(t *testing.T, s *bytestream.TCPStream) {
	require.Eventually(t, func() bool { return s.ReadySize() > 0 }, 2*time.Second, 2*time.Millisecond)
}

func newTestConn(role Role, stream *bytestream.TCPStream, opts ...Option) *Connection {
	loop := event.NewLoop()
	target := event.NewTarget()
	return New(role, stream, loop, target, DefaultConfig(), opts...)
}

func TestHandshakeVersionDowngrade(t *testing.T) {
	serverStream, clientStream := pipePair()
	defer serverStream.Close()
	defer clientStream.Close()

	server := newTestConn(RoleServer, serverStream, WithVersion(proto.Version{Major: 1, Minor: 6}), WithLocalInfo(proto.ScreenInfo{Width: 1920, Height: 1080}))
	client := newTestConn(RoleClient, clientStream, WithVersion(proto.Version{Major: 1, Minor: 5}), WithName("alice"))

	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	waitReadable(t, clientStream) // server's opening hello
	require.NoError(t, client.PumpOnce())
	require.Equal(t, AwaitInfo, client.State())

	waitReadable(t, serverStream) // client's hello-back
	require.NoError(t, server.PumpOnce())
	require.Equal(t, AwaitInfo, server.State())
	require.Equal(t, proto.Version{Major: 1, Minor: 5}, server.Version())
	require.Equal(t, "alice", server.PeerName())

	waitReadable(t, clientStream) // QINF
	require.NoError(t, client.PumpOnce())

	waitReadable(t, serverStream) // DINF
	require.NoError(t, server.PumpOnce())
	require.Equal(t, Connected, server.State())

	waitReadable(t, clientStream) // CIAK
	require.NoError(t, client.PumpOnce())
	require.Equal(t, Connected, client.State())

	require.Equal(t, proto.Version{Major: 1, Minor: 5}, client.Version())
}

func TestHandshakeRejectsOldMajorVersion(t *testing.T) {
	serverStream, clientStream := pipePair()
	defer serverStream.Close()
	defer clientStream.Close()

	server := newTestConn(RoleServer, serverStream)
	client := newTestConn(RoleClient, clientStream, WithVersion(proto.Version{Major: 0, Minor: 7}))

	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())

	waitReadable(t, serverStream)
	err := server.PumpOnce()
	require.ErrorIs(t, err, ErrBadVersion)
	require.Equal(t, Dead, server.State())
}

func connectedPair(t *testing.T) (*Connection, *Connection, *bytestream.TCPStream, *bytestream.TCPStream) {
	serverStream, clientStream := pipePair()
	server := newTestConn(RoleServer, serverStream)
	client := newTestConn(RoleClient, clientStream, WithName("bob"))

	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())

	require.Equal(t, Connected, server.State())
	require.Equal(t, Connected, client.State())
	return server, client, serverStream, clientStream
}

func TestClipboardGrabSequenceMonotonicity(t *testing.T) {
	server, client, serverStream, _ := connectedPair(t)
	defer serverStream.Close()

	require.NoError(t, client.SendClipboardGrab(0, 42))
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	require.EqualValues(t, 42, server.clipboards[0].lastSeenSeq)

	// A stale/replayed sequence (41 <= 42) must be ignored.
	require.NoError(t, client.SendClipboardGrab(0, 41))
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	require.EqualValues(t, 42, server.clipboards[0].lastSeenSeq)
}

func TestKeyPassthrough(t *testing.T) {
	server, client, _, clientStream := connectedPair(t)
	defer clientStream.Close()

	received := make(chan event.KeyInfo, 1)
	client.loop.Register(client.target, event.KeyDown, func(e event.Event) {
		received <- e.Data.(event.KeyInfo)
	})
	go client.loop.Run()
	defer client.loop.Quit()

	require.NoError(t, server.SendKeyDown(proto.KeyEvent{ID: 0x61, Mask: 0x0001, Button: 0x001E}))
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())

	select {
	case info := <-received:
		require.EqualValues(t, 0x61, info.ID)
		require.EqualValues(t, 0x0001, info.Mask)
		require.EqualValues(t, 0x001E, info.Button)
	case <-time.After(2 * time.Second):
		t.Fatal("KeyDown event was not dispatched")
	}
}

func TestMouseWheelAndRelMoveGatedByVersion(t *testing.T) {
	serverStream, clientStream := pipePair()
	defer serverStream.Close()
	defer clientStream.Close()

	server := newTestConn(RoleServer, serverStream, WithVersion(proto.Version{Major: 1, Minor: 1}))
	client := newTestConn(RoleClient, clientStream, WithVersion(proto.Version{Major: 1, Minor: 1}), WithName("old"))

	require.NoError(t, server.Start())
	require.NoError(t, client.Start())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	require.Equal(t, Connected, server.State())

	// DMWM (1.3+) and DMRM (1.2+) do not exist at 1.1: both sends must be
	// silent no-ops, with nothing reaching the wire.
	require.NoError(t, server.SendMouseWheel(proto.MouseWheelEvent{DX: 0, DY: -120}))
	require.NoError(t, server.SendMouseRelMove(proto.MouseMoveEvent{X: 1, Y: 0}))
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, clientStream.ReadySize())

	// Absolute motion exists at every version and still goes through.
	require.NoError(t, server.SendMouseMove(proto.MouseMoveEvent{X: 5, Y: 6}))
	waitReadable(t, clientStream)
}

func TestHeartbeatEchoBelowVersion13(t *testing.T) {
	serverStream, clientStream := pipePair()
	defer serverStream.Close()
	defer clientStream.Close()

	server := newTestConn(RoleServer, serverStream, WithVersion(proto.Version{Major: 1, Minor: 2}))
	client := newTestConn(RoleClient, clientStream, WithVersion(proto.Version{Major: 1, Minor: 2}))

	require.NoError(t, server.Start())
	require.NoError(t, client.Start())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())
	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce())

	require.NoError(t, server.send(proto.CodeHeartbeat, nil))
	waitReadable(t, clientStream)
	require.NoError(t, client.PumpOnce()) // client must echo CALV back

	waitReadable(t, serverStream)
	require.NoError(t, server.PumpOnce())
}
