package ilconfig

import (
	"testing"
	"time"

	"github.com/input-leap/input-leap-sub002/switcher"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidOnceNamed(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.PrimaryName = "server"
	require.NoError(t, cfg.Validate())
}

func TestApplyOverridesAccumulate(t *testing.T) {
	cfg := Apply(
		WithPrimaryName("server"),
		WithBindAddress(":9001"),
		WithHeartbeatRate(5*time.Second),
		WithKeepalivesUntilDeath(5),
		WithHandshakeDeadline(10*time.Second),
		WithTopologyEdge("server", switcher.EdgeRight, "laptop"),
		WithBroadcastScreensaver(true),
	)

	require.NoError(t, cfg.Validate())
	require.Equal(t, ":9001", cfg.BindAddress)
	require.Equal(t, 5*time.Second, cfg.Conn.HeartbeatRate)
	require.Equal(t, 5, cfg.Conn.KeepalivesUntilDeath)
	require.Equal(t, 10*time.Second, cfg.Conn.HandshakeDeadline)
	require.Equal(t, "laptop", cfg.Topology["server"][switcher.EdgeRight])
	require.True(t, cfg.BroadcastScreensaver)
}

func TestValidateRejectsSelfLoopEdge(t *testing.T) {
	cfg := Apply(
		WithPrimaryName("server"),
		WithTopologyEdge("server", switcher.EdgeRight, "server"),
	)
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestNeighbourFuncResolvesEntryPoint(t *testing.T) {
	cfg := Apply(
		WithPrimaryName("server"),
		WithTopologyEdge("server", switcher.EdgeRight, "laptop"),
	)
	shapes := map[string]switcher.Shape{
		"laptop": {X: 0, Y: 0, Width: 1280, Height: 800},
	}
	neighbour, x, y, ok := cfg.NeighbourFunc(shapes)("server", switcher.EdgeRight, 1920, 500)
	require.True(t, ok)
	require.Equal(t, "laptop", neighbour)
	require.EqualValues(t, 0, x)
	require.EqualValues(t, 500, y)
}

func TestNeighbourFuncMissingEdgeReportsNotOK(t *testing.T) {
	cfg := Apply(WithPrimaryName("server"))
	_, _, _, ok := cfg.NeighbourFunc(nil)("server", switcher.EdgeLeft, 0, 0)
	require.False(t, ok)
}
