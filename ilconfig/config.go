// Package ilconfig supplies the server-wide functional-option configuration
// layer: the knobs that sit above a single conn.Connection's tunables
// (conn.Config) — the TCP bind address, the static screen topology, and the
// relay transport to fall back to when a direct socket path is blocked.
// conn.Config is its per-connection counterpart.
package ilconfig

import (
	"errors"
	"strconv"
	"time"

	"github.com/input-leap/input-leap-sub002/bytestream"
	"github.com/input-leap/input-leap-sub002/conn"
	"github.com/input-leap/input-leap-sub002/relay"
	"github.com/input-leap/input-leap-sub002/switcher"
)

// ErrInvalidConfig is returned by Validate for a configuration that can
// never run correctly (e.g. a topology edge pointing a screen at itself).
var ErrInvalidConfig = errors.New("ilconfig: invalid configuration")

// RelaySettings holds the network scheme and dial/listen address for the
// relay package, used only when a direct TCP path is unavailable.
type RelaySettings struct {
	Network string
	Address string
	Options []relay.Option
}

// Config holds every server-wide tunable. Zero value is never used
// directly — build one with Default() and Apply(opts...).
type Config struct {
	// Conn carries the per-connection tunables (handshake deadline,
	// heartbeat rate, keepalives-until-death) shared by every accepted
	// connection.
	Conn conn.Config

	// PrimaryName is this server's own screen name, passed through to
	// switcher.New.
	PrimaryName string

	// BindAddress is the host:port the server listens on for direct TCP
	// connections (bytestream.ListenTCP).
	BindAddress string

	// Topology maps a screen name to the neighbour reached by crossing
	// each edge of its screen. switcher.New's NeighbourFunc is built from
	// this map via NeighbourFunc().
	Topology map[string]map[switcher.Edge]string

	// Relay is non-nil when a relay.Dial/relay.Listen fallback transport
	// should be used instead of, or alongside, direct TCP.
	Relay *RelaySettings

	// BroadcastScreensaver mirrors switcher.SetBroadcastScreensaver.
	BroadcastScreensaver bool
}

// Option is a functional option mutating a Config in place.
type Option func(*Config)

// Default returns a Config built from conn.DefaultConfig() and the stream
// layer's DefaultPort.
func Default() Config {
	return Config{
		Conn:        conn.DefaultConfig(),
		BindAddress: ":" + strconv.Itoa(bytestream.DefaultPort),
		Topology:    make(map[string]map[switcher.Edge]string),
	}
}

// Apply builds a Config by layering opts on top of Default().
func Apply(opts ...Option) Config {
	cfg := Default()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// Validate reports a configuration that cannot run: a missing primary
// name, or a topology edge pointing a screen at itself.
func (c Config) Validate() error {
	if c.PrimaryName == "" {
		return ErrInvalidConfig
	}
	for name, edges := range c.Topology {
		for edge, neighbour := range edges {
			if neighbour == name {
				return ErrInvalidConfig
			}
			_ = edge
		}
	}
	return nil
}

// NeighbourFunc builds a switcher.NeighbourFunc from Topology: a screen
// name, edge, and position resolve to the configured neighbour at the
// opposite edge's entry coordinate, or ok=false when nothing is wired to
// that edge, in which case the cursor stays put.
func (c Config) NeighbourFunc(shapes map[string]switcher.Shape) switcher.NeighbourFunc {
	return func(screenName string, edge switcher.Edge, x, y int32) (string, int32, int32, bool) {
		edges, ok := c.Topology[screenName]
		if !ok {
			return "", 0, 0, false
		}
		neighbour, ok := edges[edge]
		if !ok {
			return "", 0, 0, false
		}
		shape, ok := shapes[neighbour]
		if !ok {
			return "", 0, 0, false
		}
		entryX, entryY := entryPoint(edge, shape, x, y)
		return neighbour, entryX, entryY, true
	}
}

// entryPoint computes where the cursor should land on the neighbour
// screen: on the edge opposite the one just crossed, preserving the
// perpendicular coordinate.
func entryPoint(edge switcher.Edge, shape switcher.Shape, x, y int32) (int32, int32) {
	switch edge {
	case switcher.EdgeLeft:
		return shape.X + shape.Width - 1, y
	case switcher.EdgeRight:
		return shape.X, y
	case switcher.EdgeTop:
		return x, shape.Y + shape.Height - 1
	case switcher.EdgeBottom:
		return x, shape.Y
	default:
		return x, y
	}
}

// WithPrimaryName sets the server's own screen name.
func WithPrimaryName(name string) Option {
	return func(c *Config) { c.PrimaryName = name }
}

// WithBindAddress overrides the default TCP listen address.
func WithBindAddress(addr string) Option {
	return func(c *Config) {
		if addr != "" {
			c.BindAddress = addr
		}
	}
}

// WithHeartbeatRate overrides the per-connection heartbeat cadence.
func WithHeartbeatRate(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Conn.HeartbeatRate = d
		}
	}
}

// WithKeepalivesUntilDeath overrides how many silent heartbeat intervals
// are tolerated before a peer is declared dead.
func WithKeepalivesUntilDeath(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Conn.KeepalivesUntilDeath = n
		}
	}
}

// WithHandshakeDeadline overrides the handshake completion deadline.
func WithHandshakeDeadline(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Conn.HandshakeDeadline = d
		}
	}
}

// WithTopologyEdge wires screenName's edge to neighbour, the static
// equivalent of a screens.conf "links" section.
func WithTopologyEdge(screenName string, edge switcher.Edge, neighbour string) Option {
	return func(c *Config) {
		if c.Topology == nil {
			c.Topology = make(map[string]map[switcher.Edge]string)
		}
		if c.Topology[screenName] == nil {
			c.Topology[screenName] = make(map[switcher.Edge]string)
		}
		c.Topology[screenName][edge] = neighbour
	}
}

// WithBroadcastScreensaver enables switcher's screensaver-to-all-clients
// behaviour.
func WithBroadcastScreensaver(on bool) Option {
	return func(c *Config) { c.BroadcastScreensaver = on }
}

// WithRelay configures a relay transport fallback for NAT-blocked pairs.
func WithRelay(network, address string, opts ...relay.Option) Option {
	return func(c *Config) {
		c.Relay = &RelaySettings{Network: network, Address: address, Options: opts}
	}
}
