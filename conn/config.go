package conn

import "time"

// Config holds the per-connection tunables: the handshake deadline and the
// heartbeat/keepalive cadence. See the ilconfig package for the server-wide
// equivalent.
type Config struct {
	// HandshakeDeadline bounds AwaitConnect..AwaitInfo; exceeding it closes
	// the connection with EBSY.
	HandshakeDeadline time.Duration

	// HeartbeatRate is the interval between CALV heartbeats.
	HeartbeatRate time.Duration

	// KeepalivesUntilDeath is how many silent heartbeat intervals are
	// tolerated before the peer is declared dead.
	KeepalivesUntilDeath int
}

// DefaultConfig returns the stock 30s handshake deadline and 3s/3-strike
// heartbeat schedule.
func DefaultConfig() Config {
	return Config{
		HandshakeDeadline:    30 * time.Second,
		HeartbeatRate:        3 * time.Second,
		KeepalivesUntilDeath: 3,
	}
}

// DeadlineDuration is the total silence tolerated before a peer is
// considered dead: HeartbeatRate * KeepalivesUntilDeath.
func (c Config) DeadlineDuration() time.Duration {
	return c.HeartbeatRate * time.Duration(c.KeepalivesUntilDeath)
}
