package relay

import (
	"context"
	"time"

	"github.com/input-leap/input-leap-sub002/ilmetrics"
)

const (
	// DefaultOffersName is the container/queue the rendezvous offers live in.
	DefaultOffersName = "offers"

	// DefaultSessionPrefix prefixes per-session containers and queues, so a
	// cleanup sweep can tell sessions apart from anything else sharing the
	// storage account.
	DefaultSessionPrefix = "s-"

	// DefaultAcceptPoll is how often an idle listener re-lists the offers.
	DefaultAcceptPoll = 500 * time.Millisecond

	// DefaultFastPoll and DefaultSteadyPoll bound the recv loop's adaptive
	// backoff: fast right after traffic, decaying toward steady while quiet.
	DefaultFastPoll   = 25 * time.Millisecond
	DefaultSteadyPoll = 250 * time.Millisecond

	// DefaultConnectTimeout bounds how long Dial waits for the server to
	// answer an offer.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultPingInterval paces liveness pings; 0 disables them.
	DefaultPingInterval = 15 * time.Second

	// DefaultIdleTimeout is how long a session tolerates total silence
	// before declaring the peer gone.
	DefaultIdleTimeout = 5 * time.Minute
)

// Config holds every relay tunable. Build one with NewConfig.
type Config struct {
	ctx            context.Context
	offersName     string
	sessionPrefix  string
	acceptPoll     time.Duration
	dataPollFast   time.Duration
	dataPollSteady time.Duration
	connectTimeout time.Duration
	pingInterval   time.Duration
	idleTimeout    time.Duration
	metrics        ilmetrics.Metrics
}

// Option is a functional option mutating a Config in place.
type Option func(*Config)

// NewConfig layers opts over the defaults.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		ctx:            context.Background(),
		offersName:     DefaultOffersName,
		sessionPrefix:  DefaultSessionPrefix,
		acceptPoll:     DefaultAcceptPoll,
		dataPollFast:   DefaultFastPoll,
		dataPollSteady: DefaultSteadyPoll,
		connectTimeout: DefaultConnectTimeout,
		pingInterval:   DefaultPingInterval,
		idleTimeout:    DefaultIdleTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithContext sets the context every storage call runs under.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

// WithOffersName overrides the rendezvous container/queue name.
func WithOffersName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.offersName = name
		}
	}
}

// WithSessionPrefix overrides the per-session resource name prefix.
func WithSessionPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.sessionPrefix = prefix
		}
	}
}

// WithAcceptPoll overrides the listener's offer polling interval.
func WithAcceptPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.acceptPoll = d
		}
	}
}

// WithDataPoll overrides the recv loop's backoff bounds.
func WithDataPoll(fast, steady time.Duration) Option {
	return func(c *Config) {
		if fast > 0 {
			c.dataPollFast = fast
		}
		if steady >= c.dataPollFast {
			c.dataPollSteady = steady
		}
	}
}

// WithConnectTimeout overrides how long Dial waits for an answer.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithPing overrides the liveness ping interval; 0 disables pings.
func WithPing(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.pingInterval = d
		}
	}
}

// WithIdleTimeout overrides the silence tolerance; 0 disables the check.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.idleTimeout = d
		}
	}
}

// WithMetrics routes the relay's connection and byte counters into m.
func WithMetrics(m ilmetrics.Metrics) Option {
	return func(c *Config) { c.metrics = m }
}
