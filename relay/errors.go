package relay

import "errors"

var (
	// ErrUnsupportedScheme is returned by Dial/Listen for a scheme no
	// driver is registered under.
	ErrUnsupportedScheme = errors.New("relay: unsupported scheme")

	// ErrInvalidAddress is returned when the endpoint address cannot be
	// parsed as a URL.
	ErrInvalidAddress = errors.New("relay: invalid endpoint address")

	// ErrClientCreationFailed wraps a failure to build an Azure service
	// client from the endpoint's credentials.
	ErrClientCreationFailed = errors.New("relay: storage client creation failed")

	// ErrNoData is the carrier-level "nothing waiting right now" signal;
	// the stream's recv loop backs off and retries on it.
	ErrNoData = errors.New("relay: no data available")

	// ErrConnectTimeout is returned by Dial when the server never answers
	// the posted offer.
	ErrConnectTimeout = errors.New("relay: peer did not answer before the connect timeout")

	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("relay: listener closed")

	// ErrSessionClosed surfaces the peer's FIN on the stream's error
	// channel, tearing the session down through the reactor.
	ErrSessionClosed = errors.New("relay: session closed by peer")

	// ErrPeerSilent is raised when a session sees no traffic (not even
	// pings) for the configured idle timeout.
	ErrPeerSilent = errors.New("relay: peer silent")
)
