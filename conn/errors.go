package conn

import "errors"

// ErrBadVersion is sent on the wire as EBAD: the peer's protocol major
// version is unsupported.
var ErrBadVersion = errors.New("conn: unsupported protocol version")

// ErrBusy is sent on the wire as EBSY: the handshake did not complete
// within the configured deadline.
var ErrBusy = errors.New("conn: handshake deadline exceeded")

// ErrUnknownMessage corresponds to EUNK (a recognised message that is
// unexpected in the current state). Nothing in this package returns it or
// sends EUNK: handleFrame ignores such messages, just as it ignores
// genuinely unrecognised codes after the handshake.
var ErrUnknownMessage = errors.New("conn: unexpected message for current state")

// ErrProtocol is fatal malformed framing: the connection must close
// immediately, no error code is owed to the peer because framing itself
// cannot be trusted enough to send one reliably.
var ErrProtocol = errors.New("conn: malformed protocol framing")

// ErrClosed is returned by Send* once the connection has reached Dead.
var ErrClosed = errors.New("conn: connection closed")
