package relay

import "errors"

// Every carrier message is an envelope: one kind octet, then the payload.
// Carriers deliver messages whole, so no length framing is needed at this
// level; the blob carrier adds its own record framing underneath because an
// append blob is a byte stream, not a message store.
const (
	kindData byte = 0x00
	kindPing byte = 0x01
	kindFin  byte = 0x02
)

var errEmptyEnvelope = errors.New("relay: empty envelope")

func sealEnvelope(kind byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = kind
	copy(out[1:], payload)
	return out
}

func openEnvelope(msg []byte) (byte, []byte, error) {
	if len(msg) == 0 {
		return 0, nil, errEmptyEnvelope
	}
	return msg[0], msg[1:], nil
}
