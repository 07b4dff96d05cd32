// Package wire implements the length-prefixed frame format and typed field
// codec that every protocol message on the wire is built from.
//
// A frame is a u32 big-endian length followed by that many payload octets.
// The payload begins with a fixed 4-octet ASCII message code ("CALV", "DMMV",
// "CIAK", ...); everything after the code is a sequence of typed fields
// encoded with Writer/Reader below.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// LengthSize is the width of the frame length prefix.
const LengthSize = 4

// CodeSize is the width of the fixed ASCII message code at the start of
// every frame payload.
const CodeSize = 4

// ErrNeedMore is returned by ReadFrame when the buffer does not yet hold a
// complete frame; the caller should wait for more bytes and retry.
var ErrNeedMore = errors.New("wire: need more data")

// ErrMalformedFrame is fatal: the length prefix or payload cannot possibly be
// valid and the connection must be closed with a protocol error.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// MaxFramePayload bounds how large a single frame payload may be, guarding
// against a corrupt or hostile length prefix causing an unbounded allocation.
const MaxFramePayload = 4 * 1024 * 1024

// Frame is a single decoded message unit: a 4-octet code plus its raw,
// not-yet-parsed field bytes.
type Frame struct {
	Code [CodeSize]byte
	Body []byte
}

// BuildFrame appends a framed message to out: length prefix, code, then the
// already-encoded field bytes in body. Callers serialise writes per stream so
// that BuildFrame calls never interleave (see bytestream.ByteStream.Write).
func BuildFrame(out *bytes.Buffer, code [CodeSize]byte, body []byte) {
	var lenBuf [LengthSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(CodeSize+len(body)))
	out.Write(lenBuf[:])
	out.Write(code[:])
	out.Write(body)
}

// ReadFrame attempts to decode one frame from the front of buf. It returns
// ErrNeedMore if buf does not yet hold a complete frame (the caller must not
// consume anything in that case), or ErrMalformedFrame if the length prefix
// is out of bounds. On success it returns the frame and the number of bytes
// consumed from buf.
func ReadFrame(buf []byte) (Frame, int, error) {
	if len(buf) < LengthSize {
		return Frame{}, 0, ErrNeedMore
	}
	n := binary.BigEndian.Uint32(buf[:LengthSize])
	if n < CodeSize || n > MaxFramePayload {
		return Frame{}, 0, ErrMalformedFrame
	}
	total := LengthSize + int(n)
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMore
	}

	var f Frame
	copy(f.Code[:], buf[LengthSize:LengthSize+CodeSize])
	body := buf[LengthSize+CodeSize : total]
	if len(body) > 0 {
		f.Body = append([]byte(nil), body...)
	}
	return f, total, nil
}

// Code builds the fixed 4-octet array form of an ASCII message tag such as
// "CALV". It panics if s is not exactly 4 bytes — this is only ever called
// with compile-time constants in proto.
func Code(s string) [CodeSize]byte {
	if len(s) != CodeSize {
		panic("wire: message code must be exactly 4 bytes: " + s)
	}
	var c [CodeSize]byte
	copy(c[:], s)
	return c
}

// CodeString renders a frame code back to its ASCII form, for logging.
func CodeString(c [CodeSize]byte) string {
	return string(c[:])
}
