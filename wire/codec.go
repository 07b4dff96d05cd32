package wire

import (
	"encoding/binary"
	"fmt"
)

// Writer accumulates typed fields into a payload buffer, following the
// protocol's printf-like field schema: %1i, %2i, %4i for fixed-width
// big-endian integers, %s for a u32-length-prefixed octet string.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty field writer.
func NewWriter() *Writer { return &Writer{} }

// PutUint8 appends an 8-bit field (%1i).
func (w *Writer) PutUint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

// PutUint16 appends a 16-bit big-endian field (%2i).
func (w *Writer) PutUint16(v uint16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutUint32 appends a 32-bit big-endian field (%4i).
func (w *Writer) PutUint32(v uint32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutString appends a u32-length-prefixed octet string (%s).
func (w *Writer) PutString(s string) *Writer {
	w.PutUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

// PutBytes appends a u32-length-prefixed octet string from raw bytes.
func (w *Writer) PutBytes(b []byte) *Writer {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes typed fields from a decoded frame body in order, the
// mirror image of Writer. A malformed or truncated field yields
// ErrMalformedFrame.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps a frame body for sequential field decoding.
func NewReader(body []byte) *Reader { return &Reader{buf: body} }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedFrame, n, len(r.buf)-r.pos)
	}
	return nil
}

// Uint8 decodes an 8-bit field.
func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// Uint16 decodes a 16-bit big-endian field.
func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

// Uint32 decodes a 32-bit big-endian field.
func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// String decodes a u32-length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes decodes a u32-length-prefixed octet string.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// Remaining reports how many unread bytes are left in the body. A well-formed
// message consumes exactly its fields; leftover bytes are tolerated (forward
// compatibility with fields added by a newer minor version) but exposed here
// so callers can choose to be strict.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }
