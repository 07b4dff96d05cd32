// Package clipboard implements the clipboard value model: a multi-format
// byte-string map with a monotonic generation counter and a stable wire
// marshalling format.
package clipboard

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/input-leap/input-leap-sub002/proto"
)

// ErrNotOpen is returned by Add/Close when called without a matching Open.
var ErrNotOpen = errors.New("clipboard: not open")

// ErrAlreadyOpen is returned by Open when the clipboard is already open.
var ErrAlreadyOpen = errors.New("clipboard: already open")

// ErrMalformed is returned by Unmarshal on a truncated or over-long buffer.
var ErrMalformed = errors.New("clipboard: malformed marshalled form")

// Clipboard is a mapping format -> octet-string plus a generation counter
// and ownership flag.
//
// Clear only removes data; TakeOwnership bumps the generation and records
// ownership. There is deliberately no combined "empty" method: callers call
// Clear and TakeOwnership separately.
type Clipboard struct {
	formats    map[proto.ClipboardFormat][]byte
	generation uint32
	genSet     bool // generation has never been set until the first TakeOwnership/Unmarshal
	owned      bool
	open       bool
}

// New returns an empty, unopened clipboard with generation 0.
func New() *Clipboard {
	return &Clipboard{formats: make(map[proto.ClipboardFormat][]byte)}
}

// Open begins a write transaction. GetTime before the first TakeOwnership
// (or Unmarshal) still reports generation 0; Open alone does not bump it.
func (c *Clipboard) Open() error {
	if c.open {
		return ErrAlreadyOpen
	}
	c.open = true
	return nil
}

// Close ends the write transaction started by Open.
func (c *Clipboard) Close() error {
	if !c.open {
		return ErrNotOpen
	}
	c.open = false
	return nil
}

// Clear removes all stored format data without touching the generation
// counter or ownership flag.
func (c *Clipboard) Clear() {
	c.formats = make(map[proto.ClipboardFormat][]byte)
}

// TakeOwnership bumps the generation to gen and marks this clipboard as the
// owner — the "take ownership" half of the split. gen must be >= the current
// generation; the generation counter never decreases.
func (c *Clipboard) TakeOwnership(gen uint32) error {
	if c.genSet && gen < c.generation {
		return fmt.Errorf("clipboard: generation %d precedes current %d", gen, c.generation)
	}
	c.generation = gen
	c.genSet = true
	c.owned = true
	return nil
}

// Add stores bytes under format. Must be called between Open and Close.
func (c *Clipboard) Add(format proto.ClipboardFormat, data []byte) error {
	if !c.open {
		return ErrNotOpen
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.formats[format] = cp
	return nil
}

// Has reports whether format has data.
func (c *Clipboard) Has(format proto.ClipboardFormat) bool {
	_, ok := c.formats[format]
	return ok
}

// Get returns the bytes stored for format, or nil if absent.
func (c *Clipboard) Get(format proto.ClipboardFormat) []byte {
	data, ok := c.formats[format]
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// GetTime returns the generation counter. This is 0 until the first
// TakeOwnership (or Unmarshal, which also stamps a generation);
// Open/Add/Clear never advance it.
func (c *Clipboard) GetTime() uint32 {
	return c.generation
}

// Owned reports whether TakeOwnership has been called on this clipboard.
// Nothing clears the flag: Clear and Unmarshal leave it as it is.
func (c *Clipboard) Owned() bool { return c.owned }

// Marshal serialises the clipboard: u32 format count, then per format a
// u32 id, u32 length, and the raw bytes.
func (c *Clipboard) Marshal() []byte {
	ids := make([]proto.ClipboardFormat, 0, len(c.formats))
	for id := range c.formats {
		ids = append(ids, id)
	}
	// Ascending format-id order keeps marshal output identical across calls
	// for the same contents.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(len(ids)))
	for _, id := range ids {
		data := c.formats[id]
		rec := make([]byte, 8+len(data))
		binary.BigEndian.PutUint32(rec[0:4], uint32(id))
		binary.BigEndian.PutUint32(rec[4:8], uint32(len(data)))
		copy(rec[8:], data)
		out = append(out, rec...)
	}
	return out
}

// Unmarshal replaces the clipboard's contents with the formats decoded from
// buf and sets the generation to gen: receiving clipboard data always stamps
// a fresh generation (this is the other path, besides TakeOwnership, by
// which GetTime stops reporting 0).
func (c *Clipboard) Unmarshal(buf []byte, gen uint32) error {
	if len(buf) < 4 {
		return ErrMalformed
	}
	count := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	formats := make(map[proto.ClipboardFormat][]byte, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < 8 {
			return ErrMalformed
		}
		id := proto.ClipboardFormat(binary.BigEndian.Uint32(buf[0:4]))
		length := binary.BigEndian.Uint32(buf[4:8])
		buf = buf[8:]
		if uint64(len(buf)) < uint64(length) {
			return ErrMalformed
		}
		data := make([]byte, length)
		copy(data, buf[:length])
		buf = buf[length:]
		formats[id] = data
	}
	if len(buf) != 0 {
		return ErrMalformed
	}
	c.formats = formats
	c.generation = gen
	c.genSet = true
	return nil
}
