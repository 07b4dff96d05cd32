package proto

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/input-leap/input-leap-sub002/wire"
)

// Each message type below carries every field the protocol has ever defined
// for that tag across 1.0–1.6; Encode/Decode consult the negotiated version
// to decide which fields are actually present on the wire. A new version is
// a case in one of these functions, not a new type.

// KeyEvent covers DKDN, DKRP, DKUP.
type KeyEvent struct {
	ID     uint16
	Mask   uint16
	Button uint16 // present from 1.1
	Count  uint16 // DKRP repeat count, present from 1.2
}

// EncodeKeyDown encodes DKDN for the given negotiated version.
func EncodeKeyDown(v Version, e KeyEvent) []byte {
	w := wire.NewWriter().PutUint16(e.ID).PutUint16(e.Mask)
	if !v.Less(Version{1, 1}) {
		w.PutUint16(e.Button)
	}
	return w.Bytes()
}

// DecodeKeyDown decodes DKDN for the given negotiated version.
func DecodeKeyDown(v Version, body []byte) (KeyEvent, error) {
	r := wire.NewReader(body)
	var e KeyEvent
	var err error
	if e.ID, err = r.Uint16(); err != nil {
		return e, err
	}
	if e.Mask, err = r.Uint16(); err != nil {
		return e, err
	}
	if !v.Less(Version{1, 1}) {
		if e.Button, err = r.Uint16(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// EncodeKeyUp encodes DKUP; identical layout to DKDN.
func EncodeKeyUp(v Version, e KeyEvent) []byte { return EncodeKeyDown(v, e) }

// DecodeKeyUp decodes DKUP; identical layout to DKDN.
func DecodeKeyUp(v Version, body []byte) (KeyEvent, error) { return DecodeKeyDown(v, body) }

// EncodeKeyRepeat encodes DKRP: 1.0 has id+mask, 1.1+ inserts button before
// the repeat count, 1.2+ adds the repeat count.
func EncodeKeyRepeat(v Version, e KeyEvent) []byte {
	w := wire.NewWriter().PutUint16(e.ID).PutUint16(e.Mask)
	if !v.Less(Version{1, 1}) {
		w.PutUint16(e.Button)
	}
	if !v.Less(Version{1, 2}) {
		w.PutUint16(e.Count)
	}
	return w.Bytes()
}

// DecodeKeyRepeat decodes DKRP.
func DecodeKeyRepeat(v Version, body []byte) (KeyEvent, error) {
	r := wire.NewReader(body)
	var e KeyEvent
	var err error
	if e.ID, err = r.Uint16(); err != nil {
		return e, err
	}
	if e.Mask, err = r.Uint16(); err != nil {
		return e, err
	}
	if !v.Less(Version{1, 1}) {
		if e.Button, err = r.Uint16(); err != nil {
			return e, err
		}
	}
	if !v.Less(Version{1, 2}) {
		if e.Count, err = r.Uint16(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// MouseButtonEvent covers DMDN, DMUP.
type MouseButtonEvent struct {
	ID uint8
}

func EncodeMouseButton(e MouseButtonEvent) []byte {
	return wire.NewWriter().PutUint8(e.ID).Bytes()
}

func DecodeMouseButton(body []byte) (MouseButtonEvent, error) {
	id, err := wire.NewReader(body).Uint8()
	return MouseButtonEvent{ID: id}, err
}

// MouseMoveEvent covers DMMV (absolute) and DMRM (relative, 1.2+).
type MouseMoveEvent struct {
	X, Y int16
}

func EncodeMouseMove(e MouseMoveEvent) []byte {
	return wire.NewWriter().PutUint16(uint16(e.X)).PutUint16(uint16(e.Y)).Bytes()
}

func DecodeMouseMove(body []byte) (MouseMoveEvent, error) {
	r := wire.NewReader(body)
	x, err := r.Uint16()
	if err != nil {
		return MouseMoveEvent{}, err
	}
	y, err := r.Uint16()
	if err != nil {
		return MouseMoveEvent{}, err
	}
	return MouseMoveEvent{X: int16(x), Y: int16(y)}, nil
}

// MouseWheelEvent covers DMWM (1.3+).
type MouseWheelEvent struct {
	DX, DY int16
}

func EncodeMouseWheel(e MouseWheelEvent) []byte {
	return wire.NewWriter().PutUint16(uint16(e.DX)).PutUint16(uint16(e.DY)).Bytes()
}

func DecodeMouseWheel(body []byte) (MouseWheelEvent, error) {
	r := wire.NewReader(body)
	dx, err := r.Uint16()
	if err != nil {
		return MouseWheelEvent{}, err
	}
	dy, err := r.Uint16()
	if err != nil {
		return MouseWheelEvent{}, err
	}
	return MouseWheelEvent{DX: int16(dx), DY: int16(dy)}, nil
}

// EnterEvent is CINN: enter screen at (X, Y) with sequence Seq and the
// currently-down modifier mask.
type EnterEvent struct {
	X, Y     uint16
	Seq      uint32
	Modifier uint16
}

func EncodeEnter(e EnterEvent) []byte {
	return wire.NewWriter().PutUint16(e.X).PutUint16(e.Y).PutUint32(e.Seq).PutUint16(e.Modifier).Bytes()
}

func DecodeEnter(body []byte) (EnterEvent, error) {
	r := wire.NewReader(body)
	var e EnterEvent
	var err error
	if e.X, err = r.Uint16(); err != nil {
		return e, err
	}
	if e.Y, err = r.Uint16(); err != nil {
		return e, err
	}
	if e.Seq, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.Modifier, err = r.Uint16(); err != nil {
		return e, err
	}
	return e, nil
}

// ScreenInfo is DINF's payload: the client's reported screen geometry, jump
// zone size, and current local cursor position.
type ScreenInfo struct {
	OriginX, OriginY int16
	Width, Height    int16
	JumpZone         int16
	CursorX, CursorY int16
}

func EncodeScreenInfo(s ScreenInfo) []byte {
	return wire.NewWriter().
		PutUint16(uint16(s.OriginX)).PutUint16(uint16(s.OriginY)).
		PutUint16(uint16(s.Width)).PutUint16(uint16(s.Height)).
		PutUint16(uint16(s.JumpZone)).
		PutUint16(uint16(s.CursorX)).PutUint16(uint16(s.CursorY)).
		Bytes()
}

func DecodeScreenInfo(body []byte) (ScreenInfo, error) {
	r := wire.NewReader(body)
	vals := make([]int16, 7)
	for i := range vals {
		u, err := r.Uint16()
		if err != nil {
			return ScreenInfo{}, err
		}
		vals[i] = int16(u)
	}
	return ScreenInfo{
		OriginX: vals[0], OriginY: vals[1],
		Width: vals[2], Height: vals[3],
		JumpZone: vals[4],
		CursorX:  vals[5], CursorY: vals[6],
	}, nil
}

// ClipboardGrab is CCLP: id is the selection slot, seq is the new generation.
type ClipboardGrab struct {
	ID  ClipboardSelection
	Seq uint32
}

func EncodeClipboardGrab(g ClipboardGrab) []byte {
	return wire.NewWriter().PutUint8(uint8(g.ID)).PutUint32(g.Seq).Bytes()
}

func DecodeClipboardGrab(body []byte) (ClipboardGrab, error) {
	r := wire.NewReader(body)
	id, err := r.Uint8()
	if err != nil {
		return ClipboardGrab{}, err
	}
	seq, err := r.Uint32()
	if err != nil {
		return ClipboardGrab{}, err
	}
	return ClipboardGrab{ID: ClipboardSelection(id), Seq: seq}, nil
}

// ClipboardData is DCLP: the marshalled clipboard.Clipboard for selection ID at
// generation Seq.
type ClipboardData struct {
	ID   ClipboardSelection
	Seq  uint32
	Data []byte
}

func EncodeClipboardData(d ClipboardData) []byte {
	return wire.NewWriter().PutUint8(uint8(d.ID)).PutUint32(d.Seq).PutBytes(d.Data).Bytes()
}

func DecodeClipboardData(body []byte) (ClipboardData, error) {
	r := wire.NewReader(body)
	id, err := r.Uint8()
	if err != nil {
		return ClipboardData{}, err
	}
	seq, err := r.Uint32()
	if err != nil {
		return ClipboardData{}, err
	}
	data, err := r.Bytes()
	if err != nil {
		return ClipboardData{}, err
	}
	return ClipboardData{ID: ClipboardSelection(id), Seq: seq, Data: append([]byte(nil), data...)}, nil
}

// ScreensaverEvent is CSEC.
type ScreensaverEvent struct {
	On bool
}

func EncodeScreensaver(e ScreensaverEvent) []byte {
	v := uint8(0)
	if e.On {
		v = 1
	}
	return wire.NewWriter().PutUint8(v).Bytes()
}

func DecodeScreensaver(body []byte) (ScreensaverEvent, error) {
	v, err := wire.NewReader(body).Uint8()
	return ScreensaverEvent{On: v != 0}, err
}

// Hello is the handshake message both peers open with: "Barrier" + version,
// plus the client's name on the reply leg.
type Hello struct {
	Version Version
	Name    string // empty on the server's opening hello
}

func EncodeHello(h Hello) []byte {
	w := wire.NewWriter().PutUint16(h.Version.Major).PutUint16(h.Version.Minor)
	if h.Name != "" {
		w.PutString(h.Name)
	}
	return append([]byte(HelloMagic), w.Bytes()...)
}

// DecodeHello parses a full hello frame (including the "Barrier" magic,
// which is not length/code-framed the way other messages are).
func DecodeHello(raw []byte, withName bool) (Hello, error) {
	magic := []byte(HelloMagic)
	if len(raw) < len(magic) || string(raw[:len(magic)]) != HelloMagic {
		return Hello{}, fmt.Errorf("%w: missing hello magic", wire.ErrMalformedFrame)
	}
	r := wire.NewReader(raw[len(magic):])
	var h Hello
	var err error
	if h.Version.Major, err = r.Uint16(); err != nil {
		return h, err
	}
	if h.Version.Minor, err = r.Uint16(); err != nil {
		return h, err
	}
	if withName {
		if h.Name, err = r.String(); err != nil {
			return h, err
		}
	}
	return h, nil
}

// TryDecodeHello incrementally parses a hello-shaped message (the server's
// opening greeting, or the client's name-bearing reply) from the front of
// buf without requiring the whole message to be buffered yet. Unlike every
// other message on the wire, hellos carry no outer length prefix (see
// DecodeHello's comment); they are self-describing instead — fixed-width
// magic and version fields followed, when withName is set, by a length-
// prefixed name — so the caller must know ahead of time whether a name
// field is expected (true when reading the client's reply, false when
// reading the server's opening hello).
//
// It returns ok=false (with a nil error) when buf does not yet hold a
// complete hello; callers should wait for more bytes and retry, exactly
// like wire.ReadFrame's ErrNeedMore contract but expressed as a bool since
// "not enough yet" is not a terminal condition worth allocating an error for
// on what is normally the hottest of all decode paths for a freshly opened
// connection.
func TryDecodeHello(buf []byte, withName bool) (Hello, int, bool, error) {
	magic := []byte(HelloMagic)
	fixed := len(magic) + 4
	if len(buf) < fixed {
		return Hello{}, 0, false, nil
	}
	if string(buf[:len(magic)]) != HelloMagic {
		return Hello{}, 0, false, fmt.Errorf("%w: missing hello magic", wire.ErrMalformedFrame)
	}
	h := Hello{Version: Version{
		Major: binary.BigEndian.Uint16(buf[len(magic) : len(magic)+2]),
		Minor: binary.BigEndian.Uint16(buf[len(magic)+2 : len(magic)+4]),
	}}
	consumed := fixed
	if !withName {
		return h, consumed, true, nil
	}
	if len(buf) < consumed+4 {
		return Hello{}, 0, false, nil
	}
	nameLen := binary.BigEndian.Uint32(buf[consumed : consumed+4])
	consumed += 4
	if uint64(len(buf)) < uint64(consumed)+uint64(nameLen) {
		return Hello{}, 0, false, nil
	}
	h.Name = string(buf[consumed : consumed+int(nameLen)])
	consumed += int(nameLen)
	return h, consumed, true, nil
}

// DragFileEntry is one record inside a DFTR payload.
type DragFileEntry struct {
	Name string
	Size int64
}

// FileChunk is DFCR: Mark selects start/data/end. For FileChunkStart, Data
// is the decimal ASCII total size; for FileChunkData it is a raw payload
// fragment; for FileChunkEnd it is empty.
type FileChunk struct {
	Mark FileChunkMark
	Data []byte
}

func EncodeFileChunk(c FileChunk) []byte {
	return wire.NewWriter().PutUint8(uint8(c.Mark)).PutBytes(c.Data).Bytes()
}

func DecodeFileChunk(body []byte) (FileChunk, error) {
	r := wire.NewReader(body)
	mark, err := r.Uint8()
	if err != nil {
		return FileChunk{}, err
	}
	if mark > uint8(FileChunkEnd) {
		return FileChunk{}, fmt.Errorf("%w: bad file chunk mark %d", wire.ErrMalformedFrame, mark)
	}
	data, err := r.Bytes()
	if err != nil {
		return FileChunk{}, err
	}
	c := FileChunk{Mark: FileChunkMark(mark), Data: append([]byte(nil), data...)}
	if c.Mark == FileChunkStart {
		// The start chunk's payload is exactly the transfer's total size in
		// decimal ASCII; anything else is rejected rather than parsed
		// leniently.
		if len(c.Data) == 0 {
			return FileChunk{}, fmt.Errorf("%w: empty file transfer size", wire.ErrMalformedFrame)
		}
		if _, err := strconv.ParseUint(string(c.Data), 10, 64); err != nil {
			return FileChunk{}, fmt.Errorf("%w: file transfer size %q is not decimal", wire.ErrMalformedFrame, c.Data)
		}
	}
	return c, nil
}
