package screen

import (
	"sync"

	"github.com/input-leap/input-leap-sub002/clipboard"
	"github.com/input-leap/input-leap-sub002/proto"
)

// Fake is an in-memory Screen: no display is touched, every fake_* call
// just records its arguments and every getter returns a settable value.
// It is exercised directly by this package's tests.
type Fake struct {
	mu sync.Mutex

	shape       Shape
	cursorX     int32
	cursorY     int32
	centerX     int32
	centerY     int32
	entered     bool
	leaveOK     bool
	clipboards  [4]*clipboard.Clipboard
	options     Options
	lastOptions Options

	KeyDowns   []KeyCall
	KeyRepeats []KeyRepeatCall
	KeyUps     []KeyCall
	Buttons    []ButtonCall
	Moves      []PointCall
	RelMoves   []PointCall
	Wheels     []PointCall
	Grabs      []proto.ClipboardSelection
}

// KeyCall records a FakeKeyDown/FakeKeyUp invocation.
type KeyCall struct{ ID, Mask, Button uint16 }

// KeyRepeatCall records a FakeKeyRepeat invocation.
type KeyRepeatCall struct {
	ID, Mask, Button, Count uint16
}

// ButtonCall records a FakeMouseButton invocation.
type ButtonCall struct {
	ID    uint8
	Press bool
}

// PointCall records a move/relative-move/wheel invocation.
type PointCall struct{ X, Y int32 }

// NewFake builds a Fake with the given screen shape and every clipboard
// slot initialised empty.
func NewFake(shape Shape) *Fake {
	f := &Fake{shape: shape, leaveOK: true}
	for i := range f.clipboards {
		f.clipboards[i] = clipboard.New()
	}
	return f
}

func (f *Fake) GetShape() (Shape, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shape, nil
}

// SetCursorPos lets tests move the fake cursor out from under GetCursorPos.
func (f *Fake) SetCursorPos(x, y int32) {
	f.mu.Lock()
	f.cursorX, f.cursorY = x, y
	f.mu.Unlock()
}

func (f *Fake) GetCursorPos() (int32, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursorX, f.cursorY, nil
}

// SetCursorCenter lets tests fix the value GetCursorCenter reports.
func (f *Fake) SetCursorCenter(x, y int32) {
	f.mu.Lock()
	f.centerX, f.centerY = x, y
	f.mu.Unlock()
}

func (f *Fake) GetCursorCenter() (int32, int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.centerX, f.centerY, nil
}

func (f *Fake) Enter(x, y int32, seq uint32, mask uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entered = true
	f.cursorX, f.cursorY = x, y
	return nil
}

// SetLeaveResult controls what Leave returns, mirroring a real driver that
// can refuse to relinquish input (e.g. a stuck modifier key).
func (f *Fake) SetLeaveResult(ok bool) {
	f.mu.Lock()
	f.leaveOK = ok
	f.mu.Unlock()
}

func (f *Fake) Leave() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaveOK {
		f.entered = false
	}
	return f.leaveOK, nil
}

// Entered reports whether Enter has been called without a matching
// successful Leave.
func (f *Fake) Entered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entered
}

func (f *Fake) FakeKeyDown(id, mask, button uint16) error {
	f.mu.Lock()
	f.KeyDowns = append(f.KeyDowns, KeyCall{id, mask, button})
	f.mu.Unlock()
	return nil
}

func (f *Fake) FakeKeyRepeat(id, mask, button, count uint16) error {
	f.mu.Lock()
	f.KeyRepeats = append(f.KeyRepeats, KeyRepeatCall{id, mask, button, count})
	f.mu.Unlock()
	return nil
}

func (f *Fake) FakeKeyUp(id, mask, button uint16) error {
	f.mu.Lock()
	f.KeyUps = append(f.KeyUps, KeyCall{id, mask, button})
	f.mu.Unlock()
	return nil
}

func (f *Fake) FakeMouseButton(id uint8, press bool) error {
	f.mu.Lock()
	f.Buttons = append(f.Buttons, ButtonCall{id, press})
	f.mu.Unlock()
	return nil
}

func (f *Fake) FakeMouseMove(x, y int32) error {
	f.mu.Lock()
	f.Moves = append(f.Moves, PointCall{x, y})
	f.cursorX, f.cursorY = x, y
	f.mu.Unlock()
	return nil
}

func (f *Fake) FakeMouseRelativeMove(dx, dy int32) error {
	f.mu.Lock()
	f.RelMoves = append(f.RelMoves, PointCall{dx, dy})
	f.cursorX += dx
	f.cursorY += dy
	f.mu.Unlock()
	return nil
}

func (f *Fake) FakeMouseWheel(dx, dy int32) error {
	f.mu.Lock()
	f.Wheels = append(f.Wheels, PointCall{dx, dy})
	f.mu.Unlock()
	return nil
}

func (f *Fake) GetClipboard(id proto.ClipboardSelection) (*clipboard.Clipboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) >= len(f.clipboards) {
		return nil, ErrInvalidSelection
	}
	return f.clipboards[id], nil
}

func (f *Fake) SetClipboard(id proto.ClipboardSelection, c *clipboard.Clipboard) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(id) >= len(f.clipboards) {
		return false, ErrInvalidSelection
	}
	f.clipboards[id] = c
	return true, nil
}

func (f *Fake) GrabClipboard(id proto.ClipboardSelection) error {
	f.mu.Lock()
	f.Grabs = append(f.Grabs, id)
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetOptions(opts Options) error {
	f.mu.Lock()
	f.lastOptions = opts
	f.options = opts
	f.mu.Unlock()
	return nil
}

func (f *Fake) ResetOptions() error {
	f.mu.Lock()
	f.options = nil
	f.mu.Unlock()
	return nil
}

// Options reports the last options map passed to SetOptions (nil after a
// ResetOptions).
func (f *Fake) Options() Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options
}

// LastOptions reports what SetOptions was most recently called with, even
// if ResetOptions has since cleared the active set.
func (f *Fake) LastOptions() Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptions
}

var _ Screen = (*Fake)(nil)
