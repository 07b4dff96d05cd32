// Package screen defines the platform capability interface for reading and
// driving a local display; the conn and switcher packages do not import it.
// No platform driver ships here — X11/Wayland/
// Quartz/Win32 key maps and cursor warp are explicitly out of scope — but a
// deterministic in-memory implementation (Fake) is provided for tests.
package screen

import (
	"github.com/input-leap/input-leap-sub002/clipboard"
	"github.com/input-leap/input-leap-sub002/event"
	"github.com/input-leap/input-leap-sub002/proto"
)

// Shape is the result of GetShape: the screen's origin and size.
type Shape struct {
	X, Y, Width, Height int32
}

// Options carries the subset of set_options/reset_options state the core
// passes through to the platform layer; the core never
// interprets these values itself.
type Options map[string]int32

// Screen is the platform capability interface. Every method
// that synthesises input or reads platform state is expected to return
// promptly — the core calls these directly from the event loop goroutine,
// never from the reactor.
type Screen interface {
	GetShape() (Shape, error)
	GetCursorPos() (x, y int32, err error)
	GetCursorCenter() (x, y int32, err error)

	Enter(x, y int32, seq uint32, mask uint16) error
	Leave() (bool, error)

	FakeKeyDown(id, mask, button uint16) error
	FakeKeyRepeat(id, mask, button, count uint16) error
	FakeKeyUp(id, mask, button uint16) error
	FakeMouseButton(id uint8, press bool) error
	FakeMouseMove(x, y int32) error
	FakeMouseRelativeMove(dx, dy int32) error
	FakeMouseWheel(dx, dy int32) error

	GetClipboard(id proto.ClipboardSelection) (*clipboard.Clipboard, error)
	SetClipboard(id proto.ClipboardSelection, c *clipboard.Clipboard) (bool, error)
	GrabClipboard(id proto.ClipboardSelection) error

	SetOptions(opts Options) error
	ResetOptions() error
}

// EventSink is the half of the Screen contract that runs the other
// direction: a driver reports locally-observed input by emitting Events
// onto the loop it was constructed with (screen-entered, screen-left,
// motion-on-primary, ...).
type EventSink interface {
	Emit(typ event.Type, data any)
}

// LoopSink adapts an event.Loop/event.Target pair to EventSink.
type LoopSink struct {
	Loop   *event.Loop
	Target *event.Target
}

// Emit implements EventSink.
func (s LoopSink) Emit(typ event.Type, data any) {
	if s.Loop == nil || s.Target == nil {
		return
	}
	s.Loop.AddEvent(event.Event{Type: typ, Target: s.Target.ID(), Data: data})
}
