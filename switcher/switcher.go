// Package switcher implements the server-side switching boundary:
// tracking which client screen is currently active, deciding
// when the cursor crosses an edge into a neighbour, and sequencing the
// CINN/COUT messages (and afterwards, every forwarded input event) that
// follow a switch. Edge-to-neighbour topology lookup is consumed here as a
// pure function; the switcher never implements it.
package switcher

import (
	"sync"

	"github.com/input-leap/input-leap-sub002/conn"
	"github.com/input-leap/input-leap-sub002/proto"
)

// Edge names one side of a screen's bounding box.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeLeft
	EdgeRight
	EdgeTop
	EdgeBottom
)

func (e Edge) String() string {
	switch e {
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	default:
		return "none"
	}
}

// NeighbourFunc resolves (screen_name, edge, x, y) to the neighbouring
// screen and the coordinates the cursor should enter it at. ok is false
// when no neighbour is configured for that edge, in which case the cursor
// stays put ("wrap" and "no neighbour" behaviours are both expressed by
// the function itself; the switcher does not special-case either).
type NeighbourFunc func(screenName string, edge Edge, x, y int32) (neighbour string, entryX, entryY int32, ok bool)

// Shape is the minimal screen geometry the switcher needs to detect edge
// crossings; it mirrors the fields of screen.Shape without importing that
// package, since the switcher only ever needs width/height/origin.
type Shape struct {
	X, Y, Width, Height int32
}

// Client is one registered destination the switcher can make active: a
// named screen with the connection used to reach it.
type Client struct {
	Name string
	Conn *conn.Connection
}

// Switcher is the server-side routing boundary: it owns no screen driver
// and no topology data of its own, only the current active client, the
// CINN sequence counter, and the neighbour function it was built with.
type Switcher struct {
	mu                   sync.Mutex
	primaryName          string
	neighbour            NeighbourFunc
	clients              map[string]*Client
	active               string
	seq                  uint32
	broadcastScreensaver bool
}

// New builds a Switcher for a server whose own screen is named
// primaryName, resolving edge crossings with neighbour.
func New(primaryName string, neighbour NeighbourFunc) *Switcher {
	return &Switcher{
		primaryName: primaryName,
		neighbour:   neighbour,
		clients:     make(map[string]*Client),
	}
}

// SetBroadcastScreensaver controls whether SetScreensaverActive sends CSEC
// to every registered client instead of only the active one.
func (s *Switcher) SetBroadcastScreensaver(on bool) {
	s.mu.Lock()
	s.broadcastScreensaver = on
	s.mu.Unlock()
}

// Register makes a client screen reachable as a switch destination.
func (s *Switcher) Register(name string, c *conn.Connection) {
	s.mu.Lock()
	s.clients[name] = &Client{Name: name, Conn: c}
	s.mu.Unlock()
}

// Unregister removes a client; if it was active the server's own screen
// becomes active, the same fall-back a faulted connection gets.
func (s *Switcher) Unregister(name string) {
	s.mu.Lock()
	delete(s.clients, name)
	if s.active == name {
		s.active = ""
	}
	s.mu.Unlock()
}

// Active reports the name of the currently active client, or "" when the
// server's own (primary) screen has the input.
func (s *Switcher) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// detectEdge reports which edge of shape (x, y) has crossed, if any. A
// position still strictly inside the rectangle crosses nothing.
func detectEdge(shape Shape, x, y int32) Edge {
	switch {
	case x < shape.X:
		return EdgeLeft
	case x >= shape.X+shape.Width:
		return EdgeRight
	case y < shape.Y:
		return EdgeTop
	case y >= shape.Y+shape.Height:
		return EdgeBottom
	default:
		return EdgeNone
	}
}

// OnPrimaryMotion is called with every motion report from the primary
// screen. If (x, y) has crossed an edge of shape and the neighbour
// function resolves a destination, it switches: COUT to whichever client
// was previously active (if any), CINN to the new one at the resolved
// entry point carrying mask, and the new client becomes active.
func (s *Switcher) OnPrimaryMotion(shape Shape, x, y int32, mask uint16) error {
	edge := detectEdge(shape, x, y)
	if edge == EdgeNone {
		return nil
	}

	s.mu.Lock()
	neighbourName, entryX, entryY, ok := s.neighbour(s.primaryName, edge, x, y)
	if !ok {
		s.mu.Unlock()
		return nil
	}
	prev := s.active
	var prevConn, nextConn *conn.Connection
	if prev != "" {
		if c, found := s.clients[prev]; found {
			prevConn = c.Conn
		}
	}
	next, found := s.clients[neighbourName]
	if !found {
		s.mu.Unlock()
		return nil
	}
	nextConn = next.Conn
	s.seq++
	seq := s.seq
	s.active = neighbourName
	s.mu.Unlock()

	if prevConn != nil && prev != neighbourName {
		if err := prevConn.SendLeave(); err != nil {
			return err
		}
	}
	return nextConn.SendEnter(proto.EnterEvent{X: uint16(entryX), Y: uint16(entryY), Seq: seq, Modifier: mask})
}

// activeConn returns the Connection currently receiving forwarded input,
// or nil when the primary screen itself is active.
func (s *Switcher) activeConn() *conn.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return nil
	}
	c, ok := s.clients[s.active]
	if !ok {
		return nil
	}
	return c.Conn
}

// ForwardKeyDown/Up/Repeat, ForwardMouseButton/Move/Wheel route one input
// event to whichever client is currently active; they are no-ops when the
// server's own screen has the input, since that input never left it.

func (s *Switcher) ForwardKeyDown(e proto.KeyEvent) error {
	if c := s.activeConn(); c != nil {
		return c.SendKeyDown(e)
	}
	return nil
}

func (s *Switcher) ForwardKeyUp(e proto.KeyEvent) error {
	if c := s.activeConn(); c != nil {
		return c.SendKeyUp(e)
	}
	return nil
}

func (s *Switcher) ForwardKeyRepeat(e proto.KeyEvent) error {
	if c := s.activeConn(); c != nil {
		return c.SendKeyRepeat(e)
	}
	return nil
}

func (s *Switcher) ForwardMouseButton(down bool, e proto.MouseButtonEvent) error {
	if c := s.activeConn(); c != nil {
		return c.SendMouseButton(down, e)
	}
	return nil
}

func (s *Switcher) ForwardMouseMove(e proto.MouseMoveEvent) error {
	if c := s.activeConn(); c != nil {
		return c.SendMouseMove(e)
	}
	return nil
}

func (s *Switcher) ForwardMouseWheel(e proto.MouseWheelEvent) error {
	if c := s.activeConn(); c != nil {
		return c.SendMouseWheel(e)
	}
	return nil
}

func (s *Switcher) ForwardClipboardGrab(id proto.ClipboardSelection, seq uint32) error {
	if c := s.activeConn(); c != nil {
		return c.SendClipboardGrab(id, seq)
	}
	return nil
}

func (s *Switcher) ForwardClipboardData(id proto.ClipboardSelection, seq uint32, data []byte) error {
	if c := s.activeConn(); c != nil {
		return c.SendClipboardData(id, seq, data)
	}
	return nil
}

// SetScreensaverActive sends CSEC to the active client, or, when
// SetBroadcastScreensaver(true) has been called, to every registered
// client.
func (s *Switcher) SetScreensaverActive(on bool) error {
	s.mu.Lock()
	broadcast := s.broadcastScreensaver
	var targets []*conn.Connection
	if broadcast {
		for _, c := range s.clients {
			targets = append(targets, c.Conn)
		}
	} else if active, ok := s.clients[s.active]; ok {
		targets = append(targets, active.Conn)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.SendScreensaver(on); err != nil {
			return err
		}
	}
	return nil
}
