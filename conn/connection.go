// Package conn implements the connection state machine: the
// version handshake, info exchange, heartbeat/keepalive, clipboard grab and
// chunking, and file-chunk framing, layered on a bytestream.ByteStream and
// driven either directly (PumpOnce, for tests and simple callers) or via an
// ioreactor.Job (for the full reactor-driven runtime).
package conn

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/input-leap/input-leap-sub002/bytestream"
	"github.com/input-leap/input-leap-sub002/clipboard"
	"github.com/input-leap/input-leap-sub002/event"
	"github.com/input-leap/input-leap-sub002/ioreactor"
	"github.com/input-leap/input-leap-sub002/proto"
	"github.com/input-leap/input-leap-sub002/wire"
)

// Connection is one end of the protocol link: either a server's view of one
// connected client, or a client's view of its one server. Application-level
// state (the negotiated version, clipboard slots, handshake phase) lives
// behind mu and is touched both by the I/O path (PumpOnce, run from the
// reactor) and by the heartbeat timer handler (run from the event loop).
// This is a deliberate, narrower exception to the "job callbacks must not
// touch application-level state" rule: the state a Connection guards is the
// protocol's own bookkeeping, not the switcher/screen-level state the event
// loop exclusively owns. Everything that crosses into that territory leaves
// this package as an Event on the loop instead of a direct field mutation.
type Connection struct {
	role   Role
	stream bytestream.ByteStream
	loop   *event.Loop
	target *event.Target
	cfg    Config
	now    func() time.Time
	log    *slog.Logger

	localVersion proto.Version
	localName    string
	localInfo    proto.ScreenInfo

	mu                  sync.Mutex
	state               State
	version             proto.Version
	peerName            string
	peerInfo            proto.ScreenInfo
	clipboards          [4]clipboardSlot
	rxBuf               []byte
	lastActivity        time.Time
	handshakeDeadlineAt time.Time
	heartbeatTimer      *event.Timer
	closed              bool
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithName sets the local side's name, sent as the client's hello-back.
func WithName(name string) Option {
	return func(c *Connection) { c.localName = name }
}

// WithLocalInfo sets the screen info this side reports via DINF.
func WithLocalInfo(info proto.ScreenInfo) Option {
	return func(c *Connection) { c.localInfo = info }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

// WithVersion overrides the local side's protocol version (defaults to
// proto.Current); mainly useful for exercising negotiation against an
// older peer in tests.
func WithVersion(v proto.Version) Option {
	return func(c *Connection) { c.localVersion = v }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// New builds a Connection around stream, registered on target within loop.
// Call Start to begin the handshake.
func New(role Role, stream bytestream.ByteStream, loop *event.Loop, target *event.Target, cfg Config, opts ...Option) *Connection {
	c := &Connection{
		role:         role,
		stream:       stream,
		loop:         loop,
		target:       target,
		cfg:          cfg,
		now:          time.Now,
		log:          slog.Default(),
		localVersion: proto.Current,
		clipboards:   newClipboardSlots(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if loop != nil && target != nil {
		loop.Register(target, event.TimerFired, func(e event.Event) { c.onTimerTick() })
	}
	return c
}

// State reports the current handshake/lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version reports the negotiated protocol version; zero value before the
// handshake completes.
func (c *Connection) Version() proto.Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// PeerName reports the remote side's reported name (set once the handshake
// completes the hello exchange).
func (c *Connection) PeerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerName
}

// Start begins the handshake: the server transmits its opening hello
// immediately; the client waits to receive one. The handshake deadline
// starts here.
func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.lastActivity = now
	c.handshakeDeadlineAt = now.Add(c.cfg.HandshakeDeadline)

	switch c.role {
	case RoleServer:
		c.state = SendHello
		if err := c.writeHelloLocked(proto.Hello{Version: c.localVersion}); err != nil {
			return err
		}
		c.state = AwaitHelloBack
	case RoleClient:
		c.state = AwaitHelloBack
	}
	return nil
}

// ArmHeartbeat starts the recurring heartbeat/deadline timer. Must be
// called after Start, and only once the event loop driving this
// Connection's target is running (or about to run).
func (c *Connection) ArmHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heartbeatTimer != nil {
		return
	}
	c.heartbeatTimer = &event.Timer{Period: c.cfg.HeartbeatRate, Target: c.target.ID()}
	c.loop.ArmTimer(c.heartbeatTimer)
}

// Job builds an ioreactor.Job that drives PumpOnce whenever the underlying
// stream becomes readable, for registration on a running ioreactor.Reactor.
func (c *Connection) Job() *ioreactor.Job {
	return &ioreactor.Job{
		Stream:    c.stream,
		WantsRead: true,
		Run: func(r ioreactor.Readiness) ioreactor.Result {
			if r.Err != nil {
				c.failLocked(r.Err)
				return ioreactor.Stop
			}
			if err := c.PumpOnce(); err != nil {
				c.failLocked(err)
				return ioreactor.Stop
			}
			if c.State() == Dead {
				return ioreactor.Stop
			}
			return ioreactor.Keep
		},
	}
}

// PumpOnce drains every byte currently available from the stream, parses as
// many complete messages as are now buffered, and handles each in order. It
// never blocks; callers drive it repeatedly (directly, or via Job()).
func (c *Connection) PumpOnce() error {
	buf := make([]byte, 64*1024)
	for {
		n, err := c.stream.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		c.mu.Lock()
		c.rxBuf = append(c.rxBuf, buf[:n]...)
		c.mu.Unlock()
	}

	for {
		c.mu.Lock()
		state := c.state
		role := c.role
		rx := c.rxBuf
		c.mu.Unlock()

		if state == Dead || state == Disconnecting {
			return nil
		}

		if state == AwaitHelloBack {
			withName := role == RoleServer
			h, consumed, ok, err := proto.TryDecodeHello(rx, withName)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			if !ok {
				return nil
			}
			c.mu.Lock()
			c.rxBuf = c.rxBuf[consumed:]
			c.mu.Unlock()
			if err := c.onHello(h); err != nil {
				return err
			}
			continue
		}

		f, consumed, err := wire.ReadFrame(rx)
		if errors.Is(err, wire.ErrNeedMore) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.mu.Lock()
		c.rxBuf = c.rxBuf[consumed:]
		c.lastActivity = c.now()
		c.mu.Unlock()

		if err := c.handleFrame(f); err != nil {
			return err
		}
	}
}

// negotiate applies the version resolution rule: if the peer is newer
// than us, we use our own (the "downgrade"); otherwise we speak the peer's
// version, since it must be no newer than ours to reach this branch.
func (c *Connection) negotiate(peer proto.Version) proto.Version {
	if c.localVersion.Less(peer) {
		return c.localVersion
	}
	return peer
}

func (c *Connection) onHello(h proto.Hello) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.role {
	case RoleClient:
		// h is the server's opening hello; reply with our version and name.
		c.version = c.negotiate(h.Version)
		// The reply always carries the %s name field, even for an empty
		// name: the server decodes it unconditionally.
		reply := append(proto.EncodeHello(proto.Hello{Version: c.localVersion}), wire.NewWriter().PutString(c.localName).Bytes()...)
		if _, err := c.stream.Write(reply); err != nil {
			return err
		}
		c.state = AwaitInfo
		return nil
	case RoleServer:
		// h is the client's hello-back, carrying its name.
		if h.Version.Major < 1 {
			c.sendLocked(proto.CodeErrorBadVersion, nil)
			c.state = Dead
			return fmt.Errorf("%w: client major %d", ErrBadVersion, h.Version.Major)
		}
		c.version = c.negotiate(h.Version)
		c.peerName = h.Name
		if err := c.sendLocked(proto.CodeQueryInfo, nil); err != nil {
			return err
		}
		c.state = AwaitInfo
		return nil
	}
	return nil
}

// handleFrame dispatches one decoded message by its code.
// Messages that belong to application-level concerns (key/mouse/wheel,
// enter/leave, clipboard, drag/file chunks) are translated into Events and
// handed to the event loop rather than acted on directly, keeping this
// package's own state limited to protocol bookkeeping.
func (c *Connection) handleFrame(f wire.Frame) error {
	code := wire.CodeString(f.Code)

	c.mu.Lock()
	state := c.state
	role := c.role
	version := c.version
	c.mu.Unlock()

	switch f.Code {
	case proto.CodeNoop:
		return nil

	case proto.CodeHeartbeat:
		if version.Less(proto.Version{Major: 1, Minor: 3}) && role == RoleClient {
			return c.send(proto.CodeHeartbeat, nil)
		}
		return nil

	case proto.CodeQueryInfo:
		if role != RoleClient || state != AwaitInfo {
			return nil
		}
		body := proto.EncodeScreenInfo(c.localInfo)
		return c.send(proto.CodeDeviceInfo, body)

	case proto.CodeDeviceInfo:
		if role != RoleServer {
			return nil
		}
		info, err := proto.DecodeScreenInfo(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.mu.Lock()
		c.peerInfo = info
		c.state = Connected
		c.mu.Unlock()
		if err := c.send(proto.CodeInfoAck, nil); err != nil {
			return err
		}
		c.emit(event.Connected, info)
		return nil

	case proto.CodeInfoAck:
		if role != RoleClient || state != AwaitInfo {
			return nil
		}
		c.mu.Lock()
		c.state = Connected
		c.mu.Unlock()
		c.emit(event.Connected, c.localInfo)
		return nil

	case proto.CodeEnter:
		e, err := proto.DecodeEnter(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.ScreenEntered, e)
		return nil

	case proto.CodeLeave:
		c.emit(event.ScreenLeft, nil)
		return nil

	case proto.CodeKeyDown, proto.CodeKeyUp, proto.CodeKeyRepeat:
		return c.handleKey(f.Code, version, f.Body)

	case proto.CodeMouseDown:
		m, err := proto.DecodeMouseButton(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.ButtonDown, event.ButtonInfo{ID: m.ID})
		return nil

	case proto.CodeMouseUp:
		m, err := proto.DecodeMouseButton(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.ButtonUp, event.ButtonInfo{ID: m.ID})
		return nil

	case proto.CodeMouseMove, proto.CodeMouseRelMove:
		m, err := proto.DecodeMouseMove(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.MotionOnSecondary, event.MotionInfo{X: int32(m.X), Y: int32(m.Y)})
		return nil

	case proto.CodeMouseWheel:
		w, err := proto.DecodeMouseWheel(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.Wheel, event.WheelInfo{DX: int32(w.DX), DY: int32(w.DY)})
		return nil

	case proto.CodeScreensaver:
		s, err := proto.DecodeScreensaver(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.ScreensaverChanged, s)
		return nil

	case proto.CodeClipboardGrab:
		return c.handleClipboardGrab(f.Body)

	case proto.CodeClipboardData:
		return c.handleClipboardData(f.Body)

	case proto.CodeDragInfo:
		files := proto.DecodeDragInfo(f.Body)
		c.emit(event.DragInfoReceived, files)
		return nil

	case proto.CodeFileChunk:
		chunk, err := proto.DecodeFileChunk(f.Body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.FileChunkReceived, chunk)
		return nil

	case proto.CodeClose:
		c.mu.Lock()
		c.state = Dead
		c.mu.Unlock()
		c.emit(event.Disconnected, nil)
		_ = c.stream.Close()
		return nil

	case proto.CodeErrorBusy, proto.CodeErrorBadVersion, proto.CodeErrorUnknown:
		c.mu.Lock()
		c.state = Dead
		c.mu.Unlock()
		c.emit(event.ConnectionFailed, event.ConnectionFailureInfo{Reason: code})
		_ = c.stream.Close()
		return nil

	case proto.CodeResetOptions, proto.CodeSetOptions:
		c.emit(event.OptionsChanged, f.Body)
		return nil

	default:
		// Unrecognised code after handshake: soft error, log and ignore
		// (forward compatibility).
		c.log.Debug("conn: ignoring unrecognised message code", "code", code)
		return nil
	}
}

func (c *Connection) handleKey(code [4]byte, version proto.Version, body []byte) error {
	switch code {
	case proto.CodeKeyDown:
		k, err := proto.DecodeKeyDown(version, body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.KeyDown, event.KeyInfo{ID: k.ID, Mask: k.Mask, Button: k.Button})
	case proto.CodeKeyUp:
		k, err := proto.DecodeKeyUp(version, body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.KeyUp, event.KeyInfo{ID: k.ID, Mask: k.Mask, Button: k.Button})
	case proto.CodeKeyRepeat:
		k, err := proto.DecodeKeyRepeat(version, body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		c.emit(event.KeyRepeat, event.KeyInfo{ID: k.ID, Mask: k.Mask, Button: k.Button, Count: k.Count})
	}
	return nil
}

// handleClipboardGrab applies the sequence-monotonicity rule
// and forwards accepted grabs as Events; stale or replayed sequences are
// silently dropped.
func (c *Connection) handleClipboardGrab(body []byte) error {
	g, err := proto.DecodeClipboardGrab(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if int(g.ID) >= len(c.clipboards) {
		return fmt.Errorf("%w: clipboard id %d", ErrProtocol, g.ID)
	}
	c.mu.Lock()
	accepted := c.clipboards[g.ID].acceptGrab(g.Seq)
	c.mu.Unlock()
	if !accepted {
		return nil
	}
	c.emit(event.ClipboardGrabbed, g)
	return nil
}

func (c *Connection) handleClipboardData(body []byte) error {
	d, err := proto.DecodeClipboardData(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if int(d.ID) >= len(c.clipboards) {
		return fmt.Errorf("%w: clipboard id %d", ErrProtocol, d.ID)
	}
	c.mu.Lock()
	slot := &c.clipboards[d.ID]
	accepted := slot.acceptData(d.Seq)
	if accepted {
		_ = slot.value.Unmarshal(d.Data, d.Seq)
	}
	c.mu.Unlock()
	if !accepted {
		return nil
	}
	c.emit(event.ClipboardChanged, d)
	return nil
}

// Clipboard returns a snapshot of the clipboard value currently held for
// selection id, or nil if id is out of range.
func (c *Connection) Clipboard(id proto.ClipboardSelection) *clipboard.Clipboard {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(id) >= len(c.clipboards) {
		return nil
	}
	return c.clipboards[id].value
}

// onTimerTick is the TimerFired handler registered on the Connection's
// target: it checks the handshake and silence deadlines and, for the
// protocol versions that call for it, sends a proactive heartbeat.
func (c *Connection) onTimerTick() {
	now := c.now()
	c.mu.Lock()
	state := c.state
	silence := now.Sub(c.lastActivity)
	handshaking := state != Connected && state != Disconnecting && state != Dead
	handshakeExpired := handshaking && !c.handshakeDeadlineAt.IsZero() && now.After(c.handshakeDeadlineAt)
	dead := state == Connected && silence > c.cfg.DeadlineDuration()
	shouldSend := state == Connected && (c.role == RoleServer || !c.version.Less(proto.Version{Major: 1, Minor: 3}))
	c.mu.Unlock()

	if handshakeExpired {
		_ = c.send(proto.CodeErrorBusy, nil)
		c.failLocked(fmt.Errorf("%w: not complete after %s", ErrBusy, c.cfg.HandshakeDeadline))
		return
	}
	if dead {
		c.failLocked(fmt.Errorf("conn: peer silent for %s", silence))
		return
	}
	if shouldSend {
		_ = c.send(proto.CodeHeartbeat, nil)
	}
}

func (c *Connection) emit(typ event.Type, data any) {
	if c.loop == nil || c.target == nil {
		return
	}
	c.loop.AddEvent(event.Event{Type: typ, Target: c.target.ID(), Data: data})
}

func (c *Connection) send(code [4]byte, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(code, body)
}

func (c *Connection) sendLocked(code [4]byte, body []byte) error {
	if c.state == Dead {
		return ErrClosed
	}
	var buf bytes.Buffer
	wire.BuildFrame(&buf, code, body)
	_, err := c.stream.Write(buf.Bytes())
	return err
}

func (c *Connection) writeHelloLocked(h proto.Hello) error {
	_, err := c.stream.Write(proto.EncodeHello(h))
	return err
}

// SendClipboardGrab sends CCLP for selection id at generation seq, bumping
// the local ownership record.
func (c *Connection) SendClipboardGrab(id proto.ClipboardSelection, seq uint32) error {
	c.mu.Lock()
	if int(id) < len(c.clipboards) {
		_ = c.clipboards[id].value.TakeOwnership(seq)
	}
	c.mu.Unlock()
	return c.send(proto.CodeClipboardGrab, proto.EncodeClipboardGrab(proto.ClipboardGrab{ID: id, Seq: seq}))
}

// SendClipboardData sends DCLP for selection id at generation seq.
func (c *Connection) SendClipboardData(id proto.ClipboardSelection, seq uint32, data []byte) error {
	return c.send(proto.CodeClipboardData, proto.EncodeClipboardData(proto.ClipboardData{ID: id, Seq: seq, Data: data}))
}

// SendEnter sends CINN: the client is now the active screen.
func (c *Connection) SendEnter(e proto.EnterEvent) error {
	return c.send(proto.CodeEnter, proto.EncodeEnter(e))
}

// SendLeave sends COUT: the client is no longer the active screen.
func (c *Connection) SendLeave() error {
	return c.send(proto.CodeLeave, nil)
}

// SendKeyDown forwards a key press, version-gating the wire layout.
func (c *Connection) SendKeyDown(e proto.KeyEvent) error {
	return c.send(proto.CodeKeyDown, proto.EncodeKeyDown(c.Version(), e))
}

// SendKeyUp forwards a key release, version-gating the wire layout.
func (c *Connection) SendKeyUp(e proto.KeyEvent) error {
	return c.send(proto.CodeKeyUp, proto.EncodeKeyUp(c.Version(), e))
}

// SendKeyRepeat forwards an auto-repeat, version-gating the wire layout.
func (c *Connection) SendKeyRepeat(e proto.KeyEvent) error {
	return c.send(proto.CodeKeyRepeat, proto.EncodeKeyRepeat(c.Version(), e))
}

// SendMouseButton forwards a mouse button transition.
func (c *Connection) SendMouseButton(down bool, e proto.MouseButtonEvent) error {
	code := proto.CodeMouseUp
	if down {
		code = proto.CodeMouseDown
	}
	return c.send(code, proto.EncodeMouseButton(e))
}

// SendMouseMove forwards an absolute mouse position.
func (c *Connection) SendMouseMove(e proto.MouseMoveEvent) error {
	return c.send(proto.CodeMouseMove, proto.EncodeMouseMove(e))
}

// SendMouseRelMove forwards a relative mouse delta. DMRM only exists from
// 1.2; against an older peer the call is a silent no-op, since there is no
// message the peer would understand.
func (c *Connection) SendMouseRelMove(e proto.MouseMoveEvent) error {
	if c.Version().Less(proto.Version{Major: 1, Minor: 2}) {
		return nil
	}
	return c.send(proto.CodeMouseRelMove, proto.EncodeMouseMove(e))
}

// SendMouseWheel forwards a scroll delta. DMWM only exists from 1.3; older
// peers silently receive nothing, like SendMouseRelMove.
func (c *Connection) SendMouseWheel(e proto.MouseWheelEvent) error {
	if c.Version().Less(proto.Version{Major: 1, Minor: 3}) {
		return nil
	}
	return c.send(proto.CodeMouseWheel, proto.EncodeMouseWheel(e))
}

// SendScreensaver forwards a screensaver activation/deactivation.
func (c *Connection) SendScreensaver(on bool) error {
	return c.send(proto.CodeScreensaver, proto.EncodeScreensaver(proto.ScreensaverEvent{On: on}))
}

// SendDragInfo sends DFTR describing the files about to be transferred.
func (c *Connection) SendDragInfo(files []proto.DragFileEntry) error {
	return c.send(proto.CodeDragInfo, proto.EncodeDragInfo(files))
}

// SendFileChunk sends one DFCR fragment.
func (c *Connection) SendFileChunk(chunk proto.FileChunk) error {
	return c.send(proto.CodeFileChunk, proto.EncodeFileChunk(chunk))
}

// Close sends CBYE (if still connected enough to try) and tears down the
// underlying stream.
func (c *Connection) Close() error {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	wasConnected := c.state == Connected
	if c.heartbeatTimer != nil && c.loop != nil {
		c.loop.CancelTimer(c.heartbeatTimer)
	}
	c.mu.Unlock()
	if already {
		return nil
	}
	if wasConnected {
		_ = c.send(proto.CodeClose, nil)
	}
	c.mu.Lock()
	c.state = Dead
	c.mu.Unlock()
	return c.stream.Close()
}

// failLocked transitions to Dead, emits ConnectionFailed, and closes the
// stream. Named "Locked" for symmetry with sendLocked even though it takes
// its own lock internally — it is always called from a context that does
// not already hold mu.
func (c *Connection) failLocked(err error) {
	c.mu.Lock()
	c.state = Dead
	c.mu.Unlock()
	c.emit(event.ConnectionFailed, event.ConnectionFailureInfo{Reason: err.Error()})
	_ = c.stream.Close()
}
