// Package event implements the single-threaded event dispatch core: typed
// events, a thread-safe multi-producer queue, a registry of per-target
// handlers, and a timer heap integrated into the same wait primitive.
package event

import "fmt"

// Type tags an Event with what kind of thing happened.
type Type int

const (
	// Unknown, System and TimerFired are synthetic: AddEvent refuses to
	// queue them directly. TimerFired events are produced internally by the
	// loop when a Timer expires.
	Unknown Type = iota
	System
	TimerFired

	// Wildcard catches any event not otherwise handled for a target.
	Wildcard

	Quit

	// ByteStream lifecycle events.
	InputReady
	InputShutdown
	OutputShutdown
	OutputError
	OutputFlushed
	Disconnected
	Connected
	ConnectionFailed

	// Screen capability events.
	ScreenEntered
	ScreenLeft
	MotionOnPrimary
	MotionOnSecondary
	ButtonDown
	ButtonUp
	Wheel
	KeyDown
	KeyUp
	KeyRepeat

	// Clipboard events.
	ClipboardGrabbed
	ClipboardChanged

	// Remaining protocol-level passthrough events that don't have a richer
	// native representation of their own (CSEC, DFTR, DFCR, CROP/DSOP).
	ScreensaverChanged
	DragInfoReceived
	FileChunkReceived
	OptionsChanged
)

func (t Type) String() string {
	switch t {
	case Unknown:
		return "Unknown"
	case System:
		return "System"
	case TimerFired:
		return "TimerFired"
	case Wildcard:
		return "Wildcard"
	case Quit:
		return "Quit"
	case InputReady:
		return "InputReady"
	case InputShutdown:
		return "InputShutdown"
	case OutputShutdown:
		return "OutputShutdown"
	case OutputError:
		return "OutputError"
	case OutputFlushed:
		return "OutputFlushed"
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case ConnectionFailed:
		return "ConnectionFailed"
	case ScreenEntered:
		return "ScreenEntered"
	case ScreenLeft:
		return "ScreenLeft"
	case MotionOnPrimary:
		return "MotionOnPrimary"
	case MotionOnSecondary:
		return "MotionOnSecondary"
	case ButtonDown:
		return "ButtonDown"
	case ButtonUp:
		return "ButtonUp"
	case Wheel:
		return "Wheel"
	case KeyDown:
		return "KeyDown"
	case KeyUp:
		return "KeyUp"
	case KeyRepeat:
		return "KeyRepeat"
	case ClipboardGrabbed:
		return "ClipboardGrabbed"
	case ClipboardChanged:
		return "ClipboardChanged"
	case ScreensaverChanged:
		return "ScreensaverChanged"
	case DragInfoReceived:
		return "DragInfoReceived"
	case FileChunkReceived:
		return "FileChunkReceived"
	case OptionsChanged:
		return "OptionsChanged"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Flags are bit flags carried by an Event.
type Flags uint8

// DeliverImmediately bypasses the queue entirely: AddEvent dispatches on the
// caller's own goroutine and does not take ownership of e.Data.
const DeliverImmediately Flags = 1 << 0

// KeyInfo is the EventData payload for KeyDown/KeyUp/KeyRepeat.
type KeyInfo struct {
	ID, Mask, Button, Count uint16
}

// ButtonInfo is the EventData payload for ButtonDown/ButtonUp.
type ButtonInfo struct {
	ID uint8
}

// MotionInfo is the EventData payload for MotionOnPrimary/MotionOnSecondary.
type MotionInfo struct {
	X, Y int32
}

// WheelInfo is the EventData payload for Wheel.
type WheelInfo struct {
	DX, DY int32
}

// TimerInfo is the EventData payload the loop attaches to a dispatched
// TimerFired event. The loop always sets Count to 1: a timer the loop fell
// behind on fires once and is re-armed with a full period, so missed
// periods are not counted.
type TimerInfo struct {
	Count uint32
}

// ConnectionFailureInfo is the EventData payload for ConnectionFailed.
type ConnectionFailureInfo struct {
	Reason string
}

// Event is the tagged value dispatched through the loop: {type, target,
// flags, data}. Data's concrete type depends on Type; see the *Info structs
// above. A nil Data is valid for events that carry no payload.
type Event struct {
	Type   Type
	Target TargetID
	Flags  Flags
	Data   any
}

// Immediate reports whether e should bypass the queue.
func (e Event) Immediate() bool { return e.Flags&DeliverImmediately != 0 }

// synthetic reports whether e's type is one add_event refuses to queue.
func (e Event) synthetic() bool {
	return e.Type == Unknown || e.Type == System || e.Type == TimerFired
}
