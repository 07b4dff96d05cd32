package conn

import "github.com/input-leap/input-leap-sub002/clipboard"

// clipboardSlot is the per-selection receive state a connection endpoint
// keeps: the last accepted sequence number and the current value.
type clipboardSlot struct {
	value       *clipboard.Clipboard
	lastSeenSeq uint32
	haveSeenAny bool
	pendingGrab bool // we've sent/received CCLP and are waiting on DCLP per format
}

func newClipboardSlots() [4]clipboardSlot {
	var slots [4]clipboardSlot
	for i := range slots {
		slots[i] = clipboardSlot{value: clipboard.New()}
	}
	return slots
}

// acceptGrab applies the clipboard sequencing rule: updates with
// seq <= lastSeenSeq are discarded. It returns false when seq must be
// ignored.
func (s *clipboardSlot) acceptGrab(seq uint32) bool {
	if s.haveSeenAny && seq <= s.lastSeenSeq {
		return false
	}
	s.lastSeenSeq = seq
	s.haveSeenAny = true
	s.pendingGrab = true
	return true
}

// acceptData applies a non-decreasing check to a DCLP message: unlike a
// grab, data may carry the same seq as the last recorded one, since data
// can arrive for a grab this side already recorded via CCLP.
func (s *clipboardSlot) acceptData(seq uint32) bool {
	if s.haveSeenAny && seq < s.lastSeenSeq {
		return false
	}
	s.lastSeenSeq = seq
	s.haveSeenAny = true
	s.pendingGrab = false
	return true
}
