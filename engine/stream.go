package engine

import (
	"sync"

	"github.com/seafield/agentrelay/core"
)

// liveHeadroom is the channel buffer reserved for live events beyond the
// replayed history when a subscriber attaches.
const liveHeadroom = 256

// Stream is the ordered, replayable event log of one turn. Append assigns
// gapless, strictly increasing sequence numbers; subscribers replay any
// buffered prefix and then follow live. The log is retained for the lifetime
// of the turn so a reconnecting subscriber can resume from its last
// acknowledged sequence number.
type Stream struct {
	mu      sync.Mutex
	turnID  string
	events  []core.Event
	subs    map[uint64]chan core.Event
	nextSub uint64
	closed  bool
}

// NewStream creates an empty event log for a turn.
func NewStream(turnID string) *Stream {
	return &Stream{turnID: turnID, subs: make(map[uint64]chan core.Event)}
}

// Append assigns the next sequence number and fans the event out to all
// subscribers. Appending after a terminal event is a programming error and is
// dropped. A subscriber that cannot keep up is disconnected rather than
// blocking the turn; it may re-subscribe from its last acknowledged sequence.
func (s *Stream) Append(ev core.Event) core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ev
	}
	ev.Seq = uint64(len(s.events)) + 1
	s.events = append(s.events, ev)
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop to keep the turn progressing.
			close(ch)
			delete(s.subs, id)
		}
	}
	if ev.Terminal() {
		s.closed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
	}
	return ev
}

// Subscribe returns a channel yielding every event with Seq > afterSeq in
// order, replaying buffered history first and then following live. The
// channel is closed after the terminal event (or when the returned
// unsubscribe function is called).
func (s *Stream) Subscribe(afterSeq uint64) (<-chan core.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backlog []core.Event
	if afterSeq < uint64(len(s.events)) {
		backlog = s.events[afterSeq:]
	}
	ch := make(chan core.Event, len(backlog)+liveHeadroom)
	// Channel is sized to fit the whole backlog, so replay never blocks
	// while holding the mutex.
	for _, ev := range backlog {
		ch <- ev
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, unsub
}

// Events returns a snapshot copy of the full log so far.
func (s *Stream) Events() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Event, len(s.events))
	copy(out, s.events)
	return out
}

// LastSeq returns the highest assigned sequence number, zero when empty.
func (s *Stream) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.events))
}
