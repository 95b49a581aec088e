package core

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind discriminates the closed set of event variants a turn can emit.
type EventKind string

const (
	// EventPartialOutput carries a streamed fragment of assistant text.
	EventPartialOutput EventKind = "partial_output"
	// EventToolCallRequested announces a dispatched tool call. For
	// client-delegated tools this is the signal that the caller must
	// execute the tool and post a result back.
	EventToolCallRequested EventKind = "tool_call_requested"
	// EventToolCallResult carries the outcome of a previously requested call.
	EventToolCallResult EventKind = "tool_call_result"
	// EventHandoff records a transfer of the active-agent role.
	EventHandoff EventKind = "handoff"
	// EventTurnCompleted is the terminal success event carrying the final answer.
	EventTurnCompleted EventKind = "turn_completed"
	// EventTurnFailed is the terminal failure event.
	EventTurnFailed EventKind = "turn_failed"
)

// Handoff describes an active-agent transfer within a turn.
type Handoff struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Event is the immutable, ordered unit of turn output. Seq is assigned by the
// turn's event stream on append: sequence numbers are strictly increasing and
// gapless within a turn, and are the single source of truth for causal order.
// Exactly one payload field is populated, matching Kind.
type Event struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id"`
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Text    string      `json:"text,omitempty"`
	Call    *ToolCall   `json:"call,omitempty"`
	Result  *ToolResult `json:"result,omitempty"`
	Handoff *Handoff    `json:"handoff,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// NewEventID generates a sortable unique identifier for events.
func NewEventID() string { return ulid.Make().String() }

func newEvent(turnID, agent string, kind EventKind) Event {
	return Event{
		ID:        NewEventID(),
		TurnID:    turnID,
		Kind:      kind,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
	}
}

// NewPartialOutputEvent wraps a streamed text fragment produced by an agent.
func NewPartialOutputEvent(turnID, agent, text string) Event {
	e := newEvent(turnID, agent, EventPartialOutput)
	e.Text = text
	return e
}

// NewToolCallRequestedEvent announces dispatch of a single tool call.
func NewToolCallRequestedEvent(turnID, agent string, call ToolCall) Event {
	e := newEvent(turnID, agent, EventToolCallRequested)
	c := call
	e.Call = &c
	return e
}

// NewToolCallResultEvent records the outcome of a dispatched call.
func NewToolCallResultEvent(turnID, agent string, result ToolResult) Event {
	e := newEvent(turnID, agent, EventToolCallResult)
	r := result
	e.Result = &r
	return e
}

// NewHandoffEvent records a validated transfer of the active-agent role.
func NewHandoffEvent(turnID, from, to string) Event {
	e := newEvent(turnID, from, EventHandoff)
	e.Handoff = &Handoff{From: from, To: to}
	return e
}

// NewTurnCompletedEvent is the terminal success event carrying the final answer.
func NewTurnCompletedEvent(turnID, agent, answer string) Event {
	e := newEvent(turnID, agent, EventTurnCompleted)
	e.Text = answer
	return e
}

// NewTurnFailedEvent is the terminal failure event.
func NewTurnFailedEvent(turnID, agent string, failure Failure) Event {
	e := newEvent(turnID, agent, EventTurnFailed)
	f := failure
	e.Failure = &f
	return e
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Kind == EventTurnCompleted || e.Kind == EventTurnFailed
}
