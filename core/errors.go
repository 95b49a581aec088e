package core

import "errors"

// Caller protocol errors. These are reported to the caller without mutating
// any turn state.
var (
	// ErrTurnAlreadyActive is returned when starting a turn on a conversation
	// that already has one in flight.
	ErrTurnAlreadyActive = errors.New("conversation already has an active turn")
	// ErrTurnAlreadyTerminal rejects external input referencing a finished turn.
	ErrTurnAlreadyTerminal = errors.New("turn already reached a terminal state")
	// ErrUnknownTurn rejects input referencing a turn identifier never issued.
	ErrUnknownTurn = errors.New("unknown turn")
	// ErrUnknownCall rejects a resolution for a call not in the pending table.
	ErrUnknownCall = errors.New("unknown tool call")
	// ErrDuplicateResolution rejects a second resolution of the same call.
	ErrDuplicateResolution = errors.New("tool call already resolved")
)

// Configuration errors, fatal at startup.
var (
	// ErrUnknownAgent is returned for an agent identifier absent from the registry.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrUnknownTool is returned for a tool name absent from the registry.
	ErrUnknownTool = errors.New("unknown tool")
)

// FailureKind classifies terminal turn failures.
type FailureKind string

const (
	// FailureInvalidHandoff: the agent requested a handoff target outside its
	// allowed set.
	FailureInvalidHandoff FailureKind = "invalid_handoff"
	// FailureCancelled: the caller cancelled the turn before completion.
	FailureCancelled FailureKind = "cancelled"
	// FailureInternal: agent capability failure or another unexpected error.
	FailureInternal FailureKind = "internal"
)

// Failure is the payload of a turn_failed event.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f Failure) Error() string { return string(f.Kind) + ": " + f.Message }
