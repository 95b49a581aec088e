package core

import "github.com/google/uuid"

// ToolCall is a single tool invocation request produced by an agent step.
// The ID is unique within its turn and correlates the request event, the
// pending-call table entry and the eventual result.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// NewCallID generates a tool call identifier for calls that arrive without one.
func NewCallID() string { return "call_" + uuid.NewString() }

// ToolResult is the outcome of a tool call: either a structured value or an
// error description. Recoverable failures (validation, execution errors,
// client timeouts) travel back to the agent through this type rather than
// failing the turn.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the call ended in an error.
func (r ToolResult) Failed() bool { return r.Error != "" }
