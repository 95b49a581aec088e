// Package tool implements the tool registry: schema-validated specifications
// for server-resident functions and client-delegated tools, looked up by name
// at dispatch time.
package tool

import (
	"context"
	"fmt"
)

// Kind is the closed set of tool execution variants.
type Kind string

const (
	// KindServer tools run inside the engine process.
	KindServer Kind = "server"
	// KindClient tools are delegated to the caller: dispatching one suspends
	// the turn until the caller posts a result (or the call times out).
	KindClient Kind = "client"
)

// Func is the callable implementation of a server-resident tool. Arguments
// arrive already validated against the tool's input schema. The context
// carries the per-tool execution deadline.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Spec is the immutable description of a tool. Fn is required for server
// tools and must be nil for client tools.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema for the arguments object
	Kind        Kind
	Fn          Func
}

// Definition is the schema-only projection of a Spec exposed to reasoners
// and to the metadata listing endpoint.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Kind        Kind           `json:"kind"`
}

// Definition returns the schema-only projection of the spec.
func (s Spec) Definition() Definition {
	return Definition{Name: s.Name, Description: s.Description, Parameters: s.Parameters, Kind: s.Kind}
}

// ToolError represents errors raised during tool validation or execution.
// Code is one of VALIDATION_ERROR, EXECUTION_ERROR, TIMEOUT or CANCELLED.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the given details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Error codes attached to ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodeCancelled  = "CANCELLED"
)
