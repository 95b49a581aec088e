// Package agent defines agent specifications and the registry that resolves
// them. An agent's reasoning capability is opaque to the engine: given
// conversation context and the tools it may use, it streams partial output
// and settles on exactly one of a final answer, a handoff request or a batch
// of tool calls.
package agent

import (
	"context"

	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/tool"
)

// Step is the settled outcome of one reasoning invocation. Exactly one of
// Final, Handoff or Calls should be set; if an agent proposes a handoff and
// tool calls in the same step, the handoff wins and the calls are discarded
// (the target agent decides whether to re-request them).
type Step struct {
	// Final, when non-nil, is the turn's final answer.
	Final *string
	// Handoff names the agent to transfer control to.
	Handoff string
	// Calls is the batch of tool invocations requested by this step.
	Calls []core.ToolCall
}

// FinalStep builds a step carrying a final answer.
func FinalStep(text string) Step { return Step{Final: &text} }

// Request is the normalized input to a reasoning invocation.
type Request struct {
	// Agent is the identifier of the agent being invoked.
	Agent string
	// Instructions is the agent's system prompt.
	Instructions string
	// Messages is the conversation context: prior history plus everything
	// produced so far in the current turn, tool results in request order.
	Messages []core.Message
	// Tools are the definitions the agent may call this step.
	Tools []tool.Definition
	// Handoffs are the agent identifiers control may be transferred to.
	Handoffs []string
}

// Reasoner is the opaque reasoning capability behind an agent. Implementations
// may call emit any number of times with streamed output fragments before
// returning; emit is safe to call from the reasoning goroutine only. The
// returned step must be settled: partial fragments never decide control flow.
type Reasoner interface {
	Reason(ctx context.Context, req Request, emit func(fragment string)) (Step, error)
}

// Spec is the immutable description of an agent, registered at process start
// and never mutated at runtime.
type Spec struct {
	ID           string
	Description  string
	Instructions string
	// Tools is the set of registry tool names this agent may call.
	Tools []string
	// Handoffs is the set of agent identifiers this agent may transfer to.
	Handoffs []string
	Reasoner  Reasoner
}
