// Package testutil provides scripted fakes for engine, runner and server
// tests.
package testutil

import (
	"context"
	"sync"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
)

// ScriptedStep is one pre-programmed reasoning outcome.
type ScriptedStep struct {
	// Fragments are emitted as partial output before the step settles.
	Fragments []string
	Step      agent.Step
	Err       error
}

// ScriptedReasoner replays a fixed sequence of steps and records every
// request it receives. Safe for concurrent use.
type ScriptedReasoner struct {
	mu       sync.Mutex
	steps    []ScriptedStep
	next     int
	requests []agent.Request
}

// NewScriptedReasoner builds a reasoner that replays steps in order. Calls
// beyond the script return an empty final answer.
func NewScriptedReasoner(steps ...ScriptedStep) *ScriptedReasoner {
	return &ScriptedReasoner{steps: steps}
}

// Reason implements agent.Reasoner.
func (r *ScriptedReasoner) Reason(ctx context.Context, req agent.Request, emit func(string)) (agent.Step, error) {
	if err := ctx.Err(); err != nil {
		return agent.Step{}, err
	}
	r.mu.Lock()
	r.requests = append(r.requests, req)
	var step ScriptedStep
	if r.next < len(r.steps) {
		step = r.steps[r.next]
		r.next++
	} else {
		step = ScriptedStep{Step: agent.FinalStep("")}
	}
	r.mu.Unlock()

	for _, f := range step.Fragments {
		emit(f)
	}
	return step.Step, step.Err
}

// Requests returns a snapshot of every request seen so far.
func (r *ScriptedReasoner) Requests() []agent.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// Final scripts a final-answer step.
func Final(text string) ScriptedStep {
	return ScriptedStep{Step: agent.FinalStep(text)}
}

// Handoff scripts a handoff step.
func Handoff(target string) ScriptedStep {
	return ScriptedStep{Step: agent.Step{Handoff: target}}
}

// Calls scripts a tool-call batch step.
func Calls(calls ...core.ToolCall) ScriptedStep {
	return ScriptedStep{Step: agent.Step{Calls: calls}}
}
