package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/tool"
)

// ClientResult is the caller-supplied resolution of a client-delegated call.
type ClientResult struct {
	// Status is "success" or "error".
	Status string `json:"status"`
	// Payload carries the tool output on success, or the failure reason.
	Payload any `json:"payload,omitempty"`
}

// ResultStatusSuccess and ResultStatusError are the accepted Status values.
const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

// dispatchBatch resolves each call of one agent step in request order. Calls
// naming tools outside the agent's advertised set are rejected as recoverable
// failures. Server tools execute immediately; client tools enter the pending
// table with a timeout armed, and the turn suspends until the whole batch has
// results.
func (t *Turn) dispatchBatch(ctx context.Context, spec agent.Spec, calls []core.ToolCall) {
	batch := t.assignCallIDs(calls)

	// The dispatchable set is exactly what invokeReasoner advertised: the
	// agent's registry tools plus the turn-scoped client declarations.
	allowed := make(map[string]bool)
	for _, def := range t.tools.Definitions(spec.Tools) {
		allowed[def.Name] = true
	}

	t.mu.Lock()
	t.batch = batch
	t.appendMessageLocked(core.NewToolCallMessage(batch))
	t.mu.Unlock()

	for _, call := range batch {
		t.stream.Append(core.NewToolCallRequestedEvent(t.id, spec.ID, call))

		if !allowed[call.Name] {
			t.recordResult(spec.ID, core.ToolResult{CallID: call.ID, Name: call.Name,
				Error: fmt.Sprintf("tool %s is not available to agent %s", call.Name, spec.ID)})
			continue
		}
		toolSpec, err := t.tools.Resolve(call.Name)
		if err != nil {
			t.recordResult(spec.ID, core.ToolResult{CallID: call.ID, Name: call.Name, Error: err.Error()})
			continue
		}
		if err := t.tools.Validate(call.Name, call.Arguments); err != nil {
			t.recordResult(spec.ID, core.ToolResult{CallID: call.ID, Name: call.Name, Error: err.Error()})
			continue
		}

		switch toolSpec.Kind {
		case tool.KindServer:
			t.recordResult(spec.ID, t.execServerTool(ctx, toolSpec, call))
		case tool.KindClient:
			t.addPending(call)
			t.logger.Info("client call pending",
				"turn_id", t.id, "tool", call.Name, "call_id", call.ID)
		}
	}

	t.mu.Lock()
	if len(t.pending) > 0 {
		t.state = StateAwaitingTools
	}
	t.mu.Unlock()
}

// awaitBatch blocks until every pending call in the current batch has a
// result. A resume signal can land before the loop starts waiting, so every
// wakeup re-checks the pending table before returning; a stale signal from an
// earlier batch never ends the wait for a later one. Returns true when the
// wait ended by cancellation.
func (t *Turn) awaitBatch(ctx context.Context) bool {
	for {
		t.mu.Lock()
		waiting := t.state == StateAwaitingTools && len(t.pending) > 0
		t.mu.Unlock()
		if !waiting {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case <-t.resumeCh:
		}
	}
}

// collectBatchResults feeds the finished batch back into the agent context,
// preserving the original request order.
func (t *Turn) collectBatchResults() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, call := range t.batch {
		if result, ok := t.results[call.ID]; ok {
			t.appendMessageLocked(core.NewToolResultMessage(result))
		}
	}
	t.batch = nil
	t.state = StateRunning
}

// assignCallIDs guarantees every call carries an identifier unique within the
// turn. Reasoner-provided identifiers are kept unless they collide.
func (t *Turn) assignCallIDs(calls []core.ToolCall) []core.ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for id := range t.results {
		seen[id] = true
	}
	for id := range t.pending {
		seen[id] = true
	}
	for i, call := range calls {
		if call.ID == "" || seen[call.ID] {
			call.ID = core.NewCallID()
		}
		seen[call.ID] = true
		out[i] = call
	}
	return out
}

func (t *Turn) recordResult(agentID string, result core.ToolResult) {
	t.mu.Lock()
	t.results[result.CallID] = result
	t.mu.Unlock()
	t.stream.Append(core.NewToolCallResultEvent(t.id, agentID, result))
}

// execServerTool invokes a server-resident implementation with the per-tool
// deadline, recovering panics and folding every failure mode into a result
// the agent can reason about.
func (t *Turn) execServerTool(ctx context.Context, spec tool.Spec, call core.ToolCall) core.ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, t.cfg.ServerCallTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	outCh := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("server tool panic",
					"turn_id", t.id, "tool", call.Name, "recover", fmt.Sprint(r), "stack", string(debug.Stack()))
				outCh <- outcome{err: tool.NewToolError(call.Name, "tool implementation panicked", tool.CodeExecution)}
			}
		}()
		v, err := spec.Fn(execCtx, call.Arguments)
		outCh <- outcome{value: v, err: err}
	}()

	result := core.ToolResult{CallID: call.ID, Name: call.Name}
	select {
	case <-execCtx.Done():
		if ctx.Err() != nil {
			result.Error = "cancelled"
		} else {
			result.Error = fmt.Sprintf("server tool timed out after %s", t.cfg.ServerCallTimeout)
		}
	case o := <-outCh:
		if o.err != nil {
			result.Error = o.err.Error()
		} else {
			result.Value = o.value
		}
	}
	t.logger.Info("server tool executed",
		"turn_id", t.id, "tool", call.Name, "call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds(), "error", result.Failed())
	return result
}

// addPending records a client-delegated call awaiting resolution and arms its
// timeout. The timeout is scoped per call and resolves the call as a
// synthetic failure so the turn can progress.
func (t *Turn) addPending(call core.ToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	callID := call.ID
	t.pending[callID] = &pendingCall{
		call:   call,
		issued: time.Now(),
		timer: time.AfterFunc(t.cfg.ClientCallTimeout, func() {
			t.expireCall(callID)
		}),
	}
}

// ResolveClientCall feeds an asynchronous client resolution into the pending
// table. Unknown or already-resolved identifiers are rejected without
// mutating state; input referencing a terminal turn is rejected as
// core.ErrTurnAlreadyTerminal.
func (t *Turn) ResolveClientCall(callID string, res ClientResult) error {
	result := core.ToolResult{CallID: callID}
	switch res.Status {
	case ResultStatusSuccess:
		result.Value = res.Payload
	case ResultStatusError:
		result.Error = fmt.Sprintf("%v", res.Payload)
		if result.Error == "" || result.Error == "<nil>" {
			result.Error = "client tool failed"
		}
	default:
		return fmt.Errorf("invalid result status %q", res.Status)
	}
	return t.resolvePending(callID, result)
}

// expireCall is the timeout path: same bookkeeping as a client resolution,
// with a synthetic failure result.
func (t *Turn) expireCall(callID string) {
	err := t.resolvePending(callID, core.ToolResult{
		CallID: callID,
		Error:  fmt.Sprintf("client tool timed out after %s", t.cfg.ClientCallTimeout),
	})
	if err == nil {
		t.logger.Warn("client call timed out", "turn_id", t.id, "call_id", callID)
	}
}

func (t *Turn) resolvePending(callID string, result core.ToolResult) error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return core.ErrTurnAlreadyTerminal
	}
	pc, ok := t.pending[callID]
	if !ok {
		_, resolved := t.results[callID]
		t.mu.Unlock()
		if resolved {
			return core.ErrDuplicateResolution
		}
		return core.ErrUnknownCall
	}
	pc.timer.Stop()
	delete(t.pending, callID)
	result.Name = pc.call.Name
	t.results[callID] = result
	agentID := t.agentID
	t.stream.Append(core.NewToolCallResultEvent(t.id, agentID, result))
	last := t.state == StateAwaitingTools && len(t.pending) == 0
	t.mu.Unlock()

	if last {
		select {
		case t.resumeCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// PendingCalls returns a snapshot of the pending-call table (call and issue
// time), primarily for inspection and tests.
func (t *Turn) PendingCalls() []core.ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.ToolCall, 0, len(t.pending))
	for _, call := range t.batch {
		if _, ok := t.pending[call.ID]; ok {
			out = append(out, call)
		}
	}
	return out
}
