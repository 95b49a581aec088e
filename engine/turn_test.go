package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/internal/testutil"
	"github.com/seafield/agentrelay/tool"
)

// -------------------- Test Fixtures --------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ClientCallTimeout = 500 * time.Millisecond
	cfg.ServerCallTimeout = 200 * time.Millisecond
	return cfg
}

func testScope(t *testing.T, declared ...tool.Definition) *tool.Scope {
	t.Helper()
	r := tool.NewRegistry()
	require.NoError(t, r.Register(tool.Spec{
		Name:        "add",
		Description: "Add two numbers",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		Kind: tool.KindServer,
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	}))
	require.NoError(t, r.Register(tool.Spec{
		Name: "boom",
		Kind: tool.KindServer,
		Fn: func(_ context.Context, _ map[string]any) (any, error) {
			panic("kaboom")
		},
	}))
	require.NoError(t, r.Register(tool.Spec{
		Name: "slow",
		Kind: tool.KindServer,
		Fn: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		},
	}))
	require.NoError(t, r.Register(tool.Spec{
		Name:        "ask_user",
		Description: "Ask the user a question",
		Kind:        tool.KindClient,
	}))
	scope, err := r.Scope(declared)
	require.NoError(t, err)
	return scope
}

func testAgents(t *testing.T, defaultID string, specs ...agent.Spec) *agent.Registry {
	t.Helper()
	reg, err := agent.NewRegistry(defaultID, specs...)
	require.NoError(t, err)
	return reg
}

func startTestTurn(t *testing.T, agents *agent.Registry, startAgent string, cfg Config, onDone func(*Turn)) *Turn {
	t.Helper()
	turn := NewTurn("conv-1", startAgent, agents, testScope(t), nil, "hello", cfg, onDone)
	turn.Start()
	return turn
}

func waitDone(t *testing.T, turn *Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("turn did not reach a terminal state")
	}
}

func waitAwaiting(t *testing.T, turn *Turn) {
	t.Helper()
	require.Eventually(t, func() bool {
		return turn.State() == StateAwaitingTools
	}, 2*time.Second, 2*time.Millisecond, "turn never suspended on client calls")
}

func assertGapless(t *testing.T, events []core.Event) {
	t.Helper()
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq, "sequence gap at index %d", i)
	}
}

func eventKinds(events []core.Event) []core.EventKind {
	kinds := make([]core.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// -------------------- Completion & Streaming --------------------

func TestTurn_FinalAnswer(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(testutil.ScriptedStep{
		Fragments: []string{"Hel", "lo"},
		Step:      agent.FinalStep("Hello"),
	})
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	doneCount := 0
	turn := startTestTurn(t, agents, "solo", testConfig(), func(*Turn) { doneCount++ })
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	assert.Equal(t, 1, doneCount)
	assert.False(t, turn.Ended().IsZero())

	events := turn.Events()
	require.Len(t, events, 3)
	assertGapless(t, events)
	assert.Equal(t, []core.EventKind{
		core.EventPartialOutput, core.EventPartialOutput, core.EventTurnCompleted,
	}, eventKinds(events))
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "Hello", events[2].Text)

	produced := turn.Produced()
	require.Len(t, produced, 2)
	assert.Equal(t, "user", produced[0].Role)
	assert.Equal(t, "hello", produced[0].Text)
	assert.Equal(t, "assistant", produced[1].Role)
	assert.Equal(t, "Hello", produced[1].Text)
}

func TestTurn_HandoffThenToolThenAnswer(t *testing.T) {
	math := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{Name: "add", Arguments: map[string]any{"a": float64(2), "b": float64(2)}}),
		testutil.Final("4"),
	)
	triage := testutil.NewScriptedReasoner(testutil.Handoff("math"))
	agents := testAgents(t, "triage",
		agent.Spec{ID: "triage", Handoffs: []string{"math"}, Reasoner: triage},
		agent.Spec{ID: "math", Tools: []string{"add"}, Reasoner: math},
	)

	turn := startTestTurn(t, agents, "triage", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	assert.Equal(t, "math", turn.AgentID())

	events := turn.Events()
	require.Len(t, events, 4)
	assertGapless(t, events)
	assert.Equal(t, []core.EventKind{
		core.EventHandoff, core.EventToolCallRequested, core.EventToolCallResult, core.EventTurnCompleted,
	}, eventKinds(events))
	assert.Equal(t, &core.Handoff{From: "triage", To: "math"}, events[0].Handoff)
	assert.Equal(t, "add", events[1].Call.Name)
	assert.Equal(t, float64(4), events[2].Result.Value)
	assert.Equal(t, "4", events[3].Text)

	// The second reasoning request of the target agent sees the tool result.
	reqs := math.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, float64(4), last.Result.Value)
}

// -------------------- Client Call Suspend/Resume --------------------

func TestTurn_ClientCallsSuspendAndResume(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(
			core.ToolCall{ID: "c1", Name: "ask_user", Arguments: map[string]any{}},
			core.ToolCall{ID: "c2", Name: "ask_user", Arguments: map[string]any{}},
		),
		testutil.Final("done"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"ask_user"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitAwaiting(t, turn)

	pending := turn.PendingCalls()
	require.Len(t, pending, 2)
	assert.Equal(t, "c1", pending[0].ID)
	assert.Equal(t, "c2", pending[1].ID)

	// Resolving part of the batch keeps the turn suspended.
	require.NoError(t, turn.ResolveClientCall("c1", ClientResult{Status: ResultStatusSuccess, Payload: "yes"}))
	assert.Equal(t, StateAwaitingTools, turn.State())
	assert.Len(t, turn.PendingCalls(), 1)

	// Unknown and duplicate resolutions are rejected without side effects.
	assert.ErrorIs(t, turn.ResolveClientCall("nope", ClientResult{Status: ResultStatusSuccess}), core.ErrUnknownCall)
	assert.ErrorIs(t, turn.ResolveClientCall("c1", ClientResult{Status: ResultStatusSuccess}), core.ErrDuplicateResolution)
	assert.Equal(t, StateAwaitingTools, turn.State())

	// The last resolution resumes the step loop.
	require.NoError(t, turn.ResolveClientCall("c2", ClientResult{Status: ResultStatusError, Payload: "user declined"}))
	waitDone(t, turn)
	assert.Equal(t, StateCompleted, turn.State())

	events := turn.Events()
	assertGapless(t, events)
	assert.Equal(t, []core.EventKind{
		core.EventToolCallRequested, core.EventToolCallRequested,
		core.EventToolCallResult, core.EventToolCallResult,
		core.EventTurnCompleted,
	}, eventKinds(events))
	assert.Equal(t, "c1", events[2].Result.CallID)
	assert.Equal(t, "yes", events[2].Result.Value)
	assert.Equal(t, "c2", events[3].Result.CallID)
	assert.Equal(t, "user declined", events[3].Result.Error)

	// Results are fed back in the original request order.
	reqs := reasoner.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "c1", msgs[len(msgs)-2].Result.CallID)
	assert.Equal(t, "c2", msgs[len(msgs)-1].Result.CallID)
}

func TestTurn_MixedBatchKeepsRequestOrder(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(
			core.ToolCall{ID: "c1", Name: "ask_user", Arguments: map[string]any{}},
			core.ToolCall{ID: "c2", Name: "add", Arguments: map[string]any{"a": float64(1), "b": float64(2)}},
		),
		testutil.Final("done"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"ask_user", "add"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitAwaiting(t, turn)

	// The server call resolved immediately; only the client call is pending.
	pending := turn.PendingCalls()
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ID)

	require.NoError(t, turn.ResolveClientCall("c1", ClientResult{Status: ResultStatusSuccess, Payload: "ok"}))
	waitDone(t, turn)

	// Feedback order follows the batch, not resolution time: c1 before c2.
	reqs := reasoner.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	assert.Equal(t, "c1", msgs[len(msgs)-2].Result.CallID)
	assert.Equal(t, "c2", msgs[len(msgs)-1].Result.CallID)
	assert.Equal(t, float64(3), msgs[len(msgs)-1].Result.Value)
}

func TestTurn_ClientCallTimeout(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{ID: "c1", Name: "ask_user", Arguments: map[string]any{}}),
		testutil.Final("recovered"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"ask_user"}, Reasoner: reasoner})

	cfg := testConfig()
	cfg.ClientCallTimeout = 30 * time.Millisecond
	turn := startTestTurn(t, agents, "solo", cfg, nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	var timedOut *core.ToolResult
	for _, ev := range turn.Events() {
		if ev.Kind == core.EventToolCallResult && ev.Result.CallID == "c1" {
			timedOut = ev.Result
		}
	}
	require.NotNil(t, timedOut)
	assert.Contains(t, timedOut.Error, "timed out")
}

func TestTurn_InvalidResolutionStatusRejected(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{ID: "c1", Name: "ask_user", Arguments: map[string]any{}}),
		testutil.Final("done"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"ask_user"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitAwaiting(t, turn)

	err := turn.ResolveClientCall("c1", ClientResult{Status: "bogus", Payload: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid result status")
	assert.Equal(t, StateAwaitingTools, turn.State())
	assert.Len(t, turn.PendingCalls(), 1)

	require.NoError(t, turn.ResolveClientCall("c1", ClientResult{Status: ResultStatusSuccess, Payload: "ok"}))
	waitDone(t, turn)
	assert.Equal(t, StateCompleted, turn.State())
}

func TestTurn_DuplicateReasonerCallIDsReassigned(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(
			core.ToolCall{ID: "same", Name: "add", Arguments: map[string]any{"a": float64(1), "b": float64(1)}},
			core.ToolCall{ID: "same", Name: "add", Arguments: map[string]any{"a": float64(2), "b": float64(2)}},
		),
		testutil.Final("done"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"add"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	ids := map[string]bool{}
	for _, ev := range turn.Events() {
		if ev.Kind == core.EventToolCallRequested {
			ids[ev.Call.ID] = true
		}
	}
	assert.Len(t, ids, 2, "colliding call ids must be reassigned")
}

func TestTurn_EarlyResolutionDoesNotUnblockNextBatch(t *testing.T) {
	agents := testAgents(t, "solo", agent.Spec{
		ID:       "solo",
		Tools:    []string{"ask_user"},
		Reasoner: testutil.NewScriptedReasoner(),
	})
	spec, err := agents.Resolve("solo")
	require.NoError(t, err)

	turn := NewTurn("conv-1", "solo", agents, testScope(t), nil, "hello", testConfig(), nil)
	ctx := context.Background()

	// First batch: the resolution lands before the step loop starts waiting,
	// leaving a queued resume signal behind.
	turn.dispatchBatch(ctx, spec, []core.ToolCall{{ID: "c1", Name: "ask_user", Arguments: map[string]any{}}})
	require.NoError(t, turn.ResolveClientCall("c1", ClientResult{Status: ResultStatusSuccess, Payload: "ok"}))
	assert.False(t, turn.awaitBatch(ctx))
	turn.collectBatchResults()

	// The second batch must stay suspended until its own call resolves.
	turn.dispatchBatch(ctx, spec, []core.ToolCall{{ID: "c2", Name: "ask_user", Arguments: map[string]any{}}})
	waitEnded := make(chan bool, 1)
	go func() { waitEnded <- turn.awaitBatch(ctx) }()
	select {
	case <-waitEnded:
		t.Fatal("batch wait ended while a call is still pending")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, StateAwaitingTools, turn.State())

	require.NoError(t, turn.ResolveClientCall("c2", ClientResult{Status: ResultStatusSuccess, Payload: "ok"}))
	select {
	case cancelled := <-waitEnded:
		assert.False(t, cancelled)
	case <-time.After(time.Second):
		t.Fatal("batch wait did not end after the final resolution")
	}
	turn.collectBatchResults()
	assert.Equal(t, StateRunning, turn.State())
	assert.Empty(t, turn.PendingCalls())
}

// -------------------- Cancellation --------------------

func TestTurn_CancelBeforeStart(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(testutil.Final("never reached"))
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	turn := NewTurn("conv-1", "solo", agents, testScope(t), nil, "hello", testConfig(), nil)
	require.NoError(t, turn.Cancel())

	turn.Start()
	waitDone(t, turn)

	assert.Equal(t, StateFailed, turn.State())
	last := turn.Events()[len(turn.Events())-1]
	require.Equal(t, core.EventTurnFailed, last.Kind)
	assert.Equal(t, core.FailureCancelled, last.Failure.Kind)
}

func TestTurn_CancelWhileAwaitingTools(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{ID: "c1", Name: "ask_user", Arguments: map[string]any{}}),
		testutil.Final("never reached"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"ask_user"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitAwaiting(t, turn)

	require.NoError(t, turn.Cancel())
	waitDone(t, turn)

	assert.Equal(t, StateFailed, turn.State())

	events := turn.Events()
	assertGapless(t, events)
	var failures, cancelledResults int
	for _, ev := range events {
		switch ev.Kind {
		case core.EventTurnFailed:
			failures++
			assert.Equal(t, core.FailureCancelled, ev.Failure.Kind)
		case core.EventToolCallResult:
			if ev.Result.Error == "cancelled" {
				cancelledResults++
			}
		}
	}
	assert.Equal(t, 1, failures, "exactly one terminal event")
	assert.Equal(t, 1, cancelledResults, "pending call resolved as cancelled")
	assert.True(t, events[len(events)-1].Terminal())

	// Terminal turns reject further input.
	assert.ErrorIs(t, turn.ResolveClientCall("c1", ClientResult{Status: ResultStatusSuccess}), core.ErrTurnAlreadyTerminal)
	assert.ErrorIs(t, turn.Cancel(), core.ErrTurnAlreadyTerminal)
}

// -------------------- Handoffs --------------------

func TestTurn_InvalidHandoffFailsTurn(t *testing.T) {
	first := testutil.NewScriptedReasoner(testutil.Handoff("second"))
	second := testutil.NewScriptedReasoner(testutil.Final("unused"))
	// "second" exists in the registry but is not in first's allowed set.
	agents := testAgents(t, "first",
		agent.Spec{ID: "first", Reasoner: first},
		agent.Spec{ID: "second", Reasoner: second},
	)

	turn := startTestTurn(t, agents, "first", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateFailed, turn.State())
	events := turn.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.EventTurnFailed, last.Kind)
	assert.Equal(t, core.FailureInvalidHandoff, last.Failure.Kind)
}

func TestTurn_HandoffWinsOverCalls(t *testing.T) {
	triage := testutil.NewScriptedReasoner(testutil.ScriptedStep{
		Step: agent.Step{
			Handoff: "math",
			Calls:   []core.ToolCall{{Name: "add", Arguments: map[string]any{"a": float64(1), "b": float64(1)}}},
		},
	})
	math := testutil.NewScriptedReasoner(testutil.Final("ready"))
	agents := testAgents(t, "triage",
		agent.Spec{ID: "triage", Tools: []string{"add"}, Handoffs: []string{"math"}, Reasoner: triage},
		agent.Spec{ID: "math", Reasoner: math},
	)

	turn := startTestTurn(t, agents, "triage", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	kinds := eventKinds(turn.Events())
	assert.NotContains(t, kinds, core.EventToolCallRequested, "calls alongside a handoff are discarded")
	assert.Contains(t, kinds, core.EventHandoff)
}

func TestTurn_StepLimitExceeded(t *testing.T) {
	a := testutil.NewScriptedReasoner(testutil.Handoff("b"), testutil.Handoff("b"), testutil.Handoff("b"))
	b := testutil.NewScriptedReasoner(testutil.Handoff("a"), testutil.Handoff("a"), testutil.Handoff("a"))
	agents := testAgents(t, "a",
		agent.Spec{ID: "a", Handoffs: []string{"b"}, Reasoner: a},
		agent.Spec{ID: "b", Handoffs: []string{"a"}, Reasoner: b},
	)

	cfg := testConfig()
	cfg.MaxSteps = 3
	turn := startTestTurn(t, agents, "a", cfg, nil)
	waitDone(t, turn)

	assert.Equal(t, StateFailed, turn.State())
	events := turn.Events()
	last := events[len(events)-1]
	assert.Equal(t, core.FailureInternal, last.Failure.Kind)
	assert.Contains(t, last.Failure.Message, "step limit")
}

// -------------------- Recoverable Tool Failures --------------------

func TestTurn_UnknownToolIsRecoverable(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{Name: "nonexistent"}),
		testutil.Final("recovered"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	events := turn.Events()
	require.Len(t, events, 3)
	assert.Contains(t, events[1].Result.Error, "not available")
}

func TestTurn_UnadvertisedToolIsRecoverable(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		// "add" is registered but absent from this agent's tool set.
		testutil.Calls(core.ToolCall{Name: "add", Arguments: map[string]any{"a": float64(1), "b": float64(2)}}),
		testutil.Final("recovered"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"ask_user"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	var result *core.ToolResult
	for _, ev := range turn.Events() {
		if ev.Kind == core.EventToolCallResult {
			result = ev.Result
		}
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Error, "not available")
}

func TestTurn_ValidationFailureIsRecoverable(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{Name: "add", Arguments: map[string]any{"a": "not a number", "b": float64(1)}}),
		testutil.Final("recovered"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"add"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	var result *core.ToolResult
	for _, ev := range turn.Events() {
		if ev.Kind == core.EventToolCallResult {
			result = ev.Result
		}
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Error, tool.CodeValidation)
}

func TestTurn_ServerToolPanicIsRecoverable(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{Name: "boom"}),
		testutil.Final("recovered"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"boom"}, Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	var result *core.ToolResult
	for _, ev := range turn.Events() {
		if ev.Kind == core.EventToolCallResult {
			result = ev.Result
		}
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Error, "panicked")
}

func TestTurn_ServerToolTimeoutIsRecoverable(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{Name: "slow"}),
		testutil.Final("recovered"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Tools: []string{"slow"}, Reasoner: reasoner})

	cfg := testConfig()
	cfg.ServerCallTimeout = 20 * time.Millisecond
	turn := startTestTurn(t, agents, "solo", cfg, nil)
	waitDone(t, turn)

	assert.Equal(t, StateCompleted, turn.State())
	var result *core.ToolResult
	for _, ev := range turn.Events() {
		if ev.Kind == core.EventToolCallResult {
			result = ev.Result
		}
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Error, "timed out")
}

// -------------------- Failure Paths --------------------

func TestTurn_ReasonerErrorFailsTurn(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(testutil.ScriptedStep{Err: errors.New("model unavailable")})
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateFailed, turn.State())
	last := turn.Events()[len(turn.Events())-1]
	assert.Equal(t, core.FailureInternal, last.Failure.Kind)
	assert.Contains(t, last.Failure.Message, "model unavailable")
}

func TestTurn_EmptyStepFailsTurn(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(testutil.ScriptedStep{Step: agent.Step{}})
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	assert.Equal(t, StateFailed, turn.State())
	last := turn.Events()[len(turn.Events())-1]
	assert.Equal(t, core.FailureInternal, last.Failure.Kind)
	assert.Contains(t, last.Failure.Message, "empty step")
}

// -------------------- Turn-Scoped Client Tools --------------------

func TestTurn_TurnScopedClientTool(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(
		testutil.Calls(core.ToolCall{ID: "c1", Name: "get_location", Arguments: map[string]any{}}),
		testutil.Final("you are home"),
	)
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	scope := testScope(t, tool.Definition{
		Name:        "get_location",
		Description: "Ask the client for its location",
		Kind:        tool.KindClient,
	})
	turn := NewTurn("conv-1", "solo", agents, scope, nil, "where am I?", testConfig(), nil)
	turn.Start()
	waitAwaiting(t, turn)

	// The declared tool is offered to the reasoner alongside registry tools.
	reqs := reasoner.Requests()
	require.Len(t, reqs, 1)
	found := false
	for _, def := range reqs[0].Tools {
		if def.Name == "get_location" {
			found = true
			assert.Equal(t, tool.KindClient, def.Kind)
		}
	}
	assert.True(t, found)

	require.NoError(t, turn.ResolveClientCall("c1", ClientResult{
		Status:  ResultStatusSuccess,
		Payload: map[string]any{"lat": 52.52, "long": 13.405},
	}))
	waitDone(t, turn)
	assert.Equal(t, StateCompleted, turn.State())
}

// -------------------- History --------------------

func TestTurn_HistoryPrecedesUserMessage(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(testutil.Final("again?"))
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	history := []core.Message{
		core.NewUserMessage("first question"),
		core.NewAssistantMessage("first answer"),
	}
	turn := NewTurn("conv-1", "solo", agents, testScope(t), history, "second question", testConfig(), nil)
	turn.Start()
	waitDone(t, turn)

	reqs := reasoner.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 3)
	assert.Equal(t, "first question", reqs[0].Messages[0].Text)
	assert.Equal(t, "second question", reqs[0].Messages[2].Text)

	// Only this turn's messages are handed to persistence.
	produced := turn.Produced()
	require.Len(t, produced, 2)
	assert.Equal(t, "second question", produced[0].Text)
}

func TestTurn_SubscribeReplaysFullLogAfterTermination(t *testing.T) {
	reasoner := testutil.NewScriptedReasoner(testutil.ScriptedStep{
		Fragments: []string{"a", "b"},
		Step:      agent.FinalStep("ab"),
	})
	agents := testAgents(t, "solo", agent.Spec{ID: "solo", Reasoner: reasoner})

	turn := startTestTurn(t, agents, "solo", testConfig(), nil)
	waitDone(t, turn)

	ch, unsub := turn.Subscribe(0)
	defer unsub()
	var got []core.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assertGapless(t, got)
	assert.True(t, got[len(got)-1].Terminal())
}

func TestState_Terminal(t *testing.T) {
	for state, want := range map[State]bool{
		StateRunning:       false,
		StateAwaitingTools: false,
		StateCompleted:     true,
		StateFailed:        true,
	} {
		assert.Equal(t, want, state.Terminal(), fmt.Sprintf("state %s", state))
	}
}
