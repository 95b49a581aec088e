// Package engine implements the turn state machine, the tool dispatcher with
// suspend/resume semantics for client-delegated calls, and the per-turn
// ordered event stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/logging"
	"github.com/seafield/agentrelay/tool"
)

// State of a turn. HandedOff is not a state: a handoff swaps the active agent
// and re-enters Running within the same turn.
type State string

const (
	// StateRunning: agent reasoning in progress (or results being fed back).
	StateRunning State = "running"
	// StateAwaitingTools: at least one client-delegated call is pending.
	StateAwaitingTools State = "awaiting_tools"
	// StateCompleted: terminal, final answer emitted.
	StateCompleted State = "completed"
	// StateFailed: terminal, unrecoverable error emitted.
	StateFailed State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Config holds the engine knobs shared by all turns.
type Config struct {
	// ClientCallTimeout bounds how long a pending client call may stay
	// unanswered before it resolves as a synthetic failure.
	ClientCallTimeout time.Duration
	// ServerCallTimeout bounds a single server tool execution.
	ServerCallTimeout time.Duration
	// MaxSteps bounds reasoning invocations per turn.
	MaxSteps int
	Logger   logging.Logger
}

// DefaultConfig returns the baseline engine configuration.
func DefaultConfig() Config {
	return Config{
		ClientCallTimeout: 30 * time.Second,
		ServerCallTimeout: 10 * time.Second,
		MaxSteps:          8,
		Logger:            logging.NoOpLogger{},
	}
}

type pendingCall struct {
	call   core.ToolCall
	issued time.Time
	timer  *time.Timer
}

// Turn drives one conversational request/response cycle from start to a
// terminal state. All mutation of turn state is serialized: the internal step
// loop is the only goroutine advancing reasoning, and external resolutions
// synchronize through the turn mutex.
type Turn struct {
	id     string
	convID string
	agents *agent.Registry
	tools  *tool.Scope
	cfg    Config
	logger logging.Logger
	stream *Stream

	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	onDone func(*Turn)

	mu       sync.Mutex
	state    State
	agentID  string
	pending  map[string]*pendingCall
	batch    []core.ToolCall
	results  map[string]core.ToolResult
	messages []core.Message // full reasoning context: history + this turn
	produced []core.Message // messages created by this turn, for persistence
	resumeCh chan struct{}
	ended    time.Time
}

// NewTurn creates a turn in StateRunning for the given conversation. history
// is the prior message log; the user message is appended by the caller before
// Start. onDone fires exactly once after the terminal event is emitted.
func NewTurn(
	conversationID string,
	startAgent string,
	agents *agent.Registry,
	tools *tool.Scope,
	history []core.Message,
	userMessage string,
	cfg Config,
	onDone func(*Turn),
) *Turn {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	t := &Turn{
		id:       uuid.NewString(),
		convID:   conversationID,
		agents:   agents,
		tools:    tools,
		cfg:      cfg,
		logger:   cfg.Logger,
		started:  time.Now(),
		done:     make(chan struct{}),
		onDone:   onDone,
		state:    StateRunning,
		agentID:  startAgent,
		pending:  map[string]*pendingCall{},
		results:  map[string]core.ToolResult{},
		resumeCh: make(chan struct{}, 1),
	}
	t.stream = NewStream(t.id)
	// The lifecycle context exists from construction so Cancel is safe to
	// call before Start.
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.messages = append(t.messages, history...)
	t.appendMessageLocked(core.NewUserMessage(userMessage))
	return t
}

// Start launches the step loop. The turn runs detached from the caller's
// request context: subscriber disconnects never affect turn progress. Use
// Cancel to stop it.
func (t *Turn) Start() {
	go t.run(t.ctx)
}

// ID returns the turn identifier.
func (t *Turn) ID() string { return t.id }

// ConversationID returns the owning conversation identifier.
func (t *Turn) ConversationID() string { return t.convID }

// AgentID returns the currently active agent.
func (t *Turn) AgentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentID
}

// State returns the current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Events returns a snapshot of the event log.
func (t *Turn) Events() []core.Event { return t.stream.Events() }

// Subscribe attaches an ordered event subscriber starting after afterSeq.
func (t *Turn) Subscribe(afterSeq uint64) (<-chan core.Event, func()) {
	return t.stream.Subscribe(afterSeq)
}

// Done is closed once the turn has reached a terminal state and finished
// cleanup.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Produced returns the messages created during this turn, for persistence.
func (t *Turn) Produced() []core.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Message, len(t.produced))
	copy(out, t.produced)
	return out
}

// Started returns the turn creation time.
func (t *Turn) Started() time.Time { return t.started }

// Ended returns the terminal transition time, zero while active.
func (t *Turn) Ended() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Cancel stops the turn: no further agent steps are scheduled, outstanding
// pending calls resolve as cancelled and a single turn_failed event with kind
// cancelled is emitted. Cancelling a terminal turn returns
// core.ErrTurnAlreadyTerminal.
func (t *Turn) Cancel() error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return core.ErrTurnAlreadyTerminal
	}
	t.mu.Unlock()
	t.cancel()
	return nil
}

// run is the step loop: the single actor advancing the state machine.
func (t *Turn) run(ctx context.Context) {
	defer close(t.done)
	for step := 0; ; step++ {
		if ctx.Err() != nil {
			t.finishCancelled()
			return
		}
		if step >= t.cfg.MaxSteps {
			t.fail(core.FailureInternal, fmt.Sprintf("agent step limit (%d) exceeded", t.cfg.MaxSteps))
			return
		}
		spec, err := t.agents.Resolve(t.currentAgent())
		if err != nil {
			// Unreachable if registry validation held; fail loudly.
			t.fail(core.FailureInternal, err.Error())
			return
		}

		stepResult, err := t.invokeReasoner(ctx, spec)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				t.finishCancelled()
				return
			}
			t.fail(core.FailureInternal, fmt.Sprintf("agent %s reasoning failed: %v", spec.ID, err))
			return
		}
		if ctx.Err() != nil {
			t.finishCancelled()
			return
		}

		switch {
		case stepResult.Handoff != "":
			// Handoff wins over tool calls proposed in the same step; the
			// target agent decides whether to re-request them.
			if len(stepResult.Calls) > 0 {
				t.logger.Debug("discarding tool calls proposed alongside handoff",
					"turn_id", t.id, "agent", spec.ID, "calls", len(stepResult.Calls))
			}
			if !t.agents.CanHandoff(spec.ID, stepResult.Handoff) {
				t.fail(core.FailureInvalidHandoff,
					fmt.Sprintf("agent %s may not hand off to %s", spec.ID, stepResult.Handoff))
				return
			}
			t.mu.Lock()
			t.agentID = stepResult.Handoff
			t.mu.Unlock()
			t.stream.Append(core.NewHandoffEvent(t.id, spec.ID, stepResult.Handoff))
			t.logger.Info("handoff", "turn_id", t.id, "from", spec.ID, "to", stepResult.Handoff)

		case stepResult.Final != nil:
			t.complete(spec.ID, *stepResult.Final)
			return

		case len(stepResult.Calls) > 0:
			t.dispatchBatch(ctx, spec, stepResult.Calls)
			if t.awaitBatch(ctx) {
				t.finishCancelled()
				return
			}
			t.collectBatchResults()

		default:
			t.fail(core.FailureInternal, fmt.Sprintf("agent %s produced an empty step", spec.ID))
			return
		}
	}
}

func (t *Turn) invokeReasoner(ctx context.Context, spec agent.Spec) (agent.Step, error) {
	req := agent.Request{
		Agent:        spec.ID,
		Instructions: spec.Instructions,
		Messages:     t.contextSnapshot(),
		Tools:        t.tools.Definitions(spec.Tools),
		Handoffs:     t.agents.HandoffTargets(spec.ID),
	}
	emit := func(fragment string) {
		if fragment == "" {
			return
		}
		t.stream.Append(core.NewPartialOutputEvent(t.id, spec.ID, fragment))
	}
	return spec.Reasoner.Reason(ctx, req, emit)
}

func (t *Turn) currentAgent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentID
}

func (t *Turn) contextSnapshot() []core.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Turn) appendMessageLocked(m core.Message) {
	t.messages = append(t.messages, m)
	t.produced = append(t.produced, m)
}

func (t *Turn) appendMessage(m core.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendMessageLocked(m)
}

func (t *Turn) complete(agentID, answer string) {
	t.appendMessage(core.NewAssistantMessage(answer))
	t.mu.Lock()
	t.state = StateCompleted
	t.ended = time.Now()
	t.mu.Unlock()
	t.stream.Append(core.NewTurnCompletedEvent(t.id, agentID, answer))
	t.logger.Info("turn completed", "turn_id", t.id, "conversation_id", t.convID, "agent", agentID)
	if t.onDone != nil {
		t.onDone(t)
	}
}

func (t *Turn) fail(kind core.FailureKind, message string) {
	t.mu.Lock()
	agentID := t.agentID
	t.state = StateFailed
	t.ended = time.Now()
	t.mu.Unlock()
	t.stream.Append(core.NewTurnFailedEvent(t.id, agentID, core.Failure{Kind: kind, Message: message}))
	t.logger.Warn("turn failed", "turn_id", t.id, "conversation_id", t.convID, "kind", string(kind), "message", message)
	if t.onDone != nil {
		t.onDone(t)
	}
}

// finishCancelled resolves every outstanding pending call as cancelled and
// emits the single terminal turn_failed(cancelled) event.
func (t *Turn) finishCancelled() {
	t.mu.Lock()
	agentID := t.agentID
	for id, pc := range t.pending {
		pc.timer.Stop()
		result := core.ToolResult{CallID: id, Name: pc.call.Name, Error: "cancelled"}
		t.results[id] = result
		delete(t.pending, id)
		t.stream.Append(core.NewToolCallResultEvent(t.id, agentID, result))
	}
	t.state = StateFailed
	t.ended = time.Now()
	t.mu.Unlock()
	t.stream.Append(core.NewTurnFailedEvent(t.id, agentID, core.Failure{Kind: core.FailureCancelled, Message: "turn cancelled"}))
	t.logger.Info("turn cancelled", "turn_id", t.id, "conversation_id", t.convID)
	if t.onDone != nil {
		t.onDone(t)
	}
}
