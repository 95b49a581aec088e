// Package runner supervises turns: it owns the conversation-to-active-turn
// mapping, enforces per-conversation exclusivity, routes client tool
// resolutions into the right turn, and notifies persistence on terminal
// transitions.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/seafield/agentrelay/agent"
	"github.com/seafield/agentrelay/core"
	"github.com/seafield/agentrelay/engine"
	"github.com/seafield/agentrelay/logging"
	"github.com/seafield/agentrelay/session"
	"github.com/seafield/agentrelay/tool"
)

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// Engine configuration (timeouts, step limit).
	Engine engine.Config
	// Store is the persistence collaborator.
	Store session.Store
	// Logger receives structured orchestration logs.
	Logger logging.Logger
}

// Runner coordinates turn execution. Public methods are safe for concurrent
// use; mutation of an individual turn is serialized inside the engine.
type Runner struct {
	agents *agent.Registry
	tools  *tool.Registry
	store  session.Store
	logger logging.Logger
	cfg    engine.Config

	mu     sync.Mutex
	active map[string]*engine.Turn // conversation id -> active turn
	turns  map[string]*engine.Turn // turn id -> turn, retained past termination
}

// New constructs a Runner with optional overrides.
func New(agents *agent.Registry, tools *tool.Registry, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Engine: engine.DefaultConfig(),
		Store:  session.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Engine.Logger = opts.Logger
	return &Runner{
		agents: agents,
		tools:  tools,
		store:  opts.Store,
		logger: opts.Logger,
		cfg:    opts.Engine,
		active: map[string]*engine.Turn{},
		turns:  map[string]*engine.Turn{},
	}
}

// StartOptions customize a single turn.
type StartOptions struct {
	// ClientTools are caller-declared client-delegated tools scoped to this
	// turn; they extend the registry view without mutating it.
	ClientTools []tool.Definition
}

// StartTurn creates and launches the turn for a new user message. It fails
// with core.ErrTurnAlreadyActive when the conversation already has a turn in
// flight; no event is emitted for a rejected attempt. The turn starts with
// the conversation's last active agent, falling back to the default triage
// agent.
func (r *Runner) StartTurn(ctx context.Context, conversationID, userMessage string, optFns ...func(o *StartOptions)) (*engine.Turn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var opts StartOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	conv, err := r.store.Get(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	startAgent := conv.ActiveAgent
	if _, err := r.agents.Resolve(startAgent); err != nil {
		startAgent = r.agents.Default().ID
	}
	scope, err := r.tools.Scope(opts.ClientTools)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.active[conversationID]; exists {
		r.mu.Unlock()
		return nil, core.ErrTurnAlreadyActive
	}
	turn := engine.NewTurn(conversationID, startAgent, r.agents, scope, conv.Messages, userMessage, r.cfg, r.finishTurn)
	r.active[conversationID] = turn
	r.turns[turn.ID()] = turn
	r.mu.Unlock()

	r.logger.Info("turn started",
		"turn_id", turn.ID(), "conversation_id", conversationID, "agent", startAgent)
	turn.Start()
	return turn, nil
}

// ResolveClientCall routes a client tool resolution into the owning turn.
func (r *Runner) ResolveClientCall(turnID, callID string, res engine.ClientResult) error {
	turn, err := r.Turn(turnID)
	if err != nil {
		return err
	}
	return turn.ResolveClientCall(callID, res)
}

// Cancel requests cooperative termination of an in-flight turn.
func (r *Runner) Cancel(turnID string) error {
	turn, err := r.Turn(turnID)
	if err != nil {
		return err
	}
	return turn.Cancel()
}

// Turn returns the turn for id, terminal or not, or core.ErrUnknownTurn.
func (r *Runner) Turn(turnID string) (*engine.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn, ok := r.turns[turnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTurn, turnID)
	}
	return turn, nil
}

// ActiveTurn returns the conversation's in-flight turn, if any.
func (r *Runner) ActiveTurn(conversationID string) (*engine.Turn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turn, ok := r.active[conversationID]
	return turn, ok
}

// finishTurn runs on the turn's goroutine after the terminal event: it clears
// the active-turn slot (allowing a new turn to start) and hands the finished
// turn to persistence.
func (r *Runner) finishTurn(t *engine.Turn) {
	r.mu.Lock()
	if r.active[t.ConversationID()] == t {
		delete(r.active, t.ConversationID())
	}
	r.mu.Unlock()

	rec := session.TurnRecord{
		TurnID:  t.ID(),
		Agent:   t.AgentID(),
		State:   string(t.State()),
		Events:  t.Events(),
		Started: t.Started(),
		Ended:   t.Ended(),
	}
	if err := r.store.AppendTurn(t.ConversationID(), rec, t.Produced(), t.AgentID()); err != nil {
		r.logger.Error("failed to persist turn",
			"turn_id", t.ID(), "conversation_id", t.ConversationID(), "error", err.Error())
	}
}
