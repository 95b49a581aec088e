// Package session is the persistence boundary of the engine. The core
// consults a Store on turn start (last active agent, message history) and on
// turn termination (append the finished turn). The engine embeds no storage
// logic beyond this interface.
package session

import (
	"time"

	"github.com/seafield/agentrelay/core"
)

// TurnRecord summarizes one finished turn for the conversation history.
type TurnRecord struct {
	TurnID  string       `json:"turn_id"`
	Agent   string       `json:"agent"` // agent active at termination
	State   string       `json:"state"` // "completed" or "failed"
	Events  []core.Event `json:"events"`
	Started time.Time    `json:"started"`
	Ended   time.Time    `json:"ended"`
}

// Conversation owns the append-only history of completed turns plus the
// message log fed to reasoners as context.
type Conversation struct {
	ID          string         `json:"id"`
	ActiveAgent string         `json:"active_agent"`
	Messages    []core.Message `json:"messages"`
	Turns       []TurnRecord   `json:"turns"`
	Created     time.Time      `json:"created"`
	Updated     time.Time      `json:"updated"`
}

// Store is the persistence collaborator contract.
type Store interface {
	// Get returns the conversation record, creating it lazily.
	Get(conversationID string) (*Conversation, error)
	// AppendTurn appends a finished turn together with the messages it
	// produced and records the agent a follow-up turn should start with.
	AppendTurn(conversationID string, rec TurnRecord, messages []core.Message, activeAgent string) error
}
