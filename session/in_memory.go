package session

import (
	"slices"
	"sync"
	"time"

	"github.com/seafield/agentrelay/core"
)

// InMemoryStore is a volatile Store implementation keeping conversations in a
// process-local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned conversations are cloned to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*Conversation)}
}

// Get returns an existing conversation (clone) or creates a new one lazily.
func (s *InMemoryStore) Get(conversationID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = s.createLocked(conversationID)
	}
	return cloneConversation(conv), nil
}

// AppendTurn appends a finished turn, its messages and the last active agent.
func (s *InMemoryStore) AppendTurn(conversationID string, rec TurnRecord, messages []core.Message, activeAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = s.createLocked(conversationID)
	}
	conv.Turns = append(conv.Turns, rec)
	conv.Messages = append(conv.Messages, messages...)
	if activeAgent != "" {
		conv.ActiveAgent = activeAgent
	}
	conv.Updated = time.Now()
	return nil
}

func (s *InMemoryStore) createLocked(conversationID string) *Conversation {
	now := time.Now()
	conv := &Conversation{ID: conversationID, Created: now, Updated: now}
	s.conversations[conversationID] = conv
	return conv
}

func cloneConversation(c *Conversation) *Conversation {
	clone := *c
	clone.Messages = slices.Clone(c.Messages)
	clone.Turns = slices.Clone(c.Turns)
	return &clone
}
