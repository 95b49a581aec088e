package agent

import (
	"fmt"
	"slices"
	"sort"

	"github.com/seafield/agentrelay/core"
)

// Registry resolves agent identifiers to their immutable specs. Handoff
// targets are validated against the registry when specs are loaded, so an
// unknown identifier is a startup error and never encountered mid-turn.
type Registry struct {
	specs     map[string]Spec
	defaultID string
}

// NewRegistry builds a registry from the given specs. defaultID names the
// triage agent used for conversations without a recorded active agent.
func NewRegistry(defaultID string, specs ...Spec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no agents configured")
	}
	byID := make(map[string]Spec, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("agent spec missing id")
		}
		if s.Reasoner == nil {
			return nil, fmt.Errorf("agent %s missing reasoner", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("agent %s registered twice", s.ID)
		}
		byID[s.ID] = s
	}
	for _, s := range specs {
		for _, target := range s.Handoffs {
			if _, ok := byID[target]; !ok {
				return nil, fmt.Errorf("agent %s: handoff target %s: %w", s.ID, target, core.ErrUnknownAgent)
			}
			if target == s.ID {
				return nil, fmt.Errorf("agent %s lists itself as handoff target", s.ID)
			}
		}
	}
	if _, ok := byID[defaultID]; !ok {
		return nil, fmt.Errorf("default agent %s: %w", defaultID, core.ErrUnknownAgent)
	}
	return &Registry{specs: byID, defaultID: defaultID}, nil
}

// Resolve returns the spec for id or core.ErrUnknownAgent.
func (r *Registry) Resolve(id string) (Spec, error) {
	s, ok := r.specs[id]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", core.ErrUnknownAgent, id)
	}
	return s, nil
}

// Default returns the spec of the default (triage) agent.
func (r *Registry) Default() Spec { return r.specs[r.defaultID] }

// HandoffTargets returns the allowed transfer targets of id, empty for an
// unknown agent.
func (r *Registry) HandoffTargets(id string) []string {
	s, ok := r.specs[id]
	if !ok {
		return nil
	}
	return slices.Clone(s.Handoffs)
}

// CanHandoff reports whether from is allowed to transfer control to to.
func (r *Registry) CanHandoff(from, to string) bool {
	s, ok := r.specs[from]
	if !ok {
		return false
	}
	return slices.Contains(s.Handoffs, to)
}

// IDs returns all registered agent identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.specs))
	for id := range r.specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
