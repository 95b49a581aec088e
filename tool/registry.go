package tool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/seafield/agentrelay/core"
)

type registered struct {
	spec   Spec
	schema *jsonschema.Schema
}

// Registry maps tool names to their specifications. Populated during process
// initialization; read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registered
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]registered{}}
}

// Register adds a tool spec, compiling its input schema. Registering a
// duplicate name or an invalid spec is a configuration error.
func (r *Registry) Register(s Spec) error {
	if s.Name == "" {
		return fmt.Errorf("tool spec missing name")
	}
	switch s.Kind {
	case KindServer:
		if s.Fn == nil {
			return fmt.Errorf("server tool %s missing implementation", s.Name)
		}
	case KindClient:
		if s.Fn != nil {
			return fmt.Errorf("client tool %s must not carry an implementation", s.Name)
		}
	default:
		return fmt.Errorf("tool %s has unknown kind %q", s.Name, s.Kind)
	}
	schema, err := compileSchema(s.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", s.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[s.Name]; exists {
		return fmt.Errorf("tool %s already registered", s.Name)
	}
	r.tools[s.Name] = registered{spec: s, schema: schema}
	return nil
}

// Resolve returns the spec for name or core.ErrUnknownTool.
func (r *Registry) Resolve(name string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	return reg.spec, nil
}

// Validate checks args against the tool's compiled input schema. A mismatch
// is returned as *ToolError with code VALIDATION_ERROR.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
	}
	return validate(reg.schema, name, args)
}

// Definitions returns schema-only projections of all registered tools,
// sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		defs = append(defs, reg.spec.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Scope projects the registry for one turn: the process-wide tools plus any
// client tool declarations supplied with the request. Turn-scoped tools
// shadow nothing; declaring a name that already exists is rejected so the
// process-wide spec stays authoritative.
type Scope struct {
	base  *Registry
	extra map[string]registered
}

// Scope builds a turn-scoped view over the registry. Declarations become
// client-kind specs with compiled schemas.
func (r *Registry) Scope(declared []Definition) (*Scope, error) {
	extra := make(map[string]registered, len(declared))
	for _, d := range declared {
		if d.Name == "" {
			return nil, fmt.Errorf("client tool declaration missing name")
		}
		if _, err := r.Resolve(d.Name); err == nil {
			return nil, fmt.Errorf("client tool %s conflicts with a registered tool", d.Name)
		}
		if _, dup := extra[d.Name]; dup {
			return nil, fmt.Errorf("client tool %s declared twice", d.Name)
		}
		schema, err := compileSchema(d.Parameters)
		if err != nil {
			return nil, fmt.Errorf("client tool %s schema: %w", d.Name, err)
		}
		extra[d.Name] = registered{
			spec:   Spec{Name: d.Name, Description: d.Description, Parameters: d.Parameters, Kind: KindClient},
			schema: schema,
		}
	}
	return &Scope{base: r, extra: extra}, nil
}

// Resolve looks up name in the registry, then in the turn-scoped declarations.
func (s *Scope) Resolve(name string) (Spec, error) {
	if spec, err := s.base.Resolve(name); err == nil {
		return spec, nil
	}
	if reg, ok := s.extra[name]; ok {
		return reg.spec, nil
	}
	return Spec{}, fmt.Errorf("%w: %s", core.ErrUnknownTool, name)
}

// Validate checks args against the named tool's schema.
func (s *Scope) Validate(name string, args map[string]any) error {
	if reg, ok := s.extra[name]; ok {
		return validate(reg.schema, name, args)
	}
	return s.base.Validate(name, args)
}

// Definitions returns projections for the allowed registry tools plus every
// turn-scoped declaration, in stable order.
func (s *Scope) Definitions(allowed []string) []Definition {
	defs := make([]Definition, 0, len(allowed)+len(s.extra))
	for _, name := range allowed {
		if spec, err := s.base.Resolve(name); err == nil {
			defs = append(defs, spec.Definition())
		}
	}
	extra := make([]Definition, 0, len(s.extra))
	for _, reg := range s.extra {
		extra = append(extra, reg.spec.Definition())
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(defs, extra...)
}

func validate(schema *jsonschema.Schema, name string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so numeric types match what the validator
	// expects from decoded documents.
	normalized, err := normalizeArgs(args)
	if err != nil {
		return NewToolError(name, fmt.Sprintf("arguments not serializable: %v", err), CodeValidation)
	}
	if err := schema.Validate(normalized); err != nil {
		return NewToolError(name, err.Error(), CodeValidation)
	}
	return nil
}

func normalizeArgs(args map[string]any) (any, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		// Default to empty object schema.
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
