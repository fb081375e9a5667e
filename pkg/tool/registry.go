// Package tool implements C10: the append-only tool registry. Registration
// is one-shot per name; descriptors are pure data plus a handler closure —
// the registry itself does no authorization, quota, or validation beyond
// the declarative input-schema check described below.
package tool

import (
	"context"
	"sync"

	"github.com/odvcencio/dbgate/pkg/adapter"
	dberrors "github.com/odvcencio/dbgate/pkg/errors"
	"github.com/odvcencio/dbgate/pkg/policy"
	"github.com/odvcencio/dbgate/pkg/session"
)

// Handler executes a tool's behavior once the boundary has cleared it
// through authorization, quota, and input validation.
type Handler func(ctx context.Context, sess *session.Context, db adapter.Adapter, input map[string]any) (any, error)

// Validator rejects a malformed field value. It is declarative in the sense
// that it only inspects the value — it never touches SQL, the database, or
// any other tool's state. Adapted from buckley's
// pkg/tool/middleware_validation.go Validator shape.
type Validator func(value any) error

// InputSchema is the closed set of per-field validators a tool declares.
// Required fields missing from input are rejected before any Validator
// runs; fields outside Required are validated only when present.
type InputSchema struct {
	Required   []string
	Validators map[string]Validator
}

// Validate checks input against the schema, short-circuiting on the first
// failure.
func (s InputSchema) Validate(input map[string]any) error {
	for _, field := range s.Required {
		if _, ok := input[field]; !ok {
			return dberrors.New(dberrors.ErrValidationError, "missing required field").WithContext("field", field)
		}
	}
	for field, validator := range s.Validators {
		value, ok := input[field]
		if !ok {
			continue
		}
		if err := validator(value); err != nil {
			return dberrors.Wrap(err, dberrors.ErrValidationError, "field failed validation").WithContext("field", field)
		}
	}
	return nil
}

// Descriptor is one registered tool: spec.md §3's {name, description,
// inputSchema, handler, mutating?} record. There is no separate capability
// target field: the boundary matches grants against Name itself.
type Descriptor struct {
	Name        string
	Description string
	InputSchema InputSchema
	Handler     Handler
	Mutating    bool

	// MutationCategory classifies a Mutating tool for pkg/policy risk
	// scoring. Ignored when Mutating is false.
	MutationCategory policy.Category
}

// Registry is an append-only map of tool name to Descriptor.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a tool. Re-registering an existing name is an error — the
// registry is append-only for the lifetime of the process.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return dberrors.New(dberrors.ErrInternal, "tool already registered").WithContext("name", d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// Lookup returns the descriptor for name, or TOOL_NOT_FOUND.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Descriptor{}, dberrors.New(dberrors.ErrToolNotFound, "tool not found").WithContext("name", name)
	}
	return d, nil
}

// List projects every registered descriptor for discovery (tools/list).
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}
