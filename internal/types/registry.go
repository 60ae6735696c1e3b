// Package types holds the shape/typedef registry and the value validator.
package types

import (
	"reflect"
	"sync"

	"github.com/rgthelen/alp/pkg/schema"
)

// Registry stores shape and type definitions. Immutable after program load;
// safe for concurrent reads across invocations.
type Registry struct {
	mu     sync.RWMutex
	shapes map[string]*schema.Shape
	defs   map[string]*schema.TypeDef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		shapes: make(map[string]*schema.Shape),
		defs:   make(map[string]*schema.TypeDef),
	}
}

// RegisterShape adds a shape. Re-registering an identical body is a no-op;
// a conflicting body fails with ErrDuplicate.
func (r *Registry) RegisterShape(s *schema.Shape) error {
	if s == nil || s.ID == "" {
		return schema.NewError(schema.ErrSyntax, "shape is missing an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.shapes[s.ID]; ok {
		if reflect.DeepEqual(existing, s) {
			return nil
		}
		return schema.NewErrorf(schema.ErrDuplicate, "shape %q already registered with a different body", s.ID)
	}
	if _, ok := r.defs[s.ID]; ok {
		return schema.NewErrorf(schema.ErrDuplicate, "id %q already registered as a type definition", s.ID)
	}
	r.shapes[s.ID] = s
	return nil
}

// RegisterDef adds a type definition with the same duplicate rules.
func (r *Registry) RegisterDef(d *schema.TypeDef) error {
	if d == nil || d.ID == "" {
		return schema.NewError(schema.ErrSyntax, "type definition is missing an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.defs[d.ID]; ok {
		if reflect.DeepEqual(existing, d) {
			return nil
		}
		return schema.NewErrorf(schema.ErrDuplicate, "def %q already registered with a different body", d.ID)
	}
	if _, ok := r.shapes[d.ID]; ok {
		return schema.NewErrorf(schema.ErrDuplicate, "id %q already registered as a shape", d.ID)
	}
	r.defs[d.ID] = d
	return nil
}

// Shape looks up a shape by id.
func (r *Registry) Shape(id string) (*schema.Shape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shapes[id]
	return s, ok
}

// Def looks up a type definition by id.
func (r *Registry) Def(id string) (*schema.TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// Has reports whether an id is registered as either a shape or a def.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, s := r.shapes[id]
	_, d := r.defs[id]
	return s || d
}
