package possync

import (
	"fmt"
	"reflect"
	"strings"
)

// Entry binds an entity name to its storage handle.
type Entry struct {
	Name   string
	Handle Handle
}

// Scoped reports whether rows of the entity belong to one establishment.
func (e Entry) Scoped() bool { return e.Handle.Scope() != ScopeGlobal }

// Registry maps entity names to handles. It is built once at startup and read-only afterwards,
// so it is safe for concurrent use without locking.
type Registry struct {
	entries []Entry
	byName  map[string]Entry
	byType  map[reflect.Type]Entry
}

// RequiredGlobals must be registered as global entities; reconciliation pulls them first.
var RequiredGlobals = []string{"establishment", "role"}

// NewRegistry validates the entries and builds the registry.
// Duplicate names, nil handles or a missing required global are configuration errors.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]Entry, len(entries)),
		byType:  make(map[reflect.Type]Entry, len(entries)),
	}
	for _, e := range entries {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" {
			return nil, fmt.Errorf("registry: entity name is required")
		}
		if e.Handle == nil {
			return nil, fmt.Errorf("registry: entity %q has no handle", name)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("registry: entity %q registered twice", name)
		}
		typ := e.Handle.ModelType()
		if prev, dup := r.byType[typ]; dup {
			return nil, fmt.Errorf("registry: model %s registered as %q and %q", typ.Name(), prev.Name, name)
		}
		e.Name = name
		r.entries = append(r.entries, e)
		r.byName[name] = e
		r.byType[typ] = e
	}
	for _, g := range RequiredGlobals {
		e, ok := r.byName[g]
		if !ok {
			return nil, fmt.Errorf("registry: required global entity %q is missing", g)
		}
		if e.Scoped() {
			return nil, fmt.Errorf("registry: entity %q must be global", g)
		}
	}
	return r, nil
}

// Resolve looks an entity up by name, case-insensitively.
func (r *Registry) Resolve(name string) (Entry, error) {
	e, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownEntityType, name)
	}
	return e, nil
}

// ResolveModel finds the entry whose handle stores values of typ.
func (r *Registry) ResolveModel(typ reflect.Type) (Entry, bool) {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	e, ok := r.byType[typ]
	return e, ok
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Globals() []Entry {
	var out []Entry
	for _, e := range r.entries {
		if !e.Scoped() {
			out = append(out, e)
		}
	}
	return out
}

func (r *Registry) ScopedEntries() []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.Scoped() {
			out = append(out, e)
		}
	}
	return out
}
