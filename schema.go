package deepdelta

import (
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Schema is the collection of member descriptor tables the engines consult
// when traversing typed values. Types without a registered descriptor get a
// derived one: every exported field, in declaration order, compared Deep.
// A Schema is safe for concurrent use.
type Schema struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*TypeDescriptor
	byName map[string]reflect.Type

	// derived caches reflection-built descriptors; group dedupes
	// concurrent builds for the same type.
	derived sync.Map // reflect.Type -> *TypeDescriptor
	group   singleflight.Group
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{
		byType: map[reflect.Type]*TypeDescriptor{},
		byName: map[string]reflect.Type{},
	}
}

// DefaultSchema is used by the package-level entry points and by engines
// constructed without an explicit schema.
var DefaultSchema = NewSchema()

// Describe registers td as the descriptor for prototype's type. Pointer
// prototypes describe their element type. Registration is last-writer-wins.
func (s *Schema) Describe(prototype any, td *TypeDescriptor) error {
	t := reflect.TypeOf(prototype)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("descriptor prototype must be a struct, got %T", prototype)
	}
	if td.Name == "" {
		td.Name = t.Name()
	}
	for i := range td.Members {
		if _, ok := t.FieldByName(td.Members[i].Name); !ok {
			return fmt.Errorf("%s has no field %q", t, td.Members[i].Name)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byType[t] = td
	s.byName[td.Name] = t
	return nil
}

// TypeOf returns the struct type registered under name.
func (s *Schema) TypeOf(name string) (reflect.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, name)
	}
	return t, nil
}

// nameFor returns the registered descriptor name for a struct type.
func (s *Schema) nameFor(t reflect.Type) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td, ok := s.byType[t]
	if !ok {
		return "", false
	}
	return td.Name, true
}

// Descriptors returns the registered descriptors keyed by type name.
func (s *Schema) Descriptors() map[string]*TypeDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*TypeDescriptor, len(s.byName))
	for name, t := range s.byName {
		out[name] = s.byType[t]
	}
	return out
}

// descriptorFor returns the descriptor for a struct type, deriving and
// caching one from the type's exported fields when none is registered.
func (s *Schema) descriptorFor(t reflect.Type) *TypeDescriptor {
	s.mu.RLock()
	td, ok := s.byType[t]
	s.mu.RUnlock()
	if ok {
		return td
	}
	if cached, ok := s.derived.Load(t); ok {
		return cached.(*TypeDescriptor)
	}
	v, _, _ := s.group.Do(t.String(), func() (any, error) {
		if cached, ok := s.derived.Load(t); ok {
			return cached, nil
		}
		td := deriveDescriptor(t)
		s.derived.Store(t, td)
		return td, nil
	})
	return v.(*TypeDescriptor)
}

// deriveDescriptor builds the fallback descriptor: all exported fields in
// declaration order, compared Deep, ordered collections.
func deriveDescriptor(t reflect.Type) *TypeDescriptor {
	td := &TypeDescriptor{Name: t.Name(), Indexing: IndexAuto}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		td.Members = append(td.Members, Member{Name: f.Name})
	}
	return td
}
