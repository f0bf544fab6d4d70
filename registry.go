package deepdelta

import (
	"reflect"
	"sync"
)

// Comparator is a specialized pairwise comparison for one concrete type.
// Both operands are guaranteed to have that runtime type when called.
type Comparator func(a, b any, ctx *Context) bool

// Registry maps concrete runtime types to specialized comparators. It is
// process-wide shared mutable state: registration and lookup are safe from
// any goroutine without caller-side synchronization. A negative cache
// records types with no comparator so repeated misses cost a single map
// read; it is a best-effort optimization and never affects correctness.
type Registry struct {
	mu          sync.RWMutex
	comparators map[reflect.Type]Comparator
	negative    map[reflect.Type]struct{}
}

// NewRegistry returns an empty registry. Most callers use DefaultRegistry;
// tests inject their own to stay independent.
func NewRegistry() *Registry {
	return &Registry{
		comparators: map[reflect.Type]Comparator{},
		negative:    map[reflect.Type]struct{}{},
	}
}

// DefaultRegistry is the registry consulted by the package-level entry
// points and by engines constructed without an explicit registry.
var DefaultRegistry = NewRegistry()

// Register installs cmp as the comparator for prototype's type. Last
// writer wins, and any negative-cache entry for the type is cleared.
func (r *Registry) Register(prototype any, cmp Comparator) {
	t := reflect.TypeOf(prototype)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparators[t] = cmp
	delete(r.negative, t)
}

// TryCompare compares a and b with the comparator registered for t, if
// any. handled is false when no comparator is known; the miss is recorded
// in the negative cache first.
func (r *Registry) TryCompare(t reflect.Type, a, b any, ctx *Context) (handled, equal bool) {
	r.mu.RLock()
	cmp, ok := r.comparators[t]
	if !ok {
		_, negative := r.negative[t]
		r.mu.RUnlock()
		if !negative {
			r.mu.Lock()
			// re-check: a Register may have landed in between
			if cmp, ok = r.comparators[t]; !ok {
				r.negative[t] = struct{}{}
			}
			r.mu.Unlock()
		}
		if !ok {
			return false, false
		}
		return true, cmp(a, b, ctx)
	}
	r.mu.RUnlock()
	return true, cmp(a, b, ctx)
}

// lookup returns the comparator for t without touching the negative cache.
func (r *Registry) lookup(t reflect.Type) (Comparator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmp, ok := r.comparators[t]
	return cmp, ok
}
