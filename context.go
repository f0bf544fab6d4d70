package deepdelta

import (
	"reflect"
	"sync"
)

// visitKey identifies a pair of operands by reference identity, not value.
type visitKey struct {
	a, b uintptr
	t    reflect.Type
}

// Context carries the per-invocation state of a comparison: the active
// Options plus the set of reference pairs currently on the recursion stack.
// A Context must not be shared between concurrent comparisons; its visited
// set is mutated in place during traversal. Options may be shared freely.
type Context struct {
	opts    *Options
	visited map[visitKey]struct{}
	track   bool
}

var visitedPool = sync.Pool{
	New: func() any {
		return make(map[visitKey]struct{})
	},
}

// NewContext returns a Context with cycle tracking enabled.
func NewContext(opts ...Option) *Context {
	return &Context{
		opts:    newOptions(opts),
		visited: visitedPool.Get().(map[visitKey]struct{}),
		track:   true,
	}
}

// noTracking is shared by comparisons of graphs known to be acyclic. It is
// safe to share because a non-tracking Context is never mutated.
var noTracking = &Context{opts: newOptions(nil)}

// NoTrackingContext returns a shared Context with cycle detection disabled,
// for graphs the caller knows to be acyclic. Comparing a cyclic graph with
// it recurses without bound.
func NoTrackingContext() *Context { return noTracking }

// Options returns the context's active options.
func (c *Context) Options() *Options { return c.opts }

// release returns the visited set to the pool. Called by the engine after a
// top-level comparison completes.
func (c *Context) release() {
	if !c.track || c.visited == nil {
		return
	}
	clear(c.visited)
	visitedPool.Put(c.visited)
	c.visited = nil
}

// enter records that the pair (a, b) is being compared. It reports true if
// the same pair is already on the recursion stack, in which case the caller
// must treat the subtree as equal and not recurse. Every enter that returns
// false must be balanced by an exit, success or failure.
func (c *Context) enter(a, b reflect.Value) (revisit bool) {
	if !c.track {
		return false
	}
	k := visitKey{a.Pointer(), b.Pointer(), a.Type()}
	if _, ok := c.visited[k]; ok {
		return true
	}
	c.visited[k] = struct{}{}
	return false
}

// exit removes the pair (a, b) from the recursion stack so that sibling
// subtrees do not inherit visited state from unrelated ancestors.
func (c *Context) exit(a, b reflect.Value) {
	if !c.track {
		return
	}
	delete(c.visited, visitKey{a.Pointer(), b.Pointer(), a.Type()})
}
