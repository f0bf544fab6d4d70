package deepdelta

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// Engine binds a Schema, a Registry, and comparison Options into the three
// entry points: Equal, Diff, and ComputeDelta/ApplyDelta. An Engine is
// immutable after construction and safe for concurrent use; each call gets
// its own Context.
type Engine struct {
	schema   *Schema
	registry *Registry
	opts     []Option
}

// New returns an engine over DefaultSchema and DefaultRegistry.
func New(opts ...Option) *Engine {
	return NewWith(DefaultSchema, DefaultRegistry, opts...)
}

// NewWith returns an engine over an explicit schema and registry. Tests
// inject fresh instances here to stay independent of process-wide state.
func NewWith(schema *Schema, registry *Registry, opts ...Option) *Engine {
	if schema == nil {
		schema = DefaultSchema
	}
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Engine{schema: schema, registry: registry, opts: opts}
}

// Equal reports whether a and b are structurally equal.
func Equal(a, b any, opts ...Option) bool {
	return New(opts...).Equal(a, b)
}

// Equal reports whether a and b are structurally equal under the engine's
// schema and options.
func (e *Engine) Equal(a, b any) bool {
	ctx := NewContext(e.opts...)
	defer ctx.release()
	return e.EqualContext(ctx, a, b)
}

// EqualContext is Equal with a caller-supplied Context, letting callers of
// known-acyclic graphs pass NoTrackingContext to skip cycle bookkeeping.
func (e *Engine) EqualContext(ctx *Context, a, b any) bool {
	return e.equalValue(reflect.ValueOf(a), reflect.ValueOf(b), nil, ctx)
}

var timeType = reflect.TypeOf(time.Time{})

// equalValue is the recursive dispatch at the heart of the engine. m is the
// declaring member's policy, nil at the root and inside collections.
func (e *Engine) equalValue(a, b reflect.Value, m *Member, ctx *Context) bool {
	if m != nil && m.Kind == Skip {
		return true
	}
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}

	// object-typed and polymorphic members arrive as interfaces: unwrap,
	// require identical runtime types, and give registered comparators
	// first shot before falling back to structural traversal
	if a.Kind() == reflect.Interface || b.Kind() == reflect.Interface {
		return e.equalDynamic(a, b, m, ctx)
	}

	if a.Type() != b.Type() {
		return false
	}

	switch m.policy() {
	case Shallow:
		return nativeEqual(a, b)
	case Reference:
		return identityEqual(a, b)
	}

	switch a.Kind() {
	case reflect.Bool:
		return a.Bool() == b.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// named integer types (enums) compare by underlying value
		return a.Int() == b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return a.Uint() == b.Uint()
	case reflect.Float32:
		return floatsEqual(a.Float(), b.Float(), e.epsilonFor(reflect.Float32, m, ctx), ctx.opts.treatNaNEqual)
	case reflect.Float64:
		return floatsEqual(a.Float(), b.Float(), e.epsilonFor(reflect.Float64, m, ctx), ctx.opts.treatNaNEqual)
	case reflect.Complex64, reflect.Complex128:
		return a.Complex() == b.Complex()
	case reflect.String:
		return ctx.opts.stringsEqual(a.String(), b.String())

	case reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		if a.Pointer() == b.Pointer() {
			// identical references are equal without recursing; this
			// also closes cycles that are structurally identical by
			// sharing before cycle tracking is consulted
			return true
		}
		if ctx.enter(a, b) {
			return true
		}
		eq := e.equalValue(a.Elem(), b.Elem(), m, ctx)
		ctx.exit(a, b)
		return eq

	case reflect.Struct:
		if a.Type() == timeType {
			return temporalEqual(a.Interface().(time.Time), b.Interface().(time.Time))
		}
		return e.equalStruct(a, b, ctx)

	case reflect.Slice:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		if a.Pointer() == b.Pointer() && a.Len() == b.Len() {
			return true
		}
		if ctx.enter(a, b) {
			return true
		}
		eq := e.equalSequence(a, b, m, ctx)
		ctx.exit(a, b)
		return eq

	case reflect.Array:
		// shape lives in the array type, which already matched; a jagged
		// slice-of-slices never reaches here with a rectangular array
		return e.equalSequence(a, b, m, ctx)

	case reflect.Map:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		if a.Pointer() == b.Pointer() {
			return true
		}
		if ctx.enter(a, b) {
			return true
		}
		eq := e.equalMap(a, b, ctx)
		ctx.exit(a, b)
		return eq

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return identityEqual(a, b)

	default:
		return nativeEqual(a, b)
	}
}

// equalDynamic handles interface-typed operands: schema-less data,
// object-typed members, and polymorphic references.
func (e *Engine) equalDynamic(a, b reflect.Value, m *Member, ctx *Context) bool {
	if a.Kind() == reflect.Interface {
		if a.IsNil() {
			return b.Kind() == reflect.Interface && b.IsNil()
		}
		a = a.Elem()
	}
	if b.Kind() == reflect.Interface {
		if b.IsNil() {
			return false // a is known non-nil here
		}
		b = b.Elem()
	}

	if a.Type() != b.Type() {
		// the schema-less path alone compares numbers across runtime
		// types, so 1 and 1.0 read from mixed sources still match
		if na, ok := numericValue(a); ok {
			if nb, ok := numericValue(b); ok {
				return floatsEqual(na, nb, ctx.opts.doubleEpsilon, ctx.opts.treatNaNEqual)
			}
		}
		return false
	}

	if handled, eq := e.registry.TryCompare(a.Type(), a.Interface(), b.Interface(), ctx); handled {
		return eq
	}
	return e.equalValue(a, b, m, ctx)
}

func (e *Engine) equalStruct(a, b reflect.Value, ctx *Context) bool {
	td := e.schema.descriptorFor(a.Type())
	for i := range td.Members {
		mem := &td.Members[i]
		if mem.Kind == Skip {
			continue
		}
		fa := a.FieldByName(mem.Name)
		fb := b.FieldByName(mem.Name)
		if !e.equalValue(fa, fb, mem, ctx) {
			return false
		}
	}
	return true
}

func (e *Engine) equalSequence(a, b reflect.Value, m *Member, ctx *Context) bool {
	if a.Len() != b.Len() {
		return false
	}
	if m != nil && m.OrderInsensitive {
		return e.equalUnordered(a, b, m, ctx)
	}
	for i := 0; i < a.Len(); i++ {
		if !e.equalValue(a.Index(i), b.Index(i), nil, ctx) {
			return false
		}
	}
	return true
}

// equalUnordered performs multiset comparison via greedy bipartite
// matching: equal iff a perfect matching exists. With key members declared,
// candidates are first narrowed to same-key buckets; duplicate keys are
// matched 1:1 by count. O(n²) worst case, no hash requirement on elements.
func (e *Engine) equalUnordered(a, b reflect.Value, m *Member, ctx *Context) bool {
	n := a.Len()
	used := make([]bool, n)

	// bucket right-side elements by a rendered key only when rendering
	// cannot diverge from key equality: every key member must compare
	// exactly (no collation, no epsilon, no signed-zero folding). The
	// render is a prefilter; real key equality is still checked per
	// candidate.
	var buckets map[string][]int
	if len(m.KeyMembers) > 0 && bucketableKeys(a.Type().Elem(), m.KeyMembers, ctx.opts) {
		buckets = make(map[string][]int, n)
		for j := 0; j < n; j++ {
			k := e.renderKey(b.Index(j), m.KeyMembers)
			buckets[k] = append(buckets[k], j)
		}
	}

outer:
	for i := 0; i < n; i++ {
		av := a.Index(i)
		candidates := allIndices(n)
		if buckets != nil {
			candidates = buckets[e.renderKey(av, m.KeyMembers)]
		}
		for _, j := range candidates {
			if used[j] {
				continue
			}
			bv := b.Index(j)
			if len(m.KeyMembers) > 0 && !e.keysEqual(av, bv, m.KeyMembers, ctx) {
				continue
			}
			if e.equalValue(av, bv, nil, ctx) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// bucketableKeys reports whether every declared key member of the element
// type compares byte-for-byte with its rendering: booleans, integers, and
// ordinal-mode strings. Floats are excluded (signed zeros and epsilons),
// as is anything structural or dynamic; those fall back to the full scan.
func bucketableKeys(t reflect.Type, keys []string, o *Options) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for _, name := range keys {
		f, ok := t.FieldByName(name)
		if !ok {
			return false
		}
		switch f.Type.Kind() {
		case reflect.String:
			if o.stringMode != StringOrdinal {
				return false
			}
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return false
		}
	}
	return true
}

// keysEqual compares the declared key members of two sequence elements.
func (e *Engine) keysEqual(a, b reflect.Value, keys []string, ctx *Context) bool {
	a, b = indirect(a), indirect(b)
	if a.Kind() != reflect.Struct || b.Kind() != reflect.Struct {
		return false
	}
	for _, name := range keys {
		fa := a.FieldByName(name)
		fb := b.FieldByName(name)
		if !e.equalValue(fa, fb, nil, ctx) {
			return false
		}
	}
	return true
}

// renderKey builds the bucket string for an element's key members.
func (e *Engine) renderKey(v reflect.Value, keys []string) string {
	v = indirect(v)
	if v.Kind() != reflect.Struct {
		return ""
	}
	key := ""
	for _, name := range keys {
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return ""
		}
		key += fmt.Sprintf("%v\x00", f.Interface())
	}
	return key
}

func (e *Engine) equalMap(a, b reflect.Value, ctx *Context) bool {
	if a.Len() != b.Len() {
		return false
	}
	iter := a.MapRange()
	for iter.Next() {
		bv := b.MapIndex(iter.Key())
		if !bv.IsValid() {
			return false
		}
		if !e.equalValue(iter.Value(), bv, nil, ctx) {
			return false
		}
	}
	return true
}

// epsilonFor picks the tolerance for a floating-point member.
func (e *Engine) epsilonFor(k reflect.Kind, m *Member, ctx *Context) float64 {
	if m != nil && m.Decimal {
		return ctx.opts.decimalEpsilon
	}
	if k == reflect.Float32 {
		return ctx.opts.floatEpsilon
	}
	return ctx.opts.doubleEpsilon
}

func floatsEqual(a, b, eps float64, treatNaNEqual bool) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return treatNaNEqual && math.IsNaN(a) && math.IsNaN(b)
	}
	if eps == 0 {
		return a == b // +0.0 equals -0.0 here
	}
	return math.Abs(a-b) <= eps
}

// temporalEqual requires the same instant and the same zone offset: two
// values naming one instant through different offsets are not equal.
func temporalEqual(a, b time.Time) bool {
	if !a.Equal(b) {
		return false
	}
	_, oa := a.Zone()
	_, ob := b.Zone()
	return oa == ob
}

// nativeEqual is the Shallow policy: the value's own equality, no
// recursion.
func nativeEqual(a, b reflect.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	if a.Comparable() {
		return a.Equal(b)
	}
	if !a.CanInterface() || !b.CanInterface() {
		return false
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

// identityEqual is the Reference policy: identity only.
func identityEqual(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		return a.Pointer() == b.Pointer()
	default:
		return nativeEqual(a, b)
	}
}

// numericValue widens any integer or float to float64 for the schema-less
// cross-type comparison.
func numericValue(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

// policy returns the member's comparison kind, Deep when no member applies.
func (m *Member) policy() Kind {
	if m == nil {
		return Deep
	}
	return m.Kind
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
