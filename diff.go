package deepdelta

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/gobwas/glob"
)

// ChangeType labels one entry of a diff report.
type ChangeType string

const (
	// CTInsert marks a member or element present only on the right side.
	CTInsert = ChangeType("+")
	// CTDelete marks a member or element present only on the left side.
	CTDelete = ChangeType("-")
	// CTUpdate marks a leaf whose value differs between the two sides.
	CTUpdate = ChangeType("~")
)

// Change describes one differing member. Path is a JSON-pointer-style
// string locating the member in the graph, per RFC 6901.
type Change struct {
	Type   ChangeType `json:"type"`
	Path   string     `json:"path"`
	Before any        `json:"before,omitempty"`
	After  any        `json:"after,omitempty"`
}

// Changes is a diff report: every differing member in traversal order.
type Changes []*Change

// HasDifference reports whether the diff found anything.
func (cs Changes) HasDifference() bool { return len(cs) > 0 }

// DiffConfig collects the optional parameters of a diff.
type DiffConfig struct {
	// IgnorePaths holds glob patterns; changes whose path matches any
	// pattern are dropped from the report.
	IgnorePaths []string
	// Stats, when non-nil, is populated with change counts.
	Stats *Stats
}

// DiffOption adjusts a DiffConfig; zero or more can be passed to Diff.
type DiffOption func(*DiffConfig)

// IgnorePaths drops changes whose path matches any of the glob patterns.
func IgnorePaths(patterns ...string) DiffOption {
	return func(cfg *DiffConfig) {
		cfg.IgnorePaths = append(cfg.IgnorePaths, patterns...)
	}
}

// OptionSetStats will populate st with change counts when Diff returns.
func OptionSetStats(st *Stats) DiffOption {
	return func(cfg *DiffConfig) {
		cfg.Stats = st
	}
}

// Diff compares a and b with the default engine and reports every
// differing member.
func Diff(a, b any, opts ...DiffOption) (Changes, error) {
	return New().Diff(a, b, opts...)
}

// Diff traverses a and b exactly as Equal does but, instead of stopping at
// the first inequality, records every differing member. A cycle that
// closes is reported as no difference at that point, matching equality
// semantics.
func (e *Engine) Diff(a, b any, opts ...DiffOption) (Changes, error) {
	cfg := &DiffConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	d := &differ{e: e, ctx: NewContext(e.opts...)}
	defer d.ctx.release()
	for _, pat := range cfg.IgnorePaths {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", pat, err)
		}
		d.globs = append(d.globs, g)
	}

	d.diffValue(reflect.ValueOf(a), reflect.ValueOf(b), nil, "")

	if cfg.Stats != nil {
		for _, c := range d.changes {
			switch c.Type {
			case CTInsert:
				cfg.Stats.Inserts++
			case CTDelete:
				cfg.Stats.Deletes++
			case CTUpdate:
				cfg.Stats.Updates++
			}
		}
	}
	return d.changes, nil
}

// differ is the state of one diff traversal.
type differ struct {
	e       *Engine
	ctx     *Context
	globs   []glob.Glob
	changes Changes
}

func (d *differ) record(t ChangeType, path string, before, after any) {
	for _, g := range d.globs {
		if g.Match(path) {
			return
		}
	}
	d.changes = append(d.changes, &Change{Type: t, Path: path, Before: before, After: after})
}

func (d *differ) update(path string, a, b reflect.Value) {
	d.record(CTUpdate, path, valueOrNil(a), valueOrNil(b))
}

func valueOrNil(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

func (d *differ) diffValue(a, b reflect.Value, m *Member, path string) {
	if m != nil && m.Kind == Skip {
		return
	}
	if !a.IsValid() || !b.IsValid() {
		if a.IsValid() != b.IsValid() {
			d.update(path, a, b)
		}
		return
	}

	if a.Kind() == reflect.Interface || b.Kind() == reflect.Interface {
		d.diffDynamic(a, b, m, path)
		return
	}

	if a.Type() != b.Type() {
		d.update(path, a, b)
		return
	}

	switch m.policy() {
	case Shallow:
		if !nativeEqual(a, b) {
			d.update(path, a, b)
		}
		return
	case Reference:
		if !identityEqual(a, b) {
			d.update(path, a, b)
		}
		return
	}

	switch a.Kind() {
	case reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			if a.IsNil() != b.IsNil() {
				d.update(path, a, b)
			}
			return
		}
		if a.Pointer() == b.Pointer() {
			return
		}
		if d.ctx.enter(a, b) {
			return
		}
		d.diffValue(a.Elem(), b.Elem(), m, path)
		d.ctx.exit(a, b)

	case reflect.Struct:
		if a.Type() == timeType {
			if !temporalEqual(a.Interface().(time.Time), b.Interface().(time.Time)) {
				d.update(path, a, b)
			}
			return
		}
		td := d.e.schema.descriptorFor(a.Type())
		for i := range td.Members {
			mem := &td.Members[i]
			if mem.Kind == Skip {
				continue
			}
			d.diffValue(a.FieldByName(mem.Name), b.FieldByName(mem.Name), mem, path+"/"+mem.Name)
		}

	case reflect.Slice:
		if a.IsNil() || b.IsNil() {
			if a.IsNil() != b.IsNil() {
				d.update(path, a, b)
			}
			return
		}
		if a.Pointer() == b.Pointer() && a.Len() == b.Len() {
			return
		}
		if d.ctx.enter(a, b) {
			return
		}
		d.diffSequence(a, b, m, path)
		d.ctx.exit(a, b)

	case reflect.Array:
		d.diffSequence(a, b, m, path)

	case reflect.Map:
		if a.IsNil() || b.IsNil() {
			if a.IsNil() != b.IsNil() {
				d.update(path, a, b)
			}
			return
		}
		if a.Pointer() == b.Pointer() {
			return
		}
		if d.ctx.enter(a, b) {
			return
		}
		d.diffMap(a, b, path)
		d.ctx.exit(a, b)

	default:
		if !d.e.equalValue(a, b, m, d.ctx) {
			d.update(path, a, b)
		}
	}
}

func (d *differ) diffDynamic(a, b reflect.Value, m *Member, path string) {
	ka, kb := dynamicKind(a), dynamicKind(b)
	if ka == KindNull || kb == KindNull {
		if ka != kb {
			d.update(path, a, b)
		}
		return
	}
	av, bv := indirectInterface(a), indirectInterface(b)
	if av.Type() != bv.Type() {
		if !d.e.equalValue(a, b, m, d.ctx) {
			d.update(path, a, b)
		}
		return
	}
	if handled, eq := d.e.registry.TryCompare(av.Type(), av.Interface(), bv.Interface(), d.ctx); handled {
		if !eq {
			d.update(path, a, b)
		}
		return
	}
	d.diffValue(av, bv, m, path)
}

func (d *differ) diffSequence(a, b reflect.Value, m *Member, path string) {
	if m != nil && m.OrderInsensitive {
		d.diffUnordered(a, b, m, path)
		return
	}
	n := min(a.Len(), b.Len())
	for i := 0; i < n; i++ {
		d.diffValue(a.Index(i), b.Index(i), nil, path+"/"+strconv.Itoa(i))
	}
	for i := n; i < a.Len(); i++ {
		d.record(CTDelete, path+"/"+strconv.Itoa(i), valueOrNil(a.Index(i)), nil)
	}
	for i := n; i < b.Len(); i++ {
		d.record(CTInsert, path+"/"+strconv.Itoa(i), nil, valueOrNil(b.Index(i)))
	}
}

// diffUnordered reports membership changes of a multiset-policy sequence:
// a first pass greedily matches equal elements, a second pairs leftovers by
// key (when keys are declared) and descends into their non-key content, and
// whatever remains is a deletion or insertion.
func (d *differ) diffUnordered(a, b reflect.Value, m *Member, path string) {
	usedB := make([]bool, b.Len())
	var leftoverA []int

	for i := 0; i < a.Len(); i++ {
		matched := false
		for j := 0; j < b.Len(); j++ {
			if usedB[j] {
				continue
			}
			if len(m.KeyMembers) > 0 && !d.e.keysEqual(a.Index(i), b.Index(j), m.KeyMembers, d.ctx) {
				continue
			}
			if d.e.equalValue(a.Index(i), b.Index(j), nil, d.ctx) {
				usedB[j] = true
				matched = true
				break
			}
		}
		if !matched {
			leftoverA = append(leftoverA, i)
		}
	}

	if len(m.KeyMembers) > 0 {
		// same key, differing non-key content: report as nested updates
		remaining := leftoverA[:0]
		for _, i := range leftoverA {
			paired := false
			for j := 0; j < b.Len(); j++ {
				if usedB[j] {
					continue
				}
				if d.e.keysEqual(a.Index(i), b.Index(j), m.KeyMembers, d.ctx) {
					usedB[j] = true
					d.diffValue(a.Index(i), b.Index(j), nil, path+"/"+strconv.Itoa(i))
					paired = true
					break
				}
			}
			if !paired {
				remaining = append(remaining, i)
			}
		}
		leftoverA = remaining
	}

	for _, i := range leftoverA {
		d.record(CTDelete, path+"/"+strconv.Itoa(i), valueOrNil(a.Index(i)), nil)
	}
	for j := 0; j < b.Len(); j++ {
		if !usedB[j] {
			d.record(CTInsert, path+"/"+strconv.Itoa(j), nil, valueOrNil(b.Index(j)))
		}
	}
}

func (d *differ) diffMap(a, b reflect.Value, path string) {
	keys := make([]reflect.Value, 0, a.Len()+b.Len())
	seen := map[string]bool{}

	collect := func(m reflect.Value) {
		iter := m.MapRange()
		for iter.Next() {
			k := iter.Key()
			s := fmt.Sprintf("%v", valueOrNil(k))
			if !seen[s] {
				seen[s] = true
				keys = append(keys, k)
			}
		}
	}
	collect(a)
	collect(b)
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprintf("%v", valueOrNil(keys[i])) < fmt.Sprintf("%v", valueOrNil(keys[j]))
	})

	for _, k := range keys {
		kp := path + "/" + fmt.Sprintf("%v", valueOrNil(k))
		av := a.MapIndex(k)
		bv := b.MapIndex(k)
		switch {
		case !av.IsValid():
			d.record(CTInsert, kp, nil, valueOrNil(bv))
		case !bv.IsValid():
			d.record(CTDelete, kp, valueOrNil(av), nil)
		default:
			d.diffValue(av, bv, nil, kp)
		}
	}
}

func indirectInterface(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	return v
}
