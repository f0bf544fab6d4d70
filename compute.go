package deepdelta

import (
	"fmt"
	"reflect"
	"sort"
)

// ComputeDelta compares before and after (two values of the same struct
// type, or pointers to one) and returns the ordered edit script that
// transforms before into after. The script is deterministic for a given
// input pair but not guaranteed minimal.
func (e *Engine) ComputeDelta(before, after any) (*Document, error) {
	va := indirect(reflect.ValueOf(before))
	vb := indirect(reflect.ValueOf(after))
	if !va.IsValid() || !vb.IsValid() {
		return nil, fmt.Errorf("compute delta: operands must be non-nil")
	}
	if va.Type() != vb.Type() {
		return nil, fmt.Errorf("compute delta: mismatched types %s and %s", va.Type(), vb.Type())
	}
	if va.Kind() != reflect.Struct {
		return nil, fmt.Errorf("compute delta: root must be a struct, got %s", va.Kind())
	}

	td := e.schema.descriptorFor(va.Type())
	doc := &Document{
		TypeName: td.Name,
		Indexing: td.Indexing.resolve(true),
	}
	if fp, err := e.schema.Fingerprint(); err == nil {
		doc.Fingerprint = fp
	}

	c := &computer{e: e, ctx: NewContext(e.opts...), doc: doc}
	defer c.ctx.release()
	c.computeStruct(va, vb, td, nil)
	return doc, nil
}

// ComputeDelta computes an edit script with the default engine.
func ComputeDelta(before, after any, opts ...Option) (*Document, error) {
	return New(opts...).ComputeDelta(before, after)
}

type computer struct {
	e   *Engine
	ctx *Context
	doc *Document
}

func (c *computer) emit(op *Op) {
	c.doc.Ops = append(c.doc.Ops, op)
}

// memberPath extends a path with one more member index, never aliasing the
// parent's backing array.
func memberPath(base []uint64, idx uint64) []uint64 {
	p := make([]uint64, len(base)+1)
	copy(p, base)
	p[len(base)] = idx
	return p
}

func (c *computer) computeStruct(a, b reflect.Value, td *TypeDescriptor, path []uint64) {
	for i := range td.Members {
		m := &td.Members[i]
		if m.Kind == Skip {
			continue
		}
		fa := a.FieldByName(m.Name)
		fb := b.FieldByName(m.Name)
		mp := memberPath(path, td.MemberIndex(i, c.doc.Indexing))

		switch m.Kind {
		case Shallow:
			if !nativeEqual(fa, fb) {
				c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
			}
			continue
		case Reference:
			if !identityEqual(fa, fb) {
				c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
			}
			continue
		}

		c.computeMember(fa, fb, m, mp)
	}
}

func (c *computer) computeMember(fa, fb reflect.Value, m *Member, mp []uint64) {
	switch fa.Kind() {
	case reflect.Struct:
		if fa.Type() == timeType {
			if !c.e.equalValue(fa, fb, nil, c.ctx) {
				c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
			}
			return
		}
		// a change deep inside a nested object descends into that
		// object's own member space
		c.computeStruct(fa, fb, c.e.schema.descriptorFor(fa.Type()), mp)

	case reflect.Pointer:
		if fa.IsNil() || fb.IsNil() {
			if fa.IsNil() != fb.IsNil() {
				c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
			}
			return
		}
		if fa.Pointer() == fb.Pointer() {
			return
		}
		if c.ctx.enter(fa, fb) {
			return
		}
		c.computeMember(fa.Elem(), fb.Elem(), m, mp)
		c.ctx.exit(fa, fb)

	case reflect.Slice:
		if fa.IsNil() || fb.IsNil() {
			if fa.IsNil() != fb.IsNil() {
				c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
			}
			return
		}
		c.computeSequence(fa, fb, m, mp)

	case reflect.Array:
		for i := 0; i < fa.Len(); i++ {
			if !c.e.equalValue(fa.Index(i), fb.Index(i), nil, c.ctx) {
				c.emit(&Op{Kind: OpSeqSetAt, Path: mp, Index: i, Value: valueOrNil(fb.Index(i))})
			}
		}

	case reflect.Map:
		if fa.IsNil() || fb.IsNil() {
			if fa.IsNil() != fb.IsNil() {
				c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
			}
			return
		}
		c.computeMap(fa, fb, mp)

	default:
		// scalars, strings, interfaces, and anything opaque replace
		// wholesale
		if !c.e.equalValue(fa, fb, m, c.ctx) {
			c.emit(&Op{Kind: OpSetMember, Path: mp, Value: valueOrNil(fb)})
		}
	}
}

// computeSequence emits the edit ops for a sequence member. The ordered
// policy trims or pads the tail and then overwrites remaining positional
// mismatches; the keyed unordered policy updates same-key pairs in place,
// removes left-only elements, and appends right-only ones.
func (c *computer) computeSequence(a, b reflect.Value, m *Member, mp []uint64) {
	if m != nil && m.OrderInsensitive {
		c.computeUnordered(a, b, m, mp)
		return
	}

	la, lb := a.Len(), b.Len()
	for i := la - 1; i >= lb; i-- {
		c.emit(&Op{Kind: OpSeqRemoveAt, Path: mp, Index: i})
	}
	n := min(la, lb)
	for i := 0; i < n; i++ {
		if !c.e.equalValue(a.Index(i), b.Index(i), nil, c.ctx) {
			c.emit(&Op{Kind: OpSeqSetAt, Path: mp, Index: i, Value: valueOrNil(b.Index(i))})
		}
	}
	for i := n; i < lb; i++ {
		c.emit(&Op{Kind: OpSeqAddAt, Path: mp, Index: i, Value: valueOrNil(b.Index(i))})
	}
}

func (c *computer) computeUnordered(a, b reflect.Value, m *Member, mp []uint64) {
	la, lb := a.Len(), b.Len()
	usedB := make([]bool, lb)
	matchedA := make([]bool, la)

	// pass 1: pair up elements that already compare equal
	for i := 0; i < la; i++ {
		for j := 0; j < lb; j++ {
			if usedB[j] {
				continue
			}
			if len(m.KeyMembers) > 0 && !c.e.keysEqual(a.Index(i), b.Index(j), m.KeyMembers, c.ctx) {
				continue
			}
			if c.e.equalValue(a.Index(i), b.Index(j), nil, c.ctx) {
				usedB[j] = true
				matchedA[i] = true
				break
			}
		}
	}

	// pass 2: same key with changed content overwrites in place
	if len(m.KeyMembers) > 0 {
		for i := 0; i < la; i++ {
			if matchedA[i] {
				continue
			}
			for j := 0; j < lb; j++ {
				if usedB[j] {
					continue
				}
				if c.e.keysEqual(a.Index(i), b.Index(j), m.KeyMembers, c.ctx) {
					usedB[j] = true
					matchedA[i] = true
					c.emit(&Op{Kind: OpSeqSetAt, Path: mp, Index: i, Value: valueOrNil(b.Index(j))})
					break
				}
			}
		}
	}

	// removals in descending index order keep earlier indices valid
	removed := 0
	for i := la - 1; i >= 0; i-- {
		if !matchedA[i] {
			c.emit(&Op{Kind: OpSeqRemoveAt, Path: mp, Index: i})
			removed++
		}
	}

	next := la - removed
	for j := 0; j < lb; j++ {
		if !usedB[j] {
			c.emit(&Op{Kind: OpSeqAddAt, Path: mp, Index: next, Value: valueOrNil(b.Index(j))})
			next++
		}
	}
}

func (c *computer) computeMap(a, b reflect.Value, mp []uint64) {
	type entry struct {
		render string
		key    reflect.Value
	}
	var entries []entry
	seen := map[string]bool{}
	collect := func(m reflect.Value) {
		iter := m.MapRange()
		for iter.Next() {
			k := iter.Key()
			s := fmt.Sprintf("%v", valueOrNil(k))
			if !seen[s] {
				seen[s] = true
				entries = append(entries, entry{s, k})
			}
		}
	}
	collect(a)
	collect(b)
	// sorted for a deterministic script
	sort.Slice(entries, func(i, j int) bool { return entries[i].render < entries[j].render })

	for _, en := range entries {
		av := a.MapIndex(en.key)
		bv := b.MapIndex(en.key)
		switch {
		case !bv.IsValid():
			c.emit(&Op{Kind: OpMapRemove, Path: mp, Key: valueOrNil(en.key)})
		case !av.IsValid():
			c.emit(&Op{Kind: OpMapSet, Path: mp, Key: valueOrNil(en.key), Value: valueOrNil(bv)})
		default:
			if !c.e.equalValue(av, bv, nil, c.ctx) {
				c.emit(&Op{Kind: OpMapSet, Path: mp, Key: valueOrNil(en.key), Value: valueOrNil(bv)})
			}
		}
	}
}
