package deepdelta

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ApplyDelta replays doc against target, which must be a non-nil pointer
// to a struct of the document's root type. Operations run strictly in
// document order; a shape mismatch or out-of-range index aborts the replay
// with the target left partially mutated.
func (e *Engine) ApplyDelta(target any, doc *Document) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("apply delta: target must be a non-nil pointer")
	}
	root := rv.Elem()
	if root.Kind() != reflect.Struct {
		return fmt.Errorf("apply delta: target must point to a struct, got %s", root.Kind())
	}

	for i, op := range doc.Ops {
		if err := e.applyOp(root, op, doc.Indexing); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

// ApplyDelta replays doc against target with the default engine.
func ApplyDelta(target any, doc *Document) error {
	return New().ApplyDelta(target, doc)
}

func (e *Engine) applyOp(root reflect.Value, op *Op, mode IndexingMode) error {
	if len(op.Path) == 0 {
		return fmt.Errorf("%w: empty member path", ErrShapeMismatch)
	}

	// walk interior path segments; compute only descends through structs
	// and pointers to structs, so those are the shapes accepted here
	cur := root
	for _, idx := range op.Path[:len(op.Path)-1] {
		f, err := e.memberField(cur, idx, mode)
		if err != nil {
			return err
		}
		for f.Kind() == reflect.Pointer {
			if f.IsNil() {
				return fmt.Errorf("%w: nil pointer on member path", ErrShapeMismatch)
			}
			f = f.Elem()
		}
		if f.Kind() != reflect.Struct {
			return fmt.Errorf("%w: member path descends through %s", ErrShapeMismatch, f.Kind())
		}
		cur = f
	}

	f, err := e.memberField(cur, op.Path[len(op.Path)-1], mode)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpSetMember:
		return convertAssign(f, op.Value)
	case OpSeqAddAt, OpSeqRemoveAt, OpSeqSetAt:
		return applySeq(f, op)
	case OpMapSet, OpMapRemove:
		return applyMap(f, op)
	default:
		return fmt.Errorf("%w: unknown op kind %d", ErrShapeMismatch, op.Kind)
	}
}

// memberField resolves one wire index against cur's descriptor.
func (e *Engine) memberField(cur reflect.Value, idx uint64, mode IndexingMode) (reflect.Value, error) {
	if cur.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: member index against %s", ErrShapeMismatch, cur.Kind())
	}
	td := e.schema.descriptorFor(cur.Type())
	pos, err := td.memberByIndex(idx, mode)
	if err != nil {
		return reflect.Value{}, err
	}
	f := cur.FieldByName(td.Members[pos].Name)
	if !f.CanSet() {
		return reflect.Value{}, fmt.Errorf("%w: member %s.%s is not settable", ErrShapeMismatch, td.Name, td.Members[pos].Name)
	}
	return f, nil
}

// applySeq mutates a sequence member. Element overwrites happen in place;
// inserts and removals materialize a fresh backing slice and swap it in,
// so a shared or exactly-sized backing array is never mutated under other
// holders (clone-on-write).
func applySeq(f reflect.Value, op *Op) error {
	// unwrap a pointer-to-slice member
	for f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return fmt.Errorf("%w: nil sequence member", ErrShapeMismatch)
		}
		f = f.Elem()
	}

	switch f.Kind() {
	case reflect.Slice:
		l := f.Len()
		switch op.Kind {
		case OpSeqSetAt:
			if op.Index < 0 || op.Index >= l {
				return fmt.Errorf("%w: set at %d, length %d", ErrRange, op.Index, l)
			}
			return convertAssign(f.Index(op.Index), op.Value)

		case OpSeqRemoveAt:
			if op.Index < 0 || op.Index >= l {
				return fmt.Errorf("%w: remove at %d, length %d", ErrRange, op.Index, l)
			}
			if op.Index == l-1 {
				f.Set(f.Slice(0, l-1))
				return nil
			}
			// copy before append: appending to the left half in place
			// would overwrite the elements still being carried over
			head := reflect.MakeSlice(f.Type(), op.Index, op.Index)
			reflect.Copy(head, f.Slice(0, op.Index))
			f.Set(reflect.AppendSlice(head, f.Slice(op.Index+1, l)))
			return nil

		case OpSeqAddAt:
			if op.Index < 0 || op.Index > l {
				return fmt.Errorf("%w: add at %d, length %d", ErrRange, op.Index, l)
			}
			elem := reflect.New(f.Type().Elem()).Elem()
			if err := convertAssign(elem, op.Value); err != nil {
				return err
			}
			// always a fresh backing: appending into spare capacity left
			// by an earlier removal would write through pre-apply aliases
			out := reflect.MakeSlice(f.Type(), 0, l+1)
			out = reflect.AppendSlice(out, f.Slice(0, op.Index))
			out = reflect.Append(out, elem)
			f.Set(reflect.AppendSlice(out, f.Slice(op.Index, l)))
			return nil
		}

	case reflect.Array:
		if op.Kind != OpSeqSetAt {
			return fmt.Errorf("%w: %s on fixed-shape array", ErrShapeMismatch, op.Kind)
		}
		if op.Index < 0 || op.Index >= f.Len() {
			return fmt.Errorf("%w: set at %d, length %d", ErrRange, op.Index, f.Len())
		}
		return convertAssign(f.Index(op.Index), op.Value)
	}
	return fmt.Errorf("%w: sequence op against %s", ErrShapeMismatch, f.Kind())
}

func applyMap(f reflect.Value, op *Op) error {
	for f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return fmt.Errorf("%w: nil map member", ErrShapeMismatch)
		}
		f = f.Elem()
	}
	if f.Kind() != reflect.Map {
		return fmt.Errorf("%w: map op against %s", ErrShapeMismatch, f.Kind())
	}

	key := reflect.New(f.Type().Key()).Elem()
	if err := convertAssign(key, op.Key); err != nil {
		return err
	}

	switch op.Kind {
	case OpMapSet:
		if f.IsNil() {
			f.Set(reflect.MakeMap(f.Type()))
		}
		val := reflect.New(f.Type().Elem()).Elem()
		if err := convertAssign(val, op.Value); err != nil {
			return err
		}
		f.SetMapIndex(key, val)
	case OpMapRemove:
		if !f.IsNil() {
			f.SetMapIndex(key, reflect.Value{})
		}
	}
	return nil
}

// convertAssign stores v into dst, widening or narrowing representations
// as needed: wire integers arrive as int64/uint64, wire numbers decoded
// from JSON arrive as float64, and compound payloads may arrive as the
// generic map/slice universe and get remarshaled into typed destinations.
func convertAssign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if ev, ok := v.(EnumValue); ok {
		// the declaring-type tag is advisory; assignment goes by the
		// numeric value
		v = ev.Value
	}
	rv := reflect.ValueOf(v)

	if rv.Type() == dst.Type() || (dst.Kind() == reflect.Interface && rv.Type().AssignableTo(dst.Type())) {
		dst.Set(rv)
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		p := reflect.New(dst.Type().Elem())
		if err := convertAssign(p.Elem(), v); err != nil {
			return err
		}
		dst.Set(p)
		return nil
	}

	if convertibleKinds(rv.Kind(), dst.Kind()) && rv.Type().ConvertibleTo(dst.Type()) {
		dst.Set(rv.Convert(dst.Type()))
		return nil
	}

	// generic compound payload into a typed destination
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: cannot assign %T to %s", ErrShapeMismatch, v, dst.Type())
	}
	p := reflect.New(dst.Type())
	if err := json.Unmarshal(data, p.Interface()); err != nil {
		return fmt.Errorf("%w: cannot assign %T to %s: %v", ErrShapeMismatch, v, dst.Type(), err)
	}
	dst.Set(p.Elem())
	return nil
}

func convertibleKinds(from, to reflect.Kind) bool {
	return numericKind(from) && numericKind(to) ||
		from == reflect.String && to == reflect.String ||
		from == reflect.Bool && to == reflect.Bool
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
