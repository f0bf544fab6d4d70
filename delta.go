package deepdelta

import "encoding/json"

// OpKind defines the kinds of edit operations a delta document carries.
type OpKind uint8

const (
	// OpSetMember assigns a new value to a scalar or opaque member.
	OpSetMember OpKind = iota + 1
	// OpSeqAddAt inserts Value into a sequence member at Index. Index may
	// equal the current length (append); beyond that is a range error.
	OpSeqAddAt
	// OpSeqRemoveAt removes the element of a sequence member at Index.
	OpSeqRemoveAt
	// OpSeqSetAt overwrites the element of a sequence member at Index.
	OpSeqSetAt
	// OpMapSet sets Key to Value in a map member, adding or replacing.
	OpMapSet
	// OpMapRemove deletes Key from a map member.
	OpMapRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSetMember:
		return "set"
	case OpSeqAddAt:
		return "seq-add"
	case OpSeqRemoveAt:
		return "seq-remove"
	case OpSeqSetAt:
		return "seq-set"
	case OpMapSet:
		return "map-set"
	case OpMapRemove:
		return "map-remove"
	default:
		return "unknown"
	}
}

// Op is one edit. Path is the chain of member indices from the root type
// down to the member being edited, each resolved under the document's
// indexing mode; Index, Key, and Value apply per kind. Operations are
// replayed strictly in document order, so later operations may depend on
// the state earlier ones left behind.
type Op struct {
	Kind  OpKind   `json:"kind"`
	Path  []uint64 `json:"path"`
	Index int      `json:"index,omitempty"`
	Key   any      `json:"key,omitempty"`
	Value any      `json:"value,omitempty"`
}

// MarshalJSON renders an op as a compact array, in the spirit of a patch
// script line.
func (op *Op) MarshalJSON() ([]byte, error) {
	v := []any{op.Kind.String(), op.Path}
	switch op.Kind {
	case OpSeqAddAt, OpSeqSetAt:
		v = append(v, op.Index, op.Value)
	case OpSeqRemoveAt:
		v = append(v, op.Index)
	case OpMapSet:
		v = append(v, op.Key, op.Value)
	case OpMapRemove:
		v = append(v, op.Key)
	default:
		v = append(v, op.Value)
	}
	return json.Marshal(v)
}

// Document is an ordered delta: the edit script transforming one graph
// state into another. Documents are value objects: produced by
// ComputeDelta, consumed by ApplyDelta or Encode, and otherwise immutable.
type Document struct {
	// TypeName names the root type the document was computed for.
	TypeName string `json:"type"`
	// Indexing is the resolved member indexing mode of every Path entry.
	Indexing IndexingMode `json:"indexing"`
	// Fingerprint is the 64-bit schema tag carried in the wire header.
	Fingerprint uint64 `json:"fingerprint,omitempty"`
	// Ops is the ordered operation list.
	Ops []*Op `json:"ops"`
}

// Empty reports whether the document contains no operations.
func (d *Document) Empty() bool { return d == nil || len(d.Ops) == 0 }
