package deepdelta

import (
	"fmt"
	"hash/fnv"
)

// Kind selects how a member participates in comparison.
type Kind uint8

const (
	// Deep recursively compares the member's value. The default.
	Deep Kind = iota
	// Shallow compares the member with Go's native equality (==, or
	// reflect.DeepEqual for uncomparable types), without descending.
	Shallow
	// Reference compares the member by identity only.
	Reference
	// Skip excludes the member entirely; it is never a source of
	// inequality and never appears in diffs or deltas.
	Skip
)

func (k Kind) String() string {
	switch k {
	case Deep:
		return "deep"
	case Shallow:
		return "shallow"
	case Reference:
		return "reference"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// IndexingMode selects how member indices in delta documents are derived.
type IndexingMode uint8

const (
	// IndexAuto resolves to IndexStable whenever delta generation is in
	// play, and to IndexOrdinal otherwise.
	IndexAuto IndexingMode = iota
	// IndexOrdinal numbers members by declaration order. Compact, but
	// fragile across schema versions: inserting or reordering members
	// changes every later index.
	IndexOrdinal
	// IndexStable derives each index from a hash of the member's name,
	// surviving reordering and insertion of new members.
	IndexStable
)

func (m IndexingMode) String() string {
	switch m {
	case IndexOrdinal:
		return "ordinal"
	case IndexStable:
		return "stable"
	default:
		return "auto"
	}
}

// resolve maps IndexAuto to a concrete mode.
func (m IndexingMode) resolve(forDelta bool) IndexingMode {
	if m != IndexAuto {
		return m
	}
	if forDelta {
		return IndexStable
	}
	return IndexOrdinal
}

// Member describes one member of a type: its name, comparison policy, and
// collection semantics. Member-level settings override type-level defaults.
type Member struct {
	// Name is the Go field name for struct types.
	Name string `yaml:"name" json:"name"`
	// Kind is the comparison policy. Defaults to Deep.
	Kind Kind `yaml:"-" json:"-"`
	// OrderInsensitive makes a sequence member compare as a multiset
	// instead of positionally.
	OrderInsensitive bool `yaml:"orderInsensitive,omitempty" json:"orderInsensitive,omitempty"`
	// KeyMembers names the element members that key an order-insensitive
	// sequence; matching is then restricted to same-key buckets.
	KeyMembers []string `yaml:"keyMembers,omitempty" json:"keyMembers,omitempty"`
	// Decimal applies the decimal epsilon (instead of the double epsilon)
	// to this floating-point member.
	Decimal bool `yaml:"decimal,omitempty" json:"decimal,omitempty"`
}

// TypeDescriptor is the ordered member table for one concrete type,
// normally produced by an external front end and handed to the engine at
// runtime.
type TypeDescriptor struct {
	// Name identifies the type; it keys the type table of the binary
	// codec and the schema's lookup by name.
	Name string `yaml:"name" json:"name"`
	// Indexing selects the member indexing mode for delta documents.
	Indexing IndexingMode `yaml:"-" json:"-"`
	// Members lists the type's members in declaration order.
	Members []Member `yaml:"members" json:"members"`
}

// StableIndex derives the content-stable index for a member name: the
// 64-bit FNV-1a hash of the name. Reproducible given only the name, never
// the type's current member count.
func StableIndex(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// MemberIndex returns the wire index of the i-th member under mode, which
// must already be resolved from IndexAuto.
func (td *TypeDescriptor) MemberIndex(i int, mode IndexingMode) uint64 {
	if mode == IndexStable {
		return StableIndex(td.Members[i].Name)
	}
	return uint64(i)
}

// memberByIndex resolves a wire index back to a member position.
func (td *TypeDescriptor) memberByIndex(idx uint64, mode IndexingMode) (int, error) {
	if mode == IndexStable {
		for i := range td.Members {
			if StableIndex(td.Members[i].Name) == idx {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: no member of %s has stable index %d", ErrShapeMismatch, td.Name, idx)
	}
	if idx >= uint64(len(td.Members)) {
		return 0, fmt.Errorf("%w: member index %d out of range for %s", ErrShapeMismatch, idx, td.Name)
	}
	return int(idx), nil
}
