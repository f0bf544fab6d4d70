package deepdelta

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type triple struct {
	A int
	B int
	C int
}

func clonePerson(p *Person) *Person {
	cp := *p
	cp.Tags = append([]string(nil), p.Tags...)
	if p.Pet != nil {
		pet := *p.Pet
		cp.Pet = &pet
	}
	if p.Extra != nil {
		cp.Extra = make(map[string]int, len(p.Extra))
		for k, v := range p.Extra {
			cp.Extra[k] = v
		}
	}
	return &cp
}

func TestComputeDeltaSingleMember(t *testing.T) {
	e, _, _ := newTestEngine(t)

	doc, err := e.ComputeDelta(triple{A: 1, B: 2, C: 3}, triple{A: 1, B: 20, C: 3})
	if err != nil {
		t.Fatal(err)
	}

	want := []*Op{
		{Kind: OpSetMember, Path: []uint64{StableIndex("B")}, Value: 20},
	}
	if diff := cmp.Diff(want, doc.Ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
	if doc.Indexing != IndexStable {
		t.Errorf("Indexing = %v, want stable", doc.Indexing)
	}
}

func TestComputeDeltaEmptyForEqualInputs(t *testing.T) {
	e, _, _ := newTestEngine(t)
	doc, err := e.ComputeDelta(samplePerson(), samplePerson())
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Empty() {
		t.Errorf("expected an empty document, got %d ops", len(doc.Ops))
	}
}

func TestComputeDeltaNestedPath(t *testing.T) {
	e, _, _ := newTestEngine(t)

	before := samplePerson()
	after := clonePerson(before)
	after.Pet.Name = "lovelace"

	doc, err := e.ComputeDelta(before, after)
	if err != nil {
		t.Fatal(err)
	}
	want := []*Op{
		{
			Kind:  OpSetMember,
			Path:  []uint64{StableIndex("Pet"), StableIndex("Name")},
			Value: "lovelace",
		},
	}
	if diff := cmp.Diff(want, doc.Ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	cases := []struct {
		description string
		mutate      func(*Person)
	}{
		{"no change", func(p *Person) {}},
		{"scalar member", func(p *Person) { p.Age = 99 }},
		{"nested member", func(p *Person) { p.Pet.Kind = "dog" }},
		{"pointer set to nil", func(p *Person) { p.Pet = nil }},
		{"sequence element overwrite", func(p *Person) { p.Tags[0] = "logic" }},
		{"sequence shrink and change", func(p *Person) { p.Tags = []string{"logic"} }},
		{"sequence grow", func(p *Person) { p.Tags = append(p.Tags, "notes", "letters") }},
		{"map set and remove", func(p *Person) {
			p.Extra["letters"] = 5
			delete(p.Extra, "papers")
		}},
		{"everything at once", func(p *Person) {
			p.Name = "lovelace"
			p.Balance = 0.5
			p.Tags = []string{"engines", "math", "poetry"}
			p.Pet = &Pet{Name: "puff", Kind: "dragon"}
			p.Extra = map[string]int{"memoirs": 1}
		}},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			e, _, _ := newTestEngine(t)

			before := samplePerson()
			after := clonePerson(before)
			c.mutate(after)

			doc, err := e.ComputeDelta(before, after)
			if err != nil {
				t.Fatal(err)
			}

			target := clonePerson(before)
			if err := e.ApplyDelta(target, doc); err != nil {
				t.Fatal(err)
			}
			if !e.Equal(target, after) {
				t.Errorf("round trip diverged:\nafter  = %+v\ntarget = %+v", after, target)
			}
		})
	}
}

func TestDeltaRoundTripUnorderedKeyed(t *testing.T) {
	cases := []struct {
		description   string
		before, after []Item
	}{
		{"reorder only produces no ops",
			[]Item{{"A", 1}, {"B", 2}},
			[]Item{{"B", 2}, {"A", 1}}},
		{"in-place update by key",
			[]Item{{"A", 1}, {"B", 2}, {"C", 3}},
			[]Item{{"C", 3}, {"B", 20}, {"A", 1}}},
		{"removal",
			[]Item{{"A", 1}, {"B", 2}, {"C", 3}},
			[]Item{{"A", 1}, {"C", 3}}},
		{"append",
			[]Item{{"A", 1}},
			[]Item{{"B", 2}, {"A", 1}}},
		{"update, removal, and append together",
			[]Item{{"A", 1}, {"B", 2}, {"C", 3}},
			[]Item{{"D", 4}, {"B", 20}, {"A", 1}}},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			e, s, _ := newTestEngine(t)
			mustDescribe(t, s, Inventory{}, &TypeDescriptor{
				Members: []Member{
					{Name: "Items", OrderInsensitive: true, KeyMembers: []string{"SKU"}},
				},
			})

			before := Inventory{Items: c.before}
			after := Inventory{Items: c.after}

			doc, err := e.ComputeDelta(before, after)
			if err != nil {
				t.Fatal(err)
			}
			if c.description == "reorder only produces no ops" && !doc.Empty() {
				t.Fatalf("expected no ops for a pure reorder, got %v", doc.Ops)
			}

			target := Inventory{Items: append([]Item(nil), c.before...)}
			if err := e.ApplyDelta(&target, doc); err != nil {
				t.Fatal(err)
			}
			if !e.Equal(target, after) {
				t.Errorf("round trip diverged:\nafter  = %+v\ntarget = %+v", after, target)
			}
		})
	}
}

func TestDeltaOrdinalIndexing(t *testing.T) {
	e, s, _ := newTestEngine(t)
	mustDescribe(t, s, triple{}, &TypeDescriptor{
		Indexing: IndexOrdinal,
		Members:  []Member{{Name: "A"}, {Name: "B"}, {Name: "C"}},
	})

	doc, err := e.ComputeDelta(triple{1, 2, 3}, triple{1, 2, 30})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Indexing != IndexOrdinal {
		t.Fatalf("Indexing = %v, want ordinal", doc.Indexing)
	}
	want := []*Op{
		{Kind: OpSetMember, Path: []uint64{2}, Value: 30},
	}
	if diff := cmp.Diff(want, doc.Ops); diff != "" {
		t.Errorf("ops mismatch (-want +got):\n%s", diff)
	}

	target := triple{1, 2, 3}
	if err := e.ApplyDelta(&target, doc); err != nil {
		t.Fatal(err)
	}
	if target.C != 30 {
		t.Errorf("C = %d, want 30", target.C)
	}
}

func TestApplyDeltaIdempotentOverwrites(t *testing.T) {
	e, _, _ := newTestEngine(t)

	before := samplePerson()
	after := clonePerson(before)
	after.Age = 99
	after.Tags[1] = "poetry"
	after.Extra["papers"] = 4

	doc, err := e.ComputeDelta(before, after)
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range doc.Ops {
		switch op.Kind {
		case OpSetMember, OpSeqSetAt, OpMapSet:
		default:
			t.Fatalf("expected overwrite-only script, found %s", op.Kind)
		}
	}

	target := clonePerson(before)
	if err := e.ApplyDelta(target, doc); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyDelta(target, doc); err != nil {
		t.Fatal(err)
	}
	if !e.Equal(target, after) {
		t.Error("overwrite-only scripts must be idempotent")
	}
}

func TestApplySeqAddNeverWritesThroughAliases(t *testing.T) {
	e, s, _ := newTestEngine(t)
	mustDescribe(t, s, Person{}, &TypeDescriptor{
		Indexing: IndexStable,
		Members: []Member{
			{Name: "Name"}, {Name: "Age"}, {Name: "Balance"},
			{Name: "Tags"}, {Name: "Pet"}, {Name: "Extra"},
		},
	})

	target := samplePerson() // Tags ["math", "engines"]
	alias := target.Tags

	// removing the tail leaves spare capacity; the following add must not
	// reuse it
	doc := &Document{Indexing: IndexStable, Ops: []*Op{
		{Kind: OpSeqRemoveAt, Path: []uint64{StableIndex("Tags")}, Index: 1},
		{Kind: OpSeqAddAt, Path: []uint64{StableIndex("Tags")}, Index: 1, Value: "poetry"},
	}}
	if err := e.ApplyDelta(target, doc); err != nil {
		t.Fatal(err)
	}

	if target.Tags[1] != "poetry" {
		t.Errorf("Tags = %v, want poetry at index 1", target.Tags)
	}
	if alias[1] != "engines" {
		t.Errorf("pre-apply alias mutated: %v", alias)
	}

	// mid-sequence insert keeps its own backing too
	alias = target.Tags
	insert := &Document{Indexing: IndexStable, Ops: []*Op{
		{Kind: OpSeqRemoveAt, Path: []uint64{StableIndex("Tags")}, Index: 1},
		{Kind: OpSeqAddAt, Path: []uint64{StableIndex("Tags")}, Index: 0, Value: "logic"},
	}}
	if err := e.ApplyDelta(target, insert); err != nil {
		t.Fatal(err)
	}
	if alias[1] != "poetry" {
		t.Errorf("pre-apply alias mutated: %v", alias)
	}
}

func TestDeltaErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if _, err := e.ComputeDelta(1, 2); err == nil {
		t.Error("non-struct roots must be rejected")
	}
	if _, err := e.ComputeDelta(triple{}, Person{}); err == nil {
		t.Error("mismatched root types must be rejected")
	}
	if _, err := e.ComputeDelta(nil, triple{}); err == nil {
		t.Error("nil operands must be rejected")
	}

	doc := &Document{Indexing: IndexStable, Ops: []*Op{
		{Kind: OpSetMember, Path: []uint64{StableIndex("B")}, Value: 1},
	}}
	if err := e.ApplyDelta(triple{}, doc); err == nil {
		t.Error("a non-pointer target must be rejected")
	}

	var target triple
	bad := &Document{Indexing: IndexStable, Ops: []*Op{
		{Kind: OpSetMember, Path: []uint64{12345}, Value: 1},
	}}
	if err := e.ApplyDelta(&target, bad); err == nil {
		t.Error("an unknown stable index must be rejected")
	}

	empty := &Document{Indexing: IndexStable, Ops: []*Op{{Kind: OpSetMember}}}
	if err := e.ApplyDelta(&target, empty); err == nil {
		t.Error("an empty member path must be rejected")
	}
}

func TestApplyDeltaRangeChecks(t *testing.T) {
	e, s, _ := newTestEngine(t)
	mustDescribe(t, s, Person{}, &TypeDescriptor{
		Indexing: IndexStable,
		Members: []Member{
			{Name: "Name"}, {Name: "Age"}, {Name: "Balance"},
			{Name: "Tags"}, {Name: "Pet"}, {Name: "Extra"},
		},
	})

	cases := []struct {
		description string
		op          *Op
	}{
		{"set beyond length", &Op{Kind: OpSeqSetAt, Path: []uint64{StableIndex("Tags")}, Index: 5, Value: "x"}},
		{"remove beyond length", &Op{Kind: OpSeqRemoveAt, Path: []uint64{StableIndex("Tags")}, Index: 2}},
		{"add beyond length+1", &Op{Kind: OpSeqAddAt, Path: []uint64{StableIndex("Tags")}, Index: 4, Value: "x"}},
		{"negative index", &Op{Kind: OpSeqSetAt, Path: []uint64{StableIndex("Tags")}, Index: -1, Value: "x"}},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			target := samplePerson() // Tags has length 2
			doc := &Document{Indexing: IndexStable, Ops: []*Op{c.op}}
			if err := e.ApplyDelta(target, doc); err == nil {
				t.Error("out-of-range sequence op must be rejected")
			}
		})
	}
}

func TestOpMarshalJSON(t *testing.T) {
	cases := []struct {
		op     *Op
		expect string
	}{
		{&Op{Kind: OpSetMember, Path: []uint64{7}, Value: "x"}, `["set",[7],"x"]`},
		{&Op{Kind: OpSeqRemoveAt, Path: []uint64{7}, Index: 2}, `["seq-remove",[7],2]`},
		{&Op{Kind: OpSeqAddAt, Path: []uint64{7}, Index: 0, Value: 1}, `["seq-add",[7],0,1]`},
		{&Op{Kind: OpMapSet, Path: []uint64{7}, Key: "k", Value: 1}, `["map-set",[7],"k",1]`},
		{&Op{Kind: OpMapRemove, Path: []uint64{7}, Key: "k"}, `["map-remove",[7],"k"]`},
	}
	for _, c := range cases {
		data, err := json.Marshal(c.op)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != c.expect {
			t.Errorf("marshal %s = %s, want %s", c.op.Kind, data, c.expect)
		}
	}
}
