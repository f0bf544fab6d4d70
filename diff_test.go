package deepdelta

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// diffTestCase runs a diff over two JSON documents, the schema-less path.
type diffTestCase struct {
	description string
	src, dst    string
	expect      Changes
}

func runDiffTestCases(t *testing.T, e *Engine, cases []diffTestCase) {
	t.Helper()
	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			var a, b any
			if err := json.Unmarshal([]byte(c.src), &a); err != nil {
				t.Fatal(err)
			}
			if err := json.Unmarshal([]byte(c.dst), &b); err != nil {
				t.Fatal(err)
			}
			got, err := e.Diff(a, b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(c.expect, got); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiffDynamicDocuments(t *testing.T) {
	e, _, _ := newTestEngine(t)

	runDiffTestCases(t, e, []diffTestCase{
		{
			"equal documents",
			`{"a":1,"b":["x","y"]}`,
			`{"a":1,"b":["x","y"]}`,
			nil,
		},
		{
			"scalar update",
			`{"a":1}`,
			`{"a":2}`,
			Changes{
				{Type: CTUpdate, Path: "/a", Before: float64(1), After: float64(2)},
			},
		},
		{
			"key inserted and key deleted",
			`{"a":1,"b":2}`,
			`{"a":1,"c":3}`,
			Changes{
				{Type: CTDelete, Path: "/b", Before: float64(2)},
				{Type: CTInsert, Path: "/c", After: float64(3)},
			},
		},
		{
			"nested update",
			`{"a":{"b":{"c":"old"}}}`,
			`{"a":{"b":{"c":"new"}}}`,
			Changes{
				{Type: CTUpdate, Path: "/a/b/c", Before: "old", After: "new"},
			},
		},
		{
			"sequence element update and tail insert",
			`{"xs":[1,2]}`,
			`{"xs":[1,3,4]}`,
			Changes{
				{Type: CTUpdate, Path: "/xs/1", Before: float64(2), After: float64(3)},
				{Type: CTInsert, Path: "/xs/2", After: float64(4)},
			},
		},
		{
			"sequence tail delete",
			`{"xs":[1,2,3]}`,
			`{"xs":[1,2]}`,
			Changes{
				{Type: CTDelete, Path: "/xs/2", Before: float64(3)},
			},
		},
		{
			"null against value",
			`{"a":null}`,
			`{"a":1}`,
			Changes{
				{Type: CTUpdate, Path: "/a", After: float64(1)},
			},
		},
	})
}

func TestDiffStructs(t *testing.T) {
	e, _, _ := newTestEngine(t)

	a := samplePerson()
	b := samplePerson()
	b.Age = 37
	b.Tags = []string{"math"}
	b.Pet.Name = "ada jr"
	b.Extra["funding"] = 1

	got, err := e.Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}

	want := Changes{
		{Type: CTUpdate, Path: "/Age", Before: 36, After: 37},
		{Type: CTDelete, Path: "/Tags/1", Before: "engines"},
		{Type: CTUpdate, Path: "/Pet/Name", Before: "byron", After: "ada jr"},
		{Type: CTInsert, Path: "/Extra/funding", After: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffIgnorePaths(t *testing.T) {
	e, _, _ := newTestEngine(t)

	a := samplePerson()
	b := samplePerson()
	b.Age = 37
	b.Pet.Name = "ada jr"
	b.Pet.Kind = "dog"

	got, err := e.Diff(a, b, IgnorePaths("/Pet/*"))
	if err != nil {
		t.Fatal(err)
	}
	want := Changes{
		{Type: CTUpdate, Path: "/Age", Before: 36, After: 37},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	if _, err := e.Diff(a, b, IgnorePaths("[")); err == nil {
		t.Error("a malformed glob pattern must be reported")
	}
}

func TestDiffStats(t *testing.T) {
	e, _, _ := newTestEngine(t)

	var a, b any
	if err := json.Unmarshal([]byte(`{"a":1,"b":2,"xs":[1,2]}`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"a":9,"c":3,"xs":[1]}`), &b); err != nil {
		t.Fatal(err)
	}

	st := &Stats{}
	changes, err := e.Diff(a, b, OptionSetStats(st))
	if err != nil {
		t.Fatal(err)
	}
	if !changes.HasDifference() {
		t.Fatal("expected differences")
	}
	if st.Inserts != 1 || st.Deletes != 2 || st.Updates != 1 {
		t.Errorf("stats = %+v, want 1 insert, 2 deletes, 1 update", *st)
	}
	if st.Total() != 4 {
		t.Errorf("Total() = %d, want 4", st.Total())
	}
	if st.NetChange() != -1 {
		t.Errorf("NetChange() = %d, want -1", st.NetChange())
	}
}

func TestDiffUnorderedKeyed(t *testing.T) {
	e, s, _ := newTestEngine(t)
	mustDescribe(t, s, Inventory{}, &TypeDescriptor{
		Members: []Member{
			{Name: "Items", OrderInsensitive: true, KeyMembers: []string{"SKU"}},
		},
	})

	a := Inventory{Items: []Item{{"A", 1}, {"B", 2}, {"C", 3}}}
	b := Inventory{Items: []Item{{"C", 3}, {"B", 20}, {"D", 4}}}

	got, err := e.Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := Changes{
		{Type: CTUpdate, Path: "/Items/1/Qty", Before: 2, After: 20},
		{Type: CTDelete, Path: "/Items/0", Before: Item{"A", 1}},
		{Type: CTInsert, Path: "/Items/2", After: Item{"D", 4}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffCyclesTerminate(t *testing.T) {
	e, _, _ := newTestEngine(t)

	mk := func(v int) *ringNode {
		n := &ringNode{Value: v}
		n.Next = n
		return n
	}

	got, err := e.Diff(mk(1), mk(1))
	if err != nil {
		t.Fatal(err)
	}
	if got.HasDifference() {
		t.Errorf("isomorphic cycles must produce no changes, got %v", got)
	}

	got, err = e.Diff(mk(1), mk(2))
	if err != nil {
		t.Fatal(err)
	}
	want := Changes{
		{Type: CTUpdate, Path: "/Value", Before: 1, After: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}
