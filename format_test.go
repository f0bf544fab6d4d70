package deepdelta

import (
	"reflect"
	"strings"
	"testing"
)

func TestFormatPretty(t *testing.T) {
	changes := Changes{
		{Type: CTUpdate, Path: "/Age", Before: 36, After: 37},
		{Type: CTDelete, Path: "/Tags/1", Before: "engines"},
		{Type: CTInsert, Path: "/Extra/funding", After: 1},
	}

	got, err := FormatPrettyString(changes, false)
	if err != nil {
		t.Fatal(err)
	}
	want := "~/Age: 37\n" +
		"-/Tags/1: \"engines\"\n" +
		"+/Extra/funding: 1\n"
	if got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}

	colored, err := FormatPrettyString(changes, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(colored, "\x1b[31m") || !strings.Contains(colored, "\x1b[0m") {
		t.Error("color output must carry ANSI escapes")
	}
}

func TestFormatPrettyStats(t *testing.T) {
	cases := []struct {
		description string
		stats       *Stats
		expect      string
	}{
		{"nil stats", nil, "<nil>"},
		{"net growth", &Stats{Inserts: 3, Deletes: 1, Updates: 2},
			"+2 members. 3 inserts. 1 delete. 2 updates.\n"},
		{"net shrink by one", &Stats{Deletes: 1},
			"-1 member. 0 inserts. 1 delete. 0 updates.\n"},
		{"no net change", &Stats{Updates: 1},
			"0 members. 0 inserts. 0 deletes. 1 update.\n"},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			if got := FormatPrettyStats(c.stats); got != c.expect {
				t.Errorf("output %q, want %q", got, c.expect)
			}
		})
	}
}

func TestDynamicKindClassification(t *testing.T) {
	cases := []struct {
		description string
		value       any
		expect      ValueKind
	}{
		{"nil", nil, KindNull},
		{"bool", true, KindBool},
		{"int", 42, KindNumber},
		{"float", 4.2, KindNumber},
		{"string", "x", KindString},
		{"slice", []int{1}, KindSequence},
		{"nil slice", []int(nil), KindNull},
		{"array", [2]int{1, 2}, KindSequence},
		{"map", map[string]int{}, KindMap},
		{"nil map", map[string]int(nil), KindNull},
		{"pointer to number", new(int), KindNumber},
		{"struct", Pet{}, KindOpaque},
	}

	for _, c := range cases {
		t.Run(c.description, func(t *testing.T) {
			if got := dynamicKind(reflect.ValueOf(c.value)); got != c.expect {
				t.Errorf("dynamicKind = %v, want %v", got, c.expect)
			}
		})
	}
}
