package deepdelta_test

import (
	"encoding/json"
	"fmt"

	"github.com/deepdelta/deepdelta"
)

func ExampleEqual() {
	a := map[string]any{"name": "ada", "tags": []any{"math"}}
	b := map[string]any{"name": "ada", "tags": []any{"math"}}
	fmt.Println(deepdelta.Equal(a, b))
	fmt.Println(deepdelta.Equal("Go", "go", deepdelta.Strings(deepdelta.StringOrdinalIgnoreCase)))
	// Output:
	// true
	// true
}

func ExampleDiff() {
	var a, b map[string]any
	json.Unmarshal([]byte(`{"name":"ada","tags":["math"]}`), &a)
	json.Unmarshal([]byte(`{"name":"lovelace","tags":["math","poetry"]}`), &b)

	changes, _ := deepdelta.Diff(a, b)
	out, _ := deepdelta.FormatPrettyString(changes, false)
	fmt.Print(out)
	// Output:
	// ~/name: "lovelace"
	// +/tags/1: "poetry"
}

func ExampleComputeDelta() {
	type Account struct {
		Owner   string
		Balance int
	}

	before := Account{Owner: "ada", Balance: 10}
	after := Account{Owner: "ada", Balance: 60}

	doc, _ := deepdelta.ComputeDelta(before, after)

	replica := before
	if err := deepdelta.ApplyDelta(&replica, doc); err != nil {
		panic(err)
	}
	fmt.Printf("%+v\n", replica)
	// Output: {Owner:ada Balance:60}
}

func ExampleEngine_Encode() {
	type Account struct {
		Owner   string
		Balance int
	}

	engine := deepdelta.NewWith(deepdelta.NewSchema(), deepdelta.NewRegistry())
	doc, _ := engine.ComputeDelta(Account{"ada", 10}, Account{"ada", 60})

	data, _ := engine.Encode(doc, deepdelta.DefaultBinaryOptions())
	decoded, _ := engine.Decode(data, deepdelta.DefaultBinaryOptions())

	replica := Account{"ada", 10}
	if err := engine.ApplyDelta(&replica, decoded); err != nil {
		panic(err)
	}
	fmt.Printf("%+v\n", replica)
	// Output: {Owner:ada Balance:60}
}
