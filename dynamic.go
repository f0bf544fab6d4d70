package deepdelta

import "reflect"

// ValueKind is the closed sum the engines classify schema-less values
// into. The adapter below maps whatever dynamic container a caller
// supplies (the map[string]interface{} / []interface{} universe decoded
// from JSON, YAML, or CBOR) onto these seven atoms, so traversal never
// depends on a specific dynamic-object implementation.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMap
	KindOpaque
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	default:
		return "opaque"
	}
}

// dynamicKind classifies a runtime value. Invalid and nil values are Null;
// structs, channels, funcs, and anything else the sum cannot express are
// Opaque and compared natively.
func dynamicKind(v reflect.Value) ValueKind {
	if !v.IsValid() {
		return KindNull
	}
	switch v.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.String:
		return KindString
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return KindNull
		}
		return KindSequence
	case reflect.Map:
		if v.IsNil() {
			return KindNull
		}
		return KindMap
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return KindNull
		}
		return dynamicKind(v.Elem())
	default:
		return KindOpaque
	}
}
