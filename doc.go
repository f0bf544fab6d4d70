// Package deepdelta compares, diffs, and patches arbitrary in-memory object
// graphs: nested structs, ordered & unordered collections, maps, schema-less
// (duck-typed) data, and polymorphic references, including graphs that
// contain reference cycles.
//
// Three capabilities build on one traversal:
//
//	equality: Engine.Equal reports whether two graphs are structurally
//	          equal under configurable string, floating-point, and NaN
//	          rules
//	diffing:  Engine.Diff enumerates every differing member as a list of
//	          Changes addressed by JSON-pointer-style paths
//	deltas:   Engine.ComputeDelta produces an ordered edit script that
//	          Engine.ApplyDelta replays against a target graph, and
//	          Encode/Decode move that script through a compact binary
//	          wire format suitable for transport or storage
//
// How a type is traversed is controlled by a Schema of member descriptor
// tables supplied at runtime, either built in code or loaded from YAML/JSON
// files. Types without a descriptor fall back to fully reflective traversal
// of their exported fields, so the engine works with no configuration at
// all. For already-known types a Registry of specialized comparators can
// short-circuit traversal entirely.
//
// Comparison, diff, and delta computation are synchronous and single
// threaded; a Context is never safe for concurrent reuse, while Options,
// Schema, and Registry are. The binary decoder enforces hard caps on
// operation count, string sizes, and nesting depth so untrusted bytes can
// be rejected before any proportional allocation happens.
package deepdelta
