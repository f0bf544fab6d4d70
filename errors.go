package deepdelta

import "errors"

var (
	// ErrCorrupt reports a malformed or truncated binary delta stream.
	// Decoding aborts; no partial document is ever returned.
	ErrCorrupt = errors.New("corrupt delta stream")
	// ErrCapExceeded reports a binary stream whose declared sizes exceed
	// the decoder's safety caps.
	ErrCapExceeded = errors.New("delta stream exceeds safety cap")
	// ErrFingerprintMismatch reports a decoded document whose schema
	// fingerprint does not match the expected one.
	ErrFingerprintMismatch = errors.New("schema fingerprint mismatch")
	// ErrShapeMismatch reports a delta operation addressing a member or
	// kind the target's shape does not have.
	ErrShapeMismatch = errors.New("delta does not fit target shape")
	// ErrRange reports a sequence operation whose index is outside the
	// currently valid range of the target collection.
	ErrRange = errors.New("sequence index out of range")
	// ErrNoDescriptor reports a named type the schema has no descriptor
	// for.
	ErrNoDescriptor = errors.New("no descriptor for type")
)
