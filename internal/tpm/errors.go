// Package tpm implements the Typed Payload Map: a self-describing,
// length-prefixed binary map of string keys to primitive scalars, byte
// arrays, GUIDs, decimals and nested maps, used as the wire body of every
// control-channel message.
package tpm

import "errors"

// Sentinel errors returned by Map and codec operations. Wrap with fmt.Errorf
// and %w when adding context; callers should compare with errors.Is.
var (
	// ErrMalformedPayload is returned for an unknown value tag, a bad header
	// magic or version, or a bad entry/footer sequence while decoding.
	ErrMalformedPayload = errors.New("tpm: malformed payload")

	// ErrBoundsExceeded is returned when a key or value exceeds the wire
	// size limits (key > 128 bytes, string/byte-array value > 4096 bytes).
	ErrBoundsExceeded = errors.New("tpm: bounds exceeded")

	// ErrTruncated is returned when the input ends before a complete
	// entry, header, or footer could be read.
	ErrTruncated = errors.New("tpm: truncated input")

	// ErrCycleDetected is returned when a nested map graph reaches itself,
	// either at Set (when provable immediately) or at Serialize (DFS).
	ErrCycleDetected = errors.New("tpm: cycle detected in nested map graph")

	// ErrReadOnlyViolation is returned when a mutation is attempted on a
	// locked (read-only) Map.
	ErrReadOnlyViolation = errors.New("tpm: map is read-only")

	// ErrKeyNotFound is returned by typed Get accessors when the key is
	// absent.
	ErrKeyNotFound = errors.New("tpm: key not found")

	// ErrTypeMismatch is returned by typed Get accessors when the stored
	// value's tag cannot be coerced to the requested type.
	ErrTypeMismatch = errors.New("tpm: type mismatch")

	// ErrInvalidKey is returned when a key is empty, exceeds 128 bytes, or
	// contains a NUL byte.
	ErrInvalidKey = errors.New("tpm: invalid key")
)
