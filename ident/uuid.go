// Package ident implements the node and view identifiers used throughout
// the EVS engine: 128-bit node UUIDs with a total order, and the
// (founder UUID, seq) view identifiers built on top of them.
package ident

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/javacruft/galera/evserr"
)

// UUID is a 128-bit node identifier. The zero value, Nil, is the
// distinguished identifier that sorts below every real UUID.
type UUID = uuid.UUID

// Nil is the distinguished UUID that sorts below all real ones.
var Nil = uuid.Nil

// Size is the encoded size of a UUID, in bytes.
const Size = 16

// New returns a fresh random UUID, suitable for a local node identity.
func New() UUID {
	return uuid.New()
}

// Less reports whether a sorts before b under the total order used for
// representative selection and message-level tie-breaking.
func Less(a, b UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// Compare returns -1, 0 or 1 as a sorts before, equal to, or after b.
func Compare(a, b UUID) int {
	return bytes.Compare(a[:], b[:])
}

// EncodeTo appends the 16-byte encoding of u to buf, failing with
// ErrBufferTooShort if there isn't room between offset and len(buf).
func EncodeTo(buf []byte, offset int, u UUID) (int, error) {
	if len(buf) < offset+Size {
		return offset, fmt.Errorf("%w: uuid needs %d bytes, have %d", evserr.ErrBufferTooShort, Size, len(buf)-offset)
	}
	copy(buf[offset:], u[:])
	return offset + Size, nil
}

// DecodeFrom reads a UUID from buf at offset.
func DecodeFrom(buf []byte, offset int) (UUID, int, error) {
	var u UUID
	if len(buf) < offset+Size {
		return u, offset, fmt.Errorf("%w: uuid needs %d bytes, have %d", evserr.ErrBufferTooShort, Size, len(buf)-offset)
	}
	copy(u[:], buf[offset:offset+Size])
	return u, offset + Size, nil
}
