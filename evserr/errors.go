// Package evserr collects the sentinel error kinds shared across the EVS
// engine's packages (codec, input map, instance table, protocol engine),
// so callers can use errors.Is regardless of which layer raised them.
package evserr

import "errors"

var (
	// ErrBufferTooShort is returned by codec helpers when the supplied
	// buffer does not have enough room for the requested operation.
	ErrBufferTooShort = errors.New("evs: buffer too short")

	// ErrUnknownMessageKind is returned by the message codec when a
	// message's type tag does not match any known variant.
	ErrUnknownMessageKind = errors.New("evs: unknown message kind")

	// ErrMessageTooLarge is returned when a field (e.g. a node name)
	// exceeds its fixed wire-format capacity.
	ErrMessageTooLarge = errors.New("evs: message field too large")

	// ErrInvalidSequence is returned by sequence-space comparisons when
	// an operand is the sentinel "no sequence" value.
	ErrInvalidSequence = errors.New("evs: invalid sequence: sentinel passed to comparison")

	// ErrDuplicate is returned when an operation that requires a fresh
	// key (e.g. input map insert_sa) finds one already present.
	ErrDuplicate = errors.New("evs: duplicate")

	// ErrMissing is returned when an operation that requires an
	// existing key (e.g. input map erase_sa) finds none.
	ErrMissing = errors.New("evs: missing")

	// ErrWouldBlock is returned by a non-blocking send when the
	// transport cannot accept the message right now.
	ErrWouldBlock = errors.New("evs: would block")

	// ErrNotOperational is returned by Engine.Send when the engine is
	// not in the OPERATIONAL state.
	ErrNotOperational = errors.New("evs: engine is not operational")

	// ErrFatal marks an invariant violation. The engine that raises it
	// transitions to CLOSED and refuses further entry-point calls.
	ErrFatal = errors.New("evs: fatal protocol invariant violation")
)
