// Package seqno implements circular sequence number arithmetic over a
// configurable modulus, as used by the input map and the EVS protocol
// engine to order USER messages within a source.
package seqno

import (
	"fmt"

	"github.com/javacruft/galera/evserr"
)

// Seq is a sequence number, circular modulo a Space's Max.
type Seq uint32

// Space defines the modulus for a family of sequence numbers. Max must be
// a power of two; Max itself is reserved as the sentinel "no sequence"
// value and is never a valid operand to Lt, Gt or Eq.
type Space struct {
	Max uint32
}

// DefaultMax is the default sequence space, matching SEQNO_MAX in the spec.
const DefaultMax = 0x80000000

// New returns a Space with the given modulus. It panics if max is not a
// power of two, since the wraparound arithmetic below relies on it.
func New(max uint32) Space {
	if max == 0 || max&(max-1) != 0 {
		panic("seqno: max must be a power of two")
	}
	return Space{Max: max}
}

// Default returns the Space with the spec's default modulus.
func Default() Space {
	return New(DefaultMax)
}

// Sentinel returns the value used to mean "no sequence observed".
func (s Space) Sentinel() Seq {
	return Seq(s.Max)
}

func (s Space) checkDefined(a, b Seq) error {
	if uint32(a) == s.Max || uint32(b) == s.Max {
		return fmt.Errorf("%w: sequence equals sentinel %d", evserr.ErrInvalidSequence, s.Max)
	}
	return nil
}

// diff returns (b - a) mod Max.
func (s Space) diff(a, b Seq) uint32 {
	return (uint32(b) - uint32(a)) % s.Max
}

// Lt reports whether a is circularly less than b, i.e. (b-a) mod Max lies
// in the open window (0, Max/2). Returns evserr.ErrInvalidSequence if
// either operand is the sentinel.
func (s Space) Lt(a, b Seq) (bool, error) {
	if err := s.checkDefined(a, b); err != nil {
		return false, err
	}
	d := s.diff(a, b)
	return d != 0 && d < s.Max/2, nil
}

// Gt reports whether a is circularly greater than b.
func (s Space) Gt(a, b Seq) (bool, error) {
	return s.Lt(b, a)
}

// Eq reports whether a and b are equal. Defined sequences only.
func (s Space) Eq(a, b Seq) (bool, error) {
	if err := s.checkDefined(a, b); err != nil {
		return false, err
	}
	return a == b, nil
}

// Add returns (a + delta) mod Max. delta must not exceed Max/2 in
// magnitude; the EVS engine never needs to add more than that in one
// step (a gap request window, at most).
func (s Space) Add(a Seq, delta uint32) Seq {
	return Seq((uint32(a) + delta) % s.Max)
}

// Dec returns the predecessor of a, wrapping below zero to Max-1.
func (s Space) Dec(a Seq) Seq {
	return Seq((uint32(a) + s.Max - 1) % s.Max)
}

// Next returns the successor of a.
func (s Space) Next(a Seq) Seq {
	return s.Add(a, 1)
}
