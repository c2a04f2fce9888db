package seqno

import (
	"testing"

	"github.com/javacruft/galera/evserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpace_TrichotomyP1(t *testing.T) {
	s := New(64)
	for a := Seq(0); a < 64; a++ {
		for b := Seq(0); b < 64; b++ {
			lt, err := s.Lt(a, b)
			require.NoError(t, err)
			gt, err := s.Gt(a, b)
			require.NoError(t, err)
			eq, err := s.Eq(a, b)
			require.NoError(t, err)

			count := 0
			if lt {
				count++
			}
			if gt {
				count++
			}
			if eq {
				count++
			}
			assert.Equalf(t, 1, count, "a=%d b=%d lt=%v gt=%v eq=%v", a, b, lt, gt, eq)
		}
	}
}

func TestSpace_SentinelRejectedByComparisons(t *testing.T) {
	s := New(64)
	sentinel := s.Sentinel()

	_, err := s.Lt(sentinel, 0)
	assert.ErrorIs(t, err, evserr.ErrInvalidSequence)

	_, err = s.Gt(0, sentinel)
	assert.ErrorIs(t, err, evserr.ErrInvalidSequence)

	_, err = s.Eq(sentinel, sentinel)
	assert.ErrorIs(t, err, evserr.ErrInvalidSequence)
}

func TestSpace_NextAndDecWrap(t *testing.T) {
	s := New(64)
	assert.Equal(t, Seq(0), s.Next(63))
	assert.Equal(t, Seq(63), s.Dec(0))
	assert.Equal(t, Seq(5), s.Add(60, 9))
}

func TestSpace_New_PanicsOnNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { New(3) })
	assert.Panics(t, func() { New(0) })
}

func TestDefault(t *testing.T) {
	assert.Equal(t, uint32(DefaultMax), Default().Max)
}
