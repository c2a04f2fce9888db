package ident

import (
	"testing"

	"github.com/javacruft/galera/evserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID_NilSortsBelowReal(t *testing.T) {
	real := New()
	assert.True(t, Less(Nil, real))
	assert.False(t, Less(real, Nil))
}

func TestViewId_RoundTrip(t *testing.T) {
	v := ViewId{Founder: New(), Seq: 42}
	buf := make([]byte, 64)
	n, err := v.EncodeTo(buf, 3)
	require.NoError(t, err)

	got, next, err := DecodeViewIdFrom(buf, 3)
	require.NoError(t, err)
	assert.Equal(t, n, next)
	assert.True(t, v.Equal(got))
}

func TestViewId_EncodeTo_BufferTooShort(t *testing.T) {
	v := ViewId{Founder: New(), Seq: 1}
	buf := make([]byte, 10)
	_, err := v.EncodeTo(buf, 0)
	assert.ErrorIs(t, err, evserr.ErrBufferTooShort)
}

func TestNodeList_RoundTrip(t *testing.T) {
	a, b := New(), New()
	nl := NodeList{a: "alpha", b: "beta"}
	buf := make([]byte, nl.Size())
	n, err := nl.EncodeTo(buf, 0)
	require.NoError(t, err)
	require.Equal(t, nl.Size(), n)

	got, next, err := DecodeNodeListFrom(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, n, next)
	assert.True(t, nl.Equal(got))
}

func TestNodeList_NameTooLong(t *testing.T) {
	nl := NodeList{New(): "this-name-is-way-too-long-for-16-bytes"}
	buf := make([]byte, nl.Size())
	_, err := nl.EncodeTo(buf, 0)
	assert.Error(t, err)
}

func TestView_Representative(t *testing.T) {
	a, b, c := New(), New(), New()
	members := []UUID{a, b, c}
	smallest := members[0]
	for _, m := range members[1:] {
		if Less(m, smallest) {
			smallest = m
		}
	}

	v := NewView(Reg, ViewId{Founder: a, Seq: 1})
	for _, m := range members {
		v.Members[m] = ""
	}

	rep, ok := v.Representative()
	require.True(t, ok)
	assert.Equal(t, smallest, rep)
}

func TestView_RepresentativeEmpty(t *testing.T) {
	v := NewView(None, ViewId{})
	_, ok := v.Representative()
	assert.False(t, ok)
}
