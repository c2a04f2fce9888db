package memtransport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend_DeliversToOtherNodesNotSelf(t *testing.T) {
	h := NewHub(0, 1)
	a := h.Join()
	b := h.Join()

	require.NoError(t, a.Send([]byte("hello")))

	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, 1, b.Pending())

	frame, ok := b.Poll()
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), frame)
}

func TestSend_DropsAtFullLossRate(t *testing.T) {
	h := NewHub(1, 1)
	a := h.Join()
	b := h.Join()

	require.NoError(t, a.Send([]byte("hello")))
	assert.Equal(t, 0, b.Pending())
}

func TestLeave_StopsDelivery(t *testing.T) {
	h := NewHub(0, 1)
	a := h.Join()
	b := h.Join()
	h.Leave(b)

	require.NoError(t, a.Send([]byte("hello")))
	assert.Equal(t, 0, b.Pending())

	h.Leave(a)
	require.NoError(t, a.Send([]byte("ignored")))
}

func TestDrain_StopsAtFirstError(t *testing.T) {
	h := NewHub(0, 1)
	a := h.Join()
	b := h.Join()

	require.NoError(t, a.Send([]byte("one")))
	require.NoError(t, a.Send([]byte("two")))

	sentinel := errors.New("boom")
	var seen [][]byte
	err := b.Drain(func(frame []byte) error {
		seen = append(seen, frame)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, b.Pending())
}
