package wire

import (
	"testing"

	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(t Type) Header {
	return Header{
		Version:    1,
		Type:       t,
		UserType:   7,
		Safety:     Safe,
		Flags:      FlagMsgMore,
		Source:     ident.New(),
		SourceView: ident.ViewId{Founder: ident.New(), Seq: 3},
		Seq:        seqno.Seq(100),
		SeqRange:   2,
		AruSeq:     seqno.Seq(98),
		FifoSeq:    1234,
	}
}

func roundTrip(t *testing.T, m *Message) {
	t.Helper()
	buf, err := Encode(m)
	require.NoError(t, err)
	assert.Len(t, buf, m.Size())

	got, n, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.True(t, Equal(m, got))
}

func TestRoundTrip_User(t *testing.T) {
	m := &Message{Header: header(User), Payload: []byte("hello evs")}
	roundTrip(t, m)
}

func TestRoundTrip_UserEmptyPayload(t *testing.T) {
	m := &Message{Header: header(User)}
	roundTrip(t, m)
}

func TestRoundTrip_Leave(t *testing.T) {
	m := &Message{Header: header(Leave)}
	roundTrip(t, m)
}

func TestRoundTrip_Gap(t *testing.T) {
	m := &Message{Header: header(Gap), GapSource: ident.New(), GapLow: seqno.Seq(5), GapHigh: seqno.Seq(9)}
	roundTrip(t, m)
}

func TestRoundTrip_Join(t *testing.T) {
	a, b := ident.New(), ident.New()
	m := &Message{
		Header: header(Join),
		Peers: PeerList{
			a: {Operational: true, SafeSeq: 10, RangeLow: 5, RangeHigh: 15},
			b: {Operational: false, Left: true, SafeSeq: 20, RangeLow: 20, RangeHigh: 20},
		},
	}
	roundTrip(t, m)
}

func TestRoundTrip_Install(t *testing.T) {
	m := &Message{Header: header(Install), Peers: PeerList{}}
	roundTrip(t, m)
}

func TestRoundTrip_Delegate(t *testing.T) {
	inner := &Message{Header: header(User), Payload: []byte("inner")}
	m := &Message{Header: header(Delegate), Inner: inner}
	roundTrip(t, m)
}

func TestRoundTrip_DelegateNilInner(t *testing.T) {
	m := &Message{Header: header(Delegate)}
	roundTrip(t, m)
}

func TestDecodeFrom_BufferTooShort(t *testing.T) {
	m := &Message{Header: header(User), Payload: []byte("x")}
	buf, err := Encode(m)
	require.NoError(t, err)

	for n := 0; n < len(buf); n++ {
		_, _, err := Decode(buf[:n])
		assert.Error(t, err, "decode should fail with truncated buffer of length %d", n)
	}
}

func TestDecodeFrom_UnknownMessageKind(t *testing.T) {
	m := &Message{Header: header(User)}
	buf, err := Encode(m)
	require.NoError(t, err)
	buf[1] = 0xFF

	_, _, err = Decode(buf)
	assert.Error(t, err)
}

func TestEncodeTo_BufferTooShort(t *testing.T) {
	m := &Message{Header: header(User), Payload: []byte("abc")}
	buf := make([]byte, 10)
	_, err := m.EncodeTo(buf, 0)
	assert.Error(t, err)
}

func TestEncodeTo_AtNonZeroOffset(t *testing.T) {
	m := &Message{Header: header(Gap), GapSource: ident.New(), GapLow: 1, GapHigh: 2}
	buf := make([]byte, 5+m.Size())
	n, err := m.EncodeTo(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	got, next, err := DecodeFrom(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, n, next)
	assert.True(t, Equal(m, got))
}
