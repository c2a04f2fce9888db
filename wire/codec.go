package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/javacruft/galera/evserr"
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
)

// byteOrder is fixed at build time, and must be identical across every
// peer of a group; see spec section 6, "Wire format".
var byteOrder = binary.LittleEndian

const headerSize = 1 + 1 + 1 + 1 + 1 + ident.Size + 20 /* ViewId */ + 4 + 1 + 4 + 8

const peerStateSize = ident.Size + 1 + 1 + 4 + 4 + 4

// Size returns the number of bytes Encode will produce for m.
func (m *Message) Size() int {
	n := headerSize
	switch m.Type {
	case Join, Install:
		n += 4 + len(m.Peers)*peerStateSize
	case Gap:
		n += ident.Size + 8
	case Delegate:
		n += 4
		if m.Inner != nil {
			n += m.Inner.Size()
		}
	case User:
		n += 4 + len(m.Payload)
	}
	return n
}

// Encode serializes m into a freshly allocated buffer.
func Encode(m *Message) ([]byte, error) {
	buf := make([]byte, m.Size())
	n, err := m.EncodeTo(buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// EncodeTo writes m into buf starting at offset, returning the offset one
// past the last byte written. It fails with evserr.ErrBufferTooShort if
// buf does not have enough room, and evserr.ErrUnknownMessageKind if
// m.Type is not one of the six variants.
func (m *Message) EncodeTo(buf []byte, offset int) (int, error) {
	need := func(n int) error {
		if len(buf) < offset+n {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d", evserr.ErrBufferTooShort, n, offset, len(buf)-offset)
		}
		return nil
	}

	if err := need(headerSize); err != nil {
		return offset, err
	}
	buf[offset] = m.Version
	buf[offset+1] = uint8(m.Type)
	buf[offset+2] = m.UserType
	buf[offset+3] = uint8(m.Safety)
	buf[offset+4] = uint8(m.Flags)
	offset += 5

	offset, err := ident.EncodeTo(buf, offset, m.Source)
	if err != nil {
		return offset, err
	}
	offset, err = m.SourceView.EncodeTo(buf, offset)
	if err != nil {
		return offset, err
	}

	if err := need(4 + 1 + 4 + 8); err != nil {
		return offset, err
	}
	byteOrder.PutUint32(buf[offset:], uint32(m.Seq))
	offset += 4
	buf[offset] = m.SeqRange
	offset++
	byteOrder.PutUint32(buf[offset:], uint32(m.AruSeq))
	offset += 4
	byteOrder.PutUint64(buf[offset:], uint64(m.FifoSeq))
	offset += 8

	switch m.Type {
	case Join, Install:
		return encodePeerList(buf, offset, m.Peers)
	case Gap:
		offset, err = ident.EncodeTo(buf, offset, m.GapSource)
		if err != nil {
			return offset, err
		}
		if err := need(8); err != nil {
			return offset, err
		}
		byteOrder.PutUint32(buf[offset:], uint32(m.GapLow))
		offset += 4
		byteOrder.PutUint32(buf[offset:], uint32(m.GapHigh))
		offset += 4
		return offset, nil
	case Delegate:
		inner := []byte(nil)
		if m.Inner != nil {
			var err error
			inner, err = Encode(m.Inner)
			if err != nil {
				return offset, err
			}
		}
		if err := need(4 + len(inner)); err != nil {
			return offset, err
		}
		byteOrder.PutUint32(buf[offset:], uint32(len(inner)))
		offset += 4
		copy(buf[offset:], inner)
		return offset + len(inner), nil
	case User:
		if err := need(4 + len(m.Payload)); err != nil {
			return offset, err
		}
		byteOrder.PutUint32(buf[offset:], uint32(len(m.Payload)))
		offset += 4
		copy(buf[offset:], m.Payload)
		return offset + len(m.Payload), nil
	case Leave:
		return offset, nil
	default:
		return offset, fmt.Errorf("%w: type %d", evserr.ErrUnknownMessageKind, m.Type)
	}
}

func encodePeerList(buf []byte, offset int, peers PeerList) (int, error) {
	need := func(n int) error {
		if len(buf) < offset+n {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d", evserr.ErrBufferTooShort, n, offset, len(buf)-offset)
		}
		return nil
	}
	if err := need(4); err != nil {
		return offset, err
	}
	byteOrder.PutUint32(buf[offset:], uint32(len(peers)))
	offset += 4

	uuids := make([]ident.UUID, 0, len(peers))
	for u := range peers {
		uuids = append(uuids, u)
	}
	sortUUIDs(uuids)

	for _, u := range uuids {
		p := peers[u]
		var err error
		offset, err = ident.EncodeTo(buf, offset, u)
		if err != nil {
			return offset, err
		}
		if err := need(1 + 1 + 4 + 4 + 4); err != nil {
			return offset, err
		}
		buf[offset] = boolByte(p.Operational)
		buf[offset+1] = boolByte(p.Left)
		offset += 2
		byteOrder.PutUint32(buf[offset:], uint32(p.SafeSeq))
		offset += 4
		byteOrder.PutUint32(buf[offset:], uint32(p.RangeLow))
		offset += 4
		byteOrder.PutUint32(buf[offset:], uint32(p.RangeHigh))
		offset += 4
	}
	return offset, nil
}

func decodePeerList(buf []byte, offset int) (PeerList, int, error) {
	need := func(n int) error {
		if len(buf) < offset+n {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d", evserr.ErrBufferTooShort, n, offset, len(buf)-offset)
		}
		return nil
	}
	if err := need(4); err != nil {
		return nil, offset, err
	}
	count := byteOrder.Uint32(buf[offset:])
	offset += 4
	out := make(PeerList, count)
	for i := uint32(0); i < count; i++ {
		u, next, err := ident.DecodeFrom(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		offset = next
		if err := need(1 + 1 + 4 + 4 + 4); err != nil {
			return nil, offset, err
		}
		p := PeerState{
			Operational: buf[offset] != 0,
			Left:        buf[offset+1] != 0,
		}
		offset += 2
		p.SafeSeq = seqno.Seq(byteOrder.Uint32(buf[offset:]))
		offset += 4
		p.RangeLow = seqno.Seq(byteOrder.Uint32(buf[offset:]))
		offset += 4
		p.RangeHigh = seqno.Seq(byteOrder.Uint32(buf[offset:]))
		offset += 4
		out[u] = p
	}
	return out, offset, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func sortUUIDs(u []ident.UUID) {
	for i := 1; i < len(u); i++ {
		for j := i; j > 0 && ident.Less(u[j], u[j-1]); j-- {
			u[j], u[j-1] = u[j-1], u[j]
		}
	}
}

// Decode parses a single message from buf starting at offset 0,
// equivalent to DecodeFrom(buf, 0).
func Decode(buf []byte) (*Message, int, error) {
	return DecodeFrom(buf, 0)
}

// DecodeFrom parses a single message from buf starting at offset,
// returning the message and the offset one past its last byte.
func DecodeFrom(buf []byte, offset int) (*Message, int, error) {
	need := func(n int) error {
		if len(buf) < offset+n {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d", evserr.ErrBufferTooShort, n, offset, len(buf)-offset)
		}
		return nil
	}
	if err := need(5); err != nil {
		return nil, offset, err
	}
	m := &Message{}
	m.Version = buf[offset]
	m.Type = Type(buf[offset+1])
	m.UserType = buf[offset+2]
	m.Safety = Safety(buf[offset+3])
	m.Flags = Flags(buf[offset+4])
	offset += 5

	source, next, err := ident.DecodeFrom(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	offset = next
	m.Source = source

	sourceView, next, err := ident.DecodeViewIdFrom(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	offset = next
	m.SourceView = sourceView

	if err := need(4 + 1 + 4 + 8); err != nil {
		return nil, offset, err
	}
	m.Seq = seqno.Seq(byteOrder.Uint32(buf[offset:]))
	offset += 4
	m.SeqRange = buf[offset]
	offset++
	m.AruSeq = seqno.Seq(byteOrder.Uint32(buf[offset:]))
	offset += 4
	m.FifoSeq = int64(byteOrder.Uint64(buf[offset:]))
	offset += 8

	switch m.Type {
	case Join, Install:
		peers, next, err := decodePeerList(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		m.Peers = peers
		return m, next, nil
	case Gap:
		gapSource, next, err := ident.DecodeFrom(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		offset = next
		m.GapSource = gapSource
		if err := need(8); err != nil {
			return nil, offset, err
		}
		m.GapLow = seqno.Seq(byteOrder.Uint32(buf[offset:]))
		offset += 4
		m.GapHigh = seqno.Seq(byteOrder.Uint32(buf[offset:]))
		offset += 4
		return m, offset, nil
	case Delegate:
		if err := need(4); err != nil {
			return nil, offset, err
		}
		innerLen := int(byteOrder.Uint32(buf[offset:]))
		offset += 4
		if innerLen > 0 {
			if err := need(innerLen); err != nil {
				return nil, offset, err
			}
			inner, _, err := DecodeFrom(buf[:offset+innerLen], offset)
			if err != nil {
				return nil, offset, err
			}
			m.Inner = inner
			offset += innerLen
		}
		return m, offset, nil
	case User:
		if err := need(4); err != nil {
			return nil, offset, err
		}
		payloadLen := int(byteOrder.Uint32(buf[offset:]))
		offset += 4
		if err := need(payloadLen); err != nil {
			return nil, offset, err
		}
		m.Payload = append([]byte(nil), buf[offset:offset+payloadLen]...)
		offset += payloadLen
		return m, offset, nil
	case Leave:
		return m, offset, nil
	default:
		return nil, offset, fmt.Errorf("%w: type %d", evserr.ErrUnknownMessageKind, m.Type)
	}
}
