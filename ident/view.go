package ident

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/javacruft/galera/evserr"
)

// ViewId identifies a view as (founder UUID, monotone sequence). It is an
// opaque token: nothing beyond equality and ordering is inferred from it.
type ViewId struct {
	Founder UUID
	Seq     uint32
}

// viewIdSize is the encoded size of a ViewId.
const viewIdSize = Size + 4

// Less gives ViewId a total, lexicographic order: founder first, then seq.
func (v ViewId) Less(o ViewId) bool {
	if v.Founder != o.Founder {
		return Less(v.Founder, o.Founder)
	}
	return v.Seq < o.Seq
}

// Equal reports whether v and o name the same view.
func (v ViewId) Equal(o ViewId) bool {
	return v.Founder == o.Founder && v.Seq == o.Seq
}

func (v ViewId) String() string {
	return fmt.Sprintf("%s:%d", v.Founder, v.Seq)
}

// EncodeTo appends the binary encoding of v to buf at offset.
func (v ViewId) EncodeTo(buf []byte, offset int) (int, error) {
	offset, err := EncodeTo(buf, offset, v.Founder)
	if err != nil {
		return offset, err
	}
	if len(buf) < offset+4 {
		return offset, fmt.Errorf("%w: view id seq needs 4 bytes", evserr.ErrBufferTooShort)
	}
	binary.LittleEndian.PutUint32(buf[offset:], v.Seq)
	return offset + 4, nil
}

// DecodeViewIdFrom reads a ViewId from buf at offset.
func DecodeViewIdFrom(buf []byte, offset int) (ViewId, int, error) {
	var v ViewId
	founder, offset, err := DecodeFrom(buf, offset)
	if err != nil {
		return v, offset, err
	}
	if len(buf) < offset+4 {
		return v, offset, fmt.Errorf("%w: view id seq needs 4 bytes", evserr.ErrBufferTooShort)
	}
	v.Founder = founder
	v.Seq = binary.LittleEndian.Uint32(buf[offset:])
	return v, offset + 4, nil
}

// NodeNameSize is the fixed, NUL-padded width of a node's human-readable
// name on the wire.
const NodeNameSize = 16

// NodeList maps a node UUID to its human-readable name. Insertion order
// is irrelevant; EncodeTo writes entries in UUID order so that encoding
// is deterministic across peers.
type NodeList map[UUID]string

// Clone returns a shallow copy of n.
func (n NodeList) Clone() NodeList {
	out := make(NodeList, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// Equal reports whether n and o contain exactly the same (uuid, name) pairs.
func (n NodeList) Equal(o NodeList) bool {
	if len(n) != len(o) {
		return false
	}
	for k, v := range n {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// sortedUUIDs returns n's keys sorted by the UUID total order.
func (n NodeList) sortedUUIDs() []UUID {
	out := make([]UUID, 0, len(n))
	for k := range n {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Size returns the encoded size of n: a 4-byte count followed by one
// (uuid, name) record per entry.
func (n NodeList) Size() int {
	return 4 + len(n)*(Size+NodeNameSize)
}

// EncodeTo appends the binary encoding of n to buf at offset.
func (n NodeList) EncodeTo(buf []byte, offset int) (int, error) {
	if len(buf) < offset+4 {
		return offset, fmt.Errorf("%w: node list count needs 4 bytes", evserr.ErrBufferTooShort)
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(n)))
	offset += 4
	for _, u := range n.sortedUUIDs() {
		name := n[u]
		if len(name) > NodeNameSize {
			return offset, fmt.Errorf("%w: node name %q exceeds %d bytes", evserr.ErrMessageTooLarge, name, NodeNameSize)
		}
		var err error
		offset, err = EncodeTo(buf, offset, u)
		if err != nil {
			return offset, err
		}
		if len(buf) < offset+NodeNameSize {
			return offset, fmt.Errorf("%w: node name needs %d bytes", evserr.ErrBufferTooShort, NodeNameSize)
		}
		copy(buf[offset:offset+NodeNameSize], name)
		offset += NodeNameSize
	}
	return offset, nil
}

// DecodeNodeListFrom reads a NodeList from buf at offset.
func DecodeNodeListFrom(buf []byte, offset int) (NodeList, int, error) {
	if len(buf) < offset+4 {
		return nil, offset, fmt.Errorf("%w: node list count needs 4 bytes", evserr.ErrBufferTooShort)
	}
	count := binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	out := make(NodeList, count)
	for i := uint32(0); i < count; i++ {
		u, next, err := DecodeFrom(buf, offset)
		if err != nil {
			return nil, offset, err
		}
		offset = next
		if len(buf) < offset+NodeNameSize {
			return nil, offset, fmt.Errorf("%w: node name needs %d bytes", evserr.ErrBufferTooShort, NodeNameSize)
		}
		raw := buf[offset : offset+NodeNameSize]
		nul := len(raw)
		for i, b := range raw {
			if b == 0 {
				nul = i
				break
			}
		}
		out[u] = string(raw[:nul])
		offset += NodeNameSize
	}
	return out, offset, nil
}

// Type distinguishes the kind of view snapshot being reported.
type Type int

const (
	None Type = iota
	Trans
	Reg
	NonPrim
	Prim
)

func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case Trans:
		return "TRANS"
	case Reg:
		return "REG"
	case NonPrim:
		return "NON_PRIM"
	case Prim:
		return "PRIM"
	default:
		return "UNKNOWN"
	}
}

// View is an immutable snapshot of group membership, identified by a
// ViewId. Once emitted to the upper layer, a View is never mutated.
type View struct {
	Type        Type
	Id          ViewId
	Members     NodeList
	Joined      NodeList
	Left        NodeList
	Partitioned NodeList
}

// NewView returns an empty view of the given type and id.
func NewView(t Type, id ViewId) View {
	return View{
		Type:        t,
		Id:          id,
		Members:     NodeList{},
		Joined:      NodeList{},
		Left:        NodeList{},
		Partitioned: NodeList{},
	}
}

// Representative returns the numerically smallest member UUID, which is
// the only node authorized to emit INSTALL for a forming view based on
// this membership.
func (v View) Representative() (UUID, bool) {
	var rep UUID
	found := false
	for u := range v.Members {
		if !found || Less(u, rep) {
			rep = u
			found = true
		}
	}
	return rep, found
}

// IsEmpty reports whether the view has no members.
func (v View) IsEmpty() bool {
	return len(v.Members) == 0
}

// Equal reports whether v and o have identical fields.
func (v View) Equal(o View) bool {
	return v.Type == o.Type &&
		v.Id.Equal(o.Id) &&
		v.Members.Equal(o.Members) &&
		v.Joined.Equal(o.Joined) &&
		v.Left.Equal(o.Left) &&
		v.Partitioned.Equal(o.Partitioned)
}
