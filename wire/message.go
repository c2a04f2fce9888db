// Package wire implements the six EVS message variants and their binary
// codec. Every message shares a fixed-size common header; the tail layout
// is determined by the message's Type.
package wire

import (
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
)

// Type tags the six EVS message variants.
type Type uint8

const (
	User Type = iota
	Delegate
	Gap
	Join
	Install
	Leave
)

func (t Type) String() string {
	switch t {
	case User:
		return "USER"
	case Delegate:
		return "DELEGATE"
	case Gap:
		return "GAP"
	case Join:
		return "JOIN"
	case Install:
		return "INSTALL"
	case Leave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Safety names the four (plus keepalive) delivery guarantees a USER
// message may request.
type Safety uint8

const (
	Drop Safety = iota
	Unreliable
	Fifo
	Agreed
	Safe
)

func (s Safety) String() string {
	switch s {
	case Drop:
		return "DROP"
	case Unreliable:
		return "UNRELIABLE"
	case Fifo:
		return "FIFO"
	case Agreed:
		return "AGREED"
	case Safe:
		return "SAFE"
	default:
		return "UNKNOWN"
	}
}

// Flags is a bitset of per-message modifiers.
type Flags uint8

const (
	// FlagMsgMore indicates more fragments of a larger application
	// message follow this one.
	FlagMsgMore Flags = 1 << iota
	// FlagCausal requests causal (not just FIFO) ordering hints from
	// the upper layer; the engine itself treats it as opaque.
	FlagCausal
	// FlagGapRequest marks a Gap message as an OPERATIONAL-phase
	// retransmission request naming a hole in GapSource's stream. A Gap
	// message without this flag is a RECOVERY-phase consistency
	// acknowledgment of the range the sender itself holds.
	FlagGapRequest
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Header is the common prefix of every EVS message.
type Header struct {
	Version    uint8
	Type       Type
	UserType   uint8
	Safety     Safety
	Flags      Flags
	Source     ident.UUID
	SourceView ident.ViewId
	Seq        seqno.Seq
	SeqRange   uint8
	AruSeq     seqno.Seq
	FifoSeq    int64
}

// PeerState is the per-peer record carried inside a JOIN or INSTALL
// message's Peers map.
type PeerState struct {
	Operational bool
	Left        bool
	SafeSeq     seqno.Seq
	RangeLow    seqno.Seq
	RangeHigh   seqno.Seq
}

// PeerList maps peer UUID to the sender's view of that peer's state, as
// carried by JOIN and INSTALL.
type PeerList map[ident.UUID]PeerState

// Equal reports whether p and o contain the same entries.
func (p PeerList) Equal(o PeerList) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a shallow copy of p.
func (p PeerList) Clone() PeerList {
	out := make(PeerList, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Message is the tagged union of all six EVS message variants. Only the
// fields relevant to Header.Type are populated; the rest are left zero.
type Message struct {
	Header

	// Peers is populated for Join and Install.
	Peers PeerList

	// GapSource, GapLow and GapHigh identify the range requested by a Gap
	// message: the sequences [GapLow, GapHigh] of GapSource's own stream.
	GapSource ident.UUID
	GapLow    seqno.Seq
	GapHigh   seqno.Seq

	// Inner is the wrapped message carried by a Delegate message.
	Inner *Message

	// Payload is the opaque application payload of a User message.
	Payload []byte
}

// Equal reports whether two messages are equal in every field relevant to
// their type. Two Delegate messages are equal iff their Inner messages
// are equal.
func Equal(a, b *Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Header != b.Header {
		return false
	}
	switch a.Type {
	case Join, Install:
		return a.Peers.Equal(b.Peers)
	case Gap:
		return a.GapSource == b.GapSource && a.GapLow == b.GapLow && a.GapHigh == b.GapHigh
	case Delegate:
		return Equal(a.Inner, b.Inner)
	case User:
		return bytesEqual(a.Payload, b.Payload)
	default: // Leave
		return true
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
