// Package engine implements the EVS protocol state machine (C6) and the
// delivery dispatcher (C7): the component that drives view formation and
// message delivery on top of the input map, instance table, and wire
// codec packages.
package engine

import (
	"time"

	"github.com/javacruft/galera/ident"
)

// State is one of the five EVS engine states.
type State int

const (
	Closed State = iota
	Joining
	Recovery
	Operational
	Leaving
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Joining:
		return "JOINING"
	case Recovery:
		return "RECOVERY"
	case Operational:
		return "OPERATIONAL"
	case Leaving:
		return "LEAVING"
	default:
		return "UNKNOWN"
	}
}

// Transport is the group-multicast collaborator the engine sends framed
// messages through. Send must be non-blocking: when backpressured it
// returns evserr.ErrWouldBlock and the engine relies on the resend timer.
type Transport interface {
	Send(frame []byte) error
}

// UpMeta describes an upward delivery: either an application payload
// (View is nil) or a view-change notification (View is non-nil and
// Payload is nil).
type UpMeta struct {
	Source     ident.UUID
	UserType   uint8
	SourceView ident.ViewId
	View       *ident.View
}

// UpperLayer is the application collaborator the engine delivers payloads
// and view notifications to.
type UpperLayer interface {
	HandleUp(payload []byte, meta UpMeta)
}

// Clock is a function with the signature of time.Now. The Engine does not
// take a Clock: the timestamps it stamps on local state come from the
// package-level timeNow variable.
type Clock func() time.Time
