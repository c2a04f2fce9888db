// Package instance implements the node instance table: the engine's
// per-peer bookkeeping of operational state, latest JOIN/LEAVE seen, and
// the inactivity timestamp driving expiration.
package instance

import (
	"fmt"
	"time"

	"github.com/javacruft/galera/evserr"
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
	"github.com/javacruft/galera/wire"
)

// for testing purposes
var timeNow = time.Now

// Range is a peer's declared [low, high] sequence range, as carried by a
// JOIN message's PeerState.
type Range struct {
	Low  seqno.Seq
	High seqno.Seq
}

// Instance is the per-peer record the engine maintains for every UUID it
// has observed, from first JOIN until the view that excludes it.
type Instance struct {
	UUID          ident.UUID
	Operational   bool
	Installed     bool
	Leaving       bool
	JoinMessage   *wire.Message
	LeaveMessage  *wire.Message
	ExpectedRange Range
	SafeSeq       seqno.Seq
	Timestamp     time.Time
}

func newInstance(u ident.UUID, sentinel seqno.Seq) *Instance {
	return &Instance{
		UUID:      u,
		Timestamp: timeNow(),
		SafeSeq:   sentinel,
	}
}

// Table is the set of known peer Instances, keyed by UUID.
type Table struct {
	sentinel seqno.Seq
	byUUID   map[ident.UUID]*Instance
}

// NewTable returns an empty instance table. sentinel is the input map's
// "no sequence" value, used to initialize each Instance.SafeSeq.
func NewTable(sentinel seqno.Seq) *Table {
	return &Table{
		sentinel: sentinel,
		byUUID:   make(map[ident.UUID]*Instance),
	}
}

// Ensure returns the Instance for u, creating an entry (operational=false,
// installed=false) if this is the first time u has been observed.
func (t *Table) Ensure(u ident.UUID) *Instance {
	if inst, ok := t.byUUID[u]; ok {
		return inst
	}
	inst := newInstance(u, t.sentinel)
	t.byUUID[u] = inst
	return inst
}

// Get returns the Instance for u, or false if u has never been observed.
func (t *Table) Get(u ident.UUID) (*Instance, bool) {
	inst, ok := t.byUUID[u]
	return inst, ok
}

// Delete removes u from the table, failing with Missing if it was never
// present. Called only when a new view is installed that excludes u.
func (t *Table) Delete(u ident.UUID) error {
	if _, ok := t.byUUID[u]; !ok {
		return fmt.Errorf("%w: instance %s not present", evserr.ErrMissing, u)
	}
	delete(t.byUUID, u)
	return nil
}

// Len returns the number of known instances.
func (t *Table) Len() int { return len(t.byUUID) }

// Range calls fn for every known instance, in no particular order. It
// stops early if fn returns false.
func (t *Table) Range(fn func(*Instance) bool) {
	for _, inst := range t.byUUID {
		if !fn(inst) {
			return
		}
	}
}

// Touch resets u's inactivity timestamp to now, creating the instance if
// necessary. Called on every message receipt from u.
func (t *Table) Touch(u ident.UUID) *Instance {
	inst := t.Ensure(u)
	inst.Timestamp = timeNow()
	return inst
}

// ExpireOlderThan marks non-operational every operational instance whose
// timestamp is older than inactiveTimeout before now. It returns the
// UUIDs that changed state, for the caller to decide whether a view
// shift is warranted.
func (t *Table) ExpireOlderThan(inactiveTimeout time.Duration) []ident.UUID {
	var expired []ident.UUID
	cutoff := timeNow().Add(-inactiveTimeout)
	for u, inst := range t.byUUID {
		if inst.Operational && inst.Timestamp.Before(cutoff) {
			inst.Operational = false
			expired = append(expired, u)
		}
	}
	return expired
}
