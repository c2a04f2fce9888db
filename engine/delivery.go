package engine

import (
	"time"

	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
	"github.com/javacruft/galera/wire"
)

// deliverView emits a TRANS or REG view notification upward.
func (e *Engine) deliverView(view ident.View) {
	v := view
	e.cfg.Upper.HandleUp(nil, UpMeta{Source: e.cfg.Self, SourceView: view.Id, View: &v})
}

func (e *Engine) deliverKeyFor(m *wire.Message) deliverKey {
	return deliverKey{source: m.Source, view: e.currentView.Id, seq: m.Seq}
}

// deliverPayloadOnce delivers m's payload upward, enforcing the
// at-most-once invariant (P5) via the single delivered set shared
// across safety levels.
func (e *Engine) deliverPayloadOnce(m *wire.Message) bool {
	k := e.deliverKeyFor(m)
	if _, done := e.delivered[k]; done {
		return false
	}
	e.delivered[k] = struct{}{}
	e.cfg.Upper.HandleUp(m.Payload, UpMeta{Source: m.Source, UserType: m.UserType, SourceView: m.SourceView})
	return true
}

// acceptUser stores an inbound (or locally originated) USER message in
// the input map and applies its delivery discipline.
func (e *Engine) acceptUser(m *wire.Message, ts time.Time) error {
	if !e.im.HasSource(m.Source) {
		if err := e.im.InsertSA(m.Source); err != nil {
			return err
		}
	}
	rng, dropped, err := e.im.Insert(m.Source, m, ts)
	if err != nil {
		return err
	}
	if dropped {
		return e.requestGap(m.Source, rng.Low, e.cfg.Space.Dec(m.Seq))
	}

	if m.Safety == wire.Unreliable {
		e.deliverPayloadOnce(m)
	}

	// Whatever this message's own safety, inserting it may have advanced
	// the source's aru (gap-filling), which can make other already
	// buffered FIFO/AGREED/SAFE entries newly deliverable.
	e.sweepFifo(m.Source)
	e.sweepAgreed()
	e.recordPeerAru(m.Source, m.AruSeq)
	e.advanceSafe()
	return nil
}

// sweepFifo delivers every FIFO message from source whose predecessor has
// already been delivered, advancing the per-source cursor as it goes.
func (e *Engine) sweepFifo(source ident.UUID) {
	cursor, ok := e.fifoNext[source]
	if !ok {
		cursor = 0
	}
	for {
		entry, ok := e.im.Get(source, cursor)
		if !ok {
			return
		}
		if entry.Msg.Safety == wire.Fifo {
			e.deliverPayloadOnce(entry.Msg)
		}
		cursor = e.cfg.Space.Next(cursor)
		e.fifoNext[source] = cursor
	}
}

// sweepAgreed delivers every AGREED message whose seq is covered by the
// current group ARU, in ascending (seq, source) order.
func (e *Engine) sweepAgreed() {
	aru := e.im.ARU()
	if aru == e.cfg.Space.Sentinel() {
		return
	}
	it := e.im.NewIterator()
	for it.Next() {
		entry := it.Entry()
		if entry.Msg.Safety != wire.Agreed {
			continue
		}
		if gt, err := e.cfg.Space.Gt(entry.Msg.Seq, aru); err == nil && gt {
			continue
		}
		e.deliverPayloadOnce(entry.Msg)
	}
}

// sweepSafeBelow delivers every SAFE message whose seq is covered by
// floor. It must run before the input map prunes entries at or below
// floor, which SetSafe does as a side effect.
func (e *Engine) sweepSafeBelow(floor seqno.Seq) {
	it := e.im.NewIterator()
	for it.Next() {
		entry := it.Entry()
		if entry.Msg.Safety != wire.Safe {
			continue
		}
		if gt, err := e.cfg.Space.Gt(entry.Msg.Seq, floor); err == nil && gt {
			continue
		}
		e.deliverPayloadOnce(entry.Msg)
	}
}

// recordPeerAru remembers the group ARU peer last reported of itself, via
// the common header's AruSeq field.
func (e *Engine) recordPeerAru(peer ident.UUID, aru seqno.Seq) {
	if e.peerAru == nil {
		e.peerAru = make(map[ident.UUID]seqno.Seq)
	}
	e.peerAru[peer] = aru
}

// advanceSafe derives a group safe boundary from every peer's
// self-reported ARU and applies it per source, capped by that source's
// own ARU so that safe_seq never exceeds aru_seq (P3). This approximates
// the spec's per-source safe tracking with a single consensus floor,
// since the wire header carries only a scalar ARU per sender.
//
// Delivery of newly-covered SAFE entries happens before the input map
// commits the new floor, since committing prunes entries at or below it.
func (e *Engine) advanceSafe() {
	if len(e.peerAru) == 0 {
		return
	}
	sentinel := e.cfg.Space.Sentinel()
	floor := sentinel
	for _, v := range e.peerAru {
		if v < floor {
			floor = v
		}
	}
	if floor == sentinel {
		return
	}

	targets := make(map[ident.UUID]seqno.Seq, len(e.pending))
	prospective := sentinel
	for u := range e.pending {
		ownAru, err := e.im.SourceARU(u)
		if err != nil || ownAru == sentinel {
			continue
		}
		target := floor
		if ownAru < target {
			target = ownAru
		}
		targets[u] = target
		if target < prospective {
			prospective = target
		}
	}
	if prospective == sentinel {
		return
	}

	e.sweepSafeBelow(prospective)
	for u, target := range targets {
		_ = e.im.SetSafe(u, target)
	}
}

// requestGap emits a GAP message naming the hole [low, high] in source's
// stream, asking the group to rebroadcast it.
func (e *Engine) requestGap(source ident.UUID, low, high seqno.Seq) error {
	msg := e.newHeader(wire.Gap)
	msg.Flags |= wire.FlagGapRequest
	msg.GapSource = source
	msg.GapLow = low
	msg.GapHigh = high
	return e.send(msg)
}

// serveGapRequest answers an OPERATIONAL-phase GAP naming [low, high] of
// m.GapSource: if this node holds the named range, it rebroadcasts the
// entries directly; otherwise it is not reachable and the request is
// dropped (a broadcast transport has no notion of forwarding to a node
// that never received the data in the first place).
func (e *Engine) serveGapRequest(m *wire.Message) error {
	if !e.im.HasSource(m.GapSource) {
		return nil
	}
	if gt, err := e.cfg.Space.Gt(m.GapLow, m.GapHigh); err != nil || gt {
		return nil // empty or malformed range, nothing to serve
	}
	seq := m.GapLow
	for {
		entry, ok := e.im.Get(m.GapSource, seq)
		if ok {
			if err := e.send(entry.Msg); err != nil {
				return err
			}
		}
		if seq == m.GapHigh {
			return nil
		}
		seq = e.cfg.Space.Next(seq)
	}
}
