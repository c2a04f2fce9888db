package engine

import (
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/wire"
)

// representative is the numerically smallest UUID among the pending
// member set; only it is authorized to emit INSTALL (P7).
func (e *Engine) representative() (ident.UUID, bool) {
	var rep ident.UUID
	found := false
	for u := range e.pending {
		if !found || ident.Less(u, rep) {
			rep = u
			found = true
		}
	}
	return rep, found
}

func (e *Engine) isRepresentative() bool {
	rep, ok := e.representative()
	return ok && rep == e.cfg.Self
}

// peerList snapshots the pending member set as a wire.PeerList, using
// each member's Instance and input map state.
func (e *Engine) peerList() wire.PeerList {
	out := make(wire.PeerList, len(e.pending))
	for u := range e.pending {
		inst, _ := e.instances.Get(u)
		ps := wire.PeerState{Operational: true}
		if inst != nil {
			ps.Operational = inst.Operational
			ps.Left = inst.Leaving
			ps.SafeSeq = inst.SafeSeq
		}
		if aru, err := e.im.SourceARU(u); err == nil {
			ps.RangeHigh = aru
		}
		out[u] = ps
	}
	return out
}

func (e *Engine) emitJoin() error {
	msg := e.newHeader(wire.Join)
	msg.Peers = e.peerList()
	if aru, err := e.im.SourceARU(e.cfg.Self); err == nil {
		msg.AruSeq = aru
	}
	if err := e.send(msg); err != nil {
		return err
	}
	return nil
}

// emitInstall proposes the current pending membership as the next view.
// It deliberately leaves receivedInstall/gappedBy untouched: self-delivery
// of this very message drives handleInstall just like it would for any
// peer's INSTALL, which is what makes the representative GAP-acknowledge
// its own proposal instead of silently assuming it.
//
// A node that has never installed a view proposes seq 0; otherwise the
// proposal takes the successor of the current view's seq.
func (e *Engine) emitInstall() error {
	seq := e.currentView.Id.Seq
	if e.currentView.Type != ident.None {
		seq++
	}
	e.tentativeViewID = ident.ViewId{Founder: e.cfg.Self, Seq: seq}
	msg := e.newHeader(wire.Install)
	msg.SourceView = e.tentativeViewID
	msg.Peers = e.peerList()
	return e.send(msg)
}

// emitGap announces e's position in its own stream (GapLow the next
// expected sequence, GapHigh its aru), as a RECOVERY-phase consistency
// acknowledgment (no FlagGapRequest).
func (e *Engine) emitGap() error {
	msg := e.newHeader(wire.Gap)
	msg.SourceView = e.tentativeViewID
	msg.GapSource = e.cfg.Self
	if aru, err := e.im.SourceARU(e.cfg.Self); err == nil {
		msg.GapHigh = aru
		msg.GapLow, _ = e.im.NextExpected(e.cfg.Self)
	}
	return e.send(msg)
}

func (e *Engine) ensurePendingInstance(u ident.UUID) {
	e.pending[u] = struct{}{}
	e.instances.Ensure(u)
	if !e.im.HasSource(u) {
		_ = e.im.InsertSA(u)
	}
}

func (e *Engine) handleJoin(m *wire.Message) error {
	src := m.Source
	inst := e.instances.Ensure(src)
	if inst.JoinMessage != nil && wire.Equal(inst.JoinMessage, m) {
		return nil // duplicate JOIN: idempotent no-op
	}
	inst.JoinMessage = m
	inst.Operational = true
	e.ensurePendingInstance(src)
	for peer, ps := range m.Peers {
		if !ps.Left {
			e.ensurePendingInstance(peer)
		}
	}

	switch e.state {
	case Joining:
		if src == e.cfg.Self && len(e.pending) == 1 {
			return e.bootAlone()
		}
		e.state = Recovery
		return e.emitJoin()
	case Operational:
		if _, inView := e.currentView.Members[src]; !inView {
			e.state = Recovery
			return e.emitJoin()
		}
	case Recovery:
		// The representative (re-)proposes INSTALL, but only when doing
		// so would say something new: skip it if the last self-authored
		// proposal already named the current pending membership, so that
		// learning of an already-announced peer a second time doesn't
		// restart the GAP handshake. consistent() is the sole gate on
		// commitView, once every member has echoed a matching GAP.
		if e.isRepresentative() && (e.receivedInstall == nil || e.receivedInstall.Source != e.cfg.Self || !e.receivedInstall.Peers.Equal(e.peerList())) {
			return e.emitInstall()
		}
	}
	return nil
}

// bootAlone implements the JOINING -> OPERATIONAL transition taken when
// a node's own JOIN finds no other pending members.
func (e *Engine) bootAlone() error {
	e.state = Operational
	if err := e.emitInstall(); err != nil {
		return err
	}
	viewID := e.tentativeViewID
	if err := e.emitGap(); err != nil {
		return err
	}
	view := ident.NewView(ident.Reg, viewID)
	view.Members[e.cfg.Self] = e.cfg.Name
	e.currentView = view
	e.deliverView(view)
	return nil
}

// consistent implements the RECOVERY -> OPERATIONAL consistency
// predicate: every pending member's declared JOIN membership matches the
// representative's INSTALL, and the input map's per-source ARU agrees
// with the high-water mark each member declared.
func (e *Engine) consistent() bool {
	if e.receivedInstall == nil {
		return false
	}
	for u := range e.pending {
		inst, ok := e.instances.Get(u)
		if !ok || inst.JoinMessage == nil {
			return false
		}
		if !inst.JoinMessage.Peers.Equal(e.receivedInstall.Peers) {
			return false
		}
		declared, ok := inst.JoinMessage.Peers[u]
		if !ok {
			return false
		}
		aru, err := e.im.SourceARU(u)
		if err != nil {
			return false
		}
		if aru != declared.RangeHigh {
			return false
		}
	}
	return true
}

func (e *Engine) handleInstall(m *wire.Message) error {
	if e.state != Recovery {
		return nil
	}
	rep, ok := e.representative()
	if !ok || m.Source != rep {
		return nil // only the representative's INSTALL is honored (P7)
	}
	if _, named := m.Peers[e.cfg.Self]; !named {
		return nil // a proposal that leaves this node out is not acknowledged
	}
	if e.receivedInstall != nil && wire.Equal(e.receivedInstall, m) {
		return nil // duplicate INSTALL: idempotent no-op
	}
	e.receivedInstall = m
	e.tentativeViewID = m.SourceView
	e.gappedBy = make(map[ident.UUID]struct{})
	return e.emitGap()
}

// handleGap dispatches a Gap message by its declared intent, tagged
// explicitly by FlagGapRequest rather than inferred from the receiver's
// current state: a RECOVERY-phase consistency acknowledgment and an
// OPERATIONAL-phase retransmission request share the same message type
// but must never be confused, including when an engine self-delivers
// its own emitted Gap after already advancing state.
func (e *Engine) handleGap(m *wire.Message) error {
	if m.Flags.Has(wire.FlagGapRequest) {
		return e.serveGapRequest(m)
	}
	if e.state != Recovery || !m.SourceView.Equal(e.tentativeViewID) {
		return nil
	}
	inst := e.instances.Ensure(m.Source)
	inst.Installed = true
	inst.ExpectedRange.Low = m.GapLow
	inst.ExpectedRange.High = m.GapHigh
	e.gappedBy[m.Source] = struct{}{}
	if e.allGapped() && e.consistent() {
		return e.commitView()
	}
	return nil
}

func (e *Engine) allGapped() bool {
	for u := range e.pending {
		if _, ok := e.gappedBy[u]; !ok {
			return false
		}
	}
	return true
}

// commitView implements RECOVERY -> OPERATIONAL: deliver TRANS of the
// outgoing view, then REG of the new one.
func (e *Engine) commitView() error {
	old := e.currentView
	trans := ident.NewView(ident.Trans, old.Id)
	for u, name := range old.Members {
		if _, still := e.pending[u]; still {
			trans.Members[u] = name
		}
	}
	e.deliverView(trans)

	reg := ident.NewView(ident.Reg, e.tentativeViewID)
	for u := range e.pending {
		name := ""
		if u == e.cfg.Self {
			name = e.cfg.Name
		}
		reg.Members[u] = name
		if _, wasMember := old.Members[u]; !wasMember {
			reg.Joined[u] = name
		}
	}
	for u, name := range old.Members {
		if _, still := e.pending[u]; !still {
			reg.Left[u] = name
			_ = e.instances.Delete(u)
		}
	}

	for u := range e.pending {
		if !e.im.HasSource(u) {
			_ = e.im.InsertSA(u)
		}
	}

	e.state = Operational
	e.currentView = reg
	e.receivedInstall = nil
	e.deliverView(reg)
	return nil
}

func (e *Engine) handleLeave(m *wire.Message) error {
	delete(e.pending, m.Source)
	if m.Source == e.cfg.Self {
		e.state = Closed
		view := ident.NewView(ident.Trans, e.currentView.Id)
		for u, name := range e.currentView.Members {
			if u != e.cfg.Self {
				view.Members[u] = name
			}
		}
		e.deliverView(view)
		return nil
	}
	if inst, ok := e.instances.Get(m.Source); ok {
		inst.Leaving = true
		inst.Operational = false
	}
	if e.state == Operational {
		e.state = Recovery
		return e.emitJoin()
	}
	return nil
}

func (e *Engine) handleDelegate(m *wire.Message) error {
	if m.Inner == nil {
		return nil
	}
	switch m.Inner.Type {
	case wire.User:
		return e.acceptUser(m.Inner, timeNow())
	default:
		return nil
	}
}
