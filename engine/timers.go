package engine

import (
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
)

// Consensus runs on the consensus timer tick: peers inactive past
// inactive_timeout are marked non-operational, and if any such
// transition occurs the engine shifts to RECOVERY and re-announces
// itself.
func (e *Engine) Consensus() error {
	if e.state != Operational && e.state != Recovery {
		return nil
	}
	expired := e.instances.ExpireOlderThan(e.cfg.InactiveTimeout)
	if len(expired) == 0 {
		return nil
	}
	for _, u := range expired {
		e.log().Warn().Str(`peer`, u.String()).Log(`peer inactivity timeout`)
	}
	e.state = Recovery
	return e.emitJoin()
}

// Install runs on the install timer tick. If this node is the
// representative of a pending RECOVERY view and has not yet heard back
// from every member, it re-emits INSTALL to recover from a lost message.
func (e *Engine) Install() error {
	if e.state != Recovery || !e.isRepresentative() {
		return nil
	}
	if e.allGapped() {
		return nil
	}
	return e.emitInstall()
}

// resendKey identifies a single stored entry for the purposes of the
// resend rate limiter, so a persistently slow peer cannot make the
// group resend in a tight loop.
type resendKey struct {
	source ident.UUID
	seq    seqno.Seq
}

// Resend runs on the resend timer tick: every stored entry above the
// group safe_seq whose timestamp predates resend_period is rebroadcast,
// throttled per entry via the configured rate limiter.
func (e *Engine) Resend() error {
	if e.state != Operational {
		return nil
	}
	cutoff := timeNow().Add(-e.cfg.ResendPeriod)
	it := e.im.NewIterator()
	for it.Next() {
		entry := it.Entry()
		if !entry.Timestamp.Before(cutoff) {
			continue
		}
		if gt, err := e.cfg.Space.Gt(entry.Msg.Seq, e.im.SafeSeq()); err != nil || !gt {
			continue
		}
		if _, ok := e.cfg.Limiter.Allow(resendKey{source: entry.Source, seq: entry.Msg.Seq}); !ok {
			continue
		}
		if err := e.send(entry.Msg); err != nil {
			return err
		}
	}
	return nil
}
