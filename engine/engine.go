package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/javacruft/galera/evserr"
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/inputmap"
	"github.com/javacruft/galera/instance"
	"github.com/javacruft/galera/seqno"
	"github.com/javacruft/galera/wire"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// for testing purposes
var timeNow = time.Now

// Config bundles the tunables and collaborators a new Engine needs. Zero
// values for the durations and Space fall back to the spec's defaults.
type Config struct {
	Self ident.UUID
	Name string

	Space  seqno.Space
	Window uint32

	InactiveTimeout time.Duration
	InstallTimeout  time.Duration
	ResendPeriod    time.Duration

	Transport Transport
	Upper     UpperLayer

	// Limiter throttles resend-timer rebroadcasts, one bucket per stored
	// entry. A nil Limiter gets a default built from ResendPeriod.
	Limiter *catrate.Limiter

	Logger *logiface.Logger[*stumpy.Event]
}

func (c *Config) setDefaults() {
	if c.Space.Max == 0 {
		c.Space = seqno.Default()
	}
	if c.Window == 0 {
		c.Window = c.Space.Max / 4
	}
	if c.InactiveTimeout == 0 {
		c.InactiveTimeout = 3 * time.Second
	}
	if c.InstallTimeout == 0 {
		c.InstallTimeout = 500 * time.Millisecond
	}
	if c.ResendPeriod == 0 {
		c.ResendPeriod = 100 * time.Millisecond
	}
	if c.Limiter == nil {
		c.Limiter = catrate.NewLimiter(map[time.Duration]int{c.ResendPeriod: 1})
	}
	if c.Logger == nil {
		// Disabled by default: a caller that wants engine logging opts in
		// by setting Logger explicitly, e.g. to a stumpy-backed one as
		// cmd/evsdemo does.
		c.Logger = stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
	}
}

// deliverKey identifies a single delivered payload for the purposes of
// the at-most-once invariant (P5).
type deliverKey struct {
	source ident.UUID
	view   ident.ViewId
	seq    seqno.Seq
}

// Engine is a single EVS protocol state machine instance. It is not
// safe for concurrent use: per the concurrency model, exactly one entry
// point (HandleMsg, a timer handler, or Send) runs at a time.
type Engine struct {
	cfg Config

	state       State
	currentView ident.View

	pending map[ident.UUID]struct{}

	instances *instance.Table
	im        *inputmap.Map

	receivedInstall *wire.Message
	tentativeViewID ident.ViewId
	gappedBy        map[ident.UUID]struct{}

	sendSeq   seqno.Seq
	fifoSeq   int64
	corrupt   uint64
	fatal     bool
	fifoNext  map[ident.UUID]seqno.Seq
	delivered map[deliverKey]struct{}
	peerAru   map[ident.UUID]seqno.Seq
}

// New constructs an Engine in the CLOSED state.
func New(cfg Config) *Engine {
	cfg.setDefaults()
	e := &Engine{
		cfg:       cfg,
		state:     Closed,
		instances: instance.NewTable(cfg.Space.Sentinel()),
		im:        inputmap.New(cfg.Space, cfg.Window),
		pending:   make(map[ident.UUID]struct{}),
		gappedBy:  make(map[ident.UUID]struct{}),
		fifoNext:  make(map[ident.UUID]seqno.Seq),
		delivered: make(map[deliverKey]struct{}),
		peerAru:   make(map[ident.UUID]seqno.Seq),
	}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// View returns the last view delivered upward.
func (e *Engine) View() ident.View { return e.currentView }

// CorruptCount returns the number of inbound frames dropped due to a
// codec error.
func (e *Engine) CorruptCount() uint64 { return e.corrupt }

func (e *Engine) log() *logiface.Logger[*stumpy.Event] { return e.cfg.Logger }

// Connect transitions CLOSED -> JOINING and emits this node's JOIN.
func (e *Engine) Connect() error {
	if e.fatal {
		return fmt.Errorf("%w: engine is closed after a fatal error", evserr.ErrFatal)
	}
	if e.state != Closed {
		return fmt.Errorf("%w: connect requires CLOSED, have %s", evserr.ErrNotOperational, e.state)
	}
	e.state = Joining
	e.pending = map[ident.UUID]struct{}{e.cfg.Self: {}}
	e.instances.Ensure(e.cfg.Self).Operational = true
	if !e.im.HasSource(e.cfg.Self) {
		_ = e.im.InsertSA(e.cfg.Self)
	}
	e.log().Info().Str(`event`, `connect`).Log(`joining group`)
	return e.emitJoin()
}

// Disconnect transitions OPERATIONAL -> LEAVING and emits LEAVE.
func (e *Engine) Disconnect() error {
	if e.state != Operational {
		return fmt.Errorf("%w: disconnect requires OPERATIONAL, have %s", evserr.ErrNotOperational, e.state)
	}
	e.state = Leaving
	msg := e.newHeader(wire.Leave)
	return e.send(msg)
}

// Send submits an application payload for multicast at the given safety
// level. It fails with NotOperational outside the OPERATIONAL state.
func (e *Engine) Send(payload []byte, userType uint8, safety wire.Safety, more bool) error {
	if e.state != Operational {
		return fmt.Errorf("%w: send requires OPERATIONAL, have %s", evserr.ErrNotOperational, e.state)
	}
	msg := e.newHeader(wire.User)
	msg.UserType = userType
	msg.Safety = safety
	if more {
		msg.Flags |= wire.FlagMsgMore
	}
	msg.Seq = e.sendSeq
	msg.AruSeq = e.im.ARU()
	msg.Payload = payload
	e.sendSeq = e.cfg.Space.Next(e.sendSeq)
	return e.send(msg)
}

// HandleMsg decodes a single inbound frame and dispatches it. Frames this
// engine emitted itself are skipped: send already applied them locally,
// the way a group-multicast loopback would otherwise redeliver them.
// Codec errors drop the frame silently and increment the corruption
// counter, per the spec's error handling policy.
func (e *Engine) HandleMsg(frame []byte) error {
	if e.fatal {
		return fmt.Errorf("%w: engine is closed after a fatal error", evserr.ErrFatal)
	}
	msg, _, err := wire.DecodeFrom(frame, 0)
	if err != nil {
		e.corrupt++
		e.log().Warn().Str(`event`, `decode_error`).Log(`dropping corrupt frame`)
		return nil
	}
	if msg.Source == e.cfg.Self {
		return nil
	}
	e.instances.Touch(msg.Source)
	return e.dispatch(msg)
}

func (e *Engine) dispatch(msg *wire.Message) error {
	switch msg.Type {
	case wire.Join:
		return e.handleJoin(msg)
	case wire.Install:
		return e.handleInstall(msg)
	case wire.Gap:
		return e.handleGap(msg)
	case wire.User:
		return e.acceptUser(msg, timeNow())
	case wire.Leave:
		return e.handleLeave(msg)
	case wire.Delegate:
		return e.handleDelegate(msg)
	default:
		e.corrupt++
		return nil
	}
}

func (e *Engine) newHeader(t wire.Type) *wire.Message {
	e.fifoSeq++
	return &wire.Message{Header: wire.Header{
		Version:    1,
		Type:       t,
		Source:     e.cfg.Self,
		SourceView: e.currentView.Id,
		Seq:        e.cfg.Space.Sentinel(),
		AruSeq:     e.im.ARU(),
		FifoSeq:    e.fifoSeq,
	}}
}

// send encodes and transmits msg, then applies it locally exactly as a
// group-multicast transport would loop it back to its own sender: this
// is how the engine observes its own protocol messages and is what lets
// a lone node complete its own JOIN/INSTALL/GAP exchange with itself.
// When the transport reports ErrWouldBlock the message is still applied
// locally (so a USER message is kept in the input map for the resend
// timer) and ErrWouldBlock is returned.
func (e *Engine) send(msg *wire.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if err := e.cfg.Transport.Send(frame); err != nil {
		if !errors.Is(err, evserr.ErrWouldBlock) {
			return err
		}
		if derr := e.dispatch(msg); derr != nil {
			return derr
		}
		return err
	}
	return e.dispatch(msg)
}

func (e *Engine) fail(reason string) error {
	e.fatal = true
	e.state = Closed
	view := ident.NewView(ident.Reg, e.currentView.Id)
	e.deliverView(view)
	e.log().Err().Str(`reason`, reason).Log(`fatal protocol invariant violation`)
	return fmt.Errorf("%w: %s", evserr.ErrFatal, reason)
}
