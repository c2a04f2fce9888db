// Package inputmap implements the per-source sliding-window buffer of
// received USER messages, together with the group-wide ARU and safe
// sequence it derives from the per-source state.
package inputmap

import (
	"fmt"
	"sort"
	"time"

	"github.com/javacruft/galera/evserr"
	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/seqno"
	"github.com/javacruft/galera/wire"
)

// for testing purposes; Insert takes its timestamp from the caller and
// does not read this.
var timeNow = time.Now

// Entry is a single stored USER message, keyed by (source, seq).
type Entry struct {
	Source    ident.UUID
	Msg       *wire.Message
	Timestamp time.Time
}

// Range describes a per-source window boundary: the next sequence the
// map is waiting on, and the latest contiguous sequence it holds.
type Range struct {
	Low  seqno.Seq
	High seqno.Seq
}

type sourceState struct {
	entries map[seqno.Seq]*Entry
	aru     seqno.Seq
	safe    seqno.Seq
}

func newSourceState(sentinel seqno.Seq) *sourceState {
	return &sourceState{
		entries: make(map[seqno.Seq]*Entry),
		aru:     sentinel,
		safe:    sentinel,
	}
}

// Map is the per-source ring of received USER messages, plus the
// group-wide aru_seq and safe_seq it aggregates.
type Map struct {
	space   seqno.Space
	window  uint32
	sources map[ident.UUID]*sourceState
	aruSeq  seqno.Seq
	safeSeq seqno.Seq
}

// New returns an empty input map over the given sequence space. window is
// the resend window size; the spec default is space.Max/4.
func New(space seqno.Space, window uint32) *Map {
	return &Map{
		space:   space,
		window:  window,
		sources: make(map[ident.UUID]*sourceState),
		aruSeq:  space.Sentinel(),
		safeSeq: space.Sentinel(),
	}
}

// Space returns the sequence space this map was constructed with.
func (m *Map) Space() seqno.Space { return m.space }

// ARU returns the group-wide all-received-up-to sequence: the minimum of
// every registered source's per-source aru.
func (m *Map) ARU() seqno.Seq { return m.aruSeq }

// SafeSeq returns the group-wide safe sequence: the minimum of every
// registered source's per-source safe marker.
func (m *Map) SafeSeq() seqno.Seq { return m.safeSeq }

// InsertSA registers uuid as a new source, with aru and safe both at the
// sentinel value.
func (m *Map) InsertSA(uuid ident.UUID) error {
	if _, ok := m.sources[uuid]; ok {
		return fmt.Errorf("%w: source %s already registered", evserr.ErrDuplicate, uuid)
	}
	m.sources[uuid] = newSourceState(m.space.Sentinel())
	m.recomputeGroup()
	return nil
}

// EraseSA removes uuid and every entry it owns.
func (m *Map) EraseSA(uuid ident.UUID) error {
	if _, ok := m.sources[uuid]; !ok {
		return fmt.Errorf("%w: source %s not registered", evserr.ErrMissing, uuid)
	}
	delete(m.sources, uuid)
	m.recomputeGroup()
	return nil
}

// Clear drops every source and entry.
func (m *Map) Clear() {
	m.sources = make(map[ident.UUID]*sourceState)
	m.aruSeq = m.space.Sentinel()
	m.safeSeq = m.space.Sentinel()
}

// HasSource reports whether uuid is currently registered.
func (m *Map) HasSource(uuid ident.UUID) bool {
	_, ok := m.sources[uuid]
	return ok
}

// SourceARU returns the per-source aru for uuid.
func (m *Map) SourceARU(uuid ident.UUID) (seqno.Seq, error) {
	src, ok := m.sources[uuid]
	if !ok {
		return m.space.Sentinel(), fmt.Errorf("%w: source %s not registered", evserr.ErrMissing, uuid)
	}
	return src.aru, nil
}

// SourceSafe returns the per-source safe marker for uuid.
func (m *Map) SourceSafe(uuid ident.UUID) (seqno.Seq, error) {
	src, ok := m.sources[uuid]
	if !ok {
		return m.space.Sentinel(), fmt.Errorf("%w: source %s not registered", evserr.ErrMissing, uuid)
	}
	return src.safe, nil
}

// NextExpected returns the next sequence uuid's window is waiting on: 0
// if nothing has been received from it yet, otherwise the successor of
// its current aru.
func (m *Map) NextExpected(uuid ident.UUID) (seqno.Seq, error) {
	src, ok := m.sources[uuid]
	if !ok {
		return m.space.Sentinel(), fmt.Errorf("%w: source %s not registered", evserr.ErrMissing, uuid)
	}
	return src.nextExpected(m.space), nil
}

// Get returns the stored entry for (source, seq), if present.
func (m *Map) Get(source ident.UUID, seq seqno.Seq) (Entry, bool) {
	src, ok := m.sources[source]
	if !ok {
		return Entry{}, false
	}
	e, ok := src.entries[seq]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (s *sourceState) nextExpected(space seqno.Space) seqno.Seq {
	if s.aru == space.Sentinel() {
		return 0
	}
	return space.Next(s.aru)
}

// Insert stores msg's seq for its source, provided it falls in the window
// [aru+1, aru+window]; outside that window the message is dropped and
// dropped is reported true. The returned Range always reports the
// source's resulting (next expected, aru) pair.
func (m *Map) Insert(source ident.UUID, msg *wire.Message, timestamp time.Time) (rng Range, dropped bool, err error) {
	src, ok := m.sources[source]
	if !ok {
		return Range{}, false, fmt.Errorf("%w: source %s not registered", evserr.ErrMissing, source)
	}

	low := src.nextExpected(m.space)
	high := m.space.Add(low, m.window-1)
	if !inWindow(m.space, msg.Seq, low, high) {
		return Range{Low: low, High: src.aru}, true, nil
	}

	src.entries[msg.Seq] = &Entry{Source: source, Msg: msg, Timestamp: timestamp}
	for {
		next := src.nextExpected(m.space)
		if _, ok := src.entries[next]; !ok {
			break
		}
		src.aru = next
	}

	m.recomputeGroup()
	return Range{Low: src.nextExpected(m.space), High: src.aru}, false, nil
}

// inWindow reports whether seq lies in the closed circular range
// [low, high], inclusive of both ends.
func inWindow(space seqno.Space, seq, low, high seqno.Seq) bool {
	if seq == low || seq == high {
		return true
	}
	belowLow, err := space.Lt(seq, low)
	if err == nil && belowLow {
		return false
	}
	aboveHigh, err := space.Gt(seq, high)
	if err == nil && aboveHigh {
		return false
	}
	return true
}

// SetSafe advances source's safe marker to seq, recomputes the group
// safe_seq, and erases every stored entry now covered by it.
func (m *Map) SetSafe(source ident.UUID, seq seqno.Seq) error {
	src, ok := m.sources[source]
	if !ok {
		return fmt.Errorf("%w: source %s not registered", evserr.ErrMissing, source)
	}
	if src.safe == m.space.Sentinel() {
		src.safe = seq
	} else if lt, err := m.space.Lt(src.safe, seq); err == nil && lt {
		src.safe = seq
	}
	m.recomputeGroup()
	m.pruneSafe()
	return nil
}

func (m *Map) recomputeGroup() {
	aru := m.space.Sentinel()
	safe := m.space.Sentinel()
	for _, src := range m.sources {
		if src.aru < aru {
			aru = src.aru
		}
		if src.safe < safe {
			safe = src.safe
		}
	}
	m.aruSeq = aru
	m.safeSeq = safe
}

func (m *Map) pruneSafe() {
	if m.safeSeq == m.space.Sentinel() {
		return
	}
	for _, src := range m.sources {
		for seq := range src.entries {
			if gt, err := m.space.Gt(seq, m.safeSeq); err == nil && !gt {
				delete(src.entries, seq)
			}
		}
	}
}

// Len returns the number of stored entries across every source.
func (m *Map) Len() int {
	n := 0
	for _, src := range m.sources {
		n += len(src.entries)
	}
	return n
}

// Iterator yields stored entries in ascending (seq, source) order. It is
// a point-in-time snapshot of keys; Erase removes the underlying entry
// without disturbing the remainder of the iteration.
type Iterator struct {
	m    *Map
	keys []entryKey
	pos  int
}

type entryKey struct {
	seq    seqno.Seq
	source ident.UUID
}

// NewIterator returns an iterator over every stored entry.
func (m *Map) NewIterator() *Iterator {
	keys := make([]entryKey, 0, m.Len())
	for source, src := range m.sources {
		for seq := range src.entries {
			keys = append(keys, entryKey{seq: seq, source: source})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].seq != keys[j].seq {
			return keys[i].seq < keys[j].seq
		}
		return ident.Less(keys[i].source, keys[j].source)
	})
	return &Iterator{m: m, keys: keys, pos: -1}
}

// Next advances the iterator, returning false once exhausted.
func (it *Iterator) Next() bool {
	for it.pos++; it.pos < len(it.keys); it.pos++ {
		k := it.keys[it.pos]
		if src, ok := it.m.sources[k.source]; ok {
			if _, ok := src.entries[k.seq]; ok {
				return true
			}
		}
	}
	return false
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() Entry {
	k := it.keys[it.pos]
	return *it.m.sources[k.source].entries[k.seq]
}

// Erase removes the entry at the iterator's current position.
func (it *Iterator) Erase() {
	k := it.keys[it.pos]
	if src, ok := it.m.sources[k.source]; ok {
		delete(src.entries, k.seq)
	}
}
