// Package memtransport is an in-memory group-multicast transport, for
// driving multiple engine.Engine instances against each other in tests
// and the demo binary without a real network. It implements
// engine.Transport structurally (Send([]byte) error) without importing
// the engine package.
package memtransport

import (
	"fmt"
	"math/rand"
	"sync"
)

// Hub is a shared multicast medium: every frame a member Node sends is
// queued for delivery to every other currently-joined Node, save for a
// configurable uniform fraction dropped to simulate an unreliable link.
type Hub struct {
	mu       sync.Mutex
	rng      *rand.Rand
	lossRate float64
	nodes    map[*Node]struct{}
	nextID   int
}

// NewHub returns a Hub whose Send calls drop each outbound copy
// independently with probability lossRate, using seed to make the drop
// pattern reproducible across runs.
func NewHub(lossRate float64, seed int64) *Hub {
	return &Hub{
		rng:      rand.New(rand.NewSource(seed)),
		lossRate: lossRate,
		nodes:    make(map[*Node]struct{}),
	}
}

// Node is one member's view of the Hub: the Transport collaborator an
// Engine sends through, and the inbox the caller drains to feed received
// frames back into that Engine's HandleMsg.
type Node struct {
	hub   *Hub
	id    int
	mu    sync.Mutex
	inbox [][]byte
}

// Join registers a new Node on the hub.
func (h *Hub) Join() *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	n := &Node{hub: h, id: h.nextID}
	h.nodes[n] = struct{}{}
	return n
}

// Leave removes n from the hub; it receives no further frames and its
// sends are no longer delivered to anyone.
func (h *Hub) Leave(n *Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, n)
}

func (n *Node) String() string { return fmt.Sprintf("memtransport.Node(%d)", n.id) }

// Send implements engine.Transport: it copies frame to every other
// joined Node's inbox, independently dropping each copy at the hub's
// configured loss rate.
func (n *Node) Send(frame []byte) error {
	n.hub.mu.Lock()
	defer n.hub.mu.Unlock()
	if _, joined := n.hub.nodes[n]; !joined {
		return nil
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	for other := range n.hub.nodes {
		if other == n {
			continue
		}
		if n.hub.lossRate > 0 && n.hub.rng.Float64() < n.hub.lossRate {
			continue
		}
		other.mu.Lock()
		other.inbox = append(other.inbox, cp)
		other.mu.Unlock()
	}
	return nil
}

// Poll pops the oldest undelivered frame for n, if any.
func (n *Node) Poll() ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.inbox) == 0 {
		return nil, false
	}
	frame := n.inbox[0]
	n.inbox = n.inbox[1:]
	return frame, true
}

// Pending reports how many frames are queued for n.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inbox)
}

// Drain calls handle with every frame currently queued for n, in
// arrival order, stopping at the first error.
func (n *Node) Drain(handle func(frame []byte) error) error {
	for {
		frame, ok := n.Poll()
		if !ok {
			return nil
		}
		if err := handle(frame); err != nil {
			return err
		}
	}
}
