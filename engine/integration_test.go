package engine

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/javacruft/galera/ident"
	"github.com/javacruft/galera/memtransport"
	"github.com/javacruft/galera/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingUpper struct {
	payloads [][]byte
	views    []ident.View
}

func (c *collectingUpper) HandleUp(payload []byte, meta UpMeta) {
	if meta.View != nil {
		c.views = append(c.views, *meta.View)
		return
	}
	c.payloads = append(c.payloads, payload)
}

type node struct {
	engine *Engine
	trans  *memtransport.Node
	upper  *collectingUpper
}

func newCluster(t *testing.T, hub *memtransport.Hub, n int) []*node {
	t.Helper()
	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		trans := hub.Join()
		up := &collectingUpper{}
		e := New(Config{
			Self:      ident.New(),
			Name:      fmt.Sprintf("node-%d", i),
			Transport: trans,
			Upper:     up,
		})
		nodes[i] = &node{engine: e, trans: trans, upper: up}
	}
	return nodes
}

// pump drains every node's inbox into its engine, round by round, until
// no node has any pending frames or the round budget is exhausted.
func pump(t *testing.T, nodes []*node, rounds int) {
	t.Helper()
	for r := 0; r < rounds; r++ {
		idle := true
		for _, n := range nodes {
			for n.trans.Pending() > 0 {
				idle = false
				frame, ok := n.trans.Poll()
				if !ok {
					break
				}
				require.NoError(t, n.engine.HandleMsg(frame))
			}
		}
		if idle {
			return
		}
	}
}

func allOperational(nodes []*node) bool {
	for _, n := range nodes {
		if n.engine.State() != Operational {
			return false
		}
	}
	return true
}

func TestCluster_ThreeNodesConverge(t *testing.T) {
	hub := memtransport.NewHub(0, 1)
	nodes := newCluster(t, hub, 3)

	for _, n := range nodes {
		require.NoError(t, n.engine.Connect())
		pump(t, nodes, 20)
	}
	pump(t, nodes, 40)

	require.True(t, allOperational(nodes), "expected every node to reach OPERATIONAL")
	for _, n := range nodes {
		assert.Len(t, n.engine.View().Members, 3)
	}

	require.NoError(t, nodes[0].engine.Send([]byte("hello"), 1, wire.Safe, false))
	pump(t, nodes, 20)

	for _, n := range nodes {
		assert.Contains(t, n.upper.payloads, []byte("hello"))
	}
}

// deliveryCounts decodes every "origin:index" payload n has received and
// tallies a per-origin total, for checking completeness against sentCount.
func deliveryCounts(t *testing.T, n *node, nNodes int) []int {
	t.Helper()
	counts := make([]int, nNodes)
	for _, payload := range n.upper.payloads {
		var origin, seq int
		_, err := fmt.Sscanf(string(payload), "%d:%d", &origin, &seq)
		require.NoError(t, err)
		counts[origin]++
	}
	return counts
}

// complete reports whether every node has delivered exactly sentCount[i]
// messages from every origin i.
func complete(t *testing.T, nodes []*node, sentCount []int) bool {
	t.Helper()
	for _, n := range nodes {
		got := deliveryCounts(t, n, len(sentCount))
		for origin, want := range sentCount {
			if got[origin] != want {
				return false
			}
		}
	}
	return true
}

// TestCluster_LossyDeliveryEventuallyResends runs 8 engines through 50
// rounds of 0-8 random SAFE sends each, under 50%% uniform message loss,
// then flushes the resend timer until the group catches up. The
// completeness check: every node must end up having delivered exactly
// the messages every node (including itself) actually sent, with no
// duplicates and no permanent loss.
func TestCluster_LossyDeliveryEventuallyResends(t *testing.T) {
	const (
		nNodes      = 8
		sendRounds  = 50
		maxPerRound = 8
	)
	hub := memtransport.NewHub(0.5, 7)
	nodes := make([]*node, nNodes)
	for i := 0; i < nNodes; i++ {
		trans := hub.Join()
		up := &collectingUpper{}
		e := New(Config{
			Self: ident.New(),
			Name: fmt.Sprintf("node-%d", i),
			// A real resend period would never fire within a single test
			// run's wall-clock budget; shrink it so Resend's cutoff check
			// treats every stored entry as due.
			ResendPeriod: time.Nanosecond,
			Transport:    trans,
			Upper:        up,
		})
		nodes[i] = &node{engine: e, trans: trans, upper: up}
	}

	for _, n := range nodes {
		require.NoError(t, n.engine.Connect())
		pump(t, nodes, 40)
	}
	pump(t, nodes, 80)
	require.True(t, allOperational(nodes), "expected every node to reach OPERATIONAL before the send phase")
	for _, n := range nodes {
		assert.Len(t, n.engine.View().Members, nNodes)
	}

	rng := rand.New(rand.NewSource(99))
	sentCount := make([]int, nNodes)
	for round := 0; round < sendRounds; round++ {
		for i, n := range nodes {
			for k, count := 0, rng.Intn(maxPerRound+1); k < count; k++ {
				payload := []byte(fmt.Sprintf("%d:%d", i, sentCount[i]))
				require.NoError(t, n.engine.Send(payload, 1, wire.Safe, false))
				sentCount[i]++
			}
		}
		pump(t, nodes, 10)
		for _, n := range nodes {
			require.NoError(t, n.engine.Resend())
		}
	}

	for round := 0; round < 200; round++ {
		pump(t, nodes, 20)
		for _, n := range nodes {
			require.NoError(t, n.engine.Resend())
		}
		idle := true
		for _, n := range nodes {
			if n.trans.Pending() > 0 {
				idle = false
			}
		}
		if idle && complete(t, nodes, sentCount) {
			break
		}
	}

	for bi, n := range nodes {
		got := deliveryCounts(t, n, nNodes)
		for origin, want := range sentCount {
			assert.Equalf(t, want, got[origin],
				"node %d: expected %d messages from node %d, delivered %d", bi, want, origin, got[origin])
		}
	}
}
