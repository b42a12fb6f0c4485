package lookup

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/axelb/pire/wire"
)

// graphQuery mocks query_find_node over the fixed graph
// 1—2, 1—3, 3—4, 3—6, 4—7, 5—1, 7—8, 9 isolated: querying a node returns
// its direct neighbors. It also records which ids were ever queried, to
// verify the sender is never among them.
type graphQuery struct {
	neighbors map[uint32][]uint32

	mu      sync.Mutex
	queried map[uint32]bool
}

func newGraphQuery() *graphQuery {
	return &graphQuery{
		neighbors: map[uint32][]uint32{
			1: {2, 3, 5},
			2: {1},
			3: {1, 4, 6},
			4: {3, 7},
			5: {1},
			6: {3},
			7: {4, 8},
			8: {7},
			9: {},
		},
		queried: make(map[uint32]bool),
	}
}

func (g *graphQuery) query(_ context.Context, peer wire.Peer, sender, target uint32) []wire.Peer {
	g.mu.Lock()
	g.queried[peer.ID] = true
	g.mu.Unlock()

	ids := g.neighbors[peer.ID]
	out := make([]wire.Peer, len(ids))
	for i, id := range ids {
		out[i] = wire.Peer{ID: id, Addr: fmt.Sprintf("peer-%d", id)}
	}
	return out
}

func peerFrom(id uint32) wire.Peer { return wire.Peer{ID: id, Addr: fmt.Sprintf("peer-%d", id)} }

func TestFindClosestNodeClassicFindsAdjacentTarget(t *testing.T) {
	g := newGraphQuery()
	found := FindClosestNode(context.Background(), g.query, peerFrom(1), 0, 2, nil)
	if found == nil || found.ID != 2 {
		t.Fatalf("classic search for target 2 = %v, want peer 2", found)
	}
	if g.queried[0] {
		t.Error("sender id 0 must never be queried")
	}
}

func TestFindClosestNodeClassicFailsOnDistantTarget(t *testing.T) {
	g := newGraphQuery()
	found := FindClosestNode(context.Background(), g.query, peerFrom(1), 0, 8, nil)
	if found != nil {
		t.Fatalf("classic search for target 8 = %v, want nil (no improvement mid-path)", found)
	}
}

func TestFindClosestNodeGreedyFindsDistantTarget(t *testing.T) {
	g := newGraphQuery()
	maxHop := 100
	found := FindClosestNode(context.Background(), g.query, peerFrom(1), 0, 8, &maxHop)
	if found == nil || found.ID != 8 {
		t.Fatalf("greedy search for target 8 = %v, want peer 8", found)
	}
}

func TestFindClosestNodeNeverQueriesSender(t *testing.T) {
	g := newGraphQuery()
	FindClosestNode(context.Background(), g.query, peerFrom(3), 1, 7, nil)
	if g.queried[1] {
		t.Error("sender id must never be queried, even when graph-adjacent to the initial peer")
	}
}
