// Package lookup implements the iterative, bounded-parallel convergence
// search shared by find_node, find_value, get_peers, and announce: a
// round-based walk toward a target id over an evolving frontier of
// candidate peers.
package lookup

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/axelb/pire/dht"
	"github.com/axelb/pire/peerid"
	"github.com/axelb/pire/rpcclient"
	"github.com/axelb/pire/wire"
)

// Alpha is the lookup engine's fan-out: at most this many candidates are
// queried in parallel per round.
const Alpha = 3

// QueryFunc is the per-candidate primitive a round invokes: query peer
// for neighbors of target, identifying ourselves as sender. Failures
// (connect/timeout) are swallowed and reported as an empty result — the
// lookup is inherently best-effort.
type QueryFunc func(ctx context.Context, peer wire.Peer, sender, target uint32) []wire.Peer

// NewQueryFunc builds the production QueryFunc: it opens a connection to
// the candidate, sends a FindNodeRequest carrying sender's own peer
// record, and on a successful reply adds the responding peer to d.
func NewQueryFunc(d *dht.DistributedHashTable, t rpcclient.Timeouts) QueryFunc {
	return func(_ context.Context, peer wire.Peer, sender, target uint32) []wire.Peer {
		selfPeer := wire.Peer{ID: sender, Addr: ""}
		peers, err := rpcclient.FindNode(peer.Addr, t, selfPeer, target)
		if err != nil {
			return nil
		}
		d.AddNode(peerid.NewPeerNode(peer.ID, peerid.TextAddr(peer.Addr)))
		return peers
	}
}

func distance(id, target uint32) uint32 { return peerid.Distance(id, target) }

// sortClosestFirstDesc sorts peers so the closest to target sits last,
// matching the original's "pop from the back" queue discipline, and
// deduplicates by id.
func sortClosestFirstDesc(peers []wire.Peer, target uint32) []wire.Peer {
	sort.Slice(peers, func(i, j int) bool {
		return distance(peers[i].ID, target) < distance(peers[j].ID, target)
	})
	seen := make(map[uint32]bool, len(peers))
	out := peers[:0]
	for _, p := range peers {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	// Reverse so the closest (first after the ascending sort) ends up last.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// round drains up to Alpha unvisited candidates from the back of queue,
// queries them concurrently, and returns the union of their replies,
// sorted closest-first-descending and deduplicated. Queried peers are
// marked visited regardless of outcome.
func round(ctx context.Context, query QueryFunc, sender, target uint32, queue []wire.Peer, visited map[uint32]bool) ([]wire.Peer, []wire.Peer) {
	var picked []wire.Peer
	for len(queue) > 0 && len(picked) < Alpha {
		last := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if visited[last.ID] {
			continue
		}
		picked = append(picked, last)
	}

	results := make([][]wire.Peer, len(picked))
	var wg sync.WaitGroup
	for i, peer := range picked {
		wg.Add(1)
		go func(i int, peer wire.Peer) {
			defer wg.Done()
			results[i] = query(ctx, peer, sender, target)
		}(i, peer)
	}
	wg.Wait()

	for _, peer := range picked {
		visited[peer.ID] = true
	}

	var next []wire.Peer
	for _, rs := range results {
		next = append(next, rs...)
	}
	filtered := next[:0]
	for _, p := range next {
		if !visited[p.ID] {
			filtered = append(filtered, p)
		}
	}
	return sortClosestFirstDesc(filtered, target), queue
}

// FindClosestNode runs the iterative lookup toward target, starting from
// initial, identifying the caller as sender. maxHop nil selects the
// classic strategy (stop on no improvement); maxHop non-nil selects the
// greedy strategy (stop at the hop limit, on an empty queue, or as soon
// as the exact peer is found).
func FindClosestNode(ctx context.Context, query QueryFunc, initial wire.Peer, sender, target uint32, maxHop *int) *wire.Peer {
	queue := []wire.Peer{initial}
	visited := map[uint32]bool{sender: true}
	bestDistance := uint32(math.MaxUint32)
	var found *wire.Peer

	hop := 0
	for {
		hop++

		var next []wire.Peer
		next, queue = round(ctx, query, sender, target, queue, visited)

		betterFound := false
		if len(next) > 0 {
			closest := next[len(next)-1]
			d := distance(closest.ID, target)
			if d < bestDistance {
				bestDistance = d
				betterFound = true
			}
			if d == 0 {
				p := closest
				found = &p
			}
		}

		queue = append(queue, next...)
		queue = sortClosestFirstDesc(queue, target)

		if maxHop != nil {
			if found != nil {
				break
			}
			if hop >= *maxHop || len(queue) == 0 {
				break
			}
			continue
		}

		if !betterFound {
			break
		}
	}

	return found
}
