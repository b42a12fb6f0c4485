// Package routing implements the bucket tree and routing table that
// cluster known peers by XOR distance from the table's owner.
package routing

import (
	"math"
	"sort"

	"github.com/axelb/pire/peerid"
)

// BucketSize (K) is the maximum number of peers a single bucket holds
// before it must split (or reject new peers, on the non-splittable
// right-hand side of an internal node).
const BucketSize = 4

// node is either a leaf (left == nil, bucket holds its peers) or an
// internal node: it owns a left subtree covering the lower half of its
// range, and a bucket holding the peers of the upper half — a bucket
// that, once created, is never itself split again.
type node struct {
	start, end uint32
	left       *node
	bucket     []peerid.PeerNode
}

func (n *node) isLeaf() bool { return n.left == nil }

// bucketTree is an unbalanced binary tree of buckets covering the full
// 32-bit identifier space, with more resolution near the low end of the
// range (which, after XOR-remapping, is the table owner's own id — see
// RoutingTable).
type bucketTree struct {
	root *node
}

func newBucketTree() *bucketTree {
	return &bucketTree{root: &node{start: 0, end: math.MaxUint32}}
}

// insertResult reports what happened to an attempted insertion.
type insertResult int

const (
	inserted insertResult = iota
	alreadyPresent
	rejected
)

// findTarget descends from the root to the bucket that should hold id:
// either a leaf, or the kept upper-half bucket of the first internal node
// whose left child's range doesn't cover id.
func (t *bucketTree) findTarget(id uint32) *node {
	n := t.root
	for {
		if n.isLeaf() {
			return n
		}
		if id < n.left.end {
			n = n.left
			continue
		}
		return n
	}
}

func indexOfID(bucket []peerid.PeerNode, id uint32) int {
	for i, p := range bucket {
		if p.ID() == id {
			return i
		}
	}
	return -1
}

func indexOfBad(bucket []peerid.PeerNode) int {
	for i, p := range bucket {
		if p.Status() == peerid.Bad {
			return i
		}
	}
	return -1
}

func insertSorted(bucket []peerid.PeerNode, peer peerid.PeerNode) []peerid.PeerNode {
	bucket = append(bucket, peer)
	sort.Slice(bucket, func(i, j int) bool { return bucket[i].ID() < bucket[j].ID() })
	return bucket
}

// partition splits peers into those below mid and those at or above it.
func partition(peers []peerid.PeerNode, mid uint32) (low, high []peerid.PeerNode) {
	for _, p := range peers {
		if p.ID() < mid {
			low = append(low, p)
		} else {
			high = append(high, p)
		}
	}
	return low, high
}

// add attempts to insert peer (already XOR-remapped by the caller) into
// the tree, splitting leaves as needed. See spec §4.2 for the exact
// algorithm this follows.
func (t *bucketTree) add(peer peerid.PeerNode) insertResult {
	id := peer.ID()
	target := t.findTarget(id)

	if indexOfID(target.bucket, id) >= 0 {
		return alreadyPresent
	}

	if len(target.bucket) < BucketSize {
		target.bucket = insertSorted(target.bucket, peer)
		return inserted
	}

	if idx := indexOfBad(target.bucket); idx >= 0 {
		target.bucket[idx] = peer
		sort.Slice(target.bucket, func(i, j int) bool { return target.bucket[i].ID() < target.bucket[j].ID() })
		return inserted
	}

	// A full bucket on the non-splittable (kept upper-half) side of an
	// internal node has no further recourse: reject.
	if !target.isLeaf() {
		return rejected
	}

	cur := target
	for {
		mid := peerid.MiddlePoint(cur.start, cur.end)
		low, high := partition(cur.bucket, mid)
		sort.Slice(low, func(i, j int) bool { return low[i].ID() < low[j].ID() })
		sort.Slice(high, func(i, j int) bool { return high[i].ID() < high[j].ID() })

		newLeft := &node{start: cur.start, end: mid, bucket: low}
		cur.left = newLeft
		cur.bucket = high

		if id < mid {
			if len(newLeft.bucket) < BucketSize {
				newLeft.bucket = insertSorted(newLeft.bucket, peer)
				return inserted
			}
			if newLeft.end-newLeft.start <= BucketSize {
				return rejected
			}
			cur = newLeft
			continue
		}

		// Lands in the freshly kept, non-splittable upper bucket.
		if len(cur.bucket) < BucketSize {
			cur.bucket = insertSorted(cur.bucket, peer)
			return inserted
		}
		return rejected
	}
}

// allPeers returns every peer stored in the tree, in no particular order.
func (t *bucketTree) allPeers() []peerid.PeerNode {
	var peers []peerid.PeerNode
	n := t.root
	for {
		peers = append(peers, n.bucket...)
		if n.isLeaf() {
			return peers
		}
		n = n.left
	}
}

// markRequested locates the peer with the given (already-remapped) id and
// records that we just sent it a request. Returns false if not found.
func (t *bucketTree) markRequested(id uint32) bool {
	target := t.findTarget(id)
	if idx := indexOfID(target.bucket, id); idx >= 0 {
		target.bucket[idx].MarkRequested()
		return true
	}
	return false
}

// markResponded locates the peer with the given (already-remapped) id and
// records that it just answered us. Returns false if not found.
func (t *bucketTree) markResponded(id uint32) bool {
	target := t.findTarget(id)
	if idx := indexOfID(target.bucket, id); idx >= 0 {
		target.bucket[idx].MarkResponded()
		return true
	}
	return false
}
