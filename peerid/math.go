// Package peerid holds the 32-bit peer identifier arithmetic and the
// PeerNode type shared by the routing table, the DHT, and the lookup
// engine.
package peerid

// Distance computes the XOR distance between two identifiers.
func Distance(lhs, rhs uint32) uint32 {
	return lhs ^ rhs
}

// MiddlePoint returns the midpoint of [lhs, rhs], lhs <= rhs, without
// overflowing even when rhs is math.MaxUint32.
func MiddlePoint(lhs, rhs uint32) uint32 {
	return lhs + (rhs-lhs)/2
}

// DivCeil divides lhs by rhs, rounding up. Panics on division by zero,
// same as the plain '/' operator would.
func DivCeil(lhs, rhs uint32) uint32 {
	return (lhs + rhs - 1) / rhs
}
