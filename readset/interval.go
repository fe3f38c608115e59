// Package readset implements the half-open key intervals a transaction,
// subscription, or cache entry reads, and the overlap-detection
// algorithm shared by commit validation, subscription invalidation, and
// query-cache invalidation — the single most reused building block in
// the engine.
package readset

import "bytes"

// Interval is a half-open range [Lo, Hi) over one index's key space. A
// nil Hi means unbounded (no upper bound was consulted by the scan). A
// point lookup of exactly one key is represented as a degenerate
// interval via Point.
type Interval struct {
	Lo []byte
	Hi []byte
}

// Point returns the degenerate interval containing exactly key: [key,
// successor(key)). Appending a single 0x00 byte produces the immediate
// lexicographic successor of key under byte-wise comparison, since no
// byte value sorts below 0x00 — the same trick the codec package relies on implicitly when it
// inverts timestamps to order revisions descending.
func Point(key []byte) Interval {
	hi := make([]byte, len(key)+1)
	copy(hi, key)
	return Interval{Lo: key, Hi: hi}
}

// Contains reports whether key falls in [Lo, Hi).
func (iv Interval) Contains(key []byte) bool {
	if bytes.Compare(key, iv.Lo) < 0 {
		return false
	}
	if iv.Hi == nil {
		return true
	}
	return bytes.Compare(key, iv.Hi) < 0
}

// Unbounded reports whether this interval has no upper bound.
func (iv Interval) Unbounded() bool {
	return iv.Hi == nil
}
