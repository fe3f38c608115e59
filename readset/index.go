package readset

import (
	"bytes"
	"sort"
	"sync"
)

// entry is one interval tagged with an owner id: the transaction's read
// set has no need for owners (single reader), but the aggregated
// structures used by the subscription manager and the query cache need
// to know *which* subscription/cache key an interval
// belongs to once a key match is found.
type entry struct {
	iv    Interval
	owner uint64
}

// Index is an ordered collection of tagged intervals over one index's
// key space, supporting O(log n) point-containment queries once built.
//
// Build strategy: entries accumulate in an unsorted slice; a query
// triggers a rebuild only if entries changed since the last build
// (copy-on-write, the same "commits publish by installing an immutable
// new snapshot pointer" idea the MVCC index uses for publishing commits). The
// rebuilt snapshot is a slice sorted by Lo plus a running maximum of Hi
// over the prefix — the classic augmented-interval-tree trick (every
// node also tracks the largest upper bound in its subtree) applied to a
// flat sorted array instead of a tree, since Go's slices already give
// us O(log n) binary search via sort.Search.
type Index struct {
	mu      sync.Mutex
	pending []entry // appended since last build
	sorted  []entry // built snapshot, sorted by Lo
	maxHi   []hiBound
	dirty   bool
}

// hiBound wraps an upper bound so nil ("unbounded") can be compared
// against a concrete key without special-casing every call site.
type hiBound struct {
	unbounded bool
	hi        []byte
}

func boundOf(iv Interval) hiBound {
	if iv.Hi == nil {
		return hiBound{unbounded: true}
	}
	return hiBound{hi: iv.Hi}
}

// greater reports whether b's bound sorts above key (i.e. b would still
// contain key as an upper bound, b > key).
func (b hiBound) greater(key []byte) bool {
	if b.unbounded {
		return true
	}
	return bytes.Compare(b.hi, key) > 0
}

func maxBound(a, b hiBound) hiBound {
	if a.unbounded || b.unbounded {
		return hiBound{unbounded: true}
	}
	if bytes.Compare(a.hi, b.hi) >= 0 {
		return a
	}
	return b
}

// NewIndex creates an empty interval index.
func NewIndex() *Index {
	return &Index{}
}

// Add inserts an interval tagged with owner. owner is opaque to Index;
// callers use it to mean "subscription id", "cache key hash", or 0 when
// there is only one logical owner (a single transaction's read set).
func (idx *Index) Add(iv Interval, owner uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pending = append(idx.pending, entry{iv: iv, owner: owner})
	idx.dirty = true
}

// Remove deletes every interval tagged with owner. Used when a
// subscription is invalidated or unsubscribed, or a cache entry is
// evicted.
func (idx *Index) Remove(owner uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.pending = filterOut(idx.pending, owner)
	idx.sorted = filterOut(idx.sorted, owner)
	idx.rebuildLocked() // maxHi must be recomputed now, not lazily
}

func filterOut(entries []entry, owner uint64) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.owner != owner {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of intervals currently indexed.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.sorted) + len(idx.pending)
}

func (idx *Index) rebuildLocked() {
	if len(idx.pending) > 0 {
		idx.sorted = append(idx.sorted, idx.pending...)
		idx.pending = nil
	}
	sort.Slice(idx.sorted, func(i, j int) bool {
		return bytes.Compare(idx.sorted[i].iv.Lo, idx.sorted[j].iv.Lo) < 0
	})
	idx.maxHi = make([]hiBound, len(idx.sorted))
	running := hiBound{}
	for i, e := range idx.sorted {
		running = maxBound(running, boundOf(e.iv))
		idx.maxHi[i] = running
	}
	idx.dirty = false
}

// ContainsPoint reports whether any indexed interval contains key.
func (idx *Index) ContainsPoint(key []byte) bool {
	return len(idx.OwnersOf(key)) > 0
}

// OwnersOf returns the owners of every interval containing key. The
// binary search finds the last entry with Lo <= key; since maxHi[i] is
// the largest Hi among entries[0..i] (all of which have Lo <= key by
// construction), maxHi[i].greater(key) tells us in O(log n) whether a
// hit exists at all, and a short backward scan from i collects which
// specific owners overlap (bounded by however many intervals actually
// start at-or-before key and end after it — small in practice for read
// sets and per-commit invalidation fanout).
func (idx *Index) OwnersOf(key []byte) []uint64 {
	idx.mu.Lock()
	if idx.dirty || len(idx.pending) > 0 {
		idx.rebuildLocked()
	}
	sorted := idx.sorted
	maxHi := idx.maxHi
	idx.mu.Unlock()

	i := sort.Search(len(sorted), func(i int) bool {
		return bytes.Compare(sorted[i].iv.Lo, key) > 0
	}) - 1
	if i < 0 || !maxHi[i].greater(key) {
		return nil
	}

	var owners []uint64
	for ; i >= 0; i-- {
		if bytes.Compare(sorted[i].iv.Lo, key) > 0 {
			continue
		}
		if boundOf(sorted[i].iv).greater(key) {
			owners = append(owners, sorted[i].owner)
		}
		if !maxHi[i].greater(key) {
			break
		}
	}
	return owners
}
