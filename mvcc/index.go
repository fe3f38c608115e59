// Package mvcc implements the ordered, multi-versioned index the
// engine reads and publishes into: entries keyed by (index_key, ts)
// with ts encoded descending, so a point read at a timestamp is a
// single Seek and a range read is a forward walk that naturally visits
// the newest-as-of-ts revision of each key before any older one.
//
// The same Index type backs both the primary revision store (key is
// the document id, payload is the encoded document value) and every
// secondary index (key is the composite field encoding, payload is the
// document id) — exactly the generality needed to avoid hard-coding
// what the user key represents in two nearly-identical structures.
package mvcc

import (
	"bytes"

	"github.com/google/btree"

	"github.com/latticedb/core/codec"
)

const btreeDegree = 32

// entry is one versioned slot in the index: the revision written by
// commit Ts, or a tombstone if Payload is nil (meaning "as of Ts, this
// key is absent" — either the document was deleted, or it stopped
// matching a secondary index's predicate).
type entry struct {
	encodedKey []byte // codec.EncodeKey(userKey, ts)
	payload    []byte
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.encodedKey, than.(*entry).encodedKey) < 0
}

// Index is a copy-on-write, timestamp-ordered map from a user key to
// its history of revisions.
type Index struct {
	tree *btree.BTree
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{tree: btree.New(btreeDegree)}
}

// Clone returns a new Index sharing Index's current revisions via
// Badger-style copy-on-write: the clone's tree shares structure with
// the original until one of them is mutated, so publishing a commit is
// "clone, mutate the clone, swap the published pointer" in O(log n)
// rather than O(n).
func (idx *Index) Clone() *Index {
	return &Index{tree: idx.tree.Clone()}
}

// Put records that, as of ts, key's value is payload (nil for a
// tombstone). Overwriting the exact same (key, ts) pair — possible only
// if a commit ever retried at the same ts, which the HLC clock
// guarantees cannot happen — would silently replace the prior entry;
// callers never rely on that.
func (idx *Index) Put(key []byte, ts uint64, payload []byte) {
	idx.tree.ReplaceOrInsert(&entry{encodedKey: codec.EncodeKey(key, ts), payload: payload})
}

// Get returns the payload visible for key as of asOf: the most recent
// entry with commit ts <= asOf, or found=false if the most recent such
// entry is a tombstone or no entry exists.
func (idx *Index) Get(key []byte, asOf uint64) (payload []byte, found bool) {
	seekKey := codec.EncodeKey(key, asOf)
	pivot := &entry{encodedKey: seekKey}
	var hit *entry
	idx.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		e := i.(*entry)
		if !bytes.Equal(codec.DecodeUserKey(e.encodedKey), key) {
			return false
		}
		hit = e
		return false
	})
	if hit == nil {
		return nil, false
	}
	if hit.payload == nil {
		return nil, false
	}
	return hit.payload, true
}

// Visitor is called once per live key found by Range, with the key and
// its payload as of the scan's asOf timestamp.
type Visitor func(key []byte, payload []byte) bool

// Range walks every key in [lo, hi) (hi == nil means unbounded),
// visiting the newest revision of each key that is <= asOf and skipping
// tombstoned keys entirely, the same "seek, check commitTs, skip to the
// next user key on a miss" pattern an MVCC scanner needs whenever a
// key's newest-visible revision is a tombstone.
func (idx *Index) Range(lo, hi []byte, asOf uint64, visit Visitor) {
	cur := lo
	for {
		seekKey := codec.EncodeKey(cur, asOf)
		pivot := &entry{encodedKey: seekKey}

		var found *entry
		var nextKey []byte
		idx.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
			e := i.(*entry)
			userKey := codec.DecodeUserKey(e.encodedKey)
			if hi != nil && bytes.Compare(userKey, hi) >= 0 {
				return false
			}
			// Versions newer than asOf are invisible to this scan: keep
			// walking through older versions of the same key, or on to
			// the next key, until one with ts <= asOf turns up.
			if codec.DecodeTs(e.encodedKey) > asOf {
				return true
			}
			found = e
			nextKey = userKey
			return false
		})

		if found == nil {
			return
		}
		if found.payload != nil {
			if !visit(nextKey, found.payload) {
				return
			}
		}
		// Advance past every remaining version of nextKey.
		cur = append(append([]byte{}, nextKey...), 0x00)
	}
}

// Len reports how many (key, ts) revisions are stored, including
// tombstones and superseded versions — not the number of live keys.
func (idx *Index) Len() int {
	return idx.tree.Len()
}
