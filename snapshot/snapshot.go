// Package snapshot publishes immutable, point-in-time views of the
// MVCC store. A commit produces a new Snapshot by cloning the current
// store (an O(log n) copy-on-write clone, not a deep copy) and
// atomically swapping the published pointer — readers that already
// hold an older Snapshot keep seeing it unaffected, with no locking on
// the read path at all.
package snapshot

import (
	"sync/atomic"

	"github.com/latticedb/core/document"
	"github.com/latticedb/core/mvcc"
)

// Snapshot is an immutable, as-of-ts view of the document store.
type Snapshot struct {
	Ts    uint64
	store *mvcc.Store
}

// Get returns the document visible in this snapshot.
func (s *Snapshot) Get(id document.ID) (*document.Value, bool, error) {
	return s.store.GetDocument(id, s.Ts)
}

// ScanIndex walks a secondary index's key range as of this snapshot.
func (s *Snapshot) ScanIndex(indexName string, lo, hi []byte, visit func(id document.ID) bool) {
	s.store.ScanIndex(indexName, lo, hi, s.Ts, visit)
}

// ScanPrimary walks the primary index's key range as of this snapshot.
func (s *Snapshot) ScanPrimary(lo, hi []byte, visit func(id document.ID, v *document.Value) bool) error {
	return s.store.ScanPrimary(lo, hi, s.Ts, visit)
}

// Defs returns the index definitions the underlying store was built
// with.
func (s *Snapshot) Defs() []document.IndexDef {
	return s.store.Defs()
}

// CloneStore returns a copy-on-write clone of this snapshot's store,
// for the committer to apply a newly validated commit's writes to
// before publishing the result as the next snapshot.
func (s *Snapshot) CloneStore() *mvcc.Store {
	return s.store.Clone()
}

// Manager owns the single published Snapshot pointer every new
// transaction begins from.
type Manager struct {
	current atomic.Value // *Snapshot
}

// NewManager returns a Manager whose initial snapshot is empty at ts 0.
func NewManager(defs []document.IndexDef) *Manager {
	m := &Manager{}
	m.current.Store(&Snapshot{Ts: 0, store: mvcc.NewStore(defs)})
	return m
}

// Current returns the most recently published snapshot. Safe for
// concurrent use with Publish — a reader always sees either the old or
// the new snapshot, never a partially-updated one.
func (m *Manager) Current() *Snapshot {
	return m.current.Load().(*Snapshot)
}

// Publish installs store as the new snapshot at ts, as is, without
// cloning it. Callers pass a clone taken with CloneStore that already
// has the just-committed writes applied.
func (m *Manager) Publish(ts uint64, store *mvcc.Store) {
	m.current.Store(&Snapshot{Ts: ts, store: store})
}
