package mvcc

import (
	"bytes"

	"github.com/latticedb/core/document"
)

// Store is the full multi-versioned keyspace a transaction reads from:
// one Index holding every document's revision history, plus one Index
// per secondary index definition.
type Store struct {
	revisions *Index
	secondary map[string]*Index
	defs      []document.IndexDef
}

// NewStore returns an empty store recognizing the given index
// definitions.
func NewStore(defs []document.IndexDef) *Store {
	s := &Store{
		revisions: NewIndex(),
		secondary: make(map[string]*Index),
		defs:      defs,
	}
	for _, def := range defs {
		if !def.IsPrimary() {
			s.secondary[def.Name] = NewIndex()
		}
	}
	return s
}

// Clone returns a copy-on-write snapshot of the whole store, cloning
// every underlying Index. Used by the snapshot manager to publish an
// immutable view after a commit without copying any revision data.
func (s *Store) Clone() *Store {
	clone := &Store{
		revisions: s.revisions.Clone(),
		secondary: make(map[string]*Index, len(s.secondary)),
		defs:      s.defs,
	}
	for name, idx := range s.secondary {
		clone.secondary[name] = idx.Clone()
	}
	return clone
}

// Defs returns the index definitions this store was built with.
func (s *Store) Defs() []document.IndexDef {
	return s.defs
}

// GetDocument returns the document visible for id as of ts.
func (s *Store) GetDocument(id document.ID, asOf uint64) (*document.Value, bool, error) {
	payload, ok := s.revisions.Get([]byte(id), asOf)
	if !ok {
		return nil, false, nil
	}
	v, err := document.Unmarshal(payload)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// ScanIndex returns document ids whose secondary index key falls in
// [lo, hi) as of ts, in index-key order.
func (s *Store) ScanIndex(indexName string, lo, hi []byte, asOf uint64, visit func(id document.ID) bool) {
	idx, ok := s.secondary[indexName]
	if !ok {
		return
	}
	idx.Range(lo, hi, asOf, func(_ []byte, payload []byte) bool {
		return visit(document.ID(payload))
	})
}

// ScanPrimary returns document ids in [lo, hi) of the primary index as
// of ts, along with each document's value.
func (s *Store) ScanPrimary(lo, hi []byte, asOf uint64, visit func(id document.ID, v *document.Value) bool) error {
	var visitErr error
	s.revisions.Range(lo, hi, asOf, func(key []byte, payload []byte) bool {
		v, err := document.Unmarshal(payload)
		if err != nil {
			visitErr = err
			return false
		}
		return visit(document.ID(key), v)
	})
	return visitErr
}

// GC drops every revision across the primary index and all secondary
// indexes that Index.GC would drop, given a single retention horizon.
// Returns the total number of dropped revisions across every index.
func (s *Store) GC(horizon uint64) int {
	n := s.revisions.GC(horizon)
	for _, idx := range s.secondary {
		n += idx.GC(horizon)
	}
	return n
}

// OldestTs reports the oldest revision timestamp still retained across
// every index this store holds.
func (s *Store) OldestTs() uint64 {
	oldest := s.revisions.OldestTs()
	for _, idx := range s.secondary {
		if ts := idx.OldestTs(); ts != 0 && (oldest == 0 || ts < oldest) {
			oldest = ts
		}
	}
	return oldest
}

// Apply installs one committed write at ts: the document's new
// revision in the primary index, and for every secondary index the
// table participates in, a tombstone at the write's old key (if it
// changed or disappeared) and a live entry at its new key (if any).
func (s *Store) Apply(ts uint64, table string, id document.ID, old, new *document.Value) error {
	payload, err := document.Marshal(new)
	if err != nil {
		return err
	}
	s.revisions.Put([]byte(id), ts, payload)

	for _, def := range document.AffectedIndexes(table, s.defs) {
		if def.IsPrimary() {
			continue
		}
		idx := s.secondary[def.Name]
		oldKey, oldOk := def.Key(id, old)
		newKey, newOk := def.Key(id, new)
		if oldOk && (!newOk || !bytes.Equal(oldKey, newKey)) {
			idx.Put(oldKey, ts, nil)
		}
		if newOk {
			idx.Put(newKey, ts, []byte(id))
		}
	}
	return nil
}
