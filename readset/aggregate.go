package readset

import (
	"sync"

	"github.com/latticedb/core/document"
)

// Aggregate is the union of many owners' read sets over the same set of
// indexes, queried the opposite way a single ReadSet is: instead of
// asking "does this write overlap what I read", a commit asks the
// aggregate "which owners does this write overlap" and gets back every
// matching subscription id (or cache key hash) in one pass, rather than
// the commit checking each owner's ReadSet one at a time. Subscription
// invalidation and cache invalidation are both instances of this same
// inverted lookup, so they share this type.
type Aggregate struct {
	mu      sync.RWMutex
	indexes map[string]*Index
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{indexes: make(map[string]*Index)}
}

func (a *Aggregate) indexFor(name string) *Index {
	a.mu.RLock()
	idx, ok := a.indexes[name]
	a.mu.RUnlock()
	if ok {
		return idx
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx, ok = a.indexes[name]; ok {
		return idx
	}
	idx = NewIndex()
	a.indexes[name] = idx
	return idx
}

// Register merges owner's read set into the aggregate. Call once when a
// subscription is registered or a cache entry is populated.
func (a *Aggregate) Register(owner uint64, rs *ReadSet) {
	for name, ivs := range rs.byIndex {
		idx := a.indexFor(name)
		for _, iv := range ivs {
			idx.Add(iv, owner)
		}
	}
}

// Unregister removes every interval belonging to owner from every index,
// used on unsubscribe or cache eviction.
func (a *Aggregate) Unregister(owner uint64) {
	a.mu.RLock()
	indexes := make([]*Index, 0, len(a.indexes))
	for _, idx := range a.indexes {
		indexes = append(indexes, idx)
	}
	a.mu.RUnlock()
	for _, idx := range indexes {
		idx.Remove(owner)
	}
}

// AffectedOwners returns, deduplicated, every owner whose registered
// read set overlaps w, given the engine's full index definition list.
func (a *Aggregate) AffectedOwners(w Write, defs []document.IndexDef) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	collect := func(owners []uint64) {
		for _, o := range owners {
			if _, ok := seen[o]; !ok {
				seen[o] = struct{}{}
				out = append(out, o)
			}
		}
	}
	for _, def := range document.AffectedIndexes(w.Table, defs) {
		idx := a.indexFor(def.Name)
		if key, ok := def.Key(w.ID, w.Old); ok {
			collect(idx.OwnersOf(key))
		}
		if key, ok := def.Key(w.ID, w.New); ok {
			collect(idx.OwnersOf(key))
		}
	}
	return out
}

// AffectedOwnersAny is AffectedOwners applied across every write in a
// committed transaction's write set, deduplicated across all of them.
func (a *Aggregate) AffectedOwnersAny(writes []Write, defs []document.IndexDef) []uint64 {
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, w := range writes {
		for _, o := range a.AffectedOwners(w, defs) {
			if _, ok := seen[o]; !ok {
				seen[o] = struct{}{}
				out = append(out, o)
			}
		}
	}
	return out
}
