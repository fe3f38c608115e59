package readset

import "github.com/latticedb/core/document"

// Write describes one write a committed (or about-to-commit) transaction
// made to a document, in the shape overlap detection needs: the table it
// belongs to and the value before and after the write. Old is nil for an
// insert, New is nil for a delete; a replace carries both.
type Write struct {
	Table string
	ID    document.ID
	Old   *document.Value
	New   *document.Value
}

// ReadSet is the intervals one transaction, subscription, or cache entry
// read, grouped by index name. A point read of a single key and a range
// scan are both represented as an Interval; ReadSet doesn't distinguish
// them.
type ReadSet struct {
	byIndex map[string][]Interval
}

// NewReadSet returns an empty read set.
func NewReadSet() *ReadSet {
	return &ReadSet{byIndex: make(map[string][]Interval)}
}

// AddPoint records a point read against indexName.
func (rs *ReadSet) AddPoint(indexName string, key []byte) {
	rs.byIndex[indexName] = append(rs.byIndex[indexName], Point(key))
}

// AddRange records a range read [lo, hi) against indexName. A nil hi
// means the scan had no upper bound.
func (rs *ReadSet) AddRange(indexName string, lo, hi []byte) {
	rs.byIndex[indexName] = append(rs.byIndex[indexName], Interval{Lo: lo, Hi: hi})
}

// Intervals returns the intervals read against indexName, or nil if none
// were recorded.
func (rs *ReadSet) Intervals(indexName string) []Interval {
	return rs.byIndex[indexName]
}

// Empty reports whether nothing was read at all.
func (rs *ReadSet) Empty() bool {
	for _, ivs := range rs.byIndex {
		if len(ivs) > 0 {
			return false
		}
	}
	return true
}

// Overlaps reports whether w conflicts with rs: whether any of w's old
// or new index keys fall inside any interval rs read on the
// corresponding index. defs lists every index definition known to the
// engine; AffectedIndexes narrows that down to the ones w.Table
// participates in.
//
// A write at exactly the upper bound of a read interval does not
// conflict (the interval is half-open); a write at the lower bound
// does, since Lo is included. An insert into what was an empty read
// range is a conflict precisely because the new key now falls inside an
// interval nothing previously occupied — Old being nil doesn't exempt
// it, only New is consulted for the post-write key.
func Overlaps(rs *ReadSet, w Write, defs []document.IndexDef) bool {
	for _, def := range document.AffectedIndexes(w.Table, defs) {
		ivs := rs.Intervals(def.Name)
		if len(ivs) == 0 {
			continue
		}
		if key, ok := def.Key(w.ID, w.Old); ok {
			for _, iv := range ivs {
				if iv.Contains(key) {
					return true
				}
			}
		}
		if key, ok := def.Key(w.ID, w.New); ok {
			for _, iv := range ivs {
				if iv.Contains(key) {
					return true
				}
			}
		}
	}
	return false
}

// OverlapsAny reports whether any of writes conflicts with rs.
func OverlapsAny(rs *ReadSet, writes []Write, defs []document.IndexDef) bool {
	for _, w := range writes {
		if Overlaps(rs, w, defs) {
			return true
		}
	}
	return false
}
