package readset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/core/document"
)

func primaryDefs() []document.IndexDef {
	return []document.IndexDef{{Name: document.PrimaryIndexName, Table: "items"}}
}

func TestIntervalPointContainsOnlyExactKey(t *testing.T) {
	p := Point([]byte("k1"))
	require.True(t, p.Contains([]byte("k1")))
	require.False(t, p.Contains([]byte("k0")))
	require.False(t, p.Contains([]byte("k10"))) // successor trick must not swallow longer keys sharing the prefix
	require.False(t, p.Contains([]byte("k2")))
}

func TestIntervalUpperBoundExcluded(t *testing.T) {
	iv := Interval{Lo: []byte("a"), Hi: []byte("m")}
	require.True(t, iv.Contains([]byte("a")))
	require.True(t, iv.Contains([]byte("l")))
	require.False(t, iv.Contains([]byte("m")))
	require.False(t, iv.Contains([]byte("z")))
}

func TestIntervalUnbounded(t *testing.T) {
	iv := Interval{Lo: []byte("a")}
	require.True(t, iv.Unbounded())
	require.True(t, iv.Contains([]byte("zzzzzz")))
	require.False(t, iv.Contains([]byte("0")))
}

func TestOverlapsWriteAtLowerBoundConflicts(t *testing.T) {
	rs := NewReadSet()
	rs.AddRange(document.PrimaryIndexName, []byte("item-5"), []byte("item-9"))
	w := Write{Table: "items", ID: "item-5", New: &document.Value{Table: "items"}}
	require.True(t, Overlaps(rs, w, primaryDefs()))
}

func TestOverlapsWriteAtUpperBoundDoesNotConflict(t *testing.T) {
	rs := NewReadSet()
	rs.AddRange(document.PrimaryIndexName, []byte("item-5"), []byte("item-9"))
	w := Write{Table: "items", ID: "item-9", New: &document.Value{Table: "items"}}
	require.False(t, Overlaps(rs, w, primaryDefs()))
}

func TestOverlapsInsertIntoEmptyRangeInvalidates(t *testing.T) {
	rs := NewReadSet()
	// A range scan that returned no rows still records the scanned interval.
	rs.AddRange(document.PrimaryIndexName, []byte("item-1"), []byte("item-9"))
	w := Write{Table: "items", ID: "item-5", Old: nil, New: &document.Value{Table: "items"}}
	require.True(t, Overlaps(rs, w, primaryDefs()))
}

func TestOverlapsUnrelatedTableIgnored(t *testing.T) {
	rs := NewReadSet()
	rs.AddPoint(document.PrimaryIndexName, []byte("item-5"))
	w := Write{Table: "users", ID: "item-5", New: &document.Value{Table: "users"}}
	require.False(t, Overlaps(rs, w, primaryDefs()))
}

func TestOverlapsDeletePastReadPoint(t *testing.T) {
	rs := NewReadSet()
	rs.AddPoint(document.PrimaryIndexName, []byte("item-5"))
	w := Write{Table: "items", ID: "item-5", Old: &document.Value{Table: "items"}, New: nil}
	require.True(t, Overlaps(rs, w, primaryDefs()))
}

func TestIndexOwnersOfMultipleOverlapping(t *testing.T) {
	idx := NewIndex()
	idx.Add(Interval{Lo: []byte("a"), Hi: []byte("m")}, 1)
	idx.Add(Interval{Lo: []byte("c"), Hi: []byte("z")}, 2)
	idx.Add(Interval{Lo: []byte("x"), Hi: nil}, 3)

	owners := idx.OwnersOf([]byte("d"))
	require.ElementsMatch(t, []uint64{1, 2}, owners)

	owners = idx.OwnersOf([]byte("y"))
	require.ElementsMatch(t, []uint64{2, 3}, owners)

	owners = idx.OwnersOf([]byte("zz"))
	require.ElementsMatch(t, []uint64{3}, owners)

	require.Empty(t, idx.OwnersOf([]byte("0")))
}

func TestIndexRemoveDropsOwner(t *testing.T) {
	idx := NewIndex()
	idx.Add(Interval{Lo: []byte("a"), Hi: []byte("z")}, 1)
	idx.Add(Interval{Lo: []byte("a"), Hi: []byte("z")}, 2)
	idx.Remove(1)
	require.ElementsMatch(t, []uint64{2}, idx.OwnersOf([]byte("m")))
}

func TestAggregateAffectedOwners(t *testing.T) {
	agg := NewAggregate()

	rsA := NewReadSet()
	rsA.AddRange(document.PrimaryIndexName, []byte("item-1"), []byte("item-5"))
	agg.Register(1, rsA)

	rsB := NewReadSet()
	rsB.AddPoint(document.PrimaryIndexName, []byte("item-3"))
	agg.Register(2, rsB)

	w := Write{Table: "items", ID: "item-3", New: &document.Value{Table: "items"}}
	owners := agg.AffectedOwners(w, primaryDefs())
	require.ElementsMatch(t, []uint64{1, 2}, owners)

	agg.Unregister(1)
	owners = agg.AffectedOwners(w, primaryDefs())
	require.ElementsMatch(t, []uint64{2}, owners)
}

func TestAggregateAffectedOwnersAnyDeduplicates(t *testing.T) {
	agg := NewAggregate()
	rs := NewReadSet()
	rs.AddRange(document.PrimaryIndexName, []byte("a"), []byte("z"))
	agg.Register(7, rs)

	writes := []Write{
		{Table: "items", ID: "b", New: &document.Value{Table: "items"}},
		{Table: "items", ID: "c", New: &document.Value{Table: "items"}},
	}
	owners := agg.AffectedOwnersAny(writes, primaryDefs())
	require.Equal(t, []uint64{7}, owners)
}
