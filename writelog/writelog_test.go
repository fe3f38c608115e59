package writelog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/core/readset"
)

func TestRingEvictsOldestWhenFull(t *testing.T) {
	r := NewRing(2)
	r.Append(&Commit{Ts: 1})
	r.Append(&Commit{Ts: 2})
	r.Append(&Commit{Ts: 3})

	require.Equal(t, 2, r.Len())
	require.Equal(t, uint64(2), r.OldestTs())
}

func TestRingRangeIsExclusiveLowerInclusiveUpper(t *testing.T) {
	r := NewRing(10)
	for _, ts := range []uint64{5, 10, 15, 20} {
		r.Append(&Commit{Ts: ts})
	}

	var got []uint64
	r.Range(5, 15, func(c *Commit) bool {
		got = append(got, c.Ts)
		return true
	})
	require.Equal(t, []uint64{10, 15}, got)
}

func TestRingRangeStopsEarly(t *testing.T) {
	r := NewRing(10)
	for _, ts := range []uint64{5, 10, 15} {
		r.Append(&Commit{Ts: ts})
	}
	var got []uint64
	r.Range(0, 100, func(c *Commit) bool {
		got = append(got, c.Ts)
		return false
	})
	require.Equal(t, []uint64{5}, got)
}

func TestPendingFIFOOrder(t *testing.T) {
	p := NewPending()
	p.PushBack(&Commit{Ts: 1, Writes: []readset.Write{{Table: "t", ID: "a"}}})
	p.PushBack(&Commit{Ts: 2})
	require.Equal(t, 2, p.Len())
	require.Equal(t, uint64(1), p.Front().Ts)

	c := p.PopFront()
	require.Equal(t, uint64(1), c.Ts)
	require.Equal(t, uint64(2), p.Front().Ts)
}

func TestPendingIsStale(t *testing.T) {
	p := NewPending()
	require.False(t, p.IsStale(100))

	p.PushBack(&Commit{Ts: 5})
	p.PushBack(&Commit{Ts: 10})

	require.True(t, p.IsStale(7))
	require.False(t, p.IsStale(10))
	require.False(t, p.IsStale(20))
}

func TestPendingIterVisitsInOrder(t *testing.T) {
	p := NewPending()
	p.PushBack(&Commit{Ts: 1})
	p.PushBack(&Commit{Ts: 2})
	p.PushBack(&Commit{Ts: 3})

	var got []uint64
	p.Iter(func(c *Commit) bool {
		got = append(got, c.Ts)
		return c.Ts < 2
	})
	require.Equal(t, []uint64{1, 2}, got)
}
