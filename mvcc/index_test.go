package mvcc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsMostRecentRevisionAsOf(t *testing.T) {
	idx := NewIndex()
	idx.Put([]byte("doc-1"), 10, []byte("v1"))
	idx.Put([]byte("doc-1"), 20, []byte("v2"))
	idx.Put([]byte("doc-1"), 30, []byte("v3"))

	v, ok := idx.Get([]byte("doc-1"), 25)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)

	v, ok = idx.Get([]byte("doc-1"), 30)
	require.True(t, ok)
	require.Equal(t, []byte("v3"), v)

	v, ok = idx.Get([]byte("doc-1"), 5)
	require.False(t, ok)
	require.Nil(t, v)
}

func TestGetHidesTombstone(t *testing.T) {
	idx := NewIndex()
	idx.Put([]byte("doc-1"), 10, []byte("v1"))
	idx.Put([]byte("doc-1"), 20, nil) // deleted at ts=20

	_, ok := idx.Get([]byte("doc-1"), 15)
	require.True(t, ok)

	_, ok = idx.Get([]byte("doc-1"), 20)
	require.False(t, ok)

	_, ok = idx.Get([]byte("doc-1"), 100)
	require.False(t, ok)
}

func TestRangeVisitsLiveKeysInOrderSkippingTombstones(t *testing.T) {
	idx := NewIndex()
	idx.Put([]byte("a"), 10, []byte("va"))
	idx.Put([]byte("b"), 10, []byte("vb"))
	idx.Put([]byte("b"), 20, nil) // b deleted
	idx.Put([]byte("c"), 10, []byte("vc1"))
	idx.Put([]byte("c"), 30, []byte("vc2"))

	var got []string
	idx.Range(nil, nil, 25, func(key, payload []byte) bool {
		got = append(got, string(key)+"="+string(payload))
		return true
	})
	require.Equal(t, []string{"a=va", "c=vc1"}, got)
}

func TestRangeRespectsUpperBound(t *testing.T) {
	idx := NewIndex()
	idx.Put([]byte("a"), 10, []byte("va"))
	idx.Put([]byte("b"), 10, []byte("vb"))
	idx.Put([]byte("c"), 10, []byte("vc"))

	var got []string
	idx.Range([]byte("a"), []byte("c"), 100, func(key, payload []byte) bool {
		got = append(got, string(key))
		return true
	})
	require.Equal(t, []string{"a", "b"}, got)
}

func TestCloneIsIndependentOfSubsequentPuts(t *testing.T) {
	idx := NewIndex()
	idx.Put([]byte("a"), 10, []byte("v1"))

	snap := idx.Clone()
	idx.Put([]byte("a"), 20, []byte("v2"))

	v, ok := snap.Get([]byte("a"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	v, ok = idx.Get([]byte("a"), 100)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestRangeStopsEarlyWhenVisitorReturnsFalse(t *testing.T) {
	idx := NewIndex()
	idx.Put([]byte("a"), 10, []byte("va"))
	idx.Put([]byte("b"), 10, []byte("vb"))
	idx.Put([]byte("c"), 10, []byte("vc"))

	var got []string
	idx.Range(nil, nil, 100, func(key, payload []byte) bool {
		got = append(got, string(key))
		return len(got) < 2
	})
	require.Equal(t, []string{"a", "b"}, got)
}
