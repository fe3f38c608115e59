package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/core/document"
)

func TestNewManagerStartsEmpty(t *testing.T) {
	m := NewManager(nil)
	snap := m.Current()
	require.Equal(t, uint64(0), snap.Ts)
	_, ok, err := snap.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishInstallsNewSnapshotWithoutAffectingOld(t *testing.T) {
	m := NewManager(nil)
	old := m.Current()

	store := old.CloneStore()
	require.NoError(t, store.Apply(10, "items", "item-1", nil, &document.Value{Table: "items"}))
	m.Publish(10, store)

	_, ok, err := old.Get("item-1")
	require.NoError(t, err)
	require.False(t, ok, "the snapshot taken before Publish must not see the new write")

	newer := m.Current()
	require.Equal(t, uint64(10), newer.Ts)
	_, ok, err = newer.Get("item-1")
	require.NoError(t, err)
	require.True(t, ok)
}
