package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/readset"
	"github.com/latticedb/core/writelog"
)

func primaryDefs() []document.IndexDef {
	return []document.IndexDef{{Name: document.PrimaryIndexName, Table: "items"}}
}

func pointToken(key string, validityTs uint64) *Token {
	rs := readset.NewReadSet()
	rs.AddPoint(document.PrimaryIndexName, []byte(key))
	return &Token{Reads: rs, ValidityTs: validityTs}
}

func writeTo(key string) readset.Write {
	return readset.Write{Table: "items", ID: document.ID(key), Old: nil, New: &document.Value{Table: "items"}}
}

func TestSubscribeThenOverlappingCommitInvalidatesOnce(t *testing.T) {
	m := NewManager(primaryDefs(), writelog.NewRing(16))

	id, ch, err := m.Subscribe(pointToken("item-5", 10))
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	m.OnCommit(11, []readset.Write{writeTo("item-5")})

	select {
	case inv := <-ch:
		require.Equal(t, id, inv.ID)
		require.EqualValues(t, 11, inv.Ts)
	default:
		t.Fatal("expected an invalidation to be queued")
	}
	require.Equal(t, 0, m.Len())
}

func TestSubscribeUnaffectedCommitDoesNotInvalidate(t *testing.T) {
	m := NewManager(primaryDefs(), writelog.NewRing(16))

	_, ch, err := m.Subscribe(pointToken("item-5", 10))
	require.NoError(t, err)

	m.OnCommit(11, []readset.Write{writeTo("item-9")})

	select {
	case <-ch:
		t.Fatal("did not expect an invalidation for an unrelated key")
	default:
	}
	require.Equal(t, 1, m.Len())
}

func TestUnsubscribeRemovesLiveSubscription(t *testing.T) {
	m := NewManager(primaryDefs(), writelog.NewRing(16))

	id, _, err := m.Subscribe(pointToken("item-5", 10))
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	m.Unsubscribe(id)
	require.Equal(t, 0, m.Len())

	// A commit to the now-unsubscribed key has nothing left to notify.
	m.OnCommit(11, []readset.Write{writeTo("item-5")})
}

func TestSubscribeReplaysHistoryAgainstStaleValidityTs(t *testing.T) {
	ring := writelog.NewRing(16)
	m := NewManager(primaryDefs(), ring)

	// Drive the horizon forward with a commit the manager observes
	// before this subscription is ever registered.
	m.OnCommit(5, []readset.Write{writeTo("item-1")})
	ring.Append(&writelog.Commit{Ts: 5, Writes: []readset.Write{writeTo("item-1")}})

	m.OnCommit(9, []readset.Write{writeTo("item-5")})
	ring.Append(&writelog.Commit{Ts: 9, Writes: []readset.Write{writeTo("item-5")}})

	// validity_ts=3 predates both replayed commits; the second one
	// overlaps item-5, so registration should deliver an immediate
	// invalidation rather than install a silently-stale subscription.
	id, ch, err := m.Subscribe(pointToken("item-5", 3))
	require.NoError(t, err)
	require.Equal(t, 0, m.Len(), "already-stale subscription must not be installed live")

	select {
	case inv := <-ch:
		require.Equal(t, id, inv.ID)
		require.EqualValues(t, 9, inv.Ts)
	default:
		t.Fatal("expected replay to find the overlapping commit")
	}
}

func TestSubscribeReplayFindsNoConflictInstallsLive(t *testing.T) {
	ring := writelog.NewRing(16)
	m := NewManager(primaryDefs(), ring)

	m.OnCommit(5, []readset.Write{writeTo("item-1")})
	ring.Append(&writelog.Commit{Ts: 5, Writes: []readset.Write{writeTo("item-1")}})

	// validity_ts=3 is stale relative to the horizon, but the only
	// replayed commit touches an unrelated key.
	_, ch, err := m.Subscribe(pointToken("item-5", 3))
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	select {
	case <-ch:
		t.Fatal("replay found no conflict, subscription should stay live")
	default:
	}
}

func TestSubscribeBeyondRingRetentionFailsSnapshotTooOld(t *testing.T) {
	ring := writelog.NewRing(2)
	m := NewManager(primaryDefs(), ring)

	for ts := uint64(1); ts <= 4; ts++ {
		c := &writelog.Commit{Ts: ts, Writes: []readset.Write{writeTo("item-1")}}
		m.OnCommit(ts, c.Writes)
		ring.Append(c)
	}
	require.EqualValues(t, 3, ring.OldestTs(), "ring capacity 2 should have evicted ts 1 and 2")

	_, _, err := m.Subscribe(pointToken("item-5", 1))
	require.Error(t, err)
	var tooOld *dberrors.SnapshotTooOld
	require.ErrorAs(t, err, &tooOld)
}

func TestOnCommitNonBlockingSendNeverStalls(t *testing.T) {
	m := NewManager(primaryDefs(), writelog.NewRing(16))
	_, ch, err := m.Subscribe(pointToken("item-5", 10))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.OnCommit(11, []readset.Write{writeTo("item-5")})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnCommit must not block on a 1-capacity subscriber channel")
	}
	<-ch
}
