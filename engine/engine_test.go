package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latticedb/core/config"
	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/readset"
)

func testDefs() []document.IndexDef {
	return []document.IndexDef{{Name: "by_qty", Table: "items", Fields: []string{"qty"}}}
}

func startEngine(t *testing.T, mutate func(*config.Config)) (*Engine, func()) {
	t.Helper()
	cfg := config.NewTestConfig()
	cfg.DBPath = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg, testDefs())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = e.Run(ctx)
	}()

	return e, func() {
		cancel()
		wg.Wait()
		require.NoError(t, e.Close())
	}
}

func qtyValue(n int64) *document.Value {
	return &document.Value{Table: "items", Fields: map[string]document.FieldValue{"qty": document.IntField(n)}}
}

// TestBeginInsertCommitRead covers scenario 1: a clean commit is visible
// to a transaction begun afterward.
func TestBeginInsertCommitRead(t *testing.T) {
	e, stop := startEngine(t, nil)
	defer stop()

	tx := e.BeginTransaction()
	require.NoError(t, tx.Insert("items", "item-1", qtyValue(5)))
	_, err := tx.Commit(context.Background())
	require.NoError(t, err)

	readTx := e.BeginTransaction()
	v, ok, err := readTx.Get("items", "item-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, v.Fields["qty"].Int)
	readTx.Drop()
}

// TestRangeReadThenConflictingInsertAbortsCommit covers scenario 2: a
// transaction that range-read the whole table, then tries to commit a
// write whose new key falls inside that range after a concurrent insert
// landed there first, aborts with an OCC conflict.
func TestRangeReadThenConflictingInsertAbortsCommit(t *testing.T) {
	e, stop := startEngine(t, nil)
	defer stop()

	reader := e.BeginTransaction()
	_, err := reader.RangeIndex("items", document.PrimaryIndexName, nil, nil, 0)
	require.NoError(t, err)

	writer := e.BeginTransaction()
	require.NoError(t, writer.Insert("items", "item-new", qtyValue(1)))
	_, err = writer.Commit(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Insert("items", "item-other", qtyValue(2)))
	_, err = reader.Commit(context.Background())
	require.Error(t, err)
	_, isAbort := dberrors.IsOCCAbort(err)
	require.True(t, isAbort)
}

// TestRangeReadOverDisjointKeysDoesNotConflict covers scenario 3: a
// range read bounded away from a concurrent insert's key does not
// cause that insert to trip OCC validation for an unrelated commit.
func TestRangeReadOverDisjointKeysDoesNotConflict(t *testing.T) {
	e, stop := startEngine(t, nil)
	defer stop()

	reader := e.BeginTransaction()
	_, err := reader.RangeIndex("items", document.PrimaryIndexName, []byte("a"), []byte("m"), 0)
	require.NoError(t, err)

	writer := e.BeginTransaction()
	require.NoError(t, writer.Insert("items", "z-item", qtyValue(1)))
	_, err = writer.Commit(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Insert("items", "a-item", qtyValue(2)))
	_, err = reader.Commit(context.Background())
	require.NoError(t, err)
}

// TestRangeReadWithLimitRecordsOnlyConsumedPrefix exercises pagination:
// a limited range read over the whole primary index only consumes a
// prefix of the keys present, so a concurrent insert past that prefix
// must not trip OCC validation on commit.
func TestRangeReadWithLimitRecordsOnlyConsumedPrefix(t *testing.T) {
	e, stop := startEngine(t, nil)
	defer stop()

	seed := e.BeginTransaction()
	require.NoError(t, seed.Insert("items", "a-item", qtyValue(1)))
	require.NoError(t, seed.Insert("items", "b-item", qtyValue(2)))
	_, err := seed.Commit(context.Background())
	require.NoError(t, err)

	reader := e.BeginTransaction()
	results, err := reader.RangeIndex("items", document.PrimaryIndexName, nil, nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	writer := e.BeginTransaction()
	require.NoError(t, writer.Insert("items", "z-item", qtyValue(3)))
	_, err = writer.Commit(context.Background())
	require.NoError(t, err)

	require.NoError(t, reader.Insert("items", "m-item", qtyValue(4)))
	_, err = reader.Commit(context.Background())
	require.NoError(t, err)
}

// TestSecondOfTwoConflictingReadWritersAborts covers scenario 4's
// outcome: two transactions that both read and then write the same
// document race, and whichever commits second aborts. Commit returns
// only once the first commit is persisted and published, so here the
// second validates against the write log, not the pending queue.
func TestSecondOfTwoConflictingReadWritersAborts(t *testing.T) {
	e, stop := startEngine(t, func(c *config.Config) { c.PendingHighWater = 16 })
	defer stop()

	base := e.BeginTransaction()
	require.NoError(t, base.Insert("items", "item-1", qtyValue(1)))
	_, err := base.Commit(context.Background())
	require.NoError(t, err)

	first := e.BeginTransaction()
	_, _, err = first.Get("items", "item-1")
	require.NoError(t, err)
	first.Replace("items", "item-1", qtyValue(2))

	second := e.BeginTransaction()
	_, _, err = second.Get("items", "item-1")
	require.NoError(t, err)
	second.Replace("items", "item-1", qtyValue(3))

	_, err = first.Commit(context.Background())
	require.NoError(t, err)

	_, err = second.Commit(context.Background())
	require.Error(t, err)
	_, isAbort := dberrors.IsOCCAbort(err)
	require.True(t, isAbort)
}

// TestSubscribeInvalidatedByOverlappingCommit covers scenario 5: a
// subscription registered on a read set is delivered exactly one
// invalidation once a commit touches a key it read.
func TestSubscribeInvalidatedByOverlappingCommit(t *testing.T) {
	e, stop := startEngine(t, nil)
	defer stop()

	tx := e.BeginTransaction()
	require.NoError(t, tx.Insert("items", "item-1", qtyValue(1)))
	_, err := tx.Commit(context.Background())
	require.NoError(t, err)

	readTx := e.BeginTransaction()
	_, _, err = readTx.Get("items", "item-1")
	require.NoError(t, err)
	final, err := readTx.inner.Finalize()
	require.NoError(t, err)
	readTx.Drop()

	_, ch, err := e.Subscribe(final.Reads, e.CurrentTs())
	require.NoError(t, err)

	writer := e.BeginTransaction()
	writer.Replace("items", "item-1", qtyValue(2))
	_, err = writer.Commit(context.Background())
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected an invalidation after an overlapping commit")
	}
}

// TestRangeReadBelowRetentionHorizonIsSnapshotTooOld covers scenario 6:
// a transaction resuming a begin_ts the retention horizon has since
// advanced past fails a range read with SnapshotTooOld. The stale
// begin_ts is captured and then abandoned (not kept open) before the
// horizon advances past it, matching the only way a begin_ts can
// legitimately fall behind the horizon — no live transaction can ever
// hold a begin_ts the horizon has already passed.
func TestRangeReadBelowRetentionHorizonIsSnapshotTooOld(t *testing.T) {
	e, stop := startEngine(t, func(c *config.Config) {
		c.MvccRetention = 20 * time.Millisecond
	})
	defer stop()

	staleTs := e.CurrentTs()

	require.Eventually(t, func() bool {
		resumed := e.BeginAt(staleTs)
		_, err := resumed.RangeIndex("items", document.PrimaryIndexName, nil, nil, 0)
		resumed.Drop()
		if err == nil {
			return false
		}
		_, ok := err.(*dberrors.SnapshotTooOld)
		return ok
	}, 2*time.Second, 25*time.Millisecond)
}

func TestCacheLookupMissThenInsertThenHit(t *testing.T) {
	e, stop := startEngine(t, nil)
	defer stop()

	reqTs := e.CurrentTs()
	_, ok := e.CacheLookup("q1", reqTs)
	require.False(t, ok)

	rs := readset.NewReadSet()
	rs.AddRange(document.PrimaryIndexName, nil, nil)
	e.CacheInsert("q1", []byte("result"), rs, reqTs)

	got, ok := e.CacheLookup("q1", reqTs)
	require.True(t, ok)
	require.Equal(t, []byte("result"), got)
}
