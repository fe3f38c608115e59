package mvcc

import (
	"bytes"
	"context"
	"time"

	"github.com/google/btree"

	"github.com/latticedb/core/codec"
	"github.com/latticedb/core/log"
)

// GC drops every revision strictly older than the newest revision with
// commit ts <= horizon, for every key. That newest-at-or-below-horizon
// revision is kept no matter how old, since it's still the answer a
// read at any ts >= horizon needs if nothing committed since; anything
// behind it is unreachable once the retention horizon has advanced past
// it (the mvcc_retention config knob governs how far horizon trails the
// current time).
func (idx *Index) GC(horizon uint64) int {
	var toDelete []*entry
	var curKey []byte
	sawFloor := false

	idx.tree.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		userKey := codec.DecodeUserKey(e.encodedKey)
		ts := codec.DecodeTs(e.encodedKey)

		if !bytes.Equal(userKey, curKey) {
			curKey = append(curKey[:0], userKey...)
			sawFloor = false
		}
		if ts > horizon {
			return true
		}
		if !sawFloor {
			sawFloor = true
			return true
		}
		toDelete = append(toDelete, e)
		return true
	})

	for _, e := range toDelete {
		idx.tree.Delete(e)
	}
	return len(toDelete)
}

// RunRetentionLoop ticks every interval until ctx is cancelled, each
// time asking horizon for the current retention horizon and handing it
// to sweep. Mirrors the teacher's ticker-driven background maintenance
// (RaftLogGCTickInterval, SplitRegionCheckTickInterval) rather than a
// one-shot GC invoked by something else's schedule — retention is this
// engine's own recurring upkeep, not a side effect of any one commit.
func RunRetentionLoop(ctx context.Context, interval time.Duration, horizon func() uint64, sweep func(uint64) int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ts := horizon()
			if n := sweep(ts); n > 0 {
				log.Debugf("mvcc: retention sweep at horizon=%d reclaimed %d revisions", ts, n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// OldestTs returns the smallest revision timestamp retained across the
// whole index, or 0 if empty. A full scan, so this is a diagnostic and
// metrics helper, not something the commit path calls.
func (idx *Index) OldestTs() uint64 {
	oldest := uint64(0)
	first := true
	idx.tree.Ascend(func(i btree.Item) bool {
		ts := codec.DecodeTs(i.(*entry).encodedKey)
		if first || ts < oldest {
			oldest = ts
			first = false
		}
		return true
	})
	return oldest
}
