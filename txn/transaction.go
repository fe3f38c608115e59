// Package txn implements the transaction a caller opens against a
// snapshot, stages reads and writes into, and finalizes into the
// immutable record the committer validates. Mirrors the common split
// between a read-only view and a read-write transaction built on top
// of it (RoTxn vs MvccTxn in a percolator-style design), except ours
// buffers writes through writeset.Set rather than a storage.Modify
// slice, since there's no lock column family to also populate.
package txn

import (
	"time"

	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/readset"
	"github.com/latticedb/core/snapshot"
	"github.com/latticedb/core/writeset"
)

// Transaction is a single caller's in-flight unit of work: reads are
// served from a fixed snapshot (optionally overlaid with the
// transaction's own pending writes), writes accumulate in a write set
// until the transaction finalizes.
type Transaction struct {
	beginTs  uint64
	snap     *snapshot.Snapshot
	deadline time.Time
	reads    *readset.ReadSet
	writes   *writeset.Set
	done     bool
}

// Begin opens a transaction reading from snap as of snap.Ts, with a
// commit deadline of deadline.
func Begin(snap *snapshot.Snapshot, beginTs uint64, deadline time.Time) *Transaction {
	return &Transaction{
		beginTs:  beginTs,
		snap:     snap,
		deadline: deadline,
		reads:    readset.NewReadSet(),
		writes:   writeset.New(),
	}
}

// BeginTs returns the timestamp this transaction began at.
func (t *Transaction) BeginTs() uint64 { return t.beginTs }

// Deadline returns the wall-clock time after which commit submission
// is refused with TransactionTimeout.
func (t *Transaction) Deadline() time.Time { return t.deadline }

func (t *Transaction) checkOpen() error {
	if t.done {
		return &dberrors.Internal{Invariant: "I-TXN-OPEN", Detail: "transaction used after Finalize"}
	}
	return nil
}

// Get reads id's current value, consulting the transaction's own
// pending writes before falling through to the snapshot (read-your-own-
// writes), and records the read in the read set regardless of which
// source answered it — even a self-write-shadowed read still needs to
// be part of the read set so a concurrent conflicting write is still
// detected by commit validation.
func (t *Transaction) Get(table string, id document.ID) (*document.Value, bool, error) {
	if err := t.checkOpen(); err != nil {
		return nil, false, err
	}
	t.reads.AddPoint(document.PrimaryIndexName, []byte(id))

	if u, ok := t.writes.Get(id); ok {
		switch u.Kind {
		case writeset.KindDelete:
			return nil, false, nil
		default:
			return u.Value, true, nil
		}
	}
	return t.snap.Get(id)
}

// RangeIndex reads up to limit documents whose value falls in [lo, hi)
// of indexName, merging the snapshot's view with this transaction's own
// pending writes. limit <= 0 means read the whole range.
//
// The interval recorded in the read set is the range actually consumed,
// not the range requested: if the scan runs to hi without hitting
// limit, the full [lo, hi) is recorded, but if it stops early the read
// set only covers [lo, successor(last key read)). Recording the wider
// requested range here would flag a conflict for every write into the
// unread tail of a paginated scan — inflating OCC aborts and tripping
// subscription/cache invalidation for changes the caller never even
// observed.
func (t *Transaction) RangeIndex(table, indexName string, lo, hi []byte, limit int) (map[document.ID]*document.Value, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	var def document.IndexDef
	found := false
	for _, d := range t.snap.Defs() {
		if d.Name == indexName {
			def = d
			found = true
			break
		}
	}
	if !found {
		return nil, &dberrors.SchemaError{Table: table, Reason: "unknown index " + indexName}
	}

	out := make(map[document.ID]*document.Value)

	var lastKey []byte
	truncated := false
	count := 0
	recordMatch := func(key []byte) bool {
		lastKey = key
		count++
		if limit > 0 && count >= limit {
			truncated = true
			return false
		}
		return true
	}

	if def.IsPrimary() {
		err := t.snap.ScanPrimary(lo, hi, func(id document.ID, v *document.Value) bool {
			out[id] = v
			return recordMatch([]byte(id))
		})
		if err != nil {
			return nil, err
		}
	} else {
		var scanErr error
		t.snap.ScanIndex(indexName, lo, hi, func(id document.ID) bool {
			v, ok, err := t.snap.Get(id)
			if err != nil {
				scanErr = err
				return false
			}
			if !ok {
				return true
			}
			out[id] = v
			// ScanIndex only hands back the document id, not the raw
			// composite index key it was found under, so the key the
			// scan actually stopped on has to be recomputed the same
			// way it was derived when the entry was indexed.
			key, _ := def.Key(id, v)
			return recordMatch(key)
		})
		if scanErr != nil {
			return nil, scanErr
		}
	}

	iv := readset.Interval{Lo: lo, Hi: hi}
	if truncated && lastKey != nil {
		succ := make([]byte, len(lastKey)+1)
		copy(succ, lastKey)
		iv.Hi = succ
	}
	t.reads.AddRange(indexName, iv.Lo, iv.Hi)

	for _, u := range t.writes.Updates() {
		if u.Table != table {
			continue
		}
		// Drop whatever this update's pre-write state contributed, if
		// its old key fell inside the scanned range.
		if oldKey, ok := def.Key(u.ID, priorValue(out, u.ID)); ok && iv.Contains(oldKey) {
			delete(out, u.ID)
		}
		if u.Kind == writeset.KindDelete {
			continue
		}
		if newKey, ok := def.Key(u.ID, u.Value); ok && iv.Contains(newKey) {
			out[u.ID] = u.Value
		}
	}
	return out, nil
}

func priorValue(out map[document.ID]*document.Value, id document.ID) *document.Value {
	return out[id]
}

// Insert stages the creation of a new document. Insert implicitly reads
// id (the same way a percolator-style prewrite reads the key it's about
// to lock) so that two transactions racing to insert the same id are
// caught at commit validation rather than one silently clobbering the
// other.
func (t *Transaction) Insert(table string, id document.ID, value *document.Value) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.reads.AddPoint(document.PrimaryIndexName, []byte(id))
	if _, exists, err := t.Get(table, id); err != nil {
		return err
	} else if exists {
		return &dberrors.InvalidWrite{DocID: string(id), Reason: "document already exists"}
	}
	return t.writes.Insert(table, id, value)
}

// Replace stages overwriting id's value.
func (t *Transaction) Replace(table string, id document.ID, value *document.Value) {
	t.writes.Replace(table, id, value)
}

// Delete stages removing id.
func (t *Transaction) Delete(table string, id document.ID) {
	t.writes.Delete(table, id)
}

// Final is the immutable record a finalized transaction hands to the
// committer: nothing further may change it.
type Final struct {
	BeginTs uint64
	Reads   *readset.ReadSet
	Updates []*writeset.Update
}

// Finalize freezes the transaction and returns the record the committer
// validates and, if validation succeeds, commits. The transaction
// cannot be used afterward.
func (t *Transaction) Finalize() (*Final, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	t.done = true
	return &Final{BeginTs: t.beginTs, Reads: t.reads, Updates: t.writes.Updates()}, nil
}
