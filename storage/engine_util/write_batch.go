package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// CfRevisions holds document_id+ts -> encoded document value (or a
// tombstone marker).
//
// CfIndex holds index_key+ts -> document_id, one entry per index per
// revision, letting a range scan over an index walk straight to the
// document ids without touching CfRevisions until a candidate is
// confirmed.
//
// CfMeta is the column family for bootstrap bookkeeping. The committer
// writes nothing to it, and bootstrap recovers the last commit
// timestamp by replaying CfRevisions rather than reading it from here.
const (
	CfRevisions string = "revisions"
	CfIndex     string = "index"
	CfMeta      string = "meta"
)

// CFs lists every column family DeleteRange sweeps.
var CFs = [3]string{CfRevisions, CfIndex, CfMeta}

// WriteBatch accumulates puts and deletes across column families for a
// single atomic commit to Badger.
type WriteBatch struct {
	entries       []*badger.Entry
	size          int
	safePoint     int
	safePointSize int
}

func (wb *WriteBatch) Len() int { return len(wb.entries) }

func (wb *WriteBatch) SetCF(cf string, key, val []byte) {
	wb.entries = append(wb.entries, &badger.Entry{Key: KeyWithCF(cf, key), Value: val})
	wb.size += len(key) + len(val)
}

func (wb *WriteBatch) DeleteCF(cf string, key []byte) {
	wb.entries = append(wb.entries, &badger.Entry{Key: KeyWithCF(cf, key)})
	wb.size += len(key)
}

func (wb *WriteBatch) SetSafePoint() {
	wb.safePoint = len(wb.entries)
	wb.safePointSize = wb.size
}

func (wb *WriteBatch) RollbackToSafePoint() {
	wb.entries = wb.entries[:wb.safePoint]
	wb.size = wb.safePointSize
}

// WriteToDB applies every staged entry to db inside one Badger
// transaction, so a commit's revision, index, and meta entries become
// durable together or not at all.
func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) == 0 {
		return nil
	}
	err := db.Update(func(txn *badger.Txn) error {
		for _, entry := range wb.entries {
			var err error
			if len(entry.Value) == 0 {
				err = txn.Delete(entry.Key)
			} else {
				err = txn.SetEntry(entry)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
	wb.size = 0
	wb.safePoint = 0
	wb.safePointSize = 0
}
