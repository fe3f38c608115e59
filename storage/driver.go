// Package storage is the durable persistence driver: a single
// long-lived Badger connection shared by every caller, namespaced into
// the revisions/index/meta column families engine_util understands.
// Unlike a driver that reopens the database per call, Driver opens once
// at Open and serves every read and write off that one connection for
// the life of the process.
package storage

import (
	"sort"

	"github.com/Connor1996/badger"

	"github.com/latticedb/core/codec"
	"github.com/latticedb/core/config"
	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/log"
	"github.com/latticedb/core/mvcc"
	"github.com/latticedb/core/storage/engine_util"
	"github.com/latticedb/core/writeset"
)

var logger = log.Named("storage")

// Modify is one column-family-scoped write: either Put or Delete.
type Modify struct {
	Cf    string
	Key   []byte
	Value []byte // nil for a delete
}

// Driver owns the one Badger instance the server persists to.
type Driver struct {
	db   *badger.DB
	path string
}

// Open opens (creating if absent) the Badger store at cfg.DBPath.
func Open(cfg *config.Config) (*Driver, error) {
	db, err := engine_util.CreateDB(cfg.DBPath)
	if err != nil {
		return nil, dberrors.Wrap(err, "storage: open")
	}
	logger.Infof("opened badger store at %s", cfg.DBPath)
	return &Driver{db: db, path: cfg.DBPath}, nil
}

// Close releases the Badger instance. The driver is unusable afterward.
func (d *Driver) Close() error {
	if err := d.db.Close(); err != nil {
		return dberrors.Wrap(err, "storage: close")
	}
	logger.Infof("closed badger store at %s", d.path)
	return nil
}

// Write applies batch atomically: every Modify lands, or none does,
// matching the write-then-publish ordering the committer relies on —
// by the time Write returns, every revision and index entry of a commit
// is durable before the committer installs the new snapshot pointer.
func (d *Driver) Write(batch []Modify) error {
	wb := new(engine_util.WriteBatch)
	for _, m := range batch {
		if m.Value == nil {
			wb.DeleteCF(m.Cf, m.Key)
		} else {
			wb.SetCF(m.Cf, m.Key, m.Value)
		}
	}
	if err := wb.WriteToDB(d.db); err != nil {
		return &dberrors.PersistenceUnavailable{Cause: err}
	}
	return nil
}

// Reader is a point-in-time, read-only view over the store, backed by
// one Badger transaction so every read it serves is consistent with the
// others.
type Reader struct {
	txn *badger.Txn
}

// NewReader opens a read-only snapshot of the store.
func (d *Driver) NewReader() *Reader {
	return &Reader{txn: d.db.NewTransaction(false)}
}

// GetCF looks up key within cf, returning (nil, nil) if absent.
func (r *Reader) GetCF(cf string, key []byte) ([]byte, error) {
	item, err := r.txn.Get(engine_util.KeyWithCF(cf, key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, dberrors.Wrap(err, "storage: get")
	}
	return item.ValueCopy(nil)
}

// IterCF opens a cursor over cf's keys in ascending order.
func (r *Reader) IterCF(cf string) engine_util.DBIterator {
	return engine_util.NewCFIterator(cf, r.txn)
}

// Close discards the underlying transaction.
func (r *Reader) Close() {
	r.txn.Discard()
}

// GetCF is a convenience one-shot read that doesn't need a held
// Reader, used by bootstrap to load meta keys before the engine starts
// serving transactions.
func (d *Driver) GetCF(cf string, key []byte) ([]byte, error) {
	r := d.NewReader()
	defer r.Close()
	return r.GetCF(cf, key)
}

// DeleteRange removes every key in [startKey, endKey) across all
// column families. The MVCC retention sweep does not call it; that
// sweep compacts only the in-memory index.
func (d *Driver) DeleteRange(startKey, endKey []byte) error {
	if err := engine_util.DeleteRange(d.db, startKey, endKey); err != nil {
		return dberrors.Wrap(err, "storage: delete range")
	}
	return nil
}

// revisionRecord is one decoded (id, ts, table, value) tuple read back
// from CfRevisions during bootstrap, before replay order is sorted out.
type revisionRecord struct {
	id    document.ID
	ts    uint64
	table string
	value *document.Value
}

// LoadLatest rebuilds the in-memory MVCC store from every durable
// revision CfRevisions holds, and reports the highest commit timestamp
// found — the bootstrap horizon the snapshot manager and clock seed
// from. Secondary index entries are not read back directly; replaying
// each revision through Store.Apply, oldest commit_ts first, derives
// them exactly as the committer did the first time, the same
// replay-the-log-forward approach recovery paths take when the derived
// state is cheaper to recompute than to also persist redundantly.
func (d *Driver) LoadLatest(defs []document.IndexDef) (*mvcc.Store, uint64, error) {
	r := d.NewReader()
	defer r.Close()

	var records []revisionRecord
	it := r.IterCF(engine_util.CfRevisions)
	defer it.Close()
	for it.Seek(nil); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return nil, 0, dberrors.Wrap(err, "storage: load revision")
		}
		id := document.ID(codec.DecodeUserKey(key))
		ts := codec.DecodeTs(key)
		table, value, err := writeset.DecodeRevision(payload, document.Unmarshal)
		if err != nil {
			return nil, 0, dberrors.Wrap(err, "storage: decode revision")
		}
		records = append(records, revisionRecord{id: id, ts: ts, table: table, value: value})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ts < records[j].ts })

	store := mvcc.NewStore(defs)
	prior := make(map[document.ID]*document.Value)
	var horizon uint64
	for _, rec := range records {
		old := prior[rec.id]
		if err := store.Apply(rec.ts, rec.table, rec.id, old, rec.value); err != nil {
			return nil, 0, dberrors.Wrap(err, "storage: replay revision")
		}
		prior[rec.id] = rec.value
		if rec.ts > horizon {
			horizon = rec.ts
		}
	}
	logger.Infof("replayed %d revisions, horizon ts=%d", len(records), horizon)
	return store, horizon, nil
}
