// Package engine is the top-level façade spec §6 describes: the thing a
// function runner, session layer, or cache wraps to get at
// begin_transaction/commit, subscribe/unsubscribe, and cache lookup/
// insert, without reaching into storage, mvcc, committer, subscription,
// or cache directly. It plays the role the teacher's kv/server.Server
// played for the raw/transactional gRPC API — one struct wiring the
// storage layer to the operations callers actually invoke — rewritten
// around this engine's own external interface instead of TinyKvServer's
// RPC methods, since there is no gRPC surface here at all.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticedb/core/cache"
	"github.com/latticedb/core/committer"
	"github.com/latticedb/core/config"
	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/hlc"
	"github.com/latticedb/core/log"
	"github.com/latticedb/core/metrics"
	"github.com/latticedb/core/mvcc"
	"github.com/latticedb/core/readset"
	"github.com/latticedb/core/snapshot"
	"github.com/latticedb/core/storage"
	"github.com/latticedb/core/subscription"
	"github.com/latticedb/core/txn"
)

// Engine owns every component of the transactional core and exposes the
// operations spec §6 names. One Engine is shared by every concurrent
// caller.
type Engine struct {
	cfg    *config.Config
	defs   []document.IndexDef
	clock  *hlc.Clock
	driver *storage.Driver

	snapMgr    *snapshot.Manager
	committer  *committer.Committer
	subMgr     *subscription.Manager
	cache      *cache.Cache
	sweepEvery time.Duration

	horizon uint64 // atomic; below this, a begin_ts can no longer be trusted for a range read

	txMu       sync.Mutex
	liveTxns   map[uint64]uint64 // handle -> begin_ts
	nextHandle uint64
}

// New opens persistence at cfg.DBPath, replays it into a fresh MVCC
// store, and wires every component (committer, subscription manager,
// cache) around that store. defs is the full set of index definitions
// the schema layer has registered; New takes no further action on
// them beyond handing them to every component that needs to derive
// index keys.
func New(cfg *config.Config, defs []document.IndexDef) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}

	store, horizonTs, err := driver.LoadLatest(defs)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}

	seed := uint64(time.Now().UnixNano())
	if horizonTs+1 > seed {
		seed = horizonTs + 1
	}
	clock := hlc.New(seed)

	snapMgr := snapshot.NewManager(defs)
	snapMgr.Publish(horizonTs, store)

	e := &Engine{
		cfg:        cfg,
		defs:       defs,
		clock:      clock,
		driver:     driver,
		snapMgr:    snapMgr,
		liveTxns:   make(map[uint64]uint64),
		sweepEvery: sweepInterval(cfg.MvccRetention),
	}

	// subMgr and cache are constructed after the committer because each
	// needs the committer's ring/fanout hook, but the committer's
	// fanout hook needs both of them; the closure captures the
	// variables, not their (not-yet-set) values, so wiring this way
	// round is safe — onCommit is never invoked before Run starts the
	// persist loop, long after both are assigned.
	var subMgr *subscription.Manager
	var qcache *cache.Cache
	onCommit := func(ts uint64, writes []readset.Write) {
		subMgr.OnCommit(ts, writes)
		qcache.OnCommit(ts, writes)
	}

	e.committer = committer.New(cfg, clock, snapMgr, driver, defs, onCommit)
	subMgr = subscription.NewManager(defs, e.committer.Ring())
	qcache = cache.NewCache(defs, cfg.CacheCapacityBytes)
	e.subMgr = subMgr
	e.cache = qcache

	log.Infof("engine: bootstrapped at horizon_ts=%d, clock seeded at %d", horizonTs, seed)
	return e, nil
}

// sweepInterval derives the retention sweep's tick rate from the
// retention window itself: frequent enough that reclaimable revisions
// don't pile up for a large fraction of the retention window, never
// faster than a sensible floor.
func sweepInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

// Run drives the committer's persist/publish loop and the retention
// sweep loop until ctx is cancelled. Exactly one goroutine should call
// Run; every other Engine method may be called concurrently with it.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.committer.Run(ctx) })
	g.Go(func() error {
		mvcc.RunRetentionLoop(ctx, e.sweepEvery, e.refreshHorizon, e.committer.RunRetentionSweep)
		return nil
	})
	return g.Wait()
}

// Close releases the persistence driver. The Engine is unusable
// afterward.
func (e *Engine) Close() error {
	return e.driver.Close()
}

// refreshHorizon recomputes and publishes the current retention
// horizon: the oldest timestamp a transaction may safely read at. It is
// the smaller of (a) every currently open transaction's begin_ts — data
// any of them might still read must never be reclaimed out from under
// it — and (b) now minus the configured retention window.
func (e *Engine) refreshHorizon() uint64 {
	nowNs := uint64(time.Now().UnixNano())
	retentionNs := uint64(e.cfg.MvccRetention.Nanoseconds())
	var wallBound uint64
	if nowNs > retentionNs {
		wallBound = nowNs - retentionNs
	}

	horizon := wallBound
	if oldest, ok := e.oldestLiveBeginTs(); ok && oldest < horizon {
		horizon = oldest
	}

	atomic.StoreUint64(&e.horizon, horizon)
	metrics.RetentionHorizonTs.Set(float64(horizon))
	return horizon
}

func (e *Engine) oldestLiveBeginTs() (uint64, bool) {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	var oldest uint64
	found := false
	for _, ts := range e.liveTxns {
		if !found || ts < oldest {
			oldest = ts
			found = true
		}
	}
	return oldest, found
}

func (e *Engine) registerLive(handle, beginTs uint64) {
	e.txMu.Lock()
	e.liveTxns[handle] = beginTs
	n := len(e.liveTxns)
	e.txMu.Unlock()
	metrics.TransactionsActive.Set(float64(n))
}

func (e *Engine) dropLive(handle uint64) {
	e.txMu.Lock()
	delete(e.liveTxns, handle)
	n := len(e.liveTxns)
	e.txMu.Unlock()
	metrics.TransactionsActive.Set(float64(n))
}

// Txn is a caller's handle on an open transaction: the engine's
// registered bookkeeping (for retention horizon tracking) wrapped
// around the txn.Transaction the read/write operations of spec §4.4
// actually run against.
type Txn struct {
	engine *Engine
	handle uint64
	inner  *txn.Transaction
}

// BeginTransaction opens a transaction at the latest published
// timestamp, per spec §6's begin_transaction.
func (e *Engine) BeginTransaction() *Txn {
	snap := e.snapMgr.Current()
	deadline := time.Now().Add(e.cfg.TransactionDeadline)
	handle := atomic.AddUint64(&e.nextHandle, 1)
	e.registerLive(handle, snap.Ts)
	return &Txn{engine: e, handle: handle, inner: txn.Begin(snap, snap.Ts, deadline)}
}

// BeginAt opens a transaction at an explicit begin_ts rather than the
// latest published snapshot — used to resume a session's prior view, or
// to exercise SnapshotTooOld against an already-reclaimed horizon.
// asOf must not exceed the latest published timestamp.
func (e *Engine) BeginAt(asOf uint64) *Txn {
	deadline := time.Now().Add(e.cfg.TransactionDeadline)
	handle := atomic.AddUint64(&e.nextHandle, 1)
	e.registerLive(handle, asOf)
	return &Txn{engine: e, handle: handle, inner: txn.Begin(e.snapMgr.Current(), asOf, deadline)}
}

// BeginTs reports the timestamp this transaction reads as of.
func (t *Txn) BeginTs() uint64 { return t.inner.BeginTs() }

// Get reads id's current value as of this transaction's snapshot.
func (t *Txn) Get(table string, id document.ID) (*document.Value, bool, error) {
	return t.inner.Get(table, id)
}

// RangeIndex reads up to limit documents in [lo, hi) of indexName (no
// limit if limit <= 0). Fails with SnapshotTooOld if this transaction's
// begin_ts has fallen behind the engine's retention horizon since it
// opened — only range reads are checked against the horizon, since a
// point Get always answers from whatever single revision retention
// still keeps.
func (t *Txn) RangeIndex(table, indexName string, lo, hi []byte, limit int) (map[document.ID]*document.Value, error) {
	horizon := atomic.LoadUint64(&t.engine.horizon)
	if t.inner.BeginTs() < horizon {
		return nil, &dberrors.SnapshotTooOld{RequestedTs: t.inner.BeginTs(), HorizonTs: horizon}
	}
	return t.inner.RangeIndex(table, indexName, lo, hi, limit)
}

// Insert stages the creation of a new document.
func (t *Txn) Insert(table string, id document.ID, value *document.Value) error {
	return t.inner.Insert(table, id, value)
}

// Replace stages overwriting id's value.
func (t *Txn) Replace(table string, id document.ID, value *document.Value) {
	t.inner.Replace(table, id, value)
}

// Delete stages removing id.
func (t *Txn) Delete(table string, id document.ID) {
	t.inner.Delete(table, id)
}

// Commit finalizes and commits the transaction, per spec §6's commit
// operation. The transaction is removed from the engine's live-begin_ts
// bookkeeping whether commit succeeds or fails, since either way it can
// no longer advance the retention horizon's lower bound.
func (t *Txn) Commit(ctx context.Context) (uint64, error) {
	defer t.engine.dropLive(t.handle)
	final, err := t.inner.Finalize()
	if err != nil {
		return 0, err
	}
	return t.engine.committer.Commit(ctx, final, t.inner.Deadline())
}

// Drop abandons the transaction without committing. A no-op if already
// committed or dropped, matching spec §3's "dropping an unfinalized
// transaction is a no-op" (dropping twice is equally harmless).
func (t *Txn) Drop() {
	t.engine.dropLive(t.handle)
}

// Subscribe registers reads as valid as of validityTs and returns the
// subscription id and its one-shot invalidation channel, per spec §6.
func (e *Engine) Subscribe(reads *readset.ReadSet, validityTs uint64) (subscription.ID, <-chan subscription.Invalidation, error) {
	return e.subMgr.Subscribe(&subscription.Token{Reads: reads, ValidityTs: validityTs})
}

// Unsubscribe removes a still-live subscription.
func (e *Engine) Unsubscribe(id subscription.ID) {
	e.subMgr.Unsubscribe(id)
}

// CacheLookup looks up key in the query cache as of reqTs.
func (e *Engine) CacheLookup(key string, reqTs uint64) ([]byte, bool) {
	return e.cache.Lookup(key, reqTs)
}

// CacheInsert populates key's cache entry.
func (e *Engine) CacheInsert(key string, result []byte, reads *readset.ReadSet, validityTs uint64) {
	e.cache.Insert(key, result, reads, validityTs)
}

// CacheGetOrCompute looks up key, computing and caching it on a miss
// with single-flight collapsing of concurrent callers.
func (e *Engine) CacheGetOrCompute(key string, reqTs uint64, compute cache.Compute) ([]byte, error) {
	return e.cache.GetOrCompute(key, reqTs, compute)
}

// CurrentTs reports the latest published commit timestamp, the
// timestamp a freshly begun transaction would read as of.
func (e *Engine) CurrentTs() uint64 {
	return e.snapMgr.Current().Ts
}

// Defs returns the index definitions this engine was constructed with.
func (e *Engine) Defs() []document.IndexDef {
	return e.defs
}
