// Package committer implements the engine's single logical writer: the
// stage every finalized transaction passes through on its way from a
// read/write set to a durable, published commit. It assigns the commit
// timestamp, validates the transaction's read set against everything
// that committed since it began, and — if validation succeeds — stages,
// persists, and publishes the write.
//
// There is no external transaction coordinator here, since the whole
// engine is one logical shard rather than a sharded cluster — commit
// timestamp assignment, validation, and staging collapse into one
// serialized step. What carries over is the discipline that a commit
// only becomes visible after its writes are durable, and that
// conflicting commits are rejected outright rather than silently
// reordered.
package committer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/latticedb/core/codec"
	"github.com/latticedb/core/committer/latches"
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
	"github.com/latticedb/core/storage/engine_util"
	"github.com/latticedb/core/txn"
	"github.com/latticedb/core/writelog"
	"github.com/latticedb/core/writeset"
)

// tombstoneMarker is the value persisted for a retracted secondary
// index entry. A zero-length value would read back as a Badger
// deletion rather than a recorded retraction (WriteBatch.WriteToDB
// treats an empty value as a delete), so a retraction is recorded as
// this one non-empty, reserved byte instead.
var tombstoneMarker = []byte{0}

var logger = log.Named("committer")

// persister is the durability dependency the committer's persist stage
// needs: exactly the subset of storage.Driver it calls. Kept as an
// interface, not the concrete type, so a test can substitute a driver
// that fails on command without standing up Badger.
type persister interface {
	Write(batch []storage.Modify) error
}

// inflight is one validated, staged commit waiting for its persist and
// publish stage to run. Commit blocks on done; the persist loop closes
// over it exactly once.
type inflight struct {
	entry   *writelog.Commit
	updates []*writeset.Update
	done    chan error
}

// Committer is the engine's commit pipeline: one Committer is shared by
// every concurrent transaction attempting to commit.
type Committer struct {
	cfg   *config.Config
	clock *hlc.Clock
	defs  []document.IndexDef

	snapMgr *snapshot.Manager
	driver  persister
	latch   *latches.Latches

	// onCommit is the subscription/cache invalidation fanout hook,
	// called once per published commit with its final (old, new) write
	// set. Nil is a valid, fanout-less configuration (useful in tests).
	onCommit func(ts uint64, writes []readset.Write)

	// mu serializes commit-timestamp assignment, conflict validation,
	// and pending-queue bookkeeping (I2: at most one commit is between
	// validate and publish at any instant, and only the committer ever
	// touches ring/pending/snapMgr's write side).
	mu      sync.Mutex
	cond    *sync.Cond
	ring    *writelog.Ring
	pending *writelog.Pending

	inbox chan *inflight
}

// New returns a Committer bootstrapped from cfg, sharing clock and
// snapMgr with the rest of the engine, persisting through driver, and
// invoking onCommit (which may be nil) after every publish.
func New(cfg *config.Config, clock *hlc.Clock, snapMgr *snapshot.Manager, driver persister, defs []document.IndexDef, onCommit func(uint64, []readset.Write)) *Committer {
	c := &Committer{
		cfg:      cfg,
		clock:    clock,
		defs:     defs,
		snapMgr:  snapMgr,
		driver:   driver,
		latch:    latches.NewLatches(),
		onCommit: onCommit,
		ring:     writelog.NewRing(cfg.WriteLogCapacity),
		pending:  writelog.NewPending(),
		inbox:    make(chan *inflight, cfg.PendingHighWater),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Run drives the committer's persist/publish stage until ctx is
// cancelled. Exactly one goroutine must call Run; Commit may be called
// concurrently from any number of other goroutines while Run is active.
func (c *Committer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.persistLoop(ctx) })
	return g.Wait()
}

// Commit validates, stages, persists, and publishes final. deadline is
// the originating transaction's commit deadline (txn.Transaction.
// Deadline); Commit refuses to even attempt commit-timestamp assignment
// once it has passed.
//
// Returns the commit timestamp on success. On failure, returns
// *dberrors.OCCAbort, *dberrors.TransactionTimeout,
// *dberrors.PersistenceUnavailable, a wrapped error if reading a prior
// value or encoding a write fails, or ctx's error if ctx ends while
// Commit is waiting (a commit already staged may still be published).
func (c *Committer) Commit(ctx context.Context, final *txn.Final, deadline time.Time) (uint64, error) {
	start := time.Now()
	ts, err := c.commit(ctx, final, deadline)
	metrics.CommitLatencySeconds.WithLabelValues(commitOutcome(err)).Observe(time.Since(start).Seconds())
	metrics.CommitsTotal.WithLabelValues(commitOutcome(err)).Inc()
	return ts, err
}

func (c *Committer) commit(ctx context.Context, final *txn.Final, deadline time.Time) (uint64, error) {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, &dberrors.TransactionTimeout{BeginTs: final.BeginTs, Deadline: deadline.Format(time.RFC3339)}
	}

	infl, err := c.validateAndStage(final)
	if err != nil {
		return 0, err
	}
	metrics.PendingQueueDepth.Set(float64(c.PendingLen()))

	select {
	case c.inbox <- infl:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case err := <-infl.done:
		if err != nil {
			return 0, err
		}
		return infl.entry.Ts, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// commitOutcome maps a Commit error (or nil) to the label metrics uses
// to distinguish committed, aborted, timed-out, and unpersisted calls.
func commitOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeCommitted
	}
	if _, ok := dberrors.IsOCCAbort(err); ok {
		metrics.OCCAbortsTotal.Inc()
		return metrics.OutcomeOCCAbort
	}
	var timeout *dberrors.TransactionTimeout
	if errors.As(err, &timeout) {
		metrics.TransactionTimeoutsTotal.Inc()
		return metrics.OutcomeTransactionTimeout
	}
	var unavailable *dberrors.PersistenceUnavailable
	if errors.As(err, &unavailable) {
		return metrics.OutcomePersistenceUnavailable
	}
	return metrics.OutcomePersistenceUnavailable
}

// validateAndStage performs steps 1-3 of commit: assign commit_ts,
// check the read set against every write in (begin_ts, commit_ts], and
// if clean, push the commit onto the pending queue. It applies
// backpressure by waiting (not failing) while pending is at its high
// water mark, per the engine's "wait, don't abort" backpressure policy.
func (c *Committer) validateAndStage(final *txn.Final) (*inflight, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.pending.Len() >= c.cfg.PendingHighWater {
		c.cond.Wait()
	}

	commitTs := c.clock.Next()

	writes, err := c.buildWrites(final.Updates)
	if err != nil {
		return nil, err
	}

	if conflictTs, conflict := c.checkConflict(final, commitTs); conflict {
		return nil, &dberrors.OCCAbort{ConflictingTs: conflictTs}
	}

	entry := &writelog.Commit{Ts: commitTs, Writes: writes}
	c.pending.PushBack(entry)

	return &inflight{entry: entry, updates: final.Updates, done: make(chan error, 1)}, nil
}

// buildWrites derives the readset.Write slice — old and new value per
// document id — that this commit will present to overlap detection for
// every transaction that validates after it. old is the value the
// committer has queued this id to hold immediately before this write:
// the newest pending write to the same id if one exists, else the
// published snapshot's current value. Chasing the pending queue instead
// of reading only the published snapshot matters because two commits
// concurrently touching the same document id without either reading it
// never conflict under I4 (only read sets are checked); the second
// commit's retracted index key must still be the first commit's new
// value, not whatever predated both.
func (c *Committer) buildWrites(updates []*writeset.Update) ([]readset.Write, error) {
	out := make([]readset.Write, 0, len(updates))
	for _, u := range updates {
		old, err := c.priorValue(u.ID)
		if err != nil {
			return nil, dberrors.Wrap(err, "committer: read prior value")
		}
		out = append(out, readset.Write{Table: u.Table, ID: u.ID, Old: old, New: newValueOf(u)})
	}
	return out, nil
}

// priorValue returns the value document id holds immediately before a
// not-yet-validated write to it: the newest pending commit's write to
// id, or failing that, the published snapshot's current value. Must be
// called with mu held.
func (c *Committer) priorValue(id document.ID) (*document.Value, error) {
	var found *document.Value
	hit := false
	c.pending.Iter(func(cm *writelog.Commit) bool {
		for _, w := range cm.Writes {
			if w.ID == id {
				found, hit = w.New, true
			}
		}
		return true
	})
	if hit {
		return found, nil
	}
	v, _, err := c.snapMgr.Current().Get(id)
	return v, err
}

// checkConflict implements spec step 4.6.2: over the window
// (begin_ts, commit_ts], enumerate every write from the write log and
// the pending queue, and test whether any of its index keys fall inside
// any interval the transaction's read set recorded. Both sources must
// be checked (I4) — pending entries haven't reached the ring yet but
// are just as real a conflict. Must be called with mu held.
func (c *Committer) checkConflict(final *txn.Final, commitTs uint64) (conflictTs uint64, conflict bool) {
	if final.Reads.Empty() {
		return 0, false
	}
	visit := func(cm *writelog.Commit) bool {
		if readset.OverlapsAny(final.Reads, cm.Writes, c.defs) {
			conflictTs, conflict = cm.Ts, true
			return false
		}
		return true
	}
	c.ring.Range(final.BeginTs, commitTs, visit)
	if !conflict && c.pending.IsStale(final.BeginTs) {
		c.pending.Iter(visit)
	}
	return conflictTs, conflict
}

// persistLoop is the committer's sole persist/publish worker. Because
// it is the only goroutine that ever publishes a commit or pops the
// pending queue, commits are persisted and published in
// exactly the order they were staged, satisfying I5 without any
// explicit reordering logic.
func (c *Committer) persistLoop(ctx context.Context) error {
	for {
		select {
		case infl, ok := <-c.inbox:
			if !ok {
				return nil
			}
			c.process(infl)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process runs steps 4-5 for one staged commit: build the durable batch
// and the updated in-memory store (stagePersist), persist it, and on
// success publish the new snapshot and append to the write log. On
// failure the commit is dropped from pending and never published,
// matching spec step 4's "no publication occurs."
func (c *Committer) process(infl *inflight) {
	ts := infl.entry.Ts

	modifies, store, err := c.stagePersist(ts, infl.updates)
	if err == nil {
		keys := latchKeysFor(infl.updates)
		c.latch.WaitForLatches(keys)
		err = c.driver.Write(modifies)
		c.latch.ReleaseLatches(keys)
	}

	c.mu.Lock()
	c.pending.PopFront()
	if err != nil {
		c.cond.Broadcast()
		c.mu.Unlock()
		logger.Warningf("commit ts=%d failed to persist: %v", ts, err)
		infl.done <- err
		return
	}
	c.ring.Append(infl.entry)
	c.snapMgr.Publish(ts, store)
	c.cond.Broadcast()
	c.mu.Unlock()

	if c.onCommit != nil {
		c.onCommit(ts, infl.entry.Writes)
	}
	infl.done <- nil
}

// stagePersist builds the durable write batch for ts and, in the same
// pass, applies every update to a fresh clone of the published store —
// the clone is discarded if persistence fails, so a failed commit never
// leaves a trace in the snapshot a later transaction might see.
//
// old, for both the index-retraction key and mvcc.Store.Apply, is read
// from the clone itself via GetDocument(id, ts) before this update is
// applied to it: since persistLoop processes commits strictly in
// arrival order, the clone already reflects every earlier commit this
// one was staged after, which is exactly the revision chain an
// index-key retraction needs to be correct against — unlike
// buildWrites's priorValue, which has to chase the pending queue
// because it runs before that chain has actually been applied.
func (c *Committer) stagePersist(ts uint64, updates []*writeset.Update) ([]storage.Modify, *mvcc.Store, error) {
	store := c.snapMgr.Current().CloneStore()
	var modifies []storage.Modify

	for _, u := range updates {
		old, _, err := store.GetDocument(u.ID, ts)
		if err != nil {
			return nil, nil, dberrors.Wrap(err, "committer: read prior revision")
		}
		newVal := newValueOf(u)

		payload, err := u.ToBytes(document.Marshal)
		if err != nil {
			return nil, nil, err
		}
		modifies = append(modifies, storage.Modify{
			Cf:    engine_util.CfRevisions,
			Key:   codec.EncodeKey([]byte(u.ID), ts),
			Value: payload,
		})

		for _, def := range document.AffectedIndexes(u.Table, c.defs) {
			if def.IsPrimary() {
				continue
			}
			oldKey, oldOk := def.Key(u.ID, old)
			newKey, newOk := def.Key(u.ID, newVal)
			if oldOk && (!newOk || !bytes.Equal(oldKey, newKey)) {
				modifies = append(modifies, storage.Modify{
					Cf: engine_util.CfIndex, Key: codec.EncodeKey(oldKey, ts), Value: tombstoneMarker,
				})
			}
			if newOk {
				modifies = append(modifies, storage.Modify{
					Cf: engine_util.CfIndex, Key: codec.EncodeKey(newKey, ts), Value: []byte(u.ID),
				})
			}
		}

		if err := store.Apply(ts, u.Table, u.ID, old, newVal); err != nil {
			return nil, nil, err
		}
	}
	return modifies, store, nil
}

// RunRetentionSweep compacts every index's superseded revisions at or
// below horizonTs and publishes the compacted store under the
// currently-published timestamp (compaction never changes what's
// visible, only what's retained). The caller — the engine façade, which
// tracks the oldest begin_ts any live transaction still holds — is
// responsible for choosing horizonTs; the committer has no visibility
// into open transactions itself.
//
// This reclaims the in-memory index only. The revisions and index
// column families in Badger still carry the superseded versions;
// sweeping those requires a per-key range scan the committer does not
// yet do and is tracked as follow-up work, not attempted here.
func (c *Committer) RunRetentionSweep(horizonTs uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.snapMgr.Current()
	store := cur.CloneStore()
	n := store.GC(horizonTs)
	if n > 0 {
		c.snapMgr.Publish(cur.Ts, store)
		metrics.RetentionSweptTotal.Add(float64(n))
		logger.Debugf("retention sweep reclaimed %d revisions below ts=%d", n, horizonTs)
	}
	return n
}

// PendingLen reports how many commits are staged but not yet published,
// for metrics and backpressure diagnostics.
func (c *Committer) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// Ring exposes the published-commit ring so other components that need
// to replay recent history against a read set — subscription
// registration's staleness check (spec §4.8) chief among them — share
// the exact same window the committer validates against, rather than
// keeping a second, possibly-divergent copy.
func (c *Committer) Ring() *writelog.Ring {
	return c.ring
}

func newValueOf(u *writeset.Update) *document.Value {
	if u.Kind == writeset.KindDelete {
		return nil
	}
	return u.Value
}

func latchKeysFor(updates []*writeset.Update) [][]byte {
	keys := make([][]byte, 0, len(updates))
	for _, u := range updates {
		keys = append(keys, []byte(u.ID))
	}
	return keys
}
