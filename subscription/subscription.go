// Package subscription implements the live-read-set registry that turns
// published commits into one-shot invalidation events: a session opens
// a subscription over a read set at a validity timestamp, and the
// manager tells it, exactly once, the first commit timestamp at which
// that read set is no longer a faithful view of the data. It is built
// on top of readset.Aggregate the same way the committer's conflict
// check is built on readset.ReadSet — same overlap algorithm, inverted
// so a single commit's writes drive the lookup instead of a single
// reader's intervals.
package subscription

import (
	"sync"

	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
	"github.com/latticedb/core/log"
	"github.com/latticedb/core/metrics"
	"github.com/latticedb/core/readset"
	"github.com/latticedb/core/writelog"
)

var logger = log.Named("subscription")

// ID identifies one live subscription.
type ID uint64

// Token is what a caller registers: the read set a query consulted and
// the timestamp it was known valid as of.
type Token struct {
	Reads      *readset.ReadSet
	ValidityTs uint64
}

// Invalidation is delivered exactly once per subscription, in commit
// order, the moment a published commit's writes overlap the
// subscription's read set.
type Invalidation struct {
	ID ID
	Ts uint64
}

// Manager holds every live subscription's token in an aggregated
// interval index for fast per-commit invalidation fanout, plus a
// one-shot delivery channel per subscription.
type Manager struct {
	mu        sync.Mutex
	defs      []document.IndexDef
	ring      *writelog.Ring
	agg       *readset.Aggregate
	tokens    map[ID]*Token
	chans     map[ID]chan Invalidation
	nextID    ID
	horizonTs uint64
}

// NewManager returns an empty manager. ring is consulted to replay
// history for subscriptions registered with a stale validity_ts; defs
// is the engine's full index definition list, needed to compute index
// keys for overlap detection.
func NewManager(defs []document.IndexDef, ring *writelog.Ring) *Manager {
	return &Manager{
		defs:   defs,
		ring:   ring,
		agg:    readset.NewAggregate(),
		tokens: make(map[ID]*Token),
		chans:  make(map[ID]chan Invalidation),
	}
}

// Subscribe registers token and returns its id and delivery channel.
// The channel has capacity 1 and receives at most one Invalidation
// before the subscription is removed; callers drain it and re-subscribe
// with a fresh query rather than expecting further deliveries.
//
// If token.ValidityTs is behind the manager's current horizon, the read
// may already be stale with respect to commits the manager has already
// processed; those commits are replayed against token before it is
// installed. If replay finds an overlap, the subscription is installed
// already-invalidated (an Invalidation is queued immediately instead of
// an install) rather than silently accepted as if nothing had changed
// underneath it. If the ring is full (so it may have overwritten
// commits in the gap) and token.ValidityTs predates its oldest retained
// commit, the read can't be verified either way and registration fails with
// SnapshotTooOld — the caller should re-read at a fresher timestamp
// and subscribe again.
func (m *Manager) Subscribe(token *Token) (ID, <-chan Invalidation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID + 1
	m.nextID = id
	ch := make(chan Invalidation, 1)

	if token.ValidityTs < m.horizonTs {
		// A ring that is not yet full has never overwritten a commit, so
		// it still holds every commit appended to it.
		if oldest := m.ring.OldestTs(); oldest != 0 && token.ValidityTs < oldest && m.ring.Len() == m.ring.Capacity() {
			logger.Warningf("subscribe refused: validity_ts=%d predates ring horizon ts=%d", token.ValidityTs, oldest)
			return 0, nil, &dberrors.SnapshotTooOld{RequestedTs: token.ValidityTs, HorizonTs: oldest}
		}
		var conflictTs uint64
		m.ring.Range(token.ValidityTs, m.horizonTs, func(c *writelog.Commit) bool {
			if readset.OverlapsAny(token.Reads, c.Writes, m.defs) {
				conflictTs = c.Ts
				return false
			}
			return true
		})
		if conflictTs != 0 {
			logger.Debugf("subscribe id=%d installed already-invalidated by replayed commit ts=%d", id, conflictTs)
			ch <- Invalidation{ID: id, Ts: conflictTs}
			return id, ch, nil
		}
	}

	m.tokens[id] = token
	m.chans[id] = ch
	m.agg.Register(uint64(id), token.Reads)
	metrics.SubscriptionsActive.Set(float64(len(m.tokens)))
	return id, ch, nil
}

// Unsubscribe removes a still-live subscription. A no-op if id was
// already invalidated and removed, or never existed.
func (m *Manager) Unsubscribe(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Manager) removeLocked(id ID) {
	delete(m.tokens, id)
	delete(m.chans, id)
	m.agg.Unregister(uint64(id))
	metrics.SubscriptionsActive.Set(float64(len(m.tokens)))
}

// OnCommit is the committer's publish-fanout hook: called once per
// published commit with its timestamp and write set. Every subscription
// whose read set overlaps any of writes is delivered exactly one
// Invalidation (a non-blocking send — a follower too slow to keep its
// channel drained loses the event, since a one-shot channel is either
// empty or already carrying the one notification it will ever carry)
// and then removed from the active set.
func (m *Manager) OnCommit(ts uint64, writes []readset.Write) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.horizonTs = ts
	for _, owner := range m.agg.AffectedOwnersAny(writes, m.defs) {
		id := ID(owner)
		ch, ok := m.chans[id]
		if !ok {
			continue
		}
		select {
		case ch <- Invalidation{ID: id, Ts: ts}:
			metrics.SubscriptionInvalidationsTotal.Inc()
		default:
			logger.Debugf("subscribe id=%d dropped invalidation at ts=%d: channel not drained", id, ts)
		}
		m.removeLocked(id)
	}
}

// Len reports how many subscriptions are currently live, for metrics
// and tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}
