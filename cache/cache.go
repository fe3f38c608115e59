// Package cache implements the query result cache keyed by
// (function_id, arguments_hash): a lookup only checks that an entry is
// still cached and was valid as of the caller's timestamp (overlap
// detection runs when a commit is published, in OnCommit), and a
// miss collapses concurrent callers into one execution via
// golang.org/x/sync/singleflight so a cold cache under load doesn't
// stampede the function runner. Invalidation reuses readset.Aggregate
// exactly as subscription.Manager does — a published commit's writes
// drive one inverted lookup against every cached entry's read set
// instead of checking each entry one at a time.
package cache

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/latticedb/core/document"
	"github.com/latticedb/core/metrics"
	"github.com/latticedb/core/readset"
)

// Compute produces a fresh result for a cache miss: the value itself,
// the read set the computation consulted, and the timestamp it is
// known valid as of.
type Compute func() (result []byte, reads *readset.ReadSet, validityTs uint64, err error)

type entry struct {
	key        string
	result     []byte
	reads      *readset.ReadSet
	validityTs uint64
	size       int64
	elem       *list.Element
}

// Cache is a capacity-bounded, LRU-evicted query result cache with
// synchronous per-commit invalidation and single-flight miss
// collapsing.
type Cache struct {
	mu            sync.Mutex
	defs          []document.IndexDef
	agg           *readset.Aggregate
	entries       map[string]*entry
	order         *list.List // front = most recently used
	capacityBytes int64
	usedBytes     int64
	nextOwner     uint64
	ownerOf       map[string]uint64
	keyOf         map[uint64]string
	group         singleflight.Group
}

type singleflightResult struct {
	result     []byte
	validityTs uint64
}

// NewCache returns an empty cache bounded by capacityBytes.
func NewCache(defs []document.IndexDef, capacityBytes int64) *Cache {
	return &Cache{
		defs:          defs,
		agg:           readset.NewAggregate(),
		entries:       make(map[string]*entry),
		order:         list.New(),
		capacityBytes: capacityBytes,
		ownerOf:       make(map[string]uint64),
		keyOf:         make(map[uint64]string),
	}
}

// Lookup returns the cached result for key if one exists, is still
// valid, and was produced at or before reqTs. A miss (not cached,
// invalidated since, or produced after reqTs) returns ok=false; the
// caller is expected to fall through to Insert (directly, or via
// GetOrCompute).
func (c *Cache) Lookup(key string, reqTs uint64) (result []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found || e.validityTs > reqTs {
		metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheResultMiss).Inc()
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	metrics.CacheRequestsTotal.WithLabelValues(metrics.CacheResultHit).Inc()
	return e.result, true
}

// Insert populates or replaces key's entry, registering its read set
// for invalidation fanout and evicting least-recently-used entries
// until the cache is back under its byte budget.
func (c *Cache) Insert(key string, result []byte, reads *readset.ReadSet, validityTs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)

	owner := c.nextOwner + 1
	c.nextOwner = owner
	c.ownerOf[key] = owner
	c.keyOf[owner] = key
	c.agg.Register(owner, reads)

	e := &entry{key: key, result: result, reads: reads, validityTs: validityTs, size: entrySize(key, result)}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e
	c.usedBytes += e.size

	for c.usedBytes > c.capacityBytes && c.order.Len() > 0 {
		back := c.order.Back()
		c.removeLocked(back.Value.(*entry).key)
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	metrics.CacheUsedBytes.Set(float64(c.usedBytes))
}

func entrySize(key string, result []byte) int64 {
	return int64(len(key) + len(result))
}

// removeLocked drops key's entry (if any) from every structure: the
// entry map, the LRU list, the byte budget, and the invalidation
// aggregate. Called both for LRU eviction and commit invalidation, so
// a key that no longer exists in the cache also stops consuming space
// in the aggregated interval index.
func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	c.order.Remove(e.elem)
	c.usedBytes -= e.size
	if owner, ok := c.ownerOf[key]; ok {
		delete(c.ownerOf, key)
		delete(c.keyOf, owner)
		c.agg.Unregister(owner)
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
	metrics.CacheUsedBytes.Set(float64(c.usedBytes))
}

// Invalidate drops key's entry, if present. Exposed for callers that
// need to force an eviction outside the commit-fanout path (e.g. a
// schema change invalidating every cached plan for a table).
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// OnCommit is the committer's publish-fanout hook, wired the same way
// subscription.Manager.OnCommit is: called once per published commit,
// it evicts every cached entry whose read set overlaps the commit's
// writes. This is the "precomputed invalidation bitmap" the happy-path
// lookup benefits from — eviction happens synchronously here, off the
// lookup path, so a hit never pays for overlap detection.
func (c *Cache) OnCommit(ts uint64, writes []readset.Write) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, owner := range c.agg.AffectedOwnersAny(writes, c.defs) {
		if key, ok := c.keyOf[owner]; ok {
			c.removeLocked(key)
		}
	}
}

// GetOrCompute returns the cached result for key at reqTs, computing
// and caching it on a miss. Concurrent misses for the same key share
// one call to compute; a follower whose reqTs the leader's result
// doesn't cover (the leader computed at an earlier, now-superseded
// validity_ts) re-issues its own call rather than accepting a result
// it cannot trust.
func (c *Cache) GetOrCompute(key string, reqTs uint64, compute Compute) ([]byte, error) {
	if result, ok := c.Lookup(key, reqTs); ok {
		return result, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, reads, validityTs, err := compute()
		if err != nil {
			return nil, err
		}
		c.Insert(key, result, reads, validityTs)
		return singleflightResult{result: result, validityTs: validityTs}, nil
	})
	if err != nil {
		return nil, err
	}

	sr := v.(singleflightResult)
	if sr.validityTs >= reqTs {
		return sr.result, nil
	}

	result, reads, validityTs, err := compute()
	if err != nil {
		return nil, err
	}
	c.Insert(key, result, reads, validityTs)
	return result, nil
}

// Len reports how many entries are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes reports the cache's current estimated footprint.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
