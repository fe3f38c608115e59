// Package writelog holds the two collections commit validation checks
// a transaction's read set against: the bounded ring of already-
// published commits, and the FIFO of commits the committer has
// validated and is in the process of persisting but has not yet
// published. A committing transaction must be checked against both,
// since a conflicting write might have raced ahead into the pending
// queue but not yet reached the ring.
package writelog

import (
	"github.com/latticedb/core/readset"
)

// Commit is one committed transaction's outcome, as far as the write
// log and pending queue need to know: its commit timestamp and the
// writes it made.
type Commit struct {
	Ts     uint64
	Writes []readset.Write
}

// Ring is a fixed-capacity circular buffer of the most recently
// published commits, oldest overwritten first once full, sized by the
// write_log_capacity config knob. It exists so a committing transaction
// only has to search recent history instead of the entire commit record.
type Ring struct {
	buf   []*Commit
	head  int // index of the oldest entry
	count int
}

// NewRing returns an empty ring with room for capacity commits.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]*Commit, capacity)}
}

// Append records c as the newest commit, evicting the oldest if the
// ring is already full.
func (r *Ring) Append(c *Commit) {
	cap := len(r.buf)
	if cap == 0 {
		return
	}
	idx := (r.head + r.count) % cap
	if r.count == cap {
		r.head = (r.head + 1) % cap
	} else {
		r.count++
	}
	r.buf[idx] = c
}

// Len reports how many commits the ring currently holds.
func (r *Ring) Len() int { return r.count }

// Capacity reports the ring's fixed size.
func (r *Ring) Capacity() int { return len(r.buf) }

// OldestTs returns the commit timestamp of the oldest retained commit,
// or 0 if the ring is empty. A transaction whose BeginTs predates this
// cannot have its read set fully checked against the ring and must be
// treated conservatively: the ring's retention bounds how far back
// validation can look.
func (r *Ring) OldestTs() uint64 {
	if r.count == 0 {
		return 0
	}
	return r.buf[r.head].Ts
}

// Range calls visit once per retained commit with Ts in
// (fromTsExclusive, toTsInclusive], oldest first.
func (r *Ring) Range(fromTsExclusive, toTsInclusive uint64, visit func(*Commit) bool) {
	cap := len(r.buf)
	for i := 0; i < r.count; i++ {
		c := r.buf[(r.head+i)%cap]
		if c.Ts <= fromTsExclusive {
			continue
		}
		if c.Ts > toTsInclusive {
			return
		}
		if !visit(c) {
			return
		}
	}
}

// Pending is the FIFO of commits validated and assigned a commit
// timestamp but not yet durably written and published. Entries leave
// the queue, in order, once the committer's persist stage confirms
// durability and moves them into the Ring.
type Pending struct {
	items []*Commit
}

// NewPending returns an empty pending queue.
func NewPending() *Pending {
	return &Pending{}
}

// PushBack enqueues a newly validated commit.
func (p *Pending) PushBack(c *Commit) {
	p.items = append(p.items, c)
}

// PopFront removes and returns the oldest pending commit, or nil if
// empty. Called once that commit's write has been durably persisted and
// is ready to move into the Ring.
func (p *Pending) PopFront() *Commit {
	if len(p.items) == 0 {
		return nil
	}
	c := p.items[0]
	p.items = p.items[1:]
	return c
}

// Front returns the oldest pending commit without removing it, or nil.
func (p *Pending) Front() *Commit {
	if len(p.items) == 0 {
		return nil
	}
	return p.items[0]
}

// Len reports how many commits are queued but not yet published.
func (p *Pending) Len() int { return len(p.items) }

// IsStale reports whether ts has been eclipsed by the newest commit
// currently queued — whether the queue holds a validated write at a
// timestamp later than ts. A caller re-validating a read set as of ts
// can skip Iter entirely when this is false: nothing queued postdates
// what it already accounted for, so walking the queue would find no
// conflict. Checking only the newest entry keeps this O(1) rather than
// O(Len), which is what makes it worth calling before Iter instead of
// just always iterating.
func (p *Pending) IsStale(ts uint64) bool {
	if len(p.items) == 0 {
		return false
	}
	return p.items[len(p.items)-1].Ts > ts
}

// Iter calls visit once per queued commit, oldest first, stopping early
// if visit returns false.
func (p *Pending) Iter(visit func(*Commit) bool) {
	for _, c := range p.items {
		if !visit(c) {
			return
		}
	}
}
