// Package bench drives a synthetic insert/commit workload directly
// against an Engine, loosely in the spirit of go-ycsb's client runner
// (concurrent workers hammering one database handle, aggregating
// counts and latency) but self-contained: there is no ycsb.DB
// interface to satisfy here, just the engine's own begin/commit calls.
package bench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/latticedb/core/dberrors"
	"github.com/latticedb/core/document"
)

// Runner is the subset of Engine a workload needs: opening a
// transaction and staging/committing writes on it. Defined here so
// tests can drive Run against a fake without constructing a real
// Engine.
type Runner interface {
	BeginTransaction() Txn
}

// Txn is the subset of *engine.Txn a workload stages writes through.
type Txn interface {
	Insert(table string, id document.ID, value *document.Value) error
	Commit(ctx context.Context) (uint64, error)
}

// Options configures one benchmark run.
type Options struct {
	Ops         int
	Concurrency int
}

// Result reports what a run accomplished.
type Result struct {
	Ops       int
	Committed int64
	OCCAborts int64
	Elapsed   time.Duration
}

// ThroughputPerSec reports committed transactions per second.
func (r Result) ThroughputPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Committed) / r.Elapsed.Seconds()
}

// engineRunner adapts *engine.Engine to Runner without bench importing
// engine directly (engine already imports half the tree; bench stays a
// leaf so it can be unit tested against a fake Runner).
type engineRunner struct {
	begin func() Txn
}

func (r engineRunner) BeginTransaction() Txn { return r.begin() }

// Adapt wraps a begin-transaction closure (typically eng.BeginTransaction
// composed with a small Txn-shaped wrapper) as a Runner.
func Adapt(begin func() Txn) Runner {
	return engineRunner{begin: begin}
}

// Run spawns opts.Concurrency workers, each repeatedly beginning a
// transaction, inserting one freshly generated document into the
// "bench_items" table, and committing, until opts.Ops transactions have
// been attempted in total. OCC aborts are counted, not retried — this
// is a throughput probe, not a correctness harness.
func Run(ctx context.Context, r Runner, opts Options) Result {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	var committed, aborts int64
	var remaining atomic.Int64
	remaining.Store(int64(opts.Ops))

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			seq := 0
			for {
				if ctx.Err() != nil {
					return
				}
				if remaining.Add(-1) < 0 {
					return
				}
				seq++
				id := document.ID(fmt.Sprintf("bench-%d-%d", worker, seq))
				value := &document.Value{
					Table: "bench_items",
					Fields: map[string]document.FieldValue{
						"qty": document.IntField(int64(seq)),
					},
				}
				txn := r.BeginTransaction()
				if err := txn.Insert("bench_items", id, value); err != nil {
					continue
				}
				if _, err := txn.Commit(ctx); err != nil {
					if _, ok := dberrors.IsOCCAbort(err); ok {
						atomic.AddInt64(&aborts, 1)
					}
					continue
				}
				atomic.AddInt64(&committed, 1)
			}
		}(w)
	}
	wg.Wait()

	return Result{
		Ops:       opts.Ops,
		Committed: committed,
		OCCAborts: aborts,
		Elapsed:   time.Since(start),
	}
}
