// Package mvcc provides the timestamp, snapshot, and visibility machinery
// shared by every storage tier in DBX: Delta Store, Columnar Cache, WOS and
// ROS all reason about data in terms of mvcc.Timestamp rather than wall
// clock time.
//
// Generalized from bundoc's mvcc package (version.go, snapshot.go,
// visibility.go): bundoc tracked per-transaction active/aborted ID lists
// because its version chains could hold uncommitted versions; DBX only ever
// publishes a version once its owning transaction has durably committed
// (spec.md §4.6 "commit is externally visible only after step (4)"), so
// visibility collapses to a single comparison against commit_ts.
package mvcc

import "sync/atomic"

// Timestamp is a strictly increasing 64-bit logical time. Every committed
// transaction is assigned a unique Timestamp as its commit_ts (spec.md §3
// invariant 1).
type Timestamp uint64

// Clock hands out unique, monotonically increasing timestamps. A single
// Clock is shared, per engine handle, by both read_ts allocation (Begin)
// and commit_ts allocation (Commit) — spec.md §4.6 requires both to come
// from "a single monotonic 64-bit counter".
type Clock struct {
	counter atomic.Uint64
}

// NewClock creates a Clock seeded at the given starting value, typically
// the highest commit_ts recovered from the WAL/catalog state file on open
// so timestamps remain monotonic across restarts (spec.md §3 invariant 1).
func NewClock(seed uint64) *Clock {
	c := &Clock{}
	c.counter.Store(seed)
	return c
}

// Next atomically allocates and returns the next timestamp. The
// coordinator uses it for commit_ts (Commit) only; Begin takes read_ts
// from Current without advancing the clock.
func (c *Clock) Next() Timestamp {
	return Timestamp(c.counter.Add(1))
}

// Current returns the most recently allocated timestamp without advancing
// the clock.
func (c *Clock) Current() Timestamp {
	return Timestamp(c.counter.Load())
}
