package mvcc

import "sync"

// SnapshotID uniquely identifies a registered snapshot. Several
// transactions may begin at the same Timestamp (read_ts collisions are
// possible since read_ts is just "a point in time", not a unique
// allocation like commit_ts), so the registry keys on a monotonic
// registration ID rather than on Timestamp.
type SnapshotID uint64

// Registry tracks every live snapshot's read_ts so the GC watermark
// (spec.md §3 invariant 8, §4.6 "Snapshot registry") can be computed as
// min(read_ts) over all live snapshots.
//
// Grounded on bundoc's mvcc.SnapshotManager, simplified: DBX does not need
// bundoc's ActiveTxns/AbortedTxns bookkeeping (see package doc in
// timestamp.go) so the registry only ever stores read timestamps.
type Registry struct {
	mu        sync.Mutex
	clock     *Clock
	nextID    SnapshotID
	live      map[SnapshotID]Timestamp
}

// NewRegistry creates a snapshot registry backed by clock for the
// "no live snapshot" fallback case.
func NewRegistry(clock *Clock) *Registry {
	return &Registry{
		clock: clock,
		live:  make(map[SnapshotID]Timestamp),
	}
}

// Acquire registers a new live snapshot at the given read_ts and returns
// its registry handle. Released by Release on commit/abort (spec.md §3
// "Lifecycles").
func (r *Registry) Acquire(readTS Timestamp) SnapshotID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.live[id] = readTS
	return id
}

// Release removes a snapshot from the live set.
func (r *Registry) Release(id SnapshotID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, id)
}

// Watermark returns the GC watermark: the minimum read_ts over all live
// snapshots, or the clock's current timestamp when none are live
// (spec.md §3 "Lifecycles").
func (r *Registry) Watermark() Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.live) == 0 {
		return r.clock.Current()
	}
	min := Timestamp(^uint64(0))
	for _, ts := range r.live {
		if ts < min {
			min = ts
		}
	}
	return min
}

// LiveCount returns the number of currently live snapshots, used by tests
// and diagnostics.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
