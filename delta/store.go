// Package delta implements the Delta Store (spec.md §4.2): the
// in-memory, row-oriented write buffer that absorbs every committed
// write before it is flushed to the Write-Optimized Store.
//
// Generalized from bundoc's docdb sharded Index
// (docdb/internal/docdb/index.go): the same fixed-shard,
// hash-of-key-into-shard, per-shard RWMutex layout is kept, but each
// shard entry is now the head of an mvcc.Version chain (spec.md §4.2
// "each key maps to a chain of versions ordered by commit_ts") instead
// of docdb's single mutable DocumentVersion with an overloaded
// DeletedTxID sentinel.
package delta

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/kartikbazzad/dbx/mvcc"
)

// DefaultShards mirrors docdb's DefaultNumShards; a power of two keeps
// the modulo-by-hash shard selection cheap.
const DefaultShards = 256

// Entry is a fully materialized key/value pair read out of the Delta
// Store, used both for point reads and for flush snapshots into WOS.
type Entry struct {
	Key       []byte
	Value     []byte
	CommitTS  mvcc.Timestamp
	Tombstone bool
}

type shard struct {
	mu   sync.RWMutex
	data map[string]*mvcc.Version
}

func newShard() *shard {
	return &shard{data: make(map[string]*mvcc.Version)}
}

// Table is the Delta Store for a single table: a sharded map of key to
// MVCC version chain, plus the running row/byte counters that drive
// flush-threshold checks (spec.md §4.2 "Flush trigger").
type Table struct {
	shards   []*shard
	mu       sync.Mutex
	rowCount int
	byteSize int64

	rowThreshold  int
	byteThreshold int64
}

// NewTable creates an empty Delta Store for one table.
func NewTable(rowThreshold int, byteThreshold int64) *Table {
	shards := make([]*shard, DefaultShards)
	for i := range shards {
		shards[i] = newShard()
	}
	return &Table{shards: shards, rowThreshold: rowThreshold, byteThreshold: byteThreshold}
}

func (t *Table) shardFor(key []byte) *shard {
	h := xxhash.Sum64(key)
	return t.shards[h%uint64(len(t.shards))]
}

// Put appends a new visible version for key, committed at commitTS
// (spec.md §4.6 step 3 "apply each write to the Delta Store").
func (t *Table) Put(key, value []byte, commitTS mvcc.Timestamp) {
	t.apply(key, func(prev *mvcc.Version) *mvcc.Version {
		return mvcc.NewPut(commitTS, value, prev)
	}, len(key)+len(value))
}

// Delete appends a tombstone version for key.
func (t *Table) Delete(key []byte, commitTS mvcc.Timestamp) {
	t.apply(key, func(prev *mvcc.Version) *mvcc.Version {
		return mvcc.NewTombstone(commitTS, prev)
	}, len(key))
}

func (t *Table) apply(key []byte, build func(prev *mvcc.Version) *mvcc.Version, approxBytes int) {
	s := t.shardFor(key)
	s.mu.Lock()
	head := s.data[string(key)]
	s.data[string(key)] = build(head)
	s.mu.Unlock()

	t.mu.Lock()
	if head == nil {
		t.rowCount++
	}
	t.byteSize += int64(approxBytes)
	t.mu.Unlock()
}

// Get returns the version of key visible at readTS, if any (spec.md §4.6
// step "reads consult Delta, then WOS, then ROS, newest tier first").
func (t *Table) Get(key []byte, readTS mvcc.Timestamp) (value []byte, tombstone bool, found bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	head := s.data[string(key)]
	s.mu.RUnlock()
	if head == nil {
		return nil, false, false
	}
	v := head.VisibleAt(readTS)
	if v == nil {
		return nil, false, false
	}
	return v.Value, v.Tombstone, true
}

// NewestCommitAfter reports the newest commit_ts for key strictly after
// after (unbounded above), or false if none exists — the per-key query
// the transaction coordinator's write-write conflict validation needs
// (spec.md §4.6 "Validation").
func (t *Table) NewestCommitAfter(key []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	head := s.data[string(key)]
	s.mu.RUnlock()
	if head == nil {
		return 0, false
	}
	return head.NewestCommitAfter(after, mvcc.Timestamp(^uint64(0)))
}

// NeedsFlush reports whether the table has crossed its row or byte
// threshold (spec.md §4.2 "Flush trigger").
func (t *Table) NeedsFlush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rowCount >= t.rowThreshold || t.byteSize >= t.byteThreshold
}

// Stats returns the current row count and approximate byte size.
func (t *Table) Stats() (rows int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rowCount, t.byteSize
}

// Snapshot returns every entry visible at uptoTS, sorted by key. This is
// the data a flush copies into WOS (spec.md §4.4 step 3).
func (t *Table) Snapshot(uptoTS mvcc.Timestamp) []Entry {
	var out []Entry
	for _, s := range t.shards {
		s.mu.RLock()
		for k, head := range s.data {
			if v := head.VisibleAt(uptoTS); v != nil {
				out = append(out, Entry{
					Key:       []byte(k),
					Value:     v.Value,
					CommitTS:  v.CommitTS,
					Tombstone: v.Tombstone,
				})
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// Range returns every entry whose key lies in [start, end) (end == nil
// means unbounded) visible at readTS, sorted by key, for Delta's
// contribution to a table scan (spec.md §4.6 "Scan").
func (t *Table) Range(start, end []byte, readTS mvcc.Timestamp) []Entry {
	var out []Entry
	for _, s := range t.shards {
		s.mu.RLock()
		for k, head := range s.data {
			key := []byte(k)
			if string(key) < string(start) {
				continue
			}
			if end != nil && string(key) >= string(end) {
				continue
			}
			if v := head.VisibleAt(readTS); v != nil {
				out = append(out, Entry{
					Key:       key,
					Value:     v.Value,
					CommitTS:  v.CommitTS,
					Tombstone: v.Tombstone,
				})
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out
}

// PruneFlushed drops every key whose remaining version is already durable
// in WOS after a flush up to flushedUpTo (spec.md §4.4 step 5 "drop S from
// Delta"). GCPrune(watermark) runs first so any version a live snapshot
// could still need is retained regardless of Tombstone status; once that
// leaves a key with a single version at or below flushedUpTo, the flush
// snapshot already
// captured exactly that value (or delete marker) into WOS, so the whole
// key is dropped from Delta rather than just the tombstone-collapsed case
// — this is what lets rowCount/byteSize actually shrink and the
// row/byte-threshold flush trigger (spec.md §4.2) do its job.
func (t *Table) PruneFlushed(flushedUpTo, watermark mvcc.Timestamp) {
	var removedRows int
	var removedBytes int64
	for _, s := range t.shards {
		s.mu.Lock()
		for k, head := range s.data {
			pruned := head.GCPrune(watermark)
			before := countChain(head)
			if pruned.CommitTS <= flushedUpTo && pruned.Next == nil {
				delete(s.data, k)
				removedRows++
				removedBytes += int64(before) * 32
				continue
			}
			after := countChain(pruned)
			removedBytes += int64(before-after) * 32 // coarse estimate
			s.data[k] = pruned
		}
		s.mu.Unlock()
	}
	t.mu.Lock()
	t.rowCount -= removedRows
	if t.rowCount < 0 {
		t.rowCount = 0
	}
	t.byteSize -= removedBytes
	if t.byteSize < 0 {
		t.byteSize = 0
	}
	t.mu.Unlock()
}

func countChain(v *mvcc.Version) int {
	n := 0
	for ; v != nil; v = v.Next {
		n++
	}
	return n
}

// Store holds one Delta Table per registered table name.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewStore creates an empty Delta Store.
func NewStore() *Store {
	return &Store{tables: make(map[string]*Table)}
}

// Table returns (creating if absent) the Delta Table for name.
func (s *Store) Table(name string, rowThreshold int, byteThreshold int64) *Table {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	if ok {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t
	}
	t = NewTable(rowThreshold, byteThreshold)
	s.tables[name] = t
	return t
}

// Drop removes a table's Delta Store entirely (spec.md §4.8 DropTable).
func (s *Store) Drop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, name)
}

// Get implements txn.Reader's shape for callers that only need Delta's
// view (tests, or a table with no WOS/ROS data yet); the engine facade's
// full read path layers WOS and ROS on top of this.
func (s *Store) Get(table string, key []byte, readTS mvcc.Timestamp) (value []byte, tombstone bool, found bool) {
	s.mu.RLock()
	t, ok := s.tables[table]
	s.mu.RUnlock()
	if !ok {
		return nil, false, false
	}
	return t.Get(key, readTS)
}

// NewestCommitAfter implements txn.ConflictChecker by routing to the
// named table's Delta Store; an unregistered table can hold no committed
// versions yet, so it never conflicts.
func (s *Store) NewestCommitAfter(table string, key []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool) {
	s.mu.RLock()
	t, ok := s.tables[table]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return t.NewestCommitAfter(key, after)
}
