// Package columnar implements the Columnar Cache (spec.md §4.3): an
// append-only, column-oriented mirror of the Delta Store kept hot for
// analytical scans.
//
// Grounded on bundoc's docdb columnar export path
// (docdb/internal/docdb/document.go's field projection) generalized from
// per-document field maps to parallel typed column slices, the layout
// spec.md §3 calls a "Columnar batch". There is no columnar store
// anywhere in bundoc itself — document storage is row/JSON-oriented
// throughout — so this package's batch-of-slices representation is
// instead grounded on the same append-only, struct-of-slices pattern
// used by `other_examples`' arcticdb snapshot file for column-chunked
// in-memory data, adapted into the teacher's own naming and error
// conventions.
package columnar

import (
	"sync"

	"github.com/kartikbazzad/dbx/mvcc"
)

// Column is a single typed column's storage. DBX values are opaque
// []byte (spec.md §5), so every column stores []byte cells; higher-level
// typing lives in catalog.ColumnDescriptor and is interpreted by callers.
type Column struct {
	Name  string
	Cells [][]byte
}

// Batch is one append-only chunk of rows: parallel commit_ts/tombstone
// slices plus one slice per column, all indexed by the same row position
// (spec.md §4.3 "sequence of append-only columnar batches").
type Batch struct {
	CommitTS  []mvcc.Timestamp
	Tombstone []bool
	Keys      [][]byte
	Columns   map[string]*Column
}

func newBatch(columnNames []string) *Batch {
	cols := make(map[string]*Column, len(columnNames))
	for _, n := range columnNames {
		cols[n] = &Column{Name: n}
	}
	return &Batch{Columns: cols}
}

func (b *Batch) append(key []byte, commitTS mvcc.Timestamp, tombstone bool, row map[string][]byte) {
	b.Keys = append(b.Keys, key)
	b.CommitTS = append(b.CommitTS, commitTS)
	b.Tombstone = append(b.Tombstone, tombstone)
	for name, col := range b.Columns {
		col.Cells = append(col.Cells, row[name])
	}
}

func (b *Batch) rowCount() int {
	return len(b.Keys)
}

func (b *Batch) approxBytes() int64 {
	var n int64
	for _, k := range b.Keys {
		n += int64(len(k)) + 9
	}
	for _, col := range b.Columns {
		for _, c := range col.Cells {
			n += int64(len(c))
		}
	}
	return n
}

// Row is one row projected back out of a batch scan, in the shape
// `scan(projection, filter, read_ts) -> lazy batches` consumers expect
// (spec.md §4.3 "Operations").
type Row struct {
	Key       []byte
	CommitTS  mvcc.Timestamp
	Tombstone bool
	Columns   map[string][]byte
}

const defaultBatchRows = 4096

// Table is the Columnar Cache for one table: a frontier of append-only
// batches plus a per-table backpressure gate blocking appends once the
// byte budget is exceeded (spec.md §4.3 "Backpressure").
type Table struct {
	mu          sync.Mutex
	cond        *sync.Cond
	columnNames []string
	batches     []*Batch
	bytes       int64
	byteBudget  int64
}

// NewTable creates an empty Columnar Cache for a table with the given
// projected column names and byte budget.
func NewTable(columnNames []string, byteBudget int64) *Table {
	t := &Table{columnNames: columnNames, byteBudget: byteBudget}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Append adds one row to the current (or a freshly started) batch,
// blocking if the cache is over its byte budget until EvictOlderThan
// makes room (spec.md §4.3 "new writes block on a per-table semaphore").
// Callers must invoke Append under the same per-table ticket used to
// apply the matching write to the Delta Store, so the two tiers stay
// coherent at every version stamp (spec.md §4.3 invariant).
func (t *Table) Append(key []byte, commitTS mvcc.Timestamp, tombstone bool, row map[string][]byte) {
	t.mu.Lock()
	for t.bytes >= t.byteBudget {
		t.cond.Wait()
	}

	if len(t.batches) == 0 || t.batches[len(t.batches)-1].rowCount() >= defaultBatchRows {
		t.batches = append(t.batches, newBatch(t.columnNames))
	}
	active := t.batches[len(t.batches)-1]
	active.append(key, commitTS, tombstone, row)
	t.bytes += int64(len(key)) + 9
	for _, v := range row {
		t.bytes += int64(len(v))
	}
	t.mu.Unlock()
}

// Scan returns every row across every batch visible at readTS, filtered
// to [start, end) by key (end == nil means unbounded), and projected to
// the requested columns (nil/empty means all columns) — spec.md §4.3
// `scan(projection, filter, read_ts)`.
func (t *Table) Scan(start, end []byte, readTS mvcc.Timestamp, projection []string) []Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Newest-batch-wins per key: later batches contain newer writes.
	latest := make(map[string]Row)
	for _, b := range t.batches {
		for i, key := range b.Keys {
			if b.CommitTS[i] > readTS {
				continue
			}
			if string(key) < string(start) {
				continue
			}
			if end != nil && string(key) >= string(end) {
				continue
			}
			if prev, ok := latest[string(key)]; ok && prev.CommitTS > b.CommitTS[i] {
				continue
			}
			cols := make(map[string][]byte)
			names := projection
			if len(names) == 0 {
				names = t.columnNames
			}
			for _, name := range names {
				col, ok := b.Columns[name]
				if ok && i < len(col.Cells) {
					cols[name] = col.Cells[i]
				}
			}
			latest[string(key)] = Row{
				Key:       append([]byte(nil), key...),
				CommitTS:  b.CommitTS[i],
				Tombstone: b.Tombstone[i],
				Columns:   cols,
			}
		}
	}

	out := make([]Row, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	return out
}

// EvictOlderThan drops batches whose every row has commit_ts at or below
// flushedUpTo — the "cache batches that became redundant with WOS" of
// spec.md §4.3, called by the flush/compaction scheduler after a
// successful Delta->WOS flush.
func (t *Table) EvictOlderThan(flushedUpTo mvcc.Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.batches[:0]
	for _, b := range t.batches {
		redundant := true
		for _, ts := range b.CommitTS {
			if ts > flushedUpTo {
				redundant = false
				break
			}
		}
		if redundant {
			t.bytes -= b.approxBytes()
			continue
		}
		kept = append(kept, b)
	}
	t.batches = kept
	if t.bytes < t.byteBudget {
		t.cond.Broadcast()
	}
}

// Bytes returns the cache's current approximate byte footprint.
func (t *Table) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}
