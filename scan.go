package dbx

import (
	"sort"

	"github.com/kartikbazzad/dbx/errs"
	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/kartikbazzad/dbx/txn"
)

// Row is one materialized record returned from Scan: the opaque value
// under the table's sole "value" column, tagged with its commit_ts.
type Row struct {
	Key      []byte
	Value    []byte
	CommitTS mvcc.Timestamp
}

// Scan returns every row in [start, end) visible to t, newest version
// per key only, merged across Delta, WOS, and ROS (spec.md §4.6 "reads
// consult Delta, then WOS, then ROS, newest tier first"). end == nil
// means unbounded.
func (e *Engine) Scan(t *txn.Transaction, table string, start, end []byte) ([]Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errs.ErrClosed
	}

	merged := make(map[string]Row)
	seen := make(map[string]mvcc.Timestamp)

	// Oldest tier first: newer tiers' versions overwrite on collision by
	// commit_ts, matching the version-chain "newest wins" rule every other
	// tier already follows internally.
	e.rosMu.RLock()
	segments := append([]rosSegmentMeta(nil), e.rosSegments[table]...)
	e.rosMu.RUnlock()
	for _, seg := range segments {
		if end != nil && bytesLess(end, seg.KeyMin) {
			continue
		}
		if bytesLess(seg.KeyMax, start) {
			continue
		}
		reader, err := e.rosReaderFor(seg)
		if err != nil {
			continue
		}
		for _, sr := range reader.Scan(start, end, t.ReadTS, []string{valueColumn}) {
			mergeVersion(merged, seen, sr.Key, sr.Columns[valueColumn], sr.CommitTS, sr.Tombstone)
		}
	}

	wosEntries, err := e.wos.Range(table, start, end, t.ReadTS)
	if err != nil {
		return nil, err
	}
	for _, en := range wosEntries {
		mergeVersion(merged, seen, en.Key, en.Value, en.CommitTS, en.Tombstone)
	}

	deltaTable := e.delta.Table(table, 0, 0)
	for _, en := range deltaTable.Range(start, end, t.ReadTS) {
		mergeVersion(merged, seen, en.Key, en.Value, en.CommitTS, en.Tombstone)
	}

	out := make([]Row, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out, nil
}

// Count returns the number of rows visible to t in [start, end).
func (e *Engine) Count(t *txn.Transaction, table string, start, end []byte) (int, error) {
	rows, err := e.Scan(t, table, start, end)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// mergeVersion folds one tier's version of key into the accumulating scan
// result, keeping only the newest commit_ts seen across all three tiers
// and dropping the key entirely once its newest version is a tombstone.
func mergeVersion(merged map[string]Row, seen map[string]mvcc.Timestamp, key, value []byte, commitTS mvcc.Timestamp, tombstone bool) {
	k := string(key)
	if prevTS, ok := seen[k]; ok && prevTS >= commitTS {
		return
	}
	seen[k] = commitTS
	if tombstone {
		delete(merged, k)
		return
	}
	merged[k] = Row{Key: append([]byte(nil), key...), Value: value, CommitTS: commitTS}
}
