package wal

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kartikbazzad/dbx/errs"
)

// TxnCommitEntry is one committed transaction recovered from the WAL,
// ready to be replayed into the Delta Store (spec.md §4.1 "Recovery").
type TxnCommitEntry struct {
	LSN      LSN
	CommitTS uint64
	Writes   []Write
}

// RecoveryResult is the outcome of replaying a WAL directory at startup.
type RecoveryResult struct {
	// Commits are KindTxnCommit entries in ascending LSN order, each
	// holding only the writes whose table's recovered flush watermark is
	// below the entry's commit_ts; an entry left with no writes is
	// omitted (spec.md §4.4 "Idempotent flush": writes already durable
	// in WOS as of the last KindFlushCommit are not replayed again).
	Commits []TxnCommitEntry
	// FlushWatermarks is the highest V from a KindFlushCommit seen per
	// table ID.
	FlushWatermarks map[uint16]uint64
}

// Recover replays every partition under dir, merges records by LSN, and
// classifies them. A corrupt tail segment is truncated in place (logged
// by the caller) rather than failing recovery, matching the Segment.ReadAll
// contract; corruption that is not confined to a tail is propagated as a
// fatal errs.ErrCorruption.
func Recover(dir string) (*RecoveryResult, error) {
	result := &RecoveryResult{FlushWatermarks: make(map[uint16]uint64)}

	var all []*Record
	for i := 0; i < partitionCount; i++ {
		partDir := filepath.Join(dir, fmt.Sprintf("part-%02x", i))
		p, err := openPartition(partDir)
		if err != nil {
			return nil, err
		}
		ids, err := p.segmentIDs()
		if err != nil {
			p.close()
			return nil, err
		}
		for _, id := range ids {
			seg, err := OpenSegment(partDir, id)
			if err != nil {
				p.close()
				return nil, err
			}
			recs, truncAt, err := seg.ReadAll()
			if err != nil {
				seg.Close()
				p.close()
				return nil, err
			}
			if truncAt < segSize(seg) {
				if terr := seg.Truncate(truncAt); terr != nil {
					seg.Close()
					p.close()
					return nil, terr
				}
			}
			all = append(all, recs...)
			seg.Close()
		}
		p.close()
	}

	sort.Slice(all, func(i, j int) bool { return all[i].LSN < all[j].LSN })

	// First pass: establish flush watermarks so the second pass can filter
	// already-durable commits (spec.md §4.4 step 4 "Idempotent flush").
	for _, rec := range all {
		if rec.Kind != KindFlushCommit {
			continue
		}
		tableID, v, err := DecodeFlushMarker(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: recovering flush marker: %v", errs.ErrCorruption, err)
		}
		if v > result.FlushWatermarks[tableID] {
			result.FlushWatermarks[tableID] = v
		}
	}

	for _, rec := range all {
		if rec.Kind != KindTxnCommit {
			continue
		}
		commitTS, writes, err := DecodeTxnCommit(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: recovering txn-commit: %v", errs.ErrCorruption, err)
		}
		var kept []Write
		for _, w := range writes {
			if commitTS > result.FlushWatermarks[w.TableID] {
				kept = append(kept, w)
			}
		}
		if len(kept) > 0 {
			result.Commits = append(result.Commits, TxnCommitEntry{
				LSN:      rec.LSN,
				CommitTS: commitTS,
				Writes:   kept,
			})
		}
	}

	return result, nil
}

func segSize(s *Segment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
