package mvcc

// Version is a single historical state of a record: spec.md §3's
// `(key, value_or_tombstone, commit_ts, prev_version?)` tuple. Version
// chains are strictly decreasing in CommitTS from newest to oldest
// (spec.md §3 invariant 2).
type Version struct {
	CommitTS  Timestamp
	Value     []byte
	Tombstone bool
	Next      *Version // older version, or nil
}

// NewPut creates a version chain head for a put.
func NewPut(ts Timestamp, value []byte, prev *Version) *Version {
	return &Version{CommitTS: ts, Value: value, Next: prev}
}

// NewTombstone creates a version chain head for a delete.
func NewTombstone(ts Timestamp, prev *Version) *Version {
	return &Version{CommitTS: ts, Tombstone: true, Next: prev}
}

// VisibleAt walks the chain and returns the newest version with
// CommitTS <= readTS, or nil if no such version exists (spec.md §3
// invariant 3).
func (v *Version) VisibleAt(readTS Timestamp) *Version {
	for cur := v; cur != nil; cur = cur.Next {
		if cur.CommitTS <= readTS {
			return cur
		}
	}
	return nil
}

// NewestCommitAfter reports the newest CommitTS in the chain that falls in
// the half-open-above range (after, upTo], or false if none exists. Used by
// the transaction coordinator's write-write conflict check (spec.md §4.6
// "Validation").
func (v *Version) NewestCommitAfter(after, upTo Timestamp) (Timestamp, bool) {
	for cur := v; cur != nil; cur = cur.Next {
		if cur.CommitTS <= after {
			return 0, false
		}
		if cur.CommitTS <= upTo {
			return cur.CommitTS, true
		}
	}
	return 0, false
}

// Count returns the number of versions in the chain.
func (v *Version) Count() int {
	n := 0
	for cur := v; cur != nil; cur = cur.Next {
		n++
	}
	return n
}

// GCPrune removes versions strictly older than watermark, except it always
// keeps the newest version at-or-below the watermark (spec.md §3 invariant
// 8: a version may be discarded only if no live snapshot could still need
// it as the "latest visible as of its read_ts" answer).
func (v *Version) GCPrune(watermark Timestamp) *Version {
	if v == nil {
		return nil
	}
	cur := v
	keptNewestAtOrBelow := cur.CommitTS <= watermark
	for cur.Next != nil {
		if keptNewestAtOrBelow {
			// Any further versions are strictly obsolete: a snapshot at the
			// watermark already resolved to the version we kept.
			cur.Next = nil
			break
		}
		if cur.Next.CommitTS <= watermark {
			keptNewestAtOrBelow = true
		}
		cur = cur.Next
	}
	return v
}
