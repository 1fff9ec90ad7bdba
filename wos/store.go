// Package wos implements the Write-Optimized Store (spec.md §4.4): a
// sorted, disk-backed key-value tier keyed by (user_key, commit_ts
// descending).
//
// Rather than hand-porting bundoc's page-based Pager/BufferPool/B+Tree
// (storage/pager.go, storage/buffer_pool.go, storage/btree.go) — which
// bundoc itself only ever used for single-version JSON document
// storage — WOS is built directly on go.etcd.io/bbolt, the same
// embedded engine cuemby-warren's pkg/storage/boltdb.go uses for its
// control-plane state. bbolt already provides durable, crash-safe,
// sorted storage with its own internal MVCC; this package's only job is
// mapping DBX's versioned-key model onto bbolt's flat byte-ordered
// keyspace and adding a negative-lookup bloom filter on top, which
// bbolt does not provide natively.
package wos

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/holiman/bloomfilter/v2"
	"go.etcd.io/bbolt"

	"github.com/kartikbazzad/dbx/delta"
	"github.com/kartikbazzad/dbx/errs"
	"github.com/kartikbazzad/dbx/mvcc"
)

// encodeKey builds the composite bbolt key `userKey || 0xFF || ^commit_ts`
// (big-endian, bit-inverted) so that, within one userKey prefix, bbolt's
// native lexicographic byte ordering yields commit_ts **descending** —
// giving O(log n) access to "first entry with commit_ts <= read_ts" via a
// single Cursor.Seek (spec.md §6.4).
func encodeKey(userKey []byte, commitTS mvcc.Timestamp) []byte {
	out := make([]byte, len(userKey)+1+8)
	copy(out, userKey)
	out[len(userKey)] = 0xFF
	binary.BigEndian.PutUint64(out[len(userKey)+1:], ^uint64(commitTS))
	return out
}

func decodeKey(composite []byte) (userKey []byte, commitTS mvcc.Timestamp, ok bool) {
	if len(composite) < 9 {
		return nil, 0, false
	}
	split := len(composite) - 9
	if composite[split] != 0xFF {
		return nil, 0, false
	}
	userKey = composite[:split]
	commitTS = mvcc.Timestamp(^binary.BigEndian.Uint64(composite[split+1:]))
	return userKey, commitTS, true
}

const tombstoneMarker = 0xFF

func encodeValue(value []byte, tombstone bool) []byte {
	if tombstone {
		return []byte{tombstoneMarker}
	}
	out := make([]byte, len(value)+1)
	out[0] = 0
	copy(out[1:], value)
	return out
}

func decodeValue(raw []byte) (value []byte, tombstone bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if raw[0] == tombstoneMarker {
		return nil, true
	}
	return raw[1:], false
}

func bucketName(table string) []byte {
	return []byte("t:" + table)
}

// Store is the bbolt-backed WOS shared by every table.
type Store struct {
	db *bbolt.DB

	mu     sync.RWMutex
	blooms map[string]*bloomfilter.Filter
}

// Open opens (or creates) the WOS database file at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create wos dir: %v", errs.ErrIO, err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open wos: %v", errs.ErrIO, err)
	}
	s := &Store{db: db, blooms: make(map[string]*bloomfilter.Filter)}
	if err := s.rebuildBlooms(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// rebuildBlooms scans every existing bucket once at open time to warm
// the in-memory bloom filters (spec.md §6.4 "rebuilt on open from bucket
// key scan").
func (s *Store) rebuildBlooms() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			table := string(name)[2:]
			filter, err := bloomfilter.NewOptimal(uint64(b.Stats().KeyN)+1024, 0.01)
			if err != nil {
				return fmt.Errorf("%w: build bloom filter: %v", errs.ErrIO, err)
			}
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				userKey, _, ok := decodeKey(k)
				if !ok {
					continue
				}
				filter.Add(bloomHash(userKey))
			}
			s.blooms[table] = filter
			return nil
		})
	})
}

func bloomHash(key []byte) uint64 {
	var h uint64 = 1469598103934665603
	for _, b := range key {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

func (s *Store) bloomFor(table string) *bloomfilter.Filter {
	s.mu.RLock()
	f, ok := s.blooms[table]
	s.mu.RUnlock()
	if ok {
		return f
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.blooms[table]; ok {
		return f
	}
	f, _ = bloomfilter.NewOptimal(1<<16, 0.01)
	s.blooms[table] = f
	return f
}

// EnsureTable creates the table's bbolt bucket if it does not already
// exist, called the first time a table is flushed into WOS.
func (s *Store) EnsureTable(table string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName(table))
		if err != nil {
			return fmt.Errorf("%w: create wos bucket: %v", errs.ErrIO, err)
		}
		return nil
	})
}

// DropTable deletes the table's entire bbolt bucket (spec.md §4.8
// DropTable).
func (s *Store) DropTable(table string) error {
	s.mu.Lock()
	delete(s.blooms, table)
	s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(bucketName(table))
		if err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("%w: drop wos bucket: %v", errs.ErrIO, err)
		}
		return nil
	})
}

// IngestBatch atomically ingests a Delta flush snapshot into WOS in a
// single bbolt write transaction, giving all-or-nothing batch ingestion
// for free (spec.md §4.4 "atomic batch ingestion from Delta flushes").
func (s *Store) IngestBatch(table string, entries []delta.Entry) error {
	filter := s.bloomFor(table)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(table))
		if err != nil {
			return fmt.Errorf("%w: create wos bucket: %v", errs.ErrIO, err)
		}
		for _, e := range entries {
			key := encodeKey(e.Key, e.CommitTS)
			if err := b.Put(key, encodeValue(e.Value, e.Tombstone)); err != nil {
				return fmt.Errorf("%w: wos put: %v", errs.ErrIO, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		filter.Add(bloomHash(e.Key))
	}
	return nil
}

// Get returns the first entry with commit_ts <= readTS for userKey in
// table, using the bloom filter to skip a bbolt lookup entirely on a
// definite miss (spec.md §6.4).
func (s *Store) Get(table string, userKey []byte, readTS mvcc.Timestamp) (value []byte, tombstone bool, found bool, err error) {
	if !s.bloomFor(table).Contains(bloomHash(userKey)) {
		return nil, false, false, nil
	}
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		seekKey := encodeKey(userKey, readTS)
		k, v := c.Seek(seekKey)
		if k == nil {
			// seekKey sorts past every key in the bucket; reposition at
			// the last entry before walking backward to the prefix.
			k, v = c.Last()
		}
		if k != nil && !hasPrefix(k, userKey) {
			k, v = lastInPrefix(c, userKey)
		}
		if k == nil {
			return nil
		}
		gotKey, commitTS, ok := decodeKey(k)
		if !ok || string(gotKey) != string(userKey) || commitTS > readTS {
			return nil
		}
		value, tombstone = decodeValue(v)
		found = true
		return nil
	})
	return value, tombstone, found, err
}

// maxTimestamp encodes to composite suffix 0 (the smallest possible),
// so seeking it lands on the newest version within a key's prefix —
// the frontier NewestCommitAfter needs, as opposed to Get's readTS-bounded
// seek.
const maxTimestamp = mvcc.Timestamp(^uint64(0))

// NewestCommitAfter reports the newest commit_ts for userKey in table if
// it is strictly greater than after, implementing txn.ConflictChecker for
// keys that have left Delta (spec.md §4.6 "Validation" — a committed
// version newer than the reading transaction's read_ts is a conflict
// regardless of which tier now holds it).
func (s *Store) NewestCommitAfter(table string, userKey []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool) {
	if !s.bloomFor(table).Contains(bloomHash(userKey)) {
		return 0, false
	}
	var result mvcc.Timestamp
	var found bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		k, _ := c.Seek(encodeKey(userKey, maxTimestamp))
		if k == nil || !hasPrefix(k, userKey) {
			return nil
		}
		_, commitTS, ok := decodeKey(k)
		if !ok || commitTS <= after {
			return nil
		}
		result, found = commitTS, true
		return nil
	})
	return result, found
}

func hasPrefix(composite, userKey []byte) bool {
	if len(composite) < len(userKey)+9 {
		return false
	}
	return string(composite[:len(userKey)]) == string(userKey) && composite[len(userKey)] == 0xFF
}

// lastInPrefix walks backward from c's current position to find the last
// key sharing userKey's prefix — used when Seek lands past the end of
// the prefix's keyspace (i.e. the requested read_ts is older than every
// stored version, since descending-commit_ts ordering puts the oldest
// version last within the prefix).
func lastInPrefix(c *bbolt.Cursor, userKey []byte) ([]byte, []byte) {
	k, v := c.Prev()
	for k != nil && !hasPrefix(k, userKey) {
		k, v = c.Prev()
	}
	return k, v
}

// Range returns every entry with key in [start, end) (end == nil means
// unbounded) visible at readTS: for each distinct user key, the newest
// version at or below readTS, in ascending key order (spec.md §4.4
// "bounded range scan"). The scan runs under one pinned bbolt read
// transaction for a consistent view across concurrent ingestions
// (spec.md §4.4 bullet 4).
func (s *Store) Range(table string, start, end []byte, readTS mvcc.Timestamp) ([]delta.Entry, error) {
	var out []delta.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var lastKey []byte
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			userKey, commitTS, ok := decodeKey(k)
			if !ok {
				continue
			}
			if end != nil && string(userKey) >= string(end) {
				continue // composite order is not user-key order for prefix keys
			}
			if lastKey != nil && string(userKey) == string(lastKey) {
				continue // already emitted the newest-at-or-below-readTS version
			}
			if commitTS > readTS {
				continue
			}
			lastKey = append(lastKey[:0], userKey...)
			value, tombstone := decodeValue(v)
			out = append(out, delta.Entry{
				Key:       append([]byte(nil), userKey...),
				Value:     value,
				CommitTS:  commitTS,
				Tombstone: tombstone,
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out, err
}

// CompactTable folds obsolete versions out of table's bucket (spec.md
// §4.7 step 2 "WOS compaction"): for each user key, the newest version at
// or below watermark is kept and every older version for that key is
// deleted, mirroring mvcc.Version.GCPrune's "keep newest-at-or-below,
// drop everything past it" rule applied to bbolt's on-disk run instead of
// an in-memory chain (encodeKey's descending-commit_ts ordering means
// that run is already walked newest-to-oldest by one forward cursor
// scan). Reports how many versions were removed.
func (s *Store) CompactTable(table string, watermark mvcc.Timestamp) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var lastKey []byte
		var keptNewestAtOrBelow bool
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			userKey, commitTS, ok := decodeKey(k)
			if !ok {
				continue
			}
			if lastKey == nil || string(userKey) != string(lastKey) {
				lastKey = append(lastKey[:0], userKey...)
				keptNewestAtOrBelow = commitTS <= watermark
				continue
			}
			if keptNewestAtOrBelow {
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			if commitTS <= watermark {
				keptNewestAtOrBelow = true
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("%w: wos compact delete: %v", errs.ErrIO, err)
			}
		}
		removed = len(toDelete)
		return nil
	})
	return removed, err
}

// PromoteAndClear atomically reads every row visible at uptoTS for table
// and removes those composite keys, plus every older version of the same
// user keys, from the bucket, handing the
// caller the rows to write into a ROS segment (spec.md §4.7 step 3 "WOS
// promotion"). Running the read and the delete in one bbolt write
// transaction keeps a concurrent reader from ever observing a key
// missing from both WOS and the not-yet-written ROS segment.
func (s *Store) PromoteAndClear(table string, uptoTS mvcc.Timestamp) ([]delta.Entry, error) {
	var out []delta.Entry
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(table))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		var lastKey []byte
		var promoted bool
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			userKey, commitTS, ok := decodeKey(k)
			if !ok {
				continue
			}
			// Track the current user key unconditionally, the same way
			// CompactTable does, so a version that fails the uptoTS check
			// below doesn't leave lastKey pointing at the wrong key and
			// cause the next (older) version of this key to be mistaken
			// for the representative one.
			if lastKey == nil || string(userKey) != string(lastKey) {
				lastKey = append(lastKey[:0], userKey...)
				promoted = false
			} else if promoted {
				// Superseded by this key's already-promoted version.
				toDelete = append(toDelete, append([]byte(nil), k...))
				continue
			}
			if commitTS > uptoTS {
				continue // too new to promote yet; leave it in WOS untouched
			}
			promoted = true
			toDelete = append(toDelete, append([]byte(nil), k...))
			value, tombstone := decodeValue(v)
			out = append(out, delta.Entry{
				Key:       append([]byte(nil), userKey...),
				Value:     value,
				CommitTS:  commitTS,
				Tombstone: tombstone,
			})
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("%w: wos promote delete: %v", errs.ErrIO, err)
			}
		}
		return nil
	})
	return out, err
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close wos: %v", errs.ErrIO, err)
	}
	return nil
}
