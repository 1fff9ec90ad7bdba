package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kartikbazzad/dbx/errs"
	"github.com/kartikbazzad/dbx/internal/metrics"
)

// Durability selects how aggressively a WAL partition fsyncs
// (spec.md §4.1).
type Durability int

const (
	// DurabilityFull fsyncs inline per commit. Append itself does not
	// sync; the caller calls SyncTable (or Sync) after it.
	DurabilityFull Durability = iota
	// DurabilityLazy fsyncs on a bounded background interval, generalizing
	// bundoc's SharedFlusher.
	DurabilityLazy
	// DurabilityNone never fsyncs explicitly; durability is left to the OS
	// page cache flush policy.
	DurabilityNone
)

// LazyFsyncInterval is the default background fsync period for
// DurabilityLazy partitions (spec.md §4.1 "bounded interval").
const LazyFsyncInterval = time.Second

// partitionCount is the fixed number of WAL streams tables are hashed
// across (spec.md §4.1 "Partitioning": "tables are sharded across a fixed
// number of WAL partitions by hash of table name").
const partitionCount = 16

// partition is one table-sharded WAL stream: an ordered sequence of
// segment files under its own subdirectory.
type partition struct {
	mu      sync.Mutex
	dir     string
	active  *Segment
	nextSeg SegmentID
}

func openPartition(dir string) (*partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create wal partition dir: %v", errs.ErrIO, err)
	}
	p := &partition{dir: dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list wal partition dir: %v", errs.ErrIO, err)
	}
	var maxID SegmentID
	var found bool
	for _, e := range entries {
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "seg-%016x.log", &id); err == nil {
			found = true
			if SegmentID(id) > maxID {
				maxID = SegmentID(id)
			}
		}
	}
	if !found {
		seg, err := CreateSegment(dir, 0)
		if err != nil {
			return nil, err
		}
		p.active = seg
		p.nextSeg = 1
		return p, nil
	}
	seg, err := OpenSegment(dir, maxID)
	if err != nil {
		return nil, err
	}
	p.active = seg
	p.nextSeg = maxID + 1
	return p, nil
}

// segmentIDs lists every segment ID present in the partition directory, in
// ascending order, for replay.
func (p *partition) segmentIDs() ([]SegmentID, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list wal partition dir: %v", errs.ErrIO, err)
	}
	var ids []SegmentID
	for _, e := range entries {
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "seg-%016x.log", &id); err == nil {
			ids = append(ids, SegmentID(id))
		}
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids, nil
}

func (p *partition) append(rec *Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.active.Append(rec); err != nil {
		return err
	}
	if p.active.Full() {
		old := p.active
		seg, err := CreateSegment(p.dir, p.nextSeg)
		if err != nil {
			return err
		}
		p.nextSeg++
		p.active = seg
		go old.Close()
	}
	return nil
}

func (p *partition) sync() error {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	return active.Sync()
}

func (p *partition) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.Close()
}

// WAL coordinates the partitioned, length-framed, CRC-checked
// Write-Ahead Log (spec.md §4.1/§4.6 step 2). Writers obtain LSNs from a
// single shared counter regardless of which partition a record lands in,
// matching spec.md §4.1 "LSNs are assigned from one global counter shared
// across partitions". Generalized from bundoc's internal/wal.Manager,
// replacing its single-stream layout with per-table partitioning and its
// GroupCommitter with the three-level Durability policy above.
type WAL struct {
	dir        string
	lsn        atomic.Uint64
	partitions [partitionCount]*partition

	lazyStop chan struct{}
	lazyWG   sync.WaitGroup
}

// Open opens (or initializes) a WAL rooted at dir, with one subdirectory
// per partition.
func Open(dir string, durability Durability) (*WAL, error) {
	w := &WAL{dir: dir}
	for i := 0; i < partitionCount; i++ {
		p, err := openPartition(filepath.Join(dir, fmt.Sprintf("part-%02x", i)))
		if err != nil {
			return nil, err
		}
		w.partitions[i] = p
	}
	if durability == DurabilityLazy {
		w.lazyStop = make(chan struct{})
		w.lazyWG.Add(1)
		go w.lazyFsyncLoop()
	}
	return w, nil
}

func (w *WAL) lazyFsyncLoop() {
	defer w.lazyWG.Done()
	t := time.NewTicker(LazyFsyncInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = w.Sync()
		case <-w.lazyStop:
			return
		}
	}
}

func partitionIndex(table string) int {
	return int(xxhash.Sum64String(table) % partitionCount)
}

// Append assigns the next LSN and writes rec to the partition owned by
// table. If durability is Full, the caller is still responsible for
// calling Sync after Append returns (spec.md §4.1: Full fsyncs "inline
// per commit", which the transaction coordinator drives explicitly so a
// batch of WAL writes can share one fsync).
func (w *WAL) Append(table string, kind Kind, flags uint16, payload []byte) (LSN, error) {
	lsn := LSN(w.lsn.Add(1))
	rec := &Record{LSN: lsn, Kind: kind, Flags: flags, Payload: payload}
	idx := partitionIndex(table)
	p := w.partitions[idx]
	if err := p.append(rec); err != nil {
		return 0, err
	}
	metrics.WALAppendsTotal.WithLabelValues(kind.String()).Inc()
	metrics.WALBytesWritten.WithLabelValues(strconv.Itoa(idx)).Add(float64(len(payload) + RecordHeaderSize))
	return lsn, nil
}

// SyncTable fsyncs only the partition owning table, used for
// DurabilityFull commits to avoid syncing unrelated partitions.
func (w *WAL) SyncTable(table string) error {
	return w.partitions[partitionIndex(table)].sync()
}

// Sync fsyncs every partition.
func (w *WAL) Sync() error {
	for _, p := range w.partitions {
		if err := p.sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops any lazy-fsync goroutine and closes every partition.
func (w *WAL) Close() error {
	if w.lazyStop != nil {
		close(w.lazyStop)
		w.lazyWG.Wait()
	}
	var firstErr error
	for _, p := range w.partitions {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CurrentLSN returns the most recently assigned LSN.
func (w *WAL) CurrentLSN() LSN {
	return LSN(w.lsn.Load())
}
