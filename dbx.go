// Package dbx implements an embedded, single-process, multi-tier hybrid
// storage engine combining a row-oriented OLTP write path (WAL, Delta
// Store, Write-Optimized Store) with a columnar OLAP read path (Columnar
// Cache, Read-Optimized Store) under one MVCC snapshot-isolation model.
//
// Architecture, mirroring bundoc's database.go facade over its own
// leaf packages:
//  1. Engine: the entry point coordinating every subsystem below.
//  2. catalog: the persistent table registry (schema, policy).
//  3. mvcc: the shared timestamp clock, snapshot registry, and
//     visibility rules every tier reasons about.
//  4. txn: the Transaction Coordinator — begin/write/read/commit/rollback.
//  5. wal: the partitioned, CRC-framed Write-Ahead Log.
//  6. delta/columnar: the in-memory row and column write buffers.
//  7. wos/ros: the disk-backed sorted KV tier and immutable columnar
//     segment tier.
//  8. compaction: the worker pool draining flush/compaction/promotion
//     work and running background GC and WAL truncation.
package dbx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/kartikbazzad/dbx/catalog"
	"github.com/kartikbazzad/dbx/columnar"
	"github.com/kartikbazzad/dbx/compaction"
	"github.com/kartikbazzad/dbx/delta"
	"github.com/kartikbazzad/dbx/errs"
	"github.com/kartikbazzad/dbx/internal/metrics"
	"github.com/kartikbazzad/dbx/internal/obslog"
	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/kartikbazzad/dbx/ros"
	"github.com/kartikbazzad/dbx/security"
	"github.com/kartikbazzad/dbx/txn"
	"github.com/kartikbazzad/dbx/wal"
	"github.com/kartikbazzad/dbx/wos"
)

// valueColumn is the sole column name every table's Columnar Cache and
// ROS segments are shredded into: DBX's put/get surface carries one
// opaque value per key (spec.md §5), so "typed columns" collapses to a
// single byte-slice column until a caller supplies real column
// descriptors to project out of it (left to a higher layer, out of
// scope per SPEC_FULL.md §8).
const valueColumn = "value"

// rosSegmentMeta is an engine-resident index entry for one promoted ROS
// segment, enough to decide whether a segment can satisfy a point read
// or range scan without opening it (spec.md §4.5 "segment index").
type rosSegmentMeta struct {
	Path      string
	SegmentID uint64
	KeyMin    []byte
	KeyMax    []byte
}

// Engine is an open DBX database handle. Safe for concurrent use.
type Engine struct {
	opts *Options

	mu     sync.RWMutex
	closed bool
	tmpDir string // non-empty for OpenInMemory, removed on Close

	catalog  *catalog.Catalog
	clock    *mvcc.Clock
	registry *mvcc.Registry
	wal      *wal.WAL
	delta    *delta.Store
	columnar *columnar.Store
	wos      *wos.Store

	rosDir      string
	rosMu       sync.RWMutex
	rosSegments map[string][]rosSegmentMeta
	rosCache    *lru.Cache[string, *ros.Reader]

	txnMgr    *txn.Manager
	scheduler *compaction.Scheduler

	durability wal.Durability
}

// Open opens (or creates) a durable engine rooted at opts.Path, recovering
// from the WAL if the directory already holds one (spec.md §4.1
// "Recovery"). A nil Options uses DefaultOptions("").
func Open(opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	o := opts.withDefaults()
	if o.Path == "" {
		return nil, fmt.Errorf("%w: Options.Path is required for Open, use OpenInMemory instead", errs.ErrIO)
	}
	return open(o, false)
}

// OpenInMemory opens a transient engine with no durability guarantees: its
// WAL and WOS still live on disk under a temporary directory (bbolt has no
// true in-memory mode), but with DurabilityNone and automatic cleanup on
// Close, approximating an in-process-only engine for tests and scratch use
// (spec.md §6.1 "open_in_memory()").
func OpenInMemory(opts *Options) (*Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	dir, err := os.MkdirTemp("", "dbx-mem-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create in-memory engine dir: %v", errs.ErrIO, err)
	}
	o := *opts
	o.Path = dir
	withDefaults := o.withDefaults()
	e, err := open(withDefaults, true)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	e.tmpDir = dir
	return e, nil
}

func open(o *Options, inMemory bool) (*Engine, error) {
	obslog.Init(o.Logging)
	logger := obslog.Component("engine")

	cat, err := catalog.Open(o.CatalogPath)
	if err != nil {
		return nil, err
	}

	durability := wal.DurabilityFull
	if inMemory {
		durability = wal.DurabilityNone
	}

	walWriter, err := wal.Open(o.WALPath, durability)
	if err != nil {
		return nil, err
	}

	wosStore, err := wos.Open(o.WOSPath)
	if err != nil {
		walWriter.Close()
		return nil, err
	}

	if err := os.MkdirAll(o.ROSDir, 0o755); err != nil {
		walWriter.Close()
		wosStore.Close()
		return nil, fmt.Errorf("%w: create ros dir: %v", errs.ErrIO, err)
	}

	rosCache, err := lru.New[string, *ros.Reader](o.ROSChunkCacheSize)
	if err != nil {
		walWriter.Close()
		wosStore.Close()
		return nil, fmt.Errorf("%w: create ros cache: %v", errs.ErrIO, err)
	}

	clock := mvcc.NewClock(0)
	registry := mvcc.NewRegistry(clock)
	deltaStore := delta.NewStore()
	columnarStore := columnar.NewStore()

	e := &Engine{
		opts:        o,
		catalog:     cat,
		clock:       clock,
		registry:    registry,
		wal:         walWriter,
		delta:       deltaStore,
		columnar:    columnarStore,
		wos:         wosStore,
		rosDir:      o.ROSDir,
		rosSegments: make(map[string][]rosSegmentMeta),
		rosCache:    rosCache,
		durability:  durability,
	}

	for _, name := range cat.List() {
		t, _ := cat.Get(name)
		e.registerTableLocked(t)
	}

	if err := e.recover(); err != nil {
		walWriter.Close()
		wosStore.Close()
		return nil, err
	}

	e.txnMgr = txn.NewManager(e.clock, e.registry, walWriter, &engineConflictChecker{e}, &engineApplier{e}, &engineReader{e}, cat, durability)
	e.scheduler = compaction.NewScheduler(o.CompactionWorkers, 30*time.Second, &engineFlusher{e}, &engineWOSCompactor{e}, &engineROSPromoter{e}, &engineGCRunner{e}, &engineWALTruncator{e})
	e.scheduler.Start()

	logger.Info().Msg("engine opened")
	return e, nil
}

// registerTableLocked creates (or re-attaches to) the Delta Store and
// Columnar Cache tables for a catalog entry. Called both at open (for
// every persisted table) and from CreateTable.
func (e *Engine) registerTableLocked(t *catalog.Table) {
	e.delta.Table(t.Name, t.DeltaRowThreshold, t.DeltaByteThreshold)
	e.columnar.Table(t.Name, []string{valueColumn}, int64(t.DeltaByteThreshold)*4)
}

// recover replays the WAL into the Delta Store, matching spec.md §4.1
// "Recovery" / §4.4's idempotent-flush filtering (already applied by
// wal.Recover via its flush watermarks).
func (e *Engine) recover() error {
	result, err := wal.Recover(e.opts.WALPath)
	if err != nil {
		return err
	}
	var maxCommitTS uint64
	for _, commit := range result.Commits {
		if commit.CommitTS > maxCommitTS {
			maxCommitTS = commit.CommitTS
		}
		for _, w := range commit.Writes {
			name, ok := e.catalog.TableName(w.TableID)
			if !ok {
				continue
			}
			table := e.delta.Table(name, 0, 0)
			if w.Tombstone {
				table.Delete(w.Key, mvcc.Timestamp(commit.CommitTS))
				continue
			}
			table.Put(w.Key, w.Value, mvcc.Timestamp(commit.CommitTS))
		}
	}
	if maxCommitTS > uint64(e.clock.Current()) {
		e.clock = mvcc.NewClock(maxCommitTS)
		e.registry = mvcc.NewRegistry(e.clock)
	}
	return nil
}

// CreateTable registers a new table (spec.md §4.8 CreateTable).
func (e *Engine) CreateTable(name string, opts catalog.TableOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errs.ErrClosed
	}
	t, err := e.catalog.CreateTable(name, opts)
	if err != nil {
		return err
	}
	if err := e.wos.EnsureTable(name); err != nil {
		return err
	}
	e.registerTableLocked(t)
	return nil
}

// DropTable removes a table from every tier (spec.md §4.8 DropTable).
func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errs.ErrClosed
	}
	if err := e.catalog.DropTable(name); err != nil {
		return err
	}
	e.delta.Drop(name)
	e.columnar.Drop(name)
	if err := e.wos.DropTable(name); err != nil {
		return err
	}
	e.rosMu.Lock()
	delete(e.rosSegments, name)
	e.rosMu.Unlock()
	return nil
}

// Begin starts a new transaction (spec.md §4.6 "begin(isolation_level)").
func (e *Engine) Begin(level mvcc.IsolationLevel) (*txn.Transaction, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errs.ErrClosed
	}
	return e.txnMgr.Begin(level)
}

// Put stages a write in t's write set.
func (e *Engine) Put(t *txn.Transaction, table string, key, value []byte) error {
	return e.txnMgr.Write(t, table, key, value)
}

// Delete stages a tombstone in t's write set.
func (e *Engine) Delete(t *txn.Transaction, table string, key []byte) error {
	return e.txnMgr.Delete(t, table, key)
}

// Get resolves key under table as visible to t.
func (e *Engine) Get(t *txn.Transaction, table string, key []byte) ([]byte, error) {
	return e.txnMgr.Read(t, table, key)
}

// Commit validates and applies t (spec.md §4.6 "Apply order on commit").
// A successful commit checks every table t wrote against the Delta
// Store's row/byte thresholds and enqueues a flush on the scheduler for
// any table that has crossed them (spec.md §4.2 "Flush trigger").
func (e *Engine) Commit(t *txn.Transaction) error {
	if err := e.txnMgr.Commit(t); err != nil {
		return err
	}
	seen := make(map[string]bool, len(t.WriteSet))
	for _, w := range t.WriteSet {
		if seen[w.Table] {
			continue
		}
		seen[w.Table] = true
		if table, ok := e.deltaTableIfExists(w.Table); ok && table.NeedsFlush() {
			e.scheduler.EnqueueFlush(w.Table)
		}
	}
	return nil
}

func (e *Engine) deltaTableIfExists(name string) (*delta.Table, bool) {
	t, err := e.catalog.Get(name)
	if err != nil {
		return nil, false
	}
	return e.delta.Table(name, t.DeltaRowThreshold, t.DeltaByteThreshold), true
}

// Rollback aborts t, discarding its write set.
func (e *Engine) Rollback(t *txn.Transaction) error {
	return e.txnMgr.Rollback(t)
}

// Flush synchronously drains table's Delta Store into WOS, bypassing the
// scheduler's queue (spec.md §4.4 "flush(table)" as a directly callable
// operation, not just a background trigger).
func (e *Engine) Flush(table string) error {
	return (&engineFlusher{e}).Flush(table)
}

// Close stops the compaction scheduler, closes every tier, and (for
// OpenInMemory engines) removes the temporary data directory.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errs.ErrClosed
	}
	e.closed = true

	e.scheduler.Stop()
	var firstErr error
	if err := e.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.wos.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.tmpDir != "" {
		os.RemoveAll(e.tmpDir)
	}
	return firstErr
}

// ListTables returns the names of every registered table.
func (e *Engine) ListTables() []string {
	return e.catalog.List()
}

// engineReader implements txn.Reader by consulting Delta, then WOS, then
// ROS, newest tier first (spec.md §4.6 "reads consult Delta, then WOS,
// then ROS").
type engineReader struct{ e *Engine }

func (r *engineReader) Get(table string, key []byte, readTS mvcc.Timestamp) ([]byte, bool, bool) {
	if value, tombstone, found := r.e.delta.Get(table, key, readTS); found {
		return value, tombstone, true
	}
	if value, tombstone, found, err := r.e.wos.Get(table, key, readTS); err == nil && found {
		return value, tombstone, true
	}
	if value, tombstone, found := r.e.getFromROS(table, key, readTS); found {
		return value, tombstone, true
	}
	return nil, false, false
}

// engineConflictChecker implements txn.ConflictChecker by consulting
// Delta, then WOS, then ROS — mirroring engineReader.Get's tier order,
// since a live key's current version lives in exactly one tier at a time
// (PruneFlushed/PromoteAndClear remove it from the source tier as it
// moves). Without this, a key whose newest version has already been
// flushed out of Delta would escape write-write conflict detection
// entirely (spec.md §4.6 "Validation": "any committed version with
// commit_ts > read_ts" is a conflict, regardless of tier).
type engineConflictChecker struct{ e *Engine }

func (c *engineConflictChecker) NewestCommitAfter(table string, key []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool) {
	if ts, found := c.e.delta.NewestCommitAfter(table, key, after); found {
		return ts, true
	}
	if ts, found := c.e.wos.NewestCommitAfter(table, key, after); found {
		return ts, true
	}
	return c.e.newestCommitAfterInROS(table, key, after)
}

func (e *Engine) newestCommitAfterInROS(table string, key []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool) {
	e.rosMu.RLock()
	segments := append([]rosSegmentMeta(nil), e.rosSegments[table]...)
	e.rosMu.RUnlock()

	var best mvcc.Timestamp
	var found bool
	for _, seg := range segments {
		if bytesLess(key, seg.KeyMin) || bytesLess(seg.KeyMax, key) {
			continue
		}
		reader, err := e.rosReaderFor(seg)
		if err != nil {
			continue
		}
		if ts, ok := reader.NewestCommitAfter(key, after); ok && (!found || ts > best) {
			best, found = ts, true
		}
	}
	return best, found
}

func (e *Engine) getFromROS(table string, key []byte, readTS mvcc.Timestamp) (value []byte, tombstone bool, found bool) {
	e.rosMu.RLock()
	segments := append([]rosSegmentMeta(nil), e.rosSegments[table]...)
	e.rosMu.RUnlock()

	// Newest segment first: later promotions hold newer versions.
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if bytesLess(key, seg.KeyMin) || bytesLess(seg.KeyMax, key) {
			continue
		}
		reader, err := e.rosReaderFor(seg)
		if err != nil {
			continue
		}
		if !reader.MayContain(key) {
			continue
		}
		if v, ts, ok := reader.Get(key, readTS); ok {
			return v, ts, true
		}
	}
	return nil, false, false
}

func (e *Engine) rosReaderFor(seg rosSegmentMeta) (*ros.Reader, error) {
	if r, ok := e.rosCache.Get(seg.Path); ok {
		return r, nil
	}
	compressor, aead := e.codecsFor(seg.Path)
	r, err := ros.OpenSegment(seg.Path, seg.SegmentID, compressor, aead)
	if err != nil {
		return nil, err
	}
	e.rosCache.Add(seg.Path, r)
	return r, nil
}

// codecsFor resolves the compressor/AEAD a segment's table was written
// with, taking the table name from the segment file name
// ("<table>-<id>.ros"). DBX does not persist per-segment codec choice in
// the segment index (rosSegmentMeta), only in the catalog's current table
// policy, so a table whose encryption/compression policy changes after
// older segments were written would fail to decode them — documented as
// a known gap in DESIGN.md rather than silently ignored.
func (e *Engine) codecsFor(path string) (security.Compressor, security.AEAD) {
	name := strings.TrimSuffix(filepath.Base(path), ".ros")
	if i := strings.LastIndex(name, "-"); i >= 0 {
		if t, err := e.catalog.Get(name[:i]); err == nil {
			return e.compressorAndAEADFor(t)
		}
	}
	return security.NoneCompressor(), nil
}

func bytesLess(a, b []byte) bool {
	return string(a) < string(b)
}

// newSegmentID derives a compact uint64 segment identifier from a
// freshly generated UUID, so the WAL/segment-filename numeric space
// (spec.md §6.3/§6.5) stays collision-resistant across process restarts
// without the engine keeping its own persisted segment counter.
func newSegmentID() uint64 {
	id := uuid.New()
	return xxhash.Sum64(id[:])
}

// engineApplier implements txn.Applier by applying a committed write set
// to the Delta Store and mirroring it into the Columnar Cache under the
// same commit_ts stamp (spec.md §4.6 step 4, §4.3 "new writes arrive
// under the same per-table ticket used to apply to Delta").
type engineApplier struct{ e *Engine }

func (a *engineApplier) Apply(commitTS mvcc.Timestamp, writes []txn.Write) error {
	for _, w := range writes {
		t, err := a.e.catalog.Get(w.Table)
		if err != nil {
			return err
		}
		deltaTable := a.e.delta.Table(w.Table, t.DeltaRowThreshold, t.DeltaByteThreshold)
		columnarTable := a.e.columnar.Table(w.Table, []string{valueColumn}, int64(t.DeltaByteThreshold)*4)
		if w.Tombstone {
			deltaTable.Delete(w.Key, commitTS)
			columnarTable.Append(w.Key, commitTS, true, nil)
			continue
		}
		deltaTable.Put(w.Key, w.Value, commitTS)
		columnarTable.Append(w.Key, commitTS, false, map[string][]byte{valueColumn: w.Value})
	}
	return nil
}

// engineFlusher implements compaction.Flusher: drain a table's Delta
// Store into WOS (spec.md §4.4 flush protocol).
type engineFlusher struct{ e *Engine }

func (f *engineFlusher) Flush(table string) error {
	e := f.e
	catTable, err := e.catalog.Get(table)
	if err != nil {
		return err
	}
	deltaTable := e.delta.Table(table, catTable.DeltaRowThreshold, catTable.DeltaByteThreshold)
	uptoTS := e.clock.Current()
	entries := deltaTable.Snapshot(uptoTS)
	if len(entries) == 0 {
		return nil
	}

	begin := wal.EncodeFlushMarker(catTable.ID, uint64(uptoTS))
	if _, err := e.wal.Append(table, wal.KindFlushBegin, 0, begin); err != nil {
		return err
	}
	if e.durability == wal.DurabilityFull {
		if err := e.wal.SyncTable(table); err != nil {
			return err
		}
	}

	if err := e.wos.IngestBatch(table, entries); err != nil {
		return err
	}

	commitMarker := wal.EncodeFlushMarker(catTable.ID, uint64(uptoTS))
	if _, err := e.wal.Append(table, wal.KindFlushCommit, 0, commitMarker); err != nil {
		return err
	}
	if e.durability == wal.DurabilityFull {
		if err := e.wal.SyncTable(table); err != nil {
			return err
		}
	}

	deltaTable.PruneFlushed(uptoTS, e.registry.Watermark())
	e.columnar.Table(table, []string{valueColumn}, int64(catTable.DeltaByteThreshold)*4).EvictOlderThan(uptoTS)
	return nil
}

// engineWOSCompactor implements compaction.WOSCompactor.
type engineWOSCompactor struct{ e *Engine }

func (c *engineWOSCompactor) CompactWOS(table string) error {
	_, err := c.e.wos.CompactTable(table, c.e.registry.Watermark())
	return err
}

// engineROSPromoter implements compaction.ROSPromoter: drains the WOS
// entries visible at the GC watermark into a new immutable ROS segment
// (spec.md §4.7 step 3).
type engineROSPromoter struct{ e *Engine }

func (p *engineROSPromoter) PromoteToROS(table string) error {
	e := p.e
	catTable, err := e.catalog.Get(table)
	if err != nil {
		return err
	}
	watermark := e.registry.Watermark()
	entries, err := e.wos.PromoteAndClear(table, watermark)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return string(entries[i].Key) < string(entries[j].Key) })

	rows := make([]ros.Row, len(entries))
	for i, en := range entries {
		rows[i] = ros.Row{
			Key:       en.Key,
			CommitTS:  en.CommitTS,
			Tombstone: en.Tombstone,
			Columns:   map[string][]byte{valueColumn: en.Value},
		}
	}

	segmentID := newSegmentID()
	compressor, aead := e.compressorAndAEADFor(catTable)
	path := fmt.Sprintf("%s/%s-%016x.ros", e.rosDir, table, segmentID)
	if err := ros.WriteSegment(path, segmentID, uint32(catTable.SchemaVersion), []string{valueColumn}, rows, compressor, aead); err != nil {
		return err
	}

	e.rosMu.Lock()
	e.rosSegments[table] = append(e.rosSegments[table], rosSegmentMeta{
		Path:      path,
		SegmentID: segmentID,
		KeyMin:    rows[0].Key,
		KeyMax:    rows[len(rows)-1].Key,
	})
	e.rosMu.Unlock()
	return nil
}

func (e *Engine) compressorAndAEADFor(t *catalog.Table) (security.Compressor, security.AEAD) {
	var compressor security.Compressor
	switch t.Compression.Kind {
	case catalog.CompressionZstd:
		c, err := security.NewZstdCompressor(t.Compression.Level)
		if err != nil {
			compressor = security.NoneCompressor()
		} else {
			compressor = c
		}
	default:
		compressor = security.NoneCompressor()
	}

	var aead security.AEAD
	if t.Encryption.Kind != catalog.EncryptionNone && t.Encryption.KeyID != "" {
		// Key material resolution from KeyID is the host application's
		// responsibility (spec.md §1 "encryption primitives... external");
		// no AEAD is attached until a caller supplies one via a richer
		// key-management hook, a gap recorded in DESIGN.md.
		aead = nil
	}
	return compressor, aead
}

// engineGCRunner implements compaction.GCRunner: prunes Delta version
// chains below the current GC watermark across every table (spec.md
// §4.7 step 4). The scheduler only ticks this on a fixed interval
// (compaction.Scheduler's gcLoop), so it also piggybacks the periodic
// WOS-compaction and ROS-promotion enqueues here rather than leaving
// those triggers purely threshold-driven — neither WOS run-count nor
// "cold key range" tracking (spec.md §4.7's "WOS tier's internal size
// metrics", "cold_threshold_ts") is wired up elsewhere yet, so a
// bounded periodic sweep is the approximation used instead of leaving
// EnqueueWOSCompaction/EnqueueROSPromotion uncalled.
type engineGCRunner struct{ e *Engine }

func (g *engineGCRunner) RunGC() error {
	watermark := g.e.registry.Watermark()
	metrics.GCWatermark.Set(float64(watermark))
	for _, name := range g.e.catalog.List() {
		t, err := g.e.catalog.Get(name)
		if err != nil {
			continue
		}
		table := g.e.delta.Table(name, t.DeltaRowThreshold, t.DeltaByteThreshold)
		table.PruneFlushed(0, watermark)

		rows, bytes := table.Stats()
		metrics.DeltaRows.WithLabelValues(name).Set(float64(rows))
		metrics.DeltaBytes.WithLabelValues(name).Set(float64(bytes))
		metrics.ColumnarBytes.WithLabelValues(name).Set(float64(g.e.columnar.Table(name, []string{valueColumn}, int64(t.DeltaByteThreshold)*4).Bytes()))

		g.e.scheduler.EnqueueWOSCompaction(name)
		g.e.scheduler.EnqueueROSPromotion(name)
	}
	return nil
}

// engineWALTruncator implements compaction.WALTruncator. DBX's WAL
// already discards replay-irrelevant records on recovery via per-table
// flush watermarks (wal.Recover), so leaving sealed segments in place
// costs disk space and replay time, not correctness. Physically deleting
// them is left unimplemented (see DESIGN.md "Known gap") because a WAL
// partition is shared by every table hashed into it (wal.partitionIndex),
// so a segment can't be deleted just because one table's watermark has
// passed it — this is a deliberate no-op rather than an unsafe partial
// implementation.
type engineWALTruncator struct{ e *Engine }

func (w *engineWALTruncator) TruncateWAL() error {
	return nil
}
