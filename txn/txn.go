// Package txn implements the Transaction Coordinator (spec.md §4.6):
// timestamp allocation, per-transaction write sets, snapshot-isolation
// validation, and atomic apply-on-commit.
//
// Only bundoc's internal/transaction/manager_test.go survived retrieval
// for this component — its manager.go implementation was not present in
// the pack. Manager is written fresh against that test file's contract
// (NewTransactionManager(sm, walWriter), Begin(level), Write/Read/Commit/
// Rollback, GetActiveTransactionCount, Close, Transaction{ID, Status,
// WriteSet, IsolationLevel}, StatusActive/StatusCommitted/StatusAborted)
// and against spec.md §4.6's fuller state machine and validation rules.
//
// bundoc's mvcc.Snapshot conflates a transaction's identity with its
// MaxTxnID, comparing versions by TxnID rather than commit_ts — two
// transactions that begin concurrently can be assigned TxnIDs out of
// commit order, which breaks the "commit_ts values are unique and
// totally ordered" guarantee spec.md §4.6 requires. Manager keeps
// TxnID and commit_ts as two distinct counters (TxnID from the Manager's
// own atomic counter; read_ts and commit_ts from the shared mvcc.Clock,
// per spec.md §4.6 "a single monotonic 64-bit counter") so
// read_ts/commit_ts ordering never depends on transaction identity.
package txn

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kartikbazzad/dbx/errs"
	"github.com/kartikbazzad/dbx/internal/metrics"
	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/kartikbazzad/dbx/wal"
)

// Status is a transaction's position in spec.md §4.6's state machine:
// active -> committing -> committed | aborted, or active -> aborted.
type Status int

const (
	StatusActive Status = iota
	StatusCommitting
	StatusCommitted
	StatusAborted
)

// Write is one pending mutation in a transaction's write set, keyed by
// (Table, Key) with last-writer-wins semantics within the transaction
// (spec.md §4.6 "Write set").
type Write struct {
	Table     string
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Transaction is one in-flight or completed unit of work.
type Transaction struct {
	ID             uint64
	ReadTS         mvcc.Timestamp
	CommitTS       mvcc.Timestamp
	IsolationLevel mvcc.IsolationLevel
	Status         Status
	WriteSet       []Write

	mu         sync.Mutex
	snapshotID mvcc.SnapshotID
	writeIndex map[string]int
}

func writeSetKey(table string, key []byte) string {
	return table + "\x00" + string(key)
}

// peek returns the transaction's own pending write for (table, key), for
// read-your-own-writes (spec.md §4.6 implicit; bundoc's
// TestReadOwnWrites).
func (t *Transaction) peek(table string, key []byte) (Write, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.writeIndex[writeSetKey(table, key)]
	if !ok {
		return Write{}, false
	}
	return t.WriteSet[idx], true
}

// ConflictChecker reports the newest commit_ts strictly after `after` for
// (table, key), used by Manager.Commit's write-write conflict validation
// (spec.md §4.6 "Validation"). delta.Store satisfies this directly
// (delta.Table.Version chains already expose
// mvcc.Version.NewestCommitAfter); the engine facade passes a wrapper
// that also consults WOS and ROS.
type ConflictChecker interface {
	NewestCommitAfter(table string, key []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool)
}

// Applier atomically applies a committed write set, tagged with a single
// commit_ts, to every tier that must stay coherent at that version stamp
// (Delta Store and, for mirrored tables, the Columnar Cache) — spec.md
// §4.6 step 4 "apply to Delta (and Columnar Cache) in one atomic batch".
type Applier interface {
	Apply(commitTS mvcc.Timestamp, writes []Write) error
}

// Reader resolves a value visible at readTS for reads not satisfied by a
// transaction's own write set.
type Reader interface {
	Get(table string, key []byte, readTS mvcc.Timestamp) (value []byte, tombstone bool, found bool)
}

// TableIDResolver maps a table name to the stable numeric ID the WAL wire
// format requires (spec.md §6.3); catalog.Catalog satisfies this.
type TableIDResolver interface {
	TableID(name string) (uint16, bool)
}

const validationStripes = 256

// Manager is the Transaction Coordinator: it owns timestamp allocation,
// the set of active transactions, and the commit/rollback protocol.
// Grounded on bundoc's NewTransactionManager(sm, walWriter) constructor
// shape, generalized to take the storage-facing dependencies as
// interfaces rather than bundoc's concrete mvcc.SnapshotManager, so the
// engine facade can wire in delta.Store/columnar.Store without txn
// importing either package.
type Manager struct {
	clock      *mvcc.Clock
	registry   *mvcc.Registry
	walWriter  *wal.WAL
	checker    ConflictChecker
	applier    Applier
	reader     Reader
	resolver   TableIDResolver
	durability wal.Durability

	nextTxnID atomic.Uint64

	mu     sync.Mutex
	active map[uint64]*Transaction

	stripes [validationStripes]sync.Mutex
}

// NewManager builds a Transaction Coordinator. durability controls
// whether Commit fsyncs the WAL inline (wal.DurabilityFull) or leaves
// fsync to the WAL's own background/none policy.
func NewManager(clock *mvcc.Clock, registry *mvcc.Registry, walWriter *wal.WAL, checker ConflictChecker, applier Applier, reader Reader, resolver TableIDResolver, durability wal.Durability) *Manager {
	return &Manager{
		clock:      clock,
		registry:   registry,
		walWriter:  walWriter,
		checker:    checker,
		applier:    applier,
		reader:     reader,
		resolver:   resolver,
		durability: durability,
		active:     make(map[uint64]*Transaction),
	}
}

// Begin starts a new transaction at the current read_ts (spec.md §4.6
// "begin() reads the counter to produce read_ts") and registers a
// snapshot so the GC watermark accounts for it until Commit or Rollback.
func (m *Manager) Begin(level mvcc.IsolationLevel) (*Transaction, error) {
	readTS := m.clock.Current()
	snapID := m.registry.Acquire(readTS)
	txn := &Transaction{
		ID:             m.nextTxnID.Add(1),
		ReadTS:         readTS,
		IsolationLevel: level,
		Status:         StatusActive,
		snapshotID:     snapID,
		writeIndex:     make(map[string]int),
	}
	m.mu.Lock()
	m.active[txn.ID] = txn
	m.mu.Unlock()
	return txn, nil
}

// Write stages a put in txn's write set (last-writer-wins per (table,
// key) within the transaction).
func (m *Manager) Write(txn *Transaction, table string, key, value []byte) error {
	return m.stage(txn, table, key, value, false)
}

// Delete stages a tombstone in txn's write set.
func (m *Manager) Delete(txn *Transaction, table string, key []byte) error {
	return m.stage(txn, table, key, nil, true)
}

func (m *Manager) stage(txn *Transaction, table string, key, value []byte, tombstone bool) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.Status != StatusActive {
		return fmt.Errorf("%w: transaction %d is not active", errs.ErrInvalidTxState, txn.ID)
	}
	w := Write{Table: table, Key: append([]byte(nil), key...), Value: value, Tombstone: tombstone}
	k := writeSetKey(table, key)
	if idx, ok := txn.writeIndex[k]; ok {
		txn.WriteSet[idx] = w
		return nil
	}
	txn.writeIndex[k] = len(txn.WriteSet)
	txn.WriteSet = append(txn.WriteSet, w)
	return nil
}

// Read resolves key under table as txn would see it: its own pending
// write if any (read-your-own-writes), otherwise the newest committed
// version visible at txn.ReadTS via the configured Reader.
func (m *Manager) Read(txn *Transaction, table string, key []byte) ([]byte, error) {
	if w, ok := txn.peek(table, key); ok {
		if w.Tombstone {
			return nil, nil
		}
		return w.Value, nil
	}
	value, tombstone, found := m.reader.Get(table, key, txn.ReadTS)
	if !found || tombstone {
		return nil, nil
	}
	return value, nil
}

// Commit validates and applies txn (spec.md §4.6 "Apply order on
// commit"). A write-write conflict aborts the transaction and returns
// errs.ErrConflict.
func (m *Manager) Commit(txn *Transaction) error {
	start := time.Now()
	outcome := "committed"
	defer func() {
		metrics.TxnCommitsTotal.WithLabelValues(outcome).Inc()
		metrics.TxnCommitDuration.Observe(time.Since(start).Seconds())
	}()

	txn.mu.Lock()
	if txn.Status != StatusActive {
		txn.mu.Unlock()
		outcome = "invalid_state"
		return fmt.Errorf("%w: transaction %d is not active", errs.ErrInvalidTxState, txn.ID)
	}
	txn.Status = StatusCommitting
	writes := append([]Write(nil), txn.WriteSet...)
	txn.mu.Unlock()

	if len(writes) == 0 {
		return m.finish(txn, StatusCommitted)
	}

	unlock := m.lockStripesFor(writes)
	defer unlock()

	for _, w := range writes {
		if newer, found := m.checker.NewestCommitAfter(w.Table, w.Key, txn.ReadTS); found {
			_ = newer
			m.finish(txn, StatusAborted)
			outcome = "conflict"
			return fmt.Errorf("%w: transaction %d conflicts on table %q key %q", errs.ErrConflict, txn.ID, w.Table, w.Key)
		}
	}

	commitTS := m.clock.Next()
	txn.mu.Lock()
	txn.CommitTS = commitTS
	txn.mu.Unlock()

	if err := m.appendCommitRecord(commitTS, writes); err != nil {
		m.finish(txn, StatusAborted)
		outcome = "wal_error"
		return err
	}

	if err := m.applier.Apply(commitTS, writes); err != nil {
		m.finish(txn, StatusAborted)
		outcome = "apply_error"
		return err
	}

	return m.finish(txn, StatusCommitted)
}

// appendCommitRecord writes spec.md §4.6 step 2's single txn-commit WAL
// record covering every write, tagged with commitTS, and fsyncs it per
// the coordinator's configured durability (step 3). Multi-table
// transactions route the one record through the partition owned by the
// first write's table — partitioning only needs to distribute load
// across tables, not guarantee per-table physical locality for every
// record.
func (m *Manager) appendCommitRecord(commitTS mvcc.Timestamp, writes []Write) error {
	walWrites := make([]wal.Write, 0, len(writes))
	for _, w := range writes {
		tableID, ok := m.resolver.TableID(w.Table)
		if !ok {
			return fmt.Errorf("%w: table %q", errs.ErrNotFound, w.Table)
		}
		walWrites = append(walWrites, wal.Write{
			TableID:   tableID,
			Key:       w.Key,
			Value:     w.Value,
			Tombstone: w.Tombstone,
		})
	}
	payload := wal.EncodeTxnCommit(uint64(commitTS), walWrites)
	routingTable := writes[0].Table
	if _, err := m.walWriter.Append(routingTable, wal.KindTxnCommit, 0, payload); err != nil {
		return err
	}
	if m.durability == wal.DurabilityFull {
		if err := m.walWriter.SyncTable(routingTable); err != nil {
			return err
		}
	}
	return nil
}

// Rollback aborts txn, discarding its write set.
func (m *Manager) Rollback(txn *Transaction) error {
	txn.mu.Lock()
	if txn.Status != StatusActive && txn.Status != StatusCommitting {
		txn.mu.Unlock()
		return fmt.Errorf("%w: transaction %d is not active", errs.ErrInvalidTxState, txn.ID)
	}
	txn.mu.Unlock()
	return m.finish(txn, StatusAborted)
}

func (m *Manager) finish(txn *Transaction, status Status) error {
	txn.mu.Lock()
	txn.Status = status
	txn.mu.Unlock()

	m.registry.Release(txn.snapshotID)
	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()
	return nil
}

// GetActiveTransactionCount reports how many transactions are currently
// active or committing.
func (m *Manager) GetActiveTransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close waits for nothing (the coordinator holds no background
// goroutines of its own) and exists to mirror bundoc's
// NewTransactionManager/Close pairing so callers can defer it uniformly
// alongside wal.WAL.Close.
func (m *Manager) Close() error {
	return nil
}

// stripeIndex picks a validation mutex for (table, key), reusing the same
// xxhash-based hashing wal and delta already ground their sharding on.
func stripeIndex(table string, key []byte) int {
	d := xxhash.New()
	d.WriteString(table)
	d.Write([]byte{0})
	d.Write(key)
	return int(d.Sum64() % validationStripes)
}

// lockStripesFor locks every striped validation mutex touched by writes,
// in a fixed global order (ascending stripe index) so concurrent commits
// can never deadlock against each other.
func (m *Manager) lockStripesFor(writes []Write) func() {
	seen := make(map[int]bool, len(writes))
	var idxs []int
	for _, w := range writes {
		idx := stripeIndex(w.Table, w.Key)
		if !seen[idx] {
			seen[idx] = true
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		m.stripes[idx].Lock()
	}
	return func() {
		for i := len(idxs) - 1; i >= 0; i-- {
			m.stripes[idxs[i]].Unlock()
		}
	}
}

// sortWritesByKey sorts writes by table, then by key.
func sortWritesByKey(writes []Write) {
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].Table != writes[j].Table {
			return writes[i].Table < writes[j].Table
		}
		return bytes.Compare(writes[i].Key, writes[j].Key) < 0
	})
}
