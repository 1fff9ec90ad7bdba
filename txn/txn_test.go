package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/dbx/catalog"
	"github.com/kartikbazzad/dbx/delta"
	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/kartikbazzad/dbx/wal"
)

// deltaApplier adapts delta.Store to the Applier interface, applying a
// committed write set to Delta the way the engine facade's real Applier
// will (spec.md §4.6 step 4), without also mirroring into the Columnar
// Cache (irrelevant to the coordinator's own contract).
type deltaApplier struct {
	store  *delta.Store
	tables map[string]*delta.Table
}

func (a *deltaApplier) Apply(commitTS mvcc.Timestamp, writes []Write) error {
	for _, w := range writes {
		t := a.tables[w.Table]
		if w.Tombstone {
			t.Delete(w.Key, commitTS)
			continue
		}
		t.Put(w.Key, w.Value, commitTS)
	}
	return nil
}

func newTestManager(t *testing.T) (*Manager, *delta.Store) {
	t.Helper()
	dir := t.TempDir()
	walWriter, err := wal.Open(dir, wal.DurabilityNone)
	require.NoError(t, err)
	t.Cleanup(func() { walWriter.Close() })

	cat, err := catalog.Open("")
	require.NoError(t, err)
	_, err = cat.CreateTable("orders", catalog.TableOptions{})
	require.NoError(t, err)
	_, err = cat.CreateTable("customers", catalog.TableOptions{})
	require.NoError(t, err)

	store := delta.NewStore()
	ordersTable := store.Table("orders", 10_000, 8<<20)
	customersTable := store.Table("customers", 10_000, 8<<20)

	applier := &deltaApplier{store: store, tables: map[string]*delta.Table{
		"orders":    ordersTable,
		"customers": customersTable,
	}}

	clock := mvcc.NewClock(0)
	registry := mvcc.NewRegistry(clock)
	m := NewManager(clock, registry, walWriter, store, applier, store, cat, wal.DurabilityNone)
	return m, store
}

func TestBeginCommit(t *testing.T) {
	m, store := newTestManager(t)

	txn, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NotZero(t, txn.ID)
	require.Equal(t, StatusActive, txn.Status)

	require.NoError(t, m.Write(txn, "orders", []byte("k1"), []byte("v1")))
	require.NoError(t, m.Write(txn, "orders", []byte("k2"), []byte("v2")))
	require.Len(t, txn.WriteSet, 2)

	require.NoError(t, m.Commit(txn))
	require.Equal(t, StatusCommitted, txn.Status)
	require.Equal(t, 0, m.GetActiveTransactionCount())

	v, tomb, found := store.Get("orders", []byte("k1"), txn.CommitTS)
	require.True(t, found)
	require.False(t, tomb)
	require.Equal(t, []byte("v1"), v)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	m, store := newTestManager(t)

	txn, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, m.Write(txn, "orders", []byte("k1"), []byte("v1")))
	require.NoError(t, m.Rollback(txn))
	require.Equal(t, StatusAborted, txn.Status)

	_, _, found := store.Get("orders", []byte("k1"), mvcc.Timestamp(^uint64(0)))
	require.False(t, found)
}

func TestReadOwnWrites(t *testing.T) {
	m, _ := newTestManager(t)

	txn, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, m.Write(txn, "orders", []byte("k1"), []byte("v1")))

	value, err := m.Read(txn, "orders", []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	require.NoError(t, m.Rollback(txn))
}

func TestWriteWriteConflictAborts(t *testing.T) {
	m, _ := newTestManager(t)

	seed, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, m.Write(seed, "orders", []byte("k1"), []byte("seed")))
	require.NoError(t, m.Commit(seed))

	txnA, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)

	txnB, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)

	require.NoError(t, m.Write(txnA, "orders", []byte("k1"), []byte("a")))
	require.NoError(t, m.Commit(txnA))

	require.NoError(t, m.Write(txnB, "orders", []byte("k1"), []byte("b")))
	err = m.Commit(txnB)
	require.Error(t, err)
	require.Equal(t, StatusAborted, txnB.Status)
}

func TestIsolationLevelsPropagate(t *testing.T) {
	m, _ := newTestManager(t)

	levels := []mvcc.IsolationLevel{
		mvcc.ReadUncommitted,
		mvcc.ReadCommitted,
		mvcc.RepeatableRead,
		mvcc.Serializable,
	}
	for _, level := range levels {
		txn, err := m.Begin(level)
		require.NoError(t, err)
		require.Equal(t, level, txn.IsolationLevel)
		require.NoError(t, m.Rollback(txn))
	}
}

func TestConcurrentTransactionsAllCommit(t *testing.T) {
	m, _ := newTestManager(t)

	const n = 10
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			txn, err := m.Begin(mvcc.ReadCommitted)
			if err != nil {
				done <- err
				return
			}
			key := []byte{byte('a' + i)}
			if err := m.Write(txn, "customers", key, []byte("value")); err != nil {
				done <- err
				return
			}
			time.Sleep(time.Millisecond)
			done <- m.Commit(txn)
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}
	require.Equal(t, 0, m.GetActiveTransactionCount())
}

func TestCommitOnInactiveTransactionFails(t *testing.T) {
	m, _ := newTestManager(t)

	txn, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, m.Commit(txn))

	err = m.Commit(txn)
	require.Error(t, err)
}

func TestMultiTableCommitAppliesEveryTable(t *testing.T) {
	m, store := newTestManager(t)

	txn, err := m.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, m.Write(txn, "orders", []byte("o1"), []byte("order")))
	require.NoError(t, m.Write(txn, "customers", []byte("c1"), []byte("customer")))
	require.NoError(t, m.Commit(txn))

	_, _, found := store.Get("orders", []byte("o1"), txn.CommitTS)
	require.True(t, found)
	_, _, found = store.Get("customers", []byte("c1"), txn.CommitTS)
	require.True(t, found)
}
