package dbx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/dbx/catalog"
	"github.com/kartikbazzad/dbx/mvcc"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.CreateTable("users", catalog.TableOptions{}))
	return e
}

func putCommit(t *testing.T, e *Engine, table string, key, value []byte) {
	t.Helper()
	tx, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Put(tx, table, key, value))
	require.NoError(t, e.Commit(tx))
}

func deleteCommit(t *testing.T, e *Engine, table string, key []byte) {
	t.Helper()
	tx, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, e.Delete(tx, table, key))
	require.NoError(t, e.Commit(tx))
}

func getValue(t *testing.T, e *Engine, table string, key []byte) []byte {
	t.Helper()
	tx, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	v, err := e.Get(tx, table, key)
	require.NoError(t, err)
	require.NoError(t, e.Rollback(tx))
	return v
}

// TestBasicCRUD exercises scenario S1 from spec.md §8.
func TestBasicCRUD(t *testing.T) {
	e := newTestEngine(t)

	putCommit(t, e, "users", []byte("u1"), []byte("Alice"))
	putCommit(t, e, "users", []byte("u2"), []byte("Bob"))

	require.Equal(t, []byte("Alice"), getValue(t, e, "users", []byte("u1")))

	deleteCommit(t, e, "users", []byte("u2"))
	require.Nil(t, getValue(t, e, "users", []byte("u2")))

	tx, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	count, err := e.Count(tx, "users", []byte{0x00}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, e.Rollback(tx))
}

// TestRoundTripAndTombstone exercises quantified invariants 3 and 4 from
// spec.md §8: put/commit/get round-trips the value, and delete/commit
// makes a subsequent get return none.
func TestRoundTripAndTombstone(t *testing.T) {
	e := newTestEngine(t)

	putCommit(t, e, "users", []byte("k"), []byte("v"))
	require.Equal(t, []byte("v"), getValue(t, e, "users", []byte("k")))

	deleteCommit(t, e, "users", []byte("k"))
	require.Nil(t, getValue(t, e, "users", []byte("k")))
}

// TestSnapshotIsolation exercises scenario S4: a transaction's reads are
// fixed to its read_ts and never observe writes committed after it began.
func TestSnapshotIsolation(t *testing.T) {
	e := newTestEngine(t)

	ta, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)

	putCommit(t, e, "users", []byte("x"), []byte("1"))

	v, err := e.Get(ta, "users", []byte("x"))
	require.NoError(t, err)
	require.Nil(t, v)

	putCommit(t, e, "users", []byte("y"), []byte("2"))
	require.NoError(t, e.Rollback(ta))

	tc, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	vx, err := e.Get(tc, "users", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), vx)
	vy, err := e.Get(tc, "users", []byte("y"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), vy)
	require.NoError(t, e.Rollback(tc))
}

// TestWriteWriteConflict exercises scenario S5: two transactions beginning
// at the same read_ts racing to write the same key must produce exactly
// one winner and one errs.ErrConflict.
func TestWriteWriteConflict(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateTable("t", catalog.TableOptions{}))

	ta, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	tb, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)

	require.NoError(t, e.Put(ta, "t", []byte("k"), []byte("from-a")))
	require.NoError(t, e.Put(tb, "t", []byte("k"), []byte("from-b")))

	require.NoError(t, e.Commit(ta))
	err = e.Commit(tb)
	require.Error(t, err)
}

// TestFlushPreservesVisibility exercises invariant 10 (tier coherence):
// a value written, then flushed from Delta into WOS, remains readable
// with the same result.
func TestFlushPreservesVisibility(t *testing.T) {
	e := newTestEngine(t)

	putCommit(t, e, "users", []byte("k1"), []byte("v1"))
	require.NoError(t, e.Flush("users"))
	require.Equal(t, []byte("v1"), getValue(t, e, "users", []byte("k1")))

	deleteCommit(t, e, "users", []byte("k1"))
	require.Nil(t, getValue(t, e, "users", []byte("k1")))
}

// TestPromoteToROSPreservesVisibility exercises invariant 10 across all
// three tiers: after a flush and a promotion to ROS, point reads and
// scans still see the promoted rows.
func TestPromoteToROSPreservesVisibility(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 10; i++ {
		putCommit(t, e, "users", []byte{byte('a' + i)}, []byte("v"))
	}
	require.NoError(t, e.Flush("users"))
	require.NoError(t, (&engineROSPromoter{e}).PromoteToROS("users"))

	require.Equal(t, []byte("v"), getValue(t, e, "users", []byte{'a'}))

	tx, err := e.Begin(mvcc.ReadCommitted)
	require.NoError(t, err)
	rows, err := e.Scan(tx, "users", []byte{0x00}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	require.NoError(t, e.Rollback(tx))
}
