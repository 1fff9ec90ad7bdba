package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTablePutGetVisibility(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	tbl.Put([]byte("k1"), []byte("v1"), 10)

	_, _, found := tbl.Get([]byte("k1"), 5)
	require.False(t, found, "write at ts=10 must not be visible to a reader at ts=5")

	value, tombstone, found := tbl.Get([]byte("k1"), 10)
	require.True(t, found)
	require.False(t, tombstone)
	require.Equal(t, []byte("v1"), value)
}

func TestTablePutOverwriteNewestWins(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	tbl.Put([]byte("k1"), []byte("v1"), 10)
	tbl.Put([]byte("k1"), []byte("v2"), 20)

	value, _, found := tbl.Get([]byte("k1"), 15)
	require.True(t, found)
	require.Equal(t, []byte("v1"), value)

	value, _, found = tbl.Get([]byte("k1"), 20)
	require.True(t, found)
	require.Equal(t, []byte("v2"), value)
}

func TestTableDeleteTombstone(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	tbl.Put([]byte("k1"), []byte("v1"), 10)
	tbl.Delete([]byte("k1"), 20)

	_, tombstone, found := tbl.Get([]byte("k1"), 20)
	require.True(t, found)
	require.True(t, tombstone)
}

func TestTableNeedsFlushRowThreshold(t *testing.T) {
	tbl := NewTable(2, 1<<30)
	require.False(t, tbl.NeedsFlush())
	tbl.Put([]byte("a"), []byte("1"), 1)
	require.False(t, tbl.NeedsFlush())
	tbl.Put([]byte("b"), []byte("2"), 2)
	require.True(t, tbl.NeedsFlush())
}

func TestTableSnapshotSortedAndFiltered(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	tbl.Put([]byte("b"), []byte("2"), 10)
	tbl.Put([]byte("a"), []byte("1"), 10)
	tbl.Put([]byte("c"), []byte("3"), 999) // not yet visible

	snap := tbl.Snapshot(10)
	require.Len(t, snap, 2)
	require.Equal(t, []byte("a"), snap[0].Key)
	require.Equal(t, []byte("b"), snap[1].Key)
}

func TestTableRangeBounds(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	for _, k := range []string{"a", "b", "c", "d"} {
		tbl.Put([]byte(k), []byte(k), 1)
	}
	rows := tbl.Range([]byte("b"), []byte("d"), 1)
	require.Len(t, rows, 2)
	require.Equal(t, []byte("b"), rows[0].Key)
	require.Equal(t, []byte("c"), rows[1].Key)
}

func TestTablePruneFlushedRemovesFullyDeadKeys(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	tbl.Put([]byte("k1"), []byte("v1"), 10)
	tbl.Delete([]byte("k1"), 20)

	tbl.PruneFlushed(20, 25)
	_, _, found := tbl.Get([]byte("k1"), 30)
	require.False(t, found)
}

func TestTablePruneFlushedRemovesLiveFlushedKeys(t *testing.T) {
	tbl := NewTable(1000, 1<<20)
	tbl.Put([]byte("k1"), []byte("v1"), 10)

	rows, bytes := tbl.Stats()
	require.Equal(t, 1, rows)
	require.True(t, bytes > 0)

	// No live snapshot predates the write, so the GC watermark already
	// covers it; once it's flushed up to ts 10, PruneFlushed must drop it
	// from Delta even though it was never deleted.
	tbl.PruneFlushed(10, 10)

	_, _, found := tbl.Get([]byte("k1"), 10)
	require.False(t, found, "a fully flushed live key must be dropped from Delta")

	rows, bytes = tbl.Stats()
	require.Equal(t, 0, rows)
	require.Equal(t, int64(0), bytes)
}

func TestStoreTableCreateIsIdempotent(t *testing.T) {
	s := NewStore()
	t1 := s.Table("orders", 100, 1<<20)
	t2 := s.Table("orders", 100, 1<<20)
	require.Same(t, t1, t2)
}

func TestStoreDrop(t *testing.T) {
	s := NewStore()
	orders := s.Table("orders", 100, 1<<20)
	orders.Put([]byte("k"), []byte("v"), 1)
	s.Drop("orders")
	fresh := s.Table("orders", 100, 1<<20)
	_, _, found := fresh.Get([]byte("k"), 1)
	require.False(t, found)
}
