package wos

import (
	"path/filepath"
	"testing"

	"github.com/kartikbazzad/dbx/delta"
	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "wos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIngestAndGetNewestVisibleVersion(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v10"), CommitTS: 10},
		{Key: []byte("k1"), Value: []byte("v20"), CommitTS: 20},
	}))

	value, tombstone, found, err := s.Get("orders", []byte("k1"), 15)
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, tombstone)
	require.Equal(t, []byte("v10"), value)

	value, _, found, err = s.Get("orders", []byte("k1"), 25)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v20"), value)
}

func TestGetBeforeEarliestVersionNotFound(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v10"), CommitTS: 10},
	}))

	_, _, found, err := s.Get("orders", []byte("k1"), 5)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetTombstone(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v10"), CommitTS: 10},
		{Key: []byte("k1"), CommitTS: 20, Tombstone: true},
	}))

	_, tombstone, found, err := s.Get("orders", []byte("k1"), 20)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, tombstone)
}

func TestGetMissingKeyNotFound(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureTable("orders"))
	_, _, found, err := s.Get("orders", []byte("nope"), 100)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRangeReturnsNewestPerKeyInOrder(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("a"), Value: []byte("a1"), CommitTS: 10},
		{Key: []byte("b"), Value: []byte("b1"), CommitTS: 10},
		{Key: []byte("b"), Value: []byte("b2"), CommitTS: 20},
		{Key: []byte("c"), Value: []byte("c1"), CommitTS: 10},
	}))

	rows, err := s.Range("orders", nil, nil, 20)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []byte("a"), rows[0].Key)
	require.Equal(t, []byte("b"), rows[1].Key)
	require.Equal(t, []byte("b2"), rows[1].Value)
	require.Equal(t, []byte("c"), rows[2].Key)
}

func TestRangeBounds(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("a"), Value: []byte("1"), CommitTS: 1},
		{Key: []byte("b"), Value: []byte("2"), CommitTS: 1},
		{Key: []byte("c"), Value: []byte("3"), CommitTS: 1},
	}))

	rows, err := s.Range("orders", []byte("b"), nil, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestPromoteAndClearSkipsKeyWhenNewestIsTooNew(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v10"), CommitTS: 10},
		{Key: []byte("k1"), Value: []byte("v20"), CommitTS: 20},
	}))

	entries, err := s.PromoteAndClear("orders", 15)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("k1"), entries[0].Key)
	require.Equal(t, []byte("v10"), entries[0].Value)
	require.Equal(t, mvcc.Timestamp(10), entries[0].CommitTS)

	// The version newer than uptoTS must survive in WOS untouched, not be
	// orphaned by the older version being promoted in its place.
	value, _, found, err := s.Get("orders", []byte("k1"), 20)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v20"), value)

	// The promoted version must actually be gone from WOS.
	_, _, found, err = s.Get("orders", []byte("k1"), 10)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPromoteAndClearPromotesNewestEligibleVersion(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v10"), CommitTS: 10},
		{Key: []byte("k1"), Value: []byte("v20"), CommitTS: 20},
	}))

	entries, err := s.PromoteAndClear("orders", 25)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("v20"), entries[0].Value)
	require.Equal(t, mvcc.Timestamp(20), entries[0].CommitTS)

	_, _, found, err := s.Get("orders", []byte("k1"), 25)
	require.NoError(t, err)
	require.False(t, found, "both versions of the key must be gone from WOS")
}

func TestNewestCommitAfterReportsNewestVersion(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v10"), CommitTS: 10},
		{Key: []byte("k1"), Value: []byte("v20"), CommitTS: 20},
	}))

	ts, found := s.NewestCommitAfter("orders", []byte("k1"), 15)
	require.True(t, found)
	require.Equal(t, mvcc.Timestamp(20), ts)

	_, found = s.NewestCommitAfter("orders", []byte("k1"), 20)
	require.False(t, found, "not a conflict when the newest version is not strictly after the bound")
}

func TestNewestCommitAfterMissingKeyNotFound(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureTable("orders"))
	_, found := s.NewestCommitAfter("orders", []byte("nope"), 0)
	require.False(t, found)
}

func TestDropTableRemovesBucket(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("a"), Value: []byte("1"), CommitTS: 1},
	}))
	require.NoError(t, s.DropTable("orders"))

	_, _, found, err := s.Get("orders", []byte("a"), 1)
	require.NoError(t, err)
	require.False(t, found)
}

func TestBloomFilterRebuildsOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wos.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.IngestBatch("orders", []delta.Entry{
		{Key: []byte("k1"), Value: []byte("v1"), CommitTS: 1},
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, _, found, err := reopened.Get("orders", []byte("k1"), 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v1"), value)
}
