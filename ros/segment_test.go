package ros

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/kartikbazzad/dbx/security"
)

func sampleRows() []Row {
	return []Row{
		{Key: []byte("k1"), CommitTS: 10, Columns: map[string][]byte{"value": []byte("v1")}},
		{Key: []byte("k2"), CommitTS: 20, Columns: map[string][]byte{"value": []byte("v2")}},
		{Key: []byte("k3"), CommitTS: 30, Tombstone: true, Columns: map[string][]byte{"value": nil}},
	}
}

func TestWriteReadSegmentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0001.ros")
	rows := sampleRows()
	err := WriteSegment(path, 1, 7, []string{"value"}, rows, security.NoneCompressor(), nil)
	require.NoError(t, err)

	r, err := OpenSegment(path, 1, security.NoneCompressor(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, r.RowCount())

	v, tomb, found := r.Get([]byte("k1"), 100)
	require.True(t, found)
	require.False(t, tomb)
	require.Equal(t, []byte("v1"), v)

	v, tomb, found = r.Get([]byte("k2"), 100)
	require.True(t, found)
	require.False(t, tomb)
	require.Equal(t, []byte("v2"), v)

	_, tomb, found = r.Get([]byte("k3"), 100)
	require.True(t, found)
	require.True(t, tomb)
}

func TestGetRespectsReadTS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0002.ros")
	rows := sampleRows()
	require.NoError(t, WriteSegment(path, 2, 1, []string{"value"}, rows, security.NoneCompressor(), nil))

	r, err := OpenSegment(path, 2, security.NoneCompressor(), nil)
	require.NoError(t, err)

	_, _, found := r.Get([]byte("k2"), 15)
	require.False(t, found)

	_, _, found = r.Get([]byte("k2"), 20)
	require.True(t, found)
}

func TestMayContainRejectsAbsentKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0003.ros")
	rows := sampleRows()
	require.NoError(t, WriteSegment(path, 3, 1, []string{"value"}, rows, security.NoneCompressor(), nil))

	r, err := OpenSegment(path, 3, security.NoneCompressor(), nil)
	require.NoError(t, err)

	require.True(t, r.MayContain([]byte("k1")))
	require.False(t, r.MayContain([]byte("definitely-not-present-key")))

	_, _, found := r.Get([]byte("definitely-not-present-key"), 100)
	require.False(t, found)
}

func TestKeyRangeMatchesSortedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0004.ros")
	rows := sampleRows()
	require.NoError(t, WriteSegment(path, 4, 1, []string{"value"}, rows, security.NoneCompressor(), nil))

	r, err := OpenSegment(path, 4, security.NoneCompressor(), nil)
	require.NoError(t, err)

	min, max := r.KeyRange()
	require.Equal(t, []byte("k1"), min)
	require.Equal(t, []byte("k3"), max)
}

func TestScanReturnsVisibleRowsInRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0005.ros")
	rows := sampleRows()
	require.NoError(t, WriteSegment(path, 5, 1, []string{"value"}, rows, security.NoneCompressor(), nil))

	r, err := OpenSegment(path, 5, security.NoneCompressor(), nil)
	require.NoError(t, err)

	out := r.Scan([]byte("k1"), []byte("k3"), mvcc.Timestamp(100), []string{"value"})
	require.Len(t, out, 2)
	require.Equal(t, []byte("k1"), out[0].Key)
	require.Equal(t, []byte("k2"), out[1].Key)

	out = r.Scan(nil, nil, mvcc.Timestamp(15), []string{"value"})
	require.Len(t, out, 1)
	require.Equal(t, []byte("k1"), out[0].Key)
}

func TestWriteSegmentWithCompressionAndAEADRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0006.ros")
	rows := sampleRows()

	comp, err := security.NewZstdCompressor(0)
	require.NoError(t, err)
	key, err := security.GenerateKey()
	require.NoError(t, err)
	aead, err := security.NewAESGCM(key)
	require.NoError(t, err)

	require.NoError(t, WriteSegment(path, 6, 1, []string{"value"}, rows, comp, aead))

	comp2, err := security.NewZstdCompressor(0)
	require.NoError(t, err)
	aead2, err := security.NewAESGCM(key)
	require.NoError(t, err)

	r, err := OpenSegment(path, 6, comp2, aead2)
	require.NoError(t, err)

	v, _, found := r.Get([]byte("k1"), 100)
	require.True(t, found)
	require.Equal(t, []byte("v1"), v)
}

func TestOpenSegmentRejectsWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg-0007.ros")
	rows := sampleRows()

	key, err := security.GenerateKey()
	require.NoError(t, err)
	aead, err := security.NewAESGCM(key)
	require.NoError(t, err)
	require.NoError(t, WriteSegment(path, 7, 1, []string{"value"}, rows, security.NoneCompressor(), aead))

	wrongKey, err := security.GenerateKey()
	require.NoError(t, err)
	wrongAEAD, err := security.NewAESGCM(wrongKey)
	require.NoError(t, err)

	_, err = OpenSegment(path, 7, security.NoneCompressor(), wrongAEAD)
	require.Error(t, err)
}
