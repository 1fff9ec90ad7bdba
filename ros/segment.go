// Package ros implements the Read-Optimized Store (spec.md §4.5):
// immutable, key-range-partitioned columnar segment files produced only
// by compaction.
//
// There is no columnar segment format anywhere in bundoc (it is a
// row/JSON document store throughout), so the on-disk layout below is
// this repository's own design built strictly from SPEC_FULL.md §6.5's
// literal byte layout. The pieces inside each chunk — compression via
// security.Compressor, optional AEAD sealing via security.AEAD with a
// deterministic per-chunk nonce, and a bloom filter over keys — reuse
// the same packages bundoc's security.Encryptor and WOS's bloom filter
// already ground in the pack (github.com/klauspost/compress/zstd,
// golang.org/x/crypto/chacha20poly1305, github.com/holiman/bloomfilter/v2).
package ros

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/holiman/bloomfilter/v2"

	"github.com/kartikbazzad/dbx/errs"
	"github.com/kartikbazzad/dbx/mvcc"
	"github.com/kartikbazzad/dbx/security"
)

var magic = [4]byte{'D', 'B', 'X', 'R'}

const formatVersion uint16 = 1

// Row is one record written into a segment by the compaction pipeline,
// already fully materialized and sorted by key ascending (spec.md §4.7
// "ROS promotion").
type Row struct {
	Key       []byte
	CommitTS  mvcc.Timestamp
	Tombstone bool
	Columns   map[string][]byte
}

// The fixed, always-present chunks: key, commit_ts and tombstone are
// written in that order, ahead of the named column chunks (SPEC_FULL.md
// §6.5's layout).
const (
	chunkKey       = "__key__"
	chunkCommitTS  = "__commit_ts__"
	chunkTombstone = "__tombstone__"
)

type chunkMeta struct {
	Name   string
	Offset int64
	Length int64
	Min    []byte
	Max    []byte
}

// Footer records chunk locations and per-chunk min/max statistics.
// OpenSegment decodes every chunk, and neither Get nor Scan consults the
// statistics to skip one.
type Footer struct {
	Chunks        []chunkMeta
	KeyMin        []byte
	KeyMax        []byte
	CommitTSMin   uint64
	CommitTSMax   uint64
	RowCount      int
}

// WriteSegment builds one immutable segment file at path from rows
// (already sorted by Key), sealing each chunk with compressor and,
// if aead is non-nil, with aead as well (spec.md §4.5/§6.5).
func WriteSegment(path string, segmentID uint64, schemaID uint32, columnNames []string, rows []Row, compressor security.Compressor, aead security.AEAD) error {
	sorted := append([]string(nil), columnNames...)
	sort.Strings(sorted)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create ros segment: %v", errs.ErrIO, err)
	}
	defer f.Close()

	if _, err := f.Write(magic[:]); err != nil {
		return fmt.Errorf("%w: write magic: %v", errs.ErrIO, err)
	}
	if err := binary.Write(f, binary.BigEndian, formatVersion); err != nil {
		return fmt.Errorf("%w: write format version: %v", errs.ErrIO, err)
	}
	if err := binary.Write(f, binary.BigEndian, schemaID); err != nil {
		return fmt.Errorf("%w: write schema id: %v", errs.ErrIO, err)
	}

	bloom, err := bloomfilter.NewOptimal(uint64(len(rows))+16, 0.01)
	if err != nil {
		return fmt.Errorf("%w: build bloom filter: %v", errs.ErrIO, err)
	}
	for _, r := range rows {
		bloom.Add(xxhash.Sum64(r.Key))
	}
	var bloomBuf bytes.Buffer
	if _, err := bloom.WriteTo(&bloomBuf); err != nil {
		return fmt.Errorf("%w: serialize bloom filter: %v", errs.ErrIO, err)
	}
	if err := binary.Write(f, binary.BigEndian, uint32(bloomBuf.Len())); err != nil {
		return fmt.Errorf("%w: write bloom filter length: %v", errs.ErrIO, err)
	}
	if _, err := f.Write(bloomBuf.Bytes()); err != nil {
		return fmt.Errorf("%w: write bloom filter: %v", errs.ErrIO, err)
	}

	var offset int64
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("%w: tell ros segment: %v", errs.ErrIO, err)
	}
	offset = pos

	footer := &Footer{RowCount: len(rows)}
	if len(rows) > 0 {
		footer.KeyMin = rows[0].Key
		footer.KeyMax = rows[len(rows)-1].Key
	}

	chunkIndex := uint32(0)
	writeChunk := func(name string, raw []byte, minVal, maxVal []byte) error {
		compressed, err := compressor.Compress(raw)
		if err != nil {
			return fmt.Errorf("%w: compress chunk %s: %v", errs.ErrIO, name, err)
		}
		final := compressed
		if aead != nil {
			nonce := security.ChunkNonce(segmentID, chunkIndex, aead.NonceSize())
			final = aead.Seal(nonce, compressed)
		}
		n, err := f.Write(final)
		if err != nil {
			return fmt.Errorf("%w: write chunk %s: %v", errs.ErrIO, name, err)
		}
		footer.Chunks = append(footer.Chunks, chunkMeta{
			Name: name, Offset: offset, Length: int64(n), Min: minVal, Max: maxVal,
		})
		offset += int64(n)
		chunkIndex++
		return nil
	}

	if err := writeChunk(chunkKey, encodeByteChunk(collectKeys(rows)), footer.KeyMin, footer.KeyMax); err != nil {
		return err
	}

	commitTSRaw := make([]byte, len(rows)*8)
	var tsMin, tsMax uint64
	for i, r := range rows {
		binary.BigEndian.PutUint64(commitTSRaw[i*8:], uint64(r.CommitTS))
		if i == 0 || uint64(r.CommitTS) < tsMin {
			tsMin = uint64(r.CommitTS)
		}
		if uint64(r.CommitTS) > tsMax {
			tsMax = uint64(r.CommitTS)
		}
	}
	footer.CommitTSMin, footer.CommitTSMax = tsMin, tsMax
	if err := writeChunk(chunkCommitTS, commitTSRaw, nil, nil); err != nil {
		return err
	}

	tombstoneRaw := make([]byte, (len(rows)+7)/8)
	for i, r := range rows {
		if r.Tombstone {
			tombstoneRaw[i/8] |= 1 << uint(i%8)
		}
	}
	if err := writeChunk(chunkTombstone, tombstoneRaw, nil, nil); err != nil {
		return err
	}

	for _, name := range sorted {
		cells := make([][]byte, len(rows))
		for i, r := range rows {
			cells[i] = r.Columns[name]
		}
		min, max := minMaxBytes(cells)
		if err := writeChunk(name, encodeByteChunk(cells), min, max); err != nil {
			return err
		}
	}

	footerOffset := offset
	if err := writeFooter(f, footer); err != nil {
		return err
	}
	if err := binary.Write(f, binary.BigEndian, uint64(footerOffset)); err != nil {
		return fmt.Errorf("%w: write footer offset: %v", errs.ErrIO, err)
	}
	if _, err := f.Write(magic[:]); err != nil {
		return fmt.Errorf("%w: write trailing magic: %v", errs.ErrIO, err)
	}
	return nil
}

func collectKeys(rows []Row) [][]byte {
	out := make([][]byte, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}

func minMaxBytes(cells [][]byte) (min, max []byte) {
	for _, c := range cells {
		if min == nil || bytes.Compare(c, min) < 0 {
			min = c
		}
		if max == nil || bytes.Compare(c, max) > 0 {
			max = c
		}
	}
	return min, max
}

// encodeByteChunk concatenates length-prefixed (u32) values, one per row.
func encodeByteChunk(values [][]byte) []byte {
	size := 0
	for _, v := range values {
		size += 4 + len(v)
	}
	buf := make([]byte, size)
	off := 0
	for _, v := range values {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(v)))
		off += 4
		copy(buf[off:], v)
		off += len(v)
	}
	return buf
}

func decodeByteChunk(raw []byte, count int) ([][]byte, error) {
	out := make([][]byte, 0, count)
	off := 0
	for len(out) < count {
		if off+4 > len(raw) {
			return nil, fmt.Errorf("%w: byte chunk truncated", errs.ErrCorruption)
		}
		n := binary.BigEndian.Uint32(raw[off:])
		off += 4
		if off+int(n) > len(raw) {
			return nil, fmt.Errorf("%w: byte chunk value truncated", errs.ErrCorruption)
		}
		out = append(out, raw[off:off+int(n)])
		off += int(n)
	}
	return out, nil
}

func writeFooter(w io.Writer, f *Footer) error {
	var buf bytes.Buffer
	writeBytesField(&buf, f.KeyMin)
	writeBytesField(&buf, f.KeyMax)
	binary.Write(&buf, binary.BigEndian, f.CommitTSMin)
	binary.Write(&buf, binary.BigEndian, f.CommitTSMax)
	binary.Write(&buf, binary.BigEndian, uint32(f.RowCount))
	binary.Write(&buf, binary.BigEndian, uint32(len(f.Chunks)))
	for _, c := range f.Chunks {
		writeStringField(&buf, c.Name)
		binary.Write(&buf, binary.BigEndian, c.Offset)
		binary.Write(&buf, binary.BigEndian, c.Length)
		writeBytesField(&buf, c.Min)
		writeBytesField(&buf, c.Max)
	}
	_, err := w.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: write footer: %v", errs.ErrIO, err)
	}
	return nil
}

func writeBytesField(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func writeStringField(buf *bytes.Buffer, s string) {
	writeBytesField(buf, []byte(s))
}
