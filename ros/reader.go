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

// Reader is an open, immutable segment file, decoded into memory
// (whole-segment in-memory decode is the teacher-idiom simplification
// documented in DESIGN.md). Segment size is not bounded: a promotion
// writes all of its rows into one segment, and ROSTargetSegmentBytes is
// not consulted.
type Reader struct {
	footer      *Footer
	bloom       *bloomfilter.Filter
	segmentID   uint64
	compressor  security.Compressor
	aead        security.AEAD
	schemaID    uint32

	keys      [][]byte
	commitTS  []mvcc.Timestamp
	tombstone []bool
	columns   map[string][][]byte
}

// OpenSegment reads and fully decodes the segment file at path.
func OpenSegment(path string, segmentID uint64, compressor security.Compressor, aead security.AEAD) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open ros segment: %v", errs.ErrIO, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read ros segment: %v", errs.ErrIO, err)
	}
	if len(data) < len(magic)*2+8 {
		return nil, fmt.Errorf("%w: ros segment too short", errs.ErrCorruption)
	}
	if !bytes.Equal(data[:4], magic[:]) || !bytes.Equal(data[len(data)-4:], magic[:]) {
		return nil, fmt.Errorf("%w: ros segment bad magic", errs.ErrCorruption)
	}
	footerOffset := binary.BigEndian.Uint64(data[len(data)-12 : len(data)-4])
	if footerOffset >= uint64(len(data)) {
		return nil, fmt.Errorf("%w: ros segment footer offset out of range", errs.ErrCorruption)
	}

	off := 4
	version := binary.BigEndian.Uint16(data[off:])
	off += 2
	if version != formatVersion {
		return nil, fmt.Errorf("%w: ros segment format version %d unsupported", errs.ErrCorruption, version)
	}
	schemaID := binary.BigEndian.Uint32(data[off:])
	off += 4
	bloomLen := binary.BigEndian.Uint32(data[off:])
	off += 4
	if off+int(bloomLen) > len(data) {
		return nil, fmt.Errorf("%w: ros segment bloom filter truncated", errs.ErrCorruption)
	}
	bloom := new(bloomfilter.Filter)
	if _, err := bloom.ReadFrom(bytes.NewReader(data[off : off+int(bloomLen)])); err != nil {
		return nil, fmt.Errorf("%w: decode bloom filter: %v", errs.ErrCorruption, err)
	}

	footer, err := readFooter(data[footerOffset : len(data)-12])
	if err != nil {
		return nil, err
	}

	r := &Reader{
		footer:     footer,
		bloom:      bloom,
		segmentID:  segmentID,
		compressor: compressor,
		aead:       aead,
		schemaID:   schemaID,
		columns:    make(map[string][][]byte),
	}

	for idx, c := range footer.Chunks {
		raw, err := r.decodeChunk(data, c, uint32(idx))
		if err != nil {
			return nil, err
		}
		switch c.Name {
		case chunkKey:
			r.keys, err = decodeByteChunk(raw, footer.RowCount)
		case chunkCommitTS:
			r.commitTS = decodeCommitTSChunk(raw, footer.RowCount)
		case chunkTombstone:
			r.tombstone = decodeTombstoneChunk(raw, footer.RowCount)
		default:
			var cells [][]byte
			cells, err = decodeByteChunk(raw, footer.RowCount)
			r.columns[c.Name] = cells
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Reader) decodeChunk(data []byte, c chunkMeta, chunkIndex uint32) ([]byte, error) {
	raw := data[c.Offset : c.Offset+c.Length]
	if r.aead != nil {
		nonce := security.ChunkNonce(r.segmentID, chunkIndex, r.aead.NonceSize())
		plain, err := r.aead.Open(nonce, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decrypt chunk %s: %v", errs.ErrCorruption, c.Name, err)
		}
		raw = plain
	}
	plain, err := r.compressor.Decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress chunk %s: %v", errs.ErrCorruption, c.Name, err)
	}
	return plain, nil
}

func decodeCommitTSChunk(raw []byte, count int) []mvcc.Timestamp {
	out := make([]mvcc.Timestamp, count)
	for i := 0; i < count; i++ {
		out[i] = mvcc.Timestamp(binary.BigEndian.Uint64(raw[i*8:]))
	}
	return out
}

func decodeTombstoneChunk(raw []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = raw[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

func readFooter(raw []byte) (*Footer, error) {
	buf := bytes.NewReader(raw)
	f := &Footer{}
	var err error
	if f.KeyMin, err = readBytesField(buf); err != nil {
		return nil, err
	}
	if f.KeyMax, err = readBytesField(buf); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.BigEndian, &f.CommitTSMin); err != nil {
		return nil, fmt.Errorf("%w: read footer commit_ts min: %v", errs.ErrCorruption, err)
	}
	if err := binary.Read(buf, binary.BigEndian, &f.CommitTSMax); err != nil {
		return nil, fmt.Errorf("%w: read footer commit_ts max: %v", errs.ErrCorruption, err)
	}
	var rowCount, chunkCount uint32
	if err := binary.Read(buf, binary.BigEndian, &rowCount); err != nil {
		return nil, fmt.Errorf("%w: read footer row count: %v", errs.ErrCorruption, err)
	}
	f.RowCount = int(rowCount)
	if err := binary.Read(buf, binary.BigEndian, &chunkCount); err != nil {
		return nil, fmt.Errorf("%w: read footer chunk count: %v", errs.ErrCorruption, err)
	}
	for i := uint32(0); i < chunkCount; i++ {
		var c chunkMeta
		nameBytes, err := readBytesField(buf)
		if err != nil {
			return nil, err
		}
		c.Name = string(nameBytes)
		if err := binary.Read(buf, binary.BigEndian, &c.Offset); err != nil {
			return nil, fmt.Errorf("%w: read footer chunk offset: %v", errs.ErrCorruption, err)
		}
		if err := binary.Read(buf, binary.BigEndian, &c.Length); err != nil {
			return nil, fmt.Errorf("%w: read footer chunk length: %v", errs.ErrCorruption, err)
		}
		if c.Min, err = readBytesField(buf); err != nil {
			return nil, err
		}
		if c.Max, err = readBytesField(buf); err != nil {
			return nil, err
		}
		f.Chunks = append(f.Chunks, c)
	}
	return f, nil
}

func readBytesField(buf *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: read footer field length: %v", errs.ErrCorruption, err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(buf, out); err != nil {
		return nil, fmt.Errorf("%w: read footer field: %v", errs.ErrCorruption, err)
	}
	return out, nil
}

// MayContain reports whether key could be present, using the segment's
// bloom filter to short-circuit a definite miss (spec.md §4.5 "using the
// bloom filter then binary search").
func (r *Reader) MayContain(key []byte) bool {
	return r.bloom.Contains(xxhash.Sum64(key))
}

// KeyRange returns the segment's min/max key, used to skip whole
// segments outside a scan's bounds before even checking the bloom filter.
func (r *Reader) KeyRange() (min, max []byte) {
	return r.footer.KeyMin, r.footer.KeyMax
}

// Get performs a point lookup: binary search over the sorted key chunk,
// then a linear scan forward over the matching run for the newest version
// at or below readTS
// (segments rarely carry more than one version per key after
// compaction, so this stays cheap in practice) — spec.md §4.5 "Point
// lookups check ROS last... then binary search within candidate
// segments".
func (r *Reader) Get(key []byte, readTS mvcc.Timestamp) (value []byte, tombstone bool, found bool) {
	if !r.MayContain(key) {
		return nil, false, false
	}
	idx := sort.Search(len(r.keys), func(i int) bool { return bytes.Compare(r.keys[i], key) >= 0 })
	// Versions of the same key are adjacent (compaction groups by key);
	// walk the matching run for the newest commit_ts <= readTS.
	var best = -1
	for i := idx; i < len(r.keys) && bytes.Equal(r.keys[i], key); i++ {
		if r.commitTS[i] <= readTS && (best == -1 || r.commitTS[i] > r.commitTS[best]) {
			best = i
		}
	}
	if best == -1 {
		return nil, false, false
	}
	if r.tombstone[best] {
		return nil, true, true
	}
	return r.valueAt(best), false, true
}

// NewestCommitAfter reports the newest commit_ts stored for key in this
// segment if it is strictly greater than after, for the transaction
// coordinator's cross-tier conflict check (spec.md §4.6 "Validation") —
// a promoted row's commit_ts is fixed at write time, so this is a plain
// max over the matching run rather than a readTS-bounded search.
func (r *Reader) NewestCommitAfter(key []byte, after mvcc.Timestamp) (mvcc.Timestamp, bool) {
	if !r.MayContain(key) {
		return 0, false
	}
	idx := sort.Search(len(r.keys), func(i int) bool { return bytes.Compare(r.keys[i], key) >= 0 })
	var best = -1
	for i := idx; i < len(r.keys) && bytes.Equal(r.keys[i], key); i++ {
		if best == -1 || r.commitTS[i] > r.commitTS[best] {
			best = i
		}
	}
	if best == -1 || r.commitTS[best] <= after {
		return 0, false
	}
	return r.commitTS[best], true
}

// valueAt returns the row's payload for the single-value KV path (Delta
// and WOS both model a row as one opaque value under the reserved
// "value" column name); multi-column tables should use Scan's
// projected ScanRow instead.
func (r *Reader) valueAt(i int) []byte {
	if cells, ok := r.columns["value"]; ok && i < len(cells) {
		return cells[i]
	}
	return nil
}

// ScanRow is one materialized record returned from Scan.
type ScanRow struct {
	Key       []byte
	CommitTS  mvcc.Timestamp
	Tombstone bool
	Columns   map[string][]byte
}

// Scan returns every row in [start, end) visible at readTS, newest
// version per key only (spec.md §4.5 "Scans project the needed columns
// and skip chunks by statistics" — column skipping is approximated here
// by only materializing the requested projection).
func (r *Reader) Scan(start, end []byte, readTS mvcc.Timestamp, projection []string) []ScanRow {
	var out []ScanRow
	startIdx := sort.Search(len(r.keys), func(i int) bool { return bytes.Compare(r.keys[i], start) >= 0 })
	var lastKey []byte
	for i := startIdx; i < len(r.keys); i++ {
		key := r.keys[i]
		if end != nil && bytes.Compare(key, end) >= 0 {
			break
		}
		if lastKey != nil && bytes.Equal(key, lastKey) {
			continue
		}
		if r.commitTS[i] > readTS {
			continue
		}
		lastKey = key
		cols := make(map[string][]byte)
		names := projection
		if len(names) == 0 {
			for name := range r.columns {
				names = append(names, name)
			}
		}
		for _, name := range names {
			if cells, ok := r.columns[name]; ok && i < len(cells) {
				cols[name] = cells[i]
			}
		}
		out = append(out, ScanRow{Key: key, CommitTS: r.commitTS[i], Tombstone: r.tombstone[i], Columns: cols})
	}
	return out
}

// RowCount returns the number of rows the segment was built from.
func (r *Reader) RowCount() int {
	return r.footer.RowCount
}
