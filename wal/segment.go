package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/dbx/errs"
)

// SegmentID identifies a WAL segment file within one partition.
type SegmentID uint64

// DefaultSegmentBytes is the default segment roll threshold (spec.md §4.1:
// "a segment file rolls when it exceeds a fixed threshold (e.g., 64 MiB)").
const DefaultSegmentBytes = 64 << 20

// Segment is a single append-only WAL file within one partition.
// Grounded on bundoc's internal/wal.Segment, trimmed to the length-prefix
// + CRC32 framing shared with record.go.
type Segment struct {
	mu      sync.Mutex
	id      SegmentID
	file    *os.File
	size    int64
	maxSize int64
}

func segmentPath(dir string, id SegmentID) string {
	return filepath.Join(dir, fmt.Sprintf("seg-%016x.log", id))
}

// CreateSegment creates a new, empty segment file.
func CreateSegment(dir string, id SegmentID) (*Segment, error) {
	f, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create wal segment: %v", errs.ErrIO, err)
	}
	return &Segment{id: id, file: f, maxSize: DefaultSegmentBytes}, nil
}

// OpenSegment opens an existing segment file for append + read (replay).
func OpenSegment(dir string, id SegmentID) (*Segment, error) {
	f, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal segment: %v", errs.ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat wal segment: %v", errs.ErrIO, err)
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek wal segment: %v", errs.ErrIO, err)
	}
	return &Segment{id: id, file: f, size: info.Size(), maxSize: DefaultSegmentBytes}, nil
}

// Append writes rec to the segment, preceded by its 4-byte length prefix.
// The caller must have already assigned rec.LSN.
func (s *Segment) Append(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded := rec.Encode()
	frame := make([]byte, 4+len(encoded))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(encoded)))
	copy(frame[4:], encoded)

	if _, err := s.file.Write(frame); err != nil {
		return fmt.Errorf("%w: append wal record: %v", errs.ErrIO, err)
	}
	s.size += int64(len(frame))
	return nil
}

// Sync fsyncs the segment file (spec.md §4.1 durability levels).
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync wal segment: %v", errs.ErrIO, err)
	}
	return nil
}

// Full reports whether the segment has reached DefaultSegmentBytes.
func (s *Segment) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size >= s.maxSize
}

// Close syncs and closes the segment file.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadAll reads every well-formed record from the segment in file order.
// A corrupt (short or bad-length) tail frame is reported via truncatedAt,
// the byte offset at which the caller should truncate the file
// (spec.md §4.1: "corrupt tail records... are truncated"). A CRC failure
// on a record that is NOT the last one in the file is returned as a fatal
// errs.ErrCorruption, since that signals silent corruption rather than a
// torn write.
func (s *Segment) ReadAll() (records []*Record, truncatedAt int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, 0, fmt.Errorf("%w: seek wal segment: %v", errs.ErrIO, err)
	}

	var offset int64
	lenBuf := make([]byte, 4)
	for {
		n, rerr := readFull(s.file, lenBuf)
		if rerr != nil || n < 4 {
			// Clean EOF or a torn length prefix: both end replay here.
			return records, offset, nil
		}
		frameLen := binary.LittleEndian.Uint32(lenBuf)
		if frameLen == 0 || frameLen > 64<<20 {
			return records, offset, nil
		}
		data := make([]byte, frameLen)
		n, rerr = readFull(s.file, data)
		if rerr != nil || n != int(frameLen) {
			// Torn record at the tail: recoverable truncation point.
			return records, offset, nil
		}

		rec, derr := Decode(data)
		if derr != nil {
			// Peek ahead: if this is the last bytes in the file, it's a
			// torn/corrupt tail write and recoverable by truncation. If
			// there is more data after it, it's mid-segment corruption.
			pos, _ := s.file.Seek(0, 1)
			info, statErr := s.file.Stat()
			if statErr == nil && pos >= info.Size() {
				return records, offset, nil
			}
			return nil, 0, fmt.Errorf("%w: wal record at offset %d: %v", errs.ErrCorruption, offset, derr)
		}

		records = append(records, rec)
		offset += int64(4 + frameLen)
	}
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
	return total, nil
}

// Truncate truncates the segment file to size bytes, used to drop a
// corrupt tail found by ReadAll.
func (s *Segment) Truncate(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate wal segment: %v", errs.ErrIO, err)
	}
	if _, err := s.file.Seek(size, 0); err != nil {
		return fmt.Errorf("%w: seek wal segment: %v", errs.ErrIO, err)
	}
	s.size = size
	return nil
}

// Remove closes and deletes the segment file (spec.md §4.7 "WAL
// truncation").
func (s *Segment) Remove(dir string) error {
	s.Close()
	return os.Remove(segmentPath(dir, s.id))
}
