// Package wal implements the Write-Ahead Log (spec.md §4.1).
//
// Generalized from bundoc's internal/wal package: the wire format keeps
// bundoc's length-prefix + CRC32 framing, but the record schema is
// rewritten against spec.md §6.3's literal layout
// `[u32 len][u64 lsn][u8 kind][u16 flags][bytes payload][u32 crc32]`, and
// the record kind set is narrowed to what DBX's commit protocol actually
// emits: unlike bundoc, which logs every Insert/Update/Delete plus
// separate Commit/Abort markers, DBX only ever appends to the WAL at
// commit time (spec.md §4.6 step 2, "write a single txn-commit WAL
// record containing all writes") — there is no per-statement record and
// no abort marker, because an aborted transaction never touched the WAL.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/kartikbazzad/dbx/errs"
)

// LSN is a Log Sequence Number: a monotonically increasing identifier of
// a WAL record, unique across every partition (spec.md §4.1
// "Partitioning").
type LSN uint64

// Kind identifies the payload shape of a Record (spec.md §3 "WAL record").
type Kind uint8

const (
	KindInvalid Kind = iota
	// KindTxnCommit carries every write of a committed transaction, tagged
	// with its commit_ts (spec.md §6.3).
	KindTxnCommit
	// KindFlushBegin marks the start of a Delta->WOS flush at stamp V
	// (spec.md §4.4 flush protocol step 2).
	KindFlushBegin
	// KindFlushCommit marks a flush at stamp V as durably applied to WOS
	// (spec.md §4.4 flush protocol step 4).
	KindFlushCommit
	// KindSchemaChange records a catalog schema mutation (spec.md §3).
	KindSchemaChange
)

func (k Kind) String() string {
	switch k {
	case KindTxnCommit:
		return "txn_commit"
	case KindFlushBegin:
		return "flush_begin"
	case KindFlushCommit:
		return "flush_commit"
	case KindSchemaChange:
		return "schema_change"
	default:
		return "invalid"
	}
}

// RecordHeaderSize is the fixed portion of the on-disk record, excluding
// the length prefix: LSN(8) + Kind(1) + Flags(2) + CRC32(4).
const RecordHeaderSize = 8 + 1 + 2 + 4

// Record is one WAL entry.
type Record struct {
	LSN     LSN
	Kind    Kind
	Flags   uint16
	Payload []byte
}

// Encode serializes r to the on-disk wire format: the returned slice does
// NOT include the leading 4-byte length prefix — the Segment writer adds
// that so Encode stays a pure function of the record.
func (r *Record) Encode() []byte {
	buf := make([]byte, RecordHeaderSize+len(r.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.LSN))
	buf[8] = byte(r.Kind)
	binary.LittleEndian.PutUint16(buf[9:11], r.Flags)
	copy(buf[11:11+len(r.Payload)], r.Payload)
	crc := crc32.ChecksumIEEE(buf[:11+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[11+len(r.Payload):], crc)
	return buf
}

// Decode parses the wire format produced by Encode (without its length
// prefix) and validates the CRC32 trailer. A CRC mismatch is reported as
// errs.ErrCorruption; callers scanning a segment tail treat that as
// recoverable (truncate), while a mismatch mid-segment is fatal
// (spec.md §4.1 "Failures").
func Decode(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize {
		return nil, fmt.Errorf("%w: record too short (%d bytes)", errs.ErrCorruption, len(data))
	}
	payloadLen := len(data) - RecordHeaderSize
	body := data[:11+payloadLen]
	expected := binary.LittleEndian.Uint32(data[11+payloadLen:])
	actual := crc32.ChecksumIEEE(body)
	if expected != actual {
		return nil, fmt.Errorf("%w: crc mismatch", errs.ErrCorruption)
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[11:11+payloadLen])
	return &Record{
		LSN:     LSN(binary.LittleEndian.Uint64(data[0:8])),
		Kind:    Kind(data[8]),
		Flags:   binary.LittleEndian.Uint16(data[9:11]),
		Payload: payload,
	}, nil
}

// Write describes one write within a committed transaction, as encoded in
// a KindTxnCommit payload (spec.md §6.3).
type Write struct {
	TableID   uint16
	Key       []byte
	Value     []byte // nil + Tombstone=true for a delete
	Tombstone bool
}

// EncodeTxnCommit builds the payload for a KindTxnCommit record:
// `[u64 commit_ts][u32 n_writes]` followed by per-write tuples
// `[u16 table_id][u32 key_len][key][u32 value_len|^0 for tombstone][value?]`
// (spec.md §6.3, literal).
func EncodeTxnCommit(commitTS uint64, writes []Write) []byte {
	size := 8 + 4
	for _, w := range writes {
		size += 2 + 4 + len(w.Key) + 4
		if !w.Tombstone {
			size += len(w.Value)
		}
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], commitTS)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(writes)))
	off += 4
	for _, w := range writes {
		binary.LittleEndian.PutUint16(buf[off:], w.TableID)
		off += 2
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(w.Key)))
		off += 4
		copy(buf[off:], w.Key)
		off += len(w.Key)
		if w.Tombstone {
			binary.LittleEndian.PutUint32(buf[off:], 0xFFFFFFFF)
			off += 4
			continue
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(w.Value)))
		off += 4
		copy(buf[off:], w.Value)
		off += len(w.Value)
	}
	return buf
}

// DecodeTxnCommit parses a KindTxnCommit payload back into its commit_ts
// and write set.
func DecodeTxnCommit(payload []byte) (commitTS uint64, writes []Write, err error) {
	if len(payload) < 12 {
		return 0, nil, fmt.Errorf("%w: txn-commit payload too short", errs.ErrCorruption)
	}
	off := 0
	commitTS = binary.LittleEndian.Uint64(payload[off:])
	off += 8
	n := binary.LittleEndian.Uint32(payload[off:])
	off += 4
	writes = make([]Write, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+2+4 > len(payload) {
			return 0, nil, fmt.Errorf("%w: txn-commit write header truncated", errs.ErrCorruption)
		}
		tableID := binary.LittleEndian.Uint16(payload[off:])
		off += 2
		keyLen := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		if off+int(keyLen) > len(payload) {
			return 0, nil, fmt.Errorf("%w: txn-commit key truncated", errs.ErrCorruption)
		}
		key := make([]byte, keyLen)
		copy(key, payload[off:off+int(keyLen)])
		off += int(keyLen)

		if off+4 > len(payload) {
			return 0, nil, fmt.Errorf("%w: txn-commit value header truncated", errs.ErrCorruption)
		}
		valueLen := binary.LittleEndian.Uint32(payload[off:])
		off += 4
		if valueLen == 0xFFFFFFFF {
			writes = append(writes, Write{TableID: tableID, Key: key, Tombstone: true})
			continue
		}
		if off+int(valueLen) > len(payload) {
			return 0, nil, fmt.Errorf("%w: txn-commit value truncated", errs.ErrCorruption)
		}
		value := make([]byte, valueLen)
		copy(value, payload[off:off+int(valueLen)])
		off += int(valueLen)
		writes = append(writes, Write{TableID: tableID, Key: key, Value: value})
	}
	return commitTS, writes, nil
}

// EncodeFlushMarker builds the payload for KindFlushBegin/KindFlushCommit:
// `[u16 table_id][u64 V]`.
func EncodeFlushMarker(tableID uint16, v uint64) []byte {
	buf := make([]byte, 10)
	binary.LittleEndian.PutUint16(buf[0:2], tableID)
	binary.LittleEndian.PutUint64(buf[2:10], v)
	return buf
}

// DecodeFlushMarker parses a flush marker payload.
func DecodeFlushMarker(payload []byte) (tableID uint16, v uint64, err error) {
	if len(payload) < 10 {
		return 0, 0, fmt.Errorf("%w: flush marker payload too short", errs.ErrCorruption)
	}
	return binary.LittleEndian.Uint16(payload[0:2]), binary.LittleEndian.Uint64(payload[2:10]), nil
}
