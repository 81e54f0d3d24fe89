// Package wal implements the per-collection write-ahead log of §4.E: a
// binary framed append-only file, checkpoint/snapshot compaction, and replay
// on startup. This keeps the teacher's sync.Mutex-guarded bufio.Writer plus
// background-ticker-fsync idiom of pkg/storage/wal.go, but swaps its
// JSON-encoded, length-implicit WALEntry framing for the bit-exact binary
// record layout and real CRC32C (Castagnoli) checksum the collection format
// requires.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/orneryd/vdb/pkg/vdberr"
)

// OpKind identifies the mutation a record describes.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
	OpCreateCollection
	OpDeleteCollection
	OpCheckpoint
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCreateCollection:
		return "create_collection"
	case OpDeleteCollection:
		return "delete_collection"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// recordMagic marks the start of every record, guarding against reading a
// file that isn't a vdb WAL at all.
var recordMagic = [4]byte{'V', 'D', 'B', 'W'}

const recordVersion = 1

// headerSize is magic(4) + version(1) + seq_no(8) + op_kind(1) + payload_len(4).
const headerSize = 4 + 1 + 8 + 1 + 4

// trailerSize is crc32c(4).
const trailerSize = 4

// castagnoli is the CRC32C polynomial table, per §4.E's "crc32c" requirement.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record is one decoded WAL entry.
type Record struct {
	SeqNo   uint64
	Op      OpKind
	Payload []byte
}

// encode serialises r to the bit-exact wire layout:
// magic(4) | version(1) | seq_no(8) | op_kind(1) | payload_len(4) | payload_bytes | crc32c(4).
// The checksum covers every byte preceding it.
func encode(r Record) []byte {
	buf := make([]byte, headerSize+len(r.Payload)+trailerSize)
	copy(buf[0:4], recordMagic[:])
	buf[4] = recordVersion
	binary.BigEndian.PutUint64(buf[5:13], r.SeqNo)
	buf[13] = byte(r.Op)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(r.Payload)))
	copy(buf[18:], r.Payload)
	sum := crc32.Checksum(buf[:headerSize+len(r.Payload)], castagnoli)
	binary.BigEndian.PutUint32(buf[len(buf)-4:], sum)
	return buf
}

// decodeAt parses one record starting at buf[0]. It returns the record, the
// number of bytes consumed, and an error. A torn tail (not enough bytes for
// a full record) is reported as errTornTail so callers can truncate rather
// than treat it as interior corruption.
func decodeAt(buf []byte) (Record, int, error) {
	if len(buf) < headerSize {
		return Record{}, 0, errTornTail
	}
	if buf[0] != recordMagic[0] || buf[1] != recordMagic[1] || buf[2] != recordMagic[2] || buf[3] != recordMagic[3] {
		return Record{}, 0, vdberr.New(vdberr.Corruption, "wal: bad magic")
	}
	if buf[4] != recordVersion {
		return Record{}, 0, vdberr.New(vdberr.Corruption, "wal: unsupported record version %d", buf[4])
	}
	seqNo := binary.BigEndian.Uint64(buf[5:13])
	op := OpKind(buf[13])
	payloadLen := binary.BigEndian.Uint32(buf[14:18])
	total := headerSize + int(payloadLen) + trailerSize
	if len(buf) < total {
		return Record{}, 0, errTornTail
	}
	payload := buf[18 : 18+payloadLen]
	wantSum := binary.BigEndian.Uint32(buf[total-4 : total])
	gotSum := crc32.Checksum(buf[:total-4], castagnoli)
	if wantSum != gotSum {
		return Record{}, 0, vdberr.New(vdberr.Corruption, "wal: crc32c mismatch at seq_no %d", seqNo)
	}
	return Record{SeqNo: seqNo, Op: op, Payload: payload}, total, nil
}

var errTornTail = vdberr.New(vdberr.Corruption, "wal: torn tail")

// IsTornTail reports whether err indicates a truncated final record rather
// than interior corruption.
func IsTornTail(err error) bool {
	return err == errTornTail
}
