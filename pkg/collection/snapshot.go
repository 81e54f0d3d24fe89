package collection

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/orneryd/vdb/pkg/index"
	"github.com/orneryd/vdb/pkg/vdberr"
	vdbwal "github.com/orneryd/vdb/pkg/wal"
	"github.com/orneryd/vdb/pkg/vector"
)

// snapshotMagic and snapshotVersion identify the on-disk checkpoint format
// of §6: "magic(8)=VDBSNAP1 | version(2) | collection_config_len(4) |
// collection_config_bytes | vector_count(8) | (id_len(4)|id_bytes|
// vector_bytes|payload_len(4)|payload_bytes)* | hnsw_graph_bytes |
// checkpoint_seq_no(8) | crc32c(4)".
var snapshotMagic = [8]byte{'V', 'D', 'B', 'S', 'N', 'A', 'P', '1'}

const snapshotVersion uint16 = 1

// encodeSnapshot serialises cfg, vectors, and the HNSW graph into the
// bit-exact checkpoint layout. Nested blobs (collection config, per-vector
// payload, the HNSW graph) are JSON. The outer frame keeps §6's field order
// and fixed-width fields, and adds a 4-byte length before each vector's
// bytes and before the HNSW graph bytes.
func encodeSnapshot(cfg vector.CollectionConfig, vectors []*vector.Vector, graph index.Snapshot, checkpointSeqNo uint64) ([]byte, error) {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "snapshot: marshal config")
	}
	graphBytes, err := json.Marshal(graph)
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "snapshot: marshal hnsw graph")
	}

	buf := make([]byte, 0, 4096)
	buf = append(buf, snapshotMagic[:]...)
	buf = appendUint16(buf, snapshotVersion)
	buf = appendUint32(buf, uint32(len(cfgBytes)))
	buf = append(buf, cfgBytes...)
	buf = appendUint64(buf, uint64(len(vectors)))

	for _, v := range vectors {
		idBytes := []byte(v.ID)
		buf = appendUint32(buf, uint32(len(idBytes)))
		buf = append(buf, idBytes...)

		vecBytes := encodeFloat32s(v.Data)
		buf = appendUint32(buf, uint32(len(vecBytes)))
		buf = append(buf, vecBytes...)

		var payloadBytes []byte
		if v.Payload != nil {
			payloadBytes, err = json.Marshal(v.Payload)
			if err != nil {
				return nil, vdberr.Wrap(vdberr.Internal, err, "snapshot: marshal payload for %s", v.ID)
			}
		}
		buf = appendUint32(buf, uint32(len(payloadBytes)))
		buf = append(buf, payloadBytes...)
	}

	buf = appendUint32(buf, uint32(len(graphBytes)))
	buf = append(buf, graphBytes...)
	buf = appendUint64(buf, checkpointSeqNo)

	sum := vdbwal.Checksum(buf)
	buf = appendUint32(buf, sum)
	return buf, nil
}

// decodedSnapshot is the parsed form of a checkpoint file.
type decodedSnapshot struct {
	Config          vector.CollectionConfig
	Vectors         []*vector.Vector
	Graph           index.Snapshot
	CheckpointSeqNo uint64
}

func decodeSnapshot(data []byte) (decodedSnapshot, error) {
	var out decodedSnapshot
	if len(data) < 8+2+4 {
		return out, vdberr.New(vdberr.Corruption, "snapshot: truncated header")
	}
	for i := 0; i < 8; i++ {
		if data[i] != snapshotMagic[i] {
			return out, vdberr.New(vdberr.Corruption, "snapshot: bad magic")
		}
	}
	if len(data) < 4 {
		return out, vdberr.New(vdberr.Corruption, "snapshot: missing trailer")
	}
	wantSum := binary.BigEndian.Uint32(data[len(data)-4:])
	gotSum := vdbwal.Checksum(data[:len(data)-4])
	if wantSum != gotSum {
		return out, vdberr.New(vdberr.Corruption, "snapshot: crc32c mismatch")
	}

	r := &reader{buf: data[8:]}
	_ = r.uint16() // version, currently unused: only version 1 exists
	cfgLen := r.uint32()
	cfgBytes := r.bytes(int(cfgLen))
	if r.err != nil {
		return out, r.err
	}
	if err := json.Unmarshal(cfgBytes, &out.Config); err != nil {
		return out, vdberr.Wrap(vdberr.Corruption, err, "snapshot: unmarshal config")
	}

	count := r.uint64()
	out.Vectors = make([]*vector.Vector, 0, count)
	for i := uint64(0); i < count && r.err == nil; i++ {
		idLen := r.uint32()
		id := vector.ID(r.bytes(int(idLen)))
		vecLen := r.uint32()
		vecBytes := r.bytes(int(vecLen))
		payloadLen := r.uint32()
		payloadBytes := r.bytes(int(payloadLen))
		if r.err != nil {
			break
		}
		v := &vector.Vector{ID: id, Data: decodeFloat32s(vecBytes)}
		if len(payloadBytes) > 0 {
			if err := json.Unmarshal(payloadBytes, &v.Payload); err != nil {
				return out, vdberr.Wrap(vdberr.Corruption, err, "snapshot: unmarshal payload for %s", id)
			}
		}
		out.Vectors = append(out.Vectors, v)
	}
	if r.err != nil {
		return out, r.err
	}

	graphLen := r.uint32()
	graphBytes := r.bytes(int(graphLen))
	if r.err != nil {
		return out, r.err
	}
	if err := json.Unmarshal(graphBytes, &out.Graph); err != nil {
		return out, vdberr.Wrap(vdberr.Corruption, err, "snapshot: unmarshal hnsw graph")
	}

	out.CheckpointSeqNo = r.uint64()
	if r.err != nil {
		return out, r.err
	}
	return out, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func encodeFloat32s(vs []float32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return out
}

// reader is a small cursor over a byte slice, used to keep decodeSnapshot's
// sequential field reads free of repetitive bounds checks.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.buf) {
		r.err = vdberr.New(vdberr.Corruption, "snapshot: truncated body")
		return false
	}
	return true
}

func (r *reader) uint16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v
}
