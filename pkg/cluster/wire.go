package cluster

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"

	"github.com/google/uuid"
	"github.com/orneryd/vdb/pkg/vdberr"
)

// Method identifies an RPC entry point per §6's "Wire protocols" table.
type Method uint8

const (
	MethodInsert Method = iota + 1
	MethodSearch
	MethodDelete
	MethodGetVector
	MethodListCollections
	MethodStreamShard
)

// String renders a Method as a Prometheus label value, for
// ClusterRPCLatency/ClusterRPCErrors.
func (m Method) String() string {
	switch m {
	case MethodInsert:
		return "insert"
	case MethodSearch:
		return "search"
	case MethodDelete:
		return "delete"
	case MethodGetVector:
		return "get_vector"
	case MethodListCollections:
		return "list_collections"
	case MethodStreamShard:
		return "stream_shard"
	default:
		return "unknown"
	}
}

const (
	frameMagic   uint32 = 0x56444252 // "VDBR"
	frameVersion uint8  = 1
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Frame is one request or response on the wire: magic(4) | version(1) |
// method(1) | ok(1) | request_id(16) | payload_len(4) | payload | crc32c(4).
// crc32c covers every preceding field. A response reuses the request's
// Method and RequestID so the caller can match frames on a connection that
// pipelines more than one in-flight call... which this implementation does
// not do; calls are synchronous per connection, one at a time.
type Frame struct {
	Method    Method
	RequestID uuid.UUID
	OK        bool
	Payload   []byte
}

// WriteFrame serializes f to w in the layout above.
func WriteFrame(w io.Writer, f Frame) error {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, frameMagic)
	buf.WriteByte(frameVersion)
	buf.WriteByte(byte(f.Method))
	if f.OK {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	rid, _ := f.RequestID.MarshalBinary()
	buf.Write(rid)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(f.Payload)))
	buf.Write(f.Payload)

	sum := crc32.Checksum(buf.Bytes(), crc32cTable)
	_ = binary.Write(&buf, binary.BigEndian, sum)

	_, err := w.Write(buf.Bytes())
	return err
}

// ReadFrame reads and validates one frame from r, returning a Corruption
// error on magic, version, or CRC mismatch per §4.E's framing policy
// (reused here for RPC frames rather than just WAL records).
func ReadFrame(r io.Reader) (Frame, error) {
	head := make([]byte, 4+1+1+1+16+4)
	if _, err := io.ReadFull(r, head); err != nil {
		return Frame{}, err
	}

	magic := binary.BigEndian.Uint32(head[0:4])
	if magic != frameMagic {
		return Frame{}, vdberr.New(vdberr.Corruption, "cluster: bad frame magic %x", magic)
	}
	version := head[4]
	if version != frameVersion {
		return Frame{}, vdberr.New(vdberr.Corruption, "cluster: unsupported frame version %d", version)
	}
	method := Method(head[5])
	ok := head[6] != 0
	var requestID uuid.UUID
	if err := requestID.UnmarshalBinary(head[7:23]); err != nil {
		return Frame{}, vdberr.Wrap(vdberr.Corruption, err, "cluster: bad request id")
	}
	payloadLen := binary.BigEndian.Uint32(head[23:27])

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, vdberr.Wrap(vdberr.Corruption, err, "cluster: short frame payload")
	}

	var wireCRC [4]byte
	if _, err := io.ReadFull(r, wireCRC[:]); err != nil {
		return Frame{}, err
	}
	want := binary.BigEndian.Uint32(wireCRC[:])

	got := crc32.Checksum(append(append([]byte{}, head...), payload...), crc32cTable)
	if got != want {
		return Frame{}, vdberr.New(vdberr.Corruption, "cluster: frame crc mismatch")
	}

	return Frame{Method: method, RequestID: requestID, OK: ok, Payload: payload}, nil
}

// InsertRequest is the payload for MethodInsert.
type InsertRequest struct {
	Collection string          `json:"collection"`
	Shard      int             `json:"shard"`
	Vectors    json.RawMessage `json:"vectors"`
}

// InsertResponse is the payload for a MethodInsert reply.
type InsertResponse struct {
	Inserted int `json:"inserted"`
}

// SearchRequest is the payload for MethodSearch.
type SearchRequest struct {
	Collection string    `json:"collection"`
	Shard      int       `json:"shard"`
	Query      []float32 `json:"query"`
	K          int       `json:"k"`
	EfSearch   int       `json:"ef_search"`
}

// SearchHitWire is one result in a SearchResponse; a transport-local
// mirror of collection.SearchHit to avoid an import cycle between
// pkg/cluster and pkg/collection's internal search types.
type SearchHitWire struct {
	ID       string         `json:"id"`
	Distance float32        `json:"distance"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// SearchResponse is the payload for a MethodSearch reply.
type SearchResponse struct {
	Hits []SearchHitWire `json:"hits"`
}

// DeleteRequest is the payload for MethodDelete.
type DeleteRequest struct {
	Collection string `json:"collection"`
	Shard      int    `json:"shard"`
	ID         string `json:"id"`
}

// GetVectorRequest is the payload for MethodGetVector.
type GetVectorRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// GetVectorResponse is the payload for a MethodGetVector reply.
type GetVectorResponse struct {
	Found bool            `json:"found"`
	Data  []float32       `json:"data,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// ListCollectionsResponse is the payload for a MethodListCollections reply.
type ListCollectionsResponse struct {
	Names []string `json:"names"`
}

// StreamShardRequest is the control-plane payload driving migration: the
// destination dials the source and asks it to stream shard's vectors.
// NumShards carries the caller's current shard count so the source can
// recompute ShardFor the same way the router does, since a collection's
// vectors aren't otherwise tagged with the shard they belong to.
type StreamShardRequest struct {
	Collection string `json:"collection"`
	Shard      int    `json:"shard"`
	NumShards  int    `json:"num_shards"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// StreamShardResponse carries every vector the source holds for the
// requested shard, JSON-encoded the same way InsertRequest.Vectors is.
type StreamShardResponse struct {
	Vectors json.RawMessage `json:"vectors"`
}

// ErrorPayload is the payload of a non-OK response frame.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
