package cluster

import (
	"encoding/json"
	"errors"
	"net"

	"go.uber.org/zap"

	"github.com/orneryd/vdb/pkg/collection"
	"github.com/orneryd/vdb/pkg/obs"
	"github.com/orneryd/vdb/pkg/vdberr"
	"github.com/orneryd/vdb/pkg/vector"
)

// Server is the RPC listener side of §4.F: it accepts connections from
// peer coordinators and dispatches each frame to the local registry.
type Server struct {
	addr     string
	registry *collection.Registry
	log      *zap.Logger
	listener net.Listener
}

// NewServer constructs a server bound to addr once Serve is called.
func NewServer(addr string, registry *collection.Registry, log *zap.Logger) *Server {
	return &Server{addr: addr, registry: registry, log: obs.Named(log, "cluster.server")}
}

// Serve listens on s.addr and handles connections until the listener is
// closed. One goroutine per connection; one request in flight per
// connection at a time, matching rpcClient's synchronous call semantics.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "cluster: listen on %s", s.addr)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listener's bound address, useful when addr was ":0".
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := ReadFrame(conn)
		if err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Frame) Frame {
	payload, err := s.handle(req)
	if err != nil {
		return s.errorFrame(req, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return s.errorFrame(req, err)
	}
	return Frame{Method: req.Method, RequestID: req.RequestID, OK: true, Payload: body}
}

func (s *Server) handle(req Frame) (any, error) {
	switch req.Method {
	case MethodInsert:
		return s.handleInsert(req.Payload)
	case MethodSearch:
		return s.handleSearch(req.Payload)
	case MethodDelete:
		return nil, s.handleDelete(req.Payload)
	case MethodGetVector:
		return s.handleGetVector(req.Payload)
	case MethodListCollections:
		return ListCollectionsResponse{Names: s.registry.List()}, nil
	case MethodStreamShard:
		return s.handleStreamShard(req.Payload)
	default:
		return nil, vdberr.New(vdberr.Invalid, "cluster: unknown method %d", req.Method)
	}
}

func (s *Server) handleInsert(payload []byte) (InsertResponse, error) {
	var req InsertRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return InsertResponse{}, vdberr.Wrap(vdberr.Invalid, err, "cluster: decode insert request")
	}
	var vectors []*vector.Vector
	if err := json.Unmarshal(req.Vectors, &vectors); err != nil {
		return InsertResponse{}, vdberr.Wrap(vdberr.Invalid, err, "cluster: decode insert vectors")
	}
	c, ok := s.registry.Get(req.Collection)
	if !ok {
		return InsertResponse{}, vdberr.New(vdberr.NotFound, "cluster: collection %q not found", req.Collection)
	}
	n, err := c.Insert(vectors)
	return InsertResponse{Inserted: n}, err
}

func (s *Server) handleSearch(payload []byte) (SearchResponse, error) {
	var req SearchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return SearchResponse{}, vdberr.Wrap(vdberr.Invalid, err, "cluster: decode search request")
	}
	c, ok := s.registry.Get(req.Collection)
	if !ok {
		return SearchResponse{}, vdberr.New(vdberr.NotFound, "cluster: collection %q not found", req.Collection)
	}
	hits, err := c.Search(req.Query, req.K, req.EfSearch, nil)
	if err != nil {
		return SearchResponse{}, err
	}
	wire := make([]SearchHitWire, len(hits))
	for i, h := range hits {
		wire[i] = SearchHitWire{ID: string(h.ID), Distance: h.Distance, Payload: h.Payload}
	}
	return SearchResponse{Hits: wire}, nil
}

func (s *Server) handleDelete(payload []byte) error {
	var req DeleteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return vdberr.Wrap(vdberr.Invalid, err, "cluster: decode delete request")
	}
	c, ok := s.registry.Get(req.Collection)
	if !ok {
		return vdberr.New(vdberr.NotFound, "cluster: collection %q not found", req.Collection)
	}
	return c.Delete(vector.ID(req.ID))
}

func (s *Server) handleGetVector(payload []byte) (GetVectorResponse, error) {
	var req GetVectorRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return GetVectorResponse{}, vdberr.Wrap(vdberr.Invalid, err, "cluster: decode get_vector request")
	}
	c, ok := s.registry.Get(req.Collection)
	if !ok {
		return GetVectorResponse{}, vdberr.New(vdberr.NotFound, "cluster: collection %q not found", req.Collection)
	}
	v, found := c.Get(vector.ID(req.ID))
	if !found {
		return GetVectorResponse{Found: false}, nil
	}
	return GetVectorResponse{Found: true, Data: v.Data}, nil
}

// handleStreamShard is the source side of §4.F's migration streaming: it
// filters the collection's vectors down to the ones ShardFor currently
// assigns to req.Shard and returns them for the destination to Insert.
// Deletion from the source happens separately, once the destination
// confirms it has them (see Coordinator.MigrateShard).
func (s *Server) handleStreamShard(payload []byte) (StreamShardResponse, error) {
	var req StreamShardRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return StreamShardResponse{}, vdberr.Wrap(vdberr.Invalid, err, "cluster: decode stream_shard request")
	}
	c, ok := s.registry.Get(req.Collection)
	if !ok {
		return StreamShardResponse{}, vdberr.New(vdberr.NotFound, "cluster: collection %q not found", req.Collection)
	}
	numShards := req.NumShards
	if numShards <= 0 {
		numShards = 1
	}

	var matched []*vector.Vector
	for _, v := range c.All() {
		if ShardFor(string(v.ID), numShards) == req.Shard {
			matched = append(matched, v)
		}
	}
	body, err := json.Marshal(matched)
	if err != nil {
		return StreamShardResponse{}, vdberr.Wrap(vdberr.Internal, err, "cluster: encode stream_shard vectors")
	}
	return StreamShardResponse{Vectors: body}, nil
}

func (s *Server) errorFrame(req Frame, err error) Frame {
	kind := vdberr.Internal
	var ve *vdberr.Error
	if errors.As(err, &ve) {
		kind = ve.Kind
	}
	body, _ := json.Marshal(ErrorPayload{Kind: kind.String(), Message: err.Error()})
	return Frame{Method: req.Method, RequestID: req.RequestID, OK: false, Payload: body}
}
