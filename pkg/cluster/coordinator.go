package cluster

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/vdb/pkg/collection"
	"github.com/orneryd/vdb/pkg/obs"
	"github.com/orneryd/vdb/pkg/vdberr"
	"github.com/orneryd/vdb/pkg/vector"
)

// Coordinator implements §4.F's three sharded operations over a Registry
// of locally-hosted collections plus a pool of RPC clients for remote
// shards. A single process is both a coordinator for every collection it
// routes and, for the shards it owns, the server handling incoming RPCs
// (see server.go).
type Coordinator struct {
	selfNodeID string
	router     *Router
	pool       *Pool
	registry   *collection.Registry
	timeout    time.Duration
	log        *zap.Logger
	metrics    *obs.Metrics
}

// NewCoordinator constructs a coordinator for selfNodeID, routing through
// router and dialing remote shards via pool.
func NewCoordinator(selfNodeID string, router *Router, pool *Pool, registry *collection.Registry, timeout time.Duration, log *zap.Logger, metrics *obs.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Coordinator{
		selfNodeID: selfNodeID,
		router:     router,
		pool:       pool,
		registry:   registry,
		timeout:    timeout,
		log:        obs.Named(log, "coordinator"),
		metrics:    metrics,
	}
}

// call invokes an RPC through client and records it against §4.F's
// ClusterRPCLatency/ClusterRPCErrors collectors, keyed by method. Every
// remote call in this file goes through here rather than client.Call
// directly, so the metrics stay accurate without being threaded through
// each call site by hand.
func (co *Coordinator) call(client *rpcClient, deadline time.Time, method Method, req, resp any) error {
	start := time.Now()
	err := client.Call(deadline, method, req, resp)
	if co.metrics != nil {
		co.metrics.ClusterRPCLatency.WithLabelValues(method.String()).Observe(time.Since(start).Seconds())
		if err != nil {
			co.metrics.ClusterRPCErrors.WithLabelValues(method.String()).Inc()
		}
	}
	return err
}

// Insert routes each vector to its owning shard and delegates locally or
// via RPC, per §4.F's "route to the shard's owning node" rule. Vectors are
// grouped by owner first so a multi-vector batch touching one remote node
// costs one RPC, not one per vector.
func (co *Coordinator) Insert(ctx context.Context, name string, vectors []*vector.Vector) (int, error) {
	byOwner := make(map[string][]*vector.Vector)
	shardOf := make(map[string]int)
	for _, v := range vectors {
		shard := co.router.ShardFor(string(v.ID))
		owner, _, err := co.router.OwnerOf(shard)
		if err != nil {
			return 0, err
		}
		byOwner[owner] = append(byOwner[owner], v)
		shardOf[owner] = shard
	}

	total := 0
	for owner, vecs := range byOwner {
		if owner == co.selfNodeID {
			c, ok := co.registry.Get(name)
			if !ok {
				return total, vdberr.New(vdberr.NotFound, "cluster: collection %q not found", name)
			}
			n, err := c.Insert(vecs)
			total += n
			if err != nil {
				return total, err
			}
			continue
		}

		payload, err := json.Marshal(vecs)
		if err != nil {
			return total, vdberr.Wrap(vdberr.Invalid, err, "cluster: encode insert batch")
		}
		_, addr, err := co.router.OwnerOf(shardOf[owner])
		if err != nil {
			return total, err
		}
		client, err := co.pool.Get(owner, addr)
		if err != nil {
			return total, err
		}
		var resp InsertResponse
		req := InsertRequest{Collection: name, Shard: shardOf[owner], Vectors: payload}
		if err := co.call(client, time.Now().Add(co.timeout), MethodInsert, req, &resp); err != nil {
			co.pool.Invalidate(owner)
			return total, err
		}
		total += resp.Inserted
	}
	return total, nil
}

// Delete routes id's single shard and delegates per §4.F's "single-shard
// operation" rule.
func (co *Coordinator) Delete(ctx context.Context, name string, id vector.ID) error {
	shard := co.router.ShardFor(string(id))
	owner, addr, err := co.router.OwnerOf(shard)
	if err != nil {
		return err
	}
	if owner == co.selfNodeID {
		c, ok := co.registry.Get(name)
		if !ok {
			return vdberr.New(vdberr.NotFound, "cluster: collection %q not found", name)
		}
		return c.Delete(id)
	}

	client, err := co.pool.Get(owner, addr)
	if err != nil {
		return err
	}
	req := DeleteRequest{Collection: name, Shard: shard, ID: string(id)}
	if err := co.call(client, time.Now().Add(co.timeout), MethodDelete, req, nil); err != nil {
		co.pool.Invalidate(owner)
		return err
	}
	return nil
}

// Search fans a search(query, k) RPC out to every shard's owning node in
// parallel, merges by distance, and truncates to k, per §4.F's latency
// model (max per-shard latency plus merge cost). Uses errgroup so the
// first hard failure cancels the rest of the fan-out rather than waiting
// out every shard's timeout.
func (co *Coordinator) Search(ctx context.Context, name string, query []float32, k, efSearch int) ([]collection.SearchHit, error) {
	numShards := co.router.NumShards()
	if numShards <= 0 {
		numShards = 1
	}

	results := make([][]collection.SearchHit, numShards)
	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < numShards; shard++ {
		shard := shard
		g.Go(func() error {
			hits, err := co.searchShard(gctx, name, shard, query, k, efSearch)
			if err != nil {
				return err
			}
			results[shard] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]collection.SearchHit, 0, k)
	for _, hits := range results {
		merged = append(merged, hits...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// MigrateShard executes one step of a rebalance plan produced by
// PlanRebalance: it asks m.From to stream every vector it holds for
// m.Shard, inserts the batch at m.To (locally or via RPC), and once that
// insert succeeds, deletes the same ids from m.From. Per §4.F's migration
// model this runs concurrently with live traffic, so a vector written to
// the shard between the stream and the source-side delete lands on
// whichever side serviced the write and is simply re-migrated on the next
// rebalance pass rather than lost.
func (co *Coordinator) MigrateShard(ctx context.Context, name string, m Migration) error {
	fromAddr, ok := co.router.nodeAddrOf(m.From)
	if !ok {
		return vdberr.New(vdberr.Unavailable, "cluster: no known address for node %s", m.From)
	}

	var vectors []*vector.Vector
	if m.From == co.selfNodeID {
		c, ok := co.registry.Get(name)
		if !ok {
			return vdberr.New(vdberr.NotFound, "cluster: collection %q not found", name)
		}
		numShards := co.router.NumShards()
		if numShards <= 0 {
			numShards = 1
		}
		for _, v := range c.All() {
			if ShardFor(string(v.ID), numShards) == m.Shard {
				vectors = append(vectors, v)
			}
		}
	} else {
		client, err := co.pool.Get(m.From, fromAddr)
		if err != nil {
			return err
		}
		req := StreamShardRequest{Collection: name, Shard: m.Shard, NumShards: co.router.NumShards(), From: m.From, To: m.To}
		var resp StreamShardResponse
		if err := co.call(client, time.Now().Add(co.timeout), MethodStreamShard, req, &resp); err != nil {
			co.pool.Invalidate(m.From)
			return err
		}
		if err := json.Unmarshal(resp.Vectors, &vectors); err != nil {
			return vdberr.Wrap(vdberr.Invalid, err, "cluster: decode streamed shard vectors")
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	if _, err := co.Insert(ctx, name, vectors); err != nil {
		return err
	}

	for _, v := range vectors {
		if err := co.deleteFrom(ctx, name, m.From, v.ID); err != nil {
			co.log.Warn("cluster: migration left a stale copy on the source", zap.String("node", m.From), zap.String("id", string(v.ID)))
		}
	}
	return nil
}

// deleteFrom deletes id at nodeID specifically, bypassing the router since
// the migration source may no longer own the shard by the time the cleanup
// delete runs.
func (co *Coordinator) deleteFrom(ctx context.Context, name, nodeID string, id vector.ID) error {
	if nodeID == co.selfNodeID {
		c, ok := co.registry.Get(name)
		if !ok {
			return vdberr.New(vdberr.NotFound, "cluster: collection %q not found", name)
		}
		return c.Delete(id)
	}
	addr, ok := co.router.nodeAddrOf(nodeID)
	if !ok {
		return vdberr.New(vdberr.Unavailable, "cluster: no known address for node %s", nodeID)
	}
	client, err := co.pool.Get(nodeID, addr)
	if err != nil {
		return err
	}
	req := DeleteRequest{Collection: name, ID: string(id)}
	if err := co.call(client, time.Now().Add(co.timeout), MethodDelete, req, nil); err != nil {
		co.pool.Invalidate(nodeID)
		return err
	}
	return nil
}

func (co *Coordinator) searchShard(ctx context.Context, name string, shard int, query []float32, k, efSearch int) ([]collection.SearchHit, error) {
	owner, addr, err := co.router.OwnerOf(shard)
	if err != nil {
		return nil, err
	}
	if owner == co.selfNodeID {
		c, ok := co.registry.Get(name)
		if !ok {
			return nil, vdberr.New(vdberr.NotFound, "cluster: collection %q not found", name)
		}
		return c.Search(query, k, efSearch, nil)
	}

	client, err := co.pool.Get(owner, addr)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(co.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	req := SearchRequest{Collection: name, Shard: shard, Query: query, K: k, EfSearch: efSearch}
	var resp SearchResponse
	if err := co.call(client, deadline, MethodSearch, req, &resp); err != nil {
		co.pool.Invalidate(owner)
		return nil, err
	}

	hits := make([]collection.SearchHit, len(resp.Hits))
	for i, h := range resp.Hits {
		hits[i] = collection.SearchHit{ID: vector.ID(h.ID), Distance: h.Distance, Payload: h.Payload}
	}
	return hits, nil
}
