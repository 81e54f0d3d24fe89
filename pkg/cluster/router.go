package cluster

import (
	"sync"

	"github.com/orneryd/vdb/pkg/vdberr"
)

// Router combines the consistent-hash ring with live node health to answer
// "who owns this vector id's shard right now" per §4.F. A node marked
// Unavailable by health keeps its ring points, and OwnerOf fails its shards
// with Unavailable rather than routing them to another node; once the node
// is healthy again it serves them without a rebalance.
type Router struct {
	mu        sync.RWMutex
	ring      *HashRing
	numShards int
	nodeAddr  map[string]string
	health    *HealthMonitor
}

// NewRouter constructs a router for a collection sharded into numShards
// pieces, with virtualNodes ring points per physical node.
func NewRouter(numShards, virtualNodes int) *Router {
	return &Router{
		ring:      NewHashRing(virtualNodes),
		numShards: numShards,
		nodeAddr:  make(map[string]string),
	}
}

// SetHealthMonitor wires a HealthMonitor so OwnerOf can exclude nodes
// currently marked Unavailable.
func (r *Router) SetHealthMonitor(h *HealthMonitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = h
}

// AddNode adds addr to the ring under nodeID.
func (r *Router) AddNode(nodeID, addr string) {
	r.mu.Lock()
	r.nodeAddr[nodeID] = addr
	r.mu.Unlock()
	r.ring.AddNode(nodeID)
}

// RemoveNode removes nodeID from the ring.
func (r *Router) RemoveNode(nodeID string) {
	r.mu.Lock()
	delete(r.nodeAddr, nodeID)
	r.mu.Unlock()
	r.ring.RemoveNode(nodeID)
}

// ShardFor routes id to a shard number.
func (r *Router) ShardFor(id string) int {
	r.mu.RLock()
	n := r.numShards
	r.mu.RUnlock()
	return ShardFor(id, n)
}

// OwnerOf returns the node-id and address owning shardID. Returns
// Unavailable if no node is found, or the owning node is currently marked
// unavailable by the wired health monitor.
func (r *Router) OwnerOf(shardID int) (nodeID, addr string, err error) {
	owner, ok := r.ring.OwnerForShard(shardID)
	if !ok {
		return "", "", vdberr.New(vdberr.Unavailable, "cluster: no node owns shard %d", shardID)
	}

	r.mu.RLock()
	addr, known := r.nodeAddr[owner]
	health := r.health
	r.mu.RUnlock()
	if !known {
		return "", "", vdberr.New(vdberr.Unavailable, "cluster: shard %d owner %s has no address", shardID, owner)
	}
	if health != nil {
		if status, seen := health.Status(owner); seen && status == StatusUnavailable {
			return "", "", vdberr.New(vdberr.Unavailable, "cluster: shard %d owner %s is unavailable", shardID, owner)
		}
	}
	return owner, addr, nil
}

// nodeAddrOf looks up nodeID's address directly, bypassing the ring and
// health check — used by migration, which must reach a specific node
// regardless of which shards it currently owns.
func (r *Router) nodeAddrOf(nodeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.nodeAddr[nodeID]
	return addr, ok
}

// NumShards returns the configured shard count.
func (r *Router) NumShards() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.numShards
}

// Nodes returns the live node list, for HealthMonitor.Start's provider and
// for migration planning.
func (r *Router) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodeAddr))
	for id, addr := range r.nodeAddr {
		out = append(out, Node{ID: id, Addr: addr})
	}
	return out
}

// Assignment returns the current shard->node owner map.
func (r *Router) Assignment() map[int]string {
	r.mu.RLock()
	n := r.numShards
	r.mu.RUnlock()
	return r.ring.Assignment(n)
}
