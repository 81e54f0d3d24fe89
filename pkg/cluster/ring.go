// Package cluster implements §4.F's shard router and distributed
// coordinator: a consistent-hash ring mapping shards to nodes, a pooled
// binary RPC client/server pair for inter-node dispatch, heartbeat-based
// failure detection, and migration planning for rebalance.
package cluster

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ShardFor routes a vector id to a shard using §4.F's mandated formula,
// shard_id = xxhash64(id) mod S.
func ShardFor(id string, numShards int) int {
	if numShards <= 0 {
		return 0
	}
	return int(xxhash.Sum64String(id) % uint64(numShards))
}

// HashRing assigns shards to physical nodes. Each node is hashed onto the
// ring at `virtual` distinct points; a shard's owner is the first node
// found walking clockwise from hash(shard_id). Adding virtual points per
// node keeps the post-join/leave reshuffle close to 1/N of the shard set,
// the usual reason to prefer this over a flat mod-N assignment.
type HashRing struct {
	mu      sync.RWMutex
	virtual int
	points  []uint64
	owners  map[uint64]string
	nodes   map[string]bool
}

// NewHashRing constructs an empty ring with virtualPerNode points per added
// node. virtualPerNode <= 0 falls back to 64, §4.F's V.
func NewHashRing(virtualPerNode int) *HashRing {
	if virtualPerNode <= 0 {
		virtualPerNode = 64
	}
	return &HashRing{
		virtual: virtualPerNode,
		owners:  make(map[uint64]string),
		nodes:   make(map[string]bool),
	}
}

// AddNode places nodeID's virtual points on the ring. A no-op if the node
// is already present.
func (r *HashRing) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[nodeID] {
		return
	}
	r.nodes[nodeID] = true
	for v := 0; v < r.virtual; v++ {
		h := xxhash.Sum64String(nodeID + "#" + strconv.Itoa(v))
		r.owners[h] = nodeID
		r.points = append(r.points, h)
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
}

// RemoveNode strips nodeID's virtual points from the ring.
func (r *HashRing) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.nodes[nodeID] {
		return
	}
	delete(r.nodes, nodeID)
	kept := r.points[:0]
	for _, h := range r.points {
		if r.owners[h] == nodeID {
			delete(r.owners, h)
			continue
		}
		kept = append(kept, h)
	}
	r.points = kept
}

// Nodes returns the set of physical nodes currently on the ring, in no
// particular order.
func (r *HashRing) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// OwnerForShard returns the node owning shardID, or false if the ring is
// empty.
func (r *HashRing) OwnerForShard(shardID int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return "", false
	}
	h := xxhash.Sum64String("shard#" + strconv.Itoa(shardID))
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.owners[r.points[i]], true
}

// Assignment returns the owning node for every shard in [0, numShards),
// keyed by shard id. Used by the migration planner to diff against a
// target layout.
func (r *HashRing) Assignment(numShards int) map[int]string {
	out := make(map[int]string, numShards)
	for s := 0; s < numShards; s++ {
		if owner, ok := r.OwnerForShard(s); ok {
			out[s] = owner
		}
	}
	return out
}
