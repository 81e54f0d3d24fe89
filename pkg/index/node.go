package index

import "sync/atomic"

// nodeID indexes into the arena. Using a plain uint32 instead of a pointer
// keeps the graph a flat slice rather than a web of ownership pointers, per
// §9's "cyclic structures" design note: the graph has cycles by
// construction, and representing edges as index pairs into an arena avoids
// reference cycles and keeps the whole structure trivially serialisable.
type nodeID uint32

// node is one vector's slot in the arena: its id, the layer it was assigned
// at insertion, and per-layer neighbour lists. Each layer's neighbour list
// is an atomic.Pointer to an immutable slice: a writer builds a new slice
// and swaps the pointer, so a concurrent reader always sees a complete,
// un-torn snapshot without taking any lock. Only the swap itself is
// serialised, by one of the index's lock stripes (see stripeFor), so
// concurrent inserts touching disjoint neighbourhoods never contend and
// readers never block on writers, per §4.B's "not a global lock" note.
type node struct {
	externalID string
	vector     []float32
	code       []byte // quantised representation, set only when the index has a codec
	layer      int
	neighbors  []atomic.Pointer[[]nodeID] // neighbors[l] = neighbour ids at layer l
	tombstoned atomic.Bool
}

func newArenaNode(id string, vec []float32, layer int) *node {
	n := &node{
		externalID: id,
		vector:     vec,
		layer:      layer,
		neighbors:  make([]atomic.Pointer[[]nodeID], layer+1),
	}
	for l := range n.neighbors {
		empty := []nodeID{}
		n.neighbors[l].Store(&empty)
	}
	return n
}

func (n *node) neighborsAt(layer int) []nodeID {
	if layer < 0 || layer >= len(n.neighbors) {
		return nil
	}
	p := n.neighbors[layer].Load()
	if p == nil {
		return nil
	}
	return *p
}

func (n *node) setNeighborsAt(layer int, ids []nodeID) {
	if layer < 0 || layer >= len(n.neighbors) {
		return
	}
	cp := append([]nodeID(nil), ids...)
	n.neighbors[layer].Store(&cp)
}

// lockStripes is the number of mutexes striped across the arena for
// neighbour-list mutation. A fixed power of two keeps the hash-to-stripe
// mapping a cheap bitmask.
const lockStripes = 256

func stripeFor(id nodeID) int {
	return int(id) & (lockStripes - 1)
}
