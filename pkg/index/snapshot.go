package index

// NodeSnapshot is one arena slot's exported state, used to serialise an
// Index into a collection snapshot per §6's "hnsw_graph_bytes" field.
type NodeSnapshot struct {
	ID         string
	Vector     []float32
	Layer      int
	Neighbors  [][]uint32 // Neighbors[l] = neighbour arena indices at layer l
	Tombstoned bool
}

// Snapshot is the full exported state of an Index.
type Snapshot struct {
	Nodes      []NodeSnapshot
	EntryPoint uint32
	TopLayer   int
	Dimension  int
}

// Export captures the current graph state for persistence. The caller must
// not mutate the index concurrently with Export; collection checkpointing
// holds the collection's write path quiesced while it runs.
func (idx *Index) Export() Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	arena := idx.snap()
	nodes := make([]NodeSnapshot, len(arena))
	for i, n := range arena {
		ns := NodeSnapshot{
			ID:         n.externalID,
			Vector:     append([]float32(nil), n.vector...),
			Layer:      n.layer,
			Neighbors:  make([][]uint32, len(n.neighbors)),
			Tombstoned: n.tombstoned.Load(),
		}
		for l := range n.neighbors {
			ids := n.neighborsAt(l)
			row := make([]uint32, len(ids))
			for j, id := range ids {
				row[j] = uint32(id)
			}
			ns.Neighbors[l] = row
		}
		nodes[i] = ns
	}
	return Snapshot{
		Nodes:      nodes,
		EntryPoint: uint32(idx.entryPoint),
		TopLayer:   idx.topLayer,
		Dimension:  idx.dimension,
	}
}

// Restore rebuilds an Index's arena from a previously Exported snapshot,
// used during §4.E recovery after loading a checkpoint. cfg supplies the
// construction/search parameters; the graph topology itself (neighbour
// lists, entry point) comes from snap.
func Restore(cfg Config, snap Snapshot) *Index {
	idx := New(cfg)
	idx.dimension = snap.Dimension
	idx.entryPoint = nodeID(snap.EntryPoint)
	idx.topLayer = snap.TopLayer

	arena := make([]*node, len(snap.Nodes))
	idx.idToIndex = make(map[string]nodeID, len(snap.Nodes))
	for i, ns := range snap.Nodes {
		n := newArenaNode(ns.ID, ns.Vector, ns.Layer)
		for l, row := range ns.Neighbors {
			ids := make([]nodeID, len(row))
			for j, v := range row {
				ids[j] = nodeID(v)
			}
			n.setNeighborsAt(l, ids)
		}
		n.tombstoned.Store(ns.Tombstoned)
		arena[i] = n
		idx.idToIndex[ns.ID] = nodeID(i)
		if ns.Tombstoned {
			idx.tombstones++
		}
	}
	idx.arena.Store(&arena)
	return idx
}
