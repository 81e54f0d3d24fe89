// Package index implements the HNSW (Hierarchical Navigable Small World)
// approximate nearest-neighbour graph of §4.B: a layered proximity graph
// where layer 0 holds every vector and each higher layer holds an
// exponentially shrinking subset, used as highways for fast descent toward
// a query's neighbourhood before a final exhaustive-feeling search at layer
// 0. This replaces the teacher's brute-force map-backed stub of the same
// name (pkg/index/index.go's HNSWIndex, which stored vectors in a plain map
// and did a linear cosine scan) with the real multi-layer graph algorithm.
package index

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	vecmath "github.com/orneryd/vdb/pkg/math/vector"
	"github.com/orneryd/vdb/pkg/pool"
	"github.com/orneryd/vdb/pkg/quantize"
	"github.com/orneryd/vdb/pkg/vdberr"
)

// SearchResult is one hit returned by Search, in ascending distance order.
type SearchResult struct {
	ID       string
	Distance float32
}

// Config holds the construction/search parameters of a single collection's
// HNSW graph, per §3's CollectionConfig.hnsw block.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
	Metric         string // resolved via vecmath.ResolveDistance
}

// DefaultConfig matches §6's collection_defaults.hnsw defaults.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 50, Metric: "cosine"}
}

// Index is a single collection's HNSW graph. The zero value is not usable;
// construct with New.
type Index struct {
	mu sync.RWMutex // guards idToIndex, entryPoint, topLayer, dimension, tombstones

	// arena holds every node ever inserted, indexed by nodeID. It only ever
	// grows by copy-on-write: insertNode builds a new backing slice one
	// element longer than the last and atomically swaps the pointer, so a
	// reader that loaded a snapshot via snap() can index into it without
	// holding any lock, even while a concurrent insert is in flight. A
	// plain append-growing slice would let a reallocation triggered by one
	// insert invalidate the slice header a lock-free reader captured
	// moments earlier.
	arena      atomic.Pointer[[]*node]
	idToIndex  map[string]nodeID
	entryPoint nodeID
	topLayer   int
	dimension  int

	m              int
	efConstruction int
	efSearch       int
	mL             float64
	metric         string // resolved into distance below; kept to finalize returned scores
	distance       vecmath.DistanceFunc
	codec          quantize.Codec // nil until SetCodec is called; graph traversal then prefers codec.Distance

	rngMu sync.Mutex
	rng   *rand.Rand

	stripes [lockStripes]sync.Mutex

	tombstones int
}

// New constructs an empty HNSW index from cfg.
func New(cfg Config) *Index {
	if cfg.M <= 1 {
		cfg.M = DefaultConfig().M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultConfig().EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultConfig().EfSearch
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Index{
		idToIndex:      make(map[string]nodeID),
		m:              cfg.M,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		mL:             1 / math.Log(float64(cfg.M)),
		metric:         cfg.Metric,
		distance:       vecmath.ResolveDistance(cfg.Metric),
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// snap returns a consistent, lock-free-safe view of the arena as it stood
// at some recent point. Callers that need to read the arena across several
// steps of one operation should call this once and reuse the result rather
// than indexing idx.arena directly, since nodeIDs assigned against an
// earlier snapshot remain valid in any later one.
func (idx *Index) snap() []*node {
	p := idx.arena.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the number of indexed vectors, including tombstoned ones.
func (idx *Index) Len() int {
	return len(idx.snap())
}

// LiveLen returns the number of indexed vectors excluding tombstoned ones.
func (idx *Index) LiveLen() int {
	idx.mu.RLock()
	t := idx.tombstones
	idx.mu.RUnlock()
	return len(idx.snap()) - t
}

// SetCodec installs a quantisation codec to accelerate distance
// computations on the graph traversal hot path, per §4.A's quantised
// candidate-scoring design. It takes effect for nodes inserted afterward;
// nodes already in the arena keep comparing on their full-precision vector
// via queryDistance's nil-code fallback, since retroactively encoding the
// whole graph would require a second pass the caller hasn't asked for.
func (idx *Index) SetCodec(c quantize.Codec) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.codec = c
}

// queryDistance estimates the distance between an external query vector and
// an arena node, using the installed codec's compressed representation when
// available and falling back to the exact metric otherwise.
func (idx *Index) queryDistance(query []float32, n *node) float32 {
	if idx.codec != nil && n.code != nil {
		return idx.codec.Distance(query, n.code)
	}
	return idx.distance(query, n.vector)
}

// Contains reports whether id is present in the index, tombstoned or not.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.idToIndex[id]
	return ok
}

func (idx *Index) assignLayer() int {
	idx.rngMu.Lock()
	u := idx.rng.Float64()
	idx.rngMu.Unlock()
	if u <= 0 {
		u = 1e-12
	}
	return int(math.Floor(-math.Log(u) * idx.mL))
}

// Insert adds vec under id following §4.B's insertion algorithm: assign a
// layer, greedy-descend to that layer from the current entry point, then at
// each layer from there down to 0 run search_layer, select a diverse
// neighbourhood with the heuristic rule, and link bidirectionally.
func (idx *Index) Insert(id string, vec []float32) error {
	idx.mu.Lock()
	if _, exists := idx.idToIndex[id]; exists {
		idx.mu.Unlock()
		return vdberr.New(vdberr.Conflict, "index: id %q already indexed", id)
	}
	idx.mu.Unlock()
	return idx.insertNode(id, vec)
}

// Reinsert tombstones id's current node (if any) and inserts vec as a fresh
// node under the same external id, without the duplicate-id conflict
// Insert would raise. This backs the collection engine's update/overwrite
// path, where §4.C calls for "delete-tombstone old and insert new" against
// the same id rather than Insert's normal create-only semantics.
func (idx *Index) Reinsert(id string, vec []float32) error {
	idx.mu.Lock()
	oldID, existed := idx.idToIndex[id]
	delete(idx.idToIndex, id)
	idx.mu.Unlock()

	if existed {
		arena := idx.snap()
		if !arena[oldID].tombstoned.Load() {
			arena[oldID].tombstoned.Store(true)
			idx.mu.Lock()
			idx.tombstones++
			idx.mu.Unlock()
		}
	}
	return idx.insertNode(id, vec)
}

func (idx *Index) insertNode(id string, vec []float32) error {
	layer := idx.assignLayer()

	idx.mu.Lock()
	if idx.dimension == 0 {
		idx.dimension = len(vec)
	} else if len(vec) != idx.dimension {
		idx.mu.Unlock()
		return vdberr.New(vdberr.Invalid, "index: dimension mismatch: got %d want %d", len(vec), idx.dimension)
	}

	prev := idx.snap()
	newID := nodeID(len(prev))
	n := newArenaNode(id, vec, layer)
	if idx.codec != nil {
		if code, err := idx.codec.Encode(vec); err == nil {
			n.code = code
		}
	}
	arena := make([]*node, len(prev)+1)
	copy(arena, prev)
	arena[newID] = n
	idx.arena.Store(&arena)
	idx.idToIndex[id] = newID

	if len(arena) == 1 {
		idx.entryPoint = newID
		idx.topLayer = layer
		idx.mu.Unlock()
		return nil
	}
	entry := idx.entryPoint
	topLayer := idx.topLayer
	idx.mu.Unlock()

	current := entry
	currentDist := idx.queryDistance(vec, arena[current])
	for lc := topLayer; lc > layer; lc-- {
		current, currentDist = idx.greedyClosest(arena, current, currentDist, vec, lc)
	}

	top := layer
	if topLayer < top {
		top = topLayer
	}
	for lc := top; lc >= 0; lc-- {
		candidates := idx.searchLayer(arena, current, vec, idx.efConstruction, lc)
		capM := idx.m
		if lc == 0 {
			capM = idx.m * 2
		}
		selected := selectHeuristic(candidates, capM, idx.distance, arena)
		idx.link(arena, newID, selected, lc, capM)
		if len(candidates) > 0 {
			current = candidates[0].id
		}
	}

	if layer > topLayer {
		idx.mu.Lock()
		if layer > idx.topLayer {
			idx.topLayer = layer
			idx.entryPoint = newID
		}
		idx.mu.Unlock()
	}
	return nil
}

// greedyClosest walks from current toward query within a single layer,
// moving to any strictly closer neighbour until no improvement is found.
func (idx *Index) greedyClosest(arena []*node, current nodeID, currentDist float32, query []float32, layer int) (nodeID, float32) {
	for {
		improved := false
		for _, nb := range arena[current].neighborsAt(layer) {
			if arena[nb].tombstoned.Load() {
				continue
			}
			d := idx.queryDistance(query, arena[nb])
			if d < currentDist {
				current = nb
				currentDist = d
				improved = true
			}
		}
		if !improved {
			return current, currentDist
		}
	}
}

// searchLayer implements §4.B's search_layer: a min-heap of unexplored
// candidates ordered by ascending distance, and a max-heap of the best
// results seen so far capped at size ef. It returns the result set sorted
// ascending by distance.
func (idx *Index) searchLayer(arena []*node, entry nodeID, query []float32, ef int, layer int) []candidate {
	entryDist := idx.queryDistance(query, arena[entry])
	visited := pool.GetVisitedSet()
	defer pool.PutVisitedSet(visited)
	visited[uint32(entry)] = struct{}{}

	candidates := &minHeap{{id: entry, dist: entryDist}}
	heap.Init(candidates)
	results := &maxHeap{{id: entry, dist: entryDist}}
	heap.Init(results)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > results.worst().dist {
			break
		}
		for _, nb := range arena[c.id].neighborsAt(layer) {
			if _, seen := visited[uint32(nb)]; seen {
				continue
			}
			visited[uint32(nb)] = struct{}{}
			if arena[nb].tombstoned.Load() {
				continue
			}
			d := idx.queryDistance(query, arena[nb])
			if results.Len() < ef || d < results.worst().dist {
				heap.Push(candidates, candidate{id: nb, dist: d})
				heap.Push(results, candidate{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// selectHeuristic implements §4.B's diversity-preserving neighbour
// selection: candidates are considered in ascending distance to the query,
// and a candidate is kept only if it is closer to the query than it is to
// every neighbour already selected. This is a free function (not an Index
// method) so pruneNeighborhood can reuse it without holding any lock beyond
// the one stripe it already has.
func selectHeuristic(candidates []candidate, capM int, distance vecmath.DistanceFunc, arena []*node) []nodeID {
	selected := make([]nodeID, 0, capM)
	for _, c := range candidates {
		good := true
		for _, s := range selected {
			if distance(arena[c.id].vector, arena[s].vector) <= c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c.id)
			if len(selected) >= capM {
				break
			}
		}
	}
	return selected
}

// link bidirectionally connects newID with each id in selected at layer,
// pruning any neighbour whose degree now exceeds capM.
func (idx *Index) link(arena []*node, newID nodeID, selected []nodeID, layer int, capM int) {
	for _, other := range selected {
		idx.addNeighbor(arena, newID, other, layer)
		idx.addNeighbor(arena, other, newID, layer)
		idx.pruneNeighborhood(arena, other, layer, capM)
	}
}

func (idx *Index) addNeighbor(arena []*node, a, b nodeID, layer int) {
	stripe := &idx.stripes[stripeFor(a)]
	stripe.Lock()
	defer stripe.Unlock()

	n := arena[a]
	if layer >= len(n.neighbors) {
		return
	}
	cur := n.neighborsAt(layer)
	for _, x := range cur {
		if x == b {
			return
		}
	}
	n.setNeighborsAt(layer, append(cur, b))
}

// pruneNeighborhood re-runs the heuristic over id's own neighbourhood at
// layer when it has grown past capM, per §4.B step 3c. Any neighbour the
// heuristic drops also has its reverse edge removed, so the graph stays
// symmetric at layer 0 (§4's testable invariant) instead of accumulating
// one-directional edges.
func (idx *Index) pruneNeighborhood(arena []*node, id nodeID, layer int, capM int) {
	stripe := &idx.stripes[stripeFor(id)]
	stripe.Lock()

	n := arena[id]
	cur := n.neighborsAt(layer)
	if len(cur) <= capM {
		stripe.Unlock()
		return
	}
	cands := make([]candidate, len(cur))
	for i, nb := range cur {
		cands[i] = candidate{id: nb, dist: idx.distance(n.vector, arena[nb].vector)}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	pruned := selectHeuristic(cands, capM, idx.distance, arena)
	n.setNeighborsAt(layer, pruned)
	stripe.Unlock()

	for _, dropped := range droppedNeighbors(cur, pruned) {
		idx.removeNeighbor(arena, dropped, id, layer)
	}
}

func droppedNeighbors(before, after []nodeID) []nodeID {
	kept := make(map[nodeID]struct{}, len(after))
	for _, k := range after {
		kept[k] = struct{}{}
	}
	var dropped []nodeID
	for _, b := range before {
		if _, ok := kept[b]; !ok {
			dropped = append(dropped, b)
		}
	}
	return dropped
}

func (idx *Index) removeNeighbor(arena []*node, a, b nodeID, layer int) {
	stripe := &idx.stripes[stripeFor(a)]
	stripe.Lock()
	defer stripe.Unlock()

	n := arena[a]
	if layer >= len(n.neighbors) {
		return
	}
	cur := n.neighborsAt(layer)
	out := make([]nodeID, 0, len(cur))
	for _, x := range cur {
		if x != b {
			out = append(out, x)
		}
	}
	n.setNeighborsAt(layer, out)
}

// Search returns the k lowest-distance non-tombstoned ids for query,
// following §4.B's search algorithm: greedy-descend to layer 1, then run
// search_layer at layer 0 with capacity efSearch.
func (idx *Index) Search(query []float32, k int, efSearch int) ([]SearchResult, error) {
	if efSearch < k {
		return nil, vdberr.New(vdberr.Invalid, "index: ef_search (%d) must be >= k (%d)", efSearch, k)
	}

	idx.mu.RLock()
	if idx.dimension != 0 && len(query) != idx.dimension {
		idx.mu.RUnlock()
		return nil, vdberr.New(vdberr.Invalid, "index: dimension mismatch: got %d want %d", len(query), idx.dimension)
	}
	entry := idx.entryPoint
	topLayer := idx.topLayer
	idx.mu.RUnlock()

	// Snapshot after reading entry/topLayer: insertNode always commits its
	// arena swap before it updates entryPoint/topLayer, so a snapshot taken
	// now is guaranteed to include whatever node those two point to.
	arena := idx.snap()
	if len(arena) == 0 {
		return nil, nil
	}

	current := entry
	currentDist := idx.queryDistance(query, arena[current])
	for lc := topLayer; lc > 0; lc-- {
		current, currentDist = idx.greedyClosest(arena, current, currentDist, query, lc)
	}

	found := idx.searchLayer(arena, current, query, efSearch, 0)

	live := found[:0]
	for _, c := range found {
		if !arena[c.id].tombstoned.Load() {
			live = append(live, c)
		}
	}

	// A codec shortlists by approximate distance; rerank the shortlist with
	// the exact metric before truncating so quantisation costs recall only
	// among candidates that never made the shortlist, not within it.
	if idx.codec != nil {
		for i, c := range live {
			live[i].dist = idx.distance(query, arena[c.id].vector)
		}
		sort.Slice(live, func(i, j int) bool { return live[i].dist < live[j].dist })
	}

	if len(live) > k {
		live = live[:k]
	}

	out := make([]SearchResult, len(live))
	for i, c := range live {
		out[i] = SearchResult{ID: arena[c.id].externalID, Distance: vecmath.FinalizeDistance(idx.metric, c.dist)}
	}
	return out, nil
}

// Delete tombstones id: searches will skip it, but its neighbour-list slots
// are reclaimed only by a future compaction pass, per §4.B's deletion note.
func (idx *Index) Delete(id string) error {
	idx.mu.Lock()
	nid, ok := idx.idToIndex[id]
	if ok {
		arena := idx.snap()
		if !arena[nid].tombstoned.Load() {
			arena[nid].tombstoned.Store(true)
			idx.tombstones++
		}
	}
	idx.mu.Unlock()
	if !ok {
		return vdberr.New(vdberr.NotFound, "index: id %q not indexed", id)
	}
	return nil
}
