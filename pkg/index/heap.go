package index

import "container/heap"

// candidate pairs a node with its distance to the current query, used as the
// element type of both heaps in search_layer.
type candidate struct {
	id   nodeID
	dist float32
}

// minHeap orders candidates ascending by distance: search_layer pops the
// nearest unexplored candidate from this heap at each step.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap orders candidates descending by distance: search_layer's result
// set is capped at ef by popping the current worst (largest distance) result
// whenever the set grows past ef.
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// worst returns the current largest-distance element of a non-empty maxHeap
// without popping it.
func (h maxHeap) worst() candidate { return h[0] }

var (
	_ heap.Interface = (*minHeap)(nil)
	_ heap.Interface = (*maxHeap)(nil)
)
