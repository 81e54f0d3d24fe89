package collection

import (
	"sync"

	"github.com/orneryd/vdb/pkg/vector"
)

// shardCount is the number of buckets the vector map is split across, per
// §5's "concurrent hash map with per-bucket locks" requirement. A fixed
// power of two keeps the id-to-bucket hash a cheap bitmask, same idiom as
// pkg/index/node.go's lock striping.
const shardCount = 64

type vectorShard struct {
	mu sync.RWMutex
	m  map[vector.ID]*vector.Vector
}

// vectorMap is the collection's authoritative `map<id,Vector>` storage,
// split into independently-locked shards so concurrent inserts to
// different ids never contend on a single mutex.
type vectorMap struct {
	shards [shardCount]*vectorShard
}

func newVectorMap() *vectorMap {
	vm := &vectorMap{}
	for i := range vm.shards {
		vm.shards[i] = &vectorShard{m: make(map[vector.ID]*vector.Vector)}
	}
	return vm
}

func (vm *vectorMap) shardFor(id vector.ID) *vectorShard {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return vm.shards[h%shardCount]
}

func (vm *vectorMap) get(id vector.ID) (*vector.Vector, bool) {
	s := vm.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[id]
	return v, ok
}

func (vm *vectorMap) set(v *vector.Vector) {
	s := vm.shardFor(v.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[v.ID] = v
}

func (vm *vectorMap) delete(id vector.ID) {
	s := vm.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

func (vm *vectorMap) has(id vector.ID) bool {
	_, ok := vm.get(id)
	return ok
}

func (vm *vectorMap) len() int {
	n := 0
	for _, s := range vm.shards {
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

// all returns every stored vector. Used by checkpointing, which already
// runs with mutating operations quiesced.
func (vm *vectorMap) all() []*vector.Vector {
	out := make([]*vector.Vector, 0, vm.len())
	for _, s := range vm.shards {
		s.mu.RLock()
		for _, v := range s.m {
			out = append(out, v)
		}
		s.mu.RUnlock()
	}
	return out
}
