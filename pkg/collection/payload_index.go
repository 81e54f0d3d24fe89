package collection

import (
	"sort"
	"sync"

	"github.com/orneryd/vdb/pkg/vector"
)

// FilterOp identifies the kind of predicate a Filter applies, per §4.C's
// "exact-match on string fields, numeric range on numeric fields, and set
// membership" secondary-index contract.
type FilterOp int

const (
	FilterEq FilterOp = iota
	FilterRange
	FilterIn
)

// Filter selects vectors whose payload matches a single field predicate.
// Eq compares Value for equality; Range selects Min <= x <= Max; In tests
// set membership against Values.
type Filter struct {
	Field  string
	Op     FilterOp
	Value  any
	Min    float64
	Max    float64
	Values []any
}

type numericEntry struct {
	value float64
	id    vector.ID
}

// fieldIndex holds the lazily-built secondary index for one payload field:
// an exact-match bucket map for strings/any scalar, plus a value-sorted
// slice for numeric range queries.
type fieldIndex struct {
	exact   map[any]map[vector.ID]struct{}
	numeric []numericEntry // kept sorted by value
	built   bool
}

// PayloadIndex is a collection's out-of-band secondary index over payload
// fields, per §4.C. It is built lazily per field on first filter use and
// kept current by the collection's insert/update/delete path, mirroring
// the teacher's label/property index maps (pkg/storage/badger.go's
// prefixLabelIndex) but held in memory rather than on disk: checkpoints do
// not write it, and after a reopen each field is rebuilt from the vector
// map on its first filter use.
type PayloadIndex struct {
	mu     sync.RWMutex
	fields map[string]*fieldIndex
	source func() []*vector.Vector // supplies all vectors for lazy field builds
}

// NewPayloadIndex constructs an empty index. source is called once per
// field the first time that field is filtered on.
func NewPayloadIndex(source func() []*vector.Vector) *PayloadIndex {
	return &PayloadIndex{
		fields: make(map[string]*fieldIndex),
		source: source,
	}
}

func (pi *PayloadIndex) ensureBuilt(field string) *fieldIndex {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	fi, ok := pi.fields[field]
	if ok && fi.built {
		return fi
	}
	fi = &fieldIndex{exact: make(map[any]map[vector.ID]struct{})}
	for _, v := range pi.source() {
		if v.Payload == nil {
			continue
		}
		val, ok := v.Payload[field]
		if !ok {
			continue
		}
		fi.index(v.ID, val)
	}
	sort.Slice(fi.numeric, func(i, j int) bool { return fi.numeric[i].value < fi.numeric[j].value })
	fi.built = true
	pi.fields[field] = fi
	return fi
}

func (fi *fieldIndex) index(id vector.ID, val any) {
	switch x := val.(type) {
	case float64:
		fi.numeric = append(fi.numeric, numericEntry{value: x, id: id})
	case int:
		fi.numeric = append(fi.numeric, numericEntry{value: float64(x), id: id})
	case []any:
		for _, elem := range x {
			fi.addExact(elem, id)
		}
		return
	}
	fi.addExact(val, id)
}

func (fi *fieldIndex) addExact(val any, id vector.ID) {
	set, ok := fi.exact[val]
	if !ok {
		set = make(map[vector.ID]struct{})
		fi.exact[val] = set
	}
	set[id] = struct{}{}
}

func (fi *fieldIndex) removeID(id vector.ID) {
	for _, set := range fi.exact {
		delete(set, id)
	}
	out := fi.numeric[:0]
	for _, e := range fi.numeric {
		if e.id != id {
			out = append(out, e)
		}
	}
	fi.numeric = out
}

// OnInsert updates the index in place for a newly inserted or updated
// vector, so the index stays current without a full rebuild.
func (pi *PayloadIndex) OnInsert(v *vector.Vector) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	for field, fi := range pi.fields {
		if !fi.built {
			continue
		}
		fi.removeID(v.ID)
		if v.Payload == nil {
			continue
		}
		if val, ok := v.Payload[field]; ok {
			fi.index(v.ID, val)
			sort.Slice(fi.numeric, func(i, j int) bool { return fi.numeric[i].value < fi.numeric[j].value })
		}
	}
}

// OnDelete removes id from every built field index.
func (pi *PayloadIndex) OnDelete(id vector.ID) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	for _, fi := range pi.fields {
		if fi.built {
			fi.removeID(id)
		}
	}
}

// Candidates evaluates f, building the field's index lazily if this is its
// first use, and returns the matching id set (the "bitmap of candidate
// ids" of §4.C).
func (pi *PayloadIndex) Candidates(f Filter) map[vector.ID]struct{} {
	fi := pi.ensureBuilt(f.Field)
	pi.mu.RLock()
	defer pi.mu.RUnlock()

	out := make(map[vector.ID]struct{})
	switch f.Op {
	case FilterEq:
		for id := range fi.exact[f.Value] {
			out[id] = struct{}{}
		}
	case FilterIn:
		for _, v := range f.Values {
			for id := range fi.exact[v] {
				out[id] = struct{}{}
			}
		}
	case FilterRange:
		lo := sort.Search(len(fi.numeric), func(i int) bool { return fi.numeric[i].value >= f.Min })
		for i := lo; i < len(fi.numeric) && fi.numeric[i].value <= f.Max; i++ {
			out[fi.numeric[i].id] = struct{}{}
		}
	}
	return out
}
