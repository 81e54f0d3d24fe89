// Package collection implements the collection engine of §4.C: a named
// vector store wrapping an HNSW index, the authoritative vector map, an
// optional payload secondary index, and a WAL handle. This plays the role
// the teacher's pkg/storage package plays for the property graph — the
// single place that enforces write-ahead logging, validation, and
// failure-rollback semantics around a lower-level index.
package collection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orneryd/vdb/pkg/index"
	"github.com/orneryd/vdb/pkg/obs"
	"github.com/orneryd/vdb/pkg/quantize"
	"github.com/orneryd/vdb/pkg/vdberr"
	"github.com/orneryd/vdb/pkg/vector"
	"github.com/orneryd/vdb/pkg/wal"
	"go.uber.org/zap"
)

// SearchHit is one ranked result from Search.
type SearchHit struct {
	ID       vector.ID
	Distance float32
	Payload  map[string]any
}

// insertPayload, deletePayload, and updatePayload are the JSON-encoded
// shapes carried inside WAL records, grounded on the teacher's
// WALNodeData/WALDeleteData (pkg/storage/wal.go).
type insertPayload struct {
	ID      vector.ID      `json:"id"`
	Data    []float32      `json:"data"`
	Payload map[string]any `json:"payload,omitempty"`
}

type deletePayload struct {
	ID vector.ID `json:"id"`
}

// Collection is one named vector store. The zero value is not usable;
// construct with Create or Open.
type Collection struct {
	Name   string
	Config vector.CollectionConfig

	dataDir string
	log     *zap.Logger

	idx        *index.Index
	vectors    *vectorMap
	payloadIdx *PayloadIndex
	wal        *wal.WAL

	codecOnce sync.Once

	metaMu    sync.RWMutex
	createdAt time.Time
	updatedAt time.Time
}

// Create initialises a brand-new, empty, WAL-enabled collection under
// dataDir/name, per §3's "A collection is created by the registry,
// persisted (config + empty index) to disk, and WAL-enabled" lifecycle.
func Create(name string, cfg vector.CollectionConfig, dataDir string, log *zap.Logger, metrics *obs.Metrics) (*Collection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "collection: create dir for %s", name)
	}

	walCfg := wal.DefaultConfig(filepath.Join(dir, "wal"))
	walCfg.Metrics = metrics
	w, err := wal.Open(walCfg, log)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		Name:      name,
		Config:    cfg,
		dataDir:   dir,
		log:       log,
		idx:       index.New(toIndexConfig(cfg)),
		vectors:   newVectorMap(),
		wal:       w,
		createdAt: time.Now(),
		updatedAt: time.Now(),
	}
	c.payloadIdx = NewPayloadIndex(c.vectors.all)

	if err := wal.WriteAtomic(filepath.Join(dir, "config.json"), mustMarshal(cfg)); err != nil {
		w.Close()
		return nil, err
	}
	return c, nil
}

// Open reopens an existing collection directory, restoring state from the
// most recent checkpoint (if any) and replaying WAL records past its
// high-water mark, per §4.E's recovery procedure.
func Open(name, dataDir string, log *zap.Logger, metrics *obs.Metrics) (*Collection, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Join(dataDir, name)

	cfgBytes, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, vdberr.Wrap(vdberr.NotFound, err, "collection: read config for %s", name)
	}
	var cfg vector.CollectionConfig
	if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, vdberr.Wrap(vdberr.Corruption, err, "collection: decode config for %s", name)
	}

	c := &Collection{
		Name:      name,
		Config:    cfg,
		dataDir:   dir,
		log:       log,
		idx:       index.New(toIndexConfig(cfg)),
		vectors:   newVectorMap(),
		createdAt: time.Now(),
		updatedAt: time.Now(),
	}
	c.payloadIdx = NewPayloadIndex(c.vectors.all)

	var highWater uint64
	snapPath := filepath.Join(dir, "snapshot.bin")
	if data, err := os.ReadFile(snapPath); err == nil {
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		c.idx = index.Restore(toIndexConfig(cfg), snap.Graph)
		for _, v := range snap.Vectors {
			v.Raw = v.Data
			c.vectors.set(v)
		}
		highWater = snap.CheckpointSeqNo
	} else if !os.IsNotExist(err) {
		return nil, vdberr.Wrap(vdberr.Internal, err, "collection: read snapshot for %s", name)
	}

	walCfg := wal.DefaultConfig(filepath.Join(dir, "wal"))
	walCfg.Metrics = metrics
	w, err := wal.Open(walCfg, log)
	if err != nil {
		return nil, err
	}
	c.wal = w

	records, err := wal.ReadAfter(filepath.Join(dir, "wal", "wal.log"), highWater)
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, rec := range records {
		if err := c.replay(rec); err != nil {
			log.Warn("collection: replay stopped on bad record", zap.String("collection", name), zap.Error(err))
			break
		}
	}
	return c, nil
}

func (c *Collection) replay(rec wal.Record) error {
	switch rec.Op {
	case wal.OpInsert, wal.OpUpdate:
		var p insertPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		v := &vector.Vector{ID: p.ID, Data: p.Data, Raw: p.Data, Payload: p.Payload}
		c.vectors.set(v)
		if c.idx.Contains(string(p.ID)) {
			_ = c.idx.Reinsert(string(p.ID), v.Data)
		} else {
			_ = c.idx.Insert(string(p.ID), v.Data)
		}
	case wal.OpDelete:
		var p deletePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		c.vectors.delete(p.ID)
		_ = c.idx.Delete(string(p.ID))
	}
	return nil
}

func toIndexConfig(cfg vector.CollectionConfig) index.Config {
	return index.Config{
		M:              cfg.HNSW.M,
		EfConstruction: cfg.HNSW.EfConstruction,
		EfSearch:       cfg.HNSW.EfSearch,
		Seed:           cfg.HNSW.Seed,
		Metric:         string(cfg.Metric),
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Insert validates and inserts each vector, per §4.C's insert contract:
// WAL append, then vector map, then HNSW, then payload index. It returns
// the number of vectors inserted before any failure; a duplicate id under
// the reject policy stops the batch with Conflict, and the vectors before
// it stay inserted.
func (c *Collection) Insert(vectors []*vector.Vector) (int, error) {
	c.maybeTrainCodec(vectors)

	inserted := 0
	for _, v := range vectors {
		stored, raw, err := vector.PrepareInsert(v.Data, c.Config)
		if err != nil {
			return inserted, err
		}
		exists := c.vectors.has(v.ID)
		if exists && c.Config.DuplicateOnID != vector.DuplicateOverwrite {
			return inserted, vdberr.New(vdberr.Conflict, "collection: id %q already exists", v.ID)
		}

		payload := insertPayload{ID: v.ID, Data: stored, Payload: v.Payload}
		data, err := json.Marshal(payload)
		if err != nil {
			return inserted, vdberr.Wrap(vdberr.Internal, err, "collection: marshal insert payload")
		}
		if _, err := c.wal.Append(wal.OpInsert, data); err != nil {
			return inserted, err
		}

		stored2 := &vector.Vector{ID: v.ID, Data: stored, Raw: raw, Sparse: v.Sparse, Payload: v.Payload}
		c.vectors.set(stored2)

		// Reinsert tombstones any existing graph node under this id first,
		// so an overwrite never trips the duplicate-id conflict a plain
		// Insert would raise against its own prior node.
		if err := c.idx.Reinsert(string(v.ID), stored); err != nil {
			// HNSW insertion failure rolls back the vector-map write with a
			// compensating delete, per §4.C's failure semantics, rather than
			// leaving the map and graph out of sync.
			c.vectors.delete(v.ID)
			return inserted, err
		}

		c.payloadIdx.OnInsert(stored2)
		inserted++
	}
	c.touch()
	return inserted, nil
}

// maybeTrainCodec installs a quantisation codec on the index the first time
// a batch arrives for a collection configured with one, per §4.A's
// quantised candidate-scoring design. Training needs sample vectors, so it
// rides the first Insert call rather than Create/Open; codecOnce makes this
// a one-shot regardless of how many goroutines call Insert concurrently, and
// a batch too small to contain any preparable vector leaves the index
// unquantised for good, since later batches do not retry (codecOnce is
// consumed either way, matching the teacher's one-shot sync.Once patterns elsewhere
// that don't retry on a failed first attempt).
func (c *Collection) maybeTrainCodec(vectors []*vector.Vector) {
	q := c.Config.Quantisation
	if q.Kind == "" || q.Kind == vector.QuantNone {
		return
	}
	c.codecOnce.Do(func() {
		sample := make([][]float32, 0, len(vectors))
		for _, v := range vectors {
			stored, _, err := vector.PrepareInsert(v.Data, c.Config)
			if err != nil {
				continue
			}
			sample = append(sample, stored)
		}
		if len(sample) == 0 {
			return
		}
		dim := c.Config.Dimension

		var codec quantize.Codec
		switch q.Kind {
		case vector.QuantBinary:
			codec = quantize.NewBinaryCodec(sample, dim)
		case vector.QuantScalar:
			bits := q.Bits
			if bits <= 0 {
				bits = 8
			}
			codec = quantize.NewScalarCodec(sample, dim, bits)
		case vector.QuantProduct:
			bits := q.Bits
			if bits <= 0 {
				bits = 8
			}
			m := q.M
			if m <= 0 {
				m = 8
			}
			for dim%m != 0 && m > 1 {
				m--
			}
			codec = quantize.TrainProductCodec(sample, dim, m, bits, 25)
		default:
			c.log.Warn("collection: unknown quantisation kind, leaving index unquantised", zap.String("kind", string(q.Kind)))
			return
		}
		c.idx.SetCodec(codec)
	})
}

// Update replaces an existing vector's data/payload in place. The HNSW
// graph re-links by tombstoning the old node and inserting a fresh one,
// per §4.C's "delete-tombstone old and insert new" semantics.
func (c *Collection) Update(v *vector.Vector) error {
	if !c.vectors.has(v.ID) {
		return vdberr.New(vdberr.NotFound, "collection: id %q not found", v.ID)
	}
	stored, raw, err := vector.PrepareInsert(v.Data, c.Config)
	if err != nil {
		return err
	}

	payload := insertPayload{ID: v.ID, Data: stored, Payload: v.Payload}
	data, err := json.Marshal(payload)
	if err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "collection: marshal update payload")
	}
	if _, err := c.wal.Append(wal.OpUpdate, data); err != nil {
		return err
	}

	updated := &vector.Vector{ID: v.ID, Data: stored, Raw: raw, Sparse: v.Sparse, Payload: v.Payload}
	c.vectors.set(updated)
	if err := c.idx.Reinsert(string(v.ID), stored); err != nil {
		return err
	}
	c.payloadIdx.OnInsert(updated)
	c.touch()
	return nil
}

// Delete removes id from the vector map, tombstones it in the HNSW graph,
// and drops it from the payload index.
func (c *Collection) Delete(id vector.ID) error {
	if !c.vectors.has(id) {
		return vdberr.New(vdberr.NotFound, "collection: id %q not found", id)
	}
	data, err := json.Marshal(deletePayload{ID: id})
	if err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "collection: marshal delete payload")
	}
	if _, err := c.wal.Append(wal.OpDelete, data); err != nil {
		return err
	}
	c.vectors.delete(id)
	if err := c.idx.Delete(string(id)); err != nil {
		c.log.Warn("collection: tombstone after map delete failed", zap.String("id", string(id)), zap.Error(err))
	}
	c.payloadIdx.OnDelete(id)
	c.touch()
	return nil
}

// Get looks up id directly in the vector map.
func (c *Collection) Get(id vector.ID) (*vector.Vector, bool) {
	return c.vectors.get(id)
}

// Search runs an approximate nearest-neighbour query, optionally
// pre-filtering by payload to a candidate id set before ranking, per
// §4.C's search contract. With a filter, Search asks the index for
// efSearch results rather than k and keeps the first k allowed ids, so the
// post-filtered search has more than k candidates to draw matches from;
// when the filter allows more than k ids, efSearch is also widened fourfold.
func (c *Collection) Search(query []float32, k, efSearch int, filter *Filter) ([]SearchHit, error) {
	var allowed map[vector.ID]struct{}
	if filter != nil {
		allowed = c.payloadIdx.Candidates(*filter)
	}

	searchEf := efSearch
	if allowed != nil && len(allowed) > k {
		searchEf = efSearch * 4
	}
	searchK := k
	if allowed != nil && searchEf >= k {
		searchK = searchEf
	}

	results, err := c.idx.Search(query, searchK, searchEf)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		id := vector.ID(r.ID)
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		v, ok := c.vectors.get(id)
		var payload map[string]any
		if ok {
			payload = v.Payload
		}
		hits = append(hits, SearchHit{ID: id, Distance: r.Distance, Payload: payload})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// VectorCount returns the number of live vectors in the collection.
func (c *Collection) VectorCount() int { return c.vectors.len() }

// All returns every stored vector, for callers that must export the whole
// collection (shard migration, snapshotting) rather than look up one id.
func (c *Collection) All() []*vector.Vector { return c.vectors.all() }

func (c *Collection) touch() {
	c.metaMu.Lock()
	c.updatedAt = time.Now()
	c.metaMu.Unlock()
}

// CreatedAt and UpdatedAt report collection metadata timestamps.
func (c *Collection) CreatedAt() time.Time {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.createdAt
}

func (c *Collection) UpdatedAt() time.Time {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	return c.updatedAt
}

// Checkpoint serialises the collection's current state to snapshot.bin and
// truncates the WAL up to the sequence number the snapshot covers, per
// §4.E's checkpoint procedure.
func (c *Collection) Checkpoint() error {
	seq := c.wal.SeqNo()
	data, err := encodeSnapshot(c.Config, c.vectors.all(), c.idx.Export(), seq)
	if err != nil {
		return err
	}
	if err := wal.WriteAtomic(filepath.Join(c.dataDir, "snapshot.bin"), data); err != nil {
		return err
	}
	return c.wal.Truncate(seq)
}

// ShouldCheckpoint reports whether the WAL has accumulated enough records
// since the last checkpoint to warrant triggering one.
func (c *Collection) ShouldCheckpoint() bool { return c.wal.ShouldCheckpoint() }

// Close flushes and closes the collection's WAL.
func (c *Collection) Close() error { return c.wal.Close() }
