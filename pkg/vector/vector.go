// Package vector defines the entity types of the vector database's data
// model: the Vector and SparseVector records, their payload, and the
// per-collection configuration that governs how they are validated and
// indexed. It mirrors the way the teacher repo's storage package defines
// Node/Edge as plain structs with a handful of free validation functions,
// generalized from a labeled property graph to a vector store.
package vector

import (
	"math"

	"github.com/orneryd/vdb/pkg/vdberr"
)

// ID is a strongly-typed vector identifier, unique within its collection.
type ID string

// Vector is a fixed-dimension floating-point point with an optional sparse
// companion and an optional JSON payload.
//
// Data must be finite in every component. If the owning collection's metric
// is Cosine, the stored Data is L2-normalised on insert; Raw preserves the
// pre-normalisation values for callers that need the bit-identical input
// back out of Get (see §8's "subsequent get returns exactly the inserted
// data" invariant, read together with the cosine normalisation invariant).
type Vector struct {
	ID      ID             `json:"id"`
	Data    []float32      `json:"data"`
	Raw     []float32      `json:"-"`
	Sparse  *SparseVector  `json:"sparse,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SparseVector pairs strictly increasing dimension indices with values, used
// only for hybrid sparse+dense scoring.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Metric identifies a distance function.
type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
	Dot       Metric = "dot"
)

// QuantisationKind identifies a quantisation codec.
type QuantisationKind string

const (
	QuantNone    QuantisationKind = "none"
	QuantScalar  QuantisationKind = "scalar"
	QuantProduct QuantisationKind = "product"
	QuantBinary  QuantisationKind = "binary"
)

// HNSWParams are the graph construction/search parameters for a collection.
type HNSWParams struct {
	M              int   `yaml:"M" json:"M"`
	EfConstruction int   `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int   `yaml:"ef_search" json:"ef_search"`
	Seed           int64 `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// DefaultHNSWParams matches the collection_defaults.hnsw defaults in §6.
func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, EfConstruction: 200, EfSearch: 50}
}

// QuantisationConfig configures a collection's quantisation codec.
type QuantisationConfig struct {
	Kind QuantisationKind `yaml:"kind" json:"kind"`
	Bits int              `yaml:"bits,omitempty" json:"bits,omitempty"`     // scalar, product sub-code width
	M    int              `yaml:"m,omitempty" json:"m,omitempty"`          // product: number of sub-vectors
}

// EncryptionConfig mirrors §6's encryption block. The core never reads or
// writes encrypted_data; it only ever sees the JSON envelope shape as an
// opaque payload value when Enabled is true. Encrypting/decrypting payloads
// is performed by an out-of-scope collaborator before the payload reaches
// the collection engine.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Algorithm string `yaml:"algorithm" json:"algorithm"`
}

// DuplicatePolicy controls insert behaviour when an id already exists.
type DuplicatePolicy string

const (
	DuplicateReject    DuplicatePolicy = "reject"
	DuplicateOverwrite DuplicatePolicy = "overwrite"
)

// CollectionConfig is the immutable-after-create configuration of a
// collection, per §3's CollectionConfig entity.
type CollectionConfig struct {
	Dimension       int                 `yaml:"dimension" json:"dimension"`
	Metric          Metric              `yaml:"metric" json:"metric"`
	HNSW            HNSWParams          `yaml:"hnsw" json:"hnsw"`
	Quantisation    QuantisationConfig  `yaml:"quantisation" json:"quantisation"`
	DuplicateOnID   DuplicatePolicy     `yaml:"duplicate_policy" json:"duplicate_policy"`
	Sharding        *ShardingConfig     `yaml:"sharding,omitempty" json:"sharding,omitempty"`
	Encryption      *EncryptionConfig   `yaml:"encryption,omitempty" json:"encryption,omitempty"`
}

// ShardingConfig configures a sharded collection. S is the fixed shard
// count chosen at create time (§4.F).
type ShardingConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	ShardCount int  `yaml:"shard_count" json:"shard_count"`
}

// Normalize returns the L2-normalised copy of v, and the original norm.
func Normalize(v []float32) ([]float32, float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sumSq))
	if norm == 0 {
		return append([]float32(nil), v...), 0
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out, norm
}

// Validate checks data against a collection's dimension and finiteness
// requirements, returning a vdberr.Invalid error describing the first
// violation found.
func Validate(data []float32, cfg CollectionConfig) error {
	if len(data) != cfg.Dimension {
		return vdberr.New(vdberr.Invalid, "dimension mismatch: got %d want %d", len(data), cfg.Dimension)
	}
	for i, x := range data {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return vdberr.New(vdberr.Invalid, "non-finite component at index %d", i)
		}
	}
	return nil
}

// PrepareInsert validates data and, for the cosine metric, returns the
// L2-normalised storage representation alongside the untouched original.
func PrepareInsert(data []float32, cfg CollectionConfig) (stored, raw []float32, err error) {
	if err := Validate(data, cfg); err != nil {
		return nil, nil, err
	}
	raw = append([]float32(nil), data...)
	if cfg.Metric == Cosine {
		normalised, _ := Normalize(data)
		return normalised, raw, nil
	}
	return raw, raw, nil
}
