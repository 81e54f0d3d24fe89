// Package quantize implements the vector compression codecs of §4.A:
// scalar (per-dimension bucketing), product (sub-vector codebooks trained
// with k-means) and binary (median-threshold bitpacking). Each codec can
// encode a float32 vector to its compressed representation, decode it back
// to an approximation, and compute an approximate distance directly against
// the compressed form without a full decode, which is what the index uses
// on its candidate-scoring hot path.
//
// The product codec's training loop is grounded on the teacher's GPU k-means
// clustering (pkg/gpu/kmeans.go): k-means++ initialisation, squared-Euclidean
// assignment, and Lloyd-style centroid averaging, trimmed of the teacher's
// incremental re-clustering and drift-tracking machinery, which has no
// analogue in a one-shot codebook trained at collection build time.
package quantize

import "github.com/orneryd/vdb/pkg/vdberr"

// Codec compresses and decompresses vectors of a single fixed dimension and
// estimates distances directly on the compressed representation.
type Codec interface {
	// Encode compresses a raw vector into its stored representation.
	Encode(v []float32) ([]byte, error)
	// Decode expands a stored representation back into an approximation of
	// the original vector.
	Decode(code []byte) []float32
	// Distance estimates the distance between a raw query vector and a
	// stored code, without fully decoding the code where the codec allows it.
	Distance(query []float32, code []byte) float32
	// CodeSize returns the number of bytes Encode produces for this codec's
	// configured dimension.
	CodeSize() int
}

func dimensionError(got, want int) error {
	return vdberr.New(vdberr.Invalid, "quantize: dimension mismatch: got %d want %d", got, want)
}
