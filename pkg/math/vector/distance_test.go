package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical vectors", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"orthogonal vectors", []float32{1, 0, 0}, []float32{0, 1, 0}, 1},
		{"opposite vectors", []float32{1, 0, 0}, []float32{-1, 0, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineDistance(tt.a, tt.b), 0.001)
		})
	}
}

func TestCosineDistanceMismatchedOrEmptyReturnsOne(t *testing.T) {
	assert.Equal(t, float32(1), CosineDistance([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, float32(1), CosineDistance(nil, nil))
}

func TestSquaredEuclidean(t *testing.T) {
	a := []float32{0, 0, 0, 0, 0}
	b := []float32{3, 4, 0, 0, 0}
	assert.Equal(t, float32(25), SquaredEuclidean(a, b))
}

func TestSquaredEuclideanUnrolledTailMatchesScalarLoop(t *testing.T) {
	// seven elements exercises both the 4-wide unrolled stride and the
	// scalar remainder loop in the same call.
	a := []float32{1, 2, 3, 4, 5, 6, 7}
	b := []float32{0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, float32(1+4+9+16+25+36+49), SquaredEuclidean(a, b))
}

func TestEuclideanDistance(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{3, 4}
	assert.InDelta(t, 5, EuclideanDistance(a, b), 0.001)
}

func TestDotDistance(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}
	assert.InDelta(t, -32, DotDistance(a, b), 0.001)
}

func TestResolveDistanceOrdersByMetric(t *testing.T) {
	v := []float32{1, 0}
	w := []float32{0, 1}

	// euclidean's ordering form is squared distance, not the rooted one.
	assert.InDelta(t, 2, ResolveDistance("euclidean")(v, w), 0.001)
	assert.InDelta(t, 0, ResolveDistance("dot")(v, w), 0.001)
	assert.InDelta(t, 1, ResolveDistance("cosine")(v, w), 0.001)
	assert.InDelta(t, 1, ResolveDistance("unknown")(v, w), 0.001, "unrecognised metric should default to cosine")
}

func TestFinalizeDistanceRootsEuclideanOnly(t *testing.T) {
	assert.InDelta(t, math.Sqrt(2), FinalizeDistance("euclidean", 2), 0.001)
	assert.Equal(t, float32(0.5), FinalizeDistance("cosine", 0.5))
	assert.Equal(t, float32(-3), FinalizeDistance("dot", -3))
}
