package quantize

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSample(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestScalarCodecRoundTrip(t *testing.T) {
	sample := randomSample(64, 8, 1)
	codec := NewScalarCodec(sample, 8, 8)

	code, err := codec.Encode(sample[0])
	require.NoError(t, err)
	require.Len(t, code, codec.CodeSize())

	decoded := codec.Decode(code)
	for d := range decoded {
		assert.InDelta(t, sample[0][d], decoded[d], 0.02)
	}
}

func TestScalarCodecDimensionMismatch(t *testing.T) {
	codec := NewScalarCodec(randomSample(8, 4, 2), 4, 8)
	_, err := codec.Encode([]float32{1, 2, 3})
	assert.Error(t, err)
}

func TestScalarCodecDistanceMonotone(t *testing.T) {
	sample := randomSample(64, 16, 3)
	codec := NewScalarCodec(sample, 16, 8)

	near, _ := codec.Encode(sample[0])
	far := make([]float32, 16)
	for d := range far {
		far[d] = sample[0][d] + 5
	}
	farCode, _ := codec.Encode(far)

	dNear := codec.Distance(sample[0], near)
	dFar := codec.Distance(sample[0], farCode)
	assert.Less(t, dNear, dFar)
}

func TestProductCodecRoundTrip(t *testing.T) {
	sample := randomSample(200, 8, 4)
	codec := TrainProductCodec(sample, 8, 4, 4, 25)

	code, err := codec.Encode(sample[0])
	require.NoError(t, err)
	require.Len(t, code, codec.CodeSize())

	decoded := codec.Decode(code)
	assert.Len(t, decoded, 8)
}

func TestProductCodecDistanceSelfIsSmall(t *testing.T) {
	sample := randomSample(200, 8, 5)
	codec := TrainProductCodec(sample, 8, 4, 4, 25)

	code, _ := codec.Encode(sample[0])
	dSelf := codec.Distance(sample[0], code)

	far := make([]float32, 8)
	for d := range far {
		far[d] = sample[0][d] + 10
	}
	farCode, _ := codec.Encode(far)
	dFar := codec.Distance(sample[0], farCode)

	assert.Less(t, dSelf, dFar)
}

func TestProductCodecDivisibilityFallback(t *testing.T) {
	// dim=10 with m=4 doesn't divide evenly; codec should fall back to a
	// smaller m that does.
	codec := TrainProductCodec(randomSample(50, 10, 6), 10, 4, 4, 10)
	assert.Equal(t, 0, 10%codec.M)
}

func TestBinaryCodecHammingZeroForSelf(t *testing.T) {
	sample := randomSample(64, 16, 7)
	codec := NewBinaryCodec(sample, 16)

	code, err := codec.Encode(sample[0])
	require.NoError(t, err)

	dist := codec.Distance(sample[0], code)
	assert.Equal(t, float32(0), dist)
}

func TestBinaryCodecHammingDistanceIncreasesWithFlips(t *testing.T) {
	sample := randomSample(64, 32, 8)
	codec := NewBinaryCodec(sample, 32)

	code, _ := codec.Encode(sample[0])
	flipped := append([]float32(nil), sample[0]...)
	for d := 0; d < 5; d++ {
		flipped[d] = codec.threshold[d] - 10 // force bit flip
	}
	flippedCode, _ := codec.Encode(flipped)

	dist := hammingDistance(code, flippedCode)
	assert.GreaterOrEqual(t, dist, 1)
}

func TestBinaryCodecCodeSizePacksBits(t *testing.T) {
	codec := NewBinaryCodec(randomSample(8, 17, 9), 17)
	assert.Equal(t, 3, codec.CodeSize()) // ceil(17/8)
}
