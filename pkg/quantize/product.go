package quantize

import (
	"math"
	"math/rand"
)

// ProductCodec splits each vector into M contiguous sub-vectors and replaces
// each sub-vector with the index of its nearest centroid in a per-sub-vector
// codebook of 2^Bits centroids, per §4.A's product quantisation design note.
// Distance is estimated with the asymmetric distance computation: each of
// the query's own sub-vectors is compared with the centroid its stored
// sub-code names, and the squared distances are summed over the M
// sub-vectors. No per-query distance table is built.
type ProductCodec struct {
	Dim  int
	M    int // number of sub-vectors; Dim must be divisible by M
	Bits int // bits per sub-code; centroids per sub-vector = 2^Bits

	subDim    int
	centroids [][][]float32 // [M][2^Bits][subDim]
}

// TrainProductCodec trains a ProductCodec's M codebooks from a sample of
// vectors using Lloyd's algorithm with k-means++ initialisation, mirroring
// the training loop the teacher runs for its embedding clusters: init
// centroids proportional to squared distance from already-chosen centroids,
// then alternate assignment and centroid-averaging until assignments stop
// changing or maxIter is reached.
func TrainProductCodec(sample [][]float32, dim, m, bits, maxIter int) *ProductCodec {
	if m <= 0 {
		m = 1
	}
	if dim%m != 0 {
		// fall back to the largest divisor <= m so every sub-vector is equal width
		for m > 1 && dim%m != 0 {
			m--
		}
	}
	if bits <= 0 || bits > 8 {
		bits = 8
	}
	subDim := dim / m
	k := 1 << uint(bits)

	c := &ProductCodec{Dim: dim, M: m, Bits: bits, subDim: subDim}
	c.centroids = make([][][]float32, m)

	for sub := 0; sub < m; sub++ {
		subVectors := make([][]float32, len(sample))
		for i, v := range sample {
			subVectors[i] = v[sub*subDim : sub*subDim+subDim]
		}
		c.centroids[sub] = trainSubCodebook(subVectors, subDim, k, maxIter)
	}
	return c
}

// trainSubCodebook runs k-means++ init followed by Lloyd iteration on one
// sub-space, returning k centroids. k is capped at len(subVectors) so a
// sparse sample never asks for more centroids than there are points.
func trainSubCodebook(subVectors [][]float32, subDim, k, maxIter int) [][]float32 {
	n := len(subVectors)
	if n == 0 {
		return make([][]float32, k)
	}
	if k > n {
		k = n
	}
	centroids := initKMeansPlusPlus(subVectors, subDim, k)
	assignments := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		changed := 0
		for i, v := range subVectors {
			nearest, _ := nearestCentroid(v, centroids)
			if assignments[i] != nearest {
				assignments[i] = nearest
				changed++
			}
		}
		sums := make([][]float64, len(centroids))
		counts := make([]int, len(centroids))
		for c := range sums {
			sums[c] = make([]float64, subDim)
		}
		for i, v := range subVectors {
			cl := assignments[i]
			counts[cl]++
			for d, x := range v {
				sums[cl][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < subDim; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
		if changed == 0 {
			break
		}
	}

	if len(centroids) < k {
		// pad with copies of the last centroid so CodeSize stays fixed-width
		for len(centroids) < k {
			centroids = append(centroids, append([]float32(nil), centroids[len(centroids)-1]...))
		}
	}
	return centroids
}

func initKMeansPlusPlus(points [][]float32, dim, k int) [][]float32 {
	n := len(points)
	centroids := make([][]float32, 0, k)
	first := rand.Intn(n)
	centroids = append(centroids, append([]float32(nil), points[first]...))

	minDist := make([]float64, n)
	for i, p := range points {
		minDist[i] = squaredEuclidean64(p, centroids[0])
	}

	for len(centroids) < k {
		total := 0.0
		for _, d := range minDist {
			total += d
		}
		if total == 0 {
			// all remaining points coincide with a chosen centroid; pick arbitrarily
			centroids = append(centroids, append([]float32(nil), points[rand.Intn(n)]...))
			continue
		}
		target := rand.Float64() * total
		cum := 0.0
		chosen := n - 1
		for i, d := range minDist {
			cum += d
			if cum >= target {
				chosen = i
				break
			}
		}
		next := append([]float32(nil), points[chosen]...)
		centroids = append(centroids, next)
		for i, p := range points {
			if d := squaredEuclidean64(p, next); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return centroids
}

func squaredEuclidean64(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

func nearestCentroid(v []float32, centroids [][]float32) (int, float64) {
	best := 0
	bestDist := math.MaxFloat64
	for c, centroid := range centroids {
		d := squaredEuclidean64(v, centroid)
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best, bestDist
}

func (c *ProductCodec) CodeSize() int { return c.M }

func (c *ProductCodec) Encode(v []float32) ([]byte, error) {
	if len(v) != c.Dim {
		return nil, dimensionError(len(v), c.Dim)
	}
	code := make([]byte, c.M)
	for sub := 0; sub < c.M; sub++ {
		subVec := v[sub*c.subDim : sub*c.subDim+c.subDim]
		nearest, _ := nearestCentroid(subVec, c.centroids[sub])
		code[sub] = byte(nearest)
	}
	return code, nil
}

func (c *ProductCodec) Decode(code []byte) []float32 {
	out := make([]float32, c.Dim)
	for sub := 0; sub < c.M && sub < len(code); sub++ {
		centroid := c.centroids[sub][code[sub]]
		copy(out[sub*c.subDim:sub*c.subDim+c.subDim], centroid)
	}
	return out
}

// Distance computes the asymmetric distance: for each sub-vector of query,
// the squared distance to the centroid identified by code's sub-code, summed
// across all M sub-vectors. No per-query distance table is built here since
// the index scores one code at a time; a table would pay off only when many
// codes share a query, which HNSW's candidate scoring does not do.
func (c *ProductCodec) Distance(query []float32, code []byte) float32 {
	var sum float64
	for sub := 0; sub < c.M && sub < len(code); sub++ {
		subVec := query[sub*c.subDim : sub*c.subDim+c.subDim]
		centroid := c.centroids[sub][code[sub]]
		sum += squaredEuclidean64(subVec, centroid)
	}
	return float32(sum)
}
