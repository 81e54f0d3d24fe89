package index

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 16, cfg.M)
	assert.Equal(t, 200, cfg.EfConstruction)
	assert.Equal(t, 50, cfg.EfSearch)
}

func TestInsertAndSearchExactMatch(t *testing.T) {
	idx := New(Config{M: 16, EfConstruction: 100, EfSearch: 20, Metric: "cosine", Seed: 1})

	require.NoError(t, idx.Insert("x", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Insert("y", []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Insert("z", []float32{0, 0, 1, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 1, 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestInsertDuplicateIDConflict(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Insert("a", []float32{1, 2, 3}))
	err := idx.Insert("a", []float32{4, 5, 6})
	require.Error(t, err)
}

func TestInsertDimensionMismatch(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Insert("a", []float32{1, 2, 3}))
	err := idx.Insert("b", []float32{1, 2})
	require.Error(t, err)
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Insert("a", []float32{1, 2, 3}))
	_, err := idx.Search([]float32{1, 2}, 1, 10)
	require.Error(t, err)
}

func TestSearchEfLessThanKIsInvalid(t *testing.T) {
	idx := New(DefaultConfig())
	require.NoError(t, idx.Insert("a", []float32{1, 2, 3}))
	_, err := idx.Search([]float32{1, 2, 3}, 5, 2)
	require.Error(t, err)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(DefaultConfig())
	results, err := idx.Search([]float32{1, 2, 3}, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := New(Config{M: 16, EfConstruction: 100, EfSearch: 20, Metric: "cosine", Seed: 2})
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0.9, 0.1, 0}))

	require.NoError(t, idx.Delete("a"))
	assert.True(t, idx.Contains("a"))
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 1, idx.LiveLen())

	results, err := idx.Search([]float32{1, 0, 0}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestReinsertReplacesVectorUnderSameID(t *testing.T) {
	idx := New(Config{M: 16, EfConstruction: 100, EfSearch: 20, Metric: "cosine", Seed: 3})
	require.NoError(t, idx.Insert("a", []float32{1, 0, 0}))
	require.NoError(t, idx.Insert("b", []float32{0, 1, 0}))

	require.NoError(t, idx.Reinsert("a", []float32{0, 0, 1}))
	assert.True(t, idx.Contains("a"))
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 2, idx.LiveLen())

	results, err := idx.Search([]float32{0, 0, 1}, 1, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestReinsertOnUnknownIDActsAsInsert(t *testing.T) {
	idx := New(Config{M: 16, EfConstruction: 100, EfSearch: 20, Metric: "cosine", Seed: 4})
	require.NoError(t, idx.Reinsert("new", []float32{1, 1, 1}))
	assert.True(t, idx.Contains("new"))
	assert.Equal(t, 1, idx.LiveLen())
}

func TestDeleteUnknownIDIsNotFound(t *testing.T) {
	idx := New(DefaultConfig())
	err := idx.Delete("missing")
	require.Error(t, err)
}

func TestRecallAgainstBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const n, dim = 500, 16
	idx := New(Config{M: 16, EfConstruction: 200, EfSearch: 64, Metric: "euclidean", Seed: 7})

	vectors := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()
		}
		id := fmt.Sprintf("v-%d", i)
		vectors[id] = v
		require.NoError(t, idx.Insert(id, v))
	}

	query := make([]float32, dim)
	for d := range query {
		query[d] = r.Float32()
	}

	approx, err := idx.Search(query, 10, 64)
	require.NoError(t, err)
	require.Len(t, approx, 10)

	exact := bruteForceTopK(vectors, query, 10)

	hits := 0
	exactSet := make(map[string]struct{}, len(exact))
	for _, id := range exact {
		exactSet[id] = struct{}{}
	}
	for _, r := range approx {
		if _, ok := exactSet[r.ID]; ok {
			hits++
		}
	}
	recall := float64(hits) / float64(len(exact))
	assert.GreaterOrEqual(t, recall, 0.85, "expected recall@10 >= 0.85, got %f", recall)
}

func bruteForceTopK(vectors map[string][]float32, query []float32, k int) []string {
	type scored struct {
		id   string
		dist float32
	}
	all := make([]scored, 0, len(vectors))
	for id, v := range vectors {
		var sum float32
		for d := range v {
			diff := v[d] - query[d]
			sum += diff * diff
		}
		all = append(all, scored{id, sum})
	}
	for i := 0; i < k && i < len(all); i++ {
		min := i
		for j := i + 1; j < len(all); j++ {
			if all[j].dist < all[min].dist {
				min = j
			}
		}
		all[i], all[min] = all[min], all[i]
	}
	if k > len(all) {
		k = len(all)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].id
	}
	return out
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	idx := New(Config{M: 16, EfConstruction: 64, EfSearch: 20, Metric: "cosine", Seed: 9})

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			vec := []float32{float32(i), float32(i % 3), float32(i % 5)}
			_ = idx.Insert(fmt.Sprintf("c-%d", i), vec)
		}(i)
	}
	for i := 0; i < 16; i++ {
		<-done
	}

	assert.Equal(t, 16, idx.Len())

	for i := 0; i < 16; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = idx.Search([]float32{1, 1, 1}, 5, 10)
		}()
	}
	for i := 0; i < 16; i++ {
		<-done
	}
}

func TestNeighborListsRespectCapacityBounds(t *testing.T) {
	idx := New(Config{M: 8, EfConstruction: 64, EfSearch: 20, Metric: "euclidean", Seed: 11})
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 200; i++ {
		v := []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()}
		require.NoError(t, idx.Insert(fmt.Sprintf("n-%d", i), v))
	}

	for _, n := range idx.snap() {
		for layer := 0; layer < len(n.neighbors); layer++ {
			cap := idx.m
			if layer == 0 {
				cap = idx.m * 2
			}
			assert.LessOrEqual(t, len(n.neighborsAt(layer)), cap)
		}
	}
}

func TestLayer0GraphIsSymmetric(t *testing.T) {
	idx := New(Config{M: 8, EfConstruction: 64, EfSearch: 20, Metric: "euclidean", Seed: 13})
	r := rand.New(rand.NewSource(13))
	for i := 0; i < 100; i++ {
		v := []float32{r.Float32(), r.Float32(), r.Float32()}
		require.NoError(t, idx.Insert(fmt.Sprintf("s-%d", i), v))
	}

	arena := idx.snap()
	for a, n := range arena {
		for _, b := range n.neighborsAt(0) {
			back := arena[b].neighborsAt(0)
			found := false
			for _, x := range back {
				if int(x) == a {
					found = true
					break
				}
			}
			assert.True(t, found, "edge %d->%d has no reverse edge", a, b)
		}
	}
}
