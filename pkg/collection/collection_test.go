package collection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orneryd/vdb/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() vector.CollectionConfig {
	return vector.CollectionConfig{
		Dimension:     3,
		Metric:        vector.Euclidean,
		HNSW:          vector.HNSWParams{M: 8, EfConstruction: 64, EfSearch: 20},
		DuplicateOnID: vector.DuplicateReject,
	}
}

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	c, err := Create("widgets", testConfig(), t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertAndGet(t *testing.T) {
	c := newTestCollection(t)
	n, err := c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 2, 3}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v.Data)
}

func TestInsertDimensionMismatch(t *testing.T) {
	c := newTestCollection(t)
	_, err := c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 2}}})
	require.Error(t, err)
}

func TestInsertDuplicateRejected(t *testing.T) {
	c := newTestCollection(t)
	_, err := c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 2, 3}}})
	require.NoError(t, err)
	_, err = c.Insert([]*vector.Vector{{ID: "a", Data: []float32{4, 5, 6}}})
	require.Error(t, err)
}

func TestInsertDuplicateOverwritten(t *testing.T) {
	c := newTestCollection(t)
	c.Config.DuplicateOnID = vector.DuplicateOverwrite
	_, err := c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 2, 3}}})
	require.NoError(t, err)
	_, err = c.Insert([]*vector.Vector{{ID: "a", Data: []float32{4, 5, 6}}})
	require.NoError(t, err)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{4, 5, 6}, v.Data)
}

func TestUpdateUnknownIDFails(t *testing.T) {
	c := newTestCollection(t)
	err := c.Update(&vector.Vector{ID: "missing", Data: []float32{1, 2, 3}})
	require.Error(t, err)
}

func TestUpdateReplacesDataAndIsSearchable(t *testing.T) {
	c := newTestCollection(t)
	_, err := c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 1, 1}}})
	require.NoError(t, err)

	require.NoError(t, c.Update(&vector.Vector{ID: "a", Data: []float32{9, 9, 9}}))
	v, _ := c.Get("a")
	assert.Equal(t, []float32{9, 9, 9}, v.Data)

	hits, err := c.Search([]float32{9, 9, 9}, 1, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, vector.ID("a"), hits[0].ID)
}

func TestDeleteRemovesFromMapAndSearch(t *testing.T) {
	c := newTestCollection(t)
	_, err := c.Insert([]*vector.Vector{
		{ID: "a", Data: []float32{1, 0, 0}},
		{ID: "b", Data: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	require.NoError(t, c.Delete("a"))
	_, ok := c.Get("a")
	assert.False(t, ok)

	hits, err := c.Search([]float32{1, 0, 0}, 2, 10, nil)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, vector.ID("a"), h.ID)
	}
}

func TestDeleteUnknownIDFails(t *testing.T) {
	c := newTestCollection(t)
	require.Error(t, c.Delete("missing"))
}

func TestSearchWithPayloadFilter(t *testing.T) {
	c := newTestCollection(t)
	_, err := c.Insert([]*vector.Vector{
		{ID: "a", Data: []float32{1, 0, 0}, Payload: map[string]any{"category": "fruit"}},
		{ID: "b", Data: []float32{0.9, 0.1, 0}, Payload: map[string]any{"category": "vegetable"}},
	})
	require.NoError(t, err)

	hits, err := c.Search([]float32{1, 0, 0}, 5, 10, &Filter{Field: "category", Op: FilterEq, Value: "vegetable"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, vector.ID("b"), hits[0].ID)
}

func TestCheckpointAndReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	c, err := Create("rehydrate", cfg, dir, nil, nil)
	require.NoError(t, err)
	_, err = c.Insert([]*vector.Vector{
		{ID: "a", Data: []float32{1, 2, 3}, Payload: map[string]any{"n": float64(1)}},
		{ID: "b", Data: []float32{4, 5, 6}},
	})
	require.NoError(t, err)
	require.NoError(t, c.Checkpoint())
	require.NoError(t, c.Close())

	reopened, err := Open("rehydrate", dir, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.VectorCount())
	v, ok := reopened.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v.Data)

	hits, err := reopened.Search([]float32{1, 2, 3}, 1, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, vector.ID("a"), hits[0].ID)
}

func TestOpenReplaysWALAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	c, err := Create("replay", cfg, dir, nil, nil)
	require.NoError(t, err)
	_, err = c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 1, 1}}})
	require.NoError(t, err)
	require.NoError(t, c.Checkpoint())

	_, err = c.Insert([]*vector.Vector{{ID: "b", Data: []float32{2, 2, 2}}})
	require.NoError(t, err)
	require.NoError(t, c.wal.Sync())
	require.NoError(t, c.Close())

	reopened, err := Open("replay", dir, nil, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 2, reopened.VectorCount())
	_, ok := reopened.Get("b")
	assert.True(t, ok)
}

func TestCollectionConfigPersistedOnDisk(t *testing.T) {
	dir := t.TempDir()
	_, err := Create("cfgcheck", testConfig(), dir, nil, nil)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "cfgcheck", "config.json"))
	assert.NoError(t, statErr)
}

func TestQuantisedCollectionStillRanksNearestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Quantisation = vector.QuantisationConfig{Kind: vector.QuantBinary}
	c, err := Create("quantised", cfg, t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Insert([]*vector.Vector{
		{ID: "near", Data: []float32{1, 0, 0}},
		{ID: "far", Data: []float32{-1, 0, 0}},
		{ID: "mid", Data: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	hits, err := c.Search([]float32{1, 0, 0}, 1, 20, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, vector.ID("near"), hits[0].ID)
}
