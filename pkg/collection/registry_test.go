package collection

import (
	"testing"

	"github.com/orneryd/vdb/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateGetList(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Create("alpha", testConfig())
	require.NoError(t, err)

	c, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", c.Name)
	assert.Equal(t, []string{"alpha"}, reg.List())
}

func TestRegistryCreateDuplicateNameConflict(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Create("dup", testConfig())
	require.NoError(t, err)
	_, err = reg.Create("dup", testConfig())
	require.Error(t, err)
}

func TestRegistryDeleteRemovesFromRoster(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer reg.Close()

	_, err = reg.Create("gone", testConfig())
	require.NoError(t, err)
	require.NoError(t, reg.Delete("gone"))

	_, ok := reg.Get("gone")
	assert.False(t, ok)
}

func TestRegistryDeleteUnknownFails(t *testing.T) {
	reg, err := NewRegistry(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer reg.Close()

	require.Error(t, reg.Delete("missing"))
}

func TestRegistryReopenRestoresCollections(t *testing.T) {
	dir := t.TempDir()

	reg, err := NewRegistry(dir, nil, nil)
	require.NoError(t, err)
	c, err := reg.Create("persisted", testConfig())
	require.NoError(t, err)
	_, err = c.Insert([]*vector.Vector{{ID: "a", Data: []float32{1, 2, 3}}})
	require.NoError(t, err)
	require.NoError(t, c.wal.Sync())
	require.NoError(t, reg.Close())

	reg2, err := NewRegistry(dir, nil, nil)
	require.NoError(t, err)
	defer reg2.Close()

	c2, ok := reg2.Get("persisted")
	require.True(t, ok)
	v, ok := c2.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, v.Data)
}
