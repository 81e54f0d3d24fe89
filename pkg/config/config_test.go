package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.CollectionDefaults.HNSW.M)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9090
collection_defaults:
  metric: euclidean
  hnsw:
    m: 32
wal:
  fsync_mode: per_write
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "euclidean", cfg.CollectionDefaults.Metric)
	assert.Equal(t, 32, cfg.CollectionDefaults.HNSW.M)
	assert.Equal(t, "per_write", cfg.WAL.FsyncMode)
	// Fields the YAML doesn't set still carry the Default() value.
	assert.Equal(t, 200, cfg.CollectionDefaults.HNSW.EfConstruction)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("VDB_SERVER_PORT", "7000")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestValidateRejectsBadFsyncMode(t *testing.T) {
	cfg := Default()
	cfg.WAL.FsyncMode = "sometimes"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsClusterEnabledWithoutNodeID(t *testing.T) {
	cfg := Default()
	cfg.Cluster.Enabled = true
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}
