package main

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRunServeMalformedYAMLReturnsExitInvalidConfig(t *testing.T) {
	path := writeConfig(t, "server: [this is not a mapping")

	err := runServe(path)
	require.Error(t, err)
	coder, ok := err.(exitCoder)
	require.True(t, ok, "expected an exitCoder, got %T", err)
	require.Equal(t, exitInvalidConfig, coder.ExitCode())
}

func TestRunServeClusterEnabledWithoutNodeIDReturnsExitInvalidConfig(t *testing.T) {
	path := writeConfig(t, "cluster:\n  enabled: true\n")

	err := runServe(path)
	require.Error(t, err)
	coder, ok := err.(exitCoder)
	require.True(t, ok, "expected an exitCoder, got %T", err)
	require.Equal(t, exitInvalidConfig, coder.ExitCode())
}

func TestRunServePortInUseReturnsExitPortInUse(t *testing.T) {
	port := freePort(t)
	blocker, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer blocker.Close()

	dataDir := t.TempDir()
	cfgBody := "server:\n" +
		"  host: 127.0.0.1\n" +
		"  port: " + strconv.Itoa(port) + "\n" +
		"  data_dir: " + dataDir + "\n" +
		"wal:\n  fsync_mode: interval\n"
	path := writeConfig(t, cfgBody)

	done := make(chan error, 1)
	go func() { done <- runServe(path) }()

	select {
	case err := <-done:
		require.Error(t, err)
		coder, ok := err.(exitCoder)
		require.True(t, ok, "expected an exitCoder, got %T", err)
		require.Equal(t, exitPortInUse, coder.ExitCode())
	case <-time.After(5 * time.Second):
		t.Fatal("runServe did not return after binding a port already in use")
	}
}
