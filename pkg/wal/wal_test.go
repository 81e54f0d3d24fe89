package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orneryd/vdb/pkg/vdberr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicSeqNo(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err)
	defer w.Close()

	seq1, err := w.Append(OpInsert, []byte("a"))
	require.NoError(t, err)
	seq2, err := w.Append(OpInsert, []byte("b"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)
}

func TestAppendAndReadAllRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.FsyncMode = FsyncPerWrite
	w, err := Open(cfg, nil)
	require.NoError(t, err)

	_, err = w.Append(OpInsert, []byte("payload-1"))
	require.NoError(t, err)
	_, err = w.Append(OpDelete, []byte("payload-2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	recs, offset, err := ReadAll(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, OpInsert, recs[0].Op)
	assert.Equal(t, "payload-1", string(recs[0].Payload))
	assert.Equal(t, OpDelete, recs[1].Op)
	assert.Equal(t, "payload-2", string(recs[1].Payload))
	assert.EqualValues(t, offset, mustStat(t, filepath.Join(dir, "wal.log")))
}

func TestSeqNoPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.FsyncMode = FsyncPerWrite

	w1, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = w1.Append(OpInsert, []byte("x"))
	require.NoError(t, err)
	_, err = w1.Append(OpInsert, []byte("y"))
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(2), w2.SeqNo())

	seq, err := w2.Append(OpInsert, []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestReadAfterFiltersBySeqNo(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.FsyncMode = FsyncPerWrite
	w, err := Open(cfg, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := w.Append(OpInsert, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	recs, err := ReadAfter(filepath.Join(dir, "wal.log"), 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(4), recs[0].SeqNo)
	assert.Equal(t, uint64(5), recs[1].SeqNo)
}

func TestCorruptInteriorRecordAbortsReplay(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.FsyncMode = FsyncPerWrite
	w, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = w.Append(OpInsert, []byte("good-1"))
	require.NoError(t, err)
	_, err = w.Append(OpInsert, []byte("good-2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "wal.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Flip a byte inside the first record's payload without touching length,
	// so the corruption is interior, not a torn tail.
	data[headerSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	recs, offset, err := ReadAll(path)
	require.Error(t, err)
	assert.Equal(t, vdberr.Corruption, vdberr.KindOf(err))
	assert.Empty(t, recs)
	assert.Zero(t, offset)
}

func TestTruncateTornTailOnOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.FsyncMode = FsyncPerWrite
	w, err := Open(cfg, nil)
	require.NoError(t, err)
	_, err = w.Append(OpInsert, []byte("complete"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()-2))
	require.NoError(t, f.Close())

	w2, err := Open(cfg, nil)
	require.NoError(t, err)
	defer w2.Close()

	recs, _, err := ReadAll(path)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestTruncateResetsWAL(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.FsyncMode = FsyncPerWrite
	w, err := Open(cfg, nil)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		_, err := w.Append(OpInsert, []byte{byte(i)})
		require.NoError(t, err)
	}
	require.NoError(t, w.Truncate(w.SeqNo()))

	recs, _, err := ReadAll(filepath.Join(dir, "wal.log"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestShouldCheckpointAtThreshold(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.CheckpointThreshold = 3
	cfg.FsyncMode = FsyncPerWrite
	w, err := Open(cfg, nil)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 2; i++ {
		_, err := w.Append(OpInsert, []byte{byte(i)})
		require.NoError(t, err)
	}
	assert.False(t, w.ShouldCheckpoint())

	_, err = w.Append(OpInsert, []byte{9})
	require.NoError(t, err)
	assert.True(t, w.ShouldCheckpoint())
}

func TestWriteAtomicThenReadBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.bin")
	require.NoError(t, WriteAtomic(path, []byte("snapshot-bytes")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-bytes", string(data))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func mustStat(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

