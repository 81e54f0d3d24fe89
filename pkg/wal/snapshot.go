package wal

import (
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/orneryd/vdb/pkg/vdberr"
)

// Checksum computes the CRC32C (Castagnoli) checksum used by both WAL
// records and the collection snapshot format of §6.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// WriteAtomic writes data to path via a temp-file-then-rename, so a crash
// mid-write never leaves a half-written snapshot where a reader expects a
// complete one. Grounded on the teacher's SaveSnapshot (pkg/storage/wal.go),
// which uses the same write-to-.tmp-then-os.Rename pattern.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: create snapshot dir %s", dir)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return vdberr.Wrap(vdberr.Internal, err, "wal: create %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return vdberr.Wrap(vdberr.Internal, err, "wal: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return vdberr.Wrap(vdberr.Internal, err, "wal: fsync %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return vdberr.Wrap(vdberr.Internal, err, "wal: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return vdberr.Wrap(vdberr.Internal, err, "wal: rename %s to %s", tmp, path)
	}
	return nil
}
