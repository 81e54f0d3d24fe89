package cache

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// coldTier is the on-disk, zstd-compressed last tier. Eviction is
// oldest-first by file modification time once the directory's total size
// crosses maxBytes, per §4.D.
type coldTier struct {
	dir      string
	maxBytes int64
	level    zstd.EncoderLevel

	mu       sync.Mutex
	sizes    map[Fingerprint]int64
	curBytes int64

	hits     atomic.Uint64
	misses   atomic.Uint64
	writes   atomic.Uint64
	evicts   atomic.Uint64
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func newColdTier(dir string, maxBytes int64, level int) (*coldTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &coldTier{
		dir:      dir,
		maxBytes: maxBytes,
		level:    zstdLevel(level),
		sizes:    make(map[Fingerprint]int64),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fp, ok := fingerprintFromColdName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		c.sizes[fp] = info.Size()
		c.curBytes += info.Size()
	}
	return c, nil
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (c *coldTier) path(fp Fingerprint) string {
	return filepath.Join(c.dir, fp.String()+".zst")
}

func fingerprintFromColdName(name string) (Fingerprint, bool) {
	const suffix = ".zst"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return Fingerprint{}, false
	}
	fp, err := ParseFingerprint(name[:len(name)-len(suffix)])
	if err != nil {
		return Fingerprint{}, false
	}
	return fp, true
}

func (c *coldTier) get(fp Fingerprint) ([]byte, bool) {
	compressed, err := os.ReadFile(c.path(fp))
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	defer dec.Close()
	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

// put compresses data and writes it to disk, tracking the original/
// compressed byte counts for the compression-ratio metric §4.D calls for.
// It returns this write's own compressed/original ratio and the number of
// entries evicted to stay under maxBytes, so Cache can feed both into
// CompressionSave/CacheEvictions without recomputing them.
func (c *coldTier) put(fp Fingerprint, data []byte) (ratio float64, evictedCount int, err error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return 0, 0, err
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()

	if err := os.WriteFile(c.path(fp), compressed, 0o644); err != nil {
		return 0, 0, err
	}
	c.bytesIn.Add(uint64(len(data)))
	c.bytesOut.Add(uint64(len(compressed)))
	c.writes.Add(1)

	c.mu.Lock()
	if old, ok := c.sizes[fp]; ok {
		c.curBytes -= old
	}
	c.sizes[fp] = int64(len(compressed))
	c.curBytes += int64(len(compressed))
	c.mu.Unlock()

	evictedCount, err = c.evictIfNeeded()
	if len(data) > 0 {
		ratio = float64(len(compressed)) / float64(len(data))
	}
	return ratio, evictedCount, err
}

func (c *coldTier) evictIfNeeded() (int, error) {
	c.mu.Lock()
	if c.curBytes <= c.maxBytes {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool {
		ii, _ := entries[i].Info()
		jj, _ := entries[j].Info()
		if ii == nil || jj == nil {
			return false
		}
		return ii.ModTime().Before(jj.ModTime())
	})

	evicted := 0
	for _, e := range entries {
		c.mu.Lock()
		over := c.curBytes > c.maxBytes
		c.mu.Unlock()
		if !over {
			break
		}
		fp, ok := fingerprintFromColdName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			continue
		}
		c.mu.Lock()
		delete(c.sizes, fp)
		c.curBytes -= info.Size()
		c.mu.Unlock()
		c.evicts.Add(1)
		evicted++
	}
	return evicted, nil
}

func (c *coldTier) remove(fp Fingerprint) {
	_ = os.Remove(c.path(fp))
	c.mu.Lock()
	if sz, ok := c.sizes[fp]; ok {
		c.curBytes -= sz
		delete(c.sizes, fp)
	}
	c.mu.Unlock()
}

// compressionRatio returns bytes-in/bytes-out across every put so far, the
// "compression ratio" metric §4.D requires.
func (c *coldTier) compressionRatio() float64 {
	out := c.bytesOut.Load()
	if out == 0 {
		return 1
	}
	return float64(c.bytesIn.Load()) / float64(out)
}

func (c *coldTier) stats() TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TierStats{
		Tier:    "cold",
		Entries: len(c.sizes),
		Bytes:   c.curBytes,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Evicted: c.evicts.Load(),
		Writes:  c.writes.Load(),
	}
}
