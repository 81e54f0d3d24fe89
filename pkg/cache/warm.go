package cache

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/mmap"
)

// warmTier is the on-disk, memory-mapped second tier: one file per
// fingerprint under dir, evicted LRU-by-access-timestamp once the
// directory's total size crosses maxBytes, per §4.D.
type warmTier struct {
	dir      string
	maxBytes int64

	mu          sync.Mutex
	accessTimes map[Fingerprint]time.Time
	curBytes    int64

	hits   atomic.Uint64
	misses atomic.Uint64
	writes atomic.Uint64
	evicts atomic.Uint64
}

func newWarmTier(dir string, maxBytes int64) (*warmTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &warmTier{dir: dir, maxBytes: maxBytes, accessTimes: make(map[Fingerprint]time.Time)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fp, err := ParseFingerprint(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		w.accessTimes[fp] = info.ModTime()
		w.curBytes += info.Size()
	}
	return w, nil
}

func (w *warmTier) path(fp Fingerprint) string {
	return filepath.Join(w.dir, fp.String())
}

// get opens the file via a memory map and copies its contents out, per
// §6's "Warm tier file... opened via memory-mapped reads" on-disk format
// note.
func (w *warmTier) get(fp Fingerprint) ([]byte, bool) {
	r, err := mmap.Open(w.path(fp))
	if err != nil {
		w.misses.Add(1)
		return nil, false
	}
	defer r.Close()

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil {
		w.misses.Add(1)
		return nil, false
	}

	w.mu.Lock()
	w.accessTimes[fp] = time.Now()
	w.mu.Unlock()
	_ = os.Chtimes(w.path(fp), time.Now(), time.Now())

	w.hits.Add(1)
	return data, true
}

// put writes data to disk under fp and evicts least-recently-accessed files
// until the tier is back under its byte cap, returning the evicted entries'
// data so Cache.Put can demote them to cold, per §4.D's "on warm eviction,
// compress and move to cold" rule.
func (w *warmTier) put(fp Fingerprint, data []byte) ([]evicted, error) {
	if err := os.WriteFile(w.path(fp), data, 0o644); err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.accessTimes[fp] = time.Now()
	w.curBytes += int64(len(data))
	w.mu.Unlock()
	w.writes.Add(1)
	return w.evictIfNeeded()
}

func (w *warmTier) evictIfNeeded() ([]evicted, error) {
	w.mu.Lock()
	if w.curBytes <= w.maxBytes {
		w.mu.Unlock()
		return nil, nil
	}
	type entry struct {
		fp Fingerprint
		t  time.Time
	}
	ordered := make([]entry, 0, len(w.accessTimes))
	for fp, t := range w.accessTimes {
		ordered = append(ordered, entry{fp: fp, t: t})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].t.Before(ordered[j].t) })
	w.mu.Unlock()

	var out []evicted
	for _, e := range ordered {
		w.mu.Lock()
		if w.curBytes <= w.maxBytes {
			w.mu.Unlock()
			break
		}
		w.mu.Unlock()

		fp := e.fp
		data, readErr := os.ReadFile(w.path(fp))
		if readErr != nil {
			continue
		}
		if err := os.Remove(w.path(fp)); err != nil {
			continue
		}
		w.mu.Lock()
		delete(w.accessTimes, fp)
		w.curBytes -= int64(len(data))
		w.mu.Unlock()
		w.evicts.Add(1)
		out = append(out, evicted{fp: fp, data: data})
	}
	return out, nil
}

func (w *warmTier) remove(fp Fingerprint) {
	_ = os.Remove(w.path(fp))
	w.mu.Lock()
	delete(w.accessTimes, fp)
	w.mu.Unlock()
}

func (w *warmTier) stats() TierStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return TierStats{
		Tier:    "warm",
		Entries: len(w.accessTimes),
		Bytes:   w.curBytes,
		Hits:    w.hits.Load(),
		Misses:  w.misses.Load(),
		Evicted: w.evicts.Load(),
		Writes:  w.writes.Load(),
	}
}
