package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// hotEntry is one in-process cache slot. freq is incremented on every read
// and periodically halved by decay, implementing the "LFU with aging"
// eviction policy §4.D calls for in place of the teacher's plain LRU
// (pkg/cache/query_cache.go's container/list ordering).
type hotEntry struct {
	data       []byte
	freq       uint32
	lastAccess time.Time
}

// hotTier is the in-process, byte-capped first tier of the cache.
// Structurally grounded on the teacher's QueryCache (map + sync.RWMutex +
// atomic hit/miss counters), with LRU's doubly-linked list replaced by a
// frequency counter since eviction picks the lowest-frequency entry rather
// than the least-recently-touched one.
type hotTier struct {
	mu       sync.RWMutex
	items    map[Fingerprint]*hotEntry
	maxBytes int64
	curBytes int64

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

func newHotTier(maxBytes int64) *hotTier {
	return &hotTier{
		items:    make(map[Fingerprint]*hotEntry),
		maxBytes: maxBytes,
	}
}

func (h *hotTier) get(fp Fingerprint) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.items[fp]
	if !ok {
		h.misses.Add(1)
		return nil, false
	}
	e.freq++
	e.lastAccess = time.Now()
	h.hits.Add(1)
	return e.data, true
}

// evicted is one entry pushed out of a tier, returned to the caller so it
// can be demoted to the next tier down instead of simply discarded.
type evicted struct {
	fp   Fingerprint
	data []byte
}

// put inserts data under fp, evicting lowest-frequency entries (ties broken
// by oldest lastAccess) until the tier is back under its byte cap. Evicted
// entries are returned so Cache.Put can demote them to warm, per §4.D's
// "on eviction, demote to warm" rule.
func (h *hotTier) put(fp Fingerprint, data []byte) []evicted {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.items[fp]; ok {
		h.curBytes -= int64(len(old.data))
		delete(h.items, fp)
	}

	var out []evicted
	for h.curBytes+int64(len(data)) > h.maxBytes && len(h.items) > 0 {
		if victim, ok := h.evictLocked(); ok {
			out = append(out, victim)
		} else {
			break
		}
	}

	h.items[fp] = &hotEntry{data: data, freq: 1, lastAccess: time.Now()}
	h.curBytes += int64(len(data))
	return out
}

func (h *hotTier) evictLocked() (evicted, bool) {
	var victim Fingerprint
	var victimEntry *hotEntry
	for fp, e := range h.items {
		if victimEntry == nil ||
			e.freq < victimEntry.freq ||
			(e.freq == victimEntry.freq && e.lastAccess.Before(victimEntry.lastAccess)) {
			victim, victimEntry = fp, e
		}
	}
	if victimEntry == nil {
		return evicted{}, false
	}
	delete(h.items, victim)
	h.curBytes -= int64(len(victimEntry.data))
	h.evicts.Add(1)
	return evicted{fp: victim, data: victimEntry.data}, true
}

func (h *hotTier) remove(fp Fingerprint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.items[fp]; ok {
		delete(h.items, fp)
		h.curBytes -= int64(len(e.data))
	}
}

// decay halves every entry's frequency counter, run periodically by Cache
// so cold-but-once-popular entries don't permanently block eviction.
func (h *hotTier) decay() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.items {
		e.freq /= 2
	}
}

func (h *hotTier) stats() TierStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return TierStats{
		Tier:    "hot",
		Entries: len(h.items),
		Bytes:   h.curBytes,
		Hits:    h.hits.Load(),
		Misses:  h.misses.Load(),
		Evicted: h.evicts.Load(),
	}
}
