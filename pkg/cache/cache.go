// Package cache implements the multi-tier content cache of §4.D: a
// fingerprint-addressed store over an in-process hot tier, a memory-mapped
// warm tier, and a zstd-compressed cold tier, with a singleflight futures
// table guaranteeing at most one concurrent producer per fingerprint.
package cache

import (
	"time"

	"github.com/orneryd/vdb/pkg/obs"
	"github.com/orneryd/vdb/pkg/vdberr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config controls tier sizing and paths, mirroring the `cache:` section of
// the configuration schema in §6.
type Config struct {
	HotBytes         int64
	WarmPath         string
	ColdPath         string
	CompressionLevel int
	DecayInterval    time.Duration
	Metrics          *obs.Metrics
}

// DefaultDecayInterval halves hot-tier frequency counters at this cadence
// when Config.DecayInterval is zero.
const DefaultDecayInterval = 5 * time.Minute

// Cache is the multi-tier cache described by §4.D, owning all three tiers
// and the per-fingerprint singleflight group that serializes concurrent
// producers. Grounded on Voskan-arena-cache's shard-plus-metrics-sink
// shape, generalized from one in-process tier to three backing stores.
type Cache struct {
	hot  *hotTier
	warm *warmTier
	cold *coldTier

	sf      singleflight.Group
	metrics *obs.Metrics
	log     *zap.Logger

	decayStop chan struct{}
}

// New constructs a Cache with all three tiers rooted under cfg's paths.
func New(cfg Config, log *zap.Logger) (*Cache, error) {
	log = obs.Named(log, "cache")

	if cfg.HotBytes <= 0 {
		cfg.HotBytes = 64 * 1024 * 1024
	}
	warmBytes := cfg.HotBytes * 4
	coldBytes := cfg.HotBytes * 16

	warm, err := newWarmTier(cfg.WarmPath, warmBytes)
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "cache: open warm tier")
	}
	cold, err := newColdTier(cfg.ColdPath, coldBytes, cfg.CompressionLevel)
	if err != nil {
		return nil, vdberr.Wrap(vdberr.Internal, err, "cache: open cold tier")
	}

	c := &Cache{
		hot:       newHotTier(cfg.HotBytes),
		warm:      warm,
		cold:      cold,
		metrics:   cfg.Metrics,
		log:       log,
		decayStop: make(chan struct{}),
	}

	interval := cfg.DecayInterval
	if interval <= 0 {
		interval = DefaultDecayInterval
	}
	go c.decayLoop(interval)
	return c, nil
}

func (c *Cache) decayLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.hot.decay()
		case <-c.decayStop:
			return
		}
	}
}

// Get implements the read path of §4.D: hot, then warm (promoting to hot
// on a hit), then cold (decompressing and promoting to warm), then miss.
func (c *Cache) Get(fp Fingerprint) ([]byte, bool) {
	if data, ok := c.hot.get(fp); ok {
		c.recordHit("hot")
		return data, true
	}
	c.recordMiss("hot")

	if data, ok := c.warm.get(fp); ok {
		c.recordHit("warm")
		c.demoteFromHot(c.hot.put(fp, data))
		return data, true
	}
	c.recordMiss("warm")

	if data, ok := c.cold.get(fp); ok {
		c.recordHit("cold")
		if evictedFromWarm, err := c.warm.put(fp, data); err != nil {
			c.log.Warn("cache: promote cold to warm failed", zap.Error(err))
		} else {
			c.demoteFromWarm(evictedFromWarm)
		}
		c.demoteFromHot(c.hot.put(fp, data))
		return data, true
	}
	c.recordMiss("cold")
	return nil, false
}

// GetOrCompute returns the cached artifact for fp, or runs compute exactly
// once across concurrent callers and caches its result, per §4.D's
// singleflight contract. A failing compute call is returned to every
// waiter; a later retry starts a fresh singleflight call.
func (c *Cache) GetOrCompute(fp Fingerprint, compute func() ([]byte, error)) ([]byte, error) {
	if data, ok := c.Get(fp); ok {
		return data, nil
	}

	v, err, _ := c.sf.Do(fp.String(), func() (any, error) {
		if data, ok := c.Get(fp); ok {
			return data, nil
		}
		data, err := compute()
		if err != nil {
			return nil, err
		}
		c.Put(fp, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Put writes data into the hot tier, per §4.D's "write path: append to hot"
// rule. An entry evicted from hot demotes to warm; an entry then evicted
// from warm is compressed and demoted to cold in turn, per §4.D's cascading
// eviction chain.
func (c *Cache) Put(fp Fingerprint, data []byte) {
	c.demoteFromHot(c.hot.put(fp, data))
}

// demoteFromHot writes entries evicted from the hot tier into warm, and
// chains any resulting warm eviction on to cold.
func (c *Cache) demoteFromHot(victims []evicted) {
	if len(victims) > 0 {
		c.recordEvictions("hot", len(victims))
	}
	for _, v := range victims {
		evictedFromWarm, err := c.warm.put(v.fp, v.data)
		if err != nil {
			c.log.Warn("cache: demote hot to warm failed", zap.String("fingerprint", v.fp.String()), zap.Error(err))
			continue
		}
		c.demoteFromWarm(evictedFromWarm)
	}
	c.recordTierBytes()
}

// demoteFromWarm writes entries evicted from the warm tier into cold, which
// compresses them per §4.D's "compress and move to cold" rule.
func (c *Cache) demoteFromWarm(victims []evicted) {
	if len(victims) > 0 {
		c.recordEvictions("warm", len(victims))
	}
	for _, v := range victims {
		ratio, coldEvicted, err := c.cold.put(v.fp, v.data)
		if err != nil {
			c.log.Warn("cache: demote warm to cold failed", zap.String("fingerprint", v.fp.String()), zap.Error(err))
			continue
		}
		if c.metrics != nil {
			c.metrics.CompressionSave.WithLabelValues("cold").Observe(ratio)
		}
		if coldEvicted > 0 {
			c.recordEvictions("cold", coldEvicted)
		}
	}
}

// Evict removes fp from every tier.
func (c *Cache) Evict(fp Fingerprint) {
	c.hot.remove(fp)
	c.warm.remove(fp)
	c.cold.remove(fp)
	c.recordTierBytes()
}

func (c *Cache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (c *Cache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMisses.WithLabelValues(tier).Inc()
	}
}

func (c *Cache) recordEvictions(tier string, n int) {
	if c.metrics != nil {
		c.metrics.CacheEvictions.WithLabelValues(tier).Add(float64(n))
	}
}

// recordTierBytes refreshes the CacheTierBytes gauge from each tier's
// current resident size, called after any operation that changes tier
// occupancy rather than threaded through every put/evict individually.
func (c *Cache) recordTierBytes() {
	if c.metrics == nil {
		return
	}
	for _, s := range c.Stats() {
		c.metrics.CacheTierBytes.WithLabelValues(s.Tier).Set(float64(s.Bytes))
	}
}

// Stats returns per-tier counters plus the cold tier's running compression
// ratio, satisfying §4.D's metrics contract.
func (c *Cache) Stats() []TierStats {
	return []TierStats{c.hot.stats(), c.warm.stats(), c.cold.stats()}
}

// CompressionRatio reports bytes-in/bytes-out for everything ever written
// to the cold tier.
func (c *Cache) CompressionRatio() float64 { return c.cold.compressionRatio() }

// Close stops the background decay loop.
func (c *Cache) Close() error {
	close(c.decayStop)
	return nil
}
