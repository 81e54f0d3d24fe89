package cache

// TierStats reports per-tier counters for the metrics contract in §4.D.
type TierStats struct {
	Tier    string
	Entries int
	Bytes   int64
	Hits    uint64
	Misses  uint64
	Evicted uint64
	Writes  uint64
}
