package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the process-wide set of Prometheus collectors for the cache,
// WAL, and cluster components named in §4.D/§4.E/§4.F. Grounded on
// Voskan-arena-cache's pkg/metrics.go promMetrics type, generalized from one
// package's counters into a single registry every component registers
// against, since this module has more than one collector-owning subsystem.
type Metrics struct {
	Registry *prometheus.Registry

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	CacheTierBytes  *prometheus.GaugeVec
	CompressionSave *prometheus.HistogramVec

	WALSyncLatency  prometheus.Histogram
	WALBytesWritten prometheus.Counter
	WALRecordsTotal prometheus.Counter

	ClusterRPCLatency *prometheus.HistogramVec
	ClusterRPCErrors  *prometheus.CounterVec
}

// NewMetrics constructs and registers every collector against a fresh
// registry. Call once at startup and thread the result through.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdb", Subsystem: "cache", Name: "hits_total",
			Help: "Cache lookups resolved from a tier without recomputation.",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdb", Subsystem: "cache", Name: "misses_total",
			Help: "Cache lookups that fell through every tier.",
		}, []string{"tier"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdb", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted from a tier.",
		}, []string{"tier"}),
		CacheTierBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vdb", Subsystem: "cache", Name: "tier_bytes",
			Help: "Live bytes resident in a cache tier.",
		}, []string{"tier"}),
		CompressionSave: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vdb", Subsystem: "cache", Name: "compression_ratio",
			Help:    "Ratio of compressed to original bytes for cold-tier entries.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"tier"}),
		WALSyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vdb", Subsystem: "wal", Name: "sync_latency_seconds",
			Help:    "Time spent in fsync calls.",
			Buckets: prometheus.DefBuckets,
		}),
		WALBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vdb", Subsystem: "wal", Name: "bytes_written_total",
			Help: "Bytes appended to WAL files.",
		}),
		WALRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vdb", Subsystem: "wal", Name: "records_total",
			Help: "Records appended across all collections.",
		}),
		ClusterRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vdb", Subsystem: "cluster", Name: "rpc_latency_seconds",
			Help:    "Inter-node RPC round-trip latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		ClusterRPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vdb", Subsystem: "cluster", Name: "rpc_errors_total",
			Help: "Inter-node RPC calls that returned an error.",
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheEvictions, m.CacheTierBytes, m.CompressionSave,
		m.WALSyncLatency, m.WALBytesWritten, m.WALRecordsTotal,
		m.ClusterRPCLatency, m.ClusterRPCErrors,
	)
	return m
}

// NewNopMetrics returns a Metrics whose collectors are registered against a
// throwaway registry, for use in tests and components constructed without
// an owning process.
func NewNopMetrics() *Metrics { return NewMetrics() }
