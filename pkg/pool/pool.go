// Package pool provides object pooling for vdb's hot paths: WAL/RPC byte
// frames and HNSW search_layer visited-id sets. Reusing these instead of
// allocating fresh on every append/search reduces GC pressure under the
// kind of high-frequency, short-lived-allocation workload a vector index
// produces.
//
// This keeps the teacher's sync.Pool-of-reusable-objects idiom
// (pkg/pool/pool.go's row/node/string-builder pools) but renames the pools
// to vdb's own hot-path object shapes instead of the teacher's query-result
// rows and graph nodes.
package pool

import "sync"

// Config configures pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active.
	Enabled bool
	// MaxCap limits the capacity of a buffer that may be returned to a pool.
	// Larger buffers are dropped rather than retained, so one oversized
	// query doesn't permanently inflate steady-state memory.
	MaxCap int
}

var globalConfig = Config{Enabled: true, MaxCap: 1 << 20}

// Configure sets global pool configuration. Call early during startup.
func Configure(cfg Config) {
	globalConfig = cfg
}

// IsEnabled reports whether pooling is active.
func IsEnabled() bool { return globalConfig.Enabled }

// =============================================================================
// Byte frames (WAL record encoding, RPC wire frames)
// =============================================================================

var byteBufferPool = sync.Pool{
	New: func() any { return make([]byte, 0, 4096) },
}

// GetByteBuffer returns a zero-length []byte with spare capacity.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 4096)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns buf to the pool.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled || cap(buf) > globalConfig.MaxCap {
		return
	}
	byteBufferPool.Put(buf[:0])
}

// =============================================================================
// Visited-id sets (HNSW search_layer)
// =============================================================================

var visitedSetPool = sync.Pool{
	New: func() any { return make(map[uint32]struct{}, 256) },
}

// GetVisitedSet returns an empty map[uint32]struct{} for tracking visited
// node ids during a single search_layer call.
func GetVisitedSet() map[uint32]struct{} {
	if !globalConfig.Enabled {
		return make(map[uint32]struct{}, 256)
	}
	m := visitedSetPool.Get().(map[uint32]struct{})
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutVisitedSet returns m to the pool.
func PutVisitedSet(m map[uint32]struct{}) {
	if !globalConfig.Enabled || len(m) > globalConfig.MaxCap {
		return
	}
	visitedSetPool.Put(m)
}
