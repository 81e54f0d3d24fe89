package cluster

import "time"

// NodeStatus is a node's externally observable health, maintained by
// HealthMonitor. Grounded on johnjansen-torua's NodeHealth.Status strings,
// typed here instead of left as bare strings.
type NodeStatus string

const (
	StatusUnknown     NodeStatus = "unknown"
	StatusHealthy     NodeStatus = "healthy"
	StatusUnavailable NodeStatus = "unavailable"
)

// Node is a storage node participating in the cluster.
type Node struct {
	ID   string
	Addr string
}

// ShardState tracks a shard's lifecycle on a given node during migration,
// mirroring johnjansen-torua's Shard.State transition model: Active ->
// Migrating -> Active (migration aborted or source re-assigned) or
// Migrating -> Deleted (migration completed, source shard retired).
type ShardState string

const (
	ShardStateActive    ShardState = "active"
	ShardStateMigrating ShardState = "migrating"
	ShardStateDeleted   ShardState = "deleted"
)

// ShardInfo is the external snapshot of one shard's placement and state,
// returned by the coordinator's status surface.
type ShardInfo struct {
	Collection string     `json:"collection"`
	Shard      int        `json:"shard"`
	Owner      string     `json:"owner"`
	State      ShardState `json:"state"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
