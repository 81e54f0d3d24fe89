package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardForIsStableAndBounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		s := ShardFor("vec-1", 8)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
	}
	assert.Equal(t, ShardFor("vec-1", 8), ShardFor("vec-1", 8))
}

func TestHashRingAssignsEveryShardToAKnownNode(t *testing.T) {
	r := NewHashRing(32)
	r.AddNode("a")
	r.AddNode("b")
	r.AddNode("c")

	assignment := r.Assignment(16)
	require.Len(t, assignment, 16)
	for shard, owner := range assignment {
		assert.Contains(t, []string{"a", "b", "c"}, owner, "shard %d", shard)
	}
}

func TestHashRingOwnerForShardIsDeterministic(t *testing.T) {
	r := NewHashRing(16)
	r.AddNode("a")
	r.AddNode("b")

	owner1, ok1 := r.OwnerForShard(3)
	owner2, ok2 := r.OwnerForShard(3)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, owner1, owner2)
}

func TestHashRingEmptyHasNoOwner(t *testing.T) {
	r := NewHashRing(16)
	_, ok := r.OwnerForShard(0)
	assert.False(t, ok)
}

func TestHashRingRemoveNodeReassignsItsShards(t *testing.T) {
	r := NewHashRing(32)
	r.AddNode("a")
	r.AddNode("b")
	before := r.Assignment(64)

	r.RemoveNode("a")
	after := r.Assignment(64)

	for shard, owner := range before {
		if owner == "a" {
			assert.Equal(t, "b", after[shard])
		} else {
			assert.Equal(t, owner, after[shard])
		}
	}
}
