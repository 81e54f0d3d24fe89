package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countLoad(assignment map[int]string) map[string]int {
	load := make(map[string]int)
	for _, n := range assignment {
		load[n]++
	}
	return load
}

func applyPlan(assignment map[int]string, plan []Migration) map[int]string {
	out := make(map[int]string, len(assignment))
	for k, v := range assignment {
		out[k] = v
	}
	for _, m := range plan {
		out[m.Shard] = m.To
	}
	return out
}

func TestPlanRebalanceNoOpWhenAlreadyBalanced(t *testing.T) {
	assignment := map[int]string{0: "a", 1: "b", 2: "a", 3: "b"}
	plan := PlanRebalance(assignment, []string{"a", "b"})
	assert.Empty(t, plan)
}

func TestPlanRebalanceRedistributesAfterNodeJoin(t *testing.T) {
	assignment := map[int]string{0: "a", 1: "a", 2: "a", 3: "a"}
	plan := PlanRebalance(assignment, []string{"a", "b"})
	require.NotEmpty(t, plan)

	result := applyPlan(assignment, plan)
	load := countLoad(result)
	assert.InDelta(t, 2, load["a"], 1)
	assert.InDelta(t, 2, load["b"], 1)
}

func TestPlanRebalanceHandlesNodeLeave(t *testing.T) {
	assignment := map[int]string{0: "a", 1: "b", 2: "c", 3: "a", 4: "b", 5: "c"}
	plan := PlanRebalance(assignment, []string{"a", "b"})

	result := applyPlan(assignment, plan)
	for _, owner := range result {
		assert.Contains(t, []string{"a", "b"}, owner)
	}
	load := countLoad(result)
	assert.InDelta(t, 3, load["a"], 1)
	assert.InDelta(t, 3, load["b"], 1)
}

func TestPlanRebalanceEmptyNodeListReturnsNil(t *testing.T) {
	plan := PlanRebalance(map[int]string{0: "a"}, nil)
	assert.Nil(t, plan)
}
