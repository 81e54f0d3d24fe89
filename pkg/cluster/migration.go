package cluster

import "sort"

// Migration is one step of a rebalance plan: shard moves from one node to
// another, per §4.F's "minimal set of (shard, from_node, to_node) triples
// that restores balance".
type Migration struct {
	Shard int
	From  string
	To    string
}

// PlanRebalance computes shard moves that bring every node in nodes to a
// target of the floor or ceil of the mean shard count, given the ring's
// current shard->owner assignment. The ceil targets go to the first nodes
// in name order, and a shard moves whenever its owner is above its own
// target, so the plan can hold more moves than the smallest set that keeps
// every node within ±1 of the mean. Deterministic for a given input: shards
// are walked in ascending order and each moved shard goes to the node with
// the most room below its target, so repeated calls against the same
// inputs produce the same plan.
func PlanRebalance(assignment map[int]string, nodes []string) []Migration {
	if len(nodes) == 0 {
		return nil
	}

	load := make(map[string]int, len(nodes))
	for _, n := range nodes {
		load[n] = 0
	}
	shards := make([]int, 0, len(assignment))
	owner := make(map[int]string, len(assignment))
	for s, n := range assignment {
		shards = append(shards, s)
		owner[s] = n
		if _, ok := load[n]; ok {
			load[n]++
		}
	}
	sort.Ints(shards)

	total := len(shards)
	mean := total / len(nodes)
	extra := total % len(nodes)

	// target[i] is the capacity of the i-th node in a stable sort order;
	// the first `extra` nodes absorb the remainder shard.
	sortedNodes := append([]string{}, nodes...)
	sort.Strings(sortedNodes)
	target := make(map[string]int, len(nodes))
	for i, n := range sortedNodes {
		target[n] = mean
		if i < extra {
			target[n]++
		}
	}

	var plan []Migration
	for _, s := range shards {
		from := owner[s]
		if _, tracked := load[from]; !tracked {
			from = "" // shard owned by a node no longer in the cluster
		}
		if from != "" && load[from] <= target[from] {
			continue
		}

		to := leastLoadedBelowTarget(sortedNodes, load, target, from)
		if to == "" {
			continue
		}

		if from != "" {
			load[from]--
		}
		load[to]++
		plan = append(plan, Migration{Shard: s, From: from, To: to})
	}
	return plan
}

func leastLoadedBelowTarget(nodes []string, load, target map[string]int, exclude string) string {
	best := ""
	bestSlack := 0
	for _, n := range nodes {
		if n == exclude {
			continue
		}
		slack := target[n] - load[n]
		if slack <= 0 {
			continue
		}
		if best == "" || slack > bestSlack {
			best, bestSlack = n, slack
		}
	}
	return best
}
