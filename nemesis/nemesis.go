// Package nemesis injects faults against the system under test on a
// schedule independent of the workload. Each fault kind is a small state
// machine; faults compose into one package whose sub-schedules share a
// clock, and the controller unwinds whatever is active in reverse order at
// the end of a run.
package nemesis

import (
	"context"
	"math/rand"
)

// A Fault is one injectable fault kind. Start picks fresh targets (target
// selection is re-randomized on every start, never fixed for the run) and
// activates the fault; Stop deactivates it. Stop on an inactive fault is a
// no-op, which is what lets the controller unwind unconditionally.
type Fault interface {
	Name() string
	Start(ctx context.Context) (targets []string, err error)
	Stop(ctx context.Context) error
}

// Targeter selects the nodes a fault acts on.
type Targeter func(rng *rand.Rand, nodes []string) []string

// OneNode targets a single random node.
func OneNode(rng *rand.Rand, nodes []string) []string {
	return []string{nodes[rng.Intn(len(nodes))]}
}

// RandomMinority targets a random strict minority of the nodes.
func RandomMinority(rng *rand.Rand, nodes []string) []string {
	n := len(nodes)
	if n <= 2 {
		return []string{nodes[rng.Intn(n)]}
	}
	k := 1 + rng.Intn((n-1)/2)
	picked := rng.Perm(n)[:k]
	targets := make([]string, k)
	for i, idx := range picked {
		targets[i] = nodes[idx]
	}
	return targets
}

// AllNodes targets every node.
func AllNodes(rng *rand.Rand, nodes []string) []string {
	targets := make([]string, len(nodes))
	copy(targets, nodes)
	return targets
}
