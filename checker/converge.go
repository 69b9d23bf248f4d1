package checker

import (
	"sort"
)

// NodeSnapshot is one node's view of the full key space, taken after the
// nemesis schedule has unwound and the settle delay elapsed. Err is set
// when the node stayed unreachable through the retry budget.
type NodeSnapshot struct {
	Node  string        `json:"node"`
	State map[int][]int `json:"state,omitempty"`
	Err   string        `json:"error,omitempty"`
}

// ConvergenceResult reports whether all replicas agree on final state. On
// failure it carries the full per-node snapshots for diagnosis.
type ConvergenceResult struct {
	Verdict Verdict `json:"verdict"`
	// Snapshots holds every compared node's view when the check fails.
	Snapshots []NodeSnapshot `json:"snapshots,omitempty"`
	// Excluded lists nodes that never became reachable during provisioning
	// and were left out of the comparison.
	Excluded []string `json:"excluded,omitempty"`
}

// CheckConvergence compares final snapshots across nodes. For g-set
// semantics per-key element sets must match (order-independent); for LWW
// each key must hold the identical single value. A node that stayed
// unreachable is a violation; nodes in excluded never joined the run and
// are only reported. The check is a pure function of its inputs, so
// re-running it against an unchanged snapshot always yields the same
// verdict.
func CheckConvergence(snapshots []NodeSnapshot, sem Semantics, excluded []string) ConvergenceResult {
	result := ConvergenceResult{Verdict: VerdictPass, Excluded: excluded}
	if len(snapshots) == 0 {
		return result
	}

	normalized := make([]NodeSnapshot, len(snapshots))
	violated := false
	for i, snap := range snapshots {
		normalized[i] = NodeSnapshot{Node: snap.Node, Err: snap.Err, State: normalize(snap.State, sem)}
		if snap.Err != "" {
			violated = true
		}
	}
	if !violated {
		ref := normalized[0].State
		for _, snap := range normalized[1:] {
			if !equalStates(ref, snap.State) {
				violated = true
				break
			}
		}
	}
	if violated {
		result.Verdict = VerdictFail
		result.Snapshots = normalized
	}
	return result
}

// normalize sorts g-set elements (membership is order-independent) and
// reduces LWW registers to their single value.
func normalize(state map[int][]int, sem Semantics) map[int][]int {
	out := make(map[int][]int, len(state))
	for k, vs := range state {
		cp := make([]int, len(vs))
		copy(cp, vs)
		if sem == GSet {
			sort.Ints(cp)
		} else if len(cp) > 1 {
			cp = cp[len(cp)-1:]
		}
		out[k] = cp
	}
	return out
}

func equalStates(a, b map[int][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}
