package nemesis

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
)

// Strategy selects how a partition splits the node set.
type Strategy int8

const (
	// SplitOne isolates a single node from the rest.
	SplitOne Strategy = iota
	// SplitMinority isolates a random strict minority.
	SplitMinority
	// SplitMajority isolates a majority group from the remaining minority.
	SplitMajority
	// SplitMinorityThird makes a three-way split with one minority group.
	SplitMinorityThird
	// SplitAll separates every node from every other node.
	SplitAll
)

func (s Strategy) String() string {
	switch s {
	case SplitOne:
		return "one"
	case SplitMinority:
		return "minority"
	case SplitMajority:
		return "majority"
	case SplitMinorityThird:
		return "minority-third"
	case SplitAll:
		return "all"
	}
	return "unknown"
}

// ParseStrategy maps the configuration names onto strategies.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "one":
		return SplitOne, nil
	case "minority":
		return SplitMinority, nil
	case "majority":
		return SplitMajority, nil
	case "minority-third":
		return SplitMinorityThird, nil
	case "all":
		return SplitAll, nil
	}
	return 0, errors.Errorf("nemesis: unknown partition strategy %q", s)
}

// Split partitions nodes into groups according to the strategy. The first
// group is the "targeted" side reported by the fault.
func (s Strategy) Split(rng *rand.Rand, nodes []string) ([][]string, error) {
	n := len(nodes)
	if n < 2 {
		return nil, errors.New("nemesis: partition needs at least two nodes")
	}
	shuffled := make([]string, n)
	for i, idx := range rng.Perm(n) {
		shuffled[i] = nodes[idx]
	}
	switch s {
	case SplitOne:
		return [][]string{shuffled[:1], shuffled[1:]}, nil
	case SplitMinority:
		k := 1
		if n > 3 {
			k += rng.Intn((n - 1) / 2)
		}
		return [][]string{shuffled[:k], shuffled[k:]}, nil
	case SplitMajority:
		k := n/2 + 1
		return [][]string{shuffled[:k], shuffled[k:]}, nil
	case SplitMinorityThird:
		if n < 3 {
			return nil, errors.New("nemesis: minority-third needs at least three nodes")
		}
		k := n / 3
		if k == 0 {
			k = 1
		}
		rest := shuffled[k:]
		mid := len(rest) / 2
		return [][]string{shuffled[:k], rest[:mid], rest[mid:]}, nil
	case SplitAll:
		groups := make([][]string, n)
		for i := range shuffled {
			groups[i] = shuffled[i : i+1]
		}
		return groups, nil
	}
	return nil, errors.Errorf("nemesis: unknown strategy %d", s)
}

// Partition is the network partition fault: states {healed, partitioned}.
type Partition struct {
	net      replicheck.NetControl
	strategy Strategy
	nodes    []string
	rng      *rand.Rand
	active   bool
}

func NewPartition(net replicheck.NetControl, strategy Strategy, nodes []string, rng *rand.Rand) *Partition {
	return &Partition{net: net, strategy: strategy, nodes: nodes, rng: rng}
}

func (p *Partition) Name() string {
	return "partition-" + p.strategy.String()
}

func (p *Partition) Start(ctx context.Context) ([]string, error) {
	groups, err := p.strategy.Split(p.rng, p.nodes)
	if err != nil {
		return nil, err
	}
	if err := p.net.Partition(ctx, groups); err != nil {
		// Rules may be half-installed; heal on unwind still applies.
		p.active = true
		return groups[0], err
	}
	p.active = true
	return groups[0], nil
}

func (p *Partition) Stop(ctx context.Context) error {
	if !p.active {
		return nil
	}
	if err := p.net.Heal(ctx); err != nil {
		return err
	}
	p.active = false
	return nil
}
