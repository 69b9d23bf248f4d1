package cli

import (
	"math/rand"
	"time"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/nemesis"
)

// Nemeses builds the named fault schedules for one run. Each package gets
// its own periodic schedule; composed packages interleave sub-schedules on
// the shared run clock. The last few seconds of the time limit stay fault
// free so the cluster re-enters its steady state before final reads.
func Nemeses(db replicheck.Database, opt *replicheck.Options, rng *rand.Rand) []*nemesis.Package {
	lc := db.Lifecycle()
	net := db.Net()
	nodes := opt.Nodes

	first := 5 * time.Second
	active := 10 * time.Second
	idle := 5 * time.Second
	total := opt.TimeLimit - idle
	if total < first {
		total = opt.TimeLimit
	}
	schedule := func(f nemesis.Fault) *nemesis.Package {
		return nemesis.Periodic(f, first, active, idle, total)
	}

	partition := func(s nemesis.Strategy) *nemesis.Package {
		return schedule(nemesis.NewPartition(net, s, nodes, rng))
	}

	pkgs := []*nemesis.Package{
		{}, // the nil nemesis: a fault-free control run
		partition(nemesis.SplitOne),
		partition(nemesis.SplitMinority),
		partition(nemesis.SplitMajority),
		partition(nemesis.SplitMinorityThird),
		partition(nemesis.SplitAll),
		schedule(nemesis.NewPause(lc, nemesis.RandomMinority, nodes, rng)),
		schedule(nemesis.NewKill(lc, nemesis.RandomMinority, nodes, rng, opt.RestartDelay)),
		schedule(nemesis.NewDelay(net, nemesis.RandomMinority, nodes, rng, 100*time.Millisecond)),
		nemesis.Compose(
			partition(nemesis.SplitMajority),
			schedule(nemesis.NewKill(lc, nemesis.OneNode, nodes, rng, opt.RestartDelay)),
		),
	}
	return pkgs
}
