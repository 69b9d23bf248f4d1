package nemesis

import (
	"context"
	"math/rand"
	"time"

	"github.com/replicheck/replicheck"
)

// Delay applies packet delay to target nodes for the fault's active
// interval; Stop clears it.
type Delay struct {
	net     replicheck.NetControl
	pick    Targeter
	nodes   []string
	rng     *rand.Rand
	amount  time.Duration
	delayed []string
}

func NewDelay(net replicheck.NetControl, pick Targeter, nodes []string, rng *rand.Rand, amount time.Duration) *Delay {
	return &Delay{net: net, pick: pick, nodes: nodes, rng: rng, amount: amount}
}

func (d *Delay) Name() string { return "delay" }

func (d *Delay) Start(ctx context.Context) ([]string, error) {
	targets := d.pick(d.rng, d.nodes)
	// Record before the call: rules may be half-installed on error, and a
	// retry re-picks targets, so Stop must clear every attempt's nodes.
	d.delayed = append(d.delayed, targets...)
	return targets, d.net.Delay(ctx, targets, d.amount)
}

func (d *Delay) Stop(ctx context.Context) error {
	if len(d.delayed) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(d.delayed))
	nodes := d.delayed[:0]
	for _, n := range d.delayed {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	err := d.net.ClearDelay(ctx, nodes)
	d.delayed = nil
	return err
}
