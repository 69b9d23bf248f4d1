package nemesis

import (
	"context"
	"math/rand"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/log"
)

// Pause suspends the store process on target nodes (SIGSTOP semantics):
// states {running, paused}. The process is never terminated; Stop resumes
// it from exactly where it stopped.
type Pause struct {
	lc     replicheck.Lifecycle
	pick   Targeter
	nodes  []string
	rng    *rand.Rand
	paused []string
}

func NewPause(lc replicheck.Lifecycle, pick Targeter, nodes []string, rng *rand.Rand) *Pause {
	return &Pause{lc: lc, pick: pick, nodes: nodes, rng: rng}
}

func (p *Pause) Name() string { return "pause" }

func (p *Pause) Start(ctx context.Context) ([]string, error) {
	targets := p.pick(p.rng, p.nodes)
	for _, node := range targets {
		if err := p.lc.Pause(ctx, node); err != nil {
			return targets, err
		}
		p.paused = append(p.paused, node)
	}
	return targets, nil
}

func (p *Pause) Stop(ctx context.Context) error {
	var firstErr error
	for _, node := range p.paused {
		if err := p.lc.Resume(ctx, node); err != nil {
			log.Warning("nemesis: resume %s failed: %v", node, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	p.paused = nil
	return firstErr
}
