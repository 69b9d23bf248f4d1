package nemesis

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/log"
)

// Kill terminates the store process on target nodes. The fault itself is
// stateless; recovery goes through the database-lifecycle Start hook, which
// the fault invokes automatically after RestartDelay. Stop restarts any node
// whose delayed recovery has not fired yet, so unwind always leaves every
// node running.
type Kill struct {
	lc           replicheck.Lifecycle
	pick         Targeter
	nodes        []string
	rng          *rand.Rand
	restartDelay time.Duration

	mu      sync.Mutex
	pending map[string]bool
}

func NewKill(lc replicheck.Lifecycle, pick Targeter, nodes []string, rng *rand.Rand, restartDelay time.Duration) *Kill {
	return &Kill{
		lc:           lc,
		pick:         pick,
		nodes:        nodes,
		rng:          rng,
		restartDelay: restartDelay,
		pending:      make(map[string]bool),
	}
}

func (k *Kill) Name() string { return "kill" }

func (k *Kill) Start(ctx context.Context) ([]string, error) {
	targets := k.pick(k.rng, k.nodes)
	var firstErr error
	for _, node := range targets {
		if err := k.lc.Kill(ctx, node); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		k.mu.Lock()
		k.pending[node] = true
		k.mu.Unlock()
		go k.recoverLater(ctx, node)
	}
	return targets, firstErr
}

func (k *Kill) recoverLater(ctx context.Context, node string) {
	timer := time.NewTimer(k.restartDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return // Stop restarts it during unwind
	case <-timer.C:
	}
	k.restart(ctx, node)
}

func (k *Kill) restart(ctx context.Context, node string) {
	k.mu.Lock()
	if !k.pending[node] {
		k.mu.Unlock()
		return
	}
	delete(k.pending, node)
	k.mu.Unlock()
	if err := k.lc.Start(ctx, node); err != nil {
		log.Warning("nemesis: restart of %s failed: %v", node, err)
	}
}

func (k *Kill) Stop(ctx context.Context) error {
	k.mu.Lock()
	var nodes []string
	for node := range k.pending {
		nodes = append(nodes, node)
	}
	k.mu.Unlock()
	for _, node := range nodes {
		k.restart(ctx, node)
	}
	return nil
}
