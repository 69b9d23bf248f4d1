package nemesis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicheck/replicheck/splitmix"
)

// fakeNet tracks which nodes carry a delay rule. The first delayErrs Delay
// calls install a rule on one target and then fail, mimicking half-applied
// tc rules.
type fakeNet struct {
	mu        sync.Mutex
	delayed   map[string]bool
	delayErrs int
}

func newFakeNet() *fakeNet {
	return &fakeNet{delayed: make(map[string]bool)}
}

func (n *fakeNet) Partition(ctx context.Context, groups [][]string) error { return nil }

func (n *fakeNet) Heal(ctx context.Context) error { return nil }

func (n *fakeNet) Delay(ctx context.Context, nodes []string, d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.delayErrs > 0 {
		n.delayErrs--
		n.delayed[nodes[0]] = true
		return context.DeadlineExceeded
	}
	for _, node := range nodes {
		n.delayed[node] = true
	}
	return nil
}

func (n *fakeNet) ClearDelay(ctx context.Context, nodes []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, node := range nodes {
		delete(n.delayed, node)
	}
	return nil
}

func (n *fakeNet) delayedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.delayed)
}

func TestDelayStartStop(t *testing.T) {
	net := newFakeNet()
	d := NewDelay(net, RandomMinority, testNodes, splitmix.NewRand(1), 50*time.Millisecond)
	ctx := context.Background()

	targets, err := d.Start(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, targets)
	assert.Equal(t, len(targets), net.delayedCount())

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, 0, net.delayedCount())

	// Stop is idempotent.
	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, 0, net.delayedCount())
}

func TestDelayStopClearsEveryAttempt(t *testing.T) {
	net := newFakeNet()
	net.delayErrs = 1
	d := NewDelay(net, OneNode, testNodes, splitmix.NewRand(2), 50*time.Millisecond)
	ctx := context.Background()

	// First start half-installs a rule and fails; the retry picks fresh
	// targets, as the controller would.
	_, err := d.Start(ctx)
	require.Error(t, err)
	_, err = d.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, 0, net.delayedCount(), "unwind must clear the failed attempt's rules too")
}
