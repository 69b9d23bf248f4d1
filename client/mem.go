package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
)

// MemStore is an in-process replicated store for exercising the harness
// end to end. Each node keeps its own copy of the data; appends replicate
// synchronously within the requesting node's partition group and the
// replicas merge when the partition heals. Kill and pause make a node
// refuse or stall requests.
type MemStore struct {
	mu     sync.Mutex
	nodes  []string
	state  map[string]map[int][]int
	groups [][]string // nil means fully connected
	paused map[string]bool
	killed map[string]bool
}

func NewMemStore(nodes []string) *MemStore {
	s := &MemStore{
		nodes:  append([]string(nil), nodes...),
		state:  make(map[string]map[int][]int),
		paused: make(map[string]bool),
		killed: make(map[string]bool),
	}
	for _, n := range nodes {
		s.state[n] = make(map[int][]int)
	}
	return s
}

var (
	errNodeDown   = errors.New("connection refused: node is down")
	errNodeStuck  = errors.New("request timed out: node is paused")
	errNoSuchNode = errors.New("no such node")
)

// reachable returns the nodes in the same partition group as node,
// including node itself.
func (s *MemStore) reachable(node string) []string {
	if s.groups == nil {
		return s.nodes
	}
	for _, g := range s.groups {
		for _, n := range g {
			if n == node {
				return g
			}
		}
	}
	// Nodes left out of every group keep full connectivity to each
	// other but not to the grouped nodes.
	var rest []string
	for _, n := range s.nodes {
		if !s.grouped(n) {
			rest = append(rest, n)
		}
	}
	return rest
}

func (s *MemStore) grouped(node string) bool {
	for _, g := range s.groups {
		for _, n := range g {
			if n == node {
				return true
			}
		}
	}
	return false
}

// Apply executes a transaction against node under its lock: reads resolve
// from the node's replica, appends replicate to every reachable replica.
func (s *MemStore) Apply(node string, txn *replicheck.Txn) (replicheck.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replica, ok := s.state[node]
	if !ok {
		return replicheck.Txn{}, errNoSuchNode
	}
	if s.killed[node] {
		return replicheck.Txn{}, errNodeDown
	}
	if s.paused[node] {
		return replicheck.Txn{}, errNodeStuck
	}

	out := replicheck.Txn{Mops: make([]replicheck.Mop, len(txn.Mops))}
	for i, m := range txn.Mops {
		out.Mops[i] = m
		switch m.F {
		case replicheck.MopRead:
			if list, ok := replica[m.K]; ok {
				out.Mops[i].Reads = append([]int(nil), list...)
			}
		case replicheck.MopAppend:
			for _, peer := range s.reachable(node) {
				if s.killed[peer] {
					continue
				}
				s.state[peer][m.K] = append(s.state[peer][m.K], m.Arg)
			}
		default:
			return out, errors.Errorf("unknown mop function %q", m.F)
		}
	}
	return out, nil
}

// Read returns a copy of one node's replica, as a final read would see it.
func (s *MemStore) Read(node string) (map[int][]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replica, ok := s.state[node]
	if !ok {
		return nil, errNoSuchNode
	}
	if s.killed[node] || s.paused[node] {
		return nil, errNodeDown
	}
	out := make(map[int][]int, len(replica))
	for k, v := range replica {
		out[k] = append([]int(nil), v...)
	}
	return out, nil
}

// merge unions every replica pair and installs the union everywhere.
// Element order follows first appearance across replicas, which keeps
// grow-only set semantics and a deterministic last element.
func (s *MemStore) merge() {
	merged := make(map[int][]int)
	seen := make(map[int]map[int]bool)
	for _, n := range s.nodes {
		for k, list := range s.state[n] {
			if seen[k] == nil {
				seen[k] = make(map[int]bool)
			}
			for _, v := range list {
				if !seen[k][v] {
					seen[k][v] = true
					merged[k] = append(merged[k], v)
				}
			}
		}
	}
	for _, n := range s.nodes {
		if s.killed[n] {
			continue
		}
		replica := make(map[int][]int, len(merged))
		for k, v := range merged {
			replica[k] = append([]int(nil), v...)
		}
		s.state[n] = replica
	}
}

// MemLifecycle drives kill, restart, pause, and resume on a MemStore.
type MemLifecycle struct{ s *MemStore }

var _ replicheck.Lifecycle = (*MemLifecycle)(nil)

func (l *MemLifecycle) Start(ctx context.Context, node string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if !l.s.killed[node] {
		return nil
	}
	delete(l.s.killed, node)
	// A restarted node rejoins empty and catches up from its peers.
	l.s.state[node] = make(map[int][]int)
	l.s.merge()
	return nil
}

func (l *MemLifecycle) Kill(ctx context.Context, node string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.killed[node] = true
	return nil
}

func (l *MemLifecycle) Pause(ctx context.Context, node string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.paused[node] = true
	return nil
}

func (l *MemLifecycle) Resume(ctx context.Context, node string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	delete(l.s.paused, node)
	return nil
}

// MemNet partitions and heals a MemStore.
type MemNet struct{ s *MemStore }

var _ replicheck.NetControl = (*MemNet)(nil)

func (n *MemNet) Partition(ctx context.Context, groups [][]string) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	n.s.groups = groups
	return nil
}

func (n *MemNet) Heal(ctx context.Context) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	n.s.groups = nil
	n.s.merge()
	return nil
}

func (n *MemNet) Delay(ctx context.Context, nodes []string, delay time.Duration) error {
	return nil // latency is invisible to an in-process store
}

func (n *MemNet) ClearDelay(ctx context.Context, nodes []string) error { return nil }

// MemClient is a replicheck.Client over one MemStore node.
type MemClient struct {
	s    *MemStore
	node string
}

var _ replicheck.Client = (*MemClient)(nil)

func NewMemClient(s *MemStore) *MemClient { return &MemClient{s: s} }

func (c *MemClient) Open(ctx context.Context, node string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.state[node]; !ok {
		return errNoSuchNode
	}
	if c.s.killed[node] {
		return errNodeDown
	}
	c.node = node
	return nil
}

func (c *MemClient) Invoke(ctx context.Context, txn *replicheck.Txn) replicheck.Result {
	resolved, err := c.s.Apply(c.node, txn)
	switch {
	case err == nil:
		return replicheck.OK(resolved)
	case errors.Is(err, errNodeDown):
		return replicheck.Fail(err)
	case errors.Is(err, errNodeStuck):
		return replicheck.Info(err)
	}
	return replicheck.Info(err)
}

func (c *MemClient) Teardown() error { return nil }
func (c *MemClient) Close() error    { return nil }

// MemDatabase bundles the store with its hooks so the runner can drive it
// like any other backend.
type MemDatabase struct {
	store *MemStore
}

var _ replicheck.Database = (*MemDatabase)(nil)

func NewMemDatabase(nodes []string) *MemDatabase {
	return &MemDatabase{store: NewMemStore(nodes)}
}

func (d *MemDatabase) Name() string { return "mem" }

func (d *MemDatabase) SetUp(opt *replicheck.Options) error { return nil }

func (d *MemDatabase) TearDown() error { return nil }

func (d *MemDatabase) NewClient(process int) (replicheck.Client, error) {
	return NewMemClient(d.store), nil
}

func (d *MemDatabase) Lifecycle() replicheck.Lifecycle { return &MemLifecycle{s: d.store} }
func (d *MemDatabase) Net() replicheck.NetControl      { return &MemNet{s: d.store} }

// Store exposes the underlying MemStore for final reads in tests.
func (d *MemDatabase) Store() *MemStore { return d.store }

// Nodes returns the node names in stable order.
func (s *MemStore) Nodes() []string {
	out := append([]string(nil), s.nodes...)
	sort.Strings(out)
	return out
}
