package agent

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/jrpc"
)

// Conns is a lazy pool of authenticated connections to node agents.
type Conns struct {
	port     int
	password string

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

func NewConns(opt *replicheck.Options) *Conns {
	return &Conns{
		port:     opt.AgentPort,
		password: opt.AgentPassword,
		clients:  make(map[string]*rpc.Client),
	}
}

func (c *Conns) get(node string) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[node]; ok {
		return client, nil
	}
	client, err := jrpc.Dial(fmt.Sprintf("%s:%d", node, c.port), []byte(c.password))
	if err != nil {
		return nil, errors.Wrapf(err, "agent: dialing %s", node)
	}
	c.clients[node] = client
	return client, nil
}

// drop forgets a cached connection, forcing a redial on next use. Called
// after a call error since net/rpc clients do not recover from broken
// connections.
func (c *Conns) drop(node string) {
	c.mu.Lock()
	if client, ok := c.clients[node]; ok {
		client.Close()
		delete(c.clients, node)
	}
	c.mu.Unlock()
}

func (c *Conns) Close() {
	c.mu.Lock()
	for node, client := range c.clients {
		client.Close()
		delete(c.clients, node)
	}
	c.mu.Unlock()
}

func (c *Conns) call(ctx context.Context, node, method string, arg interface{}) error {
	client, err := c.get(node)
	if err != nil {
		return err
	}
	var reply string
	if err := jrpc.Call(ctx, client, method, arg, &reply); err != nil {
		c.drop(node)
		return errors.Wrapf(err, "agent: %s on %s", method, node)
	}
	return nil
}

// Lifecycle implements replicheck.Lifecycle against node agents.
type Lifecycle struct {
	conns *Conns
}

func NewLifecycle(conns *Conns) *Lifecycle { return &Lifecycle{conns: conns} }

func (l *Lifecycle) Start(ctx context.Context, node string) error {
	return l.conns.call(ctx, node, "ProcRpc.Start", &Empty{})
}

func (l *Lifecycle) Kill(ctx context.Context, node string) error {
	return l.conns.call(ctx, node, "ProcRpc.Kill", &Empty{})
}

func (l *Lifecycle) Pause(ctx context.Context, node string) error {
	return l.conns.call(ctx, node, "ProcRpc.Pause", &Empty{})
}

func (l *Lifecycle) Resume(ctx context.Context, node string) error {
	return l.conns.call(ctx, node, "ProcRpc.Resume", &Empty{})
}

// Net implements replicheck.NetControl against node agents.
type Net struct {
	conns *Conns
	nodes []string
}

func NewNet(conns *Conns, nodes []string) *Net {
	return &Net{conns: conns, nodes: nodes}
}

// Partition installs drop rules so every node only accepts traffic from its
// own group.
func (n *Net) Partition(ctx context.Context, groups [][]string) error {
	group := make(map[string]int, len(n.nodes))
	for i, g := range groups {
		for _, node := range g {
			group[node] = i
		}
	}
	for _, node := range n.nodes {
		gi, ok := group[node]
		if !ok {
			continue // node outside the split keeps full connectivity
		}
		var peers []string
		for _, other := range n.nodes {
			if gj, ok := group[other]; ok && other != node && gj != gi {
				peers = append(peers, other)
			}
		}
		if len(peers) == 0 {
			continue
		}
		if err := n.conns.call(ctx, node, "NetRpc.Drop", &peers); err != nil {
			return err
		}
	}
	return nil
}

func (n *Net) Heal(ctx context.Context) error {
	var firstErr error
	for _, node := range n.nodes {
		if err := n.conns.call(ctx, node, "NetRpc.Heal", &Empty{}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *Net) Delay(ctx context.Context, nodes []string, delay time.Duration) error {
	arg := &DelayArgs{Millis: int(delay / time.Millisecond)}
	for _, node := range nodes {
		if err := n.conns.call(ctx, node, "NetRpc.Delay", arg); err != nil {
			return err
		}
	}
	return nil
}

func (n *Net) ClearDelay(ctx context.Context, nodes []string) error {
	var firstErr error
	for _, node := range nodes {
		if err := n.conns.call(ctx, node, "NetRpc.ClearDelay", &Empty{}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
