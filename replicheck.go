// Package replicheck defines the core contracts of a fault-injection test
// harness for replicated, eventually-convergent stores: clients that execute
// transactions against a node, generators that produce the workload, and the
// lifecycle/network hooks the nemesis drives.
package replicheck

import (
	"context"
	"time"
)

// Client executes transactions against a single node of the system under
// test. Implementations must classify every terminal condition of Invoke
// into exactly one Outcome; see Result.
type Client interface {
	// Open acquires per-process session state against the given node. A
	// single attempt; the runner owns the retry budget.
	Open(ctx context.Context, node string) error
	// Invoke executes one transaction. It never returns a Go error; the
	// classification lives in the Result.
	Invoke(ctx context.Context, txn *Txn) Result
	// Teardown releases per-node resources. Idempotent.
	Teardown() error
	// Close releases the client entirely. Idempotent.
	Close() error
}

// Generator produces a lazy stream of transactions, one call at a time.
// Next returns (nil, nil) when the given process has nothing to do yet,
// which the worker treats as "poll again shortly".
type Generator interface {
	Name() string
	SetUp(opt *Options) error
	Next(process int) (*Txn, error)
	TearDown() error
}

// Lifecycle is the database-lifecycle collaborator consumed by the nemesis.
// The harness only requires these as callable hooks; provisioning and
// installation stay outside.
type Lifecycle interface {
	Start(ctx context.Context, node string) error
	Kill(ctx context.Context, node string) error
	Pause(ctx context.Context, node string) error
	Resume(ctx context.Context, node string) error
}

// NetControl manipulates connectivity between nodes. Partition splits the
// node set into isolated groups; Heal removes all rules.
type NetControl interface {
	Partition(ctx context.Context, groups [][]string) error
	Heal(ctx context.Context) error
	Delay(ctx context.Context, nodes []string, delay time.Duration) error
	ClearDelay(ctx context.Context, nodes []string) error
}

// Database binds a concrete backend: it makes clients and exposes the
// lifecycle and network hooks for its nodes.
type Database interface {
	Name() string
	SetUp(opt *Options) error
	NewClient(process int) (Client, error)
	Lifecycle() Lifecycle
	Net() NetControl
	TearDown() error
}
