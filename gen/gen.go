// Package gen produces the logical operation stream: random read/append
// transactions over a bounded key space, with pacing and synchronization
// wrappers. Generators are pure scheduling; they never touch the system
// under test.
package gen

import (
	"math/rand"
	"sync"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/splitmix"
)

// NewTxnGenerator yields transactions of minOps..maxOps micro-operations on
// keys 0..keys-1. Append values are unique per key (a monotonic counter),
// which is what lets the checkers recover the writer of every observed
// element.
func NewTxnGenerator(seed int64) replicheck.Generator {
	return &txnGenerator{seed: seed}
}

type txnGenerator struct {
	seed    int64
	keys    int
	minOps  int
	maxOps  int
	rand    *rand.Rand
	counter map[int]int
}

func (g *txnGenerator) Name() string { return "txn" }

func (g *txnGenerator) SetUp(opt *replicheck.Options) error {
	seed := g.seed
	if seed == 0 {
		seed = splitmix.NewSeed()
	}
	g.keys = opt.Keys
	g.minOps = opt.MinTxnOps
	g.maxOps = opt.MaxTxnOps
	g.rand = splitmix.NewRand(seed)
	g.counter = make(map[int]int, g.keys)
	return nil
}

func (g *txnGenerator) TearDown() error { return nil }

func (g *txnGenerator) Next(process int) (*replicheck.Txn, error) {
	if process < 0 {
		return nil, nil
	}
	n := g.minOps
	if g.maxOps > g.minOps {
		n += g.rand.Intn(g.maxOps - g.minOps + 1)
	}
	mops := make([]replicheck.Mop, n)
	for i := range mops {
		k := g.rand.Intn(g.keys)
		if g.rand.Int63()&1 == 0 {
			mops[i] = replicheck.Read(k)
		} else {
			g.counter[k]++
			mops[i] = replicheck.Append(k, g.counter[k])
		}
	}
	return replicheck.NewTxn(mops...), nil
}

// Synchronize makes a generator safe for the concurrent workers that share
// it.
func Synchronize(g replicheck.Generator) replicheck.Generator {
	return &synchronized{inner: g}
}

type synchronized struct {
	inner replicheck.Generator
	mu    sync.Mutex
}

func (s *synchronized) Name() string { return s.inner.Name() }

func (s *synchronized) SetUp(opt *replicheck.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.SetUp(opt)
}

func (s *synchronized) TearDown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.TearDown()
}

func (s *synchronized) Next(process int) (*replicheck.Txn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Next(process)
}
