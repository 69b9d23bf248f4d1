package gen

import (
	"sync"
	"time"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/splitmix"
)

// Stagger paces a generator to an approximate target rate per process.
// Inter-arrival times are exponentially distributed and drawn independently
// per process, so workers never synchronize into a thundering herd that
// would mask concurrency bugs.
func Stagger(g replicheck.Generator, rate float64) replicheck.Generator {
	return &stagger{inner: g, rate: rate}
}

type stagger struct {
	inner replicheck.Generator
	rate  float64

	mu   sync.Mutex
	next map[int]time.Time
}

func (st *stagger) Name() string { return st.inner.Name() }

func (st *stagger) SetUp(opt *replicheck.Options) error {
	st.mu.Lock()
	st.next = make(map[int]time.Time, opt.Concurrency)
	st.mu.Unlock()
	return st.inner.SetUp(opt)
}

func (st *stagger) TearDown() error { return st.inner.TearDown() }

func (st *stagger) Next(process int) (*replicheck.Txn, error) {
	now := time.Now()
	st.mu.Lock()
	if now.Before(st.next[process]) {
		st.mu.Unlock()
		return nil, nil
	}
	// Pacing noise is not part of the reproducible run seed. ExpFloat64
	// draws only from the atomic shared source, so this is race-free.
	wait := time.Duration(splitmix.Rand.ExpFloat64() / st.rate * float64(time.Second))
	st.next[process] = now.Add(wait)
	st.mu.Unlock()
	return st.inner.Next(process)
}
