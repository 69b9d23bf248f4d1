// Package workload bundles a generator with the checker semantics that
// make its histories analyzable. A workload names the thing being tested:
// list-append over grow-only sets, or last-write-wins registers.
package workload

import (
	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/checker"
	"github.com/replicheck/replicheck/gen"
)

// Workload pairs an operation stream with the semantics its histories are
// checked under.
type Workload struct {
	Name      string
	Semantics checker.Semantics
	// NewGenerator builds a fresh generator for one run. Seed zero means
	// pick one.
	NewGenerator func(seed int64) replicheck.Generator
}

// ListAppend exercises grow-only set semantics: appends commute, reads
// return membership in arrival order.
func ListAppend() Workload {
	return Workload{
		Name:         "list-append",
		Semantics:    checker.GSet,
		NewGenerator: gen.NewTxnGenerator,
	}
}

// LWWRegister exercises last-write-wins registers: the accumulated list's
// last element is the register value and writes are totally ordered.
func LWWRegister() Workload {
	return Workload{
		Name:         "lww-register",
		Semantics:    checker.LWW,
		NewGenerator: gen.NewTxnGenerator,
	}
}

// All lists the built-in workloads.
func All() []Workload {
	return []Workload{ListAppend(), LWWRegister()}
}

// ByName resolves one workload.
func ByName(name string) (Workload, error) {
	for _, w := range All() {
		if w.Name == name {
			return w, nil
		}
	}
	return Workload{}, errors.Errorf("workload: unknown workload %q", name)
}

// FinalRead builds the settle-phase transaction that reads every key.
func FinalRead(keys int) *replicheck.Txn {
	mops := make([]replicheck.Mop, keys)
	for k := range mops {
		mops[k] = replicheck.Read(k)
	}
	return replicheck.NewTxn(mops...)
}
