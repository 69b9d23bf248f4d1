// Package checker analyzes a frozen history for causal consistency and
// strong convergence. Both checkers are pure functions of their inputs:
// derived artifacts (dependency graph, snapshots) are built fresh per check
// and discarded with the verdict.
package checker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/replicheck/replicheck"
)

// Semantics selects how per-key version order is derived.
type Semantics int8

const (
	// GSet treats every key as a grow-only set: appends are concurrent and
	// only membership matters, so no write-write or anti-dependency edges
	// exist.
	GSet Semantics = iota
	// LWW treats every key as a last-write-wins register: writes are
	// totally ordered by acceptance.
	LWW
)

func (s Semantics) String() string {
	if s == LWW {
		return "lww"
	}
	return "g-set"
}

// ParseSemantics maps configuration names to semantics.
func ParseSemantics(s string) (Semantics, error) {
	switch s {
	case "g-set", "gset":
		return GSet, nil
	case "lww":
		return LWW, nil
	}
	return 0, errors.Errorf("checker: unknown semantics %q", s)
}

// Verdict is the user-facing result of a check.
type Verdict int8

const (
	VerdictPass Verdict = iota
	VerdictFail
	// VerdictIndeterminate means the optimistic and pessimistic info
	// interpretations disagree; neither pass nor fail can be claimed.
	VerdictIndeterminate
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictFail:
		return "fail"
	case VerdictIndeterminate:
		return "indeterminate"
	}
	return fmt.Sprintf("Verdict(%d)", int8(v))
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// CausalOpts configures the causal checker.
type CausalOpts struct {
	Semantics Semantics
	// Realtime adds ordering edges between operations whose wall-clock
	// intervals do not overlap.
	Realtime bool
}

// CycleEdge is one edge of a reported counterexample, annotated with the
// transactions and the dependency type that forms it.
type CycleEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// PassResult is the outcome of one graph pass.
type PassResult struct {
	Ok    bool        `json:"ok"`
	Cycle []CycleEdge `json:"cycle,omitempty"`
}

// CausalResult carries both info interpretations distinctly plus the
// combined verdict: fail only when every interpretation contains a cycle,
// indeterminate when they disagree.
type CausalResult struct {
	Verdict     Verdict    `json:"verdict"`
	Optimistic  PassResult `json:"optimistic"`
	Pessimistic PassResult `json:"pessimistic"`
}

// CheckCausal searches the history for transactions that cannot be
// explained by any single causally consistent order. The history must be
// frozen (every operation completed). Errors indicate a malformed history
// or a checker-internal fault, never a consistency violation.
func CheckCausal(history []replicheck.Operation, opts CausalOpts) (CausalResult, error) {
	var okOps, infoOps []replicheck.Operation
	for _, op := range history {
		switch op.Outcome {
		case replicheck.OutcomeOK:
			okOps = append(okOps, op)
		case replicheck.OutcomeInfo:
			infoOps = append(infoOps, op)
		case replicheck.OutcomeFail:
			// definitely never applied
		default:
			return CausalResult{}, errors.Errorf("checker: malformed history: unknown outcome %d", op.Outcome)
		}
	}

	// Optimistic pass: no info transaction committed.
	optimistic, err := runPass(okOps, nil, opts)
	if err != nil {
		return CausalResult{}, err
	}
	// Pessimistic pass: every info transaction committed. With no info
	// operations the two passes coincide.
	pessimistic := optimistic
	if len(infoOps) > 0 {
		pessimistic, err = runPass(okOps, infoOps, opts)
		if err != nil {
			return CausalResult{}, err
		}
	}

	result := CausalResult{Optimistic: optimistic, Pessimistic: pessimistic}
	switch {
	case optimistic.Ok && pessimistic.Ok:
		result.Verdict = VerdictPass
	case !optimistic.Ok && !pessimistic.Ok:
		result.Verdict = VerdictFail
	default:
		result.Verdict = VerdictIndeterminate
	}
	return result, nil
}

// passOp is one node of the dependency graph under construction.
type passOp struct {
	op   replicheck.Operation
	info bool
}

func runPass(okOps, infoOps []replicheck.Operation, opts CausalOpts) (PassResult, error) {
	ops := make([]passOp, 0, len(okOps)+len(infoOps))
	for _, op := range okOps {
		ops = append(ops, passOp{op: op})
	}
	for _, op := range infoOps {
		ops = append(ops, passOp{op: op, info: true})
	}
	b := &graphBuilder{ops: ops, opts: opts, g: newGraph(len(ops))}
	if err := b.build(); err != nil {
		return PassResult{}, err
	}

	cycle := b.g.shortestCycle()
	if cycle == nil {
		return PassResult{Ok: true}, nil
	}
	return PassResult{Ok: false, Cycle: b.renderCycle(cycle)}, nil
}

type graphBuilder struct {
	ops  []passOp
	opts CausalOpts
	g    *graph

	// writers maps (key, element) to the transaction that appended it.
	// Append values are unique per key by generator contract; a duplicate
	// is a malformed history.
	writers map[[2]int]int32
}

func (b *graphBuilder) build() error {
	if err := b.indexWriters(); err != nil {
		return err
	}
	if err := b.addReadEdges(); err != nil {
		return err
	}
	if b.opts.Semantics == LWW {
		if err := b.addVersionEdges(); err != nil {
			return err
		}
	}
	if err := b.addProcessEdges(); err != nil {
		return err
	}
	if b.opts.Realtime {
		if err := b.addRealtimeEdges(); err != nil {
			return err
		}
	}
	return nil
}

func (b *graphBuilder) indexWriters() error {
	b.writers = make(map[[2]int]int32)
	for i, p := range b.ops {
		for _, m := range p.op.Txn.Mops {
			if m.F != replicheck.MopAppend {
				continue
			}
			key := [2]int{m.K, m.Arg}
			if j, ok := b.writers[key]; ok && j != int32(i) {
				return errors.Errorf(
					"checker: malformed history: element %d of key %d written by two transactions", m.Arg, m.K)
			}
			b.writers[key] = int32(i)
		}
	}
	return nil
}

// addReadEdges adds write→read edges wherever a read observes a specific
// write's value. Reads of info operations are never authoritative and add
// no edges; elements with no known writer (e.g. written by an info
// transaction excluded from the optimistic pass) are skipped.
func (b *graphBuilder) addReadEdges() error {
	for i, p := range b.ops {
		if p.info {
			continue
		}
		for _, m := range p.op.Txn.Mops {
			if m.F != replicheck.MopRead {
				continue
			}
			for _, v := range m.Reads {
				w, ok := b.writers[[2]int{m.K, v}]
				if !ok || w == int32(i) {
					continue // unknown writer, or read of own write
				}
				if err := b.g.addEdge(w, int32(i), EdgeWR); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// addVersionEdges derives the per-key LWW version order (writes totally
// ordered by acceptance, approximated by completion time) and adds
// write→write edges along it plus read→write anti-dependencies from every
// read to the version that replaced the one it observed.
func (b *graphBuilder) addVersionEdges() error {
	type write struct {
		txn     int32
		element int
		ret     int64
		call    int64
		process int
	}
	byKey := make(map[int][]write)
	for i, p := range b.ops {
		for _, m := range p.op.Txn.Mops {
			if m.F != replicheck.MopAppend {
				continue
			}
			byKey[m.K] = append(byKey[m.K], write{
				txn:     int32(i),
				element: m.Arg,
				ret:     p.op.Return,
				call:    p.op.Call,
				process: p.op.Process,
			})
		}
	}

	// version: (key, element) → version index; successor: key → writes in
	// acceptance order.
	version := make(map[[2]int]int)
	successor := make(map[int][]write)
	for k, writes := range byKey {
		sort.Slice(writes, func(i, j int) bool {
			if writes[i].ret != writes[j].ret {
				return writes[i].ret < writes[j].ret
			}
			if writes[i].call != writes[j].call {
				return writes[i].call < writes[j].call
			}
			return writes[i].process < writes[j].process
		})
		successor[k] = writes
		for vi, w := range writes {
			version[[2]int{k, w.element}] = vi
			if vi == 0 {
				continue
			}
			prev := writes[vi-1]
			if prev.txn == w.txn {
				continue
			}
			if err := b.g.addEdge(prev.txn, w.txn, EdgeWW); err != nil {
				return err
			}
		}
	}

	// Anti-dependencies: a read that observed version vi precedes the
	// write of version vi+1. A read of an absent key precedes the first
	// write.
	for i, p := range b.ops {
		if p.info {
			continue
		}
		for _, m := range p.op.Txn.Mops {
			if m.F != replicheck.MopRead {
				continue
			}
			writes := successor[m.K]
			if len(writes) == 0 {
				continue
			}
			next := -1
			if m.Reads == nil {
				next = 0 // absent key: the initial version
			} else if len(m.Reads) > 0 {
				observed := m.Reads[len(m.Reads)-1]
				if vi, ok := version[[2]int{m.K, observed}]; ok && vi+1 < len(writes) {
					next = vi + 1
				}
			}
			if next < 0 || writes[next].txn == int32(i) {
				continue
			}
			if err := b.g.addEdge(int32(i), writes[next].txn, EdgeRW); err != nil {
				return err
			}
		}
	}
	return nil
}

// addProcessEdges chains each process's transactions in invocation order.
// The chain is the transitive reduction, so a single process can never form
// a cycle on its own.
func (b *graphBuilder) addProcessEdges() error {
	byProcess := make(map[int][]int32)
	for i, p := range b.ops {
		byProcess[p.op.Process] = append(byProcess[p.op.Process], int32(i))
	}
	for _, idxs := range byProcess {
		sort.Slice(idxs, func(i, j int) bool {
			return b.ops[idxs[i]].op.Call < b.ops[idxs[j]].op.Call
		})
		for i := 1; i < len(idxs); i++ {
			if err := b.g.addEdge(idxs[i-1], idxs[i], EdgeProcess); err != nil {
				return err
			}
		}
	}
	return nil
}

// addRealtimeEdges encodes the "A completed before B was invoked" order
// through a timeline spine: one chain node per operation in return order,
// each operation feeding the spine at its return rank and each operation
// fed from the latest spine node that returned before its invocation.
// This preserves realtime reachability with O(n) edges instead of the
// O(n²) pairwise relation; spine nodes are contracted out of reported
// cycles.
func (b *graphBuilder) addRealtimeEdges() error {
	n := len(b.ops)
	if n == 0 {
		return nil
	}
	order := make([]int32, n)
	for i := range order {
		order[i] = int32(i)
	}
	sort.Slice(order, func(i, j int) bool {
		return b.ops[order[i]].op.Return < b.ops[order[j]].op.Return
	})
	returns := make([]int64, n)
	spine := make([]int32, n)
	for rank, idx := range order {
		returns[rank] = b.ops[idx].op.Return
		spine[rank] = b.g.addNode()
		if err := b.g.addEdge(idx, spine[rank], EdgeRealtime); err != nil {
			return err
		}
		if rank > 0 {
			if err := b.g.addEdge(spine[rank-1], spine[rank], EdgeRealtime); err != nil {
				return err
			}
		}
	}
	for i, p := range b.ops {
		// rank of the last return strictly before this invocation
		rank := sort.Search(n, func(r int) bool { return returns[r] >= p.op.Call }) - 1
		if rank < 0 {
			continue
		}
		if err := b.g.addEdge(spine[rank], int32(i), EdgeRealtime); err != nil {
			return err
		}
	}
	return nil
}

// renderCycle turns a node path into annotated edges, contracting spine
// nodes into single realtime edges between the operations they connect.
func (b *graphBuilder) renderCycle(path []int32) []CycleEdge {
	n := int32(len(b.ops))
	var real []int32
	for _, v := range path {
		if v < n {
			real = append(real, v)
		}
	}
	if len(real) < 2 {
		return nil
	}
	if real[0] != real[len(real)-1] {
		real = append(real, real[0]) // close the loop when a spine node anchored the path
	}
	edges := make([]CycleEdge, 0, len(real)-1)
	for i := 1; i < len(real); i++ {
		from, to := real[i-1], real[i]
		t := b.g.edgeType(from, to)
		if !b.hasDirectEdge(from, to) {
			t = EdgeRealtime // path went through the spine
		}
		edges = append(edges, CycleEdge{
			From: b.ops[from].op.String(),
			To:   b.ops[to].op.String(),
			Type: t.String(),
		})
	}
	return edges
}

func (b *graphBuilder) hasDirectEdge(from, to int32) bool {
	for _, v := range b.g.adj[from] {
		if v == to {
			return true
		}
	}
	return false
}
