package checker

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicheck/replicheck"
)

func op(process int, call, ret int64, outcome replicheck.Outcome, mops ...replicheck.Mop) replicheck.Operation {
	return replicheck.Operation{
		Process: process,
		Txn:     replicheck.Txn{Mops: mops},
		Call:    call,
		Return:  ret,
		Outcome: outcome,
	}
}

func read(k int, vals ...int) replicheck.Mop {
	m := replicheck.Read(k)
	if vals != nil {
		m.Reads = vals
	}
	return m
}

func TestCheckCausalEmptyHistory(t *testing.T) {
	res, err := CheckCausal(nil, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
	assert.True(t, res.Optimistic.Ok)
	assert.True(t, res.Pessimistic.Ok)
}

func TestCheckCausalWriteThenRead(t *testing.T) {
	history := []replicheck.Operation{
		op(1, 10, 20, replicheck.OutcomeOK, replicheck.Append(1, 5)),
		op(2, 30, 40, replicheck.OutcomeOK, read(1, 5)),
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
}

func TestCheckCausalReadCycle(t *testing.T) {
	// Two concurrent transactions each observe the other's append: no
	// single causal order can explain both.
	history := []replicheck.Operation{
		op(0, 10, 100, replicheck.OutcomeOK, read(1, 2), replicheck.Append(1, 1)),
		op(1, 12, 102, replicheck.OutcomeOK, read(1, 1), replicheck.Append(1, 2)),
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, res.Verdict)
	require.False(t, res.Optimistic.Ok)
	assert.Len(t, res.Optimistic.Cycle, 2, "minimal counterexample is the 2-transaction cycle")
	for _, e := range res.Optimistic.Cycle {
		assert.Equal(t, "wr", e.Type)
	}
}

func TestCheckCausalReadOwnWrite(t *testing.T) {
	history := []replicheck.Operation{
		op(0, 10, 20, replicheck.OutcomeOK, replicheck.Append(1, 1), read(1, 1)),
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
}

func TestCheckCausalStaleReadLWWRealtime(t *testing.T) {
	// A read that returns a superseded register value after the newer
	// write completed is a violation only under realtime ordering.
	history := []replicheck.Operation{
		op(0, 10, 20, replicheck.OutcomeOK, replicheck.Append(1, 1)),
		op(1, 30, 40, replicheck.OutcomeOK, replicheck.Append(1, 2)),
		op(2, 50, 60, replicheck.OutcomeOK, read(1, 1)),
	}

	res, err := CheckCausal(history, CausalOpts{Semantics: LWW})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict, "stale reads are causally fine without realtime edges")

	res, err = CheckCausal(history, CausalOpts{Semantics: LWW, Realtime: true})
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, res.Verdict)
	require.False(t, res.Optimistic.Ok)
	types := make(map[string]bool)
	for _, e := range res.Optimistic.Cycle {
		types[e.Type] = true
	}
	assert.True(t, types["rw"], "cycle should include the anti-dependency, got %v", res.Optimistic.Cycle)
}

func TestCheckCausalAbsentKeyReadLWW(t *testing.T) {
	// Reading the key as absent after observing its write in the same
	// process puts the read both before the first write and after it.
	history := []replicheck.Operation{
		op(0, 10, 20, replicheck.OutcomeOK, replicheck.Append(1, 1)),
		op(0, 30, 40, replicheck.OutcomeOK, read(1)),
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: LWW})
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, res.Verdict)
}

func TestCheckCausalInfoIndeterminate(t *testing.T) {
	// The read observes an element whose only writer is an ambiguous
	// transaction invoked later by the same process. If the info op
	// committed there is a cycle; if it did not, the element simply has
	// no known writer.
	history := []replicheck.Operation{
		op(1, 10, 20, replicheck.OutcomeOK, read(1, 7)),
		op(1, 30, 999, replicheck.OutcomeInfo, replicheck.Append(1, 7)),
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictIndeterminate, res.Verdict)
	assert.True(t, res.Optimistic.Ok)
	assert.False(t, res.Pessimistic.Ok)
}

func TestCheckCausalAmbiguousAppendObserved(t *testing.T) {
	// An ambiguous append that actually committed: a later read returns
	// both elements. Neither interpretation yields a cycle, so the
	// ambiguity costs nothing.
	history := []replicheck.Operation{
		op(1, 10, 20, replicheck.OutcomeOK, replicheck.Append(1, 10)),
		op(1, 30, 999, replicheck.OutcomeInfo, replicheck.Append(1, 20)),
		op(2, 50, 60, replicheck.OutcomeOK, read(1, 10, 20)),
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
	assert.True(t, res.Optimistic.Ok)
	assert.True(t, res.Pessimistic.Ok)
}

func TestCheckCausalFailedOpsIgnored(t *testing.T) {
	history := []replicheck.Operation{
		op(0, 10, 20, replicheck.OutcomeFail, replicheck.Append(1, 9)),
		op(1, 30, 40, replicheck.OutcomeOK, read(1, 9)),
	}
	// The element's writer certainly never committed, so the read has no
	// known writer and adds no edge.
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
}

func TestCheckCausalDuplicateAppendIsMalformed(t *testing.T) {
	history := []replicheck.Operation{
		op(0, 10, 20, replicheck.OutcomeOK, replicheck.Append(1, 5)),
		op(1, 30, 40, replicheck.OutcomeOK, replicheck.Append(1, 5)),
	}
	_, err := CheckCausal(history, CausalOpts{Semantics: GSet})
	require.Error(t, err)
}

func TestCheckCausalPermutationIndependent(t *testing.T) {
	history := []replicheck.Operation{
		op(0, 10, 100, replicheck.OutcomeOK, read(1, 2), replicheck.Append(1, 1)),
		op(1, 12, 102, replicheck.OutcomeOK, read(1, 1), replicheck.Append(1, 2)),
		op(2, 30, 40, replicheck.OutcomeOK, replicheck.Append(2, 1)),
		op(3, 50, 60, replicheck.OutcomeOK, read(2, 1)),
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]replicheck.Operation(nil), history...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		res, err := CheckCausal(shuffled, CausalOpts{Semantics: GSet, Realtime: true})
		require.NoError(t, err)
		assert.Equal(t, VerdictFail, res.Verdict)
	}
}

func TestCheckCausalSingleProcessChain(t *testing.T) {
	// One process alone can never form a cycle: its edges all point
	// forward in invocation order.
	var history []replicheck.Operation
	for i := 0; i < 50; i++ {
		call := int64(i*10 + 1)
		history = append(history,
			op(0, call, call+5, replicheck.OutcomeOK, replicheck.Append(1, i+1), read(1)))
	}
	// Reads resolve to everything appended so far.
	acc := []int{}
	for i := range history {
		acc = append(acc, history[i].Txn.Mops[0].Arg)
		history[i].Txn.Mops[1].Reads = append([]int(nil), acc...)
	}
	res, err := CheckCausal(history, CausalOpts{Semantics: GSet, Realtime: true})
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
}
