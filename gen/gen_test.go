package gen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicheck/replicheck"
)

func testOptions() *replicheck.Options {
	opt := replicheck.DefaultOptions()
	opt.Keys = 4
	opt.MinTxnOps = 1
	opt.MaxTxnOps = 3
	return opt
}

func TestTxnGeneratorBounds(t *testing.T) {
	g := NewTxnGenerator(1)
	opt := testOptions()
	require.NoError(t, g.SetUp(opt))

	for i := 0; i < 1000; i++ {
		txn, err := g.Next(0)
		require.NoError(t, err)
		require.NotNil(t, txn)
		assert.GreaterOrEqual(t, len(txn.Mops), opt.MinTxnOps)
		assert.LessOrEqual(t, len(txn.Mops), opt.MaxTxnOps)
		for _, m := range txn.Mops {
			assert.GreaterOrEqual(t, m.K, 0)
			assert.Less(t, m.K, opt.Keys)
		}
	}
	require.NoError(t, g.TearDown())
}

func TestTxnGeneratorUniqueAppends(t *testing.T) {
	g := NewTxnGenerator(7)
	require.NoError(t, g.SetUp(testOptions()))

	seen := make(map[[2]int]bool)
	for i := 0; i < 1000; i++ {
		txn, err := g.Next(0)
		require.NoError(t, err)
		for _, m := range txn.Mops {
			if m.F != replicheck.MopAppend {
				continue
			}
			key := [2]int{m.K, m.Arg}
			require.False(t, seen[key], "append value %d reused on key %d", m.Arg, m.K)
			seen[key] = true
		}
	}
}

func TestTxnGeneratorDeterministicForSeed(t *testing.T) {
	a := NewTxnGenerator(42)
	b := NewTxnGenerator(42)
	require.NoError(t, a.SetUp(testOptions()))
	require.NoError(t, b.SetUp(testOptions()))
	for i := 0; i < 100; i++ {
		ta, err := a.Next(0)
		require.NoError(t, err)
		tb, err := b.Next(0)
		require.NoError(t, err)
		assert.Equal(t, ta.String(), tb.String())
	}
}

func TestStaggerPacesPerProcess(t *testing.T) {
	// At a very low rate the second immediate poll must yield nothing,
	// while other processes are unaffected.
	g := Stagger(NewTxnGenerator(1), 0.001)
	require.NoError(t, g.SetUp(testOptions()))

	txn, err := g.Next(0)
	require.NoError(t, err)
	require.NotNil(t, txn, "first poll fires immediately")

	txn, err = g.Next(0)
	require.NoError(t, err)
	assert.Nil(t, txn, "second poll is inside the inter-arrival wait")

	txn, err = g.Next(1)
	require.NoError(t, err)
	assert.NotNil(t, txn, "processes pace independently")
}

func TestStaggerEventuallyYields(t *testing.T) {
	g := Stagger(NewTxnGenerator(1), 1000)
	require.NoError(t, g.SetUp(testOptions()))
	require.NoError(t, func() error {
		_, err := g.Next(0)
		return err
	}())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		txn, err := g.Next(0)
		require.NoError(t, err)
		if txn != nil {
			return
		}
		time.Sleep(100 * time.Microsecond)
	}
	t.Fatal("stagger never released another transaction")
}

func TestSynchronizeDelegates(t *testing.T) {
	g := Synchronize(NewTxnGenerator(3))
	require.NoError(t, g.SetUp(testOptions()))
	assert.Equal(t, "txn", g.Name())
	txn, err := g.Next(0)
	require.NoError(t, err)
	assert.NotNil(t, txn)
	require.NoError(t, g.TearDown())
}
