package replicheck

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pkg/errors"
)

func TestMopWireFormat(t *testing.T) {
	cases := []struct {
		mop  Mop
		want string
	}{
		{Read(5), `{"f":"r","k":5,"v":null}`},
		{Append(5, 7), `{"f":"append","k":5,"v":7}`},
		{Mop{F: MopRead, K: 3, Reads: []int{1, 2}}, `{"f":"r","k":3,"v":[1,2]}`},
		{Mop{F: MopRead, K: 3, Reads: []int{}}, `{"f":"r","k":3,"v":[]}`},
	}
	for _, c := range cases {
		data, err := json.Marshal(c.mop)
		require.NoError(t, err)
		assert.Equal(t, c.want, string(data))

		var back Mop
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, c.mop, back)
	}
}

func TestMopUnmarshalRejectsUnknownFunc(t *testing.T) {
	var m Mop
	err := json.Unmarshal([]byte(`{"f":"cas","k":1,"v":2}`), &m)
	assert.Error(t, err)
}

func TestMopAbsentValueIsUnresolvedRead(t *testing.T) {
	var m Mop
	require.NoError(t, json.Unmarshal([]byte(`{"f":"r","k":2}`), &m))
	assert.Nil(t, m.Reads)
}

func TestOutcomeJSON(t *testing.T) {
	for _, o := range []Outcome{OutcomeOK, OutcomeFail, OutcomeInfo} {
		data, err := json.Marshal(o)
		require.NoError(t, err)
		var back Outcome
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, o, back)
	}
	var o Outcome
	assert.Error(t, json.Unmarshal([]byte(`"maybe"`), &o))
}

func TestCompleteOperation(t *testing.T) {
	invoked := NewTxn(Append(1, 5), Read(1))
	op := Operation{Process: 2, Txn: *invoked, Call: 10, Return: -1}

	resolved := Txn{Mops: []Mop{Append(1, 5), {F: MopRead, K: 1, Reads: []int{5}}}}
	done := CompleteOperation(op, OK(resolved), 20)
	assert.Equal(t, OutcomeOK, done.Outcome)
	assert.Equal(t, int64(20), done.Return)
	assert.Equal(t, []int{5}, done.Txn.Mops[1].Reads)
	assert.Empty(t, done.Cause)

	done = CompleteOperation(op, Fail(pkgerrors.New("rejected")), 21)
	assert.Equal(t, OutcomeFail, done.Outcome)
	assert.Equal(t, "rejected", done.Cause)
	assert.Nil(t, done.Txn.Mops[1].Reads, "failed results keep the invoked transaction")

	done = CompleteOperation(op, Info(pkgerrors.New("timeout")), -1)
	assert.Equal(t, OutcomeInfo, done.Outcome)
	assert.Equal(t, int64(-1), done.Return)
}

func TestTxnString(t *testing.T) {
	txn := NewTxn(Append(1, 2), Read(3))
	assert.Equal(t, "[append(1, 2), r(3)]", txn.String())
}
