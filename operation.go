package replicheck

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome classifies the terminal condition of an operation.
//
//	OutcomeOK:   the effect is known and took place.
//	OutcomeFail: the effect certainly did not take place.
//	OutcomeInfo: indeterminate; the effect may or may not have happened.
//
// The distinction is load-bearing for checker soundness: a misclassified
// ok or info produces false verdicts.
type Outcome int8

const (
	OutcomeOK Outcome = iota
	OutcomeFail
	OutcomeInfo
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFail:
		return "fail"
	case OutcomeInfo:
		return "info"
	}
	return fmt.Sprintf("Outcome(%d)", int8(o))
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "ok":
		*o = OutcomeOK
	case "fail":
		*o = OutcomeFail
	case "info":
		*o = OutcomeInfo
	default:
		return fmt.Errorf("replicheck: unknown outcome %q", s)
	}
	return nil
}

// MopFunc is the function of a micro-operation on the wire.
type MopFunc string

const (
	MopRead   MopFunc = "r"
	MopAppend MopFunc = "append"
)

// Mop is one micro-operation inside a transaction. On the wire it is
// {"f":"r"|"append","k":int,"v":...}: v is the append argument, null for an
// unresolved read, and the full accumulated list for a resolved read.
type Mop struct {
	F     MopFunc
	K     int
	Arg   int   // append argument; meaningful when F == MopAppend
	Reads []int // resolved read; nil for an absent key or an unresolved read
}

// Read makes an unresolved read micro-op.
func Read(k int) Mop { return Mop{F: MopRead, K: k} }

// Append makes an append micro-op.
func Append(k, v int) Mop { return Mop{F: MopAppend, K: k, Arg: v} }

type mopWire struct {
	F MopFunc         `json:"f"`
	K int             `json:"k"`
	V json.RawMessage `json:"v"`
}

func (m Mop) MarshalJSON() ([]byte, error) {
	w := mopWire{F: m.F, K: m.K}
	switch m.F {
	case MopAppend:
		v, err := json.Marshal(m.Arg)
		if err != nil {
			return nil, err
		}
		w.V = v
	case MopRead:
		if m.Reads == nil {
			w.V = json.RawMessage("null")
		} else {
			v, err := json.Marshal(m.Reads)
			if err != nil {
				return nil, err
			}
			w.V = v
		}
	default:
		return nil, fmt.Errorf("replicheck: unknown mop function %q", m.F)
	}
	return json.Marshal(w)
}

func (m *Mop) UnmarshalJSON(data []byte) error {
	var w mopWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.F = w.F
	m.K = w.K
	m.Arg = 0
	m.Reads = nil
	switch w.F {
	case MopAppend:
		return json.Unmarshal(w.V, &m.Arg)
	case MopRead:
		if len(w.V) == 0 || string(w.V) == "null" {
			return nil
		}
		return json.Unmarshal(w.V, &m.Reads)
	}
	return fmt.Errorf("replicheck: unknown mop function %q", w.F)
}

func (m Mop) String() string {
	if m.F == MopAppend {
		return fmt.Sprintf("append(%d, %d)", m.K, m.Arg)
	}
	if m.Reads == nil {
		return fmt.Sprintf("r(%d)", m.K)
	}
	return fmt.Sprintf("r(%d) -> %v", m.K, m.Reads)
}

// Txn is an ordered sequence of micro-operations with a single outcome
// applying to the whole sequence.
type Txn struct {
	Mops []Mop `json:"mops"`
}

func NewTxn(mops ...Mop) *Txn { return &Txn{Mops: mops} }

func (t *Txn) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, m := range t.Mops {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(m.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// Operation is one invoked transaction as recorded in the history. Call and
// Return are monotonic microsecond timestamps from the history recorder;
// Return is -1 while in flight and is resolved on snapshot for ambiguous
// returns.
type Operation struct {
	Process int     `json:"process"`
	Txn     Txn     `json:"txn"`
	Call    int64   `json:"call"`
	Return  int64   `json:"return"`
	Outcome Outcome `json:"outcome"`
	Cause   string  `json:"cause,omitempty"`
}

func (op *Operation) String() string {
	return fmt.Sprintf("p%d %s %s", op.Process, op.Txn.String(), op.Outcome)
}

// Result is the classification a client adapter constructs exactly once at
// its boundary. Txn carries resolved reads when the outcome is ok; Err is
// the structured cause for fail and info.
type Result struct {
	Outcome Outcome
	Txn     Txn
	Err     error
}

// OK builds an ok result around the resolved transaction.
func OK(txn Txn) Result { return Result{Outcome: OutcomeOK, Txn: txn} }

// Fail classifies an error as "certainly did not apply".
func Fail(err error) Result { return Result{Outcome: OutcomeFail, Err: err} }

// Info classifies an error as "may or may not have applied".
func Info(err error) Result { return Result{Outcome: OutcomeInfo, Err: err} }

func (r Result) cause() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// CompleteOperation freezes a result into the operation it answers.
func CompleteOperation(op Operation, r Result, ret int64) Operation {
	op.Outcome = r.Outcome
	op.Cause = r.cause()
	op.Return = ret
	if r.Outcome == OutcomeOK {
		op.Txn = r.Txn
	}
	return op
}
