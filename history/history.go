// Package history records the operations of a run. The recorder is
// append-only and safe for one concurrent writer per process; appends do not
// serialize beyond a short critical section. Snapshot freezes the history
// for the checkers, after which no mutation is permitted.
package history

import (
	"sync"
	"time"

	"github.com/replicheck/replicheck"
	"github.com/replicheck/replicheck/log"
	"github.com/replicheck/replicheck/metrics"
)

type node struct {
	next *node
	op   replicheck.Operation
}

// Recorder is an arrival-ordered operation log with a strictly monotonic
// microsecond clock. Checkers reconstruct logical ordering from the
// timestamps; arrival order carries no consistency meaning.
type Recorder struct {
	mu     sync.Mutex
	head   *node
	start  time.Time
	clock  int64
	count  int
	frozen bool
}

func NewRecorder() *Recorder {
	return &Recorder{start: time.Now()}
}

// Now returns a strictly increasing timestamp in microseconds since the
// recorder was created. Two calls never return the same value, so invoke
// and return times totally order each process's operations.
func (r *Recorder) Now() int64 {
	now := int64(time.Since(r.start) / time.Microsecond)
	r.mu.Lock()
	if now <= r.clock {
		now = r.clock + 1
	}
	r.clock = now
	r.mu.Unlock()
	return now
}

// Append records a completed operation. Appends after Snapshot are a
// harness bug; they are logged and dropped rather than corrupting the
// frozen history.
func (r *Recorder) Append(op replicheck.Operation) {
	n := &node{op: op}
	r.mu.Lock()
	if r.frozen {
		r.mu.Unlock()
		log.Error("history: append after snapshot dropped: %s", op.String())
		return
	}
	n.next = r.head
	r.head = n
	r.count++
	r.mu.Unlock()
	metrics.OperationsTotal.WithLabelValues(op.Outcome.String()).Inc()
	metrics.HistorySize.Inc()
}

// Len reports the number of recorded operations.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Snapshot freezes the recorder and returns the history in arrival order.
// Operations still marked in flight (Return < 0, i.e. ambiguous returns)
// get return times placed after every observed timestamp, so they overlap
// everything that could have raced them.
func (r *Recorder) Snapshot() []replicheck.Operation {
	r.mu.Lock()
	head := r.head
	count := r.count
	r.frozen = true
	r.mu.Unlock()

	ops := make([]replicheck.Operation, 0, count)
	var maxTime int64
	for n := head; n != nil; n = n.next {
		if maxTime < n.op.Return {
			maxTime = n.op.Return
		}
		if maxTime < n.op.Call {
			maxTime = n.op.Call
		}
		ops = append(ops, n.op)
	}

	// The list is newest-first; walk it in place to restore arrival order.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}

	for i := range ops {
		if ops[i].Return < 0 {
			maxTime++
			ops[i].Return = maxTime
		}
	}
	return ops
}
