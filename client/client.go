// Package client implements the client-adapter contract for concrete
// backends: a SQL store speaking the Postgres wire protocol, an HTTP proxy
// speaking the JSON transaction contract, and an in-process replicated
// store used by the harness's own tests.
//
// Classification is the correctness boundary of the whole harness: every
// terminal condition of Invoke maps to exactly one of ok (effect known and
// applied), fail (effect certainly absent), or info (ambiguous). The
// mapping is constructed exactly once, here, from each backend's error
// taxonomy.
package client

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/replicheck/replicheck"
)

// classifyTransport classifies an error from the transport layer:
// connection refused means the request never left the client (fail);
// timeouts, resets, and everything else unrecognized happened after the
// request may have reached the server (info). Ambiguity is the safe
// default; fail requires certainty.
func classifyTransport(err error) replicheck.Result {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return replicheck.Fail(err)
	}
	return replicheck.Info(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
