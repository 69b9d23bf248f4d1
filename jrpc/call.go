package jrpc

import (
	"context"
	"net/rpc"
)

// Call issues an RPC and honors context cancellation. If the context fires
// first the call keeps running on the wire; callers must treat the outcome
// as ambiguous.
func Call(ctx context.Context, client *rpc.Client, method string, arg, reply interface{}) error {
	call := client.Go(method, arg, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}
